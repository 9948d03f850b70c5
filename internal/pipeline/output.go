package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/extract"
)

const (
	successConfidence = 0.95
	partialConfidence = 0.7
)

// Output is the JSON object returned for one document.
type Output struct {
	Status      constants.OutputStatus `json:"status"`
	Message     string                 `json:"message"`
	TaskID      string                 `json:"task_id,omitempty"`
	Data        any                    `json:"data,omitempty"`
	RawResponse string                 `json:"raw_response,omitempty"`
	Confidence  float64                `json:"confidence"`
	Model       string                 `json:"model,omitempty"`
	Routing     *extract.Meta          `json:"routing,omitempty"`
	ErrorCode   string                 `json:"error_code,omitempty"`
	SourceFile  string                 `json:"source_file,omitempty"`
	DataID      string                 `json:"data_id,omitempty"`
	TaskDataDir string                 `json:"task_data_dir,omitempty"`
	JSONPath    string                 `json:"json_path,omitempty"`
	Converted   bool                   `json:"converted"`
	ExtractedAt time.Time              `json:"extracted_at"`
}

// fromResult maps an extraction result onto the boundary statuses:
// success, partial_success (raw text preserved) or error.
func fromResult(res extract.Result) Output {
	meta := res.Meta
	out := Output{Model: meta.Model, Routing: &meta, ExtractedAt: time.Now()}
	switch res.Status {
	case constants.ExtractionSuccess:
		out.Status = constants.OutputSuccess
		out.Message = "extraction completed"
		out.Data = res.Data
		out.Confidence = successConfidence
	case constants.ExtractionPartial:
		out.Status = constants.OutputPartialSuccess
		out.Message = "model output was not valid JSON; raw response preserved"
		out.RawResponse = res.Raw
		out.Confidence = partialConfidence
		if res.Err != nil {
			out.ErrorCode = common.CodeOf(res.Err).String()
		}
	default:
		out = errorOutput(res.Err)
		out.Model = meta.Model
		out.Routing = &meta
	}
	return out
}

func errorOutput(err error) Output {
	if err == nil {
		err = common.NewAppError("INTERNAL", "extraction failed without a cause", common.ErrInternal)
	}
	return Output{
		Status:      constants.OutputError,
		Message:     err.Error(),
		ErrorCode:   common.CodeOf(err).String(),
		ExtractedAt: time.Now(),
	}
}

// panicOutput converts a recovered panic into an error payload.
func panicOutput(r any) Output {
	return errorOutput(common.NewAppError("INTERNAL", fmt.Sprint(r), common.ErrInternal))
}

// outputName is the JSON file name for a source document.
func outputName(fileName string) string {
	stem := strings.TrimSuffix(fileName, filepath.Ext(fileName))
	if stem == "" {
		stem = "document"
	}
	return stem + ".json"
}

// writeOutput stores out as name under json_data (success) or json_error
// (anything else) below dataDir and returns the path written.
func writeOutput(dataDir, name string, out Output) (string, error) {
	sub := constants.JSONErrorDir
	if out.Status == constants.OutputSuccess {
		sub = constants.JSONDataDir
	}
	dir := filepath.Join(dataDir, sub)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, name)
	out.JSONPath = path
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode output: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return "", fmt.Errorf("write output: %w", err)
	}
	return path, nil
}
