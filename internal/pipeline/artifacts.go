package pipeline

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/export"
	"github.com/joseph-ayodele/docextract/internal/llm"
)

const (
	summaryFile = "summary.xlsx"
	bundleFile  = "results.zip"
)

// Artifacts are the run-level files written next to the per-document outputs.
type Artifacts struct {
	Summary string
	Bundle  string
	Bundled int
}

// SummaryRows flattens a report for the summary workbook.
func (r BatchReport) SummaryRows() []export.Row {
	rows := make([]export.Row, 0, len(r.Documents))
	for _, d := range r.Documents {
		rows = append(rows, export.Row{
			Source:     d.Output.SourceFile,
			Status:     string(d.Output.Status),
			Model:      d.Output.Model,
			Confidence: d.Output.Confidence,
			Message:    d.Output.Message,
			Data:       d.Output.Data,
		})
	}
	return rows
}

// WriteArtifacts writes dataDir/summary.xlsx and zips dataDir/json_data into
// dataDir/results.zip.
func WriteArtifacts(rep BatchReport, dataDir string, fields []llm.Field, logger *slog.Logger) (Artifacts, error) {
	a := Artifacts{
		Summary: filepath.Join(dataDir, summaryFile),
		Bundle:  filepath.Join(dataDir, bundleFile),
	}
	if err := export.WriteWorkbook(a.Summary, llm.FieldNames(fields), rep.SummaryRows(), logger); err != nil {
		return a, fmt.Errorf("summary: %w", err)
	}
	if rep.Succeeded == 0 {
		a.Bundle = ""
		return a, nil
	}
	n, err := export.BundleJSON(filepath.Join(dataDir, constants.JSONDataDir), a.Bundle)
	if err != nil {
		return a, fmt.Errorf("bundle: %w", err)
	}
	a.Bundled = n
	return a, nil
}
