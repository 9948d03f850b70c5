// Package pipeline sequences conversion and extraction for task descriptors
// and directory batches, and writes the per-document JSON results.
package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/llm"
)

// FileInfo locates the source document and the directory that receives
// conversion results and JSON outputs.
type FileInfo struct {
	FilePath    string `json:"filePath"`
	FileName    string `json:"fileName,omitempty"`
	TaskDataDir string `json:"taskDataDir,omitempty"`
}

// Task is the descriptor exchanged across the process boundary.
type Task struct {
	TaskID        string          `json:"taskId,omitempty"`
	TaskName      string          `json:"taskName,omitempty"`
	FileInfo      FileInfo        `json:"fileInfo"`
	ExtractFields json.RawMessage `json:"extractFields,omitempty"`
	ModelMode     string          `json:"modelMode,omitempty"`
	Prompt        string          `json:"prompt,omitempty"`

	Fields []llm.Field         `json:"-"`
	Mode   constants.ModelMode `json:"-"`
}

const descriptorSchema = `{
  "type": "object",
  "required": ["fileInfo"],
  "properties": {
    "taskId":   {"type": ["string", "integer"]},
    "taskName": {"type": "string"},
    "fileInfo": {
      "type": "object",
      "required": ["filePath"],
      "properties": {
        "filePath":    {"type": "string", "minLength": 1},
        "fileName":    {"type": "string"},
        "taskDataDir": {"type": "string"}
      }
    },
    "extractFields": {"type": ["array", "object", "null"]},
    "modelMode":     {"type": "string"},
    "prompt":        {"type": "string"}
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func descriptor() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if schemaErr = compiler.AddResource("task.json", strings.NewReader(descriptorSchema)); schemaErr != nil {
			return
		}
		schema, schemaErr = compiler.Compile("task.json")
	})
	return schema, schemaErr
}

// LoadTask reads and validates a descriptor file.
func LoadTask(path string) (*Task, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, common.InvalidInputError(fmt.Sprintf("read task descriptor: %v", err))
	}
	return ParseTask(b)
}

// ParseTask validates a descriptor against its schema, resolves the field
// specification and model mode, and fills defaults for optional file info.
func ParseTask(data []byte) (*Task, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, common.InvalidInputError(fmt.Sprintf("task descriptor is not JSON: %v", err))
	}
	s, err := descriptor()
	if err != nil {
		return nil, fmt.Errorf("compile descriptor schema: %w", err)
	}
	if err := s.Validate(doc); err != nil {
		return nil, common.InvalidInputError(fmt.Sprintf("task descriptor: %v", err))
	}

	var raw struct {
		Task
		TaskID json.RawMessage `json:"taskId"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, common.InvalidInputError(fmt.Sprintf("decode task descriptor: %v", err))
	}
	t := raw.Task
	t.TaskID = taskIDString(raw.TaskID)

	if err := t.SetFields(t.ExtractFields); err != nil {
		return nil, err
	}
	if err := t.resolve(); err != nil {
		return nil, err
	}
	return &t, nil
}

// taskIDString accepts numeric and string task ids.
func taskIDString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(raw))
}

// SetFields replaces the field specification, e.g. with one passed on the
// command line.
func (t *Task) SetFields(raw json.RawMessage) error {
	fields, err := llm.ParseFields(raw)
	if err != nil {
		return common.InvalidInputError(err.Error())
	}
	t.ExtractFields = raw
	t.Fields = fields
	return nil
}

func (t *Task) resolve() error {
	v := common.NewValidator().
		Field("fileInfo.filePath", t.FileInfo.FilePath, common.Required, common.ExistingFile)
	if strings.TrimSpace(t.ModelMode) != "" {
		v.Field("modelMode", t.ModelMode, common.OneOf(constants.ModeInputs()...))
	}
	if err := common.ValidateAndReturnError(v); err != nil {
		return err
	}
	t.Mode, _ = constants.ParseModelMode(t.ModelMode)
	if t.FileInfo.FileName == "" {
		t.FileInfo.FileName = filepath.Base(t.FileInfo.FilePath)
	}
	if t.FileInfo.TaskDataDir == "" {
		t.FileInfo.TaskDataDir = filepath.Dir(t.FileInfo.FilePath)
	}
	return nil
}

// InputDir is where conversion results for the task are unpacked.
func (t *Task) InputDir() string {
	return filepath.Join(t.FileInfo.TaskDataDir, constants.InputDir)
}
