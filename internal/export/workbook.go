// Package export writes run summaries: an Excel workbook with one row per
// document and a zip bundle of the per-document JSON results.
package export

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"
)

const sheet = "Results"

// Row is one document in the summary workbook.
type Row struct {
	Source     string
	Status     string
	Model      string
	Confidence float64
	Message    string
	Data       any
}

var fixedHeaders = []string{"Source File", "Status", "Model", "Confidence", "Message"}

// WriteWorkbook writes rows to an XLSX file at path. Each field name gets its
// own column filled from the row's data object; nested values are written as
// JSON.
func WriteWorkbook(path string, fieldNames []string, rows []Row, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	headers := append(append([]string{}, fixedHeaders...), fieldNames...)
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		last, _ := excelize.CoordinatesToCellName(len(headers), 1)
		_ = f.SetCellStyle(sheet, "A1", last, bold)
	}

	for r, row := range rows {
		line := r + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, line)
			_ = f.SetCellValue(sheet, cell, v)
		}
		write(1, row.Source)
		write(2, row.Status)
		write(3, row.Model)
		write(4, row.Confidence)
		write(5, truncate(row.Message, 300))

		obj, _ := row.Data.(map[string]any)
		for i, name := range fieldNames {
			v, ok := obj[name]
			if !ok || v == nil {
				continue
			}
			write(len(fixedHeaders)+i+1, cellValue(v))
		}
	}

	_ = f.SetColWidth(sheet, "A", "A", 36) // source
	_ = f.SetColWidth(sheet, "B", "C", 18) // status, model
	_ = f.SetColWidth(sheet, "E", "E", 48) // message
	if len(fieldNames) > 0 {
		first, _ := excelize.ColumnNumberToName(len(fixedHeaders) + 1)
		last, _ := excelize.ColumnNumberToName(len(headers))
		_ = f.SetColWidth(sheet, first, last, 24)
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	logger.Info("export.xlsx.ok", "path", path, "rows", len(rows), "elapsed_ms", time.Since(start).Milliseconds())
	return nil
}

func cellValue(v any) any {
	switch t := v.(type) {
	case string, bool, float64, int, int64:
		return t
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
