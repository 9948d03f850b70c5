package export

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestWriteWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.xlsx")
	rows := []Row{
		{Source: "a.pdf", Status: "success", Model: "qwen-long", Confidence: 0.95, Data: map[string]any{
			"title":   "Annual report",
			"revenue": 12.5,
			"tags":    []any{"x", "y"},
		}},
		{Source: "b.pdf", Status: "error", Message: "conversion failed"},
	}
	if err := WriteWorkbook(path, []string{"title", "revenue", "tags"}, rows, nil); err != nil {
		t.Fatalf("WriteWorkbook: %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	got, err := f.GetRows(sheet)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("rows = %d, want 3", len(got))
	}
	wantHeader := []string{"Source File", "Status", "Model", "Confidence", "Message", "title", "revenue", "tags"}
	for i, h := range wantHeader {
		if got[0][i] != h {
			t.Errorf("header[%d] = %q, want %q", i, got[0][i], h)
		}
	}
	if got[1][5] != "Annual report" || got[1][6] != "12.5" || got[1][7] != `["x","y"]` {
		t.Errorf("data row = %v", got[1])
	}
	if got[2][1] != "error" || got[2][4] != "conversion failed" {
		t.Errorf("error row = %v", got[2])
	}
}

func TestBundleJSON(t *testing.T) {
	src := t.TempDir()
	for _, name := range []string{"a.json", "sub/b.json", "notes.txt"} {
		p := filepath.Join(src, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(`{}`), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	zipPath := filepath.Join(t.TempDir(), "results.zip")
	n, err := BundleJSON(src, zipPath)
	if err != nil {
		t.Fatalf("BundleJSON: %v", err)
	}
	if n != 2 {
		t.Errorf("bundled %d files, want 2", n)
	}
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		t.Fatal(err)
	}
	defer zr.Close()
	names := map[string]bool{}
	for _, f := range zr.File {
		names[f.Name] = true
	}
	if !names["a.json"] || !names["sub/b.json"] || names["notes.txt"] {
		t.Errorf("entries = %v", names)
	}
}
