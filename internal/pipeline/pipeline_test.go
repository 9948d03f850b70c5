package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/conversion"
	"github.com/joseph-ayodele/docextract/internal/extract"
)

type fakeConverter struct {
	mu        sync.Mutex
	batches   map[string][]conversion.File
	submits   int
	failIDs   map[string]string
	submitErr error
}

func newFakeConverter() *fakeConverter {
	return &fakeConverter{batches: map[string][]conversion.File{}, failIDs: map[string]string{}}
}

func (f *fakeConverter) Submit(_ context.Context, files []conversion.File) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submits++
	id := fmt.Sprintf("batch-%d", f.submits)
	f.batches[id] = files
	return id, nil
}

func (f *fakeConverter) Poll(_ context.Context, batchID string) ([]conversion.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []conversion.Result
	for _, file := range f.batches[batchID] {
		r := conversion.Result{DataID: file.DataID, FileName: file.Name(), State: constants.StateDone}
		if msg, ok := f.failIDs[file.DataID]; ok {
			r.State, r.ErrMsg = constants.StateFailed, msg
		}
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeConverter) Fetch(_ context.Context, _ string, results []conversion.Result, dest string) conversion.FetchReport {
	var rep conversion.FetchReport
	for _, r := range results {
		if r.State != constants.StateDone {
			rep.Failed = append(rep.Failed, conversion.Failure{DataID: r.DataID, Message: r.ErrMsg, Err: common.ConversionFailure(r.DataID, r.ErrMsg)})
			continue
		}
		dir := filepath.Join(dest, r.DataID)
		_ = os.MkdirAll(dir, 0o755)
		md := filepath.Join(dir, constants.ConvertedMarkdown)
		_ = os.WriteFile(md, []byte("# "+r.FileName), 0o644)
		rep.Fetched = append(rep.Fetched, conversion.Fetched{DataID: r.DataID, Dir: dir, MarkdownPath: md})
	}
	return rep
}

type extractorFunc func(ctx context.Context, req extract.Request) extract.Result

func (f extractorFunc) Extract(ctx context.Context, req extract.Request) extract.Result {
	return f(ctx, req)
}

func succeed(_ context.Context, req extract.Request) extract.Result {
	return extract.Result{
		Status: constants.ExtractionSuccess,
		Data:   map[string]any{"source": req.MarkdownPath},
		Meta:   extract.Meta{Model: "qwen-long", Tier: "long", Reason: "no figures"},
	}
}

func writeDocs(t *testing.T, dir string, names ...string) []string {
	t.Helper()
	var paths []string
	for _, n := range names {
		p := filepath.Join(dir, n)
		if err := os.WriteFile(p, []byte("%PDF-1.4"), 0o644); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, p)
	}
	return paths
}

func newTask(t *testing.T, path, dataDir string) *Task {
	t.Helper()
	body := fmt.Sprintf(`{"taskId": 42, "fileInfo": {"filePath": %q, "taskDataDir": %q},
		"extractFields": {"title": "document title", "year": "publication year"}, "modelMode": "normal"}`, path, dataDir)
	task, err := ParseTask([]byte(body))
	if err != nil {
		t.Fatalf("ParseTask: %v", err)
	}
	return task
}

func readOutput(t *testing.T, path string) Output {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	var out Output
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestParseTask(t *testing.T) {
	dir := t.TempDir()
	path := writeDocs(t, dir, "paper.pdf")[0]

	task := newTask(t, path, "")
	if task.TaskID != "42" {
		t.Errorf("task id = %q", task.TaskID)
	}
	if task.Mode != constants.ModeNormal {
		t.Errorf("mode = %q", task.Mode)
	}
	if len(task.Fields) != 2 || task.Fields[0].Name != "title" || task.Fields[1].Name != "year" {
		t.Errorf("fields = %+v", task.Fields)
	}
	if task.FileInfo.FileName != "paper.pdf" || task.FileInfo.TaskDataDir != dir {
		t.Errorf("defaults not applied: %+v", task.FileInfo)
	}

	list := fmt.Sprintf(`{"taskId": "t-1", "fileInfo": {"filePath": %q}, "extractFields": [{"name": "a"}, "b"], "modelMode": "PRO"}`, path)
	task, err := ParseTask([]byte(list))
	if err != nil {
		t.Fatal(err)
	}
	if task.TaskID != "t-1" || task.Mode != constants.ModePro || len(task.Fields) != 2 {
		t.Errorf("task = %+v", task)
	}
	synonym := fmt.Sprintf(`{"fileInfo": {"filePath": %q}, "modelMode": "offline"}`, path)
	if task, err = ParseTask([]byte(synonym)); err != nil || task.Mode != constants.ModeLocal {
		t.Errorf("synonym mode: task = %+v, err = %v", task, err)
	}
}

func TestParseTaskRejects(t *testing.T) {
	path := writeDocs(t, t.TempDir(), "paper.pdf")[0]
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"missing file info", `{"taskId": "1"}`},
		{"empty path", `{"fileInfo": {"filePath": ""}}`},
		{"missing file", `{"fileInfo": {"filePath": "/does/not/exist.pdf"}}`},
		{"bad mode", fmt.Sprintf(`{"fileInfo": {"filePath": %q}, "modelMode": "turbo"}`, path)},
		{"scalar fields", fmt.Sprintf(`{"fileInfo": {"filePath": %q}, "extractFields": "title"}`, path)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseTask([]byte(tt.body)); !errors.Is(err, common.ErrInvalidInput) {
				t.Errorf("err = %v, want invalid input", err)
			}
		})
	}
}

func TestRunTaskSuccessWritesJSONData(t *testing.T) {
	dir := t.TempDir()
	path := writeDocs(t, dir, "paper.pdf")[0]
	dataDir := filepath.Join(dir, "task")
	task := newTask(t, path, dataDir)

	var got extract.Request
	conv := newFakeConverter()
	c := NewCoordinator(conv, extractorFunc(func(ctx context.Context, req extract.Request) extract.Result {
		got = req
		return succeed(ctx, req)
	}))

	out := c.RunTask(context.Background(), task)
	if out.Status != constants.OutputSuccess || out.Confidence != successConfidence {
		t.Fatalf("output = %+v", out)
	}
	if out.TaskID != "42" || out.Model != "qwen-long" || !out.Converted {
		t.Errorf("metadata = %+v", out)
	}
	wantMD := filepath.Join(dataDir, constants.InputDir, "paper.pdf-id", constants.ConvertedMarkdown)
	if got.MarkdownPath != wantMD || len(got.Fields) != 2 || got.Mode != constants.ModeNormal {
		t.Errorf("request = %+v", got)
	}
	written := readOutput(t, filepath.Join(dataDir, constants.JSONDataDir, "paper.json"))
	if written.Status != constants.OutputSuccess || written.TaskID != "42" || written.SourceFile != "paper.pdf" {
		t.Errorf("written = %+v", written)
	}
}

func TestRunTaskReusesExistingConversion(t *testing.T) {
	dir := t.TempDir()
	path := writeDocs(t, dir, "paper.pdf")[0]
	task := newTask(t, path, dir)
	prior := filepath.Join(dir, constants.InputDir, "paper.pdf-id")
	if err := os.MkdirAll(prior, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(prior, constants.ConvertedMarkdown), []byte("# cached"), 0o644); err != nil {
		t.Fatal(err)
	}

	conv := newFakeConverter()
	out := NewCoordinator(conv, extractorFunc(succeed)).RunTask(context.Background(), task)
	if out.Status != constants.OutputSuccess {
		t.Fatalf("status = %s: %s", out.Status, out.Message)
	}
	if conv.submits != 0 {
		t.Errorf("conversion submitted %d times, want 0", conv.submits)
	}
	if out.Converted {
		t.Error("reused output reported as freshly converted")
	}
}

func TestRunTaskConversionFailureIsErrorOutput(t *testing.T) {
	dir := t.TempDir()
	path := writeDocs(t, dir, "paper.pdf")[0]
	task := newTask(t, path, dir)

	conv := newFakeConverter()
	conv.failIDs["paper.pdf-id"] = "file is encrypted"
	called := false
	c := NewCoordinator(conv, extractorFunc(func(ctx context.Context, req extract.Request) extract.Result {
		called = true
		return succeed(ctx, req)
	}))

	out := c.RunTask(context.Background(), task)
	if out.Status != constants.OutputError || !strings.Contains(out.Message, "file is encrypted") {
		t.Fatalf("output = %+v", out)
	}
	if out.ErrorCode != "Aborted" {
		t.Errorf("error code = %q", out.ErrorCode)
	}
	if called {
		t.Error("extraction ran for a failed conversion")
	}
	if _, err := os.Stat(filepath.Join(dir, constants.JSONErrorDir, "paper.json")); err != nil {
		t.Errorf("error output not written: %v", err)
	}
}

func TestRunTaskPartialPreservesRaw(t *testing.T) {
	dir := t.TempDir()
	task := newTask(t, writeDocs(t, dir, "paper.pdf")[0], dir)
	c := NewCoordinator(newFakeConverter(), extractorFunc(func(context.Context, extract.Request) extract.Result {
		return extract.Result{
			Status: constants.ExtractionPartial,
			Raw:    "title: Annual report",
			Err:    common.ResponseFormatError("model output is not valid JSON", nil),
		}
	}))

	out := c.RunTask(context.Background(), task)
	if out.Status != constants.OutputPartialSuccess || out.Confidence != partialConfidence {
		t.Fatalf("output = %+v", out)
	}
	if out.RawResponse != "title: Annual report" || out.ErrorCode != "DataLoss" {
		t.Errorf("output = %+v", out)
	}
}

func TestRunTaskRecoversPanics(t *testing.T) {
	dir := t.TempDir()
	task := newTask(t, writeDocs(t, dir, "paper.pdf")[0], dir)
	c := NewCoordinator(newFakeConverter(), extractorFunc(func(context.Context, extract.Request) extract.Result {
		panic("boom")
	}))

	out := c.RunTask(context.Background(), task)
	if out.Status != constants.OutputError || !strings.Contains(out.Message, "boom") {
		t.Fatalf("output = %+v", out)
	}
	if out.ErrorCode != "Internal" {
		t.Errorf("error code = %q", out.ErrorCode)
	}
}

type rejectChecker map[string]bool

func (r rejectChecker) Check(path string) (int, error) {
	if r[filepath.Base(path)] {
		return 0, common.InvalidInputError("unsupported")
	}
	return 1, nil
}

func TestRunBatchSplitsAndIsolatesFailures(t *testing.T) {
	dir := t.TempDir()
	paths := writeDocs(t, dir, "a.pdf", "b.pdf", "c.pdf", "d.pdf", "e.pdf")
	dataDir := filepath.Join(dir, "out")

	conv := newFakeConverter()
	conv.failIDs["b.pdf-id"] = "page limit exceeded"
	var mu sync.Mutex
	seen := map[string]bool{}
	c := NewCoordinator(conv, extractorFunc(func(ctx context.Context, req extract.Request) extract.Result {
		mu.Lock()
		seen[filepath.Base(filepath.Dir(req.MarkdownPath))] = true
		mu.Unlock()
		if strings.Contains(req.MarkdownPath, "c.pdf-id") {
			return extract.Result{Status: constants.ExtractionPartial, Raw: "oops"}
		}
		return succeed(ctx, req)
	}), WithBatchSize(2), WithWorkers(2), WithPreflight(rejectChecker{"e.pdf": true}))

	rep := c.RunBatch(context.Background(), Batch{Paths: paths, DataDir: dataDir})
	if conv.submits != 2 {
		t.Errorf("submits = %d, want 2 (four files in batches of two)", conv.submits)
	}
	if rep.Total != 5 || rep.Succeeded != 2 || rep.Partial != 1 || rep.Failed != 2 || rep.Skipped != 1 {
		t.Errorf("report = %+v", rep)
	}
	if rep.Status != constants.BatchPartial {
		t.Errorf("status = %s", rep.Status)
	}
	if seen["b.pdf-id"] || seen["e.pdf-id"] || len(seen) != 3 {
		t.Errorf("extracted = %v", seen)
	}
	for i, d := range rep.Documents {
		if d.Path != paths[i] {
			t.Errorf("documents out of input order at %d: %s", i, d.Path)
		}
	}
	for _, name := range []string{"a.json", "d.json"} {
		if _, err := os.Stat(filepath.Join(dataDir, constants.JSONDataDir, name)); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}
	for _, name := range []string{"b.json", "c.json", "e.json"} {
		if _, err := os.Stat(filepath.Join(dataDir, constants.JSONErrorDir, name)); err != nil {
			t.Errorf("missing error output %s: %v", name, err)
		}
	}

	art, err := WriteArtifacts(rep, dataDir, nil, nil)
	if err != nil {
		t.Fatalf("WriteArtifacts: %v", err)
	}
	if art.Bundled != 2 {
		t.Errorf("bundled = %d, want 2", art.Bundled)
	}
	if _, err := os.Stat(art.Summary); err != nil {
		t.Errorf("summary missing: %v", err)
	}
}

func TestRunBatchSubmitFailureFailsOnlyThatBatch(t *testing.T) {
	dir := t.TempDir()
	paths := writeDocs(t, dir, "a.pdf", "b.pdf")
	conv := newFakeConverter()
	conv.submitErr = common.TransportErrorf("conversion", "status 503")

	rep := NewCoordinator(conv, extractorFunc(succeed)).RunBatch(context.Background(), Batch{Paths: paths, DataDir: dir})
	if rep.Status != constants.BatchFailed || rep.Failed != 2 {
		t.Fatalf("report = %+v", rep)
	}
	if code := rep.Documents[0].Output.ErrorCode; code != "Unavailable" {
		t.Errorf("error code = %q", code)
	}
}

func TestRunBatchDoesNotReuseSimilarlyNamedConversion(t *testing.T) {
	dir := t.TempDir()
	paths := writeDocs(t, dir, "report.pdf")
	other := filepath.Join(dir, constants.InputDir, "report2.pdf-id")
	if err := os.MkdirAll(other, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(other, constants.ConvertedMarkdown), []byte("# report2"), 0o644); err != nil {
		t.Fatal(err)
	}

	var got string
	conv := newFakeConverter()
	rep := NewCoordinator(conv, extractorFunc(func(ctx context.Context, req extract.Request) extract.Result {
		got = req.MarkdownPath
		return succeed(ctx, req)
	})).RunBatch(context.Background(), Batch{Paths: paths, DataDir: dir})

	if conv.submits != 1 {
		t.Errorf("submits = %d, want 1", conv.submits)
	}
	want := filepath.Join(dir, constants.InputDir, "report.pdf-id", constants.ConvertedMarkdown)
	if got != want {
		t.Errorf("markdown = %s, want %s", got, want)
	}
	if rep.Status != constants.BatchCompleted || !rep.Documents[0].Output.Converted {
		t.Errorf("report = %+v", rep)
	}
}

func TestRunBatchKeepsDuplicateBaseNamesApart(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for _, sub := range []string{"a", "b"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, writeDocs(t, filepath.Join(dir, sub), "x.pdf")...)
	}
	dataDir := filepath.Join(dir, "out")

	var mu sync.Mutex
	markdown := map[string]bool{}
	conv := newFakeConverter()
	rep := NewCoordinator(conv, extractorFunc(func(ctx context.Context, req extract.Request) extract.Result {
		mu.Lock()
		markdown[req.MarkdownPath] = true
		mu.Unlock()
		return succeed(ctx, req)
	})).RunBatch(context.Background(), Batch{Paths: paths, DataDir: dataDir})

	if rep.Status != constants.BatchCompleted {
		t.Fatalf("report = %+v", rep)
	}
	if len(conv.batches["batch-1"]) != 2 {
		t.Fatalf("submitted = %+v", conv.batches)
	}
	if len(markdown) != 2 || markdown[""] {
		t.Errorf("markdown paths = %v", markdown)
	}
	first, second := rep.Documents[0].Output, rep.Documents[1].Output
	if first.DataID != "x.pdf-id" || second.DataID == first.DataID {
		t.Errorf("data ids = %q, %q", first.DataID, second.DataID)
	}
	if first.JSONPath == second.JSONPath {
		t.Fatalf("both outputs written to %s", first.JSONPath)
	}
	wantSecond := filepath.Join(dataDir, constants.JSONDataDir, "x-"+conversion.ShortHash(paths[1])+".json")
	if second.JSONPath != wantSecond {
		t.Errorf("second output = %s, want %s", second.JSONPath, wantSecond)
	}
	entries, err := os.ReadDir(filepath.Join(dataDir, constants.JSONDataDir))
	if err != nil || len(entries) != 2 {
		t.Errorf("json_data entries = %d, err = %v", len(entries), err)
	}
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		rep  BatchReport
		want constants.BatchStatus
	}{
		{BatchReport{Total: 2, Succeeded: 2}, constants.BatchCompleted},
		{BatchReport{Total: 2, Succeeded: 1, Failed: 1}, constants.BatchPartial},
		{BatchReport{Total: 2, Partial: 2}, constants.BatchPartial},
		{BatchReport{Total: 2, Failed: 2}, constants.BatchFailed},
		{BatchReport{}, constants.BatchFailed},
	}
	for _, tt := range tests {
		if got := aggregate(tt.rep); got != tt.want {
			t.Errorf("aggregate(%+v) = %s, want %s", tt.rep, got, tt.want)
		}
	}
}
