package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/async"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/conversion"
	"github.com/joseph-ayodele/docextract/internal/extract"
	"github.com/joseph-ayodele/docextract/internal/pipeline"
)

// offlineConverter fails every call; tests pre-seed converted markdown.
type offlineConverter struct{}

func (offlineConverter) Submit(context.Context, []conversion.File) (string, error) {
	return "", errors.New("conversion unavailable")
}

func (offlineConverter) Poll(context.Context, string) ([]conversion.Result, error) {
	return nil, errors.New("conversion unavailable")
}

func (offlineConverter) Fetch(context.Context, string, []conversion.Result, string) conversion.FetchReport {
	return conversion.FetchReport{}
}

type extractorFunc func(ctx context.Context, req extract.Request) extract.Result

func (f extractorFunc) Extract(ctx context.Context, req extract.Request) extract.Result {
	return f(ctx, req)
}

func testConfig() *common.Config {
	return &common.Config{
		LLM:        common.LLMConfig{APIKey: "sk-test"},
		Conversion: common.ConversionConfig{APIKey: "mineru-test", MaxFilesPerBatch: 10},
		RateLimit:  common.RateLimitConfig{TokensPerMinute: 1000},
		Routing:    common.RoutingConfig{CacheBackend: "file"},
	}
}

func newTestDaemon(t *testing.T, fn extractorFunc) *daemon {
	t.Helper()
	hs := health.NewServer()
	hs.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	results := t.TempDir()
	return &daemon{
		coord:      pipeline.NewCoordinator(offlineConverter{}, fn, pipeline.WithLogger(slog.Default())),
		cfg:        testConfig(),
		health:     hs,
		resultsDir: results,
		logger:     slog.Default(),
		inFlight:   map[string]bool{},
	}
}

// writeDescriptor creates name.pdf with a converted full.md next to it and a
// descriptor for it, returning the descriptor path.
func writeDescriptor(t *testing.T, dir, name, mode string) string {
	t.Helper()
	doc := filepath.Join(dir, name+".pdf")
	if err := os.WriteFile(doc, []byte("%PDF-1.4"), 0o644); err != nil {
		t.Fatal(err)
	}
	converted := filepath.Join(dir, constants.InputDir, name+".pdf-id")
	if err := os.MkdirAll(converted, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(converted, constants.ConvertedMarkdown), []byte("# "+name), 0o644); err != nil {
		t.Fatal(err)
	}
	desc := filepath.Join(dir, name+".json")
	body := fmt.Sprintf(`{"taskId": %q, "fileInfo": {"filePath": %q}, "extractFields": ["title"], "modelMode": %q}`, name, doc, mode)
	if err := os.WriteFile(desc, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return desc
}

func servingStatus(t *testing.T, d *daemon) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := d.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: serviceName})
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	return resp.GetStatus()
}

func readResult(t *testing.T, d *daemon, name string) map[string]any {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(d.resultsDir, name+".result.json"))
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatal(err)
	}
	return out
}

func success(context.Context, extract.Request) extract.Result {
	return extract.Result{Status: constants.ExtractionSuccess, Data: map[string]any{"title": "ok"}}
}

func TestHandleRejectsUnservableModeWithoutChangingHealth(t *testing.T) {
	called := false
	d := newTestDaemon(t, func(ctx context.Context, req extract.Request) extract.Result {
		called = true
		return success(ctx, req)
	})
	dir := t.TempDir()
	desc := writeDescriptor(t, dir, "local-task", "local")

	err := d.Handle(context.Background(), async.Job{ID: "1", Descriptor: desc, TraceID: "trace-1"})
	if !errors.Is(err, common.ErrConfiguration) {
		t.Fatalf("err = %v, want configuration error", err)
	}
	if called {
		t.Error("extraction ran for a mode the configuration cannot serve")
	}
	out := readResult(t, d, "local-task")
	if out["status"] != "error" || out["error_code"] != "FailedPrecondition" {
		t.Errorf("result = %v", out)
	}
	if st := servingStatus(t, d); st != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("health = %s, want SERVING", st)
	}
	if _, err := os.Stat(desc + ".done"); err != nil {
		t.Errorf("descriptor not marked done: %v", err)
	}
}

func TestHandleHealthRecoversAfterConfigurationFailure(t *testing.T) {
	misconfigured := true
	d := newTestDaemon(t, func(ctx context.Context, req extract.Request) extract.Result {
		if misconfigured {
			err := common.ConfigurationError("no backend for tier")
			return extract.Result{Status: constants.ExtractionError, Error: err.Error(), Err: err}
		}
		return success(ctx, req)
	})
	dir := t.TempDir()

	first := writeDescriptor(t, dir, "first", "normal")
	if err := d.Handle(context.Background(), async.Job{ID: "1", Descriptor: first, TraceID: "trace-1"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if st := servingStatus(t, d); st != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("health = %s, want NOT_SERVING", st)
	}

	misconfigured = false
	second := writeDescriptor(t, dir, "second", "normal")
	if err := d.Handle(context.Background(), async.Job{ID: "2", Descriptor: second, TraceID: "trace-2"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if st := servingStatus(t, d); st != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("health = %s, want SERVING", st)
	}
	if out := readResult(t, d, "second"); out["status"] != string(constants.OutputSuccess) {
		t.Errorf("result = %v", out)
	}
}
