// Command docextractd watches an inbox directory for task descriptors and
// processes each one through a bounded worker queue. Results are written to
// <data dir>/results/<descriptor>.result.json and the descriptor is renamed
// to *.done. A gRPC health service reports readiness.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/joseph-ayodele/docextract/internal/async"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/ingest"
	"github.com/joseph-ayodele/docextract/internal/pipeline"
)

const serviceName = "docextract"

type daemon struct {
	coord      *pipeline.Coordinator
	cfg        *common.Config
	health     *health.Server
	resultsDir string
	logger     *slog.Logger

	mu       sync.Mutex
	inFlight map[string]bool
}

// claim marks a descriptor as queued; false means it already is.
func (d *daemon) claim(path string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inFlight[path] {
		return false
	}
	d.inFlight[path] = true
	return true
}

func (d *daemon) release(path string) {
	d.mu.Lock()
	delete(d.inFlight, path)
	d.mu.Unlock()
}

func (d *daemon) Handle(ctx context.Context, job async.Job) error {
	defer d.release(job.Descriptor)
	ctx = common.WithRequestID(ctx, job.TraceID)

	var out any
	task, err := pipeline.LoadTask(job.Descriptor)
	if err == nil {
		// A mode the configuration cannot serve fails only this job.
		err = d.cfg.Validate(string(task.Mode))
	}
	if err != nil {
		out = map[string]string{"status": "error", "message": err.Error(), "error_code": common.CodeOf(err).String()}
	} else {
		res := d.coord.RunTask(ctx, task)
		d.observe(res)
		out = res
	}

	name := strings.TrimSuffix(filepath.Base(job.Descriptor), filepath.Ext(job.Descriptor)) + ".result.json"
	b, merr := json.MarshalIndent(out, "", "  ")
	if merr != nil {
		return merr
	}
	if werr := os.WriteFile(filepath.Join(d.resultsDir, name), b, 0o644); werr != nil {
		return werr
	}
	if rerr := os.Rename(job.Descriptor, job.Descriptor+".done"); rerr != nil {
		d.logger.Warn("daemon.descriptor.rename_failed", "path", job.Descriptor, "error", rerr)
	}
	return err
}

// observe reports NOT_SERVING while tasks fail on configuration and SERVING
// again once one gets past it.
func (d *daemon) observe(res pipeline.Output) {
	st := healthpb.HealthCheckResponse_SERVING
	if res.ErrorCode == codes.FailedPrecondition.String() {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	d.health.SetServingStatus(serviceName, st)
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate("normal"); err != nil {
		logger.Error("config.invalid", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resultsDir := filepath.Join(cfg.Pipeline.DataDir, "results")
	for _, dir := range []string{cfg.Server.InboxDir, resultsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Error("daemon.dir.create_failed", "dir", dir, "error", err)
			os.Exit(1)
		}
	}

	setup, err := pipeline.Setup(ctx, cfg, logger)
	if err != nil {
		logger.Error("setup.failed", "error", err)
		os.Exit(1)
	}
	defer setup.Cleanup()

	// gRPC server
	grpcServer := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	// Reflection for grpcurl
	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		logger.Error("grpc.listen_failed", "addr", cfg.Server.GRPCAddr, "error", err)
		os.Exit(1)
	}
	go func() {
		logger.Info("grpc.serving", "addr", lis.Addr().String())
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Error("grpc.serve_failed", "error", err)
			stop()
		}
	}()

	d := &daemon{
		coord:      setup.Coordinator,
		cfg:        cfg,
		health:     hs,
		resultsDir: resultsDir,
		logger:     logger,
		inFlight:   map[string]bool{},
	}
	queue := async.NewWorkerQueue(d, logger,
		async.WithWorkers(cfg.Server.Workers),
		async.WithProcessTimeout(cfg.Server.JobTimeout),
	)

	events, errs, err := ingest.StartWatcher(ctx, ingest.WatchConfig{
		Roots:       []string{cfg.Server.InboxDir},
		Extensions:  []string{"json"},
		InitialScan: true,
		Debounce:    500 * time.Millisecond,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("watcher.failed", "error", err)
		os.Exit(1)
	}

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case path, ok := <-events:
			if !ok {
				break loop
			}
			if !d.claim(path) {
				continue
			}
			job := async.Job{ID: filepath.Base(path), Descriptor: path, TraceID: uuid.NewString()}
			if err := queue.Enqueue(ctx, job); err != nil {
				d.release(path)
				logger.Warn("daemon.enqueue_failed", "path", path, "error", err)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			logger.Warn("daemon.watcher.error", "error", err)
		}
	}

	logger.Info("daemon.shutting_down")
	hs.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	queue.Shutdown(shutdownCtx)
	grpcServer.GracefulStop()
	logger.Info("daemon.stopped")
}
