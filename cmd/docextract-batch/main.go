// Command docextract-batch converts and extracts every document in a
// directory, then writes summary.xlsx and results.zip into the data dir.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/ingest"
	"github.com/joseph-ayodele/docextract/internal/llm"
	"github.com/joseph-ayodele/docextract/internal/pipeline"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		dir       = flag.String("dir", "", "directory of documents to process (required)")
		dataDir   = flag.String("data", "", "output directory (defaults to PIPELINE_DATA_DIR)")
		fieldsArg = flag.String("fields", "", "field specification as JSON, or @file to read it from a file")
		modeArg   = flag.String("mode", "normal", "model mode: normal, pro or local")
		prompt    = flag.String("prompt", "", "use this prompt instead of one built from -fields")
		recursive = flag.Bool("r", false, "descend into subdirectories")
		workers   = flag.Int("workers", 0, "concurrent extractions (defaults to PIPELINE_WORKERS)")
	)
	flag.Parse()

	if *dir == "" {
		printError("Error: --dir is required\n")
		os.Exit(2)
	}
	mode, ok := constants.ParseModelMode(*modeArg)
	if !ok {
		printError("Error: unknown --mode %q\n", *modeArg)
		os.Exit(2)
	}
	fields, err := loadFields(*fieldsArg)
	if err != nil {
		printError("Error: --fields: %v\n", err)
		os.Exit(2)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if *workers > 0 {
		cfg.Pipeline.Workers = *workers
	}
	if *dataDir == "" {
		*dataDir = cfg.Pipeline.DataDir
	}
	if err := cfg.Validate(string(mode)); err != nil {
		logger.Error("config.invalid", "error", err)
		os.Exit(1)
	}

	paths, stats, err := ingest.Discover(*dir, ingest.DiscoverOptions{SkipHidden: true, Recursive: *recursive})
	if err != nil {
		logger.Error("discover.failed", "dir", *dir, "error", err)
		os.Exit(1)
	}
	logger.Info("discover.ok", "dir", *dir, "scanned", stats.Scanned, "matched", stats.Matched, "failed", stats.Failed)
	if len(paths) == 0 {
		logger.Warn("discover.empty", "dir", *dir)
		return
	}
	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		logger.Error("data_dir.create_failed", "dir", *dataDir, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	setup, err := pipeline.Setup(ctx, cfg, logger)
	if err != nil {
		logger.Error("setup.failed", "error", err)
		os.Exit(1)
	}
	defer setup.Cleanup()

	rep := setup.Coordinator.RunBatch(ctx, pipeline.Batch{
		Paths:   paths,
		DataDir: *dataDir,
		Fields:  fields,
		Prompt:  *prompt,
		Mode:    mode,
	})

	art, err := pipeline.WriteArtifacts(rep, *dataDir, fields, logger)
	if err != nil {
		logger.Error("artifacts.failed", "error", err)
	}
	lim := setup.Limiter.Stats()
	logger.Info("batch.finished",
		"status", rep.Status,
		"total", rep.Total,
		"succeeded", rep.Succeeded,
		"partial", rep.Partial,
		"failed", rep.Failed,
		"skipped", rep.Skipped,
		"summary", art.Summary,
		"bundle", art.Bundle,
		"rate_waits", lim.Waits,
		"rate_waited_ms", lim.WaitedTotal.Milliseconds(),
		"elapsed_ms", rep.Elapsed.Milliseconds(),
	)
	fmt.Printf("%s: %d/%d succeeded, %d partial, %d failed (%d skipped)\n",
		rep.Status, rep.Succeeded, rep.Total, rep.Partial, rep.Failed, rep.Skipped)
	if rep.Status == constants.BatchFailed {
		setup.Cleanup()
		os.Exit(1)
	}
}

// loadFields reads a field specification given inline or as @path.
func loadFields(arg string) ([]llm.Field, error) {
	if arg == "" {
		return nil, nil
	}
	raw := []byte(arg)
	if arg[0] == '@' {
		b, err := os.ReadFile(filepath.Clean(arg[1:]))
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return llm.ParseFields(json.RawMessage(raw))
}
