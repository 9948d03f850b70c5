// Command docextract processes one task descriptor and prints the JSON
// result on stdout. Logs go to stderr.
//
//	docextract [-mode normal|pro|local] task.json ['{"field": "description"}']
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/pipeline"
)

type errorPayload struct {
	Status    constants.OutputStatus `json:"status"`
	Message   string                 `json:"message"`
	ErrorCode string                 `json:"error_code"`
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "encode result: %v\n", err)
	}
}

func fail(err error) {
	printJSON(errorPayload{Status: constants.OutputError, Message: err.Error(), ErrorCode: common.CodeOf(err).String()})
	os.Exit(1)
}

func main() {
	var (
		mode    = flag.String("mode", "", "override the descriptor's model mode (normal, pro, local)")
		verbose = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if flag.NArg() < 1 || flag.NArg() > 2 {
		fail(common.InvalidInputError("usage: docextract [-mode normal|pro|local] task.json [fields-json]"))
	}

	task, err := pipeline.LoadTask(flag.Arg(0))
	if err != nil {
		fail(err)
	}
	if flag.NArg() == 2 {
		if err := task.SetFields(json.RawMessage(flag.Arg(1))); err != nil {
			fail(err)
		}
	}
	if *mode != "" {
		m, ok := constants.ParseModelMode(*mode)
		if !ok {
			fail(common.InvalidInputError(fmt.Sprintf("unknown mode %q", *mode)))
		}
		task.Mode = m
	}

	cfg := common.LoadConfig()
	if err := cfg.Validate(string(task.Mode)); err != nil {
		logger.Error("config.invalid", "error", err)
		fail(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	setup, err := pipeline.Setup(ctx, cfg, logger)
	if err != nil {
		fail(err)
	}
	defer setup.Cleanup()

	start := time.Now()
	out := setup.Coordinator.RunTask(ctx, task)
	logger.Info("task.finished", "task_id", task.TaskID, "status", out.Status, "elapsed_ms", time.Since(start).Milliseconds())
	printJSON(out)
	if out.Status == constants.OutputError {
		setup.Cleanup()
		os.Exit(1)
	}
}
