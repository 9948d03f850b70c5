package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/conversion"
	"github.com/joseph-ayodele/docextract/internal/extract"
	"github.com/joseph-ayodele/docextract/internal/llm"
)

// Converter is the batch conversion workflow.
type Converter interface {
	Submit(ctx context.Context, files []conversion.File) (string, error)
	Poll(ctx context.Context, batchID string) ([]conversion.Result, error)
	Fetch(ctx context.Context, batchID string, results []conversion.Result, dest string) conversion.FetchReport
}

// Extractor turns one converted document into structured data.
type Extractor interface {
	Extract(ctx context.Context, req extract.Request) extract.Result
}

// Checker rejects files before they are submitted for conversion.
type Checker interface {
	Check(path string) (int, error)
}

// Coordinator runs conversion then extraction for each document.
type Coordinator struct {
	conv      Converter
	engine    Extractor
	preflight Checker
	logger    *slog.Logger

	workers     int
	batchSize   int
	concurrency int
}

type Option func(*Coordinator)

// WithWorkers bounds concurrent extractions.
func WithWorkers(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithBatchSize caps files per conversion batch.
func WithBatchSize(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithConversionConcurrency bounds how many sub-batches convert at once.
func WithConversionConcurrency(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

func WithPreflight(p Checker) Option {
	return func(c *Coordinator) { c.preflight = p }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewCoordinator(conv Converter, engine Extractor, opts ...Option) *Coordinator {
	c := &Coordinator{
		conv:        conv,
		engine:      engine,
		logger:      slog.Default(),
		workers:     3,
		batchSize:   200,
		concurrency: 2,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// document is one unit of work flowing through a run.
type document struct {
	taskID   string
	path     string
	name     string
	dataID   string
	output   string
	keyed    bool
	markdown string
	reused   bool
	out      Output
	done     bool
}

func newDocument(path, name string) *document {
	if name == "" {
		name = filepath.Base(path)
	}
	return &document{path: path, name: name, dataID: conversion.DataIDFor(path), output: outputName(name)}
}

// disambiguate rekeys a document on its full path when an earlier document
// in the run already holds its data id or output file name.
func disambiguate(docs []*document) {
	ids := map[string]bool{}
	outputs := map[string]bool{}
	for _, d := range docs {
		if ids[d.dataID] || outputs[d.output] {
			d.dataID = conversion.PathDataID(d.path)
			d.output = strings.TrimSuffix(d.output, ".json") + "-" + conversion.ShortHash(d.path) + ".json"
			d.keyed = true
		}
		ids[d.dataID] = true
		outputs[d.output] = true
	}
}

func (d *document) fail(err error) {
	d.out = errorOutput(err)
	d.done = true
}

// RunTask processes a single descriptor and always returns an Output; an
// unexpected panic becomes an error payload.
func (c *Coordinator) RunTask(ctx context.Context, task *Task) (out Output) {
	start := time.Now()
	if common.RequestIDFromContext(ctx) == "" {
		ctx = common.WithRequestID(ctx, uuid.NewString())
	}
	ctx = common.WithTaskID(ctx, task.TaskID)
	log := c.logger.With(common.LogAttrs(ctx)...)

	doc := newDocument(task.FileInfo.FilePath, task.FileInfo.FileName)
	doc.taskID = task.TaskID
	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline.task.panic", "panic", r)
			out = panicOutput(r)
			out.TaskID = task.TaskID
			out.SourceFile = doc.name
			out.DataID = doc.dataID
			out.TaskDataDir = task.FileInfo.TaskDataDir
		}
		log.Info("pipeline.task.done", "status", out.Status, "model", out.Model, "elapsed_ms", time.Since(start).Milliseconds())
	}()

	log.Info("pipeline.task.start", "file", doc.path, "mode", task.Mode, "fields", len(task.Fields))
	docs := []*document{doc}
	c.check(docs, log)
	c.convert(ctx, docs, task.InputDir(), log)
	c.extractAll(ctx, docs, task.FileInfo.TaskDataDir, task.Prompt, task.Fields, task.Mode, log)
	return doc.out
}

// Batch describes a directory run sharing one field specification and mode.
type Batch struct {
	Paths   []string
	DataDir string
	Fields  []llm.Field
	Prompt  string
	Mode    constants.ModelMode
}

// DocumentOutput pairs a source path with its result.
type DocumentOutput struct {
	Path   string
	Output Output
}

// BatchReport aggregates a batch run. Skipped counts preflight rejections,
// which are also included in Failed.
type BatchReport struct {
	Status    constants.BatchStatus
	Total     int
	Succeeded int
	Partial   int
	Failed    int
	Skipped   int
	Documents []DocumentOutput
	Elapsed   time.Duration
}

// RunBatch converts documents in sub-batches of at most the batch size, then
// extracts them concurrently. Failures are isolated per document; the
// returned report covers every input path.
func (c *Coordinator) RunBatch(ctx context.Context, b Batch) BatchReport {
	start := time.Now()
	if common.RequestIDFromContext(ctx) == "" {
		ctx = common.WithRequestID(ctx, uuid.NewString())
	}
	log := c.logger.With(common.LogAttrs(ctx)...)
	log.Info("pipeline.batch.start", "documents", len(b.Paths), "mode", b.Mode, "workers", c.workers, "batch_size", c.batchSize)

	docs := make([]*document, len(b.Paths))
	for i, p := range b.Paths {
		docs[i] = newDocument(p, "")
	}
	disambiguate(docs)
	skipped := c.check(docs, log)

	inputDir := filepath.Join(b.DataDir, constants.InputDir)
	c.convert(ctx, docs, inputDir, log)
	c.extractAll(ctx, docs, b.DataDir, b.Prompt, b.Fields, b.Mode, log)

	rep := BatchReport{Total: len(docs), Skipped: skipped, Elapsed: time.Since(start)}
	for _, d := range docs {
		switch d.out.Status {
		case constants.OutputSuccess:
			rep.Succeeded++
		case constants.OutputPartialSuccess:
			rep.Partial++
		default:
			rep.Failed++
		}
		rep.Documents = append(rep.Documents, DocumentOutput{Path: d.path, Output: d.out})
	}
	rep.Status = aggregate(rep)
	log.Info("pipeline.batch.done",
		"status", rep.Status,
		"succeeded", rep.Succeeded,
		"partial", rep.Partial,
		"failed", rep.Failed,
		"skipped", rep.Skipped,
		"elapsed_ms", rep.Elapsed.Milliseconds(),
	)
	return rep
}

// check runs preflight on every document and returns how many it rejected.
func (c *Coordinator) check(docs []*document, log *slog.Logger) int {
	if c.preflight == nil {
		return 0
	}
	rejected := 0
	for _, d := range docs {
		if _, err := c.preflight.Check(d.path); err != nil {
			log.Warn("pipeline.preflight.rejected", "file", d.name, "error", err)
			d.fail(err)
			rejected++
		}
	}
	return rejected
}

func aggregate(rep BatchReport) constants.BatchStatus {
	switch {
	case rep.Total > 0 && rep.Succeeded == rep.Total:
		return constants.BatchCompleted
	case rep.Succeeded+rep.Partial == 0:
		return constants.BatchFailed
	default:
		return constants.BatchPartial
	}
}

// convert reuses earlier conversion results where present and submits the
// rest in sub-batches. Each sub-batch is submitted, polled and fetched on
// its own; a failure there fails only that sub-batch's documents.
func (c *Coordinator) convert(ctx context.Context, docs []*document, inputDir string, log *slog.Logger) {
	var pending []conversion.File
	byID := map[string]*document{}
	for _, d := range docs {
		if d.done {
			continue
		}
		if md := existingMarkdown(inputDir, d); md != "" {
			d.markdown, d.reused = md, true
			log.Info("pipeline.convert.reused", "file", d.name, "markdown", md)
			continue
		}
		pending = append(pending, conversion.File{Path: d.path, DataID: d.dataID})
		byID[d.dataID] = d
	}
	if len(pending) == 0 {
		return
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(c.concurrency)
	for n, files := range conversion.Split(pending, c.batchSize) {
		g.Go(func() error {
			rep, err := c.convertBatch(ctx, files, inputDir)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Error("pipeline.convert.failed", "sub_batch", n+1, "files", len(files), "error", err)
				for _, f := range files {
					byID[f.DataID].fail(err)
				}
				return nil
			}
			for _, f := range rep.Fetched {
				if d, ok := byID[f.DataID]; ok {
					d.markdown = f.MarkdownPath
				}
			}
			for _, f := range rep.Failed {
				if d, ok := byID[f.DataID]; ok {
					d.fail(f.Err)
				}
			}
			log.Info("pipeline.convert.ok", "sub_batch", n+1, "fetched", len(rep.Fetched), "failed", len(rep.Failed))
			return nil
		})
	}
	_ = g.Wait()

	for _, d := range byID {
		if !d.done && d.markdown == "" {
			d.fail(common.ConversionFailure(d.dataID, "no result returned for file"))
		}
	}
}

func (c *Coordinator) convertBatch(ctx context.Context, files []conversion.File, dest string) (conversion.FetchReport, error) {
	batchID, err := c.conv.Submit(ctx, files)
	if err != nil {
		return conversion.FetchReport{}, err
	}
	results, err := c.conv.Poll(ctx, batchID)
	if err != nil {
		return conversion.FetchReport{}, err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return conversion.FetchReport{}, fmt.Errorf("create input dir: %w", err)
	}
	return c.conv.Fetch(ctx, batchID, results, dest), nil
}

// existingMarkdown finds a previous conversion of d under inputDir, either
// at <data_id>/full.md or in a directory named exactly after the file name
// or its stem. Path-keyed documents only match their own data id.
func existingMarkdown(inputDir string, d *document) string {
	direct := filepath.Join(inputDir, d.dataID, constants.ConvertedMarkdown)
	if fileExists(direct) {
		return direct
	}
	if d.keyed {
		return ""
	}
	base := filepath.Base(d.path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	for _, name := range []string{base, stem} {
		if md := filepath.Join(inputDir, name, constants.ConvertedMarkdown); fileExists(md) {
			return md
		}
	}
	return ""
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}

// extractAll runs the engine over every converted document with at most
// c.workers in flight and writes each output file.
func (c *Coordinator) extractAll(ctx context.Context, docs []*document, dataDir, prompt string, fields []llm.Field, mode constants.ModelMode, log *slog.Logger) {
	g := new(errgroup.Group)
	g.SetLimit(c.workers)
	for _, d := range docs {
		if !d.done {
			g.Go(func() error {
				c.extractOne(ctx, d, prompt, fields, mode, log)
				return nil
			})
		}
	}
	_ = g.Wait()

	for _, d := range docs {
		d.out.TaskID = d.taskID
		d.out.SourceFile = d.name
		d.out.DataID = d.dataID
		d.out.TaskDataDir = dataDir
		d.out.Converted = d.markdown != "" && !d.reused
		if d.out.ExtractedAt.IsZero() {
			d.out.ExtractedAt = time.Now()
		}
		path, err := writeOutput(dataDir, d.output, d.out)
		if err != nil {
			log.Error("pipeline.output.write_failed", "file", d.name, "error", err)
			continue
		}
		d.out.JSONPath = path
	}
}

func (c *Coordinator) extractOne(ctx context.Context, d *document, prompt string, fields []llm.Field, mode constants.ModelMode, log *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline.extract.panic", "file", d.name, "panic", r)
			d.out = panicOutput(r)
			d.done = true
		}
	}()
	if err := ctx.Err(); err != nil {
		d.fail(err)
		return
	}
	ctx = common.WithDocument(ctx, d.name)
	res := c.engine.Extract(ctx, extract.Request{
		MarkdownPath: d.markdown,
		Prompt:       prompt,
		Fields:       fields,
		Mode:         mode,
	})
	if res.IsCancelled() {
		log.Warn("pipeline.extract.cancelled", "file", d.name)
	}
	d.out = fromResult(res)
	d.done = true
	if errors.Is(res.Err, common.ErrConfiguration) {
		log.Error("pipeline.extract.misconfigured", "file", d.name, "error", res.Err)
	}
}
