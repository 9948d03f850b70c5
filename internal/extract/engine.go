// Package extract turns one converted document into structured JSON using a
// routed, rate-limited and retried LLM call.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/llm"
	"github.com/joseph-ayodele/docextract/internal/routing"
)

// Selector picks the model for a document.
type Selector interface {
	Select(ctx context.Context, text string, images []string, mode constants.ModelMode) routing.Decision
}

// Reserver admits a request of n tokens, blocking until quota allows it.
type Reserver interface {
	Reserve(ctx context.Context, n int) error
}

// Backend is the client and input limits behind one model tier.
type Backend struct {
	Completer llm.Completer
	Vision    bool
	MaxChars  int
}

type Config struct {
	MaxImages      int
	MaxImageBytes  int64
	TokensPerImage int
	CharsPerToken  float64
	Temperature    float32
	Retry          RetryPolicy
}

func DefaultConfig() Config {
	return Config{
		MaxImages:      15,
		MaxImageBytes:  10 << 20,
		TokensPerImage: 1000,
		CharsPerToken:  3.5,
		Retry:          DefaultRetryPolicy(),
	}
}

// ConfigFromCommon maps environment configuration onto engine settings.
func ConfigFromCommon(cfg *common.Config) Config {
	return Config{
		MaxImages:      cfg.Extraction.MaxImages,
		MaxImageBytes:  cfg.Extraction.MaxImageBytes,
		TokensPerImage: cfg.Extraction.TokensPerImage,
		CharsPerToken:  cfg.Extraction.CharsPerToken,
		Temperature:    cfg.LLM.Temperature,
		Retry: RetryPolicy{
			MaxAttempts: cfg.Extraction.MaxAttempts,
			Backoff:     ExponentialBackoff(cfg.Extraction.BackoffBase),
		},
	}
}

// Request describes one extraction. Prompt wins over Fields when both are
// set; Fields are still used to check the result.
type Request struct {
	MarkdownPath string
	Prompt       string
	Fields       []llm.Field
	Mode         constants.ModelMode
}

// Meta records how a result was produced.
type Meta struct {
	Model            string        `json:"model"`
	Tier             routing.Tier  `json:"tier"`
	HasFigures       bool          `json:"has_figures"`
	Reason           string        `json:"reason"`
	Confidence       float64       `json:"confidence"`
	RouteCached      bool          `json:"route_cached,omitempty"`
	OriginalLength   int           `json:"original_length"`
	TextLength       int           `json:"text_length"`
	Truncated        bool          `json:"truncated,omitempty"`
	ImagesFound      int           `json:"images_found"`
	ImagesUsed       int           `json:"images_used"`
	ImagesMissing    int           `json:"images_missing,omitempty"`
	EstimatedTokens  int           `json:"estimated_tokens"`
	Attempts         int           `json:"attempts"`
	Repaired         bool          `json:"repaired,omitempty"`
	Unfilled         []string      `json:"unfilled,omitempty"`
	SchemaViolations []string      `json:"schema_violations,omitempty"`
	RequestID        string        `json:"request_id,omitempty"`
	Usage            llm.Usage     `json:"usage"`
	Elapsed          time.Duration `json:"elapsed_ns"`
}

// Result is tagged success, partial or error. Partial carries the raw model
// output that could not be parsed.
type Result struct {
	Status constants.ExtractionStatus `json:"status"`
	Data   any                        `json:"data,omitempty"`
	Raw    string                     `json:"raw,omitempty"`
	Error  string                     `json:"error,omitempty"`
	Meta   Meta                       `json:"meta"`
	Err    error                      `json:"-"`
}

type Engine struct {
	selector Selector
	limiter  Reserver
	backends map[routing.Tier]Backend
	cfg      Config
	logger   *slog.Logger
}

func NewEngine(selector Selector, limiter Reserver, backends map[routing.Tier]Backend, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CharsPerToken <= 0 {
		cfg.CharsPerToken = 3.5
	}
	return &Engine{selector: selector, limiter: limiter, backends: backends, cfg: cfg, logger: logger}
}

// Extract runs NotStarted -> Attempting (bounded) -> Success | Partial | Error.
func (e *Engine) Extract(ctx context.Context, req Request) Result {
	start := time.Now()
	log := e.logger.With(common.LogAttrs(ctx)...).With("markdown", req.MarkdownPath)

	res := e.extract(ctx, req, log)
	res.Meta.Elapsed = time.Since(start)
	if res.Err != nil {
		res.Error = res.Err.Error()
	}
	log.Info("extract.done",
		"status", res.Status,
		"model", res.Meta.Model,
		"attempts", res.Meta.Attempts,
		"elapsed_ms", res.Meta.Elapsed.Milliseconds(),
	)
	return res
}

func (e *Engine) extract(ctx context.Context, req Request, log *slog.Logger) Result {
	raw, err := os.ReadFile(req.MarkdownPath)
	if err != nil {
		return errorResult(Meta{}, fmt.Errorf("read converted document: %w", err))
	}

	text := StripBoilerplate(NormalizeText(string(raw)))
	images := LocateImages(text, filepath.Dir(req.MarkdownPath), e.cfg.MaxImages, log)

	decision := e.selector.Select(ctx, text, images.Paths, req.Mode)
	meta := Meta{
		Model:          decision.Model,
		Tier:           decision.Tier,
		HasFigures:     decision.HasFigures,
		Reason:         decision.Reason,
		Confidence:     decision.Confidence,
		RouteCached:    decision.Cached,
		OriginalLength: utf8.RuneCountInString(string(raw)),
		ImagesFound:    len(images.Paths),
		ImagesMissing:  images.Missing,
	}

	backend, ok := e.backends[decision.Tier]
	if !ok || backend.Completer == nil {
		return errorResult(meta, common.ConfigurationError(fmt.Sprintf("no backend configured for %s tier", decision.Tier)))
	}

	text, meta.Truncated = Truncate(text, backend.MaxChars)
	meta.TextLength = utf8.RuneCountInString(text)

	var dataURLs []string
	if backend.Vision {
		for _, p := range images.Paths {
			u, err := llm.ImageDataURL(p, e.cfg.MaxImageBytes)
			if err != nil {
				log.Warn("extract.images.skipped", "path", p, "error", err)
				continue
			}
			dataURLs = append(dataURLs, u)
		}
	}
	meta.ImagesUsed = len(dataURLs)
	meta.EstimatedTokens = EstimateTokens(meta.TextLength, meta.ImagesUsed, e.cfg.CharsPerToken, e.cfg.TokensPerImage)

	prompt := req.Prompt
	if prompt == "" {
		prompt = llm.BuildPrompt(req.Fields)
	}
	chat := llm.ChatRequest{
		Model:       decision.Model,
		Temperature: e.cfg.Temperature,
		JSONMode:    true,
		Vision:      backend.Vision,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Text: prompt},
			{Role: llm.RoleUser, Text: text, Images: dataURLs},
		},
	}

	log.Info("extract.start",
		"model", decision.Model,
		"reason", decision.Reason,
		"text_length", meta.TextLength,
		"images", meta.ImagesUsed,
		"estimated_tokens", meta.EstimatedTokens,
	)

	var resp llm.ChatResponse
	attempts, err := e.cfg.Retry.Do(ctx, func(ctx context.Context, attempt int) error {
		if e.limiter != nil {
			if err := e.limiter.Reserve(ctx, meta.EstimatedTokens); err != nil {
				return err
			}
		}
		r, err := backend.Completer.Complete(ctx, chat)
		if err == nil && r.StatusCode != 0 && r.StatusCode != 200 {
			err = common.TransportErrorf("llm", "status %d", r.StatusCode)
		}
		if err != nil {
			log.Warn("extract.attempt.failed", "attempt", attempt, "status", r.StatusCode, "error", err)
			return err
		}
		resp = r
		return nil
	})
	meta.Attempts = attempts
	if err != nil {
		return errorResult(meta, fmt.Errorf("llm call failed after %d attempt(s): %w", attempts, err))
	}
	meta.RequestID = resp.RequestID
	meta.Usage = resp.Usage

	data, repaired, err := llm.ParseJSON(resp.Content)
	if err != nil {
		log.Warn("extract.parse.partial", "error", err, "raw_length", len(resp.Content))
		return Result{Status: constants.ExtractionPartial, Raw: resp.Content, Meta: meta, Err: err}
	}
	meta.Repaired = repaired
	if repaired {
		log.Info("extract.parse.repaired")
	}

	if len(req.Fields) > 0 {
		violations, unfilled, verr := llm.ValidateAgainstFields(data, req.Fields)
		if verr != nil {
			log.Warn("extract.validate.error", "error", verr)
		}
		meta.SchemaViolations, meta.Unfilled = violations, unfilled
	}
	return Result{Status: constants.ExtractionSuccess, Data: data, Meta: meta}
}

func errorResult(meta Meta, err error) Result {
	return Result{Status: constants.ExtractionError, Meta: meta, Err: err}
}

// IsCancelled reports whether a result failed because ctx ended.
func (r Result) IsCancelled() bool {
	return errors.Is(r.Err, context.Canceled) || errors.Is(r.Err, context.DeadlineExceeded)
}

// BackendsFromConfig wires the remote client to the vision, long and pro
// tiers and the local client to the local tier.
func BackendsFromConfig(cfg *common.Config, remote, local llm.Completer) map[routing.Tier]Backend {
	backends := map[routing.Tier]Backend{
		routing.TierVision: {Completer: remote, Vision: true, MaxChars: cfg.LLM.VisionMaxChars},
		routing.TierLong:   {Completer: remote, Vision: false, MaxChars: cfg.LLM.LongMaxChars},
		routing.TierPro:    {Completer: remote, Vision: cfg.LLM.ProVision, MaxChars: cfg.LLM.ProMaxChars},
	}
	if local != nil {
		backends[routing.TierLocal] = Backend{Completer: local, Vision: cfg.LLM.LocalVision, MaxChars: cfg.LLM.LocalMaxChars}
	}
	return backends
}
