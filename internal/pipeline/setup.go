package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/conversion"
	"github.com/joseph-ayodele/docextract/internal/extract"
	"github.com/joseph-ayodele/docextract/internal/llm"
	"github.com/joseph-ayodele/docextract/internal/llm/dashscope"
	"github.com/joseph-ayodele/docextract/internal/llm/openai"
	"github.com/joseph-ayodele/docextract/internal/ratelimit"
	"github.com/joseph-ayodele/docextract/internal/routing"
)

// SetupResult holds the process-wide components built from configuration.
type SetupResult struct {
	Coordinator *Coordinator
	Router      *routing.Router
	Limiter     *ratelimit.Limiter
	Cleanup     func()
}

// Setup wires one limiter, one route cache and one router for the whole
// process, and builds a coordinator on top of them. Callers validate cfg
// beforehand.
func Setup(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*SetupResult, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cache, err := routing.OpenCache(ctx, cfg.Routing.CacheBackend, cfg.Routing.CachePath, logger)
	if err != nil {
		return nil, fmt.Errorf("open route cache: %w", err)
	}
	router := routing.NewRouter(cache, routing.Models{
		Vision: cfg.LLM.VisionModel,
		Long:   cfg.LLM.LongModel,
		Pro:    cfg.LLM.ProModel,
		Local:  cfg.LLM.LocalModel,
	}, routing.WithPolicy(routing.PolicyFromConfig(cfg.Routing)), routing.WithLogger(logger))

	limiter := ratelimit.New(cfg.RateLimit.TokensPerMinute,
		ratelimit.WithRequestQuota(cfg.RateLimit.RequestsPerMinute),
		ratelimit.WithSafetyMargin(cfg.RateLimit.SafetyMargin),
		ratelimit.WithLogger(logger),
	)

	var remote, local llm.Completer
	if cfg.LLM.APIKey != "" {
		remote = dashscope.NewClient(dashscope.Config{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Timeout: cfg.LLM.Timeout,
		}, logger)
	}
	if cfg.LLM.LocalBaseURL != "" {
		local = openai.NewClient(openai.Config{
			APIKey:  cfg.LLM.LocalAPIKey,
			BaseURL: cfg.LLM.LocalBaseURL,
			Timeout: cfg.LLM.Timeout,
		}, logger)
	}
	engine := extract.NewEngine(router, limiter, extract.BackendsFromConfig(cfg, remote, local), extract.ConfigFromCommon(cfg), logger)

	conv := conversion.NewClient(conversion.ConfigFromCommon(cfg.Conversion), logger)
	coord := NewCoordinator(conv, engine,
		WithWorkers(cfg.Pipeline.Workers),
		WithBatchSize(cfg.Conversion.MaxFilesPerBatch),
		WithConversionConcurrency(cfg.Pipeline.ConversionConcurrency),
		WithPreflight(conversion.Preflight{MaxPages: cfg.Conversion.MaxPages, MaxBytes: cfg.Conversion.MaxFileBytes}),
		WithLogger(logger),
	)

	return &SetupResult{
		Coordinator: coord,
		Router:      router,
		Limiter:     limiter,
		Cleanup: func() {
			st := router.Stats()
			logger.Info("routing.stats", "vision", st.VisionCalls, "long", st.LongCalls, "cache_hits", st.CacheHits, "forced", st.Forced)
			if err := cache.Close(); err != nil {
				logger.Warn("routing.cache.close_failed", "error", err)
			}
		},
	}, nil
}
