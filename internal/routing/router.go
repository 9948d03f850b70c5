// Package routing decides which model tier handles a document and caches
// those decisions by document fingerprint.
package routing

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
)

// Models names the concrete model behind each tier.
type Models struct {
	Vision string
	Long   string
	Pro    string
	Local  string
}

// Policy holds the heuristic's tunable confidences. Confidence grows with
// evidence and never exceeds the tier's cap.
type Policy struct {
	FigureConfidence  float64
	DefaultConfidence float64
	ReferenceBase     float64
	ReferenceCap      float64
	IndicatorBase     float64
	IndicatorCap      float64
	Step              float64
	MinIndicatorHits  int
}

func DefaultPolicy() Policy {
	return Policy{
		FigureConfidence:  0.9,
		DefaultConfidence: 0.9,
		ReferenceBase:     0.6,
		ReferenceCap:      0.85,
		IndicatorBase:     0.5,
		IndicatorCap:      0.75,
		Step:              0.05,
		MinIndicatorHits:  1,
	}
}

// PolicyFromConfig overlays configured thresholds on the defaults.
func PolicyFromConfig(cfg common.RoutingConfig) Policy {
	p := DefaultPolicy()
	if cfg.ReferenceBase > 0 {
		p.ReferenceBase = cfg.ReferenceBase
	}
	if cfg.ReferenceCap > 0 {
		p.ReferenceCap = cfg.ReferenceCap
	}
	if cfg.IndicatorBase > 0 {
		p.IndicatorBase = cfg.IndicatorBase
	}
	if cfg.IndicatorCap > 0 {
		p.IndicatorCap = cfg.IndicatorCap
	}
	if cfg.ConfidenceStep > 0 {
		p.Step = cfg.ConfidenceStep
	}
	if cfg.MinIndicatorHits > 0 {
		p.MinIndicatorHits = cfg.MinIndicatorHits
	}
	return p
}

// Stats counts routing outcomes.
type Stats struct {
	VisionCalls   int64
	LongCalls     int64
	CacheHits     int64
	Forced        int64
	HeuristicRuns int64
}

type Router struct {
	cache  Cache
	models Models
	policy Policy
	logger *slog.Logger
	now    func() time.Time

	visionCalls   atomic.Int64
	longCalls     atomic.Int64
	cacheHits     atomic.Int64
	forced        atomic.Int64
	heuristicRuns atomic.Int64
}

type Option func(*Router)

func WithPolicy(p Policy) Option {
	return func(r *Router) { r.policy = p }
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRouter creates a router. A nil cache disables caching.
func NewRouter(cache Cache, models Models, opts ...Option) *Router {
	r := &Router{
		cache:  cache,
		models: models,
		policy: DefaultPolicy(),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Select honours a forced mode and otherwise routes on document features.
// Forced decisions are not cached since they do not depend on the document.
func (r *Router) Select(ctx context.Context, text string, images []string, mode constants.ModelMode) Decision {
	switch mode {
	case constants.ModePro:
		r.forced.Add(1)
		return Decision{
			Model:      r.models.Pro,
			Tier:       TierPro,
			HasFigures: len(images) > 0,
			Reason:     "forced: pro mode, routing bypassed",
			Confidence: 1,
			Analysis:   Analysis{ImageCount: len(images), TextLength: utf8.RuneCountInString(text)},
			DecidedAt:  r.now(),
		}
	case constants.ModeLocal:
		r.forced.Add(1)
		return Decision{
			Model:      r.models.Local,
			Tier:       TierLocal,
			HasFigures: len(images) > 0,
			Reason:     "forced: local mode, routing bypassed",
			Confidence: 1,
			Analysis:   Analysis{ImageCount: len(images), TextLength: utf8.RuneCountInString(text)},
			DecidedAt:  r.now(),
		}
	}
	return r.Route(ctx, text, images)
}

// Route returns the cached decision for the document's fingerprint or runs
// the heuristic and caches its result. Cache failures are logged, not fatal.
func (r *Router) Route(ctx context.Context, text string, images []string) Decision {
	key := Fingerprint(text, len(images))

	if r.cache != nil {
		d, ok, err := r.cache.Lookup(ctx, key)
		if err != nil {
			r.logger.Warn("routing.cache.lookup_error", "error", err)
		}
		if ok {
			r.cacheHits.Add(1)
			d.Cached = true
			r.logger.Debug("routing.cache.hit", "model", d.Model, "reason", d.Reason)
			return d
		}
	}

	d := r.decide(text, images)
	switch d.Tier {
	case TierVision:
		r.visionCalls.Add(1)
	case TierLong:
		r.longCalls.Add(1)
	}
	r.logger.Info("routing.decision",
		"model", d.Model,
		"has_figures", d.HasFigures,
		"confidence", d.Confidence,
		"reason", d.Reason,
	)

	if r.cache != nil {
		if err := r.cache.Store(ctx, key, d); err != nil {
			r.logger.Warn("routing.cache.store_error", "error", err)
		}
	}
	return d
}

// decide applies the priority-ordered heuristic.
func (r *Router) decide(text string, images []string) Decision {
	r.heuristicRuns.Add(1)
	p := r.policy
	a := Analysis{ImageCount: len(images), TextLength: utf8.RuneCountInString(text)}
	d := Decision{DecidedAt: r.now()}

	if len(images) > 0 {
		d.Model, d.Tier, d.HasFigures = r.models.Vision, TierVision, true
		d.Confidence = p.FigureConfidence
		d.Reason = fmt.Sprintf("%d associated image(s)", len(images))
		d.Analysis = a
		return d
	}

	ev := scanEvidence(text)
	a.ReferenceMatches = ev.references
	a.IndicatorMatches = ev.indicators
	a.MatchedPatterns = ev.matched
	d.Analysis = a

	switch {
	case ev.references > 0:
		d.Model, d.Tier, d.HasFigures = r.models.Vision, TierVision, true
		d.Confidence = scaled(p.ReferenceBase, p.Step, ev.references, p.ReferenceCap)
		d.Reason = fmt.Sprintf("%d figure/table reference(s) in text", ev.references)
	case ev.indicators >= p.MinIndicatorHits && ev.indicators > 0:
		d.Model, d.Tier, d.HasFigures = r.models.Vision, TierVision, true
		d.Confidence = scaled(p.IndicatorBase, p.Step, ev.indicators, p.IndicatorCap)
		d.Reason = fmt.Sprintf("%d chart indicator phrase(s) in text", ev.indicators)
	default:
		d.Model, d.Tier = r.models.Long, TierLong
		d.Confidence = p.DefaultConfidence
		d.Reason = "no figure evidence"
	}
	return d
}

func scaled(base, step float64, hits int, ceiling float64) float64 {
	return min(ceiling, base+step*float64(hits))
}

func (r *Router) Stats() Stats {
	return Stats{
		VisionCalls:   r.visionCalls.Load(),
		LongCalls:     r.longCalls.Load(),
		CacheHits:     r.cacheHits.Load(),
		Forced:        r.forced.Load(),
		HeuristicRuns: r.heuristicRuns.Load(),
	}
}
