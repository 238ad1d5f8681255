// Package router implements the quality-gated escalation state machine.
//
// Tiers are fixed in ascending cost order. Each evaluation calls the
// cheapest tier first, gates its output, and either returns or re-issues the
// same request to the next tier. The most expensive tier is terminal: its
// result is returned unconditionally.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/modelcascade/cascade/internal/domain"
	"github.com/modelcascade/cascade/internal/gate"
)

const defaultTierTimeout = 60 * time.Second

// Tier is one provider configuration in the escalation order.
type Tier struct {
	Name     string
	Provider domain.Provider
	Model    string
	Cost     float64
	// Timeout bounds this tier's provider call. Zero means the router
	// default; a stalled terminal tier can therefore never block the
	// caller indefinitely.
	Timeout time.Duration
}

// Observer receives evaluation outcomes for metrics export. Implementations
// must be safe for concurrent use.
type Observer interface {
	ObserveTier(tier string, latency time.Duration, gatePassed bool, err error)
	ObserveEvaluation(result *domain.EvaluationResult)
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

// WithObserver sets the metrics observer.
func WithObserver(obs Observer) Option {
	return func(r *Router) {
		r.observer = obs
	}
}

// WithEscalation enables or disables escalation. Disabled, every evaluation
// returns the first tier's result regardless of gate outcome.
func WithEscalation(enabled bool) Option {
	return func(r *Router) {
		r.escalation = enabled
	}
}

// WithTierTimeout sets the default per-tier call deadline.
func WithTierTimeout(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.tierTimeout = d
		}
	}
}

// Router orchestrates provider tiers through the quality gate. Safe for
// concurrent use; independent evaluations share no mutable state.
type Router struct {
	tiers       []Tier
	gate        *gate.Gate
	escalation  bool
	tierTimeout time.Duration
	logger      *slog.Logger
	observer    Observer
	tracer      trace.Tracer
}

// New creates a router over the given tiers. Tiers are sorted by ascending
// cost; at least one is required. Equal costs are rejected since the
// escalation order would be ambiguous.
func New(tiers []Tier, g *gate.Gate, opts ...Option) (*Router, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("router: at least one tier required")
	}
	if g == nil {
		return nil, fmt.Errorf("router: gate required")
	}

	ordered := make([]Tier, len(tiers))
	copy(ordered, tiers)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Cost < ordered[j].Cost
	})
	for i := 1; i < len(ordered); i++ {
		if ordered[i].Cost == ordered[i-1].Cost {
			return nil, fmt.Errorf("router: tiers %q and %q share cost %v",
				ordered[i-1].Name, ordered[i].Name, ordered[i].Cost)
		}
	}
	for _, t := range ordered {
		if t.Provider == nil {
			return nil, fmt.Errorf("router: tier %q has no provider", t.Name)
		}
	}

	r := &Router{
		tiers:       ordered,
		gate:        g,
		escalation:  true,
		tierTimeout: defaultTierTimeout,
		logger:      slog.Default(),
		tracer:      otel.Tracer("cascade/router"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Tiers returns the cost-ordered tier list.
func (r *Router) Tiers() []Tier {
	out := make([]Tier, len(r.tiers))
	copy(out, r.tiers)
	return out
}

// Terminal returns the most expensive tier.
func (r *Router) Terminal() Tier {
	return r.tiers[len(r.tiers)-1]
}

// Evaluate runs one request through the escalation state machine with the
// gate's own threshold.
func (r *Router) Evaluate(ctx context.Context, req *domain.CompletionRequest) (*domain.EvaluationResult, error) {
	return r.EvaluateThreshold(ctx, req, r.gate.Threshold())
}

// EvaluateThreshold runs one request with a caller-supplied gate threshold.
//
// A provider error at a non-terminal tier is an implicit gate failure: the
// router escalates. At the terminal tier the error propagates. Configuration
// errors are fatal at any tier. Every tried tier's latency, usage, and gate
// verdict are kept in the result even when the tier's output is discarded.
func (r *Router) EvaluateThreshold(ctx context.Context, req *domain.CompletionRequest, threshold float64) (*domain.EvaluationResult, error) {
	start := time.Now()

	ctx, span := r.tracer.Start(ctx, "router.evaluate",
		trace.WithAttributes(attribute.Int("tiers", len(r.tiers))))
	defer span.End()

	var (
		timing           domain.Timing
		usage            domain.Usage
		attempts         []domain.TierAttempt
		escalationReason string
	)

	for i, tier := range r.tiers {
		terminal := i == len(r.tiers)-1

		result, gateReport, latency, gateLatency, err := r.tryTier(ctx, tier, req, threshold)
		if i == 0 {
			timing.PrimaryMs = latency.Milliseconds()
		} else {
			timing.EscalationMs += latency.Milliseconds()
		}
		timing.GateMs += gateLatency.Milliseconds()

		if r.observer != nil {
			passed := err == nil && gateReport.PassesGate
			r.observer.ObserveTier(tier.Name, latency, passed, err)
		}

		if err != nil {
			attempts = append(attempts, domain.TierAttempt{
				Tier:      i,
				Provider:  tier.Name,
				Model:     tier.Model,
				LatencyMs: latency.Milliseconds(),
				Error:     err.Error(),
			})

			if domain.IsConfigError(err) {
				// Never recovered by escalation; surfacing immediately keeps a
				// misconfigured tier from being silently skipped.
				span.RecordError(err)
				return nil, err
			}
			if terminal {
				span.RecordError(err)
				return nil, err
			}

			r.logger.Warn("tier failed, escalating",
				slog.String("tier", tier.Name),
				slog.String("error", err.Error()))
			escalationReason = fmt.Sprintf("tier %s error: %s", tier.Name, err.Error())
			continue
		}

		usage.Add(result.Usage)

		attempts = append(attempts, domain.TierAttempt{
			Tier:       i,
			Provider:   tier.Name,
			Model:      result.Model,
			Quality:    round3(gateReport.Score),
			GatePassed: gateReport.PassesGate,
			LatencyMs:  latency.Milliseconds(),
		})

		if gateReport.PassesGate || !r.escalation || terminal {
			timing.TotalMs = time.Since(start).Milliseconds()

			final := &domain.EvaluationResult{
				Provider:         tier.Name,
				Model:            result.Model,
				Quality:          round3(gateReport.Score),
				Escalated:        i > 0,
				EscalationReason: escalationReason,
				Responses:        gateReport.Responses,
				Issues:           gateReport.Issues,
				Usage:            usage,
				Timing:           timing,
				Attempts:         attempts,
			}
			if final.Responses == nil {
				final.Responses = []domain.ResponseUnit{}
			}
			if final.Issues == nil {
				final.Issues = []domain.Issue{}
			}

			span.SetAttributes(
				attribute.String("provider", tier.Name),
				attribute.Float64("quality", final.Quality),
				attribute.Bool("escalated", final.Escalated),
			)
			if r.observer != nil {
				r.observer.ObserveEvaluation(final)
			}
			return final, nil
		}

		r.logger.Info("gate failed, escalating",
			slog.String("tier", tier.Name),
			slog.Float64("quality", gateReport.Score),
			slog.Float64("threshold", threshold))
		escalationReason = fmt.Sprintf("tier %s quality %.3f below threshold %.2f",
			tier.Name, gateReport.Score, threshold)
	}

	// Unreachable: the terminal tier always returns or errors above.
	return nil, fmt.Errorf("router: no tier produced a result")
}

// tryTier calls one provider under its deadline and gates the output. Call
// latency and gate latency are reported separately.
func (r *Router) tryTier(ctx context.Context, tier Tier, req *domain.CompletionRequest, threshold float64) (*domain.ProviderResult, domain.QualityReport, time.Duration, time.Duration, error) {
	timeout := tier.Timeout
	if timeout <= 0 {
		timeout = r.tierTimeout
	}
	tierCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tierReq := *req
	if tierReq.Model == "" {
		tierReq.Model = tier.Model
	}

	callStart := time.Now()
	result, err := tier.Provider.Complete(tierCtx, &tierReq)
	latency := time.Since(callStart)
	if err != nil {
		// A deadline expiry is a tier timeout, handled exactly like any
		// other provider failure.
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = domain.ErrTimeout(fmt.Sprintf("tier %s exceeded %s", tier.Name, timeout))
		}
		return nil, domain.QualityReport{}, latency, 0, err
	}

	gateStart := time.Now()
	report := r.gate.EvaluateThreshold(result.OutputText, threshold)
	return result, report, latency, time.Since(gateStart), nil
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
