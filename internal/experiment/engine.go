package experiment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/modelcascade/cascade/internal/domain"
	"github.com/modelcascade/cascade/internal/gate"
	"github.com/modelcascade/cascade/internal/router"
	"github.com/modelcascade/cascade/internal/store"
)

// ErrNotFound is returned when the named experiment does not exist.
var ErrNotFound = errors.New("experiment not found")

// ErrDuplicate is returned when creating an experiment under a taken name.
var ErrDuplicate = errors.New("experiment already exists")

const defaultTierTimeout = 60 * time.Second

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMinSamples sets the winner-selection eligibility floor.
func WithMinSamples(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.minSamples = n
		}
	}
}

// WithRand overrides the uniform [0,1) source used for variant selection.
// Tests inject a deterministic sequence here.
func WithRand(fn func() float64) Option {
	return func(e *Engine) {
		if fn != nil {
			e.rand = fn
		}
	}
}

// WithTierTimeout sets the per-call deadline applied to variant and fallback
// provider calls.
func WithTierTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.tierTimeout = d
		}
	}
}

// Engine owns the registered experiments and runs experiment-path
// evaluations: weighted variant selection, gate, optional schema check, and
// a single fallback escalation tier. Safe for concurrent use.
type Engine struct {
	mu          sync.RWMutex
	experiments map[string]*Experiment

	providers   map[string]domain.Provider
	gate        *gate.Gate
	fallback    router.Tier
	metrics     store.MetricStore
	minSamples  int
	tierTimeout time.Duration
	rand        func() float64
	logger      *slog.Logger
	tracer      trace.Tracer
}

// New creates an engine over the given provider set. The fallback tier is
// the terminal escalation target for every experiment; its result is
// returned unconditionally.
func New(providers map[string]domain.Provider, g *gate.Gate, fallback router.Tier, metrics store.MetricStore, opts ...Option) (*Engine, error) {
	if g == nil {
		return nil, fmt.Errorf("experiment: gate required")
	}
	if fallback.Provider == nil {
		return nil, fmt.Errorf("experiment: fallback tier has no provider")
	}
	if metrics == nil {
		return nil, fmt.Errorf("experiment: metric store required")
	}

	e := &Engine{
		experiments: make(map[string]*Experiment),
		providers:   providers,
		gate:        g,
		fallback:    fallback,
		metrics:     metrics,
		minSamples:  DefaultMinSamples,
		tierTimeout: defaultTierTimeout,
		rand:        rand.Float64,
		logger:      slog.Default(),
		tracer:      otel.Tracer("cascade/experiment"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Create registers a new experiment. Variant providers must already be
// registered with the engine; weights are normalized here.
func (e *Engine) Create(name string, variants []Variant) (*Experiment, error) {
	exp, err := newExperiment(name, variants)
	if err != nil {
		return nil, err
	}
	for _, v := range exp.Variants {
		if _, ok := e.providers[v.Provider]; !ok {
			return nil, fmt.Errorf("experiment %q: variant %q references unknown provider %q",
				name, v.ID, v.Provider)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.experiments[name]; exists {
		return nil, fmt.Errorf("experiment %q: %w", name, ErrDuplicate)
	}
	e.experiments[name] = exp
	return exp, nil
}

// Get returns the named experiment.
func (e *Engine) Get(name string) (*Experiment, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	exp, ok := e.experiments[name]
	if !ok {
		return nil, fmt.Errorf("experiment %q: %w", name, ErrNotFound)
	}
	return exp, nil
}

// List returns all experiments sorted by name.
func (e *Engine) List() []*Experiment {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Experiment, 0, len(e.experiments))
	for _, exp := range e.experiments {
		out = append(out, exp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Evaluate runs one request through the named experiment: a single weighted
// draw picks the variant, the variant's output is gated against its own
// threshold (or the gate default), and a failing gate escalates once to the
// fallback tier. The variant's own outcome is always recorded as a metric
// sample, discarded output included.
func (e *Engine) Evaluate(ctx context.Context, name string, req *domain.CompletionRequest) (*domain.EvaluationResult, error) {
	exp, err := e.Get(name)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "experiment.evaluate",
		trace.WithAttributes(attribute.String("experiment", name)))
	defer span.End()

	variant := exp.pick(e.rand())
	provider := e.providers[variant.Provider]
	span.SetAttributes(attribute.String("variant", variant.ID))

	threshold := variant.QualityThreshold
	if threshold == 0 {
		threshold = e.gate.Threshold()
	}

	variantReq := applyPromptConfig(req, variant.PromptConfig)

	var (
		timing   domain.Timing
		usage    domain.Usage
		attempts []domain.TierAttempt
	)

	result, callLatency, err := e.callProvider(ctx, provider, variant.ID, variantReq)
	timing.PrimaryMs = callLatency.Milliseconds()
	if err != nil {
		if domain.IsConfigError(err) {
			span.RecordError(err)
			return nil, err
		}

		attempts = append(attempts, domain.TierAttempt{
			Tier:      0,
			Provider:  variant.Provider,
			LatencyMs: callLatency.Milliseconds(),
			Error:     err.Error(),
		})
		e.recordSample(ctx, name, variant.ID, domain.MetricSample{
			Escalated: true,
			LatencyMs: callLatency.Milliseconds(),
			Timestamp: time.Now().UTC(),
		})
		e.logger.Warn("variant failed, escalating to fallback",
			slog.String("experiment", name),
			slog.String("variant", variant.ID),
			slog.String("error", err.Error()))

		reason := fmt.Sprintf("variant %s error: %s", variant.ID, err.Error())
		return e.escalate(ctx, span, req, reason, start, timing, usage, attempts)
	}

	gateStart := time.Now()
	report := e.gate.EvaluateThreshold(result.OutputText, threshold)
	timing.GateMs += time.Since(gateStart).Milliseconds()
	usage.Add(result.Usage)

	schemaValid := true
	if variant.OutputSchema != "" {
		var issue *domain.Issue
		schemaValid, issue = validateUnits(variant.OutputSchema, report.Responses)
		if issue != nil {
			report.Issues = append(report.Issues, *issue)
		}
	}

	attempts = append(attempts, domain.TierAttempt{
		Tier:       0,
		Provider:   variant.Provider,
		Model:      result.Model,
		Quality:    round3(report.Score),
		GatePassed: report.PassesGate,
		LatencyMs:  callLatency.Milliseconds(),
	})
	e.recordSample(ctx, name, variant.ID, domain.MetricSample{
		QualityScore: report.Score,
		Escalated:    !report.PassesGate,
		SchemaValid:  schemaValid,
		LatencyMs:    callLatency.Milliseconds(),
		TokenCount:   result.Usage.TotalTokens,
		Timestamp:    time.Now().UTC(),
	})

	if report.PassesGate {
		timing.TotalMs = time.Since(start).Milliseconds()
		final := buildResult(variant.Provider, result.Model, report, usage, timing, attempts, false, "")
		span.SetAttributes(
			attribute.Float64("quality", final.Quality),
			attribute.Bool("escalated", false),
		)
		return final, nil
	}

	e.logger.Info("variant gate failed, escalating to fallback",
		slog.String("experiment", name),
		slog.String("variant", variant.ID),
		slog.Float64("quality", report.Score),
		slog.Float64("threshold", threshold))

	reason := fmt.Sprintf("variant %s quality %.3f below threshold %.2f",
		variant.ID, report.Score, threshold)
	return e.escalate(ctx, span, req, reason, start, timing, usage, attempts)
}

// escalate issues the request to the fallback tier. The fallback is
// terminal: its gated result is returned whatever the score, and its errors
// propagate to the caller.
func (e *Engine) escalate(ctx context.Context, span trace.Span, req *domain.CompletionRequest, reason string, start time.Time, timing domain.Timing, usage domain.Usage, attempts []domain.TierAttempt) (*domain.EvaluationResult, error) {
	fallbackReq := *req
	if fallbackReq.Model == "" {
		fallbackReq.Model = e.fallback.Model
	}

	result, callLatency, err := e.callProvider(ctx, e.fallback.Provider, e.fallback.Name, &fallbackReq)
	timing.EscalationMs += callLatency.Milliseconds()
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	gateStart := time.Now()
	report := e.gate.Evaluate(result.OutputText)
	timing.GateMs += time.Since(gateStart).Milliseconds()
	usage.Add(result.Usage)

	attempts = append(attempts, domain.TierAttempt{
		Tier:       1,
		Provider:   e.fallback.Name,
		Model:      result.Model,
		Quality:    round3(report.Score),
		GatePassed: report.PassesGate,
		LatencyMs:  callLatency.Milliseconds(),
	})

	timing.TotalMs = time.Since(start).Milliseconds()
	final := buildResult(e.fallback.Name, result.Model, report, usage, timing, attempts, true, reason)
	span.SetAttributes(
		attribute.Float64("quality", final.Quality),
		attribute.Bool("escalated", true),
	)
	return final, nil
}

// callProvider issues one provider call under the engine's per-call deadline.
func (e *Engine) callProvider(ctx context.Context, p domain.Provider, label string, req *domain.CompletionRequest) (*domain.ProviderResult, time.Duration, error) {
	timeout := e.tierTimeout
	if label == e.fallback.Name && e.fallback.Timeout > 0 {
		timeout = e.fallback.Timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	callStart := time.Now()
	result, err := p.Complete(callCtx, req)
	latency := time.Since(callStart)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		err = domain.ErrTimeout(fmt.Sprintf("%s exceeded %s", label, timeout))
	}
	return result, latency, err
}

// Stats aggregates the recorded samples of every variant of the named
// experiment.
func (e *Engine) Stats(ctx context.Context, name string) ([]VariantStats, error) {
	exp, err := e.Get(name)
	if err != nil {
		return nil, err
	}

	out := make([]VariantStats, 0, len(exp.Variants))
	for _, v := range exp.Variants {
		samples, err := e.metrics.ListSamples(ctx, name, v.ID)
		if err != nil {
			return nil, fmt.Errorf("list samples for %s/%s: %w", name, v.ID, err)
		}
		out = append(out, computeStats(v.ID, samples))
	}
	return out, nil
}

// Winner runs winner selection over the experiment's current samples.
func (e *Engine) Winner(ctx context.Context, name string, mode WinnerMode) (Winner, error) {
	all, err := e.Stats(ctx, name)
	if err != nil {
		return Winner{}, err
	}
	return pickWinner(all, mode, e.minSamples), nil
}

// recordSample appends a metric sample; a store failure is logged and
// swallowed so metrics loss never fails an evaluation.
func (e *Engine) recordSample(ctx context.Context, experiment, variantID string, sample domain.MetricSample) {
	if err := e.metrics.AppendSample(ctx, experiment, variantID, sample); err != nil {
		e.logger.Error("append metric sample",
			slog.String("experiment", experiment),
			slog.String("variant", variantID),
			slog.String("error", err.Error()))
	}
}

// applyPromptConfig overlays a variant's overrides on a copy of the
// incoming request. Caller-supplied fields win only where the variant is
// silent on the model; system, max tokens, and temperature are the
// variant's experiment levers and always apply when set.
func applyPromptConfig(req *domain.CompletionRequest, pc PromptConfig) *domain.CompletionRequest {
	out := *req
	if pc.System != "" {
		out.System = pc.System
	}
	if pc.Model != "" {
		out.Model = pc.Model
	}
	if pc.MaxTokens > 0 {
		out.MaxTokens = pc.MaxTokens
	}
	if pc.Temperature != 0 {
		out.Temperature = pc.Temperature
	}
	return &out
}

func buildResult(provider, model string, report domain.QualityReport, usage domain.Usage, timing domain.Timing, attempts []domain.TierAttempt, escalated bool, reason string) *domain.EvaluationResult {
	final := &domain.EvaluationResult{
		Provider:         provider,
		Model:            model,
		Quality:          round3(report.Score),
		Escalated:        escalated,
		EscalationReason: reason,
		Responses:        report.Responses,
		Issues:           report.Issues,
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
	return final
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
