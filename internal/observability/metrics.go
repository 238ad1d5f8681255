// Package observability exposes Prometheus metrics for the evaluation
// pipeline. One Metrics instance is created at startup and handed to the
// router as its observer; the handler is mounted at /metrics.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/modelcascade/cascade/internal/domain"
	"github.com/modelcascade/cascade/internal/router"
)

var _ router.Observer = (*Metrics)(nil)

// Metrics collects evaluation pipeline metrics. Each instance owns its own
// registry so tests can create as many as they like without collisions.
type Metrics struct {
	registry *prometheus.Registry

	// EvaluationCounter counts completed evaluations.
	// Labels: provider (winning tier), escalated (true|false)
	EvaluationCounter *prometheus.CounterVec

	// QualityScore distributes final composite scores.
	// Labels: provider
	QualityScore *prometheus.HistogramVec

	// TierCallCounter counts per-tier provider calls.
	// Labels: tier, status (pass|fail|error)
	TierCallCounter *prometheus.CounterVec

	// TierLatency measures per-tier provider call latency in seconds.
	// Labels: tier
	TierLatency *prometheus.HistogramVec

	// TokensUsed tracks total token consumption across all tried tiers.
	// Labels: provider (winning tier), type (input|output)
	TokensUsed *prometheus.CounterVec
}

// NewMetrics creates and registers the pipeline metrics on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		EvaluationCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cascade_evaluations_total",
				Help: "Total number of completed evaluations by winning provider and escalation outcome",
			},
			[]string{"provider", "escalated"},
		),

		QualityScore: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cascade_quality_score",
				Help:    "Distribution of final composite quality scores",
				Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
			},
			[]string{"provider"},
		),

		TierCallCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cascade_tier_calls_total",
				Help: "Total number of per-tier provider calls by gate outcome",
			},
			[]string{"tier", "status"},
		),

		TierLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cascade_tier_latency_seconds",
				Help:    "Per-tier provider call latency in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"tier"},
		),

		TokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cascade_tokens_total",
				Help: "Total tokens consumed across all tried tiers, by winning provider",
			},
			[]string{"provider", "type"},
		),
	}
}

// Handler serves this instance's registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveTier records one per-tier provider call.
func (m *Metrics) ObserveTier(tier string, latency time.Duration, gatePassed bool, err error) {
	status := "pass"
	switch {
	case err != nil:
		status = "error"
	case !gatePassed:
		status = "fail"
	}
	m.TierCallCounter.WithLabelValues(tier, status).Inc()
	m.TierLatency.WithLabelValues(tier).Observe(latency.Seconds())
}

// ObserveEvaluation records one completed evaluation.
func (m *Metrics) ObserveEvaluation(result *domain.EvaluationResult) {
	escalated := "false"
	if result.Escalated {
		escalated = "true"
	}
	m.EvaluationCounter.WithLabelValues(result.Provider, escalated).Inc()
	m.QualityScore.WithLabelValues(result.Provider).Observe(result.Quality)
	if result.Usage.InputTokens > 0 {
		m.TokensUsed.WithLabelValues(result.Provider, "input").Add(float64(result.Usage.InputTokens))
	}
	if result.Usage.OutputTokens > 0 {
		m.TokensUsed.WithLabelValues(result.Provider, "output").Add(float64(result.Usage.OutputTokens))
	}
}
