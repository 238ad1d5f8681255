package experiment

import (
	"github.com/montanaflynn/stats"

	"github.com/modelcascade/cascade/internal/domain"
)

// VariantStats aggregates the recorded samples for one variant. All
// percentiles are nearest-rank over the ascending-sorted samples.
type VariantStats struct {
	VariantID string `json:"variant_id"`
	Samples   int    `json:"samples"`

	QualityMean float64 `json:"quality_mean"`
	QualityMin  float64 `json:"quality_min"`
	QualityMax  float64 `json:"quality_max"`
	QualityP50  float64 `json:"quality_p50"`
	QualityP95  float64 `json:"quality_p95"`

	EscalationRate float64 `json:"escalation_rate"`
	SchemaPassRate float64 `json:"schema_pass_rate"`

	LatencyMeanMs float64 `json:"latency_mean_ms"`
	LatencyP50Ms  float64 `json:"latency_p50_ms"`
	LatencyP95Ms  float64 `json:"latency_p95_ms"`

	TokenMean  float64 `json:"token_mean"`
	TokenTotal int64   `json:"token_total"`
}

// computeStats reduces a variant's sample list to its aggregate view. An
// empty list yields the zero stats with Samples=0; callers treat that as
// ineligible rather than an error.
func computeStats(variantID string, samples []domain.MetricSample) VariantStats {
	vs := VariantStats{VariantID: variantID, Samples: len(samples)}
	if len(samples) == 0 {
		return vs
	}

	quality := make(stats.Float64Data, len(samples))
	latency := make(stats.Float64Data, len(samples))
	escalated := 0
	schemaPassed := 0
	for i, s := range samples {
		quality[i] = s.QualityScore
		latency[i] = float64(s.LatencyMs)
		if s.Escalated {
			escalated++
		}
		if s.SchemaValid {
			schemaPassed++
		}
		vs.TokenTotal += int64(s.TokenCount)
	}
	n := float64(len(samples))

	vs.QualityMean, _ = stats.Mean(quality)
	vs.QualityMin, _ = stats.Min(quality)
	vs.QualityMax, _ = stats.Max(quality)
	vs.QualityP50, _ = stats.PercentileNearestRank(quality, 50)
	vs.QualityP95, _ = stats.PercentileNearestRank(quality, 95)

	vs.EscalationRate = float64(escalated) / n
	vs.SchemaPassRate = float64(schemaPassed) / n

	vs.LatencyMeanMs, _ = stats.Mean(latency)
	vs.LatencyP50Ms, _ = stats.PercentileNearestRank(latency, 50)
	vs.LatencyP95Ms, _ = stats.PercentileNearestRank(latency, 95)

	vs.TokenMean = float64(vs.TokenTotal) / n
	return vs
}
