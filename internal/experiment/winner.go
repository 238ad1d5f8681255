package experiment

import (
	"fmt"
	"sort"
)

// WinnerMode selects the objective a winner is judged on.
type WinnerMode string

const (
	// ModeQuality rewards mean quality, discounted by escalation rate: a
	// variant that only looks good because the fallback rescued it half the
	// time should not win.
	ModeQuality WinnerMode = "quality"
	// ModeCost rewards quality per token.
	ModeCost WinnerMode = "cost"
	// ModeLatency rewards quality per second of wall time.
	ModeLatency WinnerMode = "latency"
)

// Confidence grades how much the winner's lead can be trusted.
type Confidence string

const (
	ConfidenceHigh             Confidence = "high"
	ConfidenceMedium           Confidence = "medium"
	ConfidenceLow              Confidence = "low"
	ConfidenceInsufficientData Confidence = "insufficient_data"
)

// DefaultMinSamples is the eligibility floor: a variant with fewer recorded
// samples cannot win or block a winner.
const DefaultMinSamples = 5

// Winner is the outcome of one winner-selection pass. When fewer than two
// variants are eligible, VariantID is empty and Confidence is
// insufficient_data.
type Winner struct {
	VariantID  string         `json:"variant_id,omitempty"`
	Mode       WinnerMode     `json:"mode"`
	Score      float64        `json:"score,omitempty"`
	Confidence Confidence     `json:"confidence"`
	Stats      []VariantStats `json:"stats"`
}

// ParseWinnerMode validates a mode string, defaulting empty to quality.
func ParseWinnerMode(s string) (WinnerMode, error) {
	switch WinnerMode(s) {
	case "":
		return ModeQuality, nil
	case ModeQuality, ModeCost, ModeLatency:
		return WinnerMode(s), nil
	default:
		return "", fmt.Errorf("unknown winner mode %q", s)
	}
}

// modeScore computes a variant's objective value. Zero token or latency
// means the denominator is unusable; the variant scores zero rather than
// dividing by it.
func modeScore(vs VariantStats, mode WinnerMode) float64 {
	switch mode {
	case ModeCost:
		if vs.TokenMean <= 0 {
			return 0
		}
		return vs.QualityMean / vs.TokenMean
	case ModeLatency:
		if vs.LatencyMeanMs <= 0 {
			return 0
		}
		return vs.QualityMean / vs.LatencyMeanMs * 1000
	default:
		return vs.QualityMean * (1 - vs.EscalationRate*0.5)
	}
}

// pickWinner ranks eligible variants by mode score and grades the leader's
// confidence from its sample count and quality-mean lead over the runner-up.
func pickWinner(all []VariantStats, mode WinnerMode, minSamples int) Winner {
	if minSamples <= 0 {
		minSamples = DefaultMinSamples
	}

	w := Winner{Mode: mode, Stats: all, Confidence: ConfidenceInsufficientData}

	var eligible []VariantStats
	for _, vs := range all {
		if vs.Samples >= minSamples {
			eligible = append(eligible, vs)
		}
	}
	if len(eligible) < 2 {
		return w
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		return modeScore(eligible[i], mode) > modeScore(eligible[j], mode)
	})
	best, runnerUp := eligible[0], eligible[1]

	w.VariantID = best.VariantID
	w.Score = modeScore(best, mode)

	// Confidence is always judged on the quality-mean gap, whatever the
	// ranking objective: a cost winner with no quality lead is still a
	// tentative call.
	gap := best.QualityMean - runnerUp.QualityMean
	switch {
	case best.Samples >= 30 && gap > 0.10:
		w.Confidence = ConfidenceHigh
	case best.Samples >= 10 && gap > 0.05:
		w.Confidence = ConfidenceMedium
	default:
		w.Confidence = ConfidenceLow
	}
	return w
}
