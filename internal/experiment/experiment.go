// Package experiment implements weighted A/B routing of evaluation traffic
// across provider variants, with per-variant output-schema validation,
// append-only metric collection, and statistical winner selection.
package experiment

import (
	"fmt"
	"math"
	"time"
)

// weightTolerance is how far normalized weights may drift from summing to
// exactly 1 before creation is rejected.
const weightTolerance = 1e-6

// PromptConfig carries the per-variant request overrides applied before the
// variant's provider is called.
type PromptConfig struct {
	System      string  `json:"system,omitempty"`
	Model       string  `json:"model,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float32 `json:"temperature,omitempty"`
}

// Variant is one arm of an experiment. Weight is the variant's share of
// traffic after normalization. OutputSchema, when set, is a JSON Schema
// applied to the parsed response units; a schema miss is advisory and never
// escalates on its own. QualityThreshold of zero means the gate default.
type Variant struct {
	ID               string       `json:"id"`
	Provider         string       `json:"provider"`
	Weight           float64      `json:"weight"`
	PromptConfig     PromptConfig `json:"prompt_config,omitempty"`
	OutputSchema     string       `json:"output_schema,omitempty"`
	QualityThreshold float64      `json:"quality_threshold,omitempty"`
}

// Experiment is an immutable named set of variants. Weights are already
// normalized; mutating a running experiment would corrupt its accumulated
// samples, so there is no update operation.
type Experiment struct {
	Name     string    `json:"name"`
	Variants []Variant `json:"variants"`
	Created  time.Time `json:"created"`
}

// newExperiment validates the variant set, normalizes weights, and compiles
// every declared output schema so a bad schema fails at creation rather than
// on the first evaluation.
func newExperiment(name string, variants []Variant) (*Experiment, error) {
	if name == "" {
		return nil, fmt.Errorf("experiment name required")
	}
	if len(variants) == 0 {
		return nil, fmt.Errorf("experiment %q has no variants", name)
	}

	seen := make(map[string]bool, len(variants))
	total := 0.0
	for _, v := range variants {
		if v.ID == "" {
			return nil, fmt.Errorf("experiment %q: variant without id", name)
		}
		if seen[v.ID] {
			return nil, fmt.Errorf("experiment %q: duplicate variant id %q", name, v.ID)
		}
		seen[v.ID] = true
		if v.Provider == "" {
			return nil, fmt.Errorf("experiment %q: variant %q has no provider", name, v.ID)
		}
		if v.Weight <= 0 {
			return nil, fmt.Errorf("experiment %q: variant %q weight must be positive, got %v",
				name, v.ID, v.Weight)
		}
		if v.QualityThreshold < 0 || v.QualityThreshold > 1 {
			return nil, fmt.Errorf("experiment %q: variant %q threshold %v outside [0,1]",
				name, v.ID, v.QualityThreshold)
		}
		if v.OutputSchema != "" {
			if _, err := compileSchema(v.OutputSchema); err != nil {
				return nil, fmt.Errorf("experiment %q: variant %q schema: %w", name, v.ID, err)
			}
		}
		total += v.Weight
	}

	normalized := make([]Variant, len(variants))
	copy(normalized, variants)
	sum := 0.0
	for i := range normalized {
		normalized[i].Weight /= total
		sum += normalized[i].Weight
	}
	if math.Abs(sum-1.0) > weightTolerance {
		return nil, fmt.Errorf("experiment %q: normalized weights sum to %v", name, sum)
	}

	return &Experiment{
		Name:     name,
		Variants: normalized,
		Created:  time.Now().UTC(),
	}, nil
}

// pick maps one uniform draw in [0,1) onto the cumulative weight intervals.
// Floating-point shortfall past the last boundary lands on the last variant,
// so the draw always selects something.
func (e *Experiment) pick(draw float64) Variant {
	cumulative := 0.0
	for _, v := range e.Variants {
		cumulative += v.Weight
		if draw < cumulative {
			return v
		}
	}
	return e.Variants[len(e.Variants)-1]
}
