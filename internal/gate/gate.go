// Package gate combines the grammar parser and unit scorer with
// document-level checks into a single pass/fail quality verdict.
package gate

import (
	"fmt"
	"math"

	"github.com/modelcascade/cascade/internal/domain"
	"github.com/modelcascade/cascade/internal/grammar"
	"github.com/modelcascade/cascade/internal/score"
)

// DefaultThreshold is the composite score a provider output must reach to
// pass the gate. Collaborators may rely on this value; it is overridable per
// caller and per experiment variant.
const DefaultThreshold = 0.70

// Document-level deduction weights. Like the unit policy these are
// hand-tuned; the 60/40 composite split favors content quality over
// document mechanics so a single mis-tagged boundary does not dominate an
// otherwise strong batch of units.
const (
	tagImbalancePenalty   = 0.3
	unitCountPenalty      = 0.15
	probabilitySumPenalty = 0.2
	consistencyPenalty    = 0.1

	minExpectedUnits = 3

	documentWeight = 0.4
	unitWeight     = 0.6
)

// Gate evaluates raw provider output. Stateless and safe for concurrent
// use; identical input always yields an identical report.
type Gate struct {
	scorer    *score.Scorer
	threshold float64
}

// Option configures a Gate.
type Option func(*Gate)

// WithThreshold overrides the default pass threshold.
func WithThreshold(threshold float64) Option {
	return func(g *Gate) {
		g.threshold = threshold
	}
}

// WithPolicy overrides the unit scorer's deduction table.
func WithPolicy(policy score.Policy) Option {
	return func(g *Gate) {
		g.scorer = score.NewScorer(policy)
	}
}

// New creates a gate with the default threshold and scoring policy.
func New(opts ...Option) *Gate {
	g := &Gate{
		scorer:    score.NewScorer(score.DefaultPolicy()),
		threshold: DefaultThreshold,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Threshold returns the gate's configured pass threshold.
func (g *Gate) Threshold() float64 {
	return g.threshold
}

// Evaluate parses and scores raw provider output against the gate's own
// threshold.
func (g *Gate) Evaluate(raw string) domain.QualityReport {
	return g.EvaluateThreshold(raw, g.threshold)
}

// EvaluateThreshold parses and scores raw provider output against a
// caller-supplied threshold. Never panics, whatever the input.
func (g *Gate) EvaluateThreshold(raw string, threshold float64) domain.QualityReport {
	report := domain.QualityReport{Threshold: threshold}
	documentScore := 1.0

	parsed := grammar.Parse(raw)
	report.Responses = parsed.Units

	// Structural balance first: parsing already recovered what it could,
	// the report still records the defect.
	if !parsed.Balanced() {
		documentScore -= tagImbalancePenalty
		report.Issues = append(report.Issues, domain.Issue{
			Category: domain.CategoryXML,
			Severity: domain.SeverityCritical,
			Message: fmt.Sprintf("mismatched response markers: %d open, %d close",
				parsed.OpenTags, parsed.CloseTags),
		})
	}

	// Nothing parsed: score is forced to zero and every further check is
	// moot.
	if len(parsed.Units) == 0 {
		report.Issues = append(report.Issues, domain.Issue{
			Category: domain.CategoryParse,
			Severity: domain.SeverityCritical,
			Message:  "no response units could be parsed from provider output",
		})
		report.Score = 0
		report.PassesGate = false
		return report
	}

	if len(parsed.Units) < minExpectedUnits {
		documentScore -= unitCountPenalty
		report.Issues = append(report.Issues, domain.Issue{
			Category: domain.CategoryParse,
			Severity: domain.SeverityWarning,
			Message: fmt.Sprintf("only %d response units parsed, expected at least %d",
				len(parsed.Units), minExpectedUnits),
		})
	}

	// Declared probabilities across the batch must not claim more than
	// certainty. NaN values are already penalized per unit and are left
	// out of the sum.
	probSum := 0.0
	for _, unit := range parsed.Units {
		if !math.IsNaN(unit.Probability) {
			probSum += unit.Probability
		}
	}
	if probSum > 1.0 {
		documentScore -= probabilitySumPenalty
		report.Issues = append(report.Issues, domain.Issue{
			Category: domain.CategoryProbability,
			Severity: domain.SeverityCritical,
			Message:  fmt.Sprintf("declared probabilities sum to %.3f, exceeding 1.0", probSum),
		})
	}

	// Cross-unit consistency: a batch that mixes rubric-style and plain
	// units usually means the provider lost the format partway through.
	rubricStyled := 0
	for _, unit := range parsed.Units {
		if score.HasRubricFormatting(unit.Text) {
			rubricStyled++
		}
	}
	if rubricStyled > 0 && rubricStyled < len(parsed.Units) {
		documentScore -= consistencyPenalty
		report.Issues = append(report.Issues, domain.Issue{
			Category: domain.CategoryConsistency,
			Severity: domain.SeverityWarning,
			Message: fmt.Sprintf("%d of %d units use rubric formatting, the rest do not",
				rubricStyled, len(parsed.Units)),
		})
	}

	unitTotal := 0.0
	for _, unit := range parsed.Units {
		unitScore, unitIssues := g.scorer.ScoreUnit(unit)
		unitTotal += unitScore
		report.Issues = append(report.Issues, unitIssues...)
	}
	avgUnitScore := unitTotal / float64(len(parsed.Units))

	composite := clamp01(documentScore*documentWeight + avgUnitScore*unitWeight)
	report.Score = composite
	report.PassesGate = composite >= threshold
	return report
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
