// Package score implements the per-unit heuristics behind the quality gate.
// Heuristics are independent and additive so one structural defect does not
// mask another; deduction weights live in a Policy table rather than inline
// constants.
package score

import (
	"fmt"
	"math"
	"strings"

	"github.com/modelcascade/cascade/internal/domain"
)

// Policy holds the deduction weights and thresholds applied by the unit
// scorer. Construct with DefaultPolicy and override fields as needed; the
// zero value disables every check.
type Policy struct {
	// ProbabilityPenalty applies when the declared probability is NaN or
	// outside [0,1].
	ProbabilityPenalty float64

	// FormatVariancePenalty applies when the best rubric format matched
	// fewer than MinRubricLines lines and no aggregate total is present.
	// Format variance, not content failure, so the deduction is small.
	FormatVariancePenalty float64

	// RubricIncompleteMax is the ceiling for the numbered-rubric penalty,
	// scaled by the missing fraction of ExpectedRubricItems.
	RubricIncompleteMax float64

	// TotalMissingPenalty applies when the aggregate total line is absent
	// but rubric lines are otherwise present.
	TotalMissingPenalty float64

	// TotalMissingSparsePenalty applies when the total is absent and the
	// rubric is sparse too.
	TotalMissingSparsePenalty float64

	// ContentPenalty applies when no substantive keyword appears and the
	// text is under ContentLengthFloor.
	ContentPenalty float64

	// InjectionPenalty applies once, at the first matching injection rule.
	InjectionPenalty float64

	// TruncationPenalty applies below MinLength, RunawayPenalty above
	// MaxLength.
	TruncationPenalty float64
	RunawayPenalty    float64

	MinRubricLines      int
	ExpectedRubricItems int
	ContentLengthFloor  int
	MinLength           int
	MaxLength           int
}

// DefaultPolicy returns the stock deduction table.
func DefaultPolicy() Policy {
	return Policy{
		ProbabilityPenalty:        0.3,
		FormatVariancePenalty:     0.05,
		RubricIncompleteMax:       0.3,
		TotalMissingPenalty:       0.1,
		TotalMissingSparsePenalty: 0.2,
		ContentPenalty:            0.1,
		InjectionPenalty:          0.4,
		TruncationPenalty:         0.2,
		RunawayPenalty:            0.05,
		MinRubricLines:            5,
		ExpectedRubricItems:       10,
		ContentLengthFloor:        300,
		MinLength:                 100,
		MaxLength:                 10000,
	}
}

// Scorer scores a single response unit against the policy's heuristics.
// Stateless and safe for concurrent use.
type Scorer struct {
	policy Policy
}

// NewScorer creates a scorer with the given policy.
func NewScorer(policy Policy) *Scorer {
	return &Scorer{policy: policy}
}

// Policy returns the scorer's deduction table.
func (s *Scorer) Policy() Policy {
	return s.policy
}

// ScoreUnit scores one unit starting from 1.0 and applying independent
// deductions, clamped to zero. Each failed heuristic appends exactly one
// issue. Total over arbitrary input.
func (s *Scorer) ScoreUnit(unit domain.ResponseUnit) (float64, []domain.Issue) {
	p := s.policy
	scoreVal := 1.0
	var issues []domain.Issue

	deduct := func(penalty float64, cat domain.IssueCategory, sev domain.Severity, msg string) {
		scoreVal -= penalty
		issues = append(issues, domain.Issue{Category: cat, Severity: sev, Message: msg})
	}

	// Probability sanity. NaN and out-of-range are the same defect: the
	// declared confidence cannot be trusted.
	if math.IsNaN(unit.Probability) {
		deduct(p.ProbabilityPenalty, domain.CategoryProbability, domain.SeverityCritical,
			"declared probability is not numeric")
	} else if unit.Probability < 0 || unit.Probability > 1 {
		deduct(p.ProbabilityPenalty, domain.CategoryProbability, domain.SeverityCritical,
			fmt.Sprintf("declared probability %.3f outside [0,1]", unit.Probability))
	}

	counts := CountRubricLines(unit.Text)
	hasTotal := HasTotalLine(unit.Text)

	// Rubric completeness. Lenient about surface format to avoid false
	// negatives from benign format drift.
	if counts.Best() < p.MinRubricLines && !hasTotal {
		deduct(p.FormatVariancePenalty, domain.CategoryRubric, domain.SeverityInfo,
			fmt.Sprintf("only %d rubric-style lines recognized and no total line", counts.Best()))
	}
	if counts.Numbered > 0 && counts.Numbered < p.ExpectedRubricItems {
		missing := float64(p.ExpectedRubricItems-counts.Numbered) / float64(p.ExpectedRubricItems)
		deduct(p.RubricIncompleteMax*missing, domain.CategoryRubric, domain.SeverityWarning,
			fmt.Sprintf("numbered rubric has %d of %d expected items", counts.Numbered, p.ExpectedRubricItems))
	}

	// Aggregate total. A sparse rubric with no total is penalized harder
	// than a format-variant rubric with no total.
	if !hasTotal {
		penalty := p.TotalMissingPenalty
		if counts.Best() < p.MinRubricLines {
			penalty = p.TotalMissingSparsePenalty
		}
		deduct(penalty, domain.CategoryTotal, domain.SeverityWarning,
			"no aggregate total line found")
	}

	// Substantive content: short text that never argues a position.
	if len(unit.Text) < p.ContentLengthFloor && !hasSubstantiveKeyword(unit.Text) {
		deduct(p.ContentPenalty, domain.CategoryContent, domain.SeverityWarning,
			"no alternative or justification language in short response")
	}

	// Injection: strict, first match only.
	if rule := MatchInjection(unit.Text); rule != nil {
		deduct(p.InjectionPenalty, rule.Category, domain.SeverityCritical,
			fmt.Sprintf("instruction injection pattern %q matched", rule.Name))
	}

	// Length sanity.
	if len(unit.Text) < p.MinLength {
		deduct(p.TruncationPenalty, domain.CategoryLength, domain.SeverityWarning,
			fmt.Sprintf("text is %d chars, likely truncated", len(unit.Text)))
	} else if len(unit.Text) > p.MaxLength {
		deduct(p.RunawayPenalty, domain.CategoryLength, domain.SeverityWarning,
			fmt.Sprintf("text is %d chars, likely runaway generation", len(unit.Text)))
	}

	if scoreVal < 0 {
		scoreVal = 0
	}
	return scoreVal, issues
}

func hasSubstantiveKeyword(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range substantiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
