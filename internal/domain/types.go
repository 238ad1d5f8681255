package domain

import (
	"encoding/json"
	"math"
	"time"
)

// CompletionRequest is the canonical request shape sent to every provider
// tier. The same request is re-issued unchanged on escalation.
type CompletionRequest struct {
	Prompt      string  `json:"prompt"`
	System      string  `json:"system,omitempty"`
	Model       string  `json:"model,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float32 `json:"temperature,omitempty"`
	// UserAgent is forwarded to upstream APIs for traceability.
	UserAgent string `json:"-"`
}

// Usage represents token usage for one or more provider calls. When multiple
// tiers contribute to an evaluation the counts are summed across tiers.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add folds another usage record into this one.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}

// ProviderResult is the normalized reply from a single provider call.
// Owned by the call site; folded into the gate and the final result.
type ProviderResult struct {
	OutputText string `json:"output_text"`
	Model      string `json:"model"`
	Usage      Usage  `json:"usage"`
	LatencyMs  int64  `json:"latency_ms"`
}

// ResponseUnit is one parsed (text, probability) pair extracted from a
// provider's raw output. Probability is provider-declared, not computed;
// it may be NaN when the declared value was not numeric.
type ResponseUnit struct {
	Text        string  `json:"text"`
	Probability float64 `json:"probability"`
}

// MarshalJSON encodes a NaN probability as null, which encoding/json cannot
// represent otherwise.
func (u ResponseUnit) MarshalJSON() ([]byte, error) {
	type alias struct {
		Text        string   `json:"text"`
		Probability *float64 `json:"probability"`
	}
	a := alias{Text: u.Text}
	if !math.IsNaN(u.Probability) {
		p := u.Probability
		a.Probability = &p
	}
	return json.Marshal(a)
}

// UnmarshalJSON decodes a null or absent probability back to NaN.
func (u *ResponseUnit) UnmarshalJSON(data []byte) error {
	type alias struct {
		Text        string   `json:"text"`
		Probability *float64 `json:"probability"`
	}
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	u.Text = a.Text
	if a.Probability != nil {
		u.Probability = *a.Probability
	} else {
		u.Probability = math.NaN()
	}
	return nil
}

// Severity classifies how serious an issue is.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// IssueCategory identifies which heuristic or document check raised an issue.
type IssueCategory string

const (
	CategoryXML         IssueCategory = "xml"
	CategoryParse       IssueCategory = "parse"
	CategoryProbability IssueCategory = "probability"
	CategoryRubric      IssueCategory = "rubric"
	CategoryTotal       IssueCategory = "total"
	CategoryContent     IssueCategory = "content"
	CategoryInjection   IssueCategory = "injection"
	CategoryLength      IssueCategory = "length"
	CategoryConsistency IssueCategory = "consistency"
	CategorySchema      IssueCategory = "schema"
	CategoryProvider    IssueCategory = "provider"
)

// Issue is a descriptive finding from the scorer or gate. Never mutated;
// accumulated into lists.
type Issue struct {
	Category IssueCategory `json:"category"`
	Severity Severity      `json:"severity"`
	Message  string        `json:"message"`
}

// QualityReport is the verdict of one gate invocation over one provider
// output. Score is always clamped to [0,1]. Responses is empty only when
// parsing found zero structural units, in which case Score is 0 and
// PassesGate is false.
type QualityReport struct {
	Score      float64        `json:"score"`
	Issues     []Issue        `json:"issues"`
	Responses  []ResponseUnit `json:"responses"`
	PassesGate bool           `json:"passes_gate"`
	Threshold  float64        `json:"threshold"`
}

// Timing breaks an evaluation's wall time into phases, all in milliseconds.
// Primary is the first tier's provider call, Gate is the cumulative scoring
// time, Escalation is the total spent in tiers after the first.
type Timing struct {
	PrimaryMs    int64 `json:"primary_ms"`
	GateMs       int64 `json:"gate_ms"`
	EscalationMs int64 `json:"escalation_ms"`
	TotalMs      int64 `json:"total_ms"`
}

// TierAttempt records what happened at one escalation tier, kept even when
// the tier's output was discarded so callers can audit what was tried.
type TierAttempt struct {
	Tier       int     `json:"tier"`
	Provider   string  `json:"provider"`
	Model      string  `json:"model,omitempty"`
	Quality    float64 `json:"quality"`
	GatePassed bool    `json:"gate_passed"`
	LatencyMs  int64   `json:"latency_ms"`
	Error      string  `json:"error,omitempty"`
}

// MetricSample is one observation recorded for an experiment variant.
// Append-only; never mutated or removed for the experiment's lifetime.
type MetricSample struct {
	QualityScore float64   `json:"quality_score"`
	Escalated    bool      `json:"escalated"`
	SchemaValid  bool      `json:"schema_valid"`
	LatencyMs    int64     `json:"latency_ms"`
	TokenCount   int       `json:"token_count"`
	Timestamp    time.Time `json:"timestamp"`
}

// EvaluationResult is the caller-visible output of one full router
// invocation. Quality is rounded to three decimal places.
type EvaluationResult struct {
	ID               string         `json:"id,omitempty"`
	Provider         string         `json:"provider"`
	Model            string         `json:"model"`
	Quality          float64        `json:"quality"`
	Escalated        bool           `json:"escalated"`
	EscalationReason string         `json:"escalation_reason,omitempty"`
	Responses        []ResponseUnit `json:"responses"`
	Issues           []Issue        `json:"issues"`
	Usage            Usage          `json:"usage"`
	Timing           Timing         `json:"timing"`
	Attempts         []TierAttempt  `json:"attempts,omitempty"`
	Reasoning        string         `json:"reasoning,omitempty"`
}
