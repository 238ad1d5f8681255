// Package tokens provides token counting for providers whose APIs do not
// report usage. Adapters fill in Usage from a counter so escalation cost
// accounting stays complete across tiers.
package tokens

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcascade/cascade/internal/domain"
)

// Registry manages token counters for different providers/models.
// It supports:
// 1. Registered domain.TokenCounter implementations (like tiktoken for OpenAI)
// 2. A fallback estimator for unknown models
type Registry struct {
	counters []domain.TokenCounter
	fallback domain.TokenCounter
}

// NewRegistry creates a new token counter registry.
func NewRegistry() *Registry {
	return &Registry{
		fallback: NewEstimator(), // Default fallback estimator
	}
}

// Register adds a token counter to the registry.
func (r *Registry) Register(counter domain.TokenCounter) {
	r.counters = append(r.counters, counter)
}

// SetFallback sets the fallback counter for unsupported models.
func (r *Registry) SetFallback(counter domain.TokenCounter) {
	r.fallback = counter
}

// CountTokens counts tokens using the first registered counter that supports
// the model, falling back to the estimator.
func (r *Registry) CountTokens(ctx context.Context, req *domain.TokenCountRequest) (*domain.TokenCountResponse, error) {
	for _, counter := range r.counters {
		if counter.SupportsModel(req.Model) {
			return counter.CountTokens(ctx, req)
		}
	}

	if r.fallback != nil {
		return r.fallback.CountTokens(ctx, req)
	}

	return nil, fmt.Errorf("no token counter available for model: %s", req.Model)
}

// GetCounter returns the appropriate counter for a model.
func (r *Registry) GetCounter(model string) domain.TokenCounter {
	for _, counter := range r.counters {
		if counter.SupportsModel(model) {
			return counter
		}
	}
	return r.fallback
}

// EstimateUsage fills in a usage record for one request/response pair. Used
// by adapters whose upstream reply carried no usage numbers.
func (r *Registry) EstimateUsage(ctx context.Context, model, prompt, system, output string) domain.Usage {
	in, errIn := r.CountTokens(ctx, &domain.TokenCountRequest{Model: model, Text: prompt, System: system})
	out, errOut := r.CountTokens(ctx, &domain.TokenCountRequest{Model: model, Text: output})

	var usage domain.Usage
	if errIn == nil {
		usage.InputTokens = in.InputTokens
	}
	if errOut == nil {
		usage.OutputTokens = out.InputTokens
	}
	usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	return usage
}

// Estimator provides token count estimation based on character analysis.
// This is a fallback for providers without native token counting.
type Estimator struct {
	// CharsPerToken is the average characters per token (default: 4)
	CharsPerToken float64
}

// NewEstimator creates a new token estimator.
func NewEstimator() *Estimator {
	return &Estimator{
		CharsPerToken: 4.0, // Reasonable default for most models
	}
}

// CountTokens estimates the token count.
func (e *Estimator) CountTokens(ctx context.Context, req *domain.TokenCountRequest) (*domain.TokenCountResponse, error) {
	totalChars := len(req.Text)

	if req.System != "" {
		totalChars += len(req.System)
		// Overhead for role separators
		totalChars += 4
	}

	tokens := int(float64(totalChars) / e.CharsPerToken)

	return &domain.TokenCountResponse{
		InputTokens: tokens,
		Model:       req.Model,
		Estimated:   true,
	}, nil
}

// SupportsModel returns true - estimator supports all models as a fallback.
func (e *Estimator) SupportsModel(model string) bool {
	return true
}

// ModelMatcher helps match model names to provider patterns.
type ModelMatcher struct {
	prefixes []string
	exact    []string
}

// NewModelMatcher creates a new model matcher.
func NewModelMatcher(prefixes, exact []string) *ModelMatcher {
	return &ModelMatcher{
		prefixes: prefixes,
		exact:    exact,
	}
}

// Matches returns true if the model matches any pattern.
func (m *ModelMatcher) Matches(model string) bool {
	// Check exact matches first
	for _, e := range m.exact {
		if model == e {
			return true
		}
	}

	// Check prefix matches
	for _, p := range m.prefixes {
		if strings.HasPrefix(model, p) {
			return true
		}
	}

	return false
}
