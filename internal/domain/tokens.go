package domain

import "context"

// TokenCountRequest represents a request to count tokens for one prompt and
// optional system text against a specific model's tokenizer.
type TokenCountRequest struct {
	Model  string `json:"model"`
	Text   string `json:"text"`
	System string `json:"system,omitempty"`
}

// TokenCountResponse represents the response from counting tokens.
type TokenCountResponse struct {
	InputTokens int    `json:"input_tokens"`
	Model       string `json:"model,omitempty"`
	// Estimated indicates whether the count is an estimate (true) or exact (false)
	Estimated bool `json:"estimated,omitempty"`
}

// TokenCounter provides token counting capabilities. Adapters whose upstream
// API does not report usage fall back to a counter to fill in Usage.
type TokenCounter interface {
	// CountTokens counts the tokens in the given request.
	// Returns the count and whether it's an estimate.
	CountTokens(ctx context.Context, req *TokenCountRequest) (*TokenCountResponse, error)

	// SupportsModel returns true if this counter supports the given model.
	SupportsModel(model string) bool
}
