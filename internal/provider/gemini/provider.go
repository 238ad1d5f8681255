// Package gemini implements the escalation-tier adapter for the Google
// Gemini API using the Gen AI SDK.
package gemini

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/modelcascade/cascade/internal/domain"
	"github.com/modelcascade/cascade/internal/tokens"
)

// ProviderOption configures the adapter.
type ProviderOption func(*Provider)

// WithTokenRegistry sets the counter registry used when a reply carries no
// usage metadata.
func WithTokenRegistry(reg *tokens.Registry) ProviderOption {
	return func(p *Provider) {
		p.tokens = reg
	}
}

// Provider adapts the Gemini API to the domain.Provider interface.
type Provider struct {
	client *genai.Client
	name   string
	model  string
	tokens *tokens.Registry
}

// New creates a Gemini adapter for one tier.
func New(ctx context.Context, name, model, apiKey string, opts ...ProviderOption) (*Provider, error) {
	if apiKey == "" {
		return nil, domain.ErrMissingCredential(name)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, domain.ErrConfig(fmt.Sprintf("gemini client: %v", err))
	}

	p := &Provider{
		client: client,
		name:   name,
		model:  model,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.tokens == nil {
		p.tokens = tokens.NewRegistry()
	}
	return p, nil
}

func (p *Provider) Name() string {
	return p.name
}

// Complete issues one generation request and normalizes the reply.
func (p *Provider) Complete(ctx context.Context, req *domain.CompletionRequest) (*domain.ProviderResult, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature > 0 {
		temp := req.Temperature
		cfg.Temperature = &temp
	}

	start := time.Now()
	resp, err := p.client.Models.GenerateContent(ctx, model, genai.Text(req.Prompt), cfg)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return nil, mapGeminiError(err)
	}

	text := collectText(resp)

	var usage domain.Usage
	if resp.UsageMetadata != nil {
		usage = domain.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	if usage.TotalTokens == 0 {
		usage = p.tokens.EstimateUsage(ctx, model, req.Prompt, req.System, text)
	}

	return &domain.ProviderResult{
		OutputText: text,
		Model:      model,
		Usage:      usage,
		LatencyMs:  latency,
	}, nil
}

func collectText(resp *genai.GenerateContentResponse) string {
	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part != nil && part.Text != "" {
				b.WriteString(part.Text)
			}
		}
	}
	return b.String()
}

// mapGeminiError folds SDK errors into the canonical taxonomy. The SDK does
// not expose a structured error body for every failure mode, so status
// classification falls back to message inspection.
func mapGeminiError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "unauthenticated") ||
		strings.Contains(msg, "api key not valid"):
		return domain.ErrAuthentication(err.Error()).WithSourceAPI(domain.APITypeGemini)
	case strings.Contains(msg, "429") || strings.Contains(msg, "resource exhausted") ||
		strings.Contains(msg, "quota"):
		return domain.ErrRateLimit(err.Error()).WithSourceAPI(domain.APITypeGemini)
	case strings.Contains(msg, "404") || strings.Contains(msg, "not found"):
		return domain.ErrNotFound(err.Error()).WithSourceAPI(domain.APITypeGemini)
	case strings.Contains(msg, "503") || strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "unavailable"):
		return domain.ErrOverloaded(err.Error()).WithSourceAPI(domain.APITypeGemini)
	case strings.Contains(msg, "deadline exceeded") || strings.Contains(msg, "timeout"):
		return domain.ErrTimeout(err.Error()).WithSourceAPI(domain.APITypeGemini)
	default:
		return domain.ErrServer(err.Error()).WithSourceAPI(domain.APITypeGemini)
	}
}
