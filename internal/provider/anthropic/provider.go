// Package anthropic implements the escalation-tier adapter for the
// Anthropic Messages API.
package anthropic

import (
	"context"
	"net/http"
	"time"

	anthropicapi "github.com/modelcascade/cascade/internal/api/anthropic"
	"github.com/modelcascade/cascade/internal/domain"
)

// The Messages API requires max_tokens on every request.
const defaultMaxTokens = 4096

// ProviderOption configures the adapter.
type ProviderOption func(*Provider)

// WithBaseURL sets a custom base URL for the API.
func WithBaseURL(baseURL string) ProviderOption {
	return func(p *Provider) {
		p.baseURL = baseURL
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ProviderOption {
	return func(p *Provider) {
		p.httpClient = httpClient
	}
}

// Provider adapts the Anthropic Messages API to the domain.Provider
// interface.
type Provider struct {
	client     *anthropicapi.Client
	name       string
	model      string
	baseURL    string
	httpClient *http.Client
}

// New creates an Anthropic adapter for one tier.
func New(name, model, apiKey string, opts ...ProviderOption) (*Provider, error) {
	if apiKey == "" {
		return nil, domain.ErrMissingCredential(name)
	}

	p := &Provider{
		name:  name,
		model: model,
	}
	for _, opt := range opts {
		opt(p)
	}

	var clientOpts []anthropicapi.ClientOption
	if p.baseURL != "" {
		clientOpts = append(clientOpts, anthropicapi.WithBaseURL(p.baseURL))
	}
	if p.httpClient != nil {
		clientOpts = append(clientOpts, anthropicapi.WithHTTPClient(p.httpClient))
	}
	p.client = anthropicapi.NewClient(apiKey, clientOpts...)
	return p, nil
}

func (p *Provider) Name() string {
	return p.name
}

// Complete issues one messages request and normalizes the reply.
func (p *Provider) Complete(ctx context.Context, req *domain.CompletionRequest) (*domain.ProviderResult, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	apiReq := &anthropicapi.MessagesRequest{
		Model:     model,
		MaxTokens: maxTokens,
		System:    req.System,
		Messages: []anthropicapi.Message{
			{Role: "user", Content: req.Prompt},
		},
	}
	if req.Temperature > 0 {
		apiReq.Temperature = &req.Temperature
	}

	opts := &anthropicapi.RequestOptions{UserAgent: req.UserAgent}

	start := time.Now()
	resp, err := p.client.CreateMessage(ctx, apiReq, opts)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return nil, err
	}

	usage := domain.Usage{
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		TotalTokens:  resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}

	return &domain.ProviderResult{
		OutputText: resp.Text(),
		Model:      resp.Model,
		Usage:      usage,
		LatencyMs:  latency,
	}, nil
}
