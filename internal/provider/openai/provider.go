// Package openai implements the escalation-tier adapter for OpenAI-style
// chat completion APIs. The same adapter serves any OpenAI-compatible
// endpoint (local inference servers included) via a custom base URL.
package openai

import (
	"context"
	"net/http"
	"time"

	openaiapi "github.com/modelcascade/cascade/internal/api/openai"
	"github.com/modelcascade/cascade/internal/domain"
	"github.com/modelcascade/cascade/internal/tokens"
)

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

// WithTokenRegistry sets the counter registry used when the upstream reply
// carries no usage numbers, which local OpenAI-compatible servers often omit.
func WithTokenRegistry(reg *tokens.Registry) ProviderOption {
	return func(p *Provider) {
		p.tokens = reg
	}
}

// Provider adapts one OpenAI-compatible endpoint to the domain.Provider
// interface.
type Provider struct {
	client     *openaiapi.Client
	name       string
	model      string
	baseURL    string
	httpClient *http.Client
	tokens     *tokens.Registry
}

// New creates an OpenAI adapter for one tier. The tier name is what the
// router and results report; model is the upstream model id.
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

	var clientOpts []openaiapi.ClientOption
	if p.baseURL != "" {
		clientOpts = append(clientOpts, openaiapi.WithBaseURL(p.baseURL))
	}
	if p.httpClient != nil {
		clientOpts = append(clientOpts, openaiapi.WithHTTPClient(p.httpClient))
	}
	p.client = openaiapi.NewClient(apiKey, clientOpts...)

	if p.tokens == nil {
		reg := tokens.NewRegistry()
		reg.Register(tokens.NewOpenAICounter())
		p.tokens = reg
	}
	return p, nil
}

func (p *Provider) Name() string {
	return p.name
}

// Complete issues one chat completion and normalizes the reply.
func (p *Provider) Complete(ctx context.Context, req *domain.CompletionRequest) (*domain.ProviderResult, error) {
	apiReq := p.toAPIRequest(req)
	opts := &openaiapi.RequestOptions{UserAgent: req.UserAgent}

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, apiReq, opts)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return nil, err
	}

	var text string
	if len(resp.Choices) > 0 {
		text = resp.Choices[0].Message.Content
	}

	usage := domain.Usage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}
	if usage.TotalTokens == 0 {
		usage = p.tokens.EstimateUsage(ctx, apiReq.Model, req.Prompt, req.System, text)
	}

	return &domain.ProviderResult{
		OutputText: text,
		Model:      resp.Model,
		Usage:      usage,
		LatencyMs:  latency,
	}, nil
}

func (p *Provider) toAPIRequest(req *domain.CompletionRequest) *openaiapi.ChatCompletionRequest {
	var messages []openaiapi.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, openaiapi.ChatCompletionMessage{
			Role:    "system",
			Content: req.System,
		})
	}
	messages = append(messages, openaiapi.ChatCompletionMessage{
		Role:    "user",
		Content: req.Prompt,
	})

	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	apiReq := &openaiapi.ChatCompletionRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if req.Temperature > 0 {
		apiReq.Temperature = &req.Temperature
	}
	return apiReq
}
