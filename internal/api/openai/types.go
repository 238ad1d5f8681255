// Package openai provides shared types and an HTTP client for OpenAI-style
// chat completion APIs. The same client serves any OpenAI-compatible
// endpoint (local inference servers included) via WithBaseURL.
package openai

import (
	"encoding/json"
	"strings"

	domainerrors "github.com/modelcascade/cascade/internal/domain"
)

// ChatCompletionRequest represents an OpenAI chat completion request.
type ChatCompletionRequest struct {
	Model       string                  `json:"model"`
	Messages    []ChatCompletionMessage `json:"messages"`
	MaxTokens   int                     `json:"max_tokens,omitempty"`
	Temperature *float32                `json:"temperature,omitempty"`
	TopP        *float32                `json:"top_p,omitempty"`
	Stop        []string                `json:"stop,omitempty"`
	User        string                  `json:"user,omitempty"`
	Seed        *int                    `json:"seed,omitempty"`
}

// ChatCompletionMessage represents a message in the chat completion request/response.
type ChatCompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content,omitempty"`
	Name    string `json:"name,omitempty"`
}

// ChatCompletionResponse represents an OpenAI chat completion response.
type ChatCompletionResponse struct {
	ID                string   `json:"id"`
	Object            string   `json:"object"`
	Created           int64    `json:"created"`
	Model             string   `json:"model"`
	SystemFingerprint string   `json:"system_fingerprint,omitempty"`
	Choices           []Choice `json:"choices"`
	Usage             Usage    `json:"usage,omitempty"`
}

// Choice represents a completion choice.
type Choice struct {
	Index        int                   `json:"index"`
	Message      ChatCompletionMessage `json:"message"`
	FinishReason string                `json:"finish_reason"`
}

// Usage represents token usage information.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ErrorResponse represents an OpenAI API error response.
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

// APIError contains error details.
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
	Code    string `json:"code,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// ToCanonical converts the OpenAI API error to a canonical domain error.
func (e *APIError) ToCanonical() *domainerrors.APIError {
	errType, code := mapOpenAIErrorType(e.Type, e.Code, e.Message)
	return &domainerrors.APIError{
		Type:      errType,
		Code:      code,
		Message:   e.Message,
		Param:     e.Param,
		SourceAPI: domainerrors.APITypeOpenAI,
	}
}

// mapOpenAIErrorType maps OpenAI error types/codes to domain error types.
func mapOpenAIErrorType(errType, errCode, message string) (domainerrors.ErrorType, domainerrors.ErrorCode) {
	// First check specific error codes
	switch errCode {
	case "context_length_exceeded":
		return domainerrors.ErrorTypeContextLength, domainerrors.ErrorCodeContextLengthExceeded
	case "rate_limit_exceeded":
		return domainerrors.ErrorTypeRateLimit, domainerrors.ErrorCodeRateLimitExceeded
	case "invalid_api_key":
		return domainerrors.ErrorTypeAuthentication, domainerrors.ErrorCodeInvalidAPIKey
	case "model_not_found":
		return domainerrors.ErrorTypeNotFound, domainerrors.ErrorCodeModelNotFound
	}

	// Check message for patterns
	msgLower := strings.ToLower(message)
	if strings.Contains(msgLower, "max_tokens") || strings.Contains(msgLower, "maximum tokens") {
		if strings.Contains(msgLower, "truncated") || strings.Contains(msgLower, "could not finish") ||
			strings.Contains(msgLower, "output limit") {
			return domainerrors.ErrorTypeMaxTokens, domainerrors.ErrorCodeOutputTruncated
		}
		return domainerrors.ErrorTypeMaxTokens, domainerrors.ErrorCodeMaxTokensExceeded
	}
	if strings.Contains(msgLower, "context length") || strings.Contains(msgLower, "context window") {
		return domainerrors.ErrorTypeContextLength, domainerrors.ErrorCodeContextLengthExceeded
	}

	// Map by error type
	switch errType {
	case "invalid_request_error":
		return domainerrors.ErrorTypeInvalidRequest, ""
	case "authentication_error":
		return domainerrors.ErrorTypeAuthentication, domainerrors.ErrorCodeInvalidAPIKey
	case "permission_denied":
		return domainerrors.ErrorTypePermission, ""
	case "not_found":
		return domainerrors.ErrorTypeNotFound, domainerrors.ErrorCodeModelNotFound
	case "rate_limit_error", "rate_limit_exceeded":
		return domainerrors.ErrorTypeRateLimit, domainerrors.ErrorCodeRateLimitExceeded
	case "service_unavailable":
		return domainerrors.ErrorTypeOverloaded, ""
	case "server_error":
		return domainerrors.ErrorTypeServer, ""
	default:
		return domainerrors.ErrorTypeServer, ""
	}
}

// ParseErrorResponse attempts to parse an error response from JSON.
func ParseErrorResponse(data []byte) (*APIError, error) {
	var errResp ErrorResponse
	if err := json.Unmarshal(data, &errResp); err != nil {
		return nil, err
	}
	if errResp.Error == nil {
		return nil, nil
	}
	return errResp.Error, nil
}
