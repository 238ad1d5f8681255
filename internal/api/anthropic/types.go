// Package anthropic provides shared types and an HTTP client for the
// Anthropic Messages API.
package anthropic

import (
	"encoding/json"
	"fmt"
	"strings"

	domainerrors "github.com/modelcascade/cascade/internal/domain"
)

// MessagesRequest represents an Anthropic Messages API request.
type MessagesRequest struct {
	Model         string    `json:"model"`
	Messages      []Message `json:"messages"`
	MaxTokens     int       `json:"max_tokens"`
	System        string    `json:"system,omitempty"`
	Temperature   *float32  `json:"temperature,omitempty"`
	TopP          *float32  `json:"top_p,omitempty"`
	StopSequences []string  `json:"stop_sequences,omitempty"`
	Metadata      *Metadata `json:"metadata,omitempty"`
}

// Message represents a message in the conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Metadata contains request metadata.
type Metadata struct {
	UserID string `json:"user_id,omitempty"`
}

// MessagesResponse represents an Anthropic Messages API response.
type MessagesResponse struct {
	ID           string            `json:"id"`
	Type         string            `json:"type"`
	Role         string            `json:"role"`
	Content      []ResponseContent `json:"content"`
	Model        string            `json:"model"`
	StopReason   string            `json:"stop_reason"`
	StopSequence *string           `json:"stop_sequence,omitempty"`
	Usage        MessagesUsage     `json:"usage"`
}

// Text returns the concatenated text content blocks of the response.
func (r *MessagesResponse) Text() string {
	var b strings.Builder
	for _, part := range r.Content {
		if part.Type == "text" || part.Type == "" {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

// ResponseContent represents content in a response.
type ResponseContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// MessagesUsage represents token usage in the response.
type MessagesUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ErrorResponse represents an Anthropic API error.
type ErrorResponse struct {
	Type  string    `json:"type"`
	Error *APIError `json:"error"`
}

// APIError contains error details.
type APIError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ToCanonical converts the Anthropic API error to a canonical domain error.
func (e *APIError) ToCanonical() *domainerrors.APIError {
	errType, code := mapAnthropicErrorType(e.Type, e.Message)
	return &domainerrors.APIError{
		Type:      errType,
		Code:      code,
		Message:   e.Message,
		SourceAPI: domainerrors.APITypeAnthropic,
	}
}

// mapAnthropicErrorType maps Anthropic error types to domain error types.
func mapAnthropicErrorType(errType, message string) (domainerrors.ErrorType, domainerrors.ErrorCode) {
	msgLower := strings.ToLower(message)
	if strings.Contains(msgLower, "prompt is too long") || strings.Contains(msgLower, "context window") {
		return domainerrors.ErrorTypeContextLength, domainerrors.ErrorCodeContextLengthExceeded
	}

	switch errType {
	case "invalid_request_error":
		if strings.Contains(msgLower, "max_tokens") {
			return domainerrors.ErrorTypeMaxTokens, domainerrors.ErrorCodeMaxTokensExceeded
		}
		return domainerrors.ErrorTypeInvalidRequest, ""
	case "authentication_error":
		return domainerrors.ErrorTypeAuthentication, domainerrors.ErrorCodeInvalidAPIKey
	case "permission_error":
		return domainerrors.ErrorTypePermission, ""
	case "not_found_error":
		return domainerrors.ErrorTypeNotFound, domainerrors.ErrorCodeModelNotFound
	case "rate_limit_error":
		return domainerrors.ErrorTypeRateLimit, domainerrors.ErrorCodeRateLimitExceeded
	case "overloaded_error":
		return domainerrors.ErrorTypeOverloaded, ""
	case "api_error":
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
