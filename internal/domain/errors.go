// Package domain provides the canonical types and error taxonomy shared by
// the parser, gate, router, and provider adapters.
package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// APIType identifies which upstream API an error originated from.
type APIType string

const (
	APITypeOpenAI    APIType = "openai"
	APITypeAnthropic APIType = "anthropic"
	APITypeGemini    APIType = "gemini"
)

// ErrorType represents the category of an API error.
type ErrorType string

const (
	// ErrorTypeInvalidRequest indicates a malformed or invalid request.
	ErrorTypeInvalidRequest ErrorType = "invalid_request"

	// ErrorTypeAuthentication indicates an authentication failure.
	ErrorTypeAuthentication ErrorType = "authentication"

	// ErrorTypePermission indicates a permission/authorization failure.
	ErrorTypePermission ErrorType = "permission"

	// ErrorTypeNotFound indicates a resource was not found.
	ErrorTypeNotFound ErrorType = "not_found"

	// ErrorTypeRateLimit indicates rate limiting was triggered.
	ErrorTypeRateLimit ErrorType = "rate_limit"

	// ErrorTypeOverloaded indicates the upstream service is overloaded.
	ErrorTypeOverloaded ErrorType = "overloaded"

	// ErrorTypeServer indicates an internal server error.
	ErrorTypeServer ErrorType = "server"

	// ErrorTypeTimeout indicates a per-tier deadline expired. Treated
	// identically to a provider failure by the escalation router.
	ErrorTypeTimeout ErrorType = "timeout"

	// ErrorTypeConfig indicates a configuration problem such as a missing
	// provider credential. Fatal: never recovered by escalation.
	ErrorTypeConfig ErrorType = "config"

	// ErrorTypeContextLength indicates the context length was exceeded.
	ErrorTypeContextLength ErrorType = "context_length"

	// ErrorTypeMaxTokens indicates a max_tokens limit issue.
	ErrorTypeMaxTokens ErrorType = "max_tokens"
)

// ErrorCode provides additional specificity beyond the error type.
type ErrorCode string

const (
	ErrorCodeContextLengthExceeded ErrorCode = "context_length_exceeded"
	ErrorCodeRateLimitExceeded     ErrorCode = "rate_limit_exceeded"
	ErrorCodeInvalidAPIKey         ErrorCode = "invalid_api_key"
	ErrorCodeMissingAPIKey         ErrorCode = "missing_api_key"
	ErrorCodeModelNotFound         ErrorCode = "model_not_found"
	ErrorCodeMaxTokensExceeded     ErrorCode = "max_tokens_exceeded"
	ErrorCodeOutputTruncated       ErrorCode = "output_truncated"
	ErrorCodeTierTimeout           ErrorCode = "tier_timeout"
)

// APIError represents a canonical error raised by a provider adapter or the
// router, translated from whatever wire format the upstream API used.
type APIError struct {
	// Type is the category of error
	Type ErrorType `json:"type"`

	// Code is an optional specific error code
	Code ErrorCode `json:"code,omitempty"`

	// Message is the human-readable error message
	Message string `json:"message"`

	// Param is the parameter that caused the error (if applicable)
	Param string `json:"param,omitempty"`

	// StatusCode is the suggested HTTP status code
	StatusCode int `json:"-"`

	// SourceAPI indicates which API the error originated from (for debugging)
	SourceAPI APIType `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// HTTPStatusCode returns the appropriate HTTP status code for this error.
func (e *APIError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}

	// Map error types to default status codes
	switch e.Type {
	case ErrorTypeInvalidRequest, ErrorTypeContextLength, ErrorTypeMaxTokens:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypePermission:
		return http.StatusForbidden
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	case ErrorTypeOverloaded:
		return http.StatusServiceUnavailable
	case ErrorTypeConfig, ErrorTypeServer:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether escalating to another tier can recover from this
// error. Configuration errors are terminal by definition.
func (e *APIError) Retryable() bool {
	return e.Type != ErrorTypeConfig
}

// IsConfigError reports whether err is a canonical configuration error.
func IsConfigError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Type == ErrorTypeConfig
	}
	return false
}

// NewAPIError creates a new API error.
func NewAPIError(errType ErrorType, message string) *APIError {
	return &APIError{
		Type:    errType,
		Message: message,
	}
}

// WithCode adds an error code to the error.
func (e *APIError) WithCode(code ErrorCode) *APIError {
	e.Code = code
	return e
}

// WithParam adds a parameter name to the error.
func (e *APIError) WithParam(param string) *APIError {
	e.Param = param
	return e
}

// WithStatusCode sets a specific HTTP status code.
func (e *APIError) WithStatusCode(code int) *APIError {
	e.StatusCode = code
	return e
}

// WithSourceAPI sets the source API type.
func (e *APIError) WithSourceAPI(api APIType) *APIError {
	e.SourceAPI = api
	return e
}

// Convenience constructors for common errors

// ErrInvalidRequest creates an invalid request error.
func ErrInvalidRequest(message string) *APIError {
	return NewAPIError(ErrorTypeInvalidRequest, message)
}

// ErrAuthentication creates an authentication error.
func ErrAuthentication(message string) *APIError {
	return NewAPIError(ErrorTypeAuthentication, message)
}

// ErrPermission creates a permission error.
func ErrPermission(message string) *APIError {
	return NewAPIError(ErrorTypePermission, message)
}

// ErrNotFound creates a not found error.
func ErrNotFound(message string) *APIError {
	return NewAPIError(ErrorTypeNotFound, message)
}

// ErrRateLimit creates a rate limit error.
func ErrRateLimit(message string) *APIError {
	return NewAPIError(ErrorTypeRateLimit, message).
		WithCode(ErrorCodeRateLimitExceeded)
}

// ErrOverloaded creates an overloaded error.
func ErrOverloaded(message string) *APIError {
	return NewAPIError(ErrorTypeOverloaded, message)
}

// ErrServer creates a server error.
func ErrServer(message string) *APIError {
	return NewAPIError(ErrorTypeServer, message)
}

// ErrTimeout creates a tier timeout error.
func ErrTimeout(message string) *APIError {
	return NewAPIError(ErrorTypeTimeout, message).
		WithCode(ErrorCodeTierTimeout)
}

// ErrConfig creates a configuration error. Configuration errors surface
// immediately; they are never silently skipped or escalated past.
func ErrConfig(message string) *APIError {
	return NewAPIError(ErrorTypeConfig, message)
}

// ErrMissingCredential creates a configuration error for an absent provider
// credential.
func ErrMissingCredential(provider string) *APIError {
	return NewAPIError(ErrorTypeConfig,
		fmt.Sprintf("provider %q has no API key configured", provider)).
		WithCode(ErrorCodeMissingAPIKey).
		WithParam("api_key")
}

// ErrContextLength creates a context length exceeded error.
func ErrContextLength(message string) *APIError {
	return NewAPIError(ErrorTypeContextLength, message).
		WithCode(ErrorCodeContextLengthExceeded)
}

// ErrMaxTokens creates a max tokens error.
func ErrMaxTokens(message string) *APIError {
	return NewAPIError(ErrorTypeMaxTokens, message).
		WithCode(ErrorCodeMaxTokensExceeded)
}

// ErrOutputTruncated creates an output truncated error (max_tokens reached during generation).
func ErrOutputTruncated(message string) *APIError {
	return NewAPIError(ErrorTypeMaxTokens, message).
		WithCode(ErrorCodeOutputTruncated)
}
