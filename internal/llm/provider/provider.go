// Package provider is the LLM gateway: a small Provider interface over the
// hosted model APIs TutorGo uses, with a shared error taxonomy so workflows
// can react to timeouts, refusals, and schema violations uniformly.
package provider

import (
	"context"
	"encoding/json"
	"errors"
)

// Provider defines the interface for LLM providers
type Provider interface {
	// CreateCompletion creates a completion (unstructured text response)
	CreateCompletion(ctx context.Context, request CompletionRequest) (*CompletionResponse, error)

	// CreateStructured creates a structured response with schema validation
	CreateStructured(ctx context.Context, request StructuredRequest) (*StructuredResponse, error)

	// Name returns the provider name (e.g., "gemini", "openai")
	Name() string

	// Close releases provider resources
	Close() error
}

// Message represents a chat message
type Message struct {
	Role    string `json:"role"`    // "system", "user", "assistant"
	Content string `json:"content"` // The message content
}

// CompletionRequest represents a completion request
type CompletionRequest struct {
	// Messages is the conversation history
	Messages []Message `json:"messages"`

	// Model is the model to use (e.g., "gemini-2.0-flash", "gpt-4o-mini")
	Model string `json:"model,omitempty"`

	// Temperature controls randomness (0.0-2.0)
	Temperature float64 `json:"temperature,omitempty"`

	// MaxTokens is the maximum number of tokens to generate
	MaxTokens int `json:"max_tokens,omitempty"`
}

// CompletionResponse represents a completion response
type CompletionResponse struct {
	// Content is the generated text
	Content string `json:"content"`

	// FinishReason explains why generation stopped
	FinishReason string `json:"finish_reason"`

	// Usage contains token usage information
	Usage Usage `json:"usage"`

	// Raw is the raw provider response for debugging
	Raw any `json:"raw,omitempty"`
}

// StructuredRequest represents a request for structured output
type StructuredRequest struct {
	CompletionRequest

	// ResponseSchema is the JSON Schema for the expected response
	ResponseSchema json.RawMessage `json:"response_schema"`

	// StrictSchema rejects unknown properties during validation
	StrictSchema bool `json:"strict_schema,omitempty"`
}

// StructuredResponse represents a structured response
type StructuredResponse struct {
	// Data is the parsed structured data
	Data json.RawMessage `json:"data"`

	// Raw completion response
	CompletionResponse
}

// Usage represents token usage information
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ProviderError represents a provider-specific error
type ProviderError struct {
	Provider      string `json:"provider"`
	Code          string `json:"code"`
	Message       string `json:"message"`
	Type          string `json:"type,omitempty"`
	StatusCode    int    `json:"status_code,omitempty"`
	IsRetryable   bool   `json:"is_retryable"`
	OriginalError error  `json:"-"`
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	return e.Provider + " error: " + e.Message
}

// Unwrap returns the original error
func (e *ProviderError) Unwrap() error {
	return e.OriginalError
}

// Common error codes
const (
	ErrorCodeInvalidRequest  = "invalid_request"
	ErrorCodeAuthentication  = "authentication_error"
	ErrorCodeRateLimit       = "rate_limit_exceeded"
	ErrorCodeServerError     = "server_error"
	ErrorCodeTimeout         = "timeout"
	ErrorCodeModelNotFound   = "model_not_found"
	ErrorCodeContentFiltered = "content_filtered"
	ErrorCodeSchemaViolation = "schema_violation"
	ErrorCodeUnknown         = "unknown_error"
)

// NewProviderError creates a new provider error
func NewProviderError(provider, code, message string, original error) *ProviderError {
	return &ProviderError{
		Provider:      provider,
		Code:          code,
		Message:       message,
		OriginalError: original,
		IsRetryable:   isRetryableError(code),
	}
}

// isRetryableError determines if an error code is retryable
func isRetryableError(code string) bool {
	switch code {
	case ErrorCodeRateLimit, ErrorCodeServerError, ErrorCodeTimeout:
		return true
	default:
		return false
	}
}

// errorCodeIs reports whether err is a ProviderError with the given code.
func errorCodeIs(err error, code string) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}

// IsTimeout reports whether err is a timeout (including context deadline).
func IsTimeout(err error) bool {
	return errorCodeIs(err, ErrorCodeTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// IsRefusal reports whether the model refused to produce output
// (safety filter or explicit refusal finish reason).
func IsRefusal(err error) bool {
	return errorCodeIs(err, ErrorCodeContentFiltered)
}

// IsSchemaViolation reports whether structured output failed schema validation.
func IsSchemaViolation(err error) bool {
	return errorCodeIs(err, ErrorCodeSchemaViolation)
}
