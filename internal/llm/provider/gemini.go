package provider

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"google.golang.org/genai"
)

const (
	geminiDefaultModel  = "gemini-2.0-flash"
	geminiMaxRetries    = 3
	geminiBaseDelay     = 1 * time.Second
	geminiMaxDelay      = 16 * time.Second
	geminiJitterFactor  = 0.3
	geminiClientTimeout = 30 * time.Second
)

func init() {
	RegisterFactory("gemini", func(config map[string]any) (Provider, error) {
		apiKey := ""
		if key, ok := config["api_key"].(string); ok {
			apiKey = key
		}
		if apiKey == "" {
			apiKey = os.Getenv("GOOGLE_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("GOOGLE_API_KEY not set")
		}

		return NewGeminiProvider(apiKey)
	})
}

// GeminiProvider implements Provider for the Gemini API using the Gen AI SDK
type GeminiProvider struct {
	client *genai.Client
}

// NewGeminiProvider creates a new Gemini provider.
//
// All API calls respect the context deadline. Callers should set appropriate
// timeouts (recommended: 60-120s per call).
func NewGeminiProvider(apiKey string) (*GeminiProvider, error) {
	// Add timeout for client creation to prevent hanging
	ctx, cancel := context.WithTimeout(context.Background(), geminiClientTimeout)
	defer cancel()

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiProvider{client: client}, nil
}

// Name returns the provider name
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// CreateCompletion creates a completion using the Gen AI SDK
func (p *GeminiProvider) CreateCompletion(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = geminiDefaultModel
	}

	config := &genai.GenerateContentConfig{}
	// 0 is a valid temperature for deterministic output
	config.Temperature = genai.Ptr(float32(req.Temperature))
	if req.MaxTokens > 0 && req.MaxTokens <= math.MaxInt32 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}

	contents, systemInstruction := p.buildContents(req.Messages)
	if systemInstruction != nil {
		config.SystemInstruction = systemInstruction
	}

	resp, err := p.generateWithRetry(ctx, model, contents, config)
	if err != nil {
		return nil, err
	}

	return p.parseResponse(resp)
}

// CreateStructured creates a structured response with JSON schema
func (p *GeminiProvider) CreateStructured(ctx context.Context, req StructuredRequest) (*StructuredResponse, error) {
	model := req.Model
	if model == "" {
		model = geminiDefaultModel
	}

	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}
	config.Temperature = genai.Ptr(float32(req.Temperature))
	if req.MaxTokens > 0 && req.MaxTokens <= math.MaxInt32 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}

	// Pass the response schema through to constrained decoding when it
	// converts cleanly; eager validation still happens in DecodeStructured.
	if len(req.ResponseSchema) > 0 {
		var schema *genai.Schema
		if err := json.Unmarshal(req.ResponseSchema, &schema); err == nil {
			config.ResponseSchema = schema
		}
	}

	contents, systemInstruction := p.buildContents(req.Messages)
	if systemInstruction != nil {
		config.SystemInstruction = systemInstruction
	}

	resp, err := p.generateWithRetry(ctx, model, contents, config)
	if err != nil {
		return nil, err
	}

	compResp, err := p.parseResponse(resp)
	if err != nil {
		return nil, err
	}

	return &StructuredResponse{
		Data:               json.RawMessage(compResp.Content),
		CompletionResponse: *compResp,
	}, nil
}

// generateWithRetry runs GenerateContent with exponential backoff and jitter
func (p *GeminiProvider) generateWithRetry(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	var resp *genai.GenerateContentResponse
	var err error

	for attempt := 0; attempt < geminiMaxRetries; attempt++ {
		if attempt > 0 {
			delay := calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return nil, p.wrapError(ctx.Err())
			case <-time.After(delay):
			}
		}

		resp, err = p.client.Models.GenerateContent(ctx, model, contents, config)
		if err == nil {
			return resp, nil
		}

		if !isRetryableGenAIError(err) {
			return nil, p.wrapError(err)
		}
	}

	return nil, p.wrapError(err)
}

// buildContents converts messages to Gen AI content format
func (p *GeminiProvider) buildContents(messages []Message) ([]*genai.Content, *genai.Content) {
	var systemInstruction *genai.Content
	contents := make([]*genai.Content, 0, len(messages))

	for _, m := range messages {
		if m.Role == "system" {
			systemInstruction = &genai.Content{
				Parts: []*genai.Part{{Text: m.Content}},
			}
			continue
		}

		role := m.Role
		if role == "assistant" {
			role = "model"
		}

		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}

	return contents, systemInstruction
}

// parseResponse parses the Gen AI response into CompletionResponse
func (p *GeminiProvider) parseResponse(resp *genai.GenerateContentResponse) (*CompletionResponse, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, NewProviderError("gemini", ErrorCodeUnknown, "no candidates in response", nil)
	}

	candidate := resp.Candidates[0]
	var content string

	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				content += part.Text
			}
		}
	}

	finishReason := string(candidate.FinishReason)
	switch finishReason {
	case "STOP", "":
		finishReason = "stop"
	case "SAFETY", "PROHIBITED_CONTENT", "BLOCKLIST":
		// Safety-stopped candidates carry no usable answer
		return nil, NewProviderError("gemini", ErrorCodeContentFiltered,
			"response blocked by safety filter ("+finishReason+")", nil)
	}

	var usage Usage
	if resp.UsageMetadata != nil {
		usage.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		usage.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		usage.TotalTokens = int(resp.UsageMetadata.TotalTokenCount)
	}

	return &CompletionResponse{
		Content:      content,
		FinishReason: finishReason,
		Usage:        usage,
		Raw:          resp,
	}, nil
}

// wrapError converts Gen AI errors to ProviderError
func (p *GeminiProvider) wrapError(err error) error {
	if err == nil {
		return nil
	}

	code := ErrorCodeUnknown
	errMsg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errMsg, "authentication") || strings.Contains(errMsg, "credential") || strings.Contains(errMsg, "api key") || strings.Contains(errMsg, "403") || strings.Contains(errMsg, "401"):
		code = ErrorCodeAuthentication
	case strings.Contains(errMsg, "rate limit") || strings.Contains(errMsg, "429") || strings.Contains(errMsg, "quota"):
		code = ErrorCodeRateLimit
	case strings.Contains(errMsg, "not found") || strings.Contains(errMsg, "404"):
		code = ErrorCodeModelNotFound
	case strings.Contains(errMsg, "invalid") || strings.Contains(errMsg, "400"):
		code = ErrorCodeInvalidRequest
	case strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline"):
		code = ErrorCodeTimeout
	case strings.Contains(errMsg, "500") || strings.Contains(errMsg, "503") || strings.Contains(errMsg, "server"):
		code = ErrorCodeServerError
	}

	return &ProviderError{
		Provider:      "gemini",
		Code:          code,
		Message:       err.Error(), // Keep original case for display
		IsRetryable:   code == ErrorCodeRateLimit || code == ErrorCodeServerError || code == ErrorCodeTimeout,
		OriginalError: err,
	}
}

// isRetryableGenAIError checks if a Gen AI error is retryable
func isRetryableGenAIError(err error) bool {
	if err == nil {
		return false
	}
	errMsg := strings.ToLower(err.Error())
	return strings.Contains(errMsg, "rate limit") ||
		strings.Contains(errMsg, "429") ||
		strings.Contains(errMsg, "500") ||
		strings.Contains(errMsg, "503") ||
		strings.Contains(errMsg, "unavailable")
}

// calculateBackoff returns the backoff duration with jitter for a given attempt
func calculateBackoff(attempt int) time.Duration {
	// Exponential backoff: 1s, 2s, 4s, 8s (capped at maxDelay)
	shift := attempt - 1
	if shift < 0 {
		shift = 0
	}
	if shift > 31 {
		shift = 31
	}
	delay := time.Duration(1<<uint(shift)) * geminiBaseDelay
	if delay > geminiMaxDelay {
		delay = geminiMaxDelay
	}
	// Add jitter: delay ± 30%
	jitter := time.Duration(float64(delay) * geminiJitterFactor * (cryptoRandFloat64()*2 - 1))
	return delay + jitter
}

// cryptoRandFloat64 returns a cryptographically secure random float64 in [0.0, 1.0)
func cryptoRandFloat64() float64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0.5
	}
	// Use top 53 bits to create a float64 in [0, 1)
	return float64(binary.BigEndian.Uint64(b[:])>>11) / (1 << 53)
}

// Close implements the Provider interface. The genai.Client manages its own
// HTTP resources, so this is a no-op.
func (p *GeminiProvider) Close() error {
	return nil
}
