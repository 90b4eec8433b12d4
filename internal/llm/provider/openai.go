package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	openaiDefaultModel = "gpt-4o-mini"
	openaiMaxRetries   = 3
)

func init() {
	RegisterFactory("openai", func(config map[string]any) (Provider, error) {
		apiKey := ""
		if key, ok := config["api_key"].(string); ok {
			apiKey = key
		}
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY not set")
		}

		baseURL := ""
		if url, ok := config["base_url"].(string); ok {
			baseURL = url
		}

		return NewOpenAIProvider(apiKey, baseURL), nil
	})
}

// OpenAIProvider implements Provider for the OpenAI API
type OpenAIProvider struct {
	client *openai.Client
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(apiKey, baseURL string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: 120 * time.Second}

	return &OpenAIProvider{client: openai.NewClientWithConfig(cfg)}
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// CreateCompletion creates a completion
func (p *OpenAIProvider) CreateCompletion(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	resp, err := p.chatWithRetry(ctx, p.buildRequest(req, false))
	if err != nil {
		return nil, err
	}

	return p.parseResponse(resp)
}

// CreateStructured creates a structured response using JSON response mode
func (p *OpenAIProvider) CreateStructured(ctx context.Context, req StructuredRequest) (*StructuredResponse, error) {
	chatReq := p.buildRequest(req.CompletionRequest, true)

	// JSON mode requires the word "json" somewhere in the prompt; the schema
	// doubles as the instruction
	if len(req.ResponseSchema) > 0 {
		chatReq.Messages = append(chatReq.Messages, openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleSystem,
			Content: "Respond with a single JSON object matching this JSON Schema:\n" +
				string(req.ResponseSchema),
		})
	}

	resp, err := p.chatWithRetry(ctx, chatReq)
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

func (p *OpenAIProvider) buildRequest(req CompletionRequest, jsonMode bool) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = openaiDefaultModel
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	}

	if jsonMode {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	return chatReq
}

func (p *OpenAIProvider) chatWithRetry(ctx context.Context, chatReq openai.ChatCompletionRequest) (*openai.ChatCompletionResponse, error) {
	var lastErr error

	for attempt := 0; attempt < openaiMaxRetries; attempt++ {
		if attempt > 0 {
			delay := calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return nil, p.wrapError(ctx.Err())
			case <-time.After(delay):
			}
		}

		resp, err := p.client.CreateChatCompletion(ctx, chatReq)
		if err == nil {
			return &resp, nil
		}

		wrapped := p.wrapError(err)
		var pe *ProviderError
		if errors.As(wrapped, &pe) && !pe.IsRetryable {
			return nil, wrapped
		}
		lastErr = wrapped
	}

	return nil, lastErr
}

func (p *OpenAIProvider) parseResponse(resp *openai.ChatCompletionResponse) (*CompletionResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, NewProviderError("openai", ErrorCodeUnknown, "no choices in response", nil)
	}

	choice := resp.Choices[0]

	finishReason := string(choice.FinishReason)
	if finishReason == string(openai.FinishReasonContentFilter) {
		return nil, NewProviderError("openai", ErrorCodeContentFiltered,
			"response blocked by content filter", nil)
	}
	if finishReason == "" {
		finishReason = "stop"
	}

	return &CompletionResponse{
		Content:      choice.Message.Content,
		FinishReason: finishReason,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		Raw: resp,
	}, nil
}

// wrapError converts OpenAI client errors to ProviderError
func (p *OpenAIProvider) wrapError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := ErrorCodeUnknown
		switch apiErr.HTTPStatusCode {
		case 401, 403:
			code = ErrorCodeAuthentication
		case 429:
			code = ErrorCodeRateLimit
		case 400:
			code = ErrorCodeInvalidRequest
		case 404:
			code = ErrorCodeModelNotFound
		default:
			if apiErr.HTTPStatusCode >= 500 {
				code = ErrorCodeServerError
			}
		}
		return &ProviderError{
			Provider:      "openai",
			Code:          code,
			Message:       apiErr.Message,
			Type:          apiErr.Type,
			StatusCode:    apiErr.HTTPStatusCode,
			IsRetryable:   code == ErrorCodeRateLimit || code == ErrorCodeServerError,
			OriginalError: err,
		}
	}

	code := ErrorCodeUnknown
	errMsg := strings.ToLower(err.Error())
	if strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline") {
		code = ErrorCodeTimeout
	}

	return NewProviderError("openai", code, err.Error(), err)
}

// Close implements the Provider interface; the client holds no resources
// beyond its HTTP transport.
func (p *OpenAIProvider) Close() error {
	return nil
}
