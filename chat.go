package catset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Supported classification providers.
const (
	ProviderOpenAI   = "openai"
	ProviderDeepSeek = "deepseek"
)

// DeepSeekBaseURL is the OpenAI-compatible DeepSeek endpoint.
const DeepSeekBaseURL = "https://api.deepseek.com"

var (
	// ErrUnknownProvider is returned for a provider selector other than openai or deepseek.
	ErrUnknownProvider = errors.New("catset: unknown llm provider")
	// ErrMissingCredentials is returned when a remote collaborator has no credentials.
	ErrMissingCredentials = errors.New("catset: missing credentials")
)

// ChatOptions configures an OpenAI-compatible chat backend.
type ChatOptions struct {
	Provider    string
	Model       string
	Temperature float64
	APIKey      string
	BaseURL     string       // optional override; deepseek defaults to DeepSeekBaseURL
	HTTPClient  *http.Client // optional
}

// OpenAIChat implements ChatClient on top of go-openai. DeepSeek is reached
// through the same client with a different base URL.
type OpenAIChat struct {
	api         *openai.Client
	model       string
	temperature float32
}

var _ ChatClient = (*OpenAIChat)(nil)

// NewChatClient builds the chat backend for a provider selector.
func NewChatClient(opts ChatOptions) (*OpenAIChat, error) {
	provider := strings.ToLower(strings.TrimSpace(opts.Provider))
	baseURL := opts.BaseURL
	switch provider {
	case ProviderOpenAI:
	case ProviderDeepSeek:
		if baseURL == "" {
			baseURL = DeepSeekBaseURL
		}
	default:
		return nil, fmt.Errorf("%w: %q (want openai or deepseek)", ErrUnknownProvider, opts.Provider)
	}
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%w: %s api key", ErrMissingCredentials, provider)
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("catset: %s model name is empty", provider)
	}

	cfg := openai.DefaultConfig(opts.APIKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	}

	return &OpenAIChat{
		api:         openai.NewClientWithConfig(cfg),
		model:       opts.Model,
		temperature: float32(opts.Temperature),
	}, nil
}

// Complete sends one system + user exchange and returns the first choice.
func (c *OpenAIChat) Complete(ctx context.Context, systemPrompt, userText string) (string, error) {
	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userText},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion: no choices in response")
	}

	slog.Debug("catset: chat completion",
		"model", c.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"total_tokens", resp.Usage.TotalTokens)
	return resp.Choices[0].Message.Content, nil
}

// isRetryable reports whether a chat error is worth another attempt:
// rate limiting, server-side failures and transport errors are; client
// errors such as a bad key are not.
func isRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return true
}
