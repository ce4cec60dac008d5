package catset

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	defaultRetryBase  = time.Second
	classifyCachePref = "caption_cls"
)

// ClassifierOptions configures a TextClassifier.
type ClassifierOptions struct {
	Provider    string  // "openai" or "deepseek"
	Model       string  // e.g. "deepseek-chat"
	Temperature float64 // default 0.1 when zero
	Language    string  // caption language profile, see SystemPrompt

	APIKey     string
	BaseURL    string
	HTTPClient *http.Client

	MaxRetries int           // extra attempts on retryable failures (0 = none)
	RetryBase  time.Duration // fibonacci backoff base (default 1s)

	Cache Cache      // optional: dedupes identical captions
	Chat  ChatClient // optional: replaces the provider-built client
}

// TextClassifier asks a language model which cat a caption is about.
type TextClassifier struct {
	chat       ChatClient
	prompt     string
	language   string
	cache      Cache
	maxRetries int
	retryBase  time.Duration
}

// NewTextClassifier validates the provider selector and builds the client.
// Configuration problems are returned here, before any caption is sent.
func NewTextClassifier(opts ClassifierOptions) (*TextClassifier, error) {
	if opts.Temperature == 0 {
		opts.Temperature = 0.1
	}
	chat := opts.Chat
	if chat == nil {
		c, err := NewChatClient(ChatOptions{
			Provider:    opts.Provider,
			Model:       opts.Model,
			Temperature: opts.Temperature,
			APIKey:      opts.APIKey,
			BaseURL:     opts.BaseURL,
			HTTPClient:  opts.HTTPClient,
		})
		if err != nil {
			return nil, err
		}
		chat = c
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = defaultRetryBase
	}
	lang := NormalizeLanguage(opts.Language)
	slog.Info("catset: text classifier ready", "provider", opts.Provider, "model", opts.Model, "language", lang)

	return &TextClassifier{
		chat:       chat,
		prompt:     SystemPrompt(lang),
		language:   lang,
		cache:      opts.Cache,
		maxRetries: max(opts.MaxRetries, 0),
		retryBase:  opts.RetryBase,
	}, nil
}

// Language returns the normalized caption language profile.
func (c *TextClassifier) Language() string { return c.language }

// Classify returns the raw model answer for a caption.
func (c *TextClassifier) Classify(ctx context.Context, text string) (string, error) {
	if c.cache == nil {
		return c.doClassify(ctx, text)
	}

	key := c.cache.Key(classifyCachePref+":"+c.language, text)
	var cached string
	if c.cache.Get(ctx, key, &cached) {
		return cached, nil
	}
	answer, err := c.doClassify(ctx, text)
	if err != nil {
		return "", err
	}
	c.cache.Set(ctx, key, answer)
	return answer, nil
}

// ClassifyLabel classifies a caption and resolves the answer to a Label.
func (c *TextClassifier) ClassifyLabel(ctx context.Context, text string) (Label, string, error) {
	answer, err := c.Classify(ctx, text)
	if err != nil {
		return LabelOther, "", err
	}
	return ParseLabel(answer), answer, nil
}

func (c *TextClassifier) doClassify(ctx context.Context, text string) (string, error) {
	var answer string
	backoff := retry.WithMaxRetries(uint64(c.maxRetries), retry.NewFibonacci(c.retryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		out, err := c.chat.Complete(ctx, c.prompt, text)
		if err != nil {
			if isRetryable(err) {
				slog.Debug("catset: classification attempt failed", "error", err.Error())
				return retry.RetryableError(err)
			}
			return err
		}
		answer = out
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("classify caption: %w", err)
	}
	return answer, nil
}
