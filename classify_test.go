package catset

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// fakeChat replays scripted answers and records every prompt it receives.
type fakeChat struct {
	answers []string
	errs    []error
	calls   int
	prompts []string
	texts   []string
}

func (f *fakeChat) Complete(_ context.Context, systemPrompt, userText string) (string, error) {
	i := f.calls
	f.calls++
	f.prompts = append(f.prompts, systemPrompt)
	f.texts = append(f.texts, userText)
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i < len(f.answers) {
		return f.answers[i], nil
	}
	if len(f.answers) > 0 {
		return f.answers[len(f.answers)-1], nil
	}
	return "", nil
}

func TestNewTextClassifierConfigErrors(t *testing.T) {
	t.Parallel()

	_, err := NewTextClassifier(ClassifierOptions{Provider: "anthropic", Model: "m", APIKey: "k"})
	if !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("unknown provider: err = %v, want ErrUnknownProvider", err)
	}

	_, err = NewTextClassifier(ClassifierOptions{Provider: "deepseek", Model: "deepseek-chat"})
	if !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("missing key: err = %v, want ErrMissingCredentials", err)
	}

	if _, err := NewTextClassifier(ClassifierOptions{Provider: "OpenAI", Model: "gpt-4o-mini", APIKey: "k"}); err != nil {
		t.Errorf("valid options: unexpected error %v", err)
	}
}

func TestClassifyUsesLanguagePrompt(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{answers: []string{"FEMALE CAT"}}
	c, err := NewTextClassifier(ClassifierOptions{Language: "english", Chat: chat})
	if err != nil {
		t.Fatal(err)
	}

	label, raw, err := c.ClassifyLabel(context.Background(), "She is the queen of the house")
	if err != nil {
		t.Fatal(err)
	}
	if label != LabelFemale || raw != "FEMALE CAT" {
		t.Errorf("ClassifyLabel = (%v, %q), want (FEMALE, %q)", label, raw, "FEMALE CAT")
	}
	if chat.prompts[0] != EnglishPrompt {
		t.Error("expected the English system prompt")
	}
	if c.Language() != LanguageEnglish {
		t.Errorf("Language() = %q, want en", c.Language())
	}
}

func TestClassifyCacheDedupesCaptions(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{answers: []string{"MALE CAT"}}
	c, err := NewTextClassifier(ClassifierOptions{Chat: chat, Cache: NewMemoryCache(0)})
	if err != nil {
		t.Fatal(err)
	}

	for range 3 {
		got, err := c.Classify(context.Background(), "Рыжик спит")
		if err != nil {
			t.Fatal(err)
		}
		if got != "MALE CAT" {
			t.Errorf("Classify = %q, want MALE CAT", got)
		}
	}
	if chat.calls != 1 {
		t.Errorf("chat calls = %d, want 1", chat.calls)
	}
}

func TestClassifyRetriesTransientErrors(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{
		errs:    []error{errors.New("connection reset by peer"), nil},
		answers: []string{"", "OTHER"},
	}
	c, err := NewTextClassifier(ClassifierOptions{Chat: chat, MaxRetries: 2, RetryBase: time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}

	got, err := c.Classify(context.Background(), "котята")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "OTHER" || chat.calls != 2 {
		t.Errorf("Classify = %q after %d calls, want OTHER after 2", got, chat.calls)
	}
}

func TestClassifyDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{errs: []error{&openai.APIError{HTTPStatusCode: http.StatusUnauthorized, Message: "bad key"}}}
	c, err := NewTextClassifier(ClassifierOptions{Chat: chat, MaxRetries: 3, RetryBase: time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := c.Classify(context.Background(), "text"); err == nil {
		t.Fatal("expected error")
	}
	if chat.calls != 1 {
		t.Errorf("chat calls = %d, want 1", chat.calls)
	}
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"rate limited", &openai.APIError{HTTPStatusCode: 429}, true},
		{"server error", &openai.APIError{HTTPStatusCode: 503}, true},
		{"bad request", &openai.APIError{HTTPStatusCode: 400}, false},
		{"request error 502", &openai.RequestError{HTTPStatusCode: 502}, true},
		{"transport", errors.New("EOF"), true},
	}
	for _, tc := range tests {
		if got := isRetryable(tc.err); got != tc.want {
			t.Errorf("isRetryable(%s) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestOpenAIChatComplete(t *testing.T) {
	t.Parallel()

	var gotReq openai.ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","created":1,"model":"deepseek-chat",
			"choices":[{"index":0,"message":{"role":"assistant","content":"MALE CAT"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":10,"completion_tokens":2,"total_tokens":12}}`))
	}))
	defer srv.Close()

	chat, err := NewChatClient(ChatOptions{
		Provider:    ProviderDeepSeek,
		Model:       "deepseek-chat",
		Temperature: 0.1,
		APIKey:      "k",
		BaseURL:     srv.URL + "/v1",
		HTTPClient:  srv.Client(),
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := chat.Complete(context.Background(), RussianPrompt, "Это наш кот Барсик")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "MALE CAT" {
		t.Errorf("Complete = %q, want MALE CAT", got)
	}
	if gotReq.Model != "deepseek-chat" || len(gotReq.Messages) != 2 {
		t.Fatalf("request = %+v", gotReq)
	}
	if gotReq.Messages[0].Role != openai.ChatMessageRoleSystem || gotReq.Messages[1].Content != "Это наш кот Барсик" {
		t.Errorf("messages = %+v", gotReq.Messages)
	}
}
