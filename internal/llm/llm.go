// Package llm generates answers from retrieved context with a chat model.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

var (
	// ErrUnavailable is returned when no model can be called (missing key, API error).
	ErrUnavailable = errors.New("llm service unavailable")
	// ErrQuotaExceeded is returned when the provider rejects the request for rate or quota reasons.
	ErrQuotaExceeded = errors.New("llm quota exceeded")
)

// Temperature used for answer generation.
const Temperature = 0.2

// Answerer answers a question from retrieved passages.
type Answerer interface {
	Answer(ctx context.Context, question, passages string) (string, error)
}

// Prompt builds the user message sent to the model.
func Prompt(question, passages string) string {
	var b strings.Builder
	b.WriteString("You are a helpful AI assistant.\n")
	b.WriteString("Answer the question using the context below.\n\n")
	b.WriteString("Context:\n")
	b.WriteString(passages)
	b.WriteString("\n\nQuestion:\n")
	b.WriteString(question)
	b.WriteString("\n")
	return b.String()
}

// OpenAIAnswerer uses the OpenAI chat completions API.
type OpenAIAnswerer struct {
	client *openai.Client
	model  string
}

// NewOpenAIAnswerer creates an answerer. An empty baseURL uses the public API.
// Returns ErrUnavailable when apiKey is empty.
func NewOpenAIAnswerer(apiKey, baseURL, model string) (*OpenAIAnswerer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: OPENAI_API_KEY not set", ErrUnavailable)
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIAnswerer{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

// Answer sends the prompt and returns the first choice.
func (a *OpenAIAnswerer) Answer(ctx context.Context, question, passages string) (string, error) {
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: Prompt(question, passages)},
		},
		Temperature: Temperature,
	})
	if err != nil {
		if isRateLimited(err) {
			return "", fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", ErrUnavailable)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func isRateLimited(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	return false
}

// StaticAnswerer returns the retrieved passages themselves, for offline use.
type StaticAnswerer struct {
	// MaxChars truncates the returned text when positive.
	MaxChars int
}

// Answer returns the passages, truncated to MaxChars runes.
func (s StaticAnswerer) Answer(ctx context.Context, question, passages string) (string, error) {
	r := []rune(strings.TrimSpace(passages))
	if s.MaxChars > 0 && len(r) > s.MaxChars {
		return string(r[:s.MaxChars]) + "...", nil
	}
	return string(r), nil
}
