package summarizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Placeholder replaces the short description when summarization fails.
const Placeholder = "Description unavailable"

const (
	systemPrompt = "You are a helpful assistant that summarizes text."
	userPrompt   = "Shorten the following paragraph into a short 12 word or so sentence summary: %s"
)

var ErrSummarization = errors.New("summarization failed")

type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// Client is the part of the OpenAI client the summarizer needs.
type Client interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type Config struct {
	Enabled   bool          `yaml:"enabled"`
	BaseURL   string        `yaml:"baseUrl"`
	Model     string        `yaml:"model"`
	APIKeyEnv string        `yaml:"apiKeyEnv"`
	Timeout   time.Duration `yaml:"timeout"`
}

// New returns the summarizer described by cfg. A disabled config yields a
// summarizer that always fails, so callers fall back to Placeholder.
func New(cfg Config) (Summarizer, error) {
	if !cfg.Enabled {
		return Disabled{}, nil
	}
	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("summarizer enabled but environment variable %s is empty", cfg.APIKeyEnv)
	}
	clientConfig := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return NewOpenAI(openai.NewClientWithConfig(clientConfig), cfg.Model, cfg.Timeout), nil
}

type OpenAI struct {
	client  Client
	model   string
	timeout time.Duration
}

func NewOpenAI(client Client, model string, timeout time.Duration) *OpenAI {
	return &OpenAI{client: client, model: model, timeout: timeout}
}

func (s *OpenAI) Summarize(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: empty text", ErrSummarization)
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(userPrompt, text)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSummarization, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", ErrSummarization)
	}
	summary := strings.TrimSpace(resp.Choices[0].Message.Content)
	if summary == "" {
		return "", fmt.Errorf("%w: empty completion", ErrSummarization)
	}
	slog.Debug("summary generated", "model", s.model, "length", len(summary))
	return summary, nil
}

type Disabled struct{}

func (Disabled) Summarize(context.Context, string) (string, error) {
	return "", fmt.Errorf("%w: summarizer disabled", ErrSummarization)
}

// SummarizeOrPlaceholder never fails: any error is logged and Placeholder is
// returned instead.
func SummarizeOrPlaceholder(ctx context.Context, s Summarizer, text string) string {
	summary, err := s.Summarize(ctx, text)
	if err != nil {
		slog.Error("failed to generate short description", "error", err)
		return Placeholder
	}
	return summary
}
