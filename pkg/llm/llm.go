// Package llm talks to OpenAI-compatible chat completion providers
// (deepseek, siliconflow, kimi, doubao).
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/xuai/navigator/pkg/config"
)

// ErrEmptyResponse is returned when the provider answers without content.
var ErrEmptyResponse = errors.New("provider returned no choices")

// Response a single completion
type Response struct {
	Content     string
	Provider    string
	Model       string
	TotalTokens int64
}

// Provider sends one prompt and returns the completion text.
type Provider interface {
	Name() string
	Chat(ctx context.Context, prompt string) (*Response, error)
}

// ChatProvider is a Provider over the openai-go client.
type ChatProvider struct {
	name        string
	model       string
	temperature float64
	maxTokens   int
	client      openai.Client
	logger      *slog.Logger
}

// NewChatProvider builds a provider from resolved settings.
func NewChatProvider(p config.ResolvedProvider, timeout time.Duration, logger *slog.Logger) (*ChatProvider, error) {
	if p.APIKey == "" {
		return nil, fmt.Errorf("%s: api key is empty", p.Name)
	}
	if p.BaseURL == "" {
		return nil, fmt.Errorf("%s: base url is empty", p.Name)
	}
	if logger == nil {
		logger = slog.Default()
	}

	baseURL := p.BaseURL
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	opts := []option.RequestOption{
		option.WithAPIKey(p.APIKey),
		option.WithBaseURL(baseURL),
		option.WithMaxRetries(1),
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}

	return &ChatProvider{
		name:        p.Name,
		model:       p.Model,
		temperature: p.Temperature,
		maxTokens:   p.MaxTokens,
		client:      openai.NewClient(opts...),
		logger:      logger.With("provider", p.Name),
	}, nil
}

func (p *ChatProvider) Name() string {
	return p.name
}

// Chat sends prompt as a single user message.
func (p *ChatProvider) Chat(ctx context.Context, prompt string) (*Response, error) {
	p.logger.Info("chat request", "model", p.model, "prompt_len", len(prompt))

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	}
	if p.temperature > 0 {
		params.Temperature = openai.Float(p.temperature)
	}
	if p.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(p.maxTokens))
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%s chat completion: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s: %w", p.name, ErrEmptyResponse)
	}

	model := resp.Model
	if model == "" {
		model = p.model
	}
	return &Response{
		Content:     resp.Choices[0].Message.Content,
		Provider:    p.name,
		Model:       model,
		TotalTokens: resp.Usage.TotalTokens,
	}, nil
}

// NewProviders builds a provider for every resolved entry, skipping and
// logging the ones that cannot be built.
func NewProviders(resolved []config.ResolvedProvider, timeout time.Duration, logger *slog.Logger) []Provider {
	if logger == nil {
		logger = slog.Default()
	}
	out := make([]Provider, 0, len(resolved))
	for _, r := range resolved {
		p, err := NewChatProvider(r, timeout, logger)
		if err != nil {
			logger.Warn("skipping provider", "provider", r.Name, "error", err)
			continue
		}
		out = append(out, p)
	}
	return out
}
