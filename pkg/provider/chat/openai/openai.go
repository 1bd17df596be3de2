// Package openai provides a [chat.Backend] backed by the OpenAI API.
package openai

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/PAID-LLC/voice-talk-app/pkg/provider/chat"
)

// Backend implements chat.Backend using the OpenAI chat completions API.
type Backend struct {
	client       oai.Client
	model        string
	systemPrompt string
	maxTokens    int
}

// config holds optional configuration for the backend.
type config struct {
	baseURL      string
	timeout      time.Duration
	systemPrompt string
	maxTokens    int
}

// Option is a functional option for Backend.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Useful for
// OpenAI-compatible local servers.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithSystemPrompt injects a system instruction before the conversation
// history on every request.
func WithSystemPrompt(prompt string) Option {
	return func(c *config) { c.systemPrompt = prompt }
}

// WithMaxTokens caps the completion length. Zero means the model default.
func WithMaxTokens(n int) Option {
	return func(c *config) { c.maxTokens = n }
}

// New constructs a new OpenAI chat Backend.
func New(apiKey, model string, opts ...Option) (*Backend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Backend{
		client:       oai.NewClient(reqOpts...),
		model:        model,
		systemPrompt: cfg.systemPrompt,
		maxTokens:    cfg.maxTokens,
	}, nil
}

// Chat implements [chat.Backend].
func (b *Backend) Chat(ctx context.Context, text string, history []chat.Message) (string, bool) {
	var messages []oai.ChatCompletionMessageParamUnion
	if b.systemPrompt != "" {
		messages = append(messages, oai.SystemMessage(b.systemPrompt))
	}
	for _, m := range history {
		switch m.Role {
		case chat.RoleAssistant:
			messages = append(messages, oai.AssistantMessage(m.Content))
		default:
			messages = append(messages, oai.UserMessage(m.Content))
		}
	}
	messages = append(messages, oai.UserMessage(text))

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(b.model),
		Messages: messages,
	}
	if b.maxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(b.maxTokens))
	}

	resp, err := b.client.Chat.Completions.New(ctx, params)
	if err != nil {
		slog.Warn("openai chat completion failed", "model", b.model, "error", err)
		return "", false
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		slog.Warn("openai chat completion returned no content", "model", b.model)
		return "", false
	}
	return resp.Choices[0].Message.Content, true
}
