// Package anyllm provides a universal [chat.Backend] backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and
// more.
//
// Usage:
//
//	b, err := anyllm.New("anthropic", "claude-3-5-sonnet-latest",
//		[]anyllmlib.Option{anyllmlib.WithAPIKey("sk-ant-...")})
//	b, err := anyllm.New("ollama", "llama3.1", nil)
package anyllm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/PAID-LLC/voice-talk-app/pkg/provider/chat"
)

// Backend implements chat.Backend by wrapping github.com/mozilla-ai/any-llm-go.
type Backend struct {
	backend      anyllmlib.Provider
	model        string
	systemPrompt string
}

// Option is a functional option for Backend.
type Option func(*Backend)

// WithSystemPrompt injects a system instruction before the conversation
// history on every request.
func WithSystemPrompt(prompt string) Option {
	return func(b *Backend) { b.systemPrompt = prompt }
}

// New creates a Backend for the given any-llm provider name and model.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama",
// "deepseek", "mistral", "groq". libOpts are any-llm-go options such as
// anyllmlib.WithAPIKey or anyllmlib.WithBaseURL; without an API key option
// the relevant environment variable is used.
func New(providerName, model string, libOpts []anyllmlib.Option, opts ...Option) (*Backend, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	inner, err := createBackend(providerName, libOpts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}

	b := &Backend{backend: inner, model: model}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// createBackend creates the underlying any-llm-go provider for the given name.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	default:
		return nil, fmt.Errorf("unknown provider %q", providerName)
	}
}

// Chat implements [chat.Backend].
func (b *Backend) Chat(ctx context.Context, text string, history []chat.Message) (string, bool) {
	var messages []anyllmlib.Message
	if b.systemPrompt != "" {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: b.systemPrompt,
		})
	}
	for _, m := range history {
		role := "user"
		if m.Role == chat.RoleAssistant {
			role = "assistant"
		}
		messages = append(messages, anyllmlib.Message{Role: role, Content: m.Content})
	}
	messages = append(messages, anyllmlib.Message{Role: "user", Content: text})

	resp, err := b.backend.Completion(ctx, anyllmlib.CompletionParams{
		Model:    b.model,
		Messages: messages,
	})
	if err != nil {
		slog.Warn("anyllm completion failed", "model", b.model, "error", err)
		return "", false
	}
	if len(resp.Choices) == 0 {
		slog.Warn("anyllm completion returned no choices", "model", b.model)
		return "", false
	}
	reply := resp.Choices[0].Message.ContentString()
	if reply == "" {
		return "", false
	}
	return reply, true
}
