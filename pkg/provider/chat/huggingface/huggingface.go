// Package huggingface provides a [chat.Backend] backed by the Hugging Face
// serverless inference API. The conversation history is flattened into a
// single labelled prompt, which keeps the adapter usable with plain
// text-generation models that have no chat template endpoint.
package huggingface

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PAID-LLC/voice-talk-app/pkg/provider/chat"
)

const (
	defaultBaseURL   = "https://api-inference.huggingface.co"
	defaultTimeout   = 30 * time.Second
	maxResponseBytes = 1 << 20
)

// Compile-time interface assertion.
var _ chat.Backend = (*Backend)(nil)

// Option is a functional option for configuring a Backend.
type Option func(*Backend)

// WithBaseURL overrides the inference API endpoint. Used by tests.
func WithBaseURL(u string) Option {
	return func(b *Backend) { b.baseURL = u }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(b *Backend) { b.httpClient.Timeout = d }
}

// WithMaxNewTokens caps the generated completion length.
func WithMaxNewTokens(n int) Option {
	return func(b *Backend) { b.maxNewTokens = n }
}

// Backend implements chat.Backend against the Hugging Face inference API.
type Backend struct {
	apiKey       string
	model        string
	baseURL      string
	httpClient   *http.Client
	maxNewTokens int
}

// generateRequest is the JSON body for POST /models/{model}.
type generateRequest struct {
	Inputs     string             `json:"inputs"`
	Parameters generateParameters `json:"parameters"`
}

type generateParameters struct {
	MaxNewTokens   int  `json:"max_new_tokens,omitempty"`
	ReturnFullText bool `json:"return_full_text"`
}

// generateResponse is one element of the JSON array the API returns.
type generateResponse struct {
	GeneratedText string `json:"generated_text"`
}

// New creates a Backend for the given model id (e.g.
// "mistralai/Mistral-7B-Instruct-v0.3"). apiKey may be empty for public
// models, at the cost of aggressive rate limiting.
func New(apiKey, model string, opts ...Option) (*Backend, error) {
	if model == "" {
		return nil, fmt.Errorf("huggingface: model must not be empty")
	}
	b := &Backend{
		apiKey:     apiKey,
		model:      model,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// Chat implements [chat.Backend].
func (b *Backend) Chat(ctx context.Context, text string, history []chat.Message) (string, bool) {
	payload, err := json.Marshal(generateRequest{
		Inputs: buildPrompt(text, history),
		Parameters: generateParameters{
			MaxNewTokens:   b.maxNewTokens,
			ReturnFullText: false,
		},
	})
	if err != nil {
		slog.Warn("huggingface encode request failed", "error", err)
		return "", false
	}

	reqURL := b.baseURL + "/models/" + b.model
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(payload))
	if err != nil {
		slog.Warn("huggingface build request failed", "error", err)
		return "", false
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		slog.Warn("huggingface request failed", "model", b.model, "error", err)
		return "", false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		slog.Warn("huggingface returned non-200",
			"model", b.model, "status", resp.StatusCode, "body", string(msg))
		return "", false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		slog.Warn("huggingface read response failed", "error", err)
		return "", false
	}

	var results []generateResponse
	if err := json.Unmarshal(body, &results); err != nil || len(results) == 0 {
		slog.Warn("huggingface unparseable response", "model", b.model, "error", err)
		return "", false
	}

	reply := strings.TrimSpace(results[0].GeneratedText)
	if reply == "" {
		return "", false
	}
	return reply, true
}

// buildPrompt flattens the history plus the new user text into a labelled
// transcript ending with an open assistant turn.
func buildPrompt(text string, history []chat.Message) string {
	var sb strings.Builder
	for _, m := range history {
		switch m.Role {
		case chat.RoleAssistant:
			sb.WriteString("Assistant: ")
		default:
			sb.WriteString("User: ")
		}
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	sb.WriteString("User: ")
	sb.WriteString(text)
	sb.WriteString("\nAssistant:")
	return sb.String()
}
