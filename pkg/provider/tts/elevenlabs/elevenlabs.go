// Package elevenlabs provides a [tts.Synthesizer] backed by the ElevenLabs
// HTTP API. Synthesis requests ask for raw 16-bit PCM output so the payload
// can be written straight to the playback device without decoding.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/PAID-LLC/voice-talk-app/pkg/audio"
	"github.com/PAID-LLC/voice-talk-app/pkg/provider/tts"
)

const (
	defaultBaseURL = "https://api.elevenlabs.io"
	defaultModel   = "eleven_turbo_v2_5"
	defaultVoiceID = "21m00Tcm4TlvDq8ikWAM" // "Rachel", the API's stock default

	// outputFormat requests raw 16 kHz mono PCM, matching the pipeline rate.
	outputFormat = "pcm_16000"

	defaultTimeout   = 30 * time.Second
	maxResponseBytes = 32 << 20
)

// Compile-time interface assertion.
var _ tts.Synthesizer = (*Synthesizer)(nil)

// Option is a functional option for configuring a Synthesizer.
type Option func(*Synthesizer)

// WithBaseURL overrides the ElevenLabs API endpoint. Used by tests.
func WithBaseURL(u string) Option {
	return func(s *Synthesizer) { s.baseURL = u }
}

// WithModel selects the synthesis model (e.g. "eleven_multilingual_v2").
func WithModel(model string) Option {
	return func(s *Synthesizer) { s.model = model }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(s *Synthesizer) { s.httpClient.Timeout = d }
}

// Synthesizer implements tts.Synthesizer using the ElevenLabs API.
type Synthesizer struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	player     audio.Playback

	mu    sync.RWMutex
	voice string
	rate  int
}

// synthesisRequest is the JSON body for POST /v1/text-to-speech/{voice}.
type synthesisRequest struct {
	Text          string         `json:"text"`
	ModelID       string         `json:"model_id"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

// voiceSettings carries the subset of ElevenLabs voice tuning we expose.
// Speed 1.0 is the API default; the valid range is [0.7, 1.2].
type voiceSettings struct {
	Speed float64 `json:"speed"`
}

// New creates a Synthesizer playing output on player. apiKey must be
// non-empty.
func New(apiKey string, player audio.Playback, opts ...Option) (*Synthesizer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("elevenlabs: apiKey must not be empty")
	}
	s := &Synthesizer{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		model:      defaultModel,
		httpClient: &http.Client{Timeout: defaultTimeout},
		player:     player,
		voice:      defaultVoiceID,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Speak implements [tts.Synthesizer].
func (s *Synthesizer) Speak(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}

	s.mu.RLock()
	voice := s.voice
	rate := s.rate
	s.mu.RUnlock()

	body := synthesisRequest{Text: text, ModelID: s.model}
	if rate > 0 {
		body.VoiceSettings = &voiceSettings{Speed: speedFactor(rate)}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("elevenlabs: encode request: %w", err)
	}

	reqURL := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=%s",
		s.baseURL, voice, outputFormat)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("elevenlabs: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("elevenlabs: synthesis request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("elevenlabs: server returned %d: %s", resp.StatusCode, msg)
	}

	pcm, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("elevenlabs: read response: %w", err)
	}
	if err := s.player.Play(pcm); err != nil {
		return fmt.Errorf("elevenlabs: playback: %w", err)
	}
	return nil
}

// SetRate implements [tts.Synthesizer].
func (s *Synthesizer) SetRate(wpm int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rate = wpm
}

// SetVoice implements [tts.Synthesizer].
func (s *Synthesizer) SetVoice(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != "" {
		s.voice = id
	}
}

// speedFactor maps a words-per-minute rate onto the ElevenLabs speed range
// [0.7, 1.2], treating 150 wpm as the neutral 1.0.
func speedFactor(wpm int) float64 {
	f := float64(wpm) / 150.0
	if f < 0.7 {
		return 0.7
	}
	if f > 1.2 {
		return 1.2
	}
	return f
}
