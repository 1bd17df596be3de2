// Package coqui provides a [tts.Synthesizer] backed by a standard Coqui TTS
// server (ghcr.io/coqui-ai/tts-cpu) via its REST API. Synthesis is performed
// with GET /api/tts; the returned WAV payload is decoded to raw PCM and
// written to the configured [audio.Playback] device.
package coqui

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/PAID-LLC/voice-talk-app/pkg/audio"
	"github.com/PAID-LLC/voice-talk-app/pkg/provider/tts"
)

const (
	defaultTimeout = 30 * time.Second
	ttsEndpoint    = "/api/tts"

	// maxResponseBytes bounds how much synthesised audio is read from the
	// server, so a pathological response cannot exhaust memory.
	maxResponseBytes = 32 << 20
)

// Compile-time interface assertion.
var _ tts.Synthesizer = (*Synthesizer)(nil)

// Option is a functional option for configuring a Synthesizer.
type Option func(*Synthesizer)

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(s *Synthesizer) { s.httpClient.Timeout = d }
}

// WithLanguage sets the language id sent to multilingual models.
func WithLanguage(lang string) Option {
	return func(s *Synthesizer) { s.language = lang }
}

// Synthesizer implements tts.Synthesizer against a Coqui TTS server.
// It is safe for concurrent use; voice and rate changes apply to subsequent
// Speak calls.
type Synthesizer struct {
	baseURL    string
	httpClient *http.Client
	player     audio.Playback
	language   string

	mu    sync.RWMutex
	voice string
	rate  int
}

// New creates a Synthesizer targeting the Coqui server at baseURL
// (e.g. "http://localhost:5002"), playing output on player.
func New(baseURL string, player audio.Playback, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		player:     player,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Speak implements [tts.Synthesizer].
func (s *Synthesizer) Speak(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}

	s.mu.RLock()
	voice := s.voice
	s.mu.RUnlock()

	q := url.Values{}
	q.Set("text", text)
	if voice != "" {
		q.Set("speaker_id", voice)
	}
	if s.language != "" {
		q.Set("language_id", s.language)
	}

	reqURL := s.baseURL + ttsEndpoint + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("coqui: build request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("coqui: synthesis request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("coqui: server returned %d: %s", resp.StatusCode, body)
	}

	wav, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("coqui: read response: %w", err)
	}

	pcm, err := wavData(wav)
	if err != nil {
		return fmt.Errorf("coqui: decode wav: %w", err)
	}
	if err := s.player.Play(pcm); err != nil {
		return fmt.Errorf("coqui: playback: %w", err)
	}
	return nil
}

// SetRate implements [tts.Synthesizer]. The standard Coqui server has no rate
// parameter; the value is recorded for status reporting only.
func (s *Synthesizer) SetRate(wpm int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rate = wpm
}

// SetVoice implements [tts.Synthesizer].
func (s *Synthesizer) SetVoice(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voice = id
}

// wavData extracts the raw sample bytes from a RIFF/WAVE payload by walking
// its chunk list to the "data" chunk.
func wavData(wav []byte) ([]byte, error) {
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a RIFF/WAVE payload")
	}
	off := 12
	for off+8 <= len(wav) {
		id := string(wav[off : off+4])
		size := int(binary.LittleEndian.Uint32(wav[off+4 : off+8]))
		off += 8
		if off+size > len(wav) {
			return nil, fmt.Errorf("truncated %q chunk", id)
		}
		if id == "data" {
			return wav[off : off+size], nil
		}
		// Chunks are word-aligned.
		off += size + size%2
	}
	return nil, fmt.Errorf("no data chunk found")
}
