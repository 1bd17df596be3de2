// Package whisper provides an [stt.Recognizer] backed by the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH.
//
// whisper.cpp is a batch engine, not a streaming one, so the recognizer
// buffers incoming frames and runs inference at utterance boundaries detected
// by a simple RMS silence heuristic: a window of speech followed by
// silenceThresholdMs of silence is transcribed and committed as the final
// result, while an over-long speech buffer is transcribed early and surfaced
// as a partial hypothesis.
package whisper

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/PAID-LLC/voice-talk-app/pkg/provider/stt"
)

const (
	defaultLanguage            = "en"
	defaultSampleRate          = 16000
	defaultSilenceThresholdMs  = 700
	defaultMaxBufferDurationMs = 10_000

	// rmsThreshold is the normalised RMS level below which a frame counts as
	// silence. Tuned for typical close-mic capture.
	rmsThreshold = 0.012
)

// Compile-time assertion that Recognizer satisfies stt.Recognizer.
var _ stt.Recognizer = (*Recognizer)(nil)

// Option is a functional option for configuring a Recognizer.
type Option func(*Recognizer)

// WithLanguage sets the BCP-47 language code for transcription (e.g. "en",
// "de"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(r *Recognizer) { r.language = lang }
}

// WithSampleRate sets the PCM sample rate in Hz of frames delivered via
// AcceptFrame. Defaults to 16000, whisper's native rate.
func WithSampleRate(rate int) Option {
	return func(r *Recognizer) { r.sampleRate = rate }
}

// WithSilenceThreshold sets how many milliseconds of trailing silence end an
// utterance. Defaults to 700 ms.
func WithSilenceThreshold(ms int) Option {
	return func(r *Recognizer) { r.silenceThresholdMs = ms }
}

// WithMaxBufferDuration caps how much speech is buffered before an early
// partial inference runs. Defaults to 10 s.
func WithMaxBufferDuration(ms int) Option {
	return func(r *Recognizer) { r.maxBufferDurationMs = ms }
}

// Recognizer implements stt.Recognizer using a locally loaded whisper.cpp
// model. The model is loaded once in New and shared across sessions; each
// inference uses a fresh whisper context because contexts are not thread-safe.
type Recognizer struct {
	model    whisperlib.Model
	language string

	sampleRate          int
	silenceThresholdMs  int
	maxBufferDurationMs int

	mu        sync.Mutex
	buffer    []byte
	hadSpeech bool
	silenceMs int
	partial   string
	final     string
	closed    bool
}

// New loads the whisper model at modelPath and returns a ready Recognizer.
// Loading is expensive (hundreds of MB for larger models); create one
// Recognizer per process and reuse it across capture sessions.
func New(modelPath string, opts ...Option) (*Recognizer, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	r := &Recognizer{
		model:               model,
		language:            defaultLanguage,
		sampleRate:          defaultSampleRate,
		silenceThresholdMs:  defaultSilenceThresholdMs,
		maxBufferDurationMs: defaultMaxBufferDurationMs,
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// AcceptFrame implements [stt.Recognizer]. Inference runs inline at utterance
// boundaries, so individual calls may block for the duration of a whisper
// pass.
func (r *Recognizer) AcceptFrame(data []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || len(data) == 0 {
		return false
	}

	frameMs := len(data) / 2 * 1000 / r.sampleRate
	if rms(data) < rmsThreshold {
		if !r.hadSpeech {
			return false
		}
		r.buffer = append(r.buffer, data...)
		r.silenceMs += frameMs
		if r.silenceMs >= r.silenceThresholdMs {
			r.flushLocked(true)
			return r.final != ""
		}
		return false
	}

	r.hadSpeech = true
	r.silenceMs = 0
	r.buffer = append(r.buffer, data...)

	maxBytes := r.maxBufferDurationMs * r.sampleRate / 1000 * 2
	if len(r.buffer) >= maxBytes {
		r.flushLocked(false)
	}
	return false
}

// flushLocked runs inference on the buffered speech. When final is true the
// result is committed; otherwise it extends the partial hypothesis.
// Must be called with r.mu held.
func (r *Recognizer) flushLocked(final bool) {
	pcm := r.buffer
	r.buffer = nil
	r.hadSpeech = false
	r.silenceMs = 0

	if len(pcm) == 0 {
		return
	}

	text, err := r.infer(pcm)
	if err != nil {
		slog.Error("whisper inference failed", "error", err)
		return
	}
	if text == "" {
		return
	}

	if r.partial != "" {
		text = r.partial + " " + text
	}
	r.partial = text
	if final {
		r.final = text
	}
}

// infer converts pcm to float32 mono and runs a whisper pass over it.
func (r *Recognizer) infer(pcm []byte) (string, error) {
	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
	}

	wctx, err := r.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(r.language); err != nil {
		slog.Warn("whisper: failed to set language, using default",
			"language", r.language, "error", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		parts = append(parts, strings.TrimSpace(segment.Text))
	}
	return strings.TrimSpace(strings.Join(parts, " ")), nil
}

// PartialText implements [stt.Recognizer].
func (r *Recognizer) PartialText() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.partial
}

// FinalText implements [stt.Recognizer].
func (r *Recognizer) FinalText() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.final
}

// IsReady implements [stt.Recognizer].
func (r *Recognizer) IsReady() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.closed && r.model != nil
}

// Reset implements [stt.Recognizer].
func (r *Recognizer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buffer = nil
	r.hadSpeech = false
	r.silenceMs = 0
	r.partial = ""
	r.final = ""
}

// Close releases the whisper model. The Recognizer is unusable afterwards.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.model.Close()
}

// rms computes the normalised root-mean-square level of 16-bit PCM data.
func rms(pcm []byte) float64 {
	if len(pcm) < 2 {
		return 0
	}
	var sum float64
	n := len(pcm) / 2
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}
