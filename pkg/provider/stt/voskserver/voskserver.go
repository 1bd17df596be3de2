// Package voskserver provides an [stt.Recognizer] backed by a running
// vosk-server instance over its WebSocket streaming protocol.
//
// The protocol is plain: the client sends an initial JSON configuration
// message ({"config": {"sample_rate": N}}), then streams raw binary PCM.
// The server answers every chunk with either an interim hypothesis
// ({"partial": "..."}) or a committed result ({"text": "..."}) once it
// detects the end of an utterance.
package voskserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/PAID-LLC/voice-talk-app/pkg/provider/stt"
)

const (
	defaultSampleRate  = 16000
	defaultDialTimeout = 10 * time.Second

	// audioChanBuf is the depth of the outbound audio queue. Frames beyond it
	// are dropped rather than blocking the capture loop.
	audioChanBuf = 64
)

// Compile-time assertion that Recognizer satisfies stt.Recognizer.
var _ stt.Recognizer = (*Recognizer)(nil)

// Option is a functional option for configuring a Recognizer.
type Option func(*Recognizer)

// WithSampleRate sets the PCM sample rate announced to the server.
// Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(r *Recognizer) { r.sampleRate = rate }
}

// WithDialTimeout bounds the initial WebSocket connection attempt.
// Defaults to 10 s.
func WithDialTimeout(d time.Duration) Option {
	return func(r *Recognizer) { r.dialTimeout = d }
}

// Recognizer implements stt.Recognizer against a vosk-server WebSocket
// endpoint. A failed connection leaves the recognizer not ready; capture
// sessions then degrade to silent recording instead of failing mid-stream.
type Recognizer struct {
	url         string
	sampleRate  int
	dialTimeout time.Duration

	mu      sync.Mutex
	conn    *websocket.Conn
	audio   chan []byte
	done    chan struct{}
	wg      sync.WaitGroup
	ready   bool
	partial string
	final   string
}

// serverResult is the JSON structure vosk-server sends back per audio chunk.
type serverResult struct {
	Partial string `json:"partial"`
	Text    string `json:"text"`
}

// New connects to the vosk-server at url (e.g. "ws://localhost:2700").
// A connection failure is returned but the Recognizer value is still usable:
// it simply reports not ready until [Recognizer.Reconnect] succeeds.
func New(ctx context.Context, url string, opts ...Option) (*Recognizer, error) {
	if url == "" {
		return nil, fmt.Errorf("voskserver: url must not be empty")
	}
	r := &Recognizer{
		url:         url,
		sampleRate:  defaultSampleRate,
		dialTimeout: defaultDialTimeout,
	}
	for _, o := range opts {
		o(r)
	}

	if err := r.Reconnect(ctx); err != nil {
		return r, fmt.Errorf("voskserver: initial connect: %w", err)
	}
	return r, nil
}

// Reconnect (re)establishes the WebSocket session and sends the configuration
// handshake. Any previous session is torn down first.
func (r *Recognizer) Reconnect(ctx context.Context) error {
	r.teardown()

	dialCtx, cancel := context.WithTimeout(ctx, r.dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, r.url, nil)
	if err != nil {
		return fmt.Errorf("voskserver: dial %q: %w", r.url, err)
	}

	cfg := fmt.Sprintf(`{"config": {"sample_rate": %d}}`, r.sampleRate)
	if err := conn.Write(ctx, websocket.MessageText, []byte(cfg)); err != nil {
		conn.Close(websocket.StatusInternalError, "config write failed")
		return fmt.Errorf("voskserver: send config: %w", err)
	}

	r.mu.Lock()
	r.conn = conn
	r.audio = make(chan []byte, audioChanBuf)
	r.done = make(chan struct{})
	r.ready = true
	r.partial = ""
	r.final = ""
	audio, done := r.audio, r.done
	r.mu.Unlock()

	r.wg.Add(2)
	go r.writeLoop(conn, audio, done)
	go r.readLoop(conn, done)

	slog.Info("vosk-server connected", "url", r.url, "sample_rate", r.sampleRate)
	return nil
}

// AcceptFrame implements [stt.Recognizer]. The frame is queued for delivery;
// when the queue is full the frame is dropped so the capture loop never
// blocks on a slow server.
func (r *Recognizer) AcceptFrame(data []byte) bool {
	r.mu.Lock()
	if !r.ready {
		r.mu.Unlock()
		return false
	}
	audio := r.audio
	finalized := r.final != ""
	r.mu.Unlock()

	if finalized {
		return true
	}

	chunk := append([]byte(nil), data...)
	select {
	case audio <- chunk:
	default:
		slog.Debug("voskserver: audio queue full, dropping frame")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.final != ""
}

// writeLoop forwards queued audio chunks as binary messages.
func (r *Recognizer) writeLoop(conn *websocket.Conn, audio <-chan []byte, done <-chan struct{}) {
	defer r.wg.Done()
	for {
		select {
		case <-done:
			return
		case chunk := <-audio:
			if err := conn.Write(context.Background(), websocket.MessageBinary, chunk); err != nil {
				r.markNotReady(err)
				return
			}
		}
	}
}

// readLoop consumes server results and updates the partial/final state.
func (r *Recognizer) readLoop(conn *websocket.Conn, done <-chan struct{}) {
	defer r.wg.Done()
	for {
		select {
		case <-done:
			return
		default:
		}

		_, msg, err := conn.Read(context.Background())
		if err != nil {
			r.markNotReady(err)
			return
		}

		var res serverResult
		if err := json.Unmarshal(msg, &res); err != nil {
			slog.Debug("voskserver: unparseable message", "error", err)
			continue
		}

		r.mu.Lock()
		if res.Text != "" {
			r.final = res.Text
			r.partial = res.Text
		} else if res.Partial != "" {
			r.partial = res.Partial
		}
		r.mu.Unlock()
	}
}

// markNotReady flags the recognizer unavailable after a transport failure.
func (r *Recognizer) markNotReady(err error) {
	r.mu.Lock()
	wasReady := r.ready
	r.ready = false
	r.mu.Unlock()
	if wasReady {
		slog.Warn("vosk-server session lost", "url", r.url, "error", err)
	}
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
	return r.ready
}

// Reset implements [stt.Recognizer]. The connection is kept; only the
// hypothesis state is cleared for the next capture session.
func (r *Recognizer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.partial = ""
	r.final = ""
}

// Close tears down the WebSocket session. The recognizer reports not ready
// afterwards.
func (r *Recognizer) Close() error {
	r.teardown()
	return nil
}

// teardown stops the loops and closes any live connection.
func (r *Recognizer) teardown() {
	r.mu.Lock()
	conn := r.conn
	done := r.done
	r.conn = nil
	r.done = nil
	r.ready = false
	r.mu.Unlock()

	if done != nil {
		close(done)
	}
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "recognizer closed")
	}
	r.wg.Wait()
}
