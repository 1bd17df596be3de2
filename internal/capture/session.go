// Package capture runs one recording episode: it drives an audio source,
// streams frames into a speech recognizer, and emits transcript events until
// a duration, frame-count, stop, or cancel boundary finalizes the session.
package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PAID-LLC/voice-talk-app/pkg/audio"
	"github.com/PAID-LLC/voice-talk-app/pkg/provider/stt"
)

// Defaults applied when Start receives non-positive bounds.
const (
	DefaultMaxDuration = 5 * time.Second
	DefaultMaxFrames   = 1000

	defaultReadTimeout = 250 * time.Millisecond

	// eventChanBuf bounds the session's outbound event channel. Partials are
	// deduplicated before emission, so a session produces far fewer events
	// than frames.
	eventChanBuf = 64
)

var (
	// ErrDevice reports that the audio input device could not be opened.
	ErrDevice = errors.New("capture: audio device unavailable")

	// ErrWrongState reports a lifecycle call that is invalid in the session's
	// current state, e.g. Start on an already-started session.
	ErrWrongState = errors.New("capture: operation invalid in current state")
)

// State is the lifecycle state of a [Session].
type State int

const (
	StateIdle State = iota
	StateRecording
	StateFinalizing
	StateCompleted
	StateTimedOut
	StateCancelled
	StateFailed
)

// String implements [fmt.Stringer].
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateFinalizing:
		return "finalizing"
	case StateCompleted:
		return "completed"
	case StateTimedOut:
		return "timed_out"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// EventKind discriminates the session's outbound events.
type EventKind int

const (
	// EventPartial carries a new distinct partial hypothesis.
	EventPartial EventKind = iota

	// EventFinal carries the session's final transcript. Emitted at most
	// once, after every EventPartial, and never after Cancel.
	EventFinal

	// EventNoSpeech reports that the session finalized with an empty
	// transcript. A terminal outcome, not an error.
	EventNoSpeech
)

// Event is one transcript notification from a running session.
type Event struct {
	Kind      EventKind
	SessionID string
	Text      string
}

// endReason records which boundary ended the recording loop.
type endReason int

const (
	endStopped endReason = iota
	endCancelled
	endTimedOut
	endFrameLimit
	endStreamEnded
	endSourceError
)

// Session orchestrates a single capture episode. One Session handles one
// Start; construct a fresh value per recording.
//
// Frames are read and recognized on a dedicated worker goroutine; all
// transcript notifications arrive on the Events channel in capture order,
// which is closed when the session reaches a terminal state.
type Session struct {
	id  string
	src audio.Source
	rec stt.Recognizer
	log *slog.Logger

	readTimeout time.Duration

	events chan Event
	stop   chan struct{}
	cancel chan struct{}
	done   chan struct{}

	mu          sync.Mutex
	state       State
	provisional string
	final       string
	stopped     bool
	cancelled   bool
	err         error
}

// Option configures a [Session].
type Option func(*Session)

// WithLogger sets the structured logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(s *Session) { s.log = log }
}

// WithReadTimeout sets the per-frame read timeout, which bounds how quickly
// the worker observes Stop and Cancel.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.readTimeout = d
		}
	}
}

// New returns an idle session over src and rec.
func New(src audio.Source, rec stt.Recognizer, opts ...Option) *Session {
	s := &Session{
		id:          uuid.NewString(),
		src:         src,
		rec:         rec,
		log:         slog.Default(),
		readTimeout: defaultReadTimeout,
		events:      make(chan Event, eventChanBuf),
		stop:        make(chan struct{}),
		cancel:      make(chan struct{}),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("session", s.id)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Events returns the ordered transcript event stream. The channel closes
// once the session is terminal; callers must drain it.
func (s *Session) Events() <-chan Event { return s.events }

// Done is closed when the session has reached a terminal state and the
// audio source has been released.
func (s *Session) Done() <-chan struct{} { return s.done }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// FinalTranscript returns the final text of a completed session, empty
// otherwise.
func (s *Session) FinalTranscript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.final
}

// Err returns the audio source error that ended the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Start opens the audio source and launches the capture worker. Bounds that
// are non-positive fall back to [DefaultMaxDuration] and [DefaultMaxFrames].
// The returned error wraps [ErrDevice] when the input device cannot be
// opened, in which case the session is terminal and no events are emitted.
func (s *Session) Start(maxDuration time.Duration, maxFrames int) error {
	if maxDuration <= 0 {
		maxDuration = DefaultMaxDuration
	}
	if maxFrames <= 0 {
		maxFrames = DefaultMaxFrames
	}

	s.mu.Lock()
	if st := s.state; st != StateIdle {
		s.mu.Unlock()
		return fmt.Errorf("%w: Start from %s", ErrWrongState, st)
	}
	s.state = StateRecording
	s.mu.Unlock()

	if err := s.src.Open(); err != nil {
		s.mu.Lock()
		s.state = StateFailed
		s.err = err
		s.mu.Unlock()
		close(s.events)
		close(s.done)
		return fmt.Errorf("%w: %v", ErrDevice, err)
	}

	s.rec.Reset()
	if !s.rec.IsReady() {
		s.log.Warn("recognizer not ready, recording will be silent")
	}

	go s.run(time.Now().Add(maxDuration), maxFrames)
	return nil
}

// Stop ends the recording early and finalizes with whatever partial text has
// been observed. Valid only while Recording.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRecording {
		return fmt.Errorf("%w: Stop from %s", ErrWrongState, s.state)
	}
	if !s.stopped {
		s.stopped = true
		close(s.stop)
	}
	return nil
}

// Cancel aborts the recording, discarding all partial text. A cancelled
// session never emits a final transcript, even if one was already computed.
// Valid only while Recording.
func (s *Session) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRecording {
		return fmt.Errorf("%w: Cancel from %s", ErrWrongState, s.state)
	}
	if !s.cancelled {
		s.cancelled = true
		close(s.cancel)
	}
	return nil
}

// run is the capture worker. It owns the audio source until finalize and is
// the only goroutine that sends on s.events.
func (s *Session) run(deadline time.Time, maxFrames int) {
	defer close(s.done)
	defer close(s.events)

	reason := s.record(deadline, maxFrames)

	s.mu.Lock()
	s.state = StateFinalizing
	s.mu.Unlock()

	// Release the device unconditionally, including on error paths.
	if err := s.src.Close(); err != nil {
		s.log.Warn("closing audio source", "error", err)
	}

	s.finalize(reason)
}

// record reads frames until a boundary is hit and returns which one. The
// cancellation flag is checked between frame reads, so cancellation takes
// effect within one read timeout.
func (s *Session) record(deadline time.Time, maxFrames int) endReason {
	var (
		frames      int
		lastPartial string
	)
	for {
		// Cancel wins over a simultaneous stop, so it gets its own check:
		// a single select would pick between two closed channels at random.
		select {
		case <-s.cancel:
			return endCancelled
		default:
		}
		select {
		case <-s.stop:
			return endStopped
		default:
		}
		if !time.Now().Before(deadline) {
			return endTimedOut
		}
		if frames >= maxFrames {
			return endFrameLimit
		}

		frame, err := s.src.ReadFrame(s.readTimeout)
		switch {
		case errors.Is(err, audio.ErrReadTimeout):
			continue
		case errors.Is(err, audio.ErrStreamEnded):
			return endStreamEnded
		case err != nil:
			s.log.Warn("audio source read failed", "error", err)
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			return endSourceError
		}
		frames++

		// A recognizer that is down degrades the episode to silent
		// recording; the session still finalizes normally.
		if !s.rec.IsReady() {
			continue
		}

		isFinal := s.rec.AcceptFrame(frame.Data)
		text := s.rec.PartialText()
		if isFinal {
			text = s.rec.FinalText()
		}
		if text == "" || text == lastPartial {
			continue
		}
		lastPartial = text

		s.mu.Lock()
		s.provisional = text
		s.mu.Unlock()
		s.events <- Event{Kind: EventPartial, SessionID: s.id, Text: text}
	}
}

// finalize maps the end reason and the provisional transcript onto a
// terminal state and emits the closing event. The provisional final is the
// latest accepted partial, never an aggregation.
func (s *Session) finalize(reason endReason) {
	s.mu.Lock()
	provisional := s.provisional
	// A cancel accepted at any point before finalize wins, even when the
	// recording loop ended on another boundary first.
	if reason == endCancelled || s.cancelled {
		s.state = StateCancelled
		s.provisional = ""
		s.mu.Unlock()
		s.log.Info("capture cancelled")
		return
	}
	if provisional != "" {
		s.state = StateCompleted
		s.final = provisional
		s.mu.Unlock()
		s.events <- Event{Kind: EventFinal, SessionID: s.id, Text: provisional}
		s.log.Info("capture completed", "transcript_len", len(provisional))
		return
	}
	if reason == endTimedOut {
		s.state = StateTimedOut
	} else {
		s.state = StateFailed
	}
	s.mu.Unlock()
	s.events <- Event{Kind: EventNoSpeech, SessionID: s.id}
	s.log.Info("capture ended without speech", "state", s.State().String())
}
