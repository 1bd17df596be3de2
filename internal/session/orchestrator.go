// Package session binds capture and dialogue into the user-visible
// conversation loop.
//
// The Orchestrator owns all session state — the lifecycle state machine, the
// conversation history, and the turn log. Every cross-worker notification
// (capture events, turn results, synthesis completion, the housekeeping
// tick) is delivered through channels into one control goroutine, so state
// is mutated from exactly one place. Workers never touch it directly.
package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/PAID-LLC/voice-talk-app/internal/capture"
	"github.com/PAID-LLC/voice-talk-app/internal/dialogue"
	"github.com/PAID-LLC/voice-talk-app/internal/quota"
	"github.com/PAID-LLC/voice-talk-app/internal/transcript"
	"github.com/PAID-LLC/voice-talk-app/pkg/provider/chat"
)

const (
	// DefaultQuotaTick is the housekeeping interval for quota status
	// refresh and expired-window revival.
	DefaultQuotaTick = 30 * time.Second

	// DefaultHistoryLimit bounds the conversation history passed to the AI
	// backend, in messages (a turn contributes up to two).
	DefaultHistoryLimit = 20

	// eventChanBuf bounds the outbound event stream. Sends never block the
	// control goroutine; events beyond the buffer are dropped with a log
	// line.
	eventChanBuf = 128

	sinkWriteTimeout = 5 * time.Second
)

var (
	// ErrBusy reports that another operation is in flight. The request is
	// rejected, never queued; callers may retry once the session is idle.
	ErrBusy = errors.New("session: another operation is in flight")

	// ErrNotRecording reports a Stop or Cancel with no active recording.
	ErrNotRecording = errors.New("session: no recording in progress")

	// ErrNoSpeech is surfaced on the event stream when a recording
	// finalized with an empty transcript.
	ErrNoSpeech = errors.New("session: no speech detected")

	// ErrClosed reports a call after the orchestrator's Run loop exited.
	ErrClosed = errors.New("session: orchestrator closed")

	// ErrNoCapture reports StartRecording on an orchestrator built without
	// a capture factory (text-only mode).
	ErrNoCapture = errors.New("session: voice capture not configured")
)

// State is the orchestrator's user-visible lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateTranscribing
	StateDispatching
	StateSpeaking
)

// String implements [fmt.Stringer].
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateTranscribing:
		return "transcribing"
	case StateDispatching:
		return "dispatching"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// EventKind discriminates orchestrator events.
type EventKind int

const (
	EventPartialTranscript EventKind = iota
	EventFinalTranscript
	EventTurnResult
	EventError
	EventQuotaStatus
)

// Event is one notification on the orchestrator's outbound stream.
type Event struct {
	Kind EventKind

	// Text carries the transcript for partial/final events.
	Text string

	// Turn is set for EventTurnResult.
	Turn *dialogue.Turn

	// Err is set for EventError.
	Err error

	// Quota is set for EventQuotaStatus.
	Quota map[string]quota.Status
}

// Status is a point-in-time snapshot for callers.
type Status struct {
	State State
	Turns int
	Quota map[string]quota.Status
}

// CaptureFactory builds a fresh capture session per recording. A
// [capture.Session] is single-use, so the orchestrator asks for a new one
// each time recording starts.
type CaptureFactory func() *capture.Session

// Orchestrator is the top-level conversation state machine. Construct with
// [New], then call [Orchestrator.Run] on its own goroutine; all other
// methods are safe to call from any goroutine while Run is live.
type Orchestrator struct {
	id         string
	arbiter    *quota.Arbiter
	dialogue   *dialogue.Controller
	newCapture CaptureFactory
	sink       transcript.Sink
	log        *slog.Logger

	maxDuration  time.Duration
	maxFrames    int
	quotaTick    time.Duration
	historyLimit int

	stateHook func(old, new State)

	cmds   chan command
	events chan Event
	done   chan struct{}

	// Everything below is owned by the control goroutine.
	state         State
	history       []chat.Message
	turnCount     int
	active        *capture.Session
	captureEvents <-chan capture.Event
	pendingFinal  string
	turnResults   chan dialogue.Turn
	speakDone     chan struct{}
}

type cmdKind int

const (
	cmdStartRecording cmdKind = iota
	cmdStopRecording
	cmdCancelRecording
	cmdSubmitText
	cmdStatus
)

type command struct {
	kind   cmdKind
	text   string
	err    chan error
	status chan Status
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithLogger sets the structured logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// WithRecordingBounds sets the per-recording duration and frame limits
// passed to each capture session.
func WithRecordingBounds(maxDuration time.Duration, maxFrames int) Option {
	return func(o *Orchestrator) {
		o.maxDuration = maxDuration
		o.maxFrames = maxFrames
	}
}

// WithQuotaTick overrides the housekeeping interval.
func WithQuotaTick(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.quotaTick = d
		}
	}
}

// WithHistoryLimit bounds the conversation history, in messages.
func WithHistoryLimit(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.historyLimit = n
		}
	}
}

// WithSink sets the transcript sink. Defaults to an unbounded in-memory
// sink.
func WithSink(s transcript.Sink) Option {
	return func(o *Orchestrator) { o.sink = s }
}

// WithStateHook registers a callback invoked on every state transition. The
// hook runs on the control goroutine and must not call back into the
// orchestrator.
func WithStateHook(hook func(old, new State)) Option {
	return func(o *Orchestrator) { o.stateHook = hook }
}

// New returns an orchestrator wiring arbiter, the dialogue controller, and
// the capture factory together.
func New(arbiter *quota.Arbiter, dlg *dialogue.Controller, newCapture CaptureFactory, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		id:           uuid.NewString(),
		arbiter:      arbiter,
		dialogue:     dlg,
		newCapture:   newCapture,
		sink:         transcript.NewMemorySink(0),
		log:          slog.Default(),
		quotaTick:    DefaultQuotaTick,
		historyLimit: DefaultHistoryLimit,
		cmds:         make(chan command),
		events:       make(chan Event, eventChanBuf),
		done:         make(chan struct{}),
		turnResults:  make(chan dialogue.Turn, 1),
		speakDone:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = o.log.With("conversation", o.id)
	return o
}

// ID returns the conversation identifier used for transcript entries.
func (o *Orchestrator) ID() string { return o.id }

// Events returns the outbound event stream. Closed when Run returns.
func (o *Orchestrator) Events() <-chan Event { return o.events }

// Run executes the control loop until ctx is cancelled. It must be called
// exactly once.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer close(o.done)
	defer close(o.events)

	ticker := time.NewTicker(o.quotaTick)
	defer ticker.Stop()

	o.log.Info("conversation loop started")
	for {
		select {
		case <-ctx.Done():
			if o.active != nil && o.state == StateRecording {
				if err := o.active.Cancel(); err == nil {
					<-o.active.Done()
				}
			}
			o.log.Info("conversation loop stopped")
			return ctx.Err()

		case cmd := <-o.cmds:
			o.handleCommand(ctx, cmd)

		case ev, ok := <-o.captureEvents:
			if !ok {
				o.captureEvents = nil
				o.onCaptureFinished(ctx)
				continue
			}
			o.onCaptureEvent(ev)

		case turn := <-o.turnResults:
			o.onTurnResult(ctx, turn)

		case <-o.speakDone:
			o.setState(StateIdle)

		case <-ticker.C:
			o.housekeeping()
		}
	}
}

// StartRecording begins a new capture episode. Returns [ErrBusy] while any
// operation is in flight, or a device error when the audio source cannot be
// opened.
func (o *Orchestrator) StartRecording() error {
	return o.do(command{kind: cmdStartRecording, err: make(chan error, 1)})
}

// StopRecording finalizes the active recording with whatever was heard.
func (o *Orchestrator) StopRecording() error {
	return o.do(command{kind: cmdStopRecording, err: make(chan error, 1)})
}

// CancelRecording aborts the active recording, discarding its transcript.
func (o *Orchestrator) CancelRecording() error {
	return o.do(command{kind: cmdCancelRecording, err: make(chan error, 1)})
}

// SubmitText dispatches a typed turn, bypassing capture. Returns [ErrBusy]
// unless the session is idle; the turn result arrives on the event stream.
func (o *Orchestrator) SubmitText(text string) error {
	return o.do(command{kind: cmdSubmitText, text: text, err: make(chan error, 1)})
}

// GetStatus returns the current state, turn count, and quota snapshot.
func (o *Orchestrator) GetStatus() (Status, error) {
	cmd := command{kind: cmdStatus, status: make(chan Status, 1)}
	select {
	case o.cmds <- cmd:
	case <-o.done:
		return Status{}, ErrClosed
	}
	select {
	case st := <-cmd.status:
		return st, nil
	case <-o.done:
		return Status{}, ErrClosed
	}
}

func (o *Orchestrator) do(cmd command) error {
	select {
	case o.cmds <- cmd:
	case <-o.done:
		return ErrClosed
	}
	select {
	case err := <-cmd.err:
		return err
	case <-o.done:
		return ErrClosed
	}
}

func (o *Orchestrator) handleCommand(ctx context.Context, cmd command) {
	switch cmd.kind {
	case cmdStartRecording:
		cmd.err <- o.startRecording()
	case cmdStopRecording:
		if o.state != StateRecording {
			cmd.err <- ErrNotRecording
			return
		}
		cmd.err <- o.active.Stop()
	case cmdCancelRecording:
		if o.state != StateRecording {
			cmd.err <- ErrNotRecording
			return
		}
		cmd.err <- o.active.Cancel()
	case cmdSubmitText:
		if o.state != StateIdle {
			cmd.err <- ErrBusy
			return
		}
		o.dispatch(ctx, cmd.text)
		cmd.err <- nil
	case cmdStatus:
		cmd.status <- Status{
			State: o.state,
			Turns: o.turnCount,
			Quota: o.arbiter.GetStatus(),
		}
	}
}

func (o *Orchestrator) startRecording() error {
	if o.state != StateIdle {
		return ErrBusy
	}
	if o.newCapture == nil {
		return ErrNoCapture
	}
	cs := o.newCapture()
	if err := cs.Start(o.maxDuration, o.maxFrames); err != nil {
		o.emit(Event{Kind: EventError, Err: err})
		return err
	}
	o.active = cs
	o.captureEvents = cs.Events()
	o.pendingFinal = ""
	o.setState(StateRecording)
	o.log.Info("recording started", "session", cs.ID())
	return nil
}

func (o *Orchestrator) onCaptureEvent(ev capture.Event) {
	switch ev.Kind {
	case capture.EventPartial:
		o.emit(Event{Kind: EventPartialTranscript, Text: ev.Text})
	case capture.EventFinal:
		o.setState(StateTranscribing)
		o.pendingFinal = ev.Text
		o.emit(Event{Kind: EventFinalTranscript, Text: ev.Text})
	case capture.EventNoSpeech:
		o.emit(Event{Kind: EventError, Err: ErrNoSpeech})
	}
}

// onCaptureFinished runs once the capture session's event stream has closed
// and the device is released. Completed episodes flow into a dialogue turn;
// every other terminal state returns the session to idle.
func (o *Orchestrator) onCaptureFinished(ctx context.Context) {
	cs := o.active
	o.active = nil
	if cs == nil {
		o.setState(StateIdle)
		return
	}

	switch cs.State() {
	case capture.StateCompleted:
		o.dispatch(ctx, o.pendingFinal)
	case capture.StateCancelled:
		o.log.Info("recording cancelled", "session", cs.ID())
		o.setState(StateIdle)
	default:
		if err := cs.Err(); err != nil {
			o.emit(Event{Kind: EventError, Err: err})
		}
		o.setState(StateIdle)
	}
	o.pendingFinal = ""
}

// dispatch runs one dialogue turn on a worker goroutine so the control loop
// never blocks on the network.
func (o *Orchestrator) dispatch(ctx context.Context, text string) {
	o.setState(StateDispatching)
	history := append([]chat.Message(nil), o.history...)
	go func() {
		o.turnResults <- o.dialogue.SubmitTurn(ctx, text, history)
	}()
}

// onTurnResult records the turn, emits the result, and hands the reply to
// synthesis. The result event is always delivered before the speak dispatch.
func (o *Orchestrator) onTurnResult(ctx context.Context, turn dialogue.Turn) {
	o.turnCount++
	o.history = append(o.history, chat.Message{Role: chat.RoleUser, Content: turn.UserText})
	if turn.Success {
		o.history = append(o.history, chat.Message{Role: chat.RoleAssistant, Content: turn.Reply})
	}
	if len(o.history) > o.historyLimit {
		o.history = o.history[len(o.history)-o.historyLimit:]
	}

	o.emit(Event{Kind: EventTurnResult, Turn: &turn})
	o.persist(turn)

	o.setState(StateSpeaking)
	go func() {
		o.dialogue.Speak(ctx, turn.Reply)
		o.speakDone <- struct{}{}
	}()
}

// persist writes the turn to the transcript sink off the control goroutine.
// Sink failures are logged, never surfaced; transcripts are best-effort.
func (o *Orchestrator) persist(turn dialogue.Turn) {
	entries := []transcript.Entry{{
		SessionID: o.id,
		Role:      transcript.RoleUser,
		Text:      turn.UserText,
		Timestamp: turn.Timestamp,
	}, {
		SessionID: o.id,
		Role:      transcript.RoleAssistant,
		Text:      turn.Reply,
		Backend:   turn.Backend,
		Timestamp: turn.Timestamp,
	}}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sinkWriteTimeout)
		defer cancel()
		for _, e := range entries {
			if err := o.sink.Append(ctx, e); err != nil {
				o.log.Warn("transcript write failed", "error", err)
				return
			}
		}
	}()
}

// housekeeping revives backends whose quota windows elapsed and publishes a
// quota snapshot. Low priority: it does nothing that could block an
// in-flight recording or dispatch.
func (o *Orchestrator) housekeeping() {
	for _, capability := range o.arbiter.Capabilities() {
		o.arbiter.ReviveExpired(capability)
	}
	o.emit(Event{Kind: EventQuotaStatus, Quota: o.arbiter.GetStatus()})
}

// setState records a transition and notifies the state hook, if any.
func (o *Orchestrator) setState(next State) {
	if o.state == next {
		return
	}
	prev := o.state
	o.state = next
	if o.stateHook != nil {
		o.stateHook(prev, next)
	}
}

func (o *Orchestrator) emit(ev Event) {
	select {
	case o.events <- ev:
		return
	default:
	}

	// A slow consumer loses partials and quota snapshots, never the outcome
	// of a turn.
	if ev.Kind != EventFinalTranscript && ev.Kind != EventTurnResult {
		o.log.Warn("event stream full, dropping event", "kind", ev.Kind)
		return
	}
	// Evict the oldest buffered event to make room. The control goroutine is
	// the only sender, so one eviction guarantees the retry succeeds.
	for {
		select {
		case o.events <- ev:
			return
		default:
		}
		select {
		case dropped := <-o.events:
			o.log.Warn("event stream full, evicted buffered event", "kind", dropped.Kind)
		default:
		}
	}
}
