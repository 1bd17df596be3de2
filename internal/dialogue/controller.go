// Package dialogue orchestrates one AI round-trip: quota admission, the
// conversation backend call with bounded failover, and speech synthesis of
// the reply.
package dialogue

import (
	"context"
	"log/slog"
	"time"

	"github.com/PAID-LLC/voice-talk-app/internal/quota"
	"github.com/PAID-LLC/voice-talk-app/pkg/provider/chat"
	"github.com/PAID-LLC/voice-talk-app/pkg/provider/tts"
)

const (
	// FallbackReply is returned when every conversation backend has failed
	// or been exhausted for a turn.
	FallbackReply = "I'm having trouble understanding. Could you rephrase that?"

	// QuotaExceededReply is returned when admission is denied before any
	// network call is made.
	QuotaExceededReply = "The AI service quota has been exceeded. Please try again later."

	// MaxSpeakRunes bounds the text handed to the synthesizer so one
	// pathologically long reply cannot stall the pipeline.
	MaxSpeakRunes = 500
)

// Turn is the outcome of one user/assistant exchange.
type Turn struct {
	UserText  string
	Reply     string
	Success   bool
	Backend   string
	Timestamp time.Time
}

// Controller routes turns to the quota arbiter's active backends. It holds
// no conversational state; history is owned by the caller and passed in per
// turn.
type Controller struct {
	arbiter  *quota.Arbiter
	chats    map[string]chat.Backend
	speakers map[string]tts.Synthesizer
	log      *slog.Logger
}

// Option configures a [Controller].
type Option func(*Controller)

// WithLogger sets the structured logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(c *Controller) { c.log = log }
}

// New returns a Controller dispatching to the given backends, keyed by the
// identifiers they were registered under in arbiter.
func New(arbiter *quota.Arbiter, chats map[string]chat.Backend, speakers map[string]tts.Synthesizer, opts ...Option) *Controller {
	c := &Controller{
		arbiter:  arbiter,
		chats:    chats,
		speakers: speakers,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SubmitTurn runs one exchange with the conversation capability. Admission
// is checked before any network call; a denial costs nothing and demotes the
// exhausted backend. A backend failure demotes and retries exactly once with
// the newly active backend before giving up with [FallbackReply]. Usage is
// tracked only for calls the backend answered successfully.
func (c *Controller) SubmitTurn(ctx context.Context, userText string, history []chat.Message) Turn {
	turn := Turn{UserText: userText, Timestamp: time.Now()}

	admitted, remaining := c.arbiter.CheckQuota(quota.CapabilityAI)
	if !admitted {
		c.log.Warn("ai quota denied", "remaining", remaining)
		c.arbiter.DemoteBackend(quota.CapabilityAI)
		turn.Reply = QuotaExceededReply
		return turn
	}

	// At most one retry after a single demotion.
	for attempt := 0; attempt < 2; attempt++ {
		id, ok := c.arbiter.ActiveBackend(quota.CapabilityAI)
		if !ok {
			break
		}
		backend, known := c.chats[id]
		if !known {
			c.log.Error("active ai backend has no adapter", "backend", id)
			c.arbiter.DemoteBackend(quota.CapabilityAI)
			continue
		}

		reply, ok := backend.Chat(ctx, userText, history)
		if ok {
			c.arbiter.TrackUsage(quota.CapabilityAI)
			turn.Reply = reply
			turn.Success = true
			turn.Backend = id
			return turn
		}
		c.log.Warn("ai backend failed", "backend", id, "attempt", attempt+1)
		c.arbiter.DemoteBackend(quota.CapabilityAI)
	}

	turn.Reply = FallbackReply
	return turn
}

// Speak synthesizes replyText on the active synthesizer, truncated to
// [MaxSpeakRunes]. Synthesis is best-effort: quota denials and synthesis
// errors are logged and swallowed because the text reply has already been
// delivered. A failed synthesizer is demoted and the call retried once.
func (c *Controller) Speak(ctx context.Context, replyText string) {
	if replyText == "" {
		return
	}
	if runes := []rune(replyText); len(runes) > MaxSpeakRunes {
		replyText = string(runes[:MaxSpeakRunes])
	}

	if admitted, _ := c.arbiter.CheckQuota(quota.CapabilityTTS); !admitted {
		c.log.Warn("tts quota denied, reply not spoken")
		c.arbiter.DemoteBackend(quota.CapabilityTTS)
		return
	}

	for attempt := 0; attempt < 2; attempt++ {
		id, ok := c.arbiter.ActiveBackend(quota.CapabilityTTS)
		if !ok {
			return
		}
		synth, known := c.speakers[id]
		if !known {
			c.log.Error("active tts backend has no adapter", "backend", id)
			c.arbiter.DemoteBackend(quota.CapabilityTTS)
			continue
		}

		if err := synth.Speak(ctx, replyText); err != nil {
			c.log.Warn("synthesis failed", "backend", id, "error", err)
			c.arbiter.DemoteBackend(quota.CapabilityTTS)
			continue
		}
		c.arbiter.TrackUsage(quota.CapabilityTTS)
		return
	}
}
