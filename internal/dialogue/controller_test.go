package dialogue

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/PAID-LLC/voice-talk-app/internal/quota"
	"github.com/PAID-LLC/voice-talk-app/pkg/provider/chat"
	chatmock "github.com/PAID-LLC/voice-talk-app/pkg/provider/chat/mock"
	"github.com/PAID-LLC/voice-talk-app/pkg/provider/tts"
	ttsmock "github.com/PAID-LLC/voice-talk-app/pkg/provider/tts/mock"
)

func newArbiter(aiBackends, ttsBackends []string) *quota.Arbiter {
	a := quota.New()
	for _, id := range aiBackends {
		a.Register(quota.CapabilityAI, id, 0, time.Hour)
	}
	for _, id := range ttsBackends {
		a.Register(quota.CapabilityTTS, id, 0, time.Hour)
	}
	return a
}

func TestSubmitTurnSuccess(t *testing.T) {
	a := newArbiter([]string{"openai"}, nil)
	primary := &chatmock.Backend{Reply: "hi there"}
	c := New(a, map[string]chat.Backend{"openai": primary}, nil)

	turn := c.SubmitTurn(context.Background(), "hello", nil)
	if !turn.Success {
		t.Fatal("turn.Success = false, want true")
	}
	if turn.Reply != "hi there" {
		t.Fatalf("Reply = %q", turn.Reply)
	}
	if turn.Backend != "openai" {
		t.Fatalf("Backend = %q, want openai", turn.Backend)
	}
	if turn.UserText != "hello" || turn.Timestamp.IsZero() {
		t.Fatalf("turn metadata = %+v", turn)
	}
}

func TestSubmitTurnFailoverToSecondBackend(t *testing.T) {
	a := newArbiter([]string{"openai", "ollama"}, nil)
	primary := &chatmock.Backend{Fail: true}
	secondary := &chatmock.Backend{Reply: "from fallback"}
	c := New(a, map[string]chat.Backend{"openai": primary, "ollama": secondary}, nil)

	turn := c.SubmitTurn(context.Background(), "hello", nil)
	if !turn.Success || turn.Reply != "from fallback" || turn.Backend != "ollama" {
		t.Fatalf("turn = %+v, want success via ollama", turn)
	}
	if primary.CallCount() != 1 || secondary.CallCount() != 1 {
		t.Fatalf("calls = %d/%d, want 1/1", primary.CallCount(), secondary.CallCount())
	}
}

func TestSubmitTurnAllBackendsFail(t *testing.T) {
	a := newArbiter([]string{"openai", "ollama"}, nil)
	primary := &chatmock.Backend{Fail: true}
	secondary := &chatmock.Backend{Fail: true}
	c := New(a, map[string]chat.Backend{"openai": primary, "ollama": secondary}, nil)

	turn := c.SubmitTurn(context.Background(), "hi", nil)
	if turn.Success {
		t.Fatal("turn.Success = true, want false")
	}
	if turn.Reply != FallbackReply {
		t.Fatalf("Reply = %q, want the fixed fallback", turn.Reply)
	}
	// Exactly one retry: primary once, the single fallback once.
	if primary.CallCount() != 1 || secondary.CallCount() != 1 {
		t.Fatalf("calls = %d/%d, want 1/1", primary.CallCount(), secondary.CallCount())
	}
	if st := a.GetStatus()[quota.CapabilityAI]; st.Available {
		t.Fatalf("status = %+v, want ai unavailable after both demotions", st)
	}
}

func TestSubmitTurnQuotaDeniedMakesNoNetworkCall(t *testing.T) {
	a := quota.New()
	a.Register(quota.CapabilityAI, "openai", 1, time.Hour)
	a.TrackUsage(quota.CapabilityAI) // exhaust the single-call window

	backend := &chatmock.Backend{Reply: "never"}
	c := New(a, map[string]chat.Backend{"openai": backend}, nil)

	turn := c.SubmitTurn(context.Background(), "hello", nil)
	if turn.Success {
		t.Fatal("turn.Success = true, want false")
	}
	if turn.Reply != QuotaExceededReply {
		t.Fatalf("Reply = %q, want quota reply", turn.Reply)
	}
	if backend.CallCount() != 0 {
		t.Fatalf("backend called %d times, want 0", backend.CallCount())
	}
}

func TestSubmitTurnUsageTrackedOnlyOnSuccess(t *testing.T) {
	a := quota.New()
	a.Register(quota.CapabilityAI, "openai", 5, time.Hour)
	a.Register(quota.CapabilityAI, "ollama", 5, time.Hour)

	primary := &chatmock.Backend{Fail: true}
	secondary := &chatmock.Backend{Reply: "ok"}
	c := New(a, map[string]chat.Backend{"openai": primary, "ollama": secondary}, nil)

	c.SubmitTurn(context.Background(), "hello", nil)

	// The failed primary call must not have been billed; the successful
	// fallback call must have been, exactly once.
	st := a.GetStatus()[quota.CapabilityAI]
	if st.ActiveBackend != "ollama" || st.CallsRemaining != 4 {
		t.Fatalf("status = %+v, want ollama with 4 remaining", st)
	}
}

func TestSubmitTurnPassesHistoryThrough(t *testing.T) {
	a := newArbiter([]string{"openai"}, nil)
	backend := &chatmock.Backend{Reply: "sure"}
	c := New(a, map[string]chat.Backend{"openai": backend}, nil)

	history := []chat.Message{
		{Role: chat.RoleUser, Content: "earlier question"},
		{Role: chat.RoleAssistant, Content: "earlier answer"},
	}
	c.SubmitTurn(context.Background(), "follow-up", history)

	last := backend.LastCall()
	if last.Text != "follow-up" || len(last.History) != 2 {
		t.Fatalf("backend saw %+v", last)
	}
}

func TestSpeakTruncatesLongReplies(t *testing.T) {
	a := newArbiter(nil, []string{"coqui"})
	synth := &ttsmock.Synthesizer{}
	c := New(a, nil, map[string]tts.Synthesizer{"coqui": synth})

	c.Speak(context.Background(), strings.Repeat("a", 2*MaxSpeakRunes))

	spoken := synth.SpokenTexts()
	if len(spoken) != 1 {
		t.Fatalf("Speak calls = %d, want 1", len(spoken))
	}
	if got := len([]rune(spoken[0])); got != MaxSpeakRunes {
		t.Fatalf("spoken length = %d, want %d", got, MaxSpeakRunes)
	}
}

func TestSpeakFailureIsSwallowedAndFailsOver(t *testing.T) {
	a := newArbiter(nil, []string{"coqui", "elevenlabs"})
	bad := &ttsmock.Synthesizer{SpeakErr: errors.New("server gone")}
	good := &ttsmock.Synthesizer{}
	c := New(a, nil, map[string]tts.Synthesizer{"coqui": bad, "elevenlabs": good})

	c.Speak(context.Background(), "hello out loud")

	if got := good.SpokenTexts(); len(got) != 1 || got[0] != "hello out loud" {
		t.Fatalf("fallback spoke %q, want the reply", got)
	}
	if id, _ := a.ActiveBackend(quota.CapabilityTTS); id != "elevenlabs" {
		t.Fatalf("active tts = %q, want elevenlabs after demotion", id)
	}
}

func TestSpeakQuotaDeniedSkipsSynthesis(t *testing.T) {
	a := quota.New()
	a.Register(quota.CapabilityTTS, "elevenlabs", 1, time.Hour)
	a.TrackUsage(quota.CapabilityTTS)

	synth := &ttsmock.Synthesizer{}
	c := New(a, nil, map[string]tts.Synthesizer{"elevenlabs": synth})

	c.Speak(context.Background(), "should stay silent")
	if got := synth.SpokenTexts(); len(got) != 0 {
		t.Fatalf("Speak calls = %d, want 0", len(got))
	}
}

func TestSpeakEmptyTextIsNoop(t *testing.T) {
	a := newArbiter(nil, []string{"coqui"})
	synth := &ttsmock.Synthesizer{}
	c := New(a, nil, map[string]tts.Synthesizer{"coqui": synth})

	c.Speak(context.Background(), "")
	if got := synth.SpokenTexts(); len(got) != 0 {
		t.Fatalf("Speak calls = %d, want 0", len(got))
	}
}
