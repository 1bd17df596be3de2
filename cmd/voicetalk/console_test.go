package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/PAID-LLC/voice-talk-app/internal/dialogue"
	"github.com/PAID-LLC/voice-talk-app/internal/session"
)

func TestConsoleOnEventFormats(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(strings.NewReader(""), &out)

	c.OnEvent(session.Event{Kind: session.EventFinalTranscript, Text: "turn on the lights"})
	c.OnEvent(session.Event{Kind: session.EventTurnResult, Turn: &dialogue.Turn{Reply: "done", Success: true}})
	c.OnEvent(session.Event{Kind: session.EventError, Err: errors.New("no speech detected")})

	got := out.String()
	for _, want := range []string{
		"you: turn on the lights",
		"assistant: done",
		"! no speech detected",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestConsoleQuitCallsStop(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(strings.NewReader("quit\n"), &out)

	stopped := false
	c.Run(context.Background(), func() { stopped = true }, session.New(nil, nil, nil))

	if !stopped {
		t.Error("quit did not call stop")
	}
}

func TestConsoleRejectsUnknownCommand(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(strings.NewReader("bogus\nquit\n"), &out)

	c.Run(context.Background(), func() {}, session.New(nil, nil, nil))

	if !strings.Contains(out.String(), `unknown command "bogus"`) {
		t.Errorf("output = %s", out.String())
	}
}
