package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/PAID-LLC/voice-talk-app/internal/session"
)

// Console is a line-oriented front-end over the session orchestrator:
//
//	record        start a voice recording
//	stop          finalize the active recording
//	cancel        discard the active recording
//	say <text>    submit a typed turn
//	status        print session state and quota
//	quit          shut the server down
//
// Transcripts and replies stream back through OnEvent.
type Console struct {
	in  io.Reader
	out io.Writer
}

// NewConsole reads commands from in and prints conversation output to out.
func NewConsole(in io.Reader, out io.Writer) *Console {
	return &Console{in: in, out: out}
}

// OnEvent prints conversation events as they arrive. Safe to call from the
// app's event consumer goroutine.
func (c *Console) OnEvent(ev session.Event) {
	switch ev.Kind {
	case session.EventPartialTranscript:
		fmt.Fprintf(c.out, "  … %s\r", ev.Text)
	case session.EventFinalTranscript:
		fmt.Fprintf(c.out, "you: %s\n", ev.Text)
	case session.EventTurnResult:
		fmt.Fprintf(c.out, "assistant: %s\n", ev.Turn.Reply)
	case session.EventError:
		fmt.Fprintf(c.out, "! %v\n", ev.Err)
	}
}

// Run reads commands until the input closes or ctx is cancelled. The quit
// command calls stop to unwind the whole process.
func (c *Console) Run(ctx context.Context, stop func(), orch *session.Orchestrator) {
	scanner := bufio.NewScanner(c.in)
	fmt.Fprintln(c.out, `type "record", "say <text>", "status", or "quit"`)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		cmd, rest, _ := strings.Cut(line, " ")
		var err error
		switch cmd {
		case "record":
			err = orch.StartRecording()
		case "stop":
			err = orch.StopRecording()
		case "cancel":
			err = orch.CancelRecording()
		case "say":
			if rest == "" {
				fmt.Fprintln(c.out, "usage: say <text>")
				continue
			}
			err = orch.SubmitText(rest)
		case "status":
			c.printStatus(orch)
		case "quit", "exit":
			stop()
			return
		default:
			fmt.Fprintf(c.out, "unknown command %q\n", cmd)
		}

		switch {
		case err == nil:
		case errors.Is(err, session.ErrBusy):
			fmt.Fprintln(c.out, "busy — wait for the current turn to finish")
		case errors.Is(err, session.ErrNotRecording):
			fmt.Fprintln(c.out, "no recording in progress")
		case errors.Is(err, session.ErrClosed):
			return
		default:
			fmt.Fprintf(c.out, "! %v\n", err)
		}
	}
}

func (c *Console) printStatus(orch *session.Orchestrator) {
	st, err := orch.GetStatus()
	if err != nil {
		fmt.Fprintf(c.out, "! %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "state: %s, turns: %d\n", st.State, st.Turns)
	for capability, q := range st.Quota {
		if !q.Available {
			fmt.Fprintf(c.out, "  %s: exhausted\n", capability)
			continue
		}
		remaining := "unlimited"
		if q.CallsRemaining > 0 {
			remaining = fmt.Sprintf("%d calls left", q.CallsRemaining)
		}
		fmt.Fprintf(c.out, "  %s: %s (%s)\n", capability, q.ActiveBackend, remaining)
	}
}
