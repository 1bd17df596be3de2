// Package mock provides a scripted test double for the chat package.
package mock

import (
	"context"
	"sync"

	"github.com/PAID-LLC/voice-talk-app/pkg/provider/chat"
)

// Call records a single Chat invocation.
type Call struct {
	Text    string
	History []chat.Message
}

// Backend is a scripted implementation of [chat.Backend].
type Backend struct {
	mu sync.Mutex

	// Reply is returned from Chat when the call succeeds.
	Reply string

	// Fail makes every Chat call report ok=false.
	Fail bool

	// FailFirst makes only the first n Chat calls fail.
	FailFirst int

	// Calls records every Chat invocation in order.
	Calls []Call
}

var _ chat.Backend = (*Backend)(nil)

// Chat implements [chat.Backend].
func (b *Backend) Chat(_ context.Context, text string, history []chat.Message) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.Calls = append(b.Calls, Call{
		Text:    text,
		History: append([]chat.Message(nil), history...),
	})
	if b.Fail || len(b.Calls) <= b.FailFirst {
		return "", false
	}
	return b.Reply, true
}

// CallCount returns how many times Chat was invoked.
func (b *Backend) CallCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Calls)
}

// LastCall returns the most recent Chat invocation, or a zero Call when none
// happened yet.
func (b *Backend) LastCall() Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.Calls) == 0 {
		return Call{}
	}
	return b.Calls[len(b.Calls)-1]
}
