// Package transcript persists conversation turns through a caller-supplied
// sink. The pipeline core never writes transcripts itself; the orchestrator
// appends entries to whichever Sink the application wires in.
package transcript

import (
	"context"
	"sync"
	"time"
)

// Speaker roles recorded per entry.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Entry is one persisted conversation line.
type Entry struct {
	// SessionID groups entries belonging to one orchestrator lifetime.
	SessionID string

	// Role is [RoleUser] or [RoleAssistant].
	Role string

	// Text is the spoken or generated line.
	Text string

	// Backend names the AI backend that produced an assistant line; empty
	// for user lines and fallback replies.
	Backend string

	Timestamp time.Time
}

// Sink receives conversation entries in order. Implementations must be safe
// for concurrent use.
type Sink interface {
	// Append persists one entry.
	Append(ctx context.Context, entry Entry) error

	// Recent returns the last limit entries for sessionID, oldest first.
	Recent(ctx context.Context, sessionID string, limit int) ([]Entry, error)
}

// MemorySink keeps entries in process memory with a bounded capacity,
// discarding the oldest on overflow. The default sink when no store is
// configured.
type MemorySink struct {
	mu      sync.Mutex
	entries []Entry
	cap     int
}

var _ Sink = (*MemorySink)(nil)

// NewMemorySink returns a sink retaining at most capacity entries.
// capacity <= 0 means unbounded.
func NewMemorySink(capacity int) *MemorySink {
	return &MemorySink{cap: capacity}
}

// Append implements [Sink].
func (m *MemorySink) Append(_ context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	if m.cap > 0 && len(m.entries) > m.cap {
		m.entries = m.entries[len(m.entries)-m.cap:]
	}
	return nil
}

// Recent implements [Sink].
func (m *MemorySink) Recent(_ context.Context, sessionID string, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	matched := make([]Entry, 0, limit)
	for _, e := range m.entries {
		if e.SessionID == sessionID {
			matched = append(matched, e)
		}
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched, nil
}
