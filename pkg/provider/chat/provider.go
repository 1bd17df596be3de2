// Package chat defines the Backend interface for conversational AI services.
//
// A Backend takes the user's text plus the conversation history and returns a
// reply. The interface deliberately reports failure as a boolean rather than
// an error: the dialogue layer reacts to any failure the same way (demote the
// backend and retry once), so the distinction between transport, auth, and
// model errors stays inside the adapter, which logs the detail.
//
// Implementations must be safe for concurrent use.
package chat

import "context"

// Role values used in conversation history messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one prior exchange entry passed to a Backend as context.
type Message struct {
	// Role is [RoleUser] or [RoleAssistant].
	Role string

	// Content is the message text.
	Content string
}

// Backend is the abstraction over any conversational AI service.
type Backend interface {
	// Chat sends text with the given history and returns the reply. ok is
	// false when the backend could not produce a reply for any reason; the
	// reply string is then empty.
	Chat(ctx context.Context, text string, history []Message) (reply string, ok bool)
}
