// Package convstore defines the conversation store port.
package convstore

import (
	"context"

	"github.com/campuskit/tutorcore/internal/domain/chat"
)

// Store owns live conversation state. Implementations must enforce owner
// isolation (chat history is readable and mutable only by its owner) and
// per-conversation mutual exclusion so concurrent appends on one id never
// interleave. Operations on distinct ids must not contend.
type Store interface {
	// GetOrCreate returns the conversation with the given id if it exists and
	// owner matches (domain.ErrAccessDenied otherwise). With an empty id it
	// creates a fresh conversation owned by owner in the given mode.
	GetOrCreate(ctx context.Context, id, owner, mode string) (*chat.Conversation, error)

	// Append atomically appends one message to an existing conversation.
	// Returns domain.ErrNotFound if the conversation does not exist.
	Append(ctx context.Context, conversationID string, msg chat.Message) (*chat.Message, error)

	// History returns the ordered messages of a conversation.
	History(ctx context.Context, conversationID, owner string) ([]chat.Message, error)

	// Clear truncates messages and resets session state. The conversation
	// record itself (ownership, mode) survives.
	Clear(ctx context.Context, conversationID, owner string) error

	// SessionState returns a copy of the conversation's session state.
	SessionState(ctx context.Context, conversationID, owner string) (chat.SessionState, error)

	// SetSessionState replaces the conversation's session state.
	SetSessionState(ctx context.Context, conversationID, owner string, state chat.SessionState) error

	// Count returns the number of conversations held.
	Count(ctx context.Context) (int, error)
}
