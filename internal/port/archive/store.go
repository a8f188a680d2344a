// Package archive defines the port for durable persistence of committed turns.
package archive

import (
	"context"

	"github.com/campuskit/tutorcore/internal/domain/chat"
)

// Store persists conversations and messages in a flat relational form that
// preserves the ordering and ownership invariants of the live store. It is a
// write-behind sink: the in-memory store remains authoritative for live turns.
type Store interface {
	// SaveConversation upserts the conversation record (id, owner, mode,
	// session state, timestamps) without touching messages.
	SaveConversation(ctx context.Context, c *chat.Conversation) error

	// SaveMessages appends messages for a conversation. Messages are
	// immutable; implementations must ignore duplicates by message id.
	SaveMessages(ctx context.Context, conversationID string, msgs []chat.Message) error

	// LoadHistory returns the archived messages of a conversation in append
	// order, enforcing owner isolation like the live store.
	LoadHistory(ctx context.Context, conversationID, owner string) ([]chat.Message, error)
}
