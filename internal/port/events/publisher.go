// Package events defines the port for publishing turn events to downstream consumers.
package events

import (
	"context"
	"time"
)

// TurnCompleted is published after an assistant turn is committed. The
// document, slide, and quiz pipelines consume these off the message queue.
type TurnCompleted struct {
	ConversationID string    `json:"conversation_id"`
	Owner          string    `json:"owner"`
	Mode           string    `json:"mode"`
	Backend        string    `json:"backend"`
	UserMessage    string    `json:"user_message"`
	Assistant      string    `json:"assistant"`
	Truncated      bool      `json:"truncated,omitempty"`
	CompletedAt    time.Time `json:"completed_at"`
}

// Publisher delivers turn events to the message queue.
type Publisher interface {
	// PublishTurnCompleted publishes a completed turn. Failures are the
	// publisher's concern to log; callers treat publishing as best-effort.
	PublishTurnCompleted(ctx context.Context, ev TurnCompleted) error
}

// Nop is a Publisher that discards all events.
type Nop struct{}

// PublishTurnCompleted discards the event.
func (Nop) PublishTurnCompleted(context.Context, TurnCompleted) error { return nil }
