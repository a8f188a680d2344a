package ws

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Event type constants for WebSocket messages.
const (
	EventTurnStarted   = "chat.turn.started"
	EventFragment      = "chat.fragment"
	EventTurnCompleted = "chat.turn.completed"
	EventTurnFailed    = "chat.turn.failed"
)

// TurnStartedEvent is broadcast when the orchestrator begins generating a reply.
type TurnStartedEvent struct {
	ConversationID string `json:"conversation_id"`
	Mode           string `json:"mode"`
}

// FragmentEvent carries one streamed delta of an assistant reply.
type FragmentEvent struct {
	ConversationID string `json:"conversation_id"`
	Delta          string `json:"delta"`
	Done           bool   `json:"done"`
}

// TurnCompletedEvent is broadcast when an assistant reply is committed.
type TurnCompletedEvent struct {
	ConversationID string `json:"conversation_id"`
	Mode           string `json:"mode"`
	Backend        string `json:"backend"`
}

// TurnFailedEvent is broadcast when generation fails without a committed reply.
type TurnFailedEvent struct {
	ConversationID string `json:"conversation_id"`
	Cause          string `json:"cause"`
}

// BroadcastEvent marshals a typed event and broadcasts it to all clients.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
