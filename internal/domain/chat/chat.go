// Package chat defines the conversation and message domain entities.
package chat

import "time"

// Role identifies who produced a message.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message represents a single immutable turn in a conversation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"` // "user", "assistant", "system"
	Content        string    `json:"content"`
	Mode           string    `json:"mode,omitempty"` // mode active when produced, for audit
	CreatedAt      time.Time `json:"created_at"`
}

// SessionState is opaque per-conversation continuation data. The store never
// interprets it; only the active backend adapter reads and writes its own keys.
// Keys a backend does not recognize are passed through untouched.
type SessionState map[string]any

// Clone returns a shallow copy so adapters can mutate without racing readers.
func (s SessionState) Clone() SessionState {
	if s == nil {
		return SessionState{}
	}
	out := make(SessionState, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Conversation represents one ongoing dialogue owned by a single user.
// Messages are append-only; only Clear truncates them.
type Conversation struct {
	ID           string       `json:"id"`
	Owner        string       `json:"owner"`
	Mode         string       `json:"mode"`
	Messages     []Message    `json:"messages"`
	SessionState SessionState `json:"session_state,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	LastActiveAt time.Time    `json:"last_active_at"`
}

// TurnRequest is the request body for submitting a message.
type TurnRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Owner          string `json:"owner"`
	Message        string `json:"message"`
	Mode           string `json:"mode"`
	Stream         bool   `json:"stream,omitempty"`
}

// TurnResponse is the non-streaming response for a completed turn.
type TurnResponse struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
	Mode           string `json:"mode"`
}

// Fragment is one incremental piece of a streamed response. The final fragment
// has Done set and carries an empty Delta; the accumulated deltas equal the
// non-streaming message text. Err, when set on the final fragment, reports a
// mid-stream failure after the partial text was already committed.
type Fragment struct {
	ConversationID string `json:"conversation_id"`
	Delta          string `json:"delta"`
	Done           bool   `json:"done"`
	Err            error  `json:"-"`
}
