// Package backend defines the generation backend port (interface) and registry.
package backend

import (
	"context"

	"github.com/campuskit/tutorcore/internal/domain/chat"
)

// Capabilities declares what a generation backend supports.
type Capabilities struct {
	// Streaming reports native incremental output. Backends without it still
	// satisfy GenerateStream by emitting the full text as a single chunk.
	Streaming bool `json:"streaming"`
	// RetrySafe marks a backend whose Generate call may be repeated with the
	// same input after a timeout without side effects on the provider.
	RetrySafe bool `json:"retry_safe"`
}

// Result is a completed generation: the assistant text plus the updated
// session state the backend wants persisted for the next turn.
type Result struct {
	Text  string
	State chat.SessionState
}

// Chunk is one element of a streamed generation. Non-final chunks carry only
// Delta. The final chunk has Done set and carries the full accumulated Text
// and updated State; Err is set instead when the stream failed mid-sequence,
// in which case Text holds whatever partial output was produced.
type Chunk struct {
	Delta string
	Done  bool
	Text  string
	State chat.SessionState
	Err   error
}

// Backend is the port interface over interchangeable generation strategies.
// History is the full ordered conversation; directive is the resolved mode
// instruction; state is opaque continuation data owned by this backend.
type Backend interface {
	// Name returns the unique identifier for this backend (e.g. "openai", "agentloop").
	Name() string

	// Capabilities returns what this backend supports.
	Capabilities() Capabilities

	// Generate produces a complete response synchronously.
	Generate(ctx context.Context, history []chat.Message, directive string, state chat.SessionState) (*Result, error)

	// GenerateStream produces a finite, non-restartable sequence of chunks
	// terminated by exactly one chunk with Done set. The channel is closed
	// after the terminal chunk. Consumers may abandon the channel early;
	// implementations must stop producing when ctx is cancelled.
	GenerateStream(ctx context.Context, history []chat.Message, directive string, state chat.SessionState) (<-chan Chunk, error)
}
