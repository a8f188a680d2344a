// Package broadcast defines the port for pushing real-time events to connected clients.
package broadcast

import "context"

// Broadcaster sends real-time events to all connected clients.
type Broadcaster interface {
	// BroadcastEvent sends a typed event to all connected clients.
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}

// Nop is a Broadcaster that discards all events.
type Nop struct{}

// BroadcastEvent discards the event.
func (Nop) BroadcastEvent(context.Context, string, any) {}
