// Package nats publishes turn events over NATS JetStream so downstream
// pipelines (document generation, quiz building) can consume completed turns.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/campuskit/tutorcore/internal/port/events"
)

const streamName = "TUTORCORE"

// Bus holds the NATS connection and the JetStream context shared by the
// event publisher and the KV cache bucket.
type Bus struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// Connect establishes a connection to NATS and ensures the JetStream stream exists.
func Connect(ctx context.Context, url string) (*Bus, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{"turns.>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", "url", url, "stream", streamName)
	return &Bus{nc: nc, js: js}, nil
}

// JetStream exposes the JetStream context for KV bucket setup.
func (b *Bus) JetStream() jetstream.JetStream { return b.js }

// PublishTurnCompleted emits the event on turns.completed.<mode>.
func (b *Bus) PublishTurnCompleted(ctx context.Context, ev events.TurnCompleted) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal turn event: %w", err)
	}
	subject := "turns.completed." + ev.Mode
	if _, err := b.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Close shuts down the NATS connection.
func (b *Bus) Close() error {
	b.nc.Close()
	return nil
}
