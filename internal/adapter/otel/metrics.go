// Package otel provides OpenTelemetry instruments and export setup for tutorcore.
package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "tutorcore"

// Metrics holds all tutorcore metric instruments. They mirror the in-process
// collector so operators can scrape the same counters through OTLP.
type Metrics struct {
	TurnsCompleted metric.Int64Counter
	TurnsFailed    metric.Int64Counter
	Conversations  metric.Int64Counter
	TurnDuration   metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TurnsCompleted, err = meter.Int64Counter("tutorcore.turns.completed",
		metric.WithDescription("Number of chat turns completed"))
	if err != nil {
		return nil, err
	}

	m.TurnsFailed, err = meter.Int64Counter("tutorcore.turns.failed",
		metric.WithDescription("Number of chat turns failed"))
	if err != nil {
		return nil, err
	}

	m.Conversations, err = meter.Int64Counter("tutorcore.conversations.started",
		metric.WithDescription("Number of conversations created"))
	if err != nil {
		return nil, err
	}

	m.TurnDuration, err = meter.Float64Histogram("tutorcore.turn.duration_seconds",
		metric.WithDescription("Chat turn duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordTurn records one turn outcome with mode and backend attributes.
func (m *Metrics) RecordTurn(ctx context.Context, mode, backendName string, latency time.Duration, failed bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("chat.mode", mode),
		attribute.String("chat.backend", backendName),
	)
	if failed {
		m.TurnsFailed.Add(ctx, 1, attrs)
	} else {
		m.TurnsCompleted.Add(ctx, 1, attrs)
	}
	m.TurnDuration.Record(ctx, latency.Seconds(), attrs)
}

// RecordConversation records one conversation creation.
func (m *Metrics) RecordConversation(ctx context.Context) {
	if m == nil {
		return
	}
	m.Conversations.Add(ctx, 1)
}
