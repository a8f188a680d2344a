// Package metrics aggregates chat invocation counters.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/campuskit/tutorcore/internal/domain"
)

// Snapshot is a read-only aggregate of all counters since process start.
// Reads are eventually consistent with in-flight recordings; individual
// counters are never partial or corrupt.
type Snapshot struct {
	Conversations     int64            `json:"conversations"`
	Invocations       int64            `json:"invocations"`
	InvocationsByMode map[string]int64 `json:"invocations_by_mode"`
	ErrorsByCause     map[string]int64 `json:"errors_by_cause"`
	AvgLatencyMillis  int64            `json:"avg_latency_ms"`
	MaxLatencyMillis  int64            `json:"max_latency_ms"`
}

// Collector accumulates purely additive counters with atomic increments.
// It is reset only at process start and shared by all orchestrator goroutines.
type Collector struct {
	conversations atomic.Int64
	invocations   atomic.Int64
	latencySum    atomic.Int64 // microseconds
	latencyMax    atomic.Int64 // microseconds

	byMode  sync.Map // mode id -> *atomic.Int64
	byCause sync.Map // generation cause -> *atomic.Int64
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// RecordConversationCreated counts a newly created conversation.
func (c *Collector) RecordConversationCreated() {
	c.conversations.Add(1)
}

// RecordInvocation records one completed or failed generation turn.
// A nil err is a success; a GenerationError is bucketed by its cause, any
// other error under "internal".
func (c *Collector) RecordInvocation(mode, backendName string, latency time.Duration, err error) {
	_ = backendName // attribute carried by the otel mirror, not the in-process counters

	c.invocations.Add(1)
	counter(&c.byMode, mode).Add(1)

	micros := latency.Microseconds()
	c.latencySum.Add(micros)
	for {
		cur := c.latencyMax.Load()
		if micros <= cur || c.latencyMax.CompareAndSwap(cur, micros) {
			break
		}
	}

	if err != nil {
		cause := string(domain.GenerationCauseOf(err))
		if cause == "" {
			cause = "internal"
		}
		counter(&c.byCause, cause).Add(1)
	}
}

// Snapshot returns the current aggregate without blocking writers.
func (c *Collector) Snapshot() Snapshot {
	snap := Snapshot{
		Conversations:     c.conversations.Load(),
		Invocations:       c.invocations.Load(),
		InvocationsByMode: make(map[string]int64),
		ErrorsByCause:     make(map[string]int64),
		MaxLatencyMillis:  c.latencyMax.Load() / 1000,
	}
	if snap.Invocations > 0 {
		snap.AvgLatencyMillis = c.latencySum.Load() / snap.Invocations / 1000
	}
	c.byMode.Range(func(k, v any) bool {
		snap.InvocationsByMode[k.(string)] = v.(*atomic.Int64).Load()
		return true
	})
	c.byCause.Range(func(k, v any) bool {
		snap.ErrorsByCause[k.(string)] = v.(*atomic.Int64).Load()
		return true
	})
	return snap
}

func counter(m *sync.Map, key string) *atomic.Int64 {
	if v, ok := m.Load(key); ok {
		return v.(*atomic.Int64)
	}
	v, _ := m.LoadOrStore(key, &atomic.Int64{})
	return v.(*atomic.Int64)
}
