package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Closer allows flushing and stopping the async handler.
type Closer interface {
	Close()
}

// nopCloser is a no-op Closer for synchronous mode.
type nopCloser struct{}

func (nopCloser) Close() {}

// asyncState is shared across all AsyncHandler clones produced by
// WithAttrs/WithGroup, so Close drains every record exactly once.
type asyncState struct {
	queue   chan asyncRecord
	workers sync.WaitGroup
	closed  atomic.Bool
	dropped atomic.Int64
}

type asyncRecord struct {
	handler slog.Handler
	rec     slog.Record
}

// AsyncHandler decouples log emission from I/O through a bounded queue.
// A full queue drops records rather than blocking the request path.
type AsyncHandler struct {
	inner slog.Handler
	state *asyncState
}

// NewAsyncHandler creates an AsyncHandler with the given queue capacity and worker count.
func NewAsyncHandler(inner slog.Handler, queueSize, workers int) *AsyncHandler {
	if workers < 1 {
		workers = 1
	}
	st := &asyncState{queue: make(chan asyncRecord, queueSize)}
	for range workers {
		st.workers.Add(1)
		go func() {
			defer st.workers.Done()
			for item := range st.queue {
				_ = item.handler.Handle(context.Background(), item.rec)
			}
		}()
	}
	return &AsyncHandler{inner: inner, state: st}
}

// Enabled delegates to the inner handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues the record. Drops if the queue is full or closed.
func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface takes the record by value
	if h.state.closed.Load() {
		h.state.dropped.Add(1)
		return nil
	}
	select {
	case h.state.queue <- asyncRecord{handler: h.inner, rec: rec}:
	default:
		h.state.dropped.Add(1)
	}
	return nil
}

// WithAttrs returns a clone wrapping the derived inner handler. Records from
// all clones drain through the same queue.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), state: h.state}
}

// WithGroup returns a clone wrapping the derived inner handler.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), state: h.state}
}

// DroppedCount returns the number of dropped records.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.state.dropped.Load()
}

// Close stops accepting records and waits for the queue to drain.
func (h *AsyncHandler) Close() {
	if h.state.closed.CompareAndSwap(false, true) {
		close(h.state.queue)
		h.state.workers.Wait()
	}
}
