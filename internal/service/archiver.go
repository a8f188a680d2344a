package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	otelspan "github.com/campuskit/tutorcore/internal/adapter/otel"
	"github.com/campuskit/tutorcore/internal/domain/chat"
	"github.com/campuskit/tutorcore/internal/port/archive"
	"github.com/campuskit/tutorcore/internal/port/cache"
)

const archiveWriteTimeout = 10 * time.Second

// Archiver is the write-behind bridge between the live conversation store and
// the durable archive. Writes happen off the turn path, bounded by a weighted
// semaphore; reads go through the tiered cache.
type Archiver struct {
	store    archive.Store
	cache    cache.Cache
	cacheTTL time.Duration
	sem      *semaphore.Weighted
	workers  int64
	done     chan struct{}
	pending  chan func()
}

// NewArchiver creates an Archiver that allows up to workers concurrent writes.
func NewArchiver(store archive.Store, c cache.Cache, cacheTTL time.Duration, workers int) *Archiver {
	if workers < 1 {
		workers = 1
	}
	a := &Archiver{
		store:    store,
		cache:    c,
		cacheTTL: cacheTTL,
		sem:      semaphore.NewWeighted(int64(workers)),
		workers:  int64(workers),
		done:     make(chan struct{}),
		pending:  make(chan func(), 256),
	}
	go a.run()
	return a
}

func (a *Archiver) run() {
	for job := range a.pending {
		if err := a.sem.Acquire(context.Background(), 1); err != nil {
			return
		}
		go func(job func()) {
			defer a.sem.Release(1)
			job()
		}(job)
	}
	close(a.done)
}

// Enqueue schedules the conversation snapshot and its new messages for
// archival. It never blocks the turn path: when the queue is full the job is
// dropped and logged, the next turn re-snapshots the conversation anyway.
func (a *Archiver) Enqueue(conv chat.Conversation, msgs []chat.Message) {
	job := func() {
		ctx, cancel := context.WithTimeout(context.Background(), archiveWriteTimeout)
		defer cancel()
		ctx, span := otelspan.StartArchiveSpan(ctx, conv.ID, len(msgs))
		defer span.End()
		if err := a.store.SaveConversation(ctx, &conv); err != nil {
			slog.Error("archive conversation failed", "conversation_id", conv.ID, "error", err)
			return
		}
		if err := a.store.SaveMessages(ctx, conv.ID, msgs); err != nil {
			slog.Error("archive messages failed", "conversation_id", conv.ID, "error", err)
			return
		}
		// The archive changed; drop the cached history so the next read refills.
		if a.cache != nil {
			_ = a.cache.Delete(ctx, historyKey(conv.ID, conv.Owner))
		}
	}

	select {
	case a.pending <- job:
	default:
		slog.Warn("archive queue full, dropping snapshot", "conversation_id", conv.ID)
	}
}

// History loads archived messages, serving from cache when possible. Owner
// isolation is enforced by the underlying archive store.
func (a *Archiver) History(ctx context.Context, conversationID, owner string) ([]chat.Message, error) {
	key := historyKey(conversationID, owner)
	if a.cache != nil {
		if data, ok, err := a.cache.Get(ctx, key); err == nil && ok {
			var msgs []chat.Message
			if err := json.Unmarshal(data, &msgs); err == nil {
				return msgs, nil
			}
		}
	}

	msgs, err := a.store.LoadHistory(ctx, conversationID, owner)
	if err != nil {
		return nil, err
	}

	if a.cache != nil {
		if data, err := json.Marshal(msgs); err == nil {
			if err := a.cache.Set(ctx, key, data, a.cacheTTL); err != nil {
				slog.Debug("history cache set failed", "key", key, "error", err)
			}
		}
	}
	return msgs, nil
}

// Invalidate drops the cached history for a conversation.
func (a *Archiver) Invalidate(ctx context.Context, conversationID, owner string) {
	if a.cache != nil {
		_ = a.cache.Delete(ctx, historyKey(conversationID, owner))
	}
}

// Close stops accepting jobs and waits for in-flight writes to finish.
func (a *Archiver) Close(ctx context.Context) error {
	close(a.pending)
	select {
	case <-a.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	// Acquiring the full weight waits out every in-flight write.
	if err := a.sem.Acquire(ctx, a.workers); err != nil {
		return err
	}
	a.sem.Release(a.workers)
	return nil
}

// historyKey builds a cache key that is also a valid JetStream KV key, so
// only dot separators and no colons.
func historyKey(conversationID, owner string) string {
	return fmt.Sprintf("history.%s.%s", conversationID, owner)
}
