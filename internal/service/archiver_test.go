package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/campuskit/tutorcore/internal/domain/chat"
)

// fakeArchive records saved conversations and messages in memory.
type fakeArchive struct {
	mu    sync.Mutex
	convs map[string]chat.Conversation
	msgs  map[string][]chat.Message
	loads int
}

func newFakeArchive() *fakeArchive {
	return &fakeArchive{
		convs: make(map[string]chat.Conversation),
		msgs:  make(map[string][]chat.Message),
	}
}

func (f *fakeArchive) SaveConversation(_ context.Context, c *chat.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.convs[c.ID] = *c
	return nil
}

func (f *fakeArchive) SaveMessages(_ context.Context, conversationID string, msgs []chat.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[string]bool, len(f.msgs[conversationID]))
	for _, m := range f.msgs[conversationID] {
		seen[m.ID] = true
	}
	for _, m := range msgs {
		if !seen[m.ID] {
			f.msgs[conversationID] = append(f.msgs[conversationID], m)
		}
	}
	return nil
}

func (f *fakeArchive) LoadHistory(_ context.Context, conversationID, _ string) ([]chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	return f.msgs[conversationID], nil
}

func TestArchiver_WriteBehind(t *testing.T) {
	store := newFakeArchive()
	a := NewArchiver(store, nil, time.Minute, 2)

	conv := chat.Conversation{ID: "c1", Owner: "u1", Mode: "general"}
	msgs := []chat.Message{
		{ID: "m1", ConversationID: "c1", Role: chat.RoleUser, Content: "hi"},
		{ID: "m2", ConversationID: "c1", Role: chat.RoleAssistant, Content: "hello"},
	}
	a.Enqueue(conv, msgs)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if _, ok := store.convs["c1"]; !ok {
		t.Fatal("conversation was not archived")
	}
	if len(store.msgs["c1"]) != 2 {
		t.Fatalf("archived messages = %d, want 2", len(store.msgs["c1"]))
	}
}

func TestArchiver_DuplicateMessagesIgnored(t *testing.T) {
	store := newFakeArchive()
	a := NewArchiver(store, nil, time.Minute, 1)

	conv := chat.Conversation{ID: "c1", Owner: "u1", Mode: "general"}
	msgs := []chat.Message{{ID: "m1", ConversationID: "c1", Role: chat.RoleUser, Content: "hi"}}
	a.Enqueue(conv, msgs)
	a.Enqueue(conv, msgs)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.msgs["c1"]) != 1 {
		t.Fatalf("archived messages = %d, want 1", len(store.msgs["c1"]))
	}
}

func TestArchiver_HistoryServedFromCache(t *testing.T) {
	store := newFakeArchive()
	store.msgs["c1"] = []chat.Message{{ID: "m1", ConversationID: "c1", Role: chat.RoleUser, Content: "hi"}}
	cache := newMemCache()
	a := NewArchiver(store, cache, time.Minute, 1)
	ctx := context.Background()

	first, err := a.History(ctx, "c1", "u1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	second, err := a.History(ctx, "c1", "u1")
	if err != nil {
		t.Fatalf("History (cached): %v", err)
	}
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("lengths = %d, %d", len(first), len(second))
	}

	store.mu.Lock()
	loads := store.loads
	store.mu.Unlock()
	if loads != 1 {
		t.Fatalf("archive loads = %d, want 1 (second read from cache)", loads)
	}
}

// memCache is a minimal cache.Cache for archiver tests.
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache { return &memCache{data: make(map[string][]byte)} }

func (m *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}
