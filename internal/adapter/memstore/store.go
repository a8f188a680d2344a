// Package memstore implements the conversation store port in process memory.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/campuskit/tutorcore/internal/domain"
	"github.com/campuskit/tutorcore/internal/domain/chat"
)

// record is one conversation plus its private lock. Locking a record never
// touches the table lock, so operations on distinct conversations run fully
// in parallel; the table RWMutex only guards map membership.
type record struct {
	mu   sync.Mutex
	conv chat.Conversation
}

// Store is the in-memory conversation store. It is the only mutable shared
// resource across concurrent requests and provides per-conversation mutual
// exclusion internally.
type Store struct {
	mu    sync.RWMutex
	convs map[string]*record
	now   func() time.Time // for testing
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		convs: make(map[string]*record),
		now:   time.Now,
	}
}

// GetOrCreate returns the conversation with the given id, enforcing ownership,
// or creates a fresh one when id is empty.
func (s *Store) GetOrCreate(_ context.Context, id, owner, mode string) (*chat.Conversation, error) {
	if id != "" {
		rec, ok := s.lookup(id)
		if !ok {
			return s.create(id, owner, mode)
		}
		rec.mu.Lock()
		defer rec.mu.Unlock()
		if rec.conv.Owner != owner {
			return nil, fmt.Errorf("conversation %s: %w", id, domain.ErrAccessDenied)
		}
		c := snapshot(&rec.conv)
		return &c, nil
	}
	return s.create(uuid.NewString(), owner, mode)
}

func (s *Store) create(id, owner, mode string) (*chat.Conversation, error) {
	now := s.now().UTC()
	rec := &record{conv: chat.Conversation{
		ID:           id,
		Owner:        owner,
		Mode:         mode,
		SessionState: chat.SessionState{},
		CreatedAt:    now,
		LastActiveAt: now,
	}}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Lost race on an explicit id: keep the existing record, but still
	// enforce ownership before handing it back.
	if existing, ok := s.convs[id]; ok {
		existing.mu.Lock()
		defer existing.mu.Unlock()
		if existing.conv.Owner != owner {
			return nil, fmt.Errorf("conversation %s: %w", id, domain.ErrAccessDenied)
		}
		c := snapshot(&existing.conv)
		return &c, nil
	}
	s.convs[id] = rec
	c := snapshot(&rec.conv)
	return &c, nil
}

// Append atomically appends one message and bumps LastActiveAt.
func (s *Store) Append(_ context.Context, conversationID string, msg chat.Message) (*chat.Message, error) {
	rec, ok := s.lookup(conversationID)
	if !ok {
		return nil, fmt.Errorf("append to conversation %s: %w", conversationID, domain.ErrNotFound)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.ConversationID = conversationID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now().UTC()
	}
	rec.conv.Messages = append(rec.conv.Messages, msg)
	rec.conv.LastActiveAt = s.now().UTC()
	return &msg, nil
}

// History returns the ordered messages of a conversation.
func (s *Store) History(_ context.Context, conversationID, owner string) ([]chat.Message, error) {
	rec, err := s.owned(conversationID, owner)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := make([]chat.Message, len(rec.conv.Messages))
	copy(out, rec.conv.Messages)
	return out, nil
}

// Clear truncates messages and resets session state. Ownership and mode survive.
func (s *Store) Clear(_ context.Context, conversationID, owner string) error {
	rec, err := s.owned(conversationID, owner)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.conv.Messages = nil
	rec.conv.SessionState = chat.SessionState{}
	rec.conv.LastActiveAt = s.now().UTC()
	return nil
}

// SessionState returns a copy of the conversation's session state.
func (s *Store) SessionState(_ context.Context, conversationID, owner string) (chat.SessionState, error) {
	rec, err := s.owned(conversationID, owner)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.conv.SessionState.Clone(), nil
}

// SetSessionState replaces the conversation's session state.
func (s *Store) SetSessionState(_ context.Context, conversationID, owner string, state chat.SessionState) error {
	rec, err := s.owned(conversationID, owner)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.conv.SessionState = state.Clone()
	rec.conv.LastActiveAt = s.now().UTC()
	return nil
}

// Count returns the number of conversations held.
func (s *Store) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.convs), nil
}

func (s *Store) lookup(id string) (*record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.convs[id]
	return rec, ok
}

func (s *Store) owned(id, owner string) (*record, error) {
	rec, ok := s.lookup(id)
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, domain.ErrNotFound)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.conv.Owner != owner {
		return nil, fmt.Errorf("conversation %s: %w", id, domain.ErrAccessDenied)
	}
	return rec, nil
}

// snapshot copies a conversation so callers never alias the live slices.
func snapshot(c *chat.Conversation) chat.Conversation {
	out := *c
	out.Messages = make([]chat.Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	out.SessionState = c.SessionState.Clone()
	return out
}
