package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campuskit/tutorcore/internal/domain"
	"github.com/campuskit/tutorcore/internal/domain/chat"
)

// Store implements the archive port on top of pgxpool.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) SaveConversation(ctx context.Context, c *chat.Conversation) error {
	state, err := json.Marshal(c.SessionState)
	if err != nil {
		return fmt.Errorf("marshal session state: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO conversations (id, owner_id, mode, session_state, created_at, last_active_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE
		 SET mode = EXCLUDED.mode,
		     session_state = EXCLUDED.session_state,
		     last_active_at = EXCLUDED.last_active_at`,
		c.ID, c.Owner, c.Mode, state, c.CreatedAt, c.LastActiveAt)
	if err != nil {
		return fmt.Errorf("save conversation %s: %w", c.ID, err)
	}
	return nil
}

func (s *Store) SaveMessages(ctx context.Context, conversationID string, msgs []chat.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, m := range msgs {
		batch.Queue(
			`INSERT INTO conversation_messages (id, conversation_id, role, content, mode, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (id) DO NOTHING`,
			m.ID, conversationID, m.Role, m.Content, m.Mode, m.CreatedAt)
	}
	res := s.pool.SendBatch(ctx, batch)
	defer func() { _ = res.Close() }()
	for range msgs {
		if _, err := res.Exec(); err != nil {
			return fmt.Errorf("save messages for %s: %w", conversationID, err)
		}
	}
	return nil
}

func (s *Store) LoadHistory(ctx context.Context, conversationID, owner string) ([]chat.Message, error) {
	var storedOwner string
	err := s.pool.QueryRow(ctx,
		`SELECT owner_id FROM conversations WHERE id = $1`, conversationID,
	).Scan(&storedOwner)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("conversation %s: %w", conversationID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("load conversation %s: %w", conversationID, err)
	}
	if storedOwner != owner {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, domain.ErrAccessDenied)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, role, content, mode, created_at
		 FROM conversation_messages WHERE conversation_id = $1 ORDER BY created_at ASC, id ASC`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("load history %s: %w", conversationID, err)
	}
	defer rows.Close()

	var result []chat.Message
	for rows.Next() {
		var m chat.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.Mode, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		result = append(result, m)
	}
	return result, rows.Err()
}
