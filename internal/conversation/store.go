// Package conversation persists chat turns and bounds how much history
// is retrieved per conversation, grounded on original_source's
// ConversationStore ABC (chat.py) and its InMemory/Postgres
// implementations.
package conversation

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Turn is one question/answer pair in a conversation.
type Turn struct {
	Question  string
	Answer    string
	Timestamp time.Time
}

// maxTurns bounds how many turns any store keeps per conversation,
// mirroring original_source's hardcoded "keep only last 10 turns".
const maxTurns = 10

// MaxTurns returns the bound every store implementation applies, so
// callers can request a full history without hardcoding the constant
// themselves.
func MaxTurns() int { return maxTurns }

// Store persists conversation turns.
type Store interface {
	SaveTurn(ctx context.Context, conversationID, question, answer string) error
	GetHistory(ctx context.Context, conversationID string, limit int) ([]Turn, error)
}

// NewConversationID mints a fresh conversation identifier.
func NewConversationID() string {
	return uuid.NewString()
}

// InMemoryStore is a mutex-guarded per-process conversation store, for
// deployments that don't need persistence across restarts.
type InMemoryStore struct {
	mu            sync.Mutex
	conversations map[string][]Turn
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{conversations: make(map[string][]Turn)}
}

func (s *InMemoryStore) SaveTurn(_ context.Context, conversationID, question, answer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := append(s.conversations[conversationID], Turn{
		Question:  question,
		Answer:    answer,
		Timestamp: time.Now(),
	})
	if len(turns) > maxTurns {
		turns = turns[len(turns)-maxTurns:]
	}
	s.conversations[conversationID] = turns
	return nil
}

func (s *InMemoryStore) GetHistory(_ context.Context, conversationID string, limit int) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := s.conversations[conversationID]
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out, nil
}

// PostgresStore persists conversations and messages durably. Unlike
// original_source's PostgresConversationStore — which issues the
// conversation-upsert and the two-message insert as separate
// statements relying on the caller to call commit() once — SaveTurn
// wraps both in a single database/sql transaction so a crash between
// the two inserts can never leave a question without its answer.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) SaveTurn(ctx context.Context, conversationID, question, answer string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin conversation transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (id, created_at, updated_at)
		VALUES ($1, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT (id) DO UPDATE SET updated_at = CURRENT_TIMESTAMP
	`, conversationID); err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, role, content, created_at)
		VALUES
			($1, 'user', $2, CURRENT_TIMESTAMP),
			($1, 'assistant', $3, CURRENT_TIMESTAMP)
	`, conversationID, question, answer); err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}

	return tx.Commit()
}

func (s *PostgresStore) GetHistory(ctx context.Context, conversationID string, limit int) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, created_at FROM (
			SELECT role, content, created_at
			FROM messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC
	`, conversationID, limit*2)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	type message struct {
		role      string
		content   string
		createdAt time.Time
	}
	var messages []message
	for rows.Next() {
		var m message
		if err := rows.Scan(&m.role, &m.content, &m.createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var turns []Turn
	for i := 0; i+1 < len(messages); {
		if messages[i].role == "user" && messages[i+1].role == "assistant" {
			turns = append(turns, Turn{
				Question:  messages[i].content,
				Answer:    messages[i+1].content,
				Timestamp: messages[i].createdAt,
			})
			i += 2
		} else {
			i++
		}
	}

	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns, nil
}
