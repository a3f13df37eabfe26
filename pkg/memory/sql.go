package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/nanobot/internal/observability"
	"github.com/harun/nanobot/pkg/storage"
	"github.com/rs/zerolog"
)

// Repository persists conversation rows
type Repository interface {
	Append(ctx context.Context, sessionID string, msgs []Message) error
	List(ctx context.Context, sessionID string) ([]Message, error)
	Delete(ctx context.Context, sessionID string) error
	MaxSequence(ctx context.Context, sessionID string) (int64, error)
}

const sqliteMessagesSchema = `CREATE TABLE IF NOT EXISTS chat_messages (
	message_id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT,
	tool_calls TEXT,
	tool_call_id TEXT,
	tool_name TEXT,
	created_at INTEGER NOT NULL,
	sequence_number INTEGER NOT NULL
)`

const sqliteMessagesIndex = `CREATE INDEX IF NOT EXISTS idx_chat_messages_session
	ON chat_messages(session_id, sequence_number)`

const mysqlMessagesSchema = `CREATE TABLE IF NOT EXISTS chat_messages (
	message_id VARCHAR(64) PRIMARY KEY,
	session_id VARCHAR(64) NOT NULL,
	role VARCHAR(16) NOT NULL,
	content LONGTEXT,
	tool_calls TEXT,
	tool_call_id VARCHAR(64),
	tool_name VARCHAR(255),
	created_at BIGINT NOT NULL,
	sequence_number BIGINT NOT NULL,
	INDEX idx_chat_messages_session (session_id, sequence_number)
)`

// SQLRepository stores messages in the chat_messages table
type SQLRepository struct {
	db     *storage.DB
	logger zerolog.Logger
}

// NewSQLRepository creates the table if needed
func NewSQLRepository(ctx context.Context, db *storage.DB, logger zerolog.Logger) (*SQLRepository, error) {
	if db == nil {
		return nil, errors.New("database is required")
	}

	var stmts []string
	switch db.Dialect {
	case storage.DialectMySQL:
		stmts = []string{mysqlMessagesSchema}
	default:
		stmts = []string{sqliteMessagesSchema, sqliteMessagesIndex}
	}
	if err := db.Migrate(ctx, stmts...); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLRepository{db: db, logger: logger}, nil
}

// Append inserts msgs for sessionID in one transaction
func (r *SQLRepository) Append(ctx context.Context, sessionID string, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO chat_messages
		(message_id, session_id, role, content, tool_calls, tool_call_id, tool_name, created_at, sequence_number)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range msgs {
		var toolCalls sql.NullString
		if len(m.ToolCalls) > 0 {
			raw, err := json.Marshal(m.ToolCalls)
			if err != nil {
				return fmt.Errorf("failed to encode tool calls: %w", err)
			}
			toolCalls = sql.NullString{String: string(raw), Valid: true}
		}

		if _, err := stmt.ExecContext(ctx,
			m.ID,
			sessionID,
			string(m.Role),
			m.Content,
			toolCalls,
			nullable(m.ToolCallID),
			nullable(m.ToolName),
			m.CreatedAt.UnixMilli(),
			m.Sequence,
		); err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit messages: %w", err)
	}

	r.logger.Debug().
		Str("sessionId", sessionID).
		Int("count", len(msgs)).
		Msg("Saved messages")
	return nil
}

// List returns the session's messages in sequence order
func (r *SQLRepository) List(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT message_id, role, content, tool_calls, tool_call_id, tool_name, created_at, sequence_number
		FROM chat_messages WHERE session_id = ? ORDER BY sequence_number ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m                                    Message
			role                                 string
			content, toolCalls, callID, toolName sql.NullString
			createdAt                            int64
		)
		if err := rows.Scan(&m.ID, &role, &content, &toolCalls, &callID, &toolName, &createdAt, &m.Sequence); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}

		m.Role = Role(role)
		m.Content = content.String
		m.CreatedAt = time.UnixMilli(createdAt)

		switch m.Role {
		case RoleAssistant:
			if toolCalls.Valid && toolCalls.String != "" {
				if err := json.Unmarshal([]byte(toolCalls.String), &m.ToolCalls); err != nil {
					r.logger.Warn().Err(err).Str("messageId", m.ID).Msg("Failed to decode tool calls")
				}
			}
		case RoleTool:
			m.ToolCallID = callID.String
			m.ToolName = toolName.String
		}

		out = append(out, m)
	}
	return out, rows.Err()
}

// Delete removes every message of the session
func (r *SQLRepository) Delete(ctx context.Context, sessionID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	r.logger.Info().Str("sessionId", sessionID).Msg("Cleared all messages")
	return nil
}

// MaxSequence returns the highest stored sequence, or 0
func (r *SQLRepository) MaxSequence(ctx context.Context, sessionID string) (int64, error) {
	var seq sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT MAX(sequence_number) FROM chat_messages WHERE session_id = ?`, sessionID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to read max sequence: %w", err)
	}
	return seq.Int64, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// SQLStore is a Store persisted through a Repository. Its sequence counter is
// seeded from the highest persisted sequence so restarts keep ordering.
type SQLStore struct {
	repo      Repository
	sessionID string
	mu        sync.Mutex
	seq       int64
}

// NewSQLStore opens the conversation of sessionID
func NewSQLStore(ctx context.Context, repo Repository, sessionID string) (*SQLStore, error) {
	seq, err := repo.MaxSequence(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &SQLStore{repo: repo, sessionID: sessionID, seq: seq}, nil
}

// Append persists one message
func (s *SQLStore) Append(ctx context.Context, msg Message) error {
	return s.AppendAll(ctx, []Message{msg})
}

// AppendAll persists msgs with consecutive sequence numbers
func (s *SQLStore) AppendAll(ctx context.Context, msgs []Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	numbered := make([]Message, len(msgs))
	next := s.seq
	for i, m := range msgs {
		next++
		m.Sequence = next
		numbered[i] = m
	}

	if err := s.repo.Append(ctx, s.sessionID, numbered); err != nil {
		return err
	}
	s.seq = next

	observability.RecordContextWrite("sql", len(msgs))
	return nil
}

// All returns the persisted conversation
func (s *SQLStore) All(ctx context.Context) ([]Message, error) {
	msgs, err := s.repo.List(ctx, s.sessionID)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []Message{}
	}
	return msgs, nil
}

// WorkingContext returns the window sent to the model
func (s *SQLStore) WorkingContext(ctx context.Context, limit int) ([]Message, error) {
	msgs, err := s.repo.List(ctx, s.sessionID)
	if err != nil {
		return nil, err
	}
	return Window(msgs, limit), nil
}

// Recent returns the last n messages
func (s *SQLStore) Recent(ctx context.Context, n int) ([]Message, error) {
	msgs, err := s.repo.List(ctx, s.sessionID)
	if err != nil {
		return nil, err
	}
	return Recent(msgs, n), nil
}

// Len returns the number of persisted messages
func (s *SQLStore) Len(ctx context.Context) (int, error) {
	msgs, err := s.repo.List(ctx, s.sessionID)
	if err != nil {
		return 0, err
	}
	return len(msgs), nil
}

// Clear deletes the conversation
func (s *SQLStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.Delete(ctx, s.sessionID); err != nil {
		return err
	}
	s.seq = 0
	return nil
}

// SQLBackend hands out one SQLStore per session over a shared Repository
type SQLBackend struct {
	repo   Repository
	mu     sync.Mutex
	stores map[string]*SQLStore
}

// NewSQLBackend creates a backend over repo
func NewSQLBackend(repo Repository) *SQLBackend {
	return &SQLBackend{repo: repo, stores: make(map[string]*SQLStore)}
}

// Store returns the cached store of a session, opening it on first use
func (b *SQLBackend) Store(ctx context.Context, sessionID string) (Store, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s, ok := b.stores[sessionID]; ok {
		return s, nil
	}

	s, err := NewSQLStore(ctx, b.repo, sessionID)
	if err != nil {
		return nil, err
	}
	b.stores[sessionID] = s
	return s, nil
}

// Evict drops the cached store; persisted rows are kept
func (b *SQLBackend) Evict(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.stores, sessionID)
}
