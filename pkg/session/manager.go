package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harun/nanobot/internal/observability"
	"github.com/harun/nanobot/pkg/storage"
	"github.com/rs/zerolog/log"
)

// ErrSessionNotFound is returned when no session record exists
var ErrSessionNotFound = errors.New("session not found")

// Session is a conversation bound to one agent profile
type Session struct {
	SessionID string    `json:"sessionId"`
	AgentID   string    `json:"agentId"`
	UserID    string    `json:"userId"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store persists session records
type Store interface {
	Save(ctx context.Context, s *Session) error
	Get(ctx context.Context, sessionID string) (*Session, error)
	ListActive(ctx context.Context) ([]*Session, error)
}

// Manager owns session records
type Manager struct {
	store Store
	now   func() time.Time
}

// NewManager creates a manager over store
func NewManager(store Store) (*Manager, error) {
	observability.EnsureRegistered()

	if store == nil {
		return nil, errors.New("session store is required")
	}
	return &Manager{store: store, now: time.Now}, nil
}

// Create starts a new active session with a fresh id
func (m *Manager) Create(ctx context.Context, agentID, userID string) (*Session, error) {
	return m.Open(ctx, uuid.New().String(), agentID, userID)
}

// Open creates or reactivates the session with the given id
func (m *Manager) Open(ctx context.Context, sessionID, agentID, userID string) (*Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, errors.New("session id is required")
	}
	if strings.TrimSpace(agentID) == "" {
		return nil, errors.New("agent id is required")
	}
	if userID == "" {
		userID = "anonymous"
	}

	now := m.now()
	s := &Session{
		SessionID: sessionID,
		AgentID:   agentID,
		UserID:    userID,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existing, err := m.store.Get(ctx, sessionID); err == nil {
		s.CreatedAt = existing.CreatedAt
	}
	if err := m.store.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	log.Info().
		Str("sessionId", sessionID).
		Str("agentId", agentID).
		Str("userId", userID).
		Msg("Session created")

	m.updateActiveSessionsMetric(ctx)
	return s, nil
}

// Get returns a session record, active or not
func (m *Manager) Get(ctx context.Context, sessionID string) (*Session, error) {
	return m.store.Get(ctx, sessionID)
}

// GetActive returns the session only while it is active
func (m *Manager) GetActive(ctx context.Context, sessionID string) (*Session, error) {
	s, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !s.Active {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Touch bumps UpdatedAt
func (m *Manager) Touch(ctx context.Context, sessionID string) error {
	s, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	s.UpdatedAt = m.now()
	return m.store.Save(ctx, s)
}

// Close marks the session inactive. Closing an unknown session is an error.
func (m *Manager) Close(ctx context.Context, sessionID string) (*Session, error) {
	s, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	s.Active = false
	s.UpdatedAt = m.now()
	if err := m.store.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	log.Info().Str("sessionId", sessionID).Msg("Session closed")
	m.updateActiveSessionsMetric(ctx)
	return s, nil
}

// ListActive returns active sessions, most recently updated first
func (m *Manager) ListActive(ctx context.Context) ([]*Session, error) {
	return m.store.ListActive(ctx)
}

func (m *Manager) updateActiveSessionsMetric(ctx context.Context) {
	sessions, err := m.store.ListActive(ctx)
	if err != nil {
		return
	}
	observability.SetActiveSessions(len(sessions))
}

// MemoryStore keeps session records in process memory
type MemoryStore struct {
	sessions map[string]Session
	mu       sync.RWMutex
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Session)}
}

func (s *MemoryStore) Save(ctx context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sessions[sess.SessionID]; ok && !existing.CreatedAt.IsZero() {
		sess.CreatedAt = existing.CreatedAt
	}
	s.sessions[sess.SessionID] = *sess
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return &sess, nil
}

func (s *MemoryStore) ListActive(ctx context.Context) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Session
	for _, sess := range s.sessions {
		if sess.Active {
			cp := sess
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

const sqliteSessionsSchema = `CREATE TABLE IF NOT EXISTS chat_sessions (
	session_id TEXT PRIMARY KEY,
	agent_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	active INTEGER NOT NULL DEFAULT 1,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
)`

const mysqlSessionsSchema = `CREATE TABLE IF NOT EXISTS chat_sessions (
	session_id VARCHAR(64) PRIMARY KEY,
	agent_id VARCHAR(128) NOT NULL,
	user_id VARCHAR(128) NOT NULL,
	active TINYINT(1) NOT NULL DEFAULT 1,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL,
	INDEX idx_chat_sessions_active (active, updated_at)
)`

// SQLStore keeps session records in the chat_sessions table
type SQLStore struct {
	db *storage.DB
}

// NewSQLStore creates the table if needed
func NewSQLStore(ctx context.Context, db *storage.DB) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("database is required")
	}

	schema := sqliteSessionsSchema
	if db.Dialect == storage.DialectMySQL {
		schema = mysqlSessionsSchema
	}
	if err := db.Migrate(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Save(ctx context.Context, sess *Session) error {
	var stmt string
	if s.db.Dialect == storage.DialectMySQL {
		stmt = `INSERT INTO chat_sessions (session_id, agent_id, user_id, active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE agent_id = VALUES(agent_id), user_id = VALUES(user_id),
				active = VALUES(active), updated_at = VALUES(updated_at)`
	} else {
		stmt = `INSERT INTO chat_sessions (session_id, agent_id, user_id, active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(session_id) DO UPDATE SET agent_id = excluded.agent_id, user_id = excluded.user_id,
				active = excluded.active, updated_at = excluded.updated_at`
	}

	_, err := s.db.ExecContext(ctx, stmt,
		sess.SessionID,
		sess.AgentID,
		sess.UserID,
		sess.Active,
		sess.CreatedAt.UnixMilli(),
		sess.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT session_id, agent_id, user_id, active, created_at, updated_at
		FROM chat_sessions WHERE session_id = ?`, sessionID)

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return sess, nil
}

func (s *SQLStore) ListActive(ctx context.Context) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT session_id, agent_id, user_id, active, created_at, updated_at
		FROM chat_sessions WHERE active = ? ORDER BY updated_at DESC`, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(sc scanner) (*Session, error) {
	var (
		sess             Session
		created, updated int64
	)
	if err := sc.Scan(&sess.SessionID, &sess.AgentID, &sess.UserID, &sess.Active, &created, &updated); err != nil {
		return nil, err
	}
	sess.CreatedAt = time.UnixMilli(created)
	sess.UpdatedAt = time.UnixMilli(updated)
	return &sess, nil
}
