package memory

import (
	"context"
	"sync"

	"github.com/harun/nanobot/internal/observability"
)

// InMemoryStore keeps a conversation in process memory
type InMemoryStore struct {
	mu       sync.RWMutex
	messages []Message
	seq      int64
}

// NewInMemoryStore creates an empty store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

// Append adds one message to the end of the conversation
func (s *InMemoryStore) Append(ctx context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	msg.Sequence = s.seq
	s.messages = append(s.messages, msg)

	observability.RecordContextWrite("memory", 1)
	return nil
}

// AppendAll adds msgs in order
func (s *InMemoryStore) AppendAll(ctx context.Context, msgs []Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, msg := range msgs {
		s.seq++
		msg.Sequence = s.seq
		s.messages = append(s.messages, msg)
	}

	observability.RecordContextWrite("memory", len(msgs))
	return nil
}

// All returns a copy of the full conversation
func (s *InMemoryStore) All(ctx context.Context) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out, nil
}

// WorkingContext returns the window sent to the model
func (s *InMemoryStore) WorkingContext(ctx context.Context, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Window(s.messages, limit), nil
}

// Recent returns the last n messages
func (s *InMemoryStore) Recent(ctx context.Context, n int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Recent(s.messages, n), nil
}

// Len returns the number of stored messages
func (s *InMemoryStore) Len(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages), nil
}

// Clear drops every message
func (s *InMemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = nil
	s.seq = 0
	return nil
}

// InMemoryBackend hands out one InMemoryStore per session
type InMemoryBackend struct {
	mu     sync.Mutex
	stores map[string]*InMemoryStore
}

// NewInMemoryBackend creates an empty backend
func NewInMemoryBackend() *InMemoryBackend {
	return &InMemoryBackend{stores: make(map[string]*InMemoryStore)}
}

// Store returns the session's store, creating it on first use
func (b *InMemoryBackend) Store(ctx context.Context, sessionID string) (Store, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.stores[sessionID]
	if !ok {
		s = NewInMemoryStore()
		b.stores[sessionID] = s
	}
	return s, nil
}

// Evict drops the session's history
func (b *InMemoryBackend) Evict(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.stores, sessionID)
}
