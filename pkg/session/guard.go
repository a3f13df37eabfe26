package session

import (
	"context"
	"errors"
	"sync"

	"github.com/harun/nanobot/internal/observability"
	"github.com/rs/zerolog/log"
)

// ErrSessionBusy is returned when another request already holds the session
var ErrSessionBusy = errors.New("session is busy processing another request")

// Guard admits at most one in-flight run per session. Acquisition never
// waits: a held session is rejected with ErrSessionBusy.
type Guard interface {
	TryAcquire(ctx context.Context, sessionID string) (release func(), err error)
	Evict(sessionID string)
}

// Acquire takes the session for work that outlives the caller, such as a
// streamed run. The caller must call release exactly when the work ends.
func Acquire(ctx context.Context, g Guard, sessionID string) (release func(), err error) {
	release, err = g.TryAcquire(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionBusy) {
			observability.RecordSessionBusy()
			log.Warn().Str("sessionId", sessionID).Msg("Session busy, request rejected")
		}
		return nil, err
	}
	return release, nil
}

// RunExclusive runs fn while holding the session. The session is released
// when fn returns or panics.
func RunExclusive[T any](ctx context.Context, g Guard, sessionID string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	release, err := Acquire(ctx, g, sessionID)
	if err != nil {
		return zero, err
	}
	defer release()

	return fn(ctx)
}

// LocalGuard keeps one mutex per session in process memory
type LocalGuard struct {
	locks map[string]*sync.Mutex
	mu    sync.Mutex
}

// NewLocalGuard creates an empty guard
func NewLocalGuard() *LocalGuard {
	return &LocalGuard{locks: make(map[string]*sync.Mutex)}
}

func (g *LocalGuard) lockFor(sessionID string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()

	if lock, exists := g.locks[sessionID]; exists {
		return lock
	}

	lock := &sync.Mutex{}
	g.locks[sessionID] = lock
	return lock
}

// TryAcquire locks the session or fails with ErrSessionBusy
func (g *LocalGuard) TryAcquire(ctx context.Context, sessionID string) (func(), error) {
	lock := g.lockFor(sessionID)
	if !lock.TryLock() {
		return nil, ErrSessionBusy
	}

	var once sync.Once
	return func() { once.Do(lock.Unlock) }, nil
}

// Evict forgets the session's lock. Callers must hold the session; the
// holder keeps its own reference and still releases normally.
func (g *LocalGuard) Evict(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.locks, sessionID)
}

// Len returns the number of tracked sessions
func (g *LocalGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.locks)
}
