package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

const (
	DefaultIdleTimeout     = 30 * time.Minute
	DefaultArchiveInterval = 5 * time.Minute
)

// Closer closes a session the archiver already holds and drops whatever
// the caller caches for it
type Closer interface {
	CloseHeldSession(ctx context.Context, sessionID string) (*Session, error)
}

// Archiver closes active sessions that have been idle longer than the idle
// timeout. A session running a turn is never closed under it.
type Archiver struct {
	manager     *Manager
	closer      Closer
	guard       Guard
	idleTimeout time.Duration
	interval    time.Duration
	now         func() time.Time

	cron    *cron.Cron
	mu      sync.Mutex
	running bool
}

// NewArchiver creates a new session archiver. The sweep runs every
// DefaultArchiveInterval, or every idleTimeout when that is shorter.
func NewArchiver(manager *Manager, closer Closer, guard Guard, idleTimeout time.Duration) *Archiver {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}

	interval := DefaultArchiveInterval
	if idleTimeout < interval {
		interval = idleTimeout
	}

	return &Archiver{
		manager:     manager,
		closer:      closer,
		guard:       guard,
		idleTimeout: idleTimeout,
		interval:    interval,
		now:         time.Now,
	}
}

// Start schedules the idle sweep. Calling Start twice is a no-op.
func (a *Archiver) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return
	}

	a.cron = cron.New()
	a.cron.Schedule(cron.Every(a.interval), cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.interval)
		defer cancel()
		if _, err := a.ArchiveIdle(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to archive idle sessions")
		}
	}))
	a.cron.Start()
	a.running = true

	log.Info().
		Dur("idleTimeout", a.idleTimeout).
		Dur("interval", a.interval).
		Msg("Session archiver started")
}

// Stop halts scheduling and waits for a running sweep to finish
func (a *Archiver) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return
	}

	<-a.cron.Stop().Done()
	a.running = false

	log.Info().Msg("Session archiver stopped")
}

// ArchiveIdle closes every active session idle past the timeout and returns
// how many it closed
func (a *Archiver) ArchiveIdle(ctx context.Context) (int, error) {
	sessions, err := a.manager.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}

	cutoff := a.now().Add(-a.idleTimeout)
	archived := 0

	for _, s := range sessions {
		if s.UpdatedAt.After(cutoff) {
			continue
		}

		ok, err := a.archive(ctx, s.SessionID)
		if err != nil {
			log.Error().Str("sessionId", s.SessionID).Err(err).Msg("Failed to archive session")
			continue
		}
		if ok {
			archived++
		}
	}

	if archived > 0 {
		log.Info().Int("archived", archived).Msg("Archived idle sessions")
	}
	return archived, nil
}

// archive closes one session while holding its guard, skipping busy ones
func (a *Archiver) archive(ctx context.Context, sessionID string) (bool, error) {
	release, err := a.guard.TryAcquire(ctx, sessionID)
	if errors.Is(err, ErrSessionBusy) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer release()

	if _, err := a.closer.CloseHeldSession(ctx, sessionID); err != nil {
		return false, err
	}

	log.Debug().Str("sessionId", sessionID).Msg("Idle session archived")
	return true, nil
}

// IsRunning returns whether the archiver is scheduled
func (a *Archiver) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// GetIdleTimeout returns the idle timeout
func (a *Archiver) GetIdleTimeout() time.Duration {
	return a.idleTimeout
}
