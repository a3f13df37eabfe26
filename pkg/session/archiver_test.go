package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingCloser struct {
	manager *Manager
	mu      sync.Mutex
	closed  []string
}

func (c *recordingCloser) CloseHeldSession(ctx context.Context, sessionID string) (*Session, error) {
	c.mu.Lock()
	c.closed = append(c.closed, sessionID)
	c.mu.Unlock()
	return c.manager.Close(ctx, sessionID)
}

func TestNewArchiver_Defaults(t *testing.T) {
	manager, err := NewManager(NewMemoryStore())
	require.NoError(t, err)

	a := NewArchiver(manager, &recordingCloser{manager: manager}, NewLocalGuard(), 0)
	assert.Equal(t, DefaultIdleTimeout, a.GetIdleTimeout())
	assert.Equal(t, DefaultArchiveInterval, a.interval)

	a = NewArchiver(manager, &recordingCloser{manager: manager}, NewLocalGuard(), time.Minute)
	assert.Equal(t, time.Minute, a.interval)
}

func TestArchiver_ArchiveIdle(t *testing.T) {
	ctx := context.Background()
	manager, err := NewManager(NewMemoryStore())
	require.NoError(t, err)

	guard := NewLocalGuard()
	closer := &recordingCloser{manager: manager}
	a := NewArchiver(manager, closer, guard, 30*time.Minute)

	idle, err := manager.Create(ctx, "general-assistant", "u1")
	require.NoError(t, err)
	busy, err := manager.Create(ctx, "general-assistant", "u2")
	require.NoError(t, err)

	t.Run("should keep fresh sessions", func(t *testing.T) {
		n, err := a.ArchiveIdle(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	a.now = func() time.Time { return time.Now().Add(time.Hour) }

	release, err := guard.TryAcquire(ctx, busy.SessionID)
	require.NoError(t, err)

	t.Run("should close idle sessions and skip busy ones", func(t *testing.T) {
		n, err := a.ArchiveIdle(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, []string{idle.SessionID}, closer.closed)

		_, err = manager.GetActive(ctx, idle.SessionID)
		assert.ErrorIs(t, err, ErrSessionNotFound)

		_, err = manager.GetActive(ctx, busy.SessionID)
		assert.NoError(t, err)
	})

	release()

	t.Run("should close the session once released", func(t *testing.T) {
		n, err := a.ArchiveIdle(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		active, err := manager.ListActive(ctx)
		require.NoError(t, err)
		assert.Empty(t, active)
	})
}

func TestArchiver_StartStop(t *testing.T) {
	manager, err := NewManager(NewMemoryStore())
	require.NoError(t, err)

	a := NewArchiver(manager, &recordingCloser{manager: manager}, NewLocalGuard(), time.Minute)
	assert.False(t, a.IsRunning())

	a.Start()
	a.Start()
	assert.True(t, a.IsRunning())

	a.Stop()
	a.Stop()
	assert.False(t, a.IsRunning())
}
