package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunExclusive_SameSession(t *testing.T) {
	guard := NewLocalGuard()
	ctx := context.Background()

	started := make(chan struct{})
	finish := make(chan struct{})
	done := make(chan string, 1)

	go func() {
		result, err := RunExclusive(ctx, guard, "s1", func(ctx context.Context) (string, error) {
			close(started)
			<-finish
			return "first", nil
		})
		assert.NoError(t, err)
		done <- result
	}()

	<-started

	_, err := RunExclusive(ctx, guard, "s1", func(ctx context.Context) (string, error) {
		t.Fatal("second run must not execute")
		return "", nil
	})
	assert.ErrorIs(t, err, ErrSessionBusy)

	close(finish)
	assert.Equal(t, "first", <-done)

	result, err := RunExclusive(ctx, guard, "s1", func(ctx context.Context) (string, error) {
		return "third", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "third", result)
}

func TestRunExclusive_DifferentSessions(t *testing.T) {
	guard := NewLocalGuard()
	ctx := context.Background()

	var wg sync.WaitGroup
	barrier := make(chan struct{})
	errs := make(chan error, 2)

	for _, id := range []string{"a", "b"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := RunExclusive(ctx, guard, id, func(ctx context.Context) (struct{}, error) {
				<-barrier
				return struct{}{}, nil
			})
			errs <- err
		}(id)
	}

	// both runs are inside their critical sections at the same time
	time.Sleep(20 * time.Millisecond)
	close(barrier)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestRunExclusive_ReleasesOnError(t *testing.T) {
	guard := NewLocalGuard()
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := RunExclusive(ctx, guard, "s1", func(ctx context.Context) (int, error) {
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)

	n, err := RunExclusive(ctx, guard, "s1", func(ctx context.Context) (int, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestRunExclusive_ReleasesOnPanic(t *testing.T) {
	guard := NewLocalGuard()
	ctx := context.Background()

	assert.Panics(t, func() {
		_, _ = RunExclusive(ctx, guard, "s1", func(ctx context.Context) (int, error) {
			panic("boom")
		})
	})

	_, err := RunExclusive(ctx, guard, "s1", func(ctx context.Context) (int, error) {
		return 1, nil
	})
	assert.NoError(t, err)
}

func TestLocalGuard_Evict(t *testing.T) {
	guard := NewLocalGuard()
	ctx := context.Background()

	release, err := guard.TryAcquire(ctx, "s1")
	require.NoError(t, err)
	release()
	release()
	assert.Equal(t, 1, guard.Len())

	guard.Evict("s1")
	assert.Equal(t, 0, guard.Len())

	release, err = guard.TryAcquire(ctx, "s1")
	require.NoError(t, err)
	release()
}

func TestRedisGuard_Unreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	guard := NewRedisGuardWithClient(client, "", 0)

	_, err := guard.TryAcquire(context.Background(), "s1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSessionBusy)
	assert.Contains(t, err.Error(), "failed to acquire session lease")
}

func TestNewRedisGuard_Validation(t *testing.T) {
	_, err := NewRedisGuard(context.Background(), RedisGuardConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis address is required")
}
