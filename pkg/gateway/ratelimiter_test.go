package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(perMinute, concurrent int) (*ClientRateLimiter, *time.Time) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewClientRateLimiter(RateLimit{RequestsPerMinute: perMinute, MaxConcurrent: concurrent})
	limiter.now = func() time.Time { return now }
	return limiter, &now
}

func TestClientRateLimiter_Acquire(t *testing.T) {
	t.Run("should allow requests under limit", func(t *testing.T) {
		limiter, _ := newTestLimiter(10, 5)

		for i := 0; i < 5; i++ {
			assert.Nil(t, limiter.Acquire())
		}
	})

	t.Run("should reject when concurrent limit exceeded", func(t *testing.T) {
		limiter, _ := newTestLimiter(100, 3)

		for i := 0; i < 3; i++ {
			require.Nil(t, limiter.Acquire())
		}

		rpcErr := limiter.Acquire()
		require.NotNil(t, rpcErr)
		assert.Equal(t, TooManyConcurrent, rpcErr.Code)
		assert.Equal(t, "too many concurrent requests", rpcErr.Message)
	})

	t.Run("should reject when rate limit exceeded", func(t *testing.T) {
		limiter, _ := newTestLimiter(5, 10)

		for i := 0; i < 5; i++ {
			require.Nil(t, limiter.Acquire())
			limiter.Release()
		}

		rpcErr := limiter.Acquire()
		require.NotNil(t, rpcErr)
		assert.Equal(t, RateLimitExceeded, rpcErr.Code)
	})

	t.Run("should allow requests after window expires", func(t *testing.T) {
		limiter, now := newTestLimiter(2, 10)

		for i := 0; i < 2; i++ {
			require.Nil(t, limiter.Acquire())
			limiter.Release()
		}
		assert.NotNil(t, limiter.Acquire())

		*now = now.Add(61 * time.Second)
		assert.Nil(t, limiter.Acquire())
	})

	t.Run("rejected requests do not count", func(t *testing.T) {
		limiter, _ := newTestLimiter(100, 1)

		require.Nil(t, limiter.Acquire())
		require.NotNil(t, limiter.Acquire())

		requests, concurrent := limiter.GetStats()
		assert.Equal(t, 1, requests)
		assert.Equal(t, 1, concurrent)
	})
}

func TestClientRateLimiter_Release(t *testing.T) {
	limiter, _ := newTestLimiter(100, 10)

	require.Nil(t, limiter.Acquire())
	require.Nil(t, limiter.Acquire())

	_, concurrent := limiter.GetStats()
	assert.Equal(t, 2, concurrent)

	limiter.Release()
	limiter.Release()
	limiter.Release()

	requests, concurrent := limiter.GetStats()
	assert.Equal(t, 0, concurrent, "should not go negative")
	assert.Equal(t, 2, requests)
}

func TestClientRateLimiter_Defaults(t *testing.T) {
	limiter := NewClientRateLimiter(RateLimit{})
	assert.Equal(t, DefaultRateLimit(), limiter.limit)
}

func TestClientRateLimiter_UpdateLimits(t *testing.T) {
	limiter, _ := newTestLimiter(10, 5)

	for i := 0; i < 3; i++ {
		require.Nil(t, limiter.Acquire())
	}

	limiter.UpdateLimits(RateLimit{RequestsPerMinute: 20, MaxConcurrent: 10})

	for i := 0; i < 7; i++ {
		assert.Nil(t, limiter.Acquire())
	}

	rpcErr := limiter.Acquire()
	require.NotNil(t, rpcErr)
	assert.Equal(t, TooManyConcurrent, rpcErr.Code)
}
