package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// releaseScript deletes the lease only if it still carries our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisGuardConfig describes the redis connection and lease behaviour
type RedisGuardConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
	LeaseTTL  time.Duration
}

// RedisGuard shares session leases between replicas through redis.
// A lease expires after LeaseTTL so a crashed holder cannot wedge a session.
type RedisGuard struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisGuard connects to redis and verifies it is reachable
func NewRedisGuard(ctx context.Context, cfg RedisGuardConfig) (*RedisGuard, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisGuardWithClient(client, cfg.KeyPrefix, cfg.LeaseTTL), nil
}

// NewRedisGuardWithClient wraps an existing client
func NewRedisGuardWithClient(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisGuard {
	if prefix == "" {
		prefix = "nanobot:session:lock:"
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisGuard{client: client, prefix: prefix, ttl: ttl}
}

func (g *RedisGuard) key(sessionID string) string {
	return g.prefix + sessionID
}

func (g *RedisGuard) TryAcquire(ctx context.Context, sessionID string) (func(), error) {
	token := gonanoid.Must()

	ok, err := g.client.SetNX(ctx, g.key(sessionID), token, g.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire session lease: %w", err)
	}
	if !ok {
		return nil, ErrSessionBusy
	}

	return func() {
		// the caller's ctx may already be cancelled; release must still run
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := releaseScript.Run(releaseCtx, g.client, []string{g.key(sessionID)}, token).Err(); err != nil {
			log.Error().Err(err).Str("sessionId", sessionID).Msg("Failed to release session lease")
		}
	}, nil
}

// Evict is a no-op: leases are released by their holder or expire
func (g *RedisGuard) Evict(sessionID string) {}

// Close closes the redis client
func (g *RedisGuard) Close() error {
	return g.client.Close()
}
