package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/Nzyazin/ledger/internal/core/logger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix   = "ledger:lock:wallet:"
	redisRetryDelay  = 10 * time.Millisecond
	redisReleaseWait = time.Second
)

// Deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisBackend struct {
	client redis.UniversalClient
	ttl    time.Duration
	log    logger.Logger
}

// NewRedisManager locks wallets across processes sharing one redis. ttl bounds
// how long a lock outlives a crashed holder.
func NewRedisManager(client redis.UniversalClient, timeout, ttl time.Duration, log logger.Logger) Manager {
	return newManager(&redisBackend{client: client, ttl: ttl, log: log}, timeout, log)
}

func (b *redisBackend) name() string { return "redis" }

func (b *redisBackend) acquire(ctx context.Context, id uuid.UUID) (func(), error) {
	key := redisKeyPrefix + id.String()
	token := uuid.NewString()

	for {
		ok, err := b.client.SetNX(ctx, key, token, b.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("redis setnx %s: %w", key, err)
		}
		if ok {
			return func() { b.release(key, token) }, nil
		}

		timer := time.NewTimer(redisRetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (b *redisBackend) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), redisReleaseWait)
	defer cancel()
	if err := releaseScript.Run(ctx, b.client, []string{key}, token).Err(); err != nil {
		b.log.Warn("Redis lock release failed",
			logger.StringField("key", key),
			logger.ErrorField("error", err))
	}
}
