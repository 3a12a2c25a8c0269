// Package checkoutlock provides the per-subscription lock taken while a
// checkout is being created.
package checkoutlock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/medplan/medplan/internal/billing/application"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "medplan:checkout-lock:"

// Deletes the key only while it still holds our token, so a lock that
// expired and was re-acquired by someone else is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements application.CheckoutLocker with SET NX PX.
type RedisLocker struct {
	client redis.UniversalClient
	logger *slog.Logger
}

// NewRedisLocker creates a locker on client.
func NewRedisLocker(client redis.UniversalClient, logger *slog.Logger) *RedisLocker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLocker{client: client, logger: logger}
}

func (l *RedisLocker) Acquire(ctx context.Context, subscriptionID uuid.UUID, ttl time.Duration) (func(), error) {
	key := keyPrefix + subscriptionID.String()
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire checkout lock: %w", err)
	}
	if !ok {
		return nil, application.ErrLockHeld
	}

	return func() {
		// The request context may already be cancelled.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil {
			l.logger.Warn("failed to release checkout lock", "subscription_id", subscriptionID, "error", err)
		}
	}, nil
}

// Ping checks the Redis connection.
func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
