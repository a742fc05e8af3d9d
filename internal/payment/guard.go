package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	guardKeyPrefix = "fiserv:notification:"
	guardTTL       = 30 * time.Second
)

// Guard serializes concurrent deliveries of the same notification. It only
// short-circuits duplicates; the ledger's conditional update is authoritative.
type Guard interface {
	Acquire(ctx context.Context, orderID string) (token string, ok bool, err error)
	Release(ctx context.Context, orderID, token string) error
}

type RedisGuard struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewRedisGuard(client *redis.Client) *RedisGuard {
	return &RedisGuard{Client: client, TTL: guardTTL}
}

func (g *RedisGuard) Acquire(ctx context.Context, orderID string) (string, bool, error) {
	token := uuid.NewString()
	ok, err := g.Client.SetNX(ctx, guardKeyPrefix+orderID, token, g.TTL).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to acquire delivery guard: %w", err)
	}
	return token, ok, nil
}

// releaseScript deletes the key only while it still holds our token, so an
// expired lease never removes a newer holder's key.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (g *RedisGuard) Release(ctx context.Context, orderID, token string) error {
	if err := releaseScript.Run(ctx, g.Client, []string{guardKeyPrefix + orderID}, token).Err(); err != nil {
		return fmt.Errorf("failed to release delivery guard: %w", err)
	}
	return nil
}

// NopGuard always grants the lease. Used when Redis is not configured.
type NopGuard struct{}

func (NopGuard) Acquire(context.Context, string) (string, bool, error) { return "", true, nil }

func (NopGuard) Release(context.Context, string, string) error { return nil }
