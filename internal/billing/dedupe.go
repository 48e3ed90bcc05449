package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ChargeGuard is the dedupe gate in front of every balance mutation.
// MarkCharged returns true exactly once per key; later calls (duplicate
// webhook deliveries, a client-optimistic save racing the webhook) see
// false and skip the money path.
type ChargeGuard interface {
	MarkCharged(ctx context.Context, key string) (first bool, err error)
	// Unmark releases a marker after a failed charge so a retry can land.
	Unmark(ctx context.Context, key string) error
}

// chargeTTL bounds marker retention. Duplicate callbacks for a call arrive
// within minutes; a day is generous.
const chargeTTL = 24 * time.Hour

// RedisChargeGuard marks charges with SET NX EX.
type RedisChargeGuard struct {
	rdb *redis.Client
}

func NewRedisChargeGuard(rdb *redis.Client) *RedisChargeGuard {
	return &RedisChargeGuard{rdb: rdb}
}

func (g *RedisChargeGuard) MarkCharged(ctx context.Context, key string) (bool, error) {
	if g.rdb == nil {
		return false, fmt.Errorf("billing: redis client is nil")
	}
	if key == "" {
		return false, fmt.Errorf("billing: dedupe key is required")
	}
	return g.rdb.SetNX(ctx, chargeKey(key), 1, chargeTTL).Result()
}

func (g *RedisChargeGuard) Unmark(ctx context.Context, key string) error {
	if g.rdb == nil {
		return fmt.Errorf("billing: redis client is nil")
	}
	return g.rdb.Del(ctx, chargeKey(key)).Err()
}

func chargeKey(key string) string {
	return "charge:" + key
}

// DegradedChargeKey builds the fallback dedupe key for client-optimistic
// saves that never learned the external session id: destination plus a
// one-minute time bucket.
func DegradedChargeKey(destination string, at time.Time) string {
	return fmt.Sprintf("degraded:%s:%s", destination, at.UTC().Format("200601021504"))
}

// MemoryChargeGuard is an in-process ChargeGuard for tests.
type MemoryChargeGuard struct {
	mu   sync.Mutex
	seen map[string]bool
}

func NewMemoryChargeGuard() *MemoryChargeGuard {
	return &MemoryChargeGuard{seen: map[string]bool{}}
}

func (g *MemoryChargeGuard) MarkCharged(ctx context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seen[key] {
		return false, nil
	}
	g.seen[key] = true
	return true, nil
}

func (g *MemoryChargeGuard) Unmark(ctx context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.seen, key)
	return nil
}
