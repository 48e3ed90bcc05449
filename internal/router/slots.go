package router

import (
	"context"
	"sync"
	"time"

	"webphone-platform/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// SlotGuard caps concurrent placements per user. One browser session
// drives one call at a time; the cap also limits damage from a runaway
// client.
type SlotGuard interface {
	Acquire(ctx context.Context, userID string) (bool, error)
	Release(ctx context.Context, userID string) error
}

const (
	slotLimit = 1
	// slotTTL covers the longest plausible call; a crashed process must
	// not leak the slot forever.
	slotTTL = 4 * time.Hour
)

// RedisSlotGuard backs the cap with the atomic Lua acquire/release pair.
type RedisSlotGuard struct {
	rdb *redis.Client
}

func NewRedisSlotGuard(rdb *redis.Client) *RedisSlotGuard {
	return &RedisSlotGuard{rdb: rdb}
}

func (g *RedisSlotGuard) Acquire(ctx context.Context, userID string) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, g.rdb, slotKey(userID), slotLimit, slotTTL)
}

func (g *RedisSlotGuard) Release(ctx context.Context, userID string) error {
	return utils.ReleaseConcurrencyCap(ctx, g.rdb, slotKey(userID))
}

func slotKey(userID string) string {
	return "callslot:" + userID
}

// MemorySlotGuard is an in-process SlotGuard for tests.
type MemorySlotGuard struct {
	mu   sync.Mutex
	held map[string]int
}

func NewMemorySlotGuard() *MemorySlotGuard {
	return &MemorySlotGuard{held: map[string]int{}}
}

func (g *MemorySlotGuard) Acquire(ctx context.Context, userID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held[userID] >= slotLimit {
		return false, nil
	}
	g.held[userID]++
	return true, nil
}

func (g *MemorySlotGuard) Release(ctx context.Context, userID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held[userID] > 0 {
		g.held[userID]--
	}
	return nil
}
