package history

import (
	"context"
	"sync"
	"testing"
	"time"

	"webphone-platform/internal/calls"

	"github.com/shopspring/decimal"
)

type memoryCache struct {
	mu    sync.Mutex
	pages map[string][]byte
	gets  int
	hits  int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{pages: map[string][]byte{}}
}

func (c *memoryCache) Get(ctx context.Context, userID string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	p, ok := c.pages[userID]
	if ok {
		c.hits++
	}
	return p, ok, nil
}

func (c *memoryCache) Set(ctx context.Context, userID string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pages[userID] = payload
	return nil
}

func (c *memoryCache) Del(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pages, userID)
	return nil
}

func seedCall(t *testing.T, store *calls.MemoryStore, sid string, status calls.Status, duration int, cost string) {
	t.Helper()
	err := store.Create(context.Background(), calls.CallRecord{
		ID:                "id-" + sid,
		ExternalSessionID: sid,
		UserID:            "u1",
		Direction:         calls.DirectionOutbound,
		From:              "+15550001111",
		To:                "+14155551234",
		Status:            status,
		DurationSeconds:   duration,
		Cost:              decimal.RequireFromString(cost),
		StartedAt:         time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("seed %s: %v", sid, err)
	}
}

func TestListRecentCachesDefaultPage(t *testing.T) {
	store := calls.NewMemoryStore()
	cache := newMemoryCache()
	svc := NewService(store, cache)
	seedCall(t, store, "CA1", calls.StatusCompleted, 65, "0.06")

	first, err := svc.ListRecent(context.Background(), "u1", 0)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(first) != 1 || first[0].Cost != "0.06" {
		t.Fatalf("entries = %+v", first)
	}

	// Second read must come from the cache.
	if _, err := svc.ListRecent(context.Background(), "u1", 0); err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if cache.hits != 1 {
		t.Fatalf("cache hits = %d, want 1", cache.hits)
	}
}

func TestInvalidateDropsCachedPage(t *testing.T) {
	store := calls.NewMemoryStore()
	cache := newMemoryCache()
	svc := NewService(store, cache)
	seedCall(t, store, "CA1", calls.StatusConnected, 0, "0")

	if _, err := svc.ListRecent(context.Background(), "u1", 0); err != nil {
		t.Fatalf("ListRecent: %v", err)
	}

	// Reconciliation lands: record becomes terminal, cache is dropped.
	rec, _ := store.GetByExternalID(context.Background(), "CA1")
	rec.Status = calls.StatusCompleted
	rec.DurationSeconds = 30
	rec.Cost = decimal.RequireFromString("0.03")
	if err := store.Update(context.Background(), rec); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := svc.Invalidate(context.Background(), "u1"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}

	entries, err := svc.ListRecent(context.Background(), "u1", 0)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if entries[0].Status != "completed" || entries[0].Cost != "0.03" {
		t.Fatalf("stale entry after invalidate: %+v", entries[0])
	}
}

func TestListRecentRequiresUser(t *testing.T) {
	svc := NewService(calls.NewMemoryStore(), nil)
	if _, err := svc.ListRecent(context.Background(), "", 0); err != ErrInvalidRequest {
		t.Fatalf("err = %v, want ErrInvalidRequest", err)
	}
}

func TestSummarize(t *testing.T) {
	store := calls.NewMemoryStore()
	svc := NewService(store, nil)
	seedCall(t, store, "CA1", calls.StatusCompleted, 60, "0.03")
	seedCall(t, store, "CA2", calls.StatusCompleted, 120, "0.06")
	seedCall(t, store, "CA3", calls.StatusNoAnswer, 0, "0")

	sum, err := svc.Summarize(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if sum.TotalCalls != 3 || sum.CompletedCalls != 2 || sum.NoAnswerCalls != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	if sum.TotalDurationSeconds != 180 || sum.AverageDurationSeconds != 60 {
		t.Fatalf("durations = %+v", sum)
	}
	if sum.TotalCost != "0.09" {
		t.Fatalf("total cost = %s", sum.TotalCost)
	}
}
