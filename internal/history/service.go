package history

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"webphone-platform/internal/calls"
	"webphone-platform/pkg/logger"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

var ErrInvalidRequest = errors.New("history: invalid request")

const (
	cacheTTL     = 5 * time.Minute
	defaultLimit = 50
	maxLimit     = 200
)

// Cache is the optional read-through cache for a user's history page.
// Satisfied by *redis.Client via RedisCache.
type Cache interface {
	Get(ctx context.Context, userID string) ([]byte, bool, error)
	Set(ctx context.Context, userID string, payload []byte) error
	Del(ctx context.Context, userID string) error
}

// Service serves a user's recent calls. Reads go through the cache; the
// reconciler invalidates it whenever it writes an authoritative record, so
// a fresh page never shows stale cost or duration.
type Service struct {
	store calls.Store
	cache Cache
}

func NewService(store calls.Store, cache Cache) *Service {
	return &Service{store: store, cache: cache}
}

// Entry is the user-facing view of one finished or in-flight call.
type Entry struct {
	ExternalSessionID string     `json:"externalSessionId"`
	Direction         string     `json:"direction"`
	From              string     `json:"from"`
	To                string     `json:"to"`
	Status            string     `json:"status"`
	DurationSeconds   int        `json:"duration"`
	Cost              string     `json:"cost"`
	Country           string     `json:"country,omitempty"`
	StartedAt         time.Time  `json:"startedAt"`
	EndedAt           *time.Time `json:"endedAt,omitempty"`
}

func (s *Service) ListRecent(ctx context.Context, userID string, limit int) ([]Entry, error) {
	if userID == "" {
		return nil, ErrInvalidRequest
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	if s.cache != nil && limit == defaultLimit {
		if payload, ok, err := s.cache.Get(ctx, userID); err != nil {
			logger.From(ctx).Warn("history cache read failed", "user_id", userID, "err", err)
		} else if ok {
			var entries []Entry
			if err := json.Unmarshal(payload, &entries); err == nil {
				return entries, nil
			}
		}
	}

	recs, err := s.store.ListRecentByUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(recs))
	for _, r := range recs {
		entries = append(entries, entryFromRecord(r))
	}

	if s.cache != nil && limit == defaultLimit {
		if payload, err := json.Marshal(entries); err == nil {
			if err := s.cache.Set(ctx, userID, payload); err != nil {
				logger.From(ctx).Warn("history cache write failed", "user_id", userID, "err", err)
			}
		}
	}
	return entries, nil
}

// Invalidate drops the cached page for userID. Called after any
// authoritative record write.
func (s *Service) Invalidate(ctx context.Context, userID string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Del(ctx, userID)
}

// Summary aggregates a user's recent calls for the account screen.
type Summary struct {
	TotalCalls     int `json:"total_calls"`
	CompletedCalls int `json:"completed_calls"`
	FailedCalls    int `json:"failed_calls"`
	NoAnswerCalls  int `json:"no_answer_calls"`
	BusyCalls      int `json:"busy_calls"`
	CanceledCalls  int `json:"canceled_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	TotalCost string `json:"total_cost"`
}

func (s *Service) Summarize(ctx context.Context, userID string) (Summary, error) {
	recs, err := s.store.ListRecentByUser(ctx, userID, maxLimit)
	if err != nil {
		return Summary{}, err
	}

	var out Summary
	total := decimal.Zero
	for _, c := range recs {
		out.TotalCalls++
		out.TotalDurationSeconds += c.DurationSeconds
		total = total.Add(c.Cost)
		switch c.Status {
		case calls.StatusCompleted:
			out.CompletedCalls++
		case calls.StatusFailed:
			out.FailedCalls++
		case calls.StatusNoAnswer:
			out.NoAnswerCalls++
		case calls.StatusBusy:
			out.BusyCalls++
		case calls.StatusCanceled, calls.StatusRejected:
			out.CanceledCalls++
		case calls.StatusPlacing, calls.StatusRinging, calls.StatusConnected:
			// in flight, not counted separately
		}
	}
	if out.TotalCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.TotalCalls
	}
	out.TotalCost = total.String()
	return out, nil
}

func entryFromRecord(r calls.CallRecord) Entry {
	return Entry{
		ExternalSessionID: r.ExternalSessionID,
		Direction:         string(r.Direction),
		From:              r.From,
		To:                r.To,
		Status:            string(r.Status),
		DurationSeconds:   r.DurationSeconds,
		Cost:              r.Cost.String(),
		Country:           r.Country,
		StartedAt:         r.StartedAt,
		EndedAt:           r.EndedAt,
	}
}

// RedisCache stores one serialized history page per user.
type RedisCache struct {
	rdb *redis.Client
}

func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func cacheKey(userID string) string { return "history:" + userID }

func (c *RedisCache) Get(ctx context.Context, userID string) ([]byte, bool, error) {
	payload, err := c.rdb.Get(ctx, cacheKey(userID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

func (c *RedisCache) Set(ctx context.Context, userID string, payload []byte) error {
	return c.rdb.Set(ctx, cacheKey(userID), payload, cacheTTL).Err()
}

func (c *RedisCache) Del(ctx context.Context, userID string) error {
	return c.rdb.Del(ctx, cacheKey(userID)).Err()
}
