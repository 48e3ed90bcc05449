package calls

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("calls: record not found")

// Store abstracts call record persistence.
type Store interface {
	Create(ctx context.Context, rec CallRecord) error
	GetByExternalID(ctx context.Context, externalSessionID string) (CallRecord, error)
	Update(ctx context.Context, rec CallRecord) error
	ListRecentByUser(ctx context.Context, userID string, limit int) ([]CallRecord, error)
}

// PostgresStore persists call records in the call_records table.
//
// Assumed schema:
//   call_records(id, external_session_id UNIQUE, user_id, direction,
//     from_address, to_address, status, duration_seconds,
//     cost NUMERIC, rate_per_minute NUMERIC, country,
//     started_at, ended_at, metadata JSONB, created_at, updated_at)
type PostgresStore struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now}
}

func (s *PostgresStore) Create(ctx context.Context, rec CallRecord) error {
	const q = `
INSERT INTO call_records
  (id, external_session_id, user_id, direction, from_address, to_address,
   status, duration_seconds, cost, rate_per_minute, country,
   started_at, ended_at, metadata, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
`
	now := s.clock().UTC()
	meta, err := marshalMetadata(rec.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, q,
		rec.ID,
		rec.ExternalSessionID,
		nullString(rec.UserID),
		string(rec.Direction),
		rec.From,
		rec.To,
		string(rec.Status),
		rec.DurationSeconds,
		rec.Cost.String(),
		rec.RatePerMinute.String(),
		rec.Country,
		rec.StartedAt,
		rec.EndedAt,
		meta,
		now,
		now,
	)
	return err
}

func (s *PostgresStore) GetByExternalID(ctx context.Context, externalSessionID string) (CallRecord, error) {
	const q = `
SELECT id, external_session_id, COALESCE(user_id, ''), direction, from_address, to_address,
       status, duration_seconds, cost, rate_per_minute, country,
       started_at, ended_at, metadata, created_at, updated_at
FROM call_records
WHERE external_session_id = $1
`
	return scanRecord(s.db.QueryRowContext(ctx, q, externalSessionID))
}

func (s *PostgresStore) Update(ctx context.Context, rec CallRecord) error {
	const q = `
UPDATE call_records
SET user_id = $2, status = $3, duration_seconds = $4, cost = $5,
    ended_at = $6, metadata = $7, updated_at = $8
WHERE external_session_id = $1
`
	meta, err := marshalMetadata(rec.Metadata)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, q,
		rec.ExternalSessionID,
		nullString(rec.UserID),
		string(rec.Status),
		rec.DurationSeconds,
		rec.Cost.String(),
		rec.EndedAt,
		meta,
		s.clock().UTC(),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListRecentByUser(ctx context.Context, userID string, limit int) ([]CallRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT id, external_session_id, COALESCE(user_id, ''), direction, from_address, to_address,
       status, duration_seconds, cost, rate_per_minute, country,
       started_at, ended_at, metadata, created_at, updated_at
FROM call_records
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2
`
	rows, err := s.db.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CallRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (CallRecord, error) {
	var (
		rec       CallRecord
		direction string
		status    string
		cost      string
		rate      string
		meta      []byte
	)
	err := row.Scan(
		&rec.ID,
		&rec.ExternalSessionID,
		&rec.UserID,
		&direction,
		&rec.From,
		&rec.To,
		&status,
		&rec.DurationSeconds,
		&cost,
		&rate,
		&rec.Country,
		&rec.StartedAt,
		&rec.EndedAt,
		&meta,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallRecord{}, ErrNotFound
		}
		return CallRecord{}, err
	}

	rec.Direction = Direction(direction)
	rec.Status = Status(status)
	if rec.Cost, err = decimal.NewFromString(cost); err != nil {
		return CallRecord{}, err
	}
	if rec.RatePerMinute, err = decimal.NewFromString(rate); err != nil {
		return CallRecord{}, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &rec.Metadata); err != nil {
			return CallRecord{}, err
		}
	}
	return rec, nil
}

func marshalMetadata(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
