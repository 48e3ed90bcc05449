package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo appends audit events to the audit_events table.
//
// Expected schema:
//
//	CREATE TABLE audit_events (
//	    id                  UUID PRIMARY KEY,
//	    type                TEXT NOT NULL,
//	    user_id             TEXT,
//	    external_session_id TEXT,
//	    message             TEXT,
//	    metadata            JSONB,
//	    created_at          TIMESTAMPTZ NOT NULL
//	);
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
		INSERT INTO audit_events (id, type, user_id, external_session_id, message, metadata, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, '')::jsonb, $7)`
	_, err := r.db.ExecContext(ctx, q,
		e.ID, string(e.Type), e.UserID, e.ExternalSessionID, e.Message, e.Metadata, e.CreatedAt)
	return err
}

func (r *PostgresRepo) ListRecent(ctx context.Context, limit int) ([]Event, error) {
	const q = `
		SELECT id, type, COALESCE(user_id, ''), COALESCE(external_session_id, ''),
		       COALESCE(message, ''), COALESCE(metadata::text, ''), created_at
		FROM audit_events
		ORDER BY created_at DESC
		LIMIT $1`
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var typ string
		if err := rows.Scan(&e.ID, &typ, &e.UserID, &e.ExternalSessionID, &e.Message, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = EventType(typ)
		out = append(out, e)
	}
	return out, rows.Err()
}
