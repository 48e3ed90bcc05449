package audit

import "time"

// Event is an immutable, append-only audit record for billing-relevant
// actions.
//
// Invariants:
// - Events are never updated or deleted.
// - Capture is best-effort; critical flows must not block on audit failures.
//
// Storage (Postgres): table audit_events with an INSERT-only policy,
// optionally time-partitioned for retention.

type Event struct {
	ID string `json:"id" db:"id"`

	// Type indicates the business category of the audit record.
	Type EventType `json:"type" db:"type"`

	// UserID is the account the event concerns (if applicable).
	UserID string `json:"user_id,omitempty" db:"user_id"`

	// ExternalSessionID ties the event to a provider call session.
	ExternalSessionID string `json:"external_session_id,omitempty" db:"external_session_id"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	// EventTypeChargeApplied records a balance deduction for a completed call.
	EventTypeChargeApplied EventType = "charge_applied"
	// EventTypeChargeDuplicate records a webhook retry that matched an
	// already-applied charge and was skipped.
	EventTypeChargeDuplicate EventType = "charge_duplicate"
	// EventTypeReconcileConflict records a status update that could not be
	// matched to a call record, or arrived after the record was terminal.
	EventTypeReconcileConflict EventType = "reconcile_conflict"
	// EventTypeTopUp records a balance credit.
	EventTypeTopUp EventType = "topup"
)
