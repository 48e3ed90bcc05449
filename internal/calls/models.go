package calls

import (
	"time"

	"github.com/shopspring/decimal"
)

// CallRecord is the persistent record of one call attempt.
//
// Write discipline:
// - Created by the call router (outbound) or the inbound webhook (inbound).
// - Mutated only by the webhook reconciler once the provider reports an
//   authoritative status. A client-optimistic save is a degraded-mode
//   fallback and must pass the same charge dedupe guard.
//
// Money fields are decimals in major units (see internal/rates).
type CallRecord struct {
	ID string `json:"id" db:"id"`

	// ExternalSessionID is the provider-assigned identifier for this call
	// attempt. Unique; every reconciliation is keyed by it.
	ExternalSessionID string `json:"external_session_id" db:"external_session_id"`

	// UserID is the owning user. Empty for inbound records whose owner
	// has not been resolved yet.
	UserID string `json:"user_id,omitempty" db:"user_id"`

	Direction Direction `json:"direction" db:"direction"`

	From string `json:"from" db:"from_address"`
	To   string `json:"to" db:"to_address"`

	Status Status `json:"status" db:"status"`

	DurationSeconds int `json:"duration" db:"duration_seconds"`

	Cost          decimal.Decimal `json:"cost" db:"cost"`
	RatePerMinute decimal.Decimal `json:"rate_per_minute" db:"rate_per_minute"`

	// Country is the ISO 3166-1 alpha-2 destination country resolved from
	// the dialed prefix at placement time.
	Country string `json:"country,omitempty" db:"country"`

	StartedAt time.Time  `json:"started_at" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	Metadata map[string]string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

type Status string

const (
	StatusPlacing   Status = "placing"
	StatusRinging   Status = "ringing"
	StatusConnected Status = "connected"

	// Terminal statuses. Once a record carries one of these, further
	// reconciliations are no-ops.
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusBusy      Status = "busy"
	StatusNoAnswer  Status = "no_answer"
	StatusCanceled  Status = "canceled"
	StatusRejected  Status = "rejected"
)

// IsTerminal reports whether s ends the record's lifecycle.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusBusy, StatusNoAnswer, StatusCanceled, StatusRejected:
		return true
	default:
		return false
	}
}
