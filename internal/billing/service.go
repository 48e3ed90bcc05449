package billing

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"webphone-platform/pkg/utils"

	"github.com/shopspring/decimal"
)

// Service owns the prepaid balance.
//
// Money invariants:
// - The balance is floor-clamped at zero; a charge can never push it negative.
// - The reconciler is the single authoritative writer for call charges; the
//   client only derives display estimates.
// - For any external session id, at most one charge is ever applied. The
//   ChargeGuard enforces this across the webhook path and the degraded
//   client-save path.
type Service struct {
	db    *sql.DB
	guard ChargeGuard
	clock func() time.Time
}

func NewService(db *sql.DB, guard ChargeGuard) *Service {
	return &Service{db: db, guard: guard, clock: time.Now}
}

type Balance struct {
	UserID    string          `json:"user_id"`
	Currency  string          `json:"currency"`
	Amount    decimal.Decimal `json:"amount"`
	UpdatedAt time.Time       `json:"updated_at"`
}

var (
	ErrNotFound        = errors.New("billing: balance not found")
	ErrInvalidArgument = errors.New("billing: invalid argument")
)

func (s *Service) GetBalance(ctx context.Context, userID string) (Balance, error) {
	if userID == "" {
		return Balance{}, ErrInvalidArgument
	}
	return getBalance(ctx, s.db, userID)
}

// ChargeForCall deducts cost from the user's balance, clamped at zero.
// The dedupe key (normally the external session id) guarantees the charge
// is applied at most once even when the webhook and a client-optimistic
// save race. Returns the resulting balance and whether this call actually
// applied the charge.
func (s *Service) ChargeForCall(ctx context.Context, userID, dedupeKey string, cost decimal.Decimal) (Balance, bool, error) {
	if userID == "" || dedupeKey == "" {
		return Balance{}, false, ErrInvalidArgument
	}
	if cost.IsNegative() {
		return Balance{}, false, ErrInvalidArgument
	}

	first, err := s.guard.MarkCharged(ctx, dedupeKey)
	if err != nil {
		return Balance{}, false, err
	}
	if !first {
		b, err := getBalance(ctx, s.db, userID)
		return b, false, err
	}

	now := s.clock().UTC()
	var out Balance
	err = utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		b, err := getBalanceForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}

		next := b.Amount.Sub(cost)
		if next.IsNegative() {
			next = decimal.Zero
		}

		updated, err := setBalance(ctx, tx, userID, next, now)
		if err != nil {
			return err
		}
		out = updated
		return nil
	})
	if err != nil {
		// The charge did not land; release the marker so a retry can.
		_ = s.guard.Unmark(ctx, dedupeKey)
		return Balance{}, false, err
	}
	return out, true, nil
}

// TopUp credits the balance. idempotencyKey prevents double-credit on
// payment webhook retries.
func (s *Service) TopUp(ctx context.Context, userID, idempotencyKey string, amount decimal.Decimal) (Balance, error) {
	if userID == "" || idempotencyKey == "" {
		return Balance{}, ErrInvalidArgument
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return Balance{}, ErrInvalidArgument
	}

	first, err := s.guard.MarkCharged(ctx, "topup:"+idempotencyKey)
	if err != nil {
		return Balance{}, err
	}
	if !first {
		return getBalance(ctx, s.db, userID)
	}

	now := s.clock().UTC()
	var out Balance
	err = utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		b, err := getBalanceForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		updated, err := setBalance(ctx, tx, userID, b.Amount.Add(amount), now)
		if err != nil {
			return err
		}
		out = updated
		return nil
	})
	if err != nil {
		_ = s.guard.Unmark(ctx, "topup:"+idempotencyKey)
		return Balance{}, err
	}
	return out, nil
}
