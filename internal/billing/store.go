package billing

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// NOTE: This store assumes a user_balances table:
//   user_balances(user_id PRIMARY KEY, currency, balance NUMERIC NOT NULL
//     CHECK (balance >= 0), updated_at)
// The CHECK mirrors the code-level clamp; both must hold.

func getBalance(ctx context.Context, db *sql.DB, userID string) (Balance, error) {
	const q = `
SELECT user_id, currency, balance, updated_at
FROM user_balances
WHERE user_id = $1
`
	return scanBalance(db.QueryRowContext(ctx, q, userID))
}

func getBalanceForUpdate(ctx context.Context, tx *sql.Tx, userID string) (Balance, error) {
	// Lock the balance row to serialize concurrent money operations per user.
	const q = `
SELECT user_id, currency, balance, updated_at
FROM user_balances
WHERE user_id = $1
FOR UPDATE
`
	return scanBalance(tx.QueryRowContext(ctx, q, userID))
}

func setBalance(ctx context.Context, tx *sql.Tx, userID string, amount decimal.Decimal, now time.Time) (Balance, error) {
	const q = `
UPDATE user_balances
SET balance = $2, updated_at = $3
WHERE user_id = $1
RETURNING user_id, currency, balance, updated_at
`
	return scanBalance(tx.QueryRowContext(ctx, q, userID, amount.String(), now))
}

type balanceScanner interface {
	Scan(dest ...any) error
}

func scanBalance(row balanceScanner) (Balance, error) {
	var (
		b   Balance
		amt string
	)
	if err := row.Scan(&b.UserID, &b.Currency, &amt, &b.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Balance{}, ErrNotFound
		}
		return Balance{}, err
	}
	amount, err := decimal.NewFromString(amt)
	if err != nil {
		return Balance{}, err
	}
	b.Amount = amount
	return b, nil
}
