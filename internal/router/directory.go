package router

import (
	"context"
	"database/sql"
	"errors"
	"sync"
)

var ErrAddressNotOwned = errors.New("router: address has no owner")

// UserDirectory resolves per-user calling configuration and inbound
// address ownership.
type UserDirectory interface {
	// CallerID returns the user's configured default caller-ID, or ""
	// when none is set.
	CallerID(ctx context.Context, userID string) (string, error)

	// RegionPrefix returns the user's dialing prefix (e.g. "+1"), used to
	// qualify local-form destinations.
	RegionPrefix(ctx context.Context, userID string) (string, error)

	// OwnerOfAddress maps a dialed inbound address to its owning user.
	// Returns ErrAddressNotOwned when the number is not provisioned.
	OwnerOfAddress(ctx context.Context, address string) (string, error)
}

// PostgresDirectory reads user calling settings and number ownership.
//
// Assumed schema:
//   user_settings(user_id PRIMARY KEY, caller_id, region_prefix)
//   phone_numbers(number PRIMARY KEY, user_id)
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) CallerID(ctx context.Context, userID string) (string, error) {
	const q = `SELECT COALESCE(caller_id, '') FROM user_settings WHERE user_id = $1`
	var out string
	if err := d.db.QueryRowContext(ctx, q, userID).Scan(&out); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return out, nil
}

func (d *PostgresDirectory) RegionPrefix(ctx context.Context, userID string) (string, error) {
	const q = `SELECT COALESCE(region_prefix, '') FROM user_settings WHERE user_id = $1`
	var out string
	if err := d.db.QueryRowContext(ctx, q, userID).Scan(&out); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return out, nil
}

func (d *PostgresDirectory) OwnerOfAddress(ctx context.Context, address string) (string, error) {
	const q = `SELECT user_id FROM phone_numbers WHERE number = $1`
	var out string
	if err := d.db.QueryRowContext(ctx, q, address).Scan(&out); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrAddressNotOwned
		}
		return "", err
	}
	return out, nil
}

// MemoryDirectory is an in-memory UserDirectory for tests.
type MemoryDirectory struct {
	mu sync.Mutex

	CallerIDs map[string]string // user_id -> caller id
	Prefixes  map[string]string // user_id -> region prefix
	Numbers   map[string]string // address -> user_id
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		CallerIDs: map[string]string{},
		Prefixes:  map[string]string{},
		Numbers:   map[string]string{},
	}
}

func (d *MemoryDirectory) CallerID(ctx context.Context, userID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.CallerIDs[userID], nil
}

func (d *MemoryDirectory) RegionPrefix(ctx context.Context, userID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Prefixes[userID], nil
}

func (d *MemoryDirectory) OwnerOfAddress(ctx context.Context, address string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if uid, ok := d.Numbers[address]; ok {
		return uid, nil
	}
	return "", ErrAddressNotOwned
}
