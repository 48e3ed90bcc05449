package dialer

import (
	"context"
	"sync"
	"time"
)

// Credential is a short-lived calling capability minted by the platform.
type Credential struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Valid reports whether the credential is usable at now with headroom left.
func (c Credential) Valid(now time.Time, headroom time.Duration) bool {
	return c.Token != "" && now.Add(headroom).Before(c.ExpiresAt)
}

// CredentialFunc fetches a fresh credential from the platform.
type CredentialFunc func(ctx context.Context) (Credential, error)

// refreshHeadroom is how long before expiry a credential is refreshed.
const refreshHeadroom = 10 * time.Minute

// refreshPollInterval is how often a waiting caller re-checks an in-flight
// refresh.
const refreshPollInterval = 10 * time.Millisecond

// CredentialManager caches one credential and refreshes it ahead of expiry.
// At most one refresh is in flight process-wide; concurrent EnsureValid
// callers wait for it and share its result instead of stacking requests.
type CredentialManager struct {
	mu         sync.Mutex
	fetch      CredentialFunc
	cred       Credential
	refreshing bool
	lastErr    error

	clock func() time.Time
}

func NewCredentialManager(fetch CredentialFunc) *CredentialManager {
	return &CredentialManager{
		fetch: fetch,
		clock: time.Now,
	}
}

// Current returns the cached credential without refreshing.
func (m *CredentialManager) Current() Credential {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cred
}

// EnsureValid returns a credential with at least refreshHeadroom of life
// left, refreshing if needed. The second return reports whether this call
// observed a refresh.
func (m *CredentialManager) EnsureValid(ctx context.Context) (Credential, bool, error) {
	m.mu.Lock()
	if m.cred.Valid(m.clock(), refreshHeadroom) {
		cred := m.cred
		m.mu.Unlock()
		return cred, false, nil
	}

	if m.refreshing {
		m.mu.Unlock()
		return m.waitForRefresh(ctx)
	}

	m.refreshing = true
	m.mu.Unlock()

	cred, err := m.fetch(ctx)

	m.mu.Lock()
	m.refreshing = false
	m.lastErr = err
	if err == nil {
		m.cred = cred
	}
	m.mu.Unlock()

	if err != nil {
		return Credential{}, false, err
	}
	return cred, true, nil
}

// Refresh forces a fetch regardless of remaining lifetime. Used when the
// provider reports the credential expired mid-session.
func (m *CredentialManager) Refresh(ctx context.Context) (Credential, error) {
	m.mu.Lock()
	if m.refreshing {
		m.mu.Unlock()
		cred, _, err := m.waitForRefresh(ctx)
		return cred, err
	}
	m.refreshing = true
	m.mu.Unlock()

	cred, err := m.fetch(ctx)

	m.mu.Lock()
	m.refreshing = false
	m.lastErr = err
	if err == nil {
		m.cred = cred
	}
	m.mu.Unlock()

	if err != nil {
		return Credential{}, err
	}
	return cred, nil
}

// waitForRefresh polls until the in-flight refresh settles, then returns
// its outcome.
func (m *CredentialManager) waitForRefresh(ctx context.Context) (Credential, bool, error) {
	for {
		select {
		case <-ctx.Done():
			return Credential{}, false, ctx.Err()
		case <-time.After(refreshPollInterval):
		}

		m.mu.Lock()
		if !m.refreshing {
			cred, err := m.cred, m.lastErr
			m.mu.Unlock()
			if err != nil {
				return Credential{}, false, err
			}
			return cred, true, nil
		}
		m.mu.Unlock()
	}
}
