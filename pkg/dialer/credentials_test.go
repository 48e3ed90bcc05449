package dialer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestEnsureValidSkipsFreshCredential(t *testing.T) {
	var fetches int32
	m := NewCredentialManager(func(ctx context.Context) (Credential, error) {
		atomic.AddInt32(&fetches, 1)
		return Credential{Token: "t1", ExpiresAt: time.Now().Add(time.Hour)}, nil
	})

	if _, refreshed, err := m.EnsureValid(context.Background()); err != nil || !refreshed {
		t.Fatalf("first EnsureValid: refreshed=%v err=%v", refreshed, err)
	}
	if _, refreshed, err := m.EnsureValid(context.Background()); err != nil || refreshed {
		t.Fatalf("second EnsureValid: refreshed=%v err=%v", refreshed, err)
	}
	if n := atomic.LoadInt32(&fetches); n != 1 {
		t.Fatalf("fetches = %d, want 1", n)
	}
}

func TestEnsureValidRefreshesNearExpiry(t *testing.T) {
	var fetches int32
	m := NewCredentialManager(func(ctx context.Context) (Credential, error) {
		n := atomic.AddInt32(&fetches, 1)
		if n == 1 {
			// First credential expires inside the refresh headroom.
			return Credential{Token: "short", ExpiresAt: time.Now().Add(time.Minute)}, nil
		}
		return Credential{Token: "long", ExpiresAt: time.Now().Add(time.Hour)}, nil
	})

	if _, _, err := m.EnsureValid(context.Background()); err != nil {
		t.Fatalf("EnsureValid: %v", err)
	}
	cred, refreshed, err := m.EnsureValid(context.Background())
	if err != nil {
		t.Fatalf("EnsureValid: %v", err)
	}
	if !refreshed || cred.Token != "long" {
		t.Fatalf("refreshed=%v token=%q, want refresh to long-lived credential", refreshed, cred.Token)
	}
}

func TestConcurrentEnsureValidSharesOneFetch(t *testing.T) {
	var fetches int32
	m := NewCredentialManager(func(ctx context.Context) (Credential, error) {
		atomic.AddInt32(&fetches, 1)
		time.Sleep(50 * time.Millisecond)
		return Credential{Token: "shared", ExpiresAt: time.Now().Add(time.Hour)}, nil
	})

	const callers = 10
	var wg sync.WaitGroup
	errs := make([]error, callers)
	tokens := make([]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cred, _, err := m.EnsureValid(context.Background())
			errs[i] = err
			tokens[i] = cred.Token
		}(i)
	}
	wg.Wait()

	if n := atomic.LoadInt32(&fetches); n != 1 {
		t.Fatalf("fetches = %d, want exactly 1", n)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if tokens[i] != "shared" {
			t.Fatalf("caller %d token = %q", i, tokens[i])
		}
	}
}

func TestEnsureValidPropagatesFetchError(t *testing.T) {
	boom := errors.New("boom")
	m := NewCredentialManager(func(ctx context.Context) (Credential, error) {
		return Credential{}, boom
	})
	if _, _, err := m.EnsureValid(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
}

func TestRefreshForcesFetch(t *testing.T) {
	var fetches int32
	m := NewCredentialManager(func(ctx context.Context) (Credential, error) {
		atomic.AddInt32(&fetches, 1)
		return Credential{Token: "t", ExpiresAt: time.Now().Add(time.Hour)}, nil
	})

	if _, _, err := m.EnsureValid(context.Background()); err != nil {
		t.Fatalf("EnsureValid: %v", err)
	}
	if _, err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if n := atomic.LoadInt32(&fetches); n != 2 {
		t.Fatalf("fetches = %d, want 2", n)
	}
}
