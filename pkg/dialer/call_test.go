package dialer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

type fakeSession struct {
	disconnects int32
	muted       bool
	digits      string
}

func (s *fakeSession) Accept() error     { return nil }
func (s *fakeSession) Reject() error     { return nil }
func (s *fakeSession) Disconnect() error { atomic.AddInt32(&s.disconnects, 1); return nil }
func (s *fakeSession) Mute(m bool) error { s.muted = m; return nil }
func (s *fakeSession) SendDigits(d string) error {
	s.digits += d
	return nil
}
func (s *fakeSession) On(event string, handler EventHandler) {}

func TestCallHappyPathTransitions(t *testing.T) {
	c := NewCall("+14155551234", "", decimal.RequireFromString("0.03"), nil)

	steps := []func() error{c.Placing, c.Connecting, c.Ringing, c.Connected}
	want := []CallPhase{PhasePlacing, PhaseConnecting, PhaseRinging, PhaseConnected}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if c.Phase() != want[i] {
			t.Fatalf("phase = %q, want %q", c.Phase(), want[i])
		}
	}
	if err := c.End(context.Background(), EndCompleted); err != nil {
		t.Fatalf("End: %v", err)
	}
	if c.Phase() != PhaseEnded || c.Reason() != EndCompleted {
		t.Fatalf("phase=%q reason=%q", c.Phase(), c.Reason())
	}
}

func TestCallRejectsInvalidTransition(t *testing.T) {
	c := NewCall("+14155551234", "", decimal.Zero, nil)

	if err := c.Ringing(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("idle->ringing err = %v, want ErrInvalidTransition", err)
	}
	if c.Phase() != PhaseIdle {
		t.Fatalf("phase changed on rejected transition: %q", c.Phase())
	}

	if err := c.Placing(); err != nil {
		t.Fatalf("Placing: %v", err)
	}
	if err := c.Placing(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("placing->placing err = %v", err)
	}
}

func TestCallEndAfterEndRejected(t *testing.T) {
	c := NewCall("+14155551234", "", decimal.Zero, nil)
	if err := c.Placing(); err != nil {
		t.Fatal(err)
	}
	if err := c.End(context.Background(), EndFailed); err != nil {
		t.Fatalf("End: %v", err)
	}
	if err := c.End(context.Background(), EndCompleted); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second End err = %v, want ErrInvalidTransition", err)
	}
	if c.Reason() != EndFailed {
		t.Fatalf("reason overwritten: %q", c.Reason())
	}
}

func TestCallTickerAccruesAndStops(t *testing.T) {
	// 0.60/min makes each ticked second worth exactly 0.01.
	c := NewCall("+14155551234", "", decimal.RequireFromString("0.60"), nil)
	c.tickEvery = 5 * time.Millisecond

	if err := c.Placing(); err != nil {
		t.Fatal(err)
	}
	if err := c.Connecting(); err != nil {
		t.Fatal(err)
	}
	if err := c.Connected(); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for c.Snapshot().DurationSeconds < 3 {
		if time.Now().After(deadline) {
			t.Fatal("ticker never accrued 3 ticks")
		}
		time.Sleep(5 * time.Millisecond)
	}

	snap := c.Snapshot()
	wantCost := decimal.RequireFromString("0.01").Mul(decimal.NewFromInt(int64(snap.DurationSeconds)))
	if !snap.Cost.Equal(wantCost) {
		t.Fatalf("cost = %s for %ds, want %s", snap.Cost, snap.DurationSeconds, wantCost)
	}

	if err := c.End(context.Background(), EndCompleted); err != nil {
		t.Fatalf("End: %v", err)
	}
	frozen := c.Snapshot().DurationSeconds
	time.Sleep(30 * time.Millisecond)
	if got := c.Snapshot().DurationSeconds; got != frozen {
		t.Fatalf("duration moved after End: %d -> %d", frozen, got)
	}
}

func TestCallReplacingTickerCancelsPrior(t *testing.T) {
	c := NewCall("+14155551234", "", decimal.RequireFromString("0.60"), nil)
	c.tickEvery = 5 * time.Millisecond

	// Start twice; only one ticker may survive, so accrual stays ~1/interval.
	c.mu.Lock()
	c.startTickerLocked()
	c.startTickerLocked()
	c.mu.Unlock()

	time.Sleep(100 * time.Millisecond)
	c.mu.Lock()
	c.stopTickerLocked()
	got := c.durationSeconds
	c.mu.Unlock()

	// Two live tickers would accrue ~40 in 100ms at 5ms each.
	if got > 30 {
		t.Fatalf("duration = %d after 100ms at 5ms ticks, prior ticker not canceled", got)
	}
}

func TestCallEndSavesSummaryUnlessSuperseded(t *testing.T) {
	var saves int32
	save := func(ctx context.Context, s CallSummary) error {
		atomic.AddInt32(&saves, 1)
		return nil
	}

	c := NewCall("+14155551234", "+15550001111", decimal.RequireFromString("0.03"), save)
	if err := c.Placing(); err != nil {
		t.Fatal(err)
	}
	if err := c.End(context.Background(), EndCompleted); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&saves) != 1 {
		t.Fatalf("saves = %d, want 1", saves)
	}

	c2 := NewCall("+14155551234", "", decimal.Zero, save)
	if err := c2.Placing(); err != nil {
		t.Fatal(err)
	}
	c2.MarkSuperseded()
	if err := c2.End(context.Background(), EndCompleted); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&saves) != 1 {
		t.Fatalf("saves = %d after superseded end, want still 1", saves)
	}
}

func TestCallControlsRequireSession(t *testing.T) {
	c := NewCall("+14155551234", "", decimal.Zero, nil)
	if err := c.Hangup(); !errors.Is(err, ErrProviderRejected) {
		t.Fatalf("Hangup err = %v", err)
	}

	s := &fakeSession{}
	c.AttachSession(s, "CA1")
	if err := c.Hangup(); err != nil {
		t.Fatalf("Hangup: %v", err)
	}
	if atomic.LoadInt32(&s.disconnects) != 1 {
		t.Fatal("Disconnect not forwarded")
	}

	if err := c.Mute(true); err != nil {
		t.Fatalf("Mute: %v", err)
	}
	if !c.Muted() || !s.muted {
		t.Fatal("mute state not tracked")
	}

	// Digits only flow on a connected call.
	if err := c.SendDigits("1"); !errors.Is(err, ErrProviderRejected) {
		t.Fatalf("SendDigits before connected err = %v", err)
	}
}

func TestCallTickerDecrementsBalanceDisplay(t *testing.T) {
	c := NewCall("+14155551234", "+15550001111", decimal.RequireFromString("0.60"), nil)
	c.tickEvery = 5 * time.Millisecond
	c.SetStartingBalance(decimal.RequireFromString("0.02"))

	if err := c.Placing(); err != nil {
		t.Fatal(err)
	}
	if err := c.Connecting(); err != nil {
		t.Fatal(err)
	}
	if err := c.Connected(); err != nil {
		t.Fatal(err)
	}

	// 0.60/min accrues 0.01 per tick against the 0.02 balance.
	deadline := time.Now().Add(time.Second)
	for c.Snapshot().DurationSeconds < 1 {
		if time.Now().After(deadline) {
			t.Fatal("ticker never ticked")
		}
		time.Sleep(5 * time.Millisecond)
	}
	snap := c.Snapshot()
	wantRemaining := decimal.RequireFromString("0.02").Sub(snap.Cost)
	if wantRemaining.IsNegative() {
		wantRemaining = decimal.Zero
	}
	if !snap.RemainingBalance.Equal(wantRemaining) {
		t.Fatalf("remaining = %s with cost %s, want %s", snap.RemainingBalance, snap.Cost, wantRemaining)
	}

	// Past the fourth tick the display clamps at zero rather than going
	// negative.
	deadline = time.Now().Add(time.Second)
	for c.Snapshot().DurationSeconds < 4 {
		if time.Now().After(deadline) {
			t.Fatal("ticker never accrued 4 ticks")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := c.Snapshot().RemainingBalance; !got.Equal(decimal.Zero) {
		t.Fatalf("remaining = %s, want clamp at 0", got)
	}

	if err := c.End(context.Background(), EndCompleted); err != nil {
		t.Fatalf("End: %v", err)
	}
}
