package dialer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var sixty = decimal.NewFromInt(60)

// validTransitions is the typed transition table. Anything not listed is
// rejected with ErrInvalidTransition rather than silently ignored.
var validTransitions = map[CallPhase][]CallPhase{
	PhaseIdle:       {PhasePlacing},
	PhasePlacing:    {PhaseConnecting, PhaseEnded},
	PhaseConnecting: {PhaseRinging, PhaseConnected, PhaseEnded},
	PhaseRinging:    {PhaseConnected, PhaseEnded},
	PhaseConnected:  {PhaseEnded},
	PhaseEnded:      {},
}

// CallSummary is what the client knows about a finished call. It is saved
// best-effort; the server-side reconciler remains authoritative and the
// save is dropped once a webhook for the same session has landed.
type CallSummary struct {
	ExternalSessionID string
	Destination       string
	CallerID          string
	Reason            EndReason
	DurationSeconds   int
	Cost              decimal.Decimal
}

// SaveFunc persists a CallSummary best-effort.
type SaveFunc func(ctx context.Context, s CallSummary) error

// Call is one client-side call: a typed state machine plus the optimistic
// duration/cost ticker shown while the call runs.
type Call struct {
	mu sync.Mutex

	phase  CallPhase
	reason EndReason

	externalSessionID string
	destination       string
	callerID          string

	ratePerMinute   decimal.Decimal
	durationSeconds int
	optimisticCost  decimal.Decimal
	muted           bool

	startingBalance decimal.Decimal
	balanceKnown    bool

	session    ProviderSession
	save       SaveFunc
	superseded bool

	tickerStop chan struct{}
	tickEvery  time.Duration

	Emitter *EventEmitter
}

// NewCall builds a call in the idle phase.
func NewCall(destination, callerID string, ratePerMinute decimal.Decimal, save SaveFunc) *Call {
	return &Call{
		phase:         PhaseIdle,
		destination:   destination,
		callerID:      callerID,
		ratePerMinute: ratePerMinute,
		save:          save,
		tickEvery:     time.Second,
		Emitter:       NewEventEmitter(),
	}
}

// Tick carries the optimistic in-call counters to the UI. RemainingBalance
// is the starting balance minus the optimistic cost, clamped at zero; it is
// only meaningful when a starting balance was set.
type Tick struct {
	DurationSeconds  int
	Cost             decimal.Decimal
	RemainingBalance decimal.Decimal
}

func (c *Call) Phase() CallPhase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Call) Reason() EndReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// SetStartingBalance seeds the in-call balance display. Display only; the
// authoritative balance moves server-side at reconciliation.
func (c *Call) SetStartingBalance(balance decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startingBalance = balance
	c.balanceKnown = true
}

func (c *Call) remainingBalanceLocked() decimal.Decimal {
	if !c.balanceKnown {
		return decimal.Zero
	}
	remaining := c.startingBalance.Sub(c.optimisticCost)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// Snapshot returns the current optimistic counters.
func (c *Call) Snapshot() Tick {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Tick{
		DurationSeconds:  c.durationSeconds,
		Cost:             c.optimisticCost,
		RemainingBalance: c.remainingBalanceLocked(),
	}
}

// AttachSession binds the provider session once placement succeeded.
func (c *Call) AttachSession(session ProviderSession, externalSessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = session
	c.externalSessionID = externalSessionID
}

func (c *Call) transitionLocked(next CallPhase) error {
	for _, allowed := range validTransitions[c.phase] {
		if allowed == next {
			c.phase = next
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.phase, next)
}

func (c *Call) transition(next CallPhase) error {
	c.mu.Lock()
	if err := c.transitionLocked(next); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()
	c.Emitter.Emit(string(CallEventPhase), next)
	return nil
}

// Placing marks the placement request in flight.
func (c *Call) Placing() error { return c.transition(PhasePlacing) }

// Connecting marks the provider session as set up.
func (c *Call) Connecting() error { return c.transition(PhaseConnecting) }

// Ringing marks far-end alerting.
func (c *Call) Ringing() error { return c.transition(PhaseRinging) }

// Connected marks the call answered and starts the optimistic ticker.
func (c *Call) Connected() error {
	if err := c.transition(PhaseConnected); err != nil {
		return err
	}
	c.mu.Lock()
	c.startTickerLocked()
	c.mu.Unlock()
	return nil
}

// startTickerLocked starts the per-call 1s ticker, canceling any prior one
// first so a call never carries two.
func (c *Call) startTickerLocked() {
	if c.tickerStop != nil {
		close(c.tickerStop)
	}
	stop := make(chan struct{})
	c.tickerStop = stop

	go func() {
		ticker := time.NewTicker(c.tickEvery)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.mu.Lock()
				c.durationSeconds++
				c.optimisticCost = c.ratePerMinute.
					Mul(decimal.NewFromInt(int64(c.durationSeconds))).
					Div(sixty).
					Round(3)
				t := Tick{
					DurationSeconds:  c.durationSeconds,
					Cost:             c.optimisticCost,
					RemainingBalance: c.remainingBalanceLocked(),
				}
				c.mu.Unlock()
				c.Emitter.Emit(string(CallEventTick), t)
			}
		}
	}()
}

func (c *Call) stopTickerLocked() {
	if c.tickerStop != nil {
		close(c.tickerStop)
		c.tickerStop = nil
	}
}

// End moves the call to ended, stops the ticker exactly once, and saves the
// summary best-effort unless the authoritative webhook already superseded
// this call.
func (c *Call) End(ctx context.Context, reason EndReason) error {
	if err := c.transition(PhaseEnded); err != nil {
		return err
	}

	c.mu.Lock()
	c.reason = reason
	c.stopTickerLocked()
	summary := CallSummary{
		ExternalSessionID: c.externalSessionID,
		Destination:       c.destination,
		CallerID:          c.callerID,
		Reason:            reason,
		DurationSeconds:   c.durationSeconds,
		Cost:              c.optimisticCost,
	}
	save := c.save
	superseded := c.superseded
	c.mu.Unlock()

	if save != nil && !superseded {
		// Best-effort only; the server webhook path is authoritative and
		// the save shares its dedupe key.
		_ = save(ctx, summary)
	}
	c.Emitter.Emit(string(CallEventEnded), summary)
	return nil
}

// MarkSuperseded records that the authoritative call_ended event arrived,
// so the local summary save is skipped.
func (c *Call) MarkSuperseded() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.superseded = true
}

// Hangup asks the provider to tear the call down. The ended transition
// follows from the provider's disconnect event.
func (c *Call) Hangup() error {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		return ErrProviderRejected
	}
	return session.Disconnect()
}

// Mute toggles the microphone.
func (c *Call) Mute(muted bool) error {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		return ErrProviderRejected
	}
	if err := session.Mute(muted); err != nil {
		return err
	}
	c.mu.Lock()
	c.muted = muted
	c.mu.Unlock()
	return nil
}

// Muted reports the last acknowledged mute state.
func (c *Call) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

// SendDigits plays DTMF tones into the call.
func (c *Call) SendDigits(tones string) error {
	c.mu.Lock()
	session := c.session
	phase := c.phase
	c.mu.Unlock()
	if session == nil || phase != PhaseConnected {
		return ErrProviderRejected
	}
	return session.SendDigits(tones)
}
