package dialer

import (
	"context"
	"sync"
	"time"
)

// OfferState tracks the single pending inbound offer.
type OfferState string

const (
	OfferNone     OfferState = "none"
	OfferOffered  OfferState = "offered"
	OfferAccepted OfferState = "accepted"
	OfferDeclined OfferState = "declined"
	OfferTimedOut OfferState = "timed_out"
	OfferCanceled OfferState = "canceled_by_caller"
)

const (
	// offerCountdown is how long an offer rings before auto-decline.
	offerCountdown = 30 * time.Second
	// reofferCountdown is the shortened countdown after a failed accept.
	reofferCountdown = 15 * time.Second
)

// OfferAcceptGraceWindow is how long after a near-simultaneous terminal
// event (caller cancel, local timeout) an accept is still honored. The
// user may have hit accept at the same instant the event landed; the
// attempt is made and the platform arbitrates.
const OfferAcceptGraceWindow = 30 * time.Second

// Offer is one pending inbound call.
type Offer struct {
	ExternalSessionID string
	From              string
	To                string
	OfferedAt         time.Time
	Deadline          time.Time
}

// AcceptFunc connects to the platform-assigned queue for the offer.
type AcceptFunc func(ctx context.Context, externalSessionID string) error

// DeclineFunc tells the platform the offer is declined.
type DeclineFunc func(ctx context.Context, externalSessionID string) error

// OfferCoordinator enforces the single-pending-offer rule and the offer
// countdown. All terminal paths (accept, decline, timeout, remote cancel)
// are idempotent against each other.
type OfferCoordinator struct {
	mu    sync.Mutex
	state OfferState
	offer Offer

	timer      *time.Timer
	terminalAt time.Time

	accept  AcceptFunc
	decline DeclineFunc
	busy    func() bool

	countdown        time.Duration
	reofferCountdown time.Duration

	clock func() time.Time

	Emitter *EventEmitter
}

func NewOfferCoordinator(accept AcceptFunc, decline DeclineFunc, busy func() bool) *OfferCoordinator {
	if busy == nil {
		busy = func() bool { return false }
	}
	return &OfferCoordinator{
		state:            OfferNone,
		accept:           accept,
		decline:          decline,
		busy:             busy,
		countdown:        offerCountdown,
		reofferCountdown: reofferCountdown,
		clock:            time.Now,
		Emitter:          NewEventEmitter(),
	}
}

func (o *OfferCoordinator) State() OfferState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *OfferCoordinator) Pending() (Offer, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.offer, o.state == OfferOffered
}

// HandleIncoming presents a new offer. While another offer is pending or a
// call is in progress the new one is declined immediately.
func (o *OfferCoordinator) HandleIncoming(ctx context.Context, offer Offer) error {
	o.mu.Lock()
	if o.state == OfferOffered || o.busy() {
		o.mu.Unlock()
		if o.decline != nil {
			_ = o.decline(ctx, offer.ExternalSessionID)
		}
		return ErrOfferPending
	}

	now := o.clock()
	offer.OfferedAt = now
	offer.Deadline = now.Add(o.countdown)
	o.offer = offer
	o.state = OfferOffered
	o.resetTimerLocked(o.countdown, offer.ExternalSessionID)
	o.mu.Unlock()

	o.Emitter.Emit(string(OfferEventOffered), offer)
	return nil
}

// resetTimerLocked arms the auto-decline countdown for the given session.
func (o *OfferCoordinator) resetTimerLocked(d time.Duration, sid string) {
	if o.timer != nil {
		o.timer.Stop()
	}
	o.timer = time.AfterFunc(d, func() { o.onTimeout(sid) })
}

func (o *OfferCoordinator) onTimeout(sid string) {
	o.mu.Lock()
	if o.state != OfferOffered || o.offer.ExternalSessionID != sid {
		// Lost the race against accept/decline/cancel.
		o.mu.Unlock()
		return
	}
	o.state = OfferTimedOut
	o.terminalAt = o.clock()
	offer := o.offer
	o.mu.Unlock()

	if o.decline != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.decline(ctx, offer.ExternalSessionID)
	}
	o.Emitter.Emit(string(OfferEventTimeout), offer)
}

// Accept answers the pending offer. An accept that lands within
// OfferAcceptGraceWindow of a timeout or remote cancel is still attempted.
// If the connect fails the offer is re-presented with a shortened
// countdown.
func (o *OfferCoordinator) Accept(ctx context.Context) error {
	o.mu.Lock()
	switch o.state {
	case OfferOffered:
	case OfferTimedOut, OfferCanceled:
		if o.clock().Sub(o.terminalAt) > OfferAcceptGraceWindow {
			o.mu.Unlock()
			return ErrNoOffer
		}
	default:
		o.mu.Unlock()
		return ErrNoOffer
	}
	if o.timer != nil {
		o.timer.Stop()
	}
	offer := o.offer
	o.mu.Unlock()

	err := o.accept(ctx, offer.ExternalSessionID)

	o.mu.Lock()
	if err != nil {
		// Connect failed; give the user another, shorter window.
		o.state = OfferOffered
		o.offer.Deadline = o.clock().Add(o.reofferCountdown)
		o.resetTimerLocked(o.reofferCountdown, offer.ExternalSessionID)
		o.mu.Unlock()
		return err
	}
	o.state = OfferAccepted
	o.mu.Unlock()

	o.Emitter.Emit(string(OfferEventAccepted), offer)
	return nil
}

// Decline declines the pending offer.
func (o *OfferCoordinator) Decline(ctx context.Context) error {
	o.mu.Lock()
	if o.state != OfferOffered {
		o.mu.Unlock()
		return ErrNoOffer
	}
	if o.timer != nil {
		o.timer.Stop()
	}
	o.state = OfferDeclined
	offer := o.offer
	o.mu.Unlock()

	if o.decline != nil {
		_ = o.decline(ctx, offer.ExternalSessionID)
	}
	o.Emitter.Emit(string(OfferEventDeclined), offer)
	return nil
}

// HandleRemoteCancel clears the pending offer after the caller hung up or
// the call ended before being answered. Safe to call multiple times and
// safe against a simultaneous local timeout.
func (o *OfferCoordinator) HandleRemoteCancel(externalSessionID, reason string) {
	o.mu.Lock()
	if o.offer.ExternalSessionID != externalSessionID {
		o.mu.Unlock()
		return
	}
	if o.state != OfferOffered {
		// Already terminal locally (timeout race or repeated cancel).
		o.mu.Unlock()
		return
	}
	if o.timer != nil {
		o.timer.Stop()
	}
	o.state = OfferCanceled
	o.terminalAt = o.clock()
	offer := o.offer
	o.mu.Unlock()

	o.Emitter.Emit(string(OfferEventCanceled), OfferCancelNotice{Offer: offer, Reason: reason})
}

// OfferCancelNotice is the payload for OfferEventCanceled.
type OfferCancelNotice struct {
	Offer  Offer
	Reason string
}
