// Package dialer is the client-side calling library: it manages the
// session credential, the registered provider device, the per-call state
// machine with its optimistic duration/cost display, the single pending
// inbound offer, and the realtime channel that carries authoritative
// updates from the platform.
package dialer

import (
	"context"
	"encoding/json"
	"sync"

	"webphone-platform/pkg/phone"

	"github.com/shopspring/decimal"
)

// Config wires a Dialer.
type Config struct {
	// FetchCredential calls POST /session/credential.
	FetchCredential CredentialFunc
	// Client is the provider SDK handle.
	Client ProviderClient
	// RealtimeURL is the platform websocket endpoint.
	RealtimeURL string
	// RegionPrefix qualifies national-format destinations.
	RegionPrefix string
	// RatePerMinute drives the optimistic in-call cost display.
	RatePerMinute decimal.Decimal
	// Balance returns the latest known prepaid balance; when set, each
	// tick carries a decremented balance display.
	Balance func() decimal.Decimal
	// Save persists a finished call summary best-effort via
	// POST /calls/client-save.
	Save SaveFunc
	// Accept connects to the queue for an accepted inbound offer.
	Accept AcceptFunc
	// Decline declines an inbound offer.
	Decline DeclineFunc
}

// Dialer is the top-level client object. One Dialer per signed-in user.
type Dialer struct {
	mu     sync.Mutex
	active *Call

	creds  *CredentialManager
	device *SessionDevice
	offers *OfferCoordinator
	socket *Socket

	regionPrefix string
	rate         decimal.Decimal
	save         SaveFunc
	balance      func() decimal.Decimal

	Emitter *EventEmitter
}

func New(cfg Config) *Dialer {
	d := &Dialer{
		regionPrefix: cfg.RegionPrefix,
		rate:         cfg.RatePerMinute,
		save:         cfg.Save,
		balance:      cfg.Balance,
		Emitter:      NewEventEmitter(),
	}

	d.creds = NewCredentialManager(cfg.FetchCredential)
	d.device = NewSessionDevice(cfg.Client, d.creds, d.inCall)
	d.offers = NewOfferCoordinator(cfg.Accept, cfg.Decline, d.inCall)
	d.socket = NewSocket(cfg.RealtimeURL, d.creds)

	d.socket.Emitter.On(SocketEventIncomingCall, d.onIncomingCall)
	d.socket.Emitter.On(SocketEventIncomingCallCanceled, d.onIncomingCanceled)
	d.socket.Emitter.On(SocketEventCallEnded, d.onCallEnded)

	return d
}

// Start registers the device and opens the realtime channel.
func (d *Dialer) Start(ctx context.Context) error {
	if err := d.device.Register(ctx); err != nil {
		return err
	}
	return d.socket.Connect(ctx)
}

// Stop tears everything down.
func (d *Dialer) Stop() {
	_ = d.socket.Close()
	_ = d.device.Destroy()
}

// Credentials exposes the credential manager (for UI expiry countdowns).
func (d *Dialer) Credentials() *CredentialManager { return d.creds }

// Offers exposes the incoming-offer coordinator.
func (d *Dialer) Offers() *OfferCoordinator { return d.offers }

// Device exposes the session device.
func (d *Dialer) Device() *SessionDevice { return d.device }

// Active returns the in-flight call, if any.
func (d *Dialer) Active() *Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

func (d *Dialer) inCall() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active != nil && d.active.Phase() != PhaseEnded
}

// Place starts an outbound call. The destination is normalized exactly the
// way the platform's router normalizes it, and rejected locally when it is
// not dialable so no network round trip is wasted.
func (d *Dialer) Place(ctx context.Context, destination, callerID string) (*Call, error) {
	dest := phone.Format(destination, d.regionPrefix)
	if !phone.IsDialable(dest) {
		return nil, ErrInvalidDestination
	}

	d.mu.Lock()
	if d.active != nil && d.active.Phase() != PhaseEnded {
		d.mu.Unlock()
		return nil, ErrProviderRejected
	}
	call := NewCall(dest, callerID, d.rate, d.save)
	if d.balance != nil {
		call.SetStartingBalance(d.balance())
	}
	d.active = call
	d.mu.Unlock()

	if err := call.Placing(); err != nil {
		return nil, err
	}

	params := map[string]string{"destination": dest}
	if callerID != "" {
		params["callerId"] = callerID
	}
	session, err := d.device.Connect(ctx, params)
	if err != nil {
		_ = call.End(ctx, EndFailed)
		if Classify(err) == FaultCredentialExpired {
			// Refresh and tell the caller to redial; live calls are not
			// migrated onto new credentials.
			if _, rerr := d.creds.Refresh(ctx); rerr == nil {
				_ = d.device.Reinitialize(ctx)
			}
			return nil, ErrCredentialExpired
		}
		return nil, err
	}

	call.AttachSession(session, "")
	d.bindSession(call, session)
	if err := call.Connecting(); err != nil {
		return nil, err
	}
	return call, nil
}

func (d *Dialer) bindSession(call *Call, session ProviderSession) {
	session.On("ringing", func(interface{}) { _ = call.Ringing() })
	session.On("accepted", func(interface{}) { _ = call.Connected() })
	session.On("disconnected", func(interface{}) {
		_ = call.End(context.Background(), EndCompleted)
	})
	session.On("cancel", func(interface{}) {
		_ = call.End(context.Background(), EndCanceled)
	})
	session.On("reject", func(interface{}) {
		_ = call.End(context.Background(), EndRejected)
	})
	session.On("error", func(data interface{}) {
		call.Emitter.Emit(string(CallEventError), data)
		_ = call.End(context.Background(), EndFailed)
	})
}

func (d *Dialer) onIncomingCall(data interface{}) {
	raw, ok := data.(json.RawMessage)
	if !ok {
		return
	}
	var notice IncomingCallNotice
	if err := json.Unmarshal(raw, &notice); err != nil {
		return
	}
	_ = d.offers.HandleIncoming(context.Background(), Offer{
		ExternalSessionID: notice.ExternalSessionID,
		From:              notice.From,
		To:                notice.To,
	})
}

func (d *Dialer) onIncomingCanceled(data interface{}) {
	raw, ok := data.(json.RawMessage)
	if !ok {
		return
	}
	var notice CancelNotice
	if err := json.Unmarshal(raw, &notice); err != nil {
		return
	}
	d.offers.HandleRemoteCancel(notice.ExternalSessionID, notice.Reason)
}

// onCallEnded applies the authoritative terminal event: the local summary
// save is superseded and the UI gets the billed numbers.
func (d *Dialer) onCallEnded(data interface{}) {
	raw, ok := data.(json.RawMessage)
	if !ok {
		return
	}
	var notice CallEndedNotice
	if err := json.Unmarshal(raw, &notice); err != nil {
		return
	}

	d.mu.Lock()
	call := d.active
	d.mu.Unlock()
	if call != nil {
		call.MarkSuperseded()
	}
	d.Emitter.Emit(SocketEventCallEnded, notice)
}
