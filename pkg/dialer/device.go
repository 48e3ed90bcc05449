package dialer

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ProviderSession is one live call leg inside the provider SDK. The dialer
// never looks inside it; it only issues intents and listens for events.
type ProviderSession interface {
	Accept() error
	Reject() error
	Disconnect() error
	Mute(muted bool) error
	SendDigits(tones string) error
	On(event string, handler EventHandler)
}

// ProviderClient is the provider SDK handle the device wraps. Register
// binds the calling credential; Connect opens an outbound session with
// provider-defined parameters.
type ProviderClient interface {
	Register(ctx context.Context, token string) error
	Connect(ctx context.Context, params map[string]string) (ProviderSession, error)
	On(event string, handler EventHandler)
	Destroy() error
}

const (
	registrationAttempts = 3
	registrationTimeout  = 5 * time.Second
	registrationBackoff  = 2 * time.Second
	reconnectDelay       = 2 * time.Second
)

// SessionDevice owns one registered provider client session and its
// lifecycle: bounded registration retries, one delayed reconnect on
// offline, and credential-driven reinitialization.
type SessionDevice struct {
	mu         sync.Mutex
	client     ProviderClient
	creds      *CredentialManager
	registered bool
	reconnect  *time.Timer

	// inCall is consulted on credential refresh: a connected call keeps
	// the current registration, the new credential is swapped in on the
	// next registration instead.
	inCall func() bool

	Emitter *EventEmitter

	sleep func(time.Duration)
}

func NewSessionDevice(client ProviderClient, creds *CredentialManager, inCall func() bool) *SessionDevice {
	if inCall == nil {
		inCall = func() bool { return false }
	}
	d := &SessionDevice{
		client:  client,
		creds:   creds,
		inCall:  inCall,
		Emitter: NewEventEmitter(),
		sleep:   time.Sleep,
	}
	client.On(string(DeviceEventOffline), d.onOffline)
	client.On(string(DeviceEventIncoming), func(data interface{}) {
		d.Emitter.Emit(string(DeviceEventIncoming), data)
	})
	return d
}

// Register binds the current credential to the provider. Retryable faults
// are retried up to registrationAttempts times with a fixed backoff;
// anything else fails fast.
func (d *SessionDevice) Register(ctx context.Context) error {
	cred, _, err := d.creds.EnsureValid(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRegistrationFailed, err)
	}

	var lastErr error
	for attempt := 1; attempt <= registrationAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, registrationTimeout)
		err := d.client.Register(attemptCtx, cred.Token)
		cancel()

		if err == nil {
			d.mu.Lock()
			d.registered = true
			d.mu.Unlock()
			d.Emitter.Emit(string(DeviceEventRegistered), nil)
			return nil
		}
		lastErr = err

		switch Classify(err) {
		case FaultCredentialExpired:
			cred, err = d.creds.Refresh(ctx)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrRegistrationFailed, err)
			}
		case FaultRetryableNetwork:
			// fall through to backoff
		default:
			return fmt.Errorf("%w: %v", ErrRegistrationFailed, lastErr)
		}

		if attempt < registrationAttempts {
			d.sleep(registrationBackoff)
		}
	}
	return fmt.Errorf("%w: %v", ErrRegistrationFailed, lastErr)
}

// Connect opens an outbound provider session.
func (d *SessionDevice) Connect(ctx context.Context, params map[string]string) (ProviderSession, error) {
	d.mu.Lock()
	registered := d.registered
	d.mu.Unlock()
	if !registered {
		return nil, ErrRegistrationFailed
	}
	return d.client.Connect(ctx, params)
}

// Reinitialize tears the registration down and registers again with the
// freshest credential. Called after a credential refresh; skipped while a
// call is connected, in which case the new credential simply applies to
// the next registration.
func (d *SessionDevice) Reinitialize(ctx context.Context) error {
	if d.inCall() {
		return nil
	}
	d.mu.Lock()
	d.registered = false
	d.mu.Unlock()
	if err := d.client.Destroy(); err != nil {
		d.Emitter.Emit(string(DeviceEventError), err)
	}
	return d.Register(ctx)
}

// onOffline schedules exactly one delayed reconnect attempt. Repeated
// offline events while one is pending are ignored; a reconnect that fails
// surfaces as a device error rather than looping.
func (d *SessionDevice) onOffline(data interface{}) {
	d.mu.Lock()
	if d.reconnect != nil {
		d.mu.Unlock()
		return
	}
	d.registered = false
	d.reconnect = time.AfterFunc(reconnectDelay, func() {
		d.mu.Lock()
		d.reconnect = nil
		d.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), registrationTimeout)
		defer cancel()
		if err := d.client.Register(ctx, d.creds.Current().Token); err != nil {
			d.Emitter.Emit(string(DeviceEventError), err)
			return
		}
		d.mu.Lock()
		d.registered = true
		d.mu.Unlock()
		d.Emitter.Emit(string(DeviceEventRegistered), nil)
	})
	d.mu.Unlock()
	d.Emitter.Emit(string(DeviceEventOffline), data)
}

// Destroy tears the provider client down.
func (d *SessionDevice) Destroy() error {
	d.mu.Lock()
	if d.reconnect != nil {
		d.reconnect.Stop()
		d.reconnect = nil
	}
	d.registered = false
	d.mu.Unlock()
	return d.client.Destroy()
}
