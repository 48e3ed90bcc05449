package dialer

import "sync"

// CallPhase represents the state of a call in the dialer state machine.
type CallPhase string

const (
	PhaseIdle       CallPhase = "idle"
	PhasePlacing    CallPhase = "placing"
	PhaseConnecting CallPhase = "connecting"
	PhaseRinging    CallPhase = "ringing"
	PhaseConnected  CallPhase = "connected"
	PhaseEnded      CallPhase = "ended"
)

// EndReason is why a call reached the ended phase.
type EndReason string

const (
	EndCompleted EndReason = "completed"
	EndFailed    EndReason = "failed"
	EndBusy      EndReason = "busy"
	EndNoAnswer  EndReason = "no_answer"
	EndCanceled  EndReason = "canceled"
	EndRejected  EndReason = "rejected"
)

// CallEventKey identifies call events delivered through the emitter.
type CallEventKey string

const (
	CallEventPhase CallEventKey = "phase"
	CallEventTick  CallEventKey = "tick"
	CallEventEnded CallEventKey = "call_ended"
	CallEventError CallEventKey = "call_error"
)

// DeviceEventKey identifies session device events.
type DeviceEventKey string

const (
	DeviceEventRegistered DeviceEventKey = "registered"
	DeviceEventOffline    DeviceEventKey = "offline"
	DeviceEventError      DeviceEventKey = "device_error"
	DeviceEventIncoming   DeviceEventKey = "incoming"
)

// OfferEventKey identifies incoming-offer events.
type OfferEventKey string

const (
	OfferEventOffered  OfferEventKey = "offer"
	OfferEventTimeout  OfferEventKey = "incoming_call_timeout"
	OfferEventCanceled OfferEventKey = "incoming_call_canceled"
	OfferEventAccepted OfferEventKey = "offer_accepted"
	OfferEventDeclined OfferEventKey = "offer_declined"
)

// EventHandler is a callback function for events.
type EventHandler func(data interface{})

// EventEmitter provides a simple event pub/sub system.
type EventEmitter struct {
	mu       sync.RWMutex
	handlers map[string][]EventHandler
}

// NewEventEmitter creates a new EventEmitter.
func NewEventEmitter() *EventEmitter {
	return &EventEmitter{
		handlers: make(map[string][]EventHandler),
	}
}

// On registers an event handler for a specific event type.
func (e *EventEmitter) On(event string, handler EventHandler) {
	if handler == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[event] = append(e.handlers[event], handler)
}

// Off removes all handlers for a specific event type.
func (e *EventEmitter) Off(event string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.handlers, event)
}

// Emit fires an event, calling all registered handlers.
func (e *EventEmitter) Emit(event string, data interface{}) {
	e.mu.RLock()
	handlers := make([]EventHandler, len(e.handlers[event]))
	copy(handlers, e.handlers[event])
	e.mu.RUnlock()

	for _, handler := range handlers {
		handler(data)
	}
}
