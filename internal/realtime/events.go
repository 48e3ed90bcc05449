package realtime

import "encoding/json"

// EventType enumerates server→client events on the realtime channel.
type EventType string

const (
	// EventIncomingCall announces a pending inbound offer.
	EventIncomingCall EventType = "incoming_call"
	// EventIncomingCallTimeout tells the client its offer countdown fired
	// server-side.
	EventIncomingCallTimeout EventType = "incoming_call_timeout"
	// EventIncomingCallCanceled clears a pending offer (caller hung up,
	// or the call went terminal before the callee acted).
	EventIncomingCallCanceled EventType = "incoming_call_canceled"
	// EventCallEnded carries the authoritative terminal status and billing
	// outcome after reconciliation.
	EventCallEnded EventType = "call_ended"
)

// Event is the wire envelope for one realtime message.
type Event struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type IncomingCallPayload struct {
	ExternalSessionID string `json:"externalSessionId"`
	From              string `json:"from"`
	To                string `json:"to"`
}

type IncomingCallTimeoutPayload struct {
	ExternalSessionID string `json:"externalSessionId"`
}

type IncomingCallCanceledPayload struct {
	ExternalSessionID string `json:"externalSessionId"`
	Reason            string `json:"reason"`
}

type CallEndedPayload struct {
	ExternalSessionID string `json:"externalSessionId"`
	Status            string `json:"status"`
	DurationSeconds   int    `json:"duration"`
	Cost              string `json:"cost"`
}

// NewEvent marshals payload into an Event envelope.
func NewEvent(t EventType, payload any) (Event, error) {
	if payload == nil {
		return Event{Type: t}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: t, Payload: raw}, nil
}
