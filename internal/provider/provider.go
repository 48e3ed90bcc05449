package provider

import (
	"context"
)

// TelephonyProvider is the provider-agnostic boundary used by the call
// router. No provider SDK calls outside this package's adapters; business
// logic sees only these types.
type TelephonyProvider interface {
	Name() string
	HealthCheck(ctx context.Context) error

	// Connect instructs the provider to connect an outbound call. The
	// provider assigns the external session id all later status callbacks
	// are keyed by.
	Connect(ctx context.Context, req ConnectRequest) (ConnectResult, error)
}

// ConnectRequest describes one outbound call attempt.
type ConnectRequest struct {
	// From is the caller-ID presented to the callee (E.164).
	From string `json:"from"`
	// To is the dialed destination (E.164).
	To string `json:"to"`

	// VoiceURL is fetched by the provider for the call-control document.
	VoiceURL string `json:"voice_url"`
	// StatusCallbackURL receives asynchronous status updates.
	StatusCallbackURL string `json:"status_callback_url"`
}

type ConnectResult struct {
	// ExternalSessionID is the provider-assigned call identifier.
	ExternalSessionID string `json:"external_session_id"`

	// ProvisionalStatus is the provider's initial status (e.g. "queued").
	ProvisionalStatus string `json:"provisional_status"`
}
