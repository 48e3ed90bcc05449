package dialer

import (
	"errors"
	"net"
)

// Sentinel faults the dialer reacts to. Provider adapters should wrap their
// SDK errors in one of these so the rest of the dialer can classify them
// with errors.Is.
var (
	ErrCredentialExpired  = errors.New("dialer: calling credential expired")
	ErrRegistrationFailed = errors.New("dialer: device registration failed")
	ErrNetwork            = errors.New("dialer: network fault")
	ErrInvalidDestination = errors.New("dialer: destination is not dialable")
	ErrProviderRejected   = errors.New("dialer: provider rejected the call")
	ErrInvalidTransition  = errors.New("dialer: invalid call state transition")
	ErrOfferPending       = errors.New("dialer: another offer is already pending")
	ErrNoOffer            = errors.New("dialer: no pending offer")
)

// FaultClass drives retry behavior.
type FaultClass int

const (
	// FaultTerminal is surfaced to the user without any automatic retry.
	FaultTerminal FaultClass = iota
	// FaultRetryableNetwork allows a bounded automatic retry.
	FaultRetryableNetwork
	// FaultCredentialExpired triggers a credential refresh before retrying.
	FaultCredentialExpired
)

// Classify maps an error onto the closed set of fault classes.
func Classify(err error) FaultClass {
	switch {
	case errors.Is(err, ErrCredentialExpired):
		return FaultCredentialExpired
	case errors.Is(err, ErrNetwork):
		return FaultRetryableNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FaultRetryableNetwork
	}
	return FaultTerminal
}

// Category is the user-facing error category a UI can translate.
type Category string

const (
	CategoryCredentialExpired   Category = "credential_expired"
	CategoryServiceUnavailable  Category = "service_unavailable"
	CategoryNetwork             Category = "network"
	CategoryInvalidDestination  Category = "invalid_destination"
	CategoryInsufficientBalance Category = "insufficient_balance"
	CategoryProviderRejected    Category = "provider_rejected"
	CategoryInternal            Category = "internal"
)

// Categorize maps an error onto the closed set of user-facing categories.
func Categorize(err error) Category {
	switch {
	case errors.Is(err, ErrCredentialExpired):
		return CategoryCredentialExpired
	case errors.Is(err, ErrRegistrationFailed):
		return CategoryServiceUnavailable
	case errors.Is(err, ErrInvalidDestination):
		return CategoryInvalidDestination
	case errors.Is(err, ErrProviderRejected):
		return CategoryProviderRejected
	}
	if Classify(err) == FaultRetryableNetwork {
		return CategoryNetwork
	}
	return CategoryInternal
}
