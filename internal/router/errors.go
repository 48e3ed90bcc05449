package router

import "errors"

var (
	// ErrInvalidDestination rejects a dial string that cannot be a phone
	// number. Raised before the provider is contacted.
	ErrInvalidDestination = errors.New("router: invalid destination")

	// ErrNoDestination means none of the accepted request fields carried a
	// usable destination.
	ErrNoDestination = errors.New("router: no destination provided")

	// ErrInsufficientBalance blocks placement when the prepaid balance is
	// empty. Pre-checked; never discovered mid-call.
	ErrInsufficientBalance = errors.New("router: insufficient balance")

	// ErrCallInProgress blocks a second concurrent placement by the same
	// user.
	ErrCallInProgress = errors.New("router: call already in progress")

	// ErrUnknownCall is returned for operations against a session id the
	// router never saw.
	ErrUnknownCall = errors.New("router: unknown call")
)
