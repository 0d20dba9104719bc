package session

import "errors"

// Failure classes of HandleInbound. Callers match them with errors.Is; the
// underlying cause stays wrapped alongside.
var (
	// ErrInvalidRequest means the input was rejected before any side effect.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrStoreUnavailable means a load, persist or lock acquisition failed.
	ErrStoreUnavailable = errors.New("conversation store unavailable")

	// ErrCompletionFailed means the model call failed, timed out or returned nothing.
	// The user turn is already persisted.
	ErrCompletionFailed = errors.New("completion failed")

	// ErrDeliveryFailed is reported in Result.DeliveryError. It never fails the call.
	ErrDeliveryFailed = errors.New("delivery failed")
)

var errEmptyCompletion = errors.New("empty completion")
