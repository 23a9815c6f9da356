package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidOrder  = errors.New("invalid order parameters")
	ErrSigningFailed = errors.New("signing failed")
	ErrWSDisconnect  = errors.New("websocket disconnected")
	ErrLockHeld      = errors.New("lock already held")

	ErrDiscovery          = errors.New("market discovery failed")
	ErrAmbiguousWindow    = errors.New("ambiguous market window")
	ErrNoWindow           = errors.New("no active market window")
	ErrInsufficientData   = errors.New("insufficient data")
	ErrStaleQuote         = errors.New("stale quote")
	ErrOrderRejected      = errors.New("order rejected")
	ErrOrderClosed        = errors.New("order closed by venue")
	ErrIllegalTransition  = errors.New("illegal order state transition")
	ErrOverfill           = errors.New("fill exceeds order size")
	ErrFlattenFailure     = errors.New("flatten failed")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrPositionClosed     = errors.New("position already closed")
)

// IsFatal reports whether err should consume the bounded fatal retry budget
// instead of being retried indefinitely.
func IsFatal(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrInvalidCredentials)
}
