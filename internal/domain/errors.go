package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrContextDone   = errors.New("context cancelled")
	ErrLockHeld      = errors.New("lock already held")

	ErrInvalidToken      = errors.New("invalid token")
	ErrOracleUnavailable = errors.New("oracle unavailable")
	ErrAdmissionRejected = errors.New("admission rejected")
	ErrAlreadyClosed     = errors.New("position already closed")
	ErrSwapFailed        = errors.New("swap failed")
	// ErrSwapPending means a swap was broadcast but its outcome is unknown.
	// The trade may still land, so callers must neither retry nor refund.
	ErrSwapPending         = errors.New("swap pending")
	ErrArithmeticUnderflow = errors.New("arithmetic underflow")
	ErrInvalidPolicy       = errors.New("invalid policy config")
	ErrPaused              = errors.New("sniping paused")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrInvalidAmount       = errors.New("amount must be positive")
)

// AdmissionError carries the reason a candidate token was refused.
// It unwraps to ErrAdmissionRejected.
type AdmissionError struct {
	Reason RejectReason
}

func (e *AdmissionError) Error() string {
	return "admission rejected: " + string(e.Reason)
}

func (e *AdmissionError) Unwrap() error {
	return ErrAdmissionRejected
}
