package models

import "errors"

// Ledger business-rule violations. Reported to the caller, never retried.
var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrNoSuchHolding      = errors.New("no such holding")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrAccountNotFound    = errors.New("account not found")
	ErrNotGuestAccount    = errors.New("not a guest account")
)

// Boundary failures from the identity and market-data services.
var (
	ErrNetwork         = errors.New("network error")
	ErrInvalidResponse = errors.New("invalid response")
)

// Identity service conditions.
var (
	ErrUsernameExists     = errors.New("username already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotConfirmed   = errors.New("user not confirmed")
)

// Session errors. Both force a return to Unauthenticated.
var (
	ErrAuthExpired   = errors.New("session expired")
	ErrTokenNotFound = errors.New("no active session")
)

// ErrPersistence wraps any local store failure.
var ErrPersistence = errors.New("persistence error")

// ErrNotFound is returned by stores for a missing record.
var ErrNotFound = errors.New("not found")

// IsSessionError reports whether err should drop the session to Unauthenticated.
func IsSessionError(err error) bool {
	return errors.Is(err, ErrAuthExpired) || errors.Is(err, ErrTokenNotFound)
}

// IsBoundaryError reports whether err came from an external collaborator.
func IsBoundaryError(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrInvalidResponse)
}
