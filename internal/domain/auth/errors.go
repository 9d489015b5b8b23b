package auth

import "errors"

// Error kinds surfaced by the session store and role resolver.
var (
	ErrInvalidCredentials = errors.New("invalid login credentials")
	ErrRegistration       = errors.New("registration failed")
	ErrLookupFailure      = errors.New("role lookup failed")
	ErrNotAuthenticated   = errors.New("not authenticated")
)
