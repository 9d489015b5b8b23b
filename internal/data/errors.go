package data

import "errors"

// Shared sentinel errors for data-layer repositories.
var (
	ErrUserIDRequired = errors.New("user_id is required")
	ErrRoleRequired   = errors.New("role is required")
	// ErrRoleNotFound is returned by Revoke when no assignment matched.
	ErrRoleNotFound = errors.New("role assignment not found")
)
