package ports

// Package ports defines interfaces (hexagonal ports) for auth-related behavior.
// Implementations live in internal/adapters; orchestration in internal/service.

import (
	"context"
	"errors"

	domainauth "github.com/mindguard/mindguard-api/internal/domain/auth"
)

// AuthProvider is the managed authentication backend.
type AuthProvider interface {
	// SignIn exchanges an email/password pair for a session.
	// Rejected credentials must wrap domainauth.ErrInvalidCredentials.
	SignIn(ctx context.Context, email, password string) (*domainauth.Session, error)

	// SignUp registers a new account. The returned session is nil when the provider
	// requires email confirmation before issuing tokens.
	SignUp(ctx context.Context, in domainauth.SignUpInput) (*domainauth.Identity, *domainauth.Session, error)

	// SignOut revokes the session's refresh token on the provider side.
	SignOut(ctx context.Context, sess *domainauth.Session) error

	// Refresh exchanges a refresh token for a new session.
	Refresh(ctx context.Context, refreshToken string) (*domainauth.Session, error)
}

// ErrSessionNotFound is returned by SessionPersistence.Load when nothing is stored under the key.
var ErrSessionNotFound = errors.New("session not found")

// SessionPersistence stores the last known session between process restarts or workspace evictions.
type SessionPersistence interface {
	Load(ctx context.Context, key string) (*domainauth.Session, error)
	Save(ctx context.Context, key string, sess *domainauth.Session) error
	Delete(ctx context.Context, key string) error
}

// TokenVerifier validates an access token and returns the identity it was issued for.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (*domainauth.Identity, error)
}

// RoleRepository answers role-assignment lookups.
type RoleRepository interface {
	// FindRole returns the matching assignment, or (nil, nil) when the user does not hold the role.
	FindRole(ctx context.Context, userID string, role domainauth.Role) (*domainauth.RoleAssignment, error)
}
