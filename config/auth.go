package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// AuthMode represents the authentication provider backing the session store.
type AuthMode string

const (
	// AuthModeSupabase uses the managed Supabase (GoTrue) auth service.
	AuthModeSupabase AuthMode = "supabase"
	// AuthModeMock uses an in-process account table (for development only).
	AuthModeMock AuthMode = "mock"
)

// UnmarshalText implements encoding.TextUnmarshaler for AuthMode.
func (a *AuthMode) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "supabase", "mock":
		*a = AuthMode(v)
		return nil
	default:
		return fmt.Errorf("invalid AuthMode: %q (valid options: supabase, mock)", v)
	}
}

// RoleSource selects where role assignments are read from.
type RoleSource string

const (
	RoleSourceStatic   RoleSource = "static"
	RoleSourcePostgres RoleSource = "postgres"
	RoleSourceSupabase RoleSource = "supabase"
)

// UnmarshalText implements encoding.TextUnmarshaler for RoleSource.
func (r *RoleSource) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "static", "postgres", "supabase":
		*r = RoleSource(v)
		return nil
	default:
		return fmt.Errorf("invalid RoleSource: %q (valid options: static, postgres, supabase)", v)
	}
}

// SupabaseConfig holds the managed backend endpoints and keys.
type SupabaseConfig struct {
	URL     string `env:"URL"`
	AnonKey string `env:"ANON_KEY"`
	// ServiceRoleKey authorizes role-table reads through PostgREST. Falls back to AnonKey.
	ServiceRoleKey string `env:"SERVICE_ROLE_KEY"`
	// JWKSURL enables access-token signature checks during session hydration.
	JWKSURL string `env:"JWKS_URL"`
	// Issuer defaults to <URL>/auth/v1.
	Issuer  string        `env:"ISSUER"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"10s"`
}

// DevAuthConfig seeds the mock provider's account table.
// Used when AUTH_MODE=mock for development and testing.
type DevAuthConfig struct {
	UserID     string        `env:"USER_ID"     envDefault:"dev-user"`
	Email      string        `env:"EMAIL"       envDefault:"dev@example.com"`
	Password   string        `env:"PASSWORD"    envDefault:"password"`
	FullName   string        `env:"FULL_NAME"   envDefault:"Dev User"`
	SigningKey string        `env:"SIGNING_KEY" envDefault:"mindguard-dev-signing-key"`
	TokenTTL   time.Duration `env:"TOKEN_TTL"   envDefault:"1h"`
}

// AuthConfig groups all authentication-related configuration.
type AuthConfig struct {
	Mode       AuthMode   `env:"AUTH_MODE"   envDefault:"supabase"`
	RoleSource RoleSource `env:"ROLE_SOURCE" envDefault:"supabase"`

	Supabase SupabaseConfig `envPrefix:"SUPABASE_"`
	DevAuth  DevAuthConfig  `envPrefix:"DEV_AUTH_"`

	// AdminUserIDs lists admin identities when ROLE_SOURCE=static.
	AdminUserIDs []string `env:"ADMIN_USER_IDS" envSeparator:","`

	// RefreshSkew refreshes access tokens this long before they expire.
	RefreshSkew time.Duration `env:"AUTH_REFRESH_SKEW" envDefault:"60s"`

	// RoleLookupTimeout bounds one admin role query. Zero leaves the query
	// unbounded so a hung lookup keeps the admin guard pending.
	RoleLookupTimeout time.Duration `env:"ROLE_LOOKUP_TIMEOUT" envDefault:"0s"`
}

// Sanitize normalizes URLs and derived defaults.
func (a *AuthConfig) Sanitize() {
	a.Supabase.URL = strings.TrimRight(strings.TrimSpace(a.Supabase.URL), "/")
	if a.Supabase.Issuer == "" && a.Supabase.URL != "" {
		a.Supabase.Issuer = a.Supabase.URL + "/auth/v1"
	}
	if a.Supabase.ServiceRoleKey == "" {
		a.Supabase.ServiceRoleKey = a.Supabase.AnonKey
	}
	if a.Supabase.Timeout <= 0 {
		a.Supabase.Timeout = 10 * time.Second
	}
	if a.RefreshSkew < 0 {
		a.RefreshSkew = 0
	}
	if a.RoleLookupTimeout < 0 {
		a.RoleLookupTimeout = 0
	}
	ids := a.AdminUserIDs[:0]
	for _, id := range a.AdminUserIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	a.AdminUserIDs = ids
}

// Validate checks that the selected provider and role source are configured.
func (a *AuthConfig) Validate() error {
	needsSupabase := a.Mode == AuthModeSupabase || a.RoleSource == RoleSourceSupabase
	if needsSupabase && (a.Supabase.URL == "" || a.Supabase.AnonKey == "") {
		return errors.New("SUPABASE_URL and SUPABASE_ANON_KEY are required for the supabase provider or role source")
	}
	if a.Mode == AuthModeMock && a.DevAuth.SigningKey == "" {
		return errors.New("DEV_AUTH_SIGNING_KEY is required in mock mode")
	}
	return nil
}
