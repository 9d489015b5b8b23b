package bootstrap

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mindguard/mindguard-api/config"
	"github.com/mindguard/mindguard-api/internal/adapters/authroles"
	"github.com/mindguard/mindguard-api/internal/adapters/devauth"
	"github.com/mindguard/mindguard-api/internal/adapters/oidc"
	"github.com/mindguard/mindguard-api/internal/adapters/supabase"
	"github.com/mindguard/mindguard-api/internal/data"
	httpx "github.com/mindguard/mindguard-api/internal/http"
	"github.com/mindguard/mindguard-api/internal/ports"
)

// AuthConfig contains configuration for the auth provider.
type AuthConfig struct {
	Auth   config.AuthConfig
	Logger *slog.Logger
}

// AuthProviders is the provider pair the session stores are built on.
// Verifier is nil when access tokens are not checked locally.
type AuthProviders struct {
	Provider ports.AuthProvider
	Verifier ports.TokenVerifier
}

// BuildAuthProvider creates the auth provider for the configured mode.
func BuildAuthProvider(cfg AuthConfig) (AuthProviders, error) {
	switch cfg.Auth.Mode {
	case config.AuthModeMock:
		return buildDevAuthProvider(cfg)
	case config.AuthModeSupabase:
		return buildSupabaseProvider(cfg)
	default:
		return AuthProviders{}, fmt.Errorf("unsupported auth mode %q", cfg.Auth.Mode)
	}
}

func buildDevAuthProvider(cfg AuthConfig) (AuthProviders, error) {
	dev := cfg.Auth.DevAuth
	prov, err := devauth.NewProvider(devauth.Config{
		UserID:     dev.UserID,
		Email:      dev.Email,
		Password:   dev.Password,
		FullName:   dev.FullName,
		SigningKey: dev.SigningKey,
		TokenTTL:   dev.TokenTTL,
	})
	if err != nil {
		return AuthProviders{}, fmt.Errorf("create dev auth provider: %w", err)
	}
	if cfg.Logger != nil {
		cfg.Logger.Warn("using in-process dev auth provider", "email", dev.Email, "user_id", dev.UserID)
	}
	return AuthProviders{Provider: prov, Verifier: prov}, nil
}

func buildSupabaseProvider(cfg AuthConfig) (AuthProviders, error) {
	prov, err := supabase.NewAuthProvider(supabaseConfig(cfg.Auth))
	if err != nil {
		return AuthProviders{}, fmt.Errorf("create supabase auth provider: %w", err)
	}

	out := AuthProviders{Provider: prov}
	sb := cfg.Auth.Supabase
	if sb.JWKSURL == "" {
		if cfg.Logger != nil {
			cfg.Logger.Info("access-token verification disabled: SUPABASE_JWKS_URL not set")
		}
		return out, nil
	}

	verifier, err := oidc.NewVerifier(oidc.VerifierConfig{
		Issuer:  sb.Issuer,
		JWKSURL: sb.JWKSURL,
	})
	if err != nil {
		return AuthProviders{}, fmt.Errorf("create token verifier: %w", err)
	}
	out.Verifier = verifier
	return out, nil
}

func supabaseConfig(a config.AuthConfig) supabase.Config {
	return supabase.Config{
		URL:            a.Supabase.URL,
		AnonKey:        a.Supabase.AnonKey,
		ServiceRoleKey: a.Supabase.ServiceRoleKey,
		Timeout:        a.Supabase.Timeout,
	}
}

// RoleSource is the role repository selected by ROLE_SOURCE. Admin is set
// only when assignments live in the local database and can be managed here.
type RoleSource struct {
	Repo  ports.RoleRepository
	Admin httpx.RoleAdmin
}

// BuildRoleSource creates the role repository for the configured source.
// db is required for the postgres source and ignored otherwise.
func BuildRoleSource(cfg AuthConfig, db *sql.DB) (RoleSource, error) {
	switch cfg.Auth.RoleSource {
	case config.RoleSourceStatic:
		repo := authroles.NewStaticRepository(cfg.Auth.AdminUserIDs)
		if cfg.Logger != nil && repo.Len() == 0 {
			cfg.Logger.Warn("static role source has no admins; set ADMIN_USER_IDS")
		}
		return RoleSource{Repo: repo}, nil
	case config.RoleSourcePostgres:
		if db == nil {
			return RoleSource{}, errors.New("postgres role source requires a database connection")
		}
		repo := data.NewRoleRepo(db)
		return RoleSource{Repo: repo, Admin: repo}, nil
	case config.RoleSourceSupabase:
		repo, err := supabase.NewRoleRepository(supabaseConfig(cfg.Auth))
		if err != nil {
			return RoleSource{}, fmt.Errorf("create supabase role repository: %w", err)
		}
		return RoleSource{Repo: repo}, nil
	default:
		return RoleSource{}, fmt.Errorf("unsupported role source %q", cfg.Auth.RoleSource)
	}
}
