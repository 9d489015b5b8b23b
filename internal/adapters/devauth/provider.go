package devauth

// Package devauth provides an in-process AuthProvider for local development.
// Accounts live in memory with bcrypt password hashes; access tokens are
// HS256 JWTs that the same provider verifies.

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	domainauth "github.com/mindguard/mindguard-api/internal/domain/auth"
	"github.com/mindguard/mindguard-api/internal/ports"
	"golang.org/x/crypto/bcrypt"
)

const issuer = "mindguard-devauth"

var (
	_ ports.AuthProvider  = (*Provider)(nil)
	_ ports.TokenVerifier = (*Provider)(nil)
)

// Config controls the dev auth provider behavior.
// The seed account is created from UserID, Email, Password and FullName.
type Config struct {
	UserID     string
	Email      string
	Password   string
	FullName   string
	SigningKey string
	TokenTTL   time.Duration // default 1h when zero
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
	Now        func() time.Time
}

type account struct {
	hash     []byte
	identity domainauth.Identity
}

// Provider implements ports.AuthProvider and ports.TokenVerifier for local development.
type Provider struct {
	key  []byte
	ttl  time.Duration
	cost int
	now  func() time.Time

	mu       sync.Mutex
	accounts map[string]account // by lower-cased email
	refresh  map[string]string  // refresh token -> email
}

// tokenClaims are the claims carried by issued access tokens.
type tokenClaims struct {
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	jwt.RegisteredClaims
}

// NewProvider constructs a dev auth provider from Config.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.UserID == "" {
		return nil, errors.New("dev auth: UserID is required")
	}
	if cfg.Email == "" {
		return nil, errors.New("dev auth: Email is required")
	}
	if cfg.Password == "" {
		return nil, errors.New("dev auth: Password is required")
	}
	if cfg.SigningKey == "" {
		return nil, errors.New("dev auth: SigningKey is required")
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	p := &Provider{
		key:      []byte(cfg.SigningKey),
		ttl:      ttl,
		cost:     cost,
		now:      now,
		accounts: make(map[string]account),
		refresh:  make(map[string]string),
	}
	metadata := map[string]any{}
	if cfg.FullName != "" {
		metadata["full_name"] = cfg.FullName
	}
	if err := p.addAccount(cfg.Email, cfg.Password, domainauth.Identity{
		ID:       cfg.UserID,
		Email:    cfg.Email,
		Metadata: metadata,
	}); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Provider) SignIn(_ context.Context, email, password string) (*domainauth.Session, error) {
	p.mu.Lock()
	acct, ok := p.accounts[normalizeEmail(email)]
	p.mu.Unlock()
	if !ok {
		return nil, domainauth.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(acct.hash, []byte(password)); err != nil {
		return nil, domainauth.ErrInvalidCredentials
	}
	return p.issue(acct.identity)
}

func (p *Provider) SignUp(
	_ context.Context,
	in domainauth.SignUpInput,
) (*domainauth.Identity, *domainauth.Session, error) {
	id := domainauth.Identity{
		ID:       uuid.NewString(),
		Email:    strings.TrimSpace(in.Email),
		Metadata: in.Profile.Metadata(p.now()),
	}
	if err := p.addAccount(in.Email, in.Password, id); err != nil {
		return nil, nil, err
	}
	sess, err := p.issue(id)
	if err != nil {
		return nil, nil, err
	}
	return &id, sess, nil
}

func (p *Provider) SignOut(_ context.Context, sess *domainauth.Session) error {
	if sess == nil || sess.RefreshToken == "" {
		return nil
	}
	p.mu.Lock()
	delete(p.refresh, sess.RefreshToken)
	p.mu.Unlock()
	return nil
}

// Refresh rotates a refresh token. Unknown or revoked tokens wrap
// domainauth.ErrNotAuthenticated.
func (p *Provider) Refresh(_ context.Context, refreshToken string) (*domainauth.Session, error) {
	p.mu.Lock()
	email, ok := p.refresh[refreshToken]
	if ok {
		delete(p.refresh, refreshToken)
	}
	acct, exists := p.accounts[email]
	p.mu.Unlock()
	if !ok || !exists {
		return nil, fmt.Errorf("unknown refresh token: %w", domainauth.ErrNotAuthenticated)
	}
	return p.issue(acct.identity)
}

// Verify parses an access token issued by this provider.
func (p *Provider) Verify(_ context.Context, rawToken string) (*domainauth.Identity, error) {
	var claims tokenClaims
	_, err := jwt.ParseWithClaims(rawToken, &claims,
		func(*jwt.Token) (any, error) { return p.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return nil, fmt.Errorf("verify access token: %w: %w", domainauth.ErrNotAuthenticated, err)
	}
	return &domainauth.Identity{ID: claims.Subject, Email: claims.Email, Metadata: claims.UserMetadata}, nil
}

func (p *Provider) addAccount(email, password string, id domainauth.Identity) error {
	key := normalizeEmail(email)
	if key == "" {
		return fmt.Errorf("%w: email is required", domainauth.ErrRegistration)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return fmt.Errorf("%w: hash password: %w", domainauth.ErrRegistration, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.accounts[key]; exists {
		return fmt.Errorf("%w: user already registered", domainauth.ErrRegistration)
	}
	p.accounts[key] = account{hash: hash, identity: id}
	return nil
}

func (p *Provider) issue(id domainauth.Identity) (*domainauth.Session, error) {
	now := p.now()
	expires := now.Add(p.ttl)
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		Email:        id.Email,
		UserMetadata: id.Metadata,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   id.ID,
			Audience:  jwt.ClaimStrings{"authenticated"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        uuid.NewString(),
		},
	}).SignedString(p.key)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refresh := uuid.NewString()
	p.mu.Lock()
	p.refresh[refresh] = normalizeEmail(id.Email)
	p.mu.Unlock()

	return &domainauth.Session{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresAt:    expires,
		Identity:     id,
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
