package supabase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	domainauth "github.com/mindguard/mindguard-api/internal/domain/auth"
	"github.com/mindguard/mindguard-api/internal/ports"
)

var _ ports.AuthProvider = (*AuthProvider)(nil)

// AuthProvider implements ports.AuthProvider against the GoTrue REST API.
type AuthProvider struct {
	c *client
}

// NewAuthProvider constructs a GoTrue-backed provider.
func NewAuthProvider(cfg Config) (*AuthProvider, error) {
	c, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	return &AuthProvider{c: c}, nil
}

type gotrueUser struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

func (u gotrueUser) identity() domainauth.Identity {
	return domainauth.Identity{ID: u.ID, Email: u.Email, Metadata: u.UserMetadata}
}

// gotrueSession is the token response. Sign-up without auto-confirm returns a
// bare user object, so the user fields are inlined as well.
type gotrueSession struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	TokenType    string      `json:"token_type"`
	ExpiresIn    int64       `json:"expires_in"`
	ExpiresAt    int64       `json:"expires_at"`
	User         *gotrueUser `json:"user"`
	gotrueUser
}

func (s *gotrueSession) session(now time.Time) *domainauth.Session {
	if s.AccessToken == "" || s.User == nil {
		return nil
	}
	var expires time.Time
	switch {
	case s.ExpiresAt > 0:
		expires = time.Unix(s.ExpiresAt, 0).UTC()
	case s.ExpiresIn > 0:
		expires = now.Add(time.Duration(s.ExpiresIn) * time.Second)
	}
	return &domainauth.Session{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    s.TokenType,
		ExpiresAt:    expires,
		Identity:     s.User.identity(),
	}
}

func (p *AuthProvider) token(ctx context.Context, grant string, body any) (*domainauth.Session, error) {
	var out gotrueSession
	q := url.Values{"grant_type": {grant}}
	if err := p.c.do(ctx, http.MethodPost, "/auth/v1/token", q, p.c.anonKey, "", body, &out); err != nil {
		return nil, err
	}
	sess := out.session(p.c.now())
	if sess == nil {
		return nil, fmt.Errorf("token response missing access token or user: %w", domainauth.ErrNotAuthenticated)
	}
	return sess, nil
}

// SignIn uses the password grant. 400 and 401 responses wrap
// domainauth.ErrInvalidCredentials.
func (p *AuthProvider) SignIn(ctx context.Context, email, password string) (*domainauth.Session, error) {
	sess, err := p.token(ctx, "password", map[string]string{"email": email, "password": password})
	if err != nil {
		if isRejection(err) {
			return nil, fmt.Errorf("%w: %w", domainauth.ErrInvalidCredentials, err)
		}
		return nil, err
	}
	return sess, nil
}

func (p *AuthProvider) SignUp(
	ctx context.Context,
	in domainauth.SignUpInput,
) (*domainauth.Identity, *domainauth.Session, error) {
	body := map[string]any{
		"email":    in.Email,
		"password": in.Password,
		"data":     in.Profile.Metadata(p.c.now()),
	}
	var out gotrueSession
	if err := p.c.do(ctx, http.MethodPost, "/auth/v1/signup", nil, p.c.anonKey, "", body, &out); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", domainauth.ErrRegistration, err)
	}

	if sess := out.session(p.c.now()); sess != nil {
		id := sess.Identity
		return &id, sess, nil
	}
	// Email confirmation pending: the response is the user itself.
	user := out.gotrueUser
	if out.User != nil {
		user = *out.User
	}
	if user.ID == "" {
		return nil, nil, fmt.Errorf("%w: signup response has no user", domainauth.ErrRegistration)
	}
	id := user.identity()
	return &id, nil, nil
}

// SignOut revokes the refresh tokens of the session's user. An already
// invalid token is not an error.
func (p *AuthProvider) SignOut(ctx context.Context, sess *domainauth.Session) error {
	if sess == nil || sess.AccessToken == "" {
		return nil
	}
	err := p.c.do(ctx, http.MethodPost, "/auth/v1/logout", nil, p.c.anonKey, sess.AccessToken, nil, nil)
	if isRejection(err) {
		return nil
	}
	return err
}

// Refresh exchanges a refresh token. Rejections wrap domainauth.ErrNotAuthenticated;
// transport and 5xx failures do not, so callers keep the session.
func (p *AuthProvider) Refresh(ctx context.Context, refreshToken string) (*domainauth.Session, error) {
	sess, err := p.token(ctx, "refresh_token", map[string]string{"refresh_token": refreshToken})
	if err != nil {
		if isRejection(err) {
			return nil, fmt.Errorf("%w: %w", domainauth.ErrNotAuthenticated, err)
		}
		return nil, err
	}
	return sess, nil
}

func isRejection(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	default:
		return false
	}
}
