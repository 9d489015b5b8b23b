package auth

import (
	"math"
	"time"

	"golang.org/x/oauth2"
)

// Role is a named role assignment. Only RoleAdmin is checked by the gate.
type Role string

const (
	RoleAdmin Role = "admin"
)

// Identity is the authenticated user record issued by the auth provider.
type Identity struct {
	ID       string         `json:"id"`
	Email    string         `json:"email"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// DisplayName returns the full_name metadata value, falling back to the email.
func (i *Identity) DisplayName() string {
	if i == nil {
		return ""
	}
	if name, ok := i.Metadata["full_name"].(string); ok && name != "" {
		return name
	}
	return i.Email
}

// Session is the live credential bound to an Identity.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	Identity     Identity  `json:"user"`
}

// Token exposes the session credential as an oauth2 token for header attachment.
func (s *Session) Token() *oauth2.Token {
	if s == nil {
		return nil
	}
	tt := s.TokenType
	if tt == "" {
		tt = "Bearer"
	}
	return &oauth2.Token{
		AccessToken:  s.AccessToken,
		TokenType:    tt,
		RefreshToken: s.RefreshToken,
		Expiry:       s.ExpiresAt,
	}
}

// Expired reports whether the access token is past its expiry at now.
// A zero ExpiresAt never expires.
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresWithin(now, 0)
}

// ExpiresWithin reports whether the access token expires within d of now.
func (s *Session) ExpiresWithin(now time.Time, d time.Duration) bool {
	if s == nil || s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(d).Before(s.ExpiresAt)
}

// RoleAssignment grants a named role to a user id.
type RoleAssignment struct {
	ID        string    `json:"id"         db:"id"`
	UserID    string    `json:"user_id"    db:"user_id"`
	Role      Role      `json:"role"       db:"role"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// AuthState is the process-wide projection of the session store.
type AuthState struct {
	Identity *Identity
	Loading  bool
}

// Authenticated reports whether hydration finished with an identity present.
func (s AuthState) Authenticated() bool {
	return !s.Loading && s.Identity != nil
}

// AdminState is the projection of the role lookup for the current identity.
// LookupFailed distinguishes "could not determine" from "definitely not admin";
// both report IsAdmin=false.
type AdminState struct {
	IsAdmin      bool
	Loading      bool
	LookupFailed bool
	Err          error
}

// EventKind names a session change notification.
type EventKind string

const (
	EventInitialSession EventKind = "initial_session"
	EventSignedIn       EventKind = "signed_in"
	EventSignedOut      EventKind = "signed_out"
	EventTokenRefreshed EventKind = "token_refreshed"
)

// ChangeEvent is delivered to session subscribers. Session is nil when signed out.
type ChangeEvent struct {
	Kind    EventKind
	Session *Session
}

// ProfileAttributes are the demographic fields collected at registration.
type ProfileAttributes struct {
	FullName string `json:"full_name" validate:"required,max=200"`
	Gender   string `json:"gender"    validate:"omitempty,max=50"`
	DOB      string `json:"dob"       validate:"omitempty,datetime=2006-01-02"`
	City     string `json:"city"      validate:"omitempty,max=100"`
	Country  string `json:"country"   validate:"omitempty,max=100"`
}

const daysPerYear = 365.25

// Age returns whole years between DOB and now, or nil when DOB is unset or malformed.
func (p ProfileAttributes) Age(now time.Time) *int {
	if p.DOB == "" {
		return nil
	}
	dob, err := time.Parse(time.DateOnly, p.DOB)
	if err != nil || dob.After(now) {
		return nil
	}
	years := int(math.Floor(now.Sub(dob).Hours() / 24 / daysPerYear))
	return &years
}

// Metadata flattens the attributes into the provider's user metadata map.
func (p ProfileAttributes) Metadata(now time.Time) map[string]any {
	md := map[string]any{"full_name": p.FullName}
	if p.Gender != "" {
		md["gender"] = p.Gender
	}
	if p.DOB != "" {
		md["dob"] = p.DOB
	}
	if age := p.Age(now); age != nil {
		md["age"] = *age
	}
	if p.City != "" {
		md["city"] = p.City
	}
	if p.Country != "" {
		md["country"] = p.Country
	}
	return md
}

// SignUpInput carries registration credentials and profile attributes.
type SignUpInput struct {
	Email    string            `json:"email"    validate:"required,email"`
	Password string            `json:"password" validate:"required,min=6"`
	Profile  ProfileAttributes `json:"profile"`
}
