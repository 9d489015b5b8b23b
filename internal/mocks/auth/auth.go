package auth

// Package auth contains simple hand-written test doubles for auth ports.
// These are lightweight and suitable for unit tests without codegen.

import (
	"context"
	"fmt"
	"sync"
	"time"

	domainauth "github.com/mindguard/mindguard-api/internal/domain/auth"
	"github.com/mindguard/mindguard-api/internal/ports"
)

// Ensure compile-time conformance to ports.
var (
	_ ports.AuthProvider       = (*FakeAuthProvider)(nil)
	_ ports.SessionPersistence = (*MemorySessionPersistence)(nil)
	_ ports.RoleRepository     = (*StaticRoleRepository)(nil)
)

// FakeAuthProvider simulates the managed auth backend with an in-memory account table.
// Any Func field overrides the default behavior for that method.
type FakeAuthProvider struct {
	SignInFunc  func(ctx context.Context, email, password string) (*domainauth.Session, error)
	SignUpFunc  func(ctx context.Context, in domainauth.SignUpInput) (*domainauth.Identity, *domainauth.Session, error)
	SignOutFunc func(ctx context.Context, sess *domainauth.Session) error
	RefreshFunc func(ctx context.Context, refreshToken string) (*domainauth.Session, error)

	// TokenTTL controls issued session lifetime; defaults to one hour.
	TokenTTL time.Duration

	mu       sync.Mutex
	accounts map[string]fakeAccount
	issued   int
	signOuts int
}

type fakeAccount struct {
	password string
	identity domainauth.Identity
}

// NewFakeAuthProvider creates a provider with a single registered account.
func NewFakeAuthProvider() *FakeAuthProvider {
	p := &FakeAuthProvider{}
	p.AddAccount("mock.user@example.com", "password", domainauth.Identity{
		ID:       "mock-user-1",
		Email:    "mock.user@example.com",
		Metadata: map[string]any{"full_name": "Mock User"},
	})
	return p
}

// AddAccount registers credentials for an identity.
func (p *FakeAuthProvider) AddAccount(email, password string, id domainauth.Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.accounts == nil {
		p.accounts = make(map[string]fakeAccount)
	}
	p.accounts[email] = fakeAccount{password: password, identity: id}
}

// SignOutCalls reports how many times SignOut reached the provider.
func (p *FakeAuthProvider) SignOutCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signOuts
}

func (p *FakeAuthProvider) SignIn(ctx context.Context, email, password string) (*domainauth.Session, error) {
	if p.SignInFunc != nil {
		return p.SignInFunc(ctx, email, password)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	acct, ok := p.accounts[email]
	if !ok || acct.password != password {
		return nil, domainauth.ErrInvalidCredentials
	}
	return p.issueLocked(acct.identity), nil
}

func (p *FakeAuthProvider) SignUp(
	ctx context.Context,
	in domainauth.SignUpInput,
) (*domainauth.Identity, *domainauth.Session, error) {
	if p.SignUpFunc != nil {
		return p.SignUpFunc(ctx, in)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.accounts == nil {
		p.accounts = make(map[string]fakeAccount)
	}
	if _, exists := p.accounts[in.Email]; exists {
		return nil, nil, fmt.Errorf("%w: user already registered", domainauth.ErrRegistration)
	}
	id := domainauth.Identity{
		ID:       fmt.Sprintf("user-%d", len(p.accounts)+1),
		Email:    in.Email,
		Metadata: in.Profile.Metadata(time.Now()),
	}
	p.accounts[in.Email] = fakeAccount{password: in.Password, identity: id}
	sess := p.issueLocked(id)
	return &sess.Identity, sess, nil
}

func (p *FakeAuthProvider) SignOut(ctx context.Context, sess *domainauth.Session) error {
	p.mu.Lock()
	p.signOuts++
	p.mu.Unlock()
	if p.SignOutFunc != nil {
		return p.SignOutFunc(ctx, sess)
	}
	return nil
}

func (p *FakeAuthProvider) Refresh(ctx context.Context, refreshToken string) (*domainauth.Session, error) {
	if p.RefreshFunc != nil {
		return p.RefreshFunc(ctx, refreshToken)
	}
	return nil, fmt.Errorf("refresh %q: %w", refreshToken, domainauth.ErrNotAuthenticated)
}

func (p *FakeAuthProvider) issueLocked(id domainauth.Identity) *domainauth.Session {
	p.issued++
	ttl := p.TokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &domainauth.Session{
		AccessToken:  fmt.Sprintf("access-%s-%d", id.ID, p.issued),
		RefreshToken: fmt.Sprintf("refresh-%s-%d", id.ID, p.issued),
		TokenType:    "bearer",
		ExpiresAt:    time.Now().Add(ttl),
		Identity:     id,
	}
}

// MemorySessionPersistence is an in-memory session persistence for unit tests.
type MemorySessionPersistence struct {
	mu       sync.Mutex
	sessions map[string]domainauth.Session

	// LoadErr, SaveErr and DeleteErr force failures when set.
	LoadErr   error
	SaveErr   error
	DeleteErr error
}

// NewMemorySessionPersistence creates an empty in-memory persistence.
func NewMemorySessionPersistence() *MemorySessionPersistence {
	return &MemorySessionPersistence{sessions: make(map[string]domainauth.Session)}
}

func (m *MemorySessionPersistence) Load(_ context.Context, key string) (*domainauth.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	sess, ok := m.sessions[key]
	if !ok {
		return nil, ports.ErrSessionNotFound
	}
	return &sess, nil
}

func (m *MemorySessionPersistence) Save(_ context.Context, key string, sess *domainauth.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	if sess == nil {
		return nil
	}
	if m.sessions == nil {
		m.sessions = make(map[string]domainauth.Session)
	}
	m.sessions[key] = *sess
	return nil
}

func (m *MemorySessionPersistence) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	delete(m.sessions, key)
	return nil
}

// Has reports whether a session is stored under key.
func (m *MemorySessionPersistence) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[key]
	return ok
}

// StaticRoleRepository answers role lookups from a fixed set of admin user ids.
type StaticRoleRepository struct {
	Admins map[string]bool
	Err    error

	mu    sync.Mutex
	calls int
}

func (r *StaticRoleRepository) FindRole(
	_ context.Context,
	userID string,
	role domainauth.Role,
) (*domainauth.RoleAssignment, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	if role != domainauth.RoleAdmin || !r.Admins[userID] {
		return nil, nil
	}
	return &domainauth.RoleAssignment{ID: "role-" + userID, UserID: userID, Role: role}, nil
}

// Calls reports how many lookups were issued.
func (r *StaticRoleRepository) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}
