package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/mindguard/mindguard-api/config"
	"github.com/mindguard/mindguard-api/internal/data"
	domainauth "github.com/mindguard/mindguard-api/internal/domain/auth"
	authmocks "github.com/mindguard/mindguard-api/internal/mocks/auth"
	"github.com/mindguard/mindguard-api/internal/observability/statsd"
	"github.com/mindguard/mindguard-api/internal/ports"
	"github.com/mindguard/mindguard-api/internal/service"
	"github.com/stretchr/testify/require"
)

type fixtureOptions struct {
	persistence ports.SessionPersistence
	roleAdmin   RoleAdmin
	rpm         int
	guardWait   time.Duration
}

type routerFixture struct {
	handler  http.Handler
	registry *service.WorkspaceRegistry
	provider *authmocks.FakeAuthProvider
	roles    *authmocks.StaticRoleRepository
	metrics  *statsd.Recorder

	mu       sync.Mutex
	backend  http.HandlerFunc
	authSeen []string
}

func newRouterFixture(t *testing.T, opts fixtureOptions) *routerFixture {
	t.Helper()
	f := &routerFixture{
		provider: authmocks.NewFakeAuthProvider(),
		roles:    &authmocks.StaticRoleRepository{Admins: map[string]bool{"admin-1": true}},
		metrics:  &statsd.Recorder{},
	}
	f.provider.AddAccount("admin@example.com", "password", domainauth.Identity{
		ID: "admin-1", Email: "admin@example.com", Metadata: map[string]any{"full_name": "Ada Admin"},
	})
	f.provider.AddAccount("u1@example.com", "password", domainauth.Identity{ID: "u1", Email: "u1@example.com"})

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.authSeen = append(f.authSeen, r.Header.Get("Authorization"))
		h := f.backend
		f.mu.Unlock()
		if h == nil {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"ok":true}`))
			return
		}
		h(w, r)
	}))
	t.Cleanup(backend.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	lookup, err := service.NewRoleLookup(service.RoleLookupOptions{Repo: f.roles})
	require.NoError(t, err)

	reg, err := service.NewWorkspaceRegistry(service.WorkspaceRegistryOptions{
		Provider:    f.provider,
		Roles:       lookup,
		Persistence: opts.persistence,
		Backend:     config.BackendConfig{BaseURL: backend.URL, Timeout: time.Second},
		Logger:      logger,
		Metrics:     f.metrics,
	})
	require.NoError(t, err)
	t.Cleanup(reg.Close)
	f.registry = reg

	wait := opts.guardWait
	if wait == 0 {
		wait = 2 * time.Second
	}
	rpm := opts.rpm
	if rpm == 0 {
		rpm = 1000
	}
	h, err := NewRouter(RouterServices{
		Workspaces: reg,
		Roles:      lookup,
		RoleAdmin:  opts.roleAdmin,
		HTTP: config.HTTPConfig{
			AuthRequestsPerMinute: rpm,
			GuardPendingTimeout:   wait,
			CORSOrigins:           []string{"https://app.example.com"},
		},
		RefreshSkew: time.Minute,
		Logger:      logger,
		Metrics:     f.metrics,
	})
	require.NoError(t, err)
	f.handler = h
	return f
}

func (f *routerFixture) setBackend(h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backend = h
}

func (f *routerFixture) backendAuth() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.authSeen...)
}

func (f *routerFixture) serve(req *http.Request, cookie *http.Cookie) *httptest.ResponseRecorder {
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

// browserGet issues a page navigation.
func (f *routerFixture) browserGet(path string, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Accept", "text/html")
	return f.serve(req, cookie)
}

func (f *routerFixture) postJSON(path string, body any, cookie *http.Cookie) *httptest.ResponseRecorder {
	buf, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	return f.serve(req, cookie)
}

// signIn logs in through the JSON endpoint and returns the workspace cookie.
func (f *routerFixture) signIn(t *testing.T, email string) *http.Cookie {
	t.Helper()
	rec := f.postJSON("/auth/login", map[string]string{"email": email, "password": "password"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	c := sessionCookie(rec)
	require.NotNil(t, c, "login must issue a workspace cookie")
	return c
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookieName {
			return c
		}
	}
	return nil
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// blockingPersistence holds hydration until release is closed.
type blockingPersistence struct {
	release chan struct{}
}

func newBlockingPersistence(t *testing.T) *blockingPersistence {
	p := &blockingPersistence{release: make(chan struct{})}
	t.Cleanup(p.unblock)
	return p
}

func (p *blockingPersistence) unblock() {
	select {
	case <-p.release:
	default:
		close(p.release)
	}
}

func (p *blockingPersistence) Load(ctx context.Context, _ string) (*domainauth.Session, error) {
	select {
	case <-p.release:
		return nil, ports.ErrSessionNotFound
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *blockingPersistence) Save(context.Context, string, *domainauth.Session) error { return nil }
func (p *blockingPersistence) Delete(context.Context, string) error                   { return nil }

// memoryRoleAdmin is an in-memory RoleAdmin.
type memoryRoleAdmin struct {
	mu     sync.Mutex
	admins []domainauth.RoleAssignment
}

func (m *memoryRoleAdmin) ListByRole(_ context.Context, role domainauth.Role) ([]domainauth.RoleAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domainauth.RoleAssignment
	for _, a := range m.admins {
		if a.Role == role {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memoryRoleAdmin) Grant(_ context.Context, userID string, role domainauth.Role) (*domainauth.RoleAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ra := domainauth.RoleAssignment{ID: "ra-" + userID, UserID: userID, Role: role, CreatedAt: time.Now()}
	m.admins = append(m.admins, ra)
	return &ra, nil
}

func (m *memoryRoleAdmin) Revoke(_ context.Context, userID string, role domainauth.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, a := range m.admins {
		if a.UserID == userID && a.Role == role {
			m.admins = append(m.admins[:i], m.admins[i+1:]...)
			return nil
		}
	}
	return data.ErrRoleNotFound
}
