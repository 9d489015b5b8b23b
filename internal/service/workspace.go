package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mindguard/mindguard-api/config"
	"github.com/mindguard/mindguard-api/internal/apiclient"
	domainauth "github.com/mindguard/mindguard-api/internal/domain/auth"
	"github.com/mindguard/mindguard-api/internal/observability/metrics"
	"github.com/mindguard/mindguard-api/internal/observability/statsd"
	"github.com/mindguard/mindguard-api/internal/ports"
)

// Workspace is the auth state owned by one browser: a session store, the
// auth context mounted on it, the role resolver fed by it, and an API client
// that reads the store's current token.
type Workspace struct {
	Store    *SessionStore
	Auth     *AuthContext
	Roles    *RoleResolver
	API      *apiclient.Client
	Wellness *WellnessService

	key atomic.Pointer[string]

	// guarded by WorkspaceRegistry.mu
	refs     int
	lastUsed time.Time
}

// Key names the workspace in the registry and in session persistence.
// It changes when the registry rotates the workspace.
func (w *Workspace) Key() string {
	if k := w.key.Load(); k != nil {
		return *k
	}
	return ""
}

// AwaitPlain blocks until the plain guard reaches a verdict or ctx ends.
// When ctx ends first the pending decision is returned.
func (w *Workspace) AwaitPlain(ctx context.Context) domainauth.Decision {
	for {
		changed := w.Auth.Changed()
		d := domainauth.DecidePlain(w.Auth.State())
		if !d.Pending() {
			return d
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return d
		}
	}
}

// AwaitAdmin blocks until the admin guard reaches a verdict or ctx ends.
func (w *Workspace) AwaitAdmin(ctx context.Context) domainauth.Decision {
	for {
		authChanged := w.Auth.Changed()
		rolesChanged := w.Roles.Changed()
		auth, admin := w.snapshot()
		d := domainauth.DecideAdmin(auth, admin)
		if !d.Pending() {
			return d
		}
		select {
		case <-authChanged:
		case <-rolesChanged:
		case <-ctx.Done():
			return d
		}
	}
}

// AdminState returns the role state for the current identity.
func (w *Workspace) AdminState() domainauth.AdminState {
	_, admin := w.snapshot()
	return admin
}

// snapshot pairs the auth state with an admin state for the same user.
// A role state that still belongs to another user reads as loading.
func (w *Workspace) snapshot() (domainauth.AuthState, domainauth.AdminState) {
	auth := w.Auth.State()
	subject, admin := w.Roles.Snapshot()
	if auth.Identity != nil && subject != auth.Identity.ID {
		admin = domainauth.AdminState{Loading: true}
	}
	return auth, admin
}

// Close unmounts the auth context and stops the role resolver.
func (w *Workspace) Close() {
	w.Auth.Unmount()
	w.Roles.Close()
}

// WorkspaceRegistryOptions groups dependencies for NewWorkspaceRegistry.
type WorkspaceRegistryOptions struct {
	Provider    ports.AuthProvider // Required
	Roles       RoleChecker        // Required
	Persistence ports.SessionPersistence
	Verifier    ports.TokenVerifier
	Backend     config.BackendConfig
	Config      config.WorkspaceConfig
	HTTPClient  *http.Client
	Logger      *slog.Logger
	Metrics     statsd.Sink
	Now         func() time.Time
}

// WorkspaceRegistry creates workspaces on first use and evicts idle ones.
type WorkspaceRegistry struct {
	opts   WorkspaceRegistryOptions
	logger *slog.Logger
	now    func() time.Time
	base   context.Context
	stop   context.CancelFunc

	mu     sync.Mutex
	items  map[string]*Workspace
	closed bool
}

// ErrRegistryClosed is returned by Acquire after Close.
var ErrRegistryClosed = errors.New("workspace registry closed")

// NewWorkspaceRegistry constructs a registry. Workspaces hydrate and look up
// roles under a context that lives until Close.
func NewWorkspaceRegistry(opts WorkspaceRegistryOptions) (*WorkspaceRegistry, error) {
	if opts.Provider == nil {
		return nil, errors.New("workspace registry: auth provider is required")
	}
	if opts.Roles == nil {
		return nil, errors.New("workspace registry: role checker is required")
	}
	opts.Config.Sanitize()
	opts.Backend.Sanitize()
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Backend.Timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	base, stop := context.WithCancel(context.Background())

	logger = logger.With("component", "workspace_registry")
	logger.Debug("WorkspaceRegistry initialized",
		"idle_ttl", opts.Config.IdleTTL,
		"sweep_interval", opts.Config.SweepInterval,
		"persistence", opts.Persistence != nil,
	)

	return &WorkspaceRegistry{
		opts:   opts,
		logger: logger,
		now:    now,
		base:   base,
		stop:   stop,
		items:  make(map[string]*Workspace),
	}, nil
}

// Acquire returns the workspace for key, creating it on first use. Every
// Acquire must be paired with Release; an acquired workspace is never evicted.
func (r *WorkspaceRegistry) Acquire(key string) (*Workspace, error) {
	if key == "" {
		return nil, errors.New("workspace key is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}

	ws, ok := r.items[key]
	if !ok {
		var err error
		ws, err = r.build(key)
		if err != nil {
			return nil, err
		}
		r.items[key] = ws
	}
	ws.refs++
	ws.lastUsed = r.now()
	return ws, nil
}

// Release marks one use of ws as finished.
func (r *WorkspaceRegistry) Release(ws *Workspace) {
	if ws == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if ws.refs > 0 {
		ws.refs--
	}
	ws.lastUsed = r.now()
}

// Rotate moves ws to a freshly minted key and re-homes its persisted session
// there. Afterwards the previous key no longer reaches ws or its session.
func (r *WorkspaceRegistry) Rotate(ctx context.Context, ws *Workspace) (string, error) {
	next := uuid.NewString()
	if err := ws.Store.Rekey(ctx, next); err != nil {
		return "", fmt.Errorf("rotate workspace: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", ErrRegistryClosed
	}
	prev := ws.Key()
	if r.items[prev] == ws {
		delete(r.items, prev)
	}
	r.items[next] = ws
	ws.key.Store(&next)
	r.logger.DebugContext(ctx, "workspace rotated")
	return next, nil
}

// Len reports the number of live workspaces.
func (r *WorkspaceRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// Sweep evicts workspaces that are not in use and have been idle longer
// than the configured TTL. Persisted sessions are kept so the next request
// from the same browser hydrates again.
func (r *WorkspaceRegistry) Sweep(ctx context.Context) int {
	cutoff := r.now().Add(-r.opts.Config.IdleTTL)

	r.mu.Lock()
	var idle []*Workspace
	for key, ws := range r.items {
		if ws.refs == 0 && ws.lastUsed.Before(cutoff) {
			idle = append(idle, ws)
			delete(r.items, key)
		}
	}
	r.mu.Unlock()

	for _, ws := range idle {
		ws.Close()
	}
	if len(idle) > 0 {
		r.logger.InfoContext(ctx, "evicted idle workspaces", "count", len(idle))
	}
	metrics.EmitWorkspaceEvicted(r.opts.Metrics, len(idle))
	return len(idle)
}

// Run sweeps at the configured interval until ctx is cancelled.
// Returns nil on graceful shutdown.
func (r *WorkspaceRegistry) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting workspace sweeper", "interval", r.opts.Config.SweepInterval)
	ticker := time.NewTicker(r.opts.Config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "workspace sweeper stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Close tears down every workspace. Acquire fails afterwards.
func (r *WorkspaceRegistry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	all := make([]*Workspace, 0, len(r.items))
	for key, ws := range r.items {
		all = append(all, ws)
		delete(r.items, key)
	}
	r.mu.Unlock()

	r.stop()
	for _, ws := range all {
		ws.Close()
	}
}

func (r *WorkspaceRegistry) build(key string) (*Workspace, error) {
	logger := r.opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store, err := NewSessionStore(r.base, SessionStoreOptions{
		Provider:    r.opts.Provider,
		Persistence: r.opts.Persistence,
		Verifier:    r.opts.Verifier,
		Key:         key,
		Logger:      logger,
		Metrics:     r.opts.Metrics,
		Now:         r.now,
	})
	if err != nil {
		return nil, fmt.Errorf("build workspace: %w", err)
	}
	roles, err := NewRoleResolver(r.base, RoleResolverOptions{Checker: r.opts.Roles, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("build workspace: %w", err)
	}
	api, err := apiclient.New(apiclient.Options{
		BaseURL:    r.opts.Backend.BaseURL,
		HTTPClient: r.opts.HTTPClient,
		Sessions:   store,
		Logger:     logger,
		Metrics:    r.opts.Metrics,
	})
	if err != nil {
		roles.Close()
		return nil, fmt.Errorf("build workspace: %w", err)
	}

	authCtx := NewAuthContext(store, AuthContextOptions{Logger: logger, OnIdentityChange: roles.SetIdentity})
	authCtx.Mount(r.base)

	ws := &Workspace{
		Store:    store,
		Auth:     authCtx,
		Roles:    roles,
		API:      api,
		Wellness: NewWellnessService(api),
	}
	ws.key.Store(&key)
	return ws, nil
}
