package service

import (
	"context"
	"log/slog"
	"sync"

	domainauth "github.com/mindguard/mindguard-api/internal/domain/auth"
)

// AuthContextOptions configures an AuthContext.
type AuthContextOptions struct {
	Logger *slog.Logger
	// OnIdentityChange runs synchronously whenever the identity pointer changes,
	// before the new state becomes visible through State.
	OnIdentityChange func(*domainauth.Identity)
}

// AuthContext bridges one SessionStore to its consumers as an AuthState.
// Loading is true only until the first hydration read completes; later
// session changes update the identity without re-entering loading.
type AuthContext struct {
	store      *SessionStore
	logger     *slog.Logger
	onIdentity func(*domainauth.Identity)

	mu      sync.Mutex
	state   domainauth.AuthState
	changed chan struct{}
	events  uint64
	mount   *mountScope
}

// mountScope is the subscription acquired by Mount and released by Unmount.
type mountScope struct {
	cancel      context.CancelFunc
	unsubscribe func()
}

// NewAuthContext creates an unmounted context in the loading state.
func NewAuthContext(store *SessionStore, opts AuthContextOptions) *AuthContext {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthContext{
		store:      store,
		logger:     logger.With("component", "auth_context"),
		onIdentity: opts.OnIdentityChange,
		state:      domainauth.AuthState{Loading: true},
		changed:    make(chan struct{}),
	}
}

// Mount subscribes to the store and resolves the current session in the
// background. Mounting an already mounted context is a no-op.
func (a *AuthContext) Mount(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mount != nil {
		return
	}

	mctx, cancel := context.WithCancel(ctx)
	a.mount = &mountScope{
		cancel:      cancel,
		unsubscribe: a.store.Subscribe(a.handleEvent),
	}
	go a.resolve(mctx, a.mount, a.events)
}

// Unmount cancels the pending resolve and releases the subscription exactly once.
func (a *AuthContext) Unmount() {
	a.mu.Lock()
	scope := a.mount
	a.mount = nil
	a.mu.Unlock()

	if scope == nil {
		return
	}
	scope.cancel()
	scope.unsubscribe()
}

// Mounted reports whether a subscription is currently held.
func (a *AuthContext) Mounted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mount != nil
}

// State returns a snapshot of the current auth state.
func (a *AuthContext) State() domainauth.AuthState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Changed returns a channel that is closed on the next state change.
func (a *AuthContext) Changed() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.changed
}

func (a *AuthContext) SignIn(ctx context.Context, email, password string) (*domainauth.Identity, error) {
	return a.store.SignIn(ctx, email, password)
}

func (a *AuthContext) SignUp(ctx context.Context, in domainauth.SignUpInput) (*domainauth.Identity, error) {
	return a.store.SignUp(ctx, in)
}

func (a *AuthContext) SignOut(ctx context.Context) {
	a.store.SignOut(ctx)
}

// resolve performs the mount-time session read. Events applied after
// subscription are newer than this read and are not overwritten.
func (a *AuthContext) resolve(ctx context.Context, scope *mountScope, eventsAtMount uint64) {
	sess, err := a.store.GetSession(ctx)
	if err != nil {
		a.logger.DebugContext(ctx, "session resolve abandoned", "error", err)
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mount != scope {
		return
	}
	id := a.state.Identity
	if a.events == eventsAtMount {
		id = identityOf(sess)
	}
	a.publishLocked(id, false)
}

func (a *AuthContext) handleEvent(ev domainauth.ChangeEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mount == nil {
		return
	}
	a.events++
	loading := a.state.Loading
	select {
	case <-a.store.Hydrated():
		// Anything delivered after hydration supersedes the pending resolve.
		loading = false
	default:
	}
	a.publishLocked(identityOf(ev.Session), loading)
}

func (a *AuthContext) publishLocked(id *domainauth.Identity, loading bool) {
	if id != a.state.Identity && a.onIdentity != nil {
		a.onIdentity(id)
	}
	a.state = domainauth.AuthState{Identity: id, Loading: loading}
	close(a.changed)
	a.changed = make(chan struct{})
}

func identityOf(sess *domainauth.Session) *domainauth.Identity {
	if sess == nil {
		return nil
	}
	id := sess.Identity
	return &id
}
