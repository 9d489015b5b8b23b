package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	domainauth "github.com/mindguard/mindguard-api/internal/domain/auth"
	"github.com/mindguard/mindguard-api/internal/observability/metrics"
	"github.com/mindguard/mindguard-api/internal/observability/statsd"
	"github.com/mindguard/mindguard-api/internal/ports"
)

// SessionStoreOptions groups dependencies for NewSessionStore.
type SessionStoreOptions struct {
	Provider ports.AuthProvider
	// Persistence restores the last known session on construction. Optional.
	Persistence ports.SessionPersistence
	// Verifier checks restored access tokens before they are trusted. Optional.
	Verifier ports.TokenVerifier
	// Key identifies this store's entry in Persistence.
	Key     string
	Logger  *slog.Logger
	Metrics statsd.Sink
	Now     func() time.Time
}

// SessionStore owns one browser's session lifecycle. The current session is
// swapped atomically so readers never observe a partial update; mutations are
// serialized and each one delivers its notification before the next begins.
//
// Subscriber callbacks run while the store is mid-mutation and must not call
// SignIn, SignUp, SignOut or RefreshIfNeeded synchronously.
type SessionStore struct {
	provider ports.AuthProvider
	persist  ports.SessionPersistence
	verifier ports.TokenVerifier
	key      string
	logger   *slog.Logger
	metrics  statsd.Sink
	now      func() time.Time

	current atomic.Pointer[domainauth.Session]

	opMu     sync.Mutex
	hydrated chan struct{}

	subMu   sync.Mutex
	subs    map[uint64]func(domainauth.ChangeEvent)
	nextSub uint64
}

// NewSessionStore constructs a store and starts hydrating it from persistence
// in the background. ctx bounds hydration; exactly one initial_session event
// fires when it completes.
func NewSessionStore(ctx context.Context, opts SessionStoreOptions) (*SessionStore, error) {
	if opts.Provider == nil {
		return nil, errors.New("session store: provider is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	s := &SessionStore{
		provider: opts.Provider,
		persist:  opts.Persistence,
		verifier: opts.Verifier,
		key:      opts.Key,
		logger:   logger.With("component", "session_store"),
		metrics:  opts.Metrics,
		now:      now,
		hydrated: make(chan struct{}),
		subs:     make(map[uint64]func(domainauth.ChangeEvent)),
	}

	// Held until hydration finishes so no mutation can be overwritten by it.
	s.opMu.Lock()
	go s.hydrate(ctx)
	return s, nil
}

// Hydrated is closed once the initial session has been restored (or not).
func (s *SessionStore) Hydrated() <-chan struct{} { return s.hydrated }

// CurrentSession returns the last known session without blocking.
func (s *SessionStore) CurrentSession() *domainauth.Session {
	return s.current.Load()
}

// GetSession waits for hydration and returns the current session, which may be nil.
func (s *SessionStore) GetSession(ctx context.Context) (*domainauth.Session, error) {
	if err := s.waitHydrated(ctx); err != nil {
		return nil, err
	}
	return s.current.Load(), nil
}

// Subscribe registers fn for change notifications. The returned function
// releases the subscription and is safe to call more than once.
func (s *SessionStore) Subscribe(fn func(domainauth.ChangeEvent)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

// SubscriberCount reports the number of live subscriptions.
func (s *SessionStore) SubscriberCount() int {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return len(s.subs)
}

// SignIn authenticates with the provider and installs the resulting session.
// Rejected credentials wrap domainauth.ErrInvalidCredentials.
func (s *SessionStore) SignIn(ctx context.Context, email, password string) (*domainauth.Identity, error) {
	if err := s.waitHydrated(ctx); err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()

	sess, err := s.provider.SignIn(ctx, email, password)
	metrics.EmitAuthOperation(s.metrics, metrics.OpSignIn, err)
	if err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}
	if sess == nil {
		return nil, fmt.Errorf("sign in: provider returned no session: %w", domainauth.ErrInvalidCredentials)
	}

	s.install(ctx, sess, domainauth.EventSignedIn)
	id := sess.Identity
	return &id, nil
}

// SignUp registers a new account. When the provider issues a session right
// away it is installed; otherwise only the new identity is returned.
// All failures wrap domainauth.ErrRegistration.
func (s *SessionStore) SignUp(ctx context.Context, in domainauth.SignUpInput) (*domainauth.Identity, error) {
	if err := ValidateStruct(in); err != nil {
		return nil, fmt.Errorf("%w: %w", domainauth.ErrRegistration, err)
	}
	if err := s.waitHydrated(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", domainauth.ErrRegistration, err)
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()

	id, sess, err := s.provider.SignUp(ctx, in)
	if err != nil && !errors.Is(err, domainauth.ErrRegistration) {
		err = fmt.Errorf("%w: %w", domainauth.ErrRegistration, err)
	}
	metrics.EmitAuthOperation(s.metrics, metrics.OpSignUp, err)
	if err != nil {
		return nil, err
	}

	if sess != nil {
		s.install(ctx, sess, domainauth.EventSignedIn)
		if id == nil {
			cp := sess.Identity
			id = &cp
		}
	}
	if id == nil {
		return nil, fmt.Errorf("%w: provider returned no identity", domainauth.ErrRegistration)
	}
	return id, nil
}

// SignOut clears the local session. It never fails observably: provider and
// persistence errors are logged and counted, and the local state is cleared
// regardless. A signed_out event fires even when no session existed.
func (s *SessionStore) SignOut(ctx context.Context) {
	if err := s.waitHydrated(ctx); err != nil {
		s.logger.WarnContext(ctx, "sign out abandoned before hydration completed", "error", err)
		return
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()

	var providerErr error
	if prev := s.current.Load(); prev != nil {
		providerErr = s.provider.SignOut(ctx, prev)
		if providerErr != nil {
			s.logger.WarnContext(ctx, "provider sign out failed; clearing local session anyway",
				"user_id", prev.Identity.ID, "error", providerErr)
		}
	}
	metrics.EmitAuthOperation(s.metrics, metrics.OpSignOut, providerErr)
	s.clear(ctx, domainauth.EventSignedOut)
}

// RefreshIfNeeded exchanges the refresh token when the access token expires
// within skew. A refresh rejected with domainauth.ErrNotAuthenticated drops
// the session and fires signed_out; other failures leave it in place.
func (s *SessionStore) RefreshIfNeeded(ctx context.Context, skew time.Duration) error {
	if err := s.waitHydrated(ctx); err != nil {
		return err
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()

	cur := s.current.Load()
	if cur == nil || !cur.ExpiresWithin(s.now(), skew) {
		return nil
	}
	next, err := s.refresh(ctx, cur)
	if err != nil {
		if errors.Is(err, domainauth.ErrNotAuthenticated) {
			s.logger.InfoContext(ctx, "session invalidated by provider", "user_id", cur.Identity.ID, "error", err)
			s.clear(ctx, domainauth.EventSignedOut)
		}
		return fmt.Errorf("refresh session: %w", err)
	}
	s.install(ctx, next, domainauth.EventTokenRefreshed)
	return nil
}

// Rekey moves the persisted session to key; later saves and deletes use it.
// The entry under the previous key is removed.
func (s *SessionStore) Rekey(ctx context.Context, key string) error {
	if key == "" {
		return errors.New("rekey session: key is required")
	}
	if err := s.waitHydrated(ctx); err != nil {
		return fmt.Errorf("rekey session: %w", err)
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()

	prev := s.key
	if prev == key {
		return nil
	}
	s.key = key
	if s.persist == nil {
		return nil
	}
	if cur := s.current.Load(); cur != nil {
		s.save(ctx, cur)
	}
	s.deleteKey(ctx, prev)
	return nil
}

func (s *SessionStore) hydrate(ctx context.Context) {
	defer s.opMu.Unlock()
	defer close(s.hydrated)

	sess := s.restore(ctx)
	s.current.Store(sess)
	s.notify(domainauth.ChangeEvent{Kind: domainauth.EventInitialSession, Session: sess})
}

// restore loads the persisted session, refreshing or verifying it as needed.
// Anything that cannot be trusted is discarded.
func (s *SessionStore) restore(ctx context.Context) *domainauth.Session {
	if s.persist == nil {
		return nil
	}
	sess, err := s.persist.Load(ctx, s.key)
	if errors.Is(err, ports.ErrSessionNotFound) {
		return nil
	}
	metrics.EmitAuthOperation(s.metrics, metrics.OpHydrate, err)
	if err != nil {
		s.logger.WarnContext(ctx, "load persisted session failed", "error", err)
		return nil
	}
	if sess == nil {
		return nil
	}

	if sess.Expired(s.now()) {
		next, refreshErr := s.refresh(ctx, sess)
		if refreshErr != nil {
			s.logger.InfoContext(ctx, "persisted session expired and could not be refreshed",
				"user_id", sess.Identity.ID, "error", refreshErr)
			s.forget(ctx)
			return nil
		}
		s.save(ctx, next)
		return next
	}

	if s.verifier != nil {
		id, verifyErr := s.verifier.Verify(ctx, sess.AccessToken)
		if verifyErr != nil || id == nil || id.ID != sess.Identity.ID {
			s.logger.WarnContext(ctx, "persisted session failed verification", "error", verifyErr)
			s.forget(ctx)
			return nil
		}
	}
	return sess
}

func (s *SessionStore) refresh(ctx context.Context, cur *domainauth.Session) (*domainauth.Session, error) {
	if cur.RefreshToken == "" {
		return nil, fmt.Errorf("no refresh token: %w", domainauth.ErrNotAuthenticated)
	}
	next, err := s.provider.Refresh(ctx, cur.RefreshToken)
	if err == nil && next == nil {
		err = fmt.Errorf("provider returned no session: %w", domainauth.ErrNotAuthenticated)
	}
	metrics.EmitAuthOperation(s.metrics, metrics.OpRefresh, err)
	return next, err
}

func (s *SessionStore) install(ctx context.Context, sess *domainauth.Session, kind domainauth.EventKind) {
	s.current.Store(sess)
	s.save(ctx, sess)
	s.notify(domainauth.ChangeEvent{Kind: kind, Session: sess})
}

func (s *SessionStore) clear(ctx context.Context, kind domainauth.EventKind) {
	s.current.Store(nil)
	s.forget(ctx)
	s.notify(domainauth.ChangeEvent{Kind: kind})
}

func (s *SessionStore) save(ctx context.Context, sess *domainauth.Session) {
	if s.persist == nil {
		return
	}
	err := s.persist.Save(ctx, s.key, sess)
	metrics.EmitAuthOperation(s.metrics, metrics.OpPersistSave, err)
	if err != nil {
		s.logger.WarnContext(ctx, "persist session failed", "error", err)
	}
}

func (s *SessionStore) forget(ctx context.Context) {
	if s.persist == nil {
		return
	}
	s.deleteKey(ctx, s.key)
}

func (s *SessionStore) deleteKey(ctx context.Context, key string) {
	err := s.persist.Delete(ctx, key)
	metrics.EmitAuthOperation(s.metrics, metrics.OpPersistDelete, err)
	if err != nil {
		s.logger.WarnContext(ctx, "delete persisted session failed", "error", err)
	}
}

// notify delivers ev to a snapshot of subscribers in registration order.
func (s *SessionStore) notify(ev domainauth.ChangeEvent) {
	s.subMu.Lock()
	ids := make([]uint64, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(domainauth.ChangeEvent), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.subs[id])
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func (s *SessionStore) waitHydrated(ctx context.Context) error {
	select {
	case <-s.hydrated:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
