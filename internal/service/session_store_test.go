package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domainauth "github.com/mindguard/mindguard-api/internal/domain/auth"
	apperrors "github.com/mindguard/mindguard-api/internal/errors"
	authmocks "github.com/mindguard/mindguard-api/internal/mocks/auth"
	"github.com/mindguard/mindguard-api/internal/observability/statsd"
	"github.com/mindguard/mindguard-api/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// eventLog records change events delivered to a subscriber.
type eventLog struct {
	mu     sync.Mutex
	events []domainauth.ChangeEvent
}

func (l *eventLog) record(ev domainauth.ChangeEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) kinds() []domainauth.EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domainauth.EventKind, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Kind)
	}
	return out
}

// gatedPersistence blocks Load until the gate is closed.
type gatedPersistence struct {
	*authmocks.MemorySessionPersistence
	gate chan struct{}
}

func newGatedPersistence() *gatedPersistence {
	return &gatedPersistence{
		MemorySessionPersistence: authmocks.NewMemorySessionPersistence(),
		gate:                     make(chan struct{}),
	}
}

func (g *gatedPersistence) Load(ctx context.Context, key string) (*domainauth.Session, error) {
	select {
	case <-g.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.MemorySessionPersistence.Load(ctx, key)
}

// staticVerifier accepts every token as the configured identity.
type staticVerifier struct {
	id  *domainauth.Identity
	err error
}

func (v staticVerifier) Verify(context.Context, string) (*domainauth.Identity, error) {
	return v.id, v.err
}

// authOps returns the recorded auth.operation samples tagged with op.
func authOps(rec *statsd.Recorder, op string) []statsd.Sample {
	var out []statsd.Sample
	for _, sm := range rec.Named("auth.operation") {
		if sm.Tags["op"] == op {
			out = append(out, sm)
		}
	}
	return out
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newHydratedStore(t *testing.T, opts SessionStoreOptions) *SessionStore {
	t.Helper()
	if opts.Provider == nil {
		opts.Provider = authmocks.NewFakeAuthProvider()
	}
	if opts.Key == "" {
		opts.Key = "browser-1"
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return fixedNow }
	}
	s, err := NewSessionStore(context.Background(), opts)
	require.NoError(t, err)
	waitClosed(t, s.Hydrated())
	return s
}

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}

func TestNewSessionStore_RequiresProvider(t *testing.T) {
	_, err := NewSessionStore(context.Background(), SessionStoreOptions{})
	require.Error(t, err)
}

func TestSessionStore_HydrationFiresInitialSessionOnce(t *testing.T) {
	persist := newGatedPersistence()
	stored := &domainauth.Session{
		AccessToken: "persisted",
		ExpiresAt:   fixedNow.Add(time.Hour),
		Identity:    domainauth.Identity{ID: "u1"},
	}
	require.NoError(t, persist.Save(context.Background(), "k", stored))

	s, err := NewSessionStore(context.Background(), SessionStoreOptions{
		Provider:    authmocks.NewFakeAuthProvider(),
		Persistence: persist,
		Key:         "k",
		Now:         func() time.Time { return fixedNow },
	})
	require.NoError(t, err)

	log := &eventLog{}
	s.Subscribe(log.record)
	assert.Nil(t, s.CurrentSession(), "nothing is visible before hydration")

	close(persist.gate)
	sess, err := s.GetSession(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "u1", sess.Identity.ID)
	assert.Equal(t, []domainauth.EventKind{domainauth.EventInitialSession}, log.kinds())
}

func TestSessionStore_GetSessionHonorsContext(t *testing.T) {
	persist := newGatedPersistence()
	s, err := NewSessionStore(context.Background(), SessionStoreOptions{
		Provider:    authmocks.NewFakeAuthProvider(),
		Persistence: persist,
		Key:         "k",
	})
	require.NoError(t, err)
	t.Cleanup(func() { close(persist.gate) })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.GetSession(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSessionStore_HydrationRestore(t *testing.T) {
	valid := domainauth.Session{
		AccessToken:  "a",
		RefreshToken: "r",
		ExpiresAt:    fixedNow.Add(time.Hour),
		Identity:     domainauth.Identity{ID: "u1"},
	}
	expired := valid
	expired.ExpiresAt = fixedNow.Add(-time.Minute)

	tests := []struct {
		name        string
		stored      *domainauth.Session
		refresh     func(context.Context, string) (*domainauth.Session, error)
		verifier    ports.TokenVerifier
		wantID      string
		wantDeleted bool
	}{
		{name: "nothing stored"},
		{name: "valid session", stored: &valid, wantID: "u1"},
		{
			name:        "expired and refresh rejected",
			stored:      &expired,
			wantDeleted: true,
		},
		{
			name:   "expired and refreshed",
			stored: &expired,
			refresh: func(_ context.Context, token string) (*domainauth.Session, error) {
				next := valid
				next.AccessToken = "refreshed-" + token
				return &next, nil
			},
			wantID: "u1",
		},
		{
			name:     "verifier confirms",
			stored:   &valid,
			verifier: staticVerifier{id: &domainauth.Identity{ID: "u1"}},
			wantID:   "u1",
		},
		{
			name:        "verifier rejects",
			stored:      &valid,
			verifier:    staticVerifier{err: errors.New("bad signature")},
			wantDeleted: true,
		},
		{
			name:        "verifier subject mismatch",
			stored:      &valid,
			verifier:    staticVerifier{id: &domainauth.Identity{ID: "someone-else"}},
			wantDeleted: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			persist := authmocks.NewMemorySessionPersistence()
			if tt.stored != nil {
				require.NoError(t, persist.Save(context.Background(), "k", tt.stored))
			}
			provider := authmocks.NewFakeAuthProvider()
			provider.RefreshFunc = tt.refresh

			s := newHydratedStore(t, SessionStoreOptions{
				Provider:    provider,
				Persistence: persist,
				Verifier:    tt.verifier,
				Key:         "k",
			})

			got := s.CurrentSession()
			if tt.wantID == "" {
				assert.Nil(t, got)
			} else {
				require.NotNil(t, got)
				assert.Equal(t, tt.wantID, got.Identity.ID)
			}
			if tt.wantDeleted {
				assert.False(t, persist.Has("k"))
			}
		})
	}
}

func TestSessionStore_SignIn(t *testing.T) {
	persist := authmocks.NewMemorySessionPersistence()
	rec := &statsd.Recorder{}
	s := newHydratedStore(t, SessionStoreOptions{Persistence: persist, Key: "k", Metrics: rec})
	log := &eventLog{}
	s.Subscribe(log.record)
	ctx := context.Background()

	_, err := s.SignIn(ctx, "mock.user@example.com", "nope")
	require.ErrorIs(t, err, domainauth.ErrInvalidCredentials)
	assert.Nil(t, s.CurrentSession())
	assert.Empty(t, log.kinds())

	id, err := s.SignIn(ctx, "mock.user@example.com", "password")
	require.NoError(t, err)
	assert.Equal(t, "mock-user-1", id.ID)
	require.NotNil(t, s.CurrentSession())
	assert.True(t, persist.Has("k"))
	assert.Equal(t, []domainauth.EventKind{domainauth.EventSignedIn}, log.kinds())

	ops := authOps(rec, "sign_in")
	require.Len(t, ops, 2)
	assert.Equal(t, "error", ops[0].Tags["result"])
	assert.Equal(t, "invalid_credentials", ops[0].Tags["error_class"])
	assert.Equal(t, "success", ops[1].Tags["result"])
}

func signUp(email string) domainauth.SignUpInput {
	return domainauth.SignUpInput{
		Email:    email,
		Password: "secret1",
		Profile:  domainauth.ProfileAttributes{FullName: "Test Person"},
	}
}

func TestSessionStore_SignUp(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid input", func(t *testing.T) {
		s := newHydratedStore(t, SessionStoreOptions{})
		_, err := s.SignUp(ctx, domainauth.SignUpInput{Email: "not-an-email", Password: "123"})
		require.ErrorIs(t, err, domainauth.ErrRegistration)
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("duplicate account", func(t *testing.T) {
		s := newHydratedStore(t, SessionStoreOptions{})
		_, err := s.SignUp(ctx, signUp("mock.user@example.com"))
		require.ErrorIs(t, err, domainauth.ErrRegistration)
	})

	t.Run("network failure", func(t *testing.T) {
		provider := authmocks.NewFakeAuthProvider()
		provider.SignUpFunc = func(context.Context, domainauth.SignUpInput) (*domainauth.Identity, *domainauth.Session, error) {
			return nil, nil, errors.New("dial tcp: connection refused")
		}
		s := newHydratedStore(t, SessionStoreOptions{Provider: provider})
		_, err := s.SignUp(ctx, signUp("a@b.co"))
		require.ErrorIs(t, err, domainauth.ErrRegistration)
	})

	t.Run("session issued", func(t *testing.T) {
		s := newHydratedStore(t, SessionStoreOptions{})
		log := &eventLog{}
		s.Subscribe(log.record)
		id, err := s.SignUp(ctx, domainauth.SignUpInput{
			Email:    "new@example.com",
			Password: "secret1",
			Profile:  domainauth.ProfileAttributes{FullName: "New Person"},
		})
		require.NoError(t, err)
		assert.Equal(t, "new@example.com", id.Email)
		require.NotNil(t, s.CurrentSession())
		assert.Equal(t, []domainauth.EventKind{domainauth.EventSignedIn}, log.kinds())
	})

	t.Run("confirmation required", func(t *testing.T) {
		provider := authmocks.NewFakeAuthProvider()
		provider.SignUpFunc = func(_ context.Context, in domainauth.SignUpInput) (*domainauth.Identity, *domainauth.Session, error) {
			return &domainauth.Identity{ID: "pending-1", Email: in.Email}, nil, nil
		}
		s := newHydratedStore(t, SessionStoreOptions{Provider: provider})
		log := &eventLog{}
		s.Subscribe(log.record)

		id, err := s.SignUp(ctx, signUp("c@d.co"))
		require.NoError(t, err)
		assert.Equal(t, "pending-1", id.ID)
		assert.Nil(t, s.CurrentSession())
		assert.Empty(t, log.kinds())
	})
}

func TestSessionStore_SignOutIsIdempotent(t *testing.T) {
	persist := authmocks.NewMemorySessionPersistence()
	provider := authmocks.NewFakeAuthProvider()
	s := newHydratedStore(t, SessionStoreOptions{Provider: provider, Persistence: persist, Key: "k"})
	log := &eventLog{}
	s.Subscribe(log.record)
	ctx := context.Background()

	_, err := s.SignIn(ctx, "mock.user@example.com", "password")
	require.NoError(t, err)

	s.SignOut(ctx)
	assert.Nil(t, s.CurrentSession())
	assert.False(t, persist.Has("k"))

	s.SignOut(ctx)
	assert.Nil(t, s.CurrentSession())

	assert.Equal(t, []domainauth.EventKind{
		domainauth.EventSignedIn,
		domainauth.EventSignedOut,
		domainauth.EventSignedOut,
	}, log.kinds())
	assert.Equal(t, 1, provider.SignOutCalls(), "provider is only called while a session exists")
}

func TestSessionStore_SignOutSwallowsProviderFailure(t *testing.T) {
	provider := authmocks.NewFakeAuthProvider()
	provider.SignOutFunc = func(context.Context, *domainauth.Session) error {
		return errors.New("network unreachable")
	}
	persist := authmocks.NewMemorySessionPersistence()
	persist.DeleteErr = errors.New("redis down")
	rec := &statsd.Recorder{}
	s := newHydratedStore(t, SessionStoreOptions{Provider: provider, Persistence: persist, Key: "k", Metrics: rec})
	log := &eventLog{}
	s.Subscribe(log.record)
	ctx := context.Background()

	_, err := s.SignIn(ctx, "mock.user@example.com", "password")
	require.NoError(t, err)

	s.SignOut(ctx)
	assert.Nil(t, s.CurrentSession())
	assert.Equal(t, domainauth.EventSignedOut, log.kinds()[len(log.kinds())-1])

	signOuts := authOps(rec, "sign_out")
	require.Len(t, signOuts, 1)
	assert.Equal(t, "error", signOuts[0].Tags["result"])

	deletes := authOps(rec, "persist_delete")
	require.Len(t, deletes, 1)
	assert.Equal(t, "error", deletes[0].Tags["result"])
	assert.NotEmpty(t, deletes[0].Tags["error_class"])
}

func TestSessionStore_CountsPersistenceWrites(t *testing.T) {
	persist := authmocks.NewMemorySessionPersistence()
	rec := &statsd.Recorder{}
	s := newHydratedStore(t, SessionStoreOptions{Persistence: persist, Key: "k", Metrics: rec})
	ctx := context.Background()

	_, err := s.SignIn(ctx, "mock.user@example.com", "password")
	require.NoError(t, err)
	s.SignOut(ctx)

	saves := authOps(rec, "persist_save")
	require.Len(t, saves, 1)
	assert.Equal(t, "success", saves[0].Tags["result"])
	deletes := authOps(rec, "persist_delete")
	require.Len(t, deletes, 1)
	assert.Equal(t, "success", deletes[0].Tags["result"])
}

func TestSessionStore_RefreshIfNeeded(t *testing.T) {
	ctx := context.Background()
	now := fixedNow

	signedIn := func(t *testing.T, provider *authmocks.FakeAuthProvider) (*SessionStore, *eventLog) {
		t.Helper()
		s := newHydratedStore(t, SessionStoreOptions{Provider: provider, Now: func() time.Time { return now }})
		// The fake stamps expiry from the wall clock; pin it relative to the store clock.
		provider.SignInFunc = func(context.Context, string, string) (*domainauth.Session, error) {
			return &domainauth.Session{
				AccessToken:  "a1",
				RefreshToken: "r1",
				ExpiresAt:    now.Add(30 * time.Second),
				Identity:     domainauth.Identity{ID: "u1"},
			}, nil
		}
		_, err := s.SignIn(ctx, "x", "y")
		require.NoError(t, err)
		log := &eventLog{}
		s.Subscribe(log.record)
		return s, log
	}

	t.Run("outside skew is a no-op", func(t *testing.T) {
		provider := authmocks.NewFakeAuthProvider()
		s, log := signedIn(t, provider)
		require.NoError(t, s.RefreshIfNeeded(ctx, 10*time.Second))
		assert.Empty(t, log.kinds())
	})

	t.Run("refreshed", func(t *testing.T) {
		provider := authmocks.NewFakeAuthProvider()
		provider.RefreshFunc = func(_ context.Context, token string) (*domainauth.Session, error) {
			assert.Equal(t, "r1", token)
			return &domainauth.Session{
				AccessToken: "a2",
				ExpiresAt:   now.Add(time.Hour),
				Identity:    domainauth.Identity{ID: "u1"},
			}, nil
		}
		s, log := signedIn(t, provider)
		require.NoError(t, s.RefreshIfNeeded(ctx, time.Minute))
		assert.Equal(t, "a2", s.CurrentSession().AccessToken)
		assert.Equal(t, []domainauth.EventKind{domainauth.EventTokenRefreshed}, log.kinds())
	})

	t.Run("rejected refresh drops the session", func(t *testing.T) {
		provider := authmocks.NewFakeAuthProvider()
		s, log := signedIn(t, provider)
		err := s.RefreshIfNeeded(ctx, time.Minute)
		require.ErrorIs(t, err, domainauth.ErrNotAuthenticated)
		assert.Nil(t, s.CurrentSession())
		assert.Equal(t, []domainauth.EventKind{domainauth.EventSignedOut}, log.kinds())
	})

	t.Run("transient failure keeps the session", func(t *testing.T) {
		provider := authmocks.NewFakeAuthProvider()
		provider.RefreshFunc = func(context.Context, string) (*domainauth.Session, error) {
			return nil, errors.New("timeout")
		}
		s, log := signedIn(t, provider)
		require.Error(t, s.RefreshIfNeeded(ctx, time.Minute))
		assert.NotNil(t, s.CurrentSession())
		assert.Empty(t, log.kinds())
	})
}

func TestSessionStore_SubscribeLifecycle(t *testing.T) {
	s := newHydratedStore(t, SessionStoreOptions{})
	log := &eventLog{}

	unsubscribe := s.Subscribe(log.record)
	assert.Equal(t, 1, s.SubscriberCount())

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 0, s.SubscriberCount())

	s.SignOut(context.Background())
	assert.Empty(t, log.kinds())
}

func TestSessionStore_MutationsWaitForHydration(t *testing.T) {
	persist := newGatedPersistence()
	s, err := NewSessionStore(context.Background(), SessionStoreOptions{
		Provider:    authmocks.NewFakeAuthProvider(),
		Persistence: persist,
		Key:         "k",
	})
	require.NoError(t, err)
	log := &eventLog{}
	s.Subscribe(log.record)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, signInErr := s.SignIn(context.Background(), "mock.user@example.com", "password")
		assert.NoError(t, signInErr)
	}()

	select {
	case <-done:
		t.Fatal("sign in completed before hydration")
	case <-time.After(20 * time.Millisecond):
	}

	close(persist.gate)
	waitClosed(t, done)
	assert.Equal(t, []domainauth.EventKind{domainauth.EventInitialSession, domainauth.EventSignedIn}, log.kinds())
	assert.NotNil(t, s.CurrentSession(), "hydration must not overwrite the later sign in")
}
