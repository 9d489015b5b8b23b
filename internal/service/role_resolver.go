package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	domainauth "github.com/mindguard/mindguard-api/internal/domain/auth"
)

// RoleChecker answers whether a user holds the admin role.
type RoleChecker interface {
	IsAdmin(ctx context.Context, userID string) (bool, error)
}

// RoleResolverOptions groups dependencies for NewRoleResolver.
type RoleResolverOptions struct {
	Checker RoleChecker // Required
	Logger  *slog.Logger
}

// RoleResolver derives an AdminState from the current identity.
//
// Every SetIdentity starts a new generation. The lookup of an older
// generation is cancelled and, should it still complete, its result is
// discarded so it can never overwrite the state of a newer identity.
type RoleResolver struct {
	checker RoleChecker
	logger  *slog.Logger

	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu      sync.Mutex
	gen     uint64
	cancel  context.CancelFunc
	subject string
	state   domainauth.AdminState
	changed chan struct{}
	closed  bool
}

// NewRoleResolver creates a resolver with no identity. Lookups run under
// contexts derived from ctx.
func NewRoleResolver(ctx context.Context, opts RoleResolverOptions) (*RoleResolver, error) {
	if opts.Checker == nil {
		return nil, errors.New("role resolver: checker is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	base, stop := context.WithCancel(ctx)
	return &RoleResolver{
		checker: opts.Checker,
		logger:  logger.With("component", "role_resolver"),
		base:    base,
		stop:    stop,
		changed: make(chan struct{}),
	}, nil
}

// SetIdentity re-targets the resolver. A nil identity resolves immediately
// to the non-admin, non-loading state without a lookup.
func (r *RoleResolver) SetIdentity(id *domainauth.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	r.gen++
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}

	if id == nil {
		r.subject = ""
		r.publishLocked(domainauth.AdminState{})
		return
	}

	ctx, cancel := context.WithCancel(r.base)
	r.cancel = cancel
	r.subject = id.ID
	r.publishLocked(domainauth.AdminState{Loading: true})

	r.wg.Add(1)
	go r.lookup(ctx, r.gen, id.ID)
}

// State returns the current admin state.
func (r *RoleResolver) State() domainauth.AdminState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Snapshot returns the user id the current state belongs to along with the state.
func (r *RoleResolver) Snapshot() (string, domainauth.AdminState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subject, r.state
}

// Changed returns a channel that is closed on the next state change.
func (r *RoleResolver) Changed() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.changed
}

// Close cancels any in-flight lookup and waits for it to return.
// Further SetIdentity calls are ignored.
func (r *RoleResolver) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.gen++
	r.cancel = nil
	r.mu.Unlock()

	r.stop()
	r.wg.Wait()
}

func (r *RoleResolver) lookup(ctx context.Context, gen uint64, userID string) {
	defer r.wg.Done()

	isAdmin, err := r.checker.IsAdmin(ctx, userID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.gen {
		r.logger.DebugContext(ctx, "discarding stale role lookup", "user_id", userID)
		return
	}
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}

	if err != nil {
		r.logger.WarnContext(ctx, "role lookup failed", "user_id", userID, "error", err)
		r.publishLocked(domainauth.AdminState{
			LookupFailed: true,
			Err:          fmt.Errorf("%w: %w", domainauth.ErrLookupFailure, err),
		})
		return
	}
	r.publishLocked(domainauth.AdminState{IsAdmin: isAdmin})
}

func (r *RoleResolver) publishLocked(s domainauth.AdminState) {
	r.state = s
	close(r.changed)
	r.changed = make(chan struct{})
}
