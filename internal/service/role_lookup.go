package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainauth "github.com/mindguard/mindguard-api/internal/domain/auth"
	"github.com/mindguard/mindguard-api/internal/observability/metrics"
	"github.com/mindguard/mindguard-api/internal/observability/statsd"
	"github.com/mindguard/mindguard-api/internal/ports"
	"golang.org/x/sync/singleflight"
)

// RoleLookupOptions groups dependencies for NewRoleLookup.
type RoleLookupOptions struct {
	Repo    ports.RoleRepository // Required
	Metrics statsd.Sink
	// Timeout bounds one shared repository query. Zero means no bound.
	Timeout time.Duration
}

// RoleLookup checks admin assignments, collapsing concurrent lookups for the
// same user into one repository query.
type RoleLookup struct {
	repo    ports.RoleRepository
	metrics statsd.Sink
	timeout time.Duration
	group   singleflight.Group
}

// NewRoleLookup constructs a RoleLookup.
func NewRoleLookup(opts RoleLookupOptions) (*RoleLookup, error) {
	if opts.Repo == nil {
		return nil, errors.New("role lookup: repository is required")
	}
	return &RoleLookup{repo: opts.Repo, metrics: opts.Metrics, timeout: max(opts.Timeout, 0)}, nil
}

// IsAdmin reports whether userID holds the admin role. The shared query is
// detached from any single caller; each caller stops waiting when its own
// ctx ends.
func (l *RoleLookup) IsAdmin(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, errors.New("role lookup: user id is required")
	}

	ch := l.group.DoChan(userID, func() (any, error) {
		qctx, cancel := l.queryContext(ctx)
		defer cancel()
		assignment, err := l.repo.FindRole(qctx, userID, domainauth.RoleAdmin)
		metrics.EmitAuthOperation(l.metrics, metrics.OpRoleCheck, err)
		if err != nil {
			return false, fmt.Errorf("find admin role for %s: %w", userID, err)
		}
		return assignment != nil, nil
	})

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return false, res.Err
		}
		isAdmin, _ := res.Val.(bool)
		return isAdmin, nil
	}
}

func (l *RoleLookup) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if l.timeout == 0 {
		return context.WithCancel(detached)
	}
	return context.WithTimeout(detached, l.timeout)
}
