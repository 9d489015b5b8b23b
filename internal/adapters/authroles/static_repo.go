// Package authroles provides a configuration-backed role repository for
// deployments without a role table.
package authroles

import (
	"context"
	"strings"
	"time"

	domainauth "github.com/mindguard/mindguard-api/internal/domain/auth"
	"github.com/mindguard/mindguard-api/internal/ports"
)

var _ ports.RoleRepository = (*StaticRepository)(nil)

// StaticRepository grants the admin role to a fixed set of user ids.
type StaticRepository struct {
	admins  map[string]struct{}
	created time.Time
}

// NewStaticRepository builds a repository from configured admin ids.
// Blank entries are ignored.
func NewStaticRepository(adminIDs []string) *StaticRepository {
	admins := make(map[string]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		if id = strings.TrimSpace(id); id != "" {
			admins[id] = struct{}{}
		}
	}
	return &StaticRepository{admins: admins, created: time.Now().UTC()}
}

// FindRole returns (nil, nil) for any role other than admin or an unlisted user.
func (r *StaticRepository) FindRole(
	_ context.Context,
	userID string,
	role domainauth.Role,
) (*domainauth.RoleAssignment, error) {
	if role != domainauth.RoleAdmin {
		return nil, nil
	}
	if _, ok := r.admins[userID]; !ok {
		return nil, nil
	}
	return &domainauth.RoleAssignment{
		ID:        "static:" + userID,
		UserID:    userID,
		Role:      domainauth.RoleAdmin,
		CreatedAt: r.created,
	}, nil
}

// Len reports how many admin ids are configured.
func (r *StaticRepository) Len() int { return len(r.admins) }
