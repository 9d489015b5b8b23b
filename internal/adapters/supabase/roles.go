package supabase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	domainauth "github.com/mindguard/mindguard-api/internal/domain/auth"
	"github.com/mindguard/mindguard-api/internal/ports"
)

var _ ports.RoleRepository = (*RoleRepository)(nil)

// RoleRepository reads the user_roles table through PostgREST.
type RoleRepository struct {
	c   *client
	key string
}

// NewRoleRepository constructs a PostgREST role reader.
func NewRoleRepository(cfg Config) (*RoleRepository, error) {
	c, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	key := cfg.ServiceRoleKey
	if key == "" {
		key = cfg.AnonKey
	}
	return &RoleRepository{c: c, key: key}, nil
}

type roleRow struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// FindRole returns (nil, nil) when no row matches.
func (r *RoleRepository) FindRole(
	ctx context.Context,
	userID string,
	role domainauth.Role,
) (*domainauth.RoleAssignment, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	q := url.Values{
		"select":  {"id,user_id,role,created_at"},
		"user_id": {"eq." + userID},
		"role":    {"eq." + string(role)},
		"limit":   {"1"},
	}
	var rows []roleRow
	if err := r.c.do(ctx, http.MethodGet, "/rest/v1/user_roles", q, r.key, "", nil, &rows); err != nil {
		return nil, fmt.Errorf("query user_roles: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	row := rows[0]
	return &domainauth.RoleAssignment{
		ID:        row.ID,
		UserID:    row.UserID,
		Role:      domainauth.Role(row.Role),
		CreatedAt: row.CreatedAt,
	}, nil
}
