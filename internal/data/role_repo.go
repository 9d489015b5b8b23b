package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/mindguard/mindguard-api/internal/data/pgxutil"
	domainauth "github.com/mindguard/mindguard-api/internal/domain/auth"
	apperrors "github.com/mindguard/mindguard-api/internal/errors"
	"github.com/mindguard/mindguard-api/internal/ports"
)

var _ ports.RoleRepository = (*RoleRepo)(nil)

const roleColumns = `id::text AS id, user_id, role, created_at`

// RoleRepo provides database operations for user_roles.
type RoleRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewRoleRepo creates a RoleRepo using the system clock.
func NewRoleRepo(db *sql.DB) *RoleRepo {
	return &RoleRepo{DB: db, timeProvider: RealTimeProvider{}}
}

// NewRoleRepoWithTimeProvider creates a RoleRepo with a custom clock (useful for tests).
func NewRoleRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *RoleRepo {
	return &RoleRepo{DB: db, timeProvider: tp}
}

// FindRole returns the assignment, or (nil, nil) when the user does not hold role.
func (r *RoleRepo) FindRole(
	ctx context.Context,
	userID string,
	role domainauth.Role,
) (*domainauth.RoleAssignment, error) {
	if err := checkKey(userID, role); err != nil {
		return nil, err
	}
	var out *domainauth.RoleAssignment
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx,
			`SELECT `+roleColumns+` FROM user_roles WHERE user_id = $1 AND role = $2 LIMIT 1`,
			userID, string(role))
		if err != nil {
			return err
		}
		ra, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[domainauth.RoleAssignment])
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		out = &ra
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("find role: %w", err)
	}
	return out, nil
}

// Grant assigns role to userID. A duplicate assignment maps to a conflict AppError.
func (r *RoleRepo) Grant(ctx context.Context, userID string, role domainauth.Role) (*domainauth.RoleAssignment, error) {
	userID = strings.TrimSpace(userID)
	if err := checkKey(userID, role); err != nil {
		return nil, err
	}
	var out domainauth.RoleAssignment
	err := pgxutil.WithPgxTx(ctx, r.DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`INSERT INTO user_roles (id, user_id, role, created_at) VALUES ($1, $2, $3, $4)
			 RETURNING `+roleColumns,
			uuid.New(), userID, string(role), r.timeProvider.Now().UTC())
		if err != nil {
			return err
		}
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[domainauth.RoleAssignment])
		return err
	})
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("grant role: %w", err))
	}
	return &out, nil
}

// Revoke removes the assignment. ErrRoleNotFound when nothing matched.
func (r *RoleRepo) Revoke(ctx context.Context, userID string, role domainauth.Role) error {
	if err := checkKey(userID, role); err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role = $2`, userID, string(role))
	if err != nil {
		return apperrors.MapDBError(fmt.Errorf("revoke role: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke role rows affected: %w", err)
	}
	if n == 0 {
		return ErrRoleNotFound
	}
	return nil
}

// ListByRole returns every holder of role, oldest first.
func (r *RoleRepo) ListByRole(ctx context.Context, role domainauth.Role) ([]domainauth.RoleAssignment, error) {
	if role == "" {
		return nil, ErrRoleRequired
	}
	var out []domainauth.RoleAssignment
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx,
			`SELECT `+roleColumns+` FROM user_roles WHERE role = $1 ORDER BY created_at, user_id`,
			string(role))
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, pgx.RowToStructByName[domainauth.RoleAssignment])
		return err
	})
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("list roles: %w", err))
	}
	return out, nil
}

func checkKey(userID string, role domainauth.Role) error {
	if userID == "" {
		return ErrUserIDRequired
	}
	if role == "" {
		return ErrRoleRequired
	}
	return nil
}
