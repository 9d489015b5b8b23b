package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/mindguard/mindguard-api/config"
	"github.com/mindguard/mindguard-api/internal/bootstrap"
	"github.com/mindguard/mindguard-api/internal/data"
	domainauth "github.com/mindguard/mindguard-api/internal/domain/auth"
)

// roleStore is the subset of data.RoleRepo the role commands use.
type roleStore interface {
	Grant(ctx context.Context, userID string, role domainauth.Role) (*domainauth.RoleAssignment, error)
	Revoke(ctx context.Context, userID string, role domainauth.Role) error
	ListByRole(ctx context.Context, role domainauth.Role) ([]domainauth.RoleAssignment, error)
}

type migrateOptions struct {
	Timeout time.Duration
}

type userOptions struct {
	UserID  string
	Timeout time.Duration
}

func parseMigrateFlags(args []string) (migrateOptions, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := migrateOptions{}
	fs.DurationVar(&opts.Timeout, "timeout", defaultMigrationTimeout, "Maximum duration to wait for migrations to complete")

	if err := fs.Parse(args); err != nil {
		return migrateOptions{}, err
	}
	if opts.Timeout <= 0 {
		return migrateOptions{}, errors.New("--timeout must be greater than zero")
	}
	return opts, nil
}

func parseUserFlags(name string, args []string) (userOptions, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := userOptions{}
	fs.StringVar(&opts.UserID, "user", "", "Auth provider user id (the token sub claim)")
	fs.DurationVar(&opts.Timeout, "timeout", defaultCommandTimeout, "Maximum duration for the database call")

	if err := fs.Parse(args); err != nil {
		return userOptions{}, err
	}
	opts.UserID = strings.TrimSpace(opts.UserID)
	if opts.UserID == "" {
		return userOptions{}, errors.New("--user is required")
	}
	if opts.Timeout <= 0 {
		return userOptions{}, errors.New("--timeout must be greater than zero")
	}
	return opts, nil
}

func requirePostgresRoles(cfg config.AppConfig) error {
	if !cfg.Postgres.Enabled {
		return errors.New("role commands require DB_ENABLED=true")
	}
	if cfg.Auth.RoleSource != config.RoleSourcePostgres {
		return fmt.Errorf("ROLE_SOURCE is %q; assignments written here will not be read by the server", cfg.Auth.RoleSource)
	}
	return nil
}

func withDatabase(
	cmdCtx *commandContext,
	timeout time.Duration,
	f func(context.Context, *sql.DB) error,
) error {
	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	db, err := bootstrap.OpenPostgres(ctx, cmdCtx.Config.Postgres, cmdCtx.Logger)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			cmdCtx.Logger.Warn("db close failed", "error", cerr)
		}
	}()

	return f(ctx, db)
}

func runMigrations(cmdCtx *commandContext, args []string) error {
	opts, err := parseMigrateFlags(args)
	if err != nil {
		return err
	}
	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		return bootstrap.RunMigrations(ctx, db, cmdCtx.Logger)
	})
}

func runGrantAdmin(cmdCtx *commandContext, args []string) error {
	opts, err := parseUserFlags("grant-admin", args)
	if err != nil {
		return err
	}
	if err := requirePostgresRoles(cmdCtx.Config); err != nil {
		return err
	}
	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		return grantAdmin(ctx, data.NewRoleRepo(db), cmdCtx.Out, opts.UserID)
	})
}

func runRevokeAdmin(cmdCtx *commandContext, args []string) error {
	opts, err := parseUserFlags("revoke-admin", args)
	if err != nil {
		return err
	}
	if err := requirePostgresRoles(cmdCtx.Config); err != nil {
		return err
	}
	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		return revokeAdmin(ctx, data.NewRoleRepo(db), cmdCtx.Out, opts.UserID)
	})
}

func runListAdmins(cmdCtx *commandContext, _ []string) error {
	if err := requirePostgresRoles(cmdCtx.Config); err != nil {
		return err
	}
	return withDatabase(cmdCtx, defaultCommandTimeout, func(ctx context.Context, db *sql.DB) error {
		return listAdmins(ctx, data.NewRoleRepo(db), cmdCtx.Out)
	})
}

func grantAdmin(ctx context.Context, repo roleStore, out io.Writer, userID string) error {
	a, err := repo.Grant(ctx, userID, domainauth.RoleAdmin)
	if err != nil {
		return fmt.Errorf("grant admin: %w", err)
	}
	return writef(out, "granted admin to %s (assignment %s)\n", a.UserID, a.ID)
}

func revokeAdmin(ctx context.Context, repo roleStore, out io.Writer, userID string) error {
	if err := repo.Revoke(ctx, userID, domainauth.RoleAdmin); err != nil {
		if errors.Is(err, data.ErrRoleNotFound) {
			return fmt.Errorf("user %s is not an admin", userID)
		}
		return fmt.Errorf("revoke admin: %w", err)
	}
	return writef(out, "revoked admin from %s\n", userID)
}

func listAdmins(ctx context.Context, repo roleStore, out io.Writer) error {
	admins, err := repo.ListByRole(ctx, domainauth.RoleAdmin)
	if err != nil {
		return fmt.Errorf("list admins: %w", err)
	}
	if len(admins) == 0 {
		return writeln(out, "no admins")
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	if err := writef(tw, "USER ID\tGRANTED\n"); err != nil {
		return err
	}
	for _, a := range admins {
		if err := writef(tw, "%s\t%s\n", a.UserID, a.CreatedAt.UTC().Format(time.RFC3339)); err != nil {
			return err
		}
	}
	return tw.Flush()
}
