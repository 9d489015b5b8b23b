package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	redisadapter "github.com/mindguard/mindguard-api/internal/adapters/redis"
	"github.com/mindguard/mindguard-api/internal/bootstrap"
)

type sessionStore interface {
	List(ctx context.Context) ([]redisadapter.PersistedSession, error)
	Purge(ctx context.Context) (int64, error)
}

type purgeOptions struct {
	Yes bool
}

func parsePurgeFlags(args []string) (purgeOptions, error) {
	fs := flag.NewFlagSet("purge-sessions", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := purgeOptions{}
	fs.BoolVar(&opts.Yes, "yes", false, "Skip the confirmation prompt")
	if err := fs.Parse(args); err != nil {
		return purgeOptions{}, err
	}
	return opts, nil
}

func withSessions(cmdCtx *commandContext, f func(context.Context, sessionStore) error) error {
	if !cmdCtx.Config.Redis.Configured() {
		return errors.New("session commands require REDIS_URI")
	}
	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	client, err := bootstrap.OpenRedis(ctx, cmdCtx.Config.Redis, cmdCtx.Logger)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer func() {
		if cerr := client.Close(); cerr != nil {
			cmdCtx.Logger.Warn("redis close failed", "error", cerr)
		}
	}()

	store := redisadapter.NewSessionStore(client, redisadapter.Options{
		Prefix: cmdCtx.Config.Workspace.KeyPrefix,
		TTL:    cmdCtx.Config.Workspace.SessionTTL,
	})
	return f(ctx, store)
}

func runListSessions(cmdCtx *commandContext, _ []string) error {
	return withSessions(cmdCtx, func(ctx context.Context, store sessionStore) error {
		return listSessions(ctx, store, cmdCtx.Out)
	})
}

func runPurgeSessions(cmdCtx *commandContext, args []string) error {
	opts, err := parsePurgeFlags(args)
	if err != nil {
		return err
	}
	return withSessions(cmdCtx, func(ctx context.Context, store sessionStore) error {
		return purgeSessions(ctx, store, cmdCtx.In, cmdCtx.Out, opts)
	})
}

func listSessions(ctx context.Context, store sessionStore, out io.Writer) error {
	sessions, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	if len(sessions) == 0 {
		return writeln(out, "no persisted sessions")
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	if err := writef(tw, "KEY\tUSER ID\tEMAIL\tTOKEN EXPIRES\tTTL\n"); err != nil {
		return err
	}
	for _, s := range sessions {
		expires := "-"
		if !s.Expires.IsZero() {
			expires = s.Expires.UTC().Format(time.RFC3339)
		}
		userID := s.UserID
		if userID == "" {
			userID = "(unreadable)"
		}
		if err := writef(tw, "%s\t%s\t%s\t%s\t%s\n", s.Key, userID, s.Email, expires, s.TTL.Round(time.Second)); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func purgeSessions(ctx context.Context, store sessionStore, in io.Reader, out io.Writer, opts purgeOptions) error {
	if !opts.Yes {
		if err := confirm(in, out, "About to sign out every browser by deleting all persisted sessions."); err != nil {
			return err
		}
	}
	n, err := store.Purge(ctx)
	if err != nil {
		return fmt.Errorf("purge sessions: %w", err)
	}
	return writef(out, "deleted %d sessions\n", n)
}
