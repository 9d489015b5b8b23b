package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mindguard/mindguard-api/config"
	redisadapter "github.com/mindguard/mindguard-api/internal/adapters/redis"
	httpx "github.com/mindguard/mindguard-api/internal/http"
	"github.com/mindguard/mindguard-api/internal/observability/statsd"
	"github.com/mindguard/mindguard-api/internal/ports"
	"github.com/mindguard/mindguard-api/internal/service"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// shutdownWaitTimeout is the maximum time to wait for the server to drain.
const shutdownWaitTimeout = 15 * time.Second

// ServiceContainer holds the long-lived components the HTTP layer is built on.
type ServiceContainer struct {
	Registry  *service.WorkspaceRegistry
	Roles     *service.RoleLookup
	RoleAdmin httpx.RoleAdmin
	Metrics   statsd.Sink

	DB    *sql.DB
	Redis redis.UniversalClient

	closers []func() error
}

// ServiceDeps contains the inputs for NewServices.
type ServiceDeps struct {
	Config *config.AppConfig
	Logger *slog.Logger
}

// NewServices connects the configured stores and builds the workspace registry.
// On error every connection opened so far is closed.
func NewServices(ctx context.Context, deps ServiceDeps) (_ *ServiceContainer, err error) {
	if deps.Config == nil {
		return nil, errors.New("services: config is required")
	}
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &ServiceContainer{}
	defer func() {
		if err != nil {
			err = errors.Join(err, c.Close())
		}
	}()

	metricsClient, err := statsd.NewClient(statsd.Config{
		Enabled: cfg.Observability.Metrics.IsEnabled(),
		Address: cfg.Observability.Metrics.StatsdAddress,
		Prefix:  cfg.Observability.Metrics.Prefix,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create metrics client: %w", err)
	}
	c.Metrics = metricsClient
	c.closers = append(c.closers, metricsClient.Close)

	if err = c.connectStores(ctx, cfg, logger); err != nil {
		return nil, err
	}

	authCfg := AuthConfig{Auth: cfg.Auth, Logger: logger}
	providers, err := BuildAuthProvider(authCfg)
	if err != nil {
		return nil, err
	}
	roles, err := BuildRoleSource(authCfg, c.DB)
	if err != nil {
		return nil, err
	}
	c.RoleAdmin = roles.Admin

	c.Roles, err = service.NewRoleLookup(service.RoleLookupOptions{
		Repo:    roles.Repo,
		Metrics: c.Metrics,
		Timeout: cfg.Auth.RoleLookupTimeout,
	})
	if err != nil {
		return nil, err
	}

	var persistence ports.SessionPersistence
	if c.Redis != nil {
		persistence = redisadapter.NewSessionStore(c.Redis, redisadapter.Options{
			Prefix: cfg.Workspace.KeyPrefix,
			TTL:    cfg.Workspace.SessionTTL,
		})
	} else {
		logger.Warn("redis not configured; sessions are lost when a workspace is evicted")
	}

	c.Registry, err = service.NewWorkspaceRegistry(service.WorkspaceRegistryOptions{
		Provider:    providers.Provider,
		Verifier:    providers.Verifier,
		Roles:       c.Roles,
		Persistence: persistence,
		Backend:     cfg.Backend,
		Config:      cfg.Workspace,
		Logger:      logger,
		Metrics:     c.Metrics,
	})
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, func() error {
		c.Registry.Close()
		return nil
	})

	logger.Info("services initialized",
		"auth_mode", cfg.Auth.Mode,
		"role_source", cfg.Auth.RoleSource,
		"session_persistence", persistence != nil,
		"role_admin", c.RoleAdmin != nil,
	)
	return c, nil
}

func (c *ServiceContainer) connectStores(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) error {
	if cfg.Postgres.Enabled {
		db, err := OpenPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			return err
		}
		c.DB = db
		c.closers = append(c.closers, db.Close)
		if cfg.Postgres.RunMigrationsOnStart {
			if err := RunMigrations(ctx, db, logger); err != nil {
				return err
			}
		}
	}

	if cfg.Redis.Configured() {
		client, err := OpenRedis(ctx, cfg.Redis, logger)
		if err != nil {
			return err
		}
		c.Redis = client
		c.closers = append(c.closers, client.Close)
	}
	return nil
}

// Close releases resources in reverse order of acquisition.
func (c *ServiceContainer) Close() error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// RunServicesWithShutdown serves HTTP and sweeps idle workspaces until ctx is
// cancelled or either component fails.
func RunServicesWithShutdown(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) error {
	services, err := NewServices(ctx, ServiceDeps{Config: cfg, Logger: logger})
	if err != nil {
		return fmt.Errorf("initialize services: %w", err)
	}
	defer func() {
		if closeErr := services.Close(); closeErr != nil {
			logger.Error("failed to close services", "error", closeErr)
		}
	}()

	handler, err := BuildHTTPHandler(&HTTPServerConfig{Config: cfg, Services: services, Logger: logger})
	if err != nil {
		return err
	}
	server := NewHTTPServer(handler, cfg.HTTP.Addr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ServeHTTP(gctx, server, logger) })
	g.Go(func() error { return services.Registry.Run(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
