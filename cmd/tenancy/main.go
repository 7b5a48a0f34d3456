package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/platinummonkey/tenancy/pkg/async"
	"github.com/platinummonkey/tenancy/pkg/authzcache"
	"github.com/platinummonkey/tenancy/pkg/config"
	"github.com/platinummonkey/tenancy/pkg/database"
	"github.com/platinummonkey/tenancy/pkg/id"
	"github.com/platinummonkey/tenancy/pkg/observability"
	"github.com/platinummonkey/tenancy/pkg/orgs"
	"github.com/platinummonkey/tenancy/pkg/permissions"
	"github.com/platinummonkey/tenancy/pkg/rbac"
)

var version = "dev"

func main() {
	migrateOnly := flag.Bool("migrate", false, "Apply database migrations and exit")
	seedOnly := flag.Bool("seed", false, "Apply migrations, seed the permission catalog and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout).
		WithField("service", cfg.Observability.OTelServiceName).
		WithField("version", version)

	if err := run(cfg, logger, *migrateOnly, *seedOnly); err != nil {
		logger.WithError(err).Error("tenancy exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger, migrateOnly, seedOnly bool) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, dialect, err := database.Open(ctx, cfg.Database.Database())
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := database.RunMigrations(ctx, db, dialect)
	if err != nil {
		return err
	}
	logger.WithField("applied", applied).Info("migrations complete")
	if migrateOnly {
		return nil
	}

	catalog := permissions.Default()
	if cfg.Catalog.OverlayPath != "" {
		if catalog, err = catalog.MergeFile(cfg.Catalog.OverlayPath); err != nil {
			return err
		}
	}

	ids, err := id.NewNode(cfg.NodeID)
	if err != nil {
		return err
	}

	seeded, err := rbac.SeedCatalog(ctx, db, ids, catalog)
	if err != nil {
		return err
	}
	logger.WithFields(map[string]any{
		"new_permissions":        seeded.NewPermissions,
		"new_global_permissions": seeded.NewGlobalPermissions,
		"new_global_roles":       seeded.NewGlobalRoles,
	}).Info("permission catalog seeded")
	if seedOnly {
		return nil
	}

	otelProviders, err := observability.InitOTel(ctx, cfg.OTel(), logger)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	svc, rdb, err := buildServices(ctx, cfg, db, dialect, ids, catalog, logger, metrics)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      newRouter(svc, db, rdb, registry, metrics, logger, cfg.Server.OperationTimeout),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	if rdb != nil {
		shutdown.RegisterShutdownFunc(func(context.Context) error {
			return rdb.Close()
		})
	}
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		cancel()
		return svc.cache.Close()
	})

	async.SafeGoNoError(ctx, logger, 0, "db stats collector", func(ctx context.Context) {
		collectDBStats(ctx, db, metrics)
	})

	var serveErr error
	async.SafeGoNoError(ctx, logger, 0, "ops server", func(context.Context) {
		logger.Infof("ops server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("ops server failed: %w", err)
			cancel()
		}
	})

	if err := shutdown.WaitForShutdown(ctx); err != nil {
		return err
	}
	return serveErr
}

// services is the in-process tenancy API hosted by the binary
type services struct {
	memberships *orgs.MembershipService
	invitations *orgs.InvitationService
	roles       *rbac.RoleService
	globalRoles *rbac.GlobalRoles
	cache       *authzcache.Cache
}

func buildServices(ctx context.Context, cfg *config.Config, db *sql.DB, dialect database.Dialect, ids id.Generator,
	catalog *permissions.Catalog, logger *observability.Logger, metrics *observability.Metrics) (*services, *redis.Client, error) {
	orgStore := orgs.NewStore(db, dialect, ids)
	roleStore := orgStore.Roles()

	var rdb *redis.Client
	if cfg.Cache.Enabled {
		client, err := authzcache.NewRedisClient(ctx, cfg.Cache.Redis())
		if err != nil {
			return nil, nil, err
		}
		rdb = client
	}

	var cache *authzcache.Cache
	if rdb != nil {
		cache = authzcache.New(cfg.Cache.AuthzCache(), rdb, orgStore, roleStore, logger, metrics)
	} else {
		logger.Warn("redis disabled, authorization cache runs in-process only")
		cache = authzcache.New(cfg.Cache.AuthzCache(), nil, orgStore, roleStore, logger, metrics)
	}
	if err := cache.Start(ctx); err != nil {
		if rdb != nil {
			rdb.Close()
		}
		return nil, nil, err
	}

	memberships := orgs.NewMembershipService(db, orgStore, nil, catalog, cache, logger, metrics)
	return &services{
		memberships: memberships,
		invitations: orgs.NewInvitationService(db, orgStore, nil, memberships, logger, metrics),
		roles:       rbac.NewRoleService(db, roleStore, catalog, cache, logger, metrics),
		globalRoles: rbac.NewGlobalRoles(db, catalog),
		cache:       cache,
	}, rdb, nil
}

func collectDBStats(ctx context.Context, db *sql.DB, metrics *observability.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		metrics.UpdateDBStats(db.Stats())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
