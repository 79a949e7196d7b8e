package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/portal/pkg/activity"
	"github.com/platinummonkey/portal/pkg/api"
	"github.com/platinummonkey/portal/pkg/config"
	"github.com/platinummonkey/portal/pkg/gate"
	"github.com/platinummonkey/portal/pkg/graph"
	"github.com/platinummonkey/portal/pkg/identity"
	"github.com/platinummonkey/portal/pkg/middleware"
	"github.com/platinummonkey/portal/pkg/observability"
	"github.com/platinummonkey/portal/pkg/rbac"
	"github.com/platinummonkey/portal/pkg/storage/postgres"
)

const replicaCheckInterval = 30 * time.Second

// defaultRoutes applies when PORTAL_ROUTES_FILE is unset: every page needs a
// signed-in user with a role, except the fallback page itself
const defaultRoutes = `
defaults:
  fallback_path: /unauthorized
routes:
  - path: /unauthorized
    public: true
`

func newServeCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the portal HTTP server",
		Long: `Run the portal API, the gated static bundle, the health/metrics listener
and the login activity retention schedule until SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := e.loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return e.serve(ctx, cfg)
		},
	}
}

func (e *env) serve(ctx context.Context, cfg *config.Config) error {
	logger := observability.NewLogger(cfg.LogLevel, os.Stdout)
	logger.WithField("version", Version).Info("Starting portal")

	if err := cfg.RequireDatabase(); err != nil {
		return err
	}
	if cfg.Azure.Audience == "" {
		// Still start: every authenticated request will answer 500 with guidance.
		logger.Error("AZURE_AUDIENCE is not set; token verification will fail")
	}

	var (
		registry *prometheus.Registry
		metrics  *observability.Metrics
	)
	if cfg.MetricsEnabled {
		registry = prometheus.NewRegistry()
		metrics = observability.NewMetrics(registry)
	}

	providers, err := observability.InitOTel(ctx, cfg.OTel(), logger)
	if err != nil {
		return err
	}
	if providers != nil && metrics != nil {
		otelMetrics, err := observability.NewOTelMetrics()
		if err != nil {
			logger.WithError(err).Warn("OpenTelemetry metrics unavailable")
		} else {
			metrics.AttachOTel(otelMetrics)
		}
	}

	cm, err := postgres.NewConnectionManager(ctx, postgres.ConnectionConfig{
		Driver:      e.driver,
		PrimaryURL:  cfg.Database.URL,
		ReplicaURLs: postgres.ParseReplicaURLs(cfg.Database.ReplicaURLs),
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		Timeout:     cfg.Database.Timeout,
	}, logger)
	if err != nil {
		return err
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = postgres.NewRedisClient(ctx, postgres.RedisConfig{
			URL:        cfg.Redis.URL,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			MaxRetries: cfg.Redis.MaxRetries,
			PoolSize:   cfg.Redis.PoolSize,
		})
		if err != nil {
			cm.Close()
			return err
		}
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)
	shutdown.Register("otel", providers.Shutdown)
	shutdown.Register("database", func(context.Context) error { return cm.Close() })
	if redisClient != nil {
		shutdown.Register("redis", func(context.Context) error { return redisClient.Close() })
	}

	activityStore := activity.NewPostgresStore(cm.Primary())
	recorder := activity.NewRecorder(activityStore,
		activity.WithWriteTimeout(cfg.Activity.WriteTimeout),
		activity.WithLogger(logger),
		activity.WithMetrics(metrics),
	)

	resolverOpts := []rbac.ResolverOption{
		rbac.WithActivityRecorder(recorder),
		rbac.WithTimeout(cfg.RoleTimeout),
		rbac.WithLogger(logger),
		rbac.WithMetrics(metrics),
	}
	if cfg.Cache.Enabled {
		cache := rbac.NewRoleCache(rbac.CacheConfig{TTL: cfg.Cache.TTL, MaxEntries: cfg.Cache.MaxEntries},
			redisClient, logger, metrics)
		resolverOpts = append(resolverOpts, rbac.WithCache(cache))
	}
	resolver := rbac.NewResolver(rbac.NewPostgresStore(cm.Primary()), resolverOpts...)

	verifier := identity.NewVerifier(ctx, cfg.Azure, identity.WithLogger(logger), identity.WithMetrics(metrics))

	routes, err := loadRoutes(cfg.RoutesFile)
	if err != nil {
		shutdown.Shutdown(context.Background())
		return err
	}

	opts := api.Options{
		Verifier:    verifier,
		Resolver:    resolver,
		Routes:      routes,
		StaticDir:   cfg.StaticDir,
		Activity:    activity.NewPostgresStore(cm.Replica()),
		CORSOrigins: cfg.Server.CORSOrigins,
		TokenCookie: cfg.Server.TokenCookie,
		Logger:      logger,
		Metrics:     metrics,
	}
	if cfg.Graph.Enabled() {
		opts.Profiles = graph.NewClient(ctx, cfg.Graph, graph.WithLogger(logger))
	}
	if cfg.RateLimit.Enabled {
		opts.RateLimit = newRateLimit(ctx, cfg.RateLimit, redisClient, logger)
	}

	if cfg.Activity.RetentionEnabled {
		sweeper, err := newSweeper(ctx, cfg, activityStore, logger, metrics)
		if err != nil {
			shutdown.Shutdown(context.Background())
			return err
		}
		if err := sweeper.Start(); err != nil {
			shutdown.Shutdown(context.Background())
			return err
		}
		shutdown.Register("sweeper", sweeper.Stop)
	}

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewServer(opts),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	health := &http.Server{
		Addr:        net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:     api.NewHealthRouter(observability.NewHealthChecker(cm.Primary(), redisClient, Version, metrics), registry),
		ReadTimeout: 5 * time.Second,
	}
	shutdown.AddServer(server)
	shutdown.AddServer(health)

	g, gctx := errgroup.WithContext(ctx)

	cm.StartHealthCheckRoutine(gctx, replicaCheckInterval)

	for _, srv := range []*http.Server{server, health} {
		g.Go(func() error {
			logger.WithField("addr", srv.Addr).Info("HTTP server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server %s: %w", srv.Addr, err)
			}
			return nil
		})
	}

	if cfg.RoutesFile != "" {
		g.Go(func() error {
			return gate.WatchRouteTable(gctx, cfg.RoutesFile, routes, logger)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down portal")
		return shutdown.Shutdown(context.WithoutCancel(gctx))
	})

	return g.Wait()
}

func loadRoutes(path string) (*gate.RouteTable, error) {
	if path == "" {
		return gate.ParseRouteTable([]byte(defaultRoutes))
	}
	return gate.LoadRouteTable(path)
}

// newRateLimit shares counters through Redis when it is available so every
// replica enforces the same budget
func newRateLimit(ctx context.Context, cfg config.RateLimitConfig, redisClient *redis.Client, logger *observability.Logger) *middleware.RateLimitMiddleware {
	userCfg := &middleware.RateLimitConfig{RequestsPerWindow: cfg.UserPerMinute, WindowDuration: time.Minute, BurstSize: cfg.UserBurst}
	anonCfg := &middleware.RateLimitConfig{RequestsPerWindow: cfg.AnonPerMinute, WindowDuration: time.Minute, BurstSize: cfg.AnonBurst}

	var users, anonymous middleware.Limiter
	if redisClient != nil {
		users = middleware.NewDistributedRateLimiter(redisClient, userCfg, "portal:ratelimit:user")
		anonymous = middleware.NewDistributedRateLimiter(redisClient, anonCfg, "portal:ratelimit:anon")
	} else {
		userLimiter := middleware.NewRateLimiter(userCfg)
		anonLimiter := middleware.NewRateLimiter(anonCfg)
		userLimiter.StartCleanup(ctx)
		anonLimiter.StartCleanup(ctx)
		users, anonymous = userLimiter, anonLimiter
	}

	rl := middleware.NewRateLimitMiddleware(users, anonymous, logger)
	rl.SetFailOpen(cfg.FailOpen)
	return rl
}

func newSweeper(ctx context.Context, cfg *config.Config, store activity.Store, logger *observability.Logger, metrics *observability.Metrics) (*activity.Sweeper, error) {
	opts := []activity.SweeperOption{
		activity.WithSweeperLogger(logger),
		activity.WithSweeperMetrics(metrics),
	}

	archive := cfg.Activity.Archive
	if archive.Enabled {
		client, err := activity.NewS3Client(ctx, activity.S3Config{
			Bucket:       archive.Bucket,
			Prefix:       archive.Prefix,
			Region:       archive.Region,
			Endpoint:     archive.Endpoint,
			AccessKey:    archive.AccessKey,
			SecretKey:    archive.SecretKey,
			UsePathStyle: archive.UsePathStyle,
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, activity.WithArchiver(activity.NewS3Archiver(client, archive.Bucket, archive.Prefix)))
	}

	return activity.NewSweeper(store, activity.SweeperConfig{
		Schedule:  cfg.Activity.RetentionSchedule,
		Retention: cfg.Activity.Retention,
	}, opts...)
}
