package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/greenroomhq/greenroom/pkg/audit"
	"github.com/greenroomhq/greenroom/pkg/config"
	"github.com/greenroomhq/greenroom/pkg/membership"
	"github.com/greenroomhq/greenroom/pkg/middleware"
	"github.com/greenroomhq/greenroom/pkg/observability"
	"github.com/greenroomhq/greenroom/pkg/rbac"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "greenroomd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info("Starting greenroom authorization service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Observability
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := observability.ShutdownOTel(shutdownCtx, providers, logger); err != nil {
			logger.WithError(err).Error("OpenTelemetry shutdown failed")
		}
	}()

	// Policy
	policy, err := loadPolicy(cfg, metrics, logger)
	if err != nil {
		return err
	}
	evaluator, err := rbac.NewEvaluator(policy)
	if err != nil {
		return fmt.Errorf("failed to build evaluator: %w", err)
	}
	metrics.PolicyVersion.Set(float64(policy.Version))

	// Database
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	if err := membership.RunMigrations(ctx, db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.Info("Database ready")

	// Audit trail
	auditLogger, err := buildAuditLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to build audit logger: %w", err)
	}
	defer auditLogger.Close()

	// Membership service with context cache
	store := membership.NewStore(db)
	cache := membership.NewContextCache(cfg.Cache.Size, cfg.Cache.TTL, metrics)

	serviceOpts := []membership.ServiceOption{
		membership.WithAuditLogger(auditLogger),
		membership.WithMetrics(metrics),
		membership.WithInvitationTTL(cfg.Invitations.TTL),
	}

	var invalidator *membership.RedisInvalidator
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.URL,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		invalidator = membership.NewRedisInvalidator(redisClient, cache, uuid.NewString(), logger)
		if err := invalidator.Ping(ctx); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		serviceOpts = append(serviceOpts, membership.WithInvalidator(invalidator))
		logger.Info("Distributed cache invalidation enabled")
	}

	service := membership.NewService(store, evaluator, cache, logger, serviceOpts...)

	// HTTP API
	router := mux.NewRouter()
	router.Use(mux.MiddlewareFunc(middleware.RequestID))
	router.Use(mux.MiddlewareFunc(middleware.Actor))
	if cfg.Observability.MetricsEnabled {
		router.Use(middleware.Metrics(metrics))
	}
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(observability.WithLogger(r.Context(), logger)))
		})
	})

	rbac.NewHandlers(evaluator, service, auditLogger, metrics).RegisterRoutes(router)
	membership.NewHandlers(service).RegisterRoutes(router)

	var handler http.Handler = router
	if cfg.Observability.OTelEnabled {
		handler = otelhttp.NewHandler(router, "greenroomd")
	}

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics on a separate port for probes and scraping
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", observability.Handler(registry))
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	// Invitation cleanup
	scheduler := cron.New()
	if cfg.Invitations.CleanupSchedule != "" {
		_, err := scheduler.AddFunc(cfg.Invitations.CleanupSchedule, func() {
			cleanupCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if _, err := service.CleanupExpiredInvitations(cleanupCtx); err != nil {
				logger.WithError(err).Error("Invitation cleanup failed")
			}
		})
		if err != nil {
			return fmt.Errorf("invalid cleanup schedule %q: %w", cfg.Invitations.CleanupSchedule, err)
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Infof("API listening on %s", apiServer.Addr)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		logger.Infof("Health/metrics listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})

	if invalidator != nil {
		group.Go(func() error {
			if err := invalidator.Run(groupCtx); err != nil && groupCtx.Err() == nil {
				return fmt.Errorf("cache invalidator: %w", err)
			}
			return nil
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("API server shutdown failed")
		}
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Health server shutdown failed")
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		return err
	}
	logger.Info("Shutdown complete")
	return nil
}

// loadPolicy loads the policy artifact from disk, falling back to the
// embedded default when no path is configured. A broken artifact fails
// startup; there is no partial fallback past this point.
func loadPolicy(cfg *config.Config, metrics *observability.Metrics, logger *observability.Logger) (*rbac.Policy, error) {
	if cfg.Policy.Path == "" {
		logger.Info("Using embedded default policy")
		return rbac.DefaultPolicy(), nil
	}
	policy, err := rbac.LoadPolicyFile(cfg.Policy.Path)
	if err != nil {
		metrics.PolicyLoadFailures.Inc()
		return nil, fmt.Errorf("failed to load policy from %s: %w", cfg.Policy.Path, err)
	}
	logger.Infof("Loaded policy version %d from %s", policy.Version, cfg.Policy.Path)
	return policy, nil
}

// buildAuditLogger assembles the configured audit destinations into one
// fan-out logger.
func buildAuditLogger(cfg *config.Config) (audit.Logger, error) {
	var destinations []audit.Logger
	if cfg.Audit.Stdout {
		destinations = append(destinations, audit.NewLogrusLogger(os.Stdout))
	}
	if cfg.Audit.FilePath != "" {
		fileLogger, err := audit.NewFileLogger(audit.FileLoggerConfig{
			BasePath: cfg.Audit.FilePath,
			MaxSize:  cfg.Audit.FileMaxSize,
			MaxFiles: cfg.Audit.FileMaxFiles,
		})
		if err != nil {
			return nil, err
		}
		destinations = append(destinations, fileLogger)
	}
	if len(destinations) == 0 {
		return audit.NopLogger{}, nil
	}
	return audit.NewMultiLogger(destinations...), nil
}
