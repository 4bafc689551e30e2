package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/propertyflow/backend/internal/featureflags"
	"github.com/propertyflow/backend/internal/handler"
	"github.com/propertyflow/backend/internal/infrastructure/logger"
	"github.com/propertyflow/backend/internal/infrastructure/provider"
	"github.com/propertyflow/backend/internal/infrastructure/redis"
	"github.com/propertyflow/backend/internal/observability/metrics"
	"github.com/propertyflow/backend/internal/observability/tracing"
	"github.com/propertyflow/backend/internal/reliability/accessgate"
	"github.com/propertyflow/backend/internal/repository"
	"github.com/propertyflow/backend/internal/responsecache"
	"github.com/propertyflow/backend/internal/security"
	"github.com/propertyflow/backend/internal/security/audit"
	"github.com/propertyflow/backend/internal/security/auth"
	"github.com/propertyflow/backend/internal/security/middleware"
	"github.com/propertyflow/backend/internal/security/ratelimit"
	"github.com/propertyflow/backend/internal/service"
	"github.com/propertyflow/backend/internal/tenant"
	"github.com/propertyflow/backend/internal/worker"
	"github.com/propertyflow/backend/pkg/config"
	"github.com/propertyflow/backend/pkg/database"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(cfg.LogLevel)
	log.Info("starting propertyflow server", slog.String("environment", cfg.Environment))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, log, "propertyflow", cfg.Environment)
	if err != nil {
		log.Error("failed to initialize tracing", slog.String("error", err.Error()))
		os.Exit(1)
	}

	pool, err := database.NewConnectionPool(ctx, &database.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPass,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, log)
	if err != nil {
		log.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()
	db := pool.GetDB()

	// Redis is optional L2 backing; the cache degrades to in-memory only.
	var redisClient *redis.Client
	var l2Backing responsecache.RedisBacking
	if featureflags.Enabled("redis_l2") && cfg.RedisURL != "" {
		redisClient, err = redis.NewClient(cfg.RedisURL)
		if err != nil {
			log.Warn("redis unavailable, tenant cache is memory-only", slog.String("error", err.Error()))
		} else {
			defer redisClient.Close()
			l2Backing = redisClient
		}
	}

	gateCfg := &accessgate.Config{
		MaxConcurrent:    int32(cfg.GateMaxConcurrent),
		FailureThreshold: int32(cfg.GateFailureThreshold),
		BreakerTimeout:   cfg.GateBreakerTimeout,
		AdmissionWait:    cfg.GateAdmissionWait,
		StaleAfter:       cfg.GateStaleAfter,
	}
	datastoreGate := accessgate.New("datastore", gateCfg, log)
	providerGate := accessgate.New("provider", gateCfg, log)
	for _, g := range []*accessgate.Gate{datastoreGate, providerGate} {
		gate := g
		gate.SetStateChangeCallback(func(open bool) {
			metrics.SetGateCircuitOpen(gate.Name(), open)
		})
	}

	permRepo := repository.NewPostgresPermissionRepository(db, log)
	tenantRepo := repository.NewPostgresTenantRepository(db, log)
	viewRepo := repository.NewPostgresViewRepository(db, log)
	userRepo := repository.NewPostgresUserRepository(db, log)

	providerClient := provider.NewClient(cfg.ProviderURL, cfg.ProviderAPIKey, providerGate, log)
	tokenManager := auth.NewTokenManager(cfg.JWTSecret, "propertyflow")
	tenantResolver := tenant.NewResolver(permRepo, userRepo, datastoreGate, log)

	authService := service.NewAuthService(
		providerClient,
		tokenManager,
		tenantResolver,
		permRepo,
		userRepo,
		permRepo,
		datastoreGate,
		service.AuthServiceOptions{
			CacheTTL:    cfg.AuthCacheTTL,
			AdminEmails: cfg.AdminEmails,
			BypassCache: featureflags.Enabled("auth_cache_bypass"),
		},
		log,
	)

	tieredCache := responsecache.New(cfg.L1Capacity, cfg.L1TTL, cfg.L2Capacity, cfg.L2TTL, l2Backing, log)
	evaluator := security.NewEvaluator(log)

	bootstrapService := service.NewBootstrapService(
		tieredCache, evaluator, permRepo, viewRepo, tenantRepo, userRepo, permRepo, datastoreGate, log,
	)

	rateLimiter := ratelimit.NewLimiter(cfg.RateLimitPerMinute, time.Minute)
	auditLogger := audit.NewLogger(log)

	gates := []*accessgate.Gate{datastoreGate, providerGate}

	healthHandler := handler.NewHealthHandler(pool, redisClient, log)
	loginHandler := handler.NewLoginHandler(tokenManager, userRepo, rateLimiter, auditLogger, log)
	bootstrapHandler := handler.NewBootstrapHandler(bootstrapService, log)
	cacheAdminHandler := handler.NewCacheAdminHandler(authService, tieredCache, auditLogger, log)
	eventsHandler := handler.NewEventsHandler(authService, tieredCache, gates, cfg.CORSAllowedOrigins, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler.Health)
	mux.HandleFunc("/readyz", healthHandler.Ready)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("POST /api/login", loginHandler)
	mux.Handle("GET /api/bootstrap", bootstrapHandler)
	mux.HandleFunc("POST /api/invalidate-cache", cacheAdminHandler.Invalidate)
	mux.HandleFunc("POST /api/auth/invalidate", cacheAdminHandler.InvalidateAuth)
	mux.HandleFunc("GET /api/cache-stats", cacheAdminHandler.Stats)
	mux.Handle("GET /ws/events", eventsHandler)

	// Middleware chain: request ID -> CORS -> metrics -> auth -> rate
	// limit -> audit, with the whole stack wrapped for trace propagation.
	var root http.Handler = mux
	root = middleware.Audit(auditLogger)(root)
	root = middleware.RateLimit(rateLimiter, log)(root)
	root = middleware.Auth(authService, log)(root)
	root = metrics.HTTPMetricsMiddleware(root)
	root = middleware.CORS(cfg.CORSAllowedOrigins)(root)
	root = middleware.RequestID(root)
	root = otelhttp.NewHandler(root, "propertyflow")

	sweeper := worker.NewSweeper(authService, tieredCache, gates, cfg.SweepInterval, log)
	go sweeper.Start(ctx)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info("server starting",
		slog.Int("port", cfg.ServerPort),
		slog.Int("rate_limit", cfg.RateLimitPerMinute),
		slog.Bool("redis_l2", l2Backing != nil),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", slog.String("error", err.Error()))
		}
	}()

	<-sigChan
	log.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", slog.String("error", err.Error()))
	}

	cancel()
	rateLimiter.Stop()
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("tracing shutdown error", slog.String("error", err.Error()))
	}
	log.Info("server stopped")
}
