package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meridian-hms/meridian-hms/internal/app"
	"github.com/meridian-hms/meridian-hms/internal/audit"
	audithttp "github.com/meridian-hms/meridian-hms/internal/audit/http"
	"github.com/meridian-hms/meridian-hms/internal/observability"
	"github.com/meridian-hms/meridian-hms/internal/platform/cache"
	"github.com/meridian-hms/meridian-hms/internal/platform/db"
	"github.com/meridian-hms/meridian-hms/internal/rbac"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		// Authorization degrades to direct resolution without Redis, so a
		// cache outage at boot is not fatal.
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	catalog := rbac.NewCatalog()
	auditRepo := audit.NewRepository(pool)
	rbacRepo := rbac.NewRepository(pool, auditRepo)

	if err := rbac.SeedSystemRoles(ctx, rbacRepo, catalog, logger); err != nil {
		logger.Error("seed system roles", slog.Any("error", err))
		os.Exit(1)
	}

	resolver := rbac.NewResolver(rbacRepo, catalog)
	permCache := rbac.NewCache(redisClient, resolver, rbacRepo, cfg.PermissionCacheTTL, logger)
	gateway := rbac.NewGateway(permCache, catalog, logger, cfg.AuthorizeTimeout)
	store := rbac.NewStore(rbacRepo, catalog, permCache, logger)

	metrics := observability.NewMetrics()
	rbacMiddleware := rbac.Middleware{Gateway: gateway, Logger: logger, Observer: metrics}

	rbacHandler := rbac.NewHandler(logger, catalog, store, resolver, permCache, gateway, rbacMiddleware)

	auditService := audit.NewService(auditRepo)
	auditHandler := audithttp.NewHandler(logger, auditService, rbacMiddleware)

	router := app.NewRouter(app.RouterParams{
		Logger:       logger,
		Config:       cfg,
		RBACHandler:  rbacHandler,
		AuditHandler: auditHandler,
		Metrics:      metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
