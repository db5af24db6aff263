package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/konsultasi-scheduling/internal/api"
	"github.com/hackgods/konsultasi-scheduling/internal/app"
	"github.com/hackgods/konsultasi-scheduling/internal/auth"
	"github.com/hackgods/konsultasi-scheduling/internal/config"
	"github.com/hackgods/konsultasi-scheduling/internal/konsultasi"
	"github.com/hackgods/konsultasi-scheduling/internal/logger"
	"github.com/hackgods/konsultasi-scheduling/internal/profile"
	"github.com/hackgods/konsultasi-scheduling/internal/telemetry"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	lg, err := logger.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	lg.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("store", cfg.StoreDriver),
		zap.String("timezone", cfg.Timezone),
		zap.Duration("cancellation_window", cfg.CancellationWindow),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := app.Open(rootCtx, cfg, lg)
	if err != nil {
		lg.Fatal("dependency setup failed", zap.Error(err))
	}
	defer rt.Close()

	if err := rt.Migrate(rootCtx); err != nil {
		lg.Fatal("schema migration failed", zap.Error(err))
	}

	metrics := telemetry.NewRegistry()
	svc := rt.Service(konsultasi.WithMetrics(metrics))

	var cache profile.Cache
	if rt.Redis != nil {
		cache = profile.NewRedisCache(rt.Redis)
	}
	profiles := profile.NewClient(cfg.ProfileServiceURL, nil, cache, cfg.ProfileCacheTTL, lg.Named("profile"))

	var verifier auth.Verifier
	if cfg.JWTSecret != "" {
		verifier = auth.NewJWTVerifier(cfg.JWTSecret)
		lg.Info("verifying bearer tokens locally")
	} else {
		verifier = auth.NewRemoteVerifier(cfg.AuthServiceURL, nil)
		lg.Info("verifying bearer tokens remotely", zap.String("auth_service", cfg.AuthServiceURL))
	}

	var broker api.Pinger
	if rt.Publisher != nil {
		broker = rt.Publisher
	}

	router := api.NewRouter(api.RouterConfig{
		Service:            svc,
		Verifier:           verifier,
		Profiles:           profiles,
		Metrics:            metrics,
		MetricsHandler:     metrics.Handler(),
		Logger:             lg.Named("http"),
		PgPool:             rt.Pool,
		Redis:              rt.Redis,
		Broker:             broker,
		Location:           cfg.Location,
		RateLimitPerSecond: cfg.RateLimitPerSecond,
		Env:                cfg.Env,
		Version:            version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		lg.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-rootCtx.Done():
		lg.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			lg.Error("http server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Error("graceful shutdown failed", zap.Error(err))
	}

	lg.Info("api-server stopped")
}
