package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/konsultasi-scheduling/internal/app"
	"github.com/hackgods/konsultasi-scheduling/internal/config"
	"github.com/hackgods/konsultasi-scheduling/internal/konsultasi"
	"github.com/hackgods/konsultasi-scheduling/internal/logger"
)

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
	lg = lg.Named("expiry-worker")

	lg.Info("expiry worker starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.WorkerInterval),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := app.Open(rootCtx, cfg, lg)
	if err != nil {
		lg.Fatal("dependency setup failed", zap.Error(err))
	}
	defer rt.Close()

	svc := rt.Service()

	// Run once at startup
	runOnce(rootCtx, lg, svc)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			lg.Info("shutdown signal received, stopping expiry worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, lg, svc)
		}
	}
}

func runOnce(ctx context.Context, lg *zap.Logger, svc *konsultasi.Service) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	expired, err := svc.ExpireStaleRequests(runCtx)
	if err != nil {
		lg.Error("expiry run error", zap.Error(err), zap.Int("expired", expired))
		return
	}
	lg.Info("expiry run complete", zap.Int("expired", expired), zap.Duration("took", time.Since(start)))
}
