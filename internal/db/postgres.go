package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PoolOptions tunes the pool beyond what the DSN carries.
type PoolOptions struct {
	MaxConns  int32
	Logger    *zap.Logger
	SlowQuery time.Duration // queries slower than this are logged at warn, 0 disables
}

// ConnectPostgres opens a pool and pings it so a bad DSN fails at startup.
func ConnectPostgres(ctx context.Context, dsn string, opts PoolOptions) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	cfg.MinConns = 1
	cfg.HealthCheckPeriod = 30 * time.Second
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 15 * time.Minute
	if opts.Logger != nil && opts.SlowQuery > 0 {
		cfg.ConnConfig.Tracer = &slowQueryTracer{log: opts.Logger.Named("pg"), threshold: opts.SlowQuery}
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return pool, nil
}

type queryStartKey struct{}

type queryStart struct {
	sql string
	at  time.Time
}

// slowQueryTracer logs failed queries and queries over the threshold.
type slowQueryTracer struct {
	log       *zap.Logger
	threshold time.Duration
}

func (t *slowQueryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryStartKey{}, queryStart{sql: data.SQL, at: time.Now()})
}

func (t *slowQueryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	start, ok := ctx.Value(queryStartKey{}).(queryStart)
	if !ok {
		return
	}
	elapsed := time.Since(start.at)
	switch {
	case data.Err != nil && !errors.Is(data.Err, pgx.ErrNoRows):
		t.log.Warn("query failed", zap.String("sql", start.sql), zap.Duration("elapsed", elapsed), zap.Error(data.Err))
	case elapsed >= t.threshold:
		t.log.Warn("slow query", zap.String("sql", start.sql), zap.Duration("elapsed", elapsed), zap.String("tag", data.CommandTag.String()))
	}
}
