// Package app wires configuration into the store, locker and publisher shared
// by the binaries under cmd/.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/konsultasi-scheduling/internal/config"
	"github.com/hackgods/konsultasi-scheduling/internal/db"
	"github.com/hackgods/konsultasi-scheduling/internal/konsultasi"
	"github.com/hackgods/konsultasi-scheduling/internal/messaging"
	redisclient "github.com/hackgods/konsultasi-scheduling/internal/redis"
)

type Runtime struct {
	Config    config.Config
	Log       *zap.Logger
	Repo      konsultasi.Repository
	Locker    konsultasi.Locker
	Pool      *pgxpool.Pool        // nil with the memory store
	Redis     *redis.Client        // nil with in-process locking
	Publisher *messaging.Publisher // nil when AMQP_URL is empty

	closers []func()
}

// Open connects every configured dependency. On error whatever was already
// opened is closed again.
func Open(ctx context.Context, cfg config.Config, log *zap.Logger) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Log: log}
	if err := rt.open(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) open(ctx context.Context) error {
	cfg, log := rt.Config, rt.Log

	switch cfg.StoreDriver {
	case config.StoreMemory:
		rt.Repo = konsultasi.NewMemoryRepository()
		log.Warn("using in-memory store, data is lost on restart")
	default:
		pgCtx, cancelPg := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{
			MaxConns:  int32(cfg.PgMaxConns),
			Logger:    log,
			SlowQuery: cfg.PgSlowQuery,
		})
		cancelPg()
		if err != nil {
			return fmt.Errorf("postgres connection: %w", err)
		}
		rt.Pool = pool
		rt.closers = append(rt.closers, pool.Close)
		rt.Repo = konsultasi.NewPgRepository(pool)
		log.Info("connected to Postgres")
	}

	if cfg.RedisAddr == "" {
		rt.Locker = konsultasi.NewLocalLocker()
		log.Warn("REDIS_ADDR not set, locking is process-local")
	} else {
		rdb, err := redisclient.NewRedisClient(ctx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			return fmt.Errorf("redis connection: %w", err)
		}
		rt.Redis = rdb
		rt.closers = append(rt.closers, func() {
			if err := rdb.Close(); err != nil {
				log.Warn("error closing redis", zap.Error(err))
			}
		})
		rt.Locker = redisclient.NewLocker(rdb, cfg.LockTTL,
			redisclient.WithWait(cfg.LockWait),
			redisclient.WithLockLogger(log.Named("lock")),
		)
		log.Info("connected to Redis", zap.String("addr", cfg.RedisAddr))
	}

	if cfg.AMQPURL != "" {
		pub, err := messaging.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return fmt.Errorf("amqp connection: %w", err)
		}
		rt.Publisher = pub
		rt.closers = append(rt.closers, func() {
			if err := pub.Close(); err != nil {
				log.Warn("error closing amqp publisher", zap.Error(err))
			}
		})
		log.Info("publishing transition events", zap.String("exchange", cfg.AMQPExchange))
	}

	return nil
}

// Migrate applies pending schema migrations. It is a no-op for the memory store.
func (rt *Runtime) Migrate(ctx context.Context) error {
	if rt.Pool == nil {
		return nil
	}
	applied, err := db.NewMigrator(rt.Pool).Up(ctx)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	rt.Log.Info("migrations applied", zap.Int("count", applied))
	return nil
}

// Service builds the konsultasi service over the runtime's dependencies.
func (rt *Runtime) Service(opts ...konsultasi.Option) *konsultasi.Service {
	base := []konsultasi.Option{konsultasi.WithLogger(rt.Log)}
	if rt.Publisher != nil {
		base = append(base, konsultasi.WithPublisher(rt.Publisher))
	}
	return konsultasi.NewService(rt.Repo, rt.Locker, rt.Config, append(base, opts...)...)
}

// Close releases dependencies in reverse order of opening.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
