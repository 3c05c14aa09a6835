package server

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/hostauth/internal/logging"
	"github.com/dmitrijs2005/hostauth/internal/server/config"
	"github.com/dmitrijs2005/hostauth/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/hostauth/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/hostauth/internal/server/repositories/users"
	"github.com/go-redis/redis/v8"
)

// backend is the storage selected by config.
type backend struct {
	users  users.Repository
	tokens refreshtokens.Repository
	checks []func(context.Context) error
	closer []func() error
}

func (b *backend) health(ctx context.Context) error {
	for _, check := range b.checks {
		if err := check(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (b *backend) close() error {
	var first error
	for i := len(b.closer) - 1; i >= 0; i-- {
		if err := b.closer[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// openPostgres connects through pgx, runs the embedded migrations and
// returns the repositories bound to the pool.
var openPostgres = func(ctx context.Context, dsn string, refreshTTL time.Duration) (*sql.DB, repomanager.RepositoryManager, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("db init error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("db ping error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager(refreshTTL)
	if err := rm.RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrations error: %w", err)
	}
	return db, rm, nil
}

func newRedisClient(cfg *config.Config) redis.UniversalClient {
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.RedisAddr},
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

func openBackend(ctx context.Context, cfg *config.Config, log logging.Logger) (*backend, error) {
	b := &backend{}

	switch cfg.Storage {
	case config.StorageMemory:
		b.users = users.NewMemoryRepository()
		b.tokens = refreshtokens.NewMemoryRepository(cfg.RefreshTokenTTL)
		log.Warn(ctx, "using in-memory storage, sessions are lost on restart")

	case config.StoragePostgres:
		db, rm, err := openPostgres(ctx, cfg.DatabaseDSN, cfg.RefreshTokenTTL)
		if err != nil {
			return nil, err
		}
		b.users = rm.Users(db)
		b.tokens = rm.RefreshTokens(db)
		b.checks = append(b.checks, db.PingContext)
		b.closer = append(b.closer, db.Close)

	case config.StorageRedis:
		rdb := newRedisClient(cfg)
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("redis ping error: %w", err)
		}
		b.tokens = refreshtokens.NewRedisRepository(rdb, cfg.RefreshTokenTTL, cfg.RefreshRetention)
		b.checks = append(b.checks, func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
		b.closer = append(b.closer, rdb.Close)

		if cfg.DatabaseDSN == "" {
			b.users = users.NewMemoryRepository()
			log.Warn(ctx, "no database dsn, accounts are kept in memory")
			break
		}
		db, rm, err := openPostgres(ctx, cfg.DatabaseDSN, cfg.RefreshTokenTTL)
		if err != nil {
			b.close()
			return nil, err
		}
		b.users = rm.Users(db)
		b.checks = append(b.checks, db.PingContext)
		b.closer = append(b.closer, db.Close)

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage)
	}

	log.Info(ctx, "storage ready", "backend", cfg.Storage)
	return b, nil
}
