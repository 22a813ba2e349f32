package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	badgerdb "github.com/dgraph-io/badger/v4"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"template-studio/internal/config"
	"template-studio/internal/infra/adapter/persistence/badger"
	"template-studio/internal/infra/adapter/persistence/memory"
	"template-studio/internal/infra/adapter/persistence/postgres"
	"template-studio/internal/infra/adapter/persistence/redis"
	"template-studio/internal/infra/db"
	"template-studio/internal/infra/worker"
	"template-studio/internal/repository"
	"template-studio/internal/resilience/circuitbreaker"
	"template-studio/internal/usecase/integrity"
	"template-studio/internal/usecase/recovery"
)

const (
	primaryNamespace   = "backup"
	alternateNamespace = "backup-alt"
)

// stores holds the opened backup stores, each behind its own breaker.
type stores struct {
	primary   *circuitbreaker.BackupRepository
	alternate *circuitbreaker.BackupRepository

	closers []func() error

	// shared handles, opened at most once
	badgerDB *badgerdb.DB
	redisDB  *goredis.Client
}

// Targets returns the stores the janitor prunes.
func (s *stores) Targets() []worker.Target {
	targets := []worker.Target{{Name: s.primary.Breaker().Name(), Repo: s.primary}}
	if s.alternate != nil {
		targets = append(targets, worker.Target{Name: s.alternate.Breaker().Name(), Repo: s.alternate})
	}
	return targets
}

// Breakers returns the breaker of every store.
func (s *stores) Breakers() []*circuitbreaker.CircuitBreaker {
	out := []*circuitbreaker.CircuitBreaker{s.primary.Breaker()}
	if s.alternate != nil {
		out = append(out, s.alternate.Breaker())
	}
	return out
}

// Close releases every handle in reverse opening order.
func (s *stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// openStores opens the primary store and, if configured, the alternate one.
func openStores(ctx context.Context, cfg *config.ResilienceConfig, logger *slog.Logger) (*stores, error) {
	s := &stores{}

	primary, err := s.open(ctx, cfg, cfg.Store.Kind, primaryNamespace, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.primary = guard(cfg, cfg.Store.Kind, primary, logger)

	if cfg.Store.Alternate != "" && cfg.Store.Alternate != config.StoreNone {
		alt, err := s.open(ctx, cfg, cfg.Store.Alternate, alternateNamespace, logger)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.alternate = guard(cfg, cfg.Store.Alternate, alt, logger)
	}

	logger.Debug("backup stores opened",
		slog.String("primary", cfg.Store.Kind),
		slog.String("alternate", cfg.Store.Alternate))
	return s, nil
}

func guard(cfg *config.ResilienceConfig, kind string, repo repository.BackupRepository, logger *slog.Logger) *circuitbreaker.BackupRepository {
	cb := circuitbreaker.New(cfg.Breaker.For("backup-store:"+kind), circuitbreaker.WithLogger(logger))
	return circuitbreaker.NewBackupRepositoryWithBreaker(repo, cb)
}

func (s *stores) open(ctx context.Context, cfg *config.ResilienceConfig, kind, namespace string, logger *slog.Logger) (repository.BackupRepository, error) {
	switch kind {
	case config.StoreMemory:
		return memory.NewBackupRepo(), nil

	case config.StoreBadger:
		if s.badgerDB == nil {
			bcfg := badger.DefaultConfig(cfg.Store.BadgerPath)
			bcfg.Logger = logger
			bdb, err := badger.Open(bcfg)
			if err != nil {
				return nil, err
			}
			s.badgerDB = bdb
			s.closers = append(s.closers, bdb.Close)
		}
		return badger.NewBackupRepo(s.badgerDB, namespace), nil

	case config.StorePostgres:
		sqlDB, err := db.Open(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, sqlDB.Close)
		if err := db.MigrateUp(sqlDB); err != nil {
			return nil, fmt.Errorf("migrate backup schema: %w", err)
		}
		return postgres.NewBackupRepo(sqlDB), nil

	case config.StoreRedis:
		if s.redisDB == nil {
			rdb, err := redis.NewClient(ctx, redis.Config{URL: cfg.Store.RedisURL})
			if err != nil {
				return nil, err
			}
			s.redisDB = rdb
			s.closers = append(s.closers, rdb.Close)
		}
		return redis.NewBackupRepo(s.redisDB, namespace, 0), nil

	default:
		return nil, fmt.Errorf("unknown backup store %q", kind)
	}
}

// newCoordinator builds the recovery coordinator over s.
func newCoordinator(cfg *config.ResilienceConfig, s *stores, logger *slog.Logger) *recovery.Coordinator {
	opts := []recovery.Option{
		recovery.WithMaxRecoveryAttempts(cfg.Recovery.MaxAttempts),
		recovery.WithMaxConcurrentRecoveries(cfg.Recovery.MaxConcurrent),
		recovery.WithMaxQueueDepth(cfg.Recovery.QueueDepth),
		recovery.WithWriteLimiter(rate.NewLimiter(rate.Limit(cfg.Recovery.WriteRate), cfg.Recovery.WriteBurst)),
		recovery.WithLogger(logger),
	}
	if s.alternate != nil {
		opts = append(opts, recovery.WithAlternateStore(s.alternate))
	}
	return recovery.New(s.primary, integrity.NewChecker(integrity.WithLogger(logger)), opts...)
}
