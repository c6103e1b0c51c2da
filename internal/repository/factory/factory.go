// Package factory builds the chunk store stack selected by configuration:
// the backend, its optional encryption and document cache, and the write locker.
package factory

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	memcache "github.com/prn-tf/gridfs-storage/internal/cache/memory"
	rediscache "github.com/prn-tf/gridfs-storage/internal/cache/redis"
	"github.com/prn-tf/gridfs-storage/internal/config"
	"github.com/prn-tf/gridfs-storage/internal/lock"
	"github.com/prn-tf/gridfs-storage/internal/pkg/crypto"
	"github.com/prn-tf/gridfs-storage/internal/repository"
	"github.com/prn-tf/gridfs-storage/internal/repository/memory"
	mongostore "github.com/prn-tf/gridfs-storage/internal/repository/mongo"
	"github.com/prn-tf/gridfs-storage/internal/repository/postgres"
	"github.com/prn-tf/gridfs-storage/internal/repository/sqlite"
	"github.com/prn-tf/gridfs-storage/internal/storage"
)

// Stack is an opened chunk store with everything it depends on.
type Stack struct {
	// Store is the fully decorated chunk store.
	Store repository.ChunkStore

	// Locker serializes writes to a single file id.
	Locker lock.Locker

	redis   *goredis.Client
	closers []func(ctx context.Context) error
}

// Open connects the store selected by cfg.Store.Driver.
// On failure everything opened so far is closed again.
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (_ *Stack, err error) {
	s := &Stack{}
	defer func() {
		if err != nil {
			_ = s.Close(context.WithoutCancel(ctx))
		}
	}()

	if cfg.Redis.Enabled {
		s.redis = rediscache.NewClient(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB)
		s.closers = append(s.closers, func(context.Context) error { return s.redis.Close() })
		if err := s.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
	}

	store, err := s.openBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	if cfg.Store.Encryption.Enabled() {
		key, err := crypto.ParseHexKey(cfg.Store.Encryption.MasterKey)
		if err != nil {
			return nil, fmt.Errorf("invalid encryption master key: %w", err)
		}
		store, err = repository.NewEncryptedStore(store, key, cfg.Store.Bucket)
		if err != nil {
			return nil, err
		}
	}

	if cfg.Store.Cache.Enabled {
		var cache repository.Cache
		switch cfg.Store.Cache.Driver {
		case "redis":
			cache = rediscache.NewCache(s.redis, "gridfs:")
		default:
			c := memcache.NewCache(cfg.Store.Cache.MaxItems, time.Minute)
			s.closers = append(s.closers, func(context.Context) error { c.Stop(); return nil })
			cache = c
		}
		store = repository.NewCachedStore(store, cache, cfg.Store.Bucket, cfg.Store.Cache.TTL, logger)
	}

	s.Store = store
	s.Locker = s.newLocker(cfg)

	logger.Info().
		Str("driver", cfg.Store.Driver).
		Str("bucket", cfg.Store.Bucket).
		Bool("encrypted", cfg.Store.Encryption.Enabled()).
		Bool("cached", cfg.Store.Cache.Enabled).
		Str("lock", cfg.Lock.Driver).
		Msg("chunk store opened")

	return s, nil
}

func (s *Stack) openBackend(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (repository.ChunkStore, error) {
	bucket := cfg.Store.Bucket

	switch cfg.Store.Driver {
	case config.DriverMemory:
		return memory.NewStore(), nil

	case config.DriverSQLite:
		sqlCfg := sqlite.DefaultConfig(cfg.Database.Path)
		if cfg.Database.Path != ":memory:" {
			sqlCfg.JournalMode = cfg.Database.JournalMode
		}
		sqlCfg.BusyTimeout = cfg.Database.BusyTimeout
		sqlCfg.SynchronousMode = cfg.Database.SynchronousMode

		db, err := sqlite.NewDB(ctx, sqlCfg, logger)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func(context.Context) error { return db.Close() })

		if cfg.Database.AutoMigrate {
			if err := db.Migrate(ctx); err != nil {
				return nil, err
			}
		}
		return sqlite.NewChunkStore(db, bucket, logger), nil

	case config.DriverPostgres:
		db, err := postgres.NewDB(ctx, cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func(context.Context) error { return db.Close() })

		if cfg.Database.AutoMigrate {
			if err := db.Migrate(ctx); err != nil {
				return nil, err
			}
		}
		return postgres.NewChunkStore(db, bucket, logger), nil

	case config.DriverMongo:
		client, err := mongostore.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.ConnectTimeout, logger)
		if err != nil {
			return nil, err
		}
		store, err := mongostore.NewChunkStore(ctx, client.Database(cfg.Mongo.Database), bucket, logger)
		if err != nil {
			_ = client.Disconnect(ctx)
			return nil, err
		}
		return store, nil

	case config.DriverS3:
		client, err := storage.NewClient(ctx, storage.ClientOptions{
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			UsePathStyle:    cfg.S3.UsePathStyle,
		})
		if err != nil {
			return nil, err
		}
		return storage.NewS3ChunkStore(storage.S3Options{
			Client:     client,
			Bucket:     cfg.S3.Bucket,
			FileBucket: bucket,
			Prefix:     cfg.S3.Prefix,
		}, logger), nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func (s *Stack) newLocker(cfg *config.Config) lock.Locker {
	switch cfg.Lock.Driver {
	case "redis":
		return lock.NewRedisLocker(s.redis)
	case "none":
		return lock.NewNoOpLocker()
	default:
		return lock.NewMemoryLocker()
	}
}

// Ping checks the backing service of the store, when it has one.
func (s *Stack) Ping(ctx context.Context) error {
	if p, ok := repository.AsPinger(s.Store); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("store: %w", err)
		}
	}
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Close releases every connection in reverse order of opening.
func (s *Stack) Close(ctx context.Context) error {
	var errs []error
	if s.Store != nil {
		if c, ok := repository.AsCloser(s.Store); ok {
			errs = append(errs, c.Close(ctx))
		}
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i](ctx))
	}
	s.closers = nil
	return errors.Join(errs...)
}
