package factory

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/gridfs-storage/internal/config"
	"github.com/prn-tf/gridfs-storage/internal/gridfs"
	"github.com/prn-tf/gridfs-storage/internal/lock"
	"github.com/prn-tf/gridfs-storage/internal/repository"
)

func testConfig(driver string) *config.Config {
	return &config.Config{
		Store: config.StoreConfig{
			Driver:    driver,
			Bucket:    "fs",
			ChunkSize: 4,
		},
		Database: config.DatabaseConfig{
			Path:            ":memory:",
			BusyTimeout:     1000,
			SynchronousMode: "NORMAL",
			AutoMigrate:     true,
		},
		Lock: config.LockConfig{Driver: "memory", TTL: time.Minute},
	}
}

func roundTrip(t *testing.T, store repository.ChunkStore) {
	t.Helper()
	ctx := context.Background()

	bucket, err := gridfs.NewBucket(store, gridfs.BucketConfig{ChunkSize: 4}, zerolog.Nop(), nil)
	require.NoError(t, err)

	_, err = bucket.Put(ctx, gridfs.UploadOptions{ID: "a"}, strings.NewReader("0123456789"))
	require.NoError(t, err)

	d, err := bucket.Open(ctx, "a")
	require.NoError(t, err)
	defer d.Close(ctx)

	data, err := d.Substr(ctx, 3, 5)
	require.NoError(t, err)
	assert.Equal(t, "34567", string(data))
}

func TestOpen_Drivers(t *testing.T) {
	for _, driver := range []string{config.DriverMemory, config.DriverSQLite} {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()

			stack, err := Open(ctx, testConfig(driver), zerolog.Nop())
			require.NoError(t, err)
			defer func() { require.NoError(t, stack.Close(ctx)) }()

			require.NoError(t, stack.Ping(ctx))
			assert.IsType(t, &lock.MemoryLocker{}, stack.Locker)
			roundTrip(t, stack.Store)
		})
	}
}

func TestOpen_Decorators(t *testing.T) {
	ctx := context.Background()

	cfg := testConfig(config.DriverMemory)
	cfg.Store.Encryption.MasterKey = strings.Repeat("ab", 32)
	cfg.Store.Cache = config.CacheConfig{Enabled: true, Driver: "memory", TTL: time.Minute, MaxItems: 10}
	cfg.Lock.Driver = "none"

	stack, err := Open(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	defer stack.Close(ctx)

	cached, ok := stack.Store.(*repository.CachedStore)
	require.True(t, ok)
	_, ok = cached.Unwrap().(*repository.EncryptedStore)
	require.True(t, ok)
	assert.IsType(t, &lock.NoOpLocker{}, stack.Locker)

	roundTrip(t, stack.Store)

	// Chunks reach the backing store encrypted.
	raw := cached.Unwrap().(*repository.EncryptedStore).Unwrap()
	it, err := raw.Find(ctx, "a")
	require.NoError(t, err)
	defer it.Close(ctx)
	require.True(t, it.Next(ctx))
	assert.False(t, bytes.Equal([]byte("0123"), it.Chunk().Data))
}

func TestOpen_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := Open(ctx, testConfig("tape"), zerolog.Nop())
	assert.ErrorContains(t, err, "unknown store driver")

	cfg := testConfig(config.DriverMemory)
	cfg.Store.Encryption.MasterKey = "not-hex"
	_, err = Open(ctx, cfg, zerolog.Nop())
	assert.ErrorContains(t, err, "master key")
}
