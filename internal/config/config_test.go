package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, "fs", cfg.Store.Bucket)
	assert.Equal(t, 261120, cfg.Store.ChunkSize)
	assert.Equal(t, "memory", cfg.Lock.Driver)
	assert.Equal(t, 24*time.Hour, cfg.GC.GracePeriod)
	assert.False(t, cfg.Store.Encryption.Enabled())
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9100
store:
  driver: memory
  bucket: photos
  chunk_size: 1024
`), 0o600))

	t.Setenv("GRIDFS_STORE_BUCKET", "videos")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, "videos", cfg.Store.Bucket)
	assert.Equal(t, 1024, cfg.Store.ChunkSize)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:   ServerConfig{Port: 8080},
			Store:    StoreConfig{Driver: DriverMemory, Bucket: "fs", ChunkSize: 261120},
			Database: DatabaseConfig{Host: "localhost", User: "u", Database: "d", Path: "x.db"},
			Mongo:    MongoConfig{URI: "mongodb://localhost", Database: "gridfs"},
			Lock:     LockConfig{Driver: "memory"},
			Logging:  LoggingConfig{Level: "info"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: true},
		{name: "unknown driver", mutate: func(c *Config) { c.Store.Driver = "ftp" }, wantErr: true},
		{name: "zero chunk size", mutate: func(c *Config) { c.Store.ChunkSize = 0 }, wantErr: true},
		{name: "oversized chunk size", mutate: func(c *Config) { c.Store.ChunkSize = 16 * 1024 * 1024 }, wantErr: true},
		{name: "empty bucket", mutate: func(c *Config) { c.Store.Bucket = "" }, wantErr: true},
		{name: "bucket with slash", mutate: func(c *Config) { c.Store.Bucket = "a/b" }, wantErr: true},
		{name: "s3 without bucket", mutate: func(c *Config) { c.Store.Driver = DriverS3 }, wantErr: true},
		{name: "sqlite ok", mutate: func(c *Config) { c.Store.Driver = DriverSQLite }},
		{name: "short master key", mutate: func(c *Config) { c.Store.Encryption.MasterKey = "abcd" }, wantErr: true},
		{name: "redis lock without redis", mutate: func(c *Config) { c.Lock.Driver = "redis" }, wantErr: true},
		{name: "redis lock with redis", mutate: func(c *Config) { c.Lock.Driver = "redis"; c.Redis.Enabled = true }},
		{name: "redis cache without redis", mutate: func(c *Config) {
			c.Store.Cache = CacheConfig{Enabled: true, Driver: "redis"}
		}, wantErr: true},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("GRIDFS_TEST_DOTENV=loaded\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("GRIDFS_TEST_DOTENV") })

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "loaded", os.Getenv("GRIDFS_TEST_DOTENV"))
}
