// Package config provides configuration management for the GridFS storage server.
// Configuration can be loaded from YAML files and environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/prn-tf/gridfs-storage/internal/domain"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverS3       = "s3"
)

// Config represents the complete application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Store    StoreConfig    `mapstructure:"store"`
	Database DatabaseConfig `mapstructure:"database"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
	S3       S3Config       `mapstructure:"s3"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Lock     LockConfig     `mapstructure:"lock"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	GC       GCConfig       `mapstructure:"gc"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodySize     int64         `mapstructure:"max_body_size"`
}

// Addr returns the listen address in host:port format.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StoreConfig selects and tunes the chunk store.
type StoreConfig struct {
	// Driver is one of: memory, mongo, postgres, sqlite, s3.
	Driver string `mapstructure:"driver"`

	// Bucket is the collection prefix ("<bucket>.files", "<bucket>.chunks").
	Bucket string `mapstructure:"bucket"`

	// ChunkSize is the default chunk size for new uploads.
	ChunkSize int `mapstructure:"chunk_size"`

	Cache      CacheConfig      `mapstructure:"cache"`
	Encryption EncryptionConfig `mapstructure:"encryption"`
}

// CacheConfig holds file document cache settings.
type CacheConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Driver is "memory" or "redis".
	Driver   string        `mapstructure:"driver"`
	TTL      time.Duration `mapstructure:"ttl"`
	MaxItems int           `mapstructure:"max_items"`
}

// EncryptionConfig holds chunk encryption settings.
type EncryptionConfig struct {
	// MasterKey is the hex-encoded 32-byte master key.
	// Used with HKDF to derive per-file encryption keys. Empty disables encryption.
	MasterKey string `mapstructure:"master_key"`
}

// Enabled returns true if chunk encryption is configured.
func (c EncryptionConfig) Enabled() bool {
	return c.MasterKey != ""
}

// DatabaseConfig holds SQL database connection settings.
// Supports both PostgreSQL and SQLite backends.
type DatabaseConfig struct {
	// PostgreSQL settings (used when the store driver is "postgres")
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`

	// SQLite settings (used when the store driver is "sqlite")
	Path            string `mapstructure:"path"`             // Path to SQLite database file
	JournalMode     string `mapstructure:"journal_mode"`     // WAL, DELETE, TRUNCATE, etc.
	BusyTimeout     int    `mapstructure:"busy_timeout"`     // Milliseconds to wait for locks
	SynchronousMode string `mapstructure:"synchronous_mode"` // NORMAL, FULL, OFF

	// AutoMigrate applies pending migrations when the store is opened.
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// MongoConfig holds MongoDB connection settings.
type MongoConfig struct {
	URI            string        `mapstructure:"uri"`
	Database       string        `mapstructure:"database"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// S3Config holds S3 backend settings.
type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"pool_size"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Enabled     bool          `mapstructure:"enabled"`
}

// Addr returns the Redis address in host:port format.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LockConfig holds write lock settings.
type LockConfig struct {
	// Driver is "memory", "redis" or "none".
	Driver string `mapstructure:"driver"`

	// TTL bounds how long a crashed writer can hold a file lock.
	TTL time.Duration `mapstructure:"ttl"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	// Enabled determines if metrics collection is active.
	Enabled bool `mapstructure:"enabled"`

	// Path is the URL path for the metrics endpoint.
	Path string `mapstructure:"path"`
}

// GCConfig holds orphan chunk collection settings.
type GCConfig struct {
	// Enabled determines if automatic garbage collection runs.
	Enabled bool `mapstructure:"enabled"`

	// Interval is how often to run garbage collection.
	Interval time.Duration `mapstructure:"interval"`

	// GracePeriod is how old orphan chunks must be before deletion.
	GracePeriod time.Duration `mapstructure:"grace_period"`

	// BatchSize is the maximum number of files to process per run.
	BatchSize int `mapstructure:"batch_size"`

	// DryRun logs what would be deleted without actually deleting.
	DryRun bool `mapstructure:"dry_run"`
}

// Load reads configuration from the specified file and environment variables.
// Environment variables take precedence over file values.
// Environment variables are prefixed with GRIDFS_ and use _ as separator.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("GRIDFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/gridfs")
	}

	// Config file is optional; defaults and env vars are enough.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.max_body_size", 5*1024*1024*1024) // 5GB

	// Store defaults
	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.bucket", "fs")
	v.SetDefault("store.chunk_size", 261120)
	v.SetDefault("store.cache.enabled", false)
	v.SetDefault("store.cache.driver", "memory")
	v.SetDefault("store.cache.ttl", 5*time.Minute)
	v.SetDefault("store.cache.max_items", 10000)
	v.SetDefault("store.encryption.master_key", "")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "gridfs")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "gridfs")
	v.SetDefault("database.ssl_mode", "prefer")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.conn_max_idle_time", 5*time.Minute)
	v.SetDefault("database.path", "./data/gridfs.db")
	v.SetDefault("database.journal_mode", "WAL")
	v.SetDefault("database.busy_timeout", 5000)
	v.SetDefault("database.synchronous_mode", "NORMAL")
	v.SetDefault("database.auto_migrate", true)

	// Mongo defaults
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "gridfs")
	v.SetDefault("mongo.connect_timeout", 10*time.Second)

	// S3 defaults
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.prefix", "")
	v.SetDefault("s3.use_path_style", true)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.enabled", false)

	// Lock defaults
	v.SetDefault("lock.driver", "memory")
	v.SetDefault("lock.ttl", 15*time.Minute)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Garbage collection defaults
	v.SetDefault("gc.enabled", true)
	v.SetDefault("gc.interval", 1*time.Hour)
	v.SetDefault("gc.grace_period", 24*time.Hour)
	v.SetDefault("gc.batch_size", 1000)
	v.SetDefault("gc.dry_run", false)
}

// Validate checks the configuration for required values and valid ranges.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	validDrivers := map[string]bool{
		DriverMemory: true, DriverMongo: true, DriverPostgres: true, DriverSQLite: true, DriverS3: true,
	}
	if !validDrivers[c.Store.Driver] {
		return fmt.Errorf("store.driver must be one of: memory, mongo, postgres, sqlite, s3")
	}
	if err := domain.ValidateBucketName(c.Store.Bucket); err != nil {
		return fmt.Errorf("store.bucket: %w", err)
	}
	if err := domain.ValidateChunkSize(c.Store.ChunkSize); err != nil {
		return fmt.Errorf("store.chunk_size: %w", err)
	}

	switch c.Store.Driver {
	case DriverPostgres:
		if c.Database.Host == "" {
			return fmt.Errorf("database.host is required for postgres driver")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database.user is required for postgres driver")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database.database is required for postgres driver")
		}
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite driver")
		}
	case DriverMongo:
		if c.Mongo.URI == "" || c.Mongo.Database == "" {
			return fmt.Errorf("mongo.uri and mongo.database are required for mongo driver")
		}
	case DriverS3:
		if c.S3.Bucket == "" {
			return fmt.Errorf("s3.bucket is required for s3 driver")
		}
	}

	if c.Store.Encryption.MasterKey != "" && len(c.Store.Encryption.MasterKey) != 64 {
		return fmt.Errorf("store.encryption.master_key must be 64 hex characters")
	}

	if c.Store.Cache.Enabled {
		if c.Store.Cache.Driver != "memory" && c.Store.Cache.Driver != "redis" {
			return fmt.Errorf("store.cache.driver must be 'memory' or 'redis'")
		}
		if c.Store.Cache.Driver == "redis" && !c.Redis.Enabled {
			return fmt.Errorf("store.cache.driver 'redis' requires redis.enabled")
		}
	}

	switch c.Lock.Driver {
	case "memory", "none":
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("lock.driver 'redis' requires redis.enabled")
		}
	default:
		return fmt.Errorf("lock.driver must be one of: memory, redis, none")
	}

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error, fatal, panic")
	}

	return nil
}
