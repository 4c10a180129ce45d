// Package config reads the process configuration of the aggstore binary
// from AGGSTORE_* environment variables.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

const Prefix = "AGGSTORE_"

type (
	Config struct {
		LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"info"`
		HTTPAddr string     `env:"HTTP_ADDR" envDefault:":9090" validate:"required"`
		// Backend selects the event log: memory, sql or nats.
		Backend string `env:"BACKEND" envDefault:"memory" validate:"oneof=memory sql nats"`

		Store   StoreConfig   `envPrefix:"STORE_"`
		SQL     SQLConfig     `envPrefix:"SQL_"`
		NATS    NATSConfig    `envPrefix:"NATS_"`
		Redis   RedisConfig   `envPrefix:"REDIS_"`
		Command CommandConfig `envPrefix:"COMMAND_"`
		Archive ArchiveConfig `envPrefix:"ARCHIVE_"`
		Demo    DemoConfig    `envPrefix:"DEMO_"`
	}

	StoreConfig struct {
		SnapshotFrequency    int `env:"SNAPSHOT_FREQUENCY" envDefault:"100" validate:"gte=0"`
		CompressionThreshold int `env:"COMPRESSION_THRESHOLD" envDefault:"0" validate:"gte=0"`
		StreamCacheSize      int `env:"STREAM_CACHE_SIZE" envDefault:"1024" validate:"gte=0"`
		AggregateCacheSize   int `env:"AGGREGATE_CACHE_SIZE" envDefault:"1000" validate:"gte=0"`
	}

	SQLConfig struct {
		Driver        string        `env:"DRIVER" envDefault:"sqlite" validate:"oneof=sqlite postgres"`
		DSN           string        `env:"DSN" envDefault:"file:aggstore.db?_busy_timeout=5000"`
		SlowThreshold time.Duration `env:"SLOW_THRESHOLD" envDefault:"200ms"`
	}

	NATSConfig struct {
		URL           string `env:"URL" envDefault:"nats://127.0.0.1:4222"`
		StreamName    string `env:"STREAM_NAME" envDefault:"AGGSTORE_ES"`
		SubjectPrefix string `env:"SUBJECT_PREFIX" envDefault:"aggstore.es"`
		EventsPrefix  string `env:"EVENTS_PREFIX" envDefault:"aggstore.events"`
		SnapshotsKV   string `env:"SNAPSHOTS_BUCKET" envDefault:"aggstore_snapshots"`
		StateKV       string `env:"STATE_BUCKET" envDefault:"aggstore_state"`
		ArchiveKV     string `env:"ARCHIVE_BUCKET" envDefault:"aggstore_archive"`
		// Publish forwards committed events to core NATS subjects.
		Publish bool `env:"PUBLISH" envDefault:"true"`
	}

	// RedisConfig enables the redis idempotency store when Addr is set.
	RedisConfig struct {
		Addr     string `env:"ADDR"`
		Password string `env:"PASSWORD"`
		DB       int    `env:"DB" envDefault:"0"`
	}

	CommandConfig struct {
		Workers        int           `env:"WORKERS" envDefault:"8" validate:"gt=0"`
		IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"10m"`
		ClockSkew      time.Duration `env:"CLOCK_SKEW" envDefault:"5s"`
	}

	ArchiveConfig struct {
		Enabled   bool          `env:"ENABLED" envDefault:"false"`
		Schedule  string        `env:"SCHEDULE" envDefault:"0 3 * * *"`
		Retention time.Duration `env:"RETENTION" envDefault:"720h"`
		BatchSize int           `env:"BATCH_SIZE" envDefault:"500" validate:"gt=0"`
	}

	DemoConfig struct {
		Enabled  bool          `env:"ENABLED" envDefault:"true"`
		Accounts int           `env:"ACCOUNTS" envDefault:"5" validate:"gte=0"`
		Interval time.Duration `env:"INTERVAL" envDefault:"2s" validate:"gt=0"`
	}
)

// Load reads the configuration from the process environment.
func Load() (Config, error) {
	return parse(env.Options{Prefix: Prefix})
}

// LoadFrom reads the configuration from environ instead of the process
// environment. Keys carry the AGGSTORE_ prefix.
func LoadFrom(environ map[string]string) (Config, error) {
	return parse(env.Options{Prefix: Prefix, Environment: environ})
}

func parse(opts env.Options) (Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](opts)
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
