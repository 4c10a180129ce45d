package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{})
	require.NoError(t, err)

	require.Equal(t, slog.LevelInfo, cfg.LogLevel)
	require.Equal(t, "memory", cfg.Backend)
	require.Equal(t, ":9090", cfg.HTTPAddr)
	require.Equal(t, 100, cfg.Store.SnapshotFrequency)
	require.Equal(t, 8, cfg.Command.Workers)
	require.Equal(t, 10*time.Minute, cfg.Command.IdempotencyTTL)
	require.Equal(t, "0 3 * * *", cfg.Archive.Schedule)
	require.Equal(t, 30*24*time.Hour, cfg.Archive.Retention)
	require.Empty(t, cfg.Redis.Addr)
	require.True(t, cfg.Demo.Enabled)
}

func TestLoadFrom_Overrides(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"AGGSTORE_LOG_LEVEL":                   "debug",
		"AGGSTORE_BACKEND":                     "sql",
		"AGGSTORE_SQL_DRIVER":                  "postgres",
		"AGGSTORE_SQL_DSN":                     "postgres://localhost/aggstore",
		"AGGSTORE_STORE_COMPRESSION_THRESHOLD": "50",
		"AGGSTORE_REDIS_ADDR":                  "localhost:6379",
		"AGGSTORE_ARCHIVE_ENABLED":             "true",
		"AGGSTORE_ARCHIVE_RETENTION":           "24h",
		"AGGSTORE_COMMAND_WORKERS":             "2",
	})
	require.NoError(t, err)

	require.Equal(t, slog.LevelDebug, cfg.LogLevel)
	require.Equal(t, "sql", cfg.Backend)
	require.Equal(t, "postgres", cfg.SQL.Driver)
	require.Equal(t, "postgres://localhost/aggstore", cfg.SQL.DSN)
	require.Equal(t, 50, cfg.Store.CompressionThreshold)
	require.Equal(t, "localhost:6379", cfg.Redis.Addr)
	require.True(t, cfg.Archive.Enabled)
	require.Equal(t, 24*time.Hour, cfg.Archive.Retention)
	require.Equal(t, 2, cfg.Command.Workers)
}

func TestLoadFrom_Invalid(t *testing.T) {
	for name, environ := range map[string]map[string]string{
		"backend":  {"AGGSTORE_BACKEND": "mongo"},
		"driver":   {"AGGSTORE_SQL_DRIVER": "mysql"},
		"workers":  {"AGGSTORE_COMMAND_WORKERS": "0"},
		"duration": {"AGGSTORE_ARCHIVE_RETENTION": "forever"},
		"level":    {"AGGSTORE_LOG_LEVEL": "loud"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFrom(environ)
			require.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("AGGSTORE_BACKEND", "nats")
	t.Setenv("AGGSTORE_NATS_URL", "nats://nats:4222")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "nats", cfg.Backend)
	require.Equal(t, "nats://nats:4222", cfg.NATS.URL)
	require.Equal(t, "aggstore_archive", cfg.NATS.ArchiveKV)
}
