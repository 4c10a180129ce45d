package gorm

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/wait"
	gormio "gorm.io/gorm"

	"github.com/codewandler/aggstore/internal/testcontainer"
)

// NewTestDB opens a migrated in-memory sqlite database private to t.
func NewTestDB(t testing.TB) *gormio.DB {
	t.Helper()
	db, err := Open(Config{
		Driver: "sqlite",
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// sqlite allows a single writer
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

// NewPostgresTestDB starts a Postgres container and opens a migrated
// database on it. Skipped in short mode.
func NewPostgresTestDB(t testing.TB, short bool) *gormio.DB {
	t.Helper()
	endpoint := testcontainer.Endpoint(t, short, testcontainer.Server{
		Image: "postgres:16-alpine",
		Port:  "5432/tcp",
		Env: map[string]string{
			"POSTGRES_USER":     "aggstore",
			"POSTGRES_PASSWORD": "aggstore",
			"POSTGRES_DB":       "aggstore",
		},
		Ready: []wait.Strategy{
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
	})

	db, err := Open(Config{
		Driver: "postgres",
		DSN:    fmt.Sprintf("postgres://aggstore:aggstore@%s/aggstore?sslmode=disable", endpoint),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}
