package testhelpers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"

	"chatcore/pkg/db"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"
)

var uniqueCounter int64

func nextSuffix() int64 {
	return atomic.AddInt64(&uniqueCounter, 1)
}

// NewTestPool connects to a real Postgres instance for integration tests and
// applies the schema. Skips if DATABASE_URL_FOR_TEST is not set to keep CI
// deterministic.
func NewTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if err := godotenv.Load(); err != nil {
		t.Log("No .env file found, using environment variables")
	}
	dsn := os.Getenv("DATABASE_URL_FOR_TEST")
	if dsn == "" {
		t.Skip("DATABASE_URL_FOR_TEST not set; skipping integration tests")
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	require.NoError(t, err)
	cfg.MaxConns = 4

	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	require.NoError(t, db.ApplySchema(ctx, pool, schemaPath()))
	return pool
}

func schemaPath() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "db", "schema.sql")
}

// UniqueUsername returns a username no other test in this run will use.
func UniqueUsername(prefix string) string {
	return fmt.Sprintf("%s-%d-%d", prefix, os.Getpid(), nextSuffix())
}

// CreateTestUser inserts a minimal user row and returns its username.
func CreateTestUser(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	username := UniqueUsername("test-user")
	email := fmt.Sprintf("%s@example.com", username)

	_, err := pool.Exec(context.Background(),
		"INSERT INTO users (username, display_name, email) VALUES ($1, $2, $3)",
		username, "Test "+username, email)
	require.NoError(t, err)
	return username
}
