// Package pgtest opens a migrated Postgres pool for integration tests.
// Tests are skipped when PG_CONN_URL is not set.
package pgtest

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/checkout/migrations"
	"github.com/dmitrymomot/checkout/pkg/pg"
)

// Pool connects to PG_CONN_URL and applies migrations. Tables are shared
// between packages, so tests must use unique ids. The pool is closed when
// the test ends.
func Pool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	url := os.Getenv("PG_CONN_URL")
	if url == "" {
		t.Skip("PG_CONN_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg := pg.Config{
		ConnectionString:  url,
		MaxOpenConns:      10,
		MaxIdleConns:      2,
		HealthCheckPeriod: time.Minute,
		MaxConnIdleTime:   time.Minute,
		MaxConnLifetime:   time.Minute,
		RetryAttempts:     1,
		RetryInterval:     time.Second,
		MigrationsTable:   "checkout_schema_migrations",
	}
	pool, err := pg.Connect(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, pg.Migrate(ctx, pool, migrations.FS, cfg, slog.New(slog.DiscardHandler)))
	return pool
}
