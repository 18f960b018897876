package cart

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/migrate"
)

func TestPostgres_MarkAndCheck(t *testing.T) {
	ctx := context.Background()
	pool := testPool(ctx, t)
	defer pool.Close()

	require.NoError(t, migrate.Apply(ctx, pool))
	resetTables(ctx, t, pool)

	repo := NewPostgres(pool)

	ok, err := repo.IsCheckedOut(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.MarkCheckedOut(ctx, "c1", "1001"))
	// redelivered webhooks mark the same cart again
	require.NoError(t, repo.MarkCheckedOut(ctx, "c1", "1001"))

	ok, err = repo.IsCheckedOut(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func testPool(ctx context.Context, t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set")
	}
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	return pool
}

func resetTables(ctx context.Context, t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	_, err := pool.Exec(ctx, `TRUNCATE checked_out_carts, webhook_deliveries, orders, profiles`)
	require.NoError(t, err)
}
