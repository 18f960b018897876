package profile

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/domain"
	"storefront/internal/migrate"
)

func TestPostgres_UpsertAndGet(t *testing.T) {
	ctx := context.Background()
	pool := testPool(ctx, t)
	defer pool.Close()

	require.NoError(t, migrate.Apply(ctx, pool))
	_, err := pool.Exec(ctx, `TRUNCATE profiles`)
	require.NoError(t, err)

	repo := NewPostgres(pool, nil)

	_, err = repo.Get(ctx, "cust-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	saved, err := repo.Upsert(ctx, domain.Profile{CustomerID: "cust-1", Gender: "female", BirthDate: "1990-04-01", City: "Kyoto"})
	require.NoError(t, err)
	assert.Equal(t, "1990-04-01", saved.BirthDate)
	assert.False(t, saved.UpdatedAt.IsZero())

	_, err = repo.Upsert(ctx, domain.Profile{CustomerID: "cust-1", City: "Osaka", Phone: "+81-90-0000-0000"})
	require.NoError(t, err)

	got, err := repo.Get(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, "Osaka", got.City)
	assert.Empty(t, got.BirthDate)
	assert.Equal(t, "+81-90-0000-0000", got.Phone)
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
