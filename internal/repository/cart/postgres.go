package cart

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type postgresRepo struct {
	pool *pgxpool.Pool
}

// NewPostgres returns a Repository backed by Postgres.
func NewPostgres(pool *pgxpool.Pool) Repository {
	return &postgresRepo{pool: pool}
}

func (r *postgresRepo) MarkCheckedOut(ctx context.Context, cartToken, orderID string) error {
	const q = `
INSERT INTO checked_out_carts (cart_token, order_id)
VALUES ($1, $2)
ON CONFLICT (cart_token) DO NOTHING
`
	_, err := r.pool.Exec(ctx, q, cartToken, orderID)
	return err
}

func (r *postgresRepo) IsCheckedOut(ctx context.Context, cartToken string) (bool, error) {
	const q = `
SELECT 1
FROM checked_out_carts
WHERE cart_token = $1
`
	var one int
	if err := r.pool.QueryRow(ctx, q, cartToken).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
