package order

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"storefront/internal/domain"
)

type postgresRepo struct {
	pool *pgxpool.Pool
}

// NewPostgres returns a Repository backed by Postgres.
func NewPostgres(pool *pgxpool.Pool) Repository {
	return &postgresRepo{pool: pool}
}

func (r *postgresRepo) Ensure(ctx context.Context, orderID, topic string) error {
	const q = `
INSERT INTO orders (order_id, fulfillment_status, source_topic)
VALUES ($1, 'unfulfilled', $2)
ON CONFLICT (order_id) DO NOTHING
`
	_, err := r.pool.Exec(ctx, q, orderID, topic)
	return err
}

func (r *postgresRepo) SetStatus(ctx context.Context, orderID string, status domain.FulfillmentStatus, topic string) error {
	const q = `
INSERT INTO orders (order_id, fulfillment_status, source_topic, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (order_id) DO UPDATE
SET fulfillment_status = EXCLUDED.fulfillment_status,
    source_topic = EXCLUDED.source_topic,
    updated_at = now()
`
	_, err := r.pool.Exec(ctx, q, orderID, string(status), topic)
	return err
}

func (r *postgresRepo) GetMany(ctx context.Context, orderIDs []string) (map[string]domain.Order, error) {
	out := make(map[string]domain.Order, len(orderIDs))
	if len(orderIDs) == 0 {
		return out, nil
	}
	const q = `
SELECT order_id, fulfillment_status, source_topic, updated_at
FROM orders
WHERE order_id = ANY($1)
`
	rows, err := r.pool.Query(ctx, q, orderIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out[o.ID] = o
	}
	return out, rows.Err()
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	var status string
	if err := row.Scan(&o.ID, &status, &o.Topic, &o.UpdatedAt); err != nil {
		return domain.Order{}, err
	}
	o.Status = domain.FulfillmentStatus(status)
	return o, nil
}
