package delivery

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
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

func (r *postgresRepo) Seen(ctx context.Context, id string) (bool, error) {
	var one int
	err := r.pool.QueryRow(ctx, `SELECT 1 FROM webhook_deliveries WHERE delivery_id = $1`, id).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *postgresRepo) Record(ctx context.Context, d Delivery) error {
	const q = `
INSERT INTO webhook_deliveries (delivery_id, topic, received_at)
VALUES ($1, $2, $3)
`
	receivedAt := d.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, q, d.ID, d.Topic, receivedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (r *postgresRepo) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM webhook_deliveries WHERE received_at < $1`, olderThan)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}
