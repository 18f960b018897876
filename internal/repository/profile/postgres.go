package profile

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"storefront/internal/domain"
)

const birthDateLayout = "2006-01-02"

type postgresRepo struct {
	pool   *pgxpool.Pool
	logger *log.Logger
}

// NewPostgres returns a Repository backed by Postgres.
func NewPostgres(pool *pgxpool.Pool, logger *log.Logger) Repository {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &postgresRepo{pool: pool, logger: logger}
}

func (r *postgresRepo) Get(ctx context.Context, customerID string) (*domain.Profile, error) {
	const q = `
SELECT customer_id, gender, birth_date, postal_code, prefecture, city, address_line1, address_line2, phone, updated_at
FROM profiles
WHERE customer_id = $1
`
	return r.scanProfile(r.pool.QueryRow(ctx, q, customerID))
}

func (r *postgresRepo) Upsert(ctx context.Context, p domain.Profile) (*domain.Profile, error) {
	var birthDate *time.Time
	if p.BirthDate != "" {
		t, err := time.Parse(birthDateLayout, p.BirthDate)
		if err != nil {
			return nil, err
		}
		birthDate = &t
	}

	const q = `
INSERT INTO profiles (
    customer_id, gender, birth_date, postal_code, prefecture, city, address_line1, address_line2, phone, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
ON CONFLICT (customer_id) DO UPDATE
SET gender = EXCLUDED.gender,
    birth_date = EXCLUDED.birth_date,
    postal_code = EXCLUDED.postal_code,
    prefecture = EXCLUDED.prefecture,
    city = EXCLUDED.city,
    address_line1 = EXCLUDED.address_line1,
    address_line2 = EXCLUDED.address_line2,
    phone = EXCLUDED.phone,
    updated_at = now()
RETURNING customer_id, gender, birth_date, postal_code, prefecture, city, address_line1, address_line2, phone, updated_at
`
	return r.scanProfile(r.pool.QueryRow(
		ctx,
		q,
		p.CustomerID,
		p.Gender,
		birthDate,
		p.PostalCode,
		p.Prefecture,
		p.City,
		p.AddressLine1,
		p.AddressLine2,
		p.Phone,
	))
}

func (r *postgresRepo) scanProfile(row pgx.Row) (*domain.Profile, error) {
	var p domain.Profile
	var birthDate *time.Time
	err := row.Scan(
		&p.CustomerID,
		&p.Gender,
		&birthDate,
		&p.PostalCode,
		&p.Prefecture,
		&p.City,
		&p.AddressLine1,
		&p.AddressLine2,
		&p.Phone,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.Printf("profile repo: scan error=%v", err)
		return nil, err
	}
	if birthDate != nil {
		p.BirthDate = birthDate.Format(birthDateLayout)
	}
	return &p, nil
}
