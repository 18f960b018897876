package profile

import (
	"context"

	"storefront/internal/domain"
)

// Repository persists and fetches customer profiles.
type Repository interface {
	Get(ctx context.Context, customerID string) (*domain.Profile, error)
	Upsert(ctx context.Context, p domain.Profile) (*domain.Profile, error)
}
