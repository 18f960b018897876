package order

import (
	"context"

	"storefront/internal/domain"
)

// Repository stores webhook-observed order fulfillment records.
type Repository interface {
	// Ensure inserts an unfulfilled record unless one already exists.
	Ensure(ctx context.Context, orderID, topic string) error
	SetStatus(ctx context.Context, orderID string, status domain.FulfillmentStatus, topic string) error
	GetMany(ctx context.Context, orderIDs []string) (map[string]domain.Order, error)
}
