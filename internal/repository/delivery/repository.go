package delivery

import (
	"context"
	"time"
)

// Delivery is a webhook delivery that has been fully applied.
type Delivery struct {
	ID         string
	Topic      string
	ReceivedAt time.Time
}

// Repository records applied webhook deliveries for deduplication.
type Repository interface {
	Seen(ctx context.Context, id string) (bool, error)
	Record(ctx context.Context, d Delivery) error
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}
