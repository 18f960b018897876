// Package order serves a signed-in customer's order history.
package order

import (
	"context"
	"fmt"
	"strings"

	"storefront/internal/domain"
	orderrepo "storefront/internal/repository/order"
)

type commerceOrders interface {
	OrdersByEmail(ctx context.Context, email string, limit int) ([]domain.OrderSummary, error)
}

// Service lists orders from the commerce platform and overlays the
// fulfillment status observed through webhooks.
type Service struct {
	gw   commerceOrders
	repo orderrepo.Repository
}

func New(gw commerceOrders, repo orderrepo.Repository) *Service {
	return &Service{gw: gw, repo: repo}
}

// List returns the newest orders placed with email. A locally recorded status
// replaces the platform's, since webhooks usually arrive before the order
// index catches up.
func (s *Service) List(ctx context.Context, email string, limit int) ([]domain.OrderSummary, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, domain.Validation("order.list", "email required")
	}
	orders, err := s.gw.OrdersByEmail(ctx, email, limit)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return []domain.OrderSummary{}, nil
	}

	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	local, err := s.repo.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load order statuses: %w", err)
	}
	for i, o := range orders {
		if rec, ok := local[o.ID]; ok {
			orders[i].Status = rec.Status
		}
	}
	return orders, nil
}
