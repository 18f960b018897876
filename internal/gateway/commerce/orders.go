package commerce

import (
	"context"
	"fmt"
	"strings"
	"time"

	"storefront/internal/domain"
)

const ordersQuery = `query CustomerOrders($first: Int!, $query: String!) {
  orders(first: $first, query: $query, sortKey: PROCESSED_AT, reverse: true) {
    nodes {
      id
      name
      processedAt
      cancelledAt
      displayFulfillmentStatus
      totalPriceSet { shopMoney { amount currencyCode } }
    }
  }
}`

type orderNode struct {
	ID                       string     `json:"id"`
	Name                     string     `json:"name"`
	ProcessedAt              time.Time  `json:"processedAt"`
	CancelledAt              *time.Time `json:"cancelledAt"`
	DisplayFulfillmentStatus string     `json:"displayFulfillmentStatus"`
	TotalPriceSet            struct {
		ShopMoney moneyV2 `json:"shopMoney"`
	} `json:"totalPriceSet"`
}

// OrdersByEmail lists the most recent orders placed with email.
func (c *Client) OrdersByEmail(ctx context.Context, email string, limit int) ([]domain.OrderSummary, error) {
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	var data struct {
		Orders struct {
			Nodes []orderNode `json:"nodes"`
		} `json:"orders"`
	}
	vars := map[string]any{
		"first": limit,
		"query": fmt.Sprintf("email:%q", strings.TrimSpace(email)),
	}
	if err := query(ctx, c.admin, "orders", ordersQuery, vars, true, &data); err != nil {
		return nil, err
	}
	out := make([]domain.OrderSummary, 0, len(data.Orders.Nodes))
	for _, n := range data.Orders.Nodes {
		status := domain.ParseFulfillmentStatus(n.DisplayFulfillmentStatus)
		if n.CancelledAt != nil {
			status = domain.FulfillmentCancelled
		}
		out = append(out, domain.OrderSummary{
			ID:          domain.OrderID(n.ID),
			Name:        n.Name,
			ProcessedAt: n.ProcessedAt,
			Total:       domain.Money(n.TotalPriceSet.ShopMoney),
			Status:      status,
		})
	}
	return out, nil
}
