package domain

import (
	"strings"
	"time"
)

// FulfillmentStatus is the local vocabulary for order fulfillment.
type FulfillmentStatus string

const (
	FulfillmentUnfulfilled FulfillmentStatus = "unfulfilled"
	FulfillmentInProgress  FulfillmentStatus = "in_progress"
	FulfillmentFulfilled   FulfillmentStatus = "fulfilled"
	FulfillmentCancelled   FulfillmentStatus = "cancelled"
)

// ParseFulfillmentStatus maps the commerce platform's order and fulfillment
// status vocabulary onto FulfillmentStatus. Unknown values are unfulfilled.
func ParseFulfillmentStatus(upstream string) FulfillmentStatus {
	switch strings.ToLower(strings.TrimSpace(upstream)) {
	case "fulfilled", "success", "delivered":
		return FulfillmentFulfilled
	case "partial", "partially_fulfilled", "in_progress", "open", "pending", "pending_fulfillment", "in_transit", "on_hold", "scheduled":
		return FulfillmentInProgress
	case "cancelled", "canceled", "restocked":
		return FulfillmentCancelled
	default:
		return FulfillmentUnfulfilled
	}
}

const orderGIDPrefix = "gid://shopify/Order/"

// OrderID normalizes an order reference to the numeric id used in webhook
// payloads, so records written by webhooks match ids from order queries.
func OrderID(raw string) string {
	return strings.TrimPrefix(strings.TrimSpace(raw), orderGIDPrefix)
}

// Order is the webhook-observed record of a commerce order.
type Order struct {
	ID        string            `json:"id"`
	Status    FulfillmentStatus `json:"status"`
	Topic     string            `json:"-"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// OrderSummary is an order as listed in a customer's history.
type OrderSummary struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	ProcessedAt time.Time         `json:"processedAt"`
	Total       Money             `json:"total"`
	Status      FulfillmentStatus `json:"status"`
}
