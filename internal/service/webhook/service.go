// Package webhook applies verified commerce platform notifications to cart
// and order state.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"storefront/internal/domain"
	"storefront/internal/events"
	"storefront/internal/metrics"
	cartrepo "storefront/internal/repository/cart"
	deliveryrepo "storefront/internal/repository/delivery"
	orderrepo "storefront/internal/repository/order"
)

// Headers the commerce platform sets on webhook deliveries.
const (
	HeaderSignature  = "X-Shopify-Hmac-Sha256"
	HeaderTopic      = "X-Shopify-Topic"
	HeaderDeliveryID = "X-Shopify-Webhook-Id"
)

// Topics handled by the invalidator.
const (
	TopicOrdersPaid               = "orders/paid"
	TopicOrdersFulfilled          = "orders/fulfilled"
	TopicOrdersPartiallyFulfilled = "orders/partially_fulfilled"
	TopicOrdersUpdated            = "orders/updated"
	TopicOrdersCancelled          = "orders/cancelled"
	TopicFulfillmentsCreate       = "fulfillments/create"
	TopicFulfillmentsUpdate       = "fulfillments/update"
)

// Outcome describes what happened to an accepted notification.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

// Notification is one inbound delivery with its raw body.
type Notification struct {
	Topic      string
	DeliveryID string
	Signature  string
	Body       []byte
}

// Options wires the invalidator.
type Options struct {
	Secret     string
	Carts      cartrepo.Repository
	Orders     orderrepo.Repository
	Deliveries deliveryrepo.Repository
	Bus        events.Bus
	Metrics    *metrics.Metrics
	Logger     *log.Logger
}

// Service is the webhook invalidator.
type Service struct {
	secret     string
	carts      cartrepo.Repository
	orders     orderrepo.Repository
	deliveries deliveryrepo.Repository
	bus        events.Bus
	metrics    *metrics.Metrics
	logger     *log.Logger
	now        func() time.Time
}

func New(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Service{
		secret:     opts.Secret,
		carts:      opts.Carts,
		orders:     opts.Orders,
		deliveries: opts.Deliveries,
		bus:        opts.Bus,
		metrics:    opts.Metrics,
		logger:     logger,
		now:        time.Now,
	}
}

// Handle verifies and applies n. Signature failures are Unauthorized and
// malformed payloads are Validation errors; neither changes any state. Other
// errors mean a downstream write failed and the sender should retry.
func (s *Service) Handle(ctx context.Context, n Notification) (Outcome, error) {
	const op = "webhook.handle"
	topic := strings.ToLower(strings.TrimSpace(n.Topic))

	if !Verify(s.secret, n.Body, n.Signature) {
		s.metrics.WebhookEvent(topic, "unauthorized")
		return "", domain.Unauthorized(op, "signature mismatch")
	}

	if n.DeliveryID != "" {
		seen, err := s.deliveries.Seen(ctx, n.DeliveryID)
		if err != nil {
			s.metrics.WebhookEvent(topic, "error")
			return "", fmt.Errorf("check delivery %s: %w", n.DeliveryID, err)
		}
		if seen {
			s.metrics.WebhookEvent(topic, string(OutcomeDuplicate))
			return OutcomeDuplicate, nil
		}
	}

	outcome, err := s.apply(ctx, topic, n.Body)
	if err != nil {
		result := "error"
		if errors.Is(err, domain.ErrValidation) {
			result = "malformed"
		}
		s.metrics.WebhookEvent(topic, result)
		return "", err
	}

	if n.DeliveryID != "" {
		err := s.deliveries.Record(ctx, deliveryrepo.Delivery{ID: n.DeliveryID, Topic: topic, ReceivedAt: s.now().UTC()})
		if err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
			s.metrics.WebhookEvent(topic, "error")
			return "", fmt.Errorf("record delivery %s: %w", n.DeliveryID, err)
		}
	}
	s.metrics.WebhookEvent(topic, string(outcome))
	return outcome, nil
}

// PruneDeliveries forgets deliveries received before cutoff.
func (s *Service) PruneDeliveries(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.deliveries.Prune(ctx, cutoff)
}

func (s *Service) apply(ctx context.Context, topic string, body []byte) (Outcome, error) {
	switch topic {
	case TopicOrdersPaid:
		return s.orderPaid(ctx, topic, body)
	case TopicOrdersFulfilled, TopicOrdersPartiallyFulfilled, TopicOrdersUpdated, TopicOrdersCancelled:
		return s.orderStatus(ctx, topic, body)
	case TopicFulfillmentsCreate, TopicFulfillmentsUpdate:
		return s.fulfillmentStatus(ctx, topic, body)
	default:
		s.logger.Printf("webhook: ignore topic=%q", topic)
		return OutcomeIgnored, nil
	}
}

type orderPayload struct {
	ID                json.Number `json:"id"`
	AdminGraphQLID    string      `json:"admin_graphql_api_id"`
	CartToken         *string     `json:"cart_token"`
	FulfillmentStatus *string     `json:"fulfillment_status"`
	CancelledAt       *string     `json:"cancelled_at"`
}

func (p orderPayload) orderID() string {
	if id := p.ID.String(); id != "" {
		return id
	}
	return domain.OrderID(p.AdminGraphQLID)
}

type fulfillmentPayload struct {
	OrderID        json.Number `json:"order_id"`
	Status         string      `json:"status"`
	ShipmentStatus *string     `json:"shipment_status"`
}

func (s *Service) orderPaid(ctx context.Context, topic string, body []byte) (Outcome, error) {
	var p orderPayload
	if err := decode(body, &p); err != nil {
		return "", err
	}
	orderID := p.orderID()
	if orderID == "" {
		return "", domain.Validation("webhook."+topic, "order id missing")
	}

	token := ""
	if p.CartToken != nil {
		token = domain.CartToken(*p.CartToken)
	}
	if token != "" {
		if err := s.carts.MarkCheckedOut(ctx, token, orderID); err != nil {
			return "", fmt.Errorf("mark cart checked out: %w", err)
		}
	}
	if err := s.orders.Ensure(ctx, orderID, topic); err != nil {
		return "", fmt.Errorf("ensure order %s: %w", orderID, err)
	}
	if token != "" {
		ev := events.Event{Type: events.CartCheckedOut, CartToken: token, OrderID: orderID, At: s.now().UTC()}
		if err := s.bus.Publish(ctx, ev); err != nil {
			return "", fmt.Errorf("publish cart checked out: %w", err)
		}
	}
	s.logger.Printf("webhook: order paid order=%s cart=%s", orderID, token)
	return OutcomeApplied, nil
}

func (s *Service) orderStatus(ctx context.Context, topic string, body []byte) (Outcome, error) {
	var p orderPayload
	if err := decode(body, &p); err != nil {
		return "", err
	}
	orderID := p.orderID()
	if orderID == "" {
		return "", domain.Validation("webhook."+topic, "order id missing")
	}

	var status domain.FulfillmentStatus
	switch {
	case topic == TopicOrdersCancelled || p.CancelledAt != nil:
		status = domain.FulfillmentCancelled
	case topic == TopicOrdersFulfilled:
		status = domain.FulfillmentFulfilled
	case topic == TopicOrdersPartiallyFulfilled:
		status = domain.FulfillmentInProgress
	case p.FulfillmentStatus != nil:
		status = domain.ParseFulfillmentStatus(*p.FulfillmentStatus)
	default:
		status = domain.FulfillmentUnfulfilled
	}
	return s.setStatus(ctx, orderID, status, topic)
}

func (s *Service) fulfillmentStatus(ctx context.Context, topic string, body []byte) (Outcome, error) {
	var p fulfillmentPayload
	if err := decode(body, &p); err != nil {
		return "", err
	}
	orderID := p.OrderID.String()
	if orderID == "" {
		return "", domain.Validation("webhook."+topic, "order_id missing")
	}

	var status domain.FulfillmentStatus
	switch strings.ToLower(p.Status) {
	case "cancelled", "error", "failure":
		// A failed shipment does not cancel the order.
		status = domain.FulfillmentUnfulfilled
	default:
		status = domain.ParseFulfillmentStatus(p.Status)
	}
	if p.ShipmentStatus != nil && strings.EqualFold(*p.ShipmentStatus, "delivered") {
		status = domain.FulfillmentFulfilled
	}
	return s.setStatus(ctx, orderID, status, topic)
}

func (s *Service) setStatus(ctx context.Context, orderID string, status domain.FulfillmentStatus, topic string) (Outcome, error) {
	if err := s.orders.SetStatus(ctx, orderID, status, topic); err != nil {
		return "", fmt.Errorf("set order %s status: %w", orderID, err)
	}
	s.logger.Printf("webhook: order status order=%s status=%s topic=%s", orderID, status, topic)
	return OutcomeApplied, nil
}

func decode(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return domain.Validation("webhook.decode", "malformed payload: %v", err)
	}
	return nil
}
