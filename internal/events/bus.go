// Package events carries cart lifecycle notifications from the webhook
// receiver to the browsing sessions holding the affected cart.
package events

import (
	"context"
	"errors"
	"time"
)

// Type names an event.
type Type string

// CartCheckedOut is published when the commerce platform reports payment for
// the order created from a cart.
const CartCheckedOut Type = "cart.checked_out"

// ErrClosed is returned by a bus after Close.
var ErrClosed = errors.New("events: bus closed")

// Event is one notification.
type Event struct {
	Type      Type      `json:"type"`
	CartToken string    `json:"cart_token"`
	OrderID   string    `json:"order_id,omitempty"`
	At        time.Time `json:"at"`
}

// Handler receives events. Handlers must not block for long; a slow handler
// delays every other subscriber.
type Handler func(ctx context.Context, ev Event)

// Bus fans events out to subscribers.
type Bus interface {
	Publish(ctx context.Context, ev Event) error
	// Subscribe registers h and returns a function removing it.
	Subscribe(h Handler) (func(), error)
	Close() error
}
