package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// Subject is the NATS subject cart events travel on.
const Subject = "storefront.cart.checked_out"

// NATS shares events between replicas through a NATS subject, so a webhook
// received by one instance clears carts held by every instance.
type NATS struct {
	nc     *nats.Conn
	logger *log.Logger
}

// DialNATS connects to url.
func DialNATS(url string, logger *log.Logger) (*NATS, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	nc, err := nats.Connect(url,
		nats.Name("storefront"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Printf("nats disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Printf("nats reconnected to %s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &NATS{nc: nc, logger: logger}, nil
}

func (b *NATS) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before publish: %w", err)
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.nc.Publish(Subject, data); err != nil {
		if errors.Is(err, nats.ErrConnectionClosed) {
			return ErrClosed
		}
		return fmt.Errorf("publish %s: %w", Subject, err)
	}
	return b.nc.FlushWithContext(ctx)
}

func (b *NATS) Subscribe(h Handler) (func(), error) {
	sub, err := b.nc.Subscribe(Subject, func(msg *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			b.logger.Printf("drop malformed event on %s: %v", msg.Subject, err)
			return
		}
		h(context.Background(), ev)
	})
	if err != nil {
		if errors.Is(err, nats.ErrConnectionClosed) {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("subscribe to %s: %w", Subject, err)
	}
	return func() {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			b.logger.Printf("unsubscribe %s: %v", Subject, err)
		}
	}, nil
}

func (b *NATS) Close() error {
	if err := b.nc.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("drain NATS: %w", err)
	}
	return nil
}
