package events

import (
	"context"
	"sync"
)

// Local delivers events synchronously inside the process. Publish returns
// after every handler ran.
type Local struct {
	mu       sync.RWMutex
	next     int
	handlers map[int]Handler
	closed   bool
}

// NewLocal creates an in-process bus.
func NewLocal() *Local {
	return &Local{handlers: map[int]Handler{}}
}

func (b *Local) Publish(ctx context.Context, ev Event) error {
	b.mu.RLock()
	hs := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		hs = append(hs, h)
	}
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	for _, h := range hs {
		h(ctx, ev)
	}
	return nil
}

func (b *Local) Subscribe(h Handler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	id := b.next
	b.next++
	b.handlers[id] = h
	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}, nil
}

func (b *Local) Close() error {
	b.mu.Lock()
	b.closed = true
	b.handlers = map[int]Handler{}
	b.mu.Unlock()
	return nil
}
