package cart

import (
	"context"
	"sync"
	"time"
)

// lane serializes remote sends for one cart handle and remembers the newest
// sequence number that targeted each line key. A send whose key has been
// targeted by a newer call is skipped, so the remote quantity only moves
// forward in issuance order.
type lane struct {
	sem chan struct{}

	mu      sync.Mutex
	latest  map[string]uint64
	used    time.Time
	retired bool
}

func newLane() *lane {
	return &lane{
		sem:    make(chan struct{}, 1),
		latest: map[string]uint64{},
		used:   time.Now(),
	}
}

func (l *lane) note(seq uint64, keys ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, k := range keys {
		if k == "" {
			continue
		}
		if l.latest[k] < seq {
			l.latest[k] = seq
		}
	}
	l.used = time.Now()
}

// superseded reports whether any of keys was targeted after seq.
func (l *lane) superseded(seq uint64, keys ...string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, k := range keys {
		if k != "" && l.latest[k] > seq {
			return true
		}
	}
	return false
}

// touch records use. It reports false once the lane has been retired.
func (l *lane) touch() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.retired {
		return false
	}
	l.used = time.Now()
	return true
}

func (l *lane) acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
		l.touch()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *lane) release() {
	<-l.sem
}

// retireIfIdle retires a lane that is not held and was last used before
// cutoff, provided remove takes it out of the lane table.
func (l *lane) retireIfIdle(cutoff time.Time, remove func() bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.used.Before(cutoff) || len(l.sem) != 0 || !remove() {
		return false
	}
	l.retired = true
	return true
}
