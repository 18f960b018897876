// Package state holds the shared cart/session/profile state of one browsing
// session. A Store is replaced as a whole snapshot on every write; writers
// never mutate a published Snapshot or anything it points to.
package state

import (
	"sync/atomic"
	"time"

	"storefront/internal/domain"
)

// PendingEdit is a target quantity sent to the commerce platform but not yet
// confirmed by a response.
type PendingEdit struct {
	Seq           uint64
	LineID        string
	MerchandiseID string
	Quantity      int
}

// Snapshot is the immutable state of one browsing session.
type Snapshot struct {
	CartID string
	// Cart is the last cart confirmed by the commerce platform.
	Cart *domain.Cart
	// CartSeq is the sequence number of the mutation (or clear) that produced
	// the current cart state. Responses with a lower number are stale.
	CartSeq uint64
	Pending map[string]PendingEdit

	Session   *domain.CustomerSession
	Recovery  *domain.CustomerSession
	Challenge *domain.AuthChallenge
	Profile   *domain.Profile
	// ReauthRequired is set when a session was dropped because it expired
	// and could not be refreshed.
	ReauthRequired bool
}

// Phase derives the authentication phase.
func (s Snapshot) Phase() domain.AuthPhase {
	switch {
	case s.Session != nil:
		return domain.PhaseAuthenticated
	case s.Challenge != nil:
		return domain.PhaseChallengeIssued
	default:
		return domain.PhaseAnonymous
	}
}

// WithPending returns a copy of s with edits laid over the pending overlay.
// An edit only replaces an existing one with a lower sequence number.
func (s Snapshot) WithPending(key string, edit PendingEdit) Snapshot {
	next := make(map[string]PendingEdit, len(s.Pending)+1)
	for k, v := range s.Pending {
		next[k] = v
	}
	if cur, ok := next[key]; !ok || cur.Seq < edit.Seq {
		next[key] = edit
	}
	s.Pending = next
	return s
}

// SettlePending drops overlay entries issued at or before seq.
func (s Snapshot) SettlePending(seq uint64) Snapshot {
	if len(s.Pending) == 0 {
		return s
	}
	next := make(map[string]PendingEdit, len(s.Pending))
	for k, v := range s.Pending {
		if v.Seq > seq {
			next[k] = v
		}
	}
	if len(next) == 0 {
		next = nil
	}
	s.Pending = next
	return s
}

// DropPending removes the overlay entries written by the call numbered seq.
func (s Snapshot) DropPending(seq uint64) Snapshot {
	next := make(map[string]PendingEdit, len(s.Pending))
	for k, v := range s.Pending {
		if v.Seq != seq {
			next[k] = v
		}
	}
	if len(next) == 0 {
		next = nil
	}
	s.Pending = next
	return s
}

// WithoutCart drops the cart handle, the confirmed cart and the overlay.
func (s Snapshot) WithoutCart(seq uint64) Snapshot {
	s.CartID = ""
	s.Cart = nil
	s.Pending = nil
	if seq > s.CartSeq {
		s.CartSeq = seq
	}
	return s
}

// Anonymous drops every authentication artefact.
func (s Snapshot) Anonymous(reauth bool) Snapshot {
	s.Session = nil
	s.Recovery = nil
	s.Challenge = nil
	s.Profile = nil
	s.ReauthRequired = reauth
	return s
}

// DisplayCart renders pending quantities over the confirmed cart. Amounts
// stay as confirmed; lines with a pending zero are hidden.
func (s Snapshot) DisplayCart() *domain.Cart {
	if s.Cart == nil {
		return nil
	}
	out := *s.Cart
	out.Lines = make([]domain.CartLine, 0, len(s.Cart.Lines))
	for _, line := range s.Cart.Lines {
		if edit, ok := s.pendingFor(line); ok {
			if edit.Quantity <= 0 {
				continue
			}
			line.Quantity = edit.Quantity
		}
		out.Lines = append(out.Lines, line)
	}
	return &out
}

func (s Snapshot) pendingFor(line domain.CartLine) (PendingEdit, bool) {
	var best PendingEdit
	found := false
	for _, key := range []string{line.MerchandiseID, line.ID} {
		if edit, ok := s.Pending[key]; ok && (!found || edit.Seq > best.Seq) {
			best, found = edit, true
		}
	}
	return best, found
}

// Store is a lock-free container of one Snapshot.
type Store struct {
	cur      atomic.Pointer[Snapshot]
	lastSeen atomic.Int64
}

// NewStore creates a Store holding initial.
func NewStore(initial Snapshot) *Store {
	s := &Store{}
	s.cur.Store(&initial)
	s.Touch(time.Now())
	return s
}

// Load returns the current snapshot.
func (s *Store) Load() Snapshot {
	return *s.cur.Load()
}

// Update applies fn as a compare-and-swap on the whole snapshot. fn may run
// more than once, so it must only compute; returning false leaves the store
// untouched. The returned snapshot is the one in effect afterwards.
func (s *Store) Update(fn func(Snapshot) (Snapshot, bool)) (Snapshot, bool) {
	for {
		prev := s.cur.Load()
		next, ok := fn(*prev)
		if !ok {
			return *prev, false
		}
		if s.cur.CompareAndSwap(prev, &next) {
			return next, true
		}
	}
}

// Touch records activity for idle sweeping.
func (s *Store) Touch(now time.Time) {
	s.lastSeen.Store(now.UnixNano())
}

// LastSeen reports the last recorded activity.
func (s *Store) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}
