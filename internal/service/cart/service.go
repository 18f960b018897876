// Package cart keeps a browsing session's cart handle in step with the remote
// cart owned by the commerce platform.
package cart

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"storefront/internal/domain"
	"storefront/internal/events"
	"storefront/internal/gateway/commerce"
	"storefront/internal/metrics"
	cartrepo "storefront/internal/repository/cart"
	"storefront/internal/state"
)

const clearTimeout = 15 * time.Second

// errCartGone reports that the remote cart behind a handle no longer exists.
var errCartGone = errors.New("remote cart no longer exists")

type commerceGateway interface {
	CreateCart(ctx context.Context, lines []domain.LineInput) (*domain.Cart, error)
	FetchCart(ctx context.Context, id string) (*domain.Cart, error)
	AddLines(ctx context.Context, cartID string, lines []domain.LineInput) (*domain.Cart, error)
	UpdateLines(ctx context.Context, cartID string, lines []commerce.LineUpdate) (*domain.Cart, error)
	RemoveLines(ctx context.Context, cartID string, lineIDs []string) (*domain.Cart, error)
	UpdateBuyerIdentity(ctx context.Context, cartID, email string) (*domain.Cart, error)
}

type ledger interface {
	IsCheckedOut(ctx context.Context, cartToken string) (bool, error)
}

// Service is the cart synchronizer. The commerce platform is the only source
// of quantities and amounts; the service tracks which response is allowed to
// become the session's confirmed cart.
type Service struct {
	gw      commerceGateway
	ledger  ledger
	metrics *metrics.Metrics
	logger  *log.Logger

	seq   atomic.Uint64
	lanes sync.Map // cart handle or *state.Store -> *lane
}

func New(gw commerceGateway, checkouts cartrepo.Repository, m *metrics.Metrics, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Service{gw: gw, ledger: checkouts, metrics: m, logger: logger}
}

// NextSeq issues the next sequence number. Callers take one at the moment the
// user acts and pass it to UpdateLines.
func (s *Service) NextSeq() uint64 {
	return s.seq.Add(1)
}

// CreateCart creates a remote cart seeded with lines and makes it the
// session's cart.
func (s *Service) CreateCart(ctx context.Context, store *state.Store, lines []domain.LineInput) (*domain.Cart, error) {
	const op = "cart.create"
	if len(lines) == 0 {
		return nil, domain.Validation(op, "at least one line is required")
	}
	for _, l := range lines {
		if l.MerchandiseID == "" {
			return nil, domain.Validation(op, "merchandiseId is required")
		}
		if l.Quantity < 1 {
			return nil, domain.Validation(op, "quantity must be at least 1")
		}
	}
	seq := s.NextSeq()
	remote, err := s.gw.CreateCart(ctx, lines)
	if err != nil {
		return nil, err
	}
	snap, _, err := s.apply(ctx, store, "", seq, remote, true)
	if err != nil {
		return nil, err
	}
	return snap.DisplayCart(), nil
}

// FetchCart reconciles the session's cart with the platform. It returns nil
// when there is no handle, when the remote cart has expired or the platform
// rejects the handle, or when the cart has already been checked out; the
// handle is dropped in all but the first case.
func (s *Service) FetchCart(ctx context.Context, store *state.Store) (*domain.Cart, error) {
	cartID := store.Load().CartID
	if cartID == "" {
		return nil, nil
	}
	seq := s.NextSeq()

	gone, err := s.checkedOut(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if gone {
		s.dropHandle(store, cartID, seq)
		return store.Load().DisplayCart(), nil
	}

	l := s.laneFor(cartID)
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	remote, err := s.fetchRemote(ctx, cartID)
	l.release()
	if errors.Is(err, errCartGone) {
		remote, err = nil, nil
	}
	if err != nil {
		return nil, err
	}
	snap, _, err := s.apply(ctx, store, cartID, seq, remote, false)
	if err != nil {
		return nil, err
	}
	return snap.DisplayCart(), nil
}

// Resume adopts handle (from a durable cookie) as the cart of a store that has
// none yet and reconciles it.
func (s *Service) Resume(ctx context.Context, store *state.Store, handle string) (*domain.Cart, error) {
	if handle == "" {
		return nil, nil
	}
	store.Update(func(cur state.Snapshot) (state.Snapshot, bool) {
		if cur.CartID != "" {
			return cur, false
		}
		cur.CartID = handle
		return cur, true
	})
	return s.FetchCart(ctx, store)
}

// UpdateLines sets target quantities. seq must come from NextSeq at the moment
// the user acted. Each mutation names a line or a merchandise and carries
// the absolute quantity wanted; zero removes the line. Re-sending the same
// call converges on the same remote state.
//
// Remote sends for one cart run one at a time. A mutation whose line was
// targeted by a newer call is skipped, and a response older than the state
// already confirmed is discarded.
func (s *Service) UpdateLines(ctx context.Context, store *state.Store, seq uint64, mutations []domain.LineMutation) (*domain.Cart, error) {
	const op = "cart.updateLines"
	if len(mutations) == 0 {
		return nil, domain.Validation(op, "at least one line mutation is required")
	}
	for i, m := range mutations {
		if m.LineID == "" && m.MerchandiseID == "" {
			return nil, domain.Validation(op, "line %d: lineId or merchandiseId is required", i)
		}
		if m.Quantity < 0 {
			return nil, domain.Validation(op, "line %d: quantity must not be negative", i)
		}
	}

	for attempt := 0; attempt < 2; attempt++ {
		cartID := store.Load().CartID
		if cartID != "" {
			gone, err := s.checkedOut(ctx, cartID)
			if err != nil {
				return nil, err
			}
			if gone {
				s.dropHandle(store, cartID, 0)
				cartID = ""
			}
		}
		if cartID == "" {
			cart, done, err := s.createFor(ctx, store, seq, mutations)
			if err != nil || done {
				return cart, err
			}
			// Another call created the cart while this one waited.
			continue
		}

		cart, err := s.mutate(ctx, store, cartID, seq, mutations)
		if errors.Is(err, errCartGone) {
			s.dropHandle(store, cartID, 0)
			continue
		}
		return cart, err
	}
	return store.Load().DisplayCart(), nil
}

// AddItem adds quantity units of a merchandise. The delta is turned into an
// absolute target against the cart as currently displayed, including a
// pending add of merchandise the confirmed cart does not hold yet.
func (s *Service) AddItem(ctx context.Context, store *state.Store, merchandiseID string, quantity int) (*domain.Cart, error) {
	const op = "cart.addItem"
	if merchandiseID == "" {
		return nil, domain.Validation(op, "merchandiseId is required")
	}
	if quantity < 1 {
		return nil, domain.Validation(op, "quantity must be at least 1")
	}
	seq := s.NextSeq()
	snap := store.Load()
	target := quantity
	if line, ok := snap.DisplayCart().LineByMerchandise(merchandiseID); ok {
		target += line.Quantity
	} else if edit, ok := snap.Pending[merchandiseID]; ok {
		target += edit.Quantity
	}
	return s.UpdateLines(ctx, store, seq, []domain.LineMutation{{MerchandiseID: merchandiseID, Quantity: target}})
}

// Checkout returns the platform's checkout URL for the session's cart. When
// email is set it is attached to the cart as the buyer identity first.
func (s *Service) Checkout(ctx context.Context, store *state.Store, email string) (string, error) {
	const op = "cart.checkout"
	cart, err := s.FetchCart(ctx, store)
	if err != nil {
		return "", err
	}
	if cart == nil || len(cart.Lines) == 0 {
		return "", domain.Validation(op, "cart is empty")
	}
	if email == "" {
		return cart.CheckoutURL, nil
	}

	cartID := store.Load().CartID
	seq := s.NextSeq()
	l := s.laneFor(cartID)
	if err := l.acquire(ctx); err != nil {
		return "", err
	}
	remote, err := s.gw.UpdateBuyerIdentity(ctx, cartID, email)
	l.release()
	if err != nil {
		return "", err
	}
	if _, _, err := s.apply(ctx, store, cartID, seq, remote, false); err != nil {
		return "", err
	}
	return remote.CheckoutURL, nil
}

// Clear drops the session's cart handle and then empties the remote cart on a
// best-effort basis. It always succeeds locally and runs to completion even
// when ctx is cancelled.
func (s *Service) Clear(ctx context.Context, store *state.Store) {
	ctx = context.WithoutCancel(ctx)
	seq := s.NextSeq()

	var prev state.Snapshot
	store.Update(func(cur state.Snapshot) (state.Snapshot, bool) {
		prev = cur
		return cur.WithoutCart(seq), true
	})
	if prev.CartID == "" {
		return
	}
	defer s.lanes.Delete(prev.CartID)

	ctx, cancel := context.WithTimeout(ctx, clearTimeout)
	defer cancel()
	if err := s.emptyRemote(ctx, prev.CartID); err != nil {
		s.logger.Printf("cart: clear remote cart=%s err=%v", domain.CartToken(prev.CartID), err)
	}
}

// ClearCheckedOut drops the handle of store when it refers to cartToken. The
// remote cart is left untouched because the platform already turned it into
// an order. It reports whether the handle was dropped.
func (s *Service) ClearCheckedOut(store *state.Store, cartToken string) bool {
	seq := s.NextSeq()
	var cartID string
	_, ok := store.Update(func(cur state.Snapshot) (state.Snapshot, bool) {
		if cur.CartID == "" || domain.CartToken(cur.CartID) != cartToken {
			return cur, false
		}
		cartID = cur.CartID
		return cur.WithoutCart(seq), true
	})
	if ok {
		s.lanes.Delete(cartID)
	}
	return ok
}

// Subscribe clears every session in reg holding a cart reported as checked
// out on bus.
func (s *Service) Subscribe(bus events.Bus, reg *state.Registry) (func(), error) {
	return bus.Subscribe(func(_ context.Context, ev events.Event) {
		if ev.Type != events.CartCheckedOut || ev.CartToken == "" {
			return
		}
		cleared := 0
		reg.Range(func(_ string, st *state.Store) bool {
			if s.ClearCheckedOut(st, ev.CartToken) {
				cleared++
			}
			return true
		})
		s.logger.Printf("cart: checked out cart=%s order=%s sessions=%d", ev.CartToken, ev.OrderID, cleared)
	})
}

// Sweep forgets idle dispatch lanes.
func (s *Service) Sweep(cutoff time.Time) int {
	n := 0
	s.lanes.Range(func(k, v any) bool {
		if v.(*lane).retireIfIdle(cutoff, func() bool { return s.lanes.CompareAndDelete(k, v) }) {
			n++
		}
		return true
	})
	return n
}

// createFor creates the cart for a store without one. done is false when a
// concurrent call created it first, in which case the caller retries as an
// update.
func (s *Service) createFor(ctx context.Context, store *state.Store, seq uint64, mutations []domain.LineMutation) (cart *domain.Cart, done bool, err error) {
	const op = "cart.updateLines"
	l := s.laneFor(store)
	if err := l.acquire(ctx); err != nil {
		return nil, false, err
	}
	defer l.release()

	if store.Load().CartID != "" {
		return nil, false, nil
	}

	var lines []domain.LineInput
	index := map[string]int{}
	for _, m := range mutations {
		if m.MerchandiseID == "" {
			if m.Quantity == 0 {
				continue
			}
			return nil, true, domain.Validation(op, "line %s is not in the cart", m.LineID)
		}
		if i, ok := index[m.MerchandiseID]; ok {
			lines[i].Quantity = m.Quantity
			continue
		}
		index[m.MerchandiseID] = len(lines)
		lines = append(lines, domain.LineInput{MerchandiseID: m.MerchandiseID, Quantity: m.Quantity})
	}
	seed := lines[:0]
	for _, line := range lines {
		if line.Quantity > 0 {
			seed = append(seed, line)
		}
	}
	if len(seed) == 0 {
		return nil, true, nil
	}

	s.markPending(store, "", seq, mutations)
	remote, err := s.gw.CreateCart(ctx, seed)
	if err != nil {
		s.dropPending(store, seq)
		return nil, true, err
	}
	snap, _, err := s.apply(ctx, store, "", seq, remote, true)
	if err != nil {
		return nil, true, err
	}
	return snap.DisplayCart(), true, nil
}

func (s *Service) mutate(ctx context.Context, store *state.Store, cartID string, seq uint64, mutations []domain.LineMutation) (*domain.Cart, error) {
	l := s.laneFor(cartID)
	keys := make([]string, 0, len(mutations))
	for _, m := range mutations {
		keys = append(keys, mutationKey(m))
	}
	l.note(seq, keys...)
	s.markPending(store, cartID, seq, mutations)

	if err := l.acquire(ctx); err != nil {
		s.dropPending(store, seq)
		return nil, err
	}
	remote, sent, err := s.send(ctx, l, cartID, seq, mutations)
	l.release()
	if err != nil {
		s.dropPending(store, seq)
		return nil, err
	}

	snap, applied, err := s.apply(ctx, store, cartID, seq, remote, false)
	if err != nil {
		return nil, err
	}
	if !applied && sent && snap.CartID == cartID {
		// A newer state was confirmed first; the platform holds both changes
		// now, so read it back under a fresh number.
		return s.FetchCart(ctx, store)
	}
	return snap.DisplayCart(), nil
}

// send resolves mutations against the current remote cart and issues the
// resulting update, remove and add calls. sent is false when nothing needed
// to change, in which case the fetched cart is returned.
func (s *Service) send(ctx context.Context, l *lane, cartID string, seq uint64, mutations []domain.LineMutation) (*domain.Cart, bool, error) {
	current, err := s.fetchRemote(ctx, cartID)
	if err != nil {
		return nil, false, err
	}

	var (
		updates []commerce.LineUpdate
		removes []string
		adds    []domain.LineInput
	)
	seen := map[string]bool{}
	for i := len(mutations) - 1; i >= 0; i-- {
		m := mutations[i]
		line, found := resolve(current, m)
		aliases := []string{mutationKey(m)}
		target := mutationKey(m)
		if found {
			aliases = append(aliases, line.ID, line.MerchandiseID)
			target = line.ID
		}
		if seen[target] || l.superseded(seq, aliases...) {
			continue
		}
		seen[target] = true

		switch {
		case found && m.Quantity == 0:
			removes = append(removes, line.ID)
		case found && line.Quantity != m.Quantity:
			updates = append(updates, commerce.LineUpdate{ID: line.ID, Quantity: m.Quantity})
		case found, m.Quantity == 0:
		case m.LineID != "":
			updates = append(updates, commerce.LineUpdate{ID: m.LineID, Quantity: m.Quantity})
		default:
			adds = append(adds, domain.LineInput{MerchandiseID: m.MerchandiseID, Quantity: m.Quantity})
		}
	}

	result := current
	sent := false
	if len(updates) > 0 {
		if result, err = s.gw.UpdateLines(ctx, cartID, updates); err != nil {
			return nil, false, err
		}
		sent = true
	}
	if len(removes) > 0 {
		if result, err = s.gw.RemoveLines(ctx, cartID, removes); err != nil {
			return nil, false, err
		}
		sent = true
	}
	if len(adds) > 0 {
		if result, err = s.gw.AddLines(ctx, cartID, adds); err != nil {
			return nil, false, err
		}
		sent = true
	}
	return result, sent, nil
}

// fetchRemote reads the remote cart, reporting errCartGone when it has
// expired or the platform does not accept the handle at all.
func (s *Service) fetchRemote(ctx context.Context, cartID string) (*domain.Cart, error) {
	remote, err := s.gw.FetchCart(ctx, cartID)
	if errors.Is(err, domain.ErrRejected) {
		s.logger.Printf("cart: handle rejected cart=%s err=%v", domain.CartToken(cartID), err)
		return nil, errCartGone
	}
	if err != nil {
		return nil, err
	}
	if remote == nil {
		return nil, errCartGone
	}
	return remote, nil
}

func (s *Service) emptyRemote(ctx context.Context, cartID string) error {
	l := s.laneFor(cartID)
	if err := l.acquire(ctx); err != nil {
		return err
	}
	defer l.release()

	remote, err := s.gw.FetchCart(ctx, cartID)
	if err != nil || remote == nil || len(remote.Lines) == 0 {
		return err
	}
	ids := make([]string, 0, len(remote.Lines))
	for _, line := range remote.Lines {
		ids = append(ids, line.ID)
	}
	_, err = s.gw.RemoveLines(ctx, cartID, ids)
	return err
}

// apply installs a response produced by call seq for cartID. A response for
// a create may replace any handle; others only land on the handle they were
// issued for. Responses arriving after ctx is done are abandoned.
func (s *Service) apply(ctx context.Context, store *state.Store, cartID string, seq uint64, remote *domain.Cart, create bool) (state.Snapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		s.dropPending(store, seq)
		return state.Snapshot{}, false, err
	}
	snap, applied := store.Update(func(cur state.Snapshot) (state.Snapshot, bool) {
		if seq <= cur.CartSeq || (!create && cur.CartID != cartID) {
			return cur, false
		}
		if remote == nil {
			return cur.WithoutCart(seq), true
		}
		cur.CartID = remote.ID
		cur.Cart = remote
		cur.CartSeq = seq
		return cur.SettlePending(seq), true
	})
	if !applied {
		s.metrics.StaleCartResponse()
		s.dropPending(store, seq)
		snap = store.Load()
	}
	return snap, applied, nil
}

// markPending lays mutations over the overlay of the cart cartID (or of a
// store still without a cart when cartID is empty).
func (s *Service) markPending(store *state.Store, cartID string, seq uint64, mutations []domain.LineMutation) {
	store.Update(func(cur state.Snapshot) (state.Snapshot, bool) {
		if cur.CartID != cartID || seq <= cur.CartSeq {
			return cur, false
		}
		for _, m := range mutations {
			cur = cur.WithPending(mutationKey(m), state.PendingEdit{
				Seq:           seq,
				LineID:        m.LineID,
				MerchandiseID: m.MerchandiseID,
				Quantity:      m.Quantity,
			})
		}
		return cur, true
	})
}

func (s *Service) dropPending(store *state.Store, seq uint64) {
	store.Update(func(cur state.Snapshot) (state.Snapshot, bool) {
		for _, p := range cur.Pending {
			if p.Seq == seq {
				return cur.DropPending(seq), true
			}
		}
		return cur, false
	})
}

func (s *Service) dropHandle(store *state.Store, cartID string, seq uint64) {
	store.Update(func(cur state.Snapshot) (state.Snapshot, bool) {
		if cur.CartID != cartID {
			return cur, false
		}
		return cur.WithoutCart(seq), true
	})
	s.lanes.Delete(cartID)
}

func (s *Service) checkedOut(ctx context.Context, cartID string) (bool, error) {
	if s.ledger == nil {
		return false, nil
	}
	gone, err := s.ledger.IsCheckedOut(ctx, domain.CartToken(cartID))
	if err != nil {
		return false, fmt.Errorf("check cart ledger: %w", err)
	}
	return gone, nil
}

// laneFor returns the live lane for key, replacing one retired by Sweep.
func (s *Service) laneFor(key any) *lane {
	for {
		v, ok := s.lanes.Load(key)
		if !ok {
			v, _ = s.lanes.LoadOrStore(key, newLane())
		}
		if l := v.(*lane); l.touch() {
			return l
		}
	}
}

func mutationKey(m domain.LineMutation) string {
	if m.LineID != "" {
		return m.LineID
	}
	return m.MerchandiseID
}

func resolve(c *domain.Cart, m domain.LineMutation) (domain.CartLine, bool) {
	if m.LineID != "" {
		return c.LineByID(m.LineID)
	}
	return c.LineByMerchandise(m.MerchandiseID)
}
