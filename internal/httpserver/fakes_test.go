package httpserver

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"storefront/internal/domain"
	"storefront/internal/gateway/commerce"
	deliveryrepo "storefront/internal/repository/delivery"
)

const unitPriceCents = 1000

type fakeCommerce struct {
	mu     sync.Mutex
	next   int
	carts  map[string]*domain.Cart
	orders []domain.OrderSummary
	fail   error
}

func newFakeCommerce() *fakeCommerce {
	return &fakeCommerce{carts: map[string]*domain.Cart{}}
}

func (f *fakeCommerce) CreateCart(_ context.Context, lines []domain.LineInput) (*domain.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	f.next++
	c := &domain.Cart{
		ID:          fmt.Sprintf("gid://shopify/Cart/c%d?key=k%d", f.next, f.next),
		CheckoutURL: fmt.Sprintf("https://shop.example/checkouts/c%d", f.next),
	}
	f.carts[c.ID] = c
	f.addLocked(c, lines)
	return clone(c), nil
}

func (f *fakeCommerce) FetchCart(_ context.Context, id string) (*domain.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	if !strings.HasPrefix(id, "gid://shopify/Cart/") {
		return nil, domain.Rejected("commerce.cart", "Invalid global id '"+id+"'")
	}
	c, ok := f.carts[id]
	if !ok {
		return nil, nil
	}
	return clone(c), nil
}

func (f *fakeCommerce) AddLines(_ context.Context, id string, lines []domain.LineInput) (*domain.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.carts[id]
	if !ok {
		return nil, domain.Rejected("commerce.addLines", "The specified cart does not exist.")
	}
	f.addLocked(c, lines)
	return clone(c), nil
}

func (f *fakeCommerce) UpdateLines(_ context.Context, id string, updates []commerce.LineUpdate) (*domain.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.carts[id]
	if !ok {
		return nil, domain.Rejected("commerce.updateLines", "The specified cart does not exist.")
	}
	for _, u := range updates {
		for i := range c.Lines {
			if c.Lines[i].ID == u.ID {
				c.Lines[i].Quantity = u.Quantity
			}
		}
	}
	total(c)
	return clone(c), nil
}

func (f *fakeCommerce) RemoveLines(_ context.Context, id string, lineIDs []string) (*domain.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.carts[id]
	if !ok {
		return nil, domain.Rejected("commerce.removeLines", "The specified cart does not exist.")
	}
	kept := c.Lines[:0]
	for _, l := range c.Lines {
		drop := false
		for _, rid := range lineIDs {
			drop = drop || l.ID == rid
		}
		if !drop {
			kept = append(kept, l)
		}
	}
	c.Lines = kept
	total(c)
	return clone(c), nil
}

func (f *fakeCommerce) UpdateBuyerIdentity(_ context.Context, id, _ string) (*domain.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.carts[id]
	if !ok {
		return nil, domain.Rejected("commerce.buyerIdentity", "The specified cart does not exist.")
	}
	return clone(c), nil
}

func (f *fakeCommerce) OrdersByEmail(_ context.Context, _ string, _ int) ([]domain.OrderSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.OrderSummary(nil), f.orders...), nil
}

func (f *fakeCommerce) addLocked(c *domain.Cart, lines []domain.LineInput) {
	for _, in := range lines {
		merged := false
		for i := range c.Lines {
			if c.Lines[i].MerchandiseID == in.MerchandiseID {
				c.Lines[i].Quantity += in.Quantity
				merged = true
			}
		}
		if !merged {
			f.next++
			c.Lines = append(c.Lines, domain.CartLine{
				ID:            fmt.Sprintf("gid://shopify/CartLine/l%d", f.next),
				MerchandiseID: in.MerchandiseID,
				Quantity:      in.Quantity,
				Title:         in.MerchandiseID,
			})
		}
	}
	total(c)
}

func total(c *domain.Cart) {
	cents := 0
	for _, l := range c.Lines {
		cents += l.Quantity * unitPriceCents
	}
	amount := fmt.Sprintf("%d.%02d", cents/100, cents%100)
	c.Subtotal = domain.Money{Amount: amount, CurrencyCode: "JPY"}
	c.Total = c.Subtotal
}

func clone(c *domain.Cart) *domain.Cart {
	cp := *c
	cp.Lines = append([]domain.CartLine(nil), c.Lines...)
	return &cp
}

type fakeIdentity struct {
	mu         sync.Mutex
	getUserErr error
	logouts    int
}

const goodPassword = "correct horse"

func (f *fakeIdentity) session(email string) *domain.CustomerSession {
	return &domain.CustomerSession{
		AccessToken:  "at:" + email,
		RefreshToken: "rt:" + email,
		ExpiresAt:    time.Now().Add(time.Hour),
		User:         domain.User{ID: "u:" + email, Email: email},
		Scope:        domain.ScopeGeneral,
	}
}

func (f *fakeIdentity) RequestOTP(context.Context, string, bool) error { return nil }
func (f *fakeIdentity) RequestRecovery(context.Context, string) error  { return nil }

func (f *fakeIdentity) VerifyOTP(_ context.Context, email, token, _ string) (*domain.CustomerSession, error) {
	if token != "123456" {
		return nil, domain.InvalidChallenge("identity.verify", "Token has expired or is invalid")
	}
	return f.session(email), nil
}

func (f *fakeIdentity) SignInWithPassword(_ context.Context, email, password string) (*domain.CustomerSession, error) {
	if password != goodPassword {
		return nil, domain.Rejected("identity.signIn", "Invalid login credentials")
	}
	return f.session(email), nil
}

func (f *fakeIdentity) Refresh(context.Context, string) (*domain.CustomerSession, error) {
	return nil, domain.Unauthorized("identity.refresh", "Invalid Refresh Token")
}

func (f *fakeIdentity) GetUser(_ context.Context, accessToken string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getUserErr != nil {
		return nil, f.getUserErr
	}
	email, ok := strings.CutPrefix(accessToken, "at:")
	if !ok {
		return nil, domain.Unauthorized("identity.user", "invalid JWT")
	}
	return &domain.User{ID: "u:" + email, Email: email}, nil
}

func (f *fakeIdentity) UpdatePassword(context.Context, string, string) error { return nil }

func (f *fakeIdentity) Logout(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts++
	return nil
}

func (f *fakeIdentity) AdminGetUser(_ context.Context, id string) (*domain.User, error) {
	email, ok := strings.CutPrefix(id, "u:")
	if !ok {
		return nil, domain.Rejected("identity.admin_get_user", "User not found")
	}
	return &domain.User{ID: id, Email: email, FirstName: "Ada"}, nil
}

func (f *fakeIdentity) AdminUpdateUser(_ context.Context, id, first, last string) (*domain.User, error) {
	return &domain.User{ID: id, FirstName: first, LastName: last}, nil
}

type memoryLedger struct {
	mu      sync.Mutex
	checked map[string]string
}

func (m *memoryLedger) MarkCheckedOut(_ context.Context, token, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.checked == nil {
		m.checked = map[string]string{}
	}
	m.checked[token] = orderID
	return nil
}

func (m *memoryLedger) IsCheckedOut(_ context.Context, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.checked[token]
	return ok, nil
}

type memoryOrders struct {
	mu     sync.Mutex
	orders map[string]domain.Order
}

func (m *memoryOrders) Ensure(_ context.Context, id, topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.orders == nil {
		m.orders = map[string]domain.Order{}
	}
	if _, ok := m.orders[id]; !ok {
		m.orders[id] = domain.Order{ID: id, Status: domain.FulfillmentUnfulfilled, Topic: topic}
	}
	return nil
}

func (m *memoryOrders) SetStatus(_ context.Context, id string, status domain.FulfillmentStatus, topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.orders == nil {
		m.orders = map[string]domain.Order{}
	}
	m.orders[id] = domain.Order{ID: id, Status: status, Topic: topic}
	return nil
}

func (m *memoryOrders) GetMany(_ context.Context, ids []string) (map[string]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]domain.Order{}
	for _, id := range ids {
		if o, ok := m.orders[id]; ok {
			out[id] = o
		}
	}
	return out, nil
}

type memoryDeliveries struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (m *memoryDeliveries) Seen(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen[id], nil
}

func (m *memoryDeliveries) Record(_ context.Context, d deliveryrepo.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen == nil {
		m.seen = map[string]bool{}
	}
	if m.seen[d.ID] {
		return domain.ErrAlreadyExists
	}
	m.seen[d.ID] = true
	return nil
}

func (m *memoryDeliveries) Prune(context.Context, time.Time) (int64, error) { return 0, nil }

type memoryProfiles struct {
	mu       sync.Mutex
	profiles map[string]domain.Profile
}

func (m *memoryProfiles) Get(_ context.Context, id string) (*domain.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

func (m *memoryProfiles) Upsert(_ context.Context, p domain.Profile) (*domain.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.profiles == nil {
		m.profiles = map[string]domain.Profile{}
	}
	p.UpdatedAt = time.Now().UTC()
	m.profiles[p.CustomerID] = p
	return &p, nil
}
