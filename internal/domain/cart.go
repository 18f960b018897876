package domain

import "strings"

// Money is an amount as reported by the commerce platform. Amounts are never
// computed locally, so the decimal string is kept verbatim.
type Money struct {
	Amount       string `json:"amount"`
	CurrencyCode string `json:"currencyCode"`
}

// Cart mirrors the remote cart entity owned by the commerce platform.
type Cart struct {
	ID          string     `json:"id"`
	CheckoutURL string     `json:"checkoutUrl"`
	Subtotal    Money      `json:"subtotal"`
	Total       Money      `json:"total"`
	Lines       []CartLine `json:"lines"`
}

// CartLine is a single merchandise line of a Cart.
type CartLine struct {
	ID            string `json:"id"`
	MerchandiseID string `json:"merchandiseId"`
	Quantity      int    `json:"quantity"`
	UnitPrice     Money  `json:"unitPrice"`
	Total         Money  `json:"total"`
	Title         string `json:"title"`
	VariantTitle  string `json:"variantTitle,omitempty"`
	ImageURL      string `json:"imageUrl,omitempty"`
	ProductHandle string `json:"productHandle,omitempty"`
}

// LineInput seeds a new cart line.
type LineInput struct {
	MerchandiseID string `json:"merchandiseId"`
	Quantity      int    `json:"quantity"`
}

// LineMutation sets the target quantity of a line, addressed either by line id
// or by merchandise id. A zero quantity removes the line.
type LineMutation struct {
	LineID        string `json:"lineId,omitempty"`
	MerchandiseID string `json:"merchandiseId,omitempty"`
	Quantity      int    `json:"quantity"`
}

// LineByID returns the line with the given id.
func (c *Cart) LineByID(id string) (CartLine, bool) {
	if c == nil {
		return CartLine{}, false
	}
	for _, l := range c.Lines {
		if l.ID == id {
			return l, true
		}
	}
	return CartLine{}, false
}

// LineByMerchandise returns the line holding the given merchandise.
func (c *Cart) LineByMerchandise(merchandiseID string) (CartLine, bool) {
	if c == nil {
		return CartLine{}, false
	}
	for _, l := range c.Lines {
		if l.MerchandiseID == merchandiseID {
			return l, true
		}
	}
	return CartLine{}, false
}

// TotalQuantity sums line quantities.
func (c *Cart) TotalQuantity() int {
	if c == nil {
		return 0
	}
	n := 0
	for _, l := range c.Lines {
		n += l.Quantity
	}
	return n
}

const cartGIDPrefix = "gid://shopify/Cart/"

// CartToken reduces a cart handle to the bare token the commerce platform uses
// in order payloads. Handles are global ids with an optional key query
// ("gid://shopify/Cart/<token>?key=..."); webhooks only carry "<token>".
func CartToken(handle string) string {
	token := strings.TrimPrefix(strings.TrimSpace(handle), cartGIDPrefix)
	if i := strings.IndexByte(token, '?'); i >= 0 {
		token = token[:i]
	}
	return token
}
