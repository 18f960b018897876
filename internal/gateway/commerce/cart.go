package commerce

import (
	"context"
	"fmt"

	"storefront/internal/domain"
)

const cartFields = `
fragment CartFields on Cart {
  id
  checkoutUrl
  cost {
    subtotalAmount { amount currencyCode }
    totalAmount { amount currencyCode }
  }
  lines(first: 100) {
    nodes {
      id
      quantity
      cost {
        amountPerQuantity { amount currencyCode }
        totalAmount { amount currencyCode }
      }
      merchandise {
        ... on ProductVariant {
          id
          title
          image { url }
          product { title handle }
        }
      }
    }
  }
}
`

const (
	cartQuery = `query Cart($id: ID!) { cart(id: $id) { ...CartFields } }` + cartFields

	cartCreateMutation = `mutation CartCreate($input: CartInput!) {
  cartCreate(input: $input) { cart { ...CartFields } userErrors { field message code } }
}` + cartFields

	cartLinesAddMutation = `mutation CartLinesAdd($cartId: ID!, $lines: [CartLineInput!]!) {
  cartLinesAdd(cartId: $cartId, lines: $lines) { cart { ...CartFields } userErrors { field message code } }
}` + cartFields

	cartLinesUpdateMutation = `mutation CartLinesUpdate($cartId: ID!, $lines: [CartLineUpdateInput!]!) {
  cartLinesUpdate(cartId: $cartId, lines: $lines) { cart { ...CartFields } userErrors { field message code } }
}` + cartFields

	cartLinesRemoveMutation = `mutation CartLinesRemove($cartId: ID!, $lineIds: [ID!]!) {
  cartLinesRemove(cartId: $cartId, lineIds: $lineIds) { cart { ...CartFields } userErrors { field message code } }
}` + cartFields

	cartBuyerIdentityMutation = `mutation CartBuyerIdentityUpdate($cartId: ID!, $buyerIdentity: CartBuyerIdentityInput!) {
  cartBuyerIdentityUpdate(cartId: $cartId, buyerIdentity: $buyerIdentity) { cart { ...CartFields } userErrors { field message code } }
}` + cartFields
)

type moneyV2 struct {
	Amount       string `json:"amount"`
	CurrencyCode string `json:"currencyCode"`
}

type cartNode struct {
	ID          string `json:"id"`
	CheckoutURL string `json:"checkoutUrl"`
	Cost        struct {
		SubtotalAmount moneyV2 `json:"subtotalAmount"`
		TotalAmount    moneyV2 `json:"totalAmount"`
	} `json:"cost"`
	Lines struct {
		Nodes []lineNode `json:"nodes"`
	} `json:"lines"`
}

type lineNode struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
	Cost     struct {
		AmountPerQuantity moneyV2 `json:"amountPerQuantity"`
		TotalAmount       moneyV2 `json:"totalAmount"`
	} `json:"cost"`
	Merchandise struct {
		ID    string `json:"id"`
		Title string `json:"title"`
		Image *struct {
			URL string `json:"url"`
		} `json:"image"`
		Product struct {
			Title  string `json:"title"`
			Handle string `json:"handle"`
		} `json:"product"`
	} `json:"merchandise"`
}

type cartPayload struct {
	Cart       *cartNode   `json:"cart"`
	UserErrors []userError `json:"userErrors"`
}

// LineUpdate sets an existing line to an absolute quantity.
type LineUpdate struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
}

// CreateCart creates a new remote cart seeded with lines. It is not retried
// automatically; a caller retry may create a second cart, which is harmless.
func (c *Client) CreateCart(ctx context.Context, lines []domain.LineInput) (*domain.Cart, error) {
	var data struct {
		CartCreate cartPayload `json:"cartCreate"`
	}
	vars := map[string]any{"input": map[string]any{"lines": toLineInputs(lines)}}
	if err := query(ctx, c.storefront, "cartCreate", cartCreateMutation, vars, false, &data); err != nil {
		return nil, err
	}
	return fromPayload("cartCreate", data.CartCreate)
}

// FetchCart returns the remote cart or nil when it no longer exists.
func (c *Client) FetchCart(ctx context.Context, id string) (*domain.Cart, error) {
	var data struct {
		Cart *cartNode `json:"cart"`
	}
	if err := query(ctx, c.storefront, "cart", cartQuery, map[string]any{"id": id}, true, &data); err != nil {
		return nil, err
	}
	if data.Cart == nil {
		return nil, nil
	}
	return toDomainCart(*data.Cart), nil
}

// AddLines adds merchandise that is not yet in the cart. Adding is a delta at
// the platform, so it is never retried automatically.
func (c *Client) AddLines(ctx context.Context, cartID string, lines []domain.LineInput) (*domain.Cart, error) {
	var data struct {
		CartLinesAdd cartPayload `json:"cartLinesAdd"`
	}
	vars := map[string]any{"cartId": cartID, "lines": toLineInputs(lines)}
	if err := query(ctx, c.storefront, "cartLinesAdd", cartLinesAddMutation, vars, false, &data); err != nil {
		return nil, err
	}
	return fromPayload("cartLinesAdd", data.CartLinesAdd)
}

// UpdateLines sets absolute quantities on existing lines.
func (c *Client) UpdateLines(ctx context.Context, cartID string, lines []LineUpdate) (*domain.Cart, error) {
	var data struct {
		CartLinesUpdate cartPayload `json:"cartLinesUpdate"`
	}
	vars := map[string]any{"cartId": cartID, "lines": lines}
	if err := query(ctx, c.storefront, "cartLinesUpdate", cartLinesUpdateMutation, vars, true, &data); err != nil {
		return nil, err
	}
	return fromPayload("cartLinesUpdate", data.CartLinesUpdate)
}

// RemoveLines deletes lines from the cart.
func (c *Client) RemoveLines(ctx context.Context, cartID string, lineIDs []string) (*domain.Cart, error) {
	var data struct {
		CartLinesRemove cartPayload `json:"cartLinesRemove"`
	}
	vars := map[string]any{"cartId": cartID, "lineIds": lineIDs}
	if err := query(ctx, c.storefront, "cartLinesRemove", cartLinesRemoveMutation, vars, true, &data); err != nil {
		return nil, err
	}
	return fromPayload("cartLinesRemove", data.CartLinesRemove)
}

// UpdateBuyerIdentity attaches the buyer's email to the cart before checkout.
func (c *Client) UpdateBuyerIdentity(ctx context.Context, cartID, email string) (*domain.Cart, error) {
	var data struct {
		CartBuyerIdentityUpdate cartPayload `json:"cartBuyerIdentityUpdate"`
	}
	vars := map[string]any{"cartId": cartID, "buyerIdentity": map[string]any{"email": email}}
	if err := query(ctx, c.storefront, "cartBuyerIdentityUpdate", cartBuyerIdentityMutation, vars, true, &data); err != nil {
		return nil, err
	}
	return fromPayload("cartBuyerIdentityUpdate", data.CartBuyerIdentityUpdate)
}

func toLineInputs(lines []domain.LineInput) []map[string]any {
	out := make([]map[string]any, 0, len(lines))
	for _, l := range lines {
		out = append(out, map[string]any{"merchandiseId": l.MerchandiseID, "quantity": l.Quantity})
	}
	return out
}

func fromPayload(op string, p cartPayload) (*domain.Cart, error) {
	if err := userErrorsToErr(op, p.UserErrors); err != nil {
		return nil, err
	}
	if p.Cart == nil {
		return nil, domain.Upstream("commerce."+op, fmt.Errorf("payload without cart"))
	}
	return toDomainCart(*p.Cart), nil
}

func toDomainCart(n cartNode) *domain.Cart {
	cart := &domain.Cart{
		ID:          n.ID,
		CheckoutURL: n.CheckoutURL,
		Subtotal:    domain.Money(n.Cost.SubtotalAmount),
		Total:       domain.Money(n.Cost.TotalAmount),
		Lines:       make([]domain.CartLine, 0, len(n.Lines.Nodes)),
	}
	for _, l := range n.Lines.Nodes {
		line := domain.CartLine{
			ID:            l.ID,
			MerchandiseID: l.Merchandise.ID,
			Quantity:      l.Quantity,
			UnitPrice:     domain.Money(l.Cost.AmountPerQuantity),
			Total:         domain.Money(l.Cost.TotalAmount),
			Title:         l.Merchandise.Product.Title,
			VariantTitle:  l.Merchandise.Title,
			ProductHandle: l.Merchandise.Product.Handle,
		}
		if l.Merchandise.Image != nil {
			line.ImageURL = l.Merchandise.Image.URL
		}
		cart.Lines = append(cart.Lines, line)
	}
	return cart
}
