package cart

import "context"

// Repository is the ledger of carts that have been turned into orders. Cart
// contents live at the commerce platform; only the checkout fact is local.
type Repository interface {
	MarkCheckedOut(ctx context.Context, cartToken, orderID string) error
	IsCheckedOut(ctx context.Context, cartToken string) (bool, error)
}
