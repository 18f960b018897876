package httpserver

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront/internal/domain"
)

type addItemRequest struct {
	MerchandiseID string `json:"merchandiseId" binding:"required"`
	Quantity      int    `json:"quantity"`
}

type updateLinesRequest struct {
	Lines []domain.LineMutation `json:"lines"`
}

type cartResponse struct {
	Cart *domain.Cart `json:"cart"`
}

func (h *handler) getCart(c *gin.Context) {
	cart, err := h.carts.FetchCart(c.Request.Context(), storeFrom(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.respond(c, http.StatusOK, cartResponse{Cart: cart})
}

func (h *handler) addItem(c *gin.Context) {
	var req addItemRequest
	if err := bindJSON(c, "cart.addItem", &req); err != nil {
		h.fail(c, err)
		return
	}
	cart, err := h.carts.AddItem(c.Request.Context(), storeFrom(c), req.MerchandiseID, req.Quantity)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.respond(c, http.StatusOK, cartResponse{Cart: cart})
}

func (h *handler) updateLines(c *gin.Context) {
	// The sequence number is taken before the body is read so it reflects
	// when the user acted.
	seq := h.carts.NextSeq()
	var req updateLinesRequest
	if err := bindJSON(c, "cart.updateLines", &req); err != nil {
		h.fail(c, err)
		return
	}
	cart, err := h.carts.UpdateLines(c.Request.Context(), storeFrom(c), seq, req.Lines)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.respond(c, http.StatusOK, cartResponse{Cart: cart})
}

func (h *handler) clearCart(c *gin.Context) {
	h.carts.Clear(c.Request.Context(), storeFrom(c))
	h.respond(c, http.StatusOK, cartResponse{})
}

func (h *handler) checkout(c *gin.Context) {
	ctx := c.Request.Context()
	store := storeFrom(c)
	sess, err := h.sessions.CurrentSession(ctx, store)
	if err != nil {
		h.fail(c, err)
		return
	}
	email := ""
	if sess != nil {
		email = sess.User.Email
	}
	url, err := h.carts.Checkout(ctx, store, email)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.respond(c, http.StatusOK, gin.H{"checkoutUrl": url})
}
