package httpserver

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"storefront/internal/domain"
	sessionsvc "storefront/internal/service/session"
)

type accountRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

func (h *handler) getProfile(c *gin.Context) {
	p, err := h.sessions.Profile(c.Request.Context(), storeFrom(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.respond(c, http.StatusOK, gin.H{"profile": p})
}

func (h *handler) saveProfile(c *gin.Context) {
	var req sessionsvc.ProfileInput
	if err := bindJSON(c, "session.saveProfile", &req); err != nil {
		h.fail(c, err)
		return
	}
	p, err := h.sessions.SaveProfile(c.Request.Context(), storeFrom(c), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.respond(c, http.StatusOK, gin.H{"profile": p})
}

func (h *handler) getAccount(c *gin.Context) {
	user, err := h.sessions.Account(c.Request.Context(), storeFrom(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.respond(c, http.StatusOK, gin.H{"user": user})
}

func (h *handler) updateAccount(c *gin.Context) {
	var req accountRequest
	if err := bindJSON(c, "session.updateAccount", &req); err != nil {
		h.fail(c, err)
		return
	}
	user, err := h.sessions.UpdateAccount(c.Request.Context(), storeFrom(c), req.FirstName, req.LastName)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.respond(c, http.StatusOK, gin.H{"user": user})
}

func (h *handler) listOrders(c *gin.Context) {
	ctx := c.Request.Context()
	sess, err := h.sessions.CurrentSession(ctx, storeFrom(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	if sess == nil {
		h.fail(c, domain.Unauthorized("order.list", "sign in to see orders"))
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	orders, err := h.orders.List(ctx, sess.User.Email, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.respond(c, http.StatusOK, gin.H{"orders": orders})
}
