package httpserver

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	cartsvc "storefront/internal/service/cart"
	ordersvc "storefront/internal/service/order"
	sessionsvc "storefront/internal/service/session"
	webhooksvc "storefront/internal/service/webhook"
	"storefront/internal/state"
)

const (
	visitorCookie = "sf_vid"
	cartCookie    = "sf_cart"
	sessionCookie = "sf_session"

	visitorCookieTTL = 365 * 24 * time.Hour
	cartCookieTTL    = 10 * 24 * time.Hour

	ctxStore       = "sf.store"
	ctxVisitor     = "sf.visitor"
	ctxKeepSession = "sf.keepSession"
)

type handler struct {
	carts    *cartsvc.Service
	sessions *sessionsvc.Service
	orders   *ordersvc.Service
	webhooks *webhooksvc.Service
	visitors *state.Registry
	cookies  *sessionsvc.Codec
	secure   bool
	logger   *log.Logger
}

// visitor binds the request to the visitor's state container, creating it on
// first sight and rehydrating it from durable cookies when it holds neither a
// session nor a cart the browser still remembers.
func (h *handler) visitor() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := c.Cookie(visitorCookie)
		if err != nil || uuid.Validate(id) != nil {
			id = uuid.NewString()
		}
		store, created := h.visitors.LoadOrCreate(id)
		if created {
			h.logger.Printf("visitor: new visitor=%s", id)
		}
		h.rehydrate(c, store)
		store.Touch(time.Now())

		c.Set(ctxVisitor, id)
		c.Set(ctxStore, store)
		c.Next()
	}
}

func (h *handler) rehydrate(c *gin.Context, store *state.Store) {
	snap := store.Load()
	ctx := c.Request.Context()
	var g errgroup.Group

	if raw, err := c.Cookie(sessionCookie); err == nil && raw != "" && snap.Session == nil {
		g.Go(func() error {
			saved, err := h.cookies.Decode(raw)
			if err != nil {
				return nil
			}
			if err := h.sessions.Resume(ctx, store, saved); err != nil {
				h.logger.Printf("visitor: resume session user=%s err=%v", saved.User.ID, err)
				c.Set(ctxKeepSession, true)
			}
			return nil
		})
	}
	if handle, err := c.Cookie(cartCookie); err == nil && handle != "" && snap.CartID == "" {
		g.Go(func() error {
			if _, err := h.carts.Resume(ctx, store, handle); err != nil {
				h.logger.Printf("visitor: resume cart err=%v", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func storeFrom(c *gin.Context) *state.Store {
	return c.MustGet(ctxStore).(*state.Store)
}

// writeCookies mirrors the visitor's state into durable cookies. It must run
// before the response body is written.
func (h *handler) writeCookies(c *gin.Context) {
	v, ok := c.Get(ctxStore)
	if !ok {
		return
	}
	snap := v.(*state.Store).Load()
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(visitorCookie, c.GetString(ctxVisitor), int(visitorCookieTTL.Seconds()), "/", "", h.secure, true)

	switch {
	case snap.CartID != "":
		c.SetCookie(cartCookie, snap.CartID, int(cartCookieTTL.Seconds()), "/", "", h.secure, true)
	case hasCookie(c, cartCookie):
		c.SetCookie(cartCookie, "", -1, "/", "", h.secure, true)
	}

	switch {
	case snap.Session != nil:
		value, err := h.cookies.Encode(snap.Session)
		if err != nil {
			h.logger.Printf("visitor: encode session cookie err=%v", err)
			return
		}
		c.SetCookie(sessionCookie, value, int(sessionsvc.CookieTTL.Seconds()), "/", "", h.secure, true)
	case c.GetBool(ctxKeepSession):
	case hasCookie(c, sessionCookie):
		c.SetCookie(sessionCookie, "", -1, "/", "", h.secure, true)
	}
}

func hasCookie(c *gin.Context, name string) bool {
	v, err := c.Cookie(name)
	return err == nil && v != ""
}
