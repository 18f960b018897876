package httpserver

import (
	"errors"
	"io"
	"log"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	cartsvc "storefront/internal/service/cart"
	ordersvc "storefront/internal/service/order"
	sessionsvc "storefront/internal/service/session"
	webhooksvc "storefront/internal/service/webhook"
	"storefront/internal/state"
)

// Deps carries the services the router exposes.
type Deps struct {
	Carts    *cartsvc.Service
	Sessions *sessionsvc.Service
	Orders   *ordersvc.Service
	Webhooks *webhooksvc.Service
	Visitors *state.Registry
	Cookies  *sessionsvc.Codec

	Gatherer     prometheus.Gatherer
	CORSOrigins  []string
	CookieSecure bool
}

func (d Deps) validate() error {
	switch {
	case d.Carts == nil:
		return errors.New("httpserver: cart service required")
	case d.Sessions == nil:
		return errors.New("httpserver: session service required")
	case d.Orders == nil:
		return errors.New("httpserver: order service required")
	case d.Webhooks == nil:
		return errors.New("httpserver: webhook service required")
	case d.Visitors == nil:
		return errors.New("httpserver: visitor registry required")
	case d.Cookies == nil:
		return errors.New("httpserver: cookie codec required")
	}
	return nil
}

// buildRouter wires routes for the API.
func buildRouter(logger *log.Logger, db pinger, deps Deps) (*gin.Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.LoggerWithWriter(logger.Writer()), gin.Recovery(), requestID())
	// Preflight requests never match a route, so CORS sits on the engine.
	if len(deps.CORSOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     deps.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", requestIDHeader},
			ExposeHeaders:    []string{requestIDHeader},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/healthz", healthHandler)
	router.GET("/readyz", readyHandler(db))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	h := &handler{
		carts:    deps.Carts,
		sessions: deps.Sessions,
		orders:   deps.Orders,
		webhooks: deps.Webhooks,
		visitors: deps.Visitors,
		cookies:  deps.Cookies,
		secure:   deps.CookieSecure,
		logger:   logger,
	}

	router.POST("/webhooks/commerce", h.webhook)

	api := router.Group("/api")
	api.Use(h.visitor())

	api.GET("/cart", h.getCart)
	api.DELETE("/cart", h.clearCart)
	api.POST("/cart/items", h.addItem)
	api.PUT("/cart/lines", h.updateLines)
	api.POST("/cart/checkout", h.checkout)

	api.POST("/auth/challenge", h.requestChallenge)
	api.POST("/auth/verify", h.verifyChallenge)
	api.POST("/auth/signin", h.signIn)
	api.POST("/auth/password", h.updatePassword)
	api.POST("/auth/signout", h.signOut)
	api.GET("/auth/session", h.currentSession)

	api.GET("/profile", h.getProfile)
	api.PUT("/profile", h.saveProfile)
	api.GET("/account", h.getAccount)
	api.PUT("/account", h.updateAccount)
	api.GET("/orders", h.listOrders)

	return router, nil
}

const requestIDHeader = "X-Request-Id"

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)
		c.Next()
	}
}
