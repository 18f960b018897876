package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"storefront/internal/config"
	"storefront/internal/db"
	"storefront/internal/events"
	"storefront/internal/gateway/commerce"
	"storefront/internal/gateway/identity"
	"storefront/internal/httpserver"
	"storefront/internal/metrics"
	"storefront/internal/migrate"
	cartrepo "storefront/internal/repository/cart"
	deliveryrepo "storefront/internal/repository/delivery"
	orderrepo "storefront/internal/repository/order"
	profilerepo "storefront/internal/repository/profile"
	cartsvc "storefront/internal/service/cart"
	ordersvc "storefront/internal/service/order"
	sessionsvc "storefront/internal/service/session"
	webhooksvc "storefront/internal/service/webhook"
	"storefront/internal/state"
)

const (
	sweepInterval     = time.Minute
	deliveryRetention = 7 * 24 * time.Hour
)

func main() {
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.LUTC|log.Lshortfile)
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Printf("load .env: %v", err)
	}
	cfg := config.FromEnv()
	if cfg.SessionSecret == "" {
		logger.Fatalf("SESSION_SECRET is required")
	}
	if cfg.CommerceWebhookSecret == "" {
		logger.Printf("COMMERCE_WEBHOOK_SECRET is empty; every webhook will be rejected")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbpool, err := db.Connect(ctx, cfg.DBConnString)
	if err != nil {
		logger.Fatalf("connect to db: %v", err)
	}
	defer dbpool.Close()
	if err := migrate.Apply(ctx, dbpool); err != nil {
		logger.Fatalf("apply migrations: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	bus, err := newBus(cfg, logger)
	if err != nil {
		logger.Fatalf("connect event bus: %v", err)
	}
	defer bus.Close()

	commerceClient := commerce.New(commerce.Config{
		StoreURL:        cfg.CommerceStoreURL,
		APIVersion:      cfg.CommerceAPIVersion,
		StorefrontToken: cfg.CommerceStorefrontToken,
		AdminToken:      cfg.CommerceAdminToken,
		Timeout:         cfg.GatewayTimeout,
		MaxAttempts:     cfg.GatewayMaxAttempts,
		Metrics:         m,
		Logger:          logger,
	})
	identityClient := identity.New(identity.Config{
		BaseURL:     cfg.IdentityURL,
		AnonKey:     cfg.IdentityAnonKey,
		ServiceKey:  cfg.IdentityServiceKey,
		Timeout:     cfg.GatewayTimeout,
		MaxAttempts: cfg.GatewayMaxAttempts,
		Metrics:     m,
		Logger:      logger,
	})

	checkouts := cartrepo.NewPostgres(dbpool)
	orderRepo := orderrepo.NewPostgres(dbpool)
	visitors := state.NewRegistry(m)

	cartService := cartsvc.New(commerceClient, checkouts, m, logger)
	sessionService := sessionsvc.New(identityClient, profilerepo.NewPostgres(dbpool, logger), m, logger)
	orderService := ordersvc.New(commerceClient, orderRepo)
	webhookService := webhooksvc.New(webhooksvc.Options{
		Secret:     cfg.CommerceWebhookSecret,
		Carts:      checkouts,
		Orders:     orderRepo,
		Deliveries: deliveryrepo.NewPostgres(dbpool),
		Bus:        bus,
		Metrics:    m,
		Logger:     logger,
	})

	unsubscribe, err := cartService.Subscribe(bus, visitors)
	if err != nil {
		logger.Fatalf("subscribe checkout events: %v", err)
	}
	defer unsubscribe()

	srv, err := httpserver.New(cfg.HTTPAddr, logger, dbpool, httpserver.Deps{
		Carts:        cartService,
		Sessions:     sessionService,
		Orders:       orderService,
		Webhooks:     webhookService,
		Visitors:     visitors,
		Cookies:      sessionsvc.NewCodec(cfg.SessionSecret),
		Gatherer:     reg,
		CORSOrigins:  cfg.CORSOrigins,
		CookieSecure: cfg.CookieSecure,
	})
	if err != nil {
		logger.Fatalf("init server: %v", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Printf("starting http server on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Printf("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		sweep(gctx, logger, cfg.VisitorIdleTimeout, visitors, cartService, webhookService)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Printf("server error: %v", err)
	} else {
		logger.Printf("server stopped")
	}
}

// newBus connects to NATS when configured so checkout events reach every
// replica; a single process falls back to in-process delivery.
func newBus(cfg config.Config, logger *log.Logger) (events.Bus, error) {
	if cfg.NATSURL == "" {
		logger.Printf("NATS_URL not set, using in-process event bus")
		return events.NewLocal(), nil
	}
	return events.DialNATS(cfg.NATSURL, logger)
}

// sweep forgets idle visitors and dispatch lanes and prunes old webhook
// deliveries until ctx is done.
func sweep(ctx context.Context, logger *log.Logger, idle time.Duration, visitors *state.Registry, carts *cartsvc.Service, webhooks *webhooksvc.Service) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			cutoff := now.Add(-idle)
			gone := visitors.Sweep(cutoff)
			lanes := carts.Sweep(cutoff)
			pruned, err := webhooks.PruneDeliveries(ctx, now.Add(-deliveryRetention))
			if err != nil {
				logger.Printf("sweep: prune deliveries err=%v", err)
			}
			if gone+lanes > 0 || pruned > 0 {
				logger.Printf("sweep: visitors=%d lanes=%d deliveries=%d", gone, lanes, pruned)
			}
		}
	}
}
