package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/bootstrap"
	checkoutapp "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/checkout/application"
	checkouthttp "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/checkout/infrastructure/http"
	checkoutpg "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/checkout/infrastructure/postgres"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/config"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/db"
	inventoryapp "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/inventory/application"
	inventorypg "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/inventory/infrastructure/postgres"
	notifyapp "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/notification/application"
	notifypg "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/notification/infrastructure/postgres"
	orderapp "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/order/application"
	orderhttp "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/order/infrastructure/http"
	orderpg "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/order/infrastructure/postgres"
	paymentapp "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/payment/application"
	paymenthttp "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/payment/infrastructure/http"
	paymentpg "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/payment/infrastructure/postgres"
	payoutapp "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/payout/application"
	payouthttp "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/payout/infrastructure/http"
	payoutpg "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/payout/infrastructure/postgres"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/realtime"
	tasksapp "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/tasks/application"
	taskskafka "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/tasks/infrastructure/kafka"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/pkg/health"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/pkg/httpx"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/pkg/idempotency"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/pkg/logging"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/pkg/metrics"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/pkg/outbox"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/pkg/shutdown"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/pkg/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info").Error("config invalid", "err", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel)

	ctx, cancel := shutdown.WithSignals(context.Background(), log)
	defer cancel()

	tp, err := tracing.Init(ctx, "checkout-api", cfg.OTLPEndpoint, log)
	if err != nil {
		log.Error("otel init failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	// Postgres
	pool, err := db.Connect(ctx, cfg.PGURL)
	if err != nil {
		log.Error("pg connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	idem := idempotency.NewStore(rdb, 24*time.Hour)

	// Kafka producer
	writer := taskskafka.NewWriter(cfg.KafkaBrokers)
	defer writer.Close()

	gw, err := bootstrap.NewGateway(log, cfg.Gateway)
	if err != nil {
		log.Error("gateway init failed", "err", err)
		os.Exit(1)
	}

	// Orders, stock, payment reconciliation
	orders := orderapp.NewService(log, orderpg.NewRepository(log, pool))
	inventory := inventoryapp.NewService(log, inventorypg.NewRepository(log, pool))
	audit := paymentpg.NewAuditLog(log, pool)
	reconciler := paymentapp.NewReconciler(log, orders, gw, audit)
	watcher := paymentapp.NewWatcher(log, reconciler, gw, paymentapp.WatcherConfig{
		Margin:    cfg.Checkout.WatchMargin,
		MaxActive: cfg.Checkout.WatchMax,
	})
	invalidator := paymentapp.NewInvalidator(log, orders, gw, cfg.Checkout.SweepInterval)

	checkout := checkoutapp.NewService(log, bootstrap.CheckoutConfig(cfg.Checkout), checkoutapp.Deps{
		Catalog:   checkoutpg.NewCatalog(log, pool),
		Coupons:   checkoutpg.NewCoupons(log, pool),
		Inventory: inventory,
		Orders:    orders,
		Pix:       gw,
		Card:      gw,
		Watcher:   watcher,
	})

	// Payouts and post-commit work
	notifier := notifyapp.NewService(log, notifypg.NewStore(log, pool), bootstrap.NewMailer(log, cfg.Mail), cfg.Mail.SellerEmail)
	payouts := payoutapp.NewService(log, bootstrap.PayoutConfig(cfg), payoutpg.NewRepository(log, pool), gw, notifier).WithAudit(audit)
	publisher := realtime.NewPublisher(log, rdb)
	tasks := tasksapp.NewHandler(log, orders, notifier, publisher, payouts)
	store := outbox.NewPgStore(log, pool, 10)
	consumer := taskskafka.NewConsumer(log, taskskafka.NewReader(cfg.KafkaBrokers, cfg.EventsTopic, cfg.ConsumerID), tasks, idem, store)
	relay := outbox.NewRelay(log, store, outbox.NewDispatcher(log, writer, cfg.EventsTopic), "checkout-api-relay")

	monitor := health.NewMonitor(log, map[string]health.Check{
		"postgres": pool.Ping,
		"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	})
	grpcSrv, err := monitor.Serve(cfg.GRPCAddr)
	if err != nil {
		log.Error("grpc health listen failed", "err", err)
		os.Exit(1)
	}
	defer grpcSrv.GracefulStop()

	// HTTP
	paymentH := paymenthttp.NewHandler(log, reconciler)
	payoutH := payouthttp.NewHandler(log, payouts)

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)
	r.Use(httpx.Canonicalize(httpx.MergeAliases(paymenthttp.WebhookAliases, payouthttp.WebhookAliases)))
	r.Use(metrics.Middleware)
	r.Handle("/metrics", metrics.Handler())
	r.Handle("/healthz", monitor)
	r.Route("/api/checkout", func(r chi.Router) {
		r.Use(idempotency.Middleware(log, idem))
		r.Mount("/", checkouthttp.NewHandler(log, checkout).Routes())
	})
	r.Mount("/api/orders", orderhttp.NewHandler(log, orders).WithEvents(realtime.NewHandler(log, publisher, orders).Stream).Routes())
	// Handle keeps the route path intact, so both routers see their own prefixes.
	paymentHooks, payoutHooks := paymentH.Routes(), payoutH.Routes()
	r.Route("/webhooks", func(r chi.Router) {
		r.Handle("/pix", paymentHooks)
		r.Handle("/card", paymentHooks)
		r.Handle("/payout", payoutHooks)
	})
	paymentAdmin, payoutAdmin := paymentH.AdminRoutes(), payoutH.AdminRoutes()
	r.Route("/api/admin", func(r chi.Router) {
		r.Use(httpx.RequireToken(cfg.AdminToken))
		r.Handle("/orders/*", paymentAdmin)
		r.Handle("/payouts/*", payoutAdmin)
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
	}

	g := shutdown.NewGroup(log)
	g.Go("relay", cancel, func() error { return relay.Run(ctx) })
	g.Go("watcher", cancel, func() error { return watcher.Run(ctx) })
	g.Go("invalidator", cancel, func() error { return invalidator.Run(ctx) })
	g.Go("consumer", cancel, func() error { return consumer.Run(ctx) })
	g.Go("health", cancel, func() error { return monitor.Run(ctx, 15*time.Second) })

	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr, "gateway", cfg.Gateway.Mode)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	g.Wait()
	log.Info("checkout-api shutdown complete")
}
