package main

import (
	"context"
	"errors"
	"github.com/ariefcatur/go-marketplace-orders/internal/app"
	"github.com/ariefcatur/go-marketplace-orders/internal/config"
	"github.com/ariefcatur/go-marketplace-orders/internal/httpx"
	kafkax "github.com/ariefcatur/go-marketplace-orders/internal/kafka"
	"github.com/ariefcatur/go-marketplace-orders/internal/logging"
	"github.com/ariefcatur/go-marketplace-orders/internal/observability"
	"github.com/ariefcatur/go-marketplace-orders/internal/payouts"
	"github.com/ariefcatur/go-marketplace-orders/internal/postgres"
	"github.com/ariefcatur/go-marketplace-orders/internal/redisx"
	"github.com/ariefcatur/go-marketplace-orders/internal/tasks"
	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.Log, cfg.ServiceName)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logging.Sync(logger)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.ServiceName, cfg.OtelEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(c)
	}()

	if cfg.AutoMigrate {
		if err := postgres.MigrateUp(cfg.PostgresDSN); err != nil {
			return err
		}
		logger.Info("migrations applied")
	}

	// DB
	pool, store, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producers: notifikasi user & callback transfer (dua topic berbeda)
	pctx, cancelProducers := context.WithCancel(context.Background())
	defer cancelProducers()
	notifyProd := kafkax.NewProducer(cfg.KafkaBrokers, cfg.NotifyTopic, 1024, logger)
	notifyProd.Start(pctx)
	transferProd := kafkax.NewProducer(cfg.KafkaBrokers, cfg.TransferTopic, 256, logger)
	transferProd.Start(pctx)

	queue := &tasks.KafkaQueue{Producer: notifyProd, Service: cfg.ServiceName}
	engine := app.NewEngine(cfg, store, app.NewGateway(cfg.Gateway, logger), queue, logger)
	rc := app.RetryConfig(cfg.Retry)

	router := httpx.NewRouter(logger)
	callbacks := &payouts.CallbackQueue{Producer: transferProd, Service: cfg.ServiceName}
	ph := &httpx.PayoutsHandler{
		Ledger:        engine.Payouts,
		Transfers:     callbacks.Publish,
		WebhookSecret: cfg.Gateway.Secret,
		Retry:         rc,
		Log:           logger.Named("http"),
	}
	ph.RegisterWebhooks(router)
	router.Group(func(r chi.Router) {
		r.Use(httpx.RequireActor)
		(&httpx.OrdersHandler{
			Orders:  engine.Orders,
			Machine: engine.Machine,
			Redis:   rdb,
			Retry:   rc,
			Log:     logger.Named("http"),
		}).Register(r)
		ph.Register(r)
		(&httpx.InventoryHandler{Stock: engine.Stock, Log: logger.Named("http")}).Register(r)
	})

	// HTTP server
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           otelhttp.NewHandler(router, cfg.ServiceName),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(c)
	})
	err = g.Wait()

	notifyProd.Close() // tutup inbox -> flush & close writer
	transferProd.Close()
	notifyProd.WaitClosed()
	transferProd.WaitClosed()
	return err
}
