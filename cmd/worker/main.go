package main

import (
	"context"
	"github.com/ariefcatur/go-marketplace-orders/internal/app"
	"github.com/ariefcatur/go-marketplace-orders/internal/config"
	kafkax "github.com/ariefcatur/go-marketplace-orders/internal/kafka"
	"github.com/ariefcatur/go-marketplace-orders/internal/logging"
	"github.com/ariefcatur/go-marketplace-orders/internal/observability"
	"github.com/ariefcatur/go-marketplace-orders/internal/payouts"
	"github.com/ariefcatur/go-marketplace-orders/internal/redisx"
	"github.com/ariefcatur/go-marketplace-orders/internal/tasks"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"log"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.Log, cfg.ServiceName+"-worker")
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logging.Sync(logger)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("worker stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.ServiceName+"-worker", cfg.OtelEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(c)
	}()

	// DB
	pool, store, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	// Redis (dedup)
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// settlement kirim notifikasi payout_completed / payout_failed
	pctx, cancelProducer := context.WithCancel(context.Background())
	defer cancelProducer()
	notifyProd := kafkax.NewProducer(cfg.KafkaBrokers, cfg.NotifyTopic, 1024, logger)
	notifyProd.Start(pctx)

	queue := &tasks.KafkaQueue{Producer: notifyProd, Service: cfg.ServiceName + "-worker"}
	engine := app.NewEngine(cfg, store, app.NewGateway(cfg.Gateway, logger), queue, logger)

	transfers := &payouts.CallbackHandler{
		Ledger:  engine.Payouts,
		Redis:   rdb,
		Service: "payouts",
		Log:     logger.Named("transfers"),
	}
	notify := &tasks.NotifyHandler{
		Redis:   rdb,
		Deliver: tasks.LogDeliverer{Log: logger.Named("deliver")},
		Service: "notify",
		Log:     logger.Named("notify"),
	}

	w := cfg.Worker
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c := kafkax.NewConsumer(cfg.KafkaBrokers, w.TransferGroup, cfg.TransferTopic, w.Workers, logger)
		logger.Info("transfer consumer started",
			zap.String("group", w.TransferGroup), zap.String("topic", cfg.TransferTopic), zap.Int("workers", w.Workers))
		return c.Start(gctx, transfers.Handle)
	})
	g.Go(func() error {
		c := kafkax.NewConsumer(cfg.KafkaBrokers, w.NotifyGroup, cfg.NotifyTopic, w.Workers, logger)
		logger.Info("notify consumer started",
			zap.String("group", w.NotifyGroup), zap.String("topic", cfg.NotifyTopic), zap.Int("workers", w.Workers))
		return c.Start(gctx, notify.Handle)
	})
	err = g.Wait()
	logger.Info("shutting down consumers...")

	notifyProd.Close()
	notifyProd.WaitClosed()
	return err
}
