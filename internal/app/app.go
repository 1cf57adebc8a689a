// Package app wires the engine's components from configuration. The api,
// worker and marketctl binaries all build on it.
package app

import (
	"context"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/config"
	"github.com/ariefcatur/go-marketplace-orders/internal/domain"
	"github.com/ariefcatur/go-marketplace-orders/internal/gateway"
	"github.com/ariefcatur/go-marketplace-orders/internal/inventory"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/ariefcatur/go-marketplace-orders/internal/payouts"
	"github.com/ariefcatur/go-marketplace-orders/internal/postgres"
	"github.com/ariefcatur/go-marketplace-orders/internal/retry"
	"github.com/ariefcatur/go-marketplace-orders/internal/tasks"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type Engine struct {
	Store   domain.Store
	Stock   *inventory.Ledger
	Payouts *payouts.Ledger
	Machine *orders.StatusMachine
	Orders  *orders.Manager
}

// NewEngine builds the ledgers and the order manager on one store. q may be
// nil, in which case notifications are dropped.
func NewEngine(cfg config.Config, store domain.Store, gw gateway.Gateway, q tasks.Enqueuer, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	fees := domain.FeePolicy{Rate: cfg.PlatformFeeRate}
	stock := &inventory.Ledger{Store: store, Log: log.Named("inventory")}
	led := &payouts.Ledger{Store: store, Gateway: gw, Tasks: q, Fees: fees, Log: log.Named("payouts")}
	sm := &orders.StatusMachine{Store: store, Stock: stock, Balances: led, Tasks: q, Log: log.Named("status")}
	return &Engine{
		Store:   store,
		Stock:   stock,
		Payouts: led,
		Machine: sm,
		Orders: &orders.Manager{
			Store:       store,
			Stock:       stock,
			Machine:     sm,
			Gateway:     gw,
			Tasks:       q,
			Fees:        fees,
			ShippingFee: cfg.ShippingFee,
			Log:         log.Named("orders"),
		},
	}
}

// OpenStore connects to Postgres and returns the pool with a Store over it.
func OpenStore(ctx context.Context, cfg config.Config, log *zap.Logger) (*pgxpool.Pool, *postgres.Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := postgres.Connect(ctx, cfg.PostgresDSN, postgres.PoolOptions{
		AppName:   cfg.ServiceName,
		MaxConns:  cfg.PGMaxConns,
		SlowQuery: cfg.PGSlowQuery,
		Log:       log,
	})
	if err != nil {
		return nil, nil, err
	}
	return pool, &postgres.Store{DB: pool, LockTimeout: cfg.LockTimeout}, nil
}

// NewGateway returns the HTTP gateway client. Without a secret it falls back
// to the in-memory fake, which never confirms a charge on its own.
func NewGateway(cfg config.GatewayConfig, log *zap.Logger) gateway.Gateway {
	if cfg.Secret == "" {
		log.Warn("GATEWAY_SECRET not set, using in-memory fake gateway")
		return gateway.NewFake()
	}
	return gateway.NewClient(cfg.BaseURL, cfg.Secret, cfg.RPS, log.Named("gateway"))
}

func RetryConfig(cfg config.RetryConfig) retry.Config {
	rc := retry.DefaultConfig
	if cfg.MaxAttempts > 0 {
		rc.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialDelay > 0 {
		rc.InitialDelay = cfg.InitialDelay
	}
	if cfg.MaxDelay > 0 {
		rc.MaxDelay = cfg.MaxDelay
	}
	return rc
}
