package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-marketplace-orders/internal/app"
	"github.com/ariefcatur/go-marketplace-orders/internal/config"
	"github.com/ariefcatur/go-marketplace-orders/internal/inventory"
	"github.com/ariefcatur/go-marketplace-orders/internal/logging"
	"github.com/ariefcatur/go-marketplace-orders/internal/postgres"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	sellerFlag := &cli.StringFlag{Name: "seller", Usage: "limit to one seller id"}
	return &cli.App{
		Name:  "marketctl",
		Usage: "operator tasks for the marketplace engine",
		Commands: []*cli.Command{
			{
				Name:  "migrate",
				Usage: "manage the database schema",
				Subcommands: []*cli.Command{
					{
						Name:  "up",
						Usage: "apply all pending migrations",
						Action: func(c *cli.Context) error {
							cfg, err := config.Load()
							if err != nil {
								return err
							}
							return postgres.MigrateUp(cfg.PostgresDSN)
						},
					},
					{
						Name:  "down",
						Usage: "roll back migrations",
						Flags: []cli.Flag{&cli.IntFlag{Name: "steps", Value: 1, Usage: "0 rolls back everything"}},
						Action: func(c *cli.Context) error {
							cfg, err := config.Load()
							if err != nil {
								return err
							}
							return postgres.MigrateDown(cfg.PostgresDSN, c.Int("steps"))
						},
					},
					{
						Name:  "version",
						Usage: "print the applied migration version",
						Action: func(c *cli.Context) error {
							cfg, err := config.Load()
							if err != nil {
								return err
							}
							v, dirty, err := postgres.MigrationVersion(cfg.PostgresDSN)
							if err != nil {
								return err
							}
							fmt.Fprintf(c.App.Writer, "version=%d dirty=%t\n", v, dirty)
							return nil
						},
					},
				},
			},
			{
				Name:  "stock-report",
				Usage: "print the inventory summary",
				Flags: []cli.Flag{sellerFlag},
				Action: withEngine(func(c *cli.Context, e *app.Engine) error {
					seller, err := optionalUUID(c.String("seller"))
					if err != nil {
						return err
					}
					r, err := e.Stock.Report(c.Context, seller)
					if err != nil {
						return err
					}
					return printJSON(c, r)
				}),
			},
			{
				Name:  "low-stock",
				Usage: "list products at or below a stock threshold",
				Flags: []cli.Flag{
					sellerFlag,
					&cli.IntFlag{Name: "threshold", Value: inventory.LowStockLimit},
				},
				Action: withEngine(func(c *cli.Context, e *app.Engine) error {
					seller, err := optionalUUID(c.String("seller"))
					if err != nil {
						return err
					}
					ps, err := e.Stock.LowStock(c.Context, c.Int("threshold"), seller)
					if err != nil {
						return err
					}
					return printJSON(c, ps)
				}),
			},
			{
				Name:  "process-payouts",
				Usage: "initiate transfers for pending payouts",
				Flags: []cli.Flag{&cli.IntFlag{Name: "limit", Value: 50}},
				Action: withEngine(func(c *cli.Context, e *app.Engine) error {
					res, err := e.Payouts.ProcessPending(c.Context, c.Int("limit"))
					failed := 0
					for _, r := range res {
						status := string(r.Payout.Status)
						if r.Err != nil {
							failed++
							status += " (" + r.Err.Error() + ")"
						}
						fmt.Fprintf(c.App.Writer, "%s %s %s\n", r.Payout.TransferReference, r.Payout.NetAmount.StringFixed(2), status)
					}
					if err != nil {
						return err
					}
					if failed > 0 {
						return cli.Exit(fmt.Sprintf("%d of %d payouts failed", failed, len(res)), 1)
					}
					return nil
				}),
			},
		},
	}
}

// withEngine loads config, opens the store and hands the wired engine to fn.
// Notifications are not sent from the CLI.
func withEngine(fn func(c *cli.Context, e *app.Engine) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger, err := logging.New(cfg.Log, "marketctl")
		if err != nil {
			return err
		}
		defer logging.Sync(logger)

		pool, store, err := app.OpenStore(c.Context, cfg, logger)
		if err != nil {
			return err
		}
		defer pool.Close()

		e := app.NewEngine(cfg, store, app.NewGateway(cfg.Gateway, logger), nil, logger)
		if err := fn(c, e); err != nil {
			logger.Error("command failed", zap.String("command", c.Command.Name), zap.Error(err))
			return err
		}
		return nil
	}
}

func optionalUUID(s string) (*uuid.UUID, error) {
	if s == "" {
		return nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("invalid seller id %q: %w", s, err)
	}
	return &id, nil
}

func printJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
