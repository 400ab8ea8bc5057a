// Command relayer runs the off-chain payment relayer: it loads
// configuration, wires the Store/Event Bus/Validator/Chain Gateway/
// Executor/API stack, and serves until a termination signal arrives.
// The CLI shape (urfave/cli app with subcommands) follows the same
// pattern go-ethereum's cmd/geth uses for its own entrypoint.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/fatih/color"
	"github.com/getsentry/sentry-go"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"

	"github.com/aionpay/relayer/core/config"
	"github.com/aionpay/relayer/core/logger"
	"github.com/aionpay/relayer/core/services/relayer"
	"github.com/aionpay/relayer/core/services/relayer/store"
	"github.com/aionpay/relayer/core/services/relayer/types"
	"github.com/aionpay/relayer/core/static"
)

func main() {
	app := cli.NewApp()
	app.Name = "relayer"
	app.Usage = "off-chain payment relayer for the AION escrow contract"
	app.Version = fmt.Sprintf("%s (%s)", static.Version, static.Sha)
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config, c", Usage: "path to a TOML config file"},
		cli.BoolFlag{Name: "debug", Usage: "enable debug-level logging"},
		cli.BoolFlag{Name: "json-log", Usage: "emit JSON logs instead of console format"},
	}
	app.Commands = []cli.Command{
		{
			Name:   "run",
			Usage:  "start the relayer server",
			Action: runServer,
		},
		{
			Name:   "stats",
			Usage:  "print the queue stats table layout with placeholder values (does not contact a relayer)",
			Action: printStats,
		},
		{
			Name:      "requeue",
			Usage:     "reset a permanently_failed or failed transfer back to validated so the executor retries it",
			ArgsUsage: "<transfer-id>",
			Action:    requeueTransfer,
		},
	}
	app.Action = runServer

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("fatal: %v", err))
		os.Exit(1)
	}
}

func runServer(c *cli.Context) error {
	lggr, err := logger.New(logger.Config{
		JSON:    c.Bool("json-log"),
		Debug:   c.Bool("debug"),
		AppName: "relayer",
	})
	if err != nil {
		return fmt.Errorf("failed to construct logger: %w", err)
	}
	defer lggr.Sync()

	printBanner()

	cfg, err := config.Load(c.String("config"), lggr)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if dsn := os.Getenv("AION_SENTRY_DSN"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: dsn}); err != nil {
			lggr.Warnw("failed to initialize sentry", "err", err)
		} else {
			defer sentry.Flush(2)
		}
	}

	svc, err := relayer.New(cfg, lggr)
	if err != nil {
		return fmt.Errorf("failed to construct relayer service: %w", err)
	}
	if err := svc.Start(); err != nil {
		return fmt.Errorf("failed to start relayer service: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	lggr.Infow("shutdown signal received, draining in-flight work")
	if err := svc.Close(); err != nil {
		lggr.Errorw("error during shutdown", "err", err)
		sentry.CaptureException(err)
	}
	return nil
}

// requeueTransfer is an operator escape hatch: it resets a row stuck in
// failed/permanently_failed back to validated, bypassing the executor's own
// retry-exhaustion decision, so a human can force one more attempt after
// fixing whatever made every automatic retry fail (e.g. an RPC outage).
func requeueTransfer(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("requeue expects exactly one argument: the transfer id")
	}
	id, err := strconv.ParseInt(c.Args().Get(0), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid transfer id %q: %w", c.Args().Get(0), err)
	}

	lggr, err := logger.New(logger.Config{AppName: "relayer-cli"})
	if err != nil {
		return fmt.Errorf("failed to construct logger: %w", err)
	}
	defer lggr.Sync()

	cfg, err := config.Load(c.String("config"), lggr)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	st, err := store.New(cfg.DatabaseURL, lggr)
	if err != nil {
		return fmt.Errorf("failed to connect to store: %w", err)
	}
	defer st.Close()
	if !st.Healthy() {
		return fmt.Errorf("store is unavailable")
	}

	ctx := context.Background()
	t, err := st.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load transfer %d: %w", id, err)
	}
	if t.Status != types.StatusFailed && t.Status != types.StatusPermanentlyFailed {
		return fmt.Errorf("transfer %d is in status %q, not failed/permanently_failed", id, t.Status)
	}

	zero := 0
	if _, err := st.UpdateStatus(ctx, id, store.StatusUpdate{Status: types.StatusValidated, RetryCount: &zero}); err != nil {
		return fmt.Errorf("failed to requeue transfer %d: %w", id, err)
	}
	fmt.Println(color.GreenString("transfer %d requeued as validated", id))
	return nil
}

// printStats is an admin convenience subcommand; it does not hit the
// network itself (the relayer has no client library in this pack) — it
// exists to demonstrate the tablewriter-formatted admin output the ingress
// API's /relayer/stats JSON is meant to be rendered into by an operator
// tool, the same way chainlink's CLI renders ORM query results as tables.
func printStats(c *cli.Context) error {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Metric", "Value"})
	table.Append([]string{"validated (queued)", "-"})
	table.Append([]string{"pending (broadcast)", "-"})
	table.Append([]string{"failed", "-"})
	table.Append([]string{"confirmed", "-"})
	table.Append([]string{"in-flight / max", "-"})
	table.Render()
	fmt.Println(color.YellowString("note: run against a live process's /relayer/stats endpoint for live numbers"))
	return nil
}

func printBanner() {
	fmt.Println(color.CyanString("AION Relayer %s", static.Version))
}
