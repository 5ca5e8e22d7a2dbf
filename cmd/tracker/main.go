// Command tracker runs the BSV address tracker: it subscribes to a node's
// ZMQ feeds, watches transactions against registered addresses, tracks
// confirmations to archival, backfills history for newly registered
// addresses, dispatches webhooks, and serves the operator REST API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/bsv-blockchain/bsv-address-tracker/internal/addressindex"
	"github.com/bsv-blockchain/bsv-address-tracker/internal/api"
	"github.com/bsv-blockchain/bsv-address-tracker/internal/backfill"
	"github.com/bsv-blockchain/bsv-address-tracker/internal/circuitbreaker"
	"github.com/bsv-blockchain/bsv-address-tracker/internal/config"
	"github.com/bsv-blockchain/bsv-address-tracker/internal/explorer"
	"github.com/bsv-blockchain/bsv-address-tracker/internal/intake"
	"github.com/bsv-blockchain/bsv-address-tracker/internal/metrics"
	"github.com/bsv-blockchain/bsv-address-tracker/internal/rpc"
	"github.com/bsv-blockchain/bsv-address-tracker/internal/store"
	"github.com/bsv-blockchain/bsv-address-tracker/internal/store/mongodoc"
	"github.com/bsv-blockchain/bsv-address-tracker/internal/tracker"
	"github.com/bsv-blockchain/bsv-address-tracker/internal/txscript"
	"github.com/bsv-blockchain/bsv-address-tracker/internal/webhook"
	"github.com/bsv-blockchain/bsv-address-tracker/internal/zmqlistener"
)

// startupBackfillDelay is how long the startup sweep waits after the
// components start before it begins pulling explorer history. The membership
// set is already fully loaded by then; run loads it before starting them.
const startupBackfillDelay = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	logger.Info("starting bsv-address-tracker",
		"network", cfg.Network,
		"node_rpc", cfg.Node.RPCURL(),
		"mongo_url", redactMongoURL(cfg.Mongo.URL),
		"webhooks_enabled", cfg.Webhook.Enabled,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	mongoStore, err := mongodoc.Connect(ctx, cfg.Mongo.URL)
	if err != nil {
		return fmt.Errorf("connect mongo: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mongoStore.Disconnect(shutdownCtx); err != nil {
			logger.Warn("mongo disconnect failed", "error", err)
		}
	}()
	if err := mongoStore.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("ensure indexes: %w", err)
	}

	membership := addressindex.New()
	if err := membership.LoadFromStore(ctx, mongoStore.Addresses); err != nil {
		return fmt.Errorf("load membership set: %w", err)
	}
	logger.Info("membership set loaded", "addresses", membership.Size())
	metrics.AddressesWatchedTotal.WithLabelValues().Set(float64(membership.Size()))

	nodeClient := rpc.NewClient(cfg.Node.RPCURL(), cfg.Node.RPCUser, cfg.Node.RPCPassword)

	network := txscript.Mainnet
	if cfg.Network == "testnet" {
		network = txscript.Testnet
	}

	dispatcher := webhook.New(mongoStore.Queue, &http.Client{Timeout: cfg.Webhook.Timeout}, webhook.Config{
		BatchSize:          cfg.Webhook.BatchSize,
		ProcessingInterval: cfg.Webhook.ProcessingInterval,
		Timeout:            cfg.Webhook.Timeout,
		MaxRetries:         cfg.Webhook.MaxRetries,
		CleanupAfter:       cfg.Webhook.CleanupAfter,
	}, logger.With("component", "webhook"))

	in := intake.New(membership, mongoStore.Addresses, mongoStore.Active, mongoStore.Webhooks, dispatcher, network, cfg.Tracker.MaxTxSizeBytes, logger.With("component", "intake"))

	trk := tracker.New(tracker.Config{
		ArchiveThreshold: cfg.Tracker.ArchiveThreshold,
		RPCConcurrency:   cfg.Tracker.RPCConcurrency,
	}, nodeClient, mongoStore.Active, mongoStore.Archived, mongoStore.Addresses, mongoStore.Webhooks, dispatcher, logger.With("component", "tracker"))

	breaker := circuitbreaker.New(circuitbreaker.Config{
		OnStateChange: func(_, to circuitbreaker.State) {
			metrics.ExplorerCircuitState.WithLabelValues().Set(float64(to))
		},
	})
	explorerClient := explorer.NewClient("https://api.whatsonchain.com/v1/bsv/"+cfg.Network, cfg.Explorer.APIKey, cfg.Explorer.RateLimit, explorer.WithCircuitBreaker(breaker))
	bf := backfill.New(explorerClient, nodeClient, mongoStore.Active, mongoStore.Archived, mongoStore.Addresses, cfg.Tracker.ArchiveThreshold, cfg.Tracker.MaxHistoryPerAddress, logger.With("component", "backfill"))

	apiServer := api.New(mongoStore.Addresses, mongoStore.Active, mongoStore.Archived, mongoStore.Webhooks, membership, bf, trk, api.Config{
		APIKey:     cfg.API.Key,
		RequireKey: cfg.API.RequireKey,
	}, logger.With("component", "api"))

	listener := zmqlistener.New(cfg.Node.ZMQRawTxAddr, cfg.Node.ZMQHashBlockAddr, in, trk, logger.With("component", "zmq"))

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return listener.Run(gCtx)
	})

	if cfg.Webhook.Enabled {
		g.Go(func() error {
			dispatcher.Run(gCtx)
			return nil
		})
		g.Go(func() error {
			return runWebhookCleanup(gCtx, dispatcher, logger)
		})
	}

	g.Go(func() error {
		return runStartupBackfillSweep(gCtx, mongoStore.Addresses, bf, logger)
	})

	g.Go(func() error {
		return runHTTPServer(gCtx, cfg.API.Host, cfg.API.Port, apiServer.Handler(), logger)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// runStartupBackfillSweep runs once at process start, after a short fixed
// delay, and pulls history for every address still missing it.
func runStartupBackfillSweep(ctx context.Context, addresses store.WatchedAddressRepository, bf *backfill.Backfill, logger *slog.Logger) error {
	select {
	case <-time.After(startupBackfillDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	pending, err := addresses.ListPendingBackfill(ctx)
	if err != nil {
		logger.Warn("startup backfill: list pending failed", "error", err)
		return nil
	}
	logger.Info("startup backfill sweep starting", "pending", len(pending))
	for _, addr := range pending {
		if err := bf.RunForAddress(ctx, addr.Address); err != nil {
			logger.Warn("startup backfill failed", "address", addr.Address, "error", err)
		}
	}
	return nil
}

func runWebhookCleanup(ctx context.Context, d *webhook.Dispatcher, logger *slog.Logger) error {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := d.Cleanup(ctx)
			if err != nil {
				logger.Warn("webhook cleanup failed", "error", err)
				continue
			}
			logger.Info("webhook cleanup complete", "removed", n)
		}
	}
}

func runHTTPServer(ctx context.Context, host string, port int, apiHandler http.Handler, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/", apiHandler)
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("api server shutdown error", "error", err)
		}
	}()

	logger.Info("api server started", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// redactMongoURL strips userinfo from a mongodb:// connection string before
// it reaches a log line.
func redactMongoURL(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return "mongodb://***"
	}
	u.User = nil
	return u.String()
}
