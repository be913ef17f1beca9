package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chainml/asset-registry/internal/config"
	"github.com/chainml/asset-registry/internal/ledger"
	"github.com/chainml/asset-registry/internal/logging"
	"github.com/chainml/asset-registry/internal/metrics"
	"github.com/chainml/asset-registry/internal/reconcile"
	"github.com/chainml/asset-registry/internal/registry"
	"github.com/chainml/asset-registry/internal/remote"
	"github.com/chainml/asset-registry/internal/store"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the registry node",
	RunE:  runNode,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runNode(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logging.Component("main")
	log.Info("starting registry node", "version", version, "owner", cfg.Registry.Owner)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.Init("asset_registry")
	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.StartServer(cfg.Metrics.Address); err != nil {
				log.Error("metrics server failed", "error", err)
			}
		}()
		log.Info("metrics server listening", "address", cfg.Metrics.Address)
	}

	assetStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer assetStore.Close()

	lc := ledger.NewGatewayClient(cfg.Ledger)
	fetcher := remote.NewFetcher(30*time.Second, m)
	reg := registry.NewRegistrar(assetStore, lc, fetcher, m, registry.Options{
		Owner:     cfg.Registry.Owner,
		PublicURL: cfg.Registry.PublicURL,
	})

	queue := registry.NewTaskQueue(reg, cfg.Registry.AsyncWorkers, cfg.Registry.QueueCapacity, m)

	if cfg.Reconcile.Enabled {
		sweeper := reconcile.NewSweeper(assetStore, lc, m, cfg.Reconcile.Grace, cfg.Reconcile.AbandonAfter)
		go sweeper.Run(ctx, cfg.Reconcile.Interval)
		log.Info("reconciliation sweeper running", "interval", cfg.Reconcile.Interval)
	}

	log.Info("registry node started",
		"ledger", cfg.Ledger.Endpoint,
		"channel", cfg.Ledger.Channel,
		"chaincode", cfg.Ledger.Chaincode)

	<-ctx.Done()
	log.Info("shutting down, draining pending registrations")
	queue.Close()
	log.Info("registry node stopped cleanly")
	return nil
}

// openStore wires the record store. The "memory" DSN runs an
// in-process store for standalone use.
func openStore(ctx context.Context, cfg config.Config) (store.AssetStore, error) {
	if cfg.Database.DSN == "memory" {
		return store.NewMemStore(), nil
	}
	payloads, err := store.OpenPayloadStore(ctx, cfg.Payloads)
	if err != nil {
		return nil, err
	}
	s, err := store.NewPostgresStore(ctx, cfg.Database, payloads)
	if err != nil {
		payloads.Close()
		return nil, err
	}
	return s, nil
}
