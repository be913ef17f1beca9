package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chainml/asset-registry/internal/ledger"
	"github.com/chainml/asset-registry/internal/reconcile"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run a single reconciliation sweep and print the report",
	RunE:  runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
}

func runReconcile(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	assetStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer assetStore.Close()

	lc := ledger.NewGatewayClient(cfg.Ledger)
	sweeper := reconcile.NewSweeper(assetStore, lc, nil, cfg.Reconcile.Grace, cfg.Reconcile.AbandonAfter)

	report, err := sweeper.ReconcileOnce(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("scanned:   %d\n", report.Scanned)
	fmt.Printf("validated: %d\n", report.Validated)
	fmt.Printf("abandoned: %d\n", report.Abandoned)
	fmt.Printf("pending:   %d\n", report.Pending)
	return nil
}
