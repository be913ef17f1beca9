// Package reconcile settles local records whose ledger outcome is
// unknown. A registration that timed out leaves an unvalidated record
// behind; the sweeper periodically asks the ledger whether the
// transaction committed after all, confirms the record if it did, and
// eventually abandons records the chain never learned about.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/chainml/asset-registry/internal/ledger"
	"github.com/chainml/asset-registry/internal/metrics"
	"github.com/chainml/asset-registry/internal/registry"
	"github.com/chainml/asset-registry/internal/store"
)

// Report summarizes one sweep.
type Report struct {
	Scanned   int
	Validated int
	Abandoned int
	Pending   int
}

// Reconciler settles pending records.
type Reconciler interface {
	ReconcileOnce(ctx context.Context) (Report, error)
}

// Noop is the disabled reconciler.
type Noop struct{}

func (Noop) ReconcileOnce(ctx context.Context) (Report, error) { return Report{}, nil }

// Sweeper reconciles against the ledger.
type Sweeper struct {
	store   store.AssetStore
	ledger  ledger.Client
	metrics *metrics.Metrics
	log     *slog.Logger

	// grace is how old a pending record must be before it is looked
	// at; records younger than this are likely still in flight.
	grace time.Duration

	// abandonAfter bounds how long a record missing from the chain may
	// linger before it is rolled back.
	abandonAfter time.Duration
}

// NewSweeper wires a sweeper.
func NewSweeper(s store.AssetStore, lc ledger.Client, m *metrics.Metrics, grace, abandonAfter time.Duration) *Sweeper {
	if grace <= 0 {
		grace = 2 * time.Minute
	}
	if abandonAfter <= 0 {
		abandonAfter = 72 * time.Hour
	}
	return &Sweeper{
		store:        s,
		ledger:       lc,
		metrics:      m,
		log:          slog.With("component", "reconcile"),
		grace:        grace,
		abandonAfter: abandonAfter,
	}
}

// ReconcileOnce runs a single sweep over the pending records.
func (s *Sweeper) ReconcileOnce(ctx context.Context) (Report, error) {
	s.metrics.IncReconcileSweep()

	pending, err := s.store.ListUnvalidated(ctx, s.grace)
	if err != nil {
		return Report{}, err
	}

	report := Report{Scanned: len(pending)}
	for _, asset := range pending {
		switch s.settle(ctx, asset) {
		case resolutionValidated:
			report.Validated++
		case resolutionAbandoned:
			report.Abandoned++
		default:
			report.Pending++
		}
	}

	if report.Scanned > 0 {
		s.log.Info("sweep finished",
			"scanned", report.Scanned, "validated", report.Validated,
			"abandoned", report.Abandoned, "pending", report.Pending)
	}
	return report, nil
}

type resolution int

const (
	resolutionPending resolution = iota
	resolutionValidated
	resolutionAbandoned
)

// settle decides one pending record against the chain.
func (s *Sweeper) settle(ctx context.Context, asset store.Asset) resolution {
	log := s.log.With("asset_type", asset.Type, "pkhash", asset.PKHash)

	fcn, ok := registry.QueryFcn(asset.Type)
	if !ok {
		log.Error("pending record has unknown asset type")
		return resolutionPending
	}

	_, err := ledger.QueryObject(ctx, s.ledger, fcn, asset.PKHash)
	if err == nil {
		// The timed-out transaction committed after all.
		if err := s.store.MarkValidated(ctx, asset.PKHash); err != nil {
			log.Error("mark validated failed", "error", err)
			return resolutionPending
		}
		s.metrics.IncReconcileResolved("validated")
		log.Info("pending record confirmed on chain")
		return resolutionValidated
	}

	if ledger.IsTimeout(err) {
		// Still can't reach the ledger; decide nothing.
		log.Warn("ledger unavailable during sweep", "error", err)
		return resolutionPending
	}

	// Definitely not on chain. Abandon only once the record is old
	// enough that a late commit is no longer plausible.
	if time.Since(asset.CreatedAt) < s.abandonAfter {
		return resolutionPending
	}
	if err := s.store.Delete(ctx, asset.PKHash); err != nil {
		log.Error("abandon delete failed", "error", err)
		return resolutionPending
	}
	s.metrics.IncReconcileResolved("abandoned")
	log.Warn("abandoned pending record never seen on chain", "age", time.Since(asset.CreatedAt))
	return resolutionAbandoned
}

// Run sweeps at the given interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ReconcileOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.log.Error("sweep failed", "error", err)
			}
		}
	}
}

var _ Reconciler = (*Sweeper)(nil)
var _ Reconciler = Noop{}
