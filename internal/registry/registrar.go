// Package registry is the ledger-commit orchestration core. A
// registration writes the payload to the local store, invokes the
// chaincode registration transaction, and settles the local record
// against the ledger outcome so the two never diverge. The only path
// on which an unconfirmed local record survives is a ledger timeout,
// where the true outcome is unknown; the reconciler owns those.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/chainml/asset-registry/internal/filter"
	"github.com/chainml/asset-registry/internal/hashing"
	"github.com/chainml/asset-registry/internal/ledger"
	"github.com/chainml/asset-registry/internal/metrics"
	"github.com/chainml/asset-registry/internal/store"
)

// Fetcher retrieves a payload from a peer node and verifies it against
// the hash recorded on the ledger.
type Fetcher interface {
	Fetch(ctx context.Context, url, owner, expectedHash string) ([]byte, error)
}

// Options tunes a Registrar.
type Options struct {
	// Owner is this node's organization identity, recorded on every
	// locally created asset and sent with peer fetches.
	Owner string

	// PublicURL is the base URL under which this node serves cached
	// payloads to peers. It becomes the storageAddress registered
	// on-chain.
	PublicURL string
}

// Registrar orchestrates asset registration and resolution.
type Registrar struct {
	store   store.AssetStore
	ledger  ledger.Client
	fetcher Fetcher
	filter  *filter.Engine
	metrics *metrics.Metrics
	log     *slog.Logger

	owner     string
	publicURL string
}

// NewRegistrar wires the orchestrator. fetcher may be nil; retrieval
// then serves ledger metadata without filling the local cache.
func NewRegistrar(s store.AssetStore, lc ledger.Client, fetcher Fetcher, m *metrics.Metrics, opts Options) *Registrar {
	return &Registrar{
		store:     s,
		ledger:    lc,
		fetcher:   fetcher,
		filter:    filter.NewEngine(lc),
		metrics:   m,
		log:       slog.With("component", "registry"),
		owner:     opts.Owner,
		publicURL: strings.TrimRight(opts.PublicURL, "/"),
	}
}

// Register runs one asset-creation request to a terminal or pending
// state. The orchestration is detached from the caller's cancellation:
// once the local write has happened the ledger call is always
// attempted, so a client disconnect can never strand a local record
// without a settled outcome.
func (r *Registrar) Register(ctx context.Context, req Request) Outcome {
	pkhash, err := validate(req)
	if err != nil {
		r.metrics.IncRegistration(string(req.Type), StatusInvalid.String())
		return Outcome{Status: StatusInvalid, Err: err}
	}

	out := r.commit(context.WithoutCancel(ctx), req, pkhash)
	r.metrics.IncRegistration(string(req.Type), out.Status.String())
	return out
}

// commit is the state machine after validation: local write, ledger
// invoke, settle.
func (r *Registrar) commit(ctx context.Context, req Request, pkhash string) Outcome {
	log := r.log.With("asset_type", req.Type, "pkhash", pkhash)

	asset, err := r.store.Put(ctx, store.Asset{
		PKHash: pkhash,
		Type:   req.Type,
		Owner:  r.owner,
	}, req.Payload, req.Description)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			// Content already known locally. No ledger call: the chain
			// either has it or a commit for it is already in flight.
			log.Info("registration conflicts with cached asset")
			return Outcome{Status: StatusConflict, PKHash: pkhash, Err: err}
		}
		return Outcome{Status: StatusError, Err: fmt.Errorf("local write: %w", err)}
	}

	// From here on a local record exists. Whatever happens, it must
	// not survive a definite ledger failure.
	defer func() {
		if p := recover(); p != nil {
			r.rollback(ctx, pkhash, log)
			panic(p)
		}
	}()

	raw, err := r.ledger.Invoke(ctx, typeSpecs[req.Type].register, r.txArgs(req, asset))
	if err != nil {
		return r.settleFailure(ctx, pkhash, err, log)
	}

	if err := r.store.MarkValidated(ctx, pkhash); err != nil {
		// The chain has the asset; the flag will be re-applied by the
		// reconciler. Not a failure.
		log.Warn("mark validated failed, deferring to reconciler", "error", err)
	}
	log.Info("asset registered")
	return Outcome{Status: StatusValidated, PKHash: pkhash, Data: r.mergedView(raw, asset, true)}
}

// settleFailure maps a ledger invoke failure onto the local record.
func (r *Registrar) settleFailure(ctx context.Context, pkhash string, err error, log *slog.Logger) Outcome {
	lerr, ok := ledger.AsError(err)
	if !ok {
		r.rollback(ctx, pkhash, log)
		return Outcome{Status: StatusError, Err: err}
	}

	switch lerr.Kind {
	case ledger.KindTimeout:
		// Unknown outcome. The record stays, unvalidated, for the
		// reconciler to settle.
		log.Warn("ledger timed out, registration pending", "error", err)
		return Outcome{
			Status: StatusPending,
			PKHash: pkhash,
			Data:   map[string]any{"pkhash": pkhash, "validated": false},
			Err:    nil,
		}

	case ledger.KindConflict:
		existing := lerr.PKHash
		if existing == "" {
			existing = pkhash
		}
		log.Info("ledger rejected registration as duplicate", "existing", existing)
		r.rollback(ctx, pkhash, log)
		return Outcome{Status: StatusConflict, PKHash: existing, Err: err}

	default:
		log.Error("ledger registration failed", "error", err)
		r.rollback(ctx, pkhash, log)
		return Outcome{Status: StatusError, Err: err}
	}
}

// rollback removes the local record after a definite failure.
func (r *Registrar) rollback(ctx context.Context, pkhash string, log *slog.Logger) {
	if err := r.store.Delete(ctx, pkhash); err != nil {
		log.Error("rollback of local record failed", "error", err)
	}
}

// txArgs builds the chaincode transaction arguments: declared metadata
// plus the computed hashes and the addresses peers can fetch the
// cached payloads from.
func (r *Registrar) txArgs(req Request, asset *store.Asset) map[string]any {
	args := make(map[string]any, len(req.Metadata)+6)
	for k, v := range req.Metadata {
		args[k] = v
	}
	args["name"] = req.Name
	args["hash"] = asset.PKHash
	args["owner"] = r.owner
	args["storageAddress"] = r.address(asset.Type, asset.PKHash, "file")
	if len(req.Description) > 0 {
		args["descriptionHash"] = hashing.HashBytes(req.Description)
		args["descriptionStorageAddress"] = r.address(asset.Type, asset.PKHash, "description")
	}
	return args
}

// address is the URL under which this node serves a cached blob.
func (r *Registrar) address(t store.AssetType, pkhash, kind string) string {
	base := r.publicURL
	if base == "" {
		base = "local:/"
	}
	return fmt.Sprintf("%s/%s/%s/%s", base, t, pkhash, kind)
}

// mergedView overlays the local record fields onto the ledger response.
func (r *Registrar) mergedView(raw json.RawMessage, asset *store.Asset, validated bool) map[string]any {
	view := make(map[string]any)
	if len(raw) > 0 {
		// The chaincode response is authoritative for metadata; a
		// non-object response is simply skipped.
		_ = json.Unmarshal(raw, &view)
	}
	view["pkhash"] = asset.PKHash
	view["owner"] = asset.Owner
	view["validated"] = validated
	return view
}

// RegisterBulk registers a batch of assets. Two payloads in the batch
// hashing to the same key fail the whole batch before any state is
// touched; partial commits of a batch are never produced by this
// pre-check path.
func (r *Registrar) RegisterBulk(ctx context.Context, reqs []Request) ([]Outcome, error) {
	seen := make(map[string]int, len(reqs))
	keys := make([]string, len(reqs))
	for i, req := range reqs {
		pkhash, err := validate(req)
		if err != nil {
			return nil, fmt.Errorf("batch item %d: %w", i, err)
		}
		if first, dup := seen[pkhash]; dup {
			return nil, fmt.Errorf("batch items %d and %d produce the same key %s: %w",
				first, i, pkhash, store.ErrDuplicateKey)
		}
		seen[pkhash] = i
		keys[i] = pkhash
	}

	ctx = context.WithoutCancel(ctx)
	outs := make([]Outcome, len(reqs))
	for i, req := range reqs {
		outs[i] = r.commit(ctx, req, keys[i])
		r.metrics.IncRegistration(string(req.Type), outs[i].Status.String())
	}
	return outs, nil
}
