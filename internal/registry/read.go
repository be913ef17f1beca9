package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/chainml/asset-registry/internal/ledger"
	"github.com/chainml/asset-registry/internal/store"
)

// Retrieve resolves one asset: ledger metadata first, local cache
// state folded in. A cache miss triggers a peer fetch of the payload
// and description, verified against the on-chain hashes before
// anything is written locally.
func (r *Registrar) Retrieve(ctx context.Context, assetType store.AssetType, pkhash string) (map[string]any, error) {
	spec, ok := typeSpecs[assetType]
	if !ok {
		return nil, fmt.Errorf("%w: unknown asset type %q", ErrInvalidPayload, assetType)
	}
	if !ValidKey(pkhash) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKey, pkhash)
	}

	record, err := ledger.QueryObject(ctx, r.ledger, spec.query, pkhash)
	if err != nil {
		return nil, err
	}

	local, err := r.store.Get(ctx, pkhash)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		local = r.fill(ctx, assetType, pkhash, record)
	}

	view := make(map[string]any, len(record)+3)
	for k, v := range record {
		view[k] = v
	}
	view["pkhash"] = pkhash
	if local != nil {
		view["owner"] = local.Owner
		view["validated"] = local.Validated
	}
	return view, nil
}

// fill caches a ledger-resolved asset from its owner peer. Best
// effort: a fetch or integrity failure leaves the cache untouched and
// the read is served from ledger metadata alone.
func (r *Registrar) fill(ctx context.Context, assetType store.AssetType, pkhash string, record map[string]any) *store.Asset {
	if r.fetcher == nil {
		return nil
	}
	log := r.log.With("asset_type", assetType, "pkhash", pkhash)

	url := stringField(record, "storageAddress")
	owner := stringField(record, "owner")
	if url == "" {
		return nil
	}

	contentHash := stringField(record, "hash")
	if contentHash == "" {
		contentHash = pkhash
	}
	payload, err := r.fetcher.Fetch(ctx, url, owner, contentHash)
	if err != nil {
		log.Warn("peer payload fetch failed", "url", url, "error", err)
		return nil
	}

	var description []byte
	if descURL := stringField(record, "descriptionStorageAddress"); descURL != "" {
		description, err = r.fetcher.Fetch(ctx, descURL, owner, stringField(record, "descriptionHash"))
		if err != nil {
			log.Warn("peer description fetch failed", "url", descURL, "error", err)
			description = nil
		}
	}

	asset, err := r.store.UpdateOrCreate(ctx, store.Asset{
		PKHash: pkhash,
		Type:   assetType,
		Owner:  owner,
	}, payload, description)
	if err != nil {
		log.Warn("cache fill failed", "error", err)
		return nil
	}
	r.metrics.IncCacheFill(string(assetType))
	log.Info("asset cached from peer", "peer", owner)
	return asset
}

// Payload returns the cached payload bytes for an asset, filling the
// cache from the owner peer if needed.
func (r *Registrar) Payload(ctx context.Context, assetType store.AssetType, pkhash string) ([]byte, error) {
	if !ValidKey(pkhash) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKey, pkhash)
	}

	data, err := r.store.Payload(ctx, pkhash)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if _, err := r.Retrieve(ctx, assetType, pkhash); err != nil {
		return nil, err
	}
	return r.store.Payload(ctx, pkhash)
}

// List queries all assets of a type from the ledger and applies the
// optional filter expression.
func (r *Registrar) List(ctx context.Context, assetType store.AssetType, filterExpr string) ([]map[string]any, error) {
	spec, ok := typeSpecs[assetType]
	if !ok {
		return nil, fmt.Errorf("%w: unknown asset type %q", ErrInvalidPayload, assetType)
	}

	records, err := ledger.QueryList(ctx, r.ledger, spec.list)
	if err != nil {
		return nil, err
	}
	return r.filter.Apply(ctx, string(assetType), records, filterExpr)
}

// stringField reads a string-typed field from a ledger record.
func stringField(record map[string]any, key string) string {
	s, _ := record[key].(string)
	return s
}
