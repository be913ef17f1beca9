// Package store is the local asset cache: a relational record per asset
// keyed by pkhash plus content-addressed payload blobs. The ledger is
// the source of truth for metadata; this store only caches binary
// payloads and tracks whether the ledger commit is confirmed.
package store

import (
	"context"
	"errors"
	"time"
)

// AssetType enumerates the registrable asset kinds.
type AssetType string

const (
	TypeDataset    AssetType = "dataset"
	TypeAlgo       AssetType = "algo"
	TypeObjective  AssetType = "objective"
	TypeModel      AssetType = "model"
	TypeTrainTuple AssetType = "traintuple"
)

// Types lists all asset types.
func Types() []AssetType {
	return []AssetType{TypeDataset, TypeAlgo, TypeObjective, TypeModel, TypeTrainTuple}
}

// Asset is one local cache record. Validated reports whether the ledger
// transaction registering this asset is confirmed successful.
type Asset struct {
	PKHash         string
	Type           AssetType
	Owner          string
	Validated      bool
	PayloadKey     string
	DescriptionKey string
	CreatedAt      time.Time
}

var (
	// ErrDuplicateKey is returned by Put when an asset with the same
	// pkhash already exists. This is the conflict signal the
	// orchestrator relies on; it must come from a store-enforced
	// uniqueness constraint, never a check-then-write.
	ErrDuplicateKey = errors.New("store: duplicate pkhash")

	// ErrNotFound is returned when no record exists for a pkhash.
	ErrNotFound = errors.New("store: asset not found")
)

// AssetStore is the local asset cache capability. Implementations must
// be safe for concurrent use.
type AssetStore interface {
	// Put creates a new record. Payload bytes are durably written
	// before the record insert; the insert is the atomic commit point.
	// A pkhash collision returns ErrDuplicateKey and leaves no state
	// behind.
	Put(ctx context.Context, asset Asset, payload, description []byte) (*Asset, error)

	// Get returns the record for a pkhash, or ErrNotFound.
	Get(ctx context.Context, pkhash string) (*Asset, error)

	// MarkValidated flags the ledger commit as confirmed. Idempotent.
	MarkValidated(ctx context.Context, pkhash string) error

	// Delete removes the record and its payload blobs. Idempotent.
	Delete(ctx context.Context, pkhash string) error

	// UpdateOrCreate is the cache-fill path for content resolved from
	// the ledger or a peer node: the record is created (or refreshed)
	// already validated. Empty payload or description slices leave the
	// existing blobs untouched.
	UpdateOrCreate(ctx context.Context, asset Asset, payload, description []byte) (*Asset, error)

	// Payload returns the cached payload bytes for a pkhash.
	Payload(ctx context.Context, pkhash string) ([]byte, error)

	// Description returns the cached description bytes for a pkhash.
	Description(ctx context.Context, pkhash string) ([]byte, error)

	// ListUnvalidated returns records whose ledger outcome is still
	// unresolved and older than the given age. Feed for reconciliation.
	ListUnvalidated(ctx context.Context, olderThan time.Duration) ([]Asset, error)

	// Close releases underlying resources.
	Close() error
}
