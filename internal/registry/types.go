package registry

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/chainml/asset-registry/internal/hashing"
	"github.com/chainml/asset-registry/internal/store"
)

var (
	// ErrInvalidPayload means the uploaded payload fails validation
	// before any state is touched. A client error.
	ErrInvalidPayload = errors.New("registry: invalid payload")

	// ErrInvalidKey means a supplied pkhash is not a well-formed
	// content key.
	ErrInvalidKey = errors.New("registry: invalid asset key")
)

// Request is a validated asset-creation request as handed over by the
// HTTP layer. Any client-supplied identifier is ignored; the content
// key is always recomputed from Payload.
type Request struct {
	Type        store.AssetType
	Name        string
	Payload     []byte
	Description []byte

	// Metadata carries the declared chaincode fields (permissions,
	// references to other asset keys, metric names and so on). It is
	// forwarded into the ledger transaction as-is.
	Metadata map[string]any
}

// typeSpec binds an asset type to its chaincode function names and
// payload rules.
type typeSpec struct {
	register string
	query    string
	list     string

	// archive marks types whose payload must be an uploadable archive
	// (a packaged directory tree rather than a single opaque blob).
	archive bool
}

var typeSpecs = map[store.AssetType]typeSpec{
	store.TypeDataset: {
		register: "registerDataset",
		query:    "queryDataset",
		list:     "queryDatasets",
		archive:  true,
	},
	store.TypeAlgo: {
		register: "registerAlgo",
		query:    "queryAlgo",
		list:     "queryAlgos",
		archive:  true,
	},
	store.TypeObjective: {
		register: "registerObjective",
		query:    "queryObjective",
		list:     "queryObjectives",
	},
	store.TypeModel: {
		register: "registerModel",
		query:    "queryModel",
		list:     "queryModels",
	},
	store.TypeTrainTuple: {
		register: "registerTraintuple",
		query:    "queryTraintuple",
		list:     "queryTraintuples",
	},
}

// QueryFcn returns the chaincode query function for an asset type.
func QueryFcn(t store.AssetType) (string, bool) {
	spec, ok := typeSpecs[t]
	return spec.query, ok
}

// keyPattern is the shape of a pkhash: bare lowercase hex SHA256.
var keyPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// ValidKey reports whether s is a well-formed pkhash.
func ValidKey(s string) bool {
	return keyPattern.MatchString(s)
}

// validate checks a request and returns the recomputed pkhash.
func validate(req Request) (string, error) {
	spec, ok := typeSpecs[req.Type]
	if !ok {
		return "", fmt.Errorf("%w: unknown asset type %q", ErrInvalidPayload, req.Type)
	}
	if len(req.Payload) == 0 {
		return "", fmt.Errorf("%w: empty payload", ErrInvalidPayload)
	}

	if spec.archive {
		if _, ok := hashing.DetectArchive(req.Payload); !ok {
			return "", fmt.Errorf("%w: %s payload must be an archive", ErrInvalidPayload, req.Type)
		}
	}

	// Dataset keys address the logical file tree, so repacking the
	// same content with a different compressor yields the same key.
	if req.Type == store.TypeDataset {
		pk, err := hashing.HashArchive(req.Payload)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return pk, nil
	}
	return hashing.HashBytes(req.Payload), nil
}
