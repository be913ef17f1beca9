// Package ledger is the client side of the permissioned distributed
// ledger. The ledger is treated as an opaque transactional service
// exposing invoke (write) and query (read) RPCs; this package sends
// those RPCs and classifies failures into the taxonomy the
// registration protocol depends on.
package ledger

import (
	"context"
	"encoding/json"
	"time"
)

// Config carries the ledger connection settings. It is passed into the
// client constructor at startup; there is no package-level state.
type Config struct {
	Endpoint  string `yaml:"endpoint"`  // peer gateway base URL
	Channel   string `yaml:"channel"`   // e.g. "mychannel"
	Chaincode string `yaml:"chaincode"` // e.g. "mycc"
	MSPID     string `yaml:"msp_id"`    // org identity sent with each call
	Identity  string `yaml:"identity"`  // enrollment id

	// Bounded deadlines. Invoke covers endorsement plus ordering and
	// is the longer of the two.
	InvokeTimeout time.Duration `yaml:"invoke_timeout"`
	QueryTimeout  time.Duration `yaml:"query_timeout"`
}

const (
	defaultInvokeTimeout = 45 * time.Second
	defaultQueryTimeout  = 10 * time.Second
)

// withDefaults fills in finite deadlines when unset.
func (c Config) withDefaults() Config {
	if c.InvokeTimeout <= 0 {
		c.InvokeTimeout = defaultInvokeTimeout
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = defaultQueryTimeout
	}
	return c
}

// Client is the ledger capability. Implementations must be safe for
// concurrent use; calls are blocking and network-bound, so callers
// must not hold locks across them.
type Client interface {
	// Invoke submits a write transaction and returns the chaincode
	// response payload. Failures are *Error values: a Timeout means
	// the true outcome is unknown, not that the transaction failed.
	Invoke(ctx context.Context, txName string, args any) (json.RawMessage, error)

	// Query runs a read-only chaincode function.
	Query(ctx context.Context, fcn string, args any) (json.RawMessage, error)
}

// QueryObject fetches a single asset's ledger record by key and
// decodes it into a generic map.
func QueryObject(ctx context.Context, c Client, fcn, key string) (map[string]any, error) {
	raw, err := c.Query(ctx, fcn, map[string]string{"key": key})
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &Error{Kind: KindGeneric, Msg: "decode ledger response: " + err.Error()}
	}
	return out, nil
}

// QueryList fetches a list-returning chaincode function and decodes it
// into generic maps.
func QueryList(ctx context.Context, c Client, fcn string) ([]map[string]any, error) {
	raw, err := c.Query(ctx, fcn, nil)
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &Error{Kind: KindGeneric, Msg: "decode ledger response: " + err.Error()}
	}
	return out, nil
}
