package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/chainml/asset-registry/internal/metrics"
)

// GatewayClient talks to a peer's REST gateway: one POST per chaincode
// call, JSON in and out. Response classification never downgrades an
// unknown outcome to a definite failure.
type GatewayClient struct {
	cfg     Config
	client  *http.Client
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewGatewayClient builds a client from explicit configuration.
func NewGatewayClient(cfg Config) *GatewayClient {
	cfg = cfg.withDefaults()
	return &GatewayClient{
		cfg: cfg,
		// Per-call deadlines come from the request context; the
		// transport timeout is just a hard upper bound.
		client:  &http.Client{Timeout: cfg.InvokeTimeout + 5*time.Second},
		log:     slog.With("component", "ledger"),
		metrics: metrics.Get(),
	}
}

// request is the gateway wire format for a chaincode call.
type request struct {
	Fcn  string          `json:"fcn"`
	Args json.RawMessage `json:"args"`
}

// response is the gateway wire format for a chaincode result.
type response struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error,omitempty"`
}

// Invoke submits a write transaction.
func (g *GatewayClient) Invoke(ctx context.Context, txName string, args any) (json.RawMessage, error) {
	return g.call(ctx, "invoke", txName, args, g.cfg.InvokeTimeout)
}

// Query runs a read-only chaincode function.
func (g *GatewayClient) Query(ctx context.Context, fcn string, args any) (json.RawMessage, error) {
	return g.call(ctx, "query", fcn, args, g.cfg.QueryTimeout)
}

func (g *GatewayClient) call(ctx context.Context, op, fcn string, args any, timeout time.Duration) (json.RawMessage, error) {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, &Error{Kind: KindGeneric, Msg: fmt.Sprintf("marshal args: %v", err)}
	}

	body, err := json.Marshal(request{Fcn: fcn, Args: argsJSON})
	if err != nil {
		return nil, &Error{Kind: KindGeneric, Msg: fmt.Sprintf("marshal request: %v", err)}
	}

	url := fmt.Sprintf("%s/channels/%s/chaincodes/%s/%s",
		strings.TrimSuffix(g.cfg.Endpoint, "/"), g.cfg.Channel, g.cfg.Chaincode, op)

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindGeneric, Msg: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-MSP-ID", g.cfg.MSPID)
	req.Header.Set("X-Identity", g.cfg.Identity)

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		// Unavailability and deadline expiry are the same thing from
		// the caller's perspective: the transaction's true outcome is
		// unknown. Never map these to a generic failure.
		g.log.Warn("ledger call did not complete", "op", op, "fcn", fcn, "error", err)
		g.observe(op, KindTimeout.String(), start)
		g.metrics.IncLedgerTimeout(op)
		return nil, &Error{Kind: KindTimeout, Msg: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		g.observe(op, KindTimeout.String(), start)
		g.metrics.IncLedgerTimeout(op)
		return nil, &Error{Kind: KindTimeout, Msg: fmt.Sprintf("read response: %v", err)}
	}

	g.log.Debug("ledger call", "op", op, "fcn", fcn,
		"status", resp.StatusCode, "duration", time.Since(start).String())

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		g.observe(op, "ok", start)
		var r response
		if err := json.Unmarshal(respBody, &r); err != nil {
			// Tolerate gateways that return the chaincode payload
			// directly.
			return json.RawMessage(respBody), nil
		}
		if r.Result != nil {
			return r.Result, nil
		}
		return json.RawMessage(respBody), nil
	}

	lerr := g.classify(resp.StatusCode, respBody)
	g.observe(op, lerr.Kind.String(), start)
	if lerr.Kind == KindTimeout {
		g.metrics.IncLedgerTimeout(op)
	}
	return nil, lerr
}

// observe records one round trip.
func (g *GatewayClient) observe(op, outcome string, start time.Time) {
	g.metrics.ObserveLedgerRequest(op, outcome, time.Since(start).Seconds())
}

// classify maps a gateway error response to the ledger error taxonomy.
func (g *GatewayClient) classify(status int, body []byte) *Error {
	msg := strings.TrimSpace(string(body))
	var r response
	if err := json.Unmarshal(body, &r); err == nil && r.Error != "" {
		msg = r.Error
	}

	switch status {
	case http.StatusRequestTimeout, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return &Error{Kind: KindTimeout, Msg: msg, Status: status}
	case http.StatusConflict:
		return &Error{Kind: KindConflict, Msg: msg, PKHash: extractKey(msg), Status: status}
	}

	// Chaincode surfaces key collisions as plain 4xx/5xx text; detect
	// them by message so the orchestrator can treat them as conflicts.
	if strings.Contains(strings.ToLower(msg), "already exist") {
		return &Error{Kind: KindConflict, Msg: msg, PKHash: extractKey(msg), Status: status}
	}

	return &Error{Kind: KindGeneric, Msg: fmt.Sprintf("http %d: %s", status, msg), Status: status}
}

var _ Client = (*GatewayClient)(nil)
