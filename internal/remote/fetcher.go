// Package remote fetches asset payloads from peer nodes. Every fetch
// is verified against the hash recorded on the ledger before the bytes
// are handed to the local cache.
package remote

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/chainml/asset-registry/internal/hashing"
	"github.com/chainml/asset-registry/internal/metrics"
)

// identityHeader carries the caller identity to the serving peer.
const identityHeader = "X-Registry-Identity"

// FetchError means the peer was unreachable or returned an error
// status. Retryable.
type FetchError struct {
	URL    string
	Status int // 0 for transport failures
	Msg    string
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("remote fetch %s: http %d: %s", e.URL, e.Status, e.Msg)
	}
	return fmt.Sprintf("remote fetch %s: %s", e.URL, e.Msg)
}

// IntegrityError means the fetched content does not hash to the value
// recorded on the ledger. Fatal; the content is never cached.
type IntegrityError struct {
	URL  string
	Want string
	Got  string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed for %s: want %s, got %s", e.URL, e.Want, e.Got)
}

// Fetcher retrieves payloads from peer storage addresses.
type Fetcher struct {
	client  *http.Client
	retries int
	backoff time.Duration
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewFetcher builds a fetcher with a bounded per-request timeout.
func NewFetcher(timeout time.Duration, m *metrics.Metrics) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{
		client:  &http.Client{Timeout: timeout},
		retries: 3,
		backoff: time.Second,
		log:     slog.With("component", "remote"),
		metrics: m,
	}
}

// Fetch retrieves the payload at url, identifying as owner, and
// verifies it against expectedHash. Transport failures are retried
// with backoff; an integrity mismatch is returned immediately.
func (f *Fetcher) Fetch(ctx context.Context, url, owner, expectedHash string) ([]byte, error) {
	var lastErr error
	delay := f.backoff
	if delay <= 0 {
		delay = time.Second
	}

	for attempt := 1; attempt <= f.retries; attempt++ {
		data, err := f.get(ctx, url, owner)
		if err == nil {
			if got := hashing.HashBytes(data); got != expectedHash {
				f.metrics.IncIntegrityError()
				f.metrics.IncRemoteFetch("integrity_error")
				return nil, &IntegrityError{URL: url, Want: expectedHash, Got: got}
			}
			f.metrics.IncRemoteFetch("ok")
			return data, nil
		}

		lastErr = err
		if attempt < f.retries {
			f.log.Warn("fetch attempt failed", "url", url, "attempt", attempt, "error", err)
			select {
			case <-ctx.Done():
				f.metrics.IncRemoteFetch("error")
				return nil, &FetchError{URL: url, Msg: ctx.Err().Error()}
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	f.metrics.IncRemoteFetch("error")
	return nil, lastErr
}

// get performs a single GET against the peer.
func (f *Fetcher) get(ctx context.Context, url, owner string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Msg: err.Error()}
	}
	req.Header.Set(identityHeader, owner)
	req.Header.Set("Accept", "*/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: url, Msg: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &FetchError{URL: url, Status: resp.StatusCode, Msg: string(body)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{URL: url, Msg: fmt.Sprintf("read body: %v", err)}
	}
	return data, nil
}
