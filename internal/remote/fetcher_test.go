package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chainml/asset-registry/internal/hashing"
)

// testFetcher builds a fetcher with a tiny backoff so retry tests run
// fast.
func testFetcher(client *http.Client, retries int) *Fetcher {
	f := NewFetcher(time.Second, nil)
	f.client = client
	f.retries = retries
	f.backoff = 5 * time.Millisecond
	return f
}

func TestFetchVerifiesHash(t *testing.T) {
	payload := []byte("model weights")
	var gotIdentity string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIdentity = r.Header.Get("X-Registry-Identity")
		w.Write(payload)
	}))
	defer srv.Close()

	f := NewFetcher(time.Second, nil)
	data, err := f.Fetch(context.Background(), srv.URL, "orgB", hashing.HashBytes(payload))
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(data) != string(payload) {
		t.Errorf("payload = %q", data)
	}
	if gotIdentity != "orgB" {
		t.Errorf("identity header = %q", gotIdentity)
	}
}

func TestFetchIntegrityMismatch(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte("tampered content"))
	}))
	defer srv.Close()

	f := NewFetcher(time.Second, nil)
	_, err := f.Fetch(context.Background(), srv.URL, "orgB", hashing.HashBytes([]byte("real content")))

	var ierr *IntegrityError
	if !errors.As(err, &ierr) {
		t.Fatalf("expected IntegrityError, got %v", err)
	}
	if ierr.Want == ierr.Got {
		t.Error("error should carry both hashes")
	}
	// Integrity failures are final: no retries.
	if calls.Load() != 1 {
		t.Errorf("server hit %d times, want 1", calls.Load())
	}
}

func TestFetchErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not here", http.StatusNotFound)
	}))
	defer srv.Close()

	f := testFetcher(srv.Client(), 1)
	_, err := f.Fetch(context.Background(), srv.URL, "orgB", "deadbeef")

	var ferr *FetchError
	if !errors.As(err, &ferr) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if ferr.Status != http.StatusNotFound {
		t.Errorf("status = %d", ferr.Status)
	}
}

func TestFetchRetriesTransientFailures(t *testing.T) {
	payload := []byte("dataset archive")
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Write(payload)
	}))
	defer srv.Close()

	f := testFetcher(srv.Client(), 3)
	data, err := f.Fetch(context.Background(), srv.URL, "orgB", hashing.HashBytes(payload))
	if err != nil {
		t.Fatalf("Fetch failed after retries: %v", err)
	}
	if string(data) != string(payload) {
		t.Errorf("payload = %q", data)
	}
	if calls.Load() != 3 {
		t.Errorf("server hit %d times, want 3", calls.Load())
	}
}

func TestFetchUnreachablePeer(t *testing.T) {
	f := testFetcher(&http.Client{Timeout: 200 * time.Millisecond}, 1)
	_, err := f.Fetch(context.Background(), "http://127.0.0.1:1/asset", "orgB", "00")

	var ferr *FetchError
	if !errors.As(err, &ferr) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if ferr.Status != 0 {
		t.Errorf("transport failure should carry status 0, got %d", ferr.Status)
	}
}
