package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestClient(url string) *GatewayClient {
	return NewGatewayClient(Config{
		Endpoint:      url,
		Channel:       "mychannel",
		Chaincode:     "assetcc",
		MSPID:         "OrgAMSP",
		Identity:      "user1",
		InvokeTimeout: 2 * time.Second,
		QueryTimeout:  2 * time.Second,
	})
}

func TestInvokeSuccess(t *testing.T) {
	var gotPath string
	var gotBody request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if r.Header.Get("X-MSP-ID") != "OrgAMSP" {
			t.Errorf("missing MSP header")
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"result":{"key":"abc","validated":true}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	raw, err := c.Invoke(context.Background(), "registerAlgo", map[string]string{"name": "net"})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	if gotPath != "/channels/mychannel/chaincodes/assetcc/invoke" {
		t.Errorf("path = %s", gotPath)
	}
	if gotBody.Fcn != "registerAlgo" {
		t.Errorf("fcn = %s", gotBody.Fcn)
	}

	var result map[string]any
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatal(err)
	}
	if result["key"] != "abc" {
		t.Errorf("result = %v", result)
	}
}

func TestInvokeTimeoutOnUnreachablePeer(t *testing.T) {
	// Nothing listens here; connection failure must classify as
	// timeout, not generic.
	c := NewGatewayClient(Config{
		Endpoint:      "http://127.0.0.1:1",
		Channel:       "ch",
		Chaincode:     "cc",
		InvokeTimeout: 500 * time.Millisecond,
	})

	_, err := c.Invoke(context.Background(), "registerDataset", nil)
	if !IsTimeout(err) {
		t.Fatalf("expected timeout classification, got %v", err)
	}
}

func TestInvokeTimeoutOnSlowPeer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewGatewayClient(Config{
		Endpoint:      srv.URL,
		InvokeTimeout: 100 * time.Millisecond,
	})

	start := time.Now()
	_, err := c.Invoke(context.Background(), "registerModel", nil)
	if !IsTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("deadline not bounded: took %v", elapsed)
	}
}

func TestInvokeConflictCarriesKey(t *testing.T) {
	existing := strings.Repeat("ab", 32)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"asset already exists with key ` + existing + `"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.Invoke(context.Background(), "registerObjective", nil)
	if !IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	lerr, _ := AsError(err)
	if lerr.PKHash != existing {
		t.Errorf("conflict key = %q, want %q", lerr.PKHash, existing)
	}
}

func TestInvokeConflictDetectedFromMessage(t *testing.T) {
	// Some chaincode stacks surface collisions as a 500 with a
	// descriptive message rather than a 409.
	key := strings.Repeat("cd", 32)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "failed: this asset already exists (key: "+key+")", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.Invoke(context.Background(), "registerAlgo", nil)
	if !IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	lerr, _ := AsError(err)
	if lerr.PKHash != key {
		t.Errorf("conflict key = %q, want %q", lerr.PKHash, key)
	}
}

func TestGatewayErrorStatuses(t *testing.T) {
	tests := []struct {
		status int
		want   Kind
	}{
		{http.StatusBadGateway, KindTimeout},
		{http.StatusServiceUnavailable, KindTimeout},
		{http.StatusGatewayTimeout, KindTimeout},
		{http.StatusRequestTimeout, KindTimeout},
		{http.StatusBadRequest, KindGeneric},
		{http.StatusInternalServerError, KindGeneric},
	}

	for _, tt := range tests {
		status := tt.status
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", status)
		}))

		c := newTestClient(srv.URL)
		_, err := c.Invoke(context.Background(), "registerAlgo", nil)
		srv.Close()

		lerr, ok := AsError(err)
		if !ok {
			t.Fatalf("status %d: expected *Error, got %v", status, err)
		}
		if lerr.Kind != tt.want {
			t.Errorf("status %d classified as %s, want %s", status, lerr.Kind, tt.want)
		}
	}
}

func TestQueryObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/query") {
			t.Errorf("query hit %s", r.URL.Path)
		}
		w.Write([]byte(`{"result":{"name":"mnist","owner":"orgA"}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	obj, err := QueryObject(context.Background(), c, "queryDataset", strings.Repeat("00", 32))
	if err != nil {
		t.Fatal(err)
	}
	if obj["name"] != "mnist" {
		t.Errorf("object = %v", obj)
	}
}

func TestQueryListBareResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Gateway returning the chaincode payload directly.
		w.Write([]byte(`[{"name":"a"},{"name":"b"}]`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	list, err := QueryList(context.Background(), c, "queryAlgos")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[1]["name"] != "b" {
		t.Errorf("list = %v", list)
	}
}
