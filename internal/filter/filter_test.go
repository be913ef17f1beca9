package filter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/chainml/asset-registry/internal/ledger"
)

// mockLedger implements ledger.Client over canned query responses.
type mockLedger struct {
	mu      sync.Mutex
	objects map[string]map[string]any // fcn + ":" + key -> object
	queries []string
}

func newMockLedger() *mockLedger {
	return &mockLedger{objects: make(map[string]map[string]any)}
}

func (m *mockLedger) add(fcn, key string, obj map[string]any) {
	m.objects[fcn+":"+key] = obj
}

func (m *mockLedger) Invoke(ctx context.Context, txName string, args any) (json.RawMessage, error) {
	return nil, &ledger.Error{Kind: ledger.KindGeneric, Msg: "invoke not supported in mock"}
}

func (m *mockLedger) Query(ctx context.Context, fcn string, args any) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var req map[string]string
	b, _ := json.Marshal(args)
	json.Unmarshal(b, &req)

	cacheKey := fcn + ":" + req["key"]
	m.queries = append(m.queries, cacheKey)

	obj, ok := m.objects[cacheKey]
	if !ok {
		return nil, &ledger.Error{Kind: ledger.KindGeneric, Msg: fmt.Sprintf("no element with key %s", req["key"])}
	}
	return json.Marshal(obj)
}

func (m *mockLedger) queryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queries)
}

func algoRecords() []map[string]any {
	return []map[string]any{
		{"name": "Logistic regression", "key": "a1", "datasetKey": "d1"},
		{"name": "Neural network", "key": "a2", "datasetKey": "d2"},
		{"name": "Logistic regression", "key": "a3", "datasetKey": "d2"},
	}
}

func TestApplyExactNameMatch(t *testing.T) {
	e := NewEngine(newMockLedger())

	out, err := e.Apply(context.Background(), "algo", algoRecords(), "algo:name:Logistic regression")
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d records, want 2", len(out))
	}
	for _, rec := range out {
		if rec["name"] != "Logistic regression" {
			t.Errorf("unexpected record %v", rec)
		}
	}

	// Exact match: a prefix must not match.
	out, err = e.Apply(context.Background(), "algo", algoRecords(), "algo:name:Logistic")
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 0 {
		t.Errorf("prefix matched %d records, want 0", len(out))
	}
}

func TestApplyCrossEntityPredicate(t *testing.T) {
	ml := newMockLedger()
	ml.add("queryDataset", "d1", map[string]any{"name": "ISIC 2018", "key": "d1"})
	ml.add("queryDataset", "d2", map[string]any{"name": "MNIST", "key": "d2"})
	e := NewEngine(ml)

	out, err := e.Apply(context.Background(), "algo", algoRecords(), "dataset:name:MNIST")
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d records, want 2", len(out))
	}
	for _, rec := range out {
		if rec["datasetKey"] != "d2" {
			t.Errorf("unexpected record %v", rec)
		}
	}

	// d2 is referenced by two records but resolved once.
	if n := ml.queryCount(); n != 2 {
		t.Errorf("ledger queried %d times, want 2 (d1 and d2 once each)", n)
	}
}

func TestApplyAndCombination(t *testing.T) {
	ml := newMockLedger()
	ml.add("queryDataset", "d1", map[string]any{"name": "ISIC 2018"})
	ml.add("queryDataset", "d2", map[string]any{"name": "MNIST"})
	e := NewEngine(ml)

	out, err := e.Apply(context.Background(), "algo", algoRecords(),
		"algo:name:Logistic regression,dataset:name:MNIST")
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0]["key"] != "a3" {
		t.Errorf("AND filter = %v, want just a3", out)
	}
}

func TestApplyOrGroups(t *testing.T) {
	e := NewEngine(newMockLedger())

	out, err := e.Apply(context.Background(), "algo", algoRecords(),
		"algo:name:Neural network-OR-algo:key:a1")
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Errorf("OR filter returned %d records, want 2", len(out))
	}
}

func TestApplyDanglingReferenceDropsRecord(t *testing.T) {
	// No datasets registered at all: every record's reference dangles.
	e := NewEngine(newMockLedger())

	out, err := e.Apply(context.Background(), "algo", algoRecords(), "dataset:name:MNIST")
	if err != nil {
		t.Fatalf("dangling reference should not fail the query: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("got %d records, want 0", len(out))
	}
}

func TestApplySyntaxErrors(t *testing.T) {
	e := NewEngine(newMockLedger())

	tests := []struct {
		expr     string
		fragment string
	}{
		{"bogus:name:x", "bogus:name:x"}, // unknown entity
		{"algo:name", "algo:name"},       // missing value
		{"model:name:x", "model:name:x"}, // no relation algo->model
		{":name:x", ":name:x"},           // empty entity
		{",,,", ",,,"},                   // no predicates at all
	}

	for _, tt := range tests {
		_, err := e.Apply(context.Background(), "algo", algoRecords(), tt.expr)
		var serr *SyntaxError
		if !errors.As(err, &serr) {
			t.Errorf("expr %q: expected SyntaxError, got %v", tt.expr, err)
			continue
		}
	}
}

func TestApplyEmptyExpressionPassesThrough(t *testing.T) {
	e := NewEngine(newMockLedger())
	records := algoRecords()

	out, err := e.Apply(context.Background(), "algo", records, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != len(records) {
		t.Errorf("empty expression filtered records: %d != %d", len(out), len(records))
	}
}

func TestApplyNestedFieldLookup(t *testing.T) {
	records := []map[string]any{
		{"name": "obj1", "metrics": map[string]any{"hash": "abc"}},
		{"name": "obj2", "metrics": map[string]any{"hash": "def"}},
	}
	e := NewEngine(newMockLedger())

	out, err := e.Apply(context.Background(), "objective", records, "objective:metrics.hash:def")
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0]["name"] != "obj2" {
		t.Errorf("nested lookup = %v", out)
	}
}
