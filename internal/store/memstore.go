package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemStore is an in-memory AssetStore. It enforces the same pkhash
// uniqueness semantics as the Postgres store under a single lock, so
// concurrent Puts of identical content see exactly one success. Used
// in tests and as a standalone-mode fallback.
type MemStore struct {
	mu       sync.Mutex
	records  map[string]*Asset
	payloads map[string][]byte
	descs    map[string][]byte
	clock    func() time.Time
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		records:  make(map[string]*Asset),
		payloads: make(map[string][]byte),
		descs:    make(map[string][]byte),
		clock:    time.Now,
	}
}

// WithClock overrides the clock for tests.
func (s *MemStore) WithClock(clock func() time.Time) *MemStore {
	s.clock = clock
	return s
}

func (s *MemStore) Put(ctx context.Context, asset Asset, payload, description []byte) (*Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[asset.PKHash]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateKey, asset.PKHash)
	}

	asset.Validated = false
	asset.PayloadKey = fmt.Sprintf("%s/%s", asset.Type, asset.PKHash)
	asset.CreatedAt = s.clock()
	s.payloads[asset.PKHash] = append([]byte(nil), payload...)
	if len(description) > 0 {
		asset.DescriptionKey = asset.PayloadKey + ".desc"
		s.descs[asset.PKHash] = append([]byte(nil), description...)
	}

	stored := asset
	s.records[asset.PKHash] = &stored
	out := stored
	return &out, nil
}

func (s *MemStore) Get(ctx context.Context, pkhash string) (*Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.records[pkhash]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, pkhash)
	}
	out := *a
	return &out, nil
}

func (s *MemStore) MarkValidated(ctx context.Context, pkhash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.records[pkhash]; ok {
		a.Validated = true
	}
	return nil
}

func (s *MemStore) Delete(ctx context.Context, pkhash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, pkhash)
	delete(s.payloads, pkhash)
	delete(s.descs, pkhash)
	return nil
}

func (s *MemStore) UpdateOrCreate(ctx context.Context, asset Asset, payload, description []byte) (*Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[asset.PKHash]
	if !ok {
		asset.CreatedAt = s.clock()
		if asset.PayloadKey == "" {
			asset.PayloadKey = fmt.Sprintf("%s/%s", asset.Type, asset.PKHash)
		}
		stored := asset
		existing = &stored
		s.records[asset.PKHash] = existing
	}
	existing.Validated = true
	existing.Owner = asset.Owner
	if len(payload) > 0 {
		s.payloads[asset.PKHash] = append([]byte(nil), payload...)
	}
	if len(description) > 0 {
		existing.DescriptionKey = existing.PayloadKey + ".desc"
		s.descs[asset.PKHash] = append([]byte(nil), description...)
	}
	out := *existing
	return &out, nil
}

func (s *MemStore) Payload(ctx context.Context, pkhash string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.payloads[pkhash]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, pkhash)
	}
	return append([]byte(nil), data...), nil
}

func (s *MemStore) Description(ctx context.Context, pkhash string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.descs[pkhash]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, pkhash)
	}
	return append([]byte(nil), data...), nil
}

func (s *MemStore) ListUnvalidated(ctx context.Context, olderThan time.Duration) ([]Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.clock().Add(-olderThan)
	var out []Asset
	for _, a := range s.records {
		if !a.Validated && a.CreatedAt.Before(cutoff) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *MemStore) Close() error { return nil }

var _ AssetStore = (*MemStore)(nil)
