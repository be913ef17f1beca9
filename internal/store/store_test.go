package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"gocloud.dev/blob/memblob"
)

func TestMemStorePutDuplicate(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	asset := Asset{PKHash: "aa11", Type: TypeAlgo, Owner: "orgA"}
	if _, err := s.Put(ctx, asset, []byte("payload"), nil); err != nil {
		t.Fatalf("first Put failed: %v", err)
	}

	_, err := s.Put(ctx, asset, []byte("payload"), nil)
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("second Put: expected ErrDuplicateKey, got %v", err)
	}
}

func TestMemStoreConcurrentPutExactlyOneSuccess(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	asset := Asset{PKHash: "bb22", Type: TypeDataset}

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Put(ctx, asset, []byte("same content"), nil)
		}(i)
	}
	wg.Wait()

	successes, duplicates := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrDuplicateKey):
			duplicates++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != 1 || duplicates != n-1 {
		t.Errorf("got %d successes and %d duplicates, want 1 and %d", successes, duplicates, n-1)
	}
}

func TestMemStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	asset := Asset{PKHash: "cc33", Type: TypeObjective, Owner: "orgB"}
	created, err := s.Put(ctx, asset, []byte("metrics.py"), []byte("# description"))
	if err != nil {
		t.Fatal(err)
	}
	if created.Validated {
		t.Error("new record should start unvalidated")
	}

	if err := s.MarkValidated(ctx, "cc33"); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, "cc33")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Validated {
		t.Error("MarkValidated did not stick")
	}

	desc, err := s.Description(ctx, "cc33")
	if err != nil {
		t.Fatal(err)
	}
	if string(desc) != "# description" {
		t.Errorf("description = %q", desc)
	}

	if err := s.Delete(ctx, "cc33"); err != nil {
		t.Fatal(err)
	}
	// Delete is idempotent.
	if err := s.Delete(ctx, "cc33"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "cc33"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if _, err := s.Payload(ctx, "cc33"); !errors.Is(err, ErrNotFound) {
		t.Errorf("payload should be gone after delete, got %v", err)
	}
}

func TestMemStoreUpdateOrCreateIsValidated(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	a, err := s.UpdateOrCreate(ctx, Asset{PKHash: "dd44", Type: TypeAlgo, Owner: "peerOrg"}, []byte("fetched"), []byte("about"))
	if err != nil {
		t.Fatal(err)
	}
	if !a.Validated {
		t.Error("cache-fill record must be validated")
	}
	if got, err := s.Payload(ctx, "dd44"); err != nil || string(got) != "fetched" {
		t.Errorf("Payload = %q, %v", got, err)
	}

	// Second fill refreshes without error.
	if _, err := s.UpdateOrCreate(ctx, Asset{PKHash: "dd44", Type: TypeAlgo, Owner: "peerOrg"}, nil, nil); err != nil {
		t.Fatal(err)
	}
}

func TestPayloadStoreTempFinalize(t *testing.T) {
	ctx := context.Background()
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()
	ps := NewPayloadStore(bucket, "assets/")

	key := ps.PayloadKey(TypeDataset, "ee55")
	tempKey, err := ps.WriteTemp(ctx, key, []byte("archive bytes"))
	if err != nil {
		t.Fatal(err)
	}

	// Canonical key must not exist before finalize.
	if _, err := ps.Read(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("canonical key visible before finalize: %v", err)
	}

	if err := ps.Finalize(ctx, tempKey, key); err != nil {
		t.Fatal(err)
	}
	data, err := ps.Read(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "archive bytes" {
		t.Errorf("read back %q", data)
	}

	// Temp key is gone after finalize.
	if _, err := ps.Read(ctx, tempKey); !errors.Is(err, ErrNotFound) {
		t.Errorf("temp key still present after finalize: %v", err)
	}
}

func TestPayloadStoreAbort(t *testing.T) {
	ctx := context.Background()
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()
	ps := NewPayloadStore(bucket, "")

	key := ps.PayloadKey(TypeAlgo, "ff66")
	tempKey, err := ps.WriteTemp(ctx, key, []byte("doomed"))
	if err != nil {
		t.Fatal(err)
	}
	ps.Abort(ctx, tempKey)

	if _, err := ps.Read(ctx, tempKey); !errors.Is(err, ErrNotFound) {
		t.Errorf("temp key survived abort: %v", err)
	}
	if _, err := ps.Read(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("canonical key exists after abort: %v", err)
	}
}

func TestPayloadStoreKeys(t *testing.T) {
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()
	ps := NewPayloadStore(bucket, "assets/")

	key := ps.PayloadKey(TypeModel, "0011")
	if key != "assets/model/0011" {
		t.Errorf("PayloadKey = %s", key)
	}
	if got := ps.DescriptionKey(TypeModel, "0011"); got != "assets/model/0011.desc" {
		t.Errorf("DescriptionKey = %s", got)
	}
}
