package cache

import (
	"bytes"
	"context"
	"testing"
)

func TestFileStoreRoundTrip(t *testing.T) {
	store := NewFileStore(t.TempDir())
	ctx := context.Background()

	if _, ok, err := store.Get(ctx, "ml_data"); err != nil || ok {
		t.Fatalf("empty store: ok=%v err=%v", ok, err)
	}

	payload := []byte("hadm_id,date\n1,2000-01-01\n")
	if err := store.Put(ctx, "ml_data", payload); err != nil {
		t.Fatalf("put: %v", err)
	}

	data, ok, err := store.Get(ctx, "ml_data")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(data, payload) {
		t.Fatalf("got %q", data)
	}

	if err := store.Delete(ctx, "ml_data"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "ml_data"); ok {
		t.Fatal("key still present after delete")
	}
	// deleting a missing key is not an error
	if err := store.Delete(ctx, "ml_data"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestFileStorePurgeRemovesEverything(t *testing.T) {
	store := NewFileStore(t.TempDir())
	ctx := context.Background()

	for _, key := range []string{"processed_lab_events", "processed_chart_events"} {
		if err := store.Put(ctx, key, []byte("x")); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	if err := store.Purge(ctx); err != nil {
		t.Fatalf("purge: %v", err)
	}
	for _, key := range []string{"processed_lab_events", "processed_chart_events"} {
		if _, ok, _ := store.Get(ctx, key); ok {
			t.Fatalf("%s survived purge", key)
		}
	}
	// the store is usable again after a purge
	if err := store.Put(ctx, "ml_data", []byte("y")); err != nil {
		t.Fatalf("put after purge: %v", err)
	}
}
