package kvstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStoreRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	if _, ok, err := store.Get(ctx, "guestCart"); err != nil || ok {
		t.Fatalf("expected missing key, got ok=%v err=%v", ok, err)
	}

	if err := store.Set(ctx, "guestCart", `{"version":1,"lines":[]}`); err != nil {
		t.Fatalf("Set: %v", err)
	}
	value, ok, err := store.Get(ctx, "guestCart")
	if err != nil || !ok {
		t.Fatalf("Get after Set: ok=%v err=%v", ok, err)
	}
	if value != `{"version":1,"lines":[]}` {
		t.Fatalf("unexpected value %q", value)
	}

	if err := store.Delete(ctx, "guestCart"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "guestCart"); ok {
		t.Fatalf("expected key gone after delete")
	}
	if err := store.Delete(ctx, "guestCart"); err != nil {
		t.Fatalf("double delete should be silent: %v", err)
	}
}

func TestFileStoreWritesFlatFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	defer store.Close()

	if err := store.Set(context.Background(), "userCart_u1", "x"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "userCart_u1.json")); err != nil {
		t.Fatalf("expected file for owner key: %v", err)
	}
}

func TestFileKeyEncodingRoundTrip(t *testing.T) {
	for _, key := range []string{"guestCart", "userCart_u1", "userCart_a b/c"} {
		encoded := encodeKey(key)
		if filepath.Base(encoded) != encoded {
			t.Fatalf("encoded key %q escapes the directory", encoded)
		}
		if got := decodeKey(encoded); got != key {
			t.Fatalf("round trip of %q: got %q", key, got)
		}
	}
}
