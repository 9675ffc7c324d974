package kv

import (
	"context"
	"errors"
	"testing"
)

// runStoreTests exercises the Store contract against any implementation.
func runStoreTests(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := store.Get(ctx, Key{"session", "missing"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing = %v, want ErrNotFound", err)
	}

	if err := store.Set(ctx, Key{"session", "room-1"}, []byte("alpha")); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	if err := store.Set(ctx, Key{"session", "room-2"}, []byte("beta")); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	if err := store.Set(ctx, Key{"archive", "room-1"}, []byte("gamma")); err != nil {
		t.Fatalf("Set error: %v", err)
	}

	got, err := store.Get(ctx, Key{"session", "room-1"})
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if string(got) != "alpha" {
		t.Errorf("Get = %q, want %q", got, "alpha")
	}

	// Overwrite.
	if err := store.Set(ctx, Key{"session", "room-1"}, []byte("alpha2")); err != nil {
		t.Fatalf("Set overwrite error: %v", err)
	}
	got, _ = store.Get(ctx, Key{"session", "room-1"})
	if string(got) != "alpha2" {
		t.Errorf("Get after overwrite = %q, want %q", got, "alpha2")
	}

	// List by prefix, lexicographic order.
	var listed []string
	for entry, err := range store.List(ctx, Key{"session"}) {
		if err != nil {
			t.Fatalf("List error: %v", err)
		}
		listed = append(listed, entry.Key.String())
	}
	want := []string{"session:room-1", "session:room-2"}
	if len(listed) != len(want) {
		t.Fatalf("List = %v, want %v", listed, want)
	}
	for i := range want {
		if listed[i] != want[i] {
			t.Errorf("List[%d] = %q, want %q", i, listed[i], want[i])
		}
	}

	// Delete is idempotent.
	if err := store.Delete(ctx, Key{"session", "room-2"}); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if err := store.Delete(ctx, Key{"session", "room-2"}); err != nil {
		t.Fatalf("second Delete error: %v", err)
	}
	if _, err := store.Get(ctx, Key{"session", "room-2"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get deleted = %v, want ErrNotFound", err)
	}
}

func TestMemory(t *testing.T) {
	store := NewMemory()
	defer store.Close()
	runStoreTests(t, store)
}

func TestBadger_InMemory(t *testing.T) {
	store, err := NewBadger(BadgerOptions{InMemory: true})
	if err != nil {
		t.Fatalf("NewBadger error: %v", err)
	}
	defer store.Close()
	runStoreTests(t, store)
}

func TestBadger_RequiresDir(t *testing.T) {
	if _, err := NewBadger(BadgerOptions{}); err == nil {
		t.Error("NewBadger without Dir should fail")
	}
}
