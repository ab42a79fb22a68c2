package jsonfile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"duelkit/core"
)

const alice = core.UserID("00000000-0000-0000-0000-00000000000a")

func TestStorePersistAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	store, err := New(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	if _, created, err := store.CreateUser(context.Background(), alice, "alice"); err != nil || !created {
		t.Fatalf("create user: created=%v err=%v", created, err)
	}
	total, err := store.AddToCounter(context.Background(), alice, core.CounterWins, 50)
	if err != nil || total != 50 {
		t.Fatalf("add to counter: total=%d err=%v", total, err)
	}
	if _, err := store.AddToCounter(context.Background(), alice, core.CounterLosses, 2); err != nil {
		t.Fatalf("add to counter: %v", err)
	}

	// ensure file written
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file at %s", path)
	}

	// reload
	reloaded, err := New(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	u, err := reloaded.GetUser(context.Background(), alice)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.Name != "alice" || u.Wins() != 50 || u.Losses() != 2 {
		t.Fatalf("unexpected reloaded user %+v", u)
	}
}

func TestStoreErrors(t *testing.T) {
	store, err := New(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if _, err := store.GetUser(ctx, alice); !errors.Is(err, core.ErrUserNotFound) {
		t.Fatalf("want ErrUserNotFound got %v", err)
	}
	if _, err := store.AddToCounter(ctx, alice, core.CounterWins, 1); !errors.Is(err, core.ErrUserNotFound) {
		t.Fatalf("want ErrUserNotFound got %v", err)
	}
	_, _, _ = store.CreateUser(ctx, alice, "alice")
	if _, err := store.AddToCounter(ctx, alice, core.CounterWins, -3); !errors.Is(err, core.ErrNegativeCounter) {
		t.Fatalf("want ErrNegativeCounter got %v", err)
	}
}

func TestStoreForEachOrdered(t *testing.T) {
	store, err := New(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	for _, id := range []core.UserID{
		"00000000-0000-0000-0000-00000000000c",
		"00000000-0000-0000-0000-00000000000a",
		"00000000-0000-0000-0000-00000000000b",
	} {
		if _, _, err := store.CreateUser(ctx, id, "p"); err != nil {
			t.Fatal(err)
		}
	}
	var order []core.UserID
	if err := store.ForEach(ctx, func(u core.User) error { order = append(order, u.ID); return nil }); err != nil {
		t.Fatal(err)
	}
	if len(order) != 3 || order[0] != alice || order[2] != "00000000-0000-0000-0000-00000000000c" {
		t.Fatalf("unexpected order %v", order)
	}
}

func TestStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(path); err == nil {
		t.Fatal("expected error for corrupt file")
	}
}
