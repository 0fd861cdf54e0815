package store

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "policy.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	return repo
}

func TestSQLiteStore_LoadPolicyEmpty(t *testing.T) {
	repo := newTestStore(t)

	snap, err := repo.LoadPolicy(context.Background())
	if err != nil {
		t.Fatalf("LoadPolicy failed: %v", err)
	}
	if snap != nil {
		t.Errorf("Expected nil snapshot from empty store, got %+v", snap)
	}
}

func TestSQLiteStore_SaveLoadRoundTrip(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	in := &PolicySnapshot{
		WhiteList:    []string{"a", "b"},
		Limits:       map[string]int{"d": 10},
		DefaultLimit: 20,
		Token:        "rotated",
	}
	if err := repo.SavePolicy(ctx, in); err != nil {
		t.Fatalf("SavePolicy failed: %v", err)
	}

	// Second save must replace, not duplicate.
	in.Limits["e"] = 5
	if err := repo.SavePolicy(ctx, in); err != nil {
		t.Fatalf("Second SavePolicy failed: %v", err)
	}

	out, err := repo.LoadPolicy(ctx)
	if err != nil {
		t.Fatalf("LoadPolicy failed: %v", err)
	}
	if out == nil {
		t.Fatal("Expected snapshot, got nil")
	}
	if len(out.WhiteList) != 2 {
		t.Errorf("Expected 2 white list entries, got %v", out.WhiteList)
	}
	if out.Limits["d"] != 10 || out.Limits["e"] != 5 {
		t.Errorf("Unexpected limits: %v", out.Limits)
	}
	if out.DefaultLimit != 20 {
		t.Errorf("Expected default limit 20, got %d", out.DefaultLimit)
	}
	if out.Token != "rotated" {
		t.Errorf("Expected command token persisted, got %q", out.Token)
	}
}
