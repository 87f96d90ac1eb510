// Package testutil provides shared helpers for tests that need a real store.
package testutil

import (
	"context"
	"testing"

	"github.com/Veraticus/subdupes/internal/storage"
)

// SetupTestStore creates a migrated in-memory store that is closed when the test ends.
//
// Example:
//
//	store := testutil.SetupTestStore(t)
//	q := queue.New(store)
func SetupTestStore(t *testing.T) *storage.SQLiteStorage {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		_ = store.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = store.Close()
	})

	return store
}

// MustSet writes a field or fails the test.
func MustSet(t *testing.T, store *storage.SQLiteStorage, field string, v any) {
	t.Helper()
	if err := store.Set(context.Background(), field, v); err != nil {
		t.Fatalf("failed to seed field %s: %v", field, err)
	}
}

// MustGet reads a field into dst or fails the test. It reports whether the field was set.
func MustGet(t *testing.T, store *storage.SQLiteStorage, field string, dst any) bool {
	t.Helper()
	found, err := store.Get(context.Background(), field, dst)
	if err != nil {
		t.Fatalf("failed to read field %s: %v", field, err)
	}
	return found
}
