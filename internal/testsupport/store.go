package testsupport

import (
	"testing"

	"telepipe/internal/config"
	"telepipe/internal/runs"
	"telepipe/internal/warehouse"
)

// MustOpenRunStore opens a runs.Store for tests and registers cleanup.
func MustOpenRunStore(t testing.TB, cfg *config.Config) *runs.Store {
	t.Helper()

	store, err := runs.Open(cfg.RunsPath())
	if err != nil {
		t.Fatalf("runs.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustOpenWarehouse opens a warehouse.Store for tests and registers cleanup.
func MustOpenWarehouse(t testing.TB, cfg *config.Config) *warehouse.Store {
	t.Helper()

	store, err := warehouse.Open(cfg.WarehousePath())
	if err != nil {
		t.Fatalf("warehouse.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}
