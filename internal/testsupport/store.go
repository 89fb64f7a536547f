package testsupport

import (
	"context"
	"testing"

	"dropwatch/internal/config"
	"dropwatch/internal/tracking"
)

// MustOpenStore opens a tracking.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *tracking.Store {
	t.Helper()

	store, err := tracking.Open(cfg)
	if err != nil {
		t.Fatalf("tracking.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustGetFile fetches a record and fails the test if it is missing.
func MustGetFile(t testing.TB, store *tracking.Store, name string) *tracking.File {
	t.Helper()

	file, err := store.GetFile(context.Background(), name)
	if err != nil {
		t.Fatalf("store.GetFile(%q): %v", name, err)
	}
	if file == nil {
		t.Fatalf("expected record for %q", name)
	}
	return file
}

// SeedFile upserts a record with the given status and source.
func SeedFile(t testing.TB, store *tracking.Store, name string, status tracking.Status, source string) *tracking.File {
	t.Helper()

	file := &tracking.File{Name: name, Status: status, Source: source}
	if err := store.UpsertFile(context.Background(), file); err != nil {
		t.Fatalf("store.UpsertFile(%q): %v", name, err)
	}
	return file
}
