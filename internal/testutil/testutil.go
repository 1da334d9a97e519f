// Package testutil holds shared test fixtures.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/picolabs/picogate/internal/config"
	"github.com/picolabs/picogate/internal/store"
)

// NewTestStore creates a temp-file SQLite store for testing.
// The store is automatically closed when the test completes.
func NewTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	st, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// NewTestConfig returns a minimal valid config for testing.
func NewTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.DataDir = t.TempDir()
	cfg.Auth.JWTKey = "test-signing-key"
	return cfg
}

// NewTestIdentity inserts and returns a named identity.
func NewTestIdentity(t *testing.T, st *store.Store, accountToken string) *store.Identity {
	t.Helper()
	ident := &store.Identity{
		AccountToken: &accountToken,
		Environment:  "Sandbox",
		ProductID:    "com.example.sub.monthly",
		Status:       store.StatusActive,
	}
	if err := st.InsertIdentity(ident); err != nil {
		t.Fatalf("failed to insert test identity: %v", err)
	}
	return ident
}

// NewAnonymousIdentity inserts and returns the shared anonymous identity.
func NewAnonymousIdentity(t *testing.T, st *store.Store) *store.Identity {
	t.Helper()
	ident := &store.Identity{
		Environment: "Xcode",
		Status:      store.StatusActive,
	}
	if err := st.InsertIdentity(ident); err != nil {
		t.Fatalf("failed to insert anonymous identity: %v", err)
	}
	return ident
}

// WriteFile writes content to a file in the given directory.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	return path
}
