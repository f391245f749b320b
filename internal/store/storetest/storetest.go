// Package storetest opens migrated and seeded SQLite stores for tests.
package storetest

import (
	"context"
	"path/filepath"
	"testing"

	"gatekeepr.org/internal/store"
)

// DSN returns a file DSN inside dir with foreign keys and a busy timeout enabled.
func DSN(dir string) string {
	return "file:" + filepath.Join(dir, "gatekeepr.db") + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// Open returns a fresh store in a temporary directory, closed at test cleanup.
func Open(t testing.TB) *store.Store {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(ctx, store.DriverSQLite, DSN(t.TempDir()))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap sqlite store: %v", err)
	}
	return s
}
