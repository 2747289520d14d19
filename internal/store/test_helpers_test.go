package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/docsync/internal/ir"
	"github.com/roach88/docsync/internal/testutil"
)

// createTestStore creates a new SQLite store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(DriverSQLite, path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// docOps builds a contiguous history for doc-1/global/main.
func docOps(prefix string, n int) []ir.OperationWithContext {
	return testutil.WithContext(testutil.History(prefix, n), "doc-1", "global", "main", 0)
}
