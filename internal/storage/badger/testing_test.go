package badger

import (
	"testing"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/crawlservice/internal/common"
)

// openTestDB opens a fresh Badger database under the test's temp directory,
// closed automatically when the test completes.
func openTestDB(t *testing.T) *DB {
	t.Helper()
	logger := arbor.NewLogger()
	db, err := NewDB(logger, &common.BadgerConfig{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("NewDB() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
