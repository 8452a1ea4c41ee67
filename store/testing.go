package store

import (
	"path/filepath"
	"testing"

	"gorm.io/gorm"
)

// TestingDB opens a fresh SQLite database in a temporary directory.
func TestingDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := Open("sqlite://"+filepath.Join(t.TempDir(), "harmlens.db"), 1)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if sqldb, err := db.DB(); err == nil {
			_ = sqldb.Close()
		}
	})
	return db
}
