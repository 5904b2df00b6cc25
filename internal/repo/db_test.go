package repo

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gorm.io/gorm"
)

// newTestDB opens a fresh SQLite database in a temp dir and runs all
// migrations.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bridge.db")
	db, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		t.Cleanup(func() { _ = sqlDB.Close() })
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return db
}

func TestOpenSQLite_ErrorOnBadPath(t *testing.T) {
	base := t.TempDir()
	bad := filepath.Join(base, "does-not-exist", "bridge.db")

	db, err := OpenSQLite(bad)
	if err == nil || db != nil {
		t.Fatalf("expected error opening %q, got db=%v err=%v", bad, db, err)
	}

	// Be tolerant across platforms/drivers.
	lower := strings.ToLower(err.Error())
	if !(os.IsNotExist(err) ||
		strings.Contains(lower, "unable to open database file") ||
		strings.Contains(lower, "no such file or directory") ||
		strings.Contains(lower, "out of memory")) {
		t.Fatalf("unexpected error opening %q: %v", bad, err)
	}
}

func TestMigrate_IsVersionedAndRerunnable(t *testing.T) {
	db := newTestDB(t)

	v, err := SchemaVersion(db)
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if want := migrations[len(migrations)-1].version; v != want {
		t.Fatalf("schema version = %d; want %d", v, want)
	}

	// A second run must be a no-op.
	if err := Migrate(db); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	v2, err := SchemaVersion(db)
	if err != nil {
		t.Fatalf("SchemaVersion after rerun: %v", err)
	}
	if v2 != v {
		t.Fatalf("schema version changed on rerun: %d -> %d", v, v2)
	}

	// All four tables must exist with the post-upgrade columns.
	m := db.Migrator()
	for _, tbl := range []string{"portals", "users", "puppets", "messages"} {
		if !m.HasTable(tbl) {
			t.Fatalf("expected table %q to exist", tbl)
		}
	}
	for _, col := range []string{"access_token", "next_batch", "base_url"} {
		if !m.HasColumn("puppets", col) {
			t.Fatalf("expected puppets.%s after migration v2", col)
		}
	}
}
