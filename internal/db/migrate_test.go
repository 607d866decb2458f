// Package db tests for database migration management.
package db

import (
	"database/sql"
	"strings"
	"testing"
	"testing/fstest"
)

func openMemory(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

// TestNewMigrator verifies Migrator initialization.
func TestNewMigrator(t *testing.T) {
	db := openMemory(t)
	fsys := fstest.MapFS{}

	m := NewMigrator(db, fsys)
	if m == nil {
		t.Fatal("NewMigrator() returned nil")
	}
	if m.db != db {
		t.Error("Migrator.db not set correctly")
	}
}

// TestInitialize verifies schema_migrations table creation.
func TestInitialize(t *testing.T) {
	db := openMemory(t)
	m := NewMigrator(db, fstest.MapFS{})

	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	// Twice is fine.
	if err := m.Initialize(); err != nil {
		t.Fatalf("second Initialize() failed: %v", err)
	}

	var tableName string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='schema_migrations'").Scan(&tableName)
	if err != nil {
		t.Errorf("schema_migrations table not found: %v", err)
	}

	_, err = db.Exec("INSERT INTO schema_migrations (version, applied_at, description, checksum) VALUES (?, ?, ?, ?)",
		1, 123456, "test_migration", strings.Repeat("a", 64))
	if err != nil {
		t.Errorf("insert into schema_migrations failed: %v", err)
	}

	// Checksum must be 64 hex characters.
	_, err = db.Exec("INSERT INTO schema_migrations (version, applied_at, description, checksum) VALUES (?, ?, ?, ?)",
		2, 123456, "bad", "short")
	if err == nil {
		t.Error("short checksum should violate CHECK constraint")
	}
}

// TestUp_noMigrations verifies Up succeeds when no migrations exist.
func TestUp_noMigrations(t *testing.T) {
	m := NewMigrator(openMemory(t), fstest.MapFS{})
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if err := m.Up(); err != nil {
		t.Errorf("Up() with no migrations failed: %v", err)
	}

	version, err := m.CurrentVersion()
	if err != nil {
		t.Fatalf("CurrentVersion() failed: %v", err)
	}
	if version != 0 {
		t.Errorf("CurrentVersion() = %d, want 0", version)
	}
}

// TestUp_appliesInOrder verifies files are applied by version and skipped on re-run.
func TestUp_appliesInOrder(t *testing.T) {
	db := openMemory(t)
	fsys := fstest.MapFS{
		"V2__add_column.up.sql":    {Data: []byte(`ALTER TABLE test_table ADD COLUMN note TEXT;`)},
		"V1__test_table.up.sql":    {Data: []byte(`CREATE TABLE test_table (id INTEGER PRIMARY KEY, name TEXT);`)},
		"README.md":                {Data: []byte("ignored")},
		"Vx__not_a_version.up.sql": {Data: []byte("garbage")},
	}
	m := NewMigrator(db, fsys)
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}

	if err := m.Up(); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}

	if _, err := db.Exec("INSERT INTO test_table (name, note) VALUES ('a', 'b')"); err != nil {
		t.Errorf("schema not migrated: %v", err)
	}

	applied, err := m.GetAppliedMigrations()
	if err != nil {
		t.Fatalf("GetAppliedMigrations() failed: %v", err)
	}
	if len(applied) != 2 {
		t.Fatalf("applied %d migrations, want 2", len(applied))
	}
	if applied[0].Description != "test_table" || applied[1].Description != "add_column" {
		t.Errorf("descriptions = %q, %q", applied[0].Description, applied[1].Description)
	}
	if len(applied[0].Checksum) != 64 {
		t.Errorf("checksum length = %d", len(applied[0].Checksum))
	}

	// Re-running must not re-apply the ALTER TABLE.
	if err := m.Up(); err != nil {
		t.Errorf("Up() second time failed: %v", err)
	}
}

// TestUp_failedMigrationRollsBack verifies a broken file leaves no partial state.
func TestUp_failedMigrationRollsBack(t *testing.T) {
	db := openMemory(t)
	fsys := fstest.MapFS{
		"V1__broken.up.sql": {Data: []byte(`CREATE TABLE ok_table (id INTEGER); THIS IS NOT SQL;`)},
	}
	m := NewMigrator(db, fsys)
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}

	if err := m.Up(); err == nil {
		t.Fatal("Up() should fail on invalid SQL")
	}

	version, err := m.CurrentVersion()
	if err != nil {
		t.Fatalf("CurrentVersion() failed: %v", err)
	}
	if version != 0 {
		t.Errorf("CurrentVersion() = %d after failed migration, want 0", version)
	}
}

// TestDefaultMigrations verifies the embedded schema creates every table.
func TestDefaultMigrations(t *testing.T) {
	db := openMemory(t)
	m := NewMigrator(db, DefaultMigrations())
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if err := m.Up(); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}

	for _, table := range []string{"day_logs", "tag_cache", "offline_queue", "cache"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not created: %v", table, err)
		}
	}

	version, err := m.CurrentVersion()
	if err != nil {
		t.Fatalf("CurrentVersion() failed: %v", err)
	}
	if version != 2 {
		t.Errorf("CurrentVersion() = %d, want 2", version)
	}
}
