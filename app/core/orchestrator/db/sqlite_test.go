package db

import (
	"path/filepath"
	"testing"
)

func TestNewSQLiteDBCreatesSchema(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	database, err := NewSQLiteDB(dir)
	if err != nil {
		t.Fatalf("init sqlite failed: %v", err)
	}
	defer database.Close()

	for _, table := range []string{"tasks", "conversations", "messages", "schema_meta"} {
		var name string
		err := database.Conn().QueryRow(
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}

	// Reminder columns arrive with the second migration.
	rows, err := database.Conn().Query(`SELECT reminder_time, reminder_enabled, snooze_until, snooze_count, last_reminded_at FROM tasks LIMIT 1`)
	if err != nil {
		t.Fatalf("reminder columns missing: %v", err)
	}
	rows.Close()
}

func TestNewSQLiteDBIsIdempotent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	first, err := NewSQLiteDB(dir)
	if err != nil {
		t.Fatalf("first open failed: %v", err)
	}
	if _, err := first.Conn().Exec(
		`INSERT INTO tasks (user_id, title, completed, created_at, updated_at) VALUES ('u', 't', 0, 1, 1)`); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	first.Close()

	// Re-opening an already-migrated database keeps the data.
	second, err := NewSQLiteDB(dir)
	if err != nil {
		t.Fatalf("second open failed: %v", err)
	}
	defer second.Close()

	var count int
	if err := second.Conn().QueryRow(`SELECT COUNT(*) FROM tasks`).Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected data to survive reopen, got %d rows", count)
	}
}
