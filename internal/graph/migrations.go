package graph

import (
	"database/sql"
	"fmt"
)

// migration is a single named, idempotent schema change, applied in order
// after schema is executed. Mirrors internal/storage/sqlite/migrations.go's
// Migration{Name, Func} list — new columns/tables added after the initial
// release go here instead of editing schema.go, so existing databases
// upgrade in place.
type migration struct {
	name string
	fn   func(*sql.DB) error
}

var migrationsList = []migration{
	{"derive_queue_priority_column", migrateDeriveQueuePriority},
	{"node_meta_size_index", migrateNodeMetaSizeIndex},
}

func migrateDeriveQueuePriority(db *sql.DB) error {
	if hasColumn(db, "derive_queue", "priority") {
		return nil
	}
	_, err := db.Exec(`ALTER TABLE derive_queue ADD COLUMN priority INTEGER NOT NULL DEFAULT 0`)
	return err
}

func migrateNodeMetaSizeIndex(db *sql.DB) error {
	_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_node_meta_size ON node_meta(size)`)
	return err
}

func hasColumn(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return false
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false
		}
		if name == column {
			return true
		}
	}
	return false
}

func applyMigrations(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (name TEXT PRIMARY KEY, applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}
	for _, m := range migrationsList {
		var already int
		if err := db.QueryRow(`SELECT COUNT(*) FROM schema_migrations WHERE name = ?`, m.name).Scan(&already); err != nil {
			return fmt.Errorf("failed to check migration %s: %w", m.name, err)
		}
		if already > 0 {
			continue
		}
		if err := m.fn(db); err != nil {
			return fmt.Errorf("migration %s failed: %w", m.name, err)
		}
		if _, err := db.Exec(`INSERT INTO schema_migrations (name) VALUES (?)`, m.name); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", m.name, err)
		}
	}
	return nil
}
