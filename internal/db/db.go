// Package db provides the SQLite connection and schema for lumctl.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection
type DB struct {
	*sql.DB
}

// Open opens the database and initializes the schema
func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &DB{db}, nil
}

// initSchema creates all required tables
func initSchema(db *sql.DB) error {
	// Control ledger - append-only history of control writes and bulk
	// actions, kept for auditing only. The engine never reads it back.
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS control_ledger (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			entity TEXT,
			axis TEXT,
			value REAL,
			error TEXT,
			correlation_id TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_control_ledger_type_ts ON control_ledger(event_type, timestamp);
		CREATE INDEX IF NOT EXISTS idx_control_ledger_entity ON control_ledger(entity, timestamp);
	`)
	if err != nil {
		return fmt.Errorf("failed to create control_ledger table: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
