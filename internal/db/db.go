// Package db provides the centralized SQLite connection for the
// bridge's high-churn persisted state: the paired-clients table. The
// user-authored resource snapshot (rooms, zones, scenes, entertainment
// configurations) lives instead in internal/persist's YAML file, since
// it is loaded once at boot and rewritten as a whole document rather
// than queried per request.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection.
type DB struct {
	*sql.DB
}

// Open opens the database and initializes the schema.
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

// initSchema creates all required tables.
func initSchema(db *sql.DB) error {
	// Paired clients - every application key this bridge has issued,
	// looked up on every authenticated request.
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS paired_clients (
			app_key    TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create paired_clients table: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}
