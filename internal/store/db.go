package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/christopherklint97/billr/internal/billing"

	_ "modernc.org/sqlite"
)

var (
	ErrNotFound = errors.New("not found")
	ErrAlreadyBilled = billing.ErrAlreadyBilled
)

type DB struct {
	*sql.DB
}

// DefaultPath is ~/.config/billr/billr.db.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("finding home directory: %w", err)
	}
	return filepath.Join(home, ".config", "billr", "billr.db"), nil
}

// Open opens (and migrates) the database at path. An empty path uses DefaultPath.
func Open(path string) (*DB, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	store := &DB{db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return store, nil
}

func (db *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS entries (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			email_ids TEXT NOT NULL DEFAULT '[]',
			description TEXT NOT NULL,
			hours REAL NOT NULL,
			matter TEXT NOT NULL,
			rate REAL NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			target TEXT NOT NULL DEFAULT '',
			auto_generated INTEGER NOT NULL DEFAULT 0,
			archived INTEGER NOT NULL DEFAULT 0,
			synced_at TEXT,
			external_id TEXT,
			external_url TEXT,
			sync_error TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_owner_status ON entries(owner_id, status)`,
		`CREATE TABLE IF NOT EXISTS entry_emails (
			owner_id TEXT NOT NULL,
			email_id TEXT NOT NULL,
			entry_id TEXT NOT NULL REFERENCES entries(id) ON DELETE CASCADE,
			PRIMARY KEY (owner_id, email_id)
		)`,
		`CREATE TABLE IF NOT EXISTS matters (
			name TEXT PRIMARY KEY COLLATE NOCASE,
			rate REAL NOT NULL DEFAULT 0,
			rules TEXT NOT NULL DEFAULT '[]',
			position INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS emails (
			id TEXT PRIMARY KEY,
			sender TEXT NOT NULL,
			subject TEXT NOT NULL,
			body TEXT NOT NULL,
			received_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS email_marks (
			owner_id TEXT NOT NULL,
			email_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			marked_at TEXT NOT NULL,
			PRIMARY KEY (owner_id, email_id, kind)
		)`,
		`CREATE TABLE IF NOT EXISTS suggestions (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			email_ids TEXT NOT NULL,
			preview TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS corrections (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			owner_id TEXT NOT NULL,
			original TEXT NOT NULL,
			corrected TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS state (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	return nil
}

func (db *DB) GetState(key string) (string, error) {
	var value string
	err := db.QueryRow("SELECT value FROM state WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func (db *DB) SetState(key, value string) error {
	_, err := db.Exec(
		"INSERT INTO state (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	return err
}
