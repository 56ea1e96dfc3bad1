// ABOUTME: SQLite-backed key/value store for user preferences that survive across sessions.
// ABOUTME: Values are stored as JSON so booleans and strings round-trip without custom columns.
package prefs

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// PreviewEnabledKey holds the "preview enabled" flag.
const PreviewEnabledKey = "ui:preview-enabled"

// ErrNotFound is returned by Get for a key that was never set.
var ErrNotFound = errors.New("preference not found")

// Store persists preferences in a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the preference database at path (":memory:" works
// for tests).
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one connection keeps ":memory:" databases alive across calls
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	schema := `
		CREATE TABLE IF NOT EXISTS preferences (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get decodes the value stored under key into out.
func (s *Store) Get(key string, out any) error {
	var raw string
	err := s.db.QueryRow(`SELECT value FROM preferences WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read preference %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("decode preference %s: %w", key, err)
	}
	return nil
}

// Set upserts value under key.
func (s *Store) Set(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode preference %s: %w", key, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(data), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("write preference %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	if _, err := s.db.Exec(`DELETE FROM preferences WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete preference %s: %w", key, err)
	}
	return nil
}

// PreviewEnabled returns the stored flag, defaulting to true when unset or
// unreadable.
func (s *Store) PreviewEnabled() bool {
	var enabled bool
	if err := s.Get(PreviewEnabledKey, &enabled); err != nil {
		return true
	}
	return enabled
}

// SetPreviewEnabled persists the flag.
func (s *Store) SetPreviewEnabled(enabled bool) error {
	return s.Set(PreviewEnabledKey, enabled)
}
