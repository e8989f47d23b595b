package settings

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// schema.sql creates the single key/value table.
//
//go:embed schema.sql
var schemaSQL string

// SQLiteStore persists settings in a SQLite database file.
type SQLiteStore struct {
	db     *sql.DB
	logger *logrus.Logger
}

// OpenSQLite opens (or creates) the settings database at path. ":memory:" is
// accepted for throwaway stores.
func OpenSQLite(path string, logger *logrus.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open settings db: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and avoids
	// SQLITE_BUSY between our own writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init settings schema: %w", err)
	}

	logger.WithField("path", path).Debug("Settings database ready")
	return &SQLiteStore{db: db, logger: logger}, nil
}

// Get returns the stored value for key, or def when absent or unreadable.
func (s *SQLiteStore) Get(key, def string) string {
	var v string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return def
	}
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("settings: read failed, using default")
		return def
	}
	return v
}

// Put upserts value under key.
func (s *SQLiteStore) Put(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, strftime('%s', 'now'))
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to store setting %s: %w", key, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
