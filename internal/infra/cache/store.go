// Package cache provides a SQLite-backed durable store for resolved media IDs.
//
// The store implements the resolve.Cache contract, so it can back the
// in-memory cache through a layered read-through: absence still triggers
// resolution instead of an error, and negative results are never written.
package cache

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/rs/zerolog/log"
)

const (
	// CurrentSchemaVersion is the current database schema version.
	CurrentSchemaVersion = "1"

	// DefaultDBPath is the default path for the resolution database.
	DefaultDBPath = "data/resolutions.db"
)

// DB is the SQLite resolution store.
type DB struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
}

// NewDB creates a new resolution store instance.
func NewDB(path string) *DB {
	if path == "" {
		path = DefaultDBPath
	}
	return &DB{
		path: path,
	}
}

// Open opens the database and initializes the schema.
func (d *DB) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	dir := filepath.Dir(d.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite3", d.path+"?_journal=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("failed to open resolution database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	d.db = db

	if err := d.initSchema(); err != nil {
		d.db.Close()
		d.db = nil
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Info().Str("path", d.path).Msg("Resolution database opened")
	return nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db != nil {
		err := d.db.Close()
		d.db = nil
		return err
	}
	return nil
}

// initSchema initializes the database schema.
func (d *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS resolutions (
		query      TEXT PRIMARY KEY,
		media_id   TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := d.db.Exec(schema); err != nil {
		return err
	}

	_, err := d.db.Exec(`INSERT OR REPLACE INTO meta (key, value) VALUES ('schema_version', ?)`,
		CurrentSchemaVersion)
	return err
}

// Lookup returns the stored media ID for a normalized query.
// Implements resolve.Cache; read failures degrade to a miss so the caller
// falls back to resolution instead of erroring.
func (d *DB) Lookup(query string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.db == nil {
		return "", false
	}

	var mediaID string
	err := d.db.QueryRow(`SELECT media_id FROM resolutions WHERE query = ?`, query).Scan(&mediaID)
	if err == sql.ErrNoRows {
		return "", false
	}
	if err != nil {
		log.Warn().Err(err).Str("query", query).Msg("Resolution lookup failed")
		return "", false
	}
	return mediaID, true
}

// Store inserts or overwrites the media ID for a normalized query.
// Implements resolve.Cache; write failures are logged and swallowed, leaving
// the query absent so a later resolution can retry the write.
func (d *DB) Store(query, mediaID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db == nil {
		return
	}

	now := time.Now().Format(time.RFC3339)
	_, err := d.db.Exec(`
		INSERT INTO resolutions (query, media_id, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(query) DO UPDATE SET media_id = ?, updated_at = ?
	`, query, mediaID, now, now, mediaID, now)
	if err != nil {
		log.Warn().Err(err).Str("query", query).Msg("Resolution store failed")
	}
}

// Count returns the number of stored resolutions.
func (d *DB) Count() (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.db == nil {
		return 0, fmt.Errorf("database not open")
	}

	var n int
	if err := d.db.QueryRow(`SELECT COUNT(*) FROM resolutions`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
