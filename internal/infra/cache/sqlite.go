// Package cache provides the persistent artwork cache: a SQLite index of
// entries and a blob filesystem holding the encoded image bytes.
package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/rs/zerolog/log"
)

const (
	// CurrentSchemaVersion is the index layout this build reads and writes.
	CurrentSchemaVersion = "2"

	// DefaultDBPath is used when NewDB gets an empty path.
	DefaultDBPath = "data/artwork.db"

	busyTimeoutMS = 5000
)

var (
	// ErrReadOnly is returned by writes through a read-only handle.
	ErrReadOnly = errors.New("cache opened read-only")

	// ErrSchemaMismatch means the index was written by a different build.
	// Read-only handles cannot migrate it.
	ErrSchemaMismatch = errors.New("cache schema version mismatch")

	errNotOpen = errors.New("database not open")
)

const entriesTable = `
CREATE TABLE IF NOT EXISTS artwork_entries (
	key TEXT PRIMARY KEY,      -- stable id + "_" + type suffix
	artwork_id TEXT NOT NULL,
	type TEXT NOT NULL,
	file_path TEXT NOT NULL,
	source TEXT NOT NULL,
	mime_type TEXT,
	width INTEGER,
	height INTEGER,
	file_size INTEGER NOT NULL,
	checksum TEXT,
	created_at TEXT NOT NULL,
	accessed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entries_artwork ON artwork_entries(artwork_id);
CREATE INDEX IF NOT EXISTS idx_entries_accessed ON artwork_entries(accessed_at);`

const metaTable = `
CREATE TABLE IF NOT EXISTS cache_meta (
	key TEXT PRIMARY KEY,
	value TEXT,
	updated_at TEXT DEFAULT CURRENT_TIMESTAMP
);`

// migrations rebuild older layouts, keyed by the version they upgrade
// from. Cached artwork can always be refetched, so entries of an older
// layout are dropped rather than converted.
var migrations = map[string]string{
	"1": `DROP TABLE IF EXISTS artwork;`,
}

// DB is the SQLite index of the disk tier. The daemon holds the only
// writable handle; other processes may open the same file read-only.
type DB struct {
	mu       sync.RWMutex
	db       *sql.DB
	path     string
	readOnly bool
}

// DBOption configures a DB.
type DBOption func(*DB)

// WithReadOnly opens the index without write access. The file must
// already exist with the current schema.
func WithReadOnly() DBOption {
	return func(d *DB) {
		d.readOnly = true
	}
}

// NewDB returns an unopened index at path.
func NewDB(path string, opts ...DBOption) *DB {
	if path == "" {
		path = DefaultDBPath
	}
	d := &DB{path: path}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Path returns the database file path.
func (d *DB) Path() string {
	return d.path
}

// ReadOnly reports whether writes are refused.
func (d *DB) ReadOnly() bool {
	return d.readOnly
}

func (d *DB) dsn() string {
	if d.readOnly {
		return fmt.Sprintf("file:%s?mode=ro&_busy_timeout=%d", d.path, busyTimeoutMS)
	}
	return fmt.Sprintf("%s?_journal=WAL&_busy_timeout=%d", d.path, busyTimeoutMS)
}

// Open connects to the index. A writable handle creates the file and
// migrates its schema; a read-only handle only checks the version.
func (d *DB) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.readOnly {
		if _, err := os.Stat(d.path); err != nil {
			return fmt.Errorf("open cache index: %w", err)
		}
	} else if err := os.MkdirAll(filepath.Dir(d.path), 0755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite3", d.dsn())
	if err != nil {
		return fmt.Errorf("open cache index: %w", err)
	}
	if !d.readOnly {
		// SQLite allows one writer; readers in other processes use WAL.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	db.SetConnMaxLifetime(time.Hour)

	if d.readOnly {
		err = checkVersion(db)
	} else {
		err = migrate(db)
	}
	if err != nil {
		db.Close()
		return err
	}
	d.db = db

	log.Info().
		Str("path", d.path).
		Bool("readOnly", d.readOnly).
		Msg("Artwork cache index opened")
	return nil
}

func checkVersion(db *sql.DB) error {
	v, err := readMeta(db, "schema_version")
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if v != CurrentSchemaVersion {
		return fmt.Errorf("%w: index has %q, want %q", ErrSchemaMismatch, v, CurrentSchemaVersion)
	}
	return nil
}

// migrate brings the schema to CurrentSchemaVersion in one transaction.
func migrate(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(metaTable); err != nil {
		return fmt.Errorf("create meta table: %w", err)
	}
	var from string
	err = tx.QueryRow(`SELECT value FROM cache_meta WHERE key = 'schema_version'`).Scan(&from)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read schema version: %w", err)
	}
	if from == CurrentSchemaVersion {
		return nil
	}

	if from != "" {
		log.Info().Str("from", from).Str("to", CurrentSchemaVersion).Msg("Migrating artwork cache schema")
		drop := migrations[from] + `DROP TABLE IF EXISTS artwork_entries;`
		if _, err := tx.Exec(drop); err != nil {
			return fmt.Errorf("drop schema %s: %w", from, err)
		}
	}
	if _, err := tx.Exec(entriesTable); err != nil {
		return fmt.Errorf("create entries table: %w", err)
	}
	if err := writeMeta(tx, "schema_version", CurrentSchemaVersion); err != nil {
		return err
	}
	return tx.Commit()
}

// Close releases the connection pool.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	return err
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

type queryer interface {
	QueryRow(query string, args ...any) *sql.Row
}

func writeMeta(db execer, key, value string) error {
	_, err := db.Exec(`
		INSERT INTO cache_meta (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().Format(time.RFC3339))
	return err
}

func readMeta(db queryer, key string) (string, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM cache_meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// GetStats returns the entry count, total size and bookkeeping times.
func (d *DB) GetStats() (*Stats, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.db == nil {
		return nil, errNotOpen
	}

	stats := &Stats{}
	err := d.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(file_size), 0) FROM artwork_entries`).
		Scan(&stats.EntryCount, &stats.TotalBytes)
	if err != nil {
		return nil, err
	}

	stats.SchemaVersion, _ = readMeta(d.db, "schema_version")
	if lastPurge, _ := readMeta(d.db, "last_purge"); lastPurge != "" {
		stats.LastPurge, _ = time.Parse(time.RFC3339, lastPurge)
	}
	return stats, nil
}

// Clear deletes every index row and records the purge time.
func (d *DB) Clear() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case d.db == nil:
		return errNotOpen
	case d.readOnly:
		return ErrReadOnly
	}

	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM artwork_entries`); err != nil {
		return fmt.Errorf("clear artwork_entries: %w", err)
	}
	if err := writeMeta(tx, "last_purge", time.Now().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("record purge time: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	log.Info().Msg("Artwork cache index cleared")
	return nil
}

// DB returns the underlying pool for the DAO, nil when closed.
func (d *DB) DB() *sql.DB {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.db
}

// IsMissing reports whether err means the index file does not exist yet.
func IsMissing(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
