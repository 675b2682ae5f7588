package cache

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// DAO provides data access operations for the artwork index.
type DAO struct {
	db *DB
}

// NewDAO creates a new DAO instance.
func NewDAO(db *DB) *DAO {
	return &DAO{db: db}
}

const entryColumns = `key, artwork_id, type, file_path, source, mime_type, width, height, file_size, checksum, created_at, accessed_at`

// UpsertEntry inserts or replaces an index entry.
func (dao *DAO) UpsertEntry(e *Entry) error {
	db := dao.db.DB()
	if db == nil {
		return fmt.Errorf("database not open")
	}

	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	accessedAt := e.AccessedAt
	if accessedAt.IsZero() {
		accessedAt = time.Now()
	}

	_, err := db.Exec(`
		INSERT INTO artwork_entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			file_path = ?, source = ?, mime_type = ?, width = ?, height = ?, file_size = ?, checksum = ?, accessed_at = ?
	`,
		e.Key, e.ArtworkID, e.Type, e.FilePath, e.Source, e.MimeType, e.Width, e.Height, e.FileSize, e.Checksum,
		createdAt.Format(time.RFC3339), accessedAt.UnixNano(),
		e.FilePath, e.Source, e.MimeType, e.Width, e.Height, e.FileSize, e.Checksum, accessedAt.UnixNano(),
	)
	return err
}

// GetEntry retrieves an entry by key. Returns nil, nil when absent.
func (dao *DAO) GetEntry(key string) (*Entry, error) {
	db := dao.db.DB()
	if db == nil {
		return nil, fmt.Errorf("database not open")
	}

	e, err := scanEntry(db.QueryRow(`SELECT `+entryColumns+` FROM artwork_entries WHERE key = ?`, key))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// TouchEntry marks an entry as used at t.
func (dao *DAO) TouchEntry(key string, t time.Time) error {
	db := dao.db.DB()
	if db == nil {
		return fmt.Errorf("database not open")
	}
	_, err := db.Exec(`UPDATE artwork_entries SET accessed_at = ? WHERE key = ?`, t.UnixNano(), key)
	return err
}

// DeleteEntry removes an entry by key.
func (dao *DAO) DeleteEntry(key string) error {
	db := dao.db.DB()
	if db == nil {
		return fmt.Errorf("database not open")
	}
	_, err := db.Exec(`DELETE FROM artwork_entries WHERE key = ?`, key)
	return err
}

// DeleteEntryAt removes key only while its row still points at filePath.
// It reports whether a row was deleted.
func (dao *DAO) DeleteEntryAt(key, filePath string) (bool, error) {
	db := dao.db.DB()
	if db == nil {
		return false, fmt.Errorf("database not open")
	}
	res, err := db.Exec(`DELETE FROM artwork_entries WHERE key = ? AND file_path = ?`, key, filePath)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ListLRU returns up to limit entries, least recently accessed first.
func (dao *DAO) ListLRU(limit int) ([]*Entry, error) {
	db := dao.db.DB()
	if db == nil {
		return nil, fmt.Errorf("database not open")
	}

	rows, err := db.Query(`SELECT `+entryColumns+` FROM artwork_entries ORDER BY accessed_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListByArtworkID returns every rendition cached for a stable artwork id.
func (dao *DAO) ListByArtworkID(artworkID string) ([]*Entry, error) {
	db := dao.db.DB()
	if db == nil {
		return nil, fmt.Errorf("database not open")
	}

	rows, err := db.Query(`SELECT `+entryColumns+` FROM artwork_entries WHERE artwork_id = ? ORDER BY type`, artworkID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// TotalSize returns the sum of all blob sizes.
func (dao *DAO) TotalSize() (int64, error) {
	db := dao.db.DB()
	if db == nil {
		return 0, fmt.Errorf("database not open")
	}
	var total int64
	err := db.QueryRow(`SELECT COALESCE(SUM(file_size), 0) FROM artwork_entries`).Scan(&total)
	return total, err
}

// Count returns the number of entries.
func (dao *DAO) Count() (int, error) {
	db := dao.db.DB()
	if db == nil {
		return 0, fmt.Errorf("database not open")
	}
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM artwork_entries`).Scan(&n)
	return n, err
}

// LogCacheStats logs index statistics.
func (dao *DAO) LogCacheStats() {
	stats, err := dao.db.GetStats()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to get artwork cache stats")
		return
	}

	log.Info().
		Int("entries", stats.EntryCount).
		Int64("bytes", stats.TotalBytes).
		Str("schema", stats.SchemaVersion).
		Msg("Artwork cache stats")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	e := &Entry{}
	var mimeType, checksum sql.NullString
	var width, height sql.NullInt64
	var createdAt string
	var accessedAt int64

	err := row.Scan(
		&e.Key, &e.ArtworkID, &e.Type, &e.FilePath, &e.Source,
		&mimeType, &width, &height, &e.FileSize, &checksum, &createdAt, &accessedAt,
	)
	if err != nil {
		return nil, err
	}

	if mimeType.Valid {
		e.MimeType = mimeType.String
	}
	if checksum.Valid {
		e.Checksum = checksum.String
	}
	if width.Valid {
		e.Width = int(width.Int64)
	}
	if height.Valid {
		e.Height = int(height.Int64)
	}
	if createdAt != "" {
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	}
	e.AccessedAt = time.Unix(0, accessedAt)

	return e, nil
}
