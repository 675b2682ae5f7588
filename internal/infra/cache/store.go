package cache

import (
	"crypto/md5"
	"fmt"
	"io"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/h2non/filetype"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultMaxBytes caps the blob filesystem at 64MB.
	DefaultMaxBytes = 64 * 1024 * 1024

	trimBatch = 32
)

// Store is the disk tier: encoded image bytes in a billy filesystem,
// indexed by SQLite and trimmed least-recently-used first once the
// total size exceeds the configured cap.
type Store struct {
	mu        sync.Mutex
	db        *DB
	dao       *DAO
	fs        billy.Filesystem
	maxBytes  int64
	evictions atomic.Int64
	now       func() time.Time
}

// StoreOption is a functional option for configuring the store.
type StoreOption func(*Store)

// WithFilesystem sets the blob filesystem (memfs in tests).
func WithFilesystem(fs billy.Filesystem) StoreOption {
	return func(s *Store) {
		s.fs = fs
	}
}

// WithMaxBytes sets the size cap.
func WithMaxBytes(n int64) StoreOption {
	return func(s *Store) {
		s.maxBytes = n
	}
}

// WithClock overrides the time source used for access ordering.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a disk store whose blobs live under dir.
func NewStore(db *DB, dir string, opts ...StoreOption) *Store {
	s := &Store{
		db:       db,
		dao:      NewDAO(db),
		maxBytes: DefaultMaxBytes,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.fs == nil {
		s.fs = osfs.New(dir)
	}
	return s
}

// Put writes data for e.Key, replacing any previous blob, and trims the
// cache back under its cap.
func (s *Store) Put(e *Entry, data []byte) error {
	if s.db.ReadOnly() {
		return ErrReadOnly
	}
	if e.Key == "" {
		return fmt.Errorf("cache entry has no key")
	}
	if len(data) == 0 {
		return fmt.Errorf("cache entry %s has no data", e.Key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, err := s.dao.GetEntry(e.Key)
	if err != nil {
		return fmt.Errorf("lookup entry: %w", err)
	}

	blobPath := s.blobPath(e.Key, data)
	if err := s.writeBlob(blobPath, data); err != nil {
		return err
	}
	if prev != nil && prev.FilePath != blobPath {
		s.removeBlob(prev.FilePath)
	}

	now := s.now()
	entry := *e
	entry.FilePath = blobPath
	entry.FileSize = int64(len(data))
	entry.Checksum = fmt.Sprintf("%x", md5.Sum(data))
	entry.AccessedAt = now
	if prev != nil {
		entry.CreatedAt = prev.CreatedAt
	} else if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.MimeType == "" {
		if kind, err := filetype.Match(data); err == nil && kind != filetype.Unknown {
			entry.MimeType = kind.MIME.Value
		}
	}

	if err := s.dao.UpsertEntry(&entry); err != nil {
		s.removeBlob(blobPath)
		return fmt.Errorf("index entry: %w", err)
	}

	log.Debug().
		Str("key", e.Key).
		Str("source", entry.Source).
		Int("size", len(data)).
		Msg("Stored artwork on disk")

	return s.trimLocked()
}

// Get returns the entry and its bytes, marking it as recently used.
// A row whose blob vanished is dropped and reported as ErrNotFound.
func (s *Store) Get(key string) (*Entry, []byte, error) {
	entry, f, err := s.Open(key)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, nil, fmt.Errorf("read blob: %w", err)
	}
	return entry, data, nil
}

// Open returns the entry and a reader over its bytes, marking it as
// recently used unless the store is read-only. The caller closes the
// reader.
func (s *Store) Open(key string) (*Entry, io.ReadCloser, error) {
	entry, err := s.dao.GetEntry(key)
	if err != nil {
		return nil, nil, fmt.Errorf("lookup entry: %w", err)
	}
	if entry == nil {
		return nil, nil, ErrNotFound
	}

	f, err := s.fs.Open(entry.FilePath)
	if err != nil {
		log.Debug().Str("key", key).Str("path", entry.FilePath).Msg("Cached artwork blob missing")
		if s.db.ReadOnly() {
			return nil, nil, ErrNotFound
		}
		s.dropStale(key, entry.FilePath)
		return nil, nil, ErrNotFound
	}
	if s.db.ReadOnly() {
		return entry, f, nil
	}

	now := s.now()
	if err := s.dao.TouchEntry(key, now); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to update access time")
	}
	entry.AccessedAt = now
	return entry, f, nil
}

// dropStale deletes the row for key if it still names the missing blob.
// A Put may have replaced both since the row was read.
func (s *Store) dropStale(key, blobPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped, err := s.dao.DeleteEntryAt(key, blobPath)
	switch {
	case err != nil:
		log.Warn().Err(err).Str("key", key).Msg("Failed to drop stale cache entry")
	case !dropped:
		log.Debug().Str("key", key).Msg("Cache entry replaced, keeping it")
	}
}

// Has reports whether key is indexed.
func (s *Store) Has(key string) bool {
	entry, err := s.dao.GetEntry(key)
	return err == nil && entry != nil
}

// Lookup returns every cached rendition for a stable artwork id.
func (s *Store) Lookup(artworkID string) ([]*Entry, error) {
	return s.dao.ListByArtworkID(artworkID)
}

// Remove deletes one entry and its blob.
func (s *Store) Remove(key string) error {
	if s.db.ReadOnly() {
		return ErrReadOnly
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.dao.GetEntry(key)
	if err != nil {
		return err
	}
	if entry == nil {
		return nil
	}
	s.removeBlob(entry.FilePath)
	return s.dao.DeleteEntry(key)
}

// Clear purges every entry and blob.
func (s *Store) Clear() error {
	if s.db.ReadOnly() {
		return ErrReadOnly
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.dao.ListLRU(-1)
	if err != nil {
		return fmt.Errorf("list entries: %w", err)
	}
	for _, e := range entries {
		s.removeBlob(e.FilePath)
	}
	if err := s.db.Clear(); err != nil {
		return err
	}

	log.Info().Int("entries", len(entries)).Msg("Artwork disk cache purged")
	return nil
}

// Stats returns disk tier statistics.
func (s *Store) Stats() (*Stats, error) {
	stats, err := s.db.GetStats()
	if err != nil {
		return nil, err
	}
	stats.MaxBytes = s.maxBytes
	stats.Evictions = s.evictions.Load()
	return stats, nil
}

func (s *Store) trimLocked() error {
	total, err := s.dao.TotalSize()
	if err != nil {
		return fmt.Errorf("total size: %w", err)
	}

	for total > s.maxBytes {
		victims, err := s.dao.ListLRU(trimBatch)
		if err != nil {
			return fmt.Errorf("list lru: %w", err)
		}
		if len(victims) == 0 {
			return nil
		}
		for _, v := range victims {
			if total <= s.maxBytes {
				break
			}
			s.removeBlob(v.FilePath)
			if err := s.dao.DeleteEntry(v.Key); err != nil {
				return fmt.Errorf("delete entry: %w", err)
			}
			total -= v.FileSize
			s.evictions.Add(1)
			log.Debug().Str("key", v.Key).Int64("size", v.FileSize).Msg("Evicted artwork from disk cache")
		}
	}
	return nil
}

func (s *Store) blobPath(key string, data []byte) string {
	ext := "bin"
	if kind, err := filetype.Match(data); err == nil && kind != filetype.Unknown {
		ext = kind.Extension
	}
	shard := key
	if len(shard) > 2 {
		shard = shard[:2]
	}
	return path.Join(shard, key+"."+ext)
}

func (s *Store) writeBlob(blobPath string, data []byte) error {
	dir := path.Dir(blobPath)
	if err := s.fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create blob directory: %w", err)
	}

	tmp, err := s.fs.TempFile(dir, ".tmp-")
	if err != nil {
		return fmt.Errorf("create temp blob: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		s.fs.Remove(tmpName)
		return fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		s.fs.Remove(tmpName)
		return fmt.Errorf("close blob: %w", err)
	}
	if err := s.fs.Rename(tmpName, blobPath); err != nil {
		s.fs.Remove(tmpName)
		return fmt.Errorf("rename blob: %w", err)
	}
	return nil
}

func (s *Store) removeBlob(blobPath string) {
	if blobPath == "" {
		return
	}
	if err := s.fs.Remove(blobPath); err != nil {
		log.Debug().Err(err).Str("path", blobPath).Msg("Failed to remove artwork blob")
	}
}
