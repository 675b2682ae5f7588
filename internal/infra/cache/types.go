// Package cache provides the persistent artwork cache: a SQLite index of
// entries and a blob filesystem holding the encoded image bytes.
package cache

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a key has no cached entry.
var ErrNotFound = errors.New("cache entry not found")

// Entry represents one cached rendition in the index.
type Entry struct {
	Key        string    `json:"key"`        // Stable artwork id + "_" + type suffix
	ArtworkID  string    `json:"artworkId"`  // Stable artwork id shared by both renditions
	Type       string    `json:"type"`       // 'thumbnail', 'full'
	FilePath   string    `json:"filePath"`   // Path inside the blob filesystem
	Source     string    `json:"source"`     // Where the bytes came from
	MimeType   string    `json:"mimeType"`   // MIME type
	Width      int       `json:"width"`      // Image width
	Height     int       `json:"height"`     // Image height
	FileSize   int64     `json:"fileSize"`   // Blob size in bytes
	Checksum   string    `json:"checksum"`   // MD5 of image data
	CreatedAt  time.Time `json:"createdAt"`  // First write
	AccessedAt time.Time `json:"accessedAt"` // Last read or write, drives LRU trimming
}

// Stats contains disk cache statistics.
type Stats struct {
	EntryCount    int       `json:"entryCount"`
	TotalBytes    int64     `json:"totalBytes"`
	MaxBytes      int64     `json:"maxBytes"`
	Evictions     int64     `json:"evictions"`
	SchemaVersion string    `json:"schemaVersion"`
	LastPurge     time.Time `json:"lastPurge,omitempty"`
}
