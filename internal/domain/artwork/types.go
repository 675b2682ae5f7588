// Package artwork provides tiered album-artwork lookup, fetching and
// delivery: a memory tier, a disk tier, a source policy with a sequential
// fallback chain, and cancellable bindings to display targets.
package artwork

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
)

var (
	// ErrCacheMiss is returned when neither tier holds the key.
	ErrCacheMiss = errors.New("artwork not cached")

	// ErrFetchFailure is returned when every planned source failed.
	ErrFetchFailure = errors.New("artwork fetch failed")

	// ErrInvalidDescriptor is returned for a descriptor with no artist, album or URI.
	ErrInvalidDescriptor = errors.New("artwork descriptor has no artist, album or uri")

	// ErrDeferred is returned when the source policy chose to do nothing.
	ErrDeferred = errors.New("artwork fetch deferred")

	// ErrNoArtwork is returned by a source that has nothing for the request.
	ErrNoArtwork = errors.New("no artwork found")
)

// Type is the rendition of an artwork.
type Type int

const (
	// TypeThumbnail is a small square-bounded rendition for lists and grids.
	TypeThumbnail Type = iota
	// TypeFull is the source-resolution rendition.
	TypeFull
)

// ThumbnailSize is the bounding edge of a thumbnail in pixels.
const ThumbnailSize = 300

func (t Type) String() string {
	if t == TypeFull {
		return "full"
	}
	return "thumbnail"
}

// Opposite returns the other rendition.
func (t Type) Opposite() Type {
	if t == TypeFull {
		return TypeThumbnail
	}
	return TypeFull
}

// Pixels returns the bounding edge, or 0 for the original size.
func (t Type) Pixels() int {
	if t == TypeFull {
		return 0
	}
	return ThumbnailSize
}

func (t Type) suffix() string {
	if t == TypeFull {
		return "full"
	}
	return fmt.Sprintf("thumb%d", ThumbnailSize)
}

// ParseType parses a rendition name. An empty string means thumbnail.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "thumb", "thumbnail":
		return TypeThumbnail, nil
	case "full", "large":
		return TypeFull, nil
	default:
		return TypeThumbnail, fmt.Errorf("unknown artwork type %q", s)
	}
}

// Source names where artwork bytes came from.
const (
	SourceCache      = "cache"
	SourceMediaStore = "mediastore"
	SourceURL        = "url"
)

// ArtInfo describes the artwork a caller wants.
type ArtInfo struct {
	Artist string `json:"artist"`
	Album  string `json:"album"`
	URI    string `json:"uri"`
}

// HasArtistAlbum reports whether both artist and album are known.
func (i ArtInfo) HasArtistAlbum() bool {
	return strings.TrimSpace(i.Artist) != "" && strings.TrimSpace(i.Album) != ""
}

// HasURI reports whether a URI is known.
func (i ArtInfo) HasURI() bool {
	return strings.TrimSpace(i.URI) != ""
}

// Validate fails fast on a descriptor with nothing to look up.
func (i ArtInfo) Validate() error {
	if strings.TrimSpace(i.Artist) == "" && strings.TrimSpace(i.Album) == "" && !i.HasURI() {
		return ErrInvalidDescriptor
	}
	return nil
}

// Artwork is a decoded image plus the encoded bytes it came from.
type Artwork struct {
	Key      Key
	Image    image.Image
	Data     []byte
	MimeType string
	Source   string
	Width    int
	Height   int
	Palette  Palette
}

// SizeBytes estimates the memory held by the artwork.
func (a *Artwork) SizeBytes() int64 {
	return int64(a.Width)*int64(a.Height)*4 + int64(len(a.Data))
}

// Fetched is raw image bytes returned by a source.
type Fetched struct {
	Data     []byte
	MimeType string
	Source   string
}

// Preferences are the user settings consulted by the source policy.
type Preferences struct {
	PreferDownload    bool `json:"preferDownload"`
	DownloadMissing   bool `json:"downloadMissing"`
	LowResolutionOnly bool `json:"lowResolutionOnly"`
}

// DefaultPreferences returns the out-of-the-box settings.
func DefaultPreferences() Preferences {
	return Preferences{DownloadMissing: true}
}

// MediaStore looks up artwork for a local media URI.
type MediaStore interface {
	Lookup(ctx context.Context, uri string) (*Fetched, error)
}

// URLFetcher downloads an image from a remote URL.
type URLFetcher interface {
	FetchURL(ctx context.Context, url string) (*Fetched, error)
}

// RemoteLookup resolves artwork from artist/album metadata services.
type RemoteLookup interface {
	LookupAlbumArt(ctx context.Context, artist, album string, typ Type) (*Fetched, error)
}

// OnlineChecker reports device connectivity.
type OnlineChecker interface {
	Online() bool
}

// DiskEntry is the metadata stored alongside disk tier bytes.
type DiskEntry struct {
	Key      Key
	Source   string
	MimeType string
	Width    int
	Height   int
}

// DiskCache is the persistent tier.
type DiskCache interface {
	Get(key Key) (*DiskEntry, []byte, error)
	Put(entry *DiskEntry, data []byte) error
	Has(key Key) bool
	Remove(key Key) error
	Purge() error
}

// DiskStats summarizes the disk tier.
type DiskStats struct {
	Entries   int   `json:"entries"`
	Bytes     int64 `json:"bytes"`
	MaxBytes  int64 `json:"maxBytes"`
	Evictions int64 `json:"evictions"`
}

// DiskStatter is implemented by disk tiers that can report their size.
type DiskStatter interface {
	DiskStats() (*DiskStats, error)
}
