// Package enrichment fetches album artwork from web services.
package enrichment

import (
	"context"
	"errors"
)

// Common errors
var (
	// ErrArtworkNotFound indicates artwork was not found (permanent failure)
	ErrArtworkNotFound = errors.New("artwork not found")

	// ErrTemporaryFailure indicates a temporary failure (should retry)
	ErrTemporaryFailure = errors.New("temporary failure")

	// ErrRateLimited indicates rate limit was exceeded
	ErrRateLimited = errors.New("rate limited")

	// ErrNotConfigured indicates a provider is missing credentials
	ErrNotConfigured = errors.New("provider not configured")

	// ErrNotImage indicates a download did not return image data
	ErrNotImage = errors.New("response is not an image")

	// ErrImageTooLarge indicates a download exceeded MaxImageSize
	ErrImageTooLarge = errors.New("image too large")
)

// Source indicates where the artwork was fetched from
type Source string

const (
	SourceCoverArtArchive Source = "cover_art_archive"
	SourceLastFM          Source = "lastfm"
	SourceDeezer          Source = "deezer"
	SourceURL             Source = "url"
)

// Size selects which rendition a provider should return.
type Size int

const (
	// SizeSmall is roughly 300 to 500 pixels on the long edge.
	SizeSmall Size = iota
	// SizeLarge is the largest image the provider offers.
	SizeLarge
)

func (s Size) String() string {
	if s == SizeLarge {
		return "large"
	}
	return "small"
}

// FetchResult contains the result of an artwork fetch operation
type FetchResult struct {
	Data     []byte
	MimeType string
	Source   Source
}

// AlbumArtProvider looks up album artwork by artist and album name.
type AlbumArtProvider interface {
	Name() string
	FetchAlbumArt(ctx context.Context, artist, album string, size Size) (*FetchResult, error)
}

// IsPermanentError returns true if the error indicates a permanent failure
func IsPermanentError(err error) bool {
	return errors.Is(err, ErrArtworkNotFound) || errors.Is(err, ErrNotImage)
}

// IsTemporaryError returns true if the error indicates a temporary failure
func IsTemporaryError(err error) bool {
	return errors.Is(err, ErrTemporaryFailure) || errors.Is(err, ErrRateLimited)
}
