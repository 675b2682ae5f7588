package mediastore

import (
	"context"
	"errors"

	"github.com/go-git/go-billy/v5"
	"github.com/h2non/filetype"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNoArtwork means no local source had artwork for the URI.
	ErrNoArtwork = errors.New("no local artwork")

	// ErrTooLarge means a local file exceeded the size limit.
	ErrTooLarge = errors.New("artwork file too large")
)

// DefaultMaxBytes caps local artwork files.
const DefaultMaxBytes = 10 * 1024 * 1024

// Origin names the local source a picture came from.
type Origin string

const (
	OriginMPDAlbumArt Origin = "mpd_albumart"
	OriginMPDPicture  Origin = "mpd_readpicture"
	OriginFolder      Origin = "folder"
	OriginEmbedded    Origin = "embedded"
)

// PictureClient is the part of the MPD client used for artwork.
type PictureClient interface {
	AlbumArt(uri string) ([]byte, error)
	ReadPicture(uri string) ([]byte, error)
}

// Picture is artwork found on the device.
type Picture struct {
	Data     []byte
	MimeType string
	Origin   Origin
}

// Store looks up artwork for a track URI: MPD's albumart, then the
// picture MPD reads from the tags, then cover files in the library and
// finally the tags read directly.
type Store struct {
	mpd      PictureClient
	music    billy.Filesystem
	folder   *FolderFinder
	maxBytes int64
}

// Option is a functional option for configuring the store.
type Option func(*Store)

// WithMPD sets the MPD client.
func WithMPD(c PictureClient) Option {
	return func(s *Store) {
		s.mpd = c
	}
}

// WithMusicFS sets the filesystem rooted at the music directory.
func WithMusicFS(fs billy.Filesystem) Option {
	return func(s *Store) {
		s.music = fs
	}
}

// WithMaxBytes caps the accepted artwork size.
func WithMaxBytes(n int64) Option {
	return func(s *Store) {
		s.maxBytes = n
	}
}

// NewStore creates a store. Sources that were not configured are skipped.
func NewStore(opts ...Option) *Store {
	s := &Store{maxBytes: DefaultMaxBytes}
	for _, opt := range opts {
		opt(s)
	}
	if s.music != nil {
		s.folder = NewFolderFinder(s.music)
	}
	return s
}

// Find returns the first local picture for uri.
func (s *Store) Find(ctx context.Context, uri string) (*Picture, error) {
	if uri == "" {
		return nil, ErrNoArtwork
	}

	type source struct {
		origin Origin
		read   func() ([]byte, error)
	}
	var sources []source
	if s.mpd != nil {
		sources = append(sources,
			source{OriginMPDAlbumArt, func() ([]byte, error) { return s.mpd.AlbumArt(uri) }},
			source{OriginMPDPicture, func() ([]byte, error) { return s.mpd.ReadPicture(uri) }},
		)
	}
	if s.folder != nil {
		sources = append(sources,
			source{OriginFolder, func() ([]byte, error) {
				p := s.folder.FindArtwork(uri)
				if p == "" {
					return nil, ErrNoArtwork
				}
				return s.folder.ReadArtwork(p, s.maxBytes)
			}},
			source{OriginEmbedded, func() ([]byte, error) {
				data, _, err := ReadEmbedded(s.music, uri)
				return data, err
			}},
		)
	}

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := src.read()
		if err != nil {
			log.Debug().Err(err).Str("uri", uri).Str("origin", string(src.origin)).Msg("Local artwork source failed")
			continue
		}
		if len(data) == 0 || int64(len(data)) > s.maxBytes {
			continue
		}
		if !filetype.IsImage(data) {
			log.Debug().Str("uri", uri).Str("origin", string(src.origin)).Msg("Local artwork is not an image")
			continue
		}
		kind, _ := filetype.Match(data)
		return &Picture{
			Data:     data,
			MimeType: kind.MIME.Value,
			Origin:   src.origin,
		}, nil
	}
	return nil, ErrNoArtwork
}
