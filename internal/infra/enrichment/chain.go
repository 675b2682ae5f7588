package enrichment

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
)

// Chain tries album art providers in order until one returns an image.
type Chain struct {
	providers []AlbumArtProvider
}

// NewChain creates a chain over providers. Nil providers are skipped.
func NewChain(providers ...AlbumArtProvider) *Chain {
	c := &Chain{}
	for _, p := range providers {
		if p != nil {
			c.providers = append(c.providers, p)
		}
	}
	return c
}

// Name implements AlbumArtProvider.
func (c *Chain) Name() string {
	return "chain"
}

// Providers returns the provider names in lookup order.
func (c *Chain) Providers() []string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}

// FetchAlbumArt returns the first image found. Unconfigured providers are
// skipped; when every provider fails the last real error is returned.
func (c *Chain) FetchAlbumArt(ctx context.Context, artist, album string, size Size) (*FetchResult, error) {
	lastErr := ErrArtworkNotFound
	for _, p := range c.providers {
		result, err := p.FetchAlbumArt(ctx, artist, album, size)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, ErrNotConfigured) {
			continue
		}
		log.Debug().
			Err(err).
			Str("provider", p.Name()).
			Str("artist", artist).
			Str("album", album).
			Msg("Album art provider failed")
		// A later miss must not hide a failure worth retrying.
		if !IsTemporaryError(lastErr) || !IsPermanentError(err) {
			lastErr = err
		}
	}
	return nil, lastErr
}
