package artwork

import (
	"context"
	"errors"

	"github.com/edumarques81/stellar-artwork/internal/infra/enrichment"
	"github.com/edumarques81/stellar-artwork/internal/infra/mediastore"
)

// MediaStoreAdapter adapts mediastore.Store to implement the MediaStore interface.
type MediaStoreAdapter struct {
	store *mediastore.Store
}

// NewMediaStoreAdapter creates a new adapter for mediastore.Store.
func NewMediaStoreAdapter(store *mediastore.Store) *MediaStoreAdapter {
	return &MediaStoreAdapter{store: store}
}

// Lookup implements MediaStore.
func (a *MediaStoreAdapter) Lookup(ctx context.Context, uri string) (*Fetched, error) {
	pic, err := a.store.Find(ctx, uri)
	if errors.Is(err, mediastore.ErrNoArtwork) {
		return nil, ErrNoArtwork
	}
	if err != nil {
		return nil, err
	}
	return &Fetched{Data: pic.Data, MimeType: pic.MimeType, Source: SourceMediaStore}, nil
}

// RemoteAdapter adapts an enrichment provider to implement the
// RemoteLookup interface.
type RemoteAdapter struct {
	provider enrichment.AlbumArtProvider
}

// NewRemoteAdapter creates a new adapter for an enrichment provider,
// usually an *enrichment.Chain.
func NewRemoteAdapter(p enrichment.AlbumArtProvider) *RemoteAdapter {
	return &RemoteAdapter{provider: p}
}

// LookupAlbumArt implements RemoteLookup.
func (a *RemoteAdapter) LookupAlbumArt(ctx context.Context, artist, album string, typ Type) (*Fetched, error) {
	size := enrichment.SizeSmall
	if typ == TypeFull {
		size = enrichment.SizeLarge
	}
	res, err := a.provider.FetchAlbumArt(ctx, artist, album, size)
	if errors.Is(err, enrichment.ErrArtworkNotFound) {
		return nil, ErrNoArtwork
	}
	if err != nil {
		return nil, err
	}
	return &Fetched{Data: res.Data, MimeType: res.MimeType, Source: string(res.Source)}, nil
}

// URLAdapter adapts enrichment.Downloader to implement the URLFetcher interface.
type URLAdapter struct {
	downloader *enrichment.Downloader
}

// NewURLAdapter creates a new adapter for enrichment.Downloader.
func NewURLAdapter(d *enrichment.Downloader) *URLAdapter {
	return &URLAdapter{downloader: d}
}

// FetchURL implements URLFetcher.
func (a *URLAdapter) FetchURL(ctx context.Context, url string) (*Fetched, error) {
	res, err := a.downloader.FetchURL(ctx, url)
	if err != nil {
		return nil, err
	}
	return &Fetched{Data: res.Data, MimeType: res.MimeType, Source: string(res.Source)}, nil
}
