package artwork

import (
	"context"

	"github.com/edumarques81/stellar-artwork/internal/infra/mpd"
)

// MPDAlbumLister adapts mpd.Client to implement the AlbumLister interface.
type MPDAlbumLister struct {
	client   *mpd.Client
	basePath string
}

// NewMPDAlbumLister lists albums under basePath; "" means the whole database.
func NewMPDAlbumLister(client *mpd.Client, basePath string) *MPDAlbumLister {
	return &MPDAlbumLister{client: client, basePath: basePath}
}

// ListAlbums implements AlbumLister.
func (l *MPDAlbumLister) ListAlbums(ctx context.Context) ([]ArtInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	albums, err := l.client.Albums(l.basePath)
	if err != nil {
		return nil, err
	}
	infos := make([]ArtInfo, 0, len(albums))
	for _, a := range albums {
		infos = append(infos, ArtInfo{
			Artist: a.Artist,
			Album:  a.Title,
			URI:    a.FirstTrack,
		})
	}
	return infos, nil
}
