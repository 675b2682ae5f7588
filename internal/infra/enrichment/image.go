package enrichment

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/h2non/filetype"
	"github.com/rs/zerolog/log"
)

// Downloader fetches image bytes from a URL.
type Downloader struct {
	userAgent  string
	httpClient *http.Client
	maxBytes   int64
}

// DownloaderOption is a functional option for configuring the downloader.
type DownloaderOption func(*Downloader)

// WithDownloaderHTTPClient sets a custom HTTP client.
func WithDownloaderHTTPClient(client *http.Client) DownloaderOption {
	return func(d *Downloader) {
		d.httpClient = client
	}
}

// WithDownloaderUserAgent sets a custom User-Agent header.
func WithDownloaderUserAgent(ua string) DownloaderOption {
	return func(d *Downloader) {
		d.userAgent = ua
	}
}

// WithMaxImageSize caps the accepted image size.
func WithMaxImageSize(n int64) DownloaderOption {
	return func(d *Downloader) {
		d.maxBytes = n
	}
}

// NewDownloader creates a new image downloader.
func NewDownloader(opts ...DownloaderOption) *Downloader {
	d := &Downloader{
		userAgent: DefaultUserAgent,
		maxBytes:  MaxImageSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.httpClient == nil {
		d.httpClient = NewHTTPClient(DefaultHTTPConfig())
	}
	return d
}

// Download fetches url and verifies that the body is an image.
func (d *Downloader) Download(ctx context.Context, url string, source Source) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("Accept", "image/*")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, string(source)); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if int64(len(data)) > d.maxBytes {
		return nil, ErrImageTooLarge
	}
	if len(data) == 0 {
		return nil, ErrArtworkNotFound
	}

	mime, err := sniffImage(data)
	if err != nil {
		log.Debug().
			Str("url", url).
			Str("contentType", resp.Header.Get("Content-Type")).
			Msg("Downloaded data is not an image")
		return nil, err
	}

	log.Debug().
		Str("url", url).
		Int("size", len(data)).
		Str("type", mime).
		Msg("Downloaded artwork")

	return &FetchResult{
		Data:     data,
		MimeType: mime,
		Source:   source,
	}, nil
}

// FetchURL downloads a direct artwork URL.
func (d *Downloader) FetchURL(ctx context.Context, url string) (*FetchResult, error) {
	return d.Download(ctx, url, SourceURL)
}

// sniffImage returns the MIME type of data, or ErrNotImage.
func sniffImage(data []byte) (string, error) {
	kind, err := filetype.Match(data)
	if err != nil || !filetype.IsImage(data) {
		return "", ErrNotImage
	}
	return kind.MIME.Value, nil
}
