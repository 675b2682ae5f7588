package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultLastFMBaseURL is the Last.fm API base URL
	DefaultLastFMBaseURL = "https://ws.audioscrobbler.com/2.0/"

	// DefaultLastFMRateLimit stays well under the documented 5 req/s
	DefaultLastFMRateLimit = 4

	lastFMNotFound = 6
)

// LastFMClient looks up album covers with album.getinfo.
type LastFMClient struct {
	baseURL    string
	apiKey     string
	userAgent  string
	httpClient *http.Client
	limiter    *rateLimiter
	downloader *Downloader
}

// LastFMOption is a functional option for configuring the Last.fm client.
type LastFMOption func(*LastFMClient)

// WithLastFMBaseURL sets a custom base URL (useful for testing).
func WithLastFMBaseURL(url string) LastFMOption {
	return func(c *LastFMClient) {
		c.baseURL = url
	}
}

// WithLastFMUserAgent sets a custom User-Agent header.
func WithLastFMUserAgent(ua string) LastFMOption {
	return func(c *LastFMClient) {
		c.userAgent = ua
	}
}

// WithLastFMHTTPClient sets a custom HTTP client.
func WithLastFMHTTPClient(client *http.Client) LastFMOption {
	return func(c *LastFMClient) {
		c.httpClient = client
	}
}

// NewLastFMClient creates a new Last.fm client. Without an API key every
// lookup returns ErrNotConfigured.
func NewLastFMClient(apiKey string, opts ...LastFMOption) *LastFMClient {
	c := &LastFMClient{
		baseURL:   DefaultLastFMBaseURL,
		apiKey:    apiKey,
		userAgent: DefaultUserAgent,
		limiter:   newRateLimiter(DefaultLastFMRateLimit),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = NewHTTPClient(DefaultHTTPConfig())
	}
	c.downloader = NewDownloader(
		WithDownloaderHTTPClient(c.httpClient),
		WithDownloaderUserAgent(c.userAgent),
	)

	return c
}

// LastFMImage is one entry of an album's image list.
type LastFMImage struct {
	URL  string `json:"#text"`
	Size string `json:"size"` // small, medium, large, extralarge, mega
}

// LastFMAlbumResponse represents an album.getinfo response.
type LastFMAlbumResponse struct {
	Album *struct {
		Name   string        `json:"name"`
		Artist string        `json:"artist"`
		Image  []LastFMImage `json:"image"`
	} `json:"album"`
	Error   int    `json:"error"`
	Message string `json:"message"`
}

// AlbumCoverURL returns the cover URL of an album for size.
func (c *LastFMClient) AlbumCoverURL(ctx context.Context, artist, album string, size Size) (string, error) {
	if c.apiKey == "" {
		return "", ErrNotConfigured
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	params := url.Values{}
	params.Set("method", "album.getinfo")
	params.Set("api_key", c.apiKey)
	params.Set("artist", artist)
	params.Set("album", album)
	params.Set("autocorrect", "1")
	params.Set("format", "json")
	reqURL := c.baseURL + "?" + params.Encode()

	log.Debug().
		Str("artist", artist).
		Str("album", album).
		Msg("Looking up album on Last.fm")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var info LastFMAlbumResponse
	jsonErr := json.Unmarshal(body, &info)

	// Last.fm reports API errors in the body, sometimes with a 200
	if jsonErr == nil && info.Error != 0 {
		if info.Error == lastFMNotFound {
			return "", ErrArtworkNotFound
		}
		return "", fmt.Errorf("lastfm error %d: %s", info.Error, info.Message)
	}
	c.limiter.observe(resp)
	if err := checkStatus(resp, "lastfm"); err != nil {
		return "", err
	}
	if jsonErr != nil {
		return "", fmt.Errorf("parse response: %w", jsonErr)
	}
	if info.Album == nil {
		return "", ErrArtworkNotFound
	}

	images := make(map[string]string, len(info.Album.Image))
	for _, img := range info.Album.Image {
		if img.URL != "" {
			images[img.Size] = img.URL
		}
	}

	order := []string{"extralarge", "mega", "large"}
	if size == SizeLarge {
		order = []string{"mega", "extralarge", "large"}
	}
	for _, s := range order {
		if u, ok := images[s]; ok {
			return u, nil
		}
	}
	return "", ErrArtworkNotFound
}

// Name implements AlbumArtProvider.
func (c *LastFMClient) Name() string {
	return string(SourceLastFM)
}

// FetchAlbumArt implements AlbumArtProvider.
func (c *LastFMClient) FetchAlbumArt(ctx context.Context, artist, album string, size Size) (*FetchResult, error) {
	coverURL, err := c.AlbumCoverURL(ctx, artist, album, size)
	if err != nil {
		return nil, err
	}
	return c.downloader.Download(ctx, coverURL, SourceLastFM)
}
