package enrichment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultCAABaseURL is the Cover Art Archive API base URL
	DefaultCAABaseURL = "https://coverartarchive.org"

	// DefaultRateLimit is 1 request per second (MusicBrainz guideline)
	DefaultRateLimit = 1

	maxReleaseIDs = 1024
)

// CAAClient is a client for the Cover Art Archive API
type CAAClient struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	rateLimit  int
	limiter    *rateLimiter
	downloader *Downloader
}

// CAAOption is a functional option for configuring the CAA client
type CAAOption func(*CAAClient)

// WithBaseURL sets a custom base URL (useful for testing)
func WithBaseURL(url string) CAAOption {
	return func(c *CAAClient) {
		c.baseURL = url
	}
}

// WithUserAgent sets a custom User-Agent header
func WithUserAgent(ua string) CAAOption {
	return func(c *CAAClient) {
		c.userAgent = ua
	}
}

// WithRateLimit sets the rate limit in requests per second
func WithRateLimit(rps int) CAAOption {
	return func(c *CAAClient) {
		c.rateLimit = rps
		c.limiter = newRateLimiter(rps)
	}
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) CAAOption {
	return func(c *CAAClient) {
		c.httpClient = client
	}
}

// NewCAAClient creates a new Cover Art Archive client
func NewCAAClient(opts ...CAAOption) *CAAClient {
	c := &CAAClient{
		baseURL:   DefaultCAABaseURL,
		userAgent: DefaultUserAgent,
		rateLimit: DefaultRateLimit,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = NewHTTPClient(DefaultHTTPConfig())
	}
	if c.limiter == nil {
		c.limiter = newRateLimiter(c.rateLimit)
	}
	c.downloader = NewDownloader(
		WithDownloaderHTTPClient(c.httpClient),
		WithDownloaderUserAgent(c.userAgent),
	)

	return c
}

// FetchAlbumArt fetches the front cover of a release. SizeSmall requests
// the 500px thumbnail, SizeLarge the original upload.
func (c *CAAClient) FetchAlbumArt(ctx context.Context, mbid string, size Size) (*FetchResult, error) {
	return c.fetchFront(ctx, "release", mbid, size)
}

// FetchReleaseGroupArt fetches the front cover CAA picked for a release
// group, which covers releases that have no artwork of their own.
func (c *CAAClient) FetchReleaseGroupArt(ctx context.Context, groupID string, size Size) (*FetchResult, error) {
	return c.fetchFront(ctx, "release-group", groupID, size)
}

func (c *CAAClient) fetchFront(ctx context.Context, entity, mbid string, size Size) (*FetchResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	url := fmt.Sprintf("%s/%s/%s/front", c.baseURL, entity, mbid)
	if size == SizeSmall {
		url += "-500"
	}

	log.Debug().
		Str("entity", entity).
		Str("mbid", mbid).
		Str("size", size.String()).
		Msg("Fetching cover from CAA")

	result, err := c.downloader.Download(ctx, url, SourceCoverArtArchive)
	if errors.Is(err, ErrArtworkNotFound) {
		log.Debug().Str("entity", entity).Str("mbid", mbid).Msg("No front cover in CAA")
	}
	return result, err
}

// CoverArtProvider resolves artist and album to a MusicBrainz release and
// fetches its front cover from the Cover Art Archive, falling back to the
// release group's cover.
type CoverArtProvider struct {
	mb  *MusicBrainzClient
	caa *CAAClient

	mu       sync.Mutex
	releases map[string]*Release // normalized artist/album -> best release, nil when none
}

// NewCoverArtProvider combines a MusicBrainz and a CAA client.
func NewCoverArtProvider(mb *MusicBrainzClient, caa *CAAClient) *CoverArtProvider {
	return &CoverArtProvider{
		mb:       mb,
		caa:      caa,
		releases: make(map[string]*Release),
	}
}

// Name implements AlbumArtProvider.
func (p *CoverArtProvider) Name() string {
	return string(SourceCoverArtArchive)
}

// FetchAlbumArt implements AlbumArtProvider.
func (p *CoverArtProvider) FetchAlbumArt(ctx context.Context, artist, album string, size Size) (*FetchResult, error) {
	rel, err := p.release(ctx, artist, album)
	if err != nil {
		return nil, err
	}
	if rel == nil {
		return nil, ErrArtworkNotFound
	}

	// Search results without cover flags are still worth one try.
	if rel.HasFront || !rel.HasAnyArtwork {
		res, err := p.caa.FetchAlbumArt(ctx, rel.ID, size)
		if err == nil || !errors.Is(err, ErrArtworkNotFound) || rel.GroupID == "" {
			return res, err
		}
	}
	if rel.GroupID == "" {
		return nil, ErrArtworkNotFound
	}
	return p.caa.FetchReleaseGroupArt(ctx, rel.GroupID, size)
}

// release memoizes release searches so both renditions of an album cost
// one MusicBrainz request.
func (p *CoverArtProvider) release(ctx context.Context, artist, album string) (*Release, error) {
	key := strings.ToLower(strings.TrimSpace(artist)) + "\x00" + strings.ToLower(strings.TrimSpace(album))

	p.mu.Lock()
	rel, ok := p.releases[key]
	p.mu.Unlock()
	if ok {
		return rel, nil
	}

	rel, err := p.mb.BestRelease(ctx, artist, album)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if len(p.releases) >= maxReleaseIDs {
		p.releases = make(map[string]*Release)
	}
	p.releases[key] = rel
	p.mu.Unlock()
	return rel, nil
}
