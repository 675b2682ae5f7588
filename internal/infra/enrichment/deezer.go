package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"unicode"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultDeezerBaseURL is the Deezer API base URL
	DefaultDeezerBaseURL = "https://api.deezer.com"

	// DefaultDeezerRateLimit in requests per second, well under Deezer's quota.
	DefaultDeezerRateLimit = 5
)

// DeezerClient searches for album covers via the Deezer API.
type DeezerClient struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	limiter    *rateLimiter
	downloader *Downloader
}

// DeezerOption is a functional option for configuring the Deezer client.
type DeezerOption func(*DeezerClient)

// WithDeezerBaseURL sets a custom base URL (useful for testing).
func WithDeezerBaseURL(url string) DeezerOption {
	return func(c *DeezerClient) {
		c.baseURL = url
	}
}

// WithDeezerUserAgent sets a custom User-Agent header.
func WithDeezerUserAgent(ua string) DeezerOption {
	return func(c *DeezerClient) {
		c.userAgent = ua
	}
}

// WithDeezerHTTPClient sets a custom HTTP client.
func WithDeezerHTTPClient(client *http.Client) DeezerOption {
	return func(c *DeezerClient) {
		c.httpClient = client
	}
}

// NewDeezerClient creates a Deezer client. The search API needs no key.
func NewDeezerClient(opts ...DeezerOption) *DeezerClient {
	c := &DeezerClient{
		baseURL:   DefaultDeezerBaseURL,
		userAgent: DefaultUserAgent,
		limiter:   newRateLimiter(DefaultDeezerRateLimit),
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

type deezerSearchResponse struct {
	Data  []deezerAlbum `json:"data"`
	Total int           `json:"total"`
}

type deezerAlbum struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	Cover       string `json:"cover"`
	CoverMedium string `json:"cover_medium"` // 250px
	CoverBig    string `json:"cover_big"`    // 500px
	CoverXL     string `json:"cover_xl"`     // 1000px
	Artist      struct {
		Name string `json:"name"`
	} `json:"artist"`
}

// coverURL picks the cover URL for size, falling back to what is available.
func (a deezerAlbum) coverURL(size Size) string {
	candidates := []string{a.CoverBig, a.CoverXL, a.CoverMedium, a.Cover}
	if size == SizeLarge {
		candidates = []string{a.CoverXL, a.CoverBig, a.CoverMedium, a.Cover}
	}
	for _, u := range candidates {
		if u != "" {
			return u
		}
	}
	return ""
}

// Match quality of a search result, best first.
const (
	matchExact   = iota // artist and title equal after normalization
	matchEdition        // artist equal, title differs only by an edition suffix
	matchTitle          // title equal, artist unknown on our side
	matchNone
)

// SearchAlbumCoverURL searches Deezer for an album and returns the cover
// URL of the best matching result. Results whose artist or title do not
// match are never used, so a wrong cover is not cached.
func (c *DeezerClient) SearchAlbumCoverURL(ctx context.Context, artist, album string, size Size) (string, error) {
	results, err := c.searchAlbums(ctx, deezerQuery(artist, album))
	if err != nil {
		return "", err
	}

	best, bestMatch := deezerAlbum{}, matchNone
	for _, a := range results {
		if a.coverURL(size) == "" {
			continue
		}
		if m := deezerMatch(a, artist, album); m < bestMatch {
			best, bestMatch = a, m
		}
	}
	if bestMatch == matchNone {
		log.Debug().
			Str("artist", artist).
			Str("album", album).
			Int("results", len(results)).
			Msg("No matching album on Deezer")
		return "", ErrArtworkNotFound
	}

	log.Debug().
		Str("artist", artist).
		Str("album", album).
		Int("deezerID", best.ID).
		Int("match", bestMatch).
		Msg("Found album cover on Deezer")
	return best.coverURL(size), nil
}

func (c *DeezerClient) searchAlbums(ctx context.Context, query string) ([]deezerAlbum, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	searchURL := fmt.Sprintf("%s/search/album?q=%s&limit=10", c.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	c.limiter.observe(resp)
	if err := checkStatus(resp, "deezer"); err != nil {
		return nil, err
	}

	var sr deezerSearchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&sr); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return sr.Data, nil
}

// deezerQuery builds an advanced search query. Deezer has no escape
// syntax, so quotes are dropped from the terms.
func deezerQuery(artist, album string) string {
	unquote := strings.NewReplacer(`"`, "")
	q := fmt.Sprintf(`album:"%s"`, unquote.Replace(strings.TrimSpace(album)))
	if a := strings.TrimSpace(artist); a != "" {
		q = fmt.Sprintf(`artist:"%s" %s`, unquote.Replace(a), q)
	}
	return q
}

func deezerMatch(a deezerAlbum, artist, album string) int {
	wantTitle, gotTitle := normalizeName(album), normalizeName(a.Title)
	if strings.TrimSpace(artist) == "" {
		if gotTitle == wantTitle {
			return matchTitle
		}
		return matchNone
	}
	if normalizeName(a.Artist.Name) != normalizeName(artist) {
		return matchNone
	}
	switch {
	case gotTitle == wantTitle:
		return matchExact
	case stripEdition(gotTitle) == stripEdition(wantTitle):
		return matchEdition
	}
	return matchNone
}

// normalizeName lowercases s, folds "&" into "and" and drops punctuation.
func normalizeName(s string) string {
	s = strings.ReplaceAll(strings.ToLower(s), "&", " and ")
	var b strings.Builder
	space := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '(' || r == ')' || r == '[' || r == ']':
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteRune(r)
			space = false
		case unicode.IsSpace(r) || r == '-' || r == '_' || r == '/':
			space = true
		}
	}
	return b.String()
}

// stripEdition removes a trailing bracketed qualifier such as
// "(deluxe edition)" or "[remastered]".
func stripEdition(title string) string {
	for {
		t := strings.TrimSpace(title)
		n := len(t)
		if n == 0 || (t[n-1] != ')' && t[n-1] != ']') {
			return t
		}
		open := strings.LastIndexAny(t, "([")
		if open <= 0 {
			return t
		}
		title = t[:open]
	}
}

// Name implements AlbumArtProvider.
func (c *DeezerClient) Name() string {
	return string(SourceDeezer)
}

// FetchAlbumArt implements AlbumArtProvider.
func (c *DeezerClient) FetchAlbumArt(ctx context.Context, artist, album string, size Size) (*FetchResult, error) {
	coverURL, err := c.SearchAlbumCoverURL(ctx, artist, album, size)
	if err != nil {
		return nil, err
	}
	return c.downloader.Download(ctx, coverURL, SourceDeezer)
}
