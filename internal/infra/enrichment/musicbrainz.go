package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultMBBaseURL is the MusicBrainz API base URL
	DefaultMBBaseURL = "https://musicbrainz.org/ws/2"

	// DefaultMBRateLimit is 1 request per second (MusicBrainz guideline)
	DefaultMBRateLimit = 1

	// Search scores at or above strongMatch are trusted outright; weaker
	// candidates are kept only while above minMatch.
	strongMatch = 80
	minMatch    = 50

	mbSearchLimit = 10
)

// MusicBrainzClient finds the release whose cover art the Cover Art
// Archive should serve for an artist and album.
type MusicBrainzClient struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	limiter    *rateLimiter
}

// MBOption is a functional option for configuring the MusicBrainz client.
type MBOption func(*MusicBrainzClient)

// WithMBBaseURL sets a custom base URL (useful for testing).
func WithMBBaseURL(url string) MBOption {
	return func(c *MusicBrainzClient) {
		c.baseURL = url
	}
}

// WithMBUserAgent sets a custom User-Agent header.
func WithMBUserAgent(ua string) MBOption {
	return func(c *MusicBrainzClient) {
		c.userAgent = ua
	}
}

// WithMBHTTPClient sets a custom HTTP client.
func WithMBHTTPClient(client *http.Client) MBOption {
	return func(c *MusicBrainzClient) {
		c.httpClient = client
	}
}

// NewMusicBrainzClient creates a new MusicBrainz API client.
func NewMusicBrainzClient(opts ...MBOption) *MusicBrainzClient {
	c := &MusicBrainzClient{
		baseURL:   DefaultMBBaseURL,
		userAgent: DefaultUserAgent,
		limiter:   newRateLimiter(DefaultMBRateLimit),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = NewHTTPClient(DefaultHTTPConfig())
	}
	return c
}

// Release is a release search candidate with what the Cover Art Archive
// holds for it.
type Release struct {
	ID            string
	GroupID       string
	Title         string
	Score         int
	Official      bool
	HasFront      bool // the release itself has a front cover in CAA
	HasAnyArtwork bool
}

type mbRelease struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Score        int    `json:"score"`
	Status       string `json:"status"`
	ReleaseGroup struct {
		ID string `json:"id"`
	} `json:"release-group"`
	CoverArt struct {
		Artwork bool `json:"artwork"`
		Front   bool `json:"front"`
	} `json:"cover-art-archive"`
}

type mbSearchResponse struct {
	Releases []mbRelease `json:"releases"`
}

// SearchReleases returns the candidates for artist and album, best first.
// Candidates at or below the minimum score are dropped. Among confident
// matches, releases with a front cover rank ahead of releases without one,
// so the first candidate is the one most likely to have artwork.
func (c *MusicBrainzClient) SearchReleases(ctx context.Context, artist, album string) ([]Release, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	reqURL := fmt.Sprintf("%s/release?query=%s&fmt=json&limit=%d",
		c.baseURL, url.QueryEscape(releaseQuery(artist, album)), mbSearchLimit)

	log.Debug().
		Str("artist", artist).
		Str("album", album).
		Msg("Searching MusicBrainz for release")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
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
	if err := checkStatus(resp, "musicbrainz"); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var sr mbSearchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	releases := make([]Release, 0, len(sr.Releases))
	for _, r := range sr.Releases {
		if r.Score <= minMatch {
			continue
		}
		releases = append(releases, Release{
			ID:            r.ID,
			GroupID:       r.ReleaseGroup.ID,
			Title:         r.Title,
			Score:         r.Score,
			Official:      strings.EqualFold(r.Status, "official"),
			HasFront:      r.CoverArt.Front,
			HasAnyArtwork: r.CoverArt.Artwork,
		})
	}
	rankReleases(releases)

	log.Debug().
		Str("artist", artist).
		Str("album", album).
		Int("candidates", len(releases)).
		Int("results", len(sr.Releases)).
		Msg("MusicBrainz release search done")
	return releases, nil
}

// BestRelease returns the top candidate, or nil when nothing matched.
func (c *MusicBrainzClient) BestRelease(ctx context.Context, artist, album string) (*Release, error) {
	releases, err := c.SearchReleases(ctx, artist, album)
	if err != nil || len(releases) == 0 {
		return nil, err
	}
	return &releases[0], nil
}

// rankReleases orders confident matches by cover availability, then
// official status, then score. Weak matches follow, by score.
func rankReleases(rs []Release) {
	tier := func(r Release) int {
		switch {
		case r.Score >= strongMatch && r.HasFront:
			return 0
		case r.Score >= strongMatch:
			return 1
		default:
			return 2
		}
	}
	sort.SliceStable(rs, func(i, j int) bool {
		ti, tj := tier(rs[i]), tier(rs[j])
		if ti != tj {
			return ti < tj
		}
		if rs[i].Official != rs[j].Official && ti < 2 {
			return rs[i].Official
		}
		return rs[i].Score > rs[j].Score
	})
}

func releaseQuery(artist, album string) string {
	q := fmt.Sprintf(`release:"%s"`, escapeQuery(album))
	if a := strings.TrimSpace(artist); a != "" {
		q = fmt.Sprintf(`artist:"%s" AND %s`, escapeQuery(a), q)
	}
	return q
}

var luceneEscaper = strings.NewReplacer(
	`\`, `\\`, `"`, `\"`, `+`, `\+`, `-`, `\-`, `!`, `\!`,
	`(`, `\(`, `)`, `\)`, `{`, `\{`, `}`, `\}`, `[`, `\[`, `]`, `\]`,
	`^`, `\^`, `~`, `\~`, `*`, `\*`, `?`, `\?`, `:`, `\:`, `/`, `\/`,
)

// escapeQuery escapes Lucene special characters.
func escapeQuery(s string) string {
	return luceneEscaper.Replace(s)
}
