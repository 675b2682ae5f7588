package artwork

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// AlbumLister enumerates the albums of the library.
type AlbumLister interface {
	ListAlbums(ctx context.Context) ([]ArtInfo, error)
}

// WarmFetcher is the part of Manager the warmer needs. Warm fills the
// disk tier only and reports false when the entry was already there.
type WarmFetcher interface {
	Warm(ctx context.Context, info ArtInfo, typ Type) (bool, error)
}

// WarmStats summarizes one pass over the library.
type WarmStats struct {
	Albums   int `json:"albums"`
	Fetched  int `json:"fetched"`
	Cached   int `json:"cached"`
	Deferred int `json:"deferred"`
	Failed   int `json:"failed"`
}

// WarmerConfig controls the warmer.
type WarmerConfig struct {
	BatchSize  int           // albums per batch
	BatchPause time.Duration // pause between batches
	Interval   time.Duration // time between passes when started
	Types      []Type
}

// DefaultWarmerConfig returns the default warmer configuration.
func DefaultWarmerConfig() WarmerConfig {
	return WarmerConfig{
		BatchSize:  10,
		BatchPause: 2 * time.Second,
		Interval:   6 * time.Hour,
		Types:      []Type{TypeThumbnail},
	}
}

// WarmerOption is a functional option for configuring the warmer.
type WarmerOption func(*Warmer)

// WithBatchSize sets the number of albums fetched per batch.
func WithBatchSize(size int) WarmerOption {
	return func(w *Warmer) {
		w.config.BatchSize = size
	}
}

// WithBatchPause sets the pause between batches.
func WithBatchPause(d time.Duration) WarmerOption {
	return func(w *Warmer) {
		w.config.BatchPause = d
	}
}

// WithWarmInterval sets the time between passes.
func WithWarmInterval(d time.Duration) WarmerOption {
	return func(w *Warmer) {
		w.config.Interval = d
	}
}

// WithWarmTypes sets the renditions to warm.
func WithWarmTypes(types ...Type) WarmerOption {
	return func(w *Warmer) {
		w.config.Types = types
	}
}

// Warmer fills the cache tiers for the whole library in the background.
type Warmer struct {
	fetcher WarmFetcher
	lister  AlbumLister
	config  WarmerConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	last    WarmStats
}

// NewWarmer creates a new warmer.
func NewWarmer(fetcher WarmFetcher, lister AlbumLister, opts ...WarmerOption) *Warmer {
	w := &Warmer{
		fetcher: fetcher,
		lister:  lister,
		config:  DefaultWarmerConfig(),
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.config.BatchSize <= 0 {
		w.config.BatchSize = 1
	}
	if w.config.Interval <= 0 {
		w.config.Interval = DefaultWarmerConfig().Interval
	}
	return w
}

// Start runs a pass immediately and then every Interval until ctx is
// cancelled or Stop is called.
func (w *Warmer) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	stopCh := w.stopCh
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	log.Info().
		Int("batchSize", w.config.BatchSize).
		Dur("interval", w.config.Interval).
		Msg("Artwork warmer started")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		if _, err := w.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("Artwork warm pass failed")
		}
		select {
		case <-ctx.Done():
			log.Info().Msg("Artwork warmer stopping")
			return
		case <-ticker.C:
		}
	}
}

// Stop stops the warmer.
func (w *Warmer) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		select {
		case <-w.stopCh:
		default:
			close(w.stopCh)
		}
	}
}

// IsRunning returns whether the warmer loop is active.
func (w *Warmer) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// LastStats returns the result of the last completed pass.
func (w *Warmer) LastStats() WarmStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

// Run makes one pass over the library at background priority.
func (w *Warmer) Run(ctx context.Context) (*WarmStats, error) {
	albums, err := w.lister.ListAlbums(ctx)
	if err != nil {
		return nil, err
	}

	stats := &WarmStats{Albums: len(albums)}
	for start := 0; start < len(albums); start += w.config.BatchSize {
		if start > 0 && w.config.BatchPause > 0 {
			timer := time.NewTimer(w.config.BatchPause)
			select {
			case <-ctx.Done():
				timer.Stop()
				return stats, ctx.Err()
			case <-timer.C:
			}
		}

		end := min(start+w.config.BatchSize, len(albums))
		for _, info := range albums[start:end] {
			for _, typ := range w.config.Types {
				if err := ctx.Err(); err != nil {
					return stats, err
				}
				w.warm(ctx, info, typ, stats)
			}
		}
		log.Debug().Int("done", end).Int("total", len(albums)).Msg("Artwork warm batch finished")
	}

	w.mu.Lock()
	w.last = *stats
	w.mu.Unlock()

	log.Info().
		Int("albums", stats.Albums).
		Int("fetched", stats.Fetched).
		Int("cached", stats.Cached).
		Int("deferred", stats.Deferred).
		Int("failed", stats.Failed).
		Msg("Artwork warm pass finished")
	return stats, nil
}

func (w *Warmer) warm(ctx context.Context, info ArtInfo, typ Type, stats *WarmStats) {
	fetched, err := w.fetcher.Warm(ctx, info, typ)
	switch {
	case err == nil && fetched:
		stats.Fetched++
	case err == nil:
		stats.Cached++
	case errors.Is(err, ErrDeferred):
		stats.Deferred++
	case ctx.Err() != nil:
	default:
		stats.Failed++
		log.Debug().Err(err).Str("artist", info.Artist).Str("album", info.Album).Msg("Artwork warm failed")
	}
}
