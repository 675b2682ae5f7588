package artwork

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultNetworkWorkers bounds concurrent source fetches.
	DefaultNetworkWorkers = 4

	diskWorkers     = 2
	prefetchTimeout = 60 * time.Second
)

// Stats is a snapshot of the manager state.
type Stats struct {
	Memory      MemoryStats `json:"memory"`
	Disk        *DiskStats  `json:"disk,omitempty"`
	Online      bool        `json:"online"`
	Preferences Preferences `json:"preferences"`
}

// Manager owns both cache tiers and the fetch pipeline. Every request goes
// memory, then disk, then the resolver; successful fetches are written to
// both tiers before the caller sees them.
type Manager struct {
	mem      *MemoryCache
	disk     DiskCache
	resolver *Resolver

	netWorkers int
	netExec    *Executor
	diskExec   *Executor
	bgExec     *Executor

	group singleflight.Group

	mu    sync.RWMutex
	prefs Preferences
}

// ManagerOption is a functional option for configuring the manager.
type ManagerOption func(*Manager)

// WithMemoryCache sets the memory tier.
func WithMemoryCache(c *MemoryCache) ManagerOption {
	return func(m *Manager) {
		m.mem = c
	}
}

// WithPreferences sets the initial user preferences.
func WithPreferences(p Preferences) ManagerOption {
	return func(m *Manager) {
		m.prefs = p
	}
}

// WithNetworkWorkers sets the number of concurrent source fetches.
func WithNetworkWorkers(n int) ManagerOption {
	return func(m *Manager) {
		m.netWorkers = n
	}
}

// NewManager creates a manager over disk and resolver and starts its
// executors. Call Close to stop them.
func NewManager(disk DiskCache, resolver *Resolver, opts ...ManagerOption) *Manager {
	m := &Manager{
		disk:       disk,
		resolver:   resolver,
		netWorkers: DefaultNetworkWorkers,
		prefs:      DefaultPreferences(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.mem == nil {
		m.mem = NewMemoryCache(DefaultMemoryBytes)
	}
	if m.resolver == nil {
		m.resolver = NewResolver()
	}

	m.netExec = NewExecutor("network", m.netWorkers, 64)
	m.diskExec = NewExecutor("disk", diskWorkers, 64)
	m.bgExec = NewExecutor("background", 1, 256)
	return m
}

// Close stops the executors.
func (m *Manager) Close() {
	m.bgExec.Close()
	m.netExec.Close()
	m.diskExec.Close()
}

// Preferences returns the current user preferences.
func (m *Manager) Preferences() Preferences {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.prefs
}

// SetPreferences replaces the user preferences for subsequent fetches.
func (m *Manager) SetPreferences(p Preferences) {
	m.mu.Lock()
	m.prefs = p
	m.mu.Unlock()
	log.Info().
		Bool("preferDownload", p.PreferDownload).
		Bool("downloadMissing", p.DownloadMissing).
		Bool("lowResolutionOnly", p.LowResolutionOnly).
		Msg("Artwork preferences updated")
}

// Peek returns artwork from the memory tier only.
func (m *Manager) Peek(info ArtInfo, typ Type) (*Artwork, bool) {
	key, err := KeyFor(info, typ)
	if err != nil {
		return nil, false
	}
	return m.mem.Get(key)
}

// Lookup checks the memory tier, then the disk tier. A disk hit is decoded
// and promoted to memory. Both tiers missing returns ErrCacheMiss.
func (m *Manager) Lookup(ctx context.Context, key Key) (*Artwork, error) {
	if art, ok := m.mem.Get(key); ok {
		return art, nil
	}
	if m.disk == nil {
		return nil, ErrCacheMiss
	}

	var art *Artwork
	err := m.diskExec.Do(ctx, PriorityForeground, func(ctx context.Context) error {
		entry, data, err := m.disk.Get(key)
		if err != nil {
			return err
		}
		a, err := Build(key, data, entry.Source)
		if err != nil {
			log.Warn().Err(err).Str("key", key.String()).Msg("Dropping undecodable cached artwork")
			if rmErr := m.disk.Remove(key); rmErr != nil {
				log.Debug().Err(rmErr).Str("key", key.String()).Msg("Failed to drop cached artwork")
			}
			return ErrCacheMiss
		}
		art = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.mem.Put(key, art)
	return art, nil
}

// Fetch returns artwork for info at foreground priority.
func (m *Manager) Fetch(ctx context.Context, info ArtInfo, typ Type) (*Artwork, error) {
	return m.FetchWithPriority(ctx, info, typ, PriorityForeground)
}

// FetchWithPriority returns artwork for info, loading it from the tiers or
// the sources. Concurrent requests for the same key share one load;
// cancelling ctx abandons the wait without aborting the shared load.
func (m *Manager) FetchWithPriority(ctx context.Context, info ArtInfo, typ Type, p Priority) (*Artwork, error) {
	key, err := KeyFor(info, typ)
	if err != nil {
		return nil, err
	}
	if art, ok := m.mem.Get(key); ok {
		return art, nil
	}

	ch := m.group.DoChan(key.String(), func() (any, error) {
		return m.load(context.WithoutCancel(ctx), key, info, p)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Artwork), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) load(ctx context.Context, key Key, info ArtInfo, p Priority) (*Artwork, error) {
	art, err := m.Lookup(ctx, key)
	if err == nil {
		return art, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		log.Warn().Err(err).Str("key", key.String()).Msg("Disk cache read failed")
	}

	prefs := m.Preferences()
	var res *Resolution
	err = m.netExec.Do(ctx, p, func(ctx context.Context) error {
		r, err := m.resolver.Resolve(ctx, key, info, prefs)
		res = r
		return err
	})
	if err != nil {
		return nil, err
	}

	m.storeDisk(res.Artwork)
	m.mem.Put(key, res.Artwork)

	log.Debug().
		Str("key", key.String()).
		Str("step", res.Step.String()).
		Str("source", res.Artwork.Source).
		Msg("Fetched artwork")

	if res.Step.IsNetwork() && !prefs.LowResolutionOnly {
		m.prefetchOpposite(key.Opposite(), info, res)
	}
	return res.Artwork, nil
}

// Warm makes sure the disk tier holds the artwork for info without
// touching the memory tier. It reports whether anything was fetched; an
// entry already on disk is left alone and never decoded.
func (m *Manager) Warm(ctx context.Context, info ArtInfo, typ Type) (bool, error) {
	key, err := KeyFor(info, typ)
	if err != nil {
		return false, err
	}
	if m.disk == nil || m.disk.Has(key) {
		return false, nil
	}

	ch := m.group.DoChan("warm/"+key.String(), func() (any, error) {
		prefs := m.Preferences()
		var res *Resolution
		err := m.netExec.Do(ctx, PriorityBackground, func(ctx context.Context) error {
			r, err := m.resolver.Resolve(ctx, key, info, prefs)
			res = r
			return err
		})
		if err != nil {
			return nil, err
		}
		m.storeDisk(res.Artwork)
		return res, nil
	})

	select {
	case res := <-ch:
		return res.Err == nil, res.Err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// prefetchOpposite fetches the other rendition in the background and
// writes it to the disk tier only. Failures are swallowed.
func (m *Manager) prefetchOpposite(opp Key, info ArtInfo, res *Resolution) {
	if m.disk == nil || m.disk.Has(opp) {
		return
	}
	step := res.Step
	raw := &Fetched{Data: res.Raw, Source: res.Artwork.Source}

	m.bgExec.TrySubmit(PriorityBackground, func() {
		ctx, cancel := context.WithTimeout(context.Background(), prefetchTimeout)
		defer cancel()

		var r *Resolution
		var err error
		if step == StepDirectURL {
			// The URL names one image; derive the other rendition from it.
			r, err = RenderFetched(opp, raw, step)
		} else {
			err = m.netExec.Do(ctx, PriorityBackground, func(ctx context.Context) error {
				var tryErr error
				r, tryErr = m.resolver.Try(ctx, step, opp, info, opp.Type)
				return tryErr
			})
		}
		if err != nil {
			log.Debug().Err(err).Str("key", opp.String()).Msg("Opposite rendition prefetch failed")
			return
		}
		m.storeDisk(r.Artwork)
	})
}

func (m *Manager) storeDisk(art *Artwork) {
	if m.disk == nil {
		return
	}
	entry := &DiskEntry{
		Key:      art.Key,
		Source:   art.Source,
		MimeType: art.MimeType,
		Width:    art.Width,
		Height:   art.Height,
	}
	if err := m.disk.Put(entry, art.Data); err != nil {
		log.Warn().Err(err).Str("key", art.Key.String()).Msg("Failed to write artwork to disk cache")
	}
}

// EvictMemory empties the memory tier.
func (m *Manager) EvictMemory() {
	m.mem.EvictAll()
	log.Info().Msg("Artwork memory cache evicted")
}

// PurgeDisk empties the disk tier.
func (m *Manager) PurgeDisk() error {
	if m.disk == nil {
		return nil
	}
	return m.disk.Purge()
}

// Cached returns the encoded bytes held for key without decoding them,
// for read-only access by other processes. The memory tier answers first.
func (m *Manager) Cached(ctx context.Context, key Key) (*DiskEntry, []byte, error) {
	if art, ok := m.mem.Get(key); ok && len(art.Data) > 0 {
		return &DiskEntry{
			Key:      key,
			Source:   art.Source,
			MimeType: art.MimeType,
			Width:    art.Width,
			Height:   art.Height,
		}, art.Data, nil
	}
	if m.disk == nil {
		return nil, nil, ErrCacheMiss
	}

	var entry *DiskEntry
	var data []byte
	err := m.diskExec.Do(ctx, PriorityForeground, func(ctx context.Context) error {
		var err error
		entry, data, err = m.disk.Get(key)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return entry, data, nil
}

// Stats returns a snapshot of the manager state.
func (m *Manager) Stats() Stats {
	stats := Stats{
		Memory:      m.mem.Stats(),
		Online:      m.resolver.Online(),
		Preferences: m.Preferences(),
	}
	if ds, ok := m.disk.(DiskStatter); ok {
		d, err := ds.DiskStats()
		if err != nil {
			log.Debug().Err(err).Msg("Disk cache stats unavailable")
		} else {
			stats.Disk = d
		}
	}
	return stats
}
