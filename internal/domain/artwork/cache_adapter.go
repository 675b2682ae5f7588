package artwork

import (
	"errors"

	"github.com/edumarques81/stellar-artwork/internal/infra/cache"
)

// CacheStoreAdapter adapts cache.Store to implement the DiskCache interface.
type CacheStoreAdapter struct {
	store *cache.Store
}

// NewCacheStoreAdapter creates a new adapter for cache.Store.
func NewCacheStoreAdapter(store *cache.Store) *CacheStoreAdapter {
	return &CacheStoreAdapter{store: store}
}

// Get returns the cached bytes for key, or ErrCacheMiss.
func (a *CacheStoreAdapter) Get(key Key) (*DiskEntry, []byte, error) {
	entry, data, err := a.store.Get(key.String())
	if errors.Is(err, cache.ErrNotFound) {
		return nil, nil, ErrCacheMiss
	}
	if err != nil {
		return nil, nil, err
	}
	return &DiskEntry{
		Key:      key,
		Source:   entry.Source,
		MimeType: entry.MimeType,
		Width:    entry.Width,
		Height:   entry.Height,
	}, data, nil
}

// Put stores data for entry.Key.
func (a *CacheStoreAdapter) Put(entry *DiskEntry, data []byte) error {
	return a.store.Put(&cache.Entry{
		Key:       entry.Key.String(),
		ArtworkID: entry.Key.ID,
		Type:      entry.Key.Type.String(),
		Source:    entry.Source,
		MimeType:  entry.MimeType,
		Width:     entry.Width,
		Height:    entry.Height,
	}, data)
}

// Has reports whether key is cached.
func (a *CacheStoreAdapter) Has(key Key) bool {
	return a.store.Has(key.String())
}

// Remove drops key.
func (a *CacheStoreAdapter) Remove(key Key) error {
	return a.store.Remove(key.String())
}

// Purge empties the disk tier.
func (a *CacheStoreAdapter) Purge() error {
	return a.store.Clear()
}

// DiskStats implements DiskStatter.
func (a *CacheStoreAdapter) DiskStats() (*DiskStats, error) {
	st, err := a.store.Stats()
	if err != nil {
		return nil, err
	}
	return &DiskStats{
		Entries:   st.EntryCount,
		Bytes:     st.TotalBytes,
		MaxBytes:  st.MaxBytes,
		Evictions: st.Evictions,
	}, nil
}
