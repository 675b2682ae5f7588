package artwork

import (
	"container/list"
	"sync"
)

// DefaultMemoryBytes caps the memory tier at 32MB of decoded artwork.
const DefaultMemoryBytes = 32 * 1024 * 1024

// MemoryStats is a snapshot of memory tier counters.
type MemoryStats struct {
	Entries   int   `json:"entries"`
	Bytes     int64 `json:"bytes"`
	MaxBytes  int64 `json:"maxBytes"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

type memEntry struct {
	key  Key
	art  *Artwork
	size int64
}

// MemoryCache is a byte-bounded LRU of decoded artwork. It is safe for
// concurrent use; all state is guarded by one mutex.
type MemoryCache struct {
	mu       sync.Mutex
	maxBytes int64
	size     int64
	entries  map[Key]*list.Element
	order    *list.List // front is most recently used

	hits, misses, evictions int64
}

// NewMemoryCache creates a memory tier holding at most maxBytes.
func NewMemoryCache(maxBytes int64) *MemoryCache {
	if maxBytes <= 0 {
		maxBytes = DefaultMemoryBytes
	}
	return &MemoryCache{
		maxBytes: maxBytes,
		entries:  make(map[Key]*list.Element),
		order:    list.New(),
	}
}

// Get returns the artwork for key and marks it most recently used.
func (c *MemoryCache) Get(key Key) (*Artwork, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	c.order.MoveToFront(elem)
	return elem.Value.(*memEntry).art, true
}

// Put stores art under key, evicting least recently used entries to stay
// within the byte cap. Artwork larger than the cap is not stored.
func (c *MemoryCache) Put(key Key, art *Artwork) {
	if art == nil {
		return
	}
	size := art.SizeBytes()

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.removeElement(elem)
	}
	if size > c.maxBytes {
		return
	}

	c.entries[key] = c.order.PushFront(&memEntry{key: key, art: art, size: size})
	c.size += size

	for c.size > c.maxBytes {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeElement(oldest)
		c.evictions++
	}
}

// Remove drops key if present.
func (c *MemoryCache) Remove(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.removeElement(elem)
	}
}

// EvictAll empties the cache.
func (c *MemoryCache) EvictAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictions += int64(len(c.entries))
	c.entries = make(map[Key]*list.Element)
	c.order.Init()
	c.size = 0
}

// Len returns the number of cached entries.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Size returns the bytes currently held.
func (c *MemoryCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Stats returns a snapshot of the cache counters.
func (c *MemoryCache) Stats() MemoryStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return MemoryStats{
		Entries:   len(c.entries),
		Bytes:     c.size,
		MaxBytes:  c.maxBytes,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

func (c *MemoryCache) removeElement(elem *list.Element) {
	e := elem.Value.(*memEntry)
	c.order.Remove(elem)
	delete(c.entries, e.key)
	c.size -= e.size
}
