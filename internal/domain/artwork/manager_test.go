package artwork_test

import (
	"context"
	"errors"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/edumarques81/stellar-artwork/internal/domain/artwork"
)

// MockDisk implements the DiskCache interface in memory.
type MockDisk struct {
	mu    sync.Mutex
	items map[artwork.Key]mockDiskItem
	gets  int
}

type mockDiskItem struct {
	entry artwork.DiskEntry
	data  []byte
}

func NewMockDisk() *MockDisk {
	return &MockDisk{items: make(map[artwork.Key]mockDiskItem)}
}

func (d *MockDisk) Get(key artwork.Key) (*artwork.DiskEntry, []byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gets++
	item, ok := d.items[key]
	if !ok {
		return nil, nil, artwork.ErrCacheMiss
	}
	entry := item.entry
	return &entry, item.data, nil
}

func (d *MockDisk) Put(entry *artwork.DiskEntry, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.items[entry.Key] = mockDiskItem{entry: *entry, data: data}
	return nil
}

func (d *MockDisk) Has(key artwork.Key) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.items[key]
	return ok
}

func (d *MockDisk) Remove(key artwork.Key) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.items, key)
	return nil
}

func (d *MockDisk) Purge() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.items = make(map[artwork.Key]mockDiskItem)
	return nil
}

func (d *MockDisk) Gets() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gets
}

func (d *MockDisk) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func countType(calls []artwork.Type, typ artwork.Type) int {
	n := 0
	for _, c := range calls {
		if c == typ {
			n++
		}
	}
	return n
}

func newRemote(t *testing.T) *MockRemote {
	return &MockRemote{data: map[artwork.Type][]byte{
		artwork.TypeThumbnail: encodeJPEG(t, 300, 300, color.White),
		artwork.TypeFull:      encodeJPEG(t, 600, 600, color.White),
	}}
}

func newManager(t *testing.T, disk artwork.DiskCache, opts []artwork.ResolverOption, mopts ...artwork.ManagerOption) *artwork.Manager {
	t.Helper()
	m := artwork.NewManager(disk, artwork.NewResolver(opts...), mopts...)
	t.Cleanup(m.Close)
	return m
}

func TestManager_InvalidDescriptor(t *testing.T) {
	m := newManager(t, NewMockDisk(), nil)

	_, err := m.Fetch(context.Background(), artwork.ArtInfo{}, artwork.TypeFull)
	if !errors.Is(err, artwork.ErrInvalidDescriptor) {
		t.Errorf("Expected ErrInvalidDescriptor, got %v", err)
	}
}

func TestManager_NetworkFetchWritesThroughBothTiers(t *testing.T) {
	disk := NewMockDisk()
	remote := newRemote(t)
	m := newManager(t, disk, []artwork.ResolverOption{
		artwork.WithRemoteLookup(remote),
		artwork.WithOnlineChecker(staticOnline(true)),
	})
	info := artwork.ArtInfo{Artist: "Artist", Album: "Album"}

	art, err := m.Fetch(context.Background(), info, artwork.TypeThumbnail)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if _, ok := m.Peek(info, artwork.TypeThumbnail); !ok {
		t.Error("Artwork should be in the memory tier")
	}
	if !disk.Has(art.Key) {
		t.Error("Artwork should be in the disk tier")
	}

	// Second request is a memory hit.
	again, err := m.Fetch(context.Background(), info, artwork.TypeThumbnail)
	if err != nil {
		t.Fatalf("Second fetch failed: %v", err)
	}
	if again != art {
		t.Error("Second fetch should return the cached artwork")
	}
	if n := countType(remote.Calls(), artwork.TypeThumbnail); n != 1 {
		t.Errorf("Expected one thumbnail lookup, got %d", n)
	}
}

func TestManager_DiskHitPromotesToMemory(t *testing.T) {
	disk := NewMockDisk()
	remote := newRemote(t)
	m := newManager(t, disk, []artwork.ResolverOption{
		artwork.WithRemoteLookup(remote),
		artwork.WithOnlineChecker(staticOnline(true)),
	})
	info := artwork.ArtInfo{Artist: "Artist", Album: "Album"}
	key := mustKey(t, info, artwork.TypeFull)

	disk.Put(&artwork.DiskEntry{Key: key, Source: "mediastore"}, encodeJPEG(t, 50, 50, color.Black))

	art, err := m.Lookup(context.Background(), key)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if art.Source != "mediastore" {
		t.Errorf("Expected source from disk entry, got %s", art.Source)
	}
	if _, ok := m.Peek(info, artwork.TypeFull); !ok {
		t.Error("Disk hit should be promoted to memory")
	}
	if len(remote.Calls()) != 0 {
		t.Error("Disk hit should not contact sources")
	}
}

func TestManager_LookupMiss(t *testing.T) {
	m := newManager(t, NewMockDisk(), nil)
	key := artwork.Key{ID: "0123456789abcdef0123456789abcdef", Type: artwork.TypeFull}

	if _, err := m.Lookup(context.Background(), key); !errors.Is(err, artwork.ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss, got %v", err)
	}
}

func TestManager_UndecodableDiskEntryIsDropped(t *testing.T) {
	disk := NewMockDisk()
	remote := newRemote(t)
	m := newManager(t, disk, []artwork.ResolverOption{
		artwork.WithRemoteLookup(remote),
		artwork.WithOnlineChecker(staticOnline(true)),
	}, artwork.WithPreferences(artwork.Preferences{DownloadMissing: true, LowResolutionOnly: true}))
	info := artwork.ArtInfo{Artist: "Artist", Album: "Album"}
	key := mustKey(t, info, artwork.TypeThumbnail)

	disk.Put(&artwork.DiskEntry{Key: key, Source: "url"}, []byte("garbage"))

	art, err := m.Fetch(context.Background(), info, artwork.TypeThumbnail)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if art.Source != "coverartarchive" {
		t.Errorf("Expected refetch from remote, got %s", art.Source)
	}
}

func TestManager_PrefetchesOppositeRendition(t *testing.T) {
	disk := NewMockDisk()
	remote := newRemote(t)
	m := newManager(t, disk, []artwork.ResolverOption{
		artwork.WithRemoteLookup(remote),
		artwork.WithOnlineChecker(staticOnline(true)),
	})
	info := artwork.ArtInfo{Artist: "Artist", Album: "Album"}

	art, err := m.Fetch(context.Background(), info, artwork.TypeThumbnail)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	full := art.Key.Opposite()
	waitFor(t, "full rendition on disk", func() bool { return disk.Has(full) })

	if _, ok := m.Peek(info, artwork.TypeFull); ok {
		t.Error("Prefetched rendition should only be written to disk")
	}
	if n := countType(remote.Calls(), artwork.TypeFull); n != 1 {
		t.Errorf("Expected one full lookup, got %d", n)
	}
}

func TestManager_NoPrefetchForLowResolution(t *testing.T) {
	disk := NewMockDisk()
	remote := newRemote(t)
	m := newManager(t, disk, []artwork.ResolverOption{
		artwork.WithRemoteLookup(remote),
		artwork.WithOnlineChecker(staticOnline(true)),
	}, artwork.WithPreferences(artwork.Preferences{DownloadMissing: true, LowResolutionOnly: true}))
	info := artwork.ArtInfo{Artist: "Artist", Album: "Album"}

	if _, err := m.Fetch(context.Background(), info, artwork.TypeThumbnail); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if disk.Len() != 1 {
		t.Errorf("Expected only the requested rendition on disk, got %d entries", disk.Len())
	}
}

func TestManager_NoPrefetchForLocalSource(t *testing.T) {
	disk := NewMockDisk()
	media := &MockMediaStore{data: encodeJPEG(t, 400, 400, color.White)}
	m := newManager(t, disk, []artwork.ResolverOption{
		artwork.WithMediaStore(media),
		artwork.WithOnlineChecker(staticOnline(false)),
	})
	info := artwork.ArtInfo{Artist: "Artist", Album: "Album", URI: "Artist/Album/01.flac"}

	art, err := m.Fetch(context.Background(), info, artwork.TypeThumbnail)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if art.Width != artwork.ThumbnailSize {
		t.Errorf("Expected thumbnail width %d, got %d", artwork.ThumbnailSize, art.Width)
	}

	time.Sleep(50 * time.Millisecond)
	if disk.Has(art.Key.Opposite()) {
		t.Error("Local hits should not prefetch the other rendition")
	}
}

func TestManager_DirectURLPrefetchReusesBytes(t *testing.T) {
	disk := NewMockDisk()
	urls := &MockURLFetcher{data: encodeJPEG(t, 800, 800, color.White)}
	m := newManager(t, disk, []artwork.ResolverOption{
		artwork.WithURLFetcher(urls),
		artwork.WithOnlineChecker(staticOnline(true)),
	})
	info := artwork.ArtInfo{URI: "https://example.com/cover.jpg"}

	art, err := m.Fetch(context.Background(), info, artwork.TypeFull)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	thumb := art.Key.Opposite()
	waitFor(t, "thumbnail on disk", func() bool { return disk.Has(thumb) })

	if urls.Calls() != 1 {
		t.Errorf("Expected the URL to be downloaded once, got %d", urls.Calls())
	}
	entry, _, err := disk.Get(thumb)
	if err != nil {
		t.Fatalf("Get thumbnail failed: %v", err)
	}
	if entry.Width != artwork.ThumbnailSize {
		t.Errorf("Thumbnail should be re-rendered to %d, got %d", artwork.ThumbnailSize, entry.Width)
	}
}

func TestManager_DeduplicatesConcurrentFetches(t *testing.T) {
	disk := NewMockDisk()
	remote := newRemote(t)
	remote.release = make(chan struct{})
	m := newManager(t, disk, []artwork.ResolverOption{
		artwork.WithRemoteLookup(remote),
		artwork.WithOnlineChecker(staticOnline(true)),
	})
	info := artwork.ArtInfo{Artist: "Artist", Album: "Album"}

	const n = 5
	var wg sync.WaitGroup
	results := make([]*artwork.Artwork, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.Fetch(context.Background(), info, artwork.TypeThumbnail)
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(remote.release)
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("Fetch %d failed: %v", i, errs[i])
		}
		if results[i] != results[0] {
			t.Error("Concurrent fetches should share one result")
		}
	}
	if c := countType(remote.Calls(), artwork.TypeThumbnail); c != 1 {
		t.Errorf("Expected one thumbnail lookup, got %d", c)
	}
}

func TestManager_CancelledWaiterDoesNotAbortOthers(t *testing.T) {
	disk := NewMockDisk()
	remote := newRemote(t)
	remote.release = make(chan struct{})
	m := newManager(t, disk, []artwork.ResolverOption{
		artwork.WithRemoteLookup(remote),
		artwork.WithOnlineChecker(staticOnline(true)),
	})
	info := artwork.ArtInfo{Artist: "Artist", Album: "Album"}

	ctx1, cancel1 := context.WithCancel(context.Background())
	err1 := make(chan error, 1)
	go func() {
		_, err := m.Fetch(ctx1, info, artwork.TypeThumbnail)
		err1 <- err
	}()

	err2 := make(chan error, 1)
	go func() {
		_, err := m.Fetch(context.Background(), info, artwork.TypeThumbnail)
		err2 <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel1()
	if err := <-err1; !errors.Is(err, context.Canceled) {
		t.Errorf("Expected cancelled waiter to see context.Canceled, got %v", err)
	}

	close(remote.release)
	if err := <-err2; err != nil {
		t.Errorf("Remaining waiter should succeed, got %v", err)
	}
}

func TestManager_DeferredAndFailure(t *testing.T) {
	m := newManager(t, NewMockDisk(), []artwork.ResolverOption{
		artwork.WithRemoteLookup(&MockRemote{err: errors.New("no match")}),
		artwork.WithOnlineChecker(staticOnline(true)),
	})

	_, err := m.Fetch(context.Background(), artwork.ArtInfo{Artist: "Only Artist"}, artwork.TypeFull)
	if !errors.Is(err, artwork.ErrDeferred) {
		t.Errorf("Expected ErrDeferred, got %v", err)
	}

	_, err = m.Fetch(context.Background(), artwork.ArtInfo{Artist: "A", Album: "B"}, artwork.TypeFull)
	if !errors.Is(err, artwork.ErrFetchFailure) {
		t.Errorf("Expected ErrFetchFailure, got %v", err)
	}
}

func TestManager_EvictAndPurge(t *testing.T) {
	disk := NewMockDisk()
	m := newManager(t, disk, []artwork.ResolverOption{
		artwork.WithRemoteLookup(newRemote(t)),
		artwork.WithOnlineChecker(staticOnline(true)),
	}, artwork.WithPreferences(artwork.Preferences{DownloadMissing: true, LowResolutionOnly: true}))
	info := artwork.ArtInfo{Artist: "Artist", Album: "Album"}

	if _, err := m.Fetch(context.Background(), info, artwork.TypeThumbnail); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	m.EvictMemory()
	if _, ok := m.Peek(info, artwork.TypeThumbnail); ok {
		t.Error("Memory tier should be empty after eviction")
	}
	if disk.Len() != 1 {
		t.Error("Evicting memory should not touch disk")
	}

	if err := m.PurgeDisk(); err != nil {
		t.Fatalf("PurgeDisk failed: %v", err)
	}
	if disk.Len() != 0 {
		t.Error("Disk tier should be empty after purge")
	}

	stats := m.Stats()
	if !stats.Online {
		t.Error("Stats should report online")
	}
	if stats.Memory.Entries != 0 {
		t.Errorf("Expected empty memory stats, got %d entries", stats.Memory.Entries)
	}
}

func TestManager_SetPreferences(t *testing.T) {
	m := newManager(t, NewMockDisk(), nil)

	if !m.Preferences().DownloadMissing {
		t.Error("DownloadMissing should default to true")
	}
	m.SetPreferences(artwork.Preferences{PreferDownload: true})
	if p := m.Preferences(); !p.PreferDownload || p.DownloadMissing {
		t.Errorf("Unexpected preferences %+v", p)
	}
}
