package socketio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/edumarques81/stellar-artwork/internal/domain/artwork"
	"github.com/edumarques81/stellar-artwork/internal/domain/nowplaying"
)

type emitted struct {
	ev   string
	args []any
}

// recordingEmitter captures emitted events.
type recordingEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (r *recordingEmitter) Emit(ev string, args ...any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, emitted{ev: ev, args: args})
	return nil
}

func (r *recordingEmitter) named(ev string) []emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []emitted
	for _, e := range r.events {
		if e.ev == ev {
			out = append(out, e)
		}
	}
	return out
}

// gatedFetcher blocks fetches until released, counting cancellations.
type gatedFetcher struct {
	mu        sync.Mutex
	art       map[string]*artwork.Artwork
	gate      chan struct{}
	cancelled int
}

func (f *gatedFetcher) Peek(info artwork.ArtInfo, typ artwork.Type) (*artwork.Artwork, bool) {
	return nil, false
}

func (f *gatedFetcher) Fetch(ctx context.Context, info artwork.ArtInfo, typ artwork.Type) (*artwork.Artwork, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			f.mu.Lock()
			f.cancelled++
			f.mu.Unlock()
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.art[info.Album]
	if !ok {
		return nil, artwork.ErrFetchFailure
	}
	return a, nil
}

func (f *gatedFetcher) Cancelled() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

type fakeCache struct {
	evictions int
	purges    int
	purgeErr  error
}

func (c *fakeCache) EvictMemory()     { c.evictions++ }
func (c *fakeCache) PurgeDisk() error { c.purges++; return c.purgeErr }
func (c *fakeCache) Stats() artwork.Stats {
	return artwork.Stats{Memory: artwork.MemoryStats{Entries: 1}}
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

func testArtwork(t *testing.T, album string, typ artwork.Type) *artwork.Artwork {
	t.Helper()
	key, err := artwork.KeyFor(artwork.ArtInfo{Artist: "Artist", Album: album}, typ)
	if err != nil {
		t.Fatal(err)
	}
	return &artwork.Artwork{
		Key:     key,
		Width:   300,
		Height:  300,
		Source:  "test",
		Palette: artwork.Palette{Swatches: []artwork.Swatch{{Hex: "#AABBCC"}}},
	}
}

func newTestServer(t *testing.T, f artwork.Fetcher, cache CacheControl) (*Server, *recordingEmitter) {
	t.Helper()
	s, err := NewServer(artwork.NewBinder(f), cache)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	all := &recordingEmitter{}
	s.broadcast = func(ev string, args ...any) { all.Emit(ev, args...) }
	return s, all
}

func TestBind_DeliversArtworkAndPalette(t *testing.T) {
	f := &gatedFetcher{art: map[string]*artwork.Artwork{"One": testArtwork(t, "One", artwork.TypeThumbnail)}}
	s, _ := newTestServer(t, f, &fakeCache{})
	out := &recordingEmitter{}
	c := s.addClient("c1", out)

	err := s.bind(context.Background(), c, BindRequest{Slot: "grid-1", Artist: "Artist", Album: "One"})
	if err != nil {
		t.Fatalf("bind failed: %v", err)
	}

	waitFor(t, "pushArtwork", func() bool { return len(out.named("pushArtwork")) == 1 })
	push := out.named("pushArtwork")[0].args[0].(ArtworkPush)
	if push.Slot != "grid-1" || push.Placeholder {
		t.Errorf("Unexpected push %+v", push)
	}
	if push.URL != "/api/v1/artwork/"+push.ID+"/thumbnail" {
		t.Errorf("Unexpected URL %q", push.URL)
	}

	palettes := out.named("pushArtworkPalette")
	if len(palettes) != 1 || palettes[0].args[0].(PalettePush).Colors[0] != "#AABBCC" {
		t.Errorf("Expected palette push, got %+v", palettes)
	}
}

func TestBind_FailureShowsPlaceholder(t *testing.T) {
	s, _ := newTestServer(t, &gatedFetcher{}, &fakeCache{})
	out := &recordingEmitter{}
	c := s.addClient("c1", out)

	s.bind(context.Background(), c, BindRequest{Slot: "a", Album: "Missing"})

	waitFor(t, "placeholder", func() bool { return len(out.named("pushArtwork")) == 1 })
	if !out.named("pushArtwork")[0].args[0].(ArtworkPush).Placeholder {
		t.Error("Expected placeholder push")
	}
}

func TestBind_InvalidRequest(t *testing.T) {
	s, _ := newTestServer(t, &gatedFetcher{}, &fakeCache{})
	c := s.addClient("c1", &recordingEmitter{})

	if err := s.bind(context.Background(), c, BindRequest{Slot: "a"}); !errors.Is(err, artwork.ErrInvalidDescriptor) {
		t.Errorf("Expected invalid descriptor, got %v", err)
	}
	if err := s.bind(context.Background(), c, BindRequest{Slot: "a", Album: "X", Type: "huge"}); err == nil {
		t.Error("Expected type parse error")
	}
}

func TestBind_RebindCancelsPrevious(t *testing.T) {
	f := &gatedFetcher{
		art: map[string]*artwork.Artwork{
			"One": testArtwork(t, "One", artwork.TypeThumbnail),
			"Two": testArtwork(t, "Two", artwork.TypeThumbnail),
		},
		gate: make(chan struct{}),
	}
	s, _ := newTestServer(t, f, &fakeCache{})
	out := &recordingEmitter{}
	c := s.addClient("c1", out)

	s.bind(context.Background(), c, BindRequest{Slot: "a", Artist: "Artist", Album: "One"})
	s.bind(context.Background(), c, BindRequest{Slot: "a", Artist: "Artist", Album: "Two"})

	waitFor(t, "first request cancelled", func() bool { return f.Cancelled() == 1 })
	close(f.gate)

	waitFor(t, "second delivery", func() bool { return len(out.named("pushArtwork")) == 1 })
	time.Sleep(20 * time.Millisecond)

	pushes := out.named("pushArtwork")
	if len(pushes) != 1 {
		t.Fatalf("Expected a single delivery, got %d", len(pushes))
	}
	want := testArtwork(t, "Two", artwork.TypeThumbnail).Key.ID
	if got := pushes[0].args[0].(ArtworkPush).ID; got != want {
		t.Errorf("Expected artwork for Two, got id %s", got)
	}
}

func TestBind_RejectedRebindDetachesSlot(t *testing.T) {
	f := &gatedFetcher{
		art:  map[string]*artwork.Artwork{"One": testArtwork(t, "One", artwork.TypeThumbnail)},
		gate: make(chan struct{}),
	}
	s, _ := newTestServer(t, f, &fakeCache{})
	out := &recordingEmitter{}
	c := s.addClient("c1", out)

	s.bind(context.Background(), c, BindRequest{Slot: "a", Artist: "Artist", Album: "One"})
	if err := s.bind(context.Background(), c, BindRequest{Slot: "a", Album: "Two", Type: "huge"}); err == nil {
		t.Fatal("Expected type parse error")
	}
	waitFor(t, "previous request cancelled", func() bool { return f.Cancelled() == 1 })

	close(f.gate)
	time.Sleep(20 * time.Millisecond)
	if n := len(out.named("pushArtwork")); n != 0 {
		t.Errorf("Slot should not receive the previous artwork, got %d pushes", n)
	}
}

func TestUnbindAndDisconnectDetach(t *testing.T) {
	f := &gatedFetcher{
		art:  map[string]*artwork.Artwork{"One": testArtwork(t, "One", artwork.TypeThumbnail)},
		gate: make(chan struct{}),
	}
	s, _ := newTestServer(t, f, &fakeCache{})
	out := &recordingEmitter{}
	c := s.addClient("c1", out)

	s.bind(context.Background(), c, BindRequest{Slot: "a", Artist: "Artist", Album: "One"})
	s.bind(context.Background(), c, BindRequest{Slot: "b", Artist: "Artist", Album: "One"})

	s.unbind(c, "a")
	waitFor(t, "unbind cancel", func() bool { return f.Cancelled() == 1 })

	s.removeClient("c1")
	waitFor(t, "disconnect cancel", func() bool { return f.Cancelled() == 2 })

	close(f.gate)
	time.Sleep(20 * time.Millisecond)
	if n := len(out.named("pushArtwork")); n != 0 {
		t.Errorf("Detached targets should receive nothing, got %d pushes", n)
	}
	if s.ClientCount() != 0 {
		t.Errorf("Expected no clients, got %d", s.ClientCount())
	}
}

func TestNowPlayingBroadcast(t *testing.T) {
	s, all := newTestServer(t, &gatedFetcher{}, &fakeCache{})
	art := testArtwork(t, "One", artwork.TypeFull)
	track := nowplaying.Track{Artist: "Artist", Album: "One"}

	s.OnNowPlayingArtwork(nowplaying.Update{Track: track, Artwork: art})
	s.OnNowPlayingPalette(track, art.Palette)
	s.OnNowPlayingArtwork(nowplaying.Update{Track: track})

	pushes := all.named("pushNowPlayingArtwork")
	if len(pushes) != 2 {
		t.Fatalf("Expected two now-playing pushes, got %d", len(pushes))
	}
	first := pushes[0].args[0].(NowPlayingPush)
	if first.Placeholder || first.URL != "/api/v1/artwork/"+art.Key.ID || first.Track.Album != "One" {
		t.Errorf("Unexpected now-playing push %+v", first)
	}
	if !pushes[1].args[0].(NowPlayingPush).Placeholder {
		t.Error("Expected placeholder push for nil artwork")
	}
	if len(all.named("pushNowPlayingPalette")) != 1 {
		t.Error("Expected a now-playing palette push")
	}
}

func TestCacheHandlers(t *testing.T) {
	cache := &fakeCache{}
	s, all := newTestServer(t, &gatedFetcher{}, cache)
	h := NewCacheHandlers(cache, s)
	out := &recordingEmitter{}

	h.handleClearCache(out, parseClearRequest(nil))
	if cache.evictions != 1 || cache.purges != 0 {
		t.Errorf("Default clear should evict memory only, got %d/%d", cache.evictions, cache.purges)
	}

	h.handleClearCache(out, parseClearRequest([]any{map[string]any{"disk": true}}))
	if cache.purges != 1 {
		t.Errorf("Expected disk purge, got %d", cache.purges)
	}

	if n := len(all.named("artwork:cache:cleared")); n != 2 {
		t.Errorf("Expected two cleared broadcasts, got %d", n)
	}
	if n := len(out.named("pushArtworkCacheStatus")); n != 2 {
		t.Errorf("Expected status after each clear, got %d", n)
	}
}

func TestCacheHandlers_PurgeError(t *testing.T) {
	cache := &fakeCache{purgeErr: errors.New("read-only fs")}
	s, all := newTestServer(t, &gatedFetcher{}, cache)
	h := NewCacheHandlers(cache, s)

	h.handleClearCache(&recordingEmitter{}, ClearRequest{Disk: true})

	ev := all.named("artwork:cache:cleared")[0].args[0].(CacheClearedEvent)
	if ev.Disk || ev.Error == "" {
		t.Errorf("Expected failed disk clear to be reported, got %+v", ev)
	}
}

func TestParseBindRequest(t *testing.T) {
	req, ok := parseBindRequest([]any{map[string]any{
		"slot": " a ", "artist": "X", "album": "Y", "uri": "f.flac", "type": "full",
	}})
	if !ok || req.Slot != "a" || req.Type != "full" || req.URI != "f.flac" {
		t.Errorf("Unexpected request %+v", req)
	}
	if _, ok := parseBindRequest([]any{"nope"}); ok {
		t.Error("Non-object payload should be rejected")
	}
	if _, ok := parseBindRequest([]any{map[string]any{"album": "Y"}}); ok {
		t.Error("Payload without slot should be rejected")
	}
}
