package nowplaying_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fhs/gompd/v2/mpd"

	"github.com/edumarques81/stellar-artwork/internal/domain/artwork"
	"github.com/edumarques81/stellar-artwork/internal/domain/nowplaying"
)

// MockPlayer implements nowplaying.Player for testing.
type MockPlayer struct {
	mu     sync.Mutex
	song   mpd.Attrs
	state  string
	err    error
	events chan string
}

func NewMockPlayer() *MockPlayer {
	return &MockPlayer{state: "play", song: mpd.Attrs{}, events: make(chan string, 10)}
}

func (p *MockPlayer) SetSong(artist, album, file string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.song = mpd.Attrs{"Artist": artist, "Album": album, "Title": "Track", "file": file}
}

func (p *MockPlayer) SetState(state string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = state
}

func (p *MockPlayer) Status() (mpd.Attrs, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return mpd.Attrs{"state": p.state}, nil
}

func (p *MockPlayer) CurrentSong() (mpd.Attrs, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return p.song, nil
}

func (p *MockPlayer) Watch(subsystems ...string) (<-chan string, error) {
	return p.events, nil
}

// MockFetcher serves artwork by album name and counts fetches.
type MockFetcher struct {
	mu      sync.Mutex
	art     map[string]*artwork.Artwork
	fetches int
}

func (f *MockFetcher) Peek(info artwork.ArtInfo, typ artwork.Type) (*artwork.Artwork, bool) {
	return nil, false
}

func (f *MockFetcher) Fetch(ctx context.Context, info artwork.ArtInfo, typ artwork.Type) (*artwork.Artwork, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	a, ok := f.art[info.Album]
	if !ok {
		return nil, artwork.ErrFetchFailure
	}
	return a, nil
}

func (f *MockFetcher) Fetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

// RecordingListener records now-playing updates.
type RecordingListener struct {
	mu       sync.Mutex
	updates  []nowplaying.Update
	palettes int
}

func (l *RecordingListener) OnNowPlayingArtwork(u nowplaying.Update) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updates = append(l.updates, u)
}

func (l *RecordingListener) OnNowPlayingPalette(track nowplaying.Track, p artwork.Palette) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.palettes++
}

func (l *RecordingListener) Updates() []nowplaying.Update {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]nowplaying.Update{}, l.updates...)
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

func testArt(album string) *artwork.Artwork {
	return &artwork.Artwork{
		Source:  album,
		Palette: artwork.Palette{Swatches: []artwork.Swatch{{Hex: "#112233"}}},
	}
}

func newService(player *MockPlayer, fetcher *MockFetcher) (*nowplaying.Service, *RecordingListener) {
	svc := nowplaying.NewService(player, artwork.NewBinder(fetcher), nowplaying.WithDebounce(10*time.Millisecond))
	l := &RecordingListener{}
	svc.AddListener(l)
	return svc, l
}

func TestService_RefreshBindsCurrentSong(t *testing.T) {
	player := NewMockPlayer()
	player.SetSong("Miles Davis", "Kind of Blue", "jazz/kob/01.flac")
	fetcher := &MockFetcher{art: map[string]*artwork.Artwork{"Kind of Blue": testArt("kob")}}
	svc, l := newService(player, fetcher)

	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	waitFor(t, "artwork update", func() bool { return len(l.Updates()) == 1 })
	u := l.Updates()[0]
	if u.Artwork == nil || u.Artwork.Source != "kob" {
		t.Errorf("Expected kob artwork, got %+v", u.Artwork)
	}
	if u.Track.Album != "Kind of Blue" {
		t.Errorf("Expected track album, got %q", u.Track.Album)
	}
	if svc.Current().Artwork == nil {
		t.Error("Current should hold the delivered artwork")
	}
	waitFor(t, "palette", func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.palettes == 1
	})
}

func TestService_SameAlbumDoesNotRebind(t *testing.T) {
	player := NewMockPlayer()
	player.SetSong("Miles Davis", "Kind of Blue", "jazz/kob/01.flac")
	fetcher := &MockFetcher{art: map[string]*artwork.Artwork{"Kind of Blue": testArt("kob")}}
	svc, l := newService(player, fetcher)

	svc.Refresh(context.Background())
	waitFor(t, "first update", func() bool { return len(l.Updates()) == 1 })

	svc.Refresh(context.Background())
	time.Sleep(30 * time.Millisecond)

	if fetcher.Fetches() != 1 {
		t.Errorf("Expected a single fetch, got %d", fetcher.Fetches())
	}
}

func TestService_StopShowsPlaceholder(t *testing.T) {
	player := NewMockPlayer()
	player.SetSong("Miles Davis", "Kind of Blue", "jazz/kob/01.flac")
	fetcher := &MockFetcher{art: map[string]*artwork.Artwork{"Kind of Blue": testArt("kob")}}
	svc, l := newService(player, fetcher)

	svc.Refresh(context.Background())
	waitFor(t, "first update", func() bool { return len(l.Updates()) == 1 })

	player.SetState("stop")
	svc.Refresh(context.Background())
	svc.Refresh(context.Background())

	updates := l.Updates()
	if len(updates) != 2 {
		t.Fatalf("Expected one placeholder update, got %d updates", len(updates))
	}
	if updates[1].Artwork != nil {
		t.Error("Stopped player should show a placeholder")
	}
}

func TestService_RefreshError(t *testing.T) {
	player := NewMockPlayer()
	player.err = errors.New("connection refused")
	svc, _ := newService(player, &MockFetcher{})

	if err := svc.Refresh(context.Background()); err == nil {
		t.Error("Expected CurrentSong error")
	}
}

func TestService_StartFollowsPlayerEvents(t *testing.T) {
	player := NewMockPlayer()
	player.SetSong("Miles Davis", "Kind of Blue", "jazz/kob/01.flac")
	fetcher := &MockFetcher{art: map[string]*artwork.Artwork{
		"Kind of Blue": testArt("kob"),
		"Blue Train":   testArt("bt"),
	}}
	svc, l := newService(player, fetcher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, "initial artwork", func() bool { return len(l.Updates()) == 1 })

	player.SetSong("John Coltrane", "Blue Train", "jazz/bt/01.flac")
	player.events <- "player"
	player.events <- "mixer"

	waitFor(t, "second artwork", func() bool { return len(l.Updates()) == 2 })
	if got := l.Updates()[1].Artwork.Source; got != "bt" {
		t.Errorf("Expected bt artwork, got %q", got)
	}
	if svc.Track().Artist != "John Coltrane" {
		t.Errorf("Expected track to follow the player, got %+v", svc.Track())
	}
}
