package mpd_test

import (
	"errors"
	"testing"
	"time"

	gompd "github.com/fhs/gompd/v2/mpd"

	"github.com/edumarques81/stellar-artwork/internal/infra/mpd"
)

// Nothing listens on this port during tests.
const unusedPort = 16600

func TestClientCommandsFailWithoutServer(t *testing.T) {
	client := mpd.NewClient("localhost", unusedPort, "")
	defer client.Close()

	calls := map[string]func() error{
		"Connect":     client.Connect,
		"Status":      func() error { _, err := client.Status(); return err },
		"CurrentSong": func() error { _, err := client.CurrentSong(); return err },
		"AlbumArt":    func() error { _, err := client.AlbumArt("Artist/Album/01.flac"); return err },
		"ReadPicture": func() error { _, err := client.ReadPicture("Artist/Album/01.flac"); return err },
		"Albums":      func() error { _, err := client.Albums(""); return err },
	}
	for name, call := range calls {
		if err := call(); err == nil {
			t.Errorf("%s should fail when MPD is unreachable", name)
		}
	}
}

func TestClientWatchRetriesUntilClose(t *testing.T) {
	client := mpd.NewClient("localhost", unusedPort, "")

	events, err := client.Watch("player")
	if err != nil {
		t.Fatalf("Watch should not fail while MPD is down, got %v", err)
	}
	client.Close()

	select {
	case _, ok := <-events:
		if ok {
			t.Error("expected no events from an unreachable server")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watch channel not closed after Close")
	}
	if _, err := client.Watch("player"); !errors.Is(err, mpd.ErrClosed) {
		t.Errorf("Watch after Close = %v, want ErrClosed", err)
	}
}

func TestClientPingNeverDials(t *testing.T) {
	client := mpd.NewClient("localhost", unusedPort, "")

	if err := client.Ping(); err == nil {
		t.Error("Ping should fail when not connected")
	}
}

func TestClientClose(t *testing.T) {
	client := mpd.NewClient("localhost", unusedPort, "")

	if err := client.Close(); err != nil {
		t.Errorf("Close on an unconnected client should succeed, got %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
	if _, err := client.Status(); !errors.Is(err, mpd.ErrClosed) {
		t.Errorf("Status after Close = %v, want ErrClosed", err)
	}
	if err := client.Connect(); !errors.Is(err, mpd.ErrClosed) {
		t.Errorf("Connect after Close = %v, want ErrClosed", err)
	}
}

func TestGroupAlbums(t *testing.T) {
	songs := []gompd.Attrs{
		{"file": "A/Blue/01.flac", "Album": "Blue", "AlbumArtist": "Joni", "Artist": "Joni Mitchell"},
		{"directory": "A/Blue"},
		{"file": "B/Kind/01.flac", "Album": "Kind of Blue", "Artist": "Miles Davis"},
		{"file": "A/Blue/02.flac", "Album": "Blue", "AlbumArtist": "Joni", "Artist": "Guest"},
		{"file": "loose.mp3", "Artist": "Nobody"},
		{"file": "C/Blue/01.flac", "Album": "Blue", "Artist": "Other"},
	}

	got := mpd.GroupAlbums(songs)
	want := []mpd.Album{
		{Title: "Blue", Artist: "Joni", Tracks: 2, FirstTrack: "A/Blue/01.flac"},
		{Title: "Kind of Blue", Artist: "Miles Davis", Tracks: 1, FirstTrack: "B/Kind/01.flac"},
		{Title: "Blue", Artist: "Other", Tracks: 1, FirstTrack: "C/Blue/01.flac"},
	}
	if len(got) != len(want) {
		t.Fatalf("GroupAlbums returned %d albums, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("album %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestGroupAlbumsEmpty(t *testing.T) {
	if got := mpd.GroupAlbums(nil); len(got) != 0 {
		t.Errorf("expected no albums, got %+v", got)
	}
}
