// Package nowplaying follows the MPD player and keeps the artwork of the
// current song bound to a single display target.
package nowplaying

import (
	"context"
	"sync"
	"time"

	"github.com/fhs/gompd/v2/mpd"
	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-artwork/internal/domain/artwork"
)

// TargetID names the now-playing display target.
const TargetID = "nowplaying"

// DefaultDebounce is the window used to collapse player events.
const DefaultDebounce = 150 * time.Millisecond

// Player is the part of the MPD client the service reads.
type Player interface {
	Status() (mpd.Attrs, error)
	CurrentSong() (mpd.Attrs, error)
	Watch(subsystems ...string) (<-chan string, error)
}

// Track identifies the song whose artwork is shown.
type Track struct {
	Artist string `json:"artist"`
	Album  string `json:"album"`
	Title  string `json:"title"`
	URI    string `json:"uri"`
	State  string `json:"state"`
}

// Info returns the artwork descriptor for the track.
func (t Track) Info() artwork.ArtInfo {
	return artwork.ArtInfo{Artist: t.Artist, Album: t.Album, URI: t.URI}
}

func (t Track) sameArtwork(o Track) bool {
	return t.Artist == o.Artist && t.Album == o.Album && t.URI == o.URI
}

// Update is delivered to listeners when the now-playing artwork changes.
// Artwork is nil when a placeholder should be shown.
type Update struct {
	Track   Track            `json:"track"`
	Artwork *artwork.Artwork `json:"-"`
	Palette artwork.Palette  `json:"palette"`
}

// Listener receives now-playing updates.
type Listener interface {
	OnNowPlayingArtwork(u Update)
	OnNowPlayingPalette(track Track, p artwork.Palette)
}

// Option is a functional option for configuring the service.
type Option func(*Service)

// WithDebounce sets the event debounce window.
func WithDebounce(d time.Duration) Option {
	return func(s *Service) {
		s.debounce = d
	}
}

// WithType sets the rendition bound for the current song.
func WithType(typ artwork.Type) Option {
	return func(s *Service) {
		s.typ = typ
	}
}

// Service binds the current song's artwork to the now-playing target.
type Service struct {
	player   Player
	binder   *artwork.Binder
	target   *artwork.Target
	typ      artwork.Type
	debounce time.Duration

	mu        sync.RWMutex
	track     Track
	current   Update
	listeners []Listener
}

// NewService creates a now-playing service.
func NewService(player Player, binder *artwork.Binder, opts ...Option) *Service {
	s := &Service{
		player:   player,
		binder:   binder,
		typ:      artwork.TypeFull,
		debounce: DefaultDebounce,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.target = artwork.NewTarget(TargetID, (*sink)(s), (*sink)(s))
	return s
}

// AddListener registers l for updates.
func (s *Service) AddListener(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Current returns the last delivered update.
func (s *Service) Current() Update {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Track returns the track the target is bound to.
func (s *Service) Track() Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.track
}

// Refresh reads the current song and rebinds the target if the artwork
// identity changed. A stopped player detaches the target.
func (s *Service) Refresh(ctx context.Context) error {
	song, err := s.player.CurrentSong()
	if err != nil {
		return err
	}
	status, err := s.player.Status()
	if err != nil {
		status = mpd.Attrs{"state": "unknown"}
	}
	track := trackFromAttrs(song, status)

	s.mu.Lock()
	prev := s.track
	s.track = track
	s.mu.Unlock()

	if track.State == "stop" || track.Info().Validate() != nil {
		if prev.State != "stop" && prev.Info().Validate() == nil {
			log.Debug().Msg("Player stopped, detaching now-playing artwork")
			s.binder.Detach(s.target)
			(*sink)(s).SetPlaceholder()
		}
		return nil
	}
	if _, bound := s.target.Key(); bound && track.sameArtwork(prev) {
		return nil
	}

	log.Debug().
		Str("artist", track.Artist).
		Str("album", track.Album).
		Str("uri", track.URI).
		Msg("Binding now-playing artwork")
	_, err = s.binder.Bind(ctx, s.target, track.Info(), s.typ)
	return err
}

// Start refreshes once and then follows player events until ctx is
// cancelled or the watcher closes.
func (s *Service) Start(ctx context.Context) error {
	events, err := s.player.Watch("player", "playlist")
	if err != nil {
		return err
	}

	if err := s.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("Initial now-playing refresh failed")
	}

	d := NewDebouncer(s.debounce, func() {
		if err := s.Refresh(ctx); err != nil {
			log.Warn().Err(err).Msg("Now-playing refresh failed")
		}
	}, "player", "playlist")

	go func() {
		defer d.Stop()
		log.Info().Msg("Now-playing watcher started")
		for {
			select {
			case <-ctx.Done():
				s.binder.Detach(s.target)
				log.Info().Msg("Now-playing watcher stopped")
				return
			case subsystem, ok := <-events:
				if !ok {
					log.Warn().Msg("MPD watcher closed, now-playing updates stopped")
					return
				}
				d.Trigger(subsystem)
			}
		}
	}()
	return nil
}

// sink adapts the service to artwork.Sink and artwork.PaletteListener.
type sink Service

func (k *sink) SetArtwork(art *artwork.Artwork) {
	s := (*Service)(k)
	s.mu.Lock()
	u := Update{Track: s.track, Artwork: art, Palette: art.Palette}
	s.current = u
	listeners := append([]Listener{}, s.listeners...)
	s.mu.Unlock()

	for _, l := range listeners {
		l.OnNowPlayingArtwork(u)
	}
}

func (k *sink) SetPlaceholder() {
	s := (*Service)(k)
	s.mu.Lock()
	u := Update{Track: s.track}
	s.current = u
	listeners := append([]Listener{}, s.listeners...)
	s.mu.Unlock()

	for _, l := range listeners {
		l.OnNowPlayingArtwork(u)
	}
}

func (k *sink) OnPalette(p artwork.Palette) {
	s := (*Service)(k)
	s.mu.RLock()
	track := s.track
	listeners := append([]Listener{}, s.listeners...)
	s.mu.RUnlock()

	for _, l := range listeners {
		l.OnNowPlayingPalette(track, p)
	}
}

func trackFromAttrs(song, status mpd.Attrs) Track {
	artist := song["AlbumArtist"]
	if artist == "" {
		artist = song["Artist"]
	}
	state := status["state"]
	if state == "" {
		state = "stop"
	}
	return Track{
		Artist: artist,
		Album:  song["Album"],
		Title:  song["Title"],
		URI:    song["file"],
		State:  state,
	}
}
