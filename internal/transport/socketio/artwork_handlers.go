package socketio

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/zishang520/socket.io/servers/socket/v3"

	"github.com/edumarques81/stellar-artwork/internal/domain/artwork"
	"github.com/edumarques81/stellar-artwork/internal/domain/nowplaying"
)

// BindRequest is the artwork:bind payload.
type BindRequest struct {
	Slot   string `json:"slot"`
	Artist string `json:"artist"`
	Album  string `json:"album"`
	URI    string `json:"uri"`
	Type   string `json:"type"`
}

// ArtworkPush tells a client what to show in a slot. Clients load the
// image from URL; Placeholder means no artwork is available.
type ArtworkPush struct {
	Slot        string `json:"slot"`
	ID          string `json:"id,omitempty"`
	Type        string `json:"type,omitempty"`
	URL         string `json:"url,omitempty"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	Source      string `json:"source,omitempty"`
	Placeholder bool   `json:"placeholder"`
}

// PalettePush carries the dominant colors of the artwork in a slot.
type PalettePush struct {
	Slot   string   `json:"slot"`
	Colors []string `json:"colors"`
}

// NowPlayingPush is the now-playing artwork with its track.
type NowPlayingPush struct {
	ArtworkPush
	Track nowplaying.Track `json:"track"`
}

// registerArtworkHandlers registers the target binding events.
func (s *Server) registerArtworkHandlers(sock *socket.Socket, c *client) {
	sock.On("artwork:bind", func(args ...any) {
		req, ok := parseBindRequest(args)
		if !ok {
			log.Debug().Str("id", c.id).Interface("data", args).Msg("artwork:bind without slot")
			return
		}
		if err := s.bind(context.Background(), c, req); err != nil {
			log.Debug().Err(err).Str("id", c.id).Str("slot", req.Slot).Msg("artwork:bind rejected")
			c.out.Emit("pushArtwork", ArtworkPush{Slot: req.Slot, Placeholder: true})
		}
	})

	sock.On("artwork:unbind", func(args ...any) {
		slot := ""
		if len(args) > 0 {
			if m, ok := args[0].(map[string]any); ok {
				slot, _ = m["slot"].(string)
			}
		}
		if slot == "" {
			return
		}
		s.unbind(c, slot)
	})

	sock.On("nowplaying:get", func(args ...any) {
		s.pushNowPlaying(c.out)
	})
}

// bind points the client's slot at new artwork, creating the target on
// first use. Binding a slot again cancels its previous request.
func (s *Server) bind(ctx context.Context, c *client, req BindRequest) error {
	typ, err := artwork.ParseType(req.Type)
	if err != nil {
		c.mu.Lock()
		t, ok := c.targets[req.Slot]
		c.mu.Unlock()
		if ok {
			s.binder.Detach(t)
		}
		return err
	}

	c.mu.Lock()
	t, ok := c.targets[req.Slot]
	if !ok {
		sink := &slotSink{out: c.out, slot: req.Slot}
		t = artwork.NewTarget(c.id+"/"+req.Slot, sink, sink)
		c.targets[req.Slot] = t
	}
	c.mu.Unlock()

	info := artwork.ArtInfo{Artist: req.Artist, Album: req.Album, URI: req.URI}
	_, err = s.binder.Bind(ctx, t, info, typ)
	return err
}

func (s *Server) unbind(c *client, slot string) {
	c.mu.Lock()
	t, ok := c.targets[slot]
	delete(c.targets, slot)
	c.mu.Unlock()

	if ok {
		s.binder.Detach(t)
	}
}

func (s *Server) detachAll(c *client) {
	c.mu.Lock()
	targets := c.targets
	c.targets = make(map[string]*artwork.Target)
	c.mu.Unlock()

	for _, t := range targets {
		s.binder.Detach(t)
	}
}

// OnNowPlayingArtwork implements nowplaying.Listener.
func (s *Server) OnNowPlayingArtwork(u nowplaying.Update) {
	s.broadcast("pushNowPlayingArtwork", nowPlayingPush(u))
}

// OnNowPlayingPalette implements nowplaying.Listener.
func (s *Server) OnNowPlayingPalette(track nowplaying.Track, p artwork.Palette) {
	s.broadcast("pushNowPlayingPalette", palettePush(nowplaying.TargetID, p))
}

func (s *Server) pushNowPlaying(out emitter) {
	if s.nowPlaying == nil {
		return
	}
	u := s.nowPlaying.Current()
	out.Emit("pushNowPlayingArtwork", nowPlayingPush(u))
	if !u.Palette.IsEmpty() {
		out.Emit("pushNowPlayingPalette", palettePush(nowplaying.TargetID, u.Palette))
	}
}

// slotSink delivers a target's artwork to one client slot.
type slotSink struct {
	out  emitter
	slot string
}

func (k *slotSink) SetArtwork(art *artwork.Artwork) {
	k.out.Emit("pushArtwork", artworkPush(k.slot, art))
}

func (k *slotSink) SetPlaceholder() {
	k.out.Emit("pushArtwork", ArtworkPush{Slot: k.slot, Placeholder: true})
}

func (k *slotSink) OnPalette(p artwork.Palette) {
	k.out.Emit("pushArtworkPalette", palettePush(k.slot, p))
}

func artworkPush(slot string, art *artwork.Artwork) ArtworkPush {
	if art == nil {
		return ArtworkPush{Slot: slot, Placeholder: true}
	}
	return ArtworkPush{
		Slot:   slot,
		ID:     art.Key.ID,
		Type:   art.Key.Type.String(),
		URL:    ArtworkURL(art.Key),
		Width:  art.Width,
		Height: art.Height,
		Source: art.Source,
	}
}

func nowPlayingPush(u nowplaying.Update) NowPlayingPush {
	return NowPlayingPush{
		ArtworkPush: artworkPush(nowplaying.TargetID, u.Artwork),
		Track:       u.Track,
	}
}

func palettePush(slot string, p artwork.Palette) PalettePush {
	colors := make([]string, 0, len(p.Swatches))
	for _, sw := range p.Swatches {
		colors = append(colors, sw.Hex)
	}
	return PalettePush{Slot: slot, Colors: colors}
}

// ArtworkURL returns the HTTP path serving a cached rendition.
func ArtworkURL(key artwork.Key) string {
	if key.Type == artwork.TypeThumbnail {
		return fmt.Sprintf("/api/v1/artwork/%s/thumbnail", key.ID)
	}
	return "/api/v1/artwork/" + key.ID
}

func parseBindRequest(args []any) (BindRequest, bool) {
	if len(args) == 0 {
		return BindRequest{}, false
	}
	m, ok := args[0].(map[string]any)
	if !ok {
		return BindRequest{}, false
	}
	str := func(k string) string {
		v, _ := m[k].(string)
		return strings.TrimSpace(v)
	}
	req := BindRequest{
		Slot:   str("slot"),
		Artist: str("artist"),
		Album:  str("album"),
		URI:    str("uri"),
		Type:   str("type"),
	}
	return req, req.Slot != ""
}
