// Package httpapi exposes cached artwork and cache control over HTTP.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/h2non/filetype"
	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-artwork/internal/domain/artwork"
)

// Artworks is the part of artwork.Manager the API serves.
type Artworks interface {
	Cached(ctx context.Context, key artwork.Key) (*artwork.DiskEntry, []byte, error)
	Fetch(ctx context.Context, info artwork.ArtInfo, typ artwork.Type) (*artwork.Artwork, error)
	EvictMemory()
	PurgeDisk() error
	Stats() artwork.Stats
}

// Handler serves the artwork REST API.
type Handler struct {
	artworks Artworks
	timeout  time.Duration
}

// Option is a functional option for configuring the handler.
type Option func(*Handler)

// WithResolveTimeout bounds how long a resolve request may wait on sources.
func WithResolveTimeout(d time.Duration) Option {
	return func(h *Handler) {
		h.timeout = d
	}
}

// NewHandler creates a handler over a.
func NewHandler(a Artworks, opts ...Option) *Handler {
	h := &Handler{artworks: a, timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/artwork/{id}", h.handleCached(artwork.TypeFull))
	mux.HandleFunc("GET /api/v1/artwork/{id}/thumbnail", h.handleCached(artwork.TypeThumbnail))
	mux.HandleFunc("GET /api/v1/artwork", h.handleResolve)
	mux.HandleFunc("POST /api/v1/cache/memory/clear", h.handleClearMemory)
	mux.HandleFunc("POST /api/v1/cache/disk/clear", h.handleClearDisk)
	mux.HandleFunc("GET /api/v1/cache/stats", h.handleStats)
}

// handleCached streams a rendition from the cache tiers by stable id.
// It never fetches from a source.
func (h *Handler) handleCached(typ artwork.Type) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if !artwork.IsValidID(id) {
			writeError(w, http.StatusBadRequest, "invalid artwork id")
			return
		}
		key := artwork.Key{ID: id, Type: typ}

		entry, data, err := h.artworks.Cached(r.Context(), key)
		if err != nil {
			if errors.Is(err, artwork.ErrCacheMiss) {
				writeError(w, http.StatusNotFound, "artwork not cached")
				return
			}
			log.Warn().Err(err).Str("key", key.String()).Msg("Cached artwork read failed")
			writeError(w, http.StatusInternalServerError, "cache read failed")
			return
		}
		writeImage(w, r, key, entry.MimeType, data)
	}
}

// handleResolve runs the full pipeline for a descriptor.
func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	typ, err := artwork.ParseType(q.Get("type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	info := artwork.ArtInfo{
		Artist: q.Get("artist"),
		Album:  q.Get("album"),
		URI:    q.Get("uri"),
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	art, err := h.artworks.Fetch(ctx, info, typ)
	switch {
	case err == nil:
		writeImage(w, r, art.Key, art.MimeType, art.Data)
	case errors.Is(err, artwork.ErrInvalidDescriptor):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, artwork.ErrDeferred):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, artwork.ErrFetchFailure):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "artwork fetch timed out")
	default:
		log.Warn().Err(err).Msg("Artwork resolve failed")
		writeError(w, http.StatusInternalServerError, "artwork fetch failed")
	}
}

func (h *Handler) handleClearMemory(w http.ResponseWriter, r *http.Request) {
	h.artworks.EvictMemory()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleClearDisk(w http.ResponseWriter, r *http.Request) {
	if err := h.artworks.PurgeDisk(); err != nil {
		log.Error().Err(err).Msg("Disk cache purge failed")
		writeError(w, http.StatusInternalServerError, "disk cache purge failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.artworks.Stats())
}

func writeImage(w http.ResponseWriter, r *http.Request, key artwork.Key, mimeType string, data []byte) {
	if mimeType == "" {
		mimeType = "image/jpeg"
		if kind, err := filetype.Match(data); err == nil && kind != filetype.Unknown {
			mimeType = kind.MIME.Value
		}
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Cache-Control", "public, max-age=86400") // Cache for 1 day
	w.Header().Set("ETag", `"`+key.String()+`"`)
	http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(data))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
