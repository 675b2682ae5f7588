package socketio

import (
	"github.com/rs/zerolog/log"
	"github.com/zishang520/socket.io/servers/socket/v3"

	"github.com/edumarques81/stellar-artwork/internal/domain/artwork"
)

// CacheHandlers contains Socket.IO handlers for cache operations.
type CacheHandlers struct {
	cache  CacheControl
	server *Server
}

// NewCacheHandlers creates a new CacheHandlers instance.
func NewCacheHandlers(cache CacheControl, server *Server) *CacheHandlers {
	return &CacheHandlers{
		cache:  cache,
		server: server,
	}
}

// RegisterHandlers registers all cache-related Socket.IO handlers.
func (h *CacheHandlers) RegisterHandlers(client *socket.Socket) {
	client.On("artwork:cache:status", func(args ...any) {
		h.handleGetCacheStatus(client)
	})

	client.On("artwork:cache:clear", func(args ...any) {
		h.handleClearCache(client, parseClearRequest(args))
	})
}

// ClearRequest selects the tiers artwork:cache:clear empties. An empty
// request clears only the memory tier.
type ClearRequest struct {
	Memory bool `json:"memory"`
	Disk   bool `json:"disk"`
}

// CacheClearedEvent is broadcast after a clear.
type CacheClearedEvent struct {
	Memory bool   `json:"memory"`
	Disk   bool   `json:"disk"`
	Error  string `json:"error,omitempty"`
}

// handleGetCacheStatus handles the artwork:cache:status event.
func (h *CacheHandlers) handleGetCacheStatus(client emitter) {
	log.Debug().Msg("Received artwork:cache:status")

	stats := h.cache.Stats()
	logStats(stats)
	client.Emit("pushArtworkCacheStatus", stats)
}

// handleClearCache handles the artwork:cache:clear event.
func (h *CacheHandlers) handleClearCache(client emitter, req ClearRequest) {
	log.Info().Bool("memory", req.Memory).Bool("disk", req.Disk).Msg("Received artwork:cache:clear")

	event := CacheClearedEvent{}
	if req.Memory {
		h.cache.EvictMemory()
		event.Memory = true
	}
	if req.Disk {
		if err := h.cache.PurgeDisk(); err != nil {
			log.Error().Err(err).Msg("Artwork disk cache purge failed")
			event.Error = err.Error()
		} else {
			event.Disk = true
		}
	}

	// Broadcast to all clients so every view reloads
	if h.server != nil && h.server.broadcast != nil {
		h.server.broadcast("artwork:cache:cleared", event)
	}
	h.handleGetCacheStatus(client)
}

func parseClearRequest(args []any) ClearRequest {
	req := ClearRequest{}
	if len(args) > 0 {
		if m, ok := args[0].(map[string]any); ok {
			req.Memory, _ = m["memory"].(bool)
			req.Disk, _ = m["disk"].(bool)
		}
	}
	if !req.Memory && !req.Disk {
		req.Memory = true
	}
	return req
}

func logStats(stats artwork.Stats) {
	ev := log.Debug().
		Int("memEntries", stats.Memory.Entries).
		Int64("memBytes", stats.Memory.Bytes).
		Bool("online", stats.Online)
	if stats.Disk != nil {
		ev = ev.Int("diskEntries", stats.Disk.Entries).Int64("diskBytes", stats.Disk.Bytes)
	}
	ev.Msg("Sending pushArtworkCacheStatus")
}
