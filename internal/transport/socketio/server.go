// Package socketio provides the Socket.io server for client communication.
package socketio

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zishang520/socket.io/servers/socket/v3"
	"github.com/zishang520/socket.io/v3/pkg/types"

	"github.com/edumarques81/stellar-artwork/internal/domain/artwork"
	"github.com/edumarques81/stellar-artwork/internal/domain/nowplaying"
)

// DefaultMaxExternalClients bounds concurrent non-localhost connections.
const DefaultMaxExternalClients = 4

// CacheControl is the part of artwork.Manager exposed to clients.
type CacheControl interface {
	EvictMemory()
	PurgeDisk() error
	Stats() artwork.Stats
}

// emitter is satisfied by *socket.Socket.
type emitter interface {
	Emit(ev string, args ...any) error
}

// client tracks the artwork targets bound by one connection.
type client struct {
	id      string
	out     emitter
	mu      sync.Mutex
	targets map[string]*artwork.Target
}

// Server handles Socket.io connections and events.
type Server struct {
	io         *socket.Server
	binder     *artwork.Binder
	cache      CacheControl
	nowPlaying *nowplaying.Service
	limiter    *ConnectionLimiter

	// broadcast emits to every connected client.
	broadcast func(ev string, args ...any)

	mu      sync.RWMutex
	clients map[string]*client
}

// Option is a functional option for configuring the server.
type Option func(*Server)

// WithNowPlaying pushes now-playing artwork from svc to every client.
func WithNowPlaying(svc *nowplaying.Service) Option {
	return func(s *Server) {
		s.nowPlaying = svc
	}
}

// WithMaxExternalClients sets the external connection limit.
func WithMaxExternalClients(n int) Option {
	return func(s *Server) {
		s.limiter = NewConnectionLimiter(n)
	}
}

// NewServer creates a new Socket.io server.
func NewServer(binder *artwork.Binder, cache CacheControl, opts ...Option) (*Server, error) {
	// Configure Socket.io server options
	sopts := socket.DefaultServerOptions()
	sopts.SetPingTimeout(20 * time.Second)
	sopts.SetPingInterval(25 * time.Second)
	sopts.SetCors(&types.Cors{
		Origin:      "*",
		Credentials: true,
	})

	s := &Server{
		io:      socket.NewServer(nil, sopts),
		binder:  binder,
		cache:   cache,
		limiter: NewConnectionLimiter(DefaultMaxExternalClients),
		clients: make(map[string]*client),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.broadcast = func(ev string, args ...any) {
		s.io.Emit(ev, args...)
	}

	if s.nowPlaying != nil {
		s.nowPlaying.AddListener(s)
	}
	s.setupHandlers()

	return s, nil
}

// setupHandlers registers all Socket.io event handlers.
func (s *Server) setupHandlers() {
	s.io.On("connection", func(clients ...any) {
		sock := clients[0].(*socket.Socket)
		clientID := string(sock.Id())
		remoteIP := remoteHost(sock.Handshake().Address)

		log.Info().Str("id", clientID).Str("remote", remoteIP).Msg("Client connected")

		if _, evicted := s.limiter.TryAdd(clientID, remoteIP); evicted != "" {
			s.evict(evicted)
		}

		c := s.addClient(clientID, sock)

		// Send initial now-playing artwork after small delay
		go func() {
			time.Sleep(100 * time.Millisecond)
			s.pushNowPlaying(c.out)
		}()

		sock.On("disconnect", func(args ...any) {
			reason := ""
			if len(args) > 0 {
				if r, ok := args[0].(string); ok {
					reason = r
				}
			}
			log.Info().Str("id", clientID).Str("reason", reason).Msg("Client disconnected")

			s.limiter.Remove(clientID)
			s.removeClient(clientID)
		})

		s.registerArtworkHandlers(sock, c)
		NewCacheHandlers(s.cache, s).RegisterHandlers(sock)
	})
}

func (s *Server) addClient(id string, out emitter) *client {
	c := &client{id: id, out: out, targets: make(map[string]*artwork.Target)}
	s.mu.Lock()
	s.clients[id] = c
	s.mu.Unlock()
	return c
}

// removeClient detaches every target the client bound.
func (s *Server) removeClient(id string) {
	s.mu.Lock()
	c, ok := s.clients[id]
	delete(s.clients, id)
	s.mu.Unlock()

	if ok {
		s.detachAll(c)
	}
}

func (s *Server) evict(id string) {
	s.mu.RLock()
	c, ok := s.clients[id]
	s.mu.RUnlock()
	if !ok {
		return
	}
	log.Info().Str("id", id).Msg("Evicting oldest external client")
	if sock, ok := c.out.(*socket.Socket); ok {
		sock.Disconnect(true)
	}
	s.removeClient(id)
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// ServeHTTP implements http.Handler for the Socket.io server.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.io.ServeHandler(nil).ServeHTTP(w, r)
}

// Close detaches every client target and closes the Socket.io server.
func (s *Server) Close() error {
	s.mu.Lock()
	clients := s.clients
	s.clients = make(map[string]*client)
	s.mu.Unlock()

	for _, c := range clients {
		s.detachAll(c)
	}
	s.io.Close(nil)
	return nil
}

func remoteHost(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
