package socketio

import (
	"net"
	"sync"
)

// ConnectionLimiter caps concurrent non-loopback connections. Loopback
// clients (the local display) are never limited. When a new external
// connection exceeds the cap, the oldest external one is evicted so a
// stale browser tab cannot hold artwork bindings forever.
type ConnectionLimiter struct {
	mu          sync.Mutex
	maxExternal int
	external    []string          // oldest first
	remotes     map[string]string // client id -> remote ip
}

// NewConnectionLimiter creates a limiter allowing up to maxExternal
// non-loopback connections. A value <= 0 disables the cap.
func NewConnectionLimiter(maxExternal int) *ConnectionLimiter {
	return &ConnectionLimiter{
		maxExternal: maxExternal,
		remotes:     make(map[string]string),
	}
}

// TryAdd registers a connection and returns the id of an evicted client,
// or "" if none. Every connection is admitted.
func (cl *ConnectionLimiter) TryAdd(clientID, remoteIP string) (allowed bool, evictedID string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, exists := cl.remotes[clientID]; exists {
		return true, ""
	}
	cl.remotes[clientID] = remoteIP

	if isLoopback(remoteIP) {
		return true, ""
	}
	cl.external = append(cl.external, clientID)

	if cl.maxExternal > 0 && len(cl.external) > cl.maxExternal {
		evictedID = cl.external[0]
		cl.external = cl.external[1:]
		delete(cl.remotes, evictedID)
		return true, evictedID
	}
	return true, ""
}

// Remove unregisters a connection when a client disconnects.
func (cl *ConnectionLimiter) Remove(clientID string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	ip, exists := cl.remotes[clientID]
	if !exists {
		return
	}
	delete(cl.remotes, clientID)

	if isLoopback(ip) {
		return
	}
	for i, id := range cl.external {
		if id == clientID {
			cl.external = append(cl.external[:i], cl.external[i+1:]...)
			break
		}
	}
}

// ExternalCount returns the number of tracked external connections.
func (cl *ConnectionLimiter) ExternalCount() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return len(cl.external)
}

func isLoopback(ip string) bool {
	parsed := net.ParseIP(ip)
	return parsed != nil && parsed.IsLoopback()
}
