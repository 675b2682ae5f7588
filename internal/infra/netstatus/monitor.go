// Package netstatus reports whether the device has a usable network link.
package netstatus

import (
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/rs/zerolog/log"
)

// DefaultSysfsRoot is where Linux exposes network interfaces.
const DefaultSysfsRoot = "/sys/class/net"

// Mode overrides link detection.
type Mode string

const (
	ModeAuto    Mode = "auto"
	ModeOnline  Mode = "online"
	ModeOffline Mode = "offline"
)

// Status represents the current network connection status.
type Status struct {
	Type      string `json:"type"` // "wifi", "ethernet", "none"
	Interface string `json:"interface"`
	Online    bool   `json:"online"`
}

// Monitor polls interface state from sysfs.
type Monitor struct {
	fs       billy.Filesystem
	mode     Mode
	interval time.Duration

	mu        sync.RWMutex
	status    Status
	listeners []func(Status)
}

// Option is a functional option for configuring the monitor.
type Option func(*Monitor)

// WithFilesystem reads interface state from fs instead of sysfs.
func WithFilesystem(fs billy.Filesystem) Option {
	return func(m *Monitor) {
		m.fs = fs
	}
}

// WithMode sets the detection mode.
func WithMode(mode Mode) Option {
	return func(m *Monitor) {
		m.mode = mode
	}
}

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		m.interval = d
	}
}

// NewMonitor creates a monitor and takes an initial reading.
func NewMonitor(opts ...Option) *Monitor {
	m := &Monitor{
		mode:     ModeAuto,
		interval: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.fs == nil {
		m.fs = osfs.New(DefaultSysfsRoot)
	}
	m.status = m.read()
	return m
}

// Online implements the artwork online checker.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status.Online
}

// Status returns the last reading.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// OnChange registers fn to be called after the status changes.
func (m *Monitor) OnChange(fn func(Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Refresh re-reads interface state and notifies listeners on change.
func (m *Monitor) Refresh() Status {
	current := m.read()

	m.mu.Lock()
	changed := current != m.status
	m.status = current
	listeners := append([]func(Status){}, m.listeners...)
	m.mu.Unlock()

	if changed {
		log.Info().
			Str("type", current.Type).
			Str("interface", current.Interface).
			Bool("online", current.Online).
			Msg("Network status changed")
		for _, fn := range listeners {
			fn(current)
		}
	}
	return current
}

// Start polls until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		log.Info().Str("mode", string(m.mode)).Msg("Network watcher started")
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("Network watcher stopped")
				return
			case <-ticker.C:
				m.Refresh()
			}
		}
	}()
}

func (m *Monitor) read() Status {
	switch m.mode {
	case ModeOnline:
		return Status{Type: "forced", Online: true}
	case ModeOffline:
		return Status{Type: "none"}
	}

	entries, err := m.fs.ReadDir("/")
	if err != nil {
		log.Debug().Err(err).Msg("Cannot read network interfaces")
		return Status{Type: "none"}
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Name() != "lo" {
			names = append(names, e.Name())
		}
	}
	// Wired interfaces win over wireless ones
	sort.SliceStable(names, func(i, j int) bool {
		return !isWireless(names[i]) && isWireless(names[j])
	})

	for _, iface := range names {
		if !m.linkUp(iface) {
			continue
		}
		typ := "ethernet"
		if isWireless(iface) {
			typ = "wifi"
		}
		return Status{Type: typ, Interface: iface, Online: true}
	}
	return Status{Type: "none"}
}

// linkUp checks carrier for wired links and operstate for everything.
func (m *Monitor) linkUp(iface string) bool {
	if !isWireless(iface) {
		if v, ok := m.readAttr(iface, "carrier"); ok {
			return v == "1"
		}
	}
	v, ok := m.readAttr(iface, "operstate")
	return ok && v == "up"
}

func (m *Monitor) readAttr(iface, attr string) (string, bool) {
	f, err := m.fs.Open(iface + "/" + attr)
	if err != nil {
		return "", false
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, 64))
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(data)), true
}

func isWireless(iface string) bool {
	return strings.HasPrefix(iface, "wl")
}
