// Package mpd reads cover pictures, now-playing state and the album list
// from an MPD server.
package mpd

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/fhs/gompd/v2/mpd"
	"github.com/rs/zerolog/log"
)

// ErrClosed is returned once Close has been called.
var ErrClosed = errors.New("mpd: client closed")

const (
	watchRetryMin = time.Second
	watchRetryMax = 30 * time.Second
)

// Client is a lazily connected MPD client. A command that fails on a dead
// connection is retried once on a fresh one.
type Client struct {
	addr     string
	password string

	mu     sync.RWMutex
	conn   *mpd.Client
	closed bool
	done   chan struct{}
}

// NewClient returns a client for host:port. No connection is made until
// the first command.
func NewClient(host string, port int, password string) *Client {
	return &Client{
		addr:     net.JoinHostPort(host, strconv.Itoa(port)),
		password: password,
		done:     make(chan struct{}),
	}
}

// Connect dials MPD now instead of on the first command.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return c.dialLocked()
}

func (c *Client) dialLocked() error {
	conn, err := mpd.DialAuthenticated("tcp", c.addr, c.password)
	if err != nil {
		return fmt.Errorf("mpd dial %s: %w", c.addr, err)
	}
	c.conn = conn
	log.Info().Str("addr", c.addr).Msg("Connected to MPD")
	return nil
}

// acquire returns the live connection, dialing when there is none.
func (c *Client) acquire() (*mpd.Client, error) {
	c.mu.RLock()
	conn, closed := c.conn, c.closed
	c.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if conn != nil {
		return conn, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.conn == nil {
		if err := c.dialLocked(); err != nil {
			return nil, err
		}
	}
	return c.conn, nil
}

// drop discards conn if it is still the current connection.
func (c *Client) drop(conn *mpd.Client) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	conn.Close()
}

// do runs fn on the connection. When fn fails and the connection no
// longer answers a ping, fn runs once more on a new connection. Protocol
// errors such as a missing picture leave the connection alone.
func (c *Client) do(fn func(*mpd.Client) error) error {
	conn, err := c.acquire()
	if err != nil {
		return err
	}
	err = fn(conn)
	if err == nil || conn.Ping() == nil {
		return err
	}

	log.Warn().Err(err).Str("addr", c.addr).Msg("MPD connection lost, redialing")
	c.drop(conn)
	if conn, err = c.acquire(); err != nil {
		return err
	}
	return fn(conn)
}

// Close ends the connection and stops all watchers.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Ping reports whether the current connection is alive. It never dials.
func (c *Client) Ping() error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return errors.New("mpd: not connected")
	}
	return conn.Ping()
}

// Status returns the player status.
func (c *Client) Status() (attrs mpd.Attrs, err error) {
	err = c.do(func(conn *mpd.Client) error {
		attrs, err = conn.Status()
		return err
	})
	return attrs, err
}

// CurrentSong returns the current song, empty when nothing is queued.
func (c *Client) CurrentSong() (attrs mpd.Attrs, err error) {
	err = c.do(func(conn *mpd.Client) error {
		attrs, err = conn.CurrentSong()
		return err
	})
	return attrs, err
}

// ReadPicture returns the picture embedded in the file at uri.
func (c *Client) ReadPicture(uri string) (data []byte, err error) {
	err = c.do(func(conn *mpd.Client) error {
		data, err = conn.ReadPicture(uri)
		return err
	})
	return data, err
}

// AlbumArt returns the cover file MPD finds next to uri.
func (c *Client) AlbumArt(uri string) (data []byte, err error) {
	err = c.do(func(conn *mpd.Client) error {
		data, err = conn.AlbumArt(uri)
		return err
	})
	return data, err
}

// Watch reports changes of the given subsystems until Close. When MPD
// cannot be reached the watcher keeps redialing with backoff, so callers
// may start watching before the server is up.
func (c *Client) Watch(subsystems ...string) (<-chan string, error) {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	w, err := mpd.NewWatcher("tcp", c.addr, c.password, subsystems...)
	if err != nil {
		log.Warn().Err(err).Str("addr", c.addr).Msg("MPD watcher unavailable, retrying in background")
	}

	ch := make(chan string, 10)
	go c.watch(w, subsystems, ch)
	return ch, nil
}

func (c *Client) watch(w *mpd.Watcher, subsystems []string, ch chan<- string) {
	defer close(ch)
	backoff := watchRetryMin

	if w == nil {
		if w = c.rewatch(subsystems, &backoff); w == nil {
			return
		}
	}

	for {
		select {
		case <-c.done:
			w.Close()
			return
		case name, ok := <-w.Event:
			if !ok {
				return
			}
			backoff = watchRetryMin
			select {
			case ch <- name:
			case <-c.done:
				w.Close()
				return
			}
		case err, ok := <-w.Error:
			if !ok {
				return
			}
			log.Warn().Err(err).Dur("retry", backoff).Msg("MPD watcher failed")
			w.Close()
			if w = c.rewatch(subsystems, &backoff); w == nil {
				return
			}
		}
	}
}

// rewatch dials a new watcher, doubling the wait after each failure.
// It returns nil once the client is closed.
func (c *Client) rewatch(subsystems []string, backoff *time.Duration) *mpd.Watcher {
	for {
		select {
		case <-c.done:
			return nil
		case <-time.After(*backoff):
		}
		w, err := mpd.NewWatcher("tcp", c.addr, c.password, subsystems...)
		if err == nil {
			return w
		}
		*backoff = min(*backoff*2, watchRetryMax)
		log.Debug().Err(err).Dur("retry", *backoff).Msg("MPD watcher redial failed")
	}
}

// Album is one album in the database and the first track found for it.
type Album struct {
	Title      string
	Artist     string
	Tracks     int
	FirstTrack string
}

// Albums lists the albums below basePath in database order. An empty
// basePath covers the whole database.
func (c *Client) Albums(basePath string) ([]Album, error) {
	var songs []mpd.Attrs
	err := c.do(func(conn *mpd.Client) (err error) {
		if basePath == "" {
			songs, err = conn.ListAllInfo("")
			return err
		}
		// each song record starts with its "file" key
		songs, err = conn.Command("search base %s", basePath).AttrsList("file")
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list songs in %q: %w", basePath, err)
	}
	return GroupAlbums(songs), nil
}

// GroupAlbums folds song records into albums keyed by title and album
// artist, falling back to the track artist. Records without a file or an
// album tag are skipped.
func GroupAlbums(songs []mpd.Attrs) []Album {
	index := make(map[[2]string]int)
	var albums []Album

	for _, song := range songs {
		file, title := song["file"], song["Album"]
		if file == "" || title == "" {
			continue
		}
		artist := song["AlbumArtist"]
		if artist == "" {
			artist = song["Artist"]
		}

		key := [2]string{title, artist}
		i, ok := index[key]
		if !ok {
			i = len(albums)
			index[key] = i
			albums = append(albums, Album{Title: title, Artist: artist, FirstTrack: file})
		}
		albums[i].Tracks++
	}
	return albums
}
