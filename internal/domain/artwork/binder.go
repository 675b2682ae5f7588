package artwork

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"weak"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Sink receives the outcome of a binding. Methods are called with the
// target locked and must not call back into the Binder for that target.
type Sink interface {
	SetArtwork(art *Artwork)
	SetPlaceholder()
}

// PaletteListener is notified of the palette of delivered artwork.
type PaletteListener interface {
	OnPalette(p Palette)
}

// Target is a display slot that shows at most one artwork at a time.
type Target struct {
	ID      string
	sink    Sink
	palette PaletteListener

	mu    sync.Mutex
	key   Key
	bound bool
	req   *Request
}

// NewTarget creates a target delivering to sink. palette may be nil.
func NewTarget(id string, sink Sink, palette PaletteListener) *Target {
	return &Target{ID: id, sink: sink, palette: palette}
}

// Key returns the key currently bound to the target.
func (t *Target) Key() (Key, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.key, t.bound
}

// Pending returns the in-flight request, if any.
func (t *Target) Pending() *Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.req
}

// Request is one asynchronous load for a target. It holds the target
// weakly, so an abandoned target can be collected while its load runs.
type Request struct {
	ID  uuid.UUID
	Key Key

	target    weak.Pointer[Target]
	cancel    context.CancelFunc
	cancelled atomic.Bool
	done      chan struct{}
}

// Cancel stops the request. A cancelled request never touches its target.
func (r *Request) Cancel() {
	if r.cancelled.CompareAndSwap(false, true) {
		r.cancel()
	}
}

// Cancelled reports whether Cancel was called.
func (r *Request) Cancelled() bool {
	return r.cancelled.Load()
}

// Done is closed once the request has finished.
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Fetcher is the part of Manager a Binder needs.
type Fetcher interface {
	Peek(info ArtInfo, typ Type) (*Artwork, bool)
	Fetch(ctx context.Context, info ArtInfo, typ Type) (*Artwork, error)
}

// Binder attaches artwork loads to targets, making sure a late result is
// never delivered to a target that moved on to other artwork.
type Binder struct {
	fetcher Fetcher
}

// NewBinder creates a binder loading through f.
func NewBinder(f Fetcher) *Binder {
	return &Binder{fetcher: f}
}

// Bind points t at the artwork for info. Any previous request on t is
// cancelled, even when info is rejected. A memory hit is delivered before
// Bind returns; otherwise the load runs in the background under ctx and
// the returned request tracks it.
func (b *Binder) Bind(ctx context.Context, t *Target, info ArtInfo, typ Type) (*Request, error) {
	key, err := KeyFor(info, typ)
	if err != nil {
		b.Detach(t)
		return nil, err
	}

	t.mu.Lock()
	t.cancelLocked()
	t.key = key
	t.bound = true

	if art, ok := b.fetcher.Peek(info, typ); ok {
		t.deliver(art)
		t.mu.Unlock()
		return finishedRequest(t, key), nil
	}

	rctx, cancel := context.WithCancel(ctx)
	req := &Request{
		ID:     uuid.New(),
		Key:    key,
		target: weak.Make(t),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	t.req = req
	t.mu.Unlock()

	go b.run(rctx, req, info, typ)
	return req, nil
}

// Detach unbinds t and cancels its request. No result is delivered to t
// after Detach returns.
func (b *Binder) Detach(t *Target) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cancelLocked()
	t.key = Key{}
	t.bound = false
}

func (t *Target) cancelLocked() {
	if t.req != nil {
		t.req.Cancel()
		t.req = nil
	}
}

func (b *Binder) run(ctx context.Context, req *Request, info ArtInfo, typ Type) {
	defer close(req.done)

	art, err := b.fetcher.Fetch(ctx, info, typ)
	b.complete(req, art, err)
	req.cancel()
}

func (b *Binder) complete(req *Request, art *Artwork, err error) {
	t := req.target.Value()
	if t == nil {
		log.Debug().Str("request", req.ID.String()).Msg("Artwork target gone, dropping result")
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if req.Cancelled() || t.req != req || !t.bound || t.key != req.Key {
		return
	}
	t.req = nil

	switch {
	case err == nil:
		t.deliver(art)
	case errors.Is(err, ErrDeferred), errors.Is(err, context.Canceled):
	default:
		log.Debug().Err(err).Str("target", t.ID).Str("key", req.Key.String()).Msg("Artwork unavailable, showing placeholder")
		t.sink.SetPlaceholder()
	}
}

// deliver must be called with t.mu held.
func (t *Target) deliver(art *Artwork) {
	t.sink.SetArtwork(art)
	if t.palette != nil && !art.Palette.IsEmpty() {
		t.palette.OnPalette(art.Palette)
	}
}

func finishedRequest(t *Target, key Key) *Request {
	req := &Request{
		ID:     uuid.New(),
		Key:    key,
		target: weak.Make(t),
		cancel: func() {},
		done:   make(chan struct{}),
	}
	close(req.done)
	return req
}
