package nowplaying

import (
	"sync"
	"time"
)

// Debouncer collapses rapid MPD subsystem events into one callback.
// Only the subsystems it was created with arm the timer; others are ignored.
type Debouncer struct {
	window     time.Duration
	callback   func()
	subsystems map[string]bool

	mu      sync.Mutex
	pending bool
	timer   *time.Timer
	stopped bool
}

// NewDebouncer creates a debouncer that calls callback once the window
// elapses without further triggers from any of subsystems.
func NewDebouncer(window time.Duration, callback func(), subsystems ...string) *Debouncer {
	d := &Debouncer{
		window:     window,
		callback:   callback,
		subsystems: make(map[string]bool, len(subsystems)),
	}
	for _, s := range subsystems {
		d.subsystems[s] = true
	}
	return d
}

// Trigger records that the given MPD subsystem has changed.
func (d *Debouncer) Trigger(subsystem string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || !d.subsystems[subsystem] {
		return
	}
	d.pending = true

	// Reset the timer
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

func (d *Debouncer) flush() {
	d.mu.Lock()
	fire := d.pending && !d.stopped
	d.pending = false
	d.mu.Unlock()

	if fire && d.callback != nil {
		d.callback()
	}
}

// Stop prevents any further callbacks from firing.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pending = false
}
