package artwork

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrExecutorClosed is returned when submitting to a closed executor.
var ErrExecutorClosed = errors.New("executor closed")

// Priority orders queued work. Foreground work always runs before
// background work queued on the same executor.
type Priority int

const (
	// PriorityBackground is used for prefetch and warm-up work.
	PriorityBackground Priority = iota
	// PriorityForeground is used for work a caller is waiting on.
	PriorityForeground
)

func (p Priority) String() string {
	if p == PriorityForeground {
		return "foreground"
	}
	return "background"
}

// Executor runs submitted functions on a fixed set of workers.
type Executor struct {
	name      string
	fg        chan func()
	bg        chan func()
	quit      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewExecutor starts an executor with the given worker count and per-lane
// queue depth.
func NewExecutor(name string, workers, queue int) *Executor {
	if workers <= 0 {
		workers = 1
	}
	if queue <= 0 {
		queue = 64
	}
	e := &Executor{
		name: name,
		fg:   make(chan func(), queue),
		bg:   make(chan func(), queue),
		quit: make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	log.Debug().Str("executor", name).Int("workers", workers).Msg("Executor started")
	return e
}

func (e *Executor) worker() {
	defer e.wg.Done()
	for {
		// Drain foreground work first.
		select {
		case <-e.quit:
			return
		case fn := <-e.fg:
			e.run(fn)
			continue
		default:
		}

		select {
		case <-e.quit:
			return
		case fn := <-e.fg:
			e.run(fn)
		case fn := <-e.bg:
			e.run(fn)
		}
	}
}

func (e *Executor) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("executor", e.name).Interface("panic", r).Msg("Executor task panicked")
		}
	}()
	fn()
}

// Submit queues fn, blocking while the lane is full.
func (e *Executor) Submit(p Priority, fn func()) error {
	select {
	case <-e.quit:
		return ErrExecutorClosed
	default:
	}

	lane := e.bg
	if p == PriorityForeground {
		lane = e.fg
	}

	select {
	case lane <- fn:
		return nil
	case <-e.quit:
		return ErrExecutorClosed
	}
}

// TrySubmit queues fn without blocking and reports whether it was queued.
func (e *Executor) TrySubmit(p Priority, fn func()) bool {
	lane := e.bg
	if p == PriorityForeground {
		lane = e.fg
	}
	select {
	case <-e.quit:
		return false
	default:
	}
	select {
	case lane <- fn:
		return true
	default:
		log.Debug().Str("executor", e.name).Str("priority", p.String()).Msg("Executor queue full, dropping task")
		return false
	}
}

// Do runs fn on the executor and waits for it. If ctx ends first, Do
// returns ctx.Err() and fn keeps running with the cancelled context.
func (e *Executor) Do(ctx context.Context, p Priority, fn func(ctx context.Context) error) error {
	done := make(chan error, 1)
	if err := e.Submit(p, func() {
		if ctx.Err() != nil {
			done <- ctx.Err()
			return
		}
		done <- fn(ctx)
	}); err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.quit:
		return ErrExecutorClosed
	}
}

// Close stops the workers. Queued work that has not started is dropped.
func (e *Executor) Close() {
	e.closeOnce.Do(func() {
		close(e.quit)
	})
	e.wg.Wait()
}
