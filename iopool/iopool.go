// Package iopool implements the fixed, dedicated goroutine pool (spec.md
// C6) heavy operations are handed off to, kept off the host's own
// scheduler. The pool's lifecycle — a fixed set of workers started together
// and torn down together — is coordinated with golang.org/x/sync/errgroup,
// the same primitive the wider corpus already depends on transitively but
// never exercises directly for worker-pool shutdown.
package iopool

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joeycumines/ioisolate/alert"
	"github.com/joeycumines/ioisolate/internal/telemetry"
)

// ErrClosed is returned by Submit once the pool has been disposed.
var ErrClosed = errors.New("iopool: closed")

// DefaultSize returns the manager-level default thread count, 2×CPU, per
// spec.md §6.
func DefaultSize() int {
	n := runtime.NumCPU() * 2
	if n < 2 {
		n = 2
	}
	return n
}

// WorkerSize returns the per-worker default, max(2, CPU/2), a size for an
// I/O pool dedicated to one background worker (C5) rather than shared at
// manager level. Nothing in this module calls it: workers use the pool the
// manager passes in.
func WorkerSize() int {
	n := runtime.NumCPU() / 2
	if n < 2 {
		n = 2
	}
	return n
}

type task struct {
	ctx    context.Context
	fn     func(ctx context.Context) error
	result chan error
}

// Pool is a fixed-size dedicated goroutine pool. Construct with New.
type Pool struct {
	tasks  chan task
	stop   chan struct{}
	stopOnce sync.Once
	eg     *errgroup.Group
	log    *telemetry.Logger
	alerts *alert.Bus
	size   int
}

// New starts size worker goroutines. size ≤ 0 selects DefaultSize().
func New(size int, logger *telemetry.Logger, alerts *alert.Bus) *Pool {
	if size <= 0 {
		size = DefaultSize()
	}
	p := &Pool{
		tasks:  make(chan task, size*2),
		stop:   make(chan struct{}),
		eg:     &errgroup.Group{},
		log:    telemetry.OrDisabled(logger),
		alerts: alerts,
		size:   size,
	}
	for i := 0; i < size; i++ {
		p.eg.Go(p.worker)
	}
	if alerts != nil {
		alerts.Emit(alert.New(alert.IOThreadPoolInitialized, "I/O thread pool started", map[string]any{"size": size}))
	}
	return p
}

func (p *Pool) worker() error {
	for {
		select {
		case <-p.stop:
			return nil
		case t := <-p.tasks:
			p.run(t)
		}
	}
}

func (p *Pool) run(t task) {
	defer func() {
		if r := recover(); r != nil {
			err := errors.New("iopool: worker panic")
			p.log.Err().Interface(`panic`, r).Log(`I/O thread worker panicked`)
			if p.alerts != nil {
				p.alerts.Emit(alert.New(alert.IOThreadWorkerError, "I/O thread worker panicked", map[string]any{"panic": r}))
			}
			select {
			case t.result <- err:
			default:
			}
		}
	}()

	var err error
	select {
	case <-t.ctx.Done():
		err = t.ctx.Err()
	default:
		err = t.fn(t.ctx)
	}
	if err != nil {
		p.log.Warning().Err(err).Log(`I/O thread task failed`)
		if p.alerts != nil {
			p.alerts.Emit(alert.New(alert.IOThreadWorkerError, "I/O thread task failed", map[string]any{"error": err.Error()}))
		}
	}
	t.result <- err
}

// Submit enqueues fn and blocks until a worker has run it (or ctx is done,
// or the pool is closed), returning fn's error.
func (p *Pool) Submit(ctx context.Context, fn func(ctx context.Context) error) error {
	t := task{ctx: ctx, fn: fn, result: make(chan error, 1)}
	select {
	case <-p.stop:
		return ErrClosed
	default:
	}
	select {
	case p.tasks <- t:
	case <-p.stop:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-t.result:
		return err
	case <-p.stop:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispose stops accepting new work and waits up to 5s per worker for
// in-flight tasks to finish, matching spec.md §6's graceful-dispose budget.
func (p *Pool) Dispose() error {
	p.stopOnce.Do(func() { close(p.stop) })

	done := make(chan error, 1)
	go func() { done <- p.eg.Wait() }()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second * time.Duration(p.size)):
		return errors.New("iopool: dispose timed out waiting for workers")
	}
}
