// Package workerpool implements the fixed-size pool of goroutines that
// execute HTTP parsing/response-assembly tasks off the reactor goroutine.
// The goroutine management itself is delegated to
// github.com/panjf2000/ants/v2 (a fixed-capacity, reusable goroutine
// pool); this package adds a join-on-destruction lifecycle in place of
// ants' detach-and-refcount behavior, plus a submit-time backlog counter
// so callers can reason about queue depth.
package workerpool

import (
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// ErrClosed is returned by Submit after Close has been called.
var ErrClosed = errors.New("workerpool: closed")

// Pool is a fixed-N goroutine pool executing nullary tasks.
type Pool struct {
	inner   *ants.Pool
	pending atomic.Int64
	closing atomic.Bool
	wg      sync.WaitGroup
}

// New spawns a pool backed by up to n reusable goroutines. ants' default
// ExpiryDuration is kept, so goroutines left idle past it are reclaimed and
// started again on demand; capacity stays n.
func New(n int) (*Pool, error) {
	if n <= 0 {
		n = 1
	}
	inner, err := ants.NewPool(n, ants.WithNonblocking(false), ants.WithPreAlloc(true))
	if err != nil {
		return nil, errors.Wrap(err, "workerpool: create")
	}
	return &Pool{inner: inner}, nil
}

// Submit enqueues f for execution by one of the pool's goroutines. Submit
// blocks if every goroutine is currently busy: a full pool applies
// backpressure onto the reactor's dispatch rather than growing unbounded.
func (p *Pool) Submit(f func()) error {
	if p.closing.Load() {
		return ErrClosed
	}
	p.pending.Inc()
	p.wg.Add(1)
	err := p.inner.Submit(func() {
		defer p.wg.Done()
		defer p.pending.Dec()
		f()
	})
	if err != nil {
		p.wg.Done()
		p.pending.Dec()
		return errors.Wrap(err, "workerpool: submit")
	}
	return nil
}

// Pending returns the number of tasks submitted but not yet finished.
func (p *Pool) Pending() int64 { return p.pending.Load() }

// Running returns the number of goroutines currently executing a task.
func (p *Pool) Running() int { return p.inner.Running() }

// Close stops accepting new tasks and blocks until every in-flight task
// has completed, then releases the ants pool. It does not wait for the
// pool's idle goroutines to exit after the release.
func (p *Pool) Close() {
	if !p.closing.CompareAndSwap(false, true) {
		return
	}
	p.wg.Wait()
	p.inner.Release()
}
