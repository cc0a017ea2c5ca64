// Package dbpool implements the bounded pool of database connection
// handles HTTP handlers lease for the login/registration form action. A
// counting semaphore (golang.org/x/sync/semaphore.Weighted) gates a fixed
// free-list of *pgx.Conn handles, acquired and released through a scoped
// Lease so every exit path returns its handle.
package dbpool

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

// ErrPoolClosed is returned by Acquire once CloseAll has completed.
var ErrPoolClosed = errors.New("dbpool: closed")

// Pool is a fixed-size, semaphore-guarded queue of pgx connections.
type Pool struct {
	dsn  string
	size int

	sem *semaphore.Weighted

	mu      sync.Mutex
	free    []*pgx.Conn
	closed  bool
	inUse   int
}

// New dials size connections to dsn and returns a ready Pool.
func New(ctx context.Context, dsn string, size int) (*Pool, error) {
	if size <= 0 {
		return nil, errors.New("dbpool: size must be positive")
	}
	p := &Pool{
		dsn:  dsn,
		size: size,
		sem:  semaphore.NewWeighted(int64(size)),
		free: make([]*pgx.Conn, 0, size),
	}
	for i := 0; i < size; i++ {
		conn, err := pgx.Connect(ctx, dsn)
		if err != nil {
			p.closeOpened()
			return nil, errors.Wrapf(err, "dbpool: opening handle %d/%d", i+1, size)
		}
		p.free = append(p.free, conn)
	}
	return p, nil
}

func (p *Pool) closeOpened() {
	for _, c := range p.free {
		_ = c.Close(context.Background())
	}
	p.free = nil
}

// Lease is a scoped handle; Release must be called on every exit path,
// typically via defer immediately after Acquire succeeds.
type Lease struct {
	pool *Pool
	conn *pgx.Conn
	once sync.Once
}

// Conn returns the underlying connection for the lifetime of the lease.
func (l *Lease) Conn() *pgx.Conn { return l.conn }

// Release returns the handle to the pool, signalling the semaphore. Safe
// to call more than once; only the first call has effect.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.pool.release(l.conn)
	})
}

// Acquire waits on the counting semaphore, then pops a free handle. It
// fails immediately with ErrPoolClosed if the pool has been closed.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.mu.Unlock()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, errors.Wrap(err, "dbpool: acquire")
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.Release(1)
		return nil, ErrPoolClosed
	}
	n := len(p.free)
	conn := p.free[n-1]
	p.free = p.free[:n-1]
	p.inUse++
	p.mu.Unlock()

	return &Lease{pool: p, conn: conn}, nil
}

func (p *Pool) release(conn *pgx.Conn) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = conn.Close(context.Background())
		return
	}
	p.free = append(p.free, conn)
	p.inUse--
	p.mu.Unlock()
	p.sem.Release(1)
}

// Free reports the number of handles currently available for Acquire.
func (p *Pool) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// InUse reports the number of handles currently leased out.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

// Size returns the fixed pool size: Free()+InUse() always equals Size().
func (p *Pool) Size() int { return p.size }

// CloseAll closes every handle, free or leased-but-already-returned, and
// marks the pool closed; subsequent Acquire calls fail with ErrPoolClosed.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for _, c := range p.free {
		_ = c.Close(context.Background())
	}
	p.free = nil
}
