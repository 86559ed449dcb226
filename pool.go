package dbutils

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// waiter is a single pending Acquire. The ready channel is buffered so the
// fulfilling side never blocks; delivered is guarded by the pool mutex and
// resolves the race between fulfillment and expiry to exactly one outcome.
type waiter[T any] struct {
	ready     chan waitResult[T]
	delivered bool
}

type waitResult[T any] struct {
	conn *pooledConn[T]
	err  error
}

// Pool manages a bounded set of reusable backend connections and brokers
// them among concurrent callers. All shared state is guarded by mu; no
// factory I/O happens while it is held.
type Pool[T any] struct {
	config Config[T]

	// closeCtx is cancelled by Close so background opens and health pings
	// stop promptly instead of gating shutdown on factory I/O.
	closeCtx    context.Context
	closeCancel context.CancelFunc

	mu        sync.Mutex
	idle      []*pooledConn[T] // most recently used at the end
	inUse     map[*pooledConn[T]]struct{}
	waiters   []*waiter[T] // FIFO
	openCount int
	closed    bool
	drainDone chan struct{}
	drained   bool

	counters counters

	stopReaper chan struct{}
	reaperDone chan struct{}
}

// New creates a new connection pool. Connections are opened lazily: the
// first up to MinIdle connections are warmed by the reaper, not at
// construction.
func New[T any](config *Config[T]) (*Pool[T], error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	pool := &Pool[T]{
		config:     config.withDefaults(),
		inUse:      make(map[*pooledConn[T]]struct{}),
		drainDone:  make(chan struct{}),
		stopReaper: make(chan struct{}),
		reaperDone: make(chan struct{}),
	}
	pool.closeCtx, pool.closeCancel = context.WithCancel(context.Background())
	go pool.reap()

	return pool, nil
}

// Acquire obtains a connection from the pool. It prefers the most recently
// used idle connection, then opens a new one if the pool is under capacity,
// and otherwise waits in FIFO order until a connection is released or the
// wait deadline elapses.
//
// The wait is bounded by the context deadline, or by Config.AcquireTimeout
// when the context has none. A deadline that elapses while waiting yields
// ErrPoolExhausted.
func (p *Pool[T]) Acquire(ctx context.Context) (*Conn[T], error) {
	if _, ok := ctx.Deadline(); !ok && p.config.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.AcquireTimeout)
		defer cancel()
	}
	return p.acquire(ctx, true)
}

// TryAcquire is the non-waiting form of Acquire: if no idle connection is
// available and the pool is at capacity it fails immediately with
// ErrPoolExhausted instead of queueing.
func (p *Pool[T]) TryAcquire(ctx context.Context) (*Conn[T], error) {
	return p.acquire(ctx, false)
}

func (p *Pool[T]) acquire(ctx context.Context, wait bool) (*Conn[T], error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}

	// Reuse the warmest idle connection. Waiters and a non-empty idle set
	// are mutually exclusive: release hands connections to waiters directly.
	if n := len(p.idle); n > 0 {
		pc := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.checkoutLocked(pc)
		p.counters.Hits++
		p.mu.Unlock()
		return &Conn[T]{pool: p, pc: pc}, nil
	}

	// Open a new connection if under capacity, unless waiters are already
	// queued ahead of this caller. The slot is reserved before the factory
	// call so openCount can never exceed Capacity, and rolled back if the
	// open fails.
	if p.openCount < p.config.Capacity && len(p.waiters) == 0 {
		p.openCount++
		p.mu.Unlock()

		handle, err := p.config.Factory.Open(ctx)

		p.mu.Lock()
		if err != nil {
			p.openCount--
			p.counters.OpenFailures++
			p.signalDrainedLocked()
			// The freed slot must not strand a caller that queued while
			// this open was in flight.
			replace := !p.closed && len(p.waiters) > 0 && p.openCount < p.config.Capacity
			if replace {
				p.openCount++
			}
			p.mu.Unlock()
			if replace {
				go p.openReserved()
			}
			return nil, &FactoryError{Err: err}
		}
		p.counters.Opens++
		pc := &pooledConn[T]{handle: handle, createdAt: time.Now()}
		if p.closed {
			p.openCount--
			p.counters.Closes++
			p.signalDrainedLocked()
			p.mu.Unlock()
			p.config.Factory.Close(handle)
			return nil, ErrPoolClosed
		}
		p.checkoutLocked(pc)
		p.mu.Unlock()
		return &Conn[T]{pool: p, pc: pc}, nil
	}

	if !wait {
		p.counters.Timeouts++
		p.mu.Unlock()
		return nil, ErrPoolExhausted
	}

	w := &waiter[T]{ready: make(chan waitResult[T], 1)}
	p.waiters = append(p.waiters, w)
	p.mu.Unlock()

	select {
	case res := <-w.ready:
		if res.err != nil {
			return nil, res.err
		}
		return &Conn[T]{pool: p, pc: res.conn}, nil
	case <-ctx.Done():
	}

	// Expiry races with fulfillment; the pool mutex arbitrates. If the
	// waiter was already fulfilled the connection goes back to the pool so
	// it is never lost, and the caller still observes the cancellation.
	p.mu.Lock()
	if w.delivered {
		p.mu.Unlock()
		res := <-w.ready
		if res.conn != nil {
			p.put(res.conn, false)
		}
	} else {
		w.delivered = true
		p.removeWaiterLocked(w)
		p.counters.Timeouts++
		p.mu.Unlock()
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, ErrPoolExhausted
	}
	return nil, ctx.Err()
}

// checkoutLocked moves pc into the in-use set.
func (p *Pool[T]) checkoutLocked(pc *pooledConn[T]) {
	pc.state = connInUse
	pc.lastUsedAt = time.Now()
	pc.useCount++
	p.inUse[pc] = struct{}{}
}

// deliverLocked hands pc to the oldest live waiter, skipping the idle set so
// the connection is never observable as transiently idle. Returns false when
// no waiter is pending.
func (p *Pool[T]) deliverLocked(pc *pooledConn[T]) bool {
	for len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		if w.delivered {
			continue
		}
		w.delivered = true
		p.checkoutLocked(pc)
		w.ready <- waitResult[T]{conn: pc}
		return true
	}
	return false
}

// failOldestWaiterLocked delivers err to the oldest live waiter. Reports
// whether a waiter was there to receive it.
func (p *Pool[T]) failOldestWaiterLocked(err error) bool {
	for len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		if w.delivered {
			continue
		}
		w.delivered = true
		w.ready <- waitResult[T]{err: err}
		return true
	}
	return false
}

func (p *Pool[T]) removeWaiterLocked(w *waiter[T]) {
	for i, q := range p.waiters {
		if q == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
}

// put returns pc to the pool. Called exactly once per checkout, from
// Conn.Release, Conn.Invalidate, or internally when a fulfilled waiter has
// already given up. Never blocks on the caller's behalf.
func (p *Pool[T]) put(pc *pooledConn[T], broken bool) {
	p.mu.Lock()
	if pc.state == connClosed {
		// Force-closed during Close's grace expiry; nothing left to do.
		p.mu.Unlock()
		return
	}
	delete(p.inUse, pc)

	if p.closed {
		pc.state = connClosed
		p.openCount--
		p.counters.Closes++
		p.signalDrainedLocked()
		p.mu.Unlock()
		p.config.Factory.Close(pc.handle)
		return
	}

	if broken || p.expired(pc, time.Now()) {
		pc.state = connClosed
		p.openCount--
		p.counters.Closes++
		if broken {
			p.counters.Invalidated++
		}
		// A discarded connection must not starve waiters: reserve a slot
		// and open a replacement for the oldest one.
		replace := len(p.waiters) > 0 && p.openCount < p.config.Capacity
		if replace {
			p.openCount++
		}
		p.mu.Unlock()
		p.config.Factory.Close(pc.handle)
		if replace {
			go p.openReserved()
		}
		return
	}

	if p.deliverLocked(pc) {
		p.mu.Unlock()
		return
	}

	pc.state = connIdle
	pc.lastUsedAt = time.Now()
	p.idle = append(p.idle, pc)
	p.mu.Unlock()
}

// expired reports whether pc has outlived MaxConnLifetime or MaxConnUses.
func (p *Pool[T]) expired(pc *pooledConn[T], now time.Time) bool {
	if p.config.MaxConnLifetime > 0 && now.Sub(pc.createdAt) > p.config.MaxConnLifetime {
		return true
	}
	if p.config.MaxConnUses > 0 && pc.useCount >= p.config.MaxConnUses {
		return true
	}
	return false
}

// openReserved opens a connection into a slot already counted in openCount
// and routes it to the oldest waiter, or the idle set if none remains. A
// factory failure is surfaced to the oldest waiter rather than swallowed, so
// a dead backend cannot leave it queued forever.
func (p *Pool[T]) openReserved() {
	handle, err := p.config.Factory.Open(p.closeCtx)

	p.mu.Lock()
	if err != nil {
		p.openCount--
		p.counters.OpenFailures++
		p.signalDrainedLocked()
		delivered := p.failOldestWaiterLocked(&FactoryError{Err: err})
		// One failure fails one waiter. Remaining waiters still need a
		// connection, and fresh acquires will not open while they queue, so
		// reserve again rather than leaving them to a reaper sweep.
		retry := false
		if !p.closed && p.openCount < p.config.Capacity {
			for _, w := range p.waiters {
				if !w.delivered {
					retry = true
					break
				}
			}
		}
		if retry {
			p.openCount++
		}
		closed := p.closed
		p.mu.Unlock()
		if !delivered && !closed {
			log.Printf("dbutils: background open failed: %v", err)
		}
		if retry {
			go p.openReserved()
		}
		return
	}
	p.counters.Opens++
	if p.closed {
		p.openCount--
		p.counters.Closes++
		p.signalDrainedLocked()
		p.mu.Unlock()
		p.config.Factory.Close(handle)
		return
	}
	pc := &pooledConn[T]{handle: handle, createdAt: time.Now()}
	if !p.deliverLocked(pc) {
		pc.state = connIdle
		pc.lastUsedAt = time.Now()
		p.idle = append(p.idle, pc)
	}
	p.mu.Unlock()
}

// Close drains the pool. Pending waiters fail immediately with
// ErrPoolClosed, idle connections are closed, and in-use connections are
// closed as they are released. If the context expires before every borrowed
// connection comes back the stragglers are force-closed and the context
// error is returned.
func (p *Pool[T]) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true

	for _, w := range p.waiters {
		if !w.delivered {
			w.delivered = true
			w.ready <- waitResult[T]{err: ErrPoolClosed}
		}
	}
	p.waiters = nil

	idle := p.idle
	p.idle = nil
	for _, pc := range idle {
		pc.state = connClosed
	}
	p.openCount -= len(idle)
	p.counters.Closes += uint64(len(idle))
	p.signalDrainedLocked()
	p.mu.Unlock()

	// Cancelling closeCtx unblocks background opens and health pings;
	// shutdown must not be gated on factory I/O that is no longer useful.
	p.closeCancel()
	close(p.stopReaper)

	for _, pc := range idle {
		p.config.Factory.Close(pc.handle)
	}

	select {
	case <-p.drainDone:
	case <-ctx.Done():
		// Grace period elapsed: force-close whatever is still checked out.
		p.mu.Lock()
		var leftovers []*pooledConn[T]
		for pc := range p.inUse {
			pc.state = connClosed
			leftovers = append(leftovers, pc)
			delete(p.inUse, pc)
		}
		p.openCount -= len(leftovers)
		p.counters.Closes += uint64(len(leftovers))
		p.signalDrainedLocked()
		p.mu.Unlock()

		for _, pc := range leftovers {
			p.config.Factory.Close(pc.handle)
		}
		return ctx.Err()
	}

	// The reaper exits once its current pass observes the cancellation. A
	// factory that ignores it must not hold Close past the grace period.
	select {
	case <-p.reaperDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// signalDrainedLocked unblocks Close once the last open connection is gone.
func (p *Pool[T]) signalDrainedLocked() {
	if p.closed && p.openCount == 0 && !p.drained {
		p.drained = true
		close(p.drainDone)
	}
}
