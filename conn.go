package dbutils

import (
	"sync/atomic"
	"time"
)

// connState tracks where a pooled connection currently lives. Transitions
// happen under the pool mutex; a connection is in exactly one of the idle
// set, a single caller's hands, the reaper's validation pass, or closed.
type connState int

const (
	connIdle connState = iota
	connInUse
	connValidating
	connClosed
)

// pooledConn wraps a raw handle with pool-internal bookkeeping.
type pooledConn[T any] struct {
	handle     T
	state      connState
	createdAt  time.Time
	lastUsedAt time.Time
	useCount   int64
}

// Conn is a connection borrowed from a Pool. The caller owns the raw handle
// exclusively until Release or Invalidate, exactly one of which must be
// called exactly once.
type Conn[T any] struct {
	pool *Pool[T]
	pc   *pooledConn[T]
	done atomic.Bool
}

// Handle returns the raw connection. It must not be used after Release or
// Invalidate.
func (c *Conn[T]) Handle() T {
	return c.pc.handle
}

// Release returns the connection to the pool. If a caller is waiting it is
// handed over directly; otherwise it joins the idle set. Releasing twice is
// a programming error and reports ErrInvalidRelease.
func (c *Conn[T]) Release() error {
	if c == nil || c.pool == nil {
		return ErrInvalidRelease
	}
	if !c.done.CompareAndSwap(false, true) {
		return ErrInvalidRelease
	}
	c.pool.put(c.pc, false)
	return nil
}

// Invalidate reports the connection as broken and discards it instead of
// returning it to the idle set. Callers that detect a dead backend mid-use
// must use this rather than Release, so the pool never re-serves a
// known-bad connection.
func (c *Conn[T]) Invalidate() error {
	if c == nil || c.pool == nil {
		return ErrInvalidRelease
	}
	if !c.done.CompareAndSwap(false, true) {
		return ErrInvalidRelease
	}
	c.pool.put(c.pc, true)
	return nil
}
