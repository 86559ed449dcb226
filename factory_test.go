package dbutils_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var errInjectedOpen = errors.New("injected open failure")

// fakeConn is the raw handle used by pool tests. borrows tracks concurrent
// holders so tests can verify exclusive ownership.
type fakeConn struct {
	id      int
	closed  atomic.Bool
	borrows atomic.Int32
}

// fakeFactory implements dbutils.Factory[*fakeConn] with injectable
// failures and per-connection health.
type fakeFactory struct {
	mu        sync.Mutex
	nextID    int
	conns     []*fakeConn
	opens     int
	closes    int
	validates int

	openErr       error
	openDelay     time.Duration
	failNext      int
	validateDelay time.Duration
	unhealthy     map[int]bool
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{unhealthy: make(map[int]bool)}
}

func (f *fakeFactory) Open(ctx context.Context) (*fakeConn, error) {
	if f.openDelay > 0 {
		select {
		case <-time.After(f.openDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	if f.failNext > 0 {
		f.failNext--
		return nil, errInjectedOpen
	}
	f.nextID++
	f.opens++
	conn := &fakeConn{id: f.nextID}
	f.conns = append(f.conns, conn)
	return conn, nil
}

func (f *fakeFactory) Validate(ctx context.Context, conn *fakeConn) bool {
	f.mu.Lock()
	f.validates++
	delay := f.validateDelay
	unhealthy := f.unhealthy[conn.id]
	f.mu.Unlock()

	// Deliberately ignores ctx, like a driver with no internal timeouts.
	if delay > 0 {
		time.Sleep(delay)
	}
	return !conn.closed.Load() && !unhealthy
}

func (f *fakeFactory) Close(conn *fakeConn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if conn.closed.CompareAndSwap(false, true) {
		f.closes++
	}
}

func (f *fakeFactory) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

func (f *fakeFactory) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func (f *fakeFactory) setOpenErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openErr = err
}

func (f *fakeFactory) failOpens(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = n
}

func (f *fakeFactory) validateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.validates
}

func (f *fakeFactory) markUnhealthy(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unhealthy[id] = true
}
