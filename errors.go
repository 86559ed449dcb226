package dbutils

import (
	"errors"
	"fmt"
)

var (
	// ErrPoolExhausted is returned by Acquire when the wait deadline elapses
	// before a connection becomes available. Callers may retry.
	ErrPoolExhausted = errors.New("dbutils: pool exhausted")

	// ErrPoolClosed is returned by Acquire after Close has been called and
	// delivered to every waiter queued at the time of Close. Terminal.
	ErrPoolClosed = errors.New("dbutils: pool is closed")

	// ErrInvalidRelease reports a release of a connection that was already
	// released or does not belong to this pool. This is a caller bug and is
	// never silently ignored.
	ErrInvalidRelease = errors.New("dbutils: invalid release")
)

// FactoryError wraps a failure from the connection factory's Open. The pool
// surfaces these to the caller immediately rather than retrying internally,
// so callers keep control of backoff policy.
type FactoryError struct {
	Err error
}

func (e *FactoryError) Error() string {
	return fmt.Sprintf("dbutils: factory open failed: %v", e.Err)
}

func (e *FactoryError) Unwrap() error {
	return e.Err
}
