package dbutils

import (
	"context"
	"fmt"
	"time"
)

// Factory is the capability a backend adapter must provide for the pool to
// open, validate, and close raw connections. The pool never interprets the
// handle; it only moves it between callers.
//
// Close must be best-effort and idempotent: closing an already-broken handle
// must not panic. Open failures are treated as transient and fail only the
// acquire (or reaper replacement) attempt that triggered them.
type Factory[T any] interface {
	// Open establishes a new raw connection.
	Open(ctx context.Context) (T, error)

	// Validate reports whether an idle connection is still healthy.
	Validate(ctx context.Context, handle T) bool

	// Close releases the backend resources of a handle.
	Close(handle T)
}

// Config holds the configuration for creating a connection pool.
type Config[T any] struct {
	// Factory opens, validates, and closes raw connections.
	// Required.
	Factory Factory[T]

	// Capacity is the maximum number of simultaneously open connections,
	// idle and in-use combined. Must be at least 1.
	Capacity int

	// MinIdle is the floor of open connections the reaper maintains.
	// Idle-timeout eviction never shrinks the pool below it, and the reaper
	// opportunistically opens replacements to keep it warm.
	// Must be between 0 and Capacity.
	MinIdle int

	// AcquireTimeout bounds how long Acquire waits for a connection when the
	// caller's context carries no deadline. Zero means wait until the
	// context is cancelled.
	AcquireTimeout time.Duration

	// IdleTimeout is how long a connection may sit idle before the reaper
	// closes it. Zero disables idle eviction.
	IdleTimeout time.Duration

	// MaxConnLifetime caps the total age of a connection. Connections past
	// it are discarded on release or by the reaper regardless of MinIdle.
	// Zero means unlimited.
	MaxConnLifetime time.Duration

	// MaxConnUses caps how many times a connection is handed out before it
	// is discarded on release. Zero means unlimited.
	MaxConnUses int64

	// SweepInterval is the cadence of the reaper's idle/lifetime sweep.
	// Defaults to 30 seconds.
	SweepInterval time.Duration

	// HealthCheckInterval is the cadence of the reaper's Validate pass over
	// idle connections. Defaults to 2 minutes.
	HealthCheckInterval time.Duration
}

const (
	defaultSweepInterval       = 30 * time.Second
	defaultHealthCheckInterval = 2 * time.Minute
)

// Validate checks if the configuration is valid.
func (c *Config[T]) Validate() error {
	if c.Factory == nil {
		return fmt.Errorf("Factory is required")
	}

	if c.Capacity < 1 {
		return fmt.Errorf("Capacity must be at least 1, got %d", c.Capacity)
	}

	if c.MinIdle < 0 || c.MinIdle > c.Capacity {
		return fmt.Errorf("MinIdle must be between 0 and Capacity (%d), got %d", c.Capacity, c.MinIdle)
	}

	if c.AcquireTimeout < 0 || c.IdleTimeout < 0 || c.MaxConnLifetime < 0 ||
		c.SweepInterval < 0 || c.HealthCheckInterval < 0 {
		return fmt.Errorf("durations must not be negative")
	}

	if c.MaxConnUses < 0 {
		return fmt.Errorf("MaxConnUses must not be negative, got %d", c.MaxConnUses)
	}

	return nil
}

// withDefaults returns a copy with zero-valued cadences filled in.
func (c *Config[T]) withDefaults() Config[T] {
	out := *c
	if out.SweepInterval == 0 {
		out.SweepInterval = defaultSweepInterval
	}
	if out.HealthCheckInterval == 0 {
		out.HealthCheckInterval = defaultHealthCheckInterval
	}
	return out
}
