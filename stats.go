package dbutils

// counters accumulates lifetime totals. Guarded by Pool.mu.
type counters struct {
	Hits             uint64
	Opens            uint64
	OpenFailures     uint64
	Closes           uint64
	Timeouts         uint64
	Invalidated      uint64
	EvictedIdle      uint64
	EvictedUnhealthy uint64
}

// Stat is a point-in-time snapshot of pool state plus lifetime counters.
type Stat struct {
	// OpenCount is the number of open connections, idle and in-use.
	OpenCount int

	// IdleCount is the number of connections available for reuse.
	IdleCount int

	// InUseCount is the number of connections currently borrowed.
	InUseCount int

	// WaitingCount is the number of callers blocked in Acquire.
	WaitingCount int

	// Hits counts acquires served from the idle set.
	Hits uint64

	// Opens and OpenFailures count factory Open outcomes.
	Opens        uint64
	OpenFailures uint64

	// Closes counts connections handed back to the factory for closing.
	Closes uint64

	// Timeouts counts acquires that gave up waiting.
	Timeouts uint64

	// Invalidated counts connections discarded via Conn.Invalidate.
	Invalidated uint64

	// EvictedIdle and EvictedUnhealthy count reaper evictions by cause.
	EvictedIdle      uint64
	EvictedUnhealthy uint64
}

// Stats returns a snapshot of the pool's current state.
func (p *Pool[T]) Stats() Stat {
	p.mu.Lock()
	defer p.mu.Unlock()

	waiting := 0
	for _, w := range p.waiters {
		if !w.delivered {
			waiting++
		}
	}

	return Stat{
		OpenCount:        p.openCount,
		IdleCount:        len(p.idle),
		InUseCount:       len(p.inUse),
		WaitingCount:     waiting,
		Hits:             p.counters.Hits,
		Opens:            p.counters.Opens,
		OpenFailures:     p.counters.OpenFailures,
		Closes:           p.counters.Closes,
		Timeouts:         p.counters.Timeouts,
		Invalidated:      p.counters.Invalidated,
		EvictedIdle:      p.counters.EvictedIdle,
		EvictedUnhealthy: p.counters.EvictedUnhealthy,
	}
}
