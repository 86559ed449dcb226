package dbutils

import (
	"time"
)

// reap runs in its own goroutine for the life of the pool. It sweeps the
// idle set for expired connections on SweepInterval, pings idle connections
// on the slower HealthCheckInterval, and keeps the MinIdle floor warm. It
// never touches in-use connections and never holds the pool mutex across
// factory I/O.
func (p *Pool[T]) reap() {
	defer close(p.reaperDone)

	sweep := time.NewTicker(p.config.SweepInterval)
	defer sweep.Stop()
	health := time.NewTicker(p.config.HealthCheckInterval)
	defer health.Stop()

	for {
		select {
		case <-p.stopReaper:
			return
		case <-sweep.C:
			p.sweepIdle()
		case <-health.C:
			p.checkIdleHealth()
		}
	}
}

// sweepIdle closes idle connections past IdleTimeout or MaxConnLifetime.
// Idle-timeout eviction stops at the MinIdle floor; lifetime expiry does
// not, since a stale connection is not kept just to pad the floor. Evicted
// handles are closed outside the lock, then the floor is replenished.
func (p *Pool[T]) sweepIdle() {
	now := time.Now()

	p.mu.Lock()
	var evict []*pooledConn[T]
	keep := p.idle[:0]
	for _, pc := range p.idle {
		overLifetime := p.config.MaxConnLifetime > 0 && now.Sub(pc.createdAt) > p.config.MaxConnLifetime
		overIdle := p.config.IdleTimeout > 0 && now.Sub(pc.lastUsedAt) > p.config.IdleTimeout

		switch {
		case overLifetime:
			p.counters.EvictedIdle++
		case overIdle && p.openCount > p.config.MinIdle:
			p.counters.EvictedIdle++
		default:
			keep = append(keep, pc)
			continue
		}
		pc.state = connClosed
		p.openCount--
		p.counters.Closes++
		evict = append(evict, pc)
	}
	p.idle = keep
	p.mu.Unlock()

	for _, pc := range evict {
		p.config.Factory.Close(pc.handle)
	}

	p.replenish()
}

// checkIdleHealth pings every currently idle connection. Unhealthy ones are
// closed and replaced without surfacing an error to any caller. While a
// connection is being validated it is out of the idle set, so it can never
// be handed to a caller mid-ping. Once the pool closes the remaining pings
// are skipped so a slow backend cannot stall shutdown.
func (p *Pool[T]) checkIdleHealth() {
	p.mu.Lock()
	batch := p.idle
	p.idle = nil
	for _, pc := range batch {
		pc.state = connValidating
	}
	p.mu.Unlock()

	for i, pc := range batch {
		p.mu.Lock()
		if p.closed {
			rest := batch[i:]
			for _, pc := range rest {
				pc.state = connClosed
				p.openCount--
				p.counters.Closes++
			}
			p.signalDrainedLocked()
			p.mu.Unlock()
			for _, pc := range rest {
				p.config.Factory.Close(pc.handle)
			}
			return
		}
		p.mu.Unlock()

		healthy := p.config.Factory.Validate(p.closeCtx, pc.handle)

		p.mu.Lock()
		if p.closed {
			pc.state = connClosed
			p.openCount--
			p.counters.Closes++
			p.signalDrainedLocked()
			p.mu.Unlock()
			p.config.Factory.Close(pc.handle)
			continue
		}
		if !healthy {
			pc.state = connClosed
			p.openCount--
			p.counters.Closes++
			p.counters.EvictedUnhealthy++
			p.mu.Unlock()
			p.config.Factory.Close(pc.handle)
			continue
		}
		if !p.deliverLocked(pc) {
			pc.state = connIdle
			p.idle = append(p.idle, pc)
		}
		p.mu.Unlock()
	}

	p.replenish()
}

// replenish opens connections to serve queued waiters and restore the
// MinIdle floor, amortizing open latency away from caller-facing acquires.
// Slots are reserved under the lock; the opens happen outside it.
func (p *Pool[T]) replenish() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	need := 0
	for _, w := range p.waiters {
		if !w.delivered {
			need++
		}
	}
	if floor := p.config.MinIdle - p.openCount; floor > need {
		need = floor
	}
	if room := p.config.Capacity - p.openCount; need > room {
		need = room
	}
	if need <= 0 {
		p.mu.Unlock()
		return
	}
	p.openCount += need
	p.mu.Unlock()

	for i := 0; i < need; i++ {
		p.openReserved()
	}
}
