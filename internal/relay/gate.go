package relay

import "time"

// Gate is the single-slot backpressure primitive: at most one frame may be
// in flight between the client and the service.
//
// Frames carry no sequence number. Any result or recognized error resolves
// the one outstanding slot, whichever frame it actually answers. A stale
// response reordered by the transport would be misattributed; this is an
// accepted approximation.
//
// Gate is owned by the relay goroutine and is not safe for concurrent use.
type Gate struct {
	inFlight   bool
	epoch      uint64
	acquiredAt time.Time

	sched     Scheduler
	now       func() time.Time
	onRelease func(held time.Duration)
}

func NewGate(sched Scheduler, onRelease func(held time.Duration)) *Gate {
	if onRelease == nil {
		onRelease = func(time.Duration) {}
	}
	return &Gate{sched: sched, now: time.Now, onRelease: onRelease}
}

func (g *Gate) InFlight() bool {
	return g.inFlight
}

// Acquire marks a frame as in flight. Callers check InFlight first.
func (g *Gate) Acquire() {
	g.inFlight = true
	g.epoch++
	g.acquiredAt = g.now()
}

// Release clears the in-flight flag. Releasing an open gate is a no-op.
func (g *Gate) Release() {
	if !g.inFlight {
		return
	}
	g.inFlight = false
	g.onRelease(g.now().Sub(g.acquiredAt))
}

// ReleaseAfter releases the gate once d has elapsed, unless the slot has been
// released and re-acquired in the meantime.
func (g *Gate) ReleaseAfter(d time.Duration) Timer {
	epoch := g.epoch
	return g.sched.AfterFunc(d, func() {
		if g.epoch != epoch {
			return
		}
		g.Release()
	})
}

// Reset discards any stale lock and invalidates pending delayed releases.
func (g *Gate) Reset() {
	g.Release()
	g.epoch++
}
