package scheduler

import "sync/atomic"

// Guard is a single-flight latch: at most one holder at a time, and contenders
// are turned away instead of queued.
type Guard struct {
	busy atomic.Bool
}

// TryAcquire takes the latch if it is free.
func (g *Guard) TryAcquire() bool {
	return g.busy.CompareAndSwap(false, true)
}

// Release frees the latch.
func (g *Guard) Release() {
	g.busy.Store(false)
}

// Busy reports whether the latch is held.
func (g *Guard) Busy() bool {
	return g.busy.Load()
}
