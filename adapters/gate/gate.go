// Package gate bounds concurrent image processing with a counting
// semaphore. One gate exists per process, created at startup and handed to
// every request path; excess arrivals accumulate latency here, never
// failures. Waiters are served in strict FIFO order: a freed slot goes to
// the longest-waiting caller, so sustained load cannot starve early
// arrivals.
package gate

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/pixelpress/pixelpress/ports"
)

// Gate implements ports.Gate on a weighted semaphore.
type Gate struct {
	sem      *semaphore.Weighted
	capacity int64
	inUse    atomic.Int64
	waiting  atomic.Int64
}

// New creates a gate with the given slot capacity.
func New(capacity int64) *Gate {
	if capacity <= 0 {
		capacity = 1
	}
	return &Gate{
		sem:      semaphore.NewWeighted(capacity),
		capacity: capacity,
	}
}

// Acquire blocks until a slot is free or ctx is done. A cancelled waiter is
// removed from the queue without consuming a slot.
func (g *Gate) Acquire(ctx context.Context) error {
	if g.sem.TryAcquire(1) {
		g.inUse.Add(1)
		return nil
	}

	g.waiting.Add(1)
	err := g.sem.Acquire(ctx, 1)
	g.waiting.Add(-1)
	if err != nil {
		return err
	}

	g.inUse.Add(1)
	return nil
}

// Release returns a slot, waking the longest-waiting caller if one exists.
// Must be called exactly once per successful Acquire.
func (g *Gate) Release() {
	g.inUse.Add(-1)
	g.sem.Release(1)
}

// Capacity returns the configured maximum number of slots.
func (g *Gate) Capacity() int64 {
	return g.capacity
}

// InUse returns the number of slots currently held.
func (g *Gate) InUse() int64 {
	return g.inUse.Load()
}

// Waiting returns the number of callers queued on Acquire.
func (g *Gate) Waiting() int64 {
	return g.waiting.Load()
}

// Ensure interface compliance.
var _ ports.Gate = (*Gate)(nil)
