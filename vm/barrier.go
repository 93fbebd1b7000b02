package vm

import (
	"context"
	"sync"
)

// ---------------------------------------------------------------------------
// Barrier: reusable rendezvous for a fixed number of lanes
// ---------------------------------------------------------------------------

// generation is one trip of the barrier. done is closed when the trip
// completes or the barrier breaks; err is set before the close.
type generation struct {
	done chan struct{}
	err  error
}

// Barrier parks callers of Wait until parties of them have arrived. Once
// broken, every current and future Wait returns the breaking error until
// Reset.
type Barrier struct {
	mu      sync.Mutex
	parties int
	count   int
	trips   int
	gen     *generation
	broken  error
}

// NewBarrier returns a barrier for parties callers.
func NewBarrier(parties int) *Barrier {
	return &Barrier{parties: parties, gen: &generation{done: make(chan struct{})}}
}

// Wait blocks until every party has arrived. The last to arrive runs action,
// if any, before anyone is released; an action error breaks the barrier.
// Cancelling ctx breaks the barrier for everyone.
func (b *Barrier) Wait(ctx context.Context, action func() error) error {
	b.mu.Lock()
	if b.broken != nil {
		err := b.broken
		b.mu.Unlock()
		return err
	}
	g := b.gen
	b.count++
	if b.count == b.parties {
		var err error
		if action != nil {
			err = action()
		}
		if err != nil {
			b.broken = err
		} else {
			b.trips++
		}
		g.err = err
		b.count = 0
		b.gen = &generation{done: make(chan struct{})}
		close(g.done)
		b.mu.Unlock()
		return err
	}
	b.mu.Unlock()

	select {
	case <-g.done:
		return g.err
	case <-ctx.Done():
		b.Break(&LaneError{Kind: Aborted, Lane: -1, Err: ctx.Err()})
		<-g.done
		return g.err
	}
}

// Break releases every waiter with err. Only the first break is kept.
func (b *Barrier) Break(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.broken == nil {
		b.broken = err
	}
	g := b.gen
	g.err = b.broken
	b.count = 0
	b.gen = &generation{done: make(chan struct{})}
	close(g.done)
}

// Broken returns the error that broke the barrier, or nil.
func (b *Barrier) Broken() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.broken
}

// Trips returns the number of completed rendezvous.
func (b *Barrier) Trips() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.trips
}

// Reset repairs a broken barrier and clears the trip count. It must not be
// called while anyone is waiting.
func (b *Barrier) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.broken = nil
	b.count = 0
	b.trips = 0
	b.gen = &generation{done: make(chan struct{})}
}
