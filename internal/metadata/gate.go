package metadata

import (
	"context"
	"sync"
)

// gate is the waiter-list primitive behind Index, Table and Collection
// readiness: callers park on Wait until the object becomes ready or is
// closed. Waiters are resolved in FIFO order and are never dropped — a
// replacement object adopts its predecessor's waiters (see Table.reconcile).
type gate struct {
	mu      sync.Mutex
	ready   bool
	err     error // terminal; set once on close
	waiters []chan error
}

// Wait blocks until the gate resolves, the gate closes, or ctx is done.
func (g *gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	if g.err != nil {
		g.mu.Unlock()
		return g.err
	}
	if g.ready {
		g.mu.Unlock()
		return nil
	}
	ch := make(chan error, 1)
	g.waiters = append(g.waiters, ch)
	g.mu.Unlock()

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsReady reports the gate state without blocking.
func (g *gate) IsReady() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ready && g.err == nil
}

// setReady flips readiness. Becoming ready drains all waiters with nil;
// becoming unready simply parks future waiters again.
func (g *gate) setReady(ready bool) {
	g.mu.Lock()
	g.ready = ready && g.err == nil
	var drained []chan error
	if g.ready {
		drained = g.waiters
		g.waiters = nil
	}
	g.mu.Unlock()

	for _, ch := range drained {
		ch <- nil
	}
}

// shut closes the gate, rejecting current and future waiters with err.
// Idempotent; the first reason wins.
func (g *gate) shut(err error) {
	g.mu.Lock()
	if g.err != nil {
		g.mu.Unlock()
		return
	}
	g.err = err
	g.ready = false
	drained := g.waiters
	g.waiters = nil
	g.mu.Unlock()

	for _, ch := range drained {
		ch <- err
	}
}

// adopt transfers the predecessor's pending waiters onto g, preserving their
// order ahead of any waiters g already has.
func (g *gate) adopt(old *gate) {
	old.mu.Lock()
	stolen := old.waiters
	old.waiters = nil
	old.mu.Unlock()
	if len(stolen) == 0 {
		return
	}

	g.mu.Lock()
	ready, err := g.ready, g.err
	if err == nil && !ready {
		g.waiters = append(stolen, g.waiters...)
	}
	g.mu.Unlock()

	// If g already resolved, settle the stolen waiters immediately.
	if err != nil {
		for _, ch := range stolen {
			ch <- err
		}
	} else if ready {
		for _, ch := range stolen {
			ch <- nil
		}
	}
}
