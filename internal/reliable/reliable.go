// Package reliable turns unreliable store resources into resources with an
// explicit ready/unready lifecycle: Conn redials dropped connections, Feed
// re-issues failed change-feed queries, and Union composes named reliables
// into one. Faults never escape to callers; the only caller-visible failure
// mode is prolonged unreadiness.
package reliable

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultRetryDelay is the fixed delay between reconnect and resubscribe
// attempts.
const DefaultRetryDelay = 1 * time.Second

// ErrClosed is the reason delivered to subscribers and waiters when a
// reliable is closed without a more specific cause.
var ErrClosed = errors.New("reliable: closed")

// Observer receives lifecycle transitions. OnReady and OnUnready strictly
// alternate, starting with an implicit unready at construction; a subscriber
// joining an already-ready reliable receives OnReady immediately.
type Observer struct {
	OnReady   func()
	OnUnready func(err error)
}

// Reliable is anything with the ready/unready lifecycle.
type Reliable interface {
	Subscribe(Observer) *Subscription
	Ready() bool
}

// Subscription detaches one observer when cancelled.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Cancel removes the observer. Idempotent.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// Base is the embeddable lifecycle core: an observer list with a
// copy-then-notify discipline. Transitions must be driven by exactly one
// loop goroutine per owner, so observers see them in order. The zero value
// is an unready, open Base.
type Base struct {
	mu     sync.Mutex
	ready  bool
	closed bool
	subs   map[uint64]Observer
	nextID uint64
}

func (b *Base) Subscribe(o Observer) *Subscription {
	b.mu.Lock()
	if b.subs == nil {
		b.subs = make(map[uint64]Observer)
	}
	id := b.nextID
	b.nextID++
	if !b.closed {
		b.subs[id] = o
	}
	deliverReady := b.ready && !b.closed
	b.mu.Unlock()

	if deliverReady && o.OnReady != nil {
		o.OnReady()
	}
	return &Subscription{cancel: func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}}
}

// Ready reports the current lifecycle state.
func (b *Base) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready && !b.closed
}

// SetReady flips to ready and notifies. Redundant calls are ignored, so the
// onReady/onUnready alternation holds.
func (b *Base) SetReady() {
	b.mu.Lock()
	if b.closed || b.ready {
		b.mu.Unlock()
		return
	}
	b.ready = true
	obs := b.observers()
	b.mu.Unlock()

	for _, o := range obs {
		if o.OnReady != nil {
			o.OnReady()
		}
	}
}

// SetUnready flips to unready and notifies. Ignored while already unready or
// closed.
func (b *Base) SetUnready(err error) {
	b.mu.Lock()
	if b.closed || !b.ready {
		b.mu.Unlock()
		return
	}
	b.ready = false
	obs := b.observers()
	b.mu.Unlock()

	for _, o := range obs {
		if o.OnUnready != nil {
			o.OnUnready(err)
		}
	}
}

// Shutdown marks the Base closed, delivering a final OnUnready if it was
// ready. Returns false when already closed. No events fire after shutdown.
func (b *Base) Shutdown(reason error) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.closed = true
	wasReady := b.ready
	b.ready = false
	obs := b.observers()
	b.subs = nil
	b.mu.Unlock()

	if wasReady {
		for _, o := range obs {
			if o.OnUnready != nil {
				o.OnUnready(reason)
			}
		}
	}
	return true
}

// observers snapshots the subscriber list; callers hold b.mu.
func (b *Base) observers() []Observer {
	obs := make([]Observer, 0, len(b.subs))
	for _, o := range b.subs {
		obs = append(obs, o)
	}
	return obs
}

// SleepContext sleeps for d, returning false if ctx is done first. Shared by
// every retry loop in the control plane.
func SleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
