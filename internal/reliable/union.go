package reliable

import (
	"fmt"
	"sync"
)

// Union composes named reliables into one: ready iff every child is ready.
// It subscribes to the children but does not own their lifecycle.
type Union struct {
	Base
	mu      sync.Mutex
	childUp map[string]bool
	up      int
	subs    []*Subscription
}

// NewUnion subscribes to every child. Children that are already ready are
// counted immediately, so a union over all-ready children starts ready.
func NewUnion(children map[string]Reliable) *Union {
	u := &Union{childUp: make(map[string]bool, len(children))}
	for name, child := range children {
		name := name
		u.subs = append(u.subs, child.Subscribe(Observer{
			OnReady:   func() { u.childReady(name, len(children)) },
			OnUnready: func(err error) { u.childUnready(name, err) },
		}))
	}
	return u
}

// childReady marks one child up; the last child to come up flips the union.
func (u *Union) childReady(name string, total int) {
	u.mu.Lock()
	if !u.childUp[name] {
		u.childUp[name] = true
		u.up++
	}
	all := u.up == total
	u.mu.Unlock()
	if all {
		u.SetReady()
	}
}

// childUnready flips the union down on the first child to drop; SetUnready
// ignores repeat calls while already unready.
func (u *Union) childUnready(name string, err error) {
	u.mu.Lock()
	if u.childUp[name] {
		u.childUp[name] = false
		u.up--
	}
	u.mu.Unlock()
	u.SetUnready(fmt.Errorf("%s: %w", name, err))
}

// Close detaches from all children. It does not close them. Idempotent.
func (u *Union) Close(reason error) error {
	if reason == nil {
		reason = ErrClosed
	}
	if !u.Shutdown(reason) {
		return nil
	}
	for _, s := range u.subs {
		s.Cancel()
	}
	return nil
}
