package metadata

import (
	"errors"
	"log/slog"
	"sync"
)

var errIndexDropped = errors.New("metadata: index dropped")

// Table is the live state of one physical table: its index map plus a
// readiness gate resolved when the store reports all replicas ready. A Table
// is owned by exactly one Collection.
type Table struct {
	gate
	id string

	mu      sync.Mutex
	indexes map[string]*Index
}

func newTable(id string) *Table {
	return &Table{
		id:      id,
		indexes: map[string]*Index{PrimaryIndexName: newPrimaryIndex()},
	}
}

// ID is the physical table identifier reported by the store.
func (t *Table) ID() string { return t.id }

// Index returns the named index.
func (t *Table) Index(name string) (*Index, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx, ok := t.indexes[name]
	return idx, ok
}

// CoveringIndex returns a ready check target for the given field paths:
// the index if present (ready or not), else nil.
func (t *Table) CoveringIndex(fields [][]string) *Index {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, idx := range t.indexes {
		if idx.Covers(fields) {
			return idx
		}
	}
	return nil
}

// reconcile replaces the index map with the given name→ready statuses.
// Indexes no longer listed are closed (their waiters rejected); listed
// indexes get fresh objects that adopt any pending waiters from a same-named
// predecessor, so no waiter is ever dropped by a metadata refresh. Undecodable
// (foreign) index names are skipped.
func (t *Table) reconcile(statuses map[string]bool) {
	t.mu.Lock()
	next := map[string]*Index{PrimaryIndexName: t.indexes[PrimaryIndexName]}
	for name, ready := range statuses {
		if name == PrimaryIndexName {
			continue
		}
		spec, err := DecodeIndexName(name)
		if err != nil {
			slog.Debug("skipping foreign index", "table", t.id, "err", err)
			continue
		}
		idx := newIndex(name, spec)
		if prev, ok := t.indexes[name]; ok {
			idx.adopt(&prev.gate)
		}
		idx.setReady(ready)
		next[name] = idx
	}
	dropped := make([]*Index, 0)
	for name, idx := range t.indexes {
		if _, ok := next[name]; !ok {
			dropped = append(dropped, idx)
		}
	}
	t.indexes = next
	t.mu.Unlock()

	for _, idx := range dropped {
		idx.shut(errIndexDropped)
	}
}

// close rejects the table's waiters and every index's waiters with reason.
func (t *Table) close(reason error) {
	t.mu.Lock()
	indexes := t.indexes
	t.indexes = map[string]*Index{}
	t.mu.Unlock()

	for _, idx := range indexes {
		idx.shut(reason)
	}
	t.shut(reason)
}
