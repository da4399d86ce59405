package metadata

import (
	"errors"
	"sync"
)

var errTableDropped = errors.New("metadata: physical table dropped")

// Collection binds a logical, user-facing name to at most one live physical
// table. It is retained in the collection map as long as it is registered or
// still has a table; the two feeds that mutate it are independently
// reconnecting, so every update must be idempotent and order-tolerant.
type Collection struct {
	name string

	mu         sync.Mutex
	table      *Table
	registered bool
}

func newCollection(name string) *Collection {
	return &Collection{name: name}
}

// Name is the logical collection name.
func (c *Collection) Name() string { return c.name }

// Table returns the live physical table, if one is visible yet.
func (c *Collection) Table() (*Table, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.table == nil {
		return nil, false
	}
	return c.table, true
}

func (c *Collection) setRegistered(registered bool) {
	c.mu.Lock()
	c.registered = registered
	c.mu.Unlock()
}

// removable holds iff the collection has no table and is not registered.
func (c *Collection) removable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.table == nil && !c.registered
}

// updateTable applies one index-feed element: create or refresh the owned
// table, reconcile its indexes, and record replica readiness. A table id
// change (drop and recreate under the same logical name) closes the old
// table first.
func (c *Collection) updateTable(id string, indexes map[string]bool, ready bool) {
	c.mu.Lock()
	old := c.table
	if old != nil && old.id != id {
		c.table = nil
	}
	if c.table == nil {
		c.table = newTable(id)
	}
	table := c.table
	c.mu.Unlock()

	if old != nil && old != table {
		old.close(errTableDropped)
	}
	table.reconcile(indexes)
	table.setReady(ready)
}

// clearTable drops the owned table after the store reports it gone.
func (c *Collection) clearTable() {
	c.mu.Lock()
	old := c.table
	c.table = nil
	c.mu.Unlock()
	if old != nil {
		old.close(errTableDropped)
	}
}

// close rejects all waiters on the owned table and its indexes.
func (c *Collection) close(reason error) {
	c.mu.Lock()
	old := c.table
	c.table = nil
	c.registered = false
	c.mu.Unlock()
	if old != nil {
		old.close(reason)
	}
}
