package fount

// ChangeType classifies one change-feed element.
type ChangeType string

const (
	ChangeInitial   ChangeType = "initial"
	ChangeAdd       ChangeType = "add"
	ChangeChange    ChangeType = "change"
	ChangeRemove    ChangeType = "remove"
	ChangeUninitial ChangeType = "uninitial"
	ChangeState     ChangeType = "state"
)

// StateReady is the State value marking the end of a feed's initial snapshot.
const StateReady = "ready"

// Change is a single element of a change feed, in the store's emission order.
// State carries the feed state marker when Type is ChangeState; otherwise Old
// and New hold the document before and after the change (either may be nil).
type Change struct {
	Type  ChangeType
	State string
	Old   Document
	New   Document
}

// IsSynced reports whether the change is the "initial snapshot delivered"
// state marker.
func (c Change) IsSynced() bool {
	return c.Type == ChangeState && c.State == StateReady
}

// Removal reports whether the change removes its document from the result
// set, either by deletion or by leaving the feed's range.
func (c Change) Removal() bool {
	return c.Type == ChangeRemove || c.Type == ChangeUninitial || (c.New == nil && c.Old != nil)
}

// Doc returns the document the change is about: the new value when present,
// the old one otherwise.
func (c Change) Doc() Document {
	if c.New != nil {
		return c.New
	}
	return c.Old
}
