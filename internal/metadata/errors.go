package metadata

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotReady is returned by Sync operations called before the metadata
// union (bootstrap + collection feed + index feed) reports ready, and by
// operations that need a session while the connection is down. Callers
// should report it as "metadata unavailable".
var ErrNotReady = errors.New("metadata: not synced with the store")

// ReservedPrefix marks internal collection names; user requests may not
// touch them and the catalog feeds filter them out.
const ReservedPrefix = "hz_"

// IsReserved reports whether a logical collection name is internal.
func IsReserved(name string) bool {
	return strings.HasPrefix(name, ReservedPrefix)
}

// ReservedNameError rejects user operations on internal collections.
type ReservedNameError struct{ Name string }

func (e ReservedNameError) Error() string {
	return fmt.Sprintf("collection %q: names with prefix %q are reserved", e.Name, ReservedPrefix)
}

// CollectionMissingError: the logical name is not in the registry.
// Recoverable by auto-creating the collection, otherwise user-visible.
type CollectionMissingError struct{ Name string }

func (e CollectionMissingError) Error() string {
	return fmt.Sprintf("collection %q does not exist", e.Name)
}

// CollectionNotReadyError: the collection is registered but its table is not
// yet visible or not yet writable. Recoverable by waiting on the collection.
type CollectionNotReadyError struct{ Collection *Collection }

func (e CollectionNotReadyError) Error() string {
	return fmt.Sprintf("collection %q is not ready", e.Collection.Name())
}

// IndexMissingError: no index covers the requested field paths.
// Recoverable by auto-creating the index, otherwise user-visible.
type IndexMissingError struct {
	Collection string
	Fields     [][]string
}

func (e IndexMissingError) Error() string {
	return fmt.Sprintf("collection %q has no index on %v", e.Collection, e.Fields)
}

// IndexNotReadyError: the index exists but its build has not completed.
// Recoverable by waiting on the index.
type IndexNotReadyError struct{ Index *Index }

func (e IndexNotReadyError) Error() string {
	return fmt.Sprintf("index %q is not ready", e.Index.Name())
}
