// Package fount holds the shared domain types of the fount control plane:
// documents, change-feed events, authenticated accounts, and the clock
// abstraction used by staleness tracking.
package fount

// VersionField is the reserved attribute carrying a document's write version.
// Every document written through the gateway carries it; a document without
// it has never been written optimistically and carries no version constraint.
const VersionField = "$hz_v$"

// Document is a schemaless document as stored in the backing store.
type Document = map[string]any

// Version extracts the document's write version. The bool is false when the
// document carries no version field (or a malformed one).
func Version(doc Document) (uint64, bool) {
	if doc == nil {
		return 0, false
	}
	switch v := doc[VersionField].(type) {
	case uint64:
		return v, true
	case int64:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	case int:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	case float64:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	default:
		return 0, false
	}
}

// Account is the authenticated caller context supplied by the auth layer.
// The ID is an opaque JSON value (the store's primary keys are not always
// strings) and is compared by deep equality in rule templates.
type Account struct {
	ID     any
	Groups []string
}
