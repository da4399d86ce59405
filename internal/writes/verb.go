package writes

// Verb names the conditional batch operation a write request asks for. The
// store adapter maps each verb to the matching branch expression.
type Verb string

const (
	// VerbStore replaces when the version matches, inserts when absent.
	VerbStore Verb = "store"
	// VerbInsert requires the document to be absent.
	VerbInsert Verb = "insert"
	// VerbReplace requires the document to exist with a matching version.
	VerbReplace Verb = "replace"
	// VerbUpsert merges into an existing document or inserts a new one.
	VerbUpsert Verb = "upsert"
	// VerbUpdate merges into an existing document; absence is an error.
	VerbUpdate Verb = "update"
	// VerbRemove deletes the document when the version matches.
	VerbRemove Verb = "remove"
)

// Valid reports whether v is one of the supported verbs.
func (v Verb) Valid() bool {
	switch v {
	case VerbStore, VerbInsert, VerbReplace, VerbUpsert, VerbUpdate, VerbRemove:
		return true
	}
	return false
}
