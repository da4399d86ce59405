package rethink

import (
	"context"
	"fmt"
	"strings"

	r "gopkg.in/rethinkdb/rethinkdb-go.v6"

	"fount"
	"fount/internal/store"
	"fount/internal/writes"
)

// Raised inside the conditional write terms and recognized back from the
// write response's first_error.
const (
	errMarkerInvalidated = "write invalidated"
	errMarkerDuplicate   = "duplicate primary key"
	errMarkerMissing     = "document is missing"
)

// Writer builds the conditional batch executor for one verb on one table.
func (s *Store) Writer(sess store.Session, db, table string, verb writes.Verb) writes.Store {
	return &writer{sess: sess, db: db, table: table, verb: verb}
}

type writer struct {
	sess  store.Session
	db    string
	table string
	verb  writes.Verb
}

// PreValidate fetches the stored documents the validator needs, one per
// row in row order; rows without an id (or not yet stored) get nil.
func (w *writer) PreValidate(ctx context.Context, rows []fount.Document) ([]fount.Document, error) {
	conn, err := unwrap(w.sess)
	if err != nil {
		return nil, err
	}
	ids := make([]any, 0, len(rows))
	for _, row := range rows {
		if id, ok := row["id"]; ok {
			ids = append(ids, id)
		}
	}
	infos := make([]fount.Document, len(rows))
	if len(ids) == 0 {
		return infos, nil
	}

	cur, err := r.DB(w.db).Table(w.table).GetAll(ids...).Run(conn, r.RunOpts{Context: ctx})
	if err != nil {
		return nil, fmt.Errorf("fetch existing rows: %w", err)
	}
	defer cur.Close()
	var docs []map[string]any
	if err := cur.All(&docs); err != nil {
		return nil, fmt.Errorf("decode existing rows: %w", err)
	}
	byID := make(map[any]fount.Document, len(docs))
	for _, doc := range docs {
		byID[doc["id"]] = doc
	}
	for n, row := range rows {
		if id, ok := row["id"]; ok {
			infos[n] = byID[id]
		}
	}
	return infos, nil
}

// Write applies the batch, one conditional term per row, and classifies
// each outcome for the retry engine.
func (w *writer) Write(ctx context.Context, rows []fount.Document) ([]writes.StoreResult, error) {
	conn, err := unwrap(w.sess)
	if err != nil {
		return nil, err
	}
	results := make([]writes.StoreResult, len(rows))
	for n, row := range rows {
		results[n] = w.writeRow(ctx, conn, row)
	}
	return results, nil
}

func (w *writer) writeRow(ctx context.Context, conn *r.Session, row fount.Document) writes.StoreResult {
	id, hasID := row["id"]
	if !hasID {
		return w.insertFresh(ctx, conn, row)
	}

	expected, versioned := fount.Version(row)
	doc := stripVersion(row)

	res, err := r.DB(w.db).Table(w.table).Get(id).
		Replace(func(old r.Term) any {
			return w.replacement(old, doc, expected, versioned)
		}, r.ReplaceOpts{ReturnChanges: true}).
		RunWrite(conn, r.RunOpts{Context: ctx})
	if err != nil {
		return writes.StoreResult{Status: writes.StatusError, Err: err}
	}
	if res.Errors > 0 {
		return classify(res.FirstError)
	}

	version := uint64(0)
	if len(res.Changes) > 0 {
		if newDoc, ok := res.Changes[0].NewValue.(map[string]any); ok {
			version, _ = fount.Version(newDoc)
		}
	}
	return writes.StoreResult{Status: writes.StatusOK, ID: id, Version: version}
}

// replacement builds the per-row conditional term. Every accepted write
// stores the incremented version; precondition failures raise markers that
// classify recognizes.
func (w *writer) replacement(old r.Term, doc fount.Document, expected uint64, versioned bool) r.Term {
	fresh := r.Expr(doc).Merge(map[string]any{fount.VersionField: 0})
	next := func(base r.Term) r.Term {
		return base.Merge(map[string]any{
			fount.VersionField: old.Field(fount.VersionField).Default(-1).Add(1),
		})
	}
	versionOK := r.Branch(
		r.Expr(versioned),
		old.Field(fount.VersionField).Default(-1).Eq(expected),
		true,
	)

	switch w.verb {
	case writes.VerbInsert:
		return r.Branch(old.Eq(nil), fresh, r.Error(errMarkerDuplicate))
	case writes.VerbStore:
		return r.Branch(old.Eq(nil),
			r.Branch(r.Expr(versioned), r.Error(errMarkerInvalidated), fresh),
			r.Branch(versionOK, next(r.Expr(doc)), r.Error(errMarkerInvalidated)))
	case writes.VerbReplace:
		return r.Branch(old.Eq(nil), r.Error(errMarkerMissing),
			r.Branch(versionOK, next(r.Expr(doc)), r.Error(errMarkerInvalidated)))
	case writes.VerbUpsert:
		return r.Branch(old.Eq(nil),
			r.Branch(r.Expr(versioned), r.Error(errMarkerInvalidated), fresh),
			r.Branch(versionOK, next(old.Merge(r.Expr(doc))), r.Error(errMarkerInvalidated)))
	case writes.VerbUpdate:
		return r.Branch(old.Eq(nil), r.Error(errMarkerMissing),
			r.Branch(versionOK, next(old.Merge(r.Expr(doc))), r.Error(errMarkerInvalidated)))
	case writes.VerbRemove:
		return r.Branch(old.Eq(nil), nil,
			r.Branch(versionOK, nil, r.Error(errMarkerInvalidated)))
	default:
		return r.Error(fmt.Sprintf("unknown verb %q", w.verb))
	}
}

// insertFresh handles rows without an id: the store generates one. Only
// insert-like verbs can do this.
func (w *writer) insertFresh(ctx context.Context, conn *r.Session, row fount.Document) writes.StoreResult {
	switch w.verb {
	case writes.VerbInsert, writes.VerbStore, writes.VerbUpsert:
	default:
		return writes.StoreResult{
			Status: writes.StatusError,
			Err:    fmt.Errorf("verb %q requires a document id", w.verb),
		}
	}
	doc := stripVersion(row)
	doc[fount.VersionField] = 0
	res, err := r.DB(w.db).Table(w.table).
		Insert(doc, r.InsertOpts{Conflict: "error"}).
		RunWrite(conn, r.RunOpts{Context: ctx})
	if err != nil {
		return writes.StoreResult{Status: writes.StatusError, Err: err}
	}
	if res.Errors > 0 {
		return classify(res.FirstError)
	}
	var id any
	if len(res.GeneratedKeys) > 0 {
		id = res.GeneratedKeys[0]
	}
	return writes.StoreResult{Status: writes.StatusOK, ID: id, Version: 0}
}

// classify maps a write response error string onto the engine's taxonomy.
func classify(firstError string) writes.StoreResult {
	msg := strings.ToLower(firstError)
	switch {
	case strings.Contains(msg, errMarkerDuplicate):
		return writes.StoreResult{Status: writes.StatusDuplicate}
	case strings.Contains(msg, errMarkerInvalidated):
		return writes.StoreResult{Status: writes.StatusInvalidated}
	default:
		return writes.StoreResult{
			Status: writes.StatusError,
			Err:    fmt.Errorf("write failed: %s", firstError),
		}
	}
}

// stripVersion copies a row without its version attribute; the store owns
// version assignment.
func stripVersion(row fount.Document) fount.Document {
	doc := make(fount.Document, len(row))
	for k, v := range row {
		if k == fount.VersionField {
			continue
		}
		doc[k] = v
	}
	return doc
}
