package rethink

import (
	"context"
	"fmt"

	r "gopkg.in/rethinkdb/rethinkdb-go.v6"

	"fount"
	"fount/internal/metadata"
	"fount/internal/store"
)

var feedOpts = r.ChangesOpts{
	IncludeInitial: true,
	IncludeStates:  true,
	IncludeTypes:   true,
}

// CollectionChanges feeds the collections registry. Registry rows are
// already shaped as {"id": <logical name>}.
func (s *Store) CollectionChanges(ctx context.Context, sess store.Session) (store.Cursor, error) {
	conn, err := unwrap(sess)
	if err != nil {
		return nil, err
	}
	cur, err := r.DB(s.cfg.Project).Table(metadata.CollectionsTable).
		Changes(feedOpts).
		Run(conn, r.RunOpts{Context: ctx})
	if err != nil {
		return nil, fmt.Errorf("collections feed: %w", err)
	}
	return newCursor(ctx, cur, nil), nil
}

// IndexChanges feeds table and index status from the server's own system
// tables, merged with per-table index build state. Elements are reshaped to
// {"id", "collection", "ready", "indexes"} docs.
func (s *Store) IndexChanges(ctx context.Context, sess store.Session) (store.Cursor, error) {
	conn, err := unwrap(sess)
	if err != nil {
		return nil, err
	}
	db := s.cfg.Project
	cur, err := r.DB("rethinkdb").Table("table_status").
		Filter(r.Row.Field("db").Eq(db)).
		Changes(feedOpts).
		Merge(func(change r.Term) any {
			status := change.Field("new_val")
			return map[string]any{
				"new_val": r.Branch(status.Eq(nil), nil, status.Merge(map[string]any{
					"indexes": r.DB(db).Table(status.Field("name")).IndexStatus().
						Map(func(idx r.Term) any {
							return []any{idx.Field("index"), idx.Field("ready")}
						}).CoerceTo("object"),
				})),
			}
		}).
		Run(conn, r.RunOpts{Context: ctx})
	if err != nil {
		return nil, fmt.Errorf("index status feed: %w", err)
	}
	return newCursor(ctx, cur, reshapeTableStatus), nil
}

// reshapeTableStatus maps one raw table_status doc into the catalog shape.
func reshapeTableStatus(ch fount.Change) (fount.Change, bool) {
	ch.Old = tableStatusDoc(ch.Old)
	ch.New = tableStatusDoc(ch.New)
	return ch, true
}

func tableStatusDoc(raw fount.Document) fount.Document {
	if raw == nil {
		return nil
	}
	name, _ := raw["name"].(string)
	id, _ := raw["id"].(string)
	ready := false
	if status, ok := raw["status"].(map[string]any); ok {
		ready, _ = status["all_replicas_ready"].(bool)
	}
	indexes, _ := raw["indexes"].(map[string]any)
	return fount.Document{
		"id":         id,
		"collection": name,
		"ready":      ready,
		"indexes":    indexes,
	}
}

// CreateCollection registers the logical name with an insert-if-absent on
// the registry, then ensures the physical table. Two concurrent creators
// both pass the registry step (one inserts, one finds the row) and the
// table branch reduces them to one table.
func (s *Store) CreateCollection(ctx context.Context, sess store.Session, db, name string) error {
	if _, err := s.InsertIfAbsent(ctx, sess, db, metadata.CollectionsTable, fount.Document{"id": name}); err != nil {
		return err
	}
	return s.EnsureTable(ctx, sess, db, name)
}

// CreateIndex starts an index build from its canonical spec. Readiness is
// observed through IndexChanges, never awaited here.
func (s *Store) CreateIndex(ctx context.Context, sess store.Session, db, table string, spec metadata.IndexSpec) error {
	conn, err := unwrap(sess)
	if err != nil {
		return err
	}
	opts := r.IndexCreateOpts{}
	if spec.Geo {
		opts.Geo = true
	}
	if spec.Multi >= 0 {
		opts.Multi = true
	}
	err = r.DB(db).Table(table).
		IndexCreateFunc(spec.Name(), func(row r.Term) any {
			fields := make([]any, len(spec.Fields))
			for n, path := range spec.Fields {
				field := row
				for _, seg := range path {
					field = field.Field(seg)
				}
				fields[n] = field
			}
			if len(fields) == 1 {
				return fields[0]
			}
			return fields
		}, opts).
		Exec(conn, r.ExecOpts{Context: ctx})
	if err != nil && !alreadyExists(err) {
		return fmt.Errorf("create index %s on %s.%s: %w", spec.Name(), db, table, err)
	}
	return nil
}
