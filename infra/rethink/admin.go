package rethink

import (
	"context"
	"fmt"
	"strings"

	r "gopkg.in/rethinkdb/rethinkdb-go.v6"

	"fount"
	"fount/internal/store"
)

// ServerVersion returns the server's version banner, e.g.
// "rethinkdb 2.4.4 (CLANG 15.0.0)".
func (s *Store) ServerVersion(ctx context.Context, sess store.Session) (string, error) {
	conn, err := unwrap(sess)
	if err != nil {
		return "", err
	}
	cur, err := r.DB("rethinkdb").Table("server_status").
		Nth(0).Field("process").Field("version").
		Run(conn, r.RunOpts{Context: ctx})
	if err != nil {
		return "", fmt.Errorf("query server version: %w", err)
	}
	defer cur.Close()
	var banner string
	if err := cur.One(&banner); err != nil {
		return "", fmt.Errorf("decode server version: %w", err)
	}
	return banner, nil
}

// DatabaseExists reports whether the named database is present.
func (s *Store) DatabaseExists(ctx context.Context, sess store.Session, name string) (bool, error) {
	conn, err := unwrap(sess)
	if err != nil {
		return false, err
	}
	cur, err := r.DBList().Contains(name).Run(conn, r.RunOpts{Context: ctx})
	if err != nil {
		return false, fmt.Errorf("list databases: %w", err)
	}
	defer cur.Close()
	var exists bool
	if err := cur.One(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// CreateDatabase creates the database if absent; a concurrent creator is
// not an error.
func (s *Store) CreateDatabase(ctx context.Context, sess store.Session, name string) error {
	conn, err := unwrap(sess)
	if err != nil {
		return err
	}
	err = r.Branch(r.DBList().Contains(name), nil, r.DBCreate(name)).
		Exec(conn, r.ExecOpts{Context: ctx})
	if err != nil && !alreadyExists(err) {
		return fmt.Errorf("create database %s: %w", name, err)
	}
	return nil
}

// EnsureTable creates the table if absent; a concurrent creator is not an
// error.
func (s *Store) EnsureTable(ctx context.Context, sess store.Session, db, table string) error {
	conn, err := unwrap(sess)
	if err != nil {
		return err
	}
	err = r.Branch(r.DB(db).TableList().Contains(table), nil, r.DB(db).TableCreate(table)).
		Exec(conn, r.ExecOpts{Context: ctx})
	if err != nil && !alreadyExists(err) {
		return fmt.Errorf("create table %s.%s: %w", db, table, err)
	}
	return nil
}

// WaitWritable blocks until every listed table accepts writes.
func (s *Store) WaitWritable(ctx context.Context, sess store.Session, db string, tables ...string) error {
	conn, err := unwrap(sess)
	if err != nil {
		return err
	}
	for _, table := range tables {
		err := r.DB(db).Table(table).Wait(r.WaitOpts{WaitFor: "ready_for_writes"}).
			Exec(conn, r.ExecOpts{Context: ctx})
		if err != nil {
			return fmt.Errorf("wait for %s.%s: %w", db, table, err)
		}
	}
	return nil
}

// InsertIfAbsent writes doc only when no row with its id exists, reporting
// whether this call inserted it. The conditional replace makes concurrent
// seeders idempotent.
func (s *Store) InsertIfAbsent(ctx context.Context, sess store.Session, db, table string, doc fount.Document) (bool, error) {
	conn, err := unwrap(sess)
	if err != nil {
		return false, err
	}
	id, ok := doc["id"]
	if !ok {
		return false, fmt.Errorf("insert-if-absent into %s.%s: document has no id", db, table)
	}
	res, err := r.DB(db).Table(table).Get(id).
		Replace(func(row r.Term) any {
			return r.Branch(row.Eq(nil), doc, row)
		}).
		RunWrite(conn, r.RunOpts{Context: ctx})
	if err != nil {
		return false, fmt.Errorf("insert-if-absent into %s.%s: %w", db, table, err)
	}
	return res.Inserted > 0, nil
}

func alreadyExists(err error) bool {
	return err != nil && strings.Contains(err.Error(), "already exists")
}
