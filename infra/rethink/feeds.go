package rethink

import (
	"context"
	"fmt"

	r "gopkg.in/rethinkdb/rethinkdb-go.v6"

	"fount/internal/metadata"
	"fount/internal/store"
)

// GroupChanges feeds the groups table: every rule of every group, shared by
// all users.
func (s *Store) GroupChanges(ctx context.Context, sess store.Session) (store.Cursor, error) {
	conn, err := unwrap(sess)
	if err != nil {
		return nil, err
	}
	cur, err := r.DB(s.cfg.Project).Table(metadata.GroupsTable).
		Changes(feedOpts).
		Run(conn, r.RunOpts{Context: ctx})
	if err != nil {
		return nil, fmt.Errorf("groups feed: %w", err)
	}
	return newCursor(ctx, cur, nil), nil
}

// UserChanges feeds one user's document, tracking group membership.
func (s *Store) UserChanges(ctx context.Context, sess store.Session, userID string) (store.Cursor, error) {
	conn, err := unwrap(sess)
	if err != nil {
		return nil, err
	}
	cur, err := r.DB(s.cfg.Project).Table(metadata.UsersTable).Get(userID).
		Changes(feedOpts).
		Run(conn, r.RunOpts{Context: ctx})
	if err != nil {
		return nil, fmt.Errorf("user feed %s: %w", userID, err)
	}
	return newCursor(ctx, cur, nil), nil
}
