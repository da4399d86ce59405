// Package store defines the document-store capability boundary consumed by
// the control plane. The production implementation lives in infra/rethink;
// tests use in-memory fakes.
package store

import (
	"context"

	"fount"
)

// Session is one live logical connection to the backing store. It is owned
// exclusively by the reliable connection that dialed it; dependents only
// borrow it while that connection is ready.
type Session interface {
	// Done is closed when the remote side drops the connection.
	Done() <-chan struct{}
	Close() error
}

// Dialer opens sessions. Production: rethink.Dialer.
// Testing: fake returning scripted sessions.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

// Cursor yields change-feed elements in the store's emission order.
// Next blocks until an element arrives, the feed fails, or ctx is done.
type Cursor interface {
	Next(ctx context.Context) (fount.Change, error)
	Close() error
}

// Query issues one change-feed query on a borrowed session.
type Query func(ctx context.Context, s Session) (Cursor, error)
