// Package control is the façade the protocol layer talks to: it resolves
// logical collections and indexes with the auto-create/auto-wait recovery
// policy, obtains per-request permission validators, and drives write
// batches through the retry engine.
package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fount"
	"fount/internal/check"
	"fount/internal/metadata"
	"fount/internal/permissions"
	"fount/internal/reliable"
	"fount/internal/writes"
)

// DefaultWriteTimeout bounds a write batch's retry loop when the request
// does not carry its own timeout.
const DefaultWriteTimeout = 10 * time.Second

// ErrNotPermitted rejects a request no applicable rule matches.
var ErrNotPermitted = errors.New("request not permitted")

// Config tunes the gateway façade.
type Config struct {
	Project      string
	AutoCreate   bool // create missing collections and indexes on demand
	Retry        time.Duration
	WriteTimeout time.Duration
}

// Gateway composes the metadata layer, the permission cache and the write
// engine. It borrows the shared connection; closing the gateway closes the
// composed subsystems but leaves the connection to its owner.
type Gateway struct {
	conn    *reliable.Conn
	sync    *metadata.Sync
	cache   *permissions.UserCache
	engine  *writes.Engine
	writers Writers
	cfg     Config
}

func NewGateway(conn *reliable.Conn, sync *metadata.Sync, cache *permissions.UserCache, writers Writers, cfg Config) *Gateway {
	check.Assert(sync != nil, "control.NewGateway: sync must not be nil")
	check.Assert(cache != nil, "control.NewGateway: cache must not be nil")
	if cfg.Retry <= 0 {
		cfg.Retry = reliable.DefaultRetryDelay
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	return &Gateway{
		conn:    conn,
		sync:    sync,
		cache:   cache,
		engine:  writes.NewEngine(nil),
		writers: writers,
		cfg:     cfg,
	}
}

// Subscribe returns a reference-counted handle on userID's permission
// cache entry; requests validate through it.
func (g *Gateway) Subscribe(userID string) *permissions.Handle {
	return g.cache.Subscribe(userID)
}

// Resolve maps a logical collection name to its ready collection, applying
// the recovery policy: a not-synced metadata layer is waited out, a missing
// collection is created when auto-create is on, and a present-but-not-ready
// collection is waited on. Anything else surfaces to the caller.
func (g *Gateway) Resolve(ctx context.Context, name string) (*metadata.Collection, error) {
	created := false
	for {
		col, err := g.sync.Collection(name)
		if err == nil {
			return col, nil
		}

		var notReady metadata.CollectionNotReadyError
		switch {
		case errors.Is(err, metadata.ErrNotReady):
			if werr := g.WaitSynced(ctx); werr != nil {
				return nil, werr
			}
		case errors.As(err, &notReady):
			if werr := waitCollection(ctx, notReady.Collection, g.cfg.Retry); werr != nil {
				return nil, werr
			}
		case errors.As(err, new(metadata.CollectionMissingError)):
			switch {
			case created:
				// Created but not yet visible through the catalog feed.
				if !reliable.SleepContext(ctx, g.cfg.Retry) {
					return nil, ctx.Err()
				}
			case !g.cfg.AutoCreate:
				return nil, err
			default:
				if _, cerr := g.sync.CreateCollection(ctx, name); cerr != nil {
					return nil, cerr
				}
				created = true
			}
		default:
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
}

// ResolveIndex finds a ready index covering the given field paths on an
// already-resolved collection, creating it when auto-create is on.
func (g *Gateway) ResolveIndex(ctx context.Context, col *metadata.Collection, fields [][]string) (*metadata.Index, error) {
	created := false
	for {
		table, ok := col.Table()
		if !ok {
			return nil, metadata.CollectionNotReadyError{Collection: col}
		}
		idx := table.CoveringIndex(fields)
		switch {
		case idx == nil:
			if !g.cfg.AutoCreate || created {
				return nil, metadata.IndexMissingError{Collection: col.Name(), Fields: fields}
			}
			spec := metadata.IndexSpec{Fields: fields, Multi: -1}
			if err := g.sync.CreateIndex(ctx, col, spec); err != nil {
				return nil, err
			}
			created = true
			// The index appears through the feed; poll until it does.
			if !reliable.SleepContext(ctx, g.cfg.Retry) {
				return nil, ctx.Err()
			}
		case idx.IsReady():
			return idx, nil
		default:
			if err := idx.Wait(ctx); err != nil {
				return nil, fmt.Errorf("index %q: %w", idx.Name(), err)
			}
		}
	}
}

// WriteRequest is one mutating request: an ordered batch of rows applied
// with a single verb to a single collection.
type WriteRequest struct {
	Collection string
	Verb       writes.Verb
	Rows       []fount.Document
	Timeout    time.Duration
}

// Write authorizes and executes one write batch, returning a result per
// row in input order. The batch-level failure modes (unknown verb, no
// matching rule, metadata unavailable, permissions desynced) return an
// error instead of per-row results.
func (g *Gateway) Write(ctx context.Context, v *permissions.RequestValidator, req WriteRequest) ([]writes.Result, error) {
	if !req.Verb.Valid() {
		return nil, fmt.Errorf("unknown write verb %q", req.Verb)
	}
	allowed, err := v.Allowed()
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, ErrNotPermitted
	}

	col, err := g.Resolve(ctx, req.Collection)
	if err != nil {
		return nil, err
	}
	table, ok := col.Table()
	if !ok {
		return nil, metadata.CollectionNotReadyError{Collection: col}
	}
	sess, ok := g.conn.Session()
	if !ok {
		return nil, metadata.ErrNotReady
	}

	unconditional, err := v.Unconditional()
	if err != nil {
		return nil, err
	}
	var rowValidator writes.RowValidator
	if !unconditional {
		rowValidator = v
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = g.cfg.WriteTimeout
	}
	store := g.writers.Writer(sess, g.cfg.Project, table.ID(), req.Verb)
	return g.engine.Run(ctx, store, rowValidator, req.Rows, timeout), nil
}

// WaitSynced blocks until the metadata layer reports ready.
func (g *Gateway) WaitSynced(ctx context.Context) error {
	ready := make(chan struct{})
	var once sync.Once
	sub := g.sync.Subscribe(reliable.Observer{
		OnReady: func() { once.Do(func() { close(ready) }) },
	})
	defer sub.Cancel()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// waitCollection parks until the collection's table is ready. While the
// table is not yet visible there is nothing to wait on, so the caller is
// polled back on the standard delay.
func waitCollection(ctx context.Context, col *metadata.Collection, retry time.Duration) error {
	table, ok := col.Table()
	if !ok {
		if !reliable.SleepContext(ctx, retry) {
			return ctx.Err()
		}
		return nil
	}
	return table.Wait(ctx)
}

// Close tears down the composed subsystems. The shared connection is left
// to its owner.
func (g *Gateway) Close(reason error) error {
	if reason == nil {
		reason = reliable.ErrClosed
	}
	g.sync.Close(reason)
	g.cache.Close(reason)
	return nil
}
