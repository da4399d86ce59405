// Package rethink is the production implementation of the store capability
// ports against RethinkDB. Everything driver-specific stays behind this
// package: sessions, changefeed cursors, the system catalog queries, and
// the conditional batch write verbs.
package rethink

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	r "gopkg.in/rethinkdb/rethinkdb-go.v6"

	"fount/internal/store"
)

const (
	// defaultDialTimeout bounds one connection attempt; the reliable
	// connection retries on its own schedule.
	defaultDialTimeout = 5 * time.Second
	// livenessInterval is how often a session is probed for remote close.
	// The driver reports disconnects only on use, so sessions are polled.
	livenessInterval = 1 * time.Second
)

// Config locates the store and names the project database.
type Config struct {
	Address  string
	Project  string
	Username string
	Password string
	TLS      *tls.Config

	DialTimeout time.Duration
}

// Store implements every store-facing port of the control plane: the
// dialer, the bootstrap admin operations, the metadata catalog feeds, the
// permission feeds, and the write verbs.
type Store struct {
	cfg Config
}

func New(cfg Config) *Store {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	return &Store{cfg: cfg}
}

// Dial opens one session and starts its liveness probe.
func (s *Store) Dial(ctx context.Context) (store.Session, error) {
	sess, err := r.Connect(r.ConnectOpts{
		Address:    s.cfg.Address,
		Username:   s.cfg.Username,
		Password:   s.cfg.Password,
		TLSConfig:  s.cfg.TLS,
		Timeout:    s.cfg.DialTimeout,
		InitialCap: 1,
		MaxOpen:    2,
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", s.cfg.Address, err)
	}
	return newSession(sess), nil
}

// Session wraps one driver session with an explicit closed-by-remote
// signal.
type Session struct {
	sess *r.Session
	done chan struct{}
	stop chan struct{}
}

func newSession(sess *r.Session) *Session {
	s := &Session{
		sess: sess,
		done: make(chan struct{}),
		stop: make(chan struct{}),
	}
	go s.watch()
	return s
}

// watch polls the driver for liveness and closes done on remote drop.
func (s *Session) watch() {
	ticker := time.NewTicker(livenessInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if !s.sess.IsConnected() {
				close(s.done)
				return
			}
		}
	}
}

// Done is closed when the remote side drops the connection.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close shuts the driver session and the liveness probe. Idempotent at the
// driver's discretion; callers close at most once.
func (s *Session) Close() error {
	close(s.stop)
	return s.sess.Close()
}

// unwrap recovers the driver session behind a borrowed port session.
func unwrap(s store.Session) (*r.Session, error) {
	rs, ok := s.(*Session)
	if !ok {
		return nil, fmt.Errorf("rethink: foreign session %T", s)
	}
	return rs.sess, nil
}
