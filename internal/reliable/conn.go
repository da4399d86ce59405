package reliable

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"fount/internal/check"
	"fount/internal/store"
)

var errConnectionLost = errors.New("store connection lost")

// Conn owns a single logical connection to the document store and redials it
// with a fixed delay whenever it drops. The live session is owned exclusively
// by the Conn; dependents borrow it via Session only while ready.
type Conn struct {
	Base
	dialer store.Dialer
	retry  time.Duration

	cancel context.CancelFunc
	done   chan struct{}

	sessMu sync.Mutex
	sess   store.Session
}

// NewConn starts the dial loop immediately. A retry of zero uses
// DefaultRetryDelay.
func NewConn(dialer store.Dialer, retry time.Duration) *Conn {
	check.Assert(dialer != nil, "reliable.NewConn: dialer must not be nil")
	if retry <= 0 {
		retry = DefaultRetryDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		dialer: dialer,
		retry:  retry,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go c.run(ctx)
	return c
}

func (c *Conn) run(ctx context.Context) {
	defer close(c.done)

	bo := backoff.WithContext(backoff.NewConstantBackOff(c.retry), ctx)
	for {
		var sess store.Session
		err := backoff.Retry(func() error {
			s, err := c.dialer.Dial(ctx)
			if err != nil {
				slog.Debug("store dial failed", "err", err)
				return err
			}
			sess = s
			return nil
		}, bo)
		if err != nil {
			return // loop context cancelled
		}
		storeConnects.Inc()

		c.sessMu.Lock()
		c.sess = sess
		c.sessMu.Unlock()
		c.SetReady()

		select {
		case <-ctx.Done():
			c.dropSession()
			return
		case <-sess.Done():
		}

		c.dropSession()
		c.SetUnready(errConnectionLost)
		storeDisconnects.Inc()
		slog.Info("store connection lost, reconnecting", "retry", c.retry)
	}
}

func (c *Conn) dropSession() {
	c.sessMu.Lock()
	sess := c.sess
	c.sess = nil
	c.sessMu.Unlock()
	if sess != nil {
		sess.Close()
	}
}

// Session borrows the live session. The borrow is valid only while the Conn
// stays ready; callers must tolerate the session dying underneath them.
func (c *Conn) Session() (store.Session, bool) {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()
	if c.sess == nil {
		return nil, false
	}
	return c.sess, true
}

// Close stops the dial loop and closes the live session, if any. Idempotent.
func (c *Conn) Close(reason error) error {
	if reason == nil {
		reason = ErrClosed
	}
	if !c.Shutdown(reason) {
		return nil
	}
	c.cancel()
	c.dropSession()
	<-c.done
	return nil
}
