package reliable

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"fount"
	"fount/internal/check"
	"fount/internal/store"
)

// Feed runs a change-feed query whenever its Conn is ready and re-issues it
// after any failure. It observes the Conn but does not own it. Feed becomes
// ready when the feed delivers its initial-snapshot marker; every other
// element is handed to the change callback in emission order.
type Feed struct {
	Base
	id       string
	conn     *Conn
	query    store.Query
	onChange func(fount.Change)
	retry    time.Duration
	sub      *Subscription

	mu          sync.Mutex
	epochCancel context.CancelFunc
}

// NewFeed subscribes to conn and starts pumping as soon as it is ready.
// A retry of zero uses DefaultRetryDelay.
func NewFeed(conn *Conn, query store.Query, onChange func(fount.Change), retry time.Duration) *Feed {
	check.Assert(conn != nil, "reliable.NewFeed: conn must not be nil")
	check.Assert(query != nil, "reliable.NewFeed: query must not be nil")
	if retry <= 0 {
		retry = DefaultRetryDelay
	}
	f := &Feed{
		id:       uuid.NewString(),
		conn:     conn,
		query:    query,
		onChange: onChange,
		retry:    retry,
	}
	f.sub = conn.Subscribe(Observer{
		OnReady:   f.start,
		OnUnready: f.stop,
	})
	return f
}

func (f *Feed) start() {
	f.mu.Lock()
	if f.epochCancel != nil {
		f.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	f.epochCancel = cancel
	f.mu.Unlock()
	go f.pump(ctx)
}

func (f *Feed) stop(reason error) {
	f.mu.Lock()
	cancel := f.epochCancel
	f.epochCancel = nil
	f.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	f.SetUnready(reason)
}

// pump is the self-healing loop: run the query, drain the cursor, and on any
// failure drop to unready and try again after the fixed delay. It exits when
// the connection epoch ends.
func (f *Feed) pump(ctx context.Context) {
	for ctx.Err() == nil {
		sess, ok := f.conn.Session()
		if !ok {
			return // connection dropped; stop() owns the state transition
		}
		cur, err := f.query(ctx, sess)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Debug("changefeed query failed", "feed", f.id, "err", err)
			f.SetUnready(err)
			if !SleepContext(ctx, f.retry) {
				return
			}
			continue
		}
		f.consume(ctx, cur)
		cur.Close()
		if ctx.Err() != nil {
			return
		}
		feedResyncs.Inc()
		if !SleepContext(ctx, f.retry) {
			return
		}
	}
}

func (f *Feed) consume(ctx context.Context, cur store.Cursor) {
	for {
		change, err := cur.Next(ctx)
		if err != nil {
			if ctx.Err() == nil {
				slog.Debug("changefeed interrupted", "feed", f.id, "err", err)
				f.SetUnready(err)
			}
			return
		}
		if change.IsSynced() {
			f.SetReady()
			continue
		}
		if f.onChange != nil {
			f.onChange(change)
		}
	}
}

// Close stops the pump, closes the live cursor via epoch cancellation, and
// unsubscribes from the connection. Idempotent.
func (f *Feed) Close(reason error) error {
	if reason == nil {
		reason = ErrClosed
	}
	if !f.Shutdown(reason) {
		return nil
	}
	f.sub.Cancel()
	f.stop(reason)
	return nil
}
