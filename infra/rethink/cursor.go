package rethink

import (
	"context"
	"errors"
	"io"

	r "gopkg.in/rethinkdb/rethinkdb-go.v6"

	"fount"
	"fount/internal/store"
)

// changeRow is the driver's changefeed element shape.
type changeRow struct {
	Type  string         `rethinkdb:"type"`
	State string         `rethinkdb:"state"`
	Old   map[string]any `rethinkdb:"old_val"`
	New   map[string]any `rethinkdb:"new_val"`
}

// cursor adapts a driver cursor to the port, optionally reshaping each
// element (the catalog feeds rewrite raw system-table docs into the shapes
// the metadata layer expects).
type cursor struct {
	cur       *r.Cursor
	stop      func() bool
	transform func(fount.Change) (fount.Change, bool)
}

// newCursor wires ctx cancellation to the driver cursor: the driver's Next
// blocks without a context, so cancellation closes the cursor under it.
func newCursor(ctx context.Context, cur *r.Cursor, transform func(fount.Change) (fount.Change, bool)) store.Cursor {
	c := &cursor{cur: cur, transform: transform}
	c.stop = context.AfterFunc(ctx, func() { cur.Close() })
	return c
}

func (c *cursor) Next(ctx context.Context) (fount.Change, error) {
	for {
		if err := ctx.Err(); err != nil {
			return fount.Change{}, err
		}
		var row changeRow
		if !c.cur.Next(&row) {
			if err := ctx.Err(); err != nil {
				return fount.Change{}, err
			}
			if err := c.cur.Err(); err != nil {
				return fount.Change{}, err
			}
			return fount.Change{}, io.EOF
		}
		ch := fount.Change{
			Type:  changeType(row),
			State: row.State,
			Old:   row.Old,
			New:   row.New,
		}
		if c.transform != nil {
			var keep bool
			if ch, keep = c.transform(ch); !keep {
				continue
			}
		}
		return ch, nil
	}
}

func (c *cursor) Close() error {
	c.stop()
	err := c.cur.Close()
	if errors.Is(err, r.ErrConnectionClosed) {
		return nil
	}
	return err
}

// changeType normalizes the element type: non-feed queries (and feeds
// without IncludeTypes) omit it, so it is derived from the payload.
func changeType(row changeRow) fount.ChangeType {
	if row.Type != "" {
		return fount.ChangeType(row.Type)
	}
	if row.State != "" {
		return fount.ChangeState
	}
	if row.New == nil && row.Old != nil {
		return fount.ChangeRemove
	}
	return fount.ChangeChange
}
