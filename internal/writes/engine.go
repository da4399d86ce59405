// Package writes implements the optimistic-concurrency retry loop shared by
// every mutating endpoint. A row carrying an explicit version is retried on
// version conflicts until it lands against the then-current version or the
// batch deadline expires; versionless rows race under last-write-wins and
// are never retried.
package writes

import (
	"context"
	"errors"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"fount"
	"fount/internal/check"
)

// Sentinel per-row failures.
var (
	ErrDuplicate = errors.New("document already exists")
	ErrTimeout   = errors.New("write timed out")
)

var (
	retriedRows  = metrics.NewCounter("fount_write_retries_total")
	timedOutRows = metrics.NewCounter("fount_write_timeouts_total")
)

// Status classifies one row's outcome within a store write batch.
type Status uint8

const (
	// StatusOK: the row was written; ID and Version carry the result.
	StatusOK Status = iota
	// StatusDuplicate: the primary key already exists. Final.
	StatusDuplicate
	// StatusInvalidated: the version precondition failed because another
	// writer got there first. Retried for versioned rows, final otherwise.
	StatusInvalidated
	// StatusError: any other store-reported failure. Final; Err carries it.
	StatusError
)

// StoreResult is one row's outcome as reported by the store adapter, in the
// same order as the submitted batch.
type StoreResult struct {
	Status  Status
	ID      any
	Version uint64
	Err     error
}

// Store is the slice of the store capability the engine drives: fetch the
// stored documents a validator needs, then apply one conditional batched
// write. Production: rethink.Store. Testing: scripted batches.
type Store interface {
	PreValidate(ctx context.Context, rows []fount.Document) ([]fount.Document, error)
	Write(ctx context.Context, rows []fount.Document) ([]StoreResult, error)
}

// RowValidator authorizes one document pair; nil skips validation for the
// whole batch (the caller holds an unconditional rule).
type RowValidator interface {
	ValidateRow(oldDoc, newDoc fount.Document) (bool, error)
}

// Result is one row's final outcome, positionally matching the input batch.
// Err == nil means success, with ID and Version populated.
type Result struct {
	ID      any
	Version uint64
	Err     error
}

// ErrNotPermitted rejects a row no applicable rule permits.
var ErrNotPermitted = errors.New("operation not permitted")

// Engine runs write batches. Stateless apart from the injected clock.
type Engine struct {
	clock fount.Clock
}

func NewEngine(clock fount.Clock) *Engine {
	if clock == nil {
		clock = fount.RealClock{}
	}
	return &Engine{clock: clock}
}

// pending is one not-yet-settled row and its position in the input batch.
type pending struct {
	index     int
	row       fount.Document
	versioned bool
}

// Run writes the batch and returns one result per input row, in input
// order. Termination is bound by the deadline, not by retry count: the
// first pass always runs, and every later pass first checks the deadline
// so a zero timeout yields exactly one attempt.
func (e *Engine) Run(ctx context.Context, store Store, validator RowValidator, rows []fount.Document, timeout time.Duration) []Result {
	check.Assert(store != nil, "writes.Run: store must not be nil")

	results := make([]Result, len(rows))
	work := make([]pending, 0, len(rows))
	for n, row := range rows {
		_, versioned := fount.Version(row)
		work = append(work, pending{index: n, row: row, versioned: versioned})
	}

	deadline := e.clock.Now().Add(timeout)
	for pass := 0; len(work) > 0; pass++ {
		if pass > 0 && !e.clock.Now().Before(deadline) {
			for _, p := range work {
				results[p.index] = Result{Err: ErrTimeout}
				timedOutRows.Inc()
			}
			return results
		}
		if err := ctx.Err(); err != nil {
			for _, p := range work {
				results[p.index] = Result{Err: err}
			}
			return results
		}

		if validator != nil {
			var err error
			work, err = e.validate(ctx, store, validator, work, results)
			if err != nil {
				for _, p := range work {
					results[p.index] = Result{Err: err}
				}
				return results
			}
			if len(work) == 0 {
				return results
			}
		}

		batch := make([]fount.Document, len(work))
		for n, p := range work {
			batch[n] = p.row
		}
		outcomes, err := store.Write(ctx, batch)
		if err != nil {
			for _, p := range work {
				results[p.index] = Result{Err: err}
			}
			return results
		}
		check.Assert(len(outcomes) == len(work), "writes.Run: store returned wrong batch size")

		retry := work[:0]
		for n, out := range outcomes {
			p := work[n]
			switch out.Status {
			case StatusOK:
				results[p.index] = Result{ID: out.ID, Version: out.Version}
			case StatusDuplicate:
				results[p.index] = Result{Err: ErrDuplicate}
			case StatusInvalidated:
				if p.versioned {
					retriedRows.Inc()
					retry = append(retry, p)
				} else {
					results[p.index] = Result{Err: invalidatedErr(out)}
				}
			default:
				results[p.index] = Result{Err: invalidatedErr(out)}
			}
		}
		work = retry
	}
	return results
}

// validate settles rows the ruleset rejects and returns the approved rest.
func (e *Engine) validate(ctx context.Context, store Store, validator RowValidator, work []pending, results []Result) ([]pending, error) {
	batch := make([]fount.Document, len(work))
	for n, p := range work {
		batch[n] = p.row
	}
	infos, err := store.PreValidate(ctx, batch)
	if err != nil {
		return work, err
	}
	check.Assert(len(infos) == len(work), "writes.validate: store returned wrong batch size")

	approved := work[:0]
	for n, p := range work {
		ok, err := validator.ValidateRow(infos[n], p.row)
		if err != nil {
			results[p.index] = Result{Err: err}
			continue
		}
		if !ok {
			results[p.index] = Result{Err: ErrNotPermitted}
			continue
		}
		approved = append(approved, p)
	}
	return approved, nil
}

func invalidatedErr(out StoreResult) error {
	if out.Err != nil {
		return out.Err
	}
	return errors.New("write invalidated by another request")
}
