package writes

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fount"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(1000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// scriptedStore replays per-pass outcome scripts keyed by row id and
// records every batch it saw.
type scriptedStore struct {
	mu      sync.Mutex
	passes  int
	batches [][]fount.Document
	// script maps row id to the sequence of outcomes over successive
	// passes; the last entry repeats.
	script   map[any][]StoreResult
	infos    map[any]fount.Document
	writeErr error
	onWrite  func(pass int)
}

func (s *scriptedStore) PreValidate(ctx context.Context, rows []fount.Document) ([]fount.Document, error) {
	infos := make([]fount.Document, len(rows))
	s.mu.Lock()
	defer s.mu.Unlock()
	for n, row := range rows {
		infos[n] = s.infos[row["id"]]
	}
	return infos, nil
}

func (s *scriptedStore) Write(ctx context.Context, rows []fount.Document) ([]StoreResult, error) {
	s.mu.Lock()
	pass := s.passes
	s.passes++
	s.batches = append(s.batches, append([]fount.Document(nil), rows...))
	onWrite := s.onWrite
	err := s.writeErr
	s.mu.Unlock()
	if onWrite != nil {
		onWrite(pass)
	}
	if err != nil {
		return nil, err
	}

	out := make([]StoreResult, len(rows))
	s.mu.Lock()
	defer s.mu.Unlock()
	for n, row := range rows {
		seq := s.script[row["id"]]
		if len(seq) == 0 {
			out[n] = StoreResult{Status: StatusOK, ID: row["id"], Version: 1}
			continue
		}
		step := pass
		if step >= len(seq) {
			step = len(seq) - 1
		}
		out[n] = seq[step]
	}
	return out, nil
}

func (s *scriptedStore) passCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.passes
}

func row(id string, version int) fount.Document {
	doc := fount.Document{"id": id, "body": "x"}
	if version >= 0 {
		doc[fount.VersionField] = uint64(version)
	}
	return doc
}

func TestRunSucceedsInOnePassWithoutContention(t *testing.T) {
	t.Parallel()

	store := &scriptedStore{script: map[any][]StoreResult{
		"a": {{Status: StatusOK, ID: "a", Version: 4}},
	}}
	engine := NewEngine(newFakeClock())

	results := engine.Run(context.Background(), store, nil, []fount.Document{row("a", 3)}, time.Second)
	if store.passCount() != 1 {
		t.Fatalf("passes = %d, want 1", store.passCount())
	}
	if results[0].Err != nil || results[0].Version != 4 {
		t.Fatalf("result = %+v, want version 4", results[0])
	}
}

func TestRunRetriesOnlyVersionedInvalidations(t *testing.T) {
	t.Parallel()

	store := &scriptedStore{script: map[any][]StoreResult{
		"versioned":   {{Status: StatusInvalidated}, {Status: StatusOK, ID: "versioned", Version: 7}},
		"versionless": {{Status: StatusInvalidated}},
	}}
	engine := NewEngine(newFakeClock())

	rows := []fount.Document{row("versioned", 5), row("versionless", -1)}
	results := engine.Run(context.Background(), store, nil, rows, time.Second)

	if results[0].Err != nil || results[0].Version != 7 {
		t.Fatalf("versioned result = %+v, want retried success", results[0])
	}
	if results[1].Err == nil {
		t.Fatal("versionless invalidation retried instead of failing")
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.batches) != 2 || len(store.batches[1]) != 1 {
		t.Fatalf("batches = %v, want second pass with only the versioned row", store.batches)
	}
}

func TestRunDuplicateKeyIsFinal(t *testing.T) {
	t.Parallel()

	store := &scriptedStore{script: map[any][]StoreResult{
		"a": {{Status: StatusDuplicate}},
	}}
	engine := NewEngine(newFakeClock())

	results := engine.Run(context.Background(), store, nil, []fount.Document{row("a", 0)}, time.Second)
	if !errors.Is(results[0].Err, ErrDuplicate) {
		t.Fatalf("result = %+v, want ErrDuplicate", results[0])
	}
	if store.passCount() != 1 {
		t.Fatalf("passes = %d, duplicate must not retry", store.passCount())
	}
}

func TestRunZeroTimeoutAttemptsOncePerRow(t *testing.T) {
	t.Parallel()

	store := &scriptedStore{script: map[any][]StoreResult{
		"contended": {{Status: StatusInvalidated}},
	}}
	engine := NewEngine(newFakeClock())

	results := engine.Run(context.Background(), store, nil, []fount.Document{row("contended", 1)}, 0)
	if !errors.Is(results[0].Err, ErrTimeout) {
		t.Fatalf("result = %+v, want ErrTimeout", results[0])
	}
	if store.passCount() != 1 {
		t.Fatalf("passes = %d, want exactly one attempt", store.passCount())
	}
}

func TestRunDeadlineBoundsRetries(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := &scriptedStore{script: map[any][]StoreResult{
		"hot": {{Status: StatusInvalidated}},
	}}
	store.onWrite = func(int) { clock.advance(40 * time.Millisecond) }
	engine := NewEngine(clock)

	results := engine.Run(context.Background(), store, nil, []fount.Document{row("hot", 1)}, 100*time.Millisecond)
	if !errors.Is(results[0].Err, ErrTimeout) {
		t.Fatalf("result = %+v, want ErrTimeout", results[0])
	}
	// 100ms budget at 40ms per pass: passes at t=0, 40, 80; the pass that
	// would start at 120 is cut off.
	if store.passCount() != 3 {
		t.Fatalf("passes = %d, want 3", store.passCount())
	}
}

func TestRunConvergesUnderCreateContention(t *testing.T) {
	t.Parallel()

	// N versionless creators race one key: the store accepts one and
	// reports duplicates for the rest; nobody retries.
	store := &scriptedStore{script: map[any][]StoreResult{
		"a": {{Status: StatusOK, ID: "k", Version: 0}},
		"b": {{Status: StatusDuplicate}},
		"c": {{Status: StatusDuplicate}},
	}}
	engine := NewEngine(newFakeClock())

	rows := []fount.Document{
		{"id": "a", "key": "k"},
		{"id": "b", "key": "k"},
		{"id": "c", "key": "k"},
	}
	results := engine.Run(context.Background(), store, nil, rows, time.Second)
	wins, losses := 0, 0
	for _, res := range results {
		if res.Err == nil {
			wins++
		} else if errors.Is(res.Err, ErrDuplicate) {
			losses++
		}
	}
	if wins != 1 || losses != 2 {
		t.Fatalf("wins=%d losses=%d, want exactly one winner", wins, losses)
	}
}

// rejectAuthors fails rows whose author differs from the bound user.
type rejectAuthors struct{ user string }

func (v rejectAuthors) ValidateRow(oldDoc, newDoc fount.Document) (bool, error) {
	if oldDoc != nil && oldDoc["author"] != v.user {
		return false, nil
	}
	return newDoc["author"] == v.user, nil
}

func TestRunValidatesRowsBeforeWriting(t *testing.T) {
	t.Parallel()

	store := &scriptedStore{
		infos: map[any]fount.Document{"theirs": {"id": "theirs", "author": "u2"}},
	}
	engine := NewEngine(newFakeClock())

	rows := []fount.Document{
		{"id": "mine", "author": "u1"},
		{"id": "theirs", "author": "u1"},
		{"id": "forged", "author": "u3"},
	}
	results := engine.Run(context.Background(), store, rejectAuthors{user: "u1"}, rows, time.Second)

	if results[0].Err != nil {
		t.Fatalf("own row rejected: %v", results[0].Err)
	}
	if !errors.Is(results[1].Err, ErrNotPermitted) {
		t.Fatalf("foreign-owned row error = %v, want ErrNotPermitted", results[1].Err)
	}
	if !errors.Is(results[2].Err, ErrNotPermitted) {
		t.Fatalf("forged row error = %v, want ErrNotPermitted", results[2].Err)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.batches) != 1 || len(store.batches[0]) != 1 {
		t.Fatalf("written batches = %v, want only the permitted row", store.batches)
	}
}

func TestRunResultsKeepInputOrder(t *testing.T) {
	t.Parallel()

	store := &scriptedStore{script: map[any][]StoreResult{
		"a": {{Status: StatusOK, ID: "a", Version: 1}},
		"b": {{Status: StatusInvalidated}, {Status: StatusOK, ID: "b", Version: 9}},
		"c": {{Status: StatusDuplicate}},
	}}
	engine := NewEngine(newFakeClock())

	rows := []fount.Document{row("a", 0), row("b", 2), row("c", 0)}
	results := engine.Run(context.Background(), store, nil, rows, time.Second)

	if results[0].ID != "a" || results[0].Err != nil {
		t.Fatalf("slot 0 = %+v, want a's success", results[0])
	}
	if results[1].ID != "b" || results[1].Version != 9 {
		t.Fatalf("slot 1 = %+v, want b's retried success", results[1])
	}
	if !errors.Is(results[2].Err, ErrDuplicate) {
		t.Fatalf("slot 2 = %+v, want c's duplicate", results[2])
	}
}

func TestRunWholeBatchStoreFailureIsFinal(t *testing.T) {
	t.Parallel()

	boom := errors.New("store unavailable")
	store := &scriptedStore{writeErr: boom}
	engine := NewEngine(newFakeClock())

	results := engine.Run(context.Background(), store, nil, []fount.Document{row("a", 0)}, time.Second)
	if !errors.Is(results[0].Err, boom) {
		t.Fatalf("result = %+v, want store error", results[0])
	}
}
