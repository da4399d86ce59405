package metadata

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"fount"
	"fount/internal/check"
	"fount/internal/reliable"
	"fount/internal/store"
)

// Catalog is the slice of the store capability that keeps collection and
// index metadata synchronized. The change cursors deliver documents shaped
// by the adapter:
//
//   - collection changes: {"id": <logical name>}
//   - index changes: {"id": <table id>, "collection": <logical name>,
//     "ready": <all replicas ready>, "indexes": {<index name>: <built>}}
//
// Production: rethink.Store. Testing: fakes driven by scripted cursors.
type Catalog interface {
	CollectionChanges(ctx context.Context, s store.Session) (store.Cursor, error)
	IndexChanges(ctx context.Context, s store.Session) (store.Cursor, error)
	// CreateCollection registers name in the collections table via an
	// insert-if-absent and creates the physical table; concurrent creators
	// for the same name must reduce to exactly one table.
	CreateCollection(ctx context.Context, s store.Session, db, name string) error
	CreateIndex(ctx context.Context, s store.Session, db, table string, spec IndexSpec) error
}

// SyncConfig tunes the metadata layer.
type SyncConfig struct {
	Project    string
	LegacyDB   string
	AutoCreate bool // create missing project database/system tables at bootstrap
	Retry      time.Duration
}

// Sync maintains the authoritative in-memory map of logical collections to
// physical tables and indexes. It is ready iff its three children are:
// the bootstrap sequence, the collection feed, and the index feed. The two
// feeds reconnect independently, so nothing here assumes cross-feed order.
type Sync struct {
	conn    *reliable.Conn
	catalog Catalog
	cfg     SyncConfig

	init           *Init
	collectionFeed *reliable.Feed
	indexFeed      *reliable.Feed
	union          *reliable.Union

	collections *xsync.MapOf[string, *Collection]
}

// NewSync wires the bootstrap and both catalog feeds onto conn. Sync borrows
// conn; closing Sync does not close it.
func NewSync(conn *reliable.Conn, admin Admin, catalog Catalog, cfg SyncConfig) *Sync {
	check.Assert(catalog != nil, "metadata.NewSync: catalog must not be nil")
	if cfg.Retry <= 0 {
		cfg.Retry = reliable.DefaultRetryDelay
	}
	s := &Sync{
		conn:        conn,
		catalog:     catalog,
		cfg:         cfg,
		collections: xsync.NewMapOf[string, *Collection](),
	}
	s.init = NewInit(conn, admin, InitConfig{
		Project:    cfg.Project,
		LegacyDB:   cfg.LegacyDB,
		AutoCreate: cfg.AutoCreate,
		Retry:      cfg.Retry,
	})
	s.collectionFeed = reliable.NewFeed(conn, catalog.CollectionChanges, s.onCollectionChange, cfg.Retry)
	s.indexFeed = reliable.NewFeed(conn, catalog.IndexChanges, s.onIndexChange, cfg.Retry)
	s.union = reliable.NewUnion(map[string]reliable.Reliable{
		"bootstrap":       s.init,
		"collection_feed": s.collectionFeed,
		"index_feed":      s.indexFeed,
	})
	return s
}

// Subscribe exposes the union's lifecycle to the protocol layer.
func (s *Sync) Subscribe(o reliable.Observer) *reliable.Subscription {
	return s.union.Subscribe(o)
}

// Ready reports whether metadata is synced and safe to serve from.
func (s *Sync) Ready() bool { return s.union.Ready() }

// onCollectionChange applies one element of the collections-registry feed.
func (s *Sync) onCollectionChange(ch fount.Change) {
	name, _ := ch.Doc()["id"].(string)
	if name == "" || IsReserved(name) {
		return
	}
	if ch.Removal() {
		if col, ok := s.collections.Load(name); ok {
			col.setRegistered(false)
			s.prune(col)
		}
		return
	}
	s.ensureCollection(name).setRegistered(true)
}

// onIndexChange applies one element of the table/index status feed. An
// element for a collection the registry feed has not delivered yet still
// creates the placeholder; the feeds are not ordered relative to each other.
func (s *Sync) onIndexChange(ch fount.Change) {
	doc := ch.Doc()
	name, _ := doc["collection"].(string)
	if name == "" || IsReserved(name) {
		return
	}
	col := s.ensureCollection(name)

	if ch.Removal() {
		col.clearTable()
		s.prune(col)
		return
	}

	id, _ := doc["id"].(string)
	ready, _ := doc["ready"].(bool)
	indexes := make(map[string]bool)
	if raw, ok := doc["indexes"].(map[string]any); ok {
		for idxName, v := range raw {
			built, _ := v.(bool)
			indexes[idxName] = built
		}
	}
	col.updateTable(id, indexes, ready)
}

// ensureCollection resolves or creates the named collection placeholder.
func (s *Sync) ensureCollection(name string) *Collection {
	col, _ := s.collections.LoadOrCompute(name, func() *Collection {
		return newCollection(name)
	})
	return col
}

// prune drops the collection from the map once it is neither registered nor
// backed by a table.
func (s *Sync) prune(col *Collection) {
	s.collections.Compute(col.Name(), func(cur *Collection, loaded bool) (*Collection, bool) {
		if loaded && cur == col && cur.removable() {
			return nil, true // delete
		}
		return cur, !loaded
	})
}

// Collection resolves a logical name, distinguishing the error kinds:
// reserved name, metadata not synced, collection missing from the registry,
// and collection present but not ready.
func (s *Sync) Collection(name string) (*Collection, error) {
	if IsReserved(name) {
		return nil, ReservedNameError{Name: name}
	}
	if !s.union.Ready() {
		return nil, ErrNotReady
	}
	col, ok := s.collections.Load(name)
	if !ok {
		return nil, CollectionMissingError{Name: name}
	}
	col.mu.Lock()
	registered, table := col.registered, col.table
	col.mu.Unlock()
	if !registered {
		return nil, CollectionMissingError{Name: name}
	}
	if table == nil || !table.IsReady() {
		return nil, CollectionNotReadyError{Collection: col}
	}
	return col, nil
}

// CreateCollection registers a new collection, tolerating a concurrent
// creator: the losing caller finds the winner's table and proceeds. The
// local placeholder is rolled back when the registry write fails and nothing
// else claimed it in the meantime.
func (s *Sync) CreateCollection(ctx context.Context, name string) (*Collection, error) {
	if IsReserved(name) {
		return nil, ReservedNameError{Name: name}
	}
	if !s.union.Ready() {
		return nil, ErrNotReady
	}
	col := s.ensureCollection(name)
	if _, ok := col.Table(); ok {
		return col, nil // already has a table; nothing to create
	}

	sess, ok := s.conn.Session()
	if !ok {
		return nil, ErrNotReady
	}
	if err := s.catalog.CreateCollection(ctx, sess, s.cfg.Project, name); err != nil {
		s.prune(col)
		return nil, fmt.Errorf("create collection %q: %w", name, err)
	}
	collectionsCreated.Inc()
	slog.Info("collection created", "name", name)
	return col, nil
}

// CreateIndex asks the store to build an index on the collection's table.
// Readiness arrives later through the index feed.
func (s *Sync) CreateIndex(ctx context.Context, col *Collection, spec IndexSpec) error {
	if !s.union.Ready() {
		return ErrNotReady
	}
	sess, ok := s.conn.Session()
	if !ok {
		return ErrNotReady
	}
	if err := s.catalog.CreateIndex(ctx, sess, s.cfg.Project, col.Name(), spec); err != nil {
		return fmt.Errorf("create index %q on %q: %w", spec.Name(), col.Name(), err)
	}
	indexesCreated.Inc()
	slog.Info("index created", "collection", col.Name(), "index", spec.Name())
	return nil
}

// Close cascades: bootstrap, both feeds, the union, and every collection's
// table and index waiters are rejected with reason. The shared connection is
// left to its owner.
func (s *Sync) Close(reason error) error {
	if reason == nil {
		reason = reliable.ErrClosed
	}
	s.union.Close(reason)
	s.init.Close(reason)
	s.collectionFeed.Close(reason)
	s.indexFeed.Close(reason)
	s.collections.Range(func(name string, col *Collection) bool {
		col.close(reason)
		s.collections.Delete(name)
		return true
	})
	return nil
}
