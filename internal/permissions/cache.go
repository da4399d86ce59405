package permissions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"fount"
	"fount/internal/check"
	"fount/internal/reliable"
	"fount/internal/store"
)

const (
	// DefaultStaleAfter is the staleness bound: the cache may lag the store
	// by at most this long before refusing to authorize requests.
	DefaultStaleAfter = 5000 * time.Millisecond
	// DefaultReadyTimeout bounds the wait for a user's first feed sync.
	DefaultReadyTimeout = 10 * time.Second
)

// ErrDesynced rejects requests when the permission cache has been unready
// longer than the staleness bound. The connection stays up; requests start
// succeeding again once the cache re-syncs.
var ErrDesynced = errors.New("permissions desynced: cannot verify authorization")

// ErrUserReadyTimeout rejects a request whose user feed did not reach its
// first sync in time.
var ErrUserReadyTimeout = errors.New("timed out syncing user permissions")

var desyncRejections = metrics.NewCounter("fount_permission_desyncs_total")

// Feeds is the slice of the store capability the permission cache consumes:
// the shared groups feed and one feed per actively subscribed user.
// Group documents: {"id": <group>, "rules": {<name>: {"template": ...,
// "validator": ...}}}. User documents: {"id": <user>, "groups": [...]}.
// Production: rethink.Store. Testing: scripted cursors.
type Feeds interface {
	GroupChanges(ctx context.Context, s store.Session) (store.Cursor, error)
	UserChanges(ctx context.Context, s store.Session, userID string) (store.Cursor, error)
}

// CacheConfig tunes the permission cache.
type CacheConfig struct {
	StaleAfter   time.Duration
	ReadyTimeout time.Duration
	Retry        time.Duration
}

// UserCache keeps, per connected user, the exact applicable rule set. The
// groups feed is global and shared; user feeds are created lazily on first
// subscribe and torn down when the last handle closes. A fault on one
// user's feed never affects other users or the groups feed.
type UserCache struct {
	conn  *reliable.Conn
	feeds Feeds
	cfg   CacheConfig
	clock fount.Clock

	rules      *RuleMap
	groupsFeed *reliable.Feed

	mu            sync.Mutex
	groupsReady   bool
	groupsDownAt  time.Time
	pendingGroups map[string]fount.Document // buffered while groups feed is unready
	users         map[string]*userEntry
}

// NewUserCache starts the shared groups feed immediately.
func NewUserCache(conn *reliable.Conn, feeds Feeds, cfg CacheConfig, clock fount.Clock) *UserCache {
	check.Assert(conn != nil, "permissions.NewUserCache: conn must not be nil")
	check.Assert(feeds != nil, "permissions.NewUserCache: feeds must not be nil")
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = DefaultReadyTimeout
	}
	if clock == nil {
		clock = fount.RealClock{}
	}
	c := &UserCache{
		conn:          conn,
		feeds:         feeds,
		cfg:           cfg,
		clock:         clock,
		rules:         NewRuleMap(),
		pendingGroups: make(map[string]fount.Document),
		users:         make(map[string]*userEntry),
		groupsDownAt:  clock.Now(),
	}
	c.groupsFeed = reliable.NewFeed(conn, feeds.GroupChanges, c.onGroupChange, cfg.Retry)
	c.groupsFeed.Subscribe(reliable.Observer{
		OnReady:   c.onGroupsReady,
		OnUnready: c.onGroupsUnready,
	})
	return c
}

// Rules exposes the underlying relational index (used by request
// validators and tests).
func (c *UserCache) Rules() *RuleMap { return c.rules }

// onGroupChange buffers elements while the feed has not reached its initial
// sync; afterwards changes apply incrementally.
func (c *UserCache) onGroupChange(ch fount.Change) {
	doc := ch.Doc()
	group, _ := doc["id"].(string)
	if group == "" {
		return
	}
	var value fount.Document
	if !ch.Removal() {
		value = ch.New
	}

	c.mu.Lock()
	if !c.groupsReady {
		c.pendingGroups[group] = value
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.applyGroup(group, value)
}

// onGroupsReady replays the buffered elements as a clean rebuild: the buffer
// holds the feed's full initial state plus anything that raced the sync
// marker, so reset-and-replay is exact where incremental reconciliation of
// the gap would not be.
func (c *UserCache) onGroupsReady() {
	c.mu.Lock()
	c.groupsReady = true
	c.groupsDownAt = time.Time{}
	pending := c.pendingGroups
	c.pendingGroups = make(map[string]fount.Document)
	c.mu.Unlock()

	c.rules.DelAllGroupRules()
	for group, doc := range pending {
		c.applyGroup(group, doc)
	}
	slog.Debug("groups feed synced", "groups", len(pending))
}

func (c *UserCache) onGroupsUnready(err error) {
	c.mu.Lock()
	c.groupsReady = false
	c.groupsDownAt = c.clock.Now()
	c.mu.Unlock()
	slog.Debug("groups feed unready", "err", err)
}

// applyGroup reconciles one group document into the rule map. A nil doc
// deletes the group's rules. Unparseable rules are logged and skipped; they
// never grant access and never poison the rest of the group.
func (c *UserCache) applyGroup(group string, doc fount.Document) {
	parsed := make(map[string]*Rule)
	if doc != nil {
		rawRules, _ := doc["rules"].(map[string]any)
		for name, raw := range rawRules {
			ruleDoc, ok := raw.(map[string]any)
			if !ok {
				slog.Warn("malformed rule document", "group", group, "rule", name)
				continue
			}
			rule, err := ParseRule(group, name, ruleDoc)
			if err != nil {
				slog.Warn("unparseable rule", "group", group, "rule", name, "err", err)
				continue
			}
			parsed[name] = rule
		}
	}
	c.rules.SetGroupRules(group, parsed)
}

// groupsStale reports whether the groups feed has been continuously unready
// beyond the staleness bound.
func (c *UserCache) groupsStale(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.groupsReady && !c.groupsDownAt.IsZero() && now.Sub(c.groupsDownAt) > c.cfg.StaleAfter
}

// Subscribe returns a reference-counted handle on the user's rule feed. The
// first subscriber creates the feed; later ones share it. Close the handle
// to release the reference.
func (c *UserCache) Subscribe(userID string) *Handle {
	c.mu.Lock()
	entry, ok := c.users[userID]
	if !ok {
		entry = newUserEntry(c, userID)
		c.users[userID] = entry
	}
	entry.refs++
	c.mu.Unlock()
	return &Handle{cache: c, entry: entry}
}

func (c *UserCache) release(entry *userEntry) {
	c.mu.Lock()
	entry.refs--
	done := entry.refs == 0
	if done {
		delete(c.users, entry.id)
	}
	c.mu.Unlock()
	if done {
		entry.close(reliable.ErrClosed)
	}
}

// Close tears down the groups feed and every user feed.
func (c *UserCache) Close(reason error) error {
	if reason == nil {
		reason = reliable.ErrClosed
	}
	c.groupsFeed.Close(reason)
	c.mu.Lock()
	users := c.users
	c.users = make(map[string]*userEntry)
	c.mu.Unlock()
	for _, entry := range users {
		entry.close(reason)
	}
	return nil
}

// userEntry tracks one user's membership feed and its freshness.
type userEntry struct {
	id   string
	refs int
	feed *reliable.Feed

	mu       sync.Mutex
	synced   bool
	downAt   time.Time
	groups   map[string]struct{}
	readyCh  chan struct{}
	closedCh chan struct{}
	closeErr error
}

func newUserEntry(c *UserCache, userID string) *userEntry {
	e := &userEntry{
		id:       userID,
		groups:   make(map[string]struct{}),
		readyCh:  make(chan struct{}),
		closedCh: make(chan struct{}),
		downAt:   c.clock.Now(),
	}
	query := func(ctx context.Context, s store.Session) (store.Cursor, error) {
		return c.feeds.UserChanges(ctx, s, userID)
	}
	e.feed = reliable.NewFeed(c.conn, query, func(ch fount.Change) { e.onChange(c, ch) }, c.cfg.Retry)
	e.feed.Subscribe(reliable.Observer{
		OnReady:   func() { e.onReady() },
		OnUnready: func(err error) { e.onUnready(c, err) },
	})
	return e
}

// onChange applies a membership diff. Any change element — even one
// carrying an identical group list — proves the feed is live, closing the
// unready staleness window.
func (e *userEntry) onChange(c *UserCache, ch fount.Change) {
	next := make(map[string]struct{})
	if !ch.Removal() {
		if raw, ok := ch.New["groups"].([]any); ok {
			for _, g := range raw {
				if name, ok := g.(string); ok {
					next[name] = struct{}{}
				}
			}
		}
	}

	e.mu.Lock()
	prev := e.groups
	e.groups = next
	e.downAt = time.Time{}
	e.mu.Unlock()

	for group := range prev {
		if _, ok := next[group]; !ok {
			c.rules.DelUserGroup(e.id, group)
		}
	}
	for group := range next {
		if _, ok := prev[group]; !ok {
			c.rules.AddUserGroup(e.id, group)
		}
	}
}

func (e *userEntry) onReady() {
	e.mu.Lock()
	e.downAt = time.Time{}
	first := !e.synced
	e.synced = true
	e.mu.Unlock()
	if first {
		close(e.readyCh)
	}
}

func (e *userEntry) onUnready(c *UserCache, err error) {
	e.mu.Lock()
	e.downAt = c.clock.Now()
	e.mu.Unlock()
}

// close tears down the feed and rejects every caller parked in WaitReady
// with the close reason. Idempotent.
func (e *userEntry) close(reason error) {
	e.feed.Close(reason)
	e.mu.Lock()
	if e.closeErr == nil {
		e.closeErr = reason
		close(e.closedCh)
	}
	e.mu.Unlock()
}

func (e *userEntry) stale(now time.Time, bound time.Duration) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.downAt.IsZero() && now.Sub(e.downAt) > bound
}

// Handle is one subscriber's reference to a user's cache entry.
type Handle struct {
	cache *UserCache
	entry *userEntry
	once  sync.Once
}

// Close releases the reference; the user's feed is torn down when the last
// handle closes. Idempotent.
func (h *Handle) Close() {
	h.once.Do(func() { h.cache.release(h.entry) })
}

// WaitReady blocks until the user's feed first syncs, the entry closes, the
// fixed ready timeout elapses, or ctx is done.
func (h *Handle) WaitReady(ctx context.Context) error {
	select {
	case <-h.entry.readyCh:
		return nil
	case <-h.entry.closedCh:
		h.entry.mu.Lock()
		reason := h.entry.closeErr
		h.entry.mu.Unlock()
		return fmt.Errorf("user %s permissions: %w", h.entry.id, reason)
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(h.cache.cfg.ReadyTimeout):
		return fmt.Errorf("%w (user %s)", ErrUserReadyTimeout, h.entry.id)
	}
}

// Validator waits for the user's feed to sync, then returns the per-request
// validator for the given request options.
func (h *Handle) Validator(ctx context.Context, req fount.Document, account fount.Account) (*RequestValidator, error) {
	if err := h.WaitReady(ctx); err != nil {
		return nil, err
	}
	return &RequestValidator{handle: h, req: req, account: account}, nil
}
