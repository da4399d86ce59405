package metadata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"fount"
	"fount/internal/check"
	"fount/internal/reliable"
	"fount/internal/store"
)

// System tables kept in the project database.
const (
	CollectionsTable = ReservedPrefix + "collections"
	GroupsTable      = ReservedPrefix + "groups"
	UsersAuthTable   = ReservedPrefix + "users_auth"
	UsersTable       = "users"
)

// Bootstrap rows upserted once per fresh deployment.
const (
	AdminUserID = "admin"
	AdminGroup  = "admin"
	// adminRuleName is the unrestricted rule granted to the admin group.
	adminRuleName = "carte_blanche"
)

// errStaleAttempt aborts a bootstrap run that lost its connection epoch.
// It is silently discarded, never reported.
var errStaleAttempt = errors.New("metadata: stale bootstrap attempt")

// Admin is the slice of the store capability the bootstrap sequence needs.
// Production: rethink.Store. Testing: fake recording the step sequence.
type Admin interface {
	ServerVersion(ctx context.Context, s store.Session) (string, error)
	DatabaseExists(ctx context.Context, s store.Session, name string) (bool, error)
	CreateDatabase(ctx context.Context, s store.Session, name string) error
	EnsureTable(ctx context.Context, s store.Session, db, table string) error
	WaitWritable(ctx context.Context, s store.Session, db string, tables ...string) error
	InsertIfAbsent(ctx context.Context, s store.Session, db, table string, doc fount.Document) (bool, error)
}

// InitConfig tunes the bootstrap sequence.
type InitConfig struct {
	Project    string // project database name
	LegacyDB   string // pre-2.x layout database; its presence is a configuration fault
	AutoCreate bool   // create the project database and system tables if absent
	Retry      time.Duration
}

// Init runs the ordered bootstrap sequence each time its connection becomes
// ready, tagged with a fresh attempt token per connection epoch. A run whose
// token is no longer current aborts silently between steps; genuine failures
// retry the whole sequence on a fixed delay under the same token. Init is a
// Reliable: it reports ready once a run completes.
type Init struct {
	reliable.Base
	conn  *reliable.Conn
	admin Admin
	cfg   InitConfig
	sub   *reliable.Subscription

	mu      sync.Mutex // guards attempt and cancel
	attempt uuid.UUID
	cancel  context.CancelFunc
}

// NewInit subscribes to conn and bootstraps on every connection epoch.
func NewInit(conn *reliable.Conn, admin Admin, cfg InitConfig) *Init {
	check.Assert(conn != nil, "metadata.NewInit: conn must not be nil")
	check.Assert(admin != nil, "metadata.NewInit: admin must not be nil")
	if cfg.Retry <= 0 {
		cfg.Retry = reliable.DefaultRetryDelay
	}
	i := &Init{
		conn:  conn,
		admin: admin,
		cfg:   cfg,
	}
	i.sub = conn.Subscribe(reliable.Observer{
		OnReady:   i.start,
		OnUnready: i.stop,
	})
	return i
}

func (i *Init) start() {
	ctx, cancel := context.WithCancel(context.Background())
	token := uuid.New()

	i.mu.Lock()
	if i.cancel != nil {
		i.cancel()
	}
	i.attempt = token
	i.cancel = cancel
	i.mu.Unlock()

	go i.run(ctx, token)
}

func (i *Init) stop(reason error) {
	i.mu.Lock()
	if i.cancel != nil {
		i.cancel()
		i.cancel = nil
	}
	i.attempt = uuid.Nil
	i.mu.Unlock()

	i.SetUnready(reason)
}

// current reports whether token still names the live attempt.
func (i *Init) current(token uuid.UUID) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.attempt == token
}

func (i *Init) run(ctx context.Context, token uuid.UUID) {
	for i.current(token) && ctx.Err() == nil {
		err := i.bootstrap(ctx, token)
		if err == nil {
			i.SetReady()
			return
		}
		if errors.Is(err, errStaleAttempt) {
			return // a newer epoch owns bootstrap now
		}
		slog.Warn("metadata bootstrap failed, retrying", "err", err, "retry", i.cfg.Retry)
		if !reliable.SleepContext(ctx, i.cfg.Retry) {
			return
		}
	}
}

// bootstrap is the strictly ordered setup sequence; the attempt
// token is re-validated after every step so a run that straddled a reconnect
// performs no further side effects.
func (i *Init) bootstrap(ctx context.Context, token uuid.UUID) error {
	sess, ok := i.conn.Session()
	if !ok {
		return errStaleAttempt
	}

	banner, err := i.admin.ServerVersion(ctx, sess)
	if err != nil {
		return fmt.Errorf("server version: %w", err)
	}
	if err := checkServerVersion(banner); err != nil {
		return err
	}
	if err := i.recheck(token); err != nil {
		return err
	}

	if i.cfg.LegacyDB != "" {
		legacy, err := i.admin.DatabaseExists(ctx, sess, i.cfg.LegacyDB)
		if err != nil {
			return fmt.Errorf("legacy check: %w", err)
		}
		if legacy {
			return fmt.Errorf("legacy database %q exists; migrate or remove it before starting the gateway", i.cfg.LegacyDB)
		}
		if err := i.recheck(token); err != nil {
			return err
		}
	}

	if err := i.ensureSchema(ctx, token, sess); err != nil {
		return err
	}

	tables := []string{CollectionsTable, GroupsTable, UsersAuthTable, UsersTable}
	if err := i.admin.WaitWritable(ctx, sess, i.cfg.Project, tables...); err != nil {
		return fmt.Errorf("wait for system tables: %w", err)
	}
	if err := i.recheck(token); err != nil {
		return err
	}

	return i.seedAdmin(ctx, token, sess)
}

func (i *Init) ensureSchema(ctx context.Context, token uuid.UUID, sess store.Session) error {
	if !i.cfg.AutoCreate {
		exists, err := i.admin.DatabaseExists(ctx, sess, i.cfg.Project)
		if err != nil {
			return fmt.Errorf("project database check: %w", err)
		}
		if !exists {
			return fmt.Errorf("project database %q does not exist and auto-create is disabled", i.cfg.Project)
		}
		return i.recheck(token)
	}

	if err := i.admin.CreateDatabase(ctx, sess, i.cfg.Project); err != nil {
		return fmt.Errorf("create project database: %w", err)
	}
	if err := i.recheck(token); err != nil {
		return err
	}
	for _, table := range []string{CollectionsTable, GroupsTable, UsersAuthTable, UsersTable} {
		if err := i.admin.EnsureTable(ctx, sess, i.cfg.Project, table); err != nil {
			return fmt.Errorf("ensure table %s: %w", table, err)
		}
		if err := i.recheck(token); err != nil {
			return err
		}
	}
	return nil
}

// seedAdmin idempotently inserts the users-collection registration, the
// bootstrap admin user and the admin group with an unrestricted rule, using
// insert-only-if-absent replaces. It runs after WaitWritable so the system
// tables are known to accept writes.
func (i *Init) seedAdmin(ctx context.Context, token uuid.UUID, sess store.Session) error {
	// The users table is itself a collection; register it.
	if _, err := i.admin.InsertIfAbsent(ctx, sess, i.cfg.Project, CollectionsTable,
		fount.Document{"id": UsersTable}); err != nil {
		return fmt.Errorf("register users collection: %w", err)
	}
	if err := i.recheck(token); err != nil {
		return err
	}

	inserted, err := i.admin.InsertIfAbsent(ctx, sess, i.cfg.Project, UsersTable, fount.Document{
		"id":     AdminUserID,
		"groups": []any{AdminGroup},
	})
	if err != nil {
		return fmt.Errorf("seed admin user: %w", err)
	}
	if err := i.recheck(token); err != nil {
		return err
	}
	if inserted {
		slog.Info("created bootstrap admin user", "id", AdminUserID)
	}

	inserted, err = i.admin.InsertIfAbsent(ctx, sess, i.cfg.Project, GroupsTable, fount.Document{
		"id": AdminGroup,
		"rules": map[string]any{
			adminRuleName: map[string]any{"template": map[string]any{"$any": true}},
		},
	})
	if err != nil {
		return fmt.Errorf("seed admin group: %w", err)
	}
	if inserted {
		slog.Info("created bootstrap admin group", "id", AdminGroup)
	}
	return i.recheck(token)
}

func (i *Init) recheck(token uuid.UUID) error {
	if !i.current(token) {
		return errStaleAttempt
	}
	return nil
}

// Close stops the current attempt and unsubscribes. Idempotent.
func (i *Init) Close(reason error) error {
	if reason == nil {
		reason = reliable.ErrClosed
	}
	if !i.Shutdown(reason) {
		return nil
	}
	i.sub.Cancel()
	i.stop(reason)
	return nil
}
