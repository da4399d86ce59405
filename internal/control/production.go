package control

import (
	"fount"
	"fount/config"
	"fount/infra/rethink"
	"fount/internal/metadata"
	"fount/internal/permissions"
	"fount/internal/reliable"
)

// Production bundles a running gateway with the connection it owns; the
// in-process API stays on Gateway.
type Production struct {
	*Gateway
	conn *reliable.Conn
}

// NewProduction wires the full control plane against a real store: one
// reliable connection shared by the bootstrap sequence, both catalog feeds,
// the permission feeds and the write path.
func NewProduction(cfg *config.Config) *Production {
	db := rethink.New(rethink.Config{
		Address:  cfg.Store.Address,
		Project:  cfg.Project,
		Username: cfg.Store.Username,
		Password: cfg.Store.Password,
	})
	conn := reliable.NewConn(db, cfg.RetryDelay)
	sync := metadata.NewSync(conn, db, db, metadata.SyncConfig{
		Project:    cfg.Project,
		LegacyDB:   cfg.LegacyDB,
		AutoCreate: cfg.AutoCreate,
		Retry:      cfg.RetryDelay,
	})
	cache := permissions.NewUserCache(conn, db, permissions.CacheConfig{
		StaleAfter:   cfg.StaleAfter,
		ReadyTimeout: cfg.ReadyTimeout,
		Retry:        cfg.RetryDelay,
	}, fount.RealClock{})

	gw := NewGateway(conn, sync, cache, db, Config{
		Project:      cfg.Project,
		AutoCreate:   cfg.AutoCreate,
		Retry:        cfg.RetryDelay,
		WriteTimeout: cfg.WriteTimeout,
	})
	return &Production{Gateway: gw, conn: conn}
}

// Close tears down the control plane and then the owned connection.
func (p *Production) Close(reason error) error {
	if reason == nil {
		reason = reliable.ErrClosed
	}
	p.Gateway.Close(reason)
	return p.conn.Close(reason)
}
