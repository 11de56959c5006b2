// Copyright 2024 Block, Inc.

package dbconn

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"
	"time"

	my "github.com/go-mysql/errors"
	ver "github.com/hashicorp/go-version"

	"github.com/dbpoll/dbpoll"
	"github.com/dbpoll/dbpoll/event"
	"github.com/dbpoll/dbpoll/sqlutil"
	"github.com/dbpoll/dbpoll/status"
)

// Conn is one live connection handle. It is never modified after the Manager
// creates it except to cache the server version.
type Conn struct {
	DB  *sql.DB
	DSN string // redacted

	dialect Dialect
	version *ver.Version
}

// Version returns the server version. It is queried once per Conn and cached
// on success.
func (c *Conn) Version(ctx context.Context) (*ver.Version, error) {
	if c.version != nil {
		return c.version, nil
	}
	v, err := sqlutil.Version(ctx, c.DB, c.dialect.VersionQuery)
	if err != nil {
		return nil, err
	}
	c.version = v
	return v, nil
}

// Manager owns at most one Conn for one instance. Conn connects lazily, then
// validates the existing Conn with the dialect probe before returning it. An
// invalid Conn is closed and replaced. There is one connect attempt per call:
// the next poll cycle is the retry.
type Manager struct {
	cfg       dbpoll.ConfigInstance
	dialect   Dialect
	factory   Factory
	timeout   time.Duration
	event     event.MonitorReceiver
	monitorId string
	// --
	*sync.Mutex
	conn *Conn
}

// NewManager returns a disconnected Manager. It does not connect.
func NewManager(cfg dbpoll.ConfigInstance, factory Factory) (*Manager, error) {
	d, err := GetDialect(cfg.Dialect)
	if err != nil {
		return nil, err
	}
	timeout, err := time.ParseDuration(dbpoll.SetOrDefault(cfg.TimeoutConnect, dbpoll.DEFAULT_TIMEOUT_CONNECT))
	if err != nil {
		return nil, fmt.Errorf("%w: instance %s: invalid timeout-connect: %s", dbpoll.ErrConfig, cfg.Name, err)
	}
	return &Manager{
		cfg:       cfg,
		dialect:   d,
		factory:   factory,
		timeout:   timeout,
		event:     event.MonitorReceiver{MonitorId: cfg.Name},
		monitorId: cfg.Name,
		Mutex:     &sync.Mutex{},
	}, nil
}

// Dialect returns the dialect of the instance.
func (m *Manager) Dialect() Dialect {
	return m.dialect
}

// Conn returns a valid connection handle or an error wrapping
// dbpoll.ErrNoConnection. The caller must skip the poll cycle on error.
func (m *Manager) Conn(ctx context.Context) (*Conn, error) {
	m.Lock()
	defer m.Unlock()

	if m.conn != nil {
		err := m.probe(ctx, m.conn.DB)
		if err == nil {
			return m.conn, nil
		}
		m.event.Errorf(event.DB_CONN_INVALID, "%s: %s", m.target(), err)
		m.close()
	}

	return m.connect(ctx)
}

func (m *Manager) connect(ctx context.Context) (*Conn, error) {
	m.event.Sendf(event.DB_CONNECTING, "%s", m.target())
	status.Monitor(m.monitorId, status.CONNECTION, "connecting to %s", m.target())

	db, dsn, err := m.factory.Make(m.cfg)
	if err != nil {
		return nil, m.connectError(err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, m.connectError(err)
	}

	m.conn = &Conn{
		DB:      db,
		DSN:     dsn,
		dialect: m.dialect,
	}
	m.event.Sendf(event.DB_CONNECTED, "%s", dsn)
	status.Monitor(m.monitorId, status.CONNECTION, "connected to %s", m.target())
	return m.conn, nil
}

func (m *Manager) connectError(err error) error {
	m.event.Errorf(event.DB_CONNECT_ERROR, "%s: %s", m.target(), err)
	status.Monitor(m.monitorId, status.CONNECTION, "error connecting to %s: %s", m.target(), err)
	return fmt.Errorf("%w: %s: %s", dbpoll.ErrNoConnection, m.target(), err)
}

func (m *Manager) probe(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	var one int
	return db.QueryRowContext(ctx, m.dialect.Ping).Scan(&one)
}

// Invalidate closes and drops the current handle, if any, so the next call
// to Conn reconnects without probing.
func (m *Manager) Invalidate() {
	m.Lock()
	defer m.Unlock()
	if m.conn != nil {
		m.event.Sendf(event.DB_CONN_LOST, "%s", m.target())
	}
	m.close()
}

// Close closes the connection handle. It is idempotent and close errors are
// reported but not returned.
func (m *Manager) Close() {
	m.Lock()
	defer m.Unlock()
	m.close()
}

func (m *Manager) close() {
	if m.conn == nil {
		return
	}
	if err := m.conn.DB.Close(); err != nil {
		m.event.Errorf(event.DB_CLOSE_ERROR, "%s: %s", m.target(), err)
	}
	m.conn = nil
	status.Monitor(m.monitorId, status.CONNECTION, "disconnected")
}

// target is the only connection info printed: user@host/database.
func (m *Manager) target() string {
	return fmt.Sprintf("%s@%s/%s", m.cfg.User, m.dialect.Addr(m.cfg.Host), m.cfg.Database)
}

// ConnectionLost returns true if err means the connection is lost and the
// handle should be invalidated.
func ConnectionLost(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	if ok, myerr := my.Error(err); ok {
		return myerr == my.ErrConnLost || myerr == my.ErrCannotConnect
	}
	return false
}
