// Package store persists identities, tools, access requests and the audit trail
// over database/sql, on PostgreSQL (pgx) or embedded SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"gatekeepr.org/internal/access"
	"gatekeepr.org/internal/audit"
	"gatekeepr.org/internal/catalog"
	"gatekeepr.org/internal/identity"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn carries the queries shared by Store and Tx.
type conn struct {
	q querier
	d dialect
}

func (c conn) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := c.q.ExecContext(ctx, c.d.rebind(query), args...)
	return res, mapError(err)
}

func (c conn) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := c.q.QueryContext(ctx, c.d.rebind(query), args...)
	return rows, mapError(err)
}

func (c conn) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.q.QueryRowContext(ctx, c.d.rebind(query), args...)
}

// Store is the database handle. Reads go straight to the pool; writes go through
// the InTx adapters returned by Identity, Catalog and Access.
type Store struct {
	conn
	db *sql.DB
}

// Open connects to the database and verifies it answers.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(d.driver, d.dsn(dsn))
	if err != nil {
		return nil, err
	}
	switch d.name {
	case DriverPostgres:
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(15 * time.Minute)
		db.SetConnMaxIdleTime(5 * time.Minute)
	case DriverSQLite:
		// One connection is the single writer; it also keeps :memory: databases alive.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	}
	s := New(db, d.name)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.name, err)
	}
	if d.name == DriverSQLite {
		if _, err := db.ExecContext(ctx, `pragma foreign_keys = on`); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}
	return s, nil
}

// New wraps an existing handle. Unknown drivers fall back to the postgres dialect.
func New(db *sql.DB, driver string) *Store {
	d, err := dialectFor(driver)
	if err != nil {
		d = postgresDialect
	}
	return &Store{conn: conn{q: db, d: d}, db: db}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Driver names the active dialect.
func (s *Store) Driver() string { return s.d.name }

// Rebind converts $N placeholders to the active dialect.
func (s *Store) Rebind(query string) string { return s.d.rebind(query) }

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Tx is one database transaction. Hooks registered with AfterCommit run, in order,
// only after a successful commit.
type Tx struct {
	conn
	hooks []func()
}

// AfterCommit defers fn until the transaction commits.
func (t *Tx) AfterCommit(fn func()) {
	if fn != nil {
		t.hooks = append(t.hooks, fn)
	}
}

func (s *Store) inTx(ctx context.Context, fn func(*Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	tx := &Tx{conn: conn{q: sqlTx, d: s.d}}
	committed := false
	defer func() {
		if !committed {
			_ = sqlTx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return mapError(err)
	}
	committed = true
	for _, h := range tx.hooks {
		h()
	}
	return nil
}

var (
	_ identity.Tx  = (*Tx)(nil)
	_ catalog.Tx   = (*Tx)(nil)
	_ access.Tx    = (*Tx)(nil)
	_ audit.Writer = (*Tx)(nil)
	_ audit.Reader = (*Store)(nil)
)

type identityStore struct{ *Store }

func (s identityStore) InTx(ctx context.Context, fn func(identity.Tx) error) error {
	return s.inTx(ctx, func(tx *Tx) error { return fn(tx) })
}

type catalogStore struct{ *Store }

func (s catalogStore) InTx(ctx context.Context, fn func(catalog.Tx) error) error {
	return s.inTx(ctx, func(tx *Tx) error { return fn(tx) })
}

type accessStore struct{ *Store }

func (s accessStore) InTx(ctx context.Context, fn func(access.Tx) error) error {
	return s.inTx(ctx, func(tx *Tx) error { return fn(tx) })
}

// Identity returns the identity view of the store.
func (s *Store) Identity() identity.Store { return identityStore{s} }

// Catalog returns the tool registry view of the store.
func (s *Store) Catalog() catalog.Store { return catalogStore{s} }

// Access returns the access request view of the store.
func (s *Store) Access() access.Store { return accessStore{s} }

func notFound(what string, id any) error {
	return fmt.Errorf("%w: %s %v", errNotFound, what, id)
}

func isNoRows(err error) bool { return errors.Is(err, sql.ErrNoRows) }
