// Package sqlstore implements the store contracts on database/sql for
// PostgreSQL (lib/pq) and SQLite (go-sqlite3). Instants are stored as epoch
// milliseconds; open bounds are NULL.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/bookkeeping/pkg/qcflag"
	"github.com/ethpandaops/bookkeeping/pkg/store"
	"github.com/sirupsen/logrus"
)

// ErrSchemaTooNew is returned when the database was migrated by a newer build
var ErrSchemaTooNew = errors.New("database schema is newer than this binary")

// Store is a database/sql backed store
type Store struct {
	log     logrus.FieldLogger
	db      *sql.DB
	dialect dialect
}

// Open connects to the configured database and applies pending migrations
// when cfg.Migrate is set. The matching driver must be registered by the
// caller.
func Open(ctx context.Context, log logrus.FieldLogger, cfg store.Config) (*Store, error) {
	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(cfg.Driver, d.dsn(cfg.DSN))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cfg.Driver, err)
	}

	if d.name() == store.DriverSQLite {
		// one connection keeps in-memory databases alive and writers serial
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", cfg.Driver, err)
	}

	s := &Store{
		log:     log.WithFields(logrus.Fields{"component": "sqlstore", "driver": d.name()}),
		db:      db,
		dialect: d,
	}

	if cfg.Migrate {
		if err := s.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	return s, nil
}

// View runs fn in a read-only transaction
func (s *Store) View(ctx context.Context, fn store.TxFunc) error {
	return s.run(ctx, &sql.TxOptions{ReadOnly: true}, fn)
}

// Update runs fn in a read-write transaction
func (s *Store) Update(ctx context.Context, fn store.TxFunc) error {
	return s.run(ctx, nil, fn)
}

func (s *Store) run(ctx context.Context, opts *sql.TxOptions, fn store.TxFunc) error {
	sqlTx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	t := &tx{tx: sqlTx, dialect: s.dialect, readOnly: opts != nil && opts.ReadOnly}

	if err := fn(ctx, t); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Close releases the connection pool
func (s *Store) Close() error {
	return s.db.Close()
}

type tx struct {
	tx       *sql.Tx
	dialect  dialect
	readOnly bool
}

func (t *tx) Flags() store.FlagStore               { return &flags{t} }
func (t *tx) Periods() store.PeriodStore           { return &periods{t} }
func (t *tx) Runs() store.RunStore                 { return &runs{t} }
func (t *tx) FlagTypes() store.FlagTypeStore       { return &flagTypes{t} }
func (t *tx) GaqDetectors() store.GaqDetectorStore { return &gaqDetectors{t} }

func (t *tx) LockScope(ctx context.Context, key qcflag.ScopeKey) error {
	if err := t.writable(); err != nil {
		return err
	}

	return t.dialect.lockScope(ctx, t.tx, key)
}

func (t *tx) writable() error {
	if t.readOnly {
		return store.ErrReadOnly
	}

	return nil
}

func (t *tx) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if err := t.writable(); err != nil {
		return nil, err
	}

	return t.tx.ExecContext(ctx, t.dialect.rebind(query), args...)
}

func (t *tx) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, t.dialect.rebind(query), args...)
}

func (t *tx) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.dialect.rebind(query), args...)
}

// insert runs an INSERT ... RETURNING id
func (t *tx) insert(ctx context.Context, query string, args ...any) (int64, error) {
	if err := t.writable(); err != nil {
		return 0, err
	}

	var id int64
	if err := t.queryRow(ctx, query+" RETURNING id", args...).Scan(&id); err != nil {
		return 0, err
	}

	return id, nil
}

// affected turns a zero row count into a not found error
func affected(res sql.Result, what string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if n == 0 {
		return fmt.Errorf("%s %d: %w", what, id, store.ErrNotFound)
	}

	return nil
}

// millis converts an optional instant into a nullable column value
func millis(t *time.Time) any {
	if t == nil {
		return nil
	}

	return t.UnixMilli()
}

func fromMillis(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}

	return qcflag.Millis(n.Int64)
}

var (
	_ store.Store = (*Store)(nil)
	_ store.Tx    = (*tx)(nil)
)
