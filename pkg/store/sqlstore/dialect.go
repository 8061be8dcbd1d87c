package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"

	"github.com/ethpandaops/bookkeeping/pkg/qcflag"
	"github.com/ethpandaops/bookkeeping/pkg/store"
)

// dialect isolates what PostgreSQL and SQLite disagree on
type dialect interface {
	name() string
	// serial is the column definition of an auto-increment primary key
	serial() string
	// rebind rewrites ? placeholders into the dialect's form
	rebind(query string) string
	// lockScope serialises writers of one scope until the transaction ends
	lockScope(ctx context.Context, tx *sql.Tx, key qcflag.ScopeKey) error
	// dsn completes the configured DSN with the options the store relies on
	dsn(configured string) string
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case store.DriverPostgres:
		return postgres{}, nil
	case store.DriverSQLite:
		return sqlite{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", store.ErrUnknownDriver, driver)
	}
}

type postgres struct{}

func (postgres) name() string   { return store.DriverPostgres }
func (postgres) serial() string { return "BIGSERIAL PRIMARY KEY" }
func (postgres) dsn(s string) string {
	return s
}

func (postgres) rebind(query string) string {
	var b strings.Builder

	b.Grow(len(query) + 16)

	n := 0

	for _, r := range query {
		if r != '?' {
			b.WriteRune(r)
			continue
		}

		n++

		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}

	return b.String()
}

// lockScope takes a transaction-scoped advisory lock keyed by the scope
func (p postgres) lockScope(ctx context.Context, tx *sql.Tx, key qcflag.ScopeKey) error {
	if _, err := tx.ExecContext(ctx, p.rebind("SELECT pg_advisory_xact_lock(?)"), advisoryKey(key)); err != nil {
		return fmt.Errorf("failed to lock %s: %w", key, err)
	}

	return nil
}

func advisoryKey(key qcflag.ScopeKey) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key.String()))

	return int64(h.Sum64()) //nolint:gosec // wrap-around is fine for a lock key
}

type sqlite struct{}

func (sqlite) name() string               { return store.DriverSQLite }
func (sqlite) serial() string             { return "INTEGER PRIMARY KEY AUTOINCREMENT" }
func (sqlite) rebind(query string) string { return query }

// lockScope is a no-op: transactions begin immediate, so writers are already
// serialised database-wide
func (sqlite) lockScope(_ context.Context, _ *sql.Tx, _ qcflag.ScopeKey) error {
	return nil
}

func (sqlite) dsn(s string) string {
	params := []string{"_foreign_keys=on", "_txlock=immediate", "_busy_timeout=5000"}

	for _, p := range params {
		name := p[:strings.IndexByte(p, '=')]
		if strings.Contains(s, name+"=") {
			continue
		}

		sep := "?"
		if strings.Contains(s, "?") {
			sep = "&"
		}

		s += sep + p
	}

	return s
}
