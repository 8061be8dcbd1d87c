package sqlstore

import (
	"context"
	"testing"

	"github.com/ethpandaops/bookkeeping/internal/testutil"
	"github.com/ethpandaops/bookkeeping/pkg/qcflag"
	"github.com/ethpandaops/bookkeeping/pkg/store"
	"github.com/ethpandaops/bookkeeping/pkg/store/storetest"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSQLite(t *testing.T) *Store {
	t.Helper()

	st, err := Open(context.Background(), testutil.NewLogger(), store.Config{
		Driver:  store.DriverSQLite,
		DSN:     ":memory:",
		Migrate: true,
	})
	require.NoError(t, err)

	return st
}

func TestStore_SQLite(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return openSQLite(t)
	})
}

func TestMigrate_Idempotent(t *testing.T) {
	st := openSQLite(t)
	defer st.Close()

	require.NoError(t, st.Migrate(context.Background()))

	var version int
	require.NoError(t, st.db.QueryRow("SELECT version FROM schema_version").Scan(&version))
	assert.Equal(t, len(migrations), version)
}

func TestMigrate_SchemaTooNew(t *testing.T) {
	st := openSQLite(t)
	defer st.Close()

	_, err := st.db.Exec("UPDATE schema_version SET version = ?", len(migrations)+1)
	require.NoError(t, err)

	assert.ErrorIs(t, st.Migrate(context.Background()), ErrSchemaTooNew)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), testutil.NewLogger(), store.Config{Driver: "mysql", DSN: "x"})
	assert.ErrorIs(t, err, store.ErrUnknownDriver)
}

func TestPostgres_Rebind(t *testing.T) {
	tests := []struct {
		query    string
		expected string
	}{
		{query: "SELECT 1", expected: "SELECT 1"},
		{query: "SELECT * FROM runs WHERE run_number = ?", expected: "SELECT * FROM runs WHERE run_number = $1"},
		{query: "UPDATE t SET a = ?, b = ? WHERE id = ?", expected: "UPDATE t SET a = $1, b = $2 WHERE id = $3"},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.expected, postgres{}.rebind(tt.query))
		})
	}
}

func TestSQLite_DSN(t *testing.T) {
	tests := []struct {
		name     string
		dsn      string
		expected string
	}{
		{
			name:     "memory",
			dsn:      ":memory:",
			expected: ":memory:?_foreign_keys=on&_txlock=immediate&_busy_timeout=5000",
		},
		{
			name:     "keeps explicit options",
			dsn:      "file:qc.db?_busy_timeout=100",
			expected: "file:qc.db?_busy_timeout=100&_foreign_keys=on&_txlock=immediate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, sqlite{}.dsn(tt.dsn))
		})
	}
}

func TestAdvisoryKey_Stable(t *testing.T) {
	a := qcflag.ScopeKey{RunNumber: 100, DetectorID: 1, Scope: qcflag.DataPass(1)}
	b := qcflag.ScopeKey{RunNumber: 100, DetectorID: 1, Scope: qcflag.SimulationPass(1)}

	assert.Equal(t, advisoryKey(a), advisoryKey(a))
	assert.NotEqual(t, advisoryKey(a), advisoryKey(b))
}
