package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethpandaops/bookkeeping/internal/testutil"
	"github.com/ethpandaops/bookkeeping/pkg/gaq"
	"github.com/ethpandaops/bookkeeping/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestPrintGaqSummaries(t *testing.T) {
	var out bytes.Buffer

	printGaqSummaries(&out, map[int64]gaq.Summary{
		101: {RunNumber: 101},
		100: {
			RunNumber:                            100,
			BadEffectiveRunCoverage:              ptr(0.25),
			ExplicitlyNotBadEffectiveRunCoverage: ptr(0.5),
			MCReproducibleCoverage:               ptr(0.0),
			MissingVerificationsCount:            2,
			UndefinedQualityPeriodsCount:         1,
		},
	})

	lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
	require.Len(t, lines, 3)
	assert.Contains(t, string(lines[0]), "MISSING VERIFICATIONS")
	assert.Regexp(t, `^100\s+25\.0%\s+50\.0%\s+0\.0%\s+2\s+1$`, string(lines[1]))
	assert.Regexp(t, `^101\s+-\s+-\s+-\s+0\s+0$`, string(lines[2]))
}

func TestPrintGaqPeriods(t *testing.T) {
	var out bytes.Buffer

	printGaqPeriods(&out, []gaq.Period{
		{From: testutil.At(0), To: testutil.At(2), Significance: gaq.SignificanceBad, ContributingFlagIDs: []int64{1, 3}},
		{From: testutil.At(2), Significance: gaq.SignificanceGood},
	})

	lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
	require.Len(t, lines, 3)
	assert.Regexp(t, `^2024-05-01T00:00:00Z\s+2024-05-01T02:00:00Z\s+bad\s+1,3$`, string(lines[1]))
	assert.Regexp(t, `^2024-05-01T02:00:00Z\s+open\s+good`, string(lines[2]))
}

func TestLoadCLIConfig(t *testing.T) {
	cfg, err := LoadCLIConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Logging)
	assert.Equal(t, store.DriverMemory, cfg.Database.Driver)
	assert.Nil(t, cfg.Redis)
	require.NoError(t, cfg.Validate())

	path := filepath.Join(t.TempDir(), "cli.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  driver: postgres
redis:
  url: "redis://localhost:6379/0"
`), 0o600))

	cfg, err = LoadCLIConfig(path)
	require.NoError(t, err)
	require.ErrorIs(t, cfg.Validate(), store.ErrDSNRequired)

	cfg.Database.DSN = "postgres://localhost/bookkeeping"
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "bookkeeping", cfg.Redis.Prefix)
}
