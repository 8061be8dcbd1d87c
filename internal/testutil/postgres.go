//go:build integration

package testutil

import (
	"context"
	"os"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

// PostgresDSNEnv points integration tests at an existing database instead of a container
const PostgresDSNEnv = "BOOKKEEPING_TEST_POSTGRES_DSN"

// NewPostgresDSN returns the DSN of a PostgreSQL database for the test. It
// uses $BOOKKEEPING_TEST_POSTGRES_DSN when set and starts a container
// otherwise. The container is terminated when the test completes.
func NewPostgresDSN(t *testing.T) string {
	t.Helper()

	if dsn := os.Getenv(PostgresDSNEnv); dsn != "" {
		return dsn
	}

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("bookkeeping"),
		tcpostgres.WithUsername("bookkeeping"),
		tcpostgres.WithPassword("bookkeeping"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("failed to start PostgreSQL container: %v", err)
	}

	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate PostgreSQL container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	return dsn
}
