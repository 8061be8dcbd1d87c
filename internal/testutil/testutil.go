// Package testutil provides test utilities for the bookkeeping core, including:
//   - Miniredis helpers for Redis-backed units (miniredis.go)
//   - Store fixtures: flag types, runs and GAQ detectors (fixtures.go)
//   - A PostgreSQL container for the SQL store (postgres.go, integration only)
//
// Unit tests need no Docker. PostgreSQL tests are gated behind the
// "integration" build tag and use $BOOKKEEPING_TEST_POSTGRES_DSN when set:
//
//	go test -tags=integration ./...
package testutil
