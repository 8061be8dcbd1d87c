package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// migrations are applied in order; schema_version records how many ran
//
//nolint:gochecknoglobals // append-only migration list
var migrations = []string{
	`CREATE TABLE flag_types (
	id BIGINT PRIMARY KEY,
	name TEXT NOT NULL,
	method TEXT NOT NULL,
	bad BOOLEAN NOT NULL,
	mc_reproducible BOOLEAN NOT NULL
);

CREATE TABLE runs (
	run_number BIGINT PRIMARY KEY,
	qc_time_start BIGINT,
	qc_time_end BIGINT
);

CREATE TABLE quality_control_flags (
	id %[1]s,
	run_number BIGINT NOT NULL,
	detector_id BIGINT NOT NULL,
	scope_kind TEXT NOT NULL,
	pass_id BIGINT NOT NULL,
	from_ms BIGINT,
	to_ms BIGINT,
	flag_type_id BIGINT NOT NULL REFERENCES flag_types (id),
	comment TEXT NOT NULL,
	created_by TEXT NOT NULL,
	created_at BIGINT NOT NULL
);

CREATE INDEX quality_control_flags_scope_idx
	ON quality_control_flags (run_number, detector_id, scope_kind, pass_id, created_at, id);

CREATE TABLE quality_control_flag_verifications (
	id %[1]s,
	flag_id BIGINT NOT NULL REFERENCES quality_control_flags (id) ON DELETE CASCADE,
	created_by TEXT NOT NULL,
	comment TEXT NOT NULL,
	created_at BIGINT NOT NULL
);

CREATE INDEX quality_control_flag_verifications_flag_idx
	ON quality_control_flag_verifications (flag_id);

CREATE TABLE quality_control_flag_effective_periods (
	id %[1]s,
	flag_id BIGINT NOT NULL REFERENCES quality_control_flags (id) ON DELETE CASCADE,
	from_ms BIGINT,
	to_ms BIGINT
);

CREATE INDEX quality_control_flag_effective_periods_flag_idx
	ON quality_control_flag_effective_periods (flag_id);

CREATE TABLE gaq_detectors (
	data_pass_id BIGINT NOT NULL,
	run_number BIGINT NOT NULL,
	detector_id BIGINT NOT NULL,
	PRIMARY KEY (data_pass_id, run_number, detector_id)
);`,
}

// Migrate brings the schema up to date
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("failed to create schema_version: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var version int

	err = tx.QueryRowContext(ctx, "SELECT version FROM schema_version").Scan(&version)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (0)"); err != nil {
			return fmt.Errorf("failed to initialise schema_version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if version > len(migrations) {
		return fmt.Errorf("%w: database at %d, binary knows %d", ErrSchemaTooNew, version, len(migrations))
	}

	for i := version; i < len(migrations); i++ {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(migrations[i], s.dialect.serial())); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}

		s.log.WithField("version", i+1).Info("Applied schema migration")
	}

	if _, err := tx.ExecContext(ctx, s.dialect.rebind("UPDATE schema_version SET version = ?"), len(migrations)); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}

	return tx.Commit()
}
