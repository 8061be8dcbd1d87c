package sqlstore

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ethpandaops/bookkeeping/pkg/qcflag"
	"github.com/ethpandaops/bookkeeping/pkg/store"
)

const flagColumns = `f.id, f.run_number, f.detector_id, f.scope_kind, f.pass_id, f.from_ms, f.to_ms,
	f.comment, f.created_by, f.created_at,
	t.id, t.name, t.method, t.bad, t.mc_reproducible
FROM quality_control_flags f
JOIN flag_types t ON t.id = f.flag_type_id`

const scopeFilter = `f.run_number = ? AND f.detector_id = ? AND f.scope_kind = ? AND f.pass_id = ?`

func scopeArgs(key qcflag.ScopeKey) []any {
	return []any{key.RunNumber, key.DetectorID, key.Scope.Kind.String(), key.Scope.PassID}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func idArgs(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	return args
}

type flags struct{ t *tx }

func (r *flags) Insert(ctx context.Context, flag *qcflag.Flag) (int64, error) {
	id, err := r.t.insert(ctx, `INSERT INTO quality_control_flags
	(run_number, detector_id, scope_kind, pass_id, from_ms, to_ms, flag_type_id, comment, created_by, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		flag.RunNumber, flag.DetectorID, flag.Scope.Kind.String(), flag.Scope.PassID,
		millis(flag.From), millis(flag.To), flag.Type.ID, flag.Comment, flag.CreatedBy, flag.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert flag: %w", err)
	}

	return id, nil
}

func (r *flags) Get(ctx context.Context, id int64) (*qcflag.Flag, error) {
	out, err := r.selectFlags(ctx, "SELECT "+flagColumns+" WHERE f.id = ?", id)
	if err != nil {
		return nil, err
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("flag %d: %w", id, store.ErrNotFound)
	}

	return &out[0], nil
}

func (r *flags) GetMany(ctx context.Context, ids []int64) ([]qcflag.Flag, error) {
	if len(ids) == 0 {
		return []qcflag.Flag{}, nil
	}

	return r.selectFlags(ctx,
		"SELECT "+flagColumns+" WHERE f.id IN ("+placeholders(len(ids))+") ORDER BY f.id",
		idArgs(ids)...,
	)
}

func (r *flags) FindByScope(ctx context.Context, key qcflag.ScopeKey, before *store.CreatedBefore) ([]qcflag.Flag, error) {
	query := "SELECT " + flagColumns + " WHERE " + scopeFilter
	args := scopeArgs(key)

	if before != nil {
		query += " AND (f.created_at < ? OR (f.created_at = ? AND f.id < ?))"
		at := before.CreatedAt.UnixMilli()
		args = append(args, at, at, before.FlagID)
	}

	return r.selectFlags(ctx, query+" ORDER BY f.created_at, f.id", args...)
}

func (r *flags) Delete(ctx context.Context, id int64) error {
	if _, err := r.t.exec(ctx, "DELETE FROM quality_control_flag_verifications WHERE flag_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete verifications: %w", err)
	}

	res, err := r.t.exec(ctx, "DELETE FROM quality_control_flags WHERE id = ?", id)
	if err != nil {
		return err
	}

	return affected(res, "flag", id)
}

func (r *flags) AddVerification(ctx context.Context, v *qcflag.Verification) (int64, error) {
	var exists int
	if err := r.t.queryRow(ctx, "SELECT 1 FROM quality_control_flags WHERE id = ?", v.FlagID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("flag %d: %w", v.FlagID, store.ErrNotFound)
		}

		return 0, err
	}

	return r.t.insert(ctx, `INSERT INTO quality_control_flag_verifications (flag_id, created_by, comment, created_at)
	VALUES (?, ?, ?, ?)`, v.FlagID, v.CreatedBy, v.Comment, v.CreatedAt.UnixMilli())
}

func (r *flags) ListScopes(ctx context.Context) ([]qcflag.ScopeKey, error) {
	rows, err := r.t.query(ctx, "SELECT DISTINCT run_number, detector_id, scope_kind, pass_id FROM quality_control_flags")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]qcflag.ScopeKey, 0)

	for rows.Next() {
		var (
			key  qcflag.ScopeKey
			kind string
		)

		if err := rows.Scan(&key.RunNumber, &key.DetectorID, &kind, &key.Scope.PassID); err != nil {
			return nil, err
		}

		if key.Scope.Kind, err = qcflag.ParseScopeKind(kind); err != nil {
			return nil, err
		}

		out = append(out, key)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	slices.SortFunc(out, func(a, b qcflag.ScopeKey) int {
		return cmp.Or(
			cmp.Compare(a.RunNumber, b.RunNumber),
			cmp.Compare(a.DetectorID, b.DetectorID),
			cmp.Compare(a.Scope.Kind, b.Scope.Kind),
			cmp.Compare(a.Scope.PassID, b.Scope.PassID),
		)
	})

	return out, nil
}

func (r *flags) selectFlags(ctx context.Context, query string, args ...any) ([]qcflag.Flag, error) {
	rows, err := r.t.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query flags: %w", err)
	}
	defer rows.Close()

	out := make([]qcflag.Flag, 0)

	for rows.Next() {
		f, err := scanFlag(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, f)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := r.attachVerifications(ctx, out); err != nil {
		return nil, err
	}

	return out, nil
}

func scanFlag(rows *sql.Rows) (qcflag.Flag, error) {
	var (
		f         qcflag.Flag
		kind      string
		from, to  sql.NullInt64
		createdAt int64
	)

	if err := rows.Scan(
		&f.ID, &f.RunNumber, &f.DetectorID, &kind, &f.Scope.PassID, &from, &to,
		&f.Comment, &f.CreatedBy, &createdAt,
		&f.Type.ID, &f.Type.Name, &f.Type.Method, &f.Type.Bad, &f.Type.MonteCarloReproducible,
	); err != nil {
		return f, fmt.Errorf("failed to scan flag: %w", err)
	}

	k, err := qcflag.ParseScopeKind(kind)
	if err != nil {
		return f, err
	}

	f.Scope.Kind = k
	f.From = fromMillis(from)
	f.To = fromMillis(to)
	f.CreatedAt = time.UnixMilli(createdAt).UTC()

	return f, nil
}

func (r *flags) attachVerifications(ctx context.Context, out []qcflag.Flag) error {
	if len(out) == 0 {
		return nil
	}

	index := make(map[int64]int, len(out))
	ids := make([]int64, 0, len(out))

	for i, f := range out {
		index[f.ID] = i
		ids = append(ids, f.ID)
	}

	rows, err := r.t.query(ctx, `SELECT id, flag_id, created_by, comment, created_at
	FROM quality_control_flag_verifications
	WHERE flag_id IN (`+placeholders(len(ids))+`) ORDER BY created_at, id`, idArgs(ids)...)
	if err != nil {
		return fmt.Errorf("failed to query verifications: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			v         qcflag.Verification
			createdAt int64
		)

		if err := rows.Scan(&v.ID, &v.FlagID, &v.CreatedBy, &v.Comment, &createdAt); err != nil {
			return fmt.Errorf("failed to scan verification: %w", err)
		}

		v.CreatedAt = time.UnixMilli(createdAt).UTC()

		i := index[v.FlagID]
		out[i].Verifications = append(out[i].Verifications, v)
	}

	return rows.Err()
}
