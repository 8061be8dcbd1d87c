package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/ethpandaops/bookkeeping/pkg/qcflag"
	"github.com/ethpandaops/bookkeeping/pkg/store"
)

const periodColumns = `p.id, p.flag_id, p.from_ms, p.to_ms
FROM quality_control_flag_effective_periods p
JOIN quality_control_flags f ON f.id = p.flag_id`

// periodOrder sorts open starts first, matching Interval.LowerKey
const periodOrder = ` ORDER BY COALESCE(p.from_ms, ?), p.id`

type periods struct{ t *tx }

func (r *periods) FindIntersecting(ctx context.Context, key qcflag.ScopeKey, interval qcflag.Interval, before store.CreatedBefore) ([]qcflag.Period, error) {
	at := before.CreatedAt.UnixMilli()

	args := scopeArgs(key)
	args = append(args,
		int64(math.MinInt64), interval.UpperKey(),
		interval.LowerKey(), int64(math.MaxInt64),
		at, at, before.FlagID,
		int64(math.MinInt64),
	)

	return r.selectPeriods(ctx, "SELECT "+periodColumns+" WHERE "+scopeFilter+`
	AND COALESCE(p.from_ms, ?) < ?
	AND ? < COALESCE(p.to_ms, ?)
	AND (f.created_at < ? OR (f.created_at = ? AND f.id < ?))`+periodOrder, args...)
}

func (r *periods) FindByScope(ctx context.Context, key qcflag.ScopeKey) ([]qcflag.Period, error) {
	args := append(scopeArgs(key), int64(math.MinInt64))

	return r.selectPeriods(ctx, "SELECT "+periodColumns+" WHERE "+scopeFilter+periodOrder, args...)
}

func (r *periods) FindByFlag(ctx context.Context, flagID int64) ([]qcflag.Period, error) {
	return r.selectPeriods(ctx, "SELECT "+periodColumns+" WHERE p.flag_id = ?"+periodOrder, flagID, int64(math.MinInt64))
}

func (r *periods) Insert(ctx context.Context, period *qcflag.Period) (int64, error) {
	id, err := r.t.insert(ctx, `INSERT INTO quality_control_flag_effective_periods (flag_id, from_ms, to_ms)
	VALUES (?, ?, ?)`, period.FlagID, millis(period.From), millis(period.To))
	if err != nil {
		return 0, fmt.Errorf("failed to insert period of flag %d: %w", period.FlagID, err)
	}

	return id, nil
}

func (r *periods) UpdateBounds(ctx context.Context, id int64, from, to *time.Time) error {
	res, err := r.t.exec(ctx, "UPDATE quality_control_flag_effective_periods SET from_ms = ?, to_ms = ? WHERE id = ?",
		millis(from), millis(to), id)
	if err != nil {
		return err
	}

	return affected(res, "period", id)
}

func (r *periods) DeleteByID(ctx context.Context, id int64) error {
	res, err := r.t.exec(ctx, "DELETE FROM quality_control_flag_effective_periods WHERE id = ?", id)
	if err != nil {
		return err
	}

	return affected(res, "period", id)
}

func (r *periods) DeleteByFlag(ctx context.Context, flagID int64) error {
	_, err := r.t.exec(ctx, "DELETE FROM quality_control_flag_effective_periods WHERE flag_id = ?", flagID)
	return err
}

func (r *periods) DeleteByScope(ctx context.Context, key qcflag.ScopeKey) error {
	_, err := r.t.exec(ctx, `DELETE FROM quality_control_flag_effective_periods
	WHERE flag_id IN (SELECT f.id FROM quality_control_flags f WHERE `+scopeFilter+`)`, scopeArgs(key)...)

	return err
}

func (r *periods) selectPeriods(ctx context.Context, query string, args ...any) ([]qcflag.Period, error) {
	rows, err := r.t.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query periods: %w", err)
	}
	defer rows.Close()

	out := make([]qcflag.Period, 0)

	for rows.Next() {
		var (
			p        qcflag.Period
			from, to sql.NullInt64
		)

		if err := rows.Scan(&p.ID, &p.FlagID, &from, &to); err != nil {
			return nil, fmt.Errorf("failed to scan period: %w", err)
		}

		p.From = fromMillis(from)
		p.To = fromMillis(to)
		out = append(out, p)
	}

	return out, rows.Err()
}
