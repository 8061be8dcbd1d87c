package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/ethpandaops/bookkeeping/pkg/qcflag"
	"github.com/ethpandaops/bookkeeping/pkg/store"
)

type runs struct{ t *tx }

func (r *runs) GetQcBounds(ctx context.Context, runNumber int64) (qcflag.RunQcBounds, error) {
	var start, end sql.NullInt64

	err := r.t.queryRow(ctx, "SELECT qc_time_start, qc_time_end FROM runs WHERE run_number = ?", runNumber).Scan(&start, &end)
	if errors.Is(err, sql.ErrNoRows) {
		return qcflag.RunQcBounds{}, fmt.Errorf("run %d: %w", runNumber, store.ErrRunNotFound)
	}

	if err != nil {
		return qcflag.RunQcBounds{}, err
	}

	return qcflag.RunQcBounds{Start: fromMillis(start), End: fromMillis(end)}, nil
}

func (r *runs) UpsertRun(ctx context.Context, runNumber int64, bounds qcflag.RunQcBounds) error {
	_, err := r.t.exec(ctx, `INSERT INTO runs (run_number, qc_time_start, qc_time_end) VALUES (?, ?, ?)
	ON CONFLICT (run_number) DO UPDATE SET qc_time_start = excluded.qc_time_start, qc_time_end = excluded.qc_time_end`,
		runNumber, millis(bounds.Start), millis(bounds.End))

	return err
}

type flagTypes struct{ t *tx }

func (r *flagTypes) Get(ctx context.Context, id int64) (qcflag.FlagType, error) {
	ft := qcflag.FlagType{ID: id}

	err := r.t.queryRow(ctx, "SELECT name, method, bad, mc_reproducible FROM flag_types WHERE id = ?", id).
		Scan(&ft.Name, &ft.Method, &ft.Bad, &ft.MonteCarloReproducible)
	if errors.Is(err, sql.ErrNoRows) {
		return qcflag.FlagType{}, fmt.Errorf("flag type %d: %w", id, store.ErrFlagTypeNotFound)
	}

	if err != nil {
		return qcflag.FlagType{}, err
	}

	return ft, nil
}

func (r *flagTypes) Upsert(ctx context.Context, ft qcflag.FlagType) error {
	_, err := r.t.exec(ctx, `INSERT INTO flag_types (id, name, method, bad, mc_reproducible) VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET name = excluded.name, method = excluded.method,
		bad = excluded.bad, mc_reproducible = excluded.mc_reproducible`,
		ft.ID, ft.Name, ft.Method, ft.Bad, ft.MonteCarloReproducible)

	return err
}

type gaqDetectors struct{ t *tx }

func (r *gaqDetectors) GetGaqDetectorIDs(ctx context.Context, dataPassID, runNumber int64) ([]int64, error) {
	return r.ids(ctx, "SELECT detector_id FROM gaq_detectors WHERE data_pass_id = ? AND run_number = ? ORDER BY detector_id",
		dataPassID, runNumber)
}

func (r *gaqDetectors) GetGaqRunNumbers(ctx context.Context, dataPassID int64) ([]int64, error) {
	return r.ids(ctx, "SELECT DISTINCT run_number FROM gaq_detectors WHERE data_pass_id = ? ORDER BY run_number", dataPassID)
}

func (r *gaqDetectors) SetGaqDetectors(ctx context.Context, dataPassID, runNumber int64, detectorIDs []int64) error {
	if _, err := r.t.exec(ctx, "DELETE FROM gaq_detectors WHERE data_pass_id = ? AND run_number = ?", dataPassID, runNumber); err != nil {
		return err
	}

	ids := slices.Clone(detectorIDs)
	slices.Sort(ids)

	for _, id := range slices.Compact(ids) {
		if _, err := r.t.exec(ctx, "INSERT INTO gaq_detectors (data_pass_id, run_number, detector_id) VALUES (?, ?, ?)",
			dataPassID, runNumber, id); err != nil {
			return fmt.Errorf("failed to insert GAQ detector %d: %w", id, err)
		}
	}

	return nil
}

func (r *gaqDetectors) ids(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := r.t.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]int64, 0)

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}

		out = append(out, id)
	}

	return out, rows.Err()
}
