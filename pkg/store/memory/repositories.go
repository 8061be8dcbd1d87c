package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/ethpandaops/bookkeeping/pkg/qcflag"
	"github.com/ethpandaops/bookkeeping/pkg/store"
)

func compareFlags(a, b qcflag.Flag) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}

	return cmp.Compare(a.ID, b.ID)
}

func comparePeriods(a, b qcflag.Period) int {
	if c := cmp.Compare(a.Interval().LowerKey(), b.Interval().LowerKey()); c != 0 {
		return c
	}

	return cmp.Compare(a.ID, b.ID)
}

type flags struct{ t *tx }

func (r *flags) Insert(_ context.Context, flag *qcflag.Flag) (int64, error) {
	if err := r.t.writable(); err != nil {
		return 0, err
	}

	r.t.st.nextFlagID++

	stored := *flag
	stored.ID = r.t.st.nextFlagID
	stored.Verifications = nil
	r.t.st.flags[stored.ID] = stored

	return stored.ID, nil
}

func (r *flags) Get(_ context.Context, id int64) (*qcflag.Flag, error) {
	f, ok := r.t.st.flags[id]
	if !ok {
		return nil, fmt.Errorf("flag %d: %w", id, store.ErrNotFound)
	}

	f.Verifications = slices.Clone(f.Verifications)

	return &f, nil
}

func (r *flags) GetMany(_ context.Context, ids []int64) ([]qcflag.Flag, error) {
	out := make([]qcflag.Flag, 0, len(ids))

	for _, id := range ids {
		if f, ok := r.t.st.flags[id]; ok {
			f.Verifications = slices.Clone(f.Verifications)
			out = append(out, f)
		}
	}

	slices.SortFunc(out, func(a, b qcflag.Flag) int { return cmp.Compare(a.ID, b.ID) })

	return out, nil
}

func (r *flags) FindByScope(_ context.Context, key qcflag.ScopeKey, before *store.CreatedBefore) ([]qcflag.Flag, error) {
	out := make([]qcflag.Flag, 0)

	for _, f := range r.t.st.flags {
		if f.Key() != key {
			continue
		}

		if before != nil && !before.Includes(&f) {
			continue
		}

		f.Verifications = slices.Clone(f.Verifications)
		out = append(out, f)
	}

	slices.SortFunc(out, compareFlags)

	return out, nil
}

func (r *flags) Delete(_ context.Context, id int64) error {
	if err := r.t.writable(); err != nil {
		return err
	}

	if _, ok := r.t.st.flags[id]; !ok {
		return fmt.Errorf("flag %d: %w", id, store.ErrNotFound)
	}

	delete(r.t.st.flags, id)

	return nil
}

func (r *flags) AddVerification(_ context.Context, v *qcflag.Verification) (int64, error) {
	if err := r.t.writable(); err != nil {
		return 0, err
	}

	f, ok := r.t.st.flags[v.FlagID]
	if !ok {
		return 0, fmt.Errorf("flag %d: %w", v.FlagID, store.ErrNotFound)
	}

	r.t.st.nextVerificationID++

	stored := *v
	stored.ID = r.t.st.nextVerificationID
	f.Verifications = append(slices.Clone(f.Verifications), stored)
	r.t.st.flags[f.ID] = f

	return stored.ID, nil
}

func (r *flags) ListScopes(_ context.Context) ([]qcflag.ScopeKey, error) {
	seen := make(map[qcflag.ScopeKey]struct{})
	out := make([]qcflag.ScopeKey, 0)

	for _, f := range r.t.st.flags {
		key := f.Key()
		if _, ok := seen[key]; ok {
			continue
		}

		seen[key] = struct{}{}
		out = append(out, key)
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

type periods struct{ t *tx }

func (r *periods) FindIntersecting(_ context.Context, key qcflag.ScopeKey, interval qcflag.Interval, before store.CreatedBefore) ([]qcflag.Period, error) {
	out := make([]qcflag.Period, 0)

	for _, p := range r.t.st.periods {
		f, ok := r.t.st.flags[p.FlagID]
		if !ok || f.Key() != key || !before.Includes(&f) {
			continue
		}

		if p.Interval().Intersects(interval) {
			out = append(out, p)
		}
	}

	slices.SortFunc(out, comparePeriods)

	return out, nil
}

func (r *periods) FindByScope(_ context.Context, key qcflag.ScopeKey) ([]qcflag.Period, error) {
	out := make([]qcflag.Period, 0)

	for _, p := range r.t.st.periods {
		if f, ok := r.t.st.flags[p.FlagID]; ok && f.Key() == key {
			out = append(out, p)
		}
	}

	slices.SortFunc(out, comparePeriods)

	return out, nil
}

func (r *periods) FindByFlag(_ context.Context, flagID int64) ([]qcflag.Period, error) {
	out := make([]qcflag.Period, 0)

	for _, p := range r.t.st.periods {
		if p.FlagID == flagID {
			out = append(out, p)
		}
	}

	slices.SortFunc(out, comparePeriods)

	return out, nil
}

func (r *periods) Insert(_ context.Context, period *qcflag.Period) (int64, error) {
	if err := r.t.writable(); err != nil {
		return 0, err
	}

	if _, ok := r.t.st.flags[period.FlagID]; !ok {
		return 0, fmt.Errorf("flag %d: %w", period.FlagID, store.ErrNotFound)
	}

	r.t.st.nextPeriodID++

	stored := *period
	stored.ID = r.t.st.nextPeriodID
	r.t.st.periods[stored.ID] = stored

	return stored.ID, nil
}

func (r *periods) UpdateBounds(_ context.Context, id int64, from, to *time.Time) error {
	if err := r.t.writable(); err != nil {
		return err
	}

	p, ok := r.t.st.periods[id]
	if !ok {
		return fmt.Errorf("period %d: %w", id, store.ErrNotFound)
	}

	p.From, p.To = from, to
	r.t.st.periods[id] = p

	return nil
}

func (r *periods) DeleteByID(_ context.Context, id int64) error {
	if err := r.t.writable(); err != nil {
		return err
	}

	if _, ok := r.t.st.periods[id]; !ok {
		return fmt.Errorf("period %d: %w", id, store.ErrNotFound)
	}

	delete(r.t.st.periods, id)

	return nil
}

func (r *periods) DeleteByFlag(_ context.Context, flagID int64) error {
	if err := r.t.writable(); err != nil {
		return err
	}

	for id, p := range r.t.st.periods {
		if p.FlagID == flagID {
			delete(r.t.st.periods, id)
		}
	}

	return nil
}

func (r *periods) DeleteByScope(_ context.Context, key qcflag.ScopeKey) error {
	if err := r.t.writable(); err != nil {
		return err
	}

	for id, p := range r.t.st.periods {
		if f, ok := r.t.st.flags[p.FlagID]; ok && f.Key() == key {
			delete(r.t.st.periods, id)
		}
	}

	return nil
}

type runs struct{ t *tx }

func (r *runs) GetQcBounds(_ context.Context, runNumber int64) (qcflag.RunQcBounds, error) {
	b, ok := r.t.st.runs[runNumber]
	if !ok {
		return qcflag.RunQcBounds{}, fmt.Errorf("run %d: %w", runNumber, store.ErrRunNotFound)
	}

	return b, nil
}

func (r *runs) UpsertRun(_ context.Context, runNumber int64, bounds qcflag.RunQcBounds) error {
	if err := r.t.writable(); err != nil {
		return err
	}

	r.t.st.runs[runNumber] = bounds

	return nil
}

type flagTypes struct{ t *tx }

func (r *flagTypes) Get(_ context.Context, id int64) (qcflag.FlagType, error) {
	ft, ok := r.t.st.flagTypes[id]
	if !ok {
		return qcflag.FlagType{}, fmt.Errorf("flag type %d: %w", id, store.ErrFlagTypeNotFound)
	}

	return ft, nil
}

func (r *flagTypes) Upsert(_ context.Context, flagType qcflag.FlagType) error {
	if err := r.t.writable(); err != nil {
		return err
	}

	r.t.st.flagTypes[flagType.ID] = flagType

	return nil
}

type gaqDetectors struct{ t *tx }

func (r *gaqDetectors) GetGaqDetectorIDs(_ context.Context, dataPassID, runNumber int64) ([]int64, error) {
	return slices.Clone(r.t.st.gaq[gaqKey{dataPassID: dataPassID, runNumber: runNumber}]), nil
}

func (r *gaqDetectors) GetGaqRunNumbers(_ context.Context, dataPassID int64) ([]int64, error) {
	out := make([]int64, 0)

	for k, detectors := range r.t.st.gaq {
		if k.dataPassID == dataPassID && len(detectors) > 0 {
			out = append(out, k.runNumber)
		}
	}

	slices.Sort(out)

	return out, nil
}

func (r *gaqDetectors) SetGaqDetectors(_ context.Context, dataPassID, runNumber int64, detectorIDs []int64) error {
	if err := r.t.writable(); err != nil {
		return err
	}

	ids := slices.Clone(detectorIDs)
	slices.Sort(ids)
	r.t.st.gaq[gaqKey{dataPassID: dataPassID, runNumber: runNumber}] = slices.Compact(ids)

	return nil
}
