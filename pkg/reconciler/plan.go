// Package reconciler keeps the effective periods of QC flags disjoint within
// each scope. The most recently created flag covering an instant owns it.
package reconciler

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/ethpandaops/bookkeeping/pkg/qcflag"
)

var (
	// ErrIncorrectState is returned when an existing period cannot be
	// resolved against a new flag. It aborts the surrounding transaction.
	ErrIncorrectState = errors.New("incorrect state")
	// ErrFlagVerified is returned when deleting a verified flag
	ErrFlagVerified = errors.New("cannot delete a verified flag")
	// ErrSelfVerification is returned when the author verifies their own flag
	ErrSelfVerification = errors.New("cannot verify a flag you created")
)

// Mutation lists the changes to apply to the periods of earlier flags so that
// a new flag becomes authoritative over its interval
type Mutation struct {
	// Deleted holds ids of periods fully covered by the new flag
	Deleted []int64
	// Updated holds periods with their new bounds
	Updated []qcflag.Period
	// Inserted holds the right-hand parts of split periods. Their ids are zero.
	Inserted []qcflag.Period
}

// Empty reports whether the mutation changes nothing
func (m Mutation) Empty() bool {
	return len(m.Deleted) == 0 && len(m.Updated) == 0 && len(m.Inserted) == 0
}

// Plan resolves every intersecting period against the interval of a new flag.
// Periods are expected to be pairwise disjoint and to intersect the interval.
func Plan(flag qcflag.Interval, intersecting []qcflag.Period) (Mutation, error) {
	var m Mutation

	fLow, fHigh := flag.LowerKey(), flag.UpperKey()

	for _, p := range intersecting {
		pi := p.Interval()
		if !pi.Intersects(flag) {
			return Mutation{}, fmt.Errorf("%w: period %d %s does not intersect %s", ErrIncorrectState, p.ID, pi, flag)
		}

		pLow, pHigh := pi.LowerKey(), pi.UpperKey()

		switch {
		case fLow <= pLow && pHigh <= fHigh:
			m.Deleted = append(m.Deleted, p.ID)

		case pLow < fLow && fHigh < pHigh:
			m.Updated = append(m.Updated, qcflag.Period{ID: p.ID, FlagID: p.FlagID, From: p.From, To: flag.From})
			m.Inserted = append(m.Inserted, qcflag.Period{FlagID: p.FlagID, From: flag.To, To: p.To})

		case pLow < fLow && fLow <= pHigh:
			m.Updated = append(m.Updated, qcflag.Period{ID: p.ID, FlagID: p.FlagID, From: p.From, To: flag.From})

		case fHigh < pHigh && pLow <= fHigh:
			m.Updated = append(m.Updated, qcflag.Period{ID: p.ID, FlagID: p.FlagID, From: flag.To, To: p.To})

		default:
			return Mutation{}, fmt.Errorf("%w: period %d %s against %s", ErrIncorrectState, p.ID, pi, flag)
		}
	}

	return m, nil
}

// Replay rebuilds the effective periods of one scope from its flag history.
// Flags are applied in creation order regardless of the input order. The
// returned periods carry no ids and are sorted by lower bound.
func Replay(flags []qcflag.Flag) ([]qcflag.Period, error) {
	ordered := slices.Clone(flags)
	slices.SortStableFunc(ordered, func(a, b qcflag.Flag) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})

	var (
		current []qcflag.Period
		nextID  int64
	)

	for _, f := range ordered {
		interval := f.Interval()

		intersecting := make([]qcflag.Period, 0)
		for _, p := range current {
			if p.Interval().Intersects(interval) {
				intersecting = append(intersecting, p)
			}
		}

		m, err := Plan(interval, intersecting)
		if err != nil {
			return nil, fmt.Errorf("flag %d: %w", f.ID, err)
		}

		current = applyInMemory(current, m, &nextID)

		nextID++
		current = append(current, qcflag.Period{ID: nextID, FlagID: f.ID, From: f.From, To: f.To})
	}

	for i := range current {
		current[i].ID = 0
	}

	sortPeriods(current)

	return current, nil
}

func applyInMemory(current []qcflag.Period, m Mutation, nextID *int64) []qcflag.Period {
	updated := make(map[int64]qcflag.Period, len(m.Updated))
	for _, p := range m.Updated {
		updated[p.ID] = p
	}

	out := make([]qcflag.Period, 0, len(current)+len(m.Inserted))

	for _, p := range current {
		if slices.Contains(m.Deleted, p.ID) {
			continue
		}

		if u, ok := updated[p.ID]; ok {
			p = u
		}

		out = append(out, p)
	}

	for _, p := range m.Inserted {
		*nextID++
		p.ID = *nextID
		out = append(out, p)
	}

	return out
}

func sortPeriods(periods []qcflag.Period) {
	slices.SortFunc(periods, func(a, b qcflag.Period) int {
		return cmp.Or(
			cmp.Compare(a.Interval().LowerKey(), b.Interval().LowerKey()),
			cmp.Compare(a.FlagID, b.FlagID),
		)
	})
}
