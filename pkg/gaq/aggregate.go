// Package gaq merges the effective periods of the GAQ detectors of a run into
// one global aggregated quality timeline and derives coverage summaries from it.
package gaq

import (
	"cmp"
	"maps"
	"math"
	"slices"
	"time"

	"github.com/ethpandaops/bookkeeping/pkg/qcflag"
)

// Significance is the verdict of a set of flags over one instant
type Significance string

const (
	// SignificanceGood means no contributing flag is bad
	SignificanceGood Significance = "good"
	// SignificanceBad means a contributing flag is bad and not MC reproducible
	SignificanceBad Significance = "bad"
	// SignificanceMCReproducible means every bad contribution is MC reproducible
	SignificanceMCReproducible Significance = "mcReproducible"
)

// SignificanceOf folds flag types into a verdict. A bad type that is not MC
// reproducible dominates; MC reproducible types come next.
func SignificanceOf(types []qcflag.FlagType) Significance {
	result := SignificanceGood

	for _, t := range types {
		switch {
		case t.MonteCarloReproducible:
			if result == SignificanceGood {
				result = SignificanceMCReproducible
			}
		case t.Bad:
			return SignificanceBad
		}
	}

	return result
}

// IsBad applies the MC reproducible policy to a verdict
func (s Significance) IsBad(mcReproducibleAsNotBad bool) bool {
	return s == SignificanceBad || (s == SignificanceMCReproducible && !mcReproducibleAsNotBad)
}

// Period is one segment of the GAQ timeline
type Period struct {
	DataPassID          int64
	RunNumber           int64
	From                *time.Time
	To                  *time.Time
	ContributingFlagIDs []int64
	Significance        Significance
	Bad                 bool
	MCReproducible      bool
}

// AggregateInput is everything the timeline of one run is built from
type AggregateInput struct {
	DataPassID  int64
	RunNumber   int64
	Bounds      qcflag.RunQcBounds
	DetectorIDs []int64
	// Periods holds the effective periods of each detector
	Periods map[int64][]qcflag.Period
	// Flags holds every flag owning one of the periods
	Flags                  map[int64]qcflag.Flag
	Now                    time.Time
	MCReproducibleAsNotBad bool
}

// Timeline is the result of an aggregation
type Timeline struct {
	Periods []Period
	// Incomplete counts segments where some but not all GAQ detectors
	// have a flag
	Incomplete int
}

type boundary struct {
	key int64
	at  *time.Time
}

// Aggregate builds the GAQ timeline. Every period edge of every GAQ detector
// becomes a boundary; consecutive boundaries delimit candidate segments, and a
// segment is kept when each GAQ detector has a period covering all of it.
func Aggregate(in AggregateInput) Timeline {
	if len(in.DetectorIDs) == 0 {
		return Timeline{Periods: []Period{}}
	}

	boundaries := collectBoundaries(in)

	timeline := Timeline{Periods: make([]Period, 0, len(boundaries))}

	for i := 1; i < len(boundaries); i++ {
		from, to := boundaries[i-1], boundaries[i]

		contributing := make(map[int64]struct{})
		covered := 0

		for _, detectorID := range in.DetectorIDs {
			found := false

			for _, p := range in.Periods[detectorID] {
				pi := p.Interval()
				if pi.LowerKey() <= from.key && to.key <= pi.UpperKey() {
					contributing[p.FlagID] = struct{}{}
					found = true
				}
			}

			if found {
				covered++
			}
		}

		if covered == 0 {
			continue
		}

		if covered < len(in.DetectorIDs) {
			timeline.Incomplete++
			continue
		}

		ids := slices.Sorted(maps.Keys(contributing))

		types := make([]qcflag.FlagType, 0, len(ids))
		for _, id := range ids {
			if f, ok := in.Flags[id]; ok {
				types = append(types, f.Type)
			}
		}

		significance := SignificanceOf(types)

		timeline.Periods = append(timeline.Periods, Period{
			DataPassID:          in.DataPassID,
			RunNumber:           in.RunNumber,
			From:                from.at,
			To:                  to.at,
			ContributingFlagIDs: ids,
			Significance:        significance,
			Bad:                 significance.IsBad(in.MCReproducibleAsNotBad),
			MCReproducible:      significance == SignificanceMCReproducible,
		})
	}

	return timeline
}

// collectBoundaries returns the distinct boundaries sorted by ordering key.
// An open start resolves to the run QC start and sorts first when that is
// unknown too; an open end resolves to the run QC end and sorts at now.
func collectBoundaries(in AggregateInput) []boundary {
	nowKey := in.Now.UnixMilli()
	byKey := make(map[int64]*time.Time)

	add := func(at *time.Time, fallback int64) {
		key := fallback
		if at != nil {
			key = at.UnixMilli()
		}

		if _, ok := byKey[key]; !ok {
			byKey[key] = at
		}
	}

	addFrom := func(from *time.Time) {
		if from == nil {
			from = in.Bounds.Start
		}

		add(from, math.MinInt64)
	}

	addTo := func(to *time.Time) {
		if to == nil {
			to = in.Bounds.End
		}

		add(to, nowKey)
	}

	hasPeriods := false

	for _, detectorID := range in.DetectorIDs {
		for _, p := range in.Periods[detectorID] {
			hasPeriods = true

			addFrom(p.From)
			addTo(p.To)
		}
	}

	if hasPeriods {
		if in.Bounds.Start != nil {
			addFrom(in.Bounds.Start)
		}

		if in.Bounds.End != nil {
			addTo(in.Bounds.End)
		}
	}

	out := make([]boundary, 0, len(byKey))
	for key, at := range byKey {
		out = append(out, boundary{key: key, at: at})
	}

	slices.SortFunc(out, func(a, b boundary) int { return cmp.Compare(a.key, b.key) })

	return out
}
