package gaq

import (
	"time"

	"github.com/ethpandaops/bookkeeping/pkg/qcflag"
)

// SummaryOptions tune how coverage is attributed
type SummaryOptions struct {
	// MCReproducibleAsNotBad counts MC reproducible coverage as not bad
	MCReproducibleAsNotBad bool
}

// Summary is the coverage of a run by bad and not-bad quality. Coverages are
// fractions of the run QC duration in [0,1], nil when the run QC bounds are
// unknown and the coverage cannot be derived.
type Summary struct {
	RunNumber                            int64    `json:"runNumber"`
	DetectorID                           *int64   `json:"detectorId,omitempty"`
	BadEffectiveRunCoverage              *float64 `json:"badEffectiveRunCoverage"`
	ExplicitlyNotBadEffectiveRunCoverage *float64 `json:"explicitlyNotBadEffectiveRunCoverage"`
	MCReproducibleCoverage               *float64 `json:"mcReproducibleCoverage"`
	MCReproducible                       bool     `json:"mcReproducible"`
	MissingVerificationsCount            int      `json:"missingVerificationsCount"`
	UndefinedQualityPeriodsCount         int      `json:"undefinedQualityPeriodsCount"`
}

// segment is an interval with a verdict, the unit coverage is summed over
type segment struct {
	from         *time.Time
	to           *time.Time
	significance Significance
	flagIDs      []int64
}

// Summarize derives the run summary from a GAQ timeline. flags must hold
// every contributing flag so unverified ones can be counted. With unknown run
// bounds a verdict with no periods has coverage 0 and one spanning the whole
// run has coverage 1; any other coverage is nil.
func Summarize(runNumber int64, timeline Timeline, flags map[int64]qcflag.Flag, bounds qcflag.RunQcBounds, opts SummaryOptions) Summary {
	segments := make([]segment, 0, len(timeline.Periods))
	for _, p := range timeline.Periods {
		segments = append(segments, segment{from: p.From, to: p.To, significance: p.Significance, flagIDs: p.ContributingFlagIDs})
	}

	s := summarize(segments, flags, bounds, opts)
	s.RunNumber = runNumber
	s.UndefinedQualityPeriodsCount = timeline.Incomplete

	return s
}

// SummarizeDetector derives the summary of one detector scope from its
// effective periods, each judged by its own flag
func SummarizeDetector(key qcflag.ScopeKey, periods []qcflag.Period, flags map[int64]qcflag.Flag, bounds qcflag.RunQcBounds, opts SummaryOptions) Summary {
	segments := make([]segment, 0, len(periods))

	for _, p := range periods {
		f, ok := flags[p.FlagID]
		if !ok {
			continue
		}

		segments = append(segments, segment{
			from:         p.From,
			to:           p.To,
			significance: SignificanceOf([]qcflag.FlagType{f.Type}),
			flagIDs:      []int64{p.FlagID},
		})
	}

	s := summarize(segments, flags, bounds, opts)
	s.RunNumber = key.RunNumber
	detectorID := key.DetectorID
	s.DetectorID = &detectorID

	return s
}

func summarize(segments []segment, flags map[int64]qcflag.Flag, bounds qcflag.RunQcBounds, opts SummaryOptions) Summary {
	bad := coverage(segments, bounds, SignificanceBad)
	mcr := coverage(segments, bounds, SignificanceMCReproducible)
	good := coverage(segments, bounds, SignificanceGood)

	var s Summary

	if opts.MCReproducibleAsNotBad {
		s.BadEffectiveRunCoverage = bad
		s.ExplicitlyNotBadEffectiveRunCoverage = sum(good, mcr)
	} else {
		s.BadEffectiveRunCoverage = sum(bad, mcr)
		s.ExplicitlyNotBadEffectiveRunCoverage = good
	}

	s.MCReproducibleCoverage = mcr

	for _, seg := range segments {
		if seg.significance == SignificanceMCReproducible {
			s.MCReproducible = true
			break
		}
	}

	seen := make(map[int64]struct{})

	for _, seg := range segments {
		for _, id := range seg.flagIDs {
			if _, ok := seen[id]; ok {
				continue
			}

			seen[id] = struct{}{}

			if f, ok := flags[id]; ok && !f.Verified() {
				s.MissingVerificationsCount++
			}
		}
	}

	return s
}

// coverage returns the fraction of the run QC span covered by segments of the
// given verdict. With unknown run bounds only a segment spanning the whole run
// has a known coverage.
func coverage(segments []segment, bounds qcflag.RunQcBounds, significance Significance) *float64 {
	matching := make([]segment, 0, len(segments))
	for _, seg := range segments {
		if seg.significance == significance {
			matching = append(matching, seg)
		}
	}

	if len(matching) == 0 {
		return ratio(0)
	}

	run, ok := bounds.Span()
	if !ok {
		for _, seg := range matching {
			if seg.from != nil || seg.to != nil {
				return nil
			}
		}

		return ratio(1)
	}

	total := run.Duration()
	if total <= 0 {
		return nil
	}

	var covered time.Duration

	for _, seg := range matching {
		span, _ := bounds.Resolve(qcflag.Interval{From: seg.from, To: seg.to}, run.To)
		covered += clip(span, run).Duration()
	}

	return ratio(covered.Seconds() / total.Seconds())
}

// clearCoverage marks every coverage as unknown
func (s *Summary) clearCoverage() {
	s.BadEffectiveRunCoverage = nil
	s.ExplicitlyNotBadEffectiveRunCoverage = nil
	s.MCReproducibleCoverage = nil
}

func clip(s, run qcflag.Span) qcflag.Span {
	if s.From.Before(run.From) {
		s.From = run.From
	}

	if s.To.After(run.To) {
		s.To = run.To
	}

	return s
}

func ratio(v float64) *float64 {
	v = min(1, max(0, v))
	return &v
}

func sum(a, b *float64) *float64 {
	if a == nil || b == nil {
		return nil
	}

	return ratio(*a + *b)
}
