package qcflag

import (
	"fmt"
	"math"
	"time"
)

// Interval is a half-open [From, To) range whose bounds may be open. A nil
// From reaches back to the start of the run, a nil To reaches forward to its
// end. For ordering purposes nil bounds sort as -inf and +inf.
type Interval struct {
	From *time.Time
	To   *time.Time
}

// Millis converts a millisecond epoch into a UTC instant
func Millis(ms int64) *time.Time {
	t := time.UnixMilli(ms).UTC()

	return &t
}

// MillisOf returns the millisecond epoch of an optional instant
func MillisOf(t *time.Time) *int64 {
	if t == nil {
		return nil
	}

	ms := t.UnixMilli()

	return &ms
}

// LowerKey returns the comparable lower bound in milliseconds
func (i Interval) LowerKey() int64 {
	if i.From == nil {
		return math.MinInt64
	}

	return i.From.UnixMilli()
}

// UpperKey returns the comparable upper bound in milliseconds
func (i Interval) UpperKey() int64 {
	if i.To == nil {
		return math.MaxInt64
	}

	return i.To.UnixMilli()
}

// Intersects reports whether the two intervals share at least one instant
func (i Interval) Intersects(o Interval) bool {
	return i.LowerKey() < o.UpperKey() && o.LowerKey() < i.UpperKey()
}

// Covers reports whether o lies entirely inside i
func (i Interval) Covers(o Interval) bool {
	return i.LowerKey() <= o.LowerKey() && o.UpperKey() <= i.UpperKey()
}

// Equal compares bounds at millisecond precision
func (i Interval) Equal(o Interval) bool {
	return i.LowerKey() == o.LowerKey() && i.UpperKey() == o.UpperKey()
}

func (i Interval) String() string {
	return fmt.Sprintf("[%s, %s)", formatBound(i.From, "-inf"), formatBound(i.To, "+inf"))
}

func formatBound(t *time.Time, open string) string {
	if t == nil {
		return open
	}

	return t.UTC().Format(time.RFC3339Nano)
}

// Span is an interval with both bounds resolved
type Span struct {
	From time.Time
	To   time.Time
}

// Duration returns the length of the span, never negative
func (s Span) Duration() time.Duration {
	if s.To.Before(s.From) {
		return 0
	}

	return s.To.Sub(s.From)
}

// RunQcBounds are the QC start and end of a run, both optional
type RunQcBounds struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// Known reports whether both bounds are set
func (b RunQcBounds) Known() bool {
	return b.Start != nil && b.End != nil
}

// Span returns the run QC span when both bounds are known
func (b RunQcBounds) Span() (Span, bool) {
	if !b.Known() {
		return Span{}, false
	}

	return Span{From: *b.Start, To: *b.End}, true
}

// Resolve fills the open bounds of i from the run: From falls back to the QC
// start, To falls back to the QC end and then to now. The second return is
// false when From cannot be resolved.
func (b RunQcBounds) Resolve(i Interval, now time.Time) (Span, bool) {
	from := i.From
	if from == nil {
		from = b.Start
	}

	if from == nil {
		return Span{}, false
	}

	to := i.To
	if to == nil {
		to = b.End
	}

	if to == nil {
		to = &now
	}

	return Span{From: *from, To: *to}, true
}

// PrepareFlagInterval validates a requested flag interval against the run and
// returns its stored form. Missing bounds default to the run QC bounds; a
// bound that ends up equal to the matching run bound is stored open so the
// flag follows later corrections of the run timing.
func (b RunQcBounds) PrepareFlagInterval(requested Interval) (Interval, error) {
	from := requested.From
	if from == nil {
		from = b.Start
	}

	to := requested.To
	if to == nil {
		to = b.End
	}

	if from == nil && to == nil {
		return Interval{}, nil
	}

	if from == nil || to == nil {
		return Interval{}, fmt.Errorf("%w: both bounds are required when the run QC bounds are unknown", ErrInvalidPeriod)
	}

	if !from.Before(*to) {
		return Interval{}, fmt.Errorf("%w: from %s must be before to %s", ErrInvalidPeriod, from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))
	}

	if b.Start != nil && from.Before(*b.Start) {
		return Interval{}, fmt.Errorf("%w: from %s is before run QC start %s", ErrPeriodOutOfRun, from.UTC().Format(time.RFC3339), b.Start.UTC().Format(time.RFC3339))
	}

	if b.End != nil && to.After(*b.End) {
		return Interval{}, fmt.Errorf("%w: to %s is after run QC end %s", ErrPeriodOutOfRun, to.UTC().Format(time.RFC3339), b.End.UTC().Format(time.RFC3339))
	}

	return b.Normalize(Interval{From: from, To: to}), nil
}

// Normalize opens the bounds of i that coincide with the run QC bounds
func (b RunQcBounds) Normalize(i Interval) Interval {
	out := i

	if out.From != nil && b.Start != nil && out.From.UnixMilli() == b.Start.UnixMilli() {
		out.From = nil
	}

	if out.To != nil && b.End != nil && out.To.UnixMilli() == b.End.UnixMilli() {
		out.To = nil
	}

	return out
}
