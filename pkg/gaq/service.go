package gaq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/bookkeeping/pkg/observability"
	"github.com/ethpandaops/bookkeeping/pkg/qcflag"
	"github.com/ethpandaops/bookkeeping/pkg/store"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/ethpandaops/bookkeeping/pkg/gaq"

// FlaggedPeriod is a GAQ period together with the flags that produced it
type FlaggedPeriod struct {
	Period
	Flags []qcflag.Flag
}

// Service computes GAQ timelines and summaries from stored effective periods.
// Nothing is cached; every call reads the current periods.
type Service interface {
	GetPeriods(ctx context.Context, dataPassID, runNumber int64, opts SummaryOptions) ([]Period, error)
	GetFlaggedPeriods(ctx context.Context, dataPassID, runNumber int64, opts SummaryOptions) ([]FlaggedPeriod, error)
	GetRunSummary(ctx context.Context, dataPassID, runNumber int64, opts SummaryOptions) (*Summary, error)
	// GetSummary summarises every run of the data pass with GAQ detectors set
	GetSummary(ctx context.Context, dataPassID int64, opts SummaryOptions) (map[int64]Summary, error)
	GetDetectorSummary(ctx context.Context, key qcflag.ScopeKey, opts SummaryOptions) (*Summary, error)
}

// Option customises the service
type Option func(*service)

// WithRunLookup resolves run QC bounds before the store transaction opens,
// for instance through a cache
func WithRunLookup(l store.RunLookup) Option {
	return func(s *service) {
		s.runs = l
	}
}

// WithClock replaces the clock resolving open-ended periods
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}

type service struct {
	log    logrus.FieldLogger
	store  store.Store
	runs   store.RunLookup
	now    func() time.Time
	tracer trace.Tracer
}

// NewService creates a GAQ service on top of a store
func NewService(log logrus.FieldLogger, st store.Store, opts ...Option) Service {
	s := &service{
		log:    log.WithField("component", "gaq"),
		store:  st,
		now:    time.Now,
		tracer: otel.Tracer(tracerName),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// runView is everything read for one run in one transaction
type runView struct {
	bounds   qcflag.RunQcBounds
	found    bool
	timeline Timeline
	flags    map[int64]qcflag.Flag
}

// summarize summarises the run; coverage of an unregistered run is unknown
func (v *runView) summarize(runNumber int64, opts SummaryOptions) Summary {
	result := Summarize(runNumber, v.timeline, v.flags, v.bounds, opts)
	if !v.found {
		result.clearCoverage()
	}

	return result
}

func (s *service) GetPeriods(ctx context.Context, dataPassID, runNumber int64, opts SummaryOptions) (periods []Period, err error) {
	ctx, finish := s.begin(ctx, "periods", dataPassID, runNumber)
	defer func() { finish(len(periods), err) }()

	view, err := s.loadRun(ctx, dataPassID, runNumber, opts)
	if err != nil {
		return nil, err
	}

	return view.timeline.Periods, nil
}

func (s *service) GetFlaggedPeriods(ctx context.Context, dataPassID, runNumber int64, opts SummaryOptions) (flagged []FlaggedPeriod, err error) {
	ctx, finish := s.begin(ctx, "flagged_periods", dataPassID, runNumber)
	defer func() { finish(len(flagged), err) }()

	view, err := s.loadRun(ctx, dataPassID, runNumber, opts)
	if err != nil {
		return nil, err
	}

	flagged = make([]FlaggedPeriod, 0, len(view.timeline.Periods))

	for _, p := range view.timeline.Periods {
		fp := FlaggedPeriod{Period: p, Flags: make([]qcflag.Flag, 0, len(p.ContributingFlagIDs))}

		for _, id := range p.ContributingFlagIDs {
			if f, ok := view.flags[id]; ok {
				fp.Flags = append(fp.Flags, f)
			}
		}

		flagged = append(flagged, fp)
	}

	return flagged, nil
}

func (s *service) GetRunSummary(ctx context.Context, dataPassID, runNumber int64, opts SummaryOptions) (summary *Summary, err error) {
	ctx, finish := s.begin(ctx, "run_summary", dataPassID, runNumber)
	defer func() { finish(0, err) }()

	view, err := s.loadRun(ctx, dataPassID, runNumber, opts)
	if err != nil {
		return nil, err
	}

	result := view.summarize(runNumber, opts)

	return &result, nil
}

func (s *service) GetSummary(ctx context.Context, dataPassID int64, opts SummaryOptions) (summaries map[int64]Summary, err error) {
	ctx, finish := s.begin(ctx, "summary", dataPassID, 0)
	defer func() { finish(len(summaries), err) }()

	var runNumbers []int64

	err = s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		runNumbers, err = tx.GaqDetectors().GetGaqRunNumbers(ctx, dataPassID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list runs of data pass %d: %w", dataPassID, err)
	}

	looked, err := s.lookupBounds(ctx, runNumbers...)
	if err != nil {
		return nil, err
	}

	summaries = make(map[int64]Summary, len(runNumbers))

	err = s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		for _, runNumber := range runNumbers {
			view, err := s.load(ctx, tx, dataPassID, runNumber, looked, opts)
			if err != nil {
				return err
			}

			summaries[runNumber] = view.summarize(runNumber, opts)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return summaries, nil
}

func (s *service) GetDetectorSummary(ctx context.Context, key qcflag.ScopeKey, opts SummaryOptions) (summary *Summary, err error) {
	ctx, finish := s.begin(ctx, "detector_summary", 0, key.RunNumber)
	defer func() { finish(0, err) }()

	looked, err := s.lookupBounds(ctx, key.RunNumber)
	if err != nil {
		return nil, err
	}

	err = s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		bounds, found, err := s.bounds(ctx, tx, key.RunNumber, looked)
		if err != nil {
			return err
		}

		periods, err := tx.Periods().FindByScope(ctx, key)
		if err != nil {
			return fmt.Errorf("failed to load periods of %s: %w", key, err)
		}

		flags, err := s.flags(ctx, tx, periods)
		if err != nil {
			return err
		}

		result := SummarizeDetector(key, periods, flags, bounds, opts)
		if !found {
			result.clearCoverage()
		}

		summary = &result

		return nil
	})
	if err != nil {
		return nil, err
	}

	return summary, nil
}

// loadRun reads one run in its own transaction
func (s *service) loadRun(ctx context.Context, dataPassID, runNumber int64, opts SummaryOptions) (*runView, error) {
	looked, err := s.lookupBounds(ctx, runNumber)
	if err != nil {
		return nil, err
	}

	var view *runView

	err = s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		view, err = s.load(ctx, tx, dataPassID, runNumber, looked, opts)
		return err
	})
	if err != nil {
		return nil, err
	}

	return view, nil
}

func (s *service) load(ctx context.Context, tx store.Tx, dataPassID, runNumber int64, looked map[int64]lookedBounds, opts SummaryOptions) (*runView, error) {
	bounds, found, err := s.bounds(ctx, tx, runNumber, looked)
	if err != nil {
		return nil, err
	}

	detectorIDs, err := tx.GaqDetectors().GetGaqDetectorIDs(ctx, dataPassID, runNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to load GAQ detectors: %w", err)
	}

	scope := qcflag.DataPass(dataPassID)
	byDetector := make(map[int64][]qcflag.Period, len(detectorIDs))

	var all []qcflag.Period

	for _, detectorID := range detectorIDs {
		key := qcflag.ScopeKey{RunNumber: runNumber, DetectorID: detectorID, Scope: scope}

		periods, err := tx.Periods().FindByScope(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to load periods of %s: %w", key, err)
		}

		byDetector[detectorID] = periods
		all = append(all, periods...)
	}

	flags, err := s.flags(ctx, tx, all)
	if err != nil {
		return nil, err
	}

	timeline := Aggregate(AggregateInput{
		DataPassID:             dataPassID,
		RunNumber:              runNumber,
		Bounds:                 bounds,
		DetectorIDs:            detectorIDs,
		Periods:                byDetector,
		Flags:                  flags,
		Now:                    s.now(),
		MCReproducibleAsNotBad: opts.MCReproducibleAsNotBad,
	})

	return &runView{bounds: bounds, found: found, timeline: timeline, flags: flags}, nil
}

// lookedBounds are the QC bounds of a run; found is false for unregistered runs
type lookedBounds struct {
	bounds qcflag.RunQcBounds
	found  bool
}

// lookupBounds resolves bounds through the run lookup. It must run before the
// store transaction opens since the lookup may read the store itself.
func (s *service) lookupBounds(ctx context.Context, runNumbers ...int64) (map[int64]lookedBounds, error) {
	if s.runs == nil {
		return nil, nil
	}

	looked := make(map[int64]lookedBounds, len(runNumbers))

	for _, runNumber := range runNumbers {
		bounds, err := s.runs.GetQcBounds(ctx, runNumber)

		switch {
		case errors.Is(err, store.ErrRunNotFound):
			looked[runNumber] = lookedBounds{}
		case err != nil:
			return nil, fmt.Errorf("failed to look up run %d: %w", runNumber, err)
		default:
			looked[runNumber] = lookedBounds{bounds: bounds, found: true}
		}
	}

	return looked, nil
}

// bounds returns the looked-up bounds of a run or reads them in tx. An
// unknown run yields unknown bounds rather than an error.
func (s *service) bounds(ctx context.Context, tx store.Tx, runNumber int64, looked map[int64]lookedBounds) (qcflag.RunQcBounds, bool, error) {
	if rb, ok := looked[runNumber]; ok {
		return rb.bounds, rb.found, nil
	}

	bounds, err := tx.Runs().GetQcBounds(ctx, runNumber)
	if errors.Is(err, store.ErrRunNotFound) {
		s.log.WithField("run_number", runNumber).Debug("Run not registered, QC bounds unknown")

		return qcflag.RunQcBounds{}, false, nil
	}

	if err != nil {
		return qcflag.RunQcBounds{}, false, err
	}

	return bounds, true, nil
}

func (s *service) flags(ctx context.Context, tx store.Tx, periods []qcflag.Period) (map[int64]qcflag.Flag, error) {
	seen := make(map[int64]struct{}, len(periods))
	ids := make([]int64, 0, len(periods))

	for _, p := range periods {
		if _, ok := seen[p.FlagID]; ok {
			continue
		}

		seen[p.FlagID] = struct{}{}
		ids = append(ids, p.FlagID)
	}

	flags := make(map[int64]qcflag.Flag, len(ids))
	if len(ids) == 0 {
		return flags, nil
	}

	loaded, err := tx.Flags().GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load flags: %w", err)
	}

	for _, f := range loaded {
		flags[f.ID] = f
	}

	return flags, nil
}

func (s *service) begin(ctx context.Context, operation string, dataPassID, runNumber int64) (context.Context, func(int, error)) {
	start := time.Now()

	ctx, span := s.tracer.Start(ctx, "gaq."+operation, trace.WithAttributes(
		attribute.Int64("data_pass_id", dataPassID),
		attribute.Int64("run_number", runNumber),
	))

	return ctx, func(periods int, err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			observability.RecordError("gaq", operation)
		}

		observability.RecordGaqAggregation(operation, periods, time.Since(start).Seconds())
		span.End()
	}
}

var _ Service = (*service)(nil)
