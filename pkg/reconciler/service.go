package reconciler

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

const tracerName = "github.com/ethpandaops/bookkeeping/pkg/reconciler"

// Locker serialises work on one scope across processes. The returned
// function releases the lock.
type Locker interface {
	Lock(ctx context.Context, key string) (func(context.Context) error, error)
}

// CreateFlagRequest describes a new flag. Nil bounds default to the run QC
// bounds.
type CreateFlagRequest struct {
	RunNumber        int64
	DetectorID       int64
	DataPassID       *int64
	SimulationPassID *int64
	From             *time.Time
	To               *time.Time
	FlagTypeID       int64
	Comment          string
	CreatedBy        string
}

// VerifyRequest signs off a flag
type VerifyRequest struct {
	FlagID    int64
	CreatedBy string
	Comment   string
}

// FlagDetails is a flag together with the periods it currently owns
type FlagDetails struct {
	Flag    qcflag.Flag
	Periods []qcflag.Period
}

// ReconstructResult summarises a bulk reconstruction
type ReconstructResult struct {
	Scopes  int `json:"scopes"`
	Flags   int `json:"flags"`
	Periods int `json:"periods"`
}

// Service creates, deletes and verifies flags while keeping effective
// periods consistent, and rebuilds periods from flag history
type Service interface {
	CreateFlag(ctx context.Context, req CreateFlagRequest) (*FlagDetails, error)
	DeleteFlag(ctx context.Context, id int64) (*qcflag.Flag, error)
	VerifyFlag(ctx context.Context, req VerifyRequest) (*qcflag.Flag, error)
	GetFlag(ctx context.Context, id int64) (*FlagDetails, error)
	Reconstruct(ctx context.Context, key qcflag.ScopeKey) (*ReconstructResult, error)
	ReconstructAll(ctx context.Context) (*ReconstructResult, error)
}

// Option customises the service
type Option func(*service)

// WithLocker guards every scope mutation with the given lock
func WithLocker(l Locker) Option {
	return func(s *service) {
		s.locker = l
	}
}

// WithClock replaces the creation clock
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}

type service struct {
	log    logrus.FieldLogger
	store  store.Store
	locker Locker
	now    func() time.Time
	tracer trace.Tracer
}

// NewService creates a reconciler service on top of a store
func NewService(log logrus.FieldLogger, st store.Store, opts ...Option) Service {
	s := &service{
		log:    log.WithField("component", "reconciler"),
		store:  st,
		now:    time.Now,
		tracer: otel.Tracer(tracerName),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *service) CreateFlag(ctx context.Context, req CreateFlagRequest) (details *FlagDetails, err error) {
	scope, err := qcflag.NewScope(req.DataPassID, req.SimulationPassID)
	if err != nil {
		return nil, err
	}

	key := qcflag.ScopeKey{RunNumber: req.RunNumber, DetectorID: req.DetectorID, Scope: scope}

	ctx, finish := s.begin(ctx, "create", key)
	defer func() { finish(err) }()

	err = s.withScopeLock(ctx, key, func() error {
		return s.store.Update(ctx, func(ctx context.Context, tx store.Tx) error {
			if err := tx.LockScope(ctx, key); err != nil {
				return err
			}

			bounds, err := tx.Runs().GetQcBounds(ctx, req.RunNumber)
			if err != nil {
				return err
			}

			flagType, err := tx.FlagTypes().Get(ctx, req.FlagTypeID)
			if err != nil {
				return err
			}

			interval, err := bounds.PrepareFlagInterval(qcflag.Interval{From: req.From, To: req.To})
			if err != nil {
				return err
			}

			flag := qcflag.Flag{
				RunNumber:  req.RunNumber,
				DetectorID: req.DetectorID,
				Scope:      scope,
				From:       interval.From,
				To:         interval.To,
				Type:       flagType,
				Comment:    req.Comment,
				CreatedBy:  req.CreatedBy,
				CreatedAt:  s.now().UTC().Truncate(time.Millisecond),
			}

			flag.ID, err = tx.Flags().Insert(ctx, &flag)
			if err != nil {
				return fmt.Errorf("failed to insert flag: %w", err)
			}

			if err := s.apply(ctx, tx, &flag); err != nil {
				return err
			}

			periods, err := tx.Periods().FindByFlag(ctx, flag.ID)
			if err != nil {
				return err
			}

			details = &FlagDetails{Flag: flag, Periods: periods}

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"flag_id":  details.Flag.ID,
		"scope":    key.String(),
		"interval": details.Flag.Interval().String(),
	}).Debug("Created flag")

	return details, nil
}

// apply makes flag authoritative over its interval against every earlier flag
// of its scope and gives it its own period
func (s *service) apply(ctx context.Context, tx store.Tx, flag *qcflag.Flag) error {
	interval := flag.Interval()
	before := store.CreatedBefore{CreatedAt: flag.CreatedAt, FlagID: flag.ID}

	intersecting, err := tx.Periods().FindIntersecting(ctx, flag.Key(), interval, before)
	if err != nil {
		return fmt.Errorf("failed to load intersecting periods: %w", err)
	}

	m, err := Plan(interval, intersecting)
	if err != nil {
		observability.RecordError("reconciler", "incorrect_state")

		return fmt.Errorf("flag %d: %w", flag.ID, err)
	}

	for _, id := range m.Deleted {
		if err := tx.Periods().DeleteByID(ctx, id); err != nil {
			return fmt.Errorf("failed to delete period %d: %w", id, err)
		}
	}

	for _, p := range m.Updated {
		if err := tx.Periods().UpdateBounds(ctx, p.ID, p.From, p.To); err != nil {
			return fmt.Errorf("failed to update period %d: %w", p.ID, err)
		}
	}

	for i := range m.Inserted {
		if _, err := tx.Periods().Insert(ctx, &m.Inserted[i]); err != nil {
			return fmt.Errorf("failed to insert split period: %w", err)
		}
	}

	own := qcflag.Period{FlagID: flag.ID, From: flag.From, To: flag.To}
	if _, err := tx.Periods().Insert(ctx, &own); err != nil {
		return fmt.Errorf("failed to insert period: %w", err)
	}

	observability.RecordPeriodMutations("deleted", len(m.Deleted))
	observability.RecordPeriodMutations("updated", len(m.Updated))
	observability.RecordPeriodMutations("inserted", len(m.Inserted)+1)

	return nil
}

func (s *service) DeleteFlag(ctx context.Context, id int64) (deleted *qcflag.Flag, err error) {
	var existing *qcflag.Flag

	if err := s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		existing, err = tx.Flags().Get(ctx, id)
		return err
	}); err != nil {
		return nil, err
	}

	key := existing.Key()

	ctx, finish := s.begin(ctx, "delete", key)
	defer func() { finish(err) }()

	err = s.withScopeLock(ctx, key, func() error {
		return s.store.Update(ctx, func(ctx context.Context, tx store.Tx) error {
			if err := tx.LockScope(ctx, key); err != nil {
				return err
			}

			flag, err := tx.Flags().Get(ctx, id)
			if err != nil {
				return err
			}

			if flag.Verified() {
				return fmt.Errorf("flag %d: %w", id, ErrFlagVerified)
			}

			if err := tx.Periods().DeleteByFlag(ctx, id); err != nil {
				return fmt.Errorf("failed to delete periods of flag %d: %w", id, err)
			}

			if err := tx.Flags().Delete(ctx, id); err != nil {
				return fmt.Errorf("failed to delete flag %d: %w", id, err)
			}

			if _, err := s.rebuild(ctx, tx, key); err != nil {
				return err
			}

			deleted = flag

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"flag_id": id,
		"scope":   key.String(),
	}).Debug("Deleted flag")

	return deleted, nil
}

func (s *service) VerifyFlag(ctx context.Context, req VerifyRequest) (*qcflag.Flag, error) {
	var verified *qcflag.Flag

	err := s.store.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		flag, err := tx.Flags().Get(ctx, req.FlagID)
		if err != nil {
			return err
		}

		if flag.CreatedBy == req.CreatedBy {
			return fmt.Errorf("flag %d: %w", req.FlagID, ErrSelfVerification)
		}

		if _, err := tx.Flags().AddVerification(ctx, &qcflag.Verification{
			FlagID:    req.FlagID,
			CreatedBy: req.CreatedBy,
			Comment:   req.Comment,
			CreatedAt: s.now().UTC().Truncate(time.Millisecond),
		}); err != nil {
			return fmt.Errorf("failed to insert verification: %w", err)
		}

		verified, err = tx.Flags().Get(ctx, req.FlagID)

		return err
	})
	if err != nil {
		return nil, err
	}

	return verified, nil
}

func (s *service) GetFlag(ctx context.Context, id int64) (*FlagDetails, error) {
	var details *FlagDetails

	err := s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		flag, err := tx.Flags().Get(ctx, id)
		if err != nil {
			return err
		}

		periods, err := tx.Periods().FindByFlag(ctx, id)
		if err != nil {
			return err
		}

		details = &FlagDetails{Flag: *flag, Periods: periods}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return details, nil
}

func (s *service) Reconstruct(ctx context.Context, key qcflag.ScopeKey) (result *ReconstructResult, err error) {
	ctx, finish := s.begin(ctx, "reconstruct", key)
	defer func() { finish(err) }()

	err = s.withScopeLock(ctx, key, func() error {
		return s.store.Update(ctx, func(ctx context.Context, tx store.Tx) error {
			if err := tx.LockScope(ctx, key); err != nil {
				return err
			}

			result, err = s.rebuild(ctx, tx, key)

			return err
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"scope":   key.String(),
		"flags":   result.Flags,
		"periods": result.Periods,
	}).Debug("Reconstructed scope")

	return result, nil
}

func (s *service) ReconstructAll(ctx context.Context) (*ReconstructResult, error) {
	var scopes []qcflag.ScopeKey

	if err := s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		scopes, err = tx.Flags().ListScopes(ctx)
		return err
	}); err != nil {
		return nil, fmt.Errorf("failed to list scopes: %w", err)
	}

	total := &ReconstructResult{}

	for _, key := range scopes {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		result, err := s.Reconstruct(ctx, key)
		if err != nil {
			return total, fmt.Errorf("failed to reconstruct %s: %w", key, err)
		}

		total.Scopes++
		total.Flags += result.Flags
		total.Periods += result.Periods
	}

	s.log.WithFields(logrus.Fields{
		"scopes":  total.Scopes,
		"flags":   total.Flags,
		"periods": total.Periods,
	}).Info("Reconstructed all effective periods")

	return total, nil
}

// rebuild drops every period of a scope and replays its remaining flags
func (s *service) rebuild(ctx context.Context, tx store.Tx, key qcflag.ScopeKey) (*ReconstructResult, error) {
	if err := tx.Periods().DeleteByScope(ctx, key); err != nil {
		return nil, fmt.Errorf("failed to clear periods of %s: %w", key, err)
	}

	flags, err := tx.Flags().FindByScope(ctx, key, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load flags of %s: %w", key, err)
	}

	periods, err := Replay(flags)
	if err != nil {
		observability.RecordError("reconciler", "incorrect_state")

		return nil, err
	}

	for i := range periods {
		if _, err := tx.Periods().Insert(ctx, &periods[i]); err != nil {
			return nil, fmt.Errorf("failed to insert period: %w", err)
		}
	}

	observability.RecordPeriodMutations("inserted", len(periods))

	return &ReconstructResult{Scopes: 1, Flags: len(flags), Periods: len(periods)}, nil
}

func (s *service) withScopeLock(ctx context.Context, key qcflag.ScopeKey, fn func() error) error {
	if s.locker == nil {
		return fn()
	}

	unlock, err := s.locker.Lock(ctx, "scope:"+key.String())
	if err != nil {
		return fmt.Errorf("failed to lock %s: %w", key, err)
	}

	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			s.log.WithError(err).WithField("scope", key.String()).Warn("Failed to release scope lock")
		}
	}()

	return fn()
}

// begin opens a span and returns the function recording its outcome
func (s *service) begin(ctx context.Context, operation string, key qcflag.ScopeKey) (context.Context, func(error)) {
	start := time.Now()

	ctx, span := s.tracer.Start(ctx, "reconciler."+operation, trace.WithAttributes(
		attribute.Int64("run_number", key.RunNumber),
		attribute.Int64("detector_id", key.DetectorID),
		attribute.String("scope", key.Scope.String()),
	))

	return ctx, func(err error) {
		status := "success"

		if err != nil {
			status = "failed"
			if errors.Is(err, ErrIncorrectState) {
				status = "incorrect_state"
			}

			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}

		observability.RecordReconciliation(operation, status, time.Since(start).Seconds())
		span.End()
	}
}

var _ Service = (*service)(nil)
