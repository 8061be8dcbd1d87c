// Package store defines the persistence contracts of the QC flag core. The
// reconciler and the GAQ service only talk to these interfaces; memory and
// SQL implementations live in sub-packages.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ethpandaops/bookkeeping/pkg/qcflag"
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("not found")
	// ErrRunNotFound is returned by RunLookup for unknown runs
	ErrRunNotFound = errors.New("run not found")
	// ErrFlagTypeNotFound is returned for unknown flag types
	ErrFlagTypeNotFound = errors.New("flag type not found")
	// ErrReadOnly is returned by writes attempted inside View
	ErrReadOnly = errors.New("write in read-only transaction")
)

// CreatedBefore bounds a query to flags created strictly before a given
// flag. Flags sharing a creation instant are ordered by id.
type CreatedBefore struct {
	CreatedAt time.Time
	FlagID    int64
}

// Includes reports whether a flag precedes the cursor
func (c CreatedBefore) Includes(f *qcflag.Flag) bool {
	at, ref := f.CreatedAt.UnixMilli(), c.CreatedAt.UnixMilli()
	if at != ref {
		return at < ref
	}

	return f.ID < c.FlagID
}

// FlagStore persists flags and their verifications
type FlagStore interface {
	// Insert stores the flag and returns its new id
	Insert(ctx context.Context, flag *qcflag.Flag) (int64, error)
	// Get returns one flag with its verifications
	Get(ctx context.Context, id int64) (*qcflag.Flag, error)
	// GetMany returns the flags with the given ids, ignoring unknown ids
	GetMany(ctx context.Context, ids []int64) ([]qcflag.Flag, error)
	// FindByScope returns the flags of a scope ordered by creation. A nil
	// cursor returns the whole history.
	FindByScope(ctx context.Context, key qcflag.ScopeKey, before *CreatedBefore) ([]qcflag.Flag, error)
	// Delete removes a flag and its verifications
	Delete(ctx context.Context, id int64) error
	// AddVerification stores a verification and returns its new id
	AddVerification(ctx context.Context, v *qcflag.Verification) (int64, error)
	// ListScopes returns every scope holding at least one flag
	ListScopes(ctx context.Context) ([]qcflag.ScopeKey, error)
}

// PeriodStore persists effective periods
type PeriodStore interface {
	// FindIntersecting returns the periods of a scope overlapping the interval
	// whose flag precedes the cursor
	FindIntersecting(ctx context.Context, key qcflag.ScopeKey, interval qcflag.Interval, before CreatedBefore) ([]qcflag.Period, error)
	// FindByScope returns every period of a scope ordered by lower bound
	FindByScope(ctx context.Context, key qcflag.ScopeKey) ([]qcflag.Period, error)
	// FindByFlag returns the periods owned by a flag
	FindByFlag(ctx context.Context, flagID int64) ([]qcflag.Period, error)
	// Insert stores a period and returns its new id
	Insert(ctx context.Context, period *qcflag.Period) (int64, error)
	// UpdateBounds moves both bounds of a period
	UpdateBounds(ctx context.Context, id int64, from, to *time.Time) error
	// DeleteByID removes one period
	DeleteByID(ctx context.Context, id int64) error
	// DeleteByFlag removes every period of a flag
	DeleteByFlag(ctx context.Context, flagID int64) error
	// DeleteByScope removes every period of a scope
	DeleteByScope(ctx context.Context, key qcflag.ScopeKey) error
}

// RunLookup resolves run QC bounds
type RunLookup interface {
	// GetQcBounds returns ErrRunNotFound for unknown runs
	GetQcBounds(ctx context.Context, runNumber int64) (qcflag.RunQcBounds, error)
}

// RunStore extends RunLookup with registration of runs
type RunStore interface {
	RunLookup
	UpsertRun(ctx context.Context, runNumber int64, bounds qcflag.RunQcBounds) error
}

// FlagTypeStore persists flag types
type FlagTypeStore interface {
	// Get returns ErrFlagTypeNotFound for unknown ids
	Get(ctx context.Context, id int64) (qcflag.FlagType, error)
	Upsert(ctx context.Context, flagType qcflag.FlagType) error
}

// GaqDetectorConfig lists the detectors contributing to the GAQ of a run
// within a data pass
type GaqDetectorConfig interface {
	GetGaqDetectorIDs(ctx context.Context, dataPassID, runNumber int64) ([]int64, error)
	// GetGaqRunNumbers returns the runs of a data pass with GAQ detectors set
	GetGaqRunNumbers(ctx context.Context, dataPassID int64) ([]int64, error)
}

// GaqDetectorStore extends GaqDetectorConfig with writes
type GaqDetectorStore interface {
	GaqDetectorConfig
	SetGaqDetectors(ctx context.Context, dataPassID, runNumber int64, detectorIDs []int64) error
}

// Tx is one unit of work. Every repository handed out by a Tx shares its
// transaction.
type Tx interface {
	Flags() FlagStore
	Periods() PeriodStore
	Runs() RunStore
	FlagTypes() FlagTypeStore
	GaqDetectors() GaqDetectorStore
	// LockScope serialises writers of one scope until the transaction ends
	LockScope(ctx context.Context, key qcflag.ScopeKey) error
}

// TxFunc is run inside a transaction. Returning an error rolls it back.
type TxFunc func(ctx context.Context, tx Tx) error

// Store opens transactions
type Store interface {
	// View runs fn in a read-only transaction
	View(ctx context.Context, fn TxFunc) error
	// Update runs fn in a read-write transaction committed when fn succeeds
	Update(ctx context.Context, fn TxFunc) error
	Close() error
}
