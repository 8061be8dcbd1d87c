// Package memory provides an in-process store. Update transactions run on a
// copy of the state that replaces the live state only on success, so a failed
// reconciliation leaves nothing behind.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/ethpandaops/bookkeeping/pkg/qcflag"
	"github.com/ethpandaops/bookkeeping/pkg/store"
)

type gaqKey struct {
	dataPassID int64
	runNumber  int64
}

type state struct {
	nextFlagID         int64
	nextPeriodID       int64
	nextVerificationID int64

	flags     map[int64]qcflag.Flag
	periods   map[int64]qcflag.Period
	runs      map[int64]qcflag.RunQcBounds
	flagTypes map[int64]qcflag.FlagType
	gaq       map[gaqKey][]int64
}

func newState() *state {
	return &state{
		flags:     make(map[int64]qcflag.Flag),
		periods:   make(map[int64]qcflag.Period),
		runs:      make(map[int64]qcflag.RunQcBounds),
		flagTypes: make(map[int64]qcflag.FlagType),
		gaq:       make(map[gaqKey][]int64),
	}
}

func (s *state) clone() *state {
	out := &state{
		nextFlagID:         s.nextFlagID,
		nextPeriodID:       s.nextPeriodID,
		nextVerificationID: s.nextVerificationID,
		flags:              make(map[int64]qcflag.Flag, len(s.flags)),
		periods:            maps.Clone(s.periods),
		runs:               maps.Clone(s.runs),
		flagTypes:          maps.Clone(s.flagTypes),
		gaq:                make(map[gaqKey][]int64, len(s.gaq)),
	}

	for id, f := range s.flags {
		f.Verifications = slices.Clone(f.Verifications)
		out.flags[id] = f
	}

	for k, v := range s.gaq {
		out.gaq[k] = slices.Clone(v)
	}

	return out
}

// Store is a mutex-guarded in-memory store
type Store struct {
	mu    sync.RWMutex
	state *state
}

// New returns an empty store
func New() *Store {
	return &Store{state: newState()}
}

// View runs fn against the live state under a read lock
func (s *Store) View(ctx context.Context, fn store.TxFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return fn(ctx, &tx{st: s.state, readOnly: true})
}

// Update runs fn against a copy of the state and publishes it on success
func (s *Store) Update(ctx context.Context, fn store.TxFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(ctx, &tx{st: work}); err != nil {
		return err
	}

	s.state = work

	return nil
}

// Close is a no-op
func (s *Store) Close() error {
	return nil
}

type tx struct {
	st       *state
	readOnly bool
}

func (t *tx) Flags() store.FlagStore               { return &flags{t} }
func (t *tx) Periods() store.PeriodStore           { return &periods{t} }
func (t *tx) Runs() store.RunStore                 { return &runs{t} }
func (t *tx) FlagTypes() store.FlagTypeStore       { return &flagTypes{t} }
func (t *tx) GaqDetectors() store.GaqDetectorStore { return &gaqDetectors{t} }

// LockScope is a no-op: Update already holds the store-wide lock
func (t *tx) LockScope(_ context.Context, _ qcflag.ScopeKey) error {
	return nil
}

func (t *tx) writable() error {
	if t.readOnly {
		return store.ErrReadOnly
	}

	return nil
}

var (
	_ store.Store = (*Store)(nil)
	_ store.Tx    = (*tx)(nil)
)
