// Package qcflag holds the quality-control flag domain types shared by the
// reconciler, the GAQ aggregator and the stores.
package qcflag

import (
	"fmt"
)

// ScopeKind discriminates the pass a flag is attached to
type ScopeKind int

const (
	// ScopeSynchronous flags belong to neither a data pass nor a simulation pass
	ScopeSynchronous ScopeKind = iota
	// ScopeDataPass flags belong to exactly one data pass
	ScopeDataPass
	// ScopeSimulationPass flags belong to exactly one simulation pass
	ScopeSimulationPass
)

// String returns the wire name of the kind
func (k ScopeKind) String() string {
	switch k {
	case ScopeSynchronous:
		return "synchronous"
	case ScopeDataPass:
		return "data-pass"
	case ScopeSimulationPass:
		return "simulation-pass"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Scope is the pass association of a flag. PassID is meaningless for
// synchronous scopes and always zero there.
type Scope struct {
	Kind   ScopeKind
	PassID int64
}

// Synchronous returns the scope of flags with no pass association
func Synchronous() Scope {
	return Scope{Kind: ScopeSynchronous}
}

// DataPass returns the scope of a data pass
func DataPass(id int64) Scope {
	return Scope{Kind: ScopeDataPass, PassID: id}
}

// SimulationPass returns the scope of a simulation pass
func SimulationPass(id int64) Scope {
	return Scope{Kind: ScopeSimulationPass, PassID: id}
}

// NewScope builds a scope from the two optional pass ids found on a flag
// record. Setting both is rejected.
func NewScope(dataPassID, simulationPassID *int64) (Scope, error) {
	switch {
	case dataPassID != nil && simulationPassID != nil:
		return Scope{}, fmt.Errorf("%w: data pass %d and simulation pass %d", ErrAmbiguousScope, *dataPassID, *simulationPassID)
	case dataPassID != nil:
		return DataPass(*dataPassID), nil
	case simulationPassID != nil:
		return SimulationPass(*simulationPassID), nil
	default:
		return Synchronous(), nil
	}
}

// DataPassID returns the data pass id, or nil for other kinds
func (s Scope) DataPassID() *int64 {
	if s.Kind != ScopeDataPass {
		return nil
	}

	id := s.PassID

	return &id
}

// SimulationPassID returns the simulation pass id, or nil for other kinds
func (s Scope) SimulationPassID() *int64 {
	if s.Kind != ScopeSimulationPass {
		return nil
	}

	id := s.PassID

	return &id
}

func (s Scope) String() string {
	if s.Kind == ScopeSynchronous {
		return s.Kind.String()
	}

	return fmt.Sprintf("%s:%d", s.Kind, s.PassID)
}

// ScopeKey identifies the set of flags that compete for the same instants:
// one run, one detector and one pass association.
type ScopeKey struct {
	RunNumber  int64
	DetectorID int64
	Scope      Scope
}

func (k ScopeKey) String() string {
	return fmt.Sprintf("run:%d:detector:%d:%s", k.RunNumber, k.DetectorID, k.Scope)
}

// ParseScopeKind is the inverse of ScopeKind.String
func ParseScopeKind(s string) (ScopeKind, error) {
	for _, k := range []ScopeKind{ScopeSynchronous, ScopeDataPass, ScopeSimulationPass} {
		if k.String() == s {
			return k, nil
		}
	}

	return 0, fmt.Errorf("unknown scope kind %q", s)
}
