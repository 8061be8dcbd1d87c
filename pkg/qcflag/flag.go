package qcflag

import (
	"time"
)

// FlagType classifies a flag. Bad and MonteCarloReproducible drive the GAQ
// verdict of every instant the flag is authoritative for.
type FlagType struct {
	ID                     int64  `json:"id"`
	Name                   string `json:"name"`
	Method                 string `json:"method,omitempty"`
	Bad                    bool   `json:"bad"`
	MonteCarloReproducible bool   `json:"mcReproducible"`
}

// Verification is a sign-off of a flag by someone other than its author
type Verification struct {
	ID        int64     `json:"id"`
	FlagID    int64     `json:"flagId"`
	CreatedBy string    `json:"createdBy"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Flag is a quality statement on one detector of one run over an interval
type Flag struct {
	ID            int64
	RunNumber     int64
	DetectorID    int64
	Scope         Scope
	From          *time.Time
	To            *time.Time
	Type          FlagType
	Comment       string
	CreatedBy     string
	CreatedAt     time.Time
	Verifications []Verification
}

// Key returns the scope key the flag competes in
func (f *Flag) Key() ScopeKey {
	return ScopeKey{RunNumber: f.RunNumber, DetectorID: f.DetectorID, Scope: f.Scope}
}

// Interval returns the raw interval of the flag
func (f *Flag) Interval() Interval {
	return Interval{From: f.From, To: f.To}
}

// Verified reports whether at least one verification exists
func (f *Flag) Verified() bool {
	return len(f.Verifications) > 0
}

// Period is the part of a flag's interval during which the flag is
// authoritative for its scope
type Period struct {
	ID     int64
	FlagID int64
	From   *time.Time
	To     *time.Time
}

// Interval returns the bounds of the period
func (p *Period) Interval() Interval {
	return Interval{From: p.From, To: p.To}
}
