package qcflag

import "errors"

var (
	// ErrAmbiguousScope is returned when a flag names both a data pass and a simulation pass
	ErrAmbiguousScope = errors.New("flag cannot belong to both a data pass and a simulation pass")
	// ErrInvalidPeriod is returned when a flag interval is empty, inverted or half-open without run bounds
	ErrInvalidPeriod = errors.New("invalid flag period")
	// ErrPeriodOutOfRun is returned when a flag interval exceeds the run QC bounds
	ErrPeriodOutOfRun = errors.New("flag period is outside of the run QC bounds")
)
