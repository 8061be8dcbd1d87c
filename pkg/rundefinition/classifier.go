// Package rundefinition classifies runs into their acquisition category from
// the run's telemetry snapshot.
package rundefinition

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"
)

// Definition is the category of a run
type Definition string

const (
	// Physics runs took data with beam and the detectors needed for physics
	Physics Definition = "PHYSICS"
	// Cosmics runs recorded cosmic rays without beam
	Cosmics Definition = "COSMICS"
	// Technical runs exercise the acquisition chain
	Technical Definition = "TECHNICAL"
	// Synthetic runs replay recorded or generated data
	Synthetic Definition = "SYNTHETIC"
	// Calibration runs calibrate one or more detectors
	Calibration Definition = "CALIBRATION"
	// Commissioning is the fallback category
	Commissioning Definition = "COMMISSIONING"
)

// ErrUnknownDefinition is returned when parsing a name outside the enum
var ErrUnknownDefinition = errors.New("unknown run definition")

// TriggerValue is the trigger source of a run
type TriggerValue string

const (
	// TriggerOff means no trigger
	TriggerOff TriggerValue = "OFF"
	// TriggerLTU means local trigger units
	TriggerLTU TriggerValue = "LTU"
	// TriggerCTP means central trigger processor
	TriggerCTP TriggerValue = "CTP"
)

// RunType names the configured type of a run
type RunType struct {
	Name string `yaml:"name" json:"name"`
}

// LhcFill carries the stable beam window of the fill a run belongs to
type LhcFill struct {
	StableBeamsStart *time.Time `yaml:"stableBeamsStart" json:"stableBeamsStart,omitempty"`
	StableBeamsEnd   *time.Time `yaml:"stableBeamsEnd" json:"stableBeamsEnd,omitempty"`
}

// RunAttributes is the read-only snapshot a run is classified from
type RunAttributes struct {
	DCS                   bool         `yaml:"dcs" json:"dcs"`
	DDFlp                 bool         `yaml:"ddFlp" json:"ddFlp"`
	EPN                   bool         `yaml:"epn" json:"epn"`
	TriggerValue          TriggerValue `yaml:"triggerValue" json:"triggerValue"`
	TfbDdMode             string       `yaml:"tfbDdMode" json:"tfbDdMode"`
	PdpWorkflowParameters string       `yaml:"pdpWorkflowParameters" json:"pdpWorkflowParameters"`
	ConcatenatedDetectors string       `yaml:"concatenatedDetectors" json:"concatenatedDetectors"`
	PdpBeamType           string       `yaml:"pdpBeamType" json:"pdpBeamType"`
	ReadoutCfgURI         string       `yaml:"readoutCfgUri" json:"readoutCfgUri"`
	LhcBeamMode           *string      `yaml:"lhcBeamMode" json:"lhcBeamMode,omitempty"`
	RunType               *RunType     `yaml:"runType" json:"runType,omitempty"`
	LhcFill               *LhcFill     `yaml:"lhcFill" json:"lhcFill,omitempty"`
	TimeTrgStart          *time.Time   `yaml:"timeTrgStart" json:"timeTrgStart,omitempty"`
	TimeO2Start           *time.Time   `yaml:"timeO2Start" json:"timeO2Start,omitempty"`
	TimeTrgEnd            *time.Time   `yaml:"timeTrgEnd" json:"timeTrgEnd,omitempty"`
	TimeO2End             *time.Time   `yaml:"timeO2End" json:"timeO2End,omitempty"`
}

//nolint:gochecknoglobals // immutable lookup tables
var (
	physicsTfbDdModes   = []string{"processing", "processing-disk"}
	calibrationPrefixes = []string{"CALIBRATION_", "PEDESTAL", "LASER", "PULSER", "NOISE"}
	syntheticRunTypes   = []string{"REPLAY", "SYNTHETIC"}
	cosmicsRunType      = regexp.MustCompile(`(?i)^cosmics?$`)
	replayBeamPattern   = regexp.MustCompile(`pp|pbpb`)
)

const noBeam = "NO BEAM"

// Definitions lists every definition in priority order
func Definitions() []Definition {
	return []Definition{Physics, Cosmics, Technical, Synthetic, Calibration, Commissioning}
}

// ParseDefinition maps a name onto the enum, case-insensitively
func ParseDefinition(name string) (Definition, error) {
	d := Definition(strings.ToUpper(strings.TrimSpace(name)))
	if !slices.Contains(Definitions(), d) {
		return "", fmt.Errorf("%w: %q", ErrUnknownDefinition, name)
	}

	return d, nil
}

// Classify returns the definition of a run. now stands in for every open end
// time so a call is reproducible for a fixed instant.
func Classify(run RunAttributes, now time.Time) Definition {
	if isPhysicsCandidate(run) {
		if hasDetector(run, "ITS") && hasDetector(run, "FT0") && stableBeamOverlap(run, now) {
			return Physics
		}

		if cosmicsRunType.MatchString(runTypeName(run)) && (run.LhcBeamMode == nil || *run.LhcBeamMode == noBeam) {
			return Cosmics
		}
	}

	name := strings.ToUpper(runTypeName(run))

	switch {
	case name == "TECHNICAL" && run.PdpBeamType == "technical":
		return Technical
	case isSynthetic(run, name):
		return Synthetic
	case name != "" && slices.ContainsFunc(calibrationPrefixes, func(prefix string) bool { return strings.HasPrefix(name, prefix) }):
		return Calibration
	default:
		return Commissioning
	}
}

func isPhysicsCandidate(run RunAttributes) bool {
	return run.DCS && run.DDFlp && run.EPN &&
		run.TriggerValue == TriggerCTP &&
		slices.Contains(physicsTfbDdModes, run.TfbDdMode) &&
		strings.Contains(run.PdpWorkflowParameters, "CTF")
}

func isSynthetic(run RunAttributes, upperRunType string) bool {
	if run.DCS || run.TriggerValue != TriggerOff {
		return false
	}

	if slices.Contains(syntheticRunTypes, upperRunType) {
		return true
	}

	// Replays of recorded beam data are tagged through their readout configuration.
	return strings.Contains(run.ReadoutCfgURI, "replay") && replayBeamPattern.MatchString(run.ReadoutCfgURI)
}

func hasDetector(run RunAttributes, detector string) bool {
	return strings.Contains(run.ConcatenatedDetectors, detector)
}

func runTypeName(run RunAttributes) string {
	if run.RunType == nil {
		return ""
	}

	return run.RunType.Name
}

func stableBeamOverlap(run RunAttributes, now time.Time) bool {
	if run.LhcFill == nil || run.LhcFill.StableBeamsStart == nil {
		return false
	}

	start := firstOf(run.TimeTrgStart, run.TimeO2Start)
	if start == nil {
		return false
	}

	end := now.UnixMilli()
	if e := firstOf(run.TimeTrgEnd, run.TimeO2End); e != nil {
		end = e.UnixMilli()
	}

	sbStart := run.LhcFill.StableBeamsStart.UnixMilli()

	sbEnd := now.UnixMilli()
	if run.LhcFill.StableBeamsEnd != nil {
		sbEnd = run.LhcFill.StableBeamsEnd.UnixMilli()
	}

	return sbEnd >= start.UnixMilli() && end >= sbStart
}

func firstOf(values ...*time.Time) *time.Time {
	for _, v := range values {
		if v != nil {
			return v
		}
	}

	return nil
}
