package handlers

import (
	"time"

	"github.com/ethpandaops/bookkeeping/pkg/gaq"
	"github.com/ethpandaops/bookkeeping/pkg/qcflag"
	"github.com/ethpandaops/bookkeeping/pkg/reconciler"
)

// Instants travel as millisecond epochs; null means open-ended.

// FlagResponse is the wire form of a flag
type FlagResponse struct {
	ID               int64                 `json:"id"`
	RunNumber        int64                 `json:"runNumber"`
	DetectorID       int64                 `json:"detectorId"`
	DataPassID       *int64                `json:"dataPassId"`
	SimulationPassID *int64                `json:"simulationPassId"`
	From             *int64                `json:"from"`
	To               *int64                `json:"to"`
	FlagType         qcflag.FlagType       `json:"flagType"`
	Comment          string                `json:"comment,omitempty"`
	CreatedBy        string                `json:"createdBy"`
	CreatedAt        int64                 `json:"createdAt"`
	Verifications    []VerificationPayload `json:"verifications"`
}

// VerificationPayload is the wire form of a verification
type VerificationPayload struct {
	ID        int64  `json:"id"`
	CreatedBy string `json:"createdBy"`
	Comment   string `json:"comment,omitempty"`
	CreatedAt int64  `json:"createdAt"`
}

// PeriodResponse is the wire form of an effective period
type PeriodResponse struct {
	ID     int64  `json:"id"`
	FlagID int64  `json:"flagId"`
	From   *int64 `json:"from"`
	To     *int64 `json:"to"`
}

// FlagDetailsResponse is a flag with its effective periods
type FlagDetailsResponse struct {
	Flag             FlagResponse     `json:"flag"`
	EffectivePeriods []PeriodResponse `json:"effectivePeriods"`
}

// GaqPeriodResponse is one GAQ segment with its contributing flags
type GaqPeriodResponse struct {
	DataPassID          int64          `json:"dataPassId"`
	RunNumber           int64          `json:"runNumber"`
	From                *int64         `json:"from"`
	To                  *int64         `json:"to"`
	Significance        string         `json:"significance"`
	Bad                 bool           `json:"bad"`
	MCReproducible      bool           `json:"mcReproducible"`
	ContributingFlagIDs []int64        `json:"contributingFlagIds"`
	Flags               []FlagResponse `json:"flags"`
}

// CreateFlagRequest is the body of POST /qc-flags
type CreateFlagRequest struct {
	RunNumber        int64  `json:"runNumber"`
	DetectorID       int64  `json:"detectorId"`
	DataPassID       *int64 `json:"dataPassId"`
	SimulationPassID *int64 `json:"simulationPassId"`
	From             *int64 `json:"from"`
	To               *int64 `json:"to"`
	FlagTypeID       int64  `json:"flagTypeId"`
	Comment          string `json:"comment"`
	CreatedBy        string `json:"createdBy"`
}

// VerifyFlagRequest is the body of POST /qc-flags/:id/verifications
type VerifyFlagRequest struct {
	CreatedBy string `json:"createdBy"`
	Comment   string `json:"comment"`
}

// ReconstructRequest is the body of POST /qc-flags/reconstructions. Without
// a run and detector every scope is rebuilt.
type ReconstructRequest struct {
	RunNumber        *int64 `json:"runNumber"`
	DetectorID       *int64 `json:"detectorId"`
	DataPassID       *int64 `json:"dataPassId"`
	SimulationPassID *int64 `json:"simulationPassId"`
}

// ReconstructResponse reports a synchronous or queued reconstruction
type ReconstructResponse struct {
	Queued        bool                          `json:"queued"`
	AlreadyQueued bool                          `json:"alreadyQueued,omitempty"`
	TaskID        string                        `json:"taskId,omitempty"`
	Result        *reconciler.ReconstructResult `json:"result,omitempty"`
}

// RunQcBoundsRequest is the body of PUT /runs/:runNumber/qc-bounds
type RunQcBoundsRequest struct {
	Start *int64 `json:"start"`
	End   *int64 `json:"end"`
}

// FlagTypeRequest is the body of PUT /flag-types/:id
type FlagTypeRequest struct {
	Name           string `json:"name"`
	Method         string `json:"method"`
	Bad            bool   `json:"bad"`
	MCReproducible bool   `json:"mcReproducible"`
}

// GaqDetectorsRequest is the body of PUT .../gaq-detectors
type GaqDetectorsRequest struct {
	DetectorIDs []int64 `json:"detectorIds"`
}

// DefinitionResponse is the result of classifying a run
type DefinitionResponse struct {
	Definition string `json:"definition"`
}

func timeOf(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}

	return qcflag.Millis(*ms)
}

func toFlagResponse(f *qcflag.Flag) FlagResponse {
	resp := FlagResponse{
		ID:               f.ID,
		RunNumber:        f.RunNumber,
		DetectorID:       f.DetectorID,
		DataPassID:       f.Scope.DataPassID(),
		SimulationPassID: f.Scope.SimulationPassID(),
		From:             qcflag.MillisOf(f.From),
		To:               qcflag.MillisOf(f.To),
		FlagType:         f.Type,
		Comment:          f.Comment,
		CreatedBy:        f.CreatedBy,
		CreatedAt:        f.CreatedAt.UnixMilli(),
		Verifications:    make([]VerificationPayload, 0, len(f.Verifications)),
	}

	for _, v := range f.Verifications {
		resp.Verifications = append(resp.Verifications, VerificationPayload{
			ID:        v.ID,
			CreatedBy: v.CreatedBy,
			Comment:   v.Comment,
			CreatedAt: v.CreatedAt.UnixMilli(),
		})
	}

	return resp
}

func toPeriodResponses(periods []qcflag.Period) []PeriodResponse {
	out := make([]PeriodResponse, 0, len(periods))
	for _, p := range periods {
		out = append(out, PeriodResponse{
			ID:     p.ID,
			FlagID: p.FlagID,
			From:   qcflag.MillisOf(p.From),
			To:     qcflag.MillisOf(p.To),
		})
	}

	return out
}

func toFlagDetailsResponse(d *reconciler.FlagDetails) FlagDetailsResponse {
	return FlagDetailsResponse{
		Flag:             toFlagResponse(&d.Flag),
		EffectivePeriods: toPeriodResponses(d.Periods),
	}
}

func toGaqPeriodResponse(p *gaq.FlaggedPeriod) GaqPeriodResponse {
	resp := GaqPeriodResponse{
		DataPassID:          p.DataPassID,
		RunNumber:           p.RunNumber,
		From:                qcflag.MillisOf(p.From),
		To:                  qcflag.MillisOf(p.To),
		Significance:        string(p.Significance),
		Bad:                 p.Bad,
		MCReproducible:      p.MCReproducible,
		ContributingFlagIDs: p.ContributingFlagIDs,
		Flags:               make([]FlagResponse, 0, len(p.Flags)),
	}

	if resp.ContributingFlagIDs == nil {
		resp.ContributingFlagIDs = []int64{}
	}

	for i := range p.Flags {
		resp.Flags = append(resp.Flags, toFlagResponse(&p.Flags[i]))
	}

	return resp
}

// idParams are the path parameters of /qc-flags/:id and /flag-types/:id
type idParams struct {
	ID int64 `uri:"id"`
}

// runParams are the path parameters of /runs/:runNumber routes
type runParams struct {
	RunNumber int64 `uri:"runNumber"`
}

// passParams are the path parameters of /data-passes/:dataPassId routes
type passParams struct {
	DataPassID int64 `uri:"dataPassId"`
}

// passRunParams are the path parameters of /data-passes/:dataPassId/runs/:runNumber routes
type passRunParams struct {
	DataPassID int64 `uri:"dataPassId"`
	RunNumber  int64 `uri:"runNumber"`
}

// detectorParams are the path parameters of /runs/:runNumber/detectors/:detectorId routes
type detectorParams struct {
	RunNumber  int64 `uri:"runNumber"`
	DetectorID int64 `uri:"detectorId"`
}

// summaryQuery holds the query parameters shared by the GAQ reads
type summaryQuery struct {
	MCReproducibleAsNotBad bool `query:"mcReproducibleAsNotBad"`
}

// detectorSummaryQuery selects the scope of a detector summary
type detectorSummaryQuery struct {
	DataPassID             *int64 `query:"dataPassId"`
	SimulationPassID       *int64 `query:"simulationPassId"`
	MCReproducibleAsNotBad bool   `query:"mcReproducibleAsNotBad"`
}
