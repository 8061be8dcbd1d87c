package handlers

import (
	"strconv"

	"github.com/ethpandaops/bookkeeping/pkg/gaq"
	"github.com/ethpandaops/bookkeeping/pkg/qcflag"
	"github.com/gofiber/fiber/v3"
)

func summaryOptions(c fiber.Ctx) (gaq.SummaryOptions, error) {
	var q summaryQuery
	if err := bindQuery(c, &q); err != nil {
		return gaq.SummaryOptions{}, err
	}

	return gaq.SummaryOptions{MCReproducibleAsNotBad: q.MCReproducibleAsNotBad}, nil
}

// GetGaqPeriods handles GET /api/v1/data-passes/:dataPassId/runs/:runNumber/gaq
func (s *Server) GetGaqPeriods(c fiber.Ctx) error {
	var params passRunParams
	if err := bindURI(c, &params); err != nil {
		return err
	}

	opts, err := summaryOptions(c)
	if err != nil {
		return err
	}

	flagged, err := s.deps.GAQ.GetFlaggedPeriods(c.Context(), params.DataPassID, params.RunNumber, opts)
	if err != nil {
		return err
	}

	periods := make([]GaqPeriodResponse, 0, len(flagged))
	for i := range flagged {
		periods = append(periods, toGaqPeriodResponse(&flagged[i]))
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"periods": periods,
		"total":   len(periods),
	})
}

// GetGaqRunSummary handles GET /api/v1/data-passes/:dataPassId/runs/:runNumber/gaq/summary
func (s *Server) GetGaqRunSummary(c fiber.Ctx) error {
	var params passRunParams
	if err := bindURI(c, &params); err != nil {
		return err
	}

	opts, err := summaryOptions(c)
	if err != nil {
		return err
	}

	summary, err := s.deps.GAQ.GetRunSummary(c.Context(), params.DataPassID, params.RunNumber, opts)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(summary)
}

// GetGaqSummary handles GET /api/v1/data-passes/:dataPassId/gaq/summary
func (s *Server) GetGaqSummary(c fiber.Ctx) error {
	var params passParams
	if err := bindURI(c, &params); err != nil {
		return err
	}

	opts, err := summaryOptions(c)
	if err != nil {
		return err
	}

	summaries, err := s.deps.GAQ.GetSummary(c.Context(), params.DataPassID, opts)
	if err != nil {
		return err
	}

	byRun := make(map[string]gaq.Summary, len(summaries))
	for runNumber, summary := range summaries {
		byRun[strconv.FormatInt(runNumber, 10)] = summary
	}

	return c.Status(fiber.StatusOK).JSON(byRun)
}

// GetDetectorSummary handles GET /api/v1/runs/:runNumber/detectors/:detectorId/qc-summary.
// The scope is chosen with the dataPassId or simulationPassId query
// parameter, synchronous without either.
func (s *Server) GetDetectorSummary(c fiber.Ctx) error {
	var params detectorParams
	if err := bindURI(c, &params); err != nil {
		return err
	}

	var q detectorSummaryQuery
	if err := bindQuery(c, &q); err != nil {
		return err
	}

	scope, err := qcflag.NewScope(q.DataPassID, q.SimulationPassID)
	if err != nil {
		return err
	}

	summary, err := s.deps.GAQ.GetDetectorSummary(c.Context(), qcflag.ScopeKey{
		RunNumber:  params.RunNumber,
		DetectorID: params.DetectorID,
		Scope:      scope,
	}, gaq.SummaryOptions{MCReproducibleAsNotBad: q.MCReproducibleAsNotBad})
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(summary)
}
