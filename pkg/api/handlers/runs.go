package handlers

import (
	"context"

	"github.com/ethpandaops/bookkeeping/pkg/observability"
	"github.com/ethpandaops/bookkeeping/pkg/qcflag"
	"github.com/ethpandaops/bookkeeping/pkg/rundefinition"
	"github.com/ethpandaops/bookkeeping/pkg/store"
	"github.com/gofiber/fiber/v3"
)

// ClassifyRun handles POST /api/v1/runs/definition. The body is a run
// snapshot with RFC 3339 instants.
func (s *Server) ClassifyRun(c fiber.Ctx) error {
	var run rundefinition.RunAttributes
	if err := bindJSON(c, &run); err != nil {
		return err
	}

	definition := rundefinition.Classify(run, s.deps.Now())
	observability.RecordRunDefinition(string(definition))

	return c.Status(fiber.StatusOK).JSON(DefinitionResponse{Definition: string(definition)})
}

// PutRunQcBounds handles PUT /api/v1/runs/:runNumber/qc-bounds
func (s *Server) PutRunQcBounds(c fiber.Ctx) error {
	var params runParams
	if err := bindURI(c, &params); err != nil {
		return err
	}

	var req RunQcBoundsRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}

	if req.Start != nil && req.End != nil && *req.Start >= *req.End {
		return fiber.NewError(fiber.StatusBadRequest, "start must precede end")
	}

	bounds := qcflag.RunQcBounds{Start: timeOf(req.Start), End: timeOf(req.End)}

	err := s.deps.Store.Update(c.Context(), func(ctx context.Context, tx store.Tx) error {
		return tx.Runs().UpsertRun(ctx, params.RunNumber, bounds)
	})
	if err != nil {
		return err
	}

	if s.deps.RunBounds != nil {
		if err := s.deps.RunBounds.Invalidate(c.Context(), params.RunNumber); err != nil {
			s.log.WithError(err).WithField("run_number", params.RunNumber).Warn("Failed to invalidate cached run bounds")
		}
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// PutFlagType handles PUT /api/v1/flag-types/:id
func (s *Server) PutFlagType(c fiber.Ctx) error {
	var params idParams
	if err := bindURI(c, &params); err != nil {
		return err
	}

	var req FlagTypeRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}

	if req.Name == "" {
		return fiber.NewError(fiber.StatusBadRequest, "name is required")
	}

	err := s.deps.Store.Update(c.Context(), func(ctx context.Context, tx store.Tx) error {
		return tx.FlagTypes().Upsert(ctx, qcflag.FlagType{
			ID:                     params.ID,
			Name:                   req.Name,
			Method:                 req.Method,
			Bad:                    req.Bad,
			MonteCarloReproducible: req.MCReproducible,
		})
	})
	if err != nil {
		return err
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// PutGaqDetectors handles PUT /api/v1/data-passes/:dataPassId/runs/:runNumber/gaq-detectors
func (s *Server) PutGaqDetectors(c fiber.Ctx) error {
	var params passRunParams
	if err := bindURI(c, &params); err != nil {
		return err
	}

	var req GaqDetectorsRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}

	err := s.deps.Store.Update(c.Context(), func(ctx context.Context, tx store.Tx) error {
		return tx.GaqDetectors().SetGaqDetectors(ctx, params.DataPassID, params.RunNumber, req.DetectorIDs)
	})
	if err != nil {
		return err
	}

	return c.SendStatus(fiber.StatusNoContent)
}
