package handlers

import (
	"errors"

	"github.com/ethpandaops/bookkeeping/pkg/qcflag"
	"github.com/ethpandaops/bookkeeping/pkg/reconciler"
	"github.com/ethpandaops/bookkeeping/pkg/tasks"
	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
)

// CreateFlag handles POST /api/v1/qc-flags
func (s *Server) CreateFlag(c fiber.Ctx) error {
	var req CreateFlagRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}

	if req.CreatedBy == "" {
		return fiber.NewError(fiber.StatusBadRequest, "createdBy is required")
	}

	details, err := s.deps.Reconciler.CreateFlag(c.Context(), reconciler.CreateFlagRequest{
		RunNumber:        req.RunNumber,
		DetectorID:       req.DetectorID,
		DataPassID:       req.DataPassID,
		SimulationPassID: req.SimulationPassID,
		From:             timeOf(req.From),
		To:               timeOf(req.To),
		FlagTypeID:       req.FlagTypeID,
		Comment:          req.Comment,
		CreatedBy:        req.CreatedBy,
	})
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(toFlagDetailsResponse(details))
}

// GetFlag handles GET /api/v1/qc-flags/:id
func (s *Server) GetFlag(c fiber.Ctx) error {
	var params idParams
	if err := bindURI(c, &params); err != nil {
		return err
	}

	details, err := s.deps.Reconciler.GetFlag(c.Context(), params.ID)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(toFlagDetailsResponse(details))
}

// DeleteFlag handles DELETE /api/v1/qc-flags/:id
func (s *Server) DeleteFlag(c fiber.Ctx) error {
	var params idParams
	if err := bindURI(c, &params); err != nil {
		return err
	}

	flag, err := s.deps.Reconciler.DeleteFlag(c.Context(), params.ID)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(toFlagResponse(flag))
}

// VerifyFlag handles POST /api/v1/qc-flags/:id/verifications
func (s *Server) VerifyFlag(c fiber.Ctx) error {
	var params idParams
	if err := bindURI(c, &params); err != nil {
		return err
	}

	var req VerifyFlagRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}

	if req.CreatedBy == "" {
		return fiber.NewError(fiber.StatusBadRequest, "createdBy is required")
	}

	flag, err := s.deps.Reconciler.VerifyFlag(c.Context(), reconciler.VerifyRequest{
		FlagID:    params.ID,
		CreatedBy: req.CreatedBy,
		Comment:   req.Comment,
	})
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(toFlagResponse(flag))
}

// Reconstruct handles POST /api/v1/qc-flags/reconstructions. With a queue
// configured the work is handed to the workers, otherwise it runs inline.
func (s *Server) Reconstruct(c fiber.Ctx) error {
	var req ReconstructRequest
	if len(c.Body()) > 0 {
		if err := bindJSON(c, &req); err != nil {
			return err
		}
	}

	var key *qcflag.ScopeKey

	switch {
	case req.RunNumber != nil && req.DetectorID != nil:
		scope, err := qcflag.NewScope(req.DataPassID, req.SimulationPassID)
		if err != nil {
			return err
		}

		key = &qcflag.ScopeKey{RunNumber: *req.RunNumber, DetectorID: *req.DetectorID, Scope: scope}
	case req.RunNumber != nil || req.DetectorID != nil || req.DataPassID != nil || req.SimulationPassID != nil:
		return fiber.NewError(fiber.StatusBadRequest, "runNumber and detectorId are required to rebuild one scope")
	}

	if s.deps.Queue != nil {
		return s.enqueueReconstruction(c, key)
	}

	var (
		result *reconciler.ReconstructResult
		err    error
	)

	if key != nil {
		result, err = s.deps.Reconciler.Reconstruct(c.Context(), *key)
	} else {
		result, err = s.deps.Reconciler.ReconstructAll(c.Context())
	}

	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(ReconstructResponse{Result: result})
}

func (s *Server) enqueueReconstruction(c fiber.Ctx, key *qcflag.ScopeKey) error {
	var (
		taskID string
		err    error
	)

	if key != nil {
		taskID, err = s.deps.Queue.EnqueueReconstructScope(*key, tasks.TriggerAPI)
	} else {
		taskID, err = s.deps.Queue.EnqueueReconstructAll(tasks.TriggerAPI)
	}

	resp := ReconstructResponse{Queued: true, TaskID: taskID}

	switch {
	case errors.Is(err, tasks.ErrAlreadyQueued):
		resp.AlreadyQueued = true
	case err != nil:
		return err
	}

	s.log.WithFields(logrus.Fields{
		"task_id":        taskID,
		"already_queued": resp.AlreadyQueued,
	}).Info("Queued reconstruction")

	return c.Status(fiber.StatusAccepted).JSON(resp)
}
