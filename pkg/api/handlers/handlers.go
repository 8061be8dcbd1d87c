// Package handlers implements the REST handlers of the bookkeeping QC API.
package handlers

import (
	"context"
	"time"

	"github.com/ethpandaops/bookkeeping/pkg/gaq"
	"github.com/ethpandaops/bookkeeping/pkg/qcflag"
	"github.com/ethpandaops/bookkeeping/pkg/reconciler"
	"github.com/ethpandaops/bookkeeping/pkg/store"
	"github.com/gofiber/fiber/v3"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// Queue publishes reconstructions to the worker pool
type Queue interface {
	EnqueueReconstructScope(key qcflag.ScopeKey, trigger string, opts ...asynq.Option) (string, error)
	EnqueueReconstructAll(trigger string, opts ...asynq.Option) (string, error)
}

// RunBoundsInvalidator drops cached run QC bounds
type RunBoundsInvalidator interface {
	Invalidate(ctx context.Context, runNumber int64) error
}

// Dependencies are the services the handlers delegate to. Queue and
// RunBounds are optional.
type Dependencies struct {
	Reconciler reconciler.Service
	GAQ        gaq.Service
	Store      store.Store
	Queue      Queue
	RunBounds  RunBoundsInvalidator
	// OpenAPI is the JSON document served at /openapi.json
	OpenAPI []byte
	Now     func() time.Time
}

// Server holds the request handlers
type Server struct {
	deps Dependencies
	log  logrus.FieldLogger
}

// NewServer creates a new API server instance
func NewServer(deps Dependencies, log logrus.FieldLogger) *Server {
	if deps.Now == nil {
		deps.Now = time.Now
	}

	return &Server{
		deps: deps,
		log:  log.WithField("component", "api.handlers"),
	}
}

// Register mounts every route on router
func (s *Server) Register(router fiber.Router) {
	router.Get("/openapi.json", s.GetOpenAPI)

	router.Post("/runs/definition", s.ClassifyRun)
	router.Put("/runs/:runNumber/qc-bounds", s.PutRunQcBounds)
	router.Get("/runs/:runNumber/detectors/:detectorId/qc-summary", s.GetDetectorSummary)

	router.Put("/flag-types/:id", s.PutFlagType)

	router.Post("/qc-flags", s.CreateFlag)
	router.Post("/qc-flags/reconstructions", s.Reconstruct)
	router.Get("/qc-flags/:id", s.GetFlag)
	router.Delete("/qc-flags/:id", s.DeleteFlag)
	router.Post("/qc-flags/:id/verifications", s.VerifyFlag)

	router.Get("/data-passes/:dataPassId/gaq/summary", s.GetGaqSummary)
	router.Get("/data-passes/:dataPassId/runs/:runNumber/gaq", s.GetGaqPeriods)
	router.Get("/data-passes/:dataPassId/runs/:runNumber/gaq/summary", s.GetGaqRunSummary)
	router.Put("/data-passes/:dataPassId/runs/:runNumber/gaq-detectors", s.PutGaqDetectors)
}

// GetOpenAPI handles GET /api/v1/openapi.json
func (s *Server) GetOpenAPI(c fiber.Ctx) error {
	if len(s.deps.OpenAPI) == 0 {
		return ErrNoOpenAPI
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	return c.Status(fiber.StatusOK).Send(s.deps.OpenAPI)
}
