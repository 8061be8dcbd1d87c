package handlers

import (
	"errors"

	"github.com/ethpandaops/bookkeeping/pkg/qcflag"
	"github.com/ethpandaops/bookkeeping/pkg/reconciler"
	"github.com/ethpandaops/bookkeeping/pkg/rundefinition"
	"github.com/ethpandaops/bookkeeping/pkg/store"
	"github.com/gofiber/fiber/v3"
)

// ErrInvalidBody is returned when the request body is not valid JSON
var ErrInvalidBody = fiber.NewError(fiber.StatusBadRequest, "invalid request body")

// ErrInvalidParams is returned when a path parameter is malformed
var ErrInvalidParams = fiber.NewError(fiber.StatusBadRequest, "invalid path parameters")

// ErrInvalidQuery is returned when a query parameter is malformed
var ErrInvalidQuery = fiber.NewError(fiber.StatusBadRequest, "invalid query parameters")

// ErrNoOpenAPI is returned when no OpenAPI document was loaded
var ErrNoOpenAPI = fiber.NewError(fiber.StatusNotFound, "openapi document not available")

// StatusFor maps an error onto the HTTP status reported for it
func StatusFor(err error) int {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return fiberErr.Code
	}

	switch {
	case errors.Is(err, qcflag.ErrAmbiguousScope),
		errors.Is(err, qcflag.ErrInvalidPeriod),
		errors.Is(err, qcflag.ErrPeriodOutOfRun),
		errors.Is(err, rundefinition.ErrUnknownDefinition):
		return fiber.StatusBadRequest
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrRunNotFound),
		errors.Is(err, store.ErrFlagTypeNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, reconciler.ErrFlagVerified),
		errors.Is(err, reconciler.ErrSelfVerification):
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}

func bindURI(c fiber.Ctx, out any) error {
	if err := c.Bind().URI(out); err != nil {
		return ErrInvalidParams
	}

	return nil
}

func bindQuery(c fiber.Ctx, out any) error {
	if err := c.Bind().Query(out); err != nil {
		return ErrInvalidQuery
	}

	return nil
}

func bindJSON(c fiber.Ctx, out any) error {
	if err := c.Bind().JSON(out); err != nil {
		return ErrInvalidBody
	}

	return nil
}
