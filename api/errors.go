package api

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
	"github.com/sicko7947/replayflow"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusBadRequest).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

// statusFor maps an engine error code to an HTTP status
func statusFor(code string) int {
	switch code {
	case replayflow.ErrCodeValidation:
		return fiber.StatusBadRequest
	case replayflow.ErrCodeNotFound:
		return fiber.StatusNotFound
	case replayflow.ErrCodeInvalidState, replayflow.ErrCodeCancelled:
		return fiber.StatusConflict
	}
	return fiber.StatusInternalServerError
}

// handleEngineError renders err as an RFC 7807 problem. Causes of internal
// errors are logged, never returned.
func (h *Handlers) handleEngineError(c fiber.Ctx, err error) error {
	code := replayflow.ErrCodeInternalError
	detail := "internal error"

	var ee *replayflow.EngineError
	if errors.As(err, &ee) {
		code = ee.Code
		detail = ee.Message
	}

	status := statusFor(code)
	if status == fiber.StatusInternalServerError {
		h.logger.Error().Err(err).Str("path", c.Path()).Msg("Request failed")
	}

	problem := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(strings.ToLower(code)).
		WithDetail(detail)

	return c.Status(status).JSON(problem)
}
