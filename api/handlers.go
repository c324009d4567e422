package api

import (
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/rs/zerolog"
	"github.com/sicko7947/replayflow"
	"github.com/sicko7947/replayflow/engine"
)

// maxListLimit caps GET /runs
const maxListLimit = 500

// Handlers serves the run API
type Handlers struct {
	engine    *engine.Engine
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewHandlers creates handlers backed by eng
func NewHandlers(eng *engine.Engine, logger zerolog.Logger) *Handlers {
	return &Handlers{
		engine:    eng,
		validator: validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger,
	}
}

// App builds the fiber application with every route mounted under /api/v1
func (h *Handlers) App() *fiber.App {
	app := fiber.New(fiber.Config{AppName: "replayd"})
	app.Use(recover.New())
	app.Use(cors.New())
	app.Use(h.requestLogger)

	h.Register(app.Group("/api/v1"))
	return app
}

// Register mounts the routes on r
func (h *Handlers) Register(r fiber.Router) {
	runs := r.Group("/runs")
	runs.Post("/", h.CreateRun)
	runs.Get("/", h.ListRuns)
	runs.Get("/:runId", h.GetRun)
	runs.Post("/:runId/continue", h.ContinueRun)
	runs.Post("/:runId/choose", h.ChooseCandidate)
	runs.Post("/:runId/cancel", h.CancelRun)

	r.Get("/workflows/:workflowId", h.GetWorkflow)
	r.Get("/health", h.Health)
}

func (h *Handlers) requestLogger(c fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	h.logger.Debug().
		Str("method", c.Method()).
		Str("path", c.Path()).
		Int("status", c.Response().StatusCode()).
		Dur("duration", time.Since(start)).
		Msg("HTTP request")
	return err
}

func (h *Handlers) CreateRun(c fiber.Ctx) error {
	var req CreateRunRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}
	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	runID, err := h.engine.CreateRun(c.Context(), req.WorkflowID, req.Params)
	if err != nil {
		return h.handleEngineError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(CreateRunResponse{
		RunID:  runID,
		Status: replayflow.RunStatusQueued,
	})
}

func (h *Handlers) GetRun(c fiber.Ctx) error {
	view, err := h.engine.GetRun(c.Context(), c.Params("runId"))
	if err != nil {
		return h.handleEngineError(c, err)
	}
	return c.JSON(view)
}

func (h *Handlers) ListRuns(c fiber.Ctx) error {
	filter := replayflow.RunFilter{WorkflowID: c.Query("workflow_id"), Limit: 50}

	if raw := c.Query("status"); raw != "" {
		status, ok := replayflow.ParseRunStatus(raw)
		if !ok {
			return badRequest(c, "Unknown status: "+raw)
		}
		filter.Status = &status
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return badRequest(c, "limit must be a positive integer")
		}
		filter.Limit = min(limit, maxListLimit)
	}

	runs, err := h.engine.ListRuns(c.Context(), filter)
	if err != nil {
		return h.handleEngineError(c, err)
	}
	if runs == nil {
		runs = []*replayflow.Run{}
	}
	return c.JSON(ListRunsResponse{Runs: runs, Count: len(runs)})
}

func (h *Handlers) ContinueRun(c fiber.Ctx) error {
	runID := c.Params("runId")
	if err := h.engine.ContinueAfterAuth(c.Context(), runID); err != nil {
		return h.handleEngineError(c, err)
	}
	return h.accepted(c, runID)
}

func (h *Handlers) ChooseCandidate(c fiber.Ctx) error {
	var req ChooseRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}
	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	runID := c.Params("runId")
	if err := h.engine.ChooseCandidate(c.Context(), runID, *req.StepIndex, *req.ChosenIndex); err != nil {
		return h.handleEngineError(c, err)
	}
	return h.accepted(c, runID)
}

func (h *Handlers) CancelRun(c fiber.Ctx) error {
	var req CancelRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
		if err := h.validator.Struct(req); err != nil {
			return badRequest(c, err.Error())
		}
	}

	runID := c.Params("runId")
	if err := h.engine.Cancel(c.Context(), runID, req.Reason); err != nil {
		return h.handleEngineError(c, err)
	}
	return h.accepted(c, runID)
}

func (h *Handlers) GetWorkflow(c fiber.Ctx) error {
	wf, err := h.engine.GetWorkflow(c.Context(), c.Params("workflowId"))
	if err != nil {
		return h.handleEngineError(c, err)
	}
	return c.JSON(wf)
}

func (h *Handlers) Health(c fiber.Ctx) error {
	return c.JSON(HealthResponse{
		Status:     "healthy",
		ActiveRuns: h.engine.ActiveRuns(),
		Pool:       h.engine.Metrics(),
	})
}

// accepted answers a control request with the run's current status
func (h *Handlers) accepted(c fiber.Ctx, runID string) error {
	view, err := h.engine.GetRun(c.Context(), runID)
	if err != nil {
		return h.handleEngineError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(CreateRunResponse{RunID: runID, Status: view.Status})
}
