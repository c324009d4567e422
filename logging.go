package replayflow

import (
	"time"

	"github.com/rs/zerolog"
)

// Log event names
const (
	// Run-level events
	EventRunCreated   = "run_created"
	EventRunStarted   = "run_started"
	EventRunPaused    = "run_paused"
	EventRunResumed   = "run_resumed"
	EventRunSucceeded = "run_succeeded"
	EventRunFailed    = "run_failed"
	EventRunCancelled = "run_cancelled"

	// Step-level events
	EventStepStarted   = "step_started"
	EventStepCompleted = "step_completed"
	EventStepFailed    = "step_failed"

	// Resolver events
	EventSelectorLearned = "selector_learned"

	// Infrastructure events
	EventPersistenceError = "persistence_error"
	EventArtifactError    = "artifact_error"
	EventSessionClosed    = "session_closed"
)

// LogRunCreated logs when a run is accepted
func LogRunCreated(logger zerolog.Logger, runID, workflowID string) {
	logger.Info().
		Str("event", EventRunCreated).
		Str("run_id", runID).
		Str("workflow_id", workflowID).
		Msg("Run created")
}

// LogRunStarted logs when a worker begins driving a run
func LogRunStarted(logger zerolog.Logger, runID string, fromStep, totalSteps int) {
	logger.Info().
		Str("event", EventRunStarted).
		Str("run_id", runID).
		Int("from_step", fromStep).
		Int("total_steps", totalSteps).
		Msg("Run started")
}

// LogRunPaused logs when a run waits on an external actor
func LogRunPaused(logger zerolog.Logger, runID string, status RunStatus, stepIndex int, reason string) {
	logger.Warn().
		Str("event", EventRunPaused).
		Str("run_id", runID).
		Str("status", status.String()).
		Int("step_index", stepIndex).
		Str("reason", reason).
		Msg("Run paused")
}

// LogRunResumed logs when a paused run continues
func LogRunResumed(logger zerolog.Logger, runID string, stepIndex int) {
	logger.Info().
		Str("event", EventRunResumed).
		Str("run_id", runID).
		Int("step_index", stepIndex).
		Msg("Run resumed")
}

// LogRunSucceeded logs successful run completion
func LogRunSucceeded(logger zerolog.Logger, runID string, duration time.Duration) {
	logger.Info().
		Str("event", EventRunSucceeded).
		Str("run_id", runID).
		Dur("duration", duration).
		Msg("Run succeeded")
}

// LogRunFailed logs run failure
func LogRunFailed(logger zerolog.Logger, runID string, err error) {
	logger.Error().
		Str("event", EventRunFailed).
		Str("run_id", runID).
		Err(err).
		Msg("Run failed")
}

// LogRunCancelled logs run cancellation
func LogRunCancelled(logger zerolog.Logger, runID, reason string) {
	logger.Warn().
		Str("event", EventRunCancelled).
		Str("run_id", runID).
		Str("reason", reason).
		Msg("Run cancelled")
}

// LogStepStarted logs when a step starts execution
func LogStepStarted(logger zerolog.Logger, stepIndex int, kind StepKind, description string) {
	logger.Info().
		Str("event", EventStepStarted).
		Int("step_index", stepIndex).
		Str("kind", kind.String()).
		Str("description", description).
		Msg("Step started")
}

// LogStepCompleted logs successful step completion
func LogStepCompleted(logger zerolog.Logger, stepIndex int, duration time.Duration) {
	logger.Info().
		Str("event", EventStepCompleted).
		Int("step_index", stepIndex).
		Int64("duration_ms", duration.Milliseconds()).
		Msg("Step completed")
}

// LogStepFailed logs step failure
func LogStepFailed(logger zerolog.Logger, stepIndex int, err error) {
	logger.Error().
		Str("event", EventStepFailed).
		Int("step_index", stepIndex).
		Str("code", ErrorCode(err)).
		Err(err).
		Msg("Step failed")
}

// LogSelectorLearned logs a selector stored from a disambiguation choice
func LogSelectorLearned(logger zerolog.Logger, rs *ResolvedSelector) {
	logger.Info().
		Str("event", EventSelectorLearned).
		Str("workflow_id", rs.WorkflowID).
		Int("step_index", rs.StepIndex).
		Str("selector", rs.Selector).
		Int("usage_count", rs.UsageCount).
		Msg("Selector learned")
}

// LogPersistenceError logs errors during persistence operations
func LogPersistenceError(logger zerolog.Logger, runID, operation string, err error) {
	logger.Error().
		Str("event", EventPersistenceError).
		Str("run_id", runID).
		Str("operation", operation).
		Err(err).
		Msg("Persistence error")
}

// LogArtifactError logs a screenshot that could not be captured or stored
func LogArtifactError(logger zerolog.Logger, runID, name string, err error) {
	logger.Warn().
		Str("event", EventArtifactError).
		Str("run_id", runID).
		Str("artifact", name).
		Err(err).
		Msg("Artifact not saved")
}

// RunLogger creates a logger enriched with run context
func RunLogger(baseLogger zerolog.Logger, runID, workflowID string) zerolog.Logger {
	return baseLogger.With().
		Str("run_id", runID).
		Str("workflow_id", workflowID).
		Logger()
}

// StepLogger creates a logger enriched with step context
func StepLogger(runLogger zerolog.Logger, stepIndex int, kind StepKind) zerolog.Logger {
	return runLogger.With().
		Int("step_index", stepIndex).
		Str("step_kind", kind.String()).
		Logger()
}
