// Package api exposes the run engine over HTTP.
package api

import (
	"github.com/sicko7947/replayflow"
	"github.com/sicko7947/replayflow/engine"
)

// CreateRunRequest is the body of POST /runs
type CreateRunRequest struct {
	WorkflowID string            `json:"workflow_id" validate:"required"`
	Params     map[string]string `json:"params"`
}

// CreateRunResponse acknowledges a queued run
type CreateRunResponse struct {
	RunID  string               `json:"run_id"`
	Status replayflow.RunStatus `json:"status"`
}

// ChooseRequest is the body of POST /runs/:runId/choose. Pointers tell a
// missing index from zero.
type ChooseRequest struct {
	StepIndex   *int `json:"step_index"   validate:"required,gte=0"`
	ChosenIndex *int `json:"chosen_index" validate:"required,gte=0"`
}

// CancelRequest is the optional body of POST /runs/:runId/cancel
type CancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// ListRunsResponse wraps a page of runs
type ListRunsResponse struct {
	Runs  []*replayflow.Run `json:"runs"`
	Count int               `json:"count"`
}

// HealthResponse reports the worker pool
type HealthResponse struct {
	Status     string             `json:"status"`
	ActiveRuns int                `json:"active_runs"`
	Pool       engine.PoolMetrics `json:"pool"`
}
