// Package events publishes run status changes and log lines.
package events

import (
	"context"
	"time"

	"github.com/sicko7947/replayflow"
)

// Event types
const (
	TypeStatus = "run.status"
	TypeLog    = "run.log"
)

// Metadata keys set on every message
const (
	MetadataRunID = "run_id"
	MetadataType  = "event_type"
)

// RunEvent is one observable change of a run
type RunEvent struct {
	Type       string               `json:"type"`
	RunID      string               `json:"run_id"`
	WorkflowID string               `json:"workflow_id,omitempty"`
	Status     replayflow.RunStatus `json:"status,omitempty"`
	Step       int                  `json:"current_step"`
	Timestamp  time.Time            `json:"ts"`

	// status events
	ErrorMessage string `json:"error_message,omitempty"`

	// log events
	Log *replayflow.LogEntry `json:"log,omitempty"`
}

// StatusEvent describes the run as it is now
func StatusEvent(run *replayflow.Run) RunEvent {
	return RunEvent{
		Type:         TypeStatus,
		RunID:        run.RunID,
		WorkflowID:   run.WorkflowID,
		Status:       run.Status,
		Step:         run.CurrentStep,
		Timestamp:    run.UpdatedAt,
		ErrorMessage: run.ErrorMessage,
	}
}

// LogEvent wraps a log entry appended to run
func LogEvent(run *replayflow.Run, entry *replayflow.LogEntry) RunEvent {
	return RunEvent{
		Type:       TypeLog,
		RunID:      run.RunID,
		WorkflowID: run.WorkflowID,
		Status:     run.Status,
		Step:       run.CurrentStep,
		Timestamp:  entry.Timestamp,
		Log:        entry,
	}
}

// Sink receives run events
type Sink interface {
	Publish(ctx context.Context, event RunEvent) error
}

// Nop discards events
type Nop struct{}

// Publish does nothing
func (Nop) Publish(context.Context, RunEvent) error { return nil }
