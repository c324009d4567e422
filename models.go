package replayflow

import (
	"slices"
	"time"
)

// RunStatus represents the current state of a run
type RunStatus string

const (
	RunStatusQueued                  RunStatus = "queued"
	RunStatusRunning                 RunStatus = "running"
	RunStatusWaitingForAuth          RunStatus = "waiting_for_auth"
	RunStatusNeedsUserDisambiguation RunStatus = "needs_user_disambiguation"
	RunStatusSucceeded               RunStatus = "succeeded"
	RunStatusFailed                  RunStatus = "failed"
)

// IsTerminal returns true if the status is a final state
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed
}

// IsPaused returns true while the run waits on an external actor
func (s RunStatus) IsPaused() bool {
	return s == RunStatusWaitingForAuth || s == RunStatusNeedsUserDisambiguation
}

// String returns the string representation
func (s RunStatus) String() string {
	return string(s)
}

// ParseRunStatus converts a raw status string, rejecting unknown values
func ParseRunStatus(raw string) (RunStatus, bool) {
	switch s := RunStatus(raw); s {
	case RunStatusQueued, RunStatusRunning, RunStatusWaitingForAuth,
		RunStatusNeedsUserDisambiguation, RunStatusSucceeded, RunStatusFailed:
		return s, true
	}
	return "", false
}

// LogLevel is the severity of a run log entry
type LogLevel string

const (
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Run represents a single execution of a workflow template
type Run struct {
	// Identity
	RunID      string `json:"run_id" dynamodbav:"run_id"`
	WorkflowID string `json:"workflow_id" dynamodbav:"workflow_id"`

	// Input
	Params map[string]string `json:"params,omitempty" dynamodbav:"params,omitempty"`

	// Status
	Status      RunStatus `json:"status" dynamodbav:"status"`
	CurrentStep int       `json:"current_step" dynamodbav:"current_step"` // next unattempted step
	TotalSteps  int       `json:"total_steps" dynamodbav:"total_steps"`

	// Pause payload, only while needs_user_disambiguation
	Disambiguation *DisambiguationPayload `json:"disambiguation,omitempty" dynamodbav:"disambiguation,omitempty"`

	// Failure
	ErrorMessage string `json:"error_message,omitempty" dynamodbav:"error_message,omitempty"`
	ErrorCode    string `json:"error_code,omitempty" dynamodbav:"error_code,omitempty"`

	// Timing
	CreatedAt   time.Time  `json:"created_at" dynamodbav:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty" dynamodbav:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty" dynamodbav:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at" dynamodbav:"updated_at"`

	// DynamoDB TTL
	TTL int64 `json:"-" dynamodbav:"ttl,omitempty"`
}

// Clone returns a deep copy of the run
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	out := *r
	if r.Params != nil {
		out.Params = make(map[string]string, len(r.Params))
		for k, v := range r.Params {
			out.Params[k] = v
		}
	}
	if r.Disambiguation != nil {
		d := *r.Disambiguation
		d.Candidates = append([]DisambiguationCandidate(nil), r.Disambiguation.Candidates...)
		out.Disambiguation = &d
	}
	if r.StartedAt != nil {
		out.StartedAt = ToPtr(*r.StartedAt)
	}
	if r.CompletedAt != nil {
		out.CompletedAt = ToPtr(*r.CompletedAt)
	}
	return &out
}

// LogEntry is one append-only line of a run's history
type LogEntry struct {
	RunID          string    `json:"run_id" dynamodbav:"run_id"`
	Seq            int       `json:"seq" dynamodbav:"seq"`
	Timestamp      time.Time `json:"ts" dynamodbav:"ts"`
	Level          LogLevel  `json:"level" dynamodbav:"level"`
	Message        string    `json:"message" dynamodbav:"message"`
	StepIndex      *int      `json:"step_index,omitempty" dynamodbav:"step_index,omitempty"`
	ScreenshotPath string    `json:"screenshot_path,omitempty" dynamodbav:"screenshot_path,omitempty"`
}

// ResolvedSelector is a selector learned from a disambiguation choice
type ResolvedSelector struct {
	WorkflowID string    `json:"workflow_id" dynamodbav:"workflow_id"`
	StepIndex  int       `json:"step_index" dynamodbav:"step_index"`
	Selector   string    `json:"selector" dynamodbav:"selector"`
	// FramePath is the frame the selector applies to; empty is the top document
	FramePath  []int     `json:"frame_path,omitempty" dynamodbav:"frame_path,omitempty"`
	UsageCount int       `json:"usage_count" dynamodbav:"usage_count"`
	CreatedAt  time.Time `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" dynamodbav:"updated_at"`
}

// Next returns the record after choosing selector in frame again at now.
// Choosing the same selector in the same frame bumps the usage counter,
// anything else resets it.
func (r *ResolvedSelector) Next(workflowID string, stepIndex int, selector string, frame []int, now time.Time) *ResolvedSelector {
	frame = append([]int(nil), frame...)
	if r == nil {
		return &ResolvedSelector{
			WorkflowID: workflowID,
			StepIndex:  stepIndex,
			Selector:   selector,
			FramePath:  frame,
			UsageCount: 1,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
	}
	next := *r
	next.UpdatedAt = now
	if r.Selector == selector && slices.Equal(r.FramePath, frame) {
		next.UsageCount++
	} else {
		next.Selector = selector
		next.FramePath = frame
		next.UsageCount = 1
	}
	return &next
}

// DisambiguationCandidate is one element offered to the user
type DisambiguationCandidate struct {
	Index      int     `json:"index" dynamodbav:"index"`
	Label      string  `json:"label" dynamodbav:"label"`
	CSS        string  `json:"css" dynamodbav:"css"`
	Confidence float64 `json:"confidence" dynamodbav:"confidence"`
	Location   string  `json:"location" dynamodbav:"location"`
	FramePath  []int   `json:"frame_path,omitempty" dynamodbav:"frame_path,omitempty"`
}

// DisambiguationPayload describes a paused step waiting for a human choice
type DisambiguationPayload struct {
	StepIndex       int                       `json:"step_index" dynamodbav:"step_index"`
	StepDescription string                    `json:"step_description" dynamodbav:"step_description"`
	Reason          string                    `json:"reason" dynamodbav:"reason"`
	ScreenshotPath  string                    `json:"screenshot_path,omitempty" dynamodbav:"screenshot_path,omitempty"`
	Candidates      []DisambiguationCandidate `json:"candidates" dynamodbav:"candidates"`
}
