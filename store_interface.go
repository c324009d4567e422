package replayflow

import "context"

// RunStore persists runs and their logs
type RunStore interface {
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	UpdateRun(ctx context.Context, run *Run) error
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)

	// Log entries are append-only and returned in Seq order
	AppendLog(ctx context.Context, entry *LogEntry) error
	ListLogs(ctx context.Context, runID string) ([]*LogEntry, error)
}

// WorkflowStore persists workflow templates and learned selectors
type WorkflowStore interface {
	SaveWorkflow(ctx context.Context, wf *WorkflowTemplate) error
	GetWorkflow(ctx context.Context, workflowID string) (*WorkflowTemplate, error)

	GetResolvedSelector(ctx context.Context, workflowID string, stepIndex int) (*ResolvedSelector, error)

	// RecordResolution stores the chosen selector with the frame it was
	// chosen in and updates the workflow step's resolved_css_selector and
	// resolved_frame_path in one atomic write.
	RecordResolution(ctx context.Context, workflowID string, stepIndex int, selector string, frame []int) (*ResolvedSelector, error)
}

// Store is the full persistence surface used by the engine
type Store interface {
	RunStore
	WorkflowStore
}

// RunFilter defines filtering criteria for runs
type RunFilter struct {
	WorkflowID string
	Status     *RunStatus
	Limit      int
}
