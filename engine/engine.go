package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sicko7947/replayflow"
	"github.com/sicko7947/replayflow/artifacts"
	"github.com/sicko7947/replayflow/browser"
	"github.com/sicko7947/replayflow/builder"
	"github.com/sicko7947/replayflow/events"
	"github.com/sicko7947/replayflow/resolver"
)

// DefaultCancelReason is recorded when Cancel is given no reason
const DefaultCancelReason = "cancelled by user"

// Engine drives runs of workflow templates against browser sessions
type Engine struct {
	store     replayflow.Store
	launcher  browser.Launcher
	resolver  *resolver.Resolver
	auth      *AuthDetector
	artifacts artifacts.Store
	events    events.Sink
	logger    zerolog.Logger
	config    replayflow.Config
	pool      *WorkerPool
	interp    *Interpreter

	mu      sync.Mutex
	handles map[string]*runHandle
	closed  bool

	baseCtx context.Context
	stop    context.CancelFunc
	now     func() time.Time
}

// RunView is a run together with its ordered log
type RunView struct {
	*replayflow.Run
	Logs []*replayflow.LogEntry `json:"logs"`
}

// EngineOption configures the engine
type EngineOption func(*Engine)

// WithLogger sets a custom logger for the engine
func WithLogger(logger zerolog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithConfig sets a custom configuration for the engine
func WithConfig(config replayflow.Config) EngineOption {
	return func(e *Engine) {
		e.config = config
	}
}

// WithArtifacts sets where screenshots are stored
func WithArtifacts(store artifacts.Store) EngineOption {
	return func(e *Engine) {
		e.artifacts = store
	}
}

// WithEvents sets the sink run events are published to
func WithEvents(sink events.Sink) EngineOption {
	return func(e *Engine) {
		e.events = sink
	}
}

// WithResolver replaces the element resolver built from the config
func WithResolver(r *resolver.Resolver) EngineOption {
	return func(e *Engine) {
		e.resolver = r
	}
}

// NewEngine creates a new engine with optional configuration.
// If no logger is provided, a default stdout logger with Info level is used.
// If no config is provided, replayflow.DefaultConfig is used.
func NewEngine(store replayflow.Store, launcher browser.Launcher, opts ...EngineOption) *Engine {
	// Default logger: pretty console output, Info level
	defaultLogger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger().
		Level(zerolog.InfoLevel)

	eng := &Engine{
		store:     store,
		launcher:  launcher,
		logger:    defaultLogger,
		config:    replayflow.DefaultConfig(),
		artifacts: artifacts.NewMemoryStore(),
		events:    events.Nop{},
		handles:   make(map[string]*runHandle),
		now:       time.Now,
	}

	// Apply options
	for _, opt := range opts {
		opt(eng)
	}

	if eng.resolver == nil {
		eng.resolver = resolver.New(eng.config.Resolver, resolver.WithLogger(eng.logger))
	}
	eng.auth = NewAuthDetector(eng.config.Auth)
	eng.pool = NewWorkerPool(eng.config.Workers)
	eng.interp = NewInterpreter(eng.resolver, eng.auth, eng.artifacts, eng.config, eng.logger)
	eng.baseCtx, eng.stop = context.WithCancel(context.Background())

	return eng
}

// CreateRun persists a queued run of workflowID and hands it to a worker.
// It returns as soon as the run is stored.
func (e *Engine) CreateRun(ctx context.Context, workflowID string, params map[string]string) (string, error) {
	if e.isClosed() {
		return "", errShuttingDown()
	}

	wf, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return "", lookupError("workflow", workflowID, err)
	}
	if err := builder.ValidateParams(wf, params); err != nil {
		return "", err
	}

	now := e.now()
	run := &replayflow.Run{
		RunID:      uuid.New().String(),
		WorkflowID: wf.WorkflowID,
		Params:     make(map[string]string, len(params)),
		Status:     replayflow.RunStatusQueued,
		TotalSteps: len(wf.Steps),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for k, v := range params {
		run.Params[k] = v
	}

	// Set TTL if specified
	if e.config.Store.RunTTL > 0 {
		run.TTL = now.Add(e.config.Store.RunTTL).Unix()
	}

	// Persist run
	if err := e.store.CreateRun(ctx, run); err != nil {
		return "", replayflow.NewEngineError(replayflow.ErrCodeInternalError, "failed to create run").Wrap(err)
	}

	replayflow.LogRunCreated(e.logger, run.RunID, run.WorkflowID)
	e.publish(events.StatusEvent(run))

	e.mu.Lock()
	_, err = e.startLocked(run.RunID)
	e.mu.Unlock()
	if err != nil {
		// Lost a race with Shutdown
		e.failDetached(run, replayflow.ErrCodeCancelled, "engine shutting down")
		return "", errShuttingDown()
	}

	return run.RunID, nil
}

// GetRun returns the run with its log entries in order
func (e *Engine) GetRun(ctx context.Context, runID string) (*RunView, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, lookupError("run", runID, err)
	}
	logs, err := e.store.ListLogs(ctx, runID)
	if err != nil {
		return nil, replayflow.NewEngineError(replayflow.ErrCodeInternalError, "failed to list run logs").WithRun(runID).Wrap(err)
	}
	if logs == nil {
		logs = []*replayflow.LogEntry{}
	}
	return &RunView{Run: run, Logs: logs}, nil
}

// ListRuns lists runs with filtering
func (e *Engine) ListRuns(ctx context.Context, filter replayflow.RunFilter) ([]*replayflow.Run, error) {
	return e.store.ListRuns(ctx, filter)
}

// GetWorkflow returns a stored template
func (e *Engine) GetWorkflow(ctx context.Context, workflowID string) (*replayflow.WorkflowTemplate, error) {
	wf, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, lookupError("workflow", workflowID, err)
	}
	return wf, nil
}

// ContinueAfterAuth resumes a run waiting for the user to sign in. The
// checkpointed step is executed again.
func (e *Engine) ContinueAfterAuth(ctx context.Context, runID string) error {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return lookupError("run", runID, err)
	}
	if run.Status != replayflow.RunStatusWaitingForAuth {
		return invalidState(runID, "run is %s, not %s", run.Status, replayflow.RunStatusWaitingForAuth)
	}

	h, started, err := e.attach(runID, nil)
	if err != nil {
		return err
	}
	if started {
		// A fresh worker resumes from the checkpoint on its own
		return nil
	}
	return e.send(ctx, h, command{kind: cmdContinue})
}

// ChooseCandidate resolves a paused disambiguation with the candidate at
// chosenIndex. The choice is learned for later runs of the same workflow.
func (e *Engine) ChooseCandidate(ctx context.Context, runID string, stepIndex, chosenIndex int) error {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return lookupError("run", runID, err)
	}
	if run.Status != replayflow.RunStatusNeedsUserDisambiguation {
		return invalidState(runID, "run is %s, not %s", run.Status, replayflow.RunStatusNeedsUserDisambiguation)
	}
	candidate, err := validateChoice(run, stepIndex, chosenIndex)
	if err != nil {
		return err
	}

	h, started, err := e.attach(runID, func() error {
		// No live worker: learn the selector now, the new worker reads it back
		rs, err := e.store.RecordResolution(ctx, run.WorkflowID, stepIndex, candidate.CSS, candidate.FramePath)
		if err != nil {
			return replayflow.NewEngineError(replayflow.ErrCodeInternalError, "failed to record resolution").WithRun(runID).Wrap(err)
		}
		replayflow.LogSelectorLearned(e.logger, rs)
		return nil
	})
	if err != nil {
		return err
	}
	if started {
		return nil
	}
	return e.send(ctx, h, command{kind: cmdChoose, stepIndex: stepIndex, chosen: chosenIndex})
}

// Cancel stops a run cooperatively. A live worker notices before its next
// step or while paused; a run with no worker is failed directly.
func (e *Engine) Cancel(ctx context.Context, runID, reason string) error {
	if reason == "" {
		reason = DefaultCancelReason
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return lookupError("run", runID, err)
	}
	if run.Status.IsTerminal() {
		return invalidState(runID, "run already %s", run.Status)
	}

	if h, ok := e.handles[runID]; ok {
		h.cancel(reason)
		return nil
	}

	e.failDetached(run, replayflow.ErrCodeCancelled, cancelMessage(reason))
	replayflow.LogRunCancelled(e.logger, runID, reason)
	return nil
}

// RecoverInterrupted fails runs left queued or running by a previous
// process. Paused runs are kept; they resume on continue or choose.
func (e *Engine) RecoverInterrupted(ctx context.Context) (int, error) {
	recovered := 0
	for _, status := range []replayflow.RunStatus{replayflow.RunStatusQueued, replayflow.RunStatusRunning} {
		runs, err := e.store.ListRuns(ctx, replayflow.RunFilter{Status: replayflow.ToPtr(status), Limit: 1000})
		if err != nil {
			return recovered, fmt.Errorf("failed to list %s runs: %w", status, err)
		}
		for _, run := range runs {
			e.mu.Lock()
			_, live := e.handles[run.RunID]
			if !live {
				e.failDetached(run, replayflow.ErrCodeCancelled, "run interrupted by engine restart")
				recovered++
			}
			e.mu.Unlock()
		}
	}
	return recovered, nil
}

// Metrics returns a snapshot of the worker pool metrics
func (e *Engine) Metrics() PoolMetrics {
	return e.pool.Metrics()
}

// ActiveRuns returns how many runs currently have a worker
func (e *Engine) ActiveRuns() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.handles)
}

// Shutdown stops accepting runs, signals every worker and waits for them.
// Queued and running runs fail; paused runs keep their status.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.stop()
	if err := e.pool.Shutdown(ctx); err != nil {
		return fmt.Errorf("engine shutdown: %w", err)
	}
	e.logger.Info().Msg("Engine stopped")
	return nil
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// attach returns the live handle of runID, or registers and dispatches a new
// worker after beforeStart succeeds. started reports the latter.
func (e *Engine) attach(runID string, beforeStart func() error) (h *runHandle, started bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if h, ok := e.handles[runID]; ok {
		return h, false, nil
	}
	if e.closed {
		return nil, false, errShuttingDown()
	}
	if beforeStart != nil {
		if err := beforeStart(); err != nil {
			return nil, false, err
		}
	}
	h, err = e.startLocked(runID)
	if err != nil {
		return nil, false, errShuttingDown()
	}
	return h, true, nil
}

// startLocked registers a handle and starts its worker. e.mu must be held.
func (e *Engine) startLocked(runID string) (*runHandle, error) {
	if e.closed {
		return nil, ErrPoolShutdown
	}
	h := newRunHandle(runID)
	e.handles[runID] = h
	err := e.pool.Go(func() error {
		return e.work(h)
	}, func(r any) {
		e.logger.Error().Str("run_id", runID).Interface("panic", r).Msg("Run worker panicked")
	})
	if err != nil {
		delete(e.handles, runID)
		return nil, err
	}
	return h, nil
}

// send delivers cmd to the paused worker and waits for its verdict
func (e *Engine) send(ctx context.Context, h *runHandle, cmd command) error {
	cmd.reply = make(chan error, 1)

	select {
	case h.commands <- cmd:
	case <-h.done:
		return invalidState(h.runID, "run is no longer active")
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.reply:
		return err
	case <-h.done:
		return invalidState(h.runID, "run is no longer active")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// failDetached marks a run with no worker as failed
func (e *Engine) failDetached(run *replayflow.Run, code, message string) {
	ctx := context.WithoutCancel(e.baseCtx)
	logger := replayflow.RunLogger(e.logger, run.RunID, run.WorkflowID)

	seq := 0
	if logs, err := e.store.ListLogs(ctx, run.RunID); err == nil && len(logs) > 0 {
		seq = logs[len(logs)-1].Seq
	}

	now := e.now()
	if err := transition(run, replayflow.RunStatusFailed, now); err != nil {
		logger.Warn().Err(err).Msg("Run cannot be failed")
		return
	}
	run.ErrorMessage = message
	run.ErrorCode = code
	if err := e.store.UpdateRun(ctx, run); err != nil {
		replayflow.LogPersistenceError(logger, run.RunID, "update_run", err)
		return
	}
	e.publish(events.StatusEvent(run))

	entry := &replayflow.LogEntry{
		RunID:     run.RunID,
		Seq:       seq + 1,
		Timestamp: now,
		Level:     replayflow.LogLevelError,
		Message:   message,
	}
	if err := e.store.AppendLog(ctx, entry); err != nil {
		replayflow.LogPersistenceError(logger, run.RunID, "append_log", err)
		return
	}
	e.publish(events.LogEvent(run, entry))
}

func (e *Engine) publish(ev events.RunEvent) {
	if err := e.events.Publish(context.WithoutCancel(e.baseCtx), ev); err != nil {
		e.logger.Warn().Err(err).Str("run_id", ev.RunID).Str("type", ev.Type).Msg("Failed to publish run event")
	}
}

func validateChoice(run *replayflow.Run, stepIndex, chosenIndex int) (replayflow.DisambiguationCandidate, error) {
	d := run.Disambiguation
	if d == nil {
		return replayflow.DisambiguationCandidate{}, invalidState(run.RunID, "run has no pending disambiguation")
	}
	if stepIndex != d.StepIndex {
		return replayflow.DisambiguationCandidate{}, replayflow.NewEngineError(replayflow.ErrCodeValidation,
			fmt.Sprintf("step index %d does not match paused step %d", stepIndex, d.StepIndex)).WithRun(run.RunID)
	}
	if chosenIndex < 0 || chosenIndex >= len(d.Candidates) {
		return replayflow.DisambiguationCandidate{}, replayflow.NewEngineError(replayflow.ErrCodeValidation,
			fmt.Sprintf("chosen index %d out of range [0,%d)", chosenIndex, len(d.Candidates))).WithRun(run.RunID)
	}
	return d.Candidates[chosenIndex], nil
}

func lookupError(kind, id string, err error) error {
	if errors.Is(err, replayflow.ErrNotFound) {
		return replayflow.NewEngineError(replayflow.ErrCodeNotFound, fmt.Sprintf("%s %s not found", kind, id)).Wrap(err)
	}
	return replayflow.NewEngineError(replayflow.ErrCodeInternalError, fmt.Sprintf("failed to load %s %s", kind, id)).Wrap(err)
}

func invalidState(runID, format string, args ...any) error {
	return replayflow.NewEngineError(replayflow.ErrCodeInvalidState, fmt.Sprintf(format, args...)).WithRun(runID)
}

func errShuttingDown() error {
	return replayflow.NewEngineError(replayflow.ErrCodeInvalidState, "engine is shutting down")
}

func cancelMessage(reason string) string {
	return "run cancelled: " + reason
}
