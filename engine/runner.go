package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sicko7947/replayflow"
	"github.com/sicko7947/replayflow/artifacts"
	"github.com/sicko7947/replayflow/browser"
	"github.com/sicko7947/replayflow/events"
)

type commandKind int

const (
	cmdContinue commandKind = iota
	cmdChoose
)

// command is an API request delivered to a paused worker
type command struct {
	kind      commandKind
	stepIndex int
	chosen    int
	reply     chan error
}

// runHandle joins the API side to the one worker driving a run
type runHandle struct {
	runID    string
	commands chan command

	cancelOnce sync.Once
	cancelled  chan struct{}
	reason     string // written before cancelled is closed

	done chan struct{}
}

func newRunHandle(runID string) *runHandle {
	return &runHandle{
		runID:     runID,
		commands:  make(chan command),
		cancelled: make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (h *runHandle) cancel(reason string) {
	h.cancelOnce.Do(func() {
		h.reason = reason
		close(h.cancelled)
	})
}

// runState is owned by the worker goroutine
type runState struct {
	run     *replayflow.Run
	wf      *replayflow.WorkflowTemplate
	page    browser.Page
	logger  zerolog.Logger
	seq     int            // last appended log sequence
	learned map[int]*replayflow.ResolvedSelector // chosen while this worker was alive
}

var (
	errRunCancelled = errors.New("run cancelled")
	errShutdown     = errors.New("engine shutting down")
)

// work drives one run from its checkpoint until it finishes, fails, is
// cancelled or the engine stops.
func (e *Engine) work(h *runHandle) (err error) {
	ctx := e.baseCtx
	rs := &runState{
		logger:  e.logger.With().Str("run_id", h.runID).Logger(),
		learned: make(map[int]*replayflow.ResolvedSelector),
	}

	defer e.release(h, rs)
	defer func() {
		if r := recover(); r != nil {
			if rs.run != nil {
				e.failRun(rs, replayflow.ErrCodePanic, fmt.Sprintf("run panicked: %v", r), nil, "")
			}
			panic(r)
		}
	}()

	if err := e.pool.Acquire(h.cancelled); err != nil {
		return e.abandonQueued(h, rs, err)
	}
	defer e.pool.Release()

	if err := e.load(ctx, h.runID, rs); err != nil {
		rs.logger.Error().Err(err).Msg("Failed to load run")
		return err
	}
	if rs.run.Status.IsTerminal() {
		return nil
	}

	page, err := e.launcher.Launch(ctx)
	if err != nil {
		e.failRun(rs, replayflow.ErrCodeActionFailed, "failed to launch browser: "+err.Error(), nil, "")
		return err
	}
	rs.page = page

	resumedFrom := rs.run.Status
	if err := e.setStatus(rs, replayflow.RunStatusRunning); err != nil {
		return err
	}
	if resumedFrom.IsPaused() {
		replayflow.LogRunResumed(rs.logger, rs.run.RunID, rs.run.CurrentStep)
	} else {
		replayflow.LogRunStarted(rs.logger, rs.run.RunID, rs.run.CurrentStep, len(rs.wf.Steps))
	}

	for i := rs.run.CurrentStep; i < len(rs.wf.Steps); {
		select {
		case <-h.cancelled:
			return e.cancelRun(rs, h.reason)
		case <-ctx.Done():
			e.failRun(rs, replayflow.ErrCodeCancelled, errShutdown.Error(), nil, "")
			return errShutdown
		default:
		}

		stepErr := e.runStep(ctx, rs, i)
		if stepErr == nil {
			i++
			continue
		}

		if ctx.Err() != nil {
			e.failRun(rs, replayflow.ErrCodeCancelled, errShutdown.Error(), nil, "")
			return errShutdown
		}

		if replayflow.IsControlFlow(stepErr) {
			if err := e.pause(ctx, h, rs, i, stepErr); err != nil {
				return err
			}
			// Resumed: execute the same step again
			continue
		}

		path := e.saveScreenshot(ctx, rs, artifacts.ErrorName)
		e.failRun(rs, replayflow.ErrorCode(stepErr), stepErr.Error(), replayflow.ToPtr(i), path)
		replayflow.LogStepFailed(rs.logger, i, stepErr)
		return stepErr
	}

	if err := e.setStatus(rs, replayflow.RunStatusSucceeded); err != nil {
		return err
	}
	var duration time.Duration
	if rs.run.StartedAt != nil {
		duration = e.now().Sub(*rs.run.StartedAt)
	}
	replayflow.LogRunSucceeded(rs.logger, rs.run.RunID, duration)
	return nil
}

// abandonQueued handles a worker that never got a slot
func (e *Engine) abandonQueued(h *runHandle, rs *runState, cause error) error {
	ctx := context.WithoutCancel(e.baseCtx)
	if err := e.load(ctx, h.runID, rs); err != nil {
		return err
	}

	select {
	case <-h.cancelled:
		return e.cancelRun(rs, h.reason)
	default:
	}

	// Shutting down: only never-started runs fail, paused ones wait for a restart
	if rs.run.Status == replayflow.RunStatusQueued {
		e.failRun(rs, replayflow.ErrCodeCancelled, errShutdown.Error(), nil, "")
	}
	return cause
}

func (e *Engine) load(ctx context.Context, runID string, rs *runState) error {
	ctx = context.WithoutCancel(ctx)

	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load run: %w", err)
	}
	logs, err := e.store.ListLogs(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load run logs: %w", err)
	}

	rs.run = run
	rs.logger = replayflow.RunLogger(e.logger, run.RunID, run.WorkflowID)
	if n := len(logs); n > 0 {
		rs.seq = logs[n-1].Seq
	}

	wf, err := e.store.GetWorkflow(ctx, run.WorkflowID)
	if err != nil {
		e.failRun(rs, replayflow.ErrorCode(err), "failed to load workflow: "+err.Error(), nil, "")
		return fmt.Errorf("failed to load workflow: %w", err)
	}
	rs.wf = wf
	return nil
}

// runStep executes step i and checks for an authentication page afterwards.
// On success the checkpoint moves past i.
func (e *Engine) runStep(ctx context.Context, rs *runState, i int) error {
	step := replayflow.Substitute(rs.wf.Steps[i], rs.run.Params)
	logger := replayflow.StepLogger(rs.logger, i, step.Kind())
	replayflow.LogStepStarted(logger, i, step.Kind(), step.Describe())
	start := time.Now()

	learned, frame := e.learnedSelector(ctx, rs, i, step)
	out, err := e.interp.Execute(ctx, rs.page, StepInput{
		RunID:        rs.run.RunID,
		StartURL:     rs.wf.StartURL,
		Index:        i,
		Step:         step,
		Learned:      learned,
		LearnedFrame: frame,
	})
	if err != nil {
		if !replayflow.IsControlFlow(err) && ctx.Err() == nil {
			// A failed step on a login page is a pause, not a failure
			if pause := e.auth.Check(ctx, rs.page); pause != nil {
				return pause
			}
		}
		return err
	}
	if pause := e.auth.Check(ctx, rs.page); pause != nil {
		return pause
	}

	path := e.saveScreenshot(ctx, rs, artifacts.StepName(i))
	if out != nil && out.ScreenshotPath != "" {
		path = out.ScreenshotPath
	}
	e.appendLog(rs, replayflow.LogLevelInfo, fmt.Sprintf("Step %d: %s", i+1, step.Describe()), replayflow.ToPtr(i), path)

	rs.run.CurrentStep = i + 1
	rs.run.UpdatedAt = e.now()
	e.persist(rs)

	replayflow.LogStepCompleted(logger, i, time.Since(start))
	return nil
}

// learnedSelector picks the selector to try first for step i and the frame
// it was chosen in
func (e *Engine) learnedSelector(ctx context.Context, rs *runState, i int, step replayflow.Step) (string, []int) {
	targeted, ok := step.(replayflow.Targeted)
	if !ok {
		return "", nil
	}
	if sel, ok := rs.learned[i]; ok {
		return sel.Selector, sel.FramePath
	}
	sel, err := e.store.GetResolvedSelector(context.WithoutCancel(ctx), rs.wf.WorkflowID, i)
	switch {
	case err == nil:
		return sel.Selector, sel.FramePath
	case !errors.Is(err, replayflow.ErrNotFound):
		rs.logger.Warn().Err(err).Int("step_index", i).Msg("Failed to load resolved selector")
	}
	return targeted.LearnedSelector()
}

// pause records the paused status for step i and blocks until a valid
// command resumes the run. A nil return means execute step i again.
func (e *Engine) pause(ctx context.Context, h *runHandle, rs *runState, i int, signal error) error {
	status := replayflow.RunStatusWaitingForAuth
	name := artifacts.AuthName(i)
	message := signal.Error()
	disambiguation, isChoice := replayflow.AsDisambiguation(signal)
	if isChoice {
		status = replayflow.RunStatusNeedsUserDisambiguation
		name = artifacts.DisambiguationName(i)
	}

	path := e.saveScreenshot(ctx, rs, name)

	now := e.now()
	if err := transition(rs.run, status, now); err != nil {
		return err
	}
	rs.run.CurrentStep = i
	if isChoice {
		rs.run.Disambiguation = &replayflow.DisambiguationPayload{
			StepIndex:       i,
			StepDescription: replayflow.Substitute(rs.wf.Steps[i], rs.run.Params).Describe(),
			Reason:          disambiguation.Reason,
			ScreenshotPath:  path,
			Candidates:      disambiguation.Candidates,
		}
	}
	e.persist(rs)
	e.publish(events.StatusEvent(rs.run))
	e.appendLog(rs, replayflow.LogLevelWarn, message, replayflow.ToPtr(i), path)
	replayflow.LogRunPaused(rs.logger, rs.run.RunID, status, i, message)

	for {
		select {
		case cmd := <-h.commands:
			if err := e.apply(rs, i, cmd); err != nil {
				cmd.reply <- err
				continue
			}
			if err := e.setStatus(rs, replayflow.RunStatusRunning); err != nil {
				cmd.reply <- err
				return err
			}
			replayflow.LogRunResumed(rs.logger, rs.run.RunID, i)
			cmd.reply <- nil
			return nil

		case <-h.cancelled:
			return e.cancelRun(rs, h.reason)

		case <-ctx.Done():
			// Keep the paused status; the run resumes on a later continue or choose
			rs.logger.Info().Str("status", rs.run.Status.String()).Msg("Leaving paused run for shutdown")
			return errShutdown
		}
	}
}

// apply validates cmd against the paused state of step i
func (e *Engine) apply(rs *runState, i int, cmd command) error {
	switch cmd.kind {
	case cmdContinue:
		if rs.run.Status != replayflow.RunStatusWaitingForAuth {
			return invalidState(rs.run.RunID, "run is %s, not %s", rs.run.Status, replayflow.RunStatusWaitingForAuth)
		}
		return nil

	case cmdChoose:
		if rs.run.Status != replayflow.RunStatusNeedsUserDisambiguation {
			return invalidState(rs.run.RunID, "run is %s, not %s", rs.run.Status, replayflow.RunStatusNeedsUserDisambiguation)
		}
		candidate, err := validateChoice(rs.run, cmd.stepIndex, cmd.chosen)
		if err != nil {
			return err
		}
		sel, err := e.store.RecordResolution(context.WithoutCancel(e.baseCtx), rs.wf.WorkflowID, i, candidate.CSS, candidate.FramePath)
		if err != nil {
			return replayflow.NewEngineError(replayflow.ErrCodeInternalError, "failed to record resolution").WithRun(rs.run.RunID).Wrap(err)
		}
		rs.learned[i] = sel
		replayflow.LogSelectorLearned(rs.logger, sel)
		return nil
	}
	return fmt.Errorf("unknown command %d", cmd.kind)
}

func (e *Engine) cancelRun(rs *runState, reason string) error {
	if reason == "" {
		reason = DefaultCancelReason
	}
	e.failRun(rs, replayflow.ErrCodeCancelled, cancelMessage(reason), nil, "")
	replayflow.LogRunCancelled(rs.logger, rs.run.RunID, reason)
	return errRunCancelled
}

// failRun appends an error entry and moves the run to failed
func (e *Engine) failRun(rs *runState, code, message string, stepIndex *int, screenshot string) {
	if rs.run.Status.IsTerminal() {
		return
	}
	e.appendLog(rs, replayflow.LogLevelError, message, stepIndex, screenshot)

	if err := transition(rs.run, replayflow.RunStatusFailed, e.now()); err != nil {
		rs.logger.Warn().Err(err).Msg("Run cannot be failed")
		return
	}
	rs.run.ErrorMessage = message
	rs.run.ErrorCode = code
	e.persist(rs)
	e.publish(events.StatusEvent(rs.run))
	replayflow.LogRunFailed(rs.logger, rs.run.RunID, errors.New(message))
}

func (e *Engine) setStatus(rs *runState, status replayflow.RunStatus) error {
	if err := transition(rs.run, status, e.now()); err != nil {
		rs.logger.Error().Err(err).Msg("Invalid run transition")
		return err
	}
	e.persist(rs)
	e.publish(events.StatusEvent(rs.run))
	return nil
}

func (e *Engine) persist(rs *runState) {
	if err := e.store.UpdateRun(context.WithoutCancel(e.baseCtx), rs.run); err != nil {
		replayflow.LogPersistenceError(rs.logger, rs.run.RunID, "update_run", err)
	}
}

func (e *Engine) appendLog(rs *runState, level replayflow.LogLevel, message string, stepIndex *int, screenshot string) {
	entry := &replayflow.LogEntry{
		RunID:          rs.run.RunID,
		Seq:            rs.seq + 1,
		Timestamp:      e.now(),
		Level:          level,
		Message:        message,
		StepIndex:      stepIndex,
		ScreenshotPath: screenshot,
	}
	if err := e.store.AppendLog(context.WithoutCancel(e.baseCtx), entry); err != nil {
		replayflow.LogPersistenceError(rs.logger, rs.run.RunID, "append_log", err)
		return
	}
	rs.seq = entry.Seq
	e.publish(events.LogEvent(rs.run, entry))
}

// saveScreenshot captures the page under name. Failures are logged and
// yield an empty path.
func (e *Engine) saveScreenshot(ctx context.Context, rs *runState, name string) string {
	if rs.page == nil {
		return ""
	}
	ctx = context.WithoutCancel(ctx)
	data, err := rs.page.Screenshot(ctx)
	if err != nil {
		replayflow.LogArtifactError(rs.logger, rs.run.RunID, name, err)
		return ""
	}
	path, err := e.artifacts.Put(ctx, rs.run.RunID, name, data)
	if err != nil {
		replayflow.LogArtifactError(rs.logger, rs.run.RunID, name, err)
		return ""
	}
	return path
}

// release closes the session once and unregisters the handle
func (e *Engine) release(h *runHandle, rs *runState) {
	if rs.page != nil {
		if err := rs.page.Close(); err != nil {
			rs.logger.Warn().Err(err).Msg("Failed to close browser session")
		} else {
			rs.logger.Debug().Str("event", replayflow.EventSessionClosed).Msg("Browser session closed")
		}
		rs.page = nil
	}

	e.mu.Lock()
	if e.handles[h.runID] == h {
		delete(e.handles, h.runID)
	}
	e.mu.Unlock()

	close(h.done)
}
