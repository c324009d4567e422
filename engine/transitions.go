package engine

import (
	"time"

	"github.com/sicko7947/replayflow"
)

// ValidRunTransitions lists the statuses each status may move to.
// Terminal statuses have no entry.
var ValidRunTransitions = map[replayflow.RunStatus][]replayflow.RunStatus{
	replayflow.RunStatusQueued: {
		replayflow.RunStatusRunning,
		replayflow.RunStatusFailed,
	},
	replayflow.RunStatusRunning: {
		replayflow.RunStatusWaitingForAuth,
		replayflow.RunStatusNeedsUserDisambiguation,
		replayflow.RunStatusSucceeded,
		replayflow.RunStatusFailed,
	},
	replayflow.RunStatusWaitingForAuth: {
		replayflow.RunStatusRunning,
		replayflow.RunStatusFailed,
	},
	replayflow.RunStatusNeedsUserDisambiguation: {
		replayflow.RunStatusRunning,
		replayflow.RunStatusFailed,
	},
}

func isValidRunTransition(from, to replayflow.RunStatus) bool {
	for _, allowed := range ValidRunTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// transition moves run to status, stamping timestamps. The run is left
// untouched when the move is not allowed.
func transition(run *replayflow.Run, to replayflow.RunStatus, now time.Time) error {
	if !isValidRunTransition(run.Status, to) {
		return replayflow.NewEngineError(replayflow.ErrCodeInvalidState,
			"invalid run transition: "+run.Status.String()+" -> "+to.String()).WithRun(run.RunID)
	}

	run.Status = to
	run.UpdatedAt = now
	if to != replayflow.RunStatusNeedsUserDisambiguation {
		run.Disambiguation = nil
	}
	switch {
	case to == replayflow.RunStatusRunning && run.StartedAt == nil:
		run.StartedAt = &now
	case to.IsTerminal():
		run.CompletedAt = &now
	}
	return nil
}
