package engine

import (
	"testing"
	"time"

	"github.com/sicko7947/replayflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidRunTransition(t *testing.T) {
	tests := []struct {
		from, to replayflow.RunStatus
		valid    bool
	}{
		{replayflow.RunStatusQueued, replayflow.RunStatusRunning, true},
		{replayflow.RunStatusQueued, replayflow.RunStatusFailed, true},
		{replayflow.RunStatusQueued, replayflow.RunStatusSucceeded, false},
		{replayflow.RunStatusQueued, replayflow.RunStatusWaitingForAuth, false},
		{replayflow.RunStatusRunning, replayflow.RunStatusWaitingForAuth, true},
		{replayflow.RunStatusRunning, replayflow.RunStatusNeedsUserDisambiguation, true},
		{replayflow.RunStatusRunning, replayflow.RunStatusSucceeded, true},
		{replayflow.RunStatusRunning, replayflow.RunStatusFailed, true},
		{replayflow.RunStatusRunning, replayflow.RunStatusQueued, false},
		{replayflow.RunStatusWaitingForAuth, replayflow.RunStatusRunning, true},
		{replayflow.RunStatusWaitingForAuth, replayflow.RunStatusFailed, true},
		{replayflow.RunStatusWaitingForAuth, replayflow.RunStatusSucceeded, false},
		{replayflow.RunStatusNeedsUserDisambiguation, replayflow.RunStatusRunning, true},
		{replayflow.RunStatusNeedsUserDisambiguation, replayflow.RunStatusFailed, true},
		{replayflow.RunStatusNeedsUserDisambiguation, replayflow.RunStatusWaitingForAuth, false},
		{replayflow.RunStatusSucceeded, replayflow.RunStatusRunning, false},
		{replayflow.RunStatusFailed, replayflow.RunStatusRunning, false},
		{replayflow.RunStatusFailed, replayflow.RunStatusFailed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.valid, isValidRunTransition(tt.from, tt.to))
		})
	}
}

func TestTransition_Timestamps(t *testing.T) {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	run := &replayflow.Run{RunID: "r1", Status: replayflow.RunStatusQueued, CreatedAt: created, UpdatedAt: created}

	started := created.Add(time.Second)
	require.NoError(t, transition(run, replayflow.RunStatusRunning, started))
	require.NotNil(t, run.StartedAt)
	assert.Equal(t, started, *run.StartedAt)
	assert.Equal(t, started, run.UpdatedAt)
	assert.Nil(t, run.CompletedAt)

	run.Disambiguation = &replayflow.DisambiguationPayload{StepIndex: 2}
	paused := started.Add(time.Second)
	require.NoError(t, transition(run, replayflow.RunStatusNeedsUserDisambiguation, paused))
	assert.NotNil(t, run.Disambiguation, "payload is kept while waiting for a choice")

	resumed := paused.Add(time.Second)
	require.NoError(t, transition(run, replayflow.RunStatusRunning, resumed))
	assert.Nil(t, run.Disambiguation)
	assert.Equal(t, started, *run.StartedAt, "resuming keeps the first start time")

	done := resumed.Add(time.Second)
	require.NoError(t, transition(run, replayflow.RunStatusSucceeded, done))
	require.NotNil(t, run.CompletedAt)
	assert.Equal(t, done, *run.CompletedAt)
}

func TestTransition_Invalid(t *testing.T) {
	now := time.Now()
	run := &replayflow.Run{RunID: "r1", Status: replayflow.RunStatusSucceeded, UpdatedAt: now}

	err := transition(run, replayflow.RunStatusRunning, now.Add(time.Minute))
	require.Error(t, err)
	assert.True(t, replayflow.IsEngineError(err, replayflow.ErrCodeInvalidState))
	assert.Contains(t, err.Error(), "succeeded -> running")

	assert.Equal(t, replayflow.RunStatusSucceeded, run.Status)
	assert.Equal(t, now, run.UpdatedAt)
}
