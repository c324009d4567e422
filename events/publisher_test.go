package events

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"
	"github.com/sicko7947/replayflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRun() *replayflow.Run {
	return &replayflow.Run{
		RunID:       "run-1",
		WorkflowID:  "wf-1",
		Status:      replayflow.RunStatusRunning,
		CurrentStep: 2,
		UpdatedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestStatusEvent(t *testing.T) {
	run := testRun()
	run.Status = replayflow.RunStatusFailed
	run.ErrorMessage = "boom"

	ev := StatusEvent(run)
	assert.Equal(t, TypeStatus, ev.Type)
	assert.Equal(t, "run-1", ev.RunID)
	assert.Equal(t, replayflow.RunStatusFailed, ev.Status)
	assert.Equal(t, 2, ev.Step)
	assert.Equal(t, "boom", ev.ErrorMessage)
	assert.Equal(t, run.UpdatedAt, ev.Timestamp)
}

func TestPublisher_RoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pubSub := NewGoChannel(NewLoggerAdapter(zerolog.Nop()))
	defer pubSub.Close()

	received, err := Subscribe(ctx, pubSub, "runs", zerolog.Nop())
	require.NoError(t, err)

	run := testRun()
	entry := &replayflow.LogEntry{RunID: run.RunID, Seq: 1, Level: replayflow.LogLevelInfo, Message: "Step 1 completed", StepIndex: replayflow.ToPtr(0)}
	publisher := NewPublisher(pubSub, "runs")
	require.NoError(t, publisher.Publish(ctx, StatusEvent(run)))
	require.NoError(t, publisher.Publish(ctx, LogEvent(run, entry)))

	first := <-received
	assert.Equal(t, TypeStatus, first.Type)
	assert.Equal(t, replayflow.RunStatusRunning, first.Status)

	second := <-received
	assert.Equal(t, TypeLog, second.Type)
	require.NotNil(t, second.Log)
	assert.Equal(t, "Step 1 completed", second.Log.Message)
	require.NotNil(t, second.Log.StepIndex)
	assert.Equal(t, 0, *second.Log.StepIndex)
}

func TestSubscribe_SkipsGarbage(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pubSub := NewGoChannel(NewLoggerAdapter(zerolog.Nop()))
	defer pubSub.Close()

	received, err := Subscribe(ctx, pubSub, "runs", zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, pubSub.Publish("runs", message.NewMessage("bad", []byte("not json"))))
	require.NoError(t, NewPublisher(pubSub, "runs").Publish(ctx, StatusEvent(testRun())))

	ev := <-received
	assert.Equal(t, "run-1", ev.RunID)
}

func TestNop(t *testing.T) {
	var sink Sink = Nop{}
	assert.NoError(t, sink.Publish(context.Background(), RunEvent{}))
}

func TestNewKafkaPublisher_RequiresBrokers(t *testing.T) {
	_, err := NewKafkaPublisher(nil, NewLoggerAdapter(zerolog.Nop()))
	assert.Error(t, err)

	_, err = NewKafkaSubscriber([]string{""}, "cg", NewLoggerAdapter(zerolog.Nop()))
	assert.Error(t, err)
}
