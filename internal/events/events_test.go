package events

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/captaindev404/prd-tools-sub001/pkg/models"
)

func TestHubSubscribeNotifyUnsubscribe(t *testing.T) {
	hub := NewHub(1)
	ch := hub.Subscribe()
	ev := models.Event{Kind: models.EventTaskCompleted, Task: models.Task{ID: "k", Title: "t"}}
	require.NoError(t, hub.Notify(context.Background(), ev))
	got := <-ch
	assert.Equal(t, models.EventTaskCompleted, got.Kind)

	// Buffer of one: the second of two events is dropped, not blocked on.
	require.NoError(t, hub.Notify(context.Background(), ev))
	require.NoError(t, hub.Notify(context.Background(), ev))
	<-ch

	hub.Unsubscribe(ch)
	_, ok := <-ch
	assert.False(t, ok, "channel closed after Unsubscribe")
	hub.Unsubscribe(ch)
}

func TestMultiJoinsErrors(t *testing.T) {
	var calls int
	ok := SinkFunc(func(context.Context, models.Event) error { calls++; return nil })
	bad := SinkFunc(func(context.Context, models.Event) error { calls++; return errors.New("hook exited 1") })
	err := Multi{ok, nil, bad, Nop{}}.Notify(context.Background(), models.Event{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hook exited 1")
	assert.Equal(t, 2, calls)
}

func TestDeliverLogsAndContinues(t *testing.T) {
	var got []models.EventKind
	sink := SinkFunc(func(_ context.Context, ev models.Event) error {
		got = append(got, ev.Kind)
		return errors.New("notifier rate limited")
	})
	Deliver(context.Background(), sink, []models.Event{
		{Kind: models.EventTaskCompleted},
		{Kind: models.EventProgressMilestone, Percent: 50},
	})
	assert.Equal(t, []models.EventKind{models.EventTaskCompleted, models.EventProgressMilestone}, got)
	Deliver(context.Background(), nil, []models.Event{{Kind: models.EventTaskError}})
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := LogSink{Logger: slog.New(slog.NewTextHandler(&buf, nil))}
	agent := &models.Agent{Name: "a1"}
	require.NoError(t, sink.Notify(context.Background(), models.Event{
		Kind: models.EventTaskError, Task: models.Task{ID: "k", DisplayID: 3}, Agent: agent, Reason: "tests failing",
	}))
	out := buf.String()
	assert.Contains(t, out, "kind=task_error")
	assert.Contains(t, out, "agent=a1")
	assert.Contains(t, out, `reason="tests failing"`)
}

func TestCrossedMilestones(t *testing.T) {
	ms := []int{75, 25, 50, 100, 0, 150}
	assert.Equal(t, []int{25}, CrossedMilestones(ms, 0, 25))
	assert.Empty(t, CrossedMilestones(ms, 25, 30))
	assert.Equal(t, []int{25, 50, 75, 100}, CrossedMilestones(ms, 0, 100))
	assert.Equal(t, []int{50}, CrossedMilestones(ms, 33.3, 66.6))
}
