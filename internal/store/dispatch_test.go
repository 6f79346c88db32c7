package store

import (
	"context"
	"testing"

	"github.com/captaindev404/prd-tools-sub001/internal/herderr"
	"github.com/captaindev404/prd-tools-sub001/pkg/models"
)

func TestGetNextTaskOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, _ := openTestStore(t, Options{})
	low := mustTask(t, st, "low", models.PriorityLow)
	high1 := mustTask(t, st, "high first", models.PriorityHigh)
	med := mustTask(t, st, "medium", models.PriorityMedium)
	high2 := mustTask(t, st, "high second", models.PriorityHigh)
	crit := mustTask(t, st, "critical", models.PriorityCritical)

	want := []*models.Task{crit, high1, high2, med, low}
	for i, w := range want {
		name := "agent-" + string(rune('a'+i))
		mustAgent(t, st, name)
		got, err := st.GetNextTask(ctx, name, nil)
		if err != nil {
			t.Fatalf("GetNextTask #%d: %v", i, err)
		}
		if got == nil || got.ID != w.ID {
			t.Fatalf("GetNextTask #%d = %+v, want %q", i, got, w.Title)
		}
		if got.Status != models.TaskInProgress || got.AssignedAgent == nil {
			t.Fatalf("claimed task not in progress: %+v", got)
		}
	}
	mustAgent(t, st, "late")
	got, err := st.GetNextTask(ctx, "late", nil)
	if err != nil || got != nil {
		t.Fatalf("empty queue: got %+v, %v; want nil, nil", got, err)
	}
}

func TestGetNextTaskPriorityFilter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, _ := openTestStore(t, Options{})
	mustTask(t, st, "critical", models.PriorityCritical)
	low := mustTask(t, st, "low", models.PriorityLow)
	mustAgent(t, st, "a1")

	p := models.PriorityLow
	got, err := st.GetNextTask(ctx, "a1", &p)
	if err != nil || got == nil || got.ID != low.ID {
		t.Fatalf("GetNextTask(low) = %+v, %v", got, err)
	}
	if _, err := st.CompleteTask(ctx, low.ID, "a1"); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}
	got, err = st.GetNextTask(ctx, "a1", &p)
	if err != nil || got != nil {
		t.Fatalf("no low tasks left: got %+v, %v", got, err)
	}
	bad := models.Priority(9)
	if _, err := st.GetNextTask(ctx, "a1", &bad); !herderr.IsValidation(err) {
		t.Fatalf("invalid priority: want ValidationError, got %v", err)
	}
}

func TestGetNextTaskRejectsBusyOrOfflineAgent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, _ := openTestStore(t, Options{})
	mustTask(t, st, "t1", models.PriorityMedium)
	mustTask(t, st, "t2", models.PriorityMedium)
	mustAgent(t, st, "busy")
	mustAgent(t, st, "gone")

	if _, err := st.GetNextTask(ctx, "busy", nil); err != nil {
		t.Fatalf("GetNextTask: %v", err)
	}
	if _, err := st.GetNextTask(ctx, "busy", nil); !herderr.IsConflict(err) {
		t.Fatalf("working agent: want ConflictError, got %v", err)
	}
	if _, err := st.SetAgentStatus(ctx, "gone", models.AgentOffline); err != nil {
		t.Fatalf("SetAgentStatus: %v", err)
	}
	if _, err := st.GetNextTask(ctx, "gone", nil); !herderr.IsConflict(err) {
		t.Fatalf("offline agent: want ConflictError, got %v", err)
	}
	if _, err := st.GetNextTask(ctx, "nobody", nil); !herderr.IsNotFound(err) {
		t.Fatalf("unknown agent: want NotFoundError, got %v", err)
	}
	stats, _ := st.GetStats(ctx)
	if stats.Pending != 1 || stats.InProgress != 1 {
		t.Fatalf("rejected claims must not change tasks: %+v", stats)
	}
}

func TestGetNextTaskSkipsBlockedAndTerminal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, _ := openTestStore(t, Options{})
	blocked := mustTask(t, st, "blocked", models.PriorityCritical)
	cancelled := mustTask(t, st, "cancelled", models.PriorityCritical)
	open := mustTask(t, st, "open", models.PriorityLow)
	if _, err := st.UpdateTaskStatus(ctx, blocked.ID, models.TaskBlocked, "waiting on API key"); err != nil {
		t.Fatalf("block: %v", err)
	}
	if _, err := st.UpdateTaskStatus(ctx, cancelled.ID, models.TaskCancelled, ""); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	mustAgent(t, st, "a1")
	got, err := st.GetNextTask(ctx, "a1", nil)
	if err != nil || got == nil || got.ID != open.ID {
		t.Fatalf("GetNextTask = %+v, %v; want %q", got, err, open.Title)
	}
}
