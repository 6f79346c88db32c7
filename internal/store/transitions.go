package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/captaindev404/prd-tools-sub001/internal/events"
	"github.com/captaindev404/prd-tools-sub001/internal/herderr"
	"github.com/captaindev404/prd-tools-sub001/internal/resolve"
	"github.com/captaindev404/prd-tools-sub001/pkg/models"
)

// taskTransitions lists the allowed status moves. Terminal states have no
// outgoing edges.
var taskTransitions = map[models.TaskStatus][]models.TaskStatus{
	models.TaskPending:    {models.TaskInProgress, models.TaskBlocked, models.TaskCancelled},
	models.TaskInProgress: {models.TaskPending, models.TaskCompleted, models.TaskBlocked, models.TaskCancelled},
	models.TaskBlocked:    {models.TaskPending, models.TaskInProgress, models.TaskCancelled},
}

// CanTransition reports whether a task may move from one status to another.
func CanTransition(from, to models.TaskStatus) bool {
	for _, s := range taskTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func checkTransition(task models.Task, to models.TaskStatus) error {
	if CanTransition(task.Status, to) {
		return nil
	}
	label := resolve.TaskLabel(task.DisplayID, task.ID)
	if task.Status.Terminal() {
		return herderr.Conflictf("task %s is %s and cannot change status", label, task.Status)
	}
	return herderr.Conflictf("task %s cannot move from %s to %s", label, task.Status, to)
}

// transition moves task to status to and applies the agent side effects.
// agentID is only used when entering in_progress; a blocked task resumes
// with its preserved assignee when agentID is empty.
func (t *txn) transition(ctx context.Context, task models.Task, to models.TaskStatus, agentID, reason string) (models.Task, error) {
	if err := checkTransition(task, to); err != nil {
		return models.Task{}, err
	}
	now := toMillis(t.now)

	switch to {
	case models.TaskInProgress:
		if agentID == "" && task.AssignedAgent != nil {
			agentID = *task.AssignedAgent
		}
		if agentID == "" {
			return models.Task{}, herderr.Validationf("task %s needs an agent to start; use next or sync", resolve.TaskLabel(task.DisplayID, task.ID))
		}
		agent, err := loadAgent(ctx, t.tx, agentID)
		if err != nil {
			return models.Task{}, err
		}
		if err := checkCanStart(agent, task.ID); err != nil {
			return models.Task{}, err
		}
		if _, err := t.assign(ctx, task, agent); err != nil {
			return models.Task{}, err
		}

	case models.TaskPending:
		if _, err := t.releaseHolder(ctx, task.ID, models.AgentIdle); err != nil {
			return models.Task{}, err
		}
		if err := t.releaseBlockedAssignee(ctx, task, ""); err != nil {
			return models.Task{}, err
		}
		if _, err := t.tx.ExecContext(ctx,
			`UPDATE tasks SET status='pending', assigned_agent=NULL, blocked_reason=NULL, updated_at=? WHERE id=?`,
			now, task.ID); err != nil {
			return models.Task{}, fmt.Errorf("requeue task: %w", err)
		}

	case models.TaskBlocked:
		if _, err := t.releaseHolder(ctx, task.ID, models.AgentBlocked); err != nil {
			return models.Task{}, err
		}
		if _, err := t.tx.ExecContext(ctx,
			`UPDATE tasks SET status='blocked', blocked_reason=?, updated_at=? WHERE id=?`,
			toNull(&reason), now, task.ID); err != nil {
			return models.Task{}, fmt.Errorf("block task: %w", err)
		}

	case models.TaskCompleted:
		before, err := countByStatus(ctx, t.tx)
		if err != nil {
			return models.Task{}, err
		}
		if _, err := t.releaseHolder(ctx, task.ID, models.AgentIdle); err != nil {
			return models.Task{}, err
		}
		if _, err := t.tx.ExecContext(ctx,
			`UPDATE tasks SET status='completed', blocked_reason=NULL, completed_at=COALESCE(completed_at, ?), updated_at=? WHERE id=?`,
			now, now, task.ID); err != nil {
			return models.Task{}, fmt.Errorf("complete task: %w", err)
		}
		after, err := countByStatus(ctx, t.tx)
		if err != nil {
			return models.Task{}, err
		}
		updated, err := loadTask(ctx, t.tx, task.ID)
		if err != nil {
			return models.Task{}, err
		}
		agent, err := assignedAgent(ctx, t.tx, updated)
		if err != nil {
			return models.Task{}, err
		}
		t.emit(models.Event{Kind: models.EventTaskCompleted, Task: updated, Agent: agent})
		for _, m := range events.CrossedMilestones(t.milestones, before.PercentComplete(), after.PercentComplete()) {
			t.emit(models.Event{Kind: models.EventProgressMilestone, Task: updated, Agent: agent, Percent: m})
		}
		return updated, nil

	case models.TaskCancelled:
		if _, err := t.releaseHolder(ctx, task.ID, models.AgentIdle); err != nil {
			return models.Task{}, err
		}
		if err := t.releaseBlockedAssignee(ctx, task, ""); err != nil {
			return models.Task{}, err
		}
		if _, err := t.tx.ExecContext(ctx,
			`UPDATE tasks SET status='cancelled', blocked_reason=NULL, updated_at=? WHERE id=?`,
			now, task.ID); err != nil {
			return models.Task{}, fmt.Errorf("cancel task: %w", err)
		}
	}

	updated, err := loadTask(ctx, t.tx, task.ID)
	if err != nil {
		return models.Task{}, err
	}
	if to == models.TaskBlocked && reason != "" {
		agent, err := assignedAgent(ctx, t.tx, updated)
		if err != nil {
			return models.Task{}, err
		}
		t.emit(models.Event{Kind: models.EventTaskError, Task: updated, Agent: agent, Reason: reason})
	}
	return updated, nil
}

// checkCanStart rejects agents that cannot take a new task.
func checkCanStart(agent models.Agent, taskID string) error {
	label := resolve.AgentLabel(agent.DisplayID, agent.ID)
	if agent.Status == models.AgentOffline {
		return herderr.Conflictf("agent %s is offline", label)
	}
	if agent.CurrentTaskID != nil && *agent.CurrentTaskID != taskID {
		return herderr.Conflictf("agent %s is already working on task %s", label, resolve.Short(*agent.CurrentTaskID))
	}
	return nil
}

// assign puts task in progress under agent. Any other agent holding the
// task is idled first and returned as the previous holder.
func (t *txn) assign(ctx context.Context, task models.Task, agent models.Agent) (*models.Agent, error) {
	now := toMillis(t.now)
	prev, err := t.releaseHolder(ctx, task.ID, models.AgentIdle, agent.ID)
	if err != nil {
		return nil, err
	}
	if task.AssignedAgent != nil && *task.AssignedAgent != agent.ID {
		if err := t.releaseBlockedAssignee(ctx, task, agent.ID); err != nil {
			return nil, err
		}
		if prev == nil {
			a, err := loadAgent(ctx, t.tx, *task.AssignedAgent)
			if err != nil {
				return nil, err
			}
			prev = &a
		}
	}
	if _, err := t.tx.ExecContext(ctx,
		`UPDATE tasks SET status='in_progress', assigned_agent=?, blocked_reason=NULL, updated_at=? WHERE id=?`,
		agent.ID, now, task.ID); err != nil {
		return nil, fmt.Errorf("assign task: %w", err)
	}
	if err := t.setAgent(ctx, agent.ID, models.AgentWorking, &task.ID); err != nil {
		return nil, err
	}
	return prev, nil
}

// releaseHolder moves the agent whose current task is taskID (if any,
// and if not one of except) to status, clearing its current task.
func (t *txn) releaseHolder(ctx context.Context, taskID string, status models.AgentStatus, except ...string) (*models.Agent, error) {
	var row agentRow
	err := sqlx.GetContext(ctx, t.tx, &row, `SELECT `+agentColumns+` FROM agents WHERE current_task_id = ?`, taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load task holder: %w", err)
	}
	for _, id := range except {
		if row.ID == id {
			return nil, nil
		}
	}
	if err := t.setAgent(ctx, row.ID, status, nil); err != nil {
		return nil, err
	}
	a := row.model()
	a.Status = status
	a.CurrentTaskID = nil
	a.LastActive = t.now.UTC()
	return &a, nil
}

// releaseBlockedAssignee idles the preserved assignee of a blocked task
// when the task is handed elsewhere, requeued or cancelled.
func (t *txn) releaseBlockedAssignee(ctx context.Context, task models.Task, except string) error {
	if task.Status != models.TaskBlocked || task.AssignedAgent == nil || *task.AssignedAgent == except {
		return nil
	}
	_, err := t.tx.ExecContext(ctx,
		`UPDATE agents SET status='idle', last_active=? WHERE id=? AND status='blocked' AND current_task_id IS NULL`,
		toMillis(t.now), *task.AssignedAgent)
	if err != nil {
		return fmt.Errorf("release blocked agent: %w", err)
	}
	return nil
}

func (t *txn) setAgent(ctx context.Context, agentID string, status models.AgentStatus, taskID *string) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE agents SET status=?, current_task_id=?, last_active=? WHERE id=?`,
		string(status), toNull(taskID), toMillis(t.now), agentID)
	if err != nil {
		if isConstraint(err) && taskID != nil {
			return herderr.Conflictf("task %s is already held by another agent", resolve.Short(*taskID))
		}
		return fmt.Errorf("update agent: %w", err)
	}
	return nil
}
