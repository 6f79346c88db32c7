package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/captaindev404/prd-tools-sub001/internal/herderr"
	"github.com/captaindev404/prd-tools-sub001/internal/otel"
	"github.com/captaindev404/prd-tools-sub001/internal/resolve"
	"github.com/captaindev404/prd-tools-sub001/pkg/models"
)

// NewTask is the input to CreateTask.
type NewTask struct {
	Title       string
	Description string
	Priority    models.Priority
	// ParentRef is any task identifier form accepted by the resolver.
	ParentRef        string
	Epic             string
	EstimatedMinutes *int
}

// TaskFilter narrows ListTasks. Zero fields do not filter.
type TaskFilter struct {
	Status    *models.TaskStatus
	Priority  *models.Priority
	Epic      string
	ParentRef string
	Limit     int
}

// CreateTask inserts a pending task and returns it with its display id.
func (s *Store) CreateTask(ctx context.Context, in NewTask) (*models.Task, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, herderr.Validationf("task title required")
	}
	if !in.Priority.Valid() {
		return nil, herderr.Validationf("invalid priority %d", int(in.Priority))
	}
	if in.EstimatedMinutes != nil && *in.EstimatedMinutes < 0 {
		return nil, herderr.Validationf("estimated minutes must not be negative")
	}
	var out models.Task
	err := s.withTx(ctx, "create_task", func(t *txn) error {
		var parent *string
		if strings.TrimSpace(in.ParentRef) != "" {
			pid, err := t.res.TaskID(ctx, in.ParentRef)
			if err != nil {
				return parentError(in.ParentRef, err)
			}
			parent = &pid
		}
		n, err := nextDisplayID(ctx, t.tx, "task")
		if err != nil {
			return err
		}
		id := uuid.NewString()
		now := toMillis(t.now)
		epic := strings.TrimSpace(in.Epic)
		desc := in.Description
		_, err = t.tx.ExecContext(ctx, `
INSERT INTO tasks(id, display_id, title, description, status, priority, parent_id, epic_name, estimated_minutes, created_at, updated_at)
VALUES(?, ?, ?, ?, 'pending', ?, ?, ?, ?, ?, ?)`,
			id, n, title, toNull(&desc), int(in.Priority), toNull(parent), toNull(&epic), intToNull(in.EstimatedMinutes), now, now)
		if err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		out, err = loadTask(ctx, t.tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	otel.RecordTaskOp(ctx, "create", out.Status)
	return &out, nil
}

func parentError(ref string, err error) error {
	if herderr.IsNotFound(err) || herderr.IsAmbiguous(err) {
		return herderr.Validationf("parent task %q: %v", ref, err)
	}
	return err
}

// GetTask resolves ref and returns the task.
func (s *Store) GetTask(ctx context.Context, ref string) (*models.Task, error) {
	id, err := s.ResolveTaskID(ctx, ref)
	if err != nil {
		return nil, err
	}
	t, err := loadTask(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTasks returns tasks ordered by display id.
func (s *Store) ListTasks(ctx context.Context, f TaskFilter) ([]models.Task, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*f.Status))
	}
	if f.Priority != nil {
		where = append(where, "priority = ?")
		args = append(args, int(*f.Priority))
	}
	if e := strings.TrimSpace(f.Epic); e != "" {
		where = append(where, "epic_name = ?")
		args = append(args, e)
	}
	if strings.TrimSpace(f.ParentRef) != "" {
		pid, err := s.ResolveTaskID(ctx, f.ParentRef)
		if err != nil {
			return nil, err
		}
		where = append(where, "parent_id = ?")
		args = append(args, pid)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = models.DefaultTaskListLimit
	}
	q := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY display_id ASC LIMIT ?`
	args = append(args, limit)
	return selectTasks(ctx, s.db, q, args...)
}

// GetSubtasks returns the direct children of parentRef in creation order.
func (s *Store) GetSubtasks(ctx context.Context, parentRef string) ([]models.Task, error) {
	pid, err := s.ResolveTaskID(ctx, parentRef)
	if err != nil {
		return nil, err
	}
	return selectTasks(ctx, s.db,
		`SELECT `+taskColumns+` FROM tasks WHERE parent_id = ? ORDER BY created_at ASC, display_id ASC`, pid)
}

// CompleteTask marks a task completed by the agent working on it and
// idles the agent.
func (s *Store) CompleteTask(ctx context.Context, taskRef, agentRef string) (*models.Task, error) {
	var out models.Task
	err := s.withTx(ctx, "complete_task", func(t *txn) error {
		taskID, err := t.res.TaskID(ctx, taskRef)
		if err != nil {
			return err
		}
		agentID, err := t.res.AgentID(ctx, agentRef)
		if err != nil {
			return err
		}
		task, err := loadTask(ctx, t.tx, taskID)
		if err != nil {
			return err
		}
		if task.Status != models.TaskInProgress {
			return herderr.Conflictf("task %s is %s, not in_progress", resolve.TaskLabel(task.DisplayID, task.ID), task.Status)
		}
		if task.AssignedAgent == nil || *task.AssignedAgent != agentID {
			return herderr.Conflictf("task %s is not assigned to agent %s", resolve.TaskLabel(task.DisplayID, task.ID), agentRef)
		}
		out, err = t.transition(ctx, task, models.TaskCompleted, agentID, "")
		return err
	})
	if err != nil {
		return nil, err
	}
	otel.RecordTaskOp(ctx, "complete", out.Status)
	return &out, nil
}

// UpdateTaskStatus is the administrative status override. reason is
// recorded when entering blocked.
func (s *Store) UpdateTaskStatus(ctx context.Context, taskRef string, status models.TaskStatus, reason string) (*models.Task, error) {
	to, err := models.ParseTaskStatus(string(status))
	if err != nil {
		return nil, herderr.Validationf("%v", err)
	}
	var out models.Task
	err = s.withTx(ctx, "update_task_status", func(t *txn) error {
		taskID, err := t.res.TaskID(ctx, taskRef)
		if err != nil {
			return err
		}
		task, err := loadTask(ctx, t.tx, taskID)
		if err != nil {
			return err
		}
		out, err = t.transition(ctx, task, to, "", strings.TrimSpace(reason))
		return err
	})
	if err != nil {
		return nil, err
	}
	otel.RecordTaskOp(ctx, "status", out.Status)
	return &out, nil
}

// UpdateTaskDuration sets whichever of the estimated and actual minutes
// are non-nil.
func (s *Store) UpdateTaskDuration(ctx context.Context, taskRef string, estimated, actual *int) (*models.Task, error) {
	if estimated == nil && actual == nil {
		return nil, herderr.Validationf("estimated or actual minutes required")
	}
	if (estimated != nil && *estimated < 0) || (actual != nil && *actual < 0) {
		return nil, herderr.Validationf("minutes must not be negative")
	}
	var out models.Task
	err := s.withTx(ctx, "update_task_duration", func(t *txn) error {
		taskID, err := t.res.TaskID(ctx, taskRef)
		if err != nil {
			return err
		}
		_, err = t.tx.ExecContext(ctx, `
UPDATE tasks SET
  estimated_minutes = COALESCE(?, estimated_minutes),
  actual_minutes = COALESCE(?, actual_minutes),
  updated_at = ?
WHERE id = ?`, intToNull(estimated), intToNull(actual), toMillis(t.now), taskID)
		if err != nil {
			return fmt.Errorf("update task duration: %w", err)
		}
		out, err = loadTask(ctx, t.tx, taskID)
		return err
	})
	if err != nil {
		return nil, err
	}
	otel.RecordTaskOp(ctx, "duration", out.Status)
	return &out, nil
}

// MoveTask re-parents a task; an empty parentRef detaches it. Moves that
// would make a task its own ancestor are rejected.
func (s *Store) MoveTask(ctx context.Context, taskRef, parentRef string) (*models.Task, error) {
	var out models.Task
	err := s.withTx(ctx, "move_task", func(t *txn) error {
		taskID, err := t.res.TaskID(ctx, taskRef)
		if err != nil {
			return err
		}
		var parent *string
		if strings.TrimSpace(parentRef) != "" {
			pid, err := t.res.TaskID(ctx, parentRef)
			if err != nil {
				return parentError(parentRef, err)
			}
			if err := checkNoCycle(ctx, t, taskID, pid); err != nil {
				return err
			}
			parent = &pid
		}
		if _, err := t.tx.ExecContext(ctx, `UPDATE tasks SET parent_id=?, updated_at=? WHERE id=?`,
			toNull(parent), toMillis(t.now), taskID); err != nil {
			return fmt.Errorf("move task: %w", err)
		}
		out, err = loadTask(ctx, t.tx, taskID)
		return err
	})
	if err != nil {
		return nil, err
	}
	otel.RecordTaskOp(ctx, "move", out.Status)
	return &out, nil
}

// checkNoCycle walks up from parentID and fails if taskID is reached.
func checkNoCycle(ctx context.Context, t *txn, taskID, parentID string) error {
	seen := map[string]bool{}
	for cur := parentID; cur != ""; {
		if cur == taskID {
			return herderr.Validationf("cannot move task under itself or one of its subtasks")
		}
		if seen[cur] {
			return nil
		}
		seen[cur] = true
		p, err := loadTask(ctx, t.tx, cur)
		if err != nil {
			return err
		}
		if p.ParentID == nil {
			return nil
		}
		cur = *p.ParentID
	}
	return nil
}

// GetStats counts tasks per status.
func (s *Store) GetStats(ctx context.Context) (models.Stats, error) {
	return countByStatus(ctx, s.db)
}

func (s *Store) ResolveTaskID(ctx context.Context, input string) (string, error) {
	return resolve.New(s.db).TaskID(ctx, input)
}

func (s *Store) ResolveAgentID(ctx context.Context, input string) (string, error) {
	return resolve.New(s.db).AgentID(ctx, input)
}

func (s *Store) FormatTaskID(ctx context.Context, key string) (string, error) {
	return resolve.New(s.db).FormatTaskID(ctx, key)
}

func (s *Store) FormatAgentID(ctx context.Context, key string) (string, error) {
	return resolve.New(s.db).FormatAgentID(ctx, key)
}
