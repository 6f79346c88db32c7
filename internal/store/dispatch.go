package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/captaindev404/prd-tools-sub001/internal/herderr"
	"github.com/captaindev404/prd-tools-sub001/internal/otel"
	"github.com/captaindev404/prd-tools-sub001/internal/resolve"
	"github.com/captaindev404/prd-tools-sub001/pkg/models"
)

// GetNextTask claims the best pending task for an agent: highest priority,
// then oldest, then lowest display id. When priority is non-nil only that
// priority is considered. It returns nil, nil when nothing is pending.
//
// Selection and claim run in one immediate transaction and the claim
// UPDATE is guarded on status, so concurrent callers never get the same
// task.
func (s *Store) GetNextTask(ctx context.Context, agentRef string, priority *models.Priority) (*models.Task, error) {
	if priority != nil && !priority.Valid() {
		return nil, herderr.Validationf("invalid priority %d", int(*priority))
	}
	var out *models.Task
	err := s.withTx(ctx, "get_next_task", func(t *txn) error {
		out = nil
		agentID, err := t.res.AgentID(ctx, agentRef)
		if err != nil {
			return err
		}
		agent, err := loadAgent(ctx, t.tx, agentID)
		if err != nil {
			return err
		}
		label := resolve.AgentLabel(agent.DisplayID, agent.ID)
		if agent.Status == models.AgentOffline {
			return herderr.Conflictf("agent %s is offline", label)
		}
		if agent.Status == models.AgentWorking && agent.CurrentTaskID != nil {
			return herderr.Conflictf("agent %s is already working on task %s; complete it first", label, resolve.Short(*agent.CurrentTaskID))
		}

		q := `SELECT ` + taskColumns + ` FROM tasks WHERE status = 'pending'`
		var args []any
		if priority != nil {
			q += ` AND priority = ?`
			args = append(args, int(*priority))
		}
		q += ` ORDER BY priority DESC, created_at ASC, display_id ASC LIMIT 1`
		var row taskRow
		err = sqlx.GetContext(ctx, t.tx, &row, q, args...)
		if errors.Is(err, sql.ErrNoRows) {
			_, err = t.tx.ExecContext(ctx, `UPDATE agents SET last_active=? WHERE id=?`, toMillis(t.now), agentID)
			return err
		}
		if err != nil {
			return fmt.Errorf("select next task: %w", err)
		}

		res, err := t.tx.ExecContext(ctx,
			`UPDATE tasks SET status='in_progress', assigned_agent=?, blocked_reason=NULL, updated_at=? WHERE id=? AND status='pending'`,
			agentID, toMillis(t.now), row.ID)
		if err != nil {
			return fmt.Errorf("claim task: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n != 1 {
			return herderr.Conflictf("task %s was claimed concurrently", resolve.TaskLabel(row.DisplayID, row.ID))
		}
		if err := t.setAgent(ctx, agentID, models.AgentWorking, &row.ID); err != nil {
			return err
		}
		task, err := loadTask(ctx, t.tx, row.ID)
		if err != nil {
			return err
		}
		out = &task
		return nil
	})
	switch {
	case err != nil && (herderr.IsConflict(err) || herderr.IsNotFound(err)):
		otel.RecordDispatch(ctx, "rejected")
	case err != nil:
	case out == nil:
		otel.RecordDispatch(ctx, "empty")
	default:
		otel.RecordDispatch(ctx, "claimed")
		otel.RecordTaskOp(ctx, "claim", out.Status)
	}
	return out, err
}
