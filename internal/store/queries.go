package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/captaindev404/prd-tools-sub001/internal/herderr"
	"github.com/captaindev404/prd-tools-sub001/pkg/models"
)

func loadTask(ctx context.Context, q sqlx.QueryerContext, id string) (models.Task, error) {
	var row taskRow
	err := sqlx.GetContext(ctx, q, &row, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Task{}, &herderr.NotFoundError{Kind: "task", Input: id}
	}
	if err != nil {
		return models.Task{}, fmt.Errorf("load task: %w", err)
	}
	return row.model(), nil
}

func loadAgent(ctx context.Context, q sqlx.QueryerContext, id string) (models.Agent, error) {
	var row agentRow
	err := sqlx.GetContext(ctx, q, &row, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Agent{}, &herderr.NotFoundError{Kind: "agent", Input: id}
	}
	if err != nil {
		return models.Agent{}, fmt.Errorf("load agent: %w", err)
	}
	return row.model(), nil
}

func assignedAgent(ctx context.Context, q sqlx.QueryerContext, task models.Task) (*models.Agent, error) {
	if task.AssignedAgent == nil {
		return nil, nil
	}
	a, err := loadAgent(ctx, q, *task.AssignedAgent)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func selectTasks(ctx context.Context, q sqlx.QueryerContext, query string, args ...any) ([]models.Task, error) {
	var rows []taskRow
	if err := sqlx.SelectContext(ctx, q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	out := make([]models.Task, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

// nextDisplayID takes the next value of an entity counter. It must run in
// the transaction that inserts the row so that values are never reused.
func nextDisplayID(ctx context.Context, tx *sqlx.Tx, entity string) (int64, error) {
	var n int64
	err := tx.GetContext(ctx, &n, `UPDATE counters SET value = value + 1 WHERE entity = ? RETURNING value`, entity)
	if err != nil {
		return 0, fmt.Errorf("next %s display id: %w", entity, err)
	}
	return n, nil
}

func countByStatus(ctx context.Context, q sqlx.QueryerContext) (models.Stats, error) {
	var rows []struct {
		Status string `db:"status"`
		N      int    `db:"n"`
	}
	if err := sqlx.SelectContext(ctx, q, &rows, `SELECT status, COUNT(*) AS n FROM tasks GROUP BY status`); err != nil {
		return models.Stats{}, fmt.Errorf("count tasks: %w", err)
	}
	var s models.Stats
	for _, r := range rows {
		switch models.TaskStatus(r.Status) {
		case models.TaskPending:
			s.Pending = r.N
		case models.TaskInProgress:
			s.InProgress = r.N
		case models.TaskCompleted:
			s.Completed = r.N
		case models.TaskBlocked:
			s.Blocked = r.N
		case models.TaskCancelled:
			s.Cancelled = r.N
		}
		s.Total += r.N
	}
	return s, nil
}
