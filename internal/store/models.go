package store

import (
	"database/sql"

	"github.com/captaindev404/prd-tools-sub001/pkg/models"
)

const taskColumns = `id, display_id, title, description, status, priority, parent_id, assigned_agent,
	blocked_reason, epic_name, estimated_minutes, actual_minutes, created_at, updated_at, completed_at`

const agentColumns = `id, display_id, name, status, current_task_id, created_at, last_active`

// taskRow mirrors the tasks table; times are unix milliseconds.
type taskRow struct {
	ID               string         `db:"id"`
	DisplayID        int64          `db:"display_id"`
	Title            string         `db:"title"`
	Description      sql.NullString `db:"description"`
	Status           string         `db:"status"`
	Priority         int            `db:"priority"`
	ParentID         sql.NullString `db:"parent_id"`
	AssignedAgent    sql.NullString `db:"assigned_agent"`
	BlockedReason    sql.NullString `db:"blocked_reason"`
	EpicName         sql.NullString `db:"epic_name"`
	EstimatedMinutes sql.NullInt64  `db:"estimated_minutes"`
	ActualMinutes    sql.NullInt64  `db:"actual_minutes"`
	CreatedAt        int64          `db:"created_at"`
	UpdatedAt        int64          `db:"updated_at"`
	CompletedAt      sql.NullInt64  `db:"completed_at"`
}

func (r taskRow) model() models.Task {
	t := models.Task{
		ID:               r.ID,
		DisplayID:        r.DisplayID,
		Title:            r.Title,
		Description:      r.Description.String,
		Status:           models.TaskStatus(r.Status),
		Priority:         models.Priority(r.Priority),
		ParentID:         nullString(r.ParentID),
		AssignedAgent:    nullString(r.AssignedAgent),
		BlockedReason:    r.BlockedReason.String,
		EpicName:         r.EpicName.String,
		EstimatedMinutes: nullInt(r.EstimatedMinutes),
		ActualMinutes:    nullInt(r.ActualMinutes),
		CreatedAt:        fromMillis(r.CreatedAt),
		UpdatedAt:        fromMillis(r.UpdatedAt),
	}
	if r.CompletedAt.Valid {
		ct := fromMillis(r.CompletedAt.Int64)
		t.CompletedAt = &ct
	}
	return t
}

type agentRow struct {
	ID            string         `db:"id"`
	DisplayID     int64          `db:"display_id"`
	Name          string         `db:"name"`
	Status        string         `db:"status"`
	CurrentTaskID sql.NullString `db:"current_task_id"`
	CreatedAt     int64          `db:"created_at"`
	LastActive    int64          `db:"last_active"`
}

func (r agentRow) model() models.Agent {
	return models.Agent{
		ID:            r.ID,
		DisplayID:     r.DisplayID,
		Name:          r.Name,
		Status:        models.AgentStatus(r.Status),
		CurrentTaskID: nullString(r.CurrentTaskID),
		CreatedAt:     fromMillis(r.CreatedAt),
		LastActive:    fromMillis(r.LastActive),
	}
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullInt(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

// toNull maps nil or "" to SQL NULL.
func toNull(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}

func intToNull(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}
