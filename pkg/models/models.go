// Package models provides the shared types of the prd coordination store.
// These types are stable for use by embedders, event sinks and the CLI.
package models

import "time"

// Task is a unit of work that agents claim and complete.
type Task struct {
	ID               string     `json:"id"`
	DisplayID        int64      `json:"display_id"`
	Title            string     `json:"title"`
	Description      string     `json:"description,omitempty"`
	Status           TaskStatus `json:"status"`
	Priority         Priority   `json:"priority"`
	ParentID         *string    `json:"parent_id,omitempty"`
	AssignedAgent    *string    `json:"assigned_agent,omitempty"`
	BlockedReason    string     `json:"blocked_reason,omitempty"`
	EpicName         string     `json:"epic_name,omitempty"`
	EstimatedMinutes *int       `json:"estimated_minutes,omitempty"`
	ActualMinutes    *int       `json:"actual_minutes,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// Agent is a worker that polls the store for tasks.
type Agent struct {
	ID            string      `json:"id"`
	DisplayID     int64       `json:"display_id"`
	Name          string      `json:"name"`
	Status        AgentStatus `json:"status"`
	CurrentTaskID *string     `json:"current_task_id,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	LastActive    time.Time   `json:"last_active"`
}

// Stats is the aggregate task count by status.
type Stats struct {
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Blocked    int `json:"blocked"`
	Cancelled  int `json:"cancelled"`
	Total      int `json:"total"`
}

// PercentComplete returns completed/total as a percentage (0 for an empty store).
func (s Stats) PercentComplete() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Completed) * 100 / float64(s.Total)
}

// EventKind tags a lifecycle event.
type EventKind string

const (
	EventTaskCompleted     EventKind = "task_completed"
	EventTaskError         EventKind = "task_error"
	EventProgressMilestone EventKind = "progress_milestone"
)

// Event is what the store hands to a lifecycle sink after a commit.
type Event struct {
	Kind    EventKind `json:"kind"`
	Task    Task      `json:"task"`
	Agent   *Agent    `json:"agent,omitempty"`
	Reason  string    `json:"reason,omitempty"`
	Percent int       `json:"percent,omitempty"` // milestone crossed, for progress events
	At      time.Time `json:"at"`
}
