package models

import (
	"fmt"
	"strings"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskBlocked    TaskStatus = "blocked"
	TaskCancelled  TaskStatus = "cancelled"
)

// Terminal reports whether no transition may leave s.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskCancelled
}

// ParseTaskStatus accepts the stored form plus a few human spellings
// ("in-progress", "done").
func ParseTaskStatus(s string) (TaskStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending", "todo":
		return TaskPending, nil
	case "in_progress", "in-progress", "inprogress":
		return TaskInProgress, nil
	case "completed", "done":
		return TaskCompleted, nil
	case "blocked":
		return TaskBlocked, nil
	case "cancelled", "canceled":
		return TaskCancelled, nil
	}
	return "", fmt.Errorf("unknown task status %q", s)
}

// AgentStatus is the lifecycle state of an agent.
type AgentStatus string

const (
	AgentIdle    AgentStatus = "idle"
	AgentWorking AgentStatus = "working"
	AgentBlocked AgentStatus = "blocked"
	AgentOffline AgentStatus = "offline"
)

func ParseAgentStatus(s string) (AgentStatus, error) {
	switch AgentStatus(strings.ToLower(strings.TrimSpace(s))) {
	case AgentIdle:
		return AgentIdle, nil
	case AgentWorking:
		return AgentWorking, nil
	case AgentBlocked:
		return AgentBlocked, nil
	case AgentOffline:
		return AgentOffline, nil
	}
	return "", fmt.Errorf("unknown agent status %q", s)
}

// Priority orders dispatch; higher values are dispatched first.
type Priority int

const (
	PriorityLow      Priority = 0
	PriorityMedium   Priority = 1
	PriorityHigh     Priority = 2
	PriorityCritical Priority = 3
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// Valid reports whether p is one of the four known priorities.
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow, nil
	case "medium", "normal", "":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	}
	return 0, fmt.Errorf("unknown priority %q (want low, medium, high, critical)", s)
}

// Defaults.
const (
	DefaultTaskListLimit = 1000
	DefaultPrefixMatches = 10 // rows fetched when resolving a key prefix
	KeyLength            = 36 // canonical UUID string length
	ShortKeyLength       = 8
)

// DefaultMilestones are the completion percentages that trigger progress events.
var DefaultMilestones = []int{25, 50, 75, 100}
