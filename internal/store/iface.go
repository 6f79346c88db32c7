package store

import (
	"context"

	"github.com/captaindev404/prd-tools-sub001/pkg/models"
)

// Coordinator is the task/agent surface of the store, as used by the CLI
// and by embedders. Identifier arguments accept any form the resolver
// understands ("#12", "A3", agent names, key prefixes).
type Coordinator interface {
	// Tasks
	CreateTask(ctx context.Context, in NewTask) (*models.Task, error)
	GetTask(ctx context.Context, ref string) (*models.Task, error)
	ListTasks(ctx context.Context, f TaskFilter) ([]models.Task, error)
	GetSubtasks(ctx context.Context, parentRef string) ([]models.Task, error)
	CompleteTask(ctx context.Context, taskRef, agentRef string) (*models.Task, error)
	UpdateTaskStatus(ctx context.Context, taskRef string, status models.TaskStatus, reason string) (*models.Task, error)
	UpdateTaskDuration(ctx context.Context, taskRef string, estimated, actual *int) (*models.Task, error)
	MoveTask(ctx context.Context, taskRef, parentRef string) (*models.Task, error)
	GetStats(ctx context.Context) (models.Stats, error)

	// Agents and dispatch
	CreateAgent(ctx context.Context, name string) (*models.Agent, error)
	GetAgent(ctx context.Context, ref string) (*models.Agent, error)
	ListAgents(ctx context.Context) ([]models.Agent, error)
	GetNextTask(ctx context.Context, agentRef string, priority *models.Priority) (*models.Task, error)
	SyncAgent(ctx context.Context, agentRef, taskRef string) (*SyncResult, error)
	SetAgentIdle(ctx context.Context, agentRef string) (*models.Agent, error)
	SetAgentStatus(ctx context.Context, agentRef string, status models.AgentStatus) (*models.Agent, error)

	// Identifiers
	ResolveTaskID(ctx context.Context, input string) (string, error)
	ResolveAgentID(ctx context.Context, input string) (string, error)
	FormatTaskID(ctx context.Context, key string) (string, error)
	FormatAgentID(ctx context.Context, key string) (string, error)

	Close() error
}

var _ Coordinator = (*Store)(nil)
