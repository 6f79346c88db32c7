package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/captaindev404/prd-tools-sub001/internal/herderr"
	"github.com/captaindev404/prd-tools-sub001/internal/otel"
	"github.com/captaindev404/prd-tools-sub001/internal/resolve"
	"github.com/captaindev404/prd-tools-sub001/pkg/models"
)

// SyncResult is what SyncAgent did. PreviousAgent is set when the task was
// taken over from another agent.
type SyncResult struct {
	Task          models.Task
	Agent         models.Agent
	PreviousAgent *models.Agent
}

// CreateAgent registers an idle agent under a unique name.
func (s *Store) CreateAgent(ctx context.Context, name string) (*models.Agent, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, herderr.Validationf("agent name required")
	}
	var out models.Agent
	err := s.withTx(ctx, "create_agent", func(t *txn) error {
		var n int
		if err := t.tx.GetContext(ctx, &n, `SELECT COUNT(*) FROM agents WHERE name = ?`, name); err != nil {
			return fmt.Errorf("check agent name: %w", err)
		}
		if n > 0 {
			return herderr.Conflictf("agent %q already exists", name)
		}
		did, err := nextDisplayID(ctx, t.tx, "agent")
		if err != nil {
			return err
		}
		id := uuid.NewString()
		now := toMillis(t.now)
		if _, err := t.tx.ExecContext(ctx,
			`INSERT INTO agents(id, display_id, name, status, created_at, last_active) VALUES(?, ?, ?, 'idle', ?, ?)`,
			id, did, name, now, now); err != nil {
			if isConstraint(err) {
				return herderr.Conflictf("agent %q already exists", name)
			}
			return fmt.Errorf("insert agent: %w", err)
		}
		out, err = loadAgent(ctx, t.tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) GetAgent(ctx context.Context, ref string) (*models.Agent, error) {
	id, err := s.ResolveAgentID(ctx, ref)
	if err != nil {
		return nil, err
	}
	a, err := loadAgent(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAgents returns all agents by display id.
func (s *Store) ListAgents(ctx context.Context) ([]models.Agent, error) {
	var rows []agentRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+agentColumns+` FROM agents ORDER BY display_id ASC`); err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	out := make([]models.Agent, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

// SetAgentIdle forces an agent to idle from any state and clears its
// current task. The task itself is left as it is.
func (s *Store) SetAgentIdle(ctx context.Context, agentRef string) (*models.Agent, error) {
	return s.SetAgentStatus(ctx, agentRef, models.AgentIdle)
}

// SetAgentStatus moves an agent to idle, blocked or offline. Working is
// only entered by claiming a task.
func (s *Store) SetAgentStatus(ctx context.Context, agentRef string, status models.AgentStatus) (*models.Agent, error) {
	switch status {
	case models.AgentIdle, models.AgentBlocked, models.AgentOffline:
	case models.AgentWorking:
		return nil, herderr.Validationf("agents start working by claiming a task (next or sync)")
	default:
		return nil, herderr.Validationf("unknown agent status %q", status)
	}
	var out models.Agent
	err := s.withTx(ctx, "set_agent_status", func(t *txn) error {
		id, err := t.res.AgentID(ctx, agentRef)
		if err != nil {
			return err
		}
		if err := t.setAgent(ctx, id, status, nil); err != nil {
			return err
		}
		out, err = loadAgent(ctx, t.tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SyncAgent records that agent is working on task, whatever the store
// thought before. Offline agents are rejected. The last writer wins: a previous holder is idled and
// reported in the result. The agent's own earlier task is not touched.
func (s *Store) SyncAgent(ctx context.Context, agentRef, taskRef string) (*SyncResult, error) {
	var out SyncResult
	err := s.withTx(ctx, "sync_agent", func(t *txn) error {
		agentID, err := t.res.AgentID(ctx, agentRef)
		if err != nil {
			return err
		}
		taskID, err := t.res.TaskID(ctx, taskRef)
		if err != nil {
			return err
		}
		task, err := loadTask(ctx, t.tx, taskID)
		if err != nil {
			return err
		}
		if task.Status.Terminal() {
			return herderr.Conflictf("task %s is %s and cannot be claimed", resolve.TaskLabel(task.DisplayID, task.ID), task.Status)
		}
		agent, err := loadAgent(ctx, t.tx, agentID)
		if err != nil {
			return err
		}
		if agent.Status == models.AgentOffline {
			return herderr.Conflictf("agent %s is offline; set it idle before syncing", resolve.AgentLabel(agent.DisplayID, agent.ID))
		}
		prev, err := t.assign(ctx, task, agent)
		if err != nil {
			return err
		}
		if out.Task, err = loadTask(ctx, t.tx, taskID); err != nil {
			return err
		}
		if out.Agent, err = loadAgent(ctx, t.tx, agentID); err != nil {
			return err
		}
		out.PreviousAgent = prev
		return nil
	})
	if err != nil {
		return nil, err
	}
	otel.RecordTaskOp(ctx, "sync", out.Task.Status)
	if out.PreviousAgent != nil {
		slog.Warn("task reassigned", "task", resolve.TaskLabel(out.Task.DisplayID, out.Task.ID),
			"from", out.PreviousAgent.Name, "to", out.Agent.Name)
	}
	return &out, nil
}
