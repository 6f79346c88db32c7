package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/captaindev404/prd-tools-sub001/internal/herderr"
	"github.com/captaindev404/prd-tools-sub001/internal/resolve"
	"github.com/captaindev404/prd-tools-sub001/internal/store"
	"github.com/captaindev404/prd-tools-sub001/pkg/models"
)

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
	}
	cmd.AddCommand(newTaskCreateCmd())
	cmd.AddCommand(newTaskListCmd())
	cmd.AddCommand(newTaskShowCmd())
	cmd.AddCommand(newTaskNextCmd())
	cmd.AddCommand(newTaskCompleteCmd())
	cmd.AddCommand(newTaskStatusCmd())
	cmd.AddCommand(newTaskDurationCmd())
	cmd.AddCommand(newTaskMoveCmd())
	return cmd
}

func newTaskCreateCmd() *cobra.Command {
	var (
		description string
		priority    string
		parent      string
		epic        string
		estimate    int
	)
	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a pending task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := models.ParsePriority(priority)
			if err != nil {
				return herderr.Validationf("%v", err)
			}
			in := store.NewTask{
				Title:       strings.Join(args, " "),
				Description: description,
				Priority:    p,
				ParentRef:   parent,
				Epic:        epic,
			}
			if cmd.Flags().Changed("estimate") {
				in.EstimatedMinutes = &estimate
			}
			return withStore(cmd, func(ctx context.Context, st store.Coordinator) error {
				task, err := st.CreateTask(ctx, in)
				if err != nil {
					return err
				}
				if ok, err := printJSON(cmd, task); ok {
					return err
				}
				out(cmd.OutOrStdout(), "Created task %s: %s\n", resolve.TaskLabel(task.DisplayID, task.ID), task.Title)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "Task description")
	cmd.Flags().StringVarP(&priority, "priority", "p", "medium", "low, medium, high or critical")
	cmd.Flags().StringVar(&parent, "parent", "", "Parent task (#id, id or key prefix)")
	cmd.Flags().StringVar(&epic, "epic", "", "Epic name")
	cmd.Flags().IntVar(&estimate, "estimate", 0, "Estimated minutes")
	return cmd
}

func newTaskListCmd() *cobra.Command {
	var (
		status   string
		priority string
		epic     string
		parent   string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := store.TaskFilter{Epic: epic, ParentRef: parent, Limit: limit}
			if status != "" {
				s, err := models.ParseTaskStatus(status)
				if err != nil {
					return herderr.Validationf("%v", err)
				}
				f.Status = &s
			}
			if priority != "" {
				p, err := models.ParsePriority(priority)
				if err != nil {
					return herderr.Validationf("%v", err)
				}
				f.Priority = &p
			}
			return withStore(cmd, func(ctx context.Context, st store.Coordinator) error {
				tasks, err := st.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if ok, err := printJSON(cmd, tasks); ok {
					return err
				}
				if len(tasks) == 0 {
					out(cmd.OutOrStdout(), "No tasks.\n")
					return nil
				}
				names, err := agentNames(ctx, st)
				if err != nil {
					return err
				}
				for _, t := range tasks {
					writeTaskLine(cmd.OutOrStdout(), t, names)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	cmd.Flags().StringVar(&priority, "priority", "", "Filter by priority")
	cmd.Flags().StringVar(&epic, "epic", "", "Filter by epic")
	cmd.Flags().StringVar(&parent, "parent", "", "Only subtasks of this task")
	cmd.Flags().IntVar(&limit, "limit", models.DefaultTaskListLimit, "Maximum tasks to list")
	return cmd
}

func newTaskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task>",
		Short: "Show a task and its subtasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, st store.Coordinator) error {
				task, err := st.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				subs, err := st.GetSubtasks(ctx, task.ID)
				if err != nil {
					return err
				}
				if ok, err := printJSON(cmd, struct {
					Task     *models.Task  `json:"task"`
					Subtasks []models.Task `json:"subtasks"`
				}{task, subs}); ok {
					return err
				}
				names, err := agentNames(ctx, st)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				out(w, "%s %s\n", resolve.TaskLabel(task.DisplayID, task.ID), task.Title)
				out(w, "  key:      %s\n", task.ID)
				out(w, "  status:   %s\n", task.Status)
				out(w, "  priority: %s\n", task.Priority)
				if task.AssignedAgent != nil {
					out(w, "  agent:    %s\n", names[*task.AssignedAgent])
				}
				if task.ParentID != nil {
					out(w, "  parent:   %s\n", resolve.Short(*task.ParentID))
				}
				if task.EpicName != "" {
					out(w, "  epic:     %s\n", task.EpicName)
				}
				if task.BlockedReason != "" {
					out(w, "  blocked:  %s\n", task.BlockedReason)
				}
				if task.EstimatedMinutes != nil || task.ActualMinutes != nil {
					out(w, "  minutes:  estimated %s, actual %s\n", minutes(task.EstimatedMinutes), minutes(task.ActualMinutes))
				}
				if task.Description != "" {
					out(w, "\n%s\n", task.Description)
				}
				if len(subs) > 0 {
					out(w, "\nSubtasks:\n")
					for _, s := range subs {
						writeTaskLine(w, s, names)
					}
				}
				return nil
			})
		},
	}
}

func newTaskNextCmd() *cobra.Command {
	var (
		agent    string
		priority string
	)
	cmd := &cobra.Command{
		Use:   "next",
		Short: "Claim the next pending task for an agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			if agent == "" {
				return errors.New("--agent is required")
			}
			var p *models.Priority
			if priority != "" {
				v, err := models.ParsePriority(priority)
				if err != nil {
					return herderr.Validationf("%v", err)
				}
				p = &v
			}
			return withStore(cmd, func(ctx context.Context, st store.Coordinator) error {
				task, err := st.GetNextTask(ctx, agent, p)
				if err != nil {
					return err
				}
				if ok, err := printJSON(cmd, task); ok {
					return err
				}
				if task == nil {
					out(cmd.OutOrStdout(), "No pending tasks.\n")
					return nil
				}
				out(cmd.OutOrStdout(), "Claimed %s [%s] %s\n", resolve.TaskLabel(task.DisplayID, task.ID), task.Priority, task.Title)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "Agent (A<n>, name or key prefix)")
	cmd.Flags().StringVar(&priority, "priority", "", "Only consider this priority")
	return cmd
}

func newTaskCompleteCmd() *cobra.Command {
	var agent string
	cmd := &cobra.Command{
		Use:   "complete <task>",
		Short: "Mark a task completed by the agent working on it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if agent == "" {
				return errors.New("--agent is required")
			}
			return withStore(cmd, func(ctx context.Context, st store.Coordinator) error {
				task, err := st.CompleteTask(ctx, args[0], agent)
				if err != nil {
					return err
				}
				if ok, err := printJSON(cmd, task); ok {
					return err
				}
				out(cmd.OutOrStdout(), "Completed %s\n", resolve.TaskLabel(task.DisplayID, task.ID))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "Agent completing the task")
	return cmd
}

func newTaskStatusCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "status <task> <status>",
		Short: "Set a task's status (pending, in_progress, completed, blocked, cancelled)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := models.ParseTaskStatus(args[1])
			if err != nil {
				return herderr.Validationf("%v", err)
			}
			return withStore(cmd, func(ctx context.Context, st store.Coordinator) error {
				task, err := st.UpdateTaskStatus(ctx, args[0], status, reason)
				if err != nil {
					return err
				}
				if ok, err := printJSON(cmd, task); ok {
					return err
				}
				out(cmd.OutOrStdout(), "Task %s is now %s\n", resolve.TaskLabel(task.DisplayID, task.ID), task.Status)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Reason, recorded when blocking")
	return cmd
}

func newTaskDurationCmd() *cobra.Command {
	var estimated, actual int
	cmd := &cobra.Command{
		Use:   "duration <task>",
		Short: "Record estimated and/or actual minutes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var est, act *int
			if cmd.Flags().Changed("estimated") {
				est = &estimated
			}
			if cmd.Flags().Changed("actual") {
				act = &actual
			}
			return withStore(cmd, func(ctx context.Context, st store.Coordinator) error {
				task, err := st.UpdateTaskDuration(ctx, args[0], est, act)
				if err != nil {
					return err
				}
				if ok, err := printJSON(cmd, task); ok {
					return err
				}
				out(cmd.OutOrStdout(), "Task %s: estimated %s, actual %s\n",
					resolve.TaskLabel(task.DisplayID, task.ID), minutes(task.EstimatedMinutes), minutes(task.ActualMinutes))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&estimated, "estimated", 0, "Estimated minutes")
	cmd.Flags().IntVar(&actual, "actual", 0, "Actual minutes")
	return cmd
}

func newTaskMoveCmd() *cobra.Command {
	var parent string
	cmd := &cobra.Command{
		Use:   "move <task>",
		Short: "Move a task under another task (omit --parent to detach)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, st store.Coordinator) error {
				task, err := st.MoveTask(ctx, args[0], parent)
				if err != nil {
					return err
				}
				if ok, err := printJSON(cmd, task); ok {
					return err
				}
				if task.ParentID == nil {
					out(cmd.OutOrStdout(), "Task %s has no parent\n", resolve.TaskLabel(task.DisplayID, task.ID))
					return nil
				}
				label, err := st.FormatTaskID(ctx, *task.ParentID)
				if err != nil {
					return err
				}
				out(cmd.OutOrStdout(), "Moved %s under %s\n", resolve.TaskLabel(task.DisplayID, task.ID), label)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&parent, "parent", "", "New parent task")
	return cmd
}

// agentNames maps agent keys to "A<n> name" for display.
func agentNames(ctx context.Context, st store.Coordinator) (map[string]string, error) {
	agents, err := st.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(agents))
	for _, a := range agents {
		names[a.ID] = resolve.AgentLabel(a.DisplayID, a.ID) + " " + a.Name
	}
	return names, nil
}

func writeTaskLine(w io.Writer, t models.Task, names map[string]string) {
	line := fmt.Sprintf("%-6s %-12s %-8s %s", resolve.TaskLabel(t.DisplayID, t.ID), t.Status, t.Priority, t.Title)
	if t.AssignedAgent != nil {
		line += "  (" + names[*t.AssignedAgent] + ")"
	}
	if t.EpicName != "" {
		line += "  [" + t.EpicName + "]"
	}
	out(w, "%s\n", line)
}

func minutes(p *int) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("%dm", *p)
}
