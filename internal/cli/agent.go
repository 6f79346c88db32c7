package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/captaindev404/prd-tools-sub001/internal/herderr"
	"github.com/captaindev404/prd-tools-sub001/internal/resolve"
	"github.com/captaindev404/prd-tools-sub001/internal/store"
	"github.com/captaindev404/prd-tools-sub001/pkg/models"
)

func newAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage agents",
	}
	cmd.AddCommand(newAgentAddCmd())
	cmd.AddCommand(newAgentListCmd())
	cmd.AddCommand(newAgentShowCmd())
	cmd.AddCommand(newAgentSyncCmd())
	cmd.AddCommand(newAgentIdleCmd())
	cmd.AddCommand(newAgentStatusCmd())
	return cmd
}

func newAgentAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <name>",
		Short: "Register an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, st store.Coordinator) error {
				a, err := st.CreateAgent(ctx, args[0])
				if err != nil {
					return err
				}
				if ok, err := printJSON(cmd, a); ok {
					return err
				}
				out(cmd.OutOrStdout(), "Added agent %s %q\n", resolve.AgentLabel(a.DisplayID, a.ID), a.Name)
				return nil
			})
		},
	}
}

func newAgentListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, st store.Coordinator) error {
				agents, err := st.ListAgents(ctx)
				if err != nil {
					return err
				}
				if ok, err := printJSON(cmd, agents); ok {
					return err
				}
				if len(agents) == 0 {
					out(cmd.OutOrStdout(), "No agents.\n")
					return nil
				}
				for _, a := range agents {
					if err := writeAgentLine(ctx, cmd, st, a); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func newAgentShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <agent>",
		Short: "Show an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, st store.Coordinator) error {
				a, err := st.GetAgent(ctx, args[0])
				if err != nil {
					return err
				}
				if ok, err := printJSON(cmd, a); ok {
					return err
				}
				if err := writeAgentLine(ctx, cmd, st, *a); err != nil {
					return err
				}
				out(cmd.OutOrStdout(), "  key:         %s\n  last active: %s\n", a.ID, a.LastActive.Local().Format("2006-01-02 15:04:05"))
				return nil
			})
		},
	}
}

func newAgentSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync <agent> <task>",
		Short: "Record that an agent is working on a task (takes it over if needed)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, st store.Coordinator) error {
				res, err := st.SyncAgent(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if ok, err := printJSON(cmd, res); ok {
					return err
				}
				w := cmd.OutOrStdout()
				out(w, "Agent %s is working on %s\n", res.Agent.Name, resolve.TaskLabel(res.Task.DisplayID, res.Task.ID))
				if res.PreviousAgent != nil {
					out(w, "Task was taken over from %s %s\n",
						resolve.AgentLabel(res.PreviousAgent.DisplayID, res.PreviousAgent.ID), res.PreviousAgent.Name)
				}
				return nil
			})
		},
	}
}

func newAgentIdleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "idle <agent>",
		Short: "Force an agent back to idle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, st store.Coordinator) error {
				a, err := st.SetAgentIdle(ctx, args[0])
				if err != nil {
					return err
				}
				if ok, err := printJSON(cmd, a); ok {
					return err
				}
				out(cmd.OutOrStdout(), "Agent %s is idle\n", a.Name)
				return nil
			})
		},
	}
}

func newAgentStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <agent> <idle|blocked|offline>",
		Short: "Set an agent's status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := models.ParseAgentStatus(args[1])
			if err != nil {
				return herderr.Validationf("%v", err)
			}
			return withStore(cmd, func(ctx context.Context, st store.Coordinator) error {
				a, err := st.SetAgentStatus(ctx, args[0], status)
				if err != nil {
					return err
				}
				if ok, err := printJSON(cmd, a); ok {
					return err
				}
				out(cmd.OutOrStdout(), "Agent %s is %s\n", a.Name, a.Status)
				return nil
			})
		},
	}
}

func writeAgentLine(ctx context.Context, cmd *cobra.Command, st store.Coordinator, a models.Agent) error {
	line := resolve.AgentLabel(a.DisplayID, a.ID) + " " + a.Name + " (" + string(a.Status) + ")"
	if a.CurrentTaskID != nil {
		label, err := st.FormatTaskID(ctx, *a.CurrentTaskID)
		if err != nil {
			return err
		}
		line += " on " + label
	}
	out(cmd.OutOrStdout(), "%s\n", line)
	return nil
}
