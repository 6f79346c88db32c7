package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/captaindev404/prd-tools-sub001/internal/store"
	"github.com/captaindev404/prd-tools-sub001/pkg/models"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "status",
		Aliases: []string{"stats"},
		Short:   "Show task counts and agent activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, st store.Coordinator) error {
				stats, err := st.GetStats(ctx)
				if err != nil {
					return err
				}
				agents, err := st.ListAgents(ctx)
				if err != nil {
					return err
				}
				if ok, err := printJSON(cmd, struct {
					Stats  models.Stats   `json:"stats"`
					Agents []models.Agent `json:"agents"`
				}{stats, agents}); ok {
					return err
				}
				w := cmd.OutOrStdout()
				out(w, "Tasks: %d total, %.0f%% complete\n", stats.Total, stats.PercentComplete())
				out(w, "  pending      %d\n  in_progress  %d\n  blocked      %d\n  completed    %d\n  cancelled    %d\n",
					stats.Pending, stats.InProgress, stats.Blocked, stats.Completed, stats.Cancelled)
				if len(agents) == 0 {
					return nil
				}
				out(w, "Agents:\n")
				for _, a := range agents {
					out(w, "  ")
					if err := writeAgentLine(ctx, cmd, st, a); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	return cmd
}
