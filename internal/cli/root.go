package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/captaindev404/prd-tools-sub001/internal/config"
)

func NewRootCmd(version string) *cobra.Command {
	var (
		homeOverride string
		jsonOut      bool
	)

	cmd := &cobra.Command{
		Use:           "prd",
		Short:         "Task coordination for multiple agents",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			home, err := config.ResolveHome(homeOverride)
			if err != nil {
				return err
			}
			cfg, err := config.Load(home)
			if err != nil {
				return err
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.SlogLevel()})))
			ctx := config.WithHome(cmd.Context(), home)
			ctx = config.WithConfig(ctx, cfg)
			ctx = withJSON(ctx, jsonOut)
			cmd.SetContext(ctx)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&homeOverride, "home", "", "Override prd home directory (default: ~/.prd, env: PRD_HOME)")
	cmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Print results as JSON")

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newTaskCmd())
	cmd.AddCommand(newAgentCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newMetricsCmd())

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.SetVersionTemplate("{{.Version}}\n")
	if version != "" {
		cmd.Version = version
	} else {
		cmd.Version = "dev"
	}

	return cmd
}
