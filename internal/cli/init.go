package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/captaindev404/prd-tools-sub001/internal/config"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the home directory, a default config.yaml and the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			home := config.MustHomeFrom(ctx)
			path := config.Path(home)
			if _, err := os.Stat(path); os.IsNotExist(err) {
				if err := config.Save(home, config.Default(home)); err != nil {
					return err
				}
				out(cmd.OutOrStdout(), "Wrote %s\n", path)
			} else if err != nil {
				return err
			}
			st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()
			v, err := st.Migrations().CurrentVersion(ctx)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Store ready at %s (schema version %d)\n", config.FromContext(ctx).DBPath, v)
			return nil
		},
	}
}
