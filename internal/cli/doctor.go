package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/captaindev404/prd-tools-sub001/internal/config"
	"github.com/captaindev404/prd-tools-sub001/internal/migrate"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the home directory, migrations and store",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			home := config.MustHomeFrom(ctx)
			cfg := config.FromContext(ctx)
			w := cmd.OutOrStdout()

			var problems []string

			if err := config.EnsureHome(home); err != nil {
				problems = append(problems, err.Error())
			} else {
				out(w, "home: %s\n", home)
			}
			runner := migrate.New(nil, searchPath(ctx))
			units, src, err := runner.Units()
			if err != nil {
				problems = append(problems, err.Error())
			} else {
				out(w, "migrations: %s (%d units)\n", src.Label, len(units))
			}

			if len(problems) == 0 {
				st, err := openStore(ctx)
				if err != nil {
					problems = append(problems, fmt.Sprintf("store %s: %v", cfg.DBPath, err))
				} else {
					v, err := st.Migrations().CurrentVersion(ctx)
					_ = st.Close()
					if err != nil {
						problems = append(problems, err.Error())
					} else {
						out(w, "store: %s (schema version %d)\n", cfg.DBPath, v)
					}
				}
			}

			if len(problems) > 0 {
				for _, p := range problems {
					_, _ = fmt.Fprintln(cmd.ErrOrStderr(), p)
				}
				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(w, "ok")
			return nil
		},
	}
	return cmd
}
