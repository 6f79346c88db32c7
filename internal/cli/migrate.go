package cli

import (
	"context"
	"os"
	"path/filepath"
	"strconv"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/captaindev404/prd-tools-sub001/internal/config"
	"github.com/captaindev404/prd-tools-sub001/internal/herderr"
	"github.com/captaindev404/prd-tools-sub001/internal/migrate"
	"github.com/captaindev404/prd-tools-sub001/internal/store"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Inspect and manage the schema version",
	}
	cmd.AddCommand(newMigrateUpCmd())
	cmd.AddCommand(newMigrateStatusCmd())
	cmd.AddCommand(newMigrateRollbackCmd())
	return cmd
}

// withRunner opens the database without migrating it, so status and
// rollback work on stores that are behind or broken.
func withRunner(cmd *cobra.Command, fn func(ctx context.Context, r *migrate.Runner) error) error {
	ctx := cmd.Context()
	path := config.FromContext(ctx).DBPath
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	db, err := sqlx.Open("sqlite", store.DSN(path))
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	return fn(ctx, migrate.New(db, searchPath(ctx)))
}

func newMigrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(cmd, func(ctx context.Context, r *migrate.Runner) error {
				applied, err := r.MigrateToLatest(ctx)
				for _, v := range applied {
					out(cmd.OutOrStdout(), "Applied migration %d\n", v)
				}
				if err != nil {
					return err
				}
				if len(applied) == 0 {
					out(cmd.OutOrStdout(), "Schema is up to date.\n")
				}
				return nil
			})
		},
	}
}

func newMigrateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the schema version and migration history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(cmd, func(ctx context.Context, r *migrate.Runner) error {
				st, err := r.Status(ctx)
				if err != nil {
					return err
				}
				if ok, err := printJSON(cmd, st); ok {
					return err
				}
				w := cmd.OutOrStdout()
				out(w, "Current version: %d\n", st.Current)
				if st.Source != "" {
					out(w, "Source: %s\n", st.Source)
				}
				for _, a := range st.History {
					out(w, "  %4d  applied %s\n", a.Version, a.AppliedAt.Local().Format("2006-01-02 15:04:05"))
				}
				for _, v := range st.Pending {
					out(w, "  %4d  pending\n", v)
				}
				return nil
			})
		},
	}
}

func newMigrateRollbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <version>",
		Short: "Forget migrations above a version (schema changes are not reverted)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := strconv.Atoi(args[0])
			if err != nil {
				return herderr.Validationf("version must be an integer: %q", args[0])
			}
			return withRunner(cmd, func(ctx context.Context, r *migrate.Runner) error {
				res, err := r.Rollback(ctx, target)
				if err != nil {
					return err
				}
				if ok, err := printJSON(cmd, res); ok {
					return err
				}
				w := cmd.OutOrStdout()
				if len(res.Removed) == 0 {
					out(w, "Nothing to roll back (current version %d).\n", res.From)
					return nil
				}
				out(w, "Rolled back from %d to %d (removed %v).\n", res.From, res.To, res.Removed)
				out(w, "Note: %s\n", res.Note)
				return nil
			})
		},
	}
}
