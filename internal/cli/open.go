package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/captaindev404/prd-tools-sub001/internal/config"
	"github.com/captaindev404/prd-tools-sub001/internal/events"
	"github.com/captaindev404/prd-tools-sub001/internal/migrate"
	"github.com/captaindev404/prd-tools-sub001/internal/store"
)

type jsonKey struct{}

func withJSON(ctx context.Context, on bool) context.Context {
	return context.WithValue(ctx, jsonKey{}, on)
}

func jsonFrom(ctx context.Context) bool {
	on, _ := ctx.Value(jsonKey{}).(bool)
	return on
}

// searchPath is the migration search path for the command's home, with a
// configured migrations_dir tried first.
func searchPath(ctx context.Context) []migrate.Source {
	home := config.MustHomeFrom(ctx)
	cfg := config.FromContext(ctx)
	path := migrate.DefaultSearchPath(home)
	if cfg.MigrationsDir != "" {
		path = append([]migrate.Source{migrate.Dir(cfg.MigrationsDir)}, path...)
	}
	return path
}

func openStore(ctx context.Context) (*store.Store, error) {
	cfg := config.FromContext(ctx)
	return store.Open(ctx, cfg.DBPath, store.Options{
		SearchPath: searchPath(ctx),
		Sink:       events.LogSink{},
		Milestones: cfg.Milestones,
	})
}

// withStore opens the store for the duration of fn.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, st store.Coordinator) error) error {
	ctx := cmd.Context()
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	return fn(ctx, st)
}

// printJSON writes v as indented JSON and reports whether --json was set.
func printJSON(cmd *cobra.Command, v any) (bool, error) {
	if !jsonFrom(cmd.Context()) {
		return false, nil
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return true, enc.Encode(v)
}

func out(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
