package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/captaindev404/prd-tools-sub001/internal/config"
	"github.com/captaindev404/prd-tools-sub001/internal/herderr"
	"github.com/captaindev404/prd-tools-sub001/internal/migrate"
	"github.com/captaindev404/prd-tools-sub001/pkg/models"
)

func TestNewRootCmd_hasSubcommands(t *testing.T) {
	root := NewRootCmd("test")
	if root == nil {
		t.Fatal("NewRootCmd returned nil")
	}
	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"init", "doctor", "status", "task", "agent", "migrate", "metrics"} {
		if !names[want] {
			t.Errorf("expected subcommand %q", want)
		}
	}
}

func TestNewRootCmd_versionFlag(t *testing.T) {
	root := NewRootCmd("1.2.3")
	if root.Version != "1.2.3" {
		t.Errorf("Version: got %q", root.Version)
	}
}

func TestNewRootCmd_hasHomeFlag(t *testing.T) {
	root := NewRootCmd("")
	if root.PersistentFlags().Lookup("home") == nil {
		t.Fatal("expected --home persistent flag")
	}
	if root.PersistentFlags().Lookup("json") == nil {
		t.Fatal("expected --json persistent flag")
	}
}

func run(t *testing.T, home string, args ...string) (string, error) {
	t.Helper()
	t.Setenv(config.EnvDBPath, "")
	t.Setenv(config.EnvLogLevel, "")
	t.Setenv(migrate.EnvDir, "")
	root := NewRootCmd("test")
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append([]string{"--home", home}, args...))
	err := root.ExecuteContext(context.Background())
	return stdout.String(), err
}

func mustRun(t *testing.T, home string, args ...string) string {
	t.Helper()
	out, err := run(t, home, args...)
	if err != nil {
		t.Fatalf("prd %s: %v", strings.Join(args, " "), err)
	}
	return out
}

func TestInitAndDoctor(t *testing.T) {
	home := t.TempDir()
	out := mustRun(t, home, "init")
	if !strings.Contains(out, "config.yaml") || !strings.Contains(out, "schema version 3") {
		t.Fatalf("init output: %q", out)
	}
	out = mustRun(t, home, "doctor")
	if !strings.Contains(out, "migrations: builtin") || !strings.HasSuffix(out, "ok\n") {
		t.Fatalf("doctor output: %q", out)
	}
}

func TestTaskLifecycle(t *testing.T) {
	home := t.TempDir()
	mustRun(t, home, "agent", "add", "claude-1")
	if out := mustRun(t, home, "task", "create", "Write", "the", "parser", "-p", "high", "--epic", "core"); !strings.Contains(out, "Created task #1: Write the parser") {
		t.Fatalf("create output: %q", out)
	}
	mustRun(t, home, "task", "create", "Tests for parser", "--parent", "#1")

	if out := mustRun(t, home, "task", "next", "--agent", "A1"); !strings.Contains(out, "Claimed #1 [high]") {
		t.Fatalf("next output: %q", out)
	}
	if _, err := run(t, home, "task", "next", "--agent", "claude-1"); !herderr.IsConflict(err) {
		t.Fatalf("second next: want ConflictError, got %v", err)
	}
	if out := mustRun(t, home, "task", "show", "1"); !strings.Contains(out, "A1 claude-1") || !strings.Contains(out, "Tests for parser") {
		t.Fatalf("show output: %q", out)
	}
	mustRun(t, home, "task", "complete", "#1", "--agent", "claude-1")

	out := mustRun(t, home, "--json", "status")
	var got struct {
		Stats  models.Stats   `json:"stats"`
		Agents []models.Agent `json:"agents"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("status --json: %v\n%s", err, out)
	}
	if got.Stats.Completed != 1 || got.Stats.Pending != 1 || len(got.Agents) != 1 || got.Agents[0].Status != models.AgentIdle {
		t.Fatalf("status: %+v", got)
	}

	if out := mustRun(t, home, "task", "list", "--status", "done"); !strings.Contains(out, "#1") || strings.Contains(out, "#2") {
		t.Fatalf("list --status done: %q", out)
	}
}

func TestTaskStatusBlockedAndErrors(t *testing.T) {
	home := t.TempDir()
	mustRun(t, home, "task", "create", "flaky")
	if out := mustRun(t, home, "task", "status", "#1", "blocked", "--reason", "CI down"); !strings.Contains(out, "now blocked") {
		t.Fatalf("status output: %q", out)
	}
	if _, err := run(t, home, "task", "status", "#1", "completed"); !herderr.IsConflict(err) {
		t.Fatalf("blocked -> completed: want ConflictError, got %v", err)
	}
	if _, err := run(t, home, "task", "show", "#42"); !herderr.IsNotFound(err) {
		t.Fatalf("show missing: want NotFoundError, got %v", err)
	}
	if _, err := run(t, home, "task", "create", "x", "-p", "urgent"); !herderr.IsValidation(err) {
		t.Fatalf("bad priority: want ValidationError, got %v", err)
	}
}

func TestAgentSyncReportsTakeover(t *testing.T) {
	home := t.TempDir()
	mustRun(t, home, "agent", "add", "a")
	mustRun(t, home, "agent", "add", "b")
	mustRun(t, home, "task", "create", "shared")
	mustRun(t, home, "task", "next", "--agent", "a")
	out := mustRun(t, home, "agent", "sync", "b", "#1")
	if !strings.Contains(out, "taken over from A1 a") {
		t.Fatalf("sync output: %q", out)
	}
	if out := mustRun(t, home, "agent", "list"); !strings.Contains(out, "A1 a (idle)") || !strings.Contains(out, "A2 b (working) on #1") {
		t.Fatalf("agent list: %q", out)
	}
}

func TestMigrateCommands(t *testing.T) {
	home := t.TempDir()
	if out := mustRun(t, home, "migrate", "up"); !strings.Contains(out, "Applied migration 3") {
		t.Fatalf("migrate up: %q", out)
	}
	if out := mustRun(t, home, "migrate", "up"); !strings.Contains(out, "up to date") {
		t.Fatalf("migrate up again: %q", out)
	}
	out := mustRun(t, home, "migrate", "rollback", "1")
	if !strings.Contains(out, "removed [3 2]") || !strings.Contains(out, "Note:") {
		t.Fatalf("rollback: %q", out)
	}
	if out := mustRun(t, home, "migrate", "status"); !strings.Contains(out, "Current version: 1") || !strings.Contains(out, "pending") {
		t.Fatalf("migrate status: %q", out)
	}
}

func TestMetricsCommand(t *testing.T) {
	home := t.TempDir()
	mustRun(t, home, "task", "create", "measured")
	out := mustRun(t, home, "metrics")
	if !strings.Contains(out, "prd_tasks") || !strings.Contains(out, `status="pending"`) {
		t.Fatalf("metrics output missing task gauge:\n%s", out)
	}
}
