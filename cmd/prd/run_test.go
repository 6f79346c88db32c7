package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/captaindev404/prd-tools-sub001/internal/herderr"
)

func TestRun_help(t *testing.T) {
	ctx := context.Background()
	code := Run(ctx, []string{"--help"})
	if code != 0 {
		t.Errorf("Run --help: got exit code %d", code)
	}
}

func TestRun_version(t *testing.T) {
	ctx := context.Background()
	code := Run(ctx, []string{"--version"})
	if code != 0 {
		t.Errorf("Run --version: got exit code %d", code)
	}
}

func TestRun_unknownFlag(t *testing.T) {
	var stderr bytes.Buffer
	code := run(context.Background(), []string{"--unknown-flag"}, &stderr)
	if code != 1 {
		t.Errorf("Run --unknown-flag: got exit code %d, want 1", code)
	}
	if !strings.HasPrefix(stderr.String(), "Error:") {
		t.Errorf("stderr: %q", stderr.String())
	}
}

func TestRun_notFoundExitCode(t *testing.T) {
	t.Setenv("PRD_DB_PATH", "")
	var stderr bytes.Buffer
	code := run(context.Background(), []string{"--home", t.TempDir(), "task", "show", "#9"}, &stderr)
	if code != exitInput {
		t.Errorf("task show #9: got exit code %d, want %d (%s)", code, exitInput, stderr.String())
	}
}

func TestExitCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{herderr.Validationf("bad"), exitInput},
		{&herderr.NotFoundError{Kind: "task", Input: "#1"}, exitInput},
		{&herderr.AmbiguousError{Kind: "task", Input: "ab", Matches: 2}, exitInput},
		{fmt.Errorf("dispatch: %w", herderr.Conflictf("busy")), exitConflict},
		{errors.New("disk full"), exitError},
	}
	for _, c := range cases {
		if got := exitCode(c.err); got != c.want {
			t.Errorf("exitCode(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}
