package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/captaindev404/prd-tools-sub001/internal/cli"
	"github.com/captaindev404/prd-tools-sub001/internal/herderr"
)

// Exit codes. Scripts driving agents branch on these.
const (
	exitOK       = 0
	exitError    = 1
	exitInput    = 2
	exitConflict = 3
)

func Run(ctx context.Context, args []string) int {
	return run(ctx, args, os.Stderr)
}

func run(ctx context.Context, args []string, stderr io.Writer) int {
	root := cli.NewRootCmd(Version)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	_, _ = fmt.Fprintln(stderr, "Error:", err.Error())
	return exitCode(err)
}

func exitCode(err error) int {
	switch {
	case herderr.IsValidation(err), herderr.IsNotFound(err), herderr.IsAmbiguous(err):
		return exitInput
	case herderr.IsConflict(err):
		return exitConflict
	}
	return exitError
}
