package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnvHome overrides the default home directory.
const EnvHome = "PRD_HOME"

// DefaultHomeName is the directory created under the user's home.
const DefaultHomeName = ".prd"

type homeKey struct{}

// WithHome stores the prd home path in the context.
func WithHome(ctx context.Context, home string) context.Context {
	return context.WithValue(ctx, homeKey{}, home)
}

func HomeFrom(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(homeKey{}).(string)
	return s, ok
}

// MustHomeFrom returns the home path carried by a command context.
// Commands only run after the root command resolved it.
func MustHomeFrom(ctx context.Context) string {
	if h, ok := HomeFrom(ctx); ok && h != "" {
		return h
	}
	panic("prd home missing from context")
}

// ResolveHome picks the home directory: --home, then $PRD_HOME, then
// ~/.prd. A leading "~" is expanded and the result is absolute, so the
// relative db_path and migrations_dir in config.yaml resolve the same way
// from any working directory.
func ResolveHome(override string) (string, error) {
	raw := strings.TrimSpace(override)
	if raw == "" {
		raw = strings.TrimSpace(os.Getenv(EnvHome))
	}
	if raw == "" {
		user, err := os.UserHomeDir()
		if err != nil {
			return "", errors.New("could not determine user home directory; set --home or " + EnvHome)
		}
		return filepath.Join(user, DefaultHomeName), nil
	}
	expanded, err := expandTilde(raw)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("resolve home %q: %w", raw, err)
	}
	return abs, nil
}

func expandTilde(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	user, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand %q: %w", p, err)
	}
	return filepath.Join(user, strings.TrimPrefix(p, "~")), nil
}

// EnsureHome creates the home directory if needed and fails when the path
// exists but is not a directory.
func EnsureHome(home string) error {
	fi, err := os.Stat(home)
	switch {
	case err == nil && !fi.IsDir():
		return fmt.Errorf("prd home %s is not a directory", home)
	case err == nil:
		return nil
	case !os.IsNotExist(err):
		return err
	}
	if err := os.MkdirAll(home, 0o755); err != nil {
		return fmt.Errorf("create prd home: %w", err)
	}
	return nil
}
