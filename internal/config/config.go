package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/captaindev404/prd-tools-sub001/pkg/models"
)

// Environment overrides for the config file.
const (
	EnvDBPath   = "PRD_DB_PATH"
	EnvLogLevel = "PRD_LOG_LEVEL"
)

// Config is <home>/config.yaml. Every field is optional.
type Config struct {
	DBPath        string `yaml:"db_path"`
	LogLevel      string `yaml:"log_level"`
	Milestones    []int  `yaml:"milestones"`
	MigrationsDir string `yaml:"migrations_dir,omitempty"`
}

type cfgKey struct{}

func WithConfig(ctx context.Context, c Config) context.Context {
	return context.WithValue(ctx, cfgKey{}, c)
}

// FromContext returns the config stored by WithConfig, or the defaults for
// the context's home.
func FromContext(ctx context.Context) Config {
	if c, ok := ctx.Value(cfgKey{}).(Config); ok {
		return c
	}
	home, _ := HomeFrom(ctx)
	return Default(home)
}

// Default is the configuration used when no file exists.
func Default(home string) Config {
	return Config{
		DBPath:     filepath.Join(home, "prd.db"),
		LogLevel:   "info",
		Milestones: append([]int(nil), models.DefaultMilestones...),
	}
}

// Path returns <home>/config.yaml.
func Path(home string) string {
	return filepath.Join(home, "config.yaml")
}

// Load reads <home>/.env (variables already set win) and then
// <home>/config.yaml over the defaults. PRD_DB_PATH and PRD_LOG_LEVEL
// override the file. A relative db_path is taken relative to home.
func Load(home string) (Config, error) {
	envPath := filepath.Join(home, ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", envPath, err)
		}
	}

	c := Default(home)
	data, err := os.ReadFile(Path(home))
	switch {
	case err == nil:
		var file Config
		if err := yaml.Unmarshal(data, &file); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", Path(home), err)
		}
		if file.DBPath != "" {
			c.DBPath = file.DBPath
		}
		if file.LogLevel != "" {
			c.LogLevel = file.LogLevel
		}
		if file.Milestones != nil {
			c.Milestones = file.Milestones
		}
		c.MigrationsDir = file.MigrationsDir
	case !os.IsNotExist(err):
		return Config{}, err
	}

	if v := os.Getenv(EnvDBPath); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if !filepath.IsAbs(c.DBPath) {
		c.DBPath = filepath.Join(home, c.DBPath)
	}
	if c.MigrationsDir != "" && !filepath.IsAbs(c.MigrationsDir) {
		c.MigrationsDir = filepath.Join(home, c.MigrationsDir)
	}
	for _, m := range c.Milestones {
		if m <= 0 || m > 100 {
			return Config{}, fmt.Errorf("%s: milestone %d out of range 1..100", Path(home), m)
		}
	}
	return c, nil
}

// Save writes c to <home>/config.yaml.
func Save(home string, c Config) error {
	if err := EnsureHome(home); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(Path(home), data, 0o644)
}

// SlogLevel maps log_level to a slog level; unknown values mean info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
