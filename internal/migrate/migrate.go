// Package migrate applies versioned schema changes to the store file.
//
// Migration units are files named "<version>_<name>.sql" found in the first
// existing directory of a search path. Each unit runs in its own transaction
// together with its bookkeeping row in schema_migrations, so a unit is
// all-or-nothing while earlier units of the same run stay committed.
package migrate

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/captaindev404/prd-tools-sub001/internal/herderr"
)

//go:embed migrations/*.sql
var builtinFS embed.FS

// EnvDir overrides the search path with a single directory when set.
const EnvDir = "PRD_MIGRATIONS_DIR"

// RollbackNote is reported by every rollback that removed rows.
const RollbackNote = "bookkeeping rows removed; schema changes made by the removed versions were NOT reversed"

// Source is one candidate location for migration units.
type Source struct {
	Label string
	FS    fs.FS
}

// Dir returns a Source backed by a directory on disk.
func Dir(path string) Source {
	return Source{Label: path, FS: os.DirFS(path)}
}

// Builtin returns the units compiled into the binary.
func Builtin() Source {
	sub, err := fs.Sub(builtinFS, "migrations")
	if err != nil {
		panic(err)
	}
	return Source{Label: "builtin", FS: sub}
}

// DefaultSearchPath is the fixed candidate list: $PRD_MIGRATIONS_DIR, <home>/migrations,
// ./migrations, <executable dir>/migrations, then the builtin units.
func DefaultSearchPath(home string) []Source {
	var out []Source
	if env := os.Getenv(EnvDir); env != "" {
		out = append(out, Dir(filepath.Clean(env)))
	}
	if home != "" {
		out = append(out, Dir(filepath.Join(home, "migrations")))
	}
	out = append(out, Dir("migrations"))
	if exe, err := os.Executable(); err == nil {
		out = append(out, Dir(filepath.Join(filepath.Dir(exe), "migrations")))
	}
	return append(out, Builtin())
}

// Unit is one versioned migration file.
type Unit struct {
	Version int
	Name    string
	SQL     string
}

// Applied is a row of schema_migrations.
type Applied struct {
	Version   int
	AppliedAt time.Time
}

// Status describes the schema state.
type Status struct {
	Current int
	History []Applied
	Pending []int  // versions in the active source not yet applied
	Source  string // label of the active source, empty if none exists
}

// RollbackResult reports what Rollback removed. SchemaReverted is always
// false: only bookkeeping is rolled back.
type RollbackResult struct {
	From           int
	To             int
	Removed        []int
	SchemaReverted bool
	Note           string
}

// Runner applies migration units to a database.
type Runner struct {
	DB         *sqlx.DB
	SearchPath []Source
	Now        func() time.Time
}

// New returns a Runner; an empty search path means builtin units only.
func New(db *sqlx.DB, searchPath []Source) *Runner {
	if len(searchPath) == 0 {
		searchPath = []Source{Builtin()}
	}
	return &Runner{DB: db, SearchPath: searchPath, Now: time.Now}
}

// Init ensures the metadata table exists. Safe to call on every startup.
func (r *Runner) Init(ctx context.Context) error {
	if r == nil || r.DB == nil {
		return &herderr.MigrationError{Err: errors.New("runner not initialized")}
	}
	if _, err := r.DB.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  applied_at INTEGER NOT NULL
);`); err != nil {
		return &herderr.MigrationError{Err: fmt.Errorf("create schema_migrations: %w", err)}
	}
	return nil
}

// CurrentVersion returns the highest applied version, or 0.
func (r *Runner) CurrentVersion(ctx context.Context) (int, error) {
	if err := r.Init(ctx); err != nil {
		return 0, err
	}
	var v int
	if err := r.DB.GetContext(ctx, &v, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`); err != nil {
		return 0, err
	}
	return v, nil
}

// ActiveSource returns the first source in the search path whose root exists.
func (r *Runner) ActiveSource() (Source, error) {
	for _, s := range r.SearchPath {
		if s.FS == nil {
			continue
		}
		info, err := fs.Stat(s.FS, ".")
		if err != nil || !info.IsDir() {
			continue
		}
		return s, nil
	}
	labels := make([]string, 0, len(r.SearchPath))
	for _, s := range r.SearchPath {
		labels = append(labels, s.Label)
	}
	return Source{}, &herderr.MigrationError{Err: fmt.Errorf("no migrations directory found (searched %s)", strings.Join(labels, ", "))}
}

// Units lists the migration units of the active source sorted by version.
func (r *Runner) Units() ([]Unit, Source, error) {
	src, err := r.ActiveSource()
	if err != nil {
		return nil, Source{}, err
	}
	entries, err := fs.ReadDir(src.FS, ".")
	if err != nil {
		return nil, src, &herderr.MigrationError{Err: fmt.Errorf("read %s: %w", src.Label, err)}
	}
	seen := make(map[int]string)
	var units []Unit
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		v, ok := parseVersion(e.Name())
		if !ok {
			continue
		}
		if prev, dup := seen[v]; dup {
			return nil, src, &herderr.MigrationError{Version: v, Err: fmt.Errorf("duplicate version in %s and %s", prev, e.Name())}
		}
		seen[v] = e.Name()
		body, err := fs.ReadFile(src.FS, e.Name())
		if err != nil {
			return nil, src, &herderr.MigrationError{Version: v, Err: err}
		}
		units = append(units, Unit{Version: v, Name: e.Name(), SQL: string(body)})
	}
	sort.Slice(units, func(i, j int) bool { return units[i].Version < units[j].Version })
	return units, src, nil
}

// MigrateToLatest applies every unit above the current version, in order,
// and returns the versions applied. The run stops at the first failing unit.
func (r *Runner) MigrateToLatest(ctx context.Context) ([]int, error) {
	current, err := r.CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}
	units, src, err := r.Units()
	if err != nil {
		return nil, err
	}
	var applied []int
	for _, u := range units {
		if u.Version <= current {
			continue
		}
		if err := r.apply(ctx, u); err != nil {
			return applied, &herderr.MigrationError{Version: u.Version, Err: fmt.Errorf("%s: %w", u.Name, err)}
		}
		slog.Debug("applied migration", "version", u.Version, "name", u.Name, "source", src.Label)
		applied = append(applied, u.Version)
	}
	return applied, nil
}

func (r *Runner) apply(ctx context.Context, u Unit) error {
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, u.SQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES(?, ?)`, u.Version, r.now().Unix()); err != nil {
		return err
	}
	return tx.Commit()
}

// Rollback deletes bookkeeping rows above target. It does not reverse any
// schema change; re-running MigrateToLatest afterwards re-executes the
// removed units against the already-changed schema.
func (r *Runner) Rollback(ctx context.Context, target int) (RollbackResult, error) {
	if target < 0 {
		return RollbackResult{}, herderr.Validationf("rollback target must be >= 0, got %d", target)
	}
	current, err := r.CurrentVersion(ctx)
	if err != nil {
		return RollbackResult{}, err
	}
	res := RollbackResult{From: current, To: current}
	if target >= current {
		return res, nil
	}
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer func() { _ = tx.Rollback() }()
	if err := tx.SelectContext(ctx, &res.Removed, `SELECT version FROM schema_migrations WHERE version > ? ORDER BY version DESC`, target); err != nil {
		return res, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version > ?`, target); err != nil {
		return res, err
	}
	if err := tx.Commit(); err != nil {
		return res, err
	}
	res.To = target
	res.Note = RollbackNote
	slog.Warn("migration bookkeeping rolled back", "from", current, "to", target, "removed", res.Removed)
	return res, nil
}

// Status reports the current version, the applied history (ascending) and
// the pending versions of the active source.
func (r *Runner) Status(ctx context.Context) (Status, error) {
	current, err := r.CurrentVersion(ctx)
	if err != nil {
		return Status{}, err
	}
	rows, err := r.DB.QueryxContext(ctx, `SELECT version, applied_at FROM schema_migrations ORDER BY version ASC`)
	if err != nil {
		return Status{}, err
	}
	defer func() { _ = rows.Close() }()

	st := Status{Current: current}
	for rows.Next() {
		var (
			a         Applied
			appliedAt int64
		)
		if err := rows.Scan(&a.Version, &appliedAt); err != nil {
			return Status{}, err
		}
		a.AppliedAt = time.Unix(appliedAt, 0).UTC()
		st.History = append(st.History, a)
	}
	if err := rows.Err(); err != nil {
		return Status{}, err
	}
	if units, src, err := r.Units(); err == nil {
		st.Source = src.Label
		for _, u := range units {
			if u.Version > current {
				st.Pending = append(st.Pending, u.Version)
			}
		}
	}
	return st, nil
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// parseVersion extracts the numeric prefix of "<digits>_<name>.sql".
func parseVersion(filename string) (int, bool) {
	if !strings.HasSuffix(filename, ".sql") {
		return 0, false
	}
	prefix, _, ok := strings.Cut(filename, "_")
	if !ok || prefix == "" {
		return 0, false
	}
	for _, c := range prefix {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	v, err := strconv.Atoi(prefix)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
