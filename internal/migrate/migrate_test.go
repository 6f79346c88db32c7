package migrate

import (
	"context"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/captaindev404/prd-tools-sub001/internal/herderr"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "migrate.db")
	db, err := sqlx.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func mapSource(label string, files map[string]string) Source {
	fsys := fstest.MapFS{}
	for name, body := range files {
		fsys[name] = &fstest.MapFile{Data: []byte(body)}
	}
	return Source{Label: label, FS: fsys}
}

func tableExists(t *testing.T, db *sqlx.DB, name string) bool {
	t.Helper()
	var n int
	require.NoError(t, db.Get(&n, `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, name))
	return n == 1
}

func TestInitIsIdempotent(t *testing.T) {
	t.Parallel()
	r := New(openTestDB(t), nil)
	ctx := context.Background()
	require.NoError(t, r.Init(ctx))
	require.NoError(t, r.Init(ctx))
	v, err := r.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, v)
}

func TestMigrateBuiltinTwiceIsNoop(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	r := New(db, []Source{Builtin()})
	ctx := context.Background()

	applied, err := r.MigrateToLatest(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, applied)
	v1, err := r.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, v1)
	assert.True(t, tableExists(t, db, "tasks"))
	assert.True(t, tableExists(t, db, "agents"))

	applied, err = r.MigrateToLatest(ctx)
	require.NoError(t, err)
	assert.Empty(t, applied)
	v2, err := r.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
}

func TestMigrateAppliesInNumericOrderAndIgnoresOtherFiles(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	src := mapSource("mem", map[string]string{
		"10_c.sql":  `CREATE TABLE c (id INTEGER); INSERT INTO c SELECT COUNT(*) FROM b;`,
		"2_b.sql":   `CREATE TABLE b (id INTEGER REFERENCES a(id));`,
		"1_a.sql":   `CREATE TABLE a (id INTEGER PRIMARY KEY);`,
		"README.md": `not a migration`,
		"x_y.sql":   `SELECT broken`,
	})
	r := New(db, []Source{src})
	applied, err := r.MigrateToLatest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 10}, applied)
}

func TestMigrateFailureRollsBackOnlyFailingUnit(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	src := mapSource("mem", map[string]string{
		"1_ok.sql":     `CREATE TABLE ok (id INTEGER);`,
		"2_broken.sql": `CREATE TABLE half (id INTEGER); CREATE TABLE broken (`,
		"3_later.sql":  `CREATE TABLE later (id INTEGER);`,
	})
	r := New(db, []Source{src})
	ctx := context.Background()

	applied, err := r.MigrateToLatest(ctx)
	require.Error(t, err)
	assert.Equal(t, []int{1}, applied)

	var merr *herderr.MigrationError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, 2, merr.Version)
	assert.Contains(t, err.Error(), "migration 2")

	v, err := r.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.True(t, tableExists(t, db, "ok"))
	assert.False(t, tableExists(t, db, "half"), "failing unit must be all-or-nothing")
	assert.False(t, tableExists(t, db, "later"), "run must abort after the failing unit")
}

func TestMigrateWithoutSourceFails(t *testing.T) {
	t.Parallel()
	missing := filepath.Join(t.TempDir(), "nope")
	r := New(openTestDB(t), []Source{Dir(missing)})
	_, err := r.MigrateToLatest(context.Background())
	require.Error(t, err)
	assert.True(t, herderr.IsMigration(err))
	assert.Contains(t, err.Error(), "no migrations directory")
}

func TestFirstExistingSourceWins(t *testing.T) {
	t.Parallel()
	missing := filepath.Join(t.TempDir(), "missing")
	first := mapSource("first", map[string]string{"1_first.sql": `CREATE TABLE from_first (id INTEGER);`})
	second := mapSource("second", map[string]string{"1_second.sql": `CREATE TABLE from_second (id INTEGER);`})
	db := openTestDB(t)
	r := New(db, []Source{Dir(missing), first, second})

	src, err := r.ActiveSource()
	require.NoError(t, err)
	assert.Equal(t, "first", src.Label)

	_, err = r.MigrateToLatest(context.Background())
	require.NoError(t, err)
	assert.True(t, tableExists(t, db, "from_first"))
	assert.False(t, tableExists(t, db, "from_second"))
}

func TestDuplicateVersionIsRejected(t *testing.T) {
	t.Parallel()
	src := mapSource("dup", map[string]string{
		"1_a.sql":  `CREATE TABLE a (id INTEGER);`,
		"01_b.sql": `CREATE TABLE b (id INTEGER);`,
	})
	_, err := New(openTestDB(t), []Source{src}).MigrateToLatest(context.Background())
	var merr *herderr.MigrationError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, 1, merr.Version)
}

func TestRollbackIsBookkeepingOnly(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	r := New(db, []Source{Builtin()})
	ctx := context.Background()
	_, err := r.MigrateToLatest(ctx)
	require.NoError(t, err)

	res, err := r.Rollback(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, res.Removed)
	assert.Equal(t, 3, res.To)

	res, err = r.Rollback(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, res.Removed)
	assert.False(t, res.SchemaReverted)
	assert.Equal(t, RollbackNote, res.Note)

	v, err := r.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	// Column added by 003 is still there.
	var n int
	require.NoError(t, db.Get(&n, `SELECT COUNT(*) FROM pragma_table_info('tasks') WHERE name='blocked_reason'`))
	assert.Equal(t, 1, n)

	_, err = r.Rollback(ctx, -1)
	assert.True(t, herderr.IsValidation(err))
}

func TestStatusReportsHistoryAndPending(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	src := mapSource("mem", map[string]string{
		"1_a.sql": `CREATE TABLE a (id INTEGER);`,
		"2_b.sql": `CREATE TABLE b (id INTEGER);`,
	})
	r := New(db, []Source{src})
	ctx := context.Background()

	st, err := r.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Current)
	assert.Equal(t, []int{1, 2}, st.Pending)

	_, err = r.MigrateToLatest(ctx)
	require.NoError(t, err)
	st, err = r.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Current)
	assert.Equal(t, "mem", st.Source)
	require.Len(t, st.History, 2)
	assert.Equal(t, 1, st.History[0].Version)
	assert.Equal(t, 2, st.History[1].Version)
	assert.False(t, st.History[0].AppliedAt.IsZero())
	assert.Empty(t, st.Pending)
}

func TestParseVersion(t *testing.T) {
	t.Parallel()
	cases := map[string]int{"001_init.sql": 1, "42_x_y.sql": 42}
	for name, want := range cases {
		v, ok := parseVersion(name)
		assert.True(t, ok, name)
		assert.Equal(t, want, v, name)
	}
	for _, name := range []string{"init.sql", "_x.sql", "1a_x.sql", "1_x.txt", "0_zero.sql", "12.sql"} {
		_, ok := parseVersion(name)
		assert.False(t, ok, name)
	}
}

func TestDefaultSearchPathHonoursEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvDir, dir)
	path := DefaultSearchPath("/home/x")
	require.NotEmpty(t, path)
	assert.Equal(t, filepath.Clean(dir), path[0].Label)
	assert.Equal(t, "builtin", path[len(path)-1].Label)
}
