// Package store is the prd coordination store: tasks, agents and the
// dispatch that hands pending work to polling agents, on one SQLite file.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/captaindev404/prd-tools-sub001/internal/events"
	"github.com/captaindev404/prd-tools-sub001/internal/herderr"
	"github.com/captaindev404/prd-tools-sub001/internal/migrate"
	"github.com/captaindev404/prd-tools-sub001/internal/otel"
	"github.com/captaindev404/prd-tools-sub001/internal/resolve"
	"github.com/captaindev404/prd-tools-sub001/pkg/models"
)

const maxBusyRetries = 5

// Options configures Open. The zero value uses the builtin migrations, a
// no-op sink and the default milestones.
type Options struct {
	// SearchPath is where migration units are looked up; nil means builtin only.
	SearchPath []migrate.Source
	Sink       events.Sink
	// Milestones are completion percentages that emit progress events.
	// nil means models.DefaultMilestones; an empty slice disables them.
	Milestones []int
	Now        func() time.Time
}

// Store is safe for concurrent use by multiple goroutines and processes.
type Store struct {
	db         *sqlx.DB
	runner     *migrate.Runner
	sink       events.Sink
	milestones []int
	now        func() time.Time
}

// DSN builds the connection string used for a store file.
func DSN(path string) string {
	return "file:" + path +
		"?_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_txlock=immediate"
}

// Open opens (creating if needed) the store file at path and migrates it
// to the latest schema.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, herderr.Validationf("store path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	db, err := sqlx.Open("sqlite", DSN(path))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}

	runner := migrate.New(db, opts.SearchPath)
	if applied, err := runner.MigrateToLatest(ctx); err != nil {
		_ = db.Close()
		return nil, err
	} else if len(applied) > 0 {
		slog.Info("schema migrated", "path", path, "applied", applied)
	}

	s := &Store{db: db, runner: runner, sink: opts.Sink, milestones: opts.Milestones, now: opts.Now}
	if s.sink == nil {
		s.sink = events.Nop{}
	}
	if s.milestones == nil {
		s.milestones = models.DefaultMilestones
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Migrations exposes the runner bound to this store's database.
func (s *Store) Migrations() *migrate.Runner { return s.runner }

// txn is the state of one write transaction. Events queued on it are
// delivered only if the transaction commits.
type txn struct {
	tx         *sqlx.Tx
	res        *resolve.Resolver
	now        time.Time
	milestones []int
	events     []models.Event
}

func (t *txn) emit(ev models.Event) {
	ev.At = t.now
	t.events = append(t.events, ev)
}

// withTx runs fn in an immediate transaction, retrying the whole unit when
// SQLite reports the database busy. fn must be safe to run more than once.
func (s *Store) withTx(ctx context.Context, op string, fn func(t *txn) error) error {
	start := time.Now()
	var committed []models.Event
	err := retryOnBusy(ctx, maxBusyRetries, func() error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()
		t := &txn{tx: tx, res: resolve.New(tx), now: s.now(), milestones: s.milestones}
		if err := fn(t); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		committed = t.events
		return nil
	})
	otel.RecordOpDuration(ctx, op, time.Since(start))
	if err != nil {
		return err
	}
	events.Deliver(ctx, s.sink, committed)
	return nil
}

// retryOnBusy retries f when SQLite returns BUSY or LOCKED, with
// exponential backoff and jitter on top of the driver's busy_timeout.
func retryOnBusy(ctx context.Context, maxRetries int, f func() error) error {
	const baseDelay = 50 * time.Millisecond
	const maxDelay = 500 * time.Millisecond

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = f()
		if err == nil || !isBusy(err) || attempt == maxRetries {
			return err
		}
		otel.RecordBusyRetry(ctx)
		delay := baseDelay << uint(attempt)
		if delay > maxDelay {
			delay = maxDelay
		}
		delay = delay - delay/4 + time.Duration(rand.Intn(int(delay/2)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

func isBusy(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}

func isConstraint(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
