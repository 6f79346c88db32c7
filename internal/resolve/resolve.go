// Package resolve maps loosely-typed human input onto canonical task and
// agent keys, and renders keys back into their display form.
//
// Input shapes are tried in a fixed order: display id ("#12", "12", "A3"),
// then exact agent name, then canonical key literal or prefix.
package resolve

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/captaindev404/prd-tools-sub001/internal/herderr"
	"github.com/captaindev404/prd-tools-sub001/pkg/models"
)

const (
	kindTask  = "task"
	kindAgent = "agent"
)

// Resolver runs lookups against a *sqlx.DB or a *sqlx.Tx.
type Resolver struct {
	Q sqlx.QueryerContext
}

func New(q sqlx.QueryerContext) *Resolver {
	return &Resolver{Q: q}
}

// TaskID resolves "#12", "12", a full key or a unique key prefix.
func (r *Resolver) TaskID(ctx context.Context, input string) (string, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return "", herderr.Validationf("task identifier required")
	}
	rest := strings.TrimPrefix(raw, "#")
	if n, ok := parseDisplayID(rest); ok {
		id, err := r.byDisplayID(ctx, "tasks", n)
		if err != nil || id != "" {
			return id, err
		}
	}
	return r.byKey(ctx, kindTask, "tasks", rest, raw)
}

// AgentID resolves "A3", "a3", "#3", "3", an agent name, a full key or a
// unique key prefix.
func (r *Resolver) AgentID(ctx context.Context, input string) (string, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return "", herderr.Validationf("agent identifier required")
	}
	rest := raw
	switch raw[0] {
	case '#', 'A', 'a':
		rest = raw[1:]
	}
	if n, ok := parseDisplayID(rest); ok {
		id, err := r.byDisplayID(ctx, "agents", n)
		if err != nil || id != "" {
			return id, err
		}
	}
	var id string
	err := sqlx.GetContext(ctx, r.Q, &id, `SELECT id FROM agents WHERE name = ?`, raw)
	switch {
	case err == nil:
		return id, nil
	case !errors.Is(err, sql.ErrNoRows):
		return "", err
	}
	return r.byKey(ctx, kindAgent, "agents", raw, raw)
}

// FormatTaskID renders a task key as "#<display_id>", or its short prefix
// when the task has no display id.
func (r *Resolver) FormatTaskID(ctx context.Context, key string) (string, error) {
	n, err := r.displayID(ctx, "tasks", key)
	if err != nil {
		return "", err
	}
	return TaskLabel(n, key), nil
}

// FormatAgentID renders an agent key as "A<display_id>" or its short prefix.
func (r *Resolver) FormatAgentID(ctx context.Context, key string) (string, error) {
	n, err := r.displayID(ctx, "agents", key)
	if err != nil {
		return "", err
	}
	return AgentLabel(n, key), nil
}

// TaskLabel formats without a lookup.
func TaskLabel(displayID int64, key string) string {
	if displayID > 0 {
		return "#" + strconv.FormatInt(displayID, 10)
	}
	return Short(key)
}

func AgentLabel(displayID int64, key string) string {
	if displayID > 0 {
		return "A" + strconv.FormatInt(displayID, 10)
	}
	return Short(key)
}

// Short is the display-only 8-character key prefix. It is lossy and never
// accepted back as a unique reference.
func Short(key string) string {
	if len(key) <= models.ShortKeyLength {
		return key
	}
	return key[:models.ShortKeyLength]
}

func (r *Resolver) byDisplayID(ctx context.Context, table string, n int64) (string, error) {
	var id string
	err := sqlx.GetContext(ctx, r.Q, &id, fmt.Sprintf(`SELECT id FROM %s WHERE display_id = ?`, table), n)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return id, err
}

func (r *Resolver) displayID(ctx context.Context, table, key string) (int64, error) {
	var n sql.NullInt64
	err := sqlx.GetContext(ctx, r.Q, &n, fmt.Sprintf(`SELECT display_id FROM %s WHERE id = ?`, table), key)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return n.Int64, nil
}

// byKey does a literal lookup for full-length input and a prefix match for
// shorter input.
func (r *Resolver) byKey(ctx context.Context, kind, table, key, input string) (string, error) {
	key = strings.ToLower(key)
	if key == "" || len(key) > models.KeyLength {
		return "", &herderr.NotFoundError{Kind: kind, Input: input}
	}
	if len(key) == models.KeyLength {
		var id string
		err := sqlx.GetContext(ctx, r.Q, &id, fmt.Sprintf(`SELECT id FROM %s WHERE id = ?`, table), key)
		if errors.Is(err, sql.ErrNoRows) {
			return "", &herderr.NotFoundError{Kind: kind, Input: input}
		}
		return id, err
	}
	var ids []string
	q := fmt.Sprintf(`SELECT id FROM %s WHERE id LIKE ? ESCAPE '\' ORDER BY id LIMIT ?`, table)
	if err := sqlx.SelectContext(ctx, r.Q, &ids, q, escapeLike(key)+"%", models.DefaultPrefixMatches); err != nil {
		return "", err
	}
	switch len(ids) {
	case 0:
		return "", &herderr.NotFoundError{Kind: kind, Input: input}
	case 1:
		return ids[0], nil
	}
	var count int
	if err := sqlx.GetContext(ctx, r.Q, &count, fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE id LIKE ? ESCAPE '\'`, table), escapeLike(key)+"%"); err != nil {
		return "", err
	}
	return "", &herderr.AmbiguousError{Kind: kind, Input: input, Matches: count}
}

func parseDisplayID(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
