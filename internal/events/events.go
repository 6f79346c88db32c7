// Package events is the boundary between the store and lifecycle consumers
// (hooks, notifications). The store calls a Sink after commit; a sink
// failure is logged and never rolls back the mutation that produced it.
package events

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/captaindev404/prd-tools-sub001/internal/otel"
	"github.com/captaindev404/prd-tools-sub001/pkg/models"
)

// Sink consumes lifecycle events.
type Sink interface {
	Notify(ctx context.Context, ev models.Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev models.Event) error

func (f SinkFunc) Notify(ctx context.Context, ev models.Event) error { return f(ctx, ev) }

// Nop discards events.
type Nop struct{}

func (Nop) Notify(context.Context, models.Event) error { return nil }

// Multi delivers to every sink and joins their errors.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, ev models.Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes each event as a structured log line.
type LogSink struct {
	Logger *slog.Logger
}

func (l LogSink) Notify(ctx context.Context, ev models.Event) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{"kind", ev.Kind, "task_id", ev.Task.ID, "display_id", ev.Task.DisplayID, "title", ev.Task.Title}
	if ev.Agent != nil {
		attrs = append(attrs, "agent", ev.Agent.Name)
	}
	if ev.Reason != "" {
		attrs = append(attrs, "reason", ev.Reason)
	}
	if ev.Kind == models.EventProgressMilestone {
		attrs = append(attrs, "percent", ev.Percent)
	}
	logger.InfoContext(ctx, "task event", attrs...)
	return nil
}

// Deliver hands events to sink one by one, logging failures.
func Deliver(ctx context.Context, sink Sink, evs []models.Event) {
	if sink == nil {
		return
	}
	for _, ev := range evs {
		otel.RecordEvent(ctx, string(ev.Kind))
		if err := sink.Notify(ctx, ev); err != nil {
			slog.Warn("event sink failed", "kind", ev.Kind, "task_id", ev.Task.ID, "err", err)
		}
	}
}

// Hub fans events out to in-process subscribers. Slow subscribers miss
// events instead of blocking the store.
type Hub struct {
	mu   sync.RWMutex
	subs map[chan models.Event]struct{}
	buf  int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{subs: make(map[chan models.Event]struct{}), buf: buffer}
}

func (h *Hub) Subscribe() chan models.Event {
	ch := make(chan models.Event, h.buf)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan models.Event) {
	h.mu.Lock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
	h.mu.Unlock()
}

func (h *Hub) Notify(_ context.Context, ev models.Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

// CrossedMilestones returns the milestones m (ascending) with
// before < m <= after, where before/after are completion percentages.
func CrossedMilestones(milestones []int, before, after float64) []int {
	var out []int
	for _, m := range milestones {
		if m <= 0 || m > 100 {
			continue
		}
		if before < float64(m) && float64(m) <= after {
			out = append(out, m)
		}
	}
	sort.Ints(out)
	return out
}
