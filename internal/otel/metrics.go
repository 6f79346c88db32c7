package otel

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/captaindev404/prd-tools-sub001/pkg/models"
)

type instruments struct {
	meter       metric.Meter
	taskOps     metric.Int64Counter
	dispatches  metric.Int64Counter
	events      metric.Int64Counter
	busyRetries metric.Int64Counter
	opDuration  metric.Float64Histogram
}

var (
	instMu sync.RWMutex
	inst   *instruments
)

func initInstruments(m metric.Meter) error {
	var (
		in  = &instruments{meter: m}
		err error
	)
	in.taskOps, err = m.Int64Counter("prd_task_operations_total", metric.WithDescription("Total task operations (create, complete, status, sync, etc.)"))
	if err != nil {
		return err
	}
	in.dispatches, err = m.Int64Counter("prd_dispatch_total", metric.WithDescription("GetNextTask calls by outcome"))
	if err != nil {
		return err
	}
	in.events, err = m.Int64Counter("prd_events_total", metric.WithDescription("Lifecycle events handed to the sink"))
	if err != nil {
		return err
	}
	in.busyRetries, err = m.Int64Counter("prd_busy_retries_total", metric.WithDescription("Transactions retried after SQLITE_BUSY"))
	if err != nil {
		return err
	}
	in.opDuration, err = m.Float64Histogram("prd_store_op_duration_seconds", metric.WithDescription("Store operation duration in seconds"))
	if err != nil {
		return err
	}
	instMu.Lock()
	inst = in
	instMu.Unlock()
	return nil
}

func current() *instruments {
	instMu.RLock()
	defer instMu.RUnlock()
	return inst
}

// RecordTaskOp records a task operation and the status it left the task in.
func RecordTaskOp(ctx context.Context, op string, status models.TaskStatus) {
	in := current()
	if in == nil {
		return
	}
	in.taskOps.Add(ctx, 1, metric.WithAttributes(AttrOp.String(op), AttrStatus.String(string(status))))
}

// RecordDispatch records one dispatch attempt: "claimed", "empty" or "rejected".
func RecordDispatch(ctx context.Context, outcome string) {
	if in := current(); in != nil {
		in.dispatches.Add(ctx, 1, metric.WithAttributes(AttrOutcome.String(outcome)))
	}
}

func RecordEvent(ctx context.Context, kind string) {
	if in := current(); in != nil {
		in.events.Add(ctx, 1, metric.WithAttributes(AttrKind.String(kind)))
	}
}

func RecordBusyRetry(ctx context.Context) {
	if in := current(); in != nil {
		in.busyRetries.Add(ctx, 1)
	}
}

// RecordOpDuration records how long a store operation took, retries included.
func RecordOpDuration(ctx context.Context, op string, d time.Duration) {
	if in := current(); in != nil {
		in.opDuration.Record(ctx, d.Seconds(), metric.WithAttributes(AttrOp.String(op)))
	}
}

// StatsFunc reports the per-status task counts for the prd_tasks gauge.
type StatsFunc func(ctx context.Context) (models.Stats, error)

// RegisterTaskGauge registers a prd_tasks gauge observed through stats.
// Call after InitMeterProvider.
func RegisterTaskGauge(stats StatsFunc) error {
	in := current()
	if in == nil || stats == nil {
		return nil
	}
	gauge, err := in.meter.Int64ObservableGauge("prd_tasks", metric.WithDescription("Number of tasks by status"))
	if err != nil {
		return err
	}
	_, err = in.meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		s, err := stats(ctx)
		if err != nil {
			return err
		}
		o.ObserveInt64(gauge, int64(s.Pending), metric.WithAttributes(AttrStatus.String(string(models.TaskPending))))
		o.ObserveInt64(gauge, int64(s.InProgress), metric.WithAttributes(AttrStatus.String(string(models.TaskInProgress))))
		o.ObserveInt64(gauge, int64(s.Completed), metric.WithAttributes(AttrStatus.String(string(models.TaskCompleted))))
		o.ObserveInt64(gauge, int64(s.Blocked), metric.WithAttributes(AttrStatus.String(string(models.TaskBlocked))))
		o.ObserveInt64(gauge, int64(s.Cancelled), metric.WithAttributes(AttrStatus.String(string(models.TaskCancelled))))
		return nil
	}, gauge)
	return err
}
