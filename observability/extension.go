package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/pygame-community/snakecore-jobs/event"
	"github.com/pygame-community/snakecore-jobs/ext"
	"github.com/pygame-community/snakecore-jobs/id"
	"github.com/pygame-community/snakecore-jobs/job"
)

// meterName is the instrumentation scope name for engine metrics.
const meterName = "github.com/pygame-community/snakecore-jobs"

// Compile-time interface checks.
var (
	_ ext.Extension       = (*MetricsExtension)(nil)
	_ ext.JobInitialized  = (*MetricsExtension)(nil)
	_ ext.JobRegistered   = (*MetricsExtension)(nil)
	_ ext.JobStarted      = (*MetricsExtension)(nil)
	_ ext.JobStopped      = (*MetricsExtension)(nil)
	_ ext.JobCompleted    = (*MetricsExtension)(nil)
	_ ext.JobKilled       = (*MetricsExtension)(nil)
	_ ext.GuardSet        = (*MetricsExtension)(nil)
	_ ext.GuardCleared    = (*MetricsExtension)(nil)
	_ ext.ScheduleFired   = (*MetricsExtension)(nil)
	_ ext.ScheduleFailed  = (*MetricsExtension)(nil)
	_ ext.EventDispatched = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle metrics. Register it
// with a manager to track registration rates, completion and kill
// counts, stop reasons, guard churn, schedule outcomes and event fanout.
type MetricsExtension struct {
	initialized metric.Int64Counter
	registered  metric.Int64Counter
	started     metric.Int64Counter
	stopped     metric.Int64Counter
	completed   metric.Int64Counter
	killed      metric.Int64Counter
	guards      metric.Int64UpDownCounter
	schedFired  metric.Int64Counter
	schedFailed metric.Int64Counter
	dispatched  metric.Int64Counter
	lifetime    metric.Float64Histogram
}

// NewMetricsExtension creates a MetricsExtension using the global OTel
// MeterProvider. Without a configured provider the instruments are
// noops, so registering the extension is always safe.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter. This variant allows injecting a specific
// MeterProvider for testing.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	e := &MetricsExtension{}
	// On error the OTel API returns noop instruments, so the extension
	// degrades gracefully.
	e.initialized, _ = meter.Int64Counter("jobs.initialized",
		metric.WithDescription("Total jobs that passed initialization"),
		metric.WithUnit("{job}"))
	e.registered, _ = meter.Int64Counter("jobs.registered",
		metric.WithDescription("Total jobs registered"),
		metric.WithUnit("{job}"))
	e.started, _ = meter.Int64Counter("jobs.started",
		metric.WithDescription("Total job activations started"),
		metric.WithUnit("{activation}"))
	e.stopped, _ = meter.Int64Counter("jobs.stopped",
		metric.WithDescription("Total job activations stopped, by reason"),
		metric.WithUnit("{activation}"))
	e.completed, _ = meter.Int64Counter("jobs.completed",
		metric.WithDescription("Total jobs that reached the successful terminal state"),
		metric.WithUnit("{job}"))
	e.killed, _ = meter.Int64Counter("jobs.killed",
		metric.WithDescription("Total jobs that reached the forced terminal state"),
		metric.WithUnit("{job}"))
	e.guards, _ = meter.Int64UpDownCounter("jobs.guards.active",
		metric.WithDescription("Currently held job guards"),
		metric.WithUnit("{guard}"))
	e.schedFired, _ = meter.Int64Counter("jobs.schedules.fired",
		metric.WithDescription("Total schedule records fired"),
		metric.WithUnit("{firing}"))
	e.schedFailed, _ = meter.Int64Counter("jobs.schedules.failed",
		metric.WithDescription("Total schedule firings that failed"),
		metric.WithUnit("{firing}"))
	e.dispatched, _ = meter.Int64Counter("jobs.events.dispatched",
		metric.WithDescription("Total events dispatched through the manager"),
		metric.WithUnit("{event}"))
	e.lifetime, _ = meter.Float64Histogram("jobs.lifetime",
		metric.WithDescription("Registered lifetime of completed jobs in seconds"),
		metric.WithUnit("s"))
	return e
}

// Name implements ext.Extension.
func (e *MetricsExtension) Name() string { return "otel-metrics" }

func classAttr(c *job.Core) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("job_class", c.Class().Name))
}

// OnJobInitialized implements ext.JobInitialized.
func (e *MetricsExtension) OnJobInitialized(ctx context.Context, c *job.Core) error {
	e.initialized.Add(ctx, 1, classAttr(c))
	return nil
}

// OnJobRegistered implements ext.JobRegistered.
func (e *MetricsExtension) OnJobRegistered(ctx context.Context, c *job.Core) error {
	e.registered.Add(ctx, 1, classAttr(c))
	return nil
}

// OnJobStarted implements ext.JobStarted.
func (e *MetricsExtension) OnJobStarted(ctx context.Context, c *job.Core) error {
	e.started.Add(ctx, 1, classAttr(c))
	return nil
}

// OnJobStopped implements ext.JobStopped.
func (e *MetricsExtension) OnJobStopped(ctx context.Context, c *job.Core, reason job.StopReason) error {
	e.stopped.Add(ctx, 1, metric.WithAttributes(
		attribute.String("job_class", c.Class().Name),
		attribute.String("reason", reason.String()),
	))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (e *MetricsExtension) OnJobCompleted(ctx context.Context, c *job.Core, elapsed time.Duration) error {
	e.completed.Add(ctx, 1, classAttr(c))
	e.lifetime.Record(ctx, elapsed.Seconds(), classAttr(c))
	return nil
}

// OnJobKilled implements ext.JobKilled.
func (e *MetricsExtension) OnJobKilled(ctx context.Context, c *job.Core) error {
	e.killed.Add(ctx, 1, classAttr(c))
	return nil
}

// OnGuardSet implements ext.GuardSet.
func (e *MetricsExtension) OnGuardSet(ctx context.Context, _, _ id.JobID) error {
	e.guards.Add(ctx, 1)
	return nil
}

// OnGuardCleared implements ext.GuardCleared.
func (e *MetricsExtension) OnGuardCleared(ctx context.Context, _, _ id.JobID) error {
	e.guards.Add(ctx, -1)
	return nil
}

// OnScheduleFired implements ext.ScheduleFired.
func (e *MetricsExtension) OnScheduleFired(ctx context.Context, _ id.ScheduleID, _ id.JobID) error {
	e.schedFired.Add(ctx, 1)
	return nil
}

// OnScheduleFailed implements ext.ScheduleFailed.
func (e *MetricsExtension) OnScheduleFailed(ctx context.Context, _ id.ScheduleID, _ error) error {
	e.schedFailed.Add(ctx, 1)
	return nil
}

// OnEventDispatched implements ext.EventDispatched.
func (e *MetricsExtension) OnEventDispatched(ctx context.Context, kind event.Type, receivers int) error {
	e.dispatched.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", string(kind)),
		attribute.Int("receivers", receivers),
	))
	return nil
}
