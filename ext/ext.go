// Package ext defines the extension system of the engine.
// Extensions are notified of lifecycle events (job registered, stopped,
// schedule fired, etc.) and can react to them — logging, metrics,
// auditing.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/pygame-community/snakecore-jobs/event"
	"github.com/pygame-community/snakecore-jobs/id"
	"github.com/pygame-community/snakecore-jobs/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobInitialized is called after a job's one-shot init hook succeeds.
type JobInitialized interface {
	OnJobInitialized(ctx context.Context, c *job.Core) error
}

// JobRegistered is called after a job is registered with the manager.
type JobRegistered interface {
	OnJobRegistered(ctx context.Context, c *job.Core) error
}

// JobStarted is called after a job's activation begins.
type JobStarted interface {
	OnJobStarted(ctx context.Context, c *job.Core) error
}

// JobStopped is called each time an activation winds down to STOPPED,
// with the derived stop reason.
type JobStopped interface {
	OnJobStopped(ctx context.Context, c *job.Core, reason job.StopReason) error
}

// JobCompleted is called when a job reaches the successful terminal
// state. elapsed measures from registration to completion.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, c *job.Core, elapsed time.Duration) error
}

// JobKilled is called when a job reaches the forced terminal state.
type JobKilled interface {
	OnJobKilled(ctx context.Context, c *job.Core) error
}

// OutputFieldSet is called after a job writes one of its output fields.
type OutputFieldSet interface {
	OnOutputFieldSet(ctx context.Context, c *job.Core, field string) error
}

// ──────────────────────────────────────────────────
// Guarding hooks
// ──────────────────────────────────────────────────

// GuardSet is called when a guardian claims exclusivity over a job.
type GuardSet interface {
	OnGuardSet(ctx context.Context, guardian, target id.JobID) error
}

// GuardCleared is called when a guard is released, including cascaded
// releases at guardian termination.
type GuardCleared interface {
	OnGuardCleared(ctx context.Context, guardian, target id.JobID) error
}

// ──────────────────────────────────────────────────
// Schedule hooks
// ──────────────────────────────────────────────────

// ScheduleCreated is called after a schedule record enters the table.
type ScheduleCreated interface {
	OnScheduleCreated(ctx context.Context, sid id.ScheduleID) error
}

// ScheduleFired is called when the scheduling pass instantiates a job
// from a due schedule record.
type ScheduleFired interface {
	OnScheduleFired(ctx context.Context, sid id.ScheduleID, jobID id.JobID) error
}

// ScheduleFailed is called when firing a due schedule record fails.
type ScheduleFailed interface {
	OnScheduleFailed(ctx context.Context, sid id.ScheduleID, err error) error
}

// ScheduleRemoved is called when a schedule record leaves the table,
// whether removed explicitly or spent.
type ScheduleRemoved interface {
	OnScheduleRemoved(ctx context.Context, sid id.ScheduleID) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// EventDispatched is called after an event is routed to its receivers.
type EventDispatched interface {
	OnEventDispatched(ctx context.Context, kind event.Type, receivers int) error
}

// Shutdown is called during graceful manager shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
