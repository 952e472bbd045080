package job

import (
	"context"
	"time"

	"github.com/pygame-community/snakecore-jobs/id"
	"github.com/pygame-community/snakecore-jobs/loop"
)

// Job is the interface every managed job implements. Embed *Core to get
// the state machine and default hooks, then override the hooks the job
// needs:
//
//	type Echo struct {
//	    *job.Core
//	}
//
//	func (e *Echo) OnRun(ctx context.Context) error {
//	    ...
//	}
//
// Hooks are invoked by the job's loop, never concurrently with each
// other for one job. The error hooks receive the causing error and must
// not raise further; panics inside them are recovered and logged.
type Job interface {
	// JobCore returns the embedded state machine.
	JobCore() *Core

	// OnInit is the one-shot async setup hook.
	OnInit(ctx context.Context) error
	// OnStart runs once per activation, before the first run iteration.
	OnStart(ctx context.Context) error
	// OnRun is the periodic work hook.
	OnRun(ctx context.Context) error
	// OnStop runs once per activation, after the last run iteration.
	OnStop(ctx context.Context) error

	// OnStartError is invoked with an error raised by OnStart.
	OnStartError(ctx context.Context, err error)
	// OnRunError is invoked with an error raised by OnRun.
	OnRunError(ctx context.Context, err error)
	// OnStopError is invoked with an error raised by OnStop, or with a
	// stop-layer timeout during a stop the job did not itself initiate.
	OnStopError(ctx context.Context, err error)
}

// Class describes a registrable job class: its constructor, identity,
// cadence, and declared outputs. A Class value is immutable once
// registered with a manager.
type Class struct {
	// Name is the class name folded into runtime identifiers.
	Name string

	// UUID is the stable cross-process identity used by persistent
	// schedule records. Zero means the class cannot be scheduled
	// persistently.
	UUID id.ClassUUID

	// Singleton restricts the class to at most one live registered
	// instance per manager.
	Singleton bool

	// New constructs a fresh, unattached instance.
	New func() Job

	// Interval is the cadence between run iterations. Ignored when
	// ClockTimes is set.
	Interval time.Duration

	// ClockTimes runs iterations at fixed daily times instead of an
	// interval.
	ClockTimes []loop.ClockTime

	// MaxRuns bounds run iterations per activation; 0 = unlimited.
	MaxRuns int64

	// RetryOn is the whitelist of transient error kinds that trigger
	// loop reconnect-with-backoff instead of a stop.
	RetryOn []error

	// OutputFields and OutputQueues declare the job's output names.
	// Empty slices mean the job exposes no outputs of that kind.
	OutputFields []string
	OutputQueues []string
}

// Binding is the narrow surface a manager exposes to the cores it owns.
// It exists so the job package does not import the manager package.
type Binding interface {
	// JobDone is called exactly once from a core's terminal cleanup,
	// after done-waiters were resolved. The manager deregisters the
	// job, cascades unguards, and detaches proxies.
	JobDone(c *Core)

	// JobStopped is called each time an activation winds down to
	// STOPPED, with the snapshotted stop reason. For terminal stops it
	// precedes JobDone.
	JobStopped(c *Core, reason StopReason)

	// OutputFieldSet is called after the job writes an output field.
	OutputFieldSet(c *Core, field string)
}
