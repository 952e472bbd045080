package jobs

import (
	"errors"
	"fmt"
)

var (
	// Not found errors.
	ErrJobNotFound      = errors.New("jobs: job not found")
	ErrClassNotFound    = errors.New("jobs: job class not registered")
	ErrScheduleNotFound = errors.New("jobs: schedule not found")

	// Conflict errors.
	ErrSingletonConflict = errors.New("jobs: singleton job class already has a live instance")
	ErrClassUUIDConflict = errors.New("jobs: job class UUID already registered")
	ErrScheduleExists    = errors.New("jobs: schedule data already present")

	// State errors.
	ErrNotInitialized = errors.New("jobs: job not initialized")
	ErrInitialized    = errors.New("jobs: job already initialized")
	ErrNotRegistered  = errors.New("jobs: job not registered")
	ErrRegistered     = errors.New("jobs: job already registered")
	ErrJobDone        = errors.New("jobs: job is done")
	ErrGuarded        = errors.New("jobs: job is guarded by another job")
	ErrNotGuarded     = errors.New("jobs: job is not guarded")
	ErrRestarting     = errors.New("jobs: job is already restarting")
	ErrStopping       = errors.New("jobs: job is force-stopping")

	// Output errors.
	ErrOutputFieldSet   = errors.New("jobs: output field already set")
	ErrOutputFieldUnset = errors.New("jobs: output field not set")
	ErrQueueCleared     = errors.New("jobs: output queue cleared")
	ErrQueueExhausted   = errors.New("jobs: output queue exhausted")
	ErrUnknownOutput    = errors.New("jobs: unknown output name")

	// Wait errors. Timeouts must stay distinguishable from a
	// cancellation caused by the job being killed.
	ErrWaitTimeout = errors.New("jobs: wait timed out")
	ErrJobKilled   = errors.New("jobs: job was killed")

	// Proxy errors.
	ErrProxyDetached = errors.New("jobs: proxy detached")

	// Manager errors.
	ErrManagerShutdown = errors.New("jobs: manager is shut down")
	ErrNoStore         = errors.New("jobs: no schedule store configured")
)

// PermissionError reports a cross-job operation denied by the permission
// gate. Match with errors.As.
type PermissionError struct {
	Invoker string
	Op      OpKind
	Target  string
	Reason  string
}

func (e *PermissionError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("jobs: permission denied: %s cannot %s: %s", e.Invoker, e.Op, e.Reason)
	}
	return fmt.Sprintf("jobs: permission denied: %s cannot %s %s: %s", e.Invoker, e.Op, e.Target, e.Reason)
}

// StateError reports an operation attempted against a job in an
// incompatible lifecycle state. It wraps the matching sentinel so both
// errors.Is(err, jobs.ErrJobDone) and errors.As forms work.
type StateError struct {
	Job string
	Err error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%v (job %s)", e.Err, e.Job)
}

func (e *StateError) Unwrap() error { return e.Err }

// NewStateError wraps sentinel err with the offending job identifier.
func NewStateError(jobID string, err error) *StateError {
	return &StateError{Job: jobID, Err: err}
}

// OutputError reports a misuse of an output field or queue.
type OutputError struct {
	Job   string
	Field string
	Err   error
}

func (e *OutputError) Error() string {
	return fmt.Sprintf("%v (job %s, output %q)", e.Err, e.Job, e.Field)
}

func (e *OutputError) Unwrap() error { return e.Err }
