package job

import "strings"

// Status is a bitset of job state flags. Flags are not mutually
// exclusive: a stopping job that was told to restart carries
// StatusStopping|StatusRestarting|StatusToldToStop|StatusToldToRestart
// at once. Keeping the flags in one integer lets flag-group checks read
// atomically under the core's lock.
type Status uint32

const (
	// StatusFresh marks a constructed, unattached job.
	StatusFresh Status = 1 << iota
	// StatusInitializing is set while the one-shot init hook runs.
	StatusInitializing
	// StatusInitialized is set once the init hook has succeeded.
	StatusInitialized
	// StatusInitFailed is set when the init hook returned an error.
	StatusInitFailed
	// StatusStarting is set from start until the first run iteration.
	StatusStarting
	// StatusRunning is set while the job is bound to a live loop.
	StatusRunning
	// StatusIdling is set between run iterations.
	StatusIdling
	// StatusStopping is set while the stop sequence is in progress.
	StatusStopping
	// StatusRestarting qualifies a stop that will re-start the job.
	StatusRestarting
	// StatusCompleting qualifies a stop that ends in StatusCompleted.
	StatusCompleting
	// StatusBeingKilled qualifies a stop that ends in StatusKilled.
	StatusBeingKilled
	// StatusStopped is set once the loop has fully wound down.
	StatusStopped
	// StatusCompleted is the successful terminal state.
	StatusCompleted
	// StatusKilled is the forced terminal state.
	StatusKilled

	// StatusToldToStop records that stop was requested.
	StatusToldToStop
	// StatusToldToRestart records that restart was requested.
	StatusToldToRestart
	// StatusToldToComplete records that completion was requested.
	StatusToldToComplete
	// StatusToldToBeKilled records that a kill was requested.
	StatusToldToBeKilled
	// StatusStopSelf records that the pending stop was initiated by
	// the job itself rather than an external invoker.
	StatusStopSelf
)

// statusNames is ordered by flag bit for deterministic String output.
var statusNames = []struct {
	flag Status
	name string
}{
	{StatusFresh, "FRESH"},
	{StatusInitializing, "INITIALIZING"},
	{StatusInitialized, "INITIALIZED"},
	{StatusInitFailed, "INIT_FAILED"},
	{StatusStarting, "STARTING"},
	{StatusRunning, "RUNNING"},
	{StatusIdling, "IDLING"},
	{StatusStopping, "STOPPING"},
	{StatusRestarting, "RESTARTING"},
	{StatusCompleting, "COMPLETING"},
	{StatusBeingKilled, "BEING_KILLED"},
	{StatusStopped, "STOPPED"},
	{StatusCompleted, "COMPLETED"},
	{StatusKilled, "KILLED"},
	{StatusToldToStop, "TOLD_TO_STOP"},
	{StatusToldToRestart, "TOLD_TO_RESTART"},
	{StatusToldToComplete, "TOLD_TO_COMPLETE"},
	{StatusToldToBeKilled, "TOLD_TO_BE_KILLED"},
	{StatusStopSelf, "STOP_SELF"},
}

// Has reports whether every flag in mask is set.
func (s Status) Has(mask Status) bool { return s&mask == mask }

// Any reports whether at least one flag in mask is set.
func (s Status) Any(mask Status) bool { return s&mask != 0 }

// Done reports whether the job reached a terminal absorbing state.
func (s Status) Done() bool { return s.Any(StatusCompleted | StatusKilled) }

func (s Status) String() string {
	if s == 0 {
		return "NONE"
	}
	var parts []string
	for _, entry := range statusNames {
		if s.Has(entry.flag) {
			parts = append(parts, entry.name)
		}
	}
	return strings.Join(parts, "|")
}
