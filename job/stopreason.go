package job

import "fmt"

// StopReason classifies why a job is stopping or last stopped.
type StopReason int

const (
	// StopReasonNone means the job is not stopping and has not stopped.
	StopReasonNone StopReason = iota
	// StopReasonError: a hook error drove the job into a forced stop.
	StopReasonError
	// StopReasonRunLimit: the run-count limit was reached.
	StopReasonRunLimit
	// StopReasonInternalRestart: the job restarted itself.
	StopReasonInternalRestart
	// StopReasonInternalCompletion: the job completed itself.
	StopReasonInternalCompletion
	// StopReasonInternalKilling: the job killed itself.
	StopReasonInternalKilling
	// StopReasonInternal: the job stopped itself without a qualifier.
	StopReasonInternal
	// StopReasonExternalRestart: an external invoker restarted the job.
	StopReasonExternalRestart
	// StopReasonExternalCompletion: an external invoker completed the job.
	StopReasonExternalCompletion
	// StopReasonExternalKilling: an external invoker killed the job.
	StopReasonExternalKilling
	// StopReasonExternal: an external invoker stopped the job.
	StopReasonExternal
)

var stopReasonNames = [...]string{
	StopReasonNone:               "NONE",
	StopReasonError:              "ERROR",
	StopReasonRunLimit:           "RUN_LIMIT",
	StopReasonInternalRestart:    "INTERNAL_RESTART",
	StopReasonInternalCompletion: "INTERNAL_COMPLETION",
	StopReasonInternalKilling:    "INTERNAL_KILLING",
	StopReasonInternal:           "INTERNAL",
	StopReasonExternalRestart:    "EXTERNAL_RESTART",
	StopReasonExternalCompletion: "EXTERNAL_COMPLETION",
	StopReasonExternalKilling:    "EXTERNAL_KILLING",
	StopReasonExternal:           "EXTERNAL",
}

func (r StopReason) String() string {
	if int(r) < len(stopReasonNames) {
		return stopReasonNames[r]
	}
	return fmt.Sprintf("StopReason(%d)", int(r))
}

// deriveStopReason is the priority-ordered derivation: error beats the
// run-count limit, which beats the told-to flags; within the flags the
// internal/external split comes first, then restart > completion >
// killing > plain. Called fresh on every query while stopping; the
// result is snapshotted once at cleanup.
func deriveStopReason(status Status, runErr error, runLimitHit bool) StopReason {
	if !status.Any(StatusStopping | StatusStopped) {
		return StopReasonNone
	}
	if runErr != nil {
		return StopReasonError
	}
	if runLimitHit {
		return StopReasonRunLimit
	}
	if status.Has(StatusStopSelf) {
		switch {
		case status.Has(StatusToldToRestart):
			return StopReasonInternalRestart
		case status.Has(StatusToldToComplete):
			return StopReasonInternalCompletion
		case status.Has(StatusToldToBeKilled):
			return StopReasonInternalKilling
		default:
			return StopReasonInternal
		}
	}
	switch {
	case status.Has(StatusToldToRestart):
		return StopReasonExternalRestart
	case status.Has(StatusToldToComplete):
		return StopReasonExternalCompletion
	case status.Has(StatusToldToBeKilled):
		return StopReasonExternalKilling
	default:
		return StopReasonExternal
	}
}
