package manager

import (
	"fmt"

	jobs "github.com/pygame-community/snakecore-jobs"
	"github.com/pygame-community/snakecore-jobs/id"
)

// opFloor is the minimum invoker level per operation kind. Invokers
// below the floor are denied regardless of target.
var opFloor = map[jobs.OpKind]jobs.PermLevel{
	jobs.OpFind:          jobs.PermLowest,
	jobs.OpDispatchEvent: jobs.PermLow,
	jobs.OpCreate:        jobs.PermLow,
	jobs.OpInitialize:    jobs.PermLow,
	jobs.OpRegister:      jobs.PermLow,
	jobs.OpStart:         jobs.PermLow,
	jobs.OpRestart:       jobs.PermMedium,
	jobs.OpStop:          jobs.PermMedium,
	jobs.OpKill:          jobs.PermMedium,
	jobs.OpGuard:         jobs.PermMedium,
	jobs.OpUnguard:       jobs.PermMedium,
	jobs.OpSchedule:      jobs.PermMedium,
	jobs.OpUnschedule:    jobs.PermMedium,
}

// permTarget is the target half of a permission check: the level the
// target is (or will be) registered at, and who created it. Class-scoped
// operations (CREATE) pass the class level with the invoker as creator,
// which makes creating at one's own level an ownership case.
type permTarget struct {
	id      id.JobID
	level   jobs.PermLevel
	creator id.JobID
}

// verify is the single permission gate every cross-job operation passes
// before mutating state. The host (zero invoker) bypasses it. Above the
// per-op floor: lower-level targets are fair game; same-or-higher-level
// targets require ownership; and targets registered at HIGH or above are
// untouchable by invokers below HIGH, ownership or not.
// Caller holds m.mu.
func (m *Manager) verify(invoker id.JobID, op jobs.OpKind, tgt *permTarget) error {
	if invoker.IsNil() {
		return nil
	}
	j, ok := m.jobs[invoker]
	if !ok {
		return &jobs.PermissionError{
			Invoker: invoker.String(),
			Op:      op,
			Reason:  "invoker is not a registered job",
		}
	}
	level := j.JobCore().PermLevel()

	if floor := opFloor[op]; level < floor {
		return &jobs.PermissionError{
			Invoker: invoker.String(),
			Op:      op,
			Reason:  fmt.Sprintf("level %s is below the %s floor %s", level, op, floor),
		}
	}
	// Pure observation carries no target rules: any registered job may
	// look up any other.
	if op == jobs.OpFind || tgt == nil {
		return nil
	}

	if tgt.level >= jobs.PermHigh && level < jobs.PermHigh {
		return &jobs.PermissionError{
			Invoker: invoker.String(),
			Op:      op,
			Target:  tgt.id.String(),
			Reason:  fmt.Sprintf("%s invokers cannot act on jobs at %s", level, tgt.level),
		}
	}
	if tgt.level < level {
		return nil
	}
	// Same or higher level within the bracket: ownership required.
	if tgt.creator == invoker {
		return nil
	}
	return &jobs.PermissionError{
		Invoker: invoker.String(),
		Op:      op,
		Target:  tgt.id.String(),
		Reason:  fmt.Sprintf("acting on a %s target at level %s requires having created it", op, tgt.level),
	}
}

// targetOf builds the permission target for a registered or pending job.
// Caller holds m.mu; returns nil when the job is unknown.
func (m *Manager) targetOf(jobID id.JobID) *permTarget {
	if j, ok := m.jobs[jobID]; ok {
		c := j.JobCore()
		return &permTarget{id: jobID, level: c.PermLevel(), creator: c.Creator()}
	}
	if p, ok := m.pending[jobID]; ok {
		return &permTarget{id: jobID, level: p.level, creator: p.creator}
	}
	return nil
}

// Can is the boolean probing form of the permission gate, used by
// proxies for non-fatal capability checks. target may be the zero
// identifier for target-less operations.
func (m *Manager) Can(invoker id.JobID, op jobs.OpKind, target id.JobID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	var tgt *permTarget
	if !target.IsNil() {
		if tgt = m.targetOf(target); tgt == nil {
			return false
		}
	}
	return m.verify(invoker, op, tgt) == nil
}
