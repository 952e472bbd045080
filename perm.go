package jobs

import "fmt"

// PermLevel is an ordered trust tier governing which cross-job manager
// operations an invoker may perform. Levels compare with the usual
// integer operators; higher is more trusted.
type PermLevel int

const (
	// PermLowest jobs can only observe; they may not mutate other jobs.
	PermLowest PermLevel = iota
	// PermLow jobs may dispatch events and create and start jobs, but
	// not stop, kill, guard, or schedule.
	PermLow
	// PermMedium is the default level: every operation is open, subject
	// to the ownership rule for same-or-higher-level targets.
	PermMedium
	// PermHigh marks the upper bracket: jobs registered at PermHigh or
	// above cannot be acted on by invokers below PermHigh.
	PermHigh
	// PermHighest jobs may act on anything below system level.
	PermHighest
	// PermSystem is reserved for the manager's own internal job.
	PermSystem
)

// PermDefault is the level assigned to job classes registered without an
// explicit level.
const PermDefault = PermMedium

var permLevelNames = map[PermLevel]string{
	PermLowest:  "LOWEST",
	PermLow:     "LOW",
	PermMedium:  "MEDIUM",
	PermHigh:    "HIGH",
	PermHighest: "HIGHEST",
	PermSystem:  "SYSTEM",
}

func (p PermLevel) String() string {
	if name, ok := permLevelNames[p]; ok {
		return name
	}
	return fmt.Sprintf("PermLevel(%d)", int(p))
}

// Valid reports whether p is one of the six defined levels.
func (p PermLevel) Valid() bool {
	_, ok := permLevelNames[p]
	return ok
}

// ParsePermLevel parses a level name as produced by String.
func ParsePermLevel(s string) (PermLevel, error) {
	for level, name := range permLevelNames {
		if name == s {
			return level, nil
		}
	}
	return PermLowest, fmt.Errorf("jobs: unknown permission level %q", s)
}

// OpKind identifies a manager operation for permission verification.
type OpKind int

const (
	OpCreate OpKind = iota
	OpInitialize
	OpRegister
	OpStart
	OpRestart
	OpStop
	OpKill
	OpGuard
	OpUnguard
	OpFind
	OpDispatchEvent
	OpSchedule
	OpUnschedule
)

var opKindNames = [...]string{
	OpCreate:        "CREATE",
	OpInitialize:    "INITIALIZE",
	OpRegister:      "REGISTER",
	OpStart:         "START",
	OpRestart:       "RESTART",
	OpStop:          "STOP",
	OpKill:          "KILL",
	OpGuard:         "GUARD",
	OpUnguard:       "UNGUARD",
	OpFind:          "FIND",
	OpDispatchEvent: "DISPATCH_EVENT",
	OpSchedule:      "SCHEDULE",
	OpUnschedule:    "UNSCHEDULE",
}

func (k OpKind) String() string {
	if int(k) < len(opKindNames) {
		return opKindNames[k]
	}
	return fmt.Sprintf("OpKind(%d)", int(k))
}
