// Package id defines the identity formats used across the engine.
//
// Runtime identifiers are process-unique, human-readable strings built
// from class names and nanosecond timestamps. A monotonic process-wide
// sequence breaks ties so an identifier, once assigned, is never reused
// even when two jobs are created within the same nanosecond.
//
// Job classes may additionally carry a ClassUUID, a stable identifier
// that survives process restarts and is used by persistent schedule
// records to name the class to instantiate.
package id

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// lastStamp is the process-wide high-water mark for issued stamps.
var lastStamp atomic.Int64

// stamp returns a strictly increasing nanosecond value. When two calls
// land in the same nanosecond the later one is bumped past the earlier,
// so stamps double as uniqueness tiebreakers.
func stamp() int64 {
	for {
		now := time.Now().UnixNano()
		prev := lastStamp.Load()
		if now <= prev {
			now = prev + 1
		}
		if lastStamp.CompareAndSwap(prev, now) {
			return now
		}
	}
}

// JobID is the process-unique runtime identifier of a job instance,
// in the format "ClassName-classNS-instanceNS".
type JobID string

// NewJobID builds a runtime identifier for an instance of the named
// class. classNS is the nanosecond stamp assigned to the class at
// registration time.
func NewJobID(className string, classNS int64) JobID {
	return JobID(fmt.Sprintf("%s-%d-%d", className, classNS, stamp()))
}

func (j JobID) String() string { return string(j) }

// IsNil reports whether the identifier is the zero value.
func (j JobID) IsNil() bool { return j == "" }

// ClassName extracts the class name component.
func (j JobID) ClassName() string {
	s := string(j)
	if i := strings.IndexByte(s, '-'); i > 0 {
		return s[:i]
	}
	return s
}

// ManagerID is the runtime identifier of a manager, in the format
// "seq-createdNS" (two numeric fields).
type ManagerID string

var managerSeq atomic.Int64

// NewManagerID builds a manager identifier.
func NewManagerID() ManagerID {
	return ManagerID(fmt.Sprintf("%d-%d", managerSeq.Add(1), time.Now().UnixNano()))
}

func (m ManagerID) String() string { return string(m) }

// ScheduleID identifies a schedule record:
// "{manager_id}-{target_ns}-{schedule_ns}". Since a manager identifier
// is itself two numeric fields, a schedule identifier is always four
// dash-delimited numeric fields.
type ScheduleID string

// NewScheduleID builds a schedule identifier from its components.
func NewScheduleID(mgr ManagerID, targetNS, scheduleNS int64) ScheduleID {
	return ScheduleID(fmt.Sprintf("%s-%d-%d", mgr, targetNS, scheduleNS))
}

func (s ScheduleID) String() string { return string(s) }

// TargetNS returns the target-timestamp field, or 0 if malformed.
func (s ScheduleID) TargetNS() int64 {
	parts := strings.Split(string(s), "-")
	if len(parts) != 4 {
		return 0
	}
	n, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// ParseScheduleID validates the four-numeric-field format.
func ParseScheduleID(s string) (ScheduleID, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 4 {
		return "", fmt.Errorf("id: schedule identifier %q: want 4 dash-delimited fields, got %d", s, len(parts))
	}
	for i, p := range parts {
		if _, err := strconv.ParseInt(p, 10, 64); err != nil {
			return "", fmt.Errorf("id: schedule identifier %q: field %d is not numeric", s, i)
		}
	}
	return ScheduleID(s), nil
}

// ClassUUID is the stable cross-process identifier of a job class,
// referenced by persistent schedule records.
type ClassUUID = uuid.UUID

// NewClassUUID generates a random class UUID.
func NewClassUUID() ClassUUID { return uuid.New() }

// ParseClassUUID parses the canonical UUID string form.
func ParseClassUUID(s string) (ClassUUID, error) { return uuid.Parse(s) }

// NilClassUUID is the zero class UUID, meaning "no persistent identity".
var NilClassUUID = uuid.Nil

// Stamp exposes the monotonic nanosecond stamp for callers that need
// creation timestamps consistent with identifier ordering.
func Stamp() int64 { return stamp() }
