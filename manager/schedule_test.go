package manager_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	jobs "github.com/pygame-community/snakecore-jobs"
	"github.com/pygame-community/snakecore-jobs/id"
	"github.com/pygame-community/snakecore-jobs/job"
	"github.com/pygame-community/snakecore-jobs/manager"
)

// scheduleRecorder counts schedule lifecycle hook firings.
type scheduleRecorder struct {
	mu      sync.Mutex
	fired   int
	failed  int
	removed int
	jobIDs  []id.JobID
}

func (r *scheduleRecorder) Name() string { return "schedule-recorder" }

func (r *scheduleRecorder) OnScheduleFired(_ context.Context, _ id.ScheduleID, jid id.JobID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fired++
	r.jobIDs = append(r.jobIDs, jid)
	return nil
}

func (r *scheduleRecorder) OnScheduleFailed(_ context.Context, _ id.ScheduleID, _ error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed++
	return nil
}

func (r *scheduleRecorder) OnScheduleRemoved(_ context.Context, _ id.ScheduleID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed++
	return nil
}

func (r *scheduleRecorder) counts() (fired, failed, removed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fired, r.failed, r.removed
}

// completionRecorder captures cores as they complete.
type completionRecorder struct {
	mu    sync.Mutex
	cores []*job.Core
}

func (r *completionRecorder) Name() string { return "completion-recorder" }

func (r *completionRecorder) OnJobCompleted(_ context.Context, c *job.Core, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cores = append(r.cores, c)
	return nil
}

func (r *completionRecorder) completed() []*job.Core {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*job.Core(nil), r.cores...)
}

func TestSchedule_OneShotFiresOnce(t *testing.T) {
	rec := &scheduleRecorder{}
	done := &completionRecorder{}
	m := newManager(t, manager.WithExtension(rec), manager.WithExtension(done))

	cls := echoClass()
	if err := m.RegisterClass(cls, jobs.PermMedium); err != nil {
		t.Fatalf("RegisterClass: %v", err)
	}

	sid, err := m.CreateJobSchedule(host, manager.ScheduleSpec{
		ClassUUID: cls.UUID,
		Args:      map[string]any{"message": "scheduled"},
	})
	if err != nil {
		t.Fatalf("CreateJobSchedule: %v", err)
	}
	if !m.HasJobSchedule(sid) {
		t.Fatal("schedule must be visible right after creation")
	}

	waitFor(t, func() bool {
		fired, _, removed := rec.counts()
		return fired == 1 && removed == 1
	}, "one-shot firing and removal")

	if m.HasJobSchedule(sid) {
		t.Fatal("one-shot schedule must be gone after firing")
	}

	waitFor(t, func() bool { return len(done.completed()) == 1 }, "scheduled job completion")
	c := done.completed()[0]
	if c.ScheduleID() != sid {
		t.Fatalf("scheduled job must carry its schedule identifier: got %s, want %s", c.ScheduleID(), sid)
	}
	if v, err := c.Outputs().Field("result"); err != nil || v != "scheduled" {
		t.Fatalf("scheduled job output: %v, %v", v, err)
	}

	// No further firings.
	time.Sleep(30 * time.Millisecond)
	if fired, _, _ := rec.counts(); fired != 1 {
		t.Fatalf("one-shot schedule fired %d times", fired)
	}
}

func TestSchedule_MaxRecurrences(t *testing.T) {
	rec := &scheduleRecorder{}
	m := newManager(t, manager.WithExtension(rec))

	cls := echoClass()
	if err := m.RegisterClass(cls, jobs.PermMedium); err != nil {
		t.Fatalf("RegisterClass: %v", err)
	}

	sid, err := m.CreateJobSchedule(host, manager.ScheduleSpec{
		ClassUUID:      cls.UUID,
		RecurInterval:  time.Millisecond,
		MaxRecurrences: 3,
		Args:           map[string]any{"message": "tick"},
	})
	if err != nil {
		t.Fatalf("CreateJobSchedule: %v", err)
	}

	waitFor(t, func() bool {
		fired, _, removed := rec.counts()
		return fired == 3 && removed == 1
	}, "three firings then removal")

	if m.HasJobSchedule(sid) {
		t.Fatal("exhausted schedule must be gone")
	}
	time.Sleep(30 * time.Millisecond)
	if fired, _, _ := rec.counts(); fired != 3 {
		t.Fatalf("schedule fired %d times, want 3", fired)
	}
}

func TestSchedule_UnknownClassGoesPostmortem(t *testing.T) {
	rec := &scheduleRecorder{}
	m := newManager(t, manager.WithExtension(rec))

	sid, err := m.CreateJobSchedule(host, manager.ScheduleSpec{
		ClassUUID: id.NewClassUUID(),
	})
	if err != nil {
		t.Fatalf("CreateJobSchedule: %v", err)
	}

	waitFor(t, func() bool {
		_, failed, _ := rec.counts()
		return failed == 1
	}, "firing failure")

	if m.HasJobSchedule(sid) {
		t.Fatal("failed schedule must leave the live set")
	}
	if n := m.JobScheduleCount(); n != 0 {
		t.Fatalf("postmortem records must not count, got %d", n)
	}

	// The failure is final: no retry on later passes.
	time.Sleep(30 * time.Millisecond)
	if _, failed, _ := rec.counts(); failed != 1 {
		t.Fatalf("failed schedule was retried: %d failures", failed)
	}
}

func TestSchedule_RemoveBeforeDue(t *testing.T) {
	m := newManager(t)
	cls := echoClass()
	if err := m.RegisterClass(cls, jobs.PermMedium); err != nil {
		t.Fatalf("RegisterClass: %v", err)
	}

	sid, err := m.CreateJobSchedule(host, manager.ScheduleSpec{
		ClassUUID: cls.UUID,
		TargetAt:  time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateJobSchedule: %v", err)
	}
	if n := m.JobScheduleCount(); n != 1 {
		t.Fatalf("expected 1 schedule, got %d", n)
	}

	if err := m.RemoveJobSchedule(host, sid); err != nil {
		t.Fatalf("RemoveJobSchedule: %v", err)
	}
	if m.HasJobSchedule(sid) {
		t.Fatal("removed schedule still visible")
	}
	if err := m.RemoveJobSchedule(host, sid); !errors.Is(err, jobs.ErrScheduleNotFound) {
		t.Fatalf("expected ErrScheduleNotFound, got %v", err)
	}
}

func TestSchedule_RemoveGatedByCreator(t *testing.T) {
	m := newManager(t)
	if err := m.RegisterClass(idleClass("Med"), jobs.PermMedium); err != nil {
		t.Fatalf("RegisterClass: %v", err)
	}
	owner := spawn(t, m, host, "Med")
	peer := spawn(t, m, host, "Med")

	sid, err := m.CreateJobSchedule(owner, manager.ScheduleSpec{
		ClassUUID: id.NewClassUUID(),
		TargetAt:  time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateJobSchedule: %v", err)
	}

	// While the scheduling job lives, a same-level peer cannot remove
	// its schedule; the creator can.
	var permErr *jobs.PermissionError
	if err := m.RemoveJobSchedule(peer, sid); !errors.As(err, &permErr) {
		t.Fatalf("expected PermissionError for peer removal, got %v", err)
	}
	if err := m.RemoveJobSchedule(owner, sid); err != nil {
		t.Fatalf("creator removal: %v", err)
	}
}

func TestSchedule_RequiresClassUUID(t *testing.T) {
	m := newManager(t)
	if _, err := m.CreateJobSchedule(host, manager.ScheduleSpec{}); !errors.Is(err, jobs.ErrClassNotFound) {
		t.Fatalf("expected ErrClassNotFound for missing UUID, got %v", err)
	}
}

func TestSchedule_PermissionFloor(t *testing.T) {
	m := newManager(t)
	if err := m.RegisterClass(idleClass("Low"), jobs.PermLow); err != nil {
		t.Fatalf("RegisterClass: %v", err)
	}
	low := spawn(t, m, host, "Low")

	var permErr *jobs.PermissionError
	if _, err := m.CreateJobSchedule(low, manager.ScheduleSpec{ClassUUID: id.NewClassUUID()}); !errors.As(err, &permErr) {
		t.Fatalf("expected PermissionError below the SCHEDULE floor, got %v", err)
	}
}
