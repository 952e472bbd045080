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

func TestJobProxy_DetachesToSnapshot(t *testing.T) {
	m := newManager(t)
	if err := m.RegisterClass(echoClass(), jobs.PermMedium); err != nil {
		t.Fatalf("RegisterClass: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p, err := m.CreateAndRegisterJob(ctx, host, "Echo", map[string]any{"message": "snap"})
	if err != nil {
		t.Fatalf("CreateAndRegisterJob: %v", err)
	}
	if _, err := p.AwaitDone(ctx); err != nil {
		t.Fatalf("AwaitDone: %v", err)
	}
	waitFor(t, func() bool { return !p.Alive() }, "proxy detachment")

	// Reads keep working off the snapshot.
	if !p.Status().Has(job.StatusCompleted) {
		t.Fatalf("expected COMPLETED, got %s", p.Status())
	}
	if v, err := p.OutputField("result"); err != nil || v != "snap" {
		t.Fatalf("snapshot output: %v, %v", v, err)
	}
	if p.RunCount() != 1 {
		t.Fatalf("expected 1 run, got %d", p.RunCount())
	}
	if p.DoneAt().IsZero() {
		t.Fatal("snapshot must carry the terminal timestamp")
	}
	if p.ClassName() != "Echo" {
		t.Fatalf("unexpected class %q", p.ClassName())
	}

	// Mutations fail.
	if err := p.Start(ctx); !errors.Is(err, jobs.ErrJobDone) {
		t.Fatalf("expected ErrJobDone from Start, got %v", err)
	}
	if err := p.Kill(); !errors.Is(err, jobs.ErrJobDone) {
		t.Fatalf("expected ErrJobDone from Kill, got %v", err)
	}
	if err := p.Guard(); !errors.Is(err, jobs.ErrJobDone) {
		t.Fatalf("expected ErrJobDone from Guard, got %v", err)
	}

	// Waits resolve immediately.
	if st, err := p.AwaitDone(ctx); err != nil || !st.Has(job.StatusCompleted) {
		t.Fatalf("AwaitDone on snapshot: %s, %v", st, err)
	}
	if err := p.AwaitUnguard(ctx); err != nil {
		t.Fatalf("AwaitUnguard on snapshot: %v", err)
	}
}

func TestJobProxy_UnsetFieldAfterDeath(t *testing.T) {
	m := newManager(t)
	if err := m.RegisterClass(echoClass(), jobs.PermMedium); err != nil {
		t.Fatalf("RegisterClass: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// No "message" argument: the field never gets set.
	p, err := m.CreateAndRegisterJob(ctx, host, "Echo", nil)
	if err != nil {
		t.Fatalf("CreateAndRegisterJob: %v", err)
	}
	if _, err := p.AwaitDone(ctx); err != nil {
		t.Fatalf("AwaitDone: %v", err)
	}
	waitFor(t, func() bool { return !p.Alive() }, "proxy detachment")

	if _, err := p.OutputField("result"); !errors.Is(err, jobs.ErrOutputFieldUnset) {
		t.Fatalf("expected ErrOutputFieldUnset, got %v", err)
	}
	if _, err := p.AwaitOutputField(ctx, "result"); !errors.Is(err, jobs.ErrOutputFieldUnset) {
		t.Fatalf("expected ErrOutputFieldUnset from await, got %v", err)
	}
}

func TestJobProxy_QueueProxyConsumption(t *testing.T) {
	m := newManager(t)
	if err := m.RegisterClass(echoClass(), jobs.PermMedium); err != nil {
		t.Fatalf("RegisterClass: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	jid, err := m.CreateJob(host, "Echo", map[string]any{"message": "x", "runs": 3})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := m.InitializeJob(ctx, host, jid); err != nil {
		t.Fatalf("InitializeJob: %v", err)
	}
	if err := m.RegisterJob(host, jid); err != nil {
		t.Fatalf("RegisterJob: %v", err)
	}
	p, err := m.FindJob(host, jid)
	if err != nil {
		t.Fatalf("FindJob: %v", err)
	}
	qp, err := p.OutputQueueProxy("lines", true)
	if err != nil {
		t.Fatalf("OutputQueueProxy: %v", err)
	}

	if err := m.StartJob(ctx, host, jid); err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	for i := 0; i < 3; i++ {
		v, err := qp.Next(ctx)
		if err != nil {
			t.Fatalf("Next[%d]: %v", i, err)
		}
		if v != "x" {
			t.Fatalf("Next[%d] = %v, want x", i, v)
		}
	}

	waitFor(t, func() bool { return !p.Alive() }, "job death")
	if _, err := p.OutputQueueProxy("lines", false); !errors.Is(err, jobs.ErrJobDone) {
		t.Fatalf("expected ErrJobDone opening a queue proxy post-death, got %v", err)
	}
}

// spawnerJob uses its owner-bound manager handle to spawn an echo child
// and completes once the child is started.
type spawnerJob struct {
	*job.Core

	mu    sync.Mutex
	proxy *manager.Proxy
	child id.JobID
}

func (s *spawnerJob) UseManager(p *manager.Proxy) {
	s.mu.Lock()
	s.proxy = p
	s.mu.Unlock()
}

func (s *spawnerJob) OnRun(ctx context.Context) error {
	s.mu.Lock()
	proxy := s.proxy
	s.mu.Unlock()
	if proxy == nil {
		return nil
	}
	child, err := proxy.CreateAndRegisterJob(ctx, "Echo", map[string]any{"message": "child"})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.child = child.Identifier()
	s.mu.Unlock()
	return s.Complete(true)
}

func (s *spawnerJob) childID() id.JobID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.child
}

func TestProxy_OwnerBoundSpawning(t *testing.T) {
	done := &completionRecorder{}
	m := newManager(t, manager.WithExtension(done))
	if err := m.RegisterClass(echoClass(), jobs.PermMedium); err != nil {
		t.Fatalf("RegisterClass: %v", err)
	}
	var spawner *spawnerJob
	cls := &job.Class{
		Name: "Spawner",
		New: func() job.Job {
			spawner = &spawnerJob{Core: job.NewCore()}
			return spawner
		},
		Interval: time.Millisecond,
	}
	if err := m.RegisterClass(cls, jobs.PermMedium); err != nil {
		t.Fatalf("RegisterClass: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p, err := m.CreateAndRegisterJob(ctx, host, "Spawner", nil)
	if err != nil {
		t.Fatalf("CreateAndRegisterJob: %v", err)
	}
	if spawner.proxy == nil {
		t.Fatal("ProxyReceiver must get its handle at registration")
	}
	if got := spawner.proxy.OwnerID(); got != p.Identifier() {
		t.Fatalf("proxy owner = %s, want %s", got, p.Identifier())
	}

	if _, err := p.AwaitDone(ctx); err != nil {
		t.Fatalf("AwaitDone: %v", err)
	}

	// Both the spawner and its child complete; the child carries the
	// spawner as creator.
	waitFor(t, func() bool { return len(done.completed()) == 2 }, "both completions")
	child := spawner.childID()
	var found bool
	for _, c := range done.completed() {
		if c.Identifier() == child {
			found = true
			if c.Creator() != p.Identifier() {
				t.Fatalf("child creator = %s, want %s", c.Creator(), p.Identifier())
			}
		}
	}
	if !found {
		t.Fatal("child job never completed")
	}
}
