package job

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jobs "github.com/pygame-community/snakecore-jobs"
	"github.com/pygame-community/snakecore-jobs/id"
)

// doneRecorder is a minimal manager binding counting terminal callbacks.
type doneRecorder struct {
	mu    sync.Mutex
	calls int
	last  id.JobID
}

func (r *doneRecorder) JobDone(c *Core) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.last = c.Identifier()
}

func (r *doneRecorder) JobStopped(_ *Core, _ StopReason) {}

func (r *doneRecorder) OutputFieldSet(_ *Core, _ string) {}

func (r *doneRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// attach wires a job value for testing the way a manager would.
func attach(t *testing.T, j Job, cls *Class) *Core {
	t.Helper()
	c := j.JobCore()
	c.Attach(j, cls, id.NewJobID(cls.Name, id.Stamp()), nil, testLogger(), 2*time.Second)
	return c
}

func register(t *testing.T, c *Core, rec *doneRecorder) {
	t.Helper()
	if err := c.RunInit(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	c.MarkRegistered(rec, jobs.PermDefault, "")
}

func awaitDone(t *testing.T, c *Core) Status {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := c.AwaitDone(ctx)
	if err != nil {
		t.Fatalf("AwaitDone failed: %v (status %v)", err, st)
	}
	return st
}

// echoJob completes itself after a number of runs.
type echoJob struct {
	*Core
	completeAfter int64
	runs          atomic.Int64
}

func (j *echoJob) OnRun(_ context.Context) error {
	if j.runs.Add(1) >= j.completeAfter {
		return j.Complete(true)
	}
	return nil
}

func echoClass() *Class {
	return &Class{Name: "Echo", Interval: 5 * time.Millisecond}
}

func TestRunInitTransitions(t *testing.T) {
	j := &echoJob{Core: NewCore(), completeAfter: 1}
	c := attach(t, j, echoClass())

	if !c.Status().Has(StatusFresh) {
		t.Fatalf("fresh job status = %v", c.Status())
	}
	if err := c.RunInit(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if !c.Status().Has(StatusInitialized) {
		t.Errorf("status after init = %v, want INITIALIZED", c.Status())
	}
	if c.InitializedAt().IsZero() {
		t.Errorf("InitializedAt not stamped")
	}
	if err := c.RunInit(context.Background()); !errors.Is(err, jobs.ErrInitialized) {
		t.Errorf("second init = %v, want ErrInitialized", err)
	}
}

type failInitJob struct {
	*Core
}

func (j *failInitJob) OnInit(_ context.Context) error {
	return errors.New("no backend")
}

func TestRunInitFailureRestoresFresh(t *testing.T) {
	j := &failInitJob{Core: NewCore()}
	c := attach(t, j, &Class{Name: "FailInit", Interval: time.Second})

	if err := c.RunInit(context.Background()); err == nil {
		t.Fatal("expected init error")
	}
	st := c.Status()
	if !st.Has(StatusInitFailed) || !st.Has(StatusFresh) {
		t.Errorf("status after failed init = %v, want INIT_FAILED|FRESH", st)
	}
	// A failed init may be retried.
	if err := c.RunInit(context.Background()); err == nil {
		t.Errorf("retried init unexpectedly succeeded")
	}
}

func TestStartRequiresInitAndRegistration(t *testing.T) {
	j := &echoJob{Core: NewCore(), completeAfter: 1}
	c := attach(t, j, echoClass())

	if _, err := c.Start(context.Background()); !errors.Is(err, jobs.ErrNotInitialized) {
		t.Errorf("start before init = %v, want ErrNotInitialized", err)
	}
	if err := c.RunInit(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if _, err := c.Start(context.Background()); !errors.Is(err, jobs.ErrNotRegistered) {
		t.Errorf("start before registration = %v, want ErrNotRegistered", err)
	}
}

func TestSelfCompletionLifecycle(t *testing.T) {
	rec := &doneRecorder{}
	j := &echoJob{Core: NewCore(), completeAfter: 3}
	c := attach(t, j, echoClass())
	register(t, c, rec)

	started, err := c.Start(context.Background())
	if err != nil || !started {
		t.Fatalf("start = %v, %v", started, err)
	}

	st := awaitDone(t, c)
	if !st.Has(StatusCompleted) {
		t.Errorf("terminal status = %v, want COMPLETED", st)
	}
	if st.Has(StatusKilled) {
		t.Errorf("completed job must not carry KILLED: %v", st)
	}
	if got := c.LastStopReason(); got != StopReasonInternalCompletion {
		t.Errorf("LastStopReason = %v, want INTERNAL_COMPLETION", got)
	}
	if got := j.runs.Load(); got != 3 {
		t.Errorf("run hook invocations = %d, want 3", got)
	}
	if rec.count() != 1 {
		t.Errorf("JobDone calls = %d, want exactly 1", rec.count())
	}
	if c.DoneAt().IsZero() {
		t.Errorf("DoneAt not stamped")
	}

	// Terminal states absorb further transitions.
	if _, err := c.Start(context.Background()); err != nil {
		t.Errorf("start on done job should be a no-op, got %v", err)
	}
	if err := c.Kill(false); !errors.Is(err, jobs.ErrJobDone) {
		t.Errorf("kill on done job = %v, want ErrJobDone", err)
	}
}

type tickJob struct {
	*Core
	runs    atomic.Int64
	stopRan atomic.Bool
}

func (j *tickJob) OnRun(_ context.Context) error {
	j.runs.Add(1)
	return nil
}

func (j *tickJob) OnStop(_ context.Context) error {
	j.stopRan.Store(true)
	return nil
}

func TestExternalKill(t *testing.T) {
	rec := &doneRecorder{}
	j := &tickJob{Core: NewCore()}
	c := attach(t, j, &Class{Name: "Tick", Interval: 5 * time.Millisecond})
	register(t, c, rec)

	if _, err := c.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitFor(t, func() bool { return j.runs.Load() >= 1 })

	if err := c.Kill(false); err != nil {
		t.Fatalf("kill failed: %v", err)
	}
	st := awaitDone(t, c)
	if !st.Has(StatusKilled) {
		t.Errorf("terminal status = %v, want KILLED", st)
	}
	if !j.stopRan.Load() {
		t.Errorf("stop hook did not run during kill")
	}
	if got := c.LastStopReason(); got != StopReasonExternalKilling {
		t.Errorf("LastStopReason = %v, want EXTERNAL_KILLING", got)
	}
	if rec.count() != 1 {
		t.Errorf("JobDone calls = %d, want 1", rec.count())
	}
}

func TestStartupKillRunsStopHook(t *testing.T) {
	rec := &doneRecorder{}
	j := &tickJob{Core: NewCore()}
	c := attach(t, j, &Class{Name: "Tick", Interval: time.Hour})
	register(t, c, rec)

	// Never started: the kill awakens the job just long enough to run
	// its stop hook.
	if err := c.Kill(false); err != nil {
		t.Fatalf("kill failed: %v", err)
	}
	st := awaitDone(t, c)
	if !st.Has(StatusKilled) {
		t.Errorf("terminal status = %v, want KILLED", st)
	}
	if !j.stopRan.Load() {
		t.Errorf("stop hook skipped on startup kill")
	}
	if j.runs.Load() != 0 {
		t.Errorf("run hook fired %d times on a never-started job", j.runs.Load())
	}
}

type errJob struct {
	*Core
}

var errFlaky = errors.New("flaky dependency")

func (j *errJob) OnRun(_ context.Context) error { return errFlaky }

func TestRunErrorStopsActivation(t *testing.T) {
	rec := &doneRecorder{}
	j := &errJob{Core: NewCore()}
	c := attach(t, j, &Class{Name: "Err", Interval: 5 * time.Millisecond})
	register(t, c, rec)

	if _, err := c.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.AwaitStop(ctx); err != nil {
		t.Fatalf("AwaitStop failed: %v", err)
	}
	waitFor(t, func() bool { return c.Status().Has(StatusStopped) })

	if !errors.Is(c.RunError(), errFlaky) {
		t.Errorf("RunError = %v, want errFlaky", c.RunError())
	}
	if got := c.LastStopReason(); got != StopReasonError {
		t.Errorf("LastStopReason = %v, want ERROR", got)
	}
	if c.Status().Done() {
		t.Errorf("error stop must not be terminal: %v", c.Status())
	}
}

func TestRunLimitStop(t *testing.T) {
	rec := &doneRecorder{}
	j := &tickJob{Core: NewCore()}
	c := attach(t, j, &Class{Name: "Tick", Interval: 2 * time.Millisecond, MaxRuns: 2})
	register(t, c, rec)

	if _, err := c.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.AwaitStop(ctx); err != nil {
		t.Fatalf("AwaitStop failed: %v", err)
	}
	waitFor(t, func() bool { return c.Status().Has(StatusStopped) })

	if got := j.runs.Load(); got != 2 {
		t.Errorf("runs = %d, want 2", got)
	}
	if got := c.LastStopReason(); got != StopReasonRunLimit {
		t.Errorf("LastStopReason = %v, want RUN_LIMIT", got)
	}
}

func TestRestartPassesThroughStopped(t *testing.T) {
	rec := &doneRecorder{}
	j := &tickJob{Core: NewCore()}
	c := attach(t, j, &Class{Name: "Tick", Interval: 5 * time.Millisecond})
	register(t, c, rec)

	if _, err := c.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitFor(t, func() bool { return j.runs.Load() >= 1 })

	if err := c.Restart(false); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	waitFor(t, func() bool {
		return c.LastStopReason() == StopReasonExternalRestart && c.Status().Has(StatusRunning)
	})

	if rec.count() != 0 {
		t.Errorf("restart must not trigger terminal cleanup, JobDone calls = %d", rec.count())
	}

	if err := c.Kill(false); err != nil {
		t.Fatalf("kill after restart failed: %v", err)
	}
	awaitDone(t, c)
}

// slowJob blocks its first run iteration until released, keeping the
// job observably mid-run.
type slowJob struct {
	*Core
	started chan struct{}
	release chan struct{}
	runs    atomic.Int64
}

func (j *slowJob) OnRun(_ context.Context) error {
	if j.runs.Add(1) == 1 {
		close(j.started)
		<-j.release
	}
	return nil
}

func newSlowJob() *slowJob {
	return &slowJob{
		Core:    NewCore(),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func TestRestartUpgradesGracefulStop(t *testing.T) {
	rec := &doneRecorder{}
	j := newSlowJob()
	c := attach(t, j, &Class{Name: "Slow", Interval: time.Millisecond})
	register(t, c, rec)

	if _, err := c.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	<-j.started

	if !c.Stop(false, false) {
		t.Fatal("graceful stop not accepted")
	}
	// A pending graceful stop is upgraded into the restart, not a
	// reason to reject it.
	if err := c.Restart(false); err != nil {
		t.Fatalf("restart over graceful stop = %v", err)
	}
	if err := c.Restart(false); !errors.Is(err, jobs.ErrRestarting) {
		t.Errorf("second restart = %v, want ErrRestarting", err)
	}
	close(j.release)

	waitFor(t, func() bool {
		return c.LastStopReason() == StopReasonExternalRestart && c.Status().Has(StatusRunning)
	})
	if rec.count() != 0 {
		t.Errorf("restart must not trigger terminal cleanup, JobDone calls = %d", rec.count())
	}

	if err := c.Kill(false); err != nil {
		t.Fatalf("kill after restart failed: %v", err)
	}
	awaitDone(t, c)
}

func TestRestartRejectedDuringForcedStop(t *testing.T) {
	rec := &doneRecorder{}
	j := newSlowJob()
	c := attach(t, j, &Class{Name: "Slow", Interval: time.Millisecond})
	register(t, c, rec)

	if _, err := c.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	<-j.started

	if !c.Stop(true, false) {
		t.Fatal("forced stop not accepted")
	}
	if err := c.Restart(false); !errors.Is(err, jobs.ErrStopping) {
		t.Errorf("restart during forced stop = %v, want ErrStopping", err)
	}
	close(j.release)

	waitFor(t, func() bool { return c.Status().Has(StatusStopped) })
	if c.Status().Has(StatusRunning) {
		t.Errorf("rejected restart must not revive the job: %v", c.Status())
	}
}

func TestAwaitDoneTimeout(t *testing.T) {
	rec := &doneRecorder{}
	j := &tickJob{Core: NewCore()}
	c := attach(t, j, &Class{Name: "Tick", Interval: time.Hour})
	register(t, c, rec)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := c.AwaitDone(ctx); !errors.Is(err, jobs.ErrWaitTimeout) {
		t.Errorf("AwaitDone timeout = %v, want ErrWaitTimeout", err)
	}
}

func TestAwaitUnguard(t *testing.T) {
	rec := &doneRecorder{}
	j := &tickJob{Core: NewCore()}
	c := attach(t, j, &Class{Name: "Tick", Interval: time.Hour})
	register(t, c, rec)

	guardian := id.NewJobID("Guardian", id.Stamp())
	c.SetGuardian(guardian)
	if c.Guardian() != guardian {
		t.Fatalf("Guardian = %v, want %v", c.Guardian(), guardian)
	}

	released := make(chan error, 1)
	go func() {
		released <- c.AwaitUnguard(context.Background())
	}()
	time.Sleep(20 * time.Millisecond)

	c.ClearGuardian()
	select {
	case err := <-released:
		if err != nil {
			t.Errorf("AwaitUnguard after release = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("unguard waiter never resolved")
	}

	// A kill while guarded surfaces as ErrJobKilled to waiters.
	c.SetGuardian(guardian)
	killed := make(chan error, 1)
	go func() {
		killed <- c.AwaitUnguard(context.Background())
	}()
	time.Sleep(20 * time.Millisecond)

	if err := c.Kill(false); err != nil {
		t.Fatalf("kill failed: %v", err)
	}
	select {
	case err := <-killed:
		if !errors.Is(err, jobs.ErrJobKilled) {
			t.Errorf("AwaitUnguard after kill = %v, want ErrJobKilled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("unguard waiter never resolved after kill")
	}
}

func TestStopIsNoOpWhenNotRunning(t *testing.T) {
	rec := &doneRecorder{}
	j := &tickJob{Core: NewCore()}
	c := attach(t, j, &Class{Name: "Tick", Interval: time.Hour})
	register(t, c, rec)

	if c.Stop(false, false) {
		t.Errorf("Stop on a never-started job should be a no-op")
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition never held")
}
