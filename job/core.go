package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	jobs "github.com/pygame-community/snakecore-jobs"
	"github.com/pygame-community/snakecore-jobs/backoff"
	"github.com/pygame-community/snakecore-jobs/id"
	"github.com/pygame-community/snakecore-jobs/loop"
)

// Core is the per-job state machine. Concrete jobs embed *Core and the
// manager drives it: initialize → register → start → run iterations →
// stop/restart, or the terminal kill/complete. All exported methods are
// safe for concurrent use.
type Core struct {
	mu sync.Mutex

	self   Job
	class  *Class
	jobID  id.JobID
	logger *slog.Logger

	status    Status
	permLevel jobs.PermLevel
	mgr       Binding
	creator   id.JobID
	guardian  id.JobID
	guarded   map[id.JobID]struct{}

	// scheduleID stamps jobs instantiated by the scheduling pass with
	// their originating schedule.
	scheduleID id.ScheduleID

	args    map[string]any
	data    map[string]any
	outputs *OutputSet

	lp          *loop.Loop
	baseCtx     context.Context
	stopTimeout time.Duration

	runs           int64
	runErr         error
	runLimitHit    bool
	hardStop       bool
	lastStopReason StopReason

	createdAt     time.Time
	initializedAt time.Time
	registeredAt  time.Time
	startedAt     time.Time
	lastRunAt     time.Time
	stoppedAt     time.Time
	terminalAt    time.Time

	doneCh     chan struct{}
	stopDoneCh chan struct{}
	unguardCh  chan struct{}

	everStarted bool
}

// NewCore returns a fresh, unattached core. Class constructors call
// this; everything else is filled in by the manager via Attach and
// MarkRegistered.
func NewCore() *Core {
	return &Core{
		status:    StatusFresh,
		data:      make(map[string]any),
		guarded:   make(map[id.JobID]struct{}),
		doneCh:    make(chan struct{}),
		createdAt: time.Now().UTC(),
		logger:    slog.Default(),
	}
}

// Attach wires a freshly constructed core to its job value, class, and
// identity. Called once by the manager right after Class.New.
func (c *Core) Attach(self Job, cls *Class, jobID id.JobID, args map[string]any, logger *slog.Logger, stopTimeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.self = self
	c.class = cls
	c.jobID = jobID
	c.args = args
	if logger != nil {
		c.logger = logger.With(slog.String("job_id", jobID.String()))
	}
	c.stopTimeout = stopTimeout
	c.outputs = newOutputSet(c, cls.OutputFields, cls.OutputQueues)
}

// MarkRegistered binds the core to its manager. The permission level is
// immutable from this point on.
func (c *Core) MarkRegistered(mgr Binding, level jobs.PermLevel, creator id.JobID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mgr = mgr
	c.permLevel = level
	c.creator = creator
	c.registeredAt = time.Now().UTC()
}

// ──────────────────────────────────────────────────
// Accessors
// ──────────────────────────────────────────────────

// JobCore returns the core itself, satisfying the Job interface for
// values that embed *Core.
func (c *Core) JobCore() *Core { return c }

// Identifier returns the process-unique runtime identifier.
func (c *Core) Identifier() id.JobID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jobID
}

// Class returns the job's class descriptor.
func (c *Core) Class() *Class {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.class
}

// Status returns the current flag set.
func (c *Core) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// PermLevel returns the level assigned at registration.
func (c *Core) PermLevel() jobs.PermLevel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.permLevel
}

// Creator returns the identifier of the job that created this one, or
// the zero identifier for host-created jobs.
func (c *Core) Creator() id.JobID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creator
}

// Registered reports whether the core is attached to a manager.
func (c *Core) Registered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mgr != nil
}

// Args returns the constructor arguments the job was created with.
func (c *Core) Args() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.args
}

// SetData stores a value in the job's instance-data namespace.
func (c *Core) SetData(key string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = v
}

// GetData reads a value from the instance-data namespace.
func (c *Core) GetData(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok
}

// Outputs returns the job's output fields and queues.
func (c *Core) Outputs() *OutputSet { return c.outputs }

// binding returns the manager binding, or nil before registration.
func (c *Core) binding() Binding {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mgr
}

// Logger returns the job's structured logger.
func (c *Core) Logger() *slog.Logger { return c.logger }

// RunCount returns the number of completed run iterations across all
// activations.
func (c *Core) RunCount() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runs
}

// ScheduleID returns the originating schedule identifier, when the job
// was instantiated by the scheduling pass.
func (c *Core) ScheduleID() id.ScheduleID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scheduleID
}

// SetScheduleID stamps the originating schedule. Manager use.
func (c *Core) SetScheduleID(sid id.ScheduleID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scheduleID = sid
}

// CreatedAt / InitializedAt / RegisteredAt / StartedAt / LastRunAt /
// StoppedAt / DoneAt expose the lifecycle timestamps (zero when the
// corresponding transition has not happened).
func (c *Core) CreatedAt() time.Time     { c.mu.Lock(); defer c.mu.Unlock(); return c.createdAt }
func (c *Core) InitializedAt() time.Time { c.mu.Lock(); defer c.mu.Unlock(); return c.initializedAt }
func (c *Core) RegisteredAt() time.Time  { c.mu.Lock(); defer c.mu.Unlock(); return c.registeredAt }
func (c *Core) StartedAt() time.Time     { c.mu.Lock(); defer c.mu.Unlock(); return c.startedAt }
func (c *Core) LastRunAt() time.Time     { c.mu.Lock(); defer c.mu.Unlock(); return c.lastRunAt }
func (c *Core) StoppedAt() time.Time     { c.mu.Lock(); defer c.mu.Unlock(); return c.stoppedAt }
func (c *Core) DoneAt() time.Time        { c.mu.Lock(); defer c.mu.Unlock(); return c.terminalAt }

// ──────────────────────────────────────────────────
// Guard bookkeeping (driven by the manager)
// ──────────────────────────────────────────────────

// Guardian returns the identifier of the job holding a guard over this
// one, or the zero identifier.
func (c *Core) Guardian() id.JobID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.guardian
}

// SetGuardian records g as the exclusive guardian. Manager use.
func (c *Core) SetGuardian(g id.JobID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.guardian = g
	c.unguardCh = make(chan struct{})
}

// ClearGuardian drops the guard relation and resolves unguard waiters.
// Manager use.
func (c *Core) ClearGuardian() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.guardian = ""
	if c.unguardCh != nil {
		close(c.unguardCh)
		c.unguardCh = nil
	}
}

// AddGuarded / RemoveGuarded / Guarded track the set of jobs this job
// currently guards, for cascading unguard at termination. Manager use.
func (c *Core) AddGuarded(target id.JobID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.guarded[target] = struct{}{}
}

func (c *Core) RemoveGuarded(target id.JobID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.guarded, target)
}

func (c *Core) Guarded() []id.JobID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]id.JobID, 0, len(c.guarded))
	for j := range c.guarded {
		out = append(out, j)
	}
	return out
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// RunInit executes the one-shot init hook: FRESH → INITIALIZING →
// INITIALIZED, or INIT_FAILED on error.
func (c *Core) RunInit(ctx context.Context) error {
	c.mu.Lock()
	if c.status.Any(StatusInitialized | StatusInitializing) {
		jid := c.jobID
		c.mu.Unlock()
		return jobs.NewStateError(jid.String(), jobs.ErrInitialized)
	}
	c.status &^= StatusFresh
	c.status |= StatusInitializing
	c.mu.Unlock()

	err := c.invokeHook(ctx, "init", c.self.OnInit)

	c.mu.Lock()
	c.status &^= StatusInitializing
	if err != nil {
		c.status |= StatusInitFailed | StatusFresh
	} else {
		c.status |= StatusInitialized
		c.initializedAt = time.Now().UTC()
	}
	c.mu.Unlock()
	return err
}

// Start binds the job to its loop and begins an activation. Returns
// false (no error) when the job is already running or done, per the
// no-op contract.
func (c *Core) Start(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.status.Done() || c.status.Any(StatusStarting|StatusRunning|StatusStopping) {
		c.mu.Unlock()
		return false, nil
	}
	if !c.status.Has(StatusInitialized) {
		jid := c.jobID
		c.mu.Unlock()
		return false, jobs.NewStateError(jid.String(), jobs.ErrNotInitialized)
	}
	if c.mgr == nil {
		jid := c.jobID
		c.mu.Unlock()
		return false, jobs.NewStateError(jid.String(), jobs.ErrNotRegistered)
	}

	c.status &^= StatusStopped | StatusToldToStop | StatusToldToRestart |
		StatusToldToComplete | StatusToldToBeKilled | StatusStopSelf |
		StatusRestarting | StatusCompleting | StatusBeingKilled | StatusIdling
	c.status |= StatusStarting
	c.runErr = nil
	c.runLimitHit = false
	c.hardStop = false
	c.stopDoneCh = make(chan struct{})
	c.baseCtx = ctx
	c.startedAt = time.Now().UTC()
	c.everStarted = true

	if c.lp == nil {
		c.lp = c.buildLoop()
	}
	lp := c.lp
	c.mu.Unlock()

	if err := lp.Start(ctx); err != nil {
		c.mu.Lock()
		c.status &^= StatusStarting
		c.mu.Unlock()
		return false, err
	}
	return true, nil
}

// buildLoop assembles the periodic loop from the class cadence.
// Caller holds c.mu.
func (c *Core) buildLoop() *loop.Loop {
	opts := []loop.Option{
		loop.WithLogger(c.logger),
		loop.WithBeforeLoop(c.beforeLoop),
		loop.WithAfterLoop(c.afterLoop),
	}
	if len(c.class.ClockTimes) > 0 {
		opts = append(opts, loop.WithClockTimes(c.class.ClockTimes...))
	} else {
		opts = append(opts, loop.WithInterval(c.class.Interval))
	}
	if c.class.MaxRuns > 0 {
		opts = append(opts, loop.WithMaxRuns(c.class.MaxRuns))
	}
	if len(c.class.RetryOn) > 0 {
		opts = append(opts, loop.WithReconnect(backoff.DefaultStrategy(), c.class.RetryOn...))
	}
	return loop.New(c.runIteration, opts...)
}

// beforeLoop runs the start hook. An error force-stops the activation
// before any run iteration.
func (c *Core) beforeLoop(ctx context.Context) error {
	err := c.invokeHook(ctx, "start", c.self.OnStart)
	if err != nil {
		c.invokeErrHook(ctx, "start_error", c.self.OnStartError, err)
		c.mu.Lock()
		c.runErr = err
		c.mu.Unlock()
		return err
	}
	c.mu.Lock()
	c.status &^= StatusStarting
	c.status |= StatusRunning | StatusIdling
	c.mu.Unlock()
	return nil
}

// runIteration is the loop callback: one run-hook invocation.
func (c *Core) runIteration(ctx context.Context) error {
	c.mu.Lock()
	c.status &^= StatusIdling
	c.lastRunAt = time.Now().UTC()
	c.mu.Unlock()

	err := c.invokeHook(ctx, "run", c.self.OnRun)

	c.mu.Lock()
	if err == nil {
		c.runs++
	}
	c.status |= StatusIdling
	c.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		c.invokeErrHook(ctx, "run_error", c.self.OnRunError, err)
		if !c.retryable(err) {
			c.mu.Lock()
			c.runErr = err
			c.mu.Unlock()
		}
	}
	return err
}

func (c *Core) retryable(err error) bool {
	for _, target := range c.class.RetryOn {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// afterLoop winds an activation down: stop hook, then finalize.
func (c *Core) afterLoop(ctx context.Context) {
	c.mu.Lock()
	if c.class.MaxRuns > 0 && c.lp.CurrentIteration() >= c.class.MaxRuns {
		c.runLimitHit = true
	}
	c.status &^= StatusStarting | StatusRunning | StatusIdling
	c.status |= StatusStopping
	selfStop := c.status.Has(StatusStopSelf)
	timeout := c.stopTimeout
	c.mu.Unlock()

	// The stop hook must run even when the activation context was
	// cancelled by a forced stop.
	stopCtx := context.WithoutCancel(ctx)
	var cancel context.CancelFunc
	if timeout > 0 {
		stopCtx, cancel = context.WithTimeout(stopCtx, timeout)
		defer cancel()
	}

	if err := c.invokeHook(stopCtx, "stop", c.self.OnStop); err != nil {
		// A stop-layer timeout during a stop the job did not itself
		// initiate surfaces through the stop-error hook, not to the
		// stop caller.
		if !errors.Is(err, context.DeadlineExceeded) || !selfStop {
			c.invokeErrHook(stopCtx, "stop_error", c.self.OnStopError, err)
		}
	}

	c.finalize()
}

// finalize resolves an ended activation into STOPPED, a restart, or a
// terminal state, snapshots the stop reason, and resolves waiters.
func (c *Core) finalize() {
	c.mu.Lock()
	reason := deriveStopReason(c.status|StatusStopping, c.runErr, c.runLimitHit)
	c.lastStopReason = reason
	c.status &^= StatusStopping
	c.status |= StatusStopped
	c.stoppedAt = time.Now().UTC()

	if c.stopDoneCh != nil {
		close(c.stopDoneCh)
		c.stopDoneCh = nil
	}

	kill := c.status.Has(StatusToldToBeKilled)
	complete := !kill && c.status.Has(StatusToldToComplete)
	restart := !kill && !complete && c.status.Has(StatusToldToRestart) && c.runErr == nil

	switch {
	case kill, complete:
		c.status &^= StatusRestarting | StatusCompleting | StatusBeingKilled
		if kill {
			c.status |= StatusKilled
		} else {
			c.status |= StatusCompleted
		}
		c.terminalAt = time.Now().UTC()
		mgr := c.mgr
		done := c.doneCh
		killed := kill
		c.mu.Unlock()

		if c.outputs != nil {
			c.outputs.shutdown(killed)
		}
		close(done)
		if mgr != nil {
			mgr.JobStopped(c, reason)
			mgr.JobDone(c)
		}
	case restart:
		ctx := c.baseCtx
		mgr := c.mgr
		c.mu.Unlock()
		if mgr != nil {
			mgr.JobStopped(c, reason)
		}
		go func() {
			if _, err := c.Start(ctx); err != nil {
				c.logger.Error("restart failed", slog.String("error", err.Error()))
			}
		}()
	default:
		mgr := c.mgr
		c.mu.Unlock()
		if mgr != nil {
			mgr.JobStopped(c, reason)
		}
	}
}

// Stop requests a stop. No-op (false) when already stopping, stopped,
// or told to stop. force, or a job caught idling, cancels the loop
// immediately; otherwise the next iteration is skipped and the loop
// winds down gracefully. internal marks the stop as self-initiated.
func (c *Core) Stop(force, internal bool) bool {
	c.mu.Lock()
	if c.status.Done() || c.status.Any(StatusStopping|StatusStopped|StatusToldToStop) {
		c.mu.Unlock()
		return false
	}
	if !c.status.Any(StatusStarting | StatusRunning) {
		c.mu.Unlock()
		return false
	}
	c.status |= StatusToldToStop
	if internal {
		c.status |= StatusStopSelf
	}
	hard := force || c.status.Has(StatusIdling) && !c.status.Has(StatusStarting)
	if hard {
		c.hardStop = true
	}
	lp := c.lp
	c.mu.Unlock()

	if hard {
		_ = lp.Cancel()
	} else {
		_ = lp.Stop()
	}
	return true
}

// Restart force-stops the job and starts it again once the loop winds
// down, passing through STOPPED. Disallowed while already restarting or
// while a forced stop is in flight; a pending graceful stop is upgraded
// into the restart instead.
func (c *Core) Restart(internal bool) error {
	c.mu.Lock()
	if c.status.Done() {
		jid := c.jobID
		c.mu.Unlock()
		return jobs.NewStateError(jid.String(), jobs.ErrJobDone)
	}
	if c.status.Has(StatusToldToRestart) {
		jid := c.jobID
		c.mu.Unlock()
		return jobs.NewStateError(jid.String(), jobs.ErrRestarting)
	}
	if c.hardStop && (c.status.Any(StatusStopping) || c.status.Has(StatusToldToStop)) {
		jid := c.jobID
		c.mu.Unlock()
		return jobs.NewStateError(jid.String(), jobs.ErrStopping)
	}
	pendingStop := c.status.Has(StatusToldToStop)
	stopping := c.status.Any(StatusStopping)
	c.status |= StatusToldToRestart | StatusRestarting
	if internal {
		c.status |= StatusStopSelf
	}
	running := c.status.Any(StatusStarting | StatusRunning)
	ctx := c.baseCtx
	lp := c.lp
	c.mu.Unlock()

	if stopping {
		// Already winding down gracefully; finalize picks the restart
		// flags up.
		return nil
	}
	if running {
		if pendingStop {
			// Upgrade the pending graceful stop to a hard stop so the
			// restart happens now rather than after the current cycle.
			c.mu.Lock()
			c.hardStop = true
			c.mu.Unlock()
			_ = lp.Cancel()
		} else {
			c.Stop(true, internal)
		}
		return nil
	}

	// Not running: a restart is just a start.
	c.mu.Lock()
	c.status &^= StatusToldToRestart | StatusRestarting | StatusStopSelf
	c.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	_, err := c.Start(ctx)
	return err
}

// Complete marks the job for the successful terminal state,
// force-stopping first when not already stopping.
func (c *Core) Complete(internal bool) error {
	return c.terminate(StatusToldToComplete|StatusCompleting, internal)
}

// Kill marks the job for the forced terminal state, force-stopping
// first when not already stopping. A job killed before ever starting is
// awoken just long enough to run its stop hook.
func (c *Core) Kill(internal bool) error {
	return c.terminate(StatusToldToBeKilled|StatusBeingKilled, internal)
}

func (c *Core) terminate(flags Status, internal bool) error {
	c.mu.Lock()
	if c.status.Done() {
		jid := c.jobID
		c.mu.Unlock()
		return jobs.NewStateError(jid.String(), jobs.ErrJobDone)
	}
	if c.status.Any(StatusToldToBeKilled | StatusToldToComplete) {
		// Already terminating; the first request wins.
		c.mu.Unlock()
		return nil
	}
	c.status |= flags | StatusToldToStop
	c.hardStop = true
	if internal {
		c.status |= StatusStopSelf
	}
	running := c.status.Any(StatusStarting | StatusRunning)
	stopping := c.status.Has(StatusStopping)
	lp := c.lp
	c.mu.Unlock()

	switch {
	case running && !stopping:
		_ = lp.Cancel()
	case !running && !stopping:
		// Startup kill/complete: no activation to wind down. Awaken
		// the job just long enough to run its stop hook, then
		// finalize into the terminal state.
		go c.startupFinalize()
	}
	// Already stopping: the told-to flag steers finalize.
	return nil
}

// startupFinalize handles termination of a job with no live activation.
func (c *Core) startupFinalize() {
	c.mu.Lock()
	c.status |= StatusStopping
	timeout := c.stopTimeout
	ranBefore := c.everStarted
	c.mu.Unlock()

	if !ranBefore {
		ctx := context.Background()
		var cancel context.CancelFunc
		if timeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		if err := c.invokeHook(ctx, "stop", c.self.OnStop); err != nil {
			c.invokeErrHook(ctx, "stop_error", c.self.OnStopError, err)
		}
	}
	c.finalize()
}

// ──────────────────────────────────────────────────
// Waits
// ──────────────────────────────────────────────────

// AwaitDone blocks until the job reaches a terminal state and returns
// that status. The context deadline surfaces as ErrWaitTimeout.
func (c *Core) AwaitDone(ctx context.Context) (Status, error) {
	select {
	case <-c.doneCh:
		return c.Status(), nil
	case <-ctx.Done():
		return c.Status(), waitErr(ctx)
	}
}

// AwaitStop blocks until the current activation reaches STOPPED.
// Returns immediately when no activation is in flight.
func (c *Core) AwaitStop(ctx context.Context) error {
	c.mu.Lock()
	ch := c.stopDoneCh
	c.mu.Unlock()
	if ch == nil {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-c.doneCh:
		return nil
	case <-ctx.Done():
		return waitErr(ctx)
	}
}

// AwaitUnguard blocks until the job's guardian releases it. A kill
// while waiting surfaces as ErrJobKilled.
func (c *Core) AwaitUnguard(ctx context.Context) error {
	c.mu.Lock()
	ch := c.unguardCh
	c.mu.Unlock()
	if ch == nil {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-c.doneCh:
		if c.Status().Has(StatusKilled) {
			return jobs.ErrJobKilled
		}
		return nil
	case <-ctx.Done():
		return waitErr(ctx)
	}
}

// Done returns a channel closed when the job reaches a terminal state.
func (c *Core) Done() <-chan struct{} { return c.doneCh }

// StopReason derives the current stopping reason fresh from the flag
// set; StopReasonNone when not stopping.
func (c *Core) StopReason() StopReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.status.Any(StatusStopping) {
		return StopReasonNone
	}
	return deriveStopReason(c.status, c.runErr, c.runLimitHit)
}

// LastStopReason returns the reason snapshotted at the end of the most
// recent activation.
func (c *Core) LastStopReason() StopReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastStopReason
}

// RunError returns the captured hook error that drove the job into an
// error stop, if any.
func (c *Core) RunError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runErr
}

// ──────────────────────────────────────────────────
// Default hooks
// ──────────────────────────────────────────────────

// OnInit is a no-op by default.
func (c *Core) OnInit(_ context.Context) error { return nil }

// OnStart is a no-op by default.
func (c *Core) OnStart(_ context.Context) error { return nil }

// OnRun is a no-op by default; most jobs override it.
func (c *Core) OnRun(_ context.Context) error { return nil }

// OnStop is a no-op by default.
func (c *Core) OnStop(_ context.Context) error { return nil }

// OnStartError logs the error by default.
func (c *Core) OnStartError(_ context.Context, err error) {
	c.logger.Error("start hook failed", slog.String("error", err.Error()))
}

// OnRunError logs the error by default.
func (c *Core) OnRunError(_ context.Context, err error) {
	c.logger.Error("run hook failed", slog.String("error", err.Error()))
}

// OnStopError logs the error by default.
func (c *Core) OnStopError(_ context.Context, err error) {
	c.logger.Error("stop hook failed", slog.String("error", err.Error()))
}

// ──────────────────────────────────────────────────
// Hook invocation
// ──────────────────────────────────────────────────

func (c *Core) invokeHook(ctx context.Context, name string, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("hook panicked",
				slog.String("hook", name),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("jobs: panic in %s hook: %v", name, r)
		}
	}()
	return fn(ctx)
}

func (c *Core) invokeErrHook(ctx context.Context, name string, fn func(context.Context, error), cause error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("error hook panicked",
				slog.String("hook", name),
				slog.Any("panic", r),
			)
		}
	}()
	fn(ctx, cause)
}

// waitErr maps a context error to the wait taxonomy: deadline → timeout
// sentinel, cancellation passes through.
func waitErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", jobs.ErrWaitTimeout, ctx.Err())
	}
	return ctx.Err()
}
