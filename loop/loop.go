// Package loop provides the periodic execution primitive that drives a
// job's run hook: a callback invoked repeatedly at a fixed interval, at
// a set of daily clock times, or per a cron expression, with lifecycle
// hooks and automatic retry-with-backoff for a whitelisted set of
// transient error kinds.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pygame-community/snakecore-jobs/backoff"
)

// Callback is the function a Loop invokes once per iteration.
type Callback func(ctx context.Context) error

// ErrNotRunning is returned by Stop/Cancel/Restart on an idle loop.
var ErrNotRunning = errors.New("loop: not running")

// ErrRunning is returned by Start on a loop that is already running.
var ErrRunning = errors.New("loop: already running")

// Loop drives a callback repeatedly until stopped, cancelled, or its
// maximum iteration count is reached. A Loop may be restarted after it
// finishes; iterations within one activation are strictly sequential.
type Loop struct {
	fn Callback

	interval time.Duration
	schedule Schedule
	maxRuns  int64

	reconnect bool
	retryOn   []error
	retryIf   func(error) bool
	bo        backoff.Strategy

	before  func(ctx context.Context) error
	after   func(ctx context.Context)
	onError func(err error)

	logger *slog.Logger

	mu        sync.Mutex
	running   bool
	stopCh    chan struct{} // closed on graceful stop request
	doneCh    chan struct{} // closed when the run goroutine exits
	cancel    context.CancelFunc
	stopped   bool // graceful stop requested for current activation
	iteration atomic.Int64
	nextRun   time.Time
}

// Option configures a Loop.
type Option func(*Loop)

// WithInterval sets a fixed cadence between iterations. The first
// iteration runs immediately on Start.
func WithInterval(d time.Duration) Option {
	return func(l *Loop) {
		l.interval = d
		l.schedule = nil
	}
}

// WithClockTimes sets a list of daily wall-clock times (UTC) at which
// iterations run. Overrides any interval.
func WithClockTimes(times ...ClockTime) Option {
	return func(l *Loop) {
		l.schedule = clockSchedule(times)
	}
}

// WithSchedule sets an explicit Schedule (e.g. a parsed cron
// expression from ParseCron). Overrides any interval.
func WithSchedule(s Schedule) Option {
	return func(l *Loop) {
		l.schedule = s
	}
}

// WithMaxRuns bounds the number of iterations per activation.
// Zero or negative means unlimited.
func WithMaxRuns(n int64) Option {
	return func(l *Loop) { l.maxRuns = n }
}

// WithReconnect enables retry-with-backoff when the callback fails with
// one of the given error kinds (matched via errors.Is). Retries do not
// advance the iteration counter.
func WithReconnect(bo backoff.Strategy, errs ...error) Option {
	return func(l *Loop) {
		l.reconnect = true
		l.bo = bo
		l.retryOn = append(l.retryOn, errs...)
	}
}

// WithRetryPredicate supplements the reconnect whitelist with a
// predicate, for error kinds that cannot be matched by identity.
func WithRetryPredicate(pred func(error) bool) Option {
	return func(l *Loop) {
		l.reconnect = true
		l.retryIf = pred
	}
}

// WithBeforeLoop sets a hook run once before the first iteration of an
// activation. A hook error aborts the activation without running any
// iteration; it is routed to the error hook.
func WithBeforeLoop(fn func(ctx context.Context) error) Option {
	return func(l *Loop) { l.before = fn }
}

// WithAfterLoop sets a hook run once after the last iteration, whether
// the loop finished, failed, or was cancelled.
func WithAfterLoop(fn func(ctx context.Context)) Option {
	return func(l *Loop) { l.after = fn }
}

// WithOnError sets the hook invoked with the error that terminated the
// activation (callback error, exhausted reconnect, or before-hook
// failure). Not invoked on clean stops.
func WithOnError(fn func(err error)) Option {
	return func(l *Loop) { l.onError = fn }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) { l.logger = logger }
}

// New creates a Loop around fn. Without an interval or schedule option
// the loop runs back-to-back iterations, which is almost never what a
// caller wants; pass WithInterval or WithSchedule.
func New(fn Callback, opts ...Option) *Loop {
	l := &Loop{
		fn:     fn,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.reconnect && l.bo == nil {
		l.bo = backoff.DefaultStrategy()
	}
	return l
}

// IsRunning reports whether an activation is in progress.
func (l *Loop) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// StopRequested reports whether a graceful stop is pending for the
// current activation.
func (l *Loop) StopRequested() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}

// CurrentIteration returns the number of completed iterations in the
// current (or last) activation.
func (l *Loop) CurrentIteration() int64 { return l.iteration.Load() }

// NextIteration returns when the next iteration is due. Zero when the
// loop is not running.
func (l *Loop) NextIteration() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nextRun
}

// Done returns a channel closed when the current activation finishes.
// After Start, the channel belongs to the new activation.
func (l *Loop) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.doneCh == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return l.doneCh
}

// Start begins a new activation. The callback runs on its own
// goroutine; Start returns immediately.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return ErrRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	l.running = true
	l.stopped = false
	l.stopCh = make(chan struct{})
	l.doneCh = make(chan struct{})
	l.cancel = cancel
	l.iteration.Store(0)

	go l.run(runCtx)
	return nil
}

// Stop requests a graceful stop: the in-flight iteration finishes, and
// no further iterations run. Idempotent within an activation.
func (l *Loop) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		return ErrNotRunning
	}
	if !l.stopped {
		l.stopped = true
		close(l.stopCh)
	}
	return nil
}

// Cancel hard-stops the activation: the in-flight iteration's context
// is cancelled and no further iterations run.
func (l *Loop) Cancel() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		return ErrNotRunning
	}
	if !l.stopped {
		l.stopped = true
		close(l.stopCh)
	}
	l.cancel()
	return nil
}

// Restart cancels the current activation, waits for it to wind down,
// and starts a new one.
func (l *Loop) Restart(ctx context.Context) error {
	if err := l.Cancel(); err != nil && !errors.Is(err, ErrNotRunning) {
		return err
	}
	<-l.Done()
	return l.Start(ctx)
}

// run is the activation body.
func (l *Loop) run(ctx context.Context) {
	var termErr error

	defer func() {
		l.mu.Lock()
		l.running = false
		l.nextRun = time.Time{}
		done := l.doneCh
		l.mu.Unlock()

		if l.after != nil {
			l.after(ctx)
		}
		if termErr != nil && l.onError != nil {
			l.onError(termErr)
		}
		close(done)
	}()

	if l.before != nil {
		if err := l.invokeHook(ctx, l.before); err != nil {
			termErr = err
			return
		}
	}

	// In schedule mode the first iteration waits for its slot; in
	// interval mode it runs immediately.
	if l.schedule != nil {
		if !l.sleepUntil(ctx, l.schedule.Next(time.Now())) {
			return
		}
	}

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := l.invoke(ctx)
		switch {
		case err == nil:
			attempt = 0
			l.iteration.Add(1)
		case ctx.Err() != nil:
			// Cancelled mid-iteration; not an error of the callback.
			return
		case l.shouldRetry(err):
			attempt++
			delay := l.bo.Delay(attempt)
			l.logger.Warn("loop iteration failed, retrying",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("error", err.Error()),
			)
			if !l.sleepUntil(ctx, time.Now().Add(delay)) {
				return
			}
			continue
		default:
			termErr = err
			return
		}

		if l.maxRuns > 0 && l.iteration.Load() >= l.maxRuns {
			return
		}

		// A graceful stop issued during the iteration takes effect
		// here, before the next one.
		select {
		case <-l.stopCh:
			return
		default:
		}

		if !l.sleepUntil(ctx, l.nextDue()) {
			return
		}
	}
}

// nextDue computes the next iteration time from now.
func (l *Loop) nextDue() time.Time {
	now := time.Now()
	if l.schedule != nil {
		return l.schedule.Next(now)
	}
	return now.Add(l.interval)
}

// sleepUntil blocks until t, a graceful stop, or cancellation.
// Returns false if the loop should exit.
func (l *Loop) sleepUntil(ctx context.Context, t time.Time) bool {
	l.mu.Lock()
	l.nextRun = t
	l.mu.Unlock()

	d := time.Until(t)
	if d <= 0 {
		select {
		case <-l.stopCh:
			return false
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-l.stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}

// invoke runs the callback with panic recovery. A panic is converted to
// an error and never matches the reconnect whitelist.
func (l *Loop) invoke(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			l.logger.Error("loop callback panicked",
				slog.Any("panic", r),
				slog.String("stack", stack),
			)
			err = fmt.Errorf("loop: panic in callback: %v", r)
		}
	}()
	return l.fn(ctx)
}

// invokeHook runs a lifecycle hook with panic recovery.
func (l *Loop) invokeHook(ctx context.Context, hook func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("loop: panic in hook: %v", r)
		}
	}()
	return hook(ctx)
}

// shouldRetry checks err against the reconnect whitelist.
func (l *Loop) shouldRetry(err error) bool {
	if !l.reconnect {
		return false
	}
	for _, target := range l.retryOn {
		if errors.Is(err, target) {
			return true
		}
	}
	if l.retryIf != nil && l.retryIf(err) {
		return true
	}
	return false
}
