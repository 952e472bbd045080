package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/pygame-community/snakecore-jobs/event"
	"github.com/pygame-community/snakecore-jobs/id"
	"github.com/pygame-community/snakecore-jobs/job"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type jobInitializedEntry struct {
	name string
	hook JobInitialized
}

type jobRegisteredEntry struct {
	name string
	hook JobRegistered
}

type jobStartedEntry struct {
	name string
	hook JobStarted
}

type jobStoppedEntry struct {
	name string
	hook JobStopped
}

type jobCompletedEntry struct {
	name string
	hook JobCompleted
}

type jobKilledEntry struct {
	name string
	hook JobKilled
}

type outputFieldSetEntry struct {
	name string
	hook OutputFieldSet
}

type guardSetEntry struct {
	name string
	hook GuardSet
}

type guardClearedEntry struct {
	name string
	hook GuardCleared
}

type scheduleCreatedEntry struct {
	name string
	hook ScheduleCreated
}

type scheduleFiredEntry struct {
	name string
	hook ScheduleFired
}

type scheduleFailedEntry struct {
	name string
	hook ScheduleFailed
}

type scheduleRemovedEntry struct {
	name string
	hook ScheduleRemoved
}

type eventDispatchedEntry struct {
	name string
	hook EventDispatched
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	jobInitialized  []jobInitializedEntry
	jobRegistered   []jobRegisteredEntry
	jobStarted      []jobStartedEntry
	jobStopped      []jobStoppedEntry
	jobCompleted    []jobCompletedEntry
	jobKilled       []jobKilledEntry
	outputFieldSet  []outputFieldSetEntry
	guardSet        []guardSetEntry
	guardCleared    []guardClearedEntry
	scheduleCreated []scheduleCreatedEntry
	scheduleFired   []scheduleFiredEntry
	scheduleFailed  []scheduleFailedEntry
	scheduleRemoved []scheduleRemovedEntry
	eventDispatched []eventDispatchedEntry
	shutdown        []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(JobInitialized); ok {
		r.jobInitialized = append(r.jobInitialized, jobInitializedEntry{name, h})
	}
	if h, ok := e.(JobRegistered); ok {
		r.jobRegistered = append(r.jobRegistered, jobRegisteredEntry{name, h})
	}
	if h, ok := e.(JobStarted); ok {
		r.jobStarted = append(r.jobStarted, jobStartedEntry{name, h})
	}
	if h, ok := e.(JobStopped); ok {
		r.jobStopped = append(r.jobStopped, jobStoppedEntry{name, h})
	}
	if h, ok := e.(JobCompleted); ok {
		r.jobCompleted = append(r.jobCompleted, jobCompletedEntry{name, h})
	}
	if h, ok := e.(JobKilled); ok {
		r.jobKilled = append(r.jobKilled, jobKilledEntry{name, h})
	}
	if h, ok := e.(OutputFieldSet); ok {
		r.outputFieldSet = append(r.outputFieldSet, outputFieldSetEntry{name, h})
	}
	if h, ok := e.(GuardSet); ok {
		r.guardSet = append(r.guardSet, guardSetEntry{name, h})
	}
	if h, ok := e.(GuardCleared); ok {
		r.guardCleared = append(r.guardCleared, guardClearedEntry{name, h})
	}
	if h, ok := e.(ScheduleCreated); ok {
		r.scheduleCreated = append(r.scheduleCreated, scheduleCreatedEntry{name, h})
	}
	if h, ok := e.(ScheduleFired); ok {
		r.scheduleFired = append(r.scheduleFired, scheduleFiredEntry{name, h})
	}
	if h, ok := e.(ScheduleFailed); ok {
		r.scheduleFailed = append(r.scheduleFailed, scheduleFailedEntry{name, h})
	}
	if h, ok := e.(ScheduleRemoved); ok {
		r.scheduleRemoved = append(r.scheduleRemoved, scheduleRemovedEntry{name, h})
	}
	if h, ok := e.(EventDispatched); ok {
		r.eventDispatched = append(r.eventDispatched, eventDispatchedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Job event emitters
// ──────────────────────────────────────────────────

// EmitJobInitialized notifies all extensions that implement JobInitialized.
func (r *Registry) EmitJobInitialized(ctx context.Context, c *job.Core) {
	for _, e := range r.jobInitialized {
		if err := e.hook.OnJobInitialized(ctx, c); err != nil {
			r.logHookError("OnJobInitialized", e.name, err)
		}
	}
}

// EmitJobRegistered notifies all extensions that implement JobRegistered.
func (r *Registry) EmitJobRegistered(ctx context.Context, c *job.Core) {
	for _, e := range r.jobRegistered {
		if err := e.hook.OnJobRegistered(ctx, c); err != nil {
			r.logHookError("OnJobRegistered", e.name, err)
		}
	}
}

// EmitJobStarted notifies all extensions that implement JobStarted.
func (r *Registry) EmitJobStarted(ctx context.Context, c *job.Core) {
	for _, e := range r.jobStarted {
		if err := e.hook.OnJobStarted(ctx, c); err != nil {
			r.logHookError("OnJobStarted", e.name, err)
		}
	}
}

// EmitJobStopped notifies all extensions that implement JobStopped.
func (r *Registry) EmitJobStopped(ctx context.Context, c *job.Core, reason job.StopReason) {
	for _, e := range r.jobStopped {
		if err := e.hook.OnJobStopped(ctx, c, reason); err != nil {
			r.logHookError("OnJobStopped", e.name, err)
		}
	}
}

// EmitJobCompleted notifies all extensions that implement JobCompleted.
func (r *Registry) EmitJobCompleted(ctx context.Context, c *job.Core, elapsed time.Duration) {
	for _, e := range r.jobCompleted {
		if err := e.hook.OnJobCompleted(ctx, c, elapsed); err != nil {
			r.logHookError("OnJobCompleted", e.name, err)
		}
	}
}

// EmitJobKilled notifies all extensions that implement JobKilled.
func (r *Registry) EmitJobKilled(ctx context.Context, c *job.Core) {
	for _, e := range r.jobKilled {
		if err := e.hook.OnJobKilled(ctx, c); err != nil {
			r.logHookError("OnJobKilled", e.name, err)
		}
	}
}

// EmitOutputFieldSet notifies all extensions that implement OutputFieldSet.
func (r *Registry) EmitOutputFieldSet(ctx context.Context, c *job.Core, field string) {
	for _, e := range r.outputFieldSet {
		if err := e.hook.OnOutputFieldSet(ctx, c, field); err != nil {
			r.logHookError("OnOutputFieldSet", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Guard event emitters
// ──────────────────────────────────────────────────

// EmitGuardSet notifies all extensions that implement GuardSet.
func (r *Registry) EmitGuardSet(ctx context.Context, guardian, target id.JobID) {
	for _, e := range r.guardSet {
		if err := e.hook.OnGuardSet(ctx, guardian, target); err != nil {
			r.logHookError("OnGuardSet", e.name, err)
		}
	}
}

// EmitGuardCleared notifies all extensions that implement GuardCleared.
func (r *Registry) EmitGuardCleared(ctx context.Context, guardian, target id.JobID) {
	for _, e := range r.guardCleared {
		if err := e.hook.OnGuardCleared(ctx, guardian, target); err != nil {
			r.logHookError("OnGuardCleared", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Schedule event emitters
// ──────────────────────────────────────────────────

// EmitScheduleCreated notifies all extensions that implement ScheduleCreated.
func (r *Registry) EmitScheduleCreated(ctx context.Context, sid id.ScheduleID) {
	for _, e := range r.scheduleCreated {
		if err := e.hook.OnScheduleCreated(ctx, sid); err != nil {
			r.logHookError("OnScheduleCreated", e.name, err)
		}
	}
}

// EmitScheduleFired notifies all extensions that implement ScheduleFired.
func (r *Registry) EmitScheduleFired(ctx context.Context, sid id.ScheduleID, jobID id.JobID) {
	for _, e := range r.scheduleFired {
		if err := e.hook.OnScheduleFired(ctx, sid, jobID); err != nil {
			r.logHookError("OnScheduleFired", e.name, err)
		}
	}
}

// EmitScheduleFailed notifies all extensions that implement ScheduleFailed.
func (r *Registry) EmitScheduleFailed(ctx context.Context, sid id.ScheduleID, fireErr error) {
	for _, e := range r.scheduleFailed {
		if err := e.hook.OnScheduleFailed(ctx, sid, fireErr); err != nil {
			r.logHookError("OnScheduleFailed", e.name, err)
		}
	}
}

// EmitScheduleRemoved notifies all extensions that implement ScheduleRemoved.
func (r *Registry) EmitScheduleRemoved(ctx context.Context, sid id.ScheduleID) {
	for _, e := range r.scheduleRemoved {
		if err := e.hook.OnScheduleRemoved(ctx, sid); err != nil {
			r.logHookError("OnScheduleRemoved", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitEventDispatched notifies all extensions that implement EventDispatched.
func (r *Registry) EmitEventDispatched(ctx context.Context, kind event.Type, receivers int) {
	for _, e := range r.eventDispatched {
		if err := e.hook.OnEventDispatched(ctx, kind, receivers); err != nil {
			r.logHookError("OnEventDispatched", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block the engine.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
