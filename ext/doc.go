// Package ext defines the extension system of the engine.
//
// Extensions are notified of lifecycle events and can react to them —
// recording metrics, writing audit logs, feeding dashboards.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnJobCompleted(ctx context.Context, c *job.Core, elapsed time.Duration) error {
//	    log.Printf("job %s completed in %s", c.Identifier(), elapsed)
//	    return nil
//	}
//
// # Job Lifecycle Hooks
//
//   - [JobInitialized] — job's one-shot init hook succeeded
//   - [JobRegistered] — job entered the manager's registry
//   - [JobStarted] — an activation began
//   - [JobStopped] — an activation wound down, with its stop reason
//   - [JobCompleted] — job reached the successful terminal state
//   - [JobKilled] — job reached the forced terminal state
//   - [OutputFieldSet] — job wrote one of its output fields
//
// # Guard Hooks
//
//   - [GuardSet] — a guardian claimed exclusivity over a job
//   - [GuardCleared] — a guard was released
//
// # Schedule Hooks
//
//   - [ScheduleCreated] — a schedule record entered the table
//   - [ScheduleFired] — a due record instantiated a job
//   - [ScheduleFailed] — firing a due record failed
//   - [ScheduleRemoved] — a record left the table
//
// # Other Hooks
//
//   - [EventDispatched] — an event was routed to its receivers
//   - [Shutdown] — the manager is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext
