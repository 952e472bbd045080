// Package jobs provides an in-process orchestration engine for long-lived
// asynchronous jobs: creation, initialization, scheduling, periodic
// execution, guarding, and teardown inside a single host process, with a
// capability-based permission model governing how jobs interact.
//
// Jobs is designed as a library, not a service. Import it, create a
// manager, register job classes, and run jobs as ordinary Go values.
//
// # Quick Start
//
//	m := manager.New(manager.WithLogger(logger))
//	if err := m.Start(ctx); err != nil { ... }
//	m.RegisterClass(echoClass, jobs.PermMedium)
//
//	// The zero invoker is the host, which bypasses the permission gate.
//	var host id.JobID
//	proxy, err := m.CreateAndRegisterJob(ctx, host, "Echo", nil)
//
// # Architecture
//
// The manager owns an arena of live jobs keyed by runtime identifier.
// Each job embeds a job.Core state machine and is driven by a loop.Loop
// until it is stopped, killed, completes, or restarts. Jobs reach other
// jobs only through capability-scoped proxies obtained from the manager;
// a single permission gate verifies every cross-job operation.
//
// A persistent schedule table maps future timestamps to schedule records;
// the manager's own system-level job runs the scheduling pass that
// instantiates due jobs and records postmortems for failed ones.
//
// Subsystems live in their own packages: job (state machine, outputs,
// mixins), manager (registry, permissions, scheduling, proxies), loop
// (periodic execution), event (cross-job events), ext (lifecycle hooks),
// backoff (retry delays), schedstore (snapshot persistence), and id
// (identifier formats).
package jobs
