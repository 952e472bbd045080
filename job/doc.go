// Package job implements the per-job state machine and the capability
// surfaces layered on top of it.
//
// The center of the package is Core: a status bitmask driven through
// FRESH → INITIALIZED → RUNNING → STOPPED/COMPLETED/KILLED by a
// periodic loop, with lifecycle hooks (OnInit, OnStart, OnRun, OnStop)
// and their error counterparts supplied by the embedding job type. A
// job is a struct embedding *Core and overriding the hooks it needs;
// everything else (timestamps, stop-reason derivation, done-waiters,
// guarding hooks, output declarations) comes with the embed.
//
// Outputs let a job publish results while it is still alive: write-once
// fields and append-only queues, both awaitable. Queue proxies give
// independent read cursors over one queue, optionally rescuing values a
// clear would otherwise drop.
//
// Events are an opt-in capability. A job that implements EventReceiver
// (typically by embedding *EventQueue) gets events routed to it by the
// manager and drained by RunEventDrain, either serially or, for
// MultiEventReceiver, in bounded concurrent sessions.
//
// Cores never import their manager. The manager reaches in through
// exported methods and registers itself via the narrow Binding
// interface, which the core calls exactly once when it reaches a
// terminal state.
package job
