// Package manager implements the per-process job registry and
// coordinator.
//
// A Manager owns the arena of live jobs (identifier → job), the class
// table with permission levels, the event-routing index, and the
// persistent schedule table. Every cross-job operation names an
// explicit invoker and passes a single permission gate before touching
// the target; jobs never hold references to each other, only
// identifiers resolved through the manager.
//
// The manager's background work (the scheduling pass over due schedule
// records) runs inside its own internal job, registered at the SYSTEM
// permission level and driven by the same loop machinery as every other
// job.
//
// Jobs interact with the manager through a Proxy bound to their own
// identifier, and with each other through JobProxy handles. A JobProxy
// outlives its target: once the job reaches a terminal state the proxy
// degrades to a cached snapshot of the terminal status, stop reason,
// timestamps, and output fields, so late readers observe the outcome
// instead of an error.
package manager
