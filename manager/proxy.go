package manager

import (
	"context"
	"sync"
	"time"

	jobs "github.com/pygame-community/snakecore-jobs"
	"github.com/pygame-community/snakecore-jobs/event"
	"github.com/pygame-community/snakecore-jobs/id"
	"github.com/pygame-community/snakecore-jobs/job"
)

// JobSnapshot is the frozen state a JobProxy serves after its job
// reached a terminal state.
type JobSnapshot struct {
	Identifier   id.JobID
	ClassName    string
	PermLevel    jobs.PermLevel
	Status       job.Status
	StopReason   job.StopReason
	RunCount     int64
	CreatedAt    time.Time
	RegisteredAt time.Time
	StartedAt    time.Time
	StoppedAt    time.Time
	DoneAt       time.Time
	ScheduleID   id.ScheduleID
	OutputFields map[string]any
}

// snapshotCore freezes a core's observable state. Only output fields
// that were actually set make it into the snapshot.
func snapshotCore(c *job.Core) *JobSnapshot {
	snap := &JobSnapshot{
		Identifier:   c.Identifier(),
		ClassName:    c.Class().Name,
		PermLevel:    c.PermLevel(),
		Status:       c.Status(),
		StopReason:   c.LastStopReason(),
		RunCount:     c.RunCount(),
		CreatedAt:    c.CreatedAt(),
		RegisteredAt: c.RegisteredAt(),
		StartedAt:    c.StartedAt(),
		StoppedAt:    c.StoppedAt(),
		DoneAt:       c.DoneAt(),
		ScheduleID:   c.ScheduleID(),
		OutputFields: make(map[string]any),
	}
	outs := c.Outputs()
	for _, name := range outs.FieldNames() {
		if v, err := outs.Field(name); err == nil {
			snap.OutputFields[name] = v
		}
	}
	return snap
}

// JobProxy is the handle other jobs (and the host) hold on a registered
// job. Reads are served live while the job is in the arena; once the job
// reaches a terminal state the proxy detaches to a cached snapshot, so
// holders can keep inspecting final state. Mutations on a detached
// proxy fail with ErrJobDone. Mutations carry the invoker the proxy was
// obtained with, so the manager's permission gate applies.
type JobProxy struct {
	mgr     *Manager
	jobID   id.JobID
	invoker id.JobID
	core    *job.Core

	mu     sync.Mutex
	cached *JobSnapshot
}

// newProxyLocked builds a proxy for a registered job and tracks it for
// detachment. Caller holds m.mu.
func (m *Manager) newProxyLocked(invoker, jobID id.JobID) *JobProxy {
	p := &JobProxy{
		mgr:     m,
		jobID:   jobID,
		invoker: invoker,
		core:    m.jobs[jobID].JobCore(),
	}
	m.proxies[jobID] = append(m.proxies[jobID], p)
	return p
}

// detach freezes the proxy onto a snapshot. Called by the manager when
// the job leaves the arena.
func (p *JobProxy) detach(snap *JobSnapshot) {
	p.mu.Lock()
	p.cached = snap
	p.mu.Unlock()
}

// snapshot returns the cached snapshot, or nil while the job is live.
func (p *JobProxy) snapshot() *JobSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cached
}

// Alive reports whether the proxied job is still in the manager's
// arena.
func (p *JobProxy) Alive() bool { return p.snapshot() == nil }

// Identifier returns the job's runtime identifier.
func (p *JobProxy) Identifier() id.JobID { return p.jobID }

// ClassName returns the job's class name.
func (p *JobProxy) ClassName() string {
	if s := p.snapshot(); s != nil {
		return s.ClassName
	}
	return p.core.Class().Name
}

// PermLevel returns the job's registered permission level.
func (p *JobProxy) PermLevel() jobs.PermLevel {
	if s := p.snapshot(); s != nil {
		return s.PermLevel
	}
	return p.core.PermLevel()
}

// Status returns the job's status flags, live or frozen.
func (p *JobProxy) Status() job.Status {
	if s := p.snapshot(); s != nil {
		return s.Status
	}
	return p.core.Status()
}

// StopReason returns the reason of the most recent stop.
func (p *JobProxy) StopReason() job.StopReason {
	if s := p.snapshot(); s != nil {
		return s.StopReason
	}
	return p.core.LastStopReason()
}

// RunCount returns the number of completed run iterations.
func (p *JobProxy) RunCount() int64 {
	if s := p.snapshot(); s != nil {
		return s.RunCount
	}
	return p.core.RunCount()
}

// ScheduleID returns the schedule record that instantiated the job, or
// the empty identifier.
func (p *JobProxy) ScheduleID() id.ScheduleID {
	if s := p.snapshot(); s != nil {
		return s.ScheduleID
	}
	return p.core.ScheduleID()
}

// CreatedAt returns the job's creation time.
func (p *JobProxy) CreatedAt() time.Time {
	if s := p.snapshot(); s != nil {
		return s.CreatedAt
	}
	return p.core.CreatedAt()
}

// DoneAt returns the terminal timestamp, zero while the job lives.
func (p *JobProxy) DoneAt() time.Time {
	if s := p.snapshot(); s != nil {
		return s.DoneAt
	}
	return p.core.DoneAt()
}

// OutputField returns a named output field's value. On a detached proxy
// it serves the frozen value captured at job death.
func (p *JobProxy) OutputField(name string) (any, error) {
	if s := p.snapshot(); s != nil {
		if v, ok := s.OutputFields[name]; ok {
			return v, nil
		}
		return nil, &jobs.OutputError{
			Job: p.jobID.String(), Field: name, Err: jobs.ErrOutputFieldUnset,
		}
	}
	return p.core.Outputs().Field(name)
}

// AwaitOutputField blocks until the field is set, the job dies, or ctx
// ends. On a detached proxy it resolves immediately from the snapshot.
func (p *JobProxy) AwaitOutputField(ctx context.Context, name string) (any, error) {
	if s := p.snapshot(); s != nil {
		if v, ok := s.OutputFields[name]; ok {
			return v, nil
		}
		return nil, &jobs.OutputError{
			Job: p.jobID.String(), Field: name, Err: jobs.ErrOutputFieldUnset,
		}
	}
	return p.core.Outputs().AwaitField(ctx, name)
}

// OutputQueueProxy opens a consuming cursor over a named output queue.
func (p *JobProxy) OutputQueueProxy(name string, rescue bool) (*job.OutputQueueProxy, error) {
	if p.snapshot() != nil {
		return nil, jobs.NewStateError(p.jobID.String(), jobs.ErrJobDone)
	}
	q, err := p.core.Outputs().Queue(name)
	if err != nil {
		return nil, err
	}
	return q.NewProxy(rescue), nil
}

// AwaitDone blocks until the job reaches a terminal state. On a
// detached proxy it returns the frozen status immediately.
func (p *JobProxy) AwaitDone(ctx context.Context) (job.Status, error) {
	if s := p.snapshot(); s != nil {
		return s.Status, nil
	}
	return p.core.AwaitDone(ctx)
}

// AwaitUnguard blocks until the job loses its guardian.
func (p *JobProxy) AwaitUnguard(ctx context.Context) error {
	if p.snapshot() != nil {
		return nil
	}
	return p.core.AwaitUnguard(ctx)
}

// Done returns a channel closed when the job reaches a terminal state.
func (p *JobProxy) Done() <-chan struct{} { return p.core.Done() }

// ──────────────────────────────────────────────────
// Mutations (gated through the manager)
// ──────────────────────────────────────────────────

func (p *JobProxy) deadErr() error {
	if p.snapshot() != nil {
		return jobs.NewStateError(p.jobID.String(), jobs.ErrJobDone)
	}
	return nil
}

// Start begins an activation of the proxied job.
func (p *JobProxy) Start(ctx context.Context) error {
	if err := p.deadErr(); err != nil {
		return err
	}
	return p.mgr.StartJob(ctx, p.invoker, p.jobID)
}

// Restart force-stops and restarts the proxied job.
func (p *JobProxy) Restart() error {
	if err := p.deadErr(); err != nil {
		return err
	}
	return p.mgr.RestartJob(p.invoker, p.jobID)
}

// Stop requests a stop of the proxied job.
func (p *JobProxy) Stop(force bool) error {
	if err := p.deadErr(); err != nil {
		return err
	}
	return p.mgr.StopJob(p.invoker, p.jobID, force)
}

// Kill drives the proxied job to the forced terminal state.
func (p *JobProxy) Kill() error {
	if err := p.deadErr(); err != nil {
		return err
	}
	return p.mgr.KillJob(p.invoker, p.jobID)
}

// Guard places the invoker's guard on the proxied job.
func (p *JobProxy) Guard() error {
	if err := p.deadErr(); err != nil {
		return err
	}
	return p.mgr.GuardJob(p.invoker, p.jobID)
}

// Unguard releases the invoker's guard on the proxied job.
func (p *JobProxy) Unguard() error {
	if err := p.deadErr(); err != nil {
		return err
	}
	return p.mgr.UnguardJob(p.invoker, p.jobID)
}

// ──────────────────────────────────────────────────
// Manager proxy
// ──────────────────────────────────────────────────

// Proxy is a manager handle bound to one job's identity: every
// operation called through it carries the owner as invoker, so the
// permission gate sees the true actor. Jobs receive theirs via the
// ProxyReceiver capability.
type Proxy struct {
	mgr   *Manager
	owner id.JobID
}

// proxyFor builds the owner-bound manager handle handed to
// ProxyReceiver jobs.
func (m *Manager) proxyFor(owner id.JobID) *Proxy {
	return &Proxy{mgr: m, owner: owner}
}

// OwnerID returns the identity this handle acts as.
func (p *Proxy) OwnerID() id.JobID { return p.owner }

// CreateJob creates an instance of the named class as the owner.
func (p *Proxy) CreateJob(className string, args map[string]any) (id.JobID, error) {
	return p.mgr.CreateJob(p.owner, className, args)
}

// InitializeJob runs a job's init hook as the owner.
func (p *Proxy) InitializeJob(ctx context.Context, jobID id.JobID) error {
	return p.mgr.InitializeJob(ctx, p.owner, jobID)
}

// RegisterJob registers a created job as the owner.
func (p *Proxy) RegisterJob(jobID id.JobID) error {
	return p.mgr.RegisterJob(p.owner, jobID)
}

// CreateAndRegisterJob runs the full create/init/register/start
// sequence as the owner.
func (p *Proxy) CreateAndRegisterJob(ctx context.Context, className string, args map[string]any) (*JobProxy, error) {
	return p.mgr.CreateAndRegisterJob(ctx, p.owner, className, args)
}

// StartJob starts a job as the owner.
func (p *Proxy) StartJob(ctx context.Context, jobID id.JobID) error {
	return p.mgr.StartJob(ctx, p.owner, jobID)
}

// RestartJob restarts a job as the owner.
func (p *Proxy) RestartJob(jobID id.JobID) error {
	return p.mgr.RestartJob(p.owner, jobID)
}

// StopJob stops a job as the owner.
func (p *Proxy) StopJob(jobID id.JobID, force bool) error {
	return p.mgr.StopJob(p.owner, jobID, force)
}

// KillJob kills a job as the owner.
func (p *Proxy) KillJob(jobID id.JobID) error {
	return p.mgr.KillJob(p.owner, jobID)
}

// GuardJob guards a job as the owner.
func (p *Proxy) GuardJob(target id.JobID) error {
	return p.mgr.GuardJob(p.owner, target)
}

// UnguardJob releases the owner's guard on a job.
func (p *Proxy) UnguardJob(target id.JobID) error {
	return p.mgr.UnguardJob(p.owner, target)
}

// FindJob returns a proxy for a registered job, bound to the owner.
func (p *Proxy) FindJob(jobID id.JobID) (*JobProxy, error) {
	return p.mgr.FindJob(p.owner, jobID)
}

// FindJobs returns proxies for jobs matching the filter.
func (p *Proxy) FindJobs(f Filter) ([]*JobProxy, error) {
	return p.mgr.FindJobs(p.owner, f)
}

// HasJob reports whether a registered job with the identifier exists.
func (p *Proxy) HasJob(jobID id.JobID) bool { return p.mgr.HasJob(jobID) }

// DispatchEvent dispatches an event as the owner.
func (p *Proxy) DispatchEvent(ev event.Event) (int, error) {
	return p.mgr.DispatchEvent(p.owner, ev)
}

// WaitForEvent waits for a matching event as the owner.
func (p *Proxy) WaitForEvent(ctx context.Context, pred func(event.Event) bool, types ...event.Type) (event.Event, error) {
	return p.mgr.WaitForEvent(ctx, p.owner, pred, types...)
}

// CreateJobSchedule records a schedule as the owner.
func (p *Proxy) CreateJobSchedule(spec ScheduleSpec) (id.ScheduleID, error) {
	return p.mgr.CreateJobSchedule(p.owner, spec)
}

// RemoveJobSchedule removes a schedule as the owner.
func (p *Proxy) RemoveJobSchedule(sid id.ScheduleID) error {
	return p.mgr.RemoveJobSchedule(p.owner, sid)
}

// HasJobSchedule reports whether a live schedule record exists.
func (p *Proxy) HasJobSchedule(sid id.ScheduleID) bool {
	return p.mgr.HasJobSchedule(sid)
}

// Can reports whether the owner would pass the permission gate for op
// against target.
func (p *Proxy) Can(op jobs.OpKind, target id.JobID) bool {
	return p.mgr.Can(p.owner, op, target)
}
