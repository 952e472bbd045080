package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	jobs "github.com/pygame-community/snakecore-jobs"
	"github.com/pygame-community/snakecore-jobs/event"
	"github.com/pygame-community/snakecore-jobs/ext"
	"github.com/pygame-community/snakecore-jobs/id"
	"github.com/pygame-community/snakecore-jobs/job"
	"github.com/pygame-community/snakecore-jobs/schedstore"
)

// classEntry tracks a registered job class: its descriptor, assigned
// permission level, the nanosecond stamp folded into instance
// identifiers, and the count of live registered instances.
type classEntry struct {
	cls     *job.Class
	level   jobs.PermLevel
	classNS int64
	count   int
}

// pendingJob is a created-but-not-yet-registered job, held outside the
// arena so queries only see registered jobs.
type pendingJob struct {
	j       job.Job
	creator id.JobID
	level   jobs.PermLevel
}

// drainHandle tracks one job's event drain routine.
type drainHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// ProxyReceiver is implemented by jobs that want a manager handle bound
// to their own identity. The manager calls UseManager once, right after
// registration.
type ProxyReceiver interface {
	UseManager(p *Proxy)
}

// Manager is the per-process job registry and coordinator.
type Manager struct {
	id     id.ManagerID
	name   string
	cfg    jobs.Config
	logger *slog.Logger
	exts   *ext.Registry
	store  schedstore.Store

	// Extensions collected by options, registered once the logger is
	// settled.
	extList []ext.Extension

	mu         sync.Mutex
	jobs       map[id.JobID]job.Job
	pending    map[id.JobID]*pendingJob
	classes    map[string]*classEntry
	byUUID     map[id.ClassUUID]*classEntry
	eventIndex map[event.Type]map[id.JobID]struct{}
	waiters    []*eventWaiter
	proxies    map[id.JobID][]*JobProxy
	drains     map[id.JobID]*drainHandle
	baseCtx    context.Context
	started    bool
	down       bool

	internal *schedulerJob
	schedMu  sync.Mutex
	sched    *scheduleTable
	serde    *semaphore.Weighted
}

var _ job.Binding = (*Manager)(nil)

// Option configures a Manager.
type Option func(*Manager)

// WithConfig replaces the default configuration.
func WithConfig(cfg jobs.Config) Option {
	return func(m *Manager) { m.cfg = cfg }
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithName sets the manager's stable name. Unlike the runtime
// identifier, the name survives restarts; it keys persisted schedule
// snapshots in the store.
func WithName(name string) Option {
	return func(m *Manager) { m.name = name }
}

// WithExtension registers a lifecycle extension with the manager.
func WithExtension(e ext.Extension) Option {
	return func(m *Manager) { m.extList = append(m.extList, e) }
}

// WithScheduleStore sets the persistence backend used by SaveSchedules
// and LoadSchedules. Without one, snapshot persistence is export/import
// only.
func WithScheduleStore(s schedstore.Store) Option {
	return func(m *Manager) { m.store = s }
}

// New creates a manager. Call Start to begin the scheduling pass.
func New(opts ...Option) *Manager {
	m := &Manager{
		id:         id.NewManagerID(),
		name:       "default",
		cfg:        jobs.DefaultConfig(),
		logger:     slog.Default(),
		jobs:       make(map[id.JobID]job.Job),
		pending:    make(map[id.JobID]*pendingJob),
		classes:    make(map[string]*classEntry),
		byUUID:     make(map[id.ClassUUID]*classEntry),
		eventIndex: make(map[event.Type]map[id.JobID]struct{}),
		proxies:    make(map[id.JobID][]*JobProxy),
		drains:     make(map[id.JobID]*drainHandle),
		baseCtx:    context.Background(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.exts = ext.NewRegistry(m.logger)
	for _, e := range m.extList {
		m.exts.Register(e)
	}
	if m.cfg.SerdeWorkers < 1 {
		m.cfg.SerdeWorkers = 1
	}
	m.serde = semaphore.NewWeighted(int64(m.cfg.SerdeWorkers))
	m.sched = newScheduleTable(m.cfg.SchedulingYieldRate)
	m.logger = m.logger.With(slog.String("manager_id", m.id.String()))
	return m
}

// ID returns the manager's runtime identifier.
func (m *Manager) ID() id.ManagerID { return m.id }

// Name returns the manager's stable name.
func (m *Manager) Name() string { return m.name }

// Extensions returns the manager's extension registry.
func (m *Manager) Extensions() *ext.Registry { return m.exts }

// Start launches the manager's internal system job, which drives the
// scheduling pass. ctx is the base context inherited by job activations
// started through the manager.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.down {
		m.mu.Unlock()
		return jobs.ErrManagerShutdown
	}
	if m.started {
		m.mu.Unlock()
		return jobs.ErrInitialized
	}
	m.started = true
	m.baseCtx = ctx
	m.mu.Unlock()

	return m.startInternalJob(ctx)
}

// RegisterClass associates a permission level with a job class.
// Idempotent when the class is already registered; the original level
// wins. A class UUID, when present, must be unique across classes.
func (m *Manager) RegisterClass(cls *job.Class, level jobs.PermLevel) error {
	if cls == nil || cls.Name == "" || cls.New == nil {
		return fmt.Errorf("jobs: invalid job class: %+v", cls)
	}
	if !level.Valid() {
		level = m.cfg.DefaultPermLevel
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return jobs.ErrManagerShutdown
	}
	if _, ok := m.classes[cls.Name]; ok {
		return nil
	}
	if cls.UUID != id.NilClassUUID {
		if prev, ok := m.byUUID[cls.UUID]; ok {
			return fmt.Errorf("%w: %s vs %s", jobs.ErrClassUUIDConflict, cls.Name, prev.cls.Name)
		}
	}
	ce := &classEntry{cls: cls, level: level, classNS: id.Stamp()}
	m.classes[cls.Name] = ce
	if cls.UUID != id.NilClassUUID {
		m.byUUID[cls.UUID] = ce
	}
	m.logger.Debug("job class registered",
		slog.String("class", cls.Name),
		slog.String("level", level.String()),
	)
	return nil
}

// ──────────────────────────────────────────────────
// Lifecycle operations
// ──────────────────────────────────────────────────

// CreateJob constructs an unattached instance of the named class on
// behalf of invoker. The job must still be initialized and registered.
func (m *Manager) CreateJob(invoker id.JobID, className string, args map[string]any) (id.JobID, error) {
	m.mu.Lock()
	if m.down {
		m.mu.Unlock()
		return "", jobs.ErrManagerShutdown
	}
	ce, ok := m.classes[className]
	if !ok {
		m.mu.Unlock()
		return "", fmt.Errorf("%w: %q", jobs.ErrClassNotFound, className)
	}
	// Creating at one's own level counts as ownership.
	if err := m.verify(invoker, jobs.OpCreate, &permTarget{level: ce.level, creator: invoker}); err != nil {
		m.mu.Unlock()
		return "", err
	}
	j := ce.cls.New()
	core := j.JobCore()
	jid := id.NewJobID(ce.cls.Name, ce.classNS)
	core.Attach(j, ce.cls, jid, args, m.logger, m.cfg.StopTimeout)
	m.pending[jid] = &pendingJob{j: j, creator: invoker, level: ce.level}
	m.mu.Unlock()
	return jid, nil
}

// InitializeJob runs the job's one-shot init hook.
func (m *Manager) InitializeJob(ctx context.Context, invoker, jobID id.JobID) error {
	m.mu.Lock()
	tgt := m.targetOf(jobID)
	if tgt == nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", jobs.ErrJobNotFound, jobID)
	}
	if err := m.verify(invoker, jobs.OpInitialize, tgt); err != nil {
		m.mu.Unlock()
		return err
	}
	j, ok := m.lookupLocked(jobID)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", jobs.ErrJobNotFound, jobID)
	}

	core := j.JobCore()
	if err := core.RunInit(ctx); err != nil {
		return err
	}
	m.exts.EmitJobInitialized(ctx, core)
	return nil
}

// RegisterJob attaches an initialized job to the manager: it enters the
// arena, counts against its class (singleton check applied), and its
// permission level becomes immutable.
func (m *Manager) RegisterJob(invoker, jobID id.JobID) error {
	m.mu.Lock()
	if m.down {
		m.mu.Unlock()
		return jobs.ErrManagerShutdown
	}
	p, ok := m.pending[jobID]
	if !ok {
		if _, registered := m.jobs[jobID]; registered {
			m.mu.Unlock()
			return jobs.NewStateError(jobID.String(), jobs.ErrRegistered)
		}
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", jobs.ErrJobNotFound, jobID)
	}
	if err := m.verify(invoker, jobs.OpRegister, &permTarget{id: jobID, level: p.level, creator: p.creator}); err != nil {
		m.mu.Unlock()
		return err
	}
	core := p.j.JobCore()
	if !core.Status().Has(job.StatusInitialized) {
		m.mu.Unlock()
		return jobs.NewStateError(jobID.String(), jobs.ErrNotInitialized)
	}
	ce := m.classes[core.Class().Name]
	if ce != nil && ce.cls.Singleton && ce.count > 0 {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", jobs.ErrSingletonConflict, ce.cls.Name)
	}
	if ce != nil {
		ce.count++
	}
	delete(m.pending, jobID)
	m.jobs[jobID] = p.j
	core.MarkRegistered(m, p.level, p.creator)
	m.indexReceiverLocked(jobID, p.j)
	m.mu.Unlock()

	if pr, ok := p.j.(ProxyReceiver); ok {
		pr.UseManager(m.proxyFor(jobID))
	}
	m.exts.EmitJobRegistered(context.Background(), core)
	return nil
}

// CreateAndRegisterJob is the common create → initialize → register →
// start sequence, returning a proxy bound to the invoker.
func (m *Manager) CreateAndRegisterJob(ctx context.Context, invoker id.JobID, className string, args map[string]any) (*JobProxy, error) {
	jid, err := m.CreateJob(invoker, className, args)
	if err != nil {
		return nil, err
	}
	if err := m.InitializeJob(ctx, invoker, jid); err != nil {
		return nil, err
	}
	if err := m.RegisterJob(invoker, jid); err != nil {
		return nil, err
	}
	// Proxy first: a fast job could complete and leave the arena before
	// a post-start lookup.
	p, err := m.FindJob(invoker, jid)
	if err != nil {
		return nil, err
	}
	if err := m.StartJob(ctx, invoker, jid); err != nil {
		return nil, err
	}
	return p, nil
}

// StartJob begins an activation. Starting an already-running job is a
// no-op, per the core contract.
func (m *Manager) StartJob(ctx context.Context, invoker, jobID id.JobID) error {
	core, err := m.gateOp(invoker, jobs.OpStart, jobID)
	if err != nil {
		return err
	}
	// An activation outlives the call that started it: the loop binds to
	// the manager's base context, never the caller's. A job spawning a
	// child from inside its own run iteration must not tie the child's
	// lifetime to that iteration.
	base := m.activationCtx()
	started, err := core.Start(base)
	if err != nil {
		return err
	}
	if started {
		if ctx == nil {
			ctx = base
		}
		m.exts.EmitJobStarted(ctx, core)
	}
	return nil
}

// activationCtx is the context job activations run under.
func (m *Manager) activationCtx() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.baseCtx != nil {
		return m.baseCtx
	}
	return context.Background()
}

// RestartJob force-stops the job and starts it again, passing through
// STOPPED.
func (m *Manager) RestartJob(invoker, jobID id.JobID) error {
	core, err := m.gateOp(invoker, jobs.OpRestart, jobID)
	if err != nil {
		return err
	}
	return core.Restart(false)
}

// StopJob requests a stop: graceful by default, immediate with force.
func (m *Manager) StopJob(invoker, jobID id.JobID, force bool) error {
	core, err := m.gateOp(invoker, jobs.OpStop, jobID)
	if err != nil {
		return err
	}
	core.Stop(force, false)
	return nil
}

// KillJob drives the job to the forced terminal state.
func (m *Manager) KillJob(invoker, jobID id.JobID) error {
	core, err := m.gateOp(invoker, jobs.OpKill, jobID)
	if err != nil {
		return err
	}
	return core.Kill(false)
}

// gateOp resolves a registered target, passes the permission gate, and
// enforces guarding for third parties.
func (m *Manager) gateOp(invoker id.JobID, op jobs.OpKind, jobID id.JobID) (*job.Core, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return nil, jobs.ErrManagerShutdown
	}
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", jobs.ErrJobNotFound, jobID)
	}
	core := j.JobCore()
	if err := m.verify(invoker, op, &permTarget{id: jobID, level: core.PermLevel(), creator: core.Creator()}); err != nil {
		return nil, err
	}
	if g := core.Guardian(); !g.IsNil() && g != invoker {
		return nil, jobs.NewStateError(jobID.String(), jobs.ErrGuarded)
	}
	return core, nil
}

// ──────────────────────────────────────────────────
// Guarding
// ──────────────────────────────────────────────────

// GuardJob places invoker's exclusivity claim on the target. While
// guarded, manager operations on the target by anyone but the guardian
// fail with a state error.
func (m *Manager) GuardJob(invoker, target id.JobID) error {
	m.mu.Lock()
	if m.down {
		m.mu.Unlock()
		return jobs.ErrManagerShutdown
	}
	if invoker.IsNil() {
		m.mu.Unlock()
		return &jobs.PermissionError{Invoker: "host", Op: jobs.OpGuard, Target: target.String(),
			Reason: "only registered jobs can hold guards"}
	}
	guardianJob, ok := m.jobs[invoker]
	if !ok {
		m.mu.Unlock()
		return &jobs.PermissionError{Invoker: invoker.String(), Op: jobs.OpGuard, Target: target.String(),
			Reason: "invoker is not a registered job"}
	}
	j, ok := m.jobs[target]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", jobs.ErrJobNotFound, target)
	}
	core := j.JobCore()
	if err := m.verify(invoker, jobs.OpGuard, &permTarget{id: target, level: core.PermLevel(), creator: core.Creator()}); err != nil {
		m.mu.Unlock()
		return err
	}
	if !core.Guardian().IsNil() {
		m.mu.Unlock()
		return jobs.NewStateError(target.String(), jobs.ErrGuarded)
	}
	core.SetGuardian(invoker)
	guardianJob.JobCore().AddGuarded(target)
	m.mu.Unlock()

	m.exts.EmitGuardSet(context.Background(), invoker, target)
	return nil
}

// UnguardJob releases a guard. Only the guardian (or the host) may
// release it; unguard waiters on the target resolve.
func (m *Manager) UnguardJob(invoker, target id.JobID) error {
	m.mu.Lock()
	if m.down {
		m.mu.Unlock()
		return jobs.ErrManagerShutdown
	}
	j, ok := m.jobs[target]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", jobs.ErrJobNotFound, target)
	}
	core := j.JobCore()
	guardian := core.Guardian()
	if guardian.IsNil() {
		m.mu.Unlock()
		return jobs.NewStateError(target.String(), jobs.ErrNotGuarded)
	}
	if !invoker.IsNil() && invoker != guardian {
		m.mu.Unlock()
		return jobs.NewStateError(target.String(), jobs.ErrGuarded)
	}
	if err := m.verify(invoker, jobs.OpUnguard, nil); err != nil {
		m.mu.Unlock()
		return err
	}
	core.ClearGuardian()
	if gj, ok := m.jobs[guardian]; ok {
		gj.JobCore().RemoveGuarded(target)
	}
	m.mu.Unlock()

	m.exts.EmitGuardCleared(context.Background(), guardian, target)
	return nil
}

// ──────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────

// Filter selects jobs for FindJobs. Zero fields match everything.
type Filter struct {
	// ClassName restricts matches to one class.
	ClassName string
	// StatusAll requires every flag in the mask.
	StatusAll job.Status
	// StatusAny requires at least one flag in the mask.
	StatusAny job.Status
	// CreatedBefore / CreatedAfter bound the creation timestamp.
	CreatedBefore time.Time
	CreatedAfter  time.Time
	// Limit caps the number of results; 0 = unlimited.
	Limit int
}

func (f Filter) matches(c *job.Core) bool {
	if f.ClassName != "" && c.Class().Name != f.ClassName {
		return false
	}
	st := c.Status()
	if f.StatusAll != 0 && !st.Has(f.StatusAll) {
		return false
	}
	if f.StatusAny != 0 && !st.Any(f.StatusAny) {
		return false
	}
	if !f.CreatedBefore.IsZero() && !c.CreatedAt().Before(f.CreatedBefore) {
		return false
	}
	if !f.CreatedAfter.IsZero() && !c.CreatedAt().After(f.CreatedAfter) {
		return false
	}
	return true
}

// FindJob returns a proxy for a registered job, bound to invoker for
// subsequent mutating calls.
func (m *Manager) FindJob(invoker, jobID id.JobID) (*JobProxy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.verify(invoker, jobs.OpFind, nil); err != nil {
		return nil, err
	}
	if _, ok := m.jobs[jobID]; !ok {
		return nil, fmt.Errorf("%w: %s", jobs.ErrJobNotFound, jobID)
	}
	return m.newProxyLocked(invoker, jobID), nil
}

// FindJobs returns proxies for all registered jobs matching the filter.
func (m *Manager) FindJobs(invoker id.JobID, f Filter) ([]*JobProxy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.verify(invoker, jobs.OpFind, nil); err != nil {
		return nil, err
	}
	var out []*JobProxy
	for jid, j := range m.jobs {
		if !f.matches(j.JobCore()) {
			continue
		}
		out = append(out, m.newProxyLocked(invoker, jid))
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

// HasJob reports whether a registered job with the identifier exists.
func (m *Manager) HasJob(jobID id.JobID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.jobs[jobID]
	return ok
}

// JobCount returns the number of registered jobs, the internal system
// job included.
func (m *Manager) JobCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

// lookupLocked finds a job in the arena or the pending set.
func (m *Manager) lookupLocked(jobID id.JobID) (job.Job, bool) {
	if j, ok := m.jobs[jobID]; ok {
		return j, true
	}
	if p, ok := m.pending[jobID]; ok {
		return p.j, true
	}
	return nil, false
}

// ──────────────────────────────────────────────────
// Binding (called by cores)
// ──────────────────────────────────────────────────

// JobStopped implements job.Binding: an activation wound down.
func (m *Manager) JobStopped(c *job.Core, reason job.StopReason) {
	m.exts.EmitJobStopped(context.Background(), c, reason)
}

// OutputFieldSet implements job.Binding.
func (m *Manager) OutputFieldSet(c *job.Core, field string) {
	m.exts.EmitOutputFieldSet(context.Background(), c, field)
}

// JobDone implements job.Binding: terminal cleanup. The job leaves the
// arena, its guards cascade-release, its proxies detach to cached
// snapshots, and its event routing is torn down.
func (m *Manager) JobDone(c *job.Core) {
	jid := c.Identifier()

	m.mu.Lock()
	j, registered := m.jobs[jid]
	delete(m.jobs, jid)
	if ce, ok := m.classes[c.Class().Name]; ok && registered {
		ce.count--
	}

	// Cascade: release everything this job guarded.
	type release struct{ guardian, target id.JobID }
	var released []release
	for _, targetID := range c.Guarded() {
		if tj, ok := m.jobs[targetID]; ok {
			tj.JobCore().ClearGuardian()
			released = append(released, release{jid, targetID})
		}
	}
	// And drop the reverse edge if this job was itself guarded.
	if g := c.Guardian(); !g.IsNil() {
		if gj, ok := m.jobs[g]; ok {
			gj.JobCore().RemoveGuarded(jid)
		}
		c.ClearGuardian()
	}

	m.unindexReceiverLocked(jid)
	drain := m.drains[jid]
	delete(m.drains, jid)

	snap := snapshotCore(c)
	detached := m.proxies[jid]
	delete(m.proxies, jid)
	m.mu.Unlock()

	for _, p := range detached {
		p.detach(snap)
	}
	if drain != nil {
		if registered {
			if r, ok := j.(job.EventReceiver); ok {
				r.Events().Close()
			}
		}
		drain.cancel()
		<-drain.done
	}

	ctx := context.Background()
	for _, rel := range released {
		m.exts.EmitGuardCleared(ctx, rel.guardian, rel.target)
	}
	st := c.Status()
	switch {
	case st.Has(job.StatusKilled):
		m.exts.EmitJobKilled(ctx, c)
	case st.Has(job.StatusCompleted):
		elapsed := c.DoneAt().Sub(c.RegisteredAt())
		m.exts.EmitJobCompleted(ctx, c, elapsed)
	}

	m.logger.Debug("job done",
		slog.String("job_id", jid.String()),
		slog.String("status", st.String()),
		slog.String("stop_reason", c.LastStopReason().String()),
	)
}

// ──────────────────────────────────────────────────
// Event routing plumbing
// ──────────────────────────────────────────────────

// indexReceiverLocked records the job under every event type it
// declares and starts its drain routine. Caller holds m.mu.
func (m *Manager) indexReceiverLocked(jid id.JobID, j job.Job) {
	r, ok := j.(job.EventReceiver)
	if !ok {
		return
	}
	r.Events().SetDefaultCapacity(m.cfg.EventQueueSize)
	for _, t := range r.EventTypes() {
		idx, ok := m.eventIndex[t]
		if !ok {
			idx = make(map[id.JobID]struct{})
			m.eventIndex[t] = idx
		}
		idx[jid] = struct{}{}
	}

	ctx, cancel := context.WithCancel(m.baseCtx)
	h := &drainHandle{cancel: cancel, done: make(chan struct{})}
	m.drains[jid] = h
	logger := j.JobCore().Logger()
	go func() {
		defer close(h.done)
		job.RunEventDrain(ctx, r, logger)
	}()
}

func (m *Manager) unindexReceiverLocked(jid id.JobID) {
	for t, idx := range m.eventIndex {
		delete(idx, jid)
		if len(idx) == 0 {
			delete(m.eventIndex, t)
		}
	}
}

// ──────────────────────────────────────────────────
// Shutdown
// ──────────────────────────────────────────────────

// Shutdown stops the manager: the internal job and every registered job
// are killed (the manager bypasses the permission gate and guards), and
// the Shutdown extension hook fires. Further operations fail with
// ErrManagerShutdown.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.down {
		m.mu.Unlock()
		return jobs.ErrManagerShutdown
	}
	m.down = true
	remaining := make([]*job.Core, 0, len(m.jobs))
	for _, j := range m.jobs {
		remaining = append(remaining, j.JobCore())
	}
	m.mu.Unlock()

	var firstErr error
	for _, core := range remaining {
		if err := core.Kill(false); err != nil {
			continue // already terminal
		}
		if _, err := core.AwaitDone(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	m.exts.EmitShutdown(ctx)
	m.logger.Info("manager shut down", slog.Int("jobs_killed", len(remaining)))
	return firstErr
}
