package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	jobs "github.com/pygame-community/snakecore-jobs"
	"github.com/pygame-community/snakecore-jobs/id"
	"github.com/pygame-community/snakecore-jobs/job"
)

// postmortemBucket collects schedule records that failed to fire. They
// are kept for inspection but never picked up by the scheduling pass
// and never exported.
const postmortemBucket = "0"

// ScheduleRecord is one persistent schedule entry. The JSON shape is the
// snapshot wire format.
type ScheduleRecord struct {
	ID        id.ScheduleID `json:"schedule_identifier"`
	CreatorID id.JobID      `json:"schedule_creator_identifier"`
	CreatedAt time.Time     `json:"schedule_timestamp"`

	// TargetAt is the first firing time; its nanosecond stamp names the
	// record's bucket for the record's whole life.
	TargetAt       time.Time     `json:"target_timestamp"`
	RecurInterval  time.Duration `json:"recur_interval"`
	Occurrences    int64         `json:"occurrences"`
	MaxRecurrences int64         `json:"max_recurrences"`

	ClassUUID id.ClassUUID   `json:"class_uuid"`
	JobArgs   []any          `json:"job_args"`
	JobKwargs map[string]any `json:"job_kwargs"`

	Failure string `json:"failure,omitempty"`

	// NextDueAt is runtime-only state, reconstructed on decode as
	// TargetAt plus the occurrences already consumed.
	NextDueAt time.Time `json:"-"`
}

// ScheduleSpec is the caller-facing half of CreateJobSchedule.
type ScheduleSpec struct {
	// ClassUUID names the job class to instantiate. Required.
	ClassUUID id.ClassUUID
	// TargetAt is the first firing time. Zero means fire on the next
	// scheduling pass.
	TargetAt time.Time
	// RecurInterval re-fires the record at this cadence after TargetAt.
	// Zero fires exactly once. Negative means "as fast as possible".
	RecurInterval time.Duration
	// MaxRecurrences caps total firings when recurring; 0 = unlimited.
	MaxRecurrences int64
	// Args become the instantiated job's constructor arguments.
	Args map[string]any
}

// bucket groups schedule records sharing a target nanosecond stamp.
// Either raw (undecoded snapshot data) or records is set; decode moves
// a bucket from the former to the latter exactly once.
type bucket struct {
	raw     json.RawMessage
	records map[id.ScheduleID]*ScheduleRecord
}

func (b *bucket) decoded() bool { return b.records != nil }

// scheduleTable holds all schedule buckets. It has its own lock so the
// scheduling pass never contends with job arena operations.
type scheduleTable struct {
	buckets map[string]*bucket
	ids     map[id.ScheduleID]struct{}
	limiter *rate.Limiter
}

func newScheduleTable(yieldRate float64) *scheduleTable {
	limit := rate.Inf
	if yieldRate > 0 {
		limit = rate.Limit(yieldRate)
	}
	return &scheduleTable{
		buckets: make(map[string]*bucket),
		ids:     make(map[id.ScheduleID]struct{}),
		limiter: rate.NewLimiter(limit, 1),
	}
}

// bucketKey derives the table key from a schedule identifier.
func bucketKey(sid id.ScheduleID) string {
	return strconv.FormatInt(sid.TargetNS(), 10)
}

// addLocked inserts a record into its bucket. Caller holds m.schedMu.
func (t *scheduleTable) addLocked(rec *ScheduleRecord) {
	key := bucketKey(rec.ID)
	b, ok := t.buckets[key]
	if !ok {
		b = &bucket{records: make(map[id.ScheduleID]*ScheduleRecord)}
		t.buckets[key] = b
	}
	b.records[rec.ID] = rec
	t.ids[rec.ID] = struct{}{}
}

// removeLocked drops a record and prunes its bucket when empty. The
// bucket must already be decoded. Caller holds m.schedMu.
func (t *scheduleTable) removeLocked(sid id.ScheduleID) {
	key := bucketKey(sid)
	if b, ok := t.buckets[key]; ok && b.decoded() {
		delete(b.records, sid)
		if len(b.records) == 0 {
			delete(t.buckets, key)
		}
	}
	delete(t.ids, sid)
}

// decodeBucket materializes a lazily-imported bucket. Deserialization
// runs under the manager's serde semaphore so a burst of due buckets
// cannot monopolize the process.
func (m *Manager) decodeBucket(ctx context.Context, b *bucket) error {
	if b.decoded() {
		return nil
	}
	if err := m.serde.Acquire(ctx, 1); err != nil {
		return err
	}
	defer m.serde.Release(1)

	var records map[id.ScheduleID]*ScheduleRecord
	if err := json.Unmarshal(b.raw, &records); err != nil {
		return fmt.Errorf("jobs: decoding schedule bucket: %w", err)
	}
	for _, rec := range records {
		rec.NextDueAt = rec.TargetAt
		if rec.RecurInterval > 0 && rec.Occurrences > 0 {
			rec.NextDueAt = rec.TargetAt.Add(time.Duration(rec.Occurrences) * rec.RecurInterval)
		}
	}
	b.records = records
	b.raw = nil
	return nil
}

// ──────────────────────────────────────────────────
// Schedule operations
// ──────────────────────────────────────────────────

// CreateJobSchedule records a future (optionally recurring) job
// instantiation. The class is named by UUID so records survive process
// restarts; firing resolves the UUID against whatever classes the new
// process registered.
func (m *Manager) CreateJobSchedule(invoker id.JobID, spec ScheduleSpec) (id.ScheduleID, error) {
	m.mu.Lock()
	if m.down {
		m.mu.Unlock()
		return "", jobs.ErrManagerShutdown
	}
	if err := m.verify(invoker, jobs.OpSchedule, nil); err != nil {
		m.mu.Unlock()
		return "", err
	}
	m.mu.Unlock()

	if spec.ClassUUID == id.NilClassUUID {
		return "", fmt.Errorf("%w: scheduling requires a class UUID", jobs.ErrClassNotFound)
	}
	now := time.Now().UTC()
	target := spec.TargetAt
	if target.IsZero() {
		target = now
	}
	interval := spec.RecurInterval
	if interval < 0 {
		interval = time.Millisecond
	}

	sid := id.NewScheduleID(m.id, target.UnixNano(), id.Stamp())
	rec := &ScheduleRecord{
		ID:             sid,
		CreatorID:      invoker,
		CreatedAt:      now,
		TargetAt:       target,
		RecurInterval:  interval,
		MaxRecurrences: spec.MaxRecurrences,
		ClassUUID:      spec.ClassUUID,
		JobArgs:        []any{},
		JobKwargs:      spec.Args,
		NextDueAt:      target,
	}

	m.schedMu.Lock()
	m.sched.addLocked(rec)
	m.schedMu.Unlock()

	m.exts.EmitScheduleCreated(context.Background(), sid)
	return sid, nil
}

// RemoveJobSchedule deletes a schedule record before (or between) its
// firings. While the record's creator is still a registered job, removal
// by anyone else must also pass the gate against that creator.
func (m *Manager) RemoveJobSchedule(invoker id.JobID, sid id.ScheduleID) error {
	m.mu.Lock()
	if m.down {
		m.mu.Unlock()
		return jobs.ErrManagerShutdown
	}
	if err := m.verify(invoker, jobs.OpUnschedule, nil); err != nil {
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	m.schedMu.Lock()
	if _, ok := m.sched.ids[sid]; !ok {
		m.schedMu.Unlock()
		return fmt.Errorf("%w: %s", jobs.ErrScheduleNotFound, sid)
	}
	b, hasBucket := m.sched.buckets[bucketKey(sid)]
	if hasBucket && !b.decoded() {
		if err := m.decodeBucket(context.Background(), b); err != nil {
			m.schedMu.Unlock()
			return err
		}
	}
	var creator id.JobID
	if hasBucket {
		if rec, ok := b.records[sid]; ok {
			creator = rec.CreatorID
		}
	}
	m.schedMu.Unlock()

	if !invoker.IsNil() && !creator.IsNil() && invoker != creator {
		m.mu.Lock()
		if tgt := m.targetOf(creator); tgt != nil {
			if err := m.verify(invoker, jobs.OpUnschedule, tgt); err != nil {
				m.mu.Unlock()
				return err
			}
		}
		m.mu.Unlock()
	}

	m.schedMu.Lock()
	if _, ok := m.sched.ids[sid]; !ok {
		m.schedMu.Unlock()
		return fmt.Errorf("%w: %s", jobs.ErrScheduleNotFound, sid)
	}
	m.sched.removeLocked(sid)
	m.schedMu.Unlock()

	m.exts.EmitScheduleRemoved(context.Background(), sid)
	return nil
}

// HasJobSchedule reports whether a live schedule record exists.
// Postmortem records do not count.
func (m *Manager) HasJobSchedule(sid id.ScheduleID) bool {
	m.schedMu.Lock()
	defer m.schedMu.Unlock()
	_, ok := m.sched.ids[sid]
	return ok
}

// JobScheduleCount returns the number of live schedule records.
func (m *Manager) JobScheduleCount() int {
	m.schedMu.Lock()
	defer m.schedMu.Unlock()
	return len(m.sched.ids)
}

// ──────────────────────────────────────────────────
// The scheduling pass
// ──────────────────────────────────────────────────

// runSchedulingPass fires every due record once. Called from the
// internal system job at the configured cadence. Firing happens outside
// the table lock; the rate limiter yields between instantiations so a
// backlog of due records cannot starve the process. A failure in one
// bucket or record never aborts the rest of the pass: undecodable
// buckets are written off as postmortems and the pass moves on.
func (m *Manager) runSchedulingPass(ctx context.Context) error {
	now := time.Now().UTC()

	type corruptBucket struct {
		sids []id.ScheduleID
		err  error
	}
	var corrupt []corruptBucket

	m.schedMu.Lock()
	var due []*ScheduleRecord
	for key, b := range m.sched.buckets {
		if key == postmortemBucket {
			continue
		}
		ns, err := strconv.ParseInt(key, 10, 64)
		if err != nil || ns > now.UnixNano() {
			continue
		}
		if !b.decoded() {
			if err := m.decodeBucket(ctx, b); err != nil {
				if ctx.Err() != nil {
					m.schedMu.Unlock()
					return ctx.Err()
				}
				// Undecodable snapshot data. Move every identifier the
				// bucket claims into the postmortem bucket and drop it.
				cb := corruptBucket{err: err}
				delete(m.sched.buckets, key)
				for sid := range m.sched.ids {
					if bucketKey(sid) == key {
						delete(m.sched.ids, sid)
						cb.sids = append(cb.sids, sid)
					}
				}
				pb, ok := m.sched.buckets[postmortemBucket]
				if !ok {
					pb = &bucket{records: make(map[id.ScheduleID]*ScheduleRecord)}
					m.sched.buckets[postmortemBucket] = pb
				}
				for _, sid := range cb.sids {
					pb.records[sid] = &ScheduleRecord{ID: sid, Failure: err.Error()}
				}
				corrupt = append(corrupt, cb)
				continue
			}
		}
		for _, rec := range b.records {
			if !rec.NextDueAt.After(now) {
				due = append(due, rec)
			}
		}
	}
	m.schedMu.Unlock()

	for _, cb := range corrupt {
		m.logger.Warn("discarding undecodable schedule bucket",
			slog.Int("schedules", len(cb.sids)),
			slog.String("error", cb.err.Error()),
		)
		for _, sid := range cb.sids {
			m.exts.EmitScheduleFailed(context.Background(), sid, cb.err)
		}
	}

	for _, rec := range due {
		if err := m.sched.limiter.Wait(ctx); err != nil {
			return err
		}
		jid, fireErr := m.fireSchedule(ctx, rec)
		m.settleSchedule(rec, jid, fireErr, now)
	}
	return nil
}

// fireSchedule instantiates, registers and starts the scheduled job.
func (m *Manager) fireSchedule(ctx context.Context, rec *ScheduleRecord) (id.JobID, error) {
	m.mu.Lock()
	if m.down {
		m.mu.Unlock()
		return "", jobs.ErrManagerShutdown
	}
	ce, ok := m.byUUID[rec.ClassUUID]
	if !ok {
		m.mu.Unlock()
		return "", fmt.Errorf("%w: class UUID %s", jobs.ErrClassNotFound, rec.ClassUUID)
	}
	if ce.cls.Singleton && ce.count > 0 {
		m.mu.Unlock()
		return "", fmt.Errorf("%w: %s", jobs.ErrSingletonConflict, ce.cls.Name)
	}
	j := ce.cls.New()
	core := j.JobCore()
	jid := id.NewJobID(ce.cls.Name, ce.classNS)
	core.Attach(j, ce.cls, jid, rec.JobKwargs, m.logger, m.cfg.StopTimeout)
	m.mu.Unlock()

	if err := core.RunInit(ctx); err != nil {
		return "", err
	}
	m.exts.EmitJobInitialized(ctx, core)

	m.mu.Lock()
	if m.down {
		m.mu.Unlock()
		return "", jobs.ErrManagerShutdown
	}
	ce.count++
	m.jobs[jid] = j
	core.MarkRegistered(m, ce.level, rec.CreatorID)
	core.SetScheduleID(rec.ID)
	m.indexReceiverLocked(jid, j)
	m.mu.Unlock()

	if pr, ok := j.(ProxyReceiver); ok {
		pr.UseManager(m.proxyFor(jid))
	}
	m.exts.EmitJobRegistered(ctx, core)

	// The activation must outlive this pass iteration.
	started, err := core.Start(m.activationCtx())
	if err != nil {
		return jid, err
	}
	if started {
		m.exts.EmitJobStarted(ctx, core)
	}
	return jid, nil
}

// settleSchedule applies a firing outcome to the record: recurrence
// advance, removal, or postmortem on failure.
func (m *Manager) settleSchedule(rec *ScheduleRecord, jid id.JobID, fireErr error, now time.Time) {
	ctx := context.Background()

	m.schedMu.Lock()
	if fireErr != nil {
		rec.Failure = fireErr.Error()
		m.sched.removeLocked(rec.ID)
		pb, ok := m.sched.buckets[postmortemBucket]
		if !ok {
			pb = &bucket{records: make(map[id.ScheduleID]*ScheduleRecord)}
			m.sched.buckets[postmortemBucket] = pb
		}
		pb.records[rec.ID] = rec
		m.schedMu.Unlock()

		m.logger.Warn("schedule firing failed",
			slog.String("schedule_id", rec.ID.String()),
			slog.String("error", fireErr.Error()),
		)
		m.exts.EmitScheduleFailed(ctx, rec.ID, fireErr)
		return
	}

	rec.Occurrences++
	exhausted := rec.RecurInterval == 0 ||
		(rec.MaxRecurrences > 0 && rec.Occurrences >= rec.MaxRecurrences)
	if exhausted {
		m.sched.removeLocked(rec.ID)
	} else {
		rec.NextDueAt = rec.NextDueAt.Add(rec.RecurInterval)
		if !rec.NextDueAt.After(now) {
			rec.NextDueAt = now.Add(rec.RecurInterval)
		}
	}
	m.schedMu.Unlock()

	m.exts.EmitScheduleFired(ctx, rec.ID, jid)
	if exhausted {
		m.exts.EmitScheduleRemoved(ctx, rec.ID)
	}
}

// ──────────────────────────────────────────────────
// The internal system job
// ──────────────────────────────────────────────────

// schedulerJob is the manager's own job: it runs the scheduling pass at
// the configured interval, registered at the SYSTEM level so nothing
// below the host can touch it.
type schedulerJob struct {
	*job.Core
	mgr *Manager
}

// OnRun never propagates pass errors: an error return would end the
// scheduler's loop and leave the manager without scheduling for the
// rest of the process.
func (s *schedulerJob) OnRun(ctx context.Context) error {
	if err := s.mgr.runSchedulingPass(ctx); err != nil && ctx.Err() == nil {
		s.mgr.logger.Warn("scheduling pass aborted",
			slog.String("error", err.Error()))
	}
	return nil
}

func (m *Manager) startInternalJob(ctx context.Context) error {
	cls := &job.Class{
		Name:      "SystemScheduler",
		Singleton: true,
		New:       func() job.Job { return &schedulerJob{Core: job.NewCore(), mgr: m} },
		Interval:  m.cfg.SchedulingInterval,
	}
	j := cls.New()
	sj := j.(*schedulerJob)
	core := j.JobCore()
	jid := id.NewJobID(cls.Name, id.Stamp())
	core.Attach(j, cls, jid, nil, m.logger, m.cfg.StopTimeout)

	if err := core.RunInit(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	m.jobs[jid] = j
	core.MarkRegistered(m, jobs.PermSystem, "")
	m.internal = sj
	m.mu.Unlock()

	_, err := core.Start(ctx)
	return err
}
