package job

import (
	"context"
	"sync"

	jobs "github.com/pygame-community/snakecore-jobs"
)

// Cleared is the sentinel value delivered to queue waiters that do not
// request cancel-on-clear when the queue they wait on is cleared.
var Cleared = &clearedSentinel{}

type clearedSentinel struct{}

// OutputSet holds a job's named output fields (write-once values) and
// output queues (append-only sequences). Names may be declared on the
// job's Class; a job with declared outputs rejects unknown names.
type OutputSet struct {
	core *Core

	mu        sync.Mutex
	fields    map[string]*outputField
	queues    map[string]*OutputQueue
	fieldDecl map[string]struct{}
	queueDecl map[string]struct{}
	down      bool
	killed    bool
}

type outputField struct {
	set     bool
	value   any
	waiters []chan queueResult
}

type queueResult struct {
	value any
	err   error
}

func newOutputSet(core *Core, fieldNames, queueNames []string) *OutputSet {
	s := &OutputSet{
		core:   core,
		fields: make(map[string]*outputField),
		queues: make(map[string]*OutputQueue),
	}
	if len(fieldNames) > 0 {
		s.fieldDecl = make(map[string]struct{}, len(fieldNames))
		for _, n := range fieldNames {
			s.fieldDecl[n] = struct{}{}
		}
	}
	if len(queueNames) > 0 {
		s.queueDecl = make(map[string]struct{}, len(queueNames))
		for _, n := range queueNames {
			s.queueDecl[n] = struct{}{}
		}
	}
	return s
}

func (s *OutputSet) jobID() string {
	if s.core == nil {
		return ""
	}
	return s.core.Identifier().String()
}

// FieldNames returns the declared output field names.
func (s *OutputSet) FieldNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.fieldDecl))
	for n := range s.fieldDecl {
		names = append(names, n)
	}
	return names
}

// QueueNames returns the declared output queue names.
func (s *OutputSet) QueueNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.queueDecl))
	for n := range s.queueDecl {
		names = append(names, n)
	}
	return names
}

func (s *OutputSet) fieldLocked(name string) (*outputField, error) {
	if s.fieldDecl != nil {
		if _, ok := s.fieldDecl[name]; !ok {
			return nil, &jobs.OutputError{Job: s.jobID(), Field: name, Err: jobs.ErrUnknownOutput}
		}
	}
	f, ok := s.fields[name]
	if !ok {
		f = &outputField{}
		s.fields[name] = f
	}
	return f, nil
}

// SetField writes a field exactly once and resolves all registered
// waiters atomically. A second write fails with ErrOutputFieldSet.
func (s *OutputSet) SetField(name string, v any) error {
	s.mu.Lock()
	if s.down {
		s.mu.Unlock()
		return jobs.NewStateError(s.jobID(), jobs.ErrJobDone)
	}
	f, err := s.fieldLocked(name)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if f.set {
		s.mu.Unlock()
		return &jobs.OutputError{Job: s.jobID(), Field: name, Err: jobs.ErrOutputFieldSet}
	}
	f.set = true
	f.value = v
	waiters := f.waiters
	f.waiters = nil
	s.mu.Unlock()

	for _, ch := range waiters {
		ch <- queueResult{value: v}
	}
	if s.core != nil {
		if b := s.core.binding(); b != nil {
			b.OutputFieldSet(s.core, name)
		}
	}
	return nil
}

// Field reads a set field; ErrOutputFieldUnset when no value is present.
func (s *OutputSet) Field(name string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.fieldLocked(name)
	if err != nil {
		return nil, err
	}
	if !f.set {
		return nil, &jobs.OutputError{Job: s.jobID(), Field: name, Err: jobs.ErrOutputFieldUnset}
	}
	return f.value, nil
}

// FieldOr reads a field, returning def when it is unset.
func (s *OutputSet) FieldOr(name string, def any) any {
	v, err := s.Field(name)
	if err != nil {
		return def
	}
	return v
}

// AwaitField blocks until the field is set. A value already present
// resolves immediately; a job death while waiting surfaces as
// ErrJobKilled or ErrJobDone.
func (s *OutputSet) AwaitField(ctx context.Context, name string) (any, error) {
	s.mu.Lock()
	if s.down {
		err := s.deathErrLocked()
		s.mu.Unlock()
		return nil, err
	}
	f, err := s.fieldLocked(name)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if f.set {
		v := f.value
		s.mu.Unlock()
		return v, nil
	}
	ch := make(chan queueResult, 1)
	f.waiters = append(f.waiters, ch)
	s.mu.Unlock()

	select {
	case res := <-ch:
		return res.value, res.err
	case <-ctx.Done():
		return nil, waitErr(ctx)
	}
}

func (s *OutputSet) deathErrLocked() error {
	if s.killed {
		return jobs.ErrJobKilled
	}
	return jobs.NewStateError(s.jobID(), jobs.ErrJobDone)
}

// Queue returns the named output queue, creating it on first use.
func (s *OutputSet) Queue(name string) (*OutputQueue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queueDecl != nil {
		if _, ok := s.queueDecl[name]; !ok {
			return nil, &jobs.OutputError{Job: s.jobID(), Field: name, Err: jobs.ErrUnknownOutput}
		}
	}
	q, ok := s.queues[name]
	if !ok {
		q = &OutputQueue{name: name, set: s}
		s.queues[name] = q
	}
	return q, nil
}

// Push appends a value to the named queue.
func (s *OutputSet) Push(name string, v any) error {
	q, err := s.Queue(name)
	if err != nil {
		return err
	}
	return q.Push(v)
}

// shutdown resolves every pending waiter with the job's death and
// rejects further writes.
func (s *OutputSet) shutdown(killed bool) {
	s.mu.Lock()
	s.down = true
	s.killed = killed
	var waiters []chan queueResult
	for _, f := range s.fields {
		waiters = append(waiters, f.waiters...)
		f.waiters = nil
	}
	err := s.deathErrLocked()
	queues := make([]*OutputQueue, 0, len(s.queues))
	for _, q := range s.queues {
		queues = append(queues, q)
	}
	s.mu.Unlock()

	for _, ch := range waiters {
		ch <- queueResult{err: err}
	}
	for _, q := range queues {
		q.shutdown(err)
	}
}

// ──────────────────────────────────────────────────
// Output queues
// ──────────────────────────────────────────────────

// OutputQueue is an append-only sequence with one-shot waiters: each
// push resolves only the waiters pending at that moment. Subscribers
// that need independent consumption cursors use a Proxy.
type OutputQueue struct {
	name string
	set  *OutputSet

	mu        sync.Mutex
	values    []any
	offset    int // count of values dropped by clears
	waiters   []*queueWaiter
	proxies   []*OutputQueueProxy
	exhausted bool
	down      bool
	downErr   error
}

type queueWaiter struct {
	ch            chan queueResult
	cancelOnClear bool
}

// Name returns the queue's name.
func (q *OutputQueue) Name() string { return q.name }

// Len returns the number of values currently held (cleared values
// excluded).
func (q *OutputQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.values)
}

// Push appends v and resolves the currently pending waiters.
func (q *OutputQueue) Push(v any) error {
	q.mu.Lock()
	if q.down {
		err := q.downErr
		q.mu.Unlock()
		return err
	}
	if q.exhausted {
		q.mu.Unlock()
		return &jobs.OutputError{Job: q.set.jobID(), Field: q.name, Err: jobs.ErrQueueExhausted}
	}
	q.values = append(q.values, v)
	waiters := q.waiters
	q.waiters = nil
	q.mu.Unlock()

	for _, w := range waiters {
		w.ch <- queueResult{value: v}
	}
	return nil
}

// Exhaust marks the queue as complete: no further pushes are accepted
// and pending waiters resolve with ErrQueueExhausted.
func (q *OutputQueue) Exhaust() {
	q.mu.Lock()
	q.exhausted = true
	waiters := q.waiters
	q.waiters = nil
	q.mu.Unlock()

	err := &jobs.OutputError{Job: q.set.jobID(), Field: q.name, Err: jobs.ErrQueueExhausted}
	for _, w := range waiters {
		w.ch <- queueResult{err: err}
	}
}

// Exhausted reports whether the queue was marked complete.
func (q *OutputQueue) Exhausted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.exhausted
}

// Clear drops all held values. Rescue-buffer proxies snapshot the
// dropped values first. Waiters that requested cancel-on-clear fail
// with ErrQueueCleared; the rest resolve with the Cleared sentinel.
func (q *OutputQueue) Clear() {
	q.mu.Lock()
	dropped := q.values
	for _, p := range q.proxies {
		p.rescueLocked(q.offset, dropped)
	}
	q.offset += len(dropped)
	q.values = nil
	waiters := q.waiters
	q.waiters = nil
	q.mu.Unlock()

	clearErr := &jobs.OutputError{Job: q.set.jobID(), Field: q.name, Err: jobs.ErrQueueCleared}
	for _, w := range waiters {
		if w.cancelOnClear {
			w.ch <- queueResult{err: clearErr}
		} else {
			w.ch <- queueResult{value: Cleared}
		}
	}
}

// Next blocks until a value is pushed and returns it. cancelOnClear
// selects the waiter's clear behavior. Values already in the queue are
// not consumed by Next; use a Proxy for cursor-based consumption.
func (q *OutputQueue) Next(ctx context.Context, cancelOnClear bool) (any, error) {
	q.mu.Lock()
	if q.down {
		err := q.downErr
		q.mu.Unlock()
		return nil, err
	}
	if q.exhausted {
		q.mu.Unlock()
		return nil, &jobs.OutputError{Job: q.set.jobID(), Field: q.name, Err: jobs.ErrQueueExhausted}
	}
	w := &queueWaiter{ch: make(chan queueResult, 1), cancelOnClear: cancelOnClear}
	q.waiters = append(q.waiters, w)
	q.mu.Unlock()

	select {
	case res := <-w.ch:
		return res.value, res.err
	case <-ctx.Done():
		q.removeWaiter(w)
		return nil, waitErr(ctx)
	}
}

func (q *OutputQueue) removeWaiter(w *queueWaiter) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, x := range q.waiters {
		if x == w {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			return
		}
	}
}

func (q *OutputQueue) shutdown(err error) {
	q.mu.Lock()
	q.down = true
	q.downErr = err
	waiters := q.waiters
	q.waiters = nil
	q.mu.Unlock()

	for _, w := range waiters {
		w.ch <- queueResult{err: err}
	}
}

// NewProxy creates an independent consumption cursor over the queue.
// With rescue enabled, values the proxy has not yet consumed are
// snapshotted into its rescue buffer when the queue is cleared.
func (q *OutputQueue) NewProxy(rescue bool) *OutputQueueProxy {
	q.mu.Lock()
	defer q.mu.Unlock()
	p := &OutputQueueProxy{
		queue:  q,
		cursor: q.offset + len(q.values),
		rescue: rescue,
	}
	q.proxies = append(q.proxies, p)
	return p
}

// OutputQueueProxy consumes an output queue through a private cursor,
// decoupled from the producer's queue state and from other subscribers.
type OutputQueueProxy struct {
	queue *OutputQueue

	// cursor is an absolute index (clears included), guarded by the
	// queue's lock.
	cursor   int
	rescue   bool
	rescued  []any
	detached bool
}

// rescueLocked snapshots values the proxy has not consumed yet.
// Caller holds the queue lock; offset is the absolute index of
// dropped[0].
func (p *OutputQueueProxy) rescueLocked(offset int, dropped []any) {
	if !p.rescue || p.detached {
		return
	}
	from := p.cursor - offset
	if from < 0 {
		from = 0
	}
	if from < len(dropped) {
		p.rescued = append(p.rescued, dropped[from:]...)
	}
}

// Pending returns how many values the proxy can consume without
// blocking.
func (p *OutputQueueProxy) Pending() int {
	q := p.queue
	q.mu.Lock()
	defer q.mu.Unlock()
	if p.detached {
		return 0
	}
	n := len(p.rescued)
	if avail := q.offset + len(q.values) - p.cursor; avail > 0 {
		n += avail
	}
	return n
}

// Next returns the proxy's next value, blocking until one is available.
// Rescued values are consumed first. When the queue is exhausted and
// fully consumed, Next fails with ErrQueueExhausted.
func (p *OutputQueueProxy) Next(ctx context.Context) (any, error) {
	q := p.queue
	for {
		q.mu.Lock()
		if p.detached {
			q.mu.Unlock()
			return nil, jobs.ErrProxyDetached
		}
		if len(p.rescued) > 0 {
			v := p.rescued[0]
			p.rescued = p.rescued[1:]
			q.mu.Unlock()
			return v, nil
		}
		if p.cursor < q.offset {
			// Values between cursor and offset were cleared away
			// without rescue; skip over them.
			p.cursor = q.offset
		}
		if idx := p.cursor - q.offset; idx < len(q.values) {
			v := q.values[idx]
			p.cursor++
			q.mu.Unlock()
			return v, nil
		}
		if q.exhausted {
			q.mu.Unlock()
			return nil, &jobs.OutputError{Job: q.set.jobID(), Field: q.name, Err: jobs.ErrQueueExhausted}
		}
		if q.down {
			err := q.downErr
			q.mu.Unlock()
			return nil, err
		}
		w := &queueWaiter{ch: make(chan queueResult, 1)}
		q.waiters = append(q.waiters, w)
		q.mu.Unlock()

		select {
		case res := <-w.ch:
			if res.err != nil {
				return nil, res.err
			}
			// Re-check the queue under the lock instead of trusting
			// the delivered value; another subscriber may have
			// advanced past it.
		case <-ctx.Done():
			q.removeWaiter(w)
			return nil, waitErr(ctx)
		}
	}
}

// Detach unsubscribes the proxy from the queue; its rescue buffer is
// discarded.
func (p *OutputQueueProxy) Detach() {
	q := p.queue
	q.mu.Lock()
	defer q.mu.Unlock()
	p.detached = true
	p.rescued = nil
	for i, x := range q.proxies {
		if x == p {
			q.proxies = append(q.proxies[:i], q.proxies[i+1:]...)
			return
		}
	}
}
