package job

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/semaphore"

	jobs "github.com/pygame-community/snakecore-jobs"
	"github.com/pygame-community/snakecore-jobs/event"
)

// ─────────────────────────────────────────────────────────────────────────────
// Event capability
// ─────────────────────────────────────────────────────────────────────────────

// EventReceiver is the capability a job implements to receive events
// routed by its manager. The manager indexes registered receivers by the
// types they declare and feeds matching events into their queue; a drain
// routine running alongside the job's main loop pulls events out and
// invokes OnEvent.
type EventReceiver interface {
	Job

	// EventTypes declares the event types the job wants routed to it.
	// Read once at registration.
	EventTypes() []event.Type

	// Events returns the job's inbound event queue. Served by an
	// embedded *EventQueue; the accessor is named differently from the
	// type so the promoted method is not shadowed by the embedded field.
	Events() *EventQueue

	// OnEvent handles one event. Errors are logged, not fatal to the
	// job.
	OnEvent(ctx context.Context, ev event.Event) error
}

// MultiEventReceiver extends EventReceiver with concurrent event
// sessions: up to MaxEventSessions OnEvent calls may be in flight at
// once, bounded by a semaphore. Plain EventReceivers handle events
// strictly one at a time.
type MultiEventReceiver interface {
	EventReceiver

	// MaxEventSessions bounds concurrent OnEvent invocations. Values
	// below 1 are treated as 1.
	MaxEventSessions() int64
}

// EventQueue is a bounded inbound event buffer. Embed a *EventQueue in a
// job struct to satisfy the queue half of EventReceiver:
//
//	type Audit struct {
//	    *job.Core
//	    *job.EventQueue
//	}
//
// When the buffer is full the oldest unconsumed event is dropped to make
// room. Close is called by the manager once the owning job is done.
type EventQueue struct {
	mu      sync.Mutex
	max     int
	events  []event.Event
	waiters []chan event.Event
	closed  bool
}

// NewEventQueue builds a queue holding at most max buffered events. A
// non-positive max leaves the bound unset: the manager applies its
// configured default at registration, with DefaultEventQueueSize as the
// backstop for queues used before then.
func NewEventQueue(max int) *EventQueue {
	return &EventQueue{max: max}
}

// DefaultEventQueueSize is the buffer bound used when neither the queue
// constructor nor the manager configured one.
const DefaultEventQueueSize = 256

// Events returns the queue itself, satisfying the accessor half of
// EventReceiver for jobs that embed *EventQueue.
func (q *EventQueue) Events() *EventQueue { return q }

// SetDefaultCapacity applies a fallback buffer bound to a queue built
// without an explicit one. Explicit constructor bounds win.
func (q *EventQueue) SetDefaultCapacity(max int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.max < 1 && max > 0 {
		q.max = max
	}
}

// bound is the effective buffer cap. Caller holds q.mu.
func (q *EventQueue) bound() int {
	if q.max < 1 {
		return DefaultEventQueueSize
	}
	return q.max
}

// AddEvent appends an event, waking one pending waiter if any. Returns
// false once the queue is closed.
func (q *EventQueue) AddEvent(ev event.Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	if len(q.waiters) > 0 {
		w := q.waiters[0]
		q.waiters = q.waiters[1:]
		w <- ev
		return true
	}
	q.events = append(q.events, ev)
	if len(q.events) > q.bound() {
		q.events = q.events[1:]
	}
	return true
}

// NextEvent returns the oldest buffered event, blocking until one
// arrives, the context ends, or the queue closes.
func (q *EventQueue) NextEvent(ctx context.Context) (event.Event, error) {
	q.mu.Lock()
	if len(q.events) > 0 {
		ev := q.events[0]
		q.events = q.events[1:]
		q.mu.Unlock()
		return ev, nil
	}
	if q.closed {
		q.mu.Unlock()
		return nil, jobs.ErrJobDone
	}
	w := make(chan event.Event, 1)
	q.waiters = append(q.waiters, w)
	q.mu.Unlock()

	select {
	case ev, ok := <-w:
		if !ok {
			return nil, jobs.ErrJobDone
		}
		return ev, nil
	case <-ctx.Done():
		q.dropWaiter(w)
		// A waiter resolved concurrently with cancellation still wins.
		select {
		case ev, ok := <-w:
			if ok {
				return ev, nil
			}
		default:
		}
		return nil, waitErr(ctx)
	}
}

// Len reports the number of buffered, unconsumed events.
func (q *EventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close shuts the queue: buffered events are discarded, pending and
// future NextEvent calls return ErrJobDone, AddEvent becomes a no-op.
func (q *EventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.events = nil
	for _, w := range q.waiters {
		close(w)
	}
	q.waiters = nil
}

func (q *EventQueue) dropWaiter(w chan event.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, other := range q.waiters {
		if other == w {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			return
		}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Drain routines
// ─────────────────────────────────────────────────────────────────────────────

// RunEventDrain pulls events off r's queue and invokes OnEvent until the
// context ends or the queue closes. For a MultiEventReceiver, up to
// MaxEventSessions handlers run concurrently behind a semaphore;
// otherwise events are handled strictly in order, one at a time. The
// manager runs this in its own goroutine alongside the job's main loop
// and waits for it to return during job cleanup.
func RunEventDrain(ctx context.Context, r EventReceiver, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	q := r.Events()

	if mr, ok := r.(MultiEventReceiver); ok {
		n := mr.MaxEventSessions()
		if n < 1 {
			n = 1
		}
		sem := semaphore.NewWeighted(n)
		var wg sync.WaitGroup
		for {
			ev, err := q.NextEvent(ctx)
			if err != nil {
				break
			}
			if err := sem.Acquire(ctx, 1); err != nil {
				break
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer sem.Release(1)
				handleEvent(ctx, r, ev, logger)
			}()
		}
		wg.Wait()
		return
	}

	for {
		ev, err := q.NextEvent(ctx)
		if err != nil {
			return
		}
		handleEvent(ctx, r, ev, logger)
	}
}

func handleEvent(ctx context.Context, r EventReceiver, ev event.Event, logger *slog.Logger) {
	err := func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("panic in OnEvent: %v", rec)
				logger.Error("event handler panic",
					"event_type", ev.Type(),
					"panic", rec,
					"stack", string(debug.Stack()))
			}
		}()
		return r.OnEvent(ctx, ev)
	}()
	if err != nil && ctx.Err() == nil {
		logger.Error("event handler failed",
			"event_type", ev.Type(),
			"error", err)
	}
}
