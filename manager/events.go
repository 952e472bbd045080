package manager

import (
	"context"
	"errors"

	jobs "github.com/pygame-community/snakecore-jobs"
	"github.com/pygame-community/snakecore-jobs/event"
	"github.com/pygame-community/snakecore-jobs/id"
	"github.com/pygame-community/snakecore-jobs/job"
)

// eventWaiter is a pending WaitForEvent call. The channel is buffered
// and receives exactly one event; a waiter is removed from the list the
// moment it matches.
type eventWaiter struct {
	types map[event.Type]struct{}
	pred  func(event.Event) bool
	ch    chan event.Event
}

func (w *eventWaiter) matches(ev event.Event) bool {
	if len(w.types) > 0 {
		if _, ok := w.types[ev.Type()]; !ok {
			return false
		}
	}
	if w.pred != nil && !w.pred(ev) {
		return false
	}
	return true
}

// DispatchEvent routes ev to every registered job that declared its
// type, and to any matching one-shot waiters. It returns the number of
// receiver queues the event landed in. A zero invoker dispatches as the
// host.
func (m *Manager) DispatchEvent(invoker id.JobID, ev event.Event) (int, error) {
	m.mu.Lock()
	if m.down {
		m.mu.Unlock()
		return 0, jobs.ErrManagerShutdown
	}
	if err := m.verify(invoker, jobs.OpDispatchEvent, nil); err != nil {
		m.mu.Unlock()
		return 0, err
	}
	event.MarkDispatched(ev, invoker)

	var queues []*job.EventQueue
	for jid := range m.eventIndex[ev.Type()] {
		j, ok := m.jobs[jid]
		if !ok {
			continue
		}
		if r, ok := j.(job.EventReceiver); ok {
			queues = append(queues, r.Events())
		}
	}

	// Resolve matching waiters in place; each receives at most once.
	var resolved []*eventWaiter
	kept := m.waiters[:0]
	for _, w := range m.waiters {
		if w.matches(ev) {
			resolved = append(resolved, w)
			continue
		}
		kept = append(kept, w)
	}
	m.waiters = kept
	m.mu.Unlock()

	received := 0
	for _, q := range queues {
		if q.AddEvent(ev) {
			received++
		}
	}
	for _, w := range resolved {
		w.ch <- ev
		received++
	}

	m.exts.EmitEventDispatched(context.Background(), ev.Type(), received)
	return received, nil
}

// WaitForEvent blocks until an event matching the given types (and the
// optional predicate) is dispatched, or ctx ends. A deadline expiry is
// reported as ErrWaitTimeout.
func (m *Manager) WaitForEvent(ctx context.Context, invoker id.JobID, pred func(event.Event) bool, types ...event.Type) (event.Event, error) {
	m.mu.Lock()
	if m.down {
		m.mu.Unlock()
		return nil, jobs.ErrManagerShutdown
	}
	if err := m.verify(invoker, jobs.OpFind, nil); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	w := &eventWaiter{pred: pred, ch: make(chan event.Event, 1)}
	if len(types) > 0 {
		w.types = make(map[event.Type]struct{}, len(types))
		for _, t := range types {
			w.types[t] = struct{}{}
		}
	}
	m.waiters = append(m.waiters, w)
	m.mu.Unlock()

	select {
	case ev := <-w.ch:
		return ev, nil
	case <-ctx.Done():
		m.mu.Lock()
		for i, other := range m.waiters {
			if other == w {
				m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
				break
			}
		}
		m.mu.Unlock()
		// The dispatch may have raced the cancellation.
		select {
		case ev := <-w.ch:
			return ev, nil
		default:
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, jobs.ErrWaitTimeout
		}
		return nil, ctx.Err()
	}
}
