package job

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jobs "github.com/pygame-community/snakecore-jobs"
	"github.com/pygame-community/snakecore-jobs/event"
)

func TestEventQueueOrdering(t *testing.T) {
	q := NewEventQueue(8)

	for _, kind := range []event.Type{"first", "second", "third"} {
		if !q.AddEvent(event.NewCustom(kind, nil)) {
			t.Fatalf("AddEvent(%q) rejected", kind)
		}
	}
	if q.Len() != 3 {
		t.Fatalf("Len = %d, want 3", q.Len())
	}

	for _, want := range []event.Type{"first", "second", "third"} {
		ev, err := q.NextEvent(context.Background())
		if err != nil {
			t.Fatalf("NextEvent failed: %v", err)
		}
		if ev.Type() != want {
			t.Errorf("NextEvent type = %q, want %q", ev.Type(), want)
		}
	}
}

func TestEventQueueDropsOldestWhenFull(t *testing.T) {
	q := NewEventQueue(2)
	q.AddEvent(event.NewCustom("a", nil))
	q.AddEvent(event.NewCustom("b", nil))
	q.AddEvent(event.NewCustom("c", nil))

	if q.Len() != 2 {
		t.Fatalf("Len = %d, want 2", q.Len())
	}
	ev, _ := q.NextEvent(context.Background())
	if ev.Type() != "b" {
		t.Errorf("oldest surviving event = %q, want b", ev.Type())
	}
}

func TestEventQueueWakesWaiter(t *testing.T) {
	q := NewEventQueue(8)

	got := make(chan event.Event, 1)
	go func() {
		ev, err := q.NextEvent(context.Background())
		if err != nil {
			return
		}
		got <- ev
	}()
	time.Sleep(20 * time.Millisecond)

	q.AddEvent(event.NewCustom("ping", nil))
	select {
	case ev := <-got:
		if ev.Type() != "ping" {
			t.Errorf("waiter got %q, want ping", ev.Type())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never woke")
	}
}

func TestEventQueueClose(t *testing.T) {
	q := NewEventQueue(8)

	errCh := make(chan error, 1)
	go func() {
		_, err := q.NextEvent(context.Background())
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)

	q.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, jobs.ErrJobDone) {
			t.Errorf("waiter error = %v, want ErrJobDone", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never resolved after close")
	}

	if q.AddEvent(event.NewCustom("late", nil)) {
		t.Errorf("AddEvent after close should report false")
	}
	if _, err := q.NextEvent(context.Background()); !errors.Is(err, jobs.ErrJobDone) {
		t.Errorf("NextEvent after close = %v, want ErrJobDone", err)
	}
}

func TestEventQueueDefaultCapacity(t *testing.T) {
	// A queue built without a capacity takes the default offered at
	// registration time.
	q := NewEventQueue(0)
	q.SetDefaultCapacity(2)
	for _, kind := range []event.Type{"a", "b", "c"} {
		q.AddEvent(event.NewCustom(kind, nil))
	}
	if q.Len() != 2 {
		t.Errorf("Len = %d, want 2 after default capacity applied", q.Len())
	}

	// An explicit capacity wins over the default.
	q = NewEventQueue(1)
	q.SetDefaultCapacity(5)
	q.AddEvent(event.NewCustom("a", nil))
	q.AddEvent(event.NewCustom("b", nil))
	if q.Len() != 1 {
		t.Errorf("Len = %d, want explicit capacity 1 kept", q.Len())
	}
}

func TestEventQueueWaitTimeout(t *testing.T) {
	q := NewEventQueue(8)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if _, err := q.NextEvent(ctx); !errors.Is(err, jobs.ErrWaitTimeout) {
		t.Errorf("NextEvent timeout = %v, want ErrWaitTimeout", err)
	}
}

// serialReceiver records the order events were handled in.
type serialReceiver struct {
	*Core
	*EventQueue

	mu   sync.Mutex
	seen []event.Type
}

// Embedding Core and EventQueue must be enough to satisfy the receiver
// interfaces.
var (
	_ EventReceiver      = (*serialReceiver)(nil)
	_ MultiEventReceiver = (*concurrentReceiver)(nil)
)

func (r *serialReceiver) EventTypes() []event.Type { return []event.Type{"tick"} }

func (r *serialReceiver) OnEvent(_ context.Context, ev event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, ev.Type())
	return nil
}

func TestRunEventDrainSerial(t *testing.T) {
	r := &serialReceiver{Core: NewCore(), EventQueue: NewEventQueue(8)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	drained := make(chan struct{})
	go func() {
		RunEventDrain(context.Background(), r, logger)
		close(drained)
	}()

	for _, kind := range []event.Type{"a", "b", "c"} {
		r.AddEvent(event.NewCustom(kind, nil))
	}

	deadline := time.After(2 * time.Second)
	for {
		r.mu.Lock()
		n := len(r.seen)
		r.mu.Unlock()
		if n == 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("drained %d events, want 3", n)
		case <-time.After(5 * time.Millisecond):
		}
	}

	r.mu.Lock()
	got := append([]event.Type(nil), r.seen...)
	r.mu.Unlock()
	for i, want := range []event.Type{"a", "b", "c"} {
		if got[i] != want {
			t.Errorf("seen[%d] = %q, want %q (serial drain must keep order)", i, got[i], want)
		}
	}

	r.EventQueue.Close()
	select {
	case <-drained:
	case <-time.After(2 * time.Second):
		t.Fatal("drain routine never returned after queue close")
	}
}

// concurrentReceiver blocks handlers so concurrency is observable.
type concurrentReceiver struct {
	*Core
	*EventQueue

	inFlight atomic.Int64
	peak     atomic.Int64
	release  chan struct{}
}

func (r *concurrentReceiver) EventTypes() []event.Type { return []event.Type{"work"} }
func (r *concurrentReceiver) MaxEventSessions() int64  { return 2 }

func (r *concurrentReceiver) OnEvent(_ context.Context, _ event.Event) error {
	n := r.inFlight.Add(1)
	defer r.inFlight.Add(-1)
	for {
		old := r.peak.Load()
		if n <= old || r.peak.CompareAndSwap(old, n) {
			break
		}
	}
	<-r.release
	return nil
}

func TestRunEventDrainConcurrentSessions(t *testing.T) {
	r := &concurrentReceiver{
		Core:       NewCore(),
		EventQueue: NewEventQueue(8),
		release:    make(chan struct{}),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	drained := make(chan struct{})
	go func() {
		RunEventDrain(context.Background(), r, logger)
		close(drained)
	}()

	for i := 0; i < 4; i++ {
		r.AddEvent(event.NewCustom("work", i))
	}

	deadline := time.After(2 * time.Second)
	for r.inFlight.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("in-flight sessions = %d, want 2", r.inFlight.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	// The semaphore must hold the third session back.
	time.Sleep(30 * time.Millisecond)
	if got := r.peak.Load(); got != 2 {
		t.Errorf("peak concurrent sessions = %d, want 2", got)
	}

	close(r.release)
	r.EventQueue.Close()
	select {
	case <-drained:
	case <-time.After(2 * time.Second):
		t.Fatal("drain routine never returned")
	}
}
