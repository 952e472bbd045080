// Package event defines the event values jobs dispatch to one another
// through the manager. A job declares interest in event types via the
// job.EventReceiver capability; the manager indexes interested jobs by
// type and routes each dispatched event to their event queues and to any
// pending wait-for-event requests.
package event

import (
	"time"

	"github.com/pygame-community/snakecore-jobs/id"
)

// Type names a kind of event. Types are compared literally; there is no
// hierarchy.
type Type string

// Event is the interface all dispatchable events implement. Embed Base
// to satisfy the bookkeeping methods.
type Event interface {
	// Type returns the event's kind.
	Type() Type
	// CreatedAt returns when the event value was constructed.
	CreatedAt() time.Time
	// DispatcherID returns the runtime identifier of the job that
	// dispatched the event, or the empty identifier for events
	// dispatched by the host through the manager directly.
	DispatcherID() id.JobID
	// setDispatch is called by the manager at dispatch time.
	setDispatch(dispatcher id.JobID)
}

// Base provides the bookkeeping half of the Event interface. Concrete
// events embed it and implement Type.
type Base struct {
	created    time.Time
	dispatcher id.JobID
}

// NewBase stamps a Base with the current time.
func NewBase() Base {
	return Base{created: time.Now().UTC()}
}

// CreatedAt implements Event.
func (b *Base) CreatedAt() time.Time { return b.created }

// DispatcherID implements Event.
func (b *Base) DispatcherID() id.JobID { return b.dispatcher }

func (b *Base) setDispatch(dispatcher id.JobID) {
	b.dispatcher = dispatcher
	if b.created.IsZero() {
		b.created = time.Now().UTC()
	}
}

// MarkDispatched stamps the event with its dispatcher. Intended for the
// manager; calling it twice overwrites the previous dispatcher.
func MarkDispatched(ev Event, dispatcher id.JobID) {
	ev.setDispatch(dispatcher)
}

// Custom is a generic event carrying an arbitrary payload under a
// caller-chosen type. Hosts use it to inject external happenings into
// the engine without defining a new event struct.
type Custom struct {
	Base
	Kind    Type
	Payload any
}

// NewCustom builds a Custom event of the given kind.
func NewCustom(kind Type, payload any) *Custom {
	return &Custom{Base: NewBase(), Kind: kind, Payload: payload}
}

// Type implements Event.
func (c *Custom) Type() Type { return c.Kind }
