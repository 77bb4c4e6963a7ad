package threadlet

import "time"

// Event is a named or anonymous application event. Events reach the consumer
// by aging out of the wait set; signals (IsSignal) are injected directly and
// delivered once.
type Event struct {
	sched
	attrs Attrs
}

func newEvent(th *Threadlet, k kind, name string, attrs []Attr) *Event {
	ev := &Event{}
	ev.init(th, ev, k, name)
	if name != "" {
		ev.attrs.Set("name", StringValue(name))
	}
	ev.attrs.Update(attrs...)
	return ev
}

func (e *Event) IsSignal() bool { return e.kind == kindSignal }

// Attrs returns the event's attribute bag. It is owned by the goroutine
// handling the event.
func (e *Event) Attrs() *Attrs { return &e.attrs }

func (e *Event) Get(key string) (Value, bool) { return e.attrs.Get(key) }

// Trigger hands the event straight to the pending queue with timestamp now,
// bypassing the wait set. Cancelled events are ignored.
func (e *Event) Trigger() {
	t := e.th
	t.mu.Lock()
	defer t.mu.Unlock()
	if e.cancelled {
		return
	}
	t.triggerLocked(&e.sched, time.Now())
}
