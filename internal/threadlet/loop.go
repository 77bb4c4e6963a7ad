package threadlet

import (
	"context"
	"iter"
	"slices"
	"time"

	"threadlet/pkg/logx"
)

// minSleep bounds a sleep whose deadline is already in the past.
const minSleep = 100 * time.Microsecond

// Events returns the delivery sequence. Ranging over it runs the loop:
// due tasklets execute inline and due events and signals are yielded in
// (timestamp, arrival) order. The pass ends when the threadlet is stopping,
// ctx is done, or the consumer breaks out. A periodic event is re-armed
// after the consumer hands control back.
//
// Only one pass may be active per threadlet; a nested or concurrent pass
// yields nothing.
func (t *Threadlet) Events(ctx context.Context) iter.Seq[*Event] {
	return func(yield func(*Event) bool) {
		if !t.passing.CompareAndSwap(false, true) {
			t.log.Error("delivery pass already active")
			return
		}
		defer t.passing.Store(false)

		for {
			s := t.next(ctx)
			if s == nil {
				return
			}
			switch it := s.self.(type) {
			case *Tasklet:
				it.run(ctx)
			case *Event:
				t.obs.Delivered(t, it)
				more := yield(it)
				t.mu.Lock()
				it.rearmLocked(time.Now())
				t.mu.Unlock()
				if !more {
					return
				}
			}
		}
	}
}

// Idle drives the loop without consuming events: tasklets run and events
// are dropped. It returns ctx.Err() if the context ended the pass.
func (t *Threadlet) Idle(ctx context.Context) error {
	for ev := range t.Events(ctx) {
		t.log.Trace("event ignored", logx.String("event", ev.ident()))
	}
	return ctx.Err()
}

// next pops the next ready item, collecting and sleeping as needed. It
// returns nil once the pass must end.
func (t *Threadlet) next(ctx context.Context) *sched {
	t.mu.Lock()
	defer t.mu.Unlock()
	for {
		if t.stopping || ctx.Err() != nil {
			return nil
		}
		if len(t.ready) > 0 {
			s := t.ready[0]
			t.ready[0] = nil
			t.ready = t.ready[1:]
			s.place = placeNone
			if s.cancelled {
				continue
			}
			return s
		}
		t.collectLocked(time.Now())
		if len(t.ready) > 0 {
			continue
		}
		t.sleepLocked(ctx)
	}
}

// collectLocked moves due wait-set entries and pending signals into the
// ready batch and orders it.
func (t *Threadlet) collectLocked(now time.Time) {
	t.ready = t.wait.popDue(now, t.ready)
	for t.pending.Length() > 0 {
		s := t.pending.Remove().(*sched)
		if s.place != placePending {
			// re-armed or already collected after it was queued
			continue
		}
		if s.cancelled {
			s.place = placeNone
			continue
		}
		s.place = placeReady
		t.ready = append(t.ready, s)
	}
	for _, s := range t.ready {
		s.place = placeReady
	}
	sortBatch(t.ready)
}

// sleepLocked waits until the earliest deadline, a wakeup, or ctx is done.
// The mutex is released while waiting.
func (t *Threadlet) sleepLocked(ctx context.Context) {
	w := make(chan struct{})
	t.waiter = w

	var timeout <-chan time.Time
	if first := t.wait.peek(); first != nil {
		d := time.Until(first.timestamp)
		if d < minSleep {
			d = minSleep
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}

	t.mu.Unlock()
	select {
	case <-w:
	case <-timeout:
	case <-ctx.Done():
	}
	t.mu.Lock()
	if t.waiter == w {
		t.waiter = nil
	}
}

// wakeupLocked resolves the outstanding wake token, if any.
func (t *Threadlet) wakeupLocked() {
	if t.waiter != nil {
		close(t.waiter)
		t.waiter = nil
	}
}

// armLocked sets the timestamp and places the item in the wait set. A
// suspended item keeps the timestamp but is not inserted. An item queued by
// Trigger is taken back; its stale FIFO entry is skipped on collection.
func (t *Threadlet) armLocked(s *sched, ts time.Time) {
	s.timestamp = ts
	t.seq++
	s.seq = t.seq
	switch s.place {
	case placeReady:
		t.dropReadyLocked(s)
	case placePending:
		s.place = placeNone
	}
	if s.suspended {
		t.wait.remove(s)
		return
	}
	t.wait.insert(s)
	t.wakeupLocked()
}

// triggerLocked queues the item for delivery on the next collection.
func (t *Threadlet) triggerLocked(s *sched, now time.Time) {
	switch s.place {
	case placePending:
		return
	case placeWaiting:
		t.wait.remove(s)
	case placeReady:
		t.dropReadyLocked(s)
	}
	s.timestamp = now
	t.seq++
	s.seq = t.seq
	s.place = placePending
	t.pending.Add(s)
	t.wakeupLocked()
}

func (t *Threadlet) dropReadyLocked(s *sched) {
	if i := slices.Index(t.ready, s); i >= 0 {
		t.ready = slices.Delete(t.ready, i, i+1)
	}
	s.place = placeNone
}
