package threadlet

import (
	"context"
	"fmt"
	"slices"
	"time"

	"golang.org/x/time/rate"
)

// NewEvent creates an event. A non-empty name is registered and must be
// unique; it is also stored as the "name" attribute. The event is not armed.
func (t *Threadlet) NewEvent(name string, attrs ...Attr) (*Event, error) {
	ev := newEvent(t, kindEvent, name, attrs)
	if name == "" {
		return ev, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.registerLocked(&ev.sched); err != nil {
		return nil, err
	}
	return ev, nil
}

// Signal injects a one-shot event that is delivered once, ahead of anything
// armed for a later time. Signals are never registered.
func (t *Threadlet) Signal(name string, attrs ...Attr) *Event {
	ev := newEvent(t, kindSignal, name, attrs)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.triggerLocked(&ev.sched, time.Now())
	return ev
}

// NewTasklet creates a tasklet and arms it after the configured delay
// (immediately by default, or at the first cron activation when only a cron
// recurrence is given).
func (t *Threadlet) NewTasklet(name string, fn TaskletFunc, opts ...TaskletOption) (*Tasklet, error) {
	if fn == nil {
		return nil, fmt.Errorf("%w: tasklet %q", ErrNilHandler, name)
	}
	var cfg taskletConfig
	for _, o := range opts {
		if o != nil {
			o(&cfg)
		}
	}
	if cfg.err != nil {
		return nil, fmt.Errorf("tasklet %q: %w", name, cfg.err)
	}

	task := &Tasklet{handler: fn}
	task.init(t, task, kindTasklet, name)
	task.attrs.Update(cfg.attrs...)
	task.period = max(cfg.period, 0)
	task.recur = cfg.recur
	task.suspended = cfg.suspended
	if t.faultLimit != rate.Inf {
		task.limiter = rate.NewLimiter(t.faultLimit, t.faultBurst)
	}

	now := time.Now()
	at := now.Add(cfg.delay)
	if task.recur != nil && !cfg.delaySet {
		at = task.recur.Next(now)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if name != "" {
		if err := t.registerLocked(&task.sched); err != nil {
			return nil, err
		}
	}
	t.armLocked(&task.sched, at)
	return task, nil
}

// Schedule runs fn once after delay, the one-shot form of NewTasklet.
func (t *Threadlet) Schedule(fn func(), delay time.Duration, name string) (*Tasklet, error) {
	if fn == nil {
		return nil, fmt.Errorf("%w: %q", ErrNilHandler, name)
	}
	return t.NewTasklet(name, func(_ context.Context, _ *Tasklet) error {
		fn()
		return nil
	}, WithDelay(delay))
}

func (t *Threadlet) Has(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.names[name]
	return ok
}

// Get returns the item registered under name.
func (t *Threadlet) Get(name string) (Schedulable, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.names[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return s, nil
}

func (t *Threadlet) Event(name string) (*Event, error) {
	s, err := t.Get(name)
	if err != nil {
		return nil, err
	}
	ev, ok := s.(*Event)
	if !ok {
		return nil, fmt.Errorf("%w: %q is a %s", ErrWrongKind, name, s.base().kind)
	}
	return ev, nil
}

func (t *Threadlet) Tasklet(name string) (*Tasklet, error) {
	s, err := t.Get(name)
	if err != nil {
		return nil, err
	}
	task, ok := s.(*Tasklet)
	if !ok {
		return nil, fmt.Errorf("%w: %q is a %s", ErrWrongKind, name, s.base().kind)
	}
	return task, nil
}

// Names returns the registered names, sorted.
func (t *Threadlet) Names() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.names))
	for n := range t.names {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

func (t *Threadlet) registerLocked(s *sched) error {
	if s.name == "" {
		return ErrEmptyName
	}
	if _, ok := t.names[s.name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateName, s.name)
	}
	t.names[s.name] = s.self
	s.registered = true
	return nil
}

func (t *Threadlet) unregisterLocked(s *sched) {
	if !s.registered {
		return
	}
	if cur, ok := t.names[s.name]; ok && cur.base() == s {
		delete(t.names, s.name)
	}
	s.registered = false
}
