package threadlet

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

type kind uint8

const (
	kindEvent kind = iota
	kindSignal
	kindTasklet
)

func (k kind) String() string {
	switch k {
	case kindSignal:
		return "signal"
	case kindTasklet:
		return "tasklet"
	default:
		return "event"
	}
}

type placement uint8

const (
	placeNone placement = iota
	placeWaiting
	placePending
	placeReady
)

// Schedulable is implemented by *Event and *Tasklet only.
type Schedulable interface {
	ID() string
	Name() string
	Threadlet() *Threadlet

	Schedule(delay time.Duration) error
	ScheduleEvery(delay, period time.Duration) error
	ScheduleAt(ts time.Time) error
	Unschedule()
	Cancel()
	Suspend()
	Resume()

	SetPeriod(d time.Duration)
	SetRecurrence(r cron.Schedule)
	Period() time.Duration
	Recurrence() cron.Schedule
	Timestamp() time.Time

	IsScheduled() bool
	IsPending() bool
	IsSuspended() bool
	IsCancelled() bool

	base() *sched
}

// sched is the state shared by every schedulable item. All mutable fields
// are guarded by th.mu.
type sched struct {
	th   *Threadlet
	self Schedulable
	kind kind
	id   string

	name       string
	registered bool

	timestamp time.Time
	period    time.Duration
	recur     cron.Schedule
	suspended bool
	cancelled bool

	place placement
	index int
	seq   uint64
}

func (s *sched) init(th *Threadlet, self Schedulable, k kind, name string) {
	s.th = th
	s.self = self
	s.kind = k
	s.id = uuid.NewString()
	s.name = name
	s.index = -1
}

func (s *sched) base() *sched { return s }

func (s *sched) ID() string { return s.id }

// Name returns the registered name, or "" for anonymous items.
func (s *sched) Name() string { return s.name }

// ident is the name if there is one, otherwise a short generated label.
func (s *sched) ident() string {
	if s.name != "" {
		return s.name
	}
	return s.kind.String() + ":" + s.id[:8]
}

func (s *sched) String() string { return s.ident() }

// Threadlet returns the owning threadlet, or nil once cancelled.
func (s *sched) Threadlet() *Threadlet {
	s.th.mu.Lock()
	defer s.th.mu.Unlock()
	if s.cancelled {
		return nil
	}
	return s.th
}

func (s *sched) Schedule(delay time.Duration) error {
	return s.ScheduleAt(time.Now().Add(delay))
}

// ScheduleEvery sets a fixed period and arms the first firing after delay.
// Any cron recurrence is replaced.
func (s *sched) ScheduleEvery(delay, period time.Duration) error {
	t := s.th
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := s.checkArmableLocked(); err != nil {
		return err
	}
	s.period = max(period, 0)
	s.recur = nil
	t.armLocked(s, time.Now().Add(delay))
	return nil
}

// ScheduleAt arms the item for an absolute time. A zero ts means now.
func (s *sched) ScheduleAt(ts time.Time) error {
	t := s.th
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := s.checkArmableLocked(); err != nil {
		return err
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	t.armLocked(s, ts)
	return nil
}

func (s *sched) checkArmableLocked() error {
	switch {
	case s.kind == kindSignal:
		return fmt.Errorf("%w: %s", ErrSignal, s.ident())
	case s.cancelled:
		return fmt.Errorf("%w: %s", ErrCancelled, s.ident())
	}
	return nil
}

// Unschedule removes the item from the wait set. The timestamp is kept.
func (s *sched) Unschedule() {
	t := s.th
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.wait.remove(s) {
		t.wakeupLocked()
	}
}

// Cancel retires the item permanently. It is safe to call more than once.
func (s *sched) Cancel() {
	t := s.th
	t.mu.Lock()
	defer t.mu.Unlock()
	if s.cancelled {
		return
	}
	s.cancelled = true
	switch s.place {
	case placeWaiting:
		t.wait.remove(s)
	case placeReady:
		t.dropReadyLocked(s)
	}
	// pending signals are skipped when drained
	t.unregisterLocked(s)
	t.wakeupLocked()
}

func (s *sched) Suspend() {
	t := s.th
	t.mu.Lock()
	defer t.mu.Unlock()
	if s.suspended {
		return
	}
	s.suspended = true
	t.wait.remove(s)
	t.wakeupLocked()
}

// Resume re-arms a suspended item at its remembered timestamp.
func (s *sched) Resume() {
	t := s.th
	t.mu.Lock()
	defer t.mu.Unlock()
	if !s.suspended {
		return
	}
	s.suspended = false
	if s.cancelled || s.kind == kindSignal {
		return
	}
	ts := s.timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	t.armLocked(s, ts)
}

// SetPeriod sets the fixed re-arm period. Zero or negative clears it.
func (s *sched) SetPeriod(d time.Duration) {
	s.th.mu.Lock()
	defer s.th.mu.Unlock()
	s.period = max(d, 0)
	if s.period > 0 {
		s.recur = nil
	}
}

// SetRecurrence makes the item re-arm at r.Next after each firing. A nil
// schedule clears it.
func (s *sched) SetRecurrence(r cron.Schedule) {
	s.th.mu.Lock()
	defer s.th.mu.Unlock()
	s.recur = r
	if r != nil {
		s.period = 0
	}
}

func (s *sched) Period() time.Duration {
	s.th.mu.Lock()
	defer s.th.mu.Unlock()
	return s.period
}

func (s *sched) Recurrence() cron.Schedule {
	s.th.mu.Lock()
	defer s.th.mu.Unlock()
	return s.recur
}

func (s *sched) Timestamp() time.Time {
	s.th.mu.Lock()
	defer s.th.mu.Unlock()
	return s.timestamp
}

// IsScheduled reports whether the item sits in the wait set.
func (s *sched) IsScheduled() bool {
	s.th.mu.Lock()
	defer s.th.mu.Unlock()
	return s.place == placeWaiting
}

// IsPending reports whether the item is due and awaiting delivery.
func (s *sched) IsPending() bool {
	s.th.mu.Lock()
	defer s.th.mu.Unlock()
	return s.place == placePending || s.place == placeReady
}

func (s *sched) IsSuspended() bool {
	s.th.mu.Lock()
	defer s.th.mu.Unlock()
	return s.suspended
}

func (s *sched) IsCancelled() bool {
	s.th.mu.Lock()
	defer s.th.mu.Unlock()
	return s.cancelled
}

// rearmLocked re-inserts a periodic item after it fired, unless it was
// cancelled or re-armed meanwhile. A suspended item only records its next
// timestamp.
func (s *sched) rearmLocked(now time.Time) {
	if s.cancelled || s.kind == kindSignal || s.place != placeNone {
		return
	}
	switch {
	case s.recur != nil:
		s.th.armLocked(s, s.recur.Next(now))
	case s.period > 0:
		s.th.armLocked(s, now.Add(s.period))
	}
}
