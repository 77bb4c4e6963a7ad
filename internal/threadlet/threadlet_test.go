package threadlet

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 3 * time.Second

func start(t *testing.T, th *Threadlet, opts ...StartOption) {
	t.Helper()
	require.NoError(t, th.Start(context.Background(), opts...))
	t.Cleanup(func() {
		th.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = th.Join(ctx)
	})
}

func join(t *testing.T, th *Threadlet) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, th.Join(ctx))
}

// collector records names of delivered events from the loop goroutine.
type collector struct {
	mu    sync.Mutex
	names []string
	stamp []time.Time
}

func (c *collector) add(ev *Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, _ := ev.Get("name")
	c.names = append(c.names, v.String())
	c.stamp = append(c.stamp, ev.Timestamp())
}

func (c *collector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.names...)
}

func TestStartStopJoin(t *testing.T) {
	t.Parallel()
	th := New()
	require.NoError(t, th.Start(context.Background()))
	assert.True(t, th.IsRunning())
	th.Stop()
	th.Stop()
	join(t, th)

	assert.False(t, th.IsRunning())
	assert.Equal(t, OutcomeStopped, th.Outcome().Kind)
	assert.Equal(t, "done", th.State())
}

func TestStartTwice(t *testing.T) {
	t.Parallel()
	th := New()
	start(t, th)
	err := th.Start(context.Background())
	require.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestJoinNotStarted(t *testing.T) {
	t.Parallel()
	require.ErrorIs(t, New().Join(context.Background()), ErrNotStarted)
}

func TestEmptyEntry(t *testing.T) {
	t.Parallel()
	th := New()
	start(t, th, WithEntry(func(context.Context, *Threadlet) error { return nil }))
	join(t, th)
	assert.Equal(t, OutcomeStopped, th.Outcome().Kind)
}

func TestRestartAfterDone(t *testing.T) {
	t.Parallel()
	th := New()
	start(t, th)
	th.Stop()
	join(t, th)

	var ran atomic.Bool
	_, err := th.Schedule(func() { ran.Store(true); th.Stop() }, 10*time.Millisecond, "")
	require.NoError(t, err)
	require.NoError(t, th.Start(context.Background()))
	join(t, th)
	assert.True(t, ran.Load())
}

func TestScheduledStop(t *testing.T) {
	t.Parallel()
	th := New()
	_, err := th.Schedule(th.Stop, 100*time.Millisecond, "")
	require.NoError(t, err)
	began := time.Now()
	start(t, th)
	join(t, th)
	assert.GreaterOrEqual(t, time.Since(began), 90*time.Millisecond)
	assert.Equal(t, OutcomeStopped, th.Outcome().Kind)
}

func TestStartDelay(t *testing.T) {
	t.Parallel()
	th := New()
	var at atomic.Int64
	began := time.Now()
	start(t, th, WithStartDelay(80*time.Millisecond), WithEntry(func(context.Context, *Threadlet) error {
		at.Store(int64(time.Since(began)))
		return nil
	}))
	join(t, th)
	assert.GreaterOrEqual(t, time.Duration(at.Load()), 70*time.Millisecond)
}

func TestSignal(t *testing.T) {
	t.Parallel()
	th := New()
	_, err := th.Schedule(func() { th.Signal("foo", Int("n", 7)) }, 50*time.Millisecond, "")
	require.NoError(t, err)

	var got *Event
	start(t, th, WithEntry(func(ctx context.Context, th *Threadlet) error {
		for ev := range th.Events(ctx) {
			got = ev
			break
		}
		return nil
	}))
	join(t, th)

	require.NotNil(t, got)
	assert.True(t, got.IsSignal())
	name, ok := got.Get("name")
	require.True(t, ok)
	assert.Equal(t, "foo", name.String())
	n, _ := got.Get("n")
	assert.EqualValues(t, 7, n.Int64())
	assert.False(t, th.Has("foo"))
	require.ErrorIs(t, got.Schedule(time.Millisecond), ErrSignal)
}

func TestIterEventsAcrossPasses(t *testing.T) {
	t.Parallel()
	th := New()
	mustSchedule := func(fn func(), d time.Duration) {
		_, err := th.Schedule(fn, d, "")
		require.NoError(t, err)
	}
	mustSchedule(func() { th.Signal("foo") }, 100*time.Millisecond)
	mustSchedule(func() { th.Signal("bar"); th.Signal("baz") }, 200*time.Millisecond)
	mustSchedule(func() { th.Signal("foo") }, 300*time.Millisecond)
	mustSchedule(th.Stop, 500*time.Millisecond)

	var seen collector
	start(t, th, WithEntry(func(ctx context.Context, th *Threadlet) error {
		for ev := range th.Events(ctx) {
			seen.add(ev)
			if v, _ := ev.Get("name"); v.String() == "bar" {
				break
			}
		}
		for ev := range th.Events(ctx) {
			seen.add(ev)
		}
		return nil
	}))
	join(t, th)
	assert.Equal(t, []string{"foo", "bar", "baz", "foo"}, seen.snapshot())
}

func TestEventsDeliveredInTimestampOrder(t *testing.T) {
	t.Parallel()
	th := New()
	delays := []time.Duration{70, 10, 50, 30, 90, 20, 60, 80, 40}
	for i, d := range delays {
		ev, err := th.NewEvent("", Int("i", i))
		require.NoError(t, err)
		require.NoError(t, ev.Schedule(d*time.Millisecond))
	}
	_, err := th.Schedule(th.Stop, 150*time.Millisecond, "")
	require.NoError(t, err)

	var seen collector
	start(t, th, WithEntry(func(ctx context.Context, th *Threadlet) error {
		for ev := range th.Events(ctx) {
			seen.add(ev)
		}
		return nil
	}))
	join(t, th)

	require.Len(t, seen.stamp, len(delays))
	for i := 1; i < len(seen.stamp); i++ {
		assert.False(t, seen.stamp[i].Before(seen.stamp[i-1]), "delivery %d out of order", i)
	}
}

func TestSimultaneousItemsKeepArrivalOrder(t *testing.T) {
	t.Parallel()
	th := New()
	at := time.Now().Add(30 * time.Millisecond)
	for _, name := range []string{"c", "a", "b", "d"} {
		ev, err := th.NewEvent(name)
		require.NoError(t, err)
		require.NoError(t, ev.ScheduleAt(at))
	}

	var seen collector
	start(t, th, WithEntry(func(ctx context.Context, th *Threadlet) error {
		for ev := range th.Events(ctx) {
			seen.add(ev)
			if len(seen.snapshot()) == 4 {
				return nil
			}
		}
		return nil
	}))
	join(t, th)
	assert.Equal(t, []string{"c", "a", "b", "d"}, seen.snapshot())
}

func TestSignalsInterleaveByArrival(t *testing.T) {
	t.Parallel()
	th := New()
	ev, err := th.NewEvent("timed")
	require.NoError(t, err)
	at := time.Now().Add(40 * time.Millisecond)
	require.NoError(t, ev.ScheduleAt(at))
	th.Signal("early")

	var seen collector
	start(t, th, WithEntry(func(ctx context.Context, th *Threadlet) error {
		for ev := range th.Events(ctx) {
			seen.add(ev)
			if len(seen.snapshot()) == 1 {
				time.Sleep(60 * time.Millisecond)
				th.Signal("late")
			}
			if len(seen.snapshot()) == 3 {
				return nil
			}
		}
		return nil
	}))
	join(t, th)
	assert.Equal(t, []string{"early", "timed", "late"}, seen.snapshot())
}

func TestSignalDeliveredOnce(t *testing.T) {
	t.Parallel()
	th := New()
	th.Signal("once")
	_, err := th.Schedule(th.Stop, 150*time.Millisecond, "")
	require.NoError(t, err)

	var seen collector
	start(t, th, WithEntry(func(ctx context.Context, th *Threadlet) error {
		for ev := range th.Events(ctx) {
			seen.add(ev)
		}
		return nil
	}))
	join(t, th)
	assert.Equal(t, []string{"once"}, seen.snapshot())
}

func TestPeriodicEventRearmed(t *testing.T) {
	t.Parallel()
	th := New()
	ev, err := th.NewEvent("tick")
	require.NoError(t, err)
	require.NoError(t, ev.ScheduleEvery(0, 20*time.Millisecond))

	var n atomic.Int32
	var rearmed atomic.Bool
	start(t, th, WithEntry(func(ctx context.Context, th *Threadlet) error {
		for range th.Events(ctx) {
			if n.Add(1) == 4 {
				break
			}
		}
		rearmed.Store(ev.IsScheduled())
		return nil
	}))
	join(t, th)
	assert.EqualValues(t, 4, n.Load())
	assert.True(t, rearmed.Load(), "event re-armed after the consumer left")
}

func TestPeriodicTaskletStopsOnFifthRun(t *testing.T) {
	t.Parallel()
	th := New()
	var runs atomic.Int32
	task, err := th.NewTasklet("five", func(ctx context.Context, task *Tasklet) error {
		if runs.Add(1) == 5 {
			th.Stop()
		}
		return nil
	}, WithPeriod(50*time.Millisecond))
	require.NoError(t, err)

	start(t, th)
	join(t, th)
	time.Sleep(120 * time.Millisecond)

	assert.EqualValues(t, 5, runs.Load())
	assert.EqualValues(t, 5, task.RunCount())
}

func TestPeriodicTaskletFrequency(t *testing.T) {
	t.Parallel()
	th := New()
	var runs atomic.Int32
	_, err := th.NewTasklet("", func(context.Context, *Tasklet) error {
		runs.Add(1)
		return nil
	}, WithDelay(50*time.Millisecond), WithPeriod(50*time.Millisecond))
	require.NoError(t, err)
	_, err = th.Schedule(th.Stop, 525*time.Millisecond, "")
	require.NoError(t, err)

	start(t, th)
	join(t, th)
	// ten due times, allow scheduling jitter
	assert.InDelta(t, 10, runs.Load(), 2)
}

func TestStopInsideTaskletFinishesHandler(t *testing.T) {
	t.Parallel()
	th := New()
	var finished atomic.Bool
	at := time.Now().Add(30 * time.Millisecond)

	task, err := th.NewTasklet("stopper", func(context.Context, *Tasklet) error {
		th.Stop()
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
		return nil
	}, WithDelay(time.Hour))
	require.NoError(t, err)
	require.NoError(t, task.ScheduleAt(at))
	ev, err := th.NewEvent("after")
	require.NoError(t, err)
	require.NoError(t, ev.ScheduleAt(at))

	var seen collector
	start(t, th, WithEntry(func(ctx context.Context, th *Threadlet) error {
		for ev := range th.Events(ctx) {
			seen.add(ev)
		}
		return nil
	}))
	join(t, th)
	assert.True(t, finished.Load())
	assert.Empty(t, seen.snapshot())
}

func TestFaultingTaskletKeepsRunning(t *testing.T) {
	t.Parallel()
	th := New()
	var runs atomic.Int32
	task, err := th.NewTasklet("flaky", func(context.Context, *Tasklet) error {
		if runs.Add(1)%2 == 0 {
			panic("boom")
		}
		return errors.New("nope")
	}, WithPeriod(10*time.Millisecond))
	require.NoError(t, err)
	start(t, th)

	require.Eventually(t, func() bool { return task.FaultCount() >= 4 }, waitFor, 5*time.Millisecond)
	assert.True(t, th.IsRunning())
	assert.GreaterOrEqual(t, runs.Load(), int32(4))
}

func TestSelfCancelRetiresTasklet(t *testing.T) {
	t.Parallel()
	th := New()
	var runs atomic.Int32
	task, err := th.NewTasklet("once", func(_ context.Context, task *Tasklet) error {
		runs.Add(1)
		task.Cancel()
		return errors.New("cancelled but still failing")
	}, WithPeriod(10*time.Millisecond))
	require.NoError(t, err)
	start(t, th)

	require.Eventually(t, func() bool { return runs.Load() == 1 }, waitFor, 5*time.Millisecond)
	assert.Never(t, func() bool { return runs.Load() > 1 }, 100*time.Millisecond, 10*time.Millisecond)
	assert.True(t, task.IsCancelled())
	assert.Nil(t, task.Threadlet())
	assert.False(t, th.Has("once"))
}

func TestCancelIdempotentAndFinal(t *testing.T) {
	t.Parallel()
	th := New()
	ev, err := th.NewEvent("gone")
	require.NoError(t, err)
	require.NoError(t, ev.Schedule(time.Hour))

	ev.Cancel()
	ev.Cancel()
	assert.True(t, ev.IsCancelled())
	assert.False(t, ev.IsScheduled())

	ev.Suspend()
	ev.Resume()
	assert.False(t, ev.IsScheduled())
	require.ErrorIs(t, ev.Schedule(0), ErrCancelled)
	require.ErrorIs(t, ev.ScheduleAt(time.Time{}), ErrCancelled)
	assert.False(t, ev.IsScheduled())
}

func TestSuspendResumeRestoresTimestamp(t *testing.T) {
	t.Parallel()
	th := New()
	ev, err := th.NewEvent("")
	require.NoError(t, err)
	require.NoError(t, ev.Schedule(time.Minute))
	ts := ev.Timestamp()

	ev.Suspend()
	ev.Suspend()
	assert.True(t, ev.IsSuspended())
	assert.False(t, ev.IsScheduled())

	ev.Resume()
	ev.Resume()
	assert.False(t, ev.IsSuspended())
	assert.True(t, ev.IsScheduled())
	assert.True(t, ts.Equal(ev.Timestamp()))
}

func TestResumePastTimestampFiresNextPass(t *testing.T) {
	t.Parallel()
	th := New()
	var runs atomic.Int32
	task, err := th.NewTasklet("late", func(context.Context, *Tasklet) error {
		runs.Add(1)
		return nil
	}, WithDelay(20*time.Millisecond), Suspended())
	require.NoError(t, err)
	assert.True(t, task.IsSuspended())
	start(t, th)

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, runs.Load())

	task.Resume()
	require.Eventually(t, func() bool { return runs.Load() == 1 }, waitFor, 5*time.Millisecond)
}

func TestUnscheduleStopsFiring(t *testing.T) {
	t.Parallel()
	th := New()
	var runs atomic.Int32
	task, err := th.NewTasklet("", func(context.Context, *Tasklet) error {
		runs.Add(1)
		return nil
	}, WithDelay(50*time.Millisecond))
	require.NoError(t, err)
	task.Unschedule()
	task.Unschedule()
	start(t, th)

	assert.Never(t, func() bool { return runs.Load() > 0 }, 120*time.Millisecond, 10*time.Millisecond)
}

func TestDuplicateNameReusableAfterCancel(t *testing.T) {
	t.Parallel()
	th := New()
	first, err := th.NewEvent("dup")
	require.NoError(t, err)

	_, err = th.NewEvent("dup")
	require.ErrorIs(t, err, ErrDuplicateName)
	_, err = th.NewTasklet("dup", func(context.Context, *Tasklet) error { return nil })
	require.ErrorIs(t, err, ErrDuplicateName)

	first.Cancel()
	second, err := th.NewEvent("dup")
	require.NoError(t, err)
	got, err := th.Event("dup")
	require.NoError(t, err)
	assert.Same(t, second, got)
}

func TestLookup(t *testing.T) {
	t.Parallel()
	th := New()
	ev, err := th.NewEvent("ev", String("color", "red"))
	require.NoError(t, err)
	task, err := th.NewTasklet("task", func(context.Context, *Tasklet) error { return nil }, WithDelay(time.Hour))
	require.NoError(t, err)

	assert.True(t, th.Has("ev"))
	assert.False(t, th.Has("missing"))
	assert.Equal(t, []string{"ev", "task"}, th.Names())

	_, err = th.Get("missing")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = th.Get("")
	require.ErrorIs(t, err, ErrEmptyName)

	got, err := th.Tasklet("task")
	require.NoError(t, err)
	assert.Same(t, task, got)
	_, err = th.Tasklet("ev")
	require.ErrorIs(t, err, ErrWrongKind)

	s, err := th.Get("ev")
	require.NoError(t, err)
	assert.Same(t, ev, s)
	color, ok := ev.Get("color")
	require.True(t, ok)
	assert.Equal(t, "red", color.String())
	assert.Equal(t, "ev", ev.Name())
	assert.Same(t, th, ev.Threadlet())
}

func TestNewTaskletValidation(t *testing.T) {
	t.Parallel()
	th := New()
	_, err := th.NewTasklet("nil", nil)
	require.ErrorIs(t, err, ErrNilHandler)
	_, err = th.Schedule(nil, 0, "")
	require.ErrorIs(t, err, ErrNilHandler)
	_, err = th.NewTasklet("bad", func(context.Context, *Tasklet) error { return nil }, WithSchedule("whenever"))
	require.Error(t, err)
	assert.False(t, th.Has("bad"))
}

func TestTaskletWithSchedule(t *testing.T) {
	t.Parallel()
	th := New()
	task, err := th.NewTasklet("every", func(context.Context, *Tasklet) error { return nil },
		WithSchedule("every:250ms"), WithDelay(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, task.Period())

	cr, err := th.NewTasklet("cron", func(context.Context, *Tasklet) error { return nil }, WithSchedule("@hourly"))
	require.NoError(t, err)
	assert.NotNil(t, cr.Recurrence())
	assert.Zero(t, cr.Period())
	assert.True(t, cr.Timestamp().After(time.Now()))
	assert.True(t, cr.IsScheduled())
}

func TestEntryOutcomes(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	tests := []struct {
		name  string
		entry EntryFunc
		kind  OutcomeKind
	}{
		{name: "error", entry: func(context.Context, *Threadlet) error { return boom }, kind: OutcomeFaulted},
		{name: "panic", entry: func(context.Context, *Threadlet) error { panic("bad") }, kind: OutcomeFaulted},
		{name: "cancelled", entry: func(ctx context.Context, th *Threadlet) error {
			th.Cancel()
			return th.Idle(ctx)
		}, kind: OutcomeCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			th := New()
			got := make(chan Outcome, 1)
			start(t, th, WithEntry(tt.entry), WithDone(func(_ *Threadlet, out Outcome) error {
				got <- out
				return nil
			}))
			join(t, th)
			out := <-got
			assert.Equal(t, tt.kind, out.Kind)
			assert.Equal(t, tt.kind, th.Outcome().Kind)
			if tt.name == "error" {
				assert.ErrorIs(t, out.Err, boom)
			}
		})
	}
}

func TestDoneCallbackPanicIsContained(t *testing.T) {
	t.Parallel()
	th := New()
	start(t, th, WithDone(func(*Threadlet, Outcome) error { panic("callback") }))
	th.Stop()
	join(t, th)
	assert.False(t, th.IsRunning())
}

func TestOutstandingEntriesDiscardedOnDone(t *testing.T) {
	t.Parallel()
	th := New()
	ev, err := th.NewEvent("later")
	require.NoError(t, err)
	require.NoError(t, ev.Schedule(time.Hour))
	th.Signal("queued")

	start(t, th, WithEntry(func(context.Context, *Threadlet) error { return nil }))
	join(t, th)
	assert.False(t, ev.IsScheduled())
	assert.False(t, ev.IsPending())
}

func TestNestedPassEndsImmediately(t *testing.T) {
	t.Parallel()
	th := New()
	th.Signal("outer")
	var inner int
	start(t, th, WithEntry(func(ctx context.Context, th *Threadlet) error {
		for range th.Events(ctx) {
			for range th.Events(ctx) {
				inner++
			}
			return nil
		}
		return nil
	}))
	join(t, th)
	assert.Zero(t, inner)
}

func TestContextCancelEndsPass(t *testing.T) {
	t.Parallel()
	th := New()
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, th.Start(ctx))
	cancel()
	join(t, th)
	assert.Equal(t, OutcomeCancelled, th.Outcome().Kind)
}

func TestCrossGoroutineSignals(t *testing.T) {
	t.Parallel()
	th := New()
	var n atomic.Int32
	start(t, th, WithEntry(func(ctx context.Context, th *Threadlet) error {
		for range th.Events(ctx) {
			if n.Add(1) == 100 {
				return nil
			}
		}
		return nil
	}))

	var wg sync.WaitGroup
	for i := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 25 {
				th.Signal("s", Int("from", i), Int("j", j))
			}
		}()
	}
	wg.Wait()
	join(t, th)
	assert.EqualValues(t, 100, n.Load())
}

// Handling ev0 arms ev1, handling ev1 re-arms ev0 and unschedules ev2, and
// ev2 keeps re-arming itself until then.
func TestPingPongScenario(t *testing.T) {
	t.Parallel()
	th := New()
	mk := func(name string) *Event {
		ev, err := th.NewEvent(name)
		require.NoError(t, err)
		return ev
	}
	stop, ev0, ev1, ev2 := mk("stop"), mk("ev0"), mk("ev1"), mk("ev2")
	require.NoError(t, stop.Schedule(500*time.Millisecond))
	require.NoError(t, ev0.Schedule(10*time.Millisecond))
	require.NoError(t, ev2.Schedule(0))

	var ev2Runs, pongs int
	began := time.Now()
	var ended time.Duration
	start(t, th, WithEntry(func(ctx context.Context, th *Threadlet) error {
		for !th.IsStopping() {
			for ev := range th.Events(ctx) {
				switch ev {
				case stop:
					th.Stop()
				case ev0:
					_ = ev1.Schedule(100 * time.Millisecond)
				case ev1:
					pongs++
					_ = ev0.Schedule(100 * time.Millisecond)
					ev2.Unschedule()
				case ev2:
					ev2Runs++
					_ = ev2.Schedule(10 * time.Millisecond)
				}
			}
		}
		ended = time.Since(began)
		return nil
	}))
	join(t, th)

	assert.GreaterOrEqual(t, ended, 480*time.Millisecond)
	assert.Less(t, ended, 2*time.Second)
	assert.GreaterOrEqual(t, ev2Runs, 3)
	assert.LessOrEqual(t, ev2Runs, 13)
	assert.GreaterOrEqual(t, pongs, 1)
	assert.False(t, ev2.IsScheduled())
}

// countDeliveries runs th with an entry counting deliveries of ev. A
// delivery of an already-cancelled ev is counted separately; each delivery
// runs onDeliver, if set.
func countDeliveries(t *testing.T, th *Threadlet, ev *Event, onDeliver func(*Event)) (total, cancelled *atomic.Int32) {
	t.Helper()
	total, cancelled = new(atomic.Int32), new(atomic.Int32)
	start(t, th, WithEntry(func(ctx context.Context, th *Threadlet) error {
		for got := range th.Events(ctx) {
			if got != ev {
				continue
			}
			total.Add(1)
			if got.IsCancelled() {
				cancelled.Add(1)
			}
			if onDeliver != nil {
				onDeliver(got)
			}
		}
		return nil
	}))
	return total, cancelled
}

func TestTriggerNamedEvent(t *testing.T) {
	t.Parallel()
	th := New()
	ev, err := th.NewEvent("poke", Int("n", 3))
	require.NoError(t, err)
	require.NoError(t, ev.Schedule(time.Hour))

	var c collector
	start(t, th, WithEntry(func(ctx context.Context, th *Threadlet) error {
		for got := range th.Events(ctx) {
			c.add(got)
		}
		return nil
	}))
	ev.Trigger()

	require.Eventually(t, func() bool { return len(c.snapshot()) == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, []string{"poke"}, c.snapshot())
	assert.False(t, ev.IsScheduled())
	assert.False(t, ev.IsSignal())
	n, _ := ev.Get("n")
	assert.EqualValues(t, 3, n.Int64())
}

func TestScheduleAfterTriggerTakesItBack(t *testing.T) {
	t.Parallel()
	th := New()
	ev, err := th.NewEvent("ev")
	require.NoError(t, err)

	ev.Trigger()
	assert.True(t, ev.IsPending())
	require.NoError(t, ev.Schedule(50*time.Millisecond))
	assert.True(t, ev.IsScheduled())
	assert.False(t, ev.IsPending())
	require.NoError(t, ev.Schedule(60*time.Millisecond))
	assert.True(t, ev.IsScheduled())

	total, _ := countDeliveries(t, th, ev, nil)
	require.Eventually(t, func() bool { return total.Load() == 1 }, waitFor, 5*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.EqualValues(t, 1, total.Load())
	assert.False(t, ev.IsScheduled())
	assert.False(t, ev.IsPending())
}

func TestCancelAfterTriggerAndSchedule(t *testing.T) {
	t.Parallel()

	t.Run("cancelled on delivery", func(t *testing.T) {
		t.Parallel()
		th := New()
		ev, err := th.NewEvent("ev")
		require.NoError(t, err)
		ev.Trigger()
		require.NoError(t, ev.Schedule(50*time.Millisecond))

		total, cancelled := countDeliveries(t, th, ev, func(e *Event) { e.Cancel() })
		require.Eventually(t, func() bool { return total.Load() >= 1 }, waitFor, 5*time.Millisecond)
		time.Sleep(150 * time.Millisecond)
		assert.EqualValues(t, 1, total.Load())
		assert.Zero(t, cancelled.Load())
	})

	t.Run("cancelled before start", func(t *testing.T) {
		t.Parallel()
		th := New()
		ev, err := th.NewEvent("ev")
		require.NoError(t, err)
		ev.Trigger()
		require.NoError(t, ev.Schedule(20*time.Millisecond))
		ev.Cancel()
		assert.False(t, ev.IsScheduled())
		assert.False(t, th.Has("ev"))

		total, _ := countDeliveries(t, th, ev, nil)
		time.Sleep(150 * time.Millisecond)
		assert.Zero(t, total.Load())
	})
}

func TestResumeAfterTriggerDeliversOnce(t *testing.T) {
	t.Parallel()
	th := New()
	ev, err := th.NewEvent("ev")
	require.NoError(t, err)
	ev.Suspend()
	ev.Trigger()
	ev.Resume()
	assert.True(t, ev.IsScheduled())

	total, _ := countDeliveries(t, th, ev, nil)
	require.Eventually(t, func() bool { return total.Load() == 1 }, waitFor, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 1, total.Load())
}

func TestStopInterruptsStartDelay(t *testing.T) {
	t.Parallel()
	th := New()
	var ran atomic.Bool
	start(t, th, WithStartDelay(2*time.Second), WithEntry(func(context.Context, *Threadlet) error {
		ran.Store(true)
		return nil
	}))
	time.Sleep(20 * time.Millisecond)

	began := time.Now()
	th.Stop()
	join(t, th)
	assert.Less(t, time.Since(began), 500*time.Millisecond)
	assert.False(t, ran.Load())
	assert.Equal(t, OutcomeStopped, th.Outcome().Kind)
}

func TestStopBetweenRunsAppliesToNextStart(t *testing.T) {
	t.Parallel()
	th := New()
	require.NoError(t, th.Start(context.Background(), WithEntry(func(context.Context, *Threadlet) error { return nil })))
	join(t, th)
	assert.False(t, th.IsStopping())

	th.Stop()
	var ran atomic.Bool
	_, err := th.Schedule(func() { ran.Store(true) }, 10*time.Millisecond, "")
	require.NoError(t, err)
	require.NoError(t, th.Start(context.Background()))
	join(t, th)
	assert.False(t, ran.Load())
	assert.Equal(t, OutcomeStopped, th.Outcome().Kind)

	_, err = th.Schedule(func() { ran.Store(true); th.Stop() }, 10*time.Millisecond, "")
	require.NoError(t, err)
	require.NoError(t, th.Start(context.Background()))
	join(t, th)
	assert.True(t, ran.Load())
}
