package threadlet

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"threadlet/internal/schedule"
)

// TaskletFunc is the body of a tasklet. It runs on the threadlet's loop
// goroutine; blocking inside it blocks the whole threadlet.
type TaskletFunc func(ctx context.Context, t *Tasklet) error

// Tasklet is a schedulable unit of work executed inline by the run loop.
type Tasklet struct {
	sched
	attrs   Attrs
	handler TaskletFunc

	running    atomic.Bool
	runs       atomic.Uint64
	faults     atomic.Uint64
	suppressed atomic.Uint64
	limiter    *rate.Limiter
}

func (t *Tasklet) Attrs() *Attrs { return &t.attrs }

// RunCount is the number of completed invocations, faulted ones included.
func (t *Tasklet) RunCount() uint64 { return t.runs.Load() }

func (t *Tasklet) FaultCount() uint64 { return t.faults.Load() }

// IsRunning reports whether the handler is executing right now.
func (t *Tasklet) IsRunning() bool { return t.running.Load() }

// TaskletOption configures NewTasklet.
type TaskletOption func(*taskletConfig)

type taskletConfig struct {
	delay     time.Duration
	delaySet  bool
	period    time.Duration
	recur     cron.Schedule
	suspended bool
	attrs     []Attr
	err       error
}

// WithDelay sets the delay before the first run.
func WithDelay(d time.Duration) TaskletOption {
	return func(c *taskletConfig) { c.delay, c.delaySet = d, true }
}

// WithPeriod re-arms the tasklet every d after each run.
func WithPeriod(d time.Duration) TaskletOption {
	return func(c *taskletConfig) { c.period, c.recur = d, nil }
}

// WithCron re-arms the tasklet at the schedule's next activation.
func WithCron(s cron.Schedule) TaskletOption {
	return func(c *taskletConfig) { c.recur, c.period = s, 0 }
}

// WithSchedule parses a schedule string ("@every 5s", "*/5 * * * *", "2h",
// "every:30s", ...) and applies it as a period or cron recurrence.
func WithSchedule(spec string) TaskletOption {
	return func(c *taskletConfig) {
		ps, err := schedule.ParseSchedule(spec)
		if err != nil {
			c.err = err
			return
		}
		if ps.Kind == schedule.KindInterval {
			c.period, c.recur = ps.Every, nil
			return
		}
		r, err := ps.Recurrence()
		if err != nil {
			c.err = err
			return
		}
		c.recur, c.period = r, 0
	}
}

// Suspended creates the tasklet armed but suspended.
func Suspended() TaskletOption {
	return func(c *taskletConfig) { c.suspended = true }
}

func WithAttrs(attrs ...Attr) TaskletOption {
	return func(c *taskletConfig) { c.attrs = append(c.attrs, attrs...) }
}

// run executes the handler once and re-arms. Called on the loop goroutine.
func (t *Tasklet) run(ctx context.Context) {
	th := t.th
	th.mu.Lock()
	skip := t.suspended || t.cancelled
	th.mu.Unlock()
	if skip || !t.running.CompareAndSwap(false, true) {
		return
	}

	start := time.Now()
	err := t.invoke(ctx)
	t.running.Store(false)
	n := t.runs.Add(1)
	if err != nil {
		t.faults.Add(1)
		th.reportFault(t, err)
	}
	th.observeRun(t, RunInfo{Started: start, Duration: time.Since(start), Count: n, Err: err})

	th.mu.Lock()
	t.rearmLocked(time.Now())
	th.mu.Unlock()
}

func (t *Tasklet) invoke(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return t.handler(ctx, t)
}

func (t *Tasklet) String() string {
	return fmt.Sprintf("tasklet(%s)", t.ident())
}
