package threadlet

import (
	"context"
	"errors"
	"time"

	"threadlet/pkg/logx"
)

// Observer receives lifecycle notifications. Started is called from Start;
// every other hook runs on the loop goroutine and must not block.
type Observer interface {
	Started(t *Threadlet)
	Delivered(t *Threadlet, ev *Event)
	TaskletRan(t *Threadlet, task *Tasklet, info RunInfo)
	Done(t *Threadlet, out Outcome)
}

// RunInfo describes one tasklet invocation.
type RunInfo struct {
	Started  time.Time
	Duration time.Duration
	Count    uint64
	Err      error
}

// NopObserver ignores everything. Embed it to implement a subset of hooks.
type NopObserver struct{}

func (NopObserver) Started(*Threadlet)                       {}
func (NopObserver) Delivered(*Threadlet, *Event)             {}
func (NopObserver) TaskletRan(*Threadlet, *Tasklet, RunInfo) {}
func (NopObserver) Done(*Threadlet, Outcome)                 {}

// Observers fans every hook out in order.
type Observers []Observer

func (os Observers) Started(t *Threadlet) {
	for _, o := range os {
		o.Started(t)
	}
}

func (os Observers) Delivered(t *Threadlet, ev *Event) {
	for _, o := range os {
		o.Delivered(t, ev)
	}
}

func (os Observers) TaskletRan(t *Threadlet, task *Tasklet, info RunInfo) {
	for _, o := range os {
		o.TaskletRan(t, task, info)
	}
}

func (os Observers) Done(t *Threadlet, out Outcome) {
	for _, o := range os {
		o.Done(t, out)
	}
}

func (t *Threadlet) observeRun(task *Tasklet, info RunInfo) {
	t.obs.TaskletRan(t, task, info)
}

// reportFault logs a handler fault, throttled per tasklet. Faults dropped by
// the limiter are counted and reported with the next logged one.
func (t *Threadlet) reportFault(task *Tasklet, err error) {
	if task.limiter != nil && !task.limiter.Allow() {
		task.suppressed.Add(1)
		return
	}
	fields := []logx.Field{
		logx.String("tasklet", task.ident()),
		logx.Uint64("runs", task.RunCount()),
		logx.Err(err),
	}
	if n := task.suppressed.Swap(0); n > 0 {
		fields = append(fields, logx.Uint64("suppressed", n))
	}

	var pe *PanicError
	switch {
	case errors.As(err, &pe):
		t.log.Error("tasklet panicked", append(fields, logx.Stack(string(pe.Stack)))...)
	case errors.Is(err, context.Canceled):
		t.log.Warn("tasklet cancelled", fields...)
	default:
		t.log.Error("tasklet fault", fields...)
	}
}
