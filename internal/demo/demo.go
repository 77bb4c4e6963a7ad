// Package demo holds small runnable scenarios exercising threadlets. Times
// are expressed in units so tests can run them quickly.
package demo

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"threadlet/internal/eventbus"
	"threadlet/internal/threadlet"
	"threadlet/pkg/logx"
)

var ErrUnknownDemo = errors.New("unknown demo")

type Options struct {
	Log logx.Logger
	// Unit is the base time step; 100ms when zero.
	Unit time.Duration
}

func (o Options) unit() time.Duration {
	if o.Unit <= 0 {
		return 100 * time.Millisecond
	}
	return o.Unit
}

func (o Options) log() logx.Logger {
	if o.Log.IsZero() {
		return logx.Nop()
	}
	return o.Log
}

// Report counts deliveries or runs per name.
type Report struct {
	mu      sync.Mutex
	counts  map[string]int
	Outcome threadlet.Outcome
}

func (r *Report) add(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = map[string]int{}
	}
	r.counts[name]++
	return r.counts[name]
}

func (r *Report) Count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[name]
}

func (r *Report) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.counts))
	for n := range r.counts {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

type Func func(ctx context.Context, opts Options) (*Report, error)

var registry = map[string]struct {
	short string
	fn    Func
}{
	"ticker":   {"two periodic tasklets; one cancels itself, the other stops the threadlet", Ticker},
	"pingpong": {"events re-arming each other until a stop event fires", PingPong},
	"relay":    {"one threadlet signals another directly and over the event bus", Relay},
	"backoff":  {"a tasklet rescheduling itself with a growing delay", Backoff},
}

// Names lists the available demos.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Describe returns the one-line description of a demo.
func Describe(name string) string { return registry[name].short }

// Run executes the named demo.
func Run(ctx context.Context, name string, opts Options) (*Report, error) {
	d, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDemo, name)
	}
	return d.fn(ctx, opts)
}

func finish(ctx context.Context, th *threadlet.Threadlet, rep *Report) (*Report, error) {
	if err := th.Join(ctx); err != nil {
		th.Cancel()
		return rep, err
	}
	rep.Outcome = th.Outcome()
	if rep.Outcome.Kind == threadlet.OutcomeFaulted {
		return rep, rep.Outcome.Err
	}
	return rep, nil
}

// Ticker runs "tick" and "tack" every unit. tick cancels itself after 5
// runs; tack stops the threadlet after 10.
func Ticker(ctx context.Context, opts Options) (*Report, error) {
	log, unit := opts.log(), opts.unit()
	rep := &Report{}
	th := threadlet.New(threadlet.WithName("ticker"), threadlet.WithLogger(log))

	_, err := th.NewTasklet("tick", func(_ context.Context, task *threadlet.Tasklet) error {
		n := rep.add("tick")
		log.Info("tick!", logx.Int("n", n))
		if n == 5 {
			task.Cancel()
		}
		return nil
	}, threadlet.WithPeriod(unit))
	if err != nil {
		return nil, err
	}
	_, err = th.NewTasklet("tack", func(_ context.Context, task *threadlet.Tasklet) error {
		n := rep.add("tack")
		log.Info("tack!", logx.Int("n", n))
		if n == 10 {
			th.Stop()
		}
		return nil
	}, threadlet.WithPeriod(unit))
	if err != nil {
		return nil, err
	}

	if err := th.Start(ctx); err != nil {
		return nil, err
	}
	return finish(ctx, th, rep)
}

// PingPong arms ev0 and ev2. Handling ev0 arms ev1, handling ev1 re-arms ev0
// and unschedules ev2, ev2 re-arms itself every unit. The entry returns when
// "stop" fires after 50 units.
func PingPong(ctx context.Context, opts Options) (*Report, error) {
	log, unit := opts.log(), opts.unit()
	rep := &Report{}
	th := threadlet.New(threadlet.WithName("pingpong"), threadlet.WithLogger(log))

	run := func(ctx context.Context, th *threadlet.Threadlet) error {
		var evs [4]*threadlet.Event
		for i, name := range []string{"stop", "ev0", "ev1", "ev2"} {
			ev, err := th.NewEvent(name)
			if err != nil {
				return err
			}
			evs[i] = ev
		}
		stop, ev0, ev1, ev2 := evs[0], evs[1], evs[2], evs[3]
		if err := errors.Join(stop.Schedule(50*unit), ev0.Schedule(unit), ev2.Schedule(0)); err != nil {
			return err
		}

		for ev := range th.Events(ctx) {
			rep.add(ev.Name())
			log.Info("event", logx.String("name", ev.Name()))
			var err error
			switch ev {
			case stop:
				return nil
			case ev0:
				err = ev1.Schedule(10 * unit)
			case ev1:
				err = ev0.Schedule(10 * unit)
				ev2.Unschedule()
			case ev2:
				err = ev2.Schedule(unit)
			}
			if err != nil {
				return err
			}
		}
		return ctx.Err()
	}

	if err := th.Start(ctx, threadlet.WithEntry(run)); err != nil {
		return nil, err
	}
	return finish(ctx, th, rep)
}

// Relay starts a receiver that logs deliveries and a sender whose tasklet
// signals the receiver every 2 units, once directly and once through a bus
// bridge. The sender stops the receiver after 10 units.
func Relay(ctx context.Context, opts Options) (*Report, error) {
	log, unit := opts.log(), opts.unit()
	rep := &Report{}
	bus := eventbus.New()

	recv := threadlet.New(threadlet.WithName("receiver"), threadlet.WithLogger(log))
	send := threadlet.New(threadlet.WithName("sender"), threadlet.WithLogger(log))

	err := recv.Start(ctx, threadlet.WithEntry(func(ctx context.Context, th *threadlet.Threadlet) error {
		for ev := range th.Events(ctx) {
			kind := "event"
			if ev.IsSignal() {
				kind = "signal"
			}
			via := "direct"
			if v, ok := ev.Get("type"); ok && v.String() != "" {
				via = "bus"
			}
			rep.add(ev.Name() + "/" + via)
			log.Info(kind, logx.String("name", ev.Name()), logx.String("via", via))
		}
		log.Info("done")
		return ctx.Err()
	}))
	if err != nil {
		return nil, err
	}

	bctx, cancelBridge := context.WithCancel(ctx)
	defer cancelBridge()
	bridged := make(chan error, 1)
	go func() { bridged <- eventbus.Bridge(bctx, bus, recv, "relay") }()

	_, err = send.NewTasklet("blip", func(_ context.Context, task *threadlet.Tasklet) error {
		recv.Signal("blip")
		bus.Publish(eventbus.Event{Type: "relay.blip", Source: send.Name()})
		return nil
	}, threadlet.WithPeriod(2*unit))
	if err != nil {
		return nil, err
	}
	if _, err := send.Schedule(recv.Stop, 10*unit, ""); err != nil {
		return nil, err
	}
	if err := send.Start(ctx); err != nil {
		return nil, err
	}

	rep, err = finish(ctx, recv, rep)
	send.Stop()
	if jerr := send.Join(ctx); err == nil {
		err = jerr
	}
	cancelBridge()
	<-bridged
	return rep, err
}

// Backoff runs one tasklet that reschedules itself with its "delay"
// attribute grown by 20% each run, and stops the threadlet on run 10.
func Backoff(ctx context.Context, opts Options) (*Report, error) {
	log, unit := opts.log(), opts.unit()
	rep := &Report{}
	th := threadlet.New(threadlet.WithName("backoff"), threadlet.WithLogger(log))

	_, err := th.NewTasklet("tick", func(_ context.Context, task *threadlet.Tasklet) error {
		if rep.add("tick") == 10 {
			th.Stop()
			return nil
		}
		delay, _ := task.Attrs().Get("delay")
		next := time.Duration(float64(delay.Duration()) * 1.2)
		log.Info("tick", logx.Duration("delay", delay.Duration()))
		task.Attrs().Set("delay", threadlet.DurationValue(next))
		return task.Schedule(next)
	}, threadlet.WithAttrs(threadlet.Duration("delay", unit)))
	if err != nil {
		return nil, err
	}
	if err := th.Start(ctx); err != nil {
		return nil, err
	}
	return finish(ctx, th, rep)
}
