package app

import (
	"cmp"
	"context"
	"fmt"
	"time"

	"threadlet/internal/config"
	"threadlet/internal/eventbus"
	"threadlet/internal/schedule"
	"threadlet/internal/threadlet"
	"threadlet/pkg/logx"
)

// build creates a threadlet with its events and tasklets armed. It is not
// started.
func (a *App) build(tc config.ThreadletConfig) (*threadlet.Threadlet, error) {
	opts := []threadlet.Option{
		threadlet.WithName(tc.Name),
		threadlet.WithLogger(a.log.With(logx.String("comp", "threadlet"))),
		threadlet.WithObserver(a.obs),
	}
	if limit, burst, ok := faultRate(tc); ok {
		opts = append(opts, threadlet.WithFaultRate(limit, burst))
	}
	th := threadlet.New(opts...)

	for _, ec := range tc.Events {
		if err := addEvent(th, ec); err != nil {
			return nil, fmt.Errorf("threadlet %q: event %q: %w", tc.Name, ec.Name, err)
		}
	}
	for _, kc := range tc.Tasklets {
		if err := a.addTasklet(th, kc); err != nil {
			return nil, fmt.Errorf("threadlet %q: tasklet %q: %w", tc.Name, kc.Name, err)
		}
	}
	return th, nil
}

func addEvent(th *threadlet.Threadlet, ec config.EventConfig) error {
	ev, err := th.NewEvent(ec.Name, attrsOf(ec.Attrs)...)
	if err != nil {
		return err
	}
	delay, err := config.ParseDurationField("delay", ec.Delay)
	if err != nil {
		return err
	}
	if ec.Suspended {
		ev.Suspend()
	}

	if ec.Schedule == "" {
		if ec.Delay == "" {
			return nil
		}
		return ev.Schedule(delay)
	}
	ps, err := schedule.ParseSchedule(ec.Schedule)
	if err != nil {
		return err
	}
	if ps.Kind == schedule.KindInterval {
		if ec.Spread && ec.Delay == "" {
			delay = schedule.Spread(ps.Every, th.Name()+"/"+ec.Name)
		}
		return ev.ScheduleEvery(delay, ps.Every)
	}
	rec, err := ps.Recurrence()
	if err != nil {
		return err
	}
	ev.SetRecurrence(rec)
	if ec.Delay != "" {
		return ev.Schedule(delay)
	}
	return ev.ScheduleAt(rec.Next(time.Now()))
}

func (a *App) addTasklet(th *threadlet.Threadlet, kc config.TaskletConfig) error {
	fn, err := a.action(th, kc)
	if err != nil {
		return err
	}
	opts := []threadlet.TaskletOption{threadlet.WithAttrs(attrsOf(kc.Attrs)...)}
	if kc.Schedule != "" {
		opts = append(opts, threadlet.WithSchedule(kc.Schedule))
	}
	if kc.Spread && kc.Delay == "" && kc.Schedule != "" {
		if ps, err := schedule.ParseSchedule(kc.Schedule); err == nil && ps.Kind == schedule.KindInterval {
			opts = append(opts, threadlet.WithDelay(schedule.Spread(ps.Every, th.Name()+"/"+kc.Name)))
		}
	}
	if kc.Delay != "" {
		d, err := config.ParseDurationField("delay", kc.Delay)
		if err != nil {
			return err
		}
		opts = append(opts, threadlet.WithDelay(d))
	}
	if kc.Suspended {
		opts = append(opts, threadlet.Suspended())
	}
	_, err = th.NewTasklet(kc.Name, fn, opts...)
	return err
}

// action returns the handler for a configured tasklet owned by self.
// Targets naming other threadlets are resolved on every run so a reloaded
// threadlet is found.
func (a *App) action(self *threadlet.Threadlet, kc config.TaskletConfig) (threadlet.TaskletFunc, error) {
	owner := self.Name()
	switch kc.Action {
	case config.ActionSignal:
		target := cmp.Or(kc.Target, owner)
		name := cmp.Or(kc.Signal, kc.Name)
		return func(_ context.Context, task *threadlet.Tasklet) error {
			th, err := a.Threadlet(target)
			if err != nil {
				return err
			}
			attrs := taskAttrs(task)
			if target != owner {
				attrs = append(attrs, threadlet.String("from", owner))
			}
			th.Signal(name, attrs...)
			return nil
		}, nil

	case config.ActionPublish:
		return func(_ context.Context, task *threadlet.Tasklet) error {
			a.bus.Publish(eventbus.Event{Type: kc.Target, Source: owner, Data: task.Attrs().Map()})
			return nil
		}, nil

	case config.ActionStop:
		target := cmp.Or(kc.Target, owner)
		return func(_ context.Context, task *threadlet.Tasklet) error {
			th, err := a.Threadlet(target)
			if err != nil {
				return err
			}
			th.Stop()
			return nil
		}, nil

	case config.ActionLog:
		return func(_ context.Context, task *threadlet.Tasklet) error {
			fields := []logx.Field{logx.String("tasklet", task.Name()), logx.Uint64("runs", task.RunCount())}
			for k, v := range task.Attrs().All() {
				fields = append(fields, logx.Any(k, v.Any()))
			}
			self.Logger().Info("tasklet", fields...)
			return nil
		}, nil

	case config.ActionSuspend, config.ActionResume:
		suspend := kc.Action == config.ActionSuspend
		return func(_ context.Context, task *threadlet.Tasklet) error {
			item, err := self.Get(kc.Target)
			if err != nil {
				return err
			}
			if suspend {
				item.Suspend()
			} else {
				item.Resume()
			}
			return nil
		}, nil
	}
	return nil, fmt.Errorf("unknown action %q", kc.Action)
}

func taskAttrs(task *threadlet.Tasklet) []threadlet.Attr {
	attrs := make([]threadlet.Attr, 0, task.Attrs().Len()+1)
	for k, v := range task.Attrs().All() {
		attrs = append(attrs, threadlet.Attr{Key: k, Value: v})
	}
	return attrs
}

// entry is the routine every configured threadlet runs: it drains delivered
// events and logs them.
func entry(tc config.ThreadletConfig) threadlet.EntryFunc {
	return func(ctx context.Context, th *threadlet.Threadlet) error {
		log := th.Logger()
		for ev := range th.Events(ctx) {
			fields := []logx.Field{
				logx.String("event", ev.Name()),
				logx.Bool("signal", ev.IsSignal()),
				logx.Map("attrs", ev.Attrs().Map()),
			}
			if tc.LogEvents {
				log.Info("event delivered", fields...)
			} else {
				log.Debug("event delivered", fields...)
			}
		}
		return ctx.Err()
	}
}
