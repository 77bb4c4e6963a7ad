package eventbus

import (
	"context"
	"strings"

	"threadlet/internal/threadlet"
)

// Event types published by Observer.
const (
	TypeStarted   = "threadlet.started"
	TypeDone      = "threadlet.done"
	TypeDelivered = "event.delivered"
	TypeFault     = "tasklet.fault"
)

// Observer publishes threadlet lifecycle notifications on a bus.
// Successful tasklet runs are not published.
type Observer struct {
	threadlet.NopObserver
	bus Bus
}

func NewObserver(bus Bus) *Observer { return &Observer{bus: bus} }

func (o *Observer) Started(t *threadlet.Threadlet) {
	o.bus.Publish(Event{Type: TypeStarted, Source: t.Name()})
}

func (o *Observer) Delivered(t *threadlet.Threadlet, ev *threadlet.Event) {
	data := ev.Attrs().Map()
	data["signal"] = ev.IsSignal()
	o.bus.Publish(Event{Type: TypeDelivered, Source: t.Name(), Data: data})
}

func (o *Observer) TaskletRan(t *threadlet.Threadlet, task *threadlet.Tasklet, info threadlet.RunInfo) {
	if info.Err == nil {
		return
	}
	o.bus.Publish(Event{Type: TypeFault, Source: t.Name(), Data: map[string]any{
		"tasklet": task.String(),
		"err":     info.Err.Error(),
		"runs":    info.Count,
	}})
}

func (o *Observer) Done(t *threadlet.Threadlet, out threadlet.Outcome) {
	data := map[string]any{"outcome": out.Kind.String()}
	if out.Err != nil {
		data["err"] = out.Err.Error()
	}
	o.bus.Publish(Event{Type: TypeDone, Source: t.Name(), Data: data})
}

// Bridge turns bus events whose type falls under prefix into signals on th
// until ctx is done. The signal name is the event type with the prefix
// stripped; Data entries become attributes alongside "type" and "source".
// Events published by th itself are ignored.
func Bridge(ctx context.Context, bus Bus, th *threadlet.Threadlet, prefix string) error {
	ch, unsub := bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			if e.Source == th.Name() || !Match(prefix, e.Type) {
				continue
			}
			name := strings.TrimPrefix(strings.TrimPrefix(e.Type, prefix), ".")
			if name == "" {
				name = e.Type
			}
			attrs := make([]threadlet.Attr, 0, len(e.Data)+2)
			for k, v := range e.Data {
				attrs = append(attrs, threadlet.Any(k, v))
			}
			attrs = append(attrs, threadlet.String("type", e.Type), threadlet.String("source", e.Source))
			th.Signal(name, attrs...)
		}
	}
}
