package eventbus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threadlet/internal/threadlet"
)

func TestPublishNonBlocking(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})

	e := <-ch
	assert.Equal(t, "a", e.Type)
	assert.False(t, e.Time.IsZero())
	assert.EqualValues(t, 1, b.Dropped())
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(0)
	unsub()
	unsub()
	_, ok := <-ch
	assert.False(t, ok)
	b.Publish(Event{Type: "after"})
}

func TestMatch(t *testing.T) {
	t.Parallel()
	tests := []struct {
		prefix, typ string
		want        bool
	}{
		{"", "x", true},
		{"cmd", "cmd", true},
		{"cmd", "cmd.stop", true},
		{"cmd.", "cmd.stop", true},
		{"cmd", "cmdx", false},
		{"cmd.stop", "cmd", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Match(tt.prefix, tt.typ), "%q/%q", tt.prefix, tt.typ)
	}
}

func TestBridgeSignalsThreadlet(t *testing.T) {
	t.Parallel()
	bus := New()
	th := threadlet.New(threadlet.WithName("target"))

	got := make(chan *threadlet.Event, 1)
	require.NoError(t, th.Start(context.Background(), threadlet.WithEntry(func(ctx context.Context, th *threadlet.Threadlet) error {
		for ev := range th.Events(ctx) {
			got <- ev
			return nil
		}
		return nil
	})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bridged := make(chan error, 1)
	go func() { bridged <- Bridge(ctx, bus, th, "cmd") }()

	require.Eventually(t, func() bool {
		bus.Publish(Event{Type: "other.ping"})
		bus.Publish(Event{Type: "cmd.ping", Source: "remote", Data: map[string]any{"n": 3}})
		return len(got) > 0
	}, 2*time.Second, 10*time.Millisecond)

	ev := <-got
	assert.True(t, ev.IsSignal())
	name, _ := ev.Get("name")
	assert.Equal(t, "ping", name.String())
	src, _ := ev.Get("source")
	assert.Equal(t, "remote", src.String())
	n, _ := ev.Get("n")
	assert.EqualValues(t, 3, n.Int64())

	cancel()
	assert.True(t, errors.Is(<-bridged, context.Canceled))
}

func TestObserverPublishesLifecycle(t *testing.T) {
	t.Parallel()
	bus := New()
	ch, unsub := bus.Subscribe(32)
	defer unsub()

	th := threadlet.New(threadlet.WithName("obs"), threadlet.WithObserver(NewObserver(bus)))
	_, err := th.NewTasklet("bad", func(context.Context, *threadlet.Tasklet) error {
		th.Stop()
		return errors.New("nope")
	})
	require.NoError(t, err)
	require.NoError(t, th.Start(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, th.Join(ctx))

	var types []string
	for len(ch) > 0 {
		e := <-ch
		assert.Equal(t, "obs", e.Source)
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{TypeStarted, TypeFault, TypeDone}, types)
}
