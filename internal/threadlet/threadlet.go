// Package threadlet implements a cooperative scheduler: one run-loop goroutine
// per Threadlet multiplexes periodic tasklets, one-shot delayed calls, named
// events and transient signals.
//
// Every mutation (Schedule, Signal, Cancel, Stop, ...) is safe from any
// goroutine. Tasklet handlers and the consumer of Events always run on the
// loop goroutine, never concurrently with each other.
package threadlet

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"threadlet/pkg/logx"
)

type state uint8

const (
	stateIdle state = iota
	stateRunning
	stateStopping
	stateDone
)

func (s state) String() string {
	switch s {
	case stateRunning:
		return "running"
	case stateStopping:
		return "stopping"
	case stateDone:
		return "done"
	default:
		return "idle"
	}
}

// EntryFunc is the routine driving a threadlet. It normally ranges over
// t.Events(ctx). Returning nil ends the run as stopped.
type EntryFunc func(ctx context.Context, t *Threadlet) error

// DoneFunc is called once the run loop has finished and all outstanding
// entries were discarded. A returned error is logged.
type DoneFunc func(t *Threadlet, out Outcome) error

// Threadlet is a single-goroutine scheduler.
type Threadlet struct {
	name string
	id   string
	log  logx.Logger
	obs  Observer

	faultLimit rate.Limit
	faultBurst int

	mu      sync.Mutex
	names   map[string]Schedulable
	wait    waitSet
	pending *queue.Queue
	ready   []*sched
	seq     uint64
	waiter  chan struct{}

	state    state
	stopping bool
	run      *runHandle
	lastDone chan struct{}
	outcome  Outcome

	passing atomic.Bool
}

type runHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
	stop   chan struct{} // closed by Stop; guarded by Threadlet.mu
}

func (h *runHandle) stopLocked() {
	select {
	case <-h.stop:
	default:
		close(h.stop)
	}
}

// Option configures New.
type Option func(*Threadlet)

func WithName(name string) Option { return func(t *Threadlet) { t.name = name } }

func WithLogger(log logx.Logger) Option { return func(t *Threadlet) { t.log = log } }

// WithObserver installs hooks called on the loop goroutine.
func WithObserver(o Observer) Option { return func(t *Threadlet) { t.obs = o } }

// WithFaultRate bounds how often a single tasklet's faults are logged.
// rate.Inf disables throttling.
func WithFaultRate(limit rate.Limit, burst int) Option {
	return func(t *Threadlet) { t.faultLimit, t.faultBurst = limit, max(burst, 1) }
}

// New returns an idle threadlet.
func New(opts ...Option) *Threadlet {
	t := &Threadlet{
		id:         uuid.NewString(),
		log:        logx.Nop(),
		names:      make(map[string]Schedulable),
		pending:    queue.New(),
		faultLimit: rate.Every(time.Second),
		faultBurst: 5,
	}
	for _, o := range opts {
		if o != nil {
			o(t)
		}
	}
	if t.name == "" {
		t.name = "threadlet-" + t.id[:8]
	}
	if t.obs == nil {
		t.obs = NopObserver{}
	}
	t.log = t.log.With(logx.String("threadlet", t.name))
	return t
}

func (t *Threadlet) Name() string { return t.name }
func (t *Threadlet) ID() string   { return t.id }

func (t *Threadlet) String() string { return fmt.Sprintf("threadlet(%s)", t.name) }

// Logger returns the threadlet's logger, tagged with its name.
func (t *Threadlet) Logger() logx.Logger { return t.log }

// StartOption configures Start.
type StartOption func(*startConfig)

type startConfig struct {
	entry EntryFunc
	done  DoneFunc
	delay time.Duration
}

// WithEntry sets the routine driving the loop. The default is Idle.
func WithEntry(fn EntryFunc) StartOption { return func(c *startConfig) { c.entry = fn } }

// WithDone sets the completion callback. The default logs the outcome.
func WithDone(fn DoneFunc) StartOption { return func(c *startConfig) { c.done = fn } }

// WithStartDelay postpones the entry routine.
func WithStartDelay(d time.Duration) StartOption { return func(c *startConfig) { c.delay = d } }

// Start launches the run loop on a new goroutine. It fails with
// ErrAlreadyRunning while a previous run has not finished.
//
// A Stop issued before Start is honoured: the run ends at its first
// loop-top check. A threadlet that has finished may be started again.
func (t *Threadlet) Start(ctx context.Context, opts ...StartOption) error {
	var cfg startConfig
	for _, o := range opts {
		if o != nil {
			o(&cfg)
		}
	}
	if cfg.entry == nil {
		cfg.entry = func(ctx context.Context, t *Threadlet) error { return t.Idle(ctx) }
	}

	t.mu.Lock()
	if t.run != nil {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, t.name)
	}
	runCtx, cancel := context.WithCancel(ctx)
	h := &runHandle{cancel: cancel, done: make(chan struct{}), stop: make(chan struct{})}
	t.run = h
	t.lastDone = h.done
	t.outcome = Outcome{}
	t.state = stateRunning
	if t.stopping {
		t.state = stateStopping
		h.stopLocked()
	}
	t.mu.Unlock()

	t.log.Debug("threadlet starting", logx.Duration("delay", cfg.delay))
	t.obs.Started(t)
	go t.main(runCtx, h, cfg)
	return nil
}

func (t *Threadlet) main(ctx context.Context, h *runHandle, cfg startConfig) {
	out := t.drive(ctx, h, cfg)

	t.mu.Lock()
	t.discardLocked()
	t.outcome = out
	t.state = stateDone
	t.stopping = false
	t.mu.Unlock()

	t.complete(cfg.done, out)
	t.obs.Done(t, out)

	t.mu.Lock()
	t.run = nil
	t.mu.Unlock()
	h.cancel()
	close(h.done)
}

func (t *Threadlet) drive(ctx context.Context, h *runHandle, cfg startConfig) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Outcome{Kind: OutcomeFaulted, Err: &PanicError{Value: r, Stack: debug.Stack()}}
		}
	}()
	if cfg.delay > 0 {
		timer := time.NewTimer(cfg.delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-h.stop:
			return Outcome{Kind: OutcomeStopped}
		case <-ctx.Done():
			return outcomeOf(ctx.Err())
		}
	}
	return outcomeOf(cfg.entry(ctx, t))
}

func (t *Threadlet) complete(done DoneFunc, out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("completion callback panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	if done == nil {
		t.logOutcome(out)
		return
	}
	if err := done(t, out); err != nil {
		t.log.Error("completion callback failed", logx.Err(err))
	}
}

func (t *Threadlet) logOutcome(out Outcome) {
	switch out.Kind {
	case OutcomeStopped:
		t.log.Debug("threadlet stopped")
	case OutcomeCancelled:
		t.log.Warn("threadlet cancelled", logx.Err(out.Err))
	default:
		t.log.Error("threadlet faulted", logx.Err(out.Err))
	}
}

// discardLocked empties the wait set, ready queue and pending queue.
func (t *Threadlet) discardLocked() {
	t.wait.clear()
	for _, s := range t.ready {
		s.place = placeNone
	}
	clear(t.ready)
	t.ready = t.ready[:0]
	for t.pending.Length() > 0 {
		t.pending.Remove().(*sched).place = placeNone
	}
	t.waiter = nil
}

// Stop asks the run loop to end at its next loop-top check, or ends a
// pending start delay. It does not interrupt a running tasklet. Issued
// while no run is active, it applies to the next Start.
func (t *Threadlet) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopping {
		return
	}
	t.stopping = true
	if t.state == stateRunning {
		t.state = stateStopping
	}
	if t.run != nil {
		t.run.stopLocked()
	}
	t.wakeupLocked()
}

// Cancel cancels the context handed to the entry routine and tasklet
// handlers. Unlike Stop, the run ends with OutcomeCancelled when the entry
// routine honours its context.
func (t *Threadlet) Cancel() {
	t.mu.Lock()
	h := t.run
	t.mu.Unlock()
	if h != nil {
		h.cancel()
	}
}

// Join blocks until the current run has finished or ctx is done. It
// returns ErrNotStarted when the threadlet was never started.
func (t *Threadlet) Join(ctx context.Context) error {
	t.mu.Lock()
	done := t.lastDone
	t.mu.Unlock()
	if done == nil {
		return ErrNotStarted
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the current run finishes. It is nil before the first
// Start.
func (t *Threadlet) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastDone
}

// IsRunning reports whether a run is active (including while stopping).
func (t *Threadlet) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.run != nil
}

func (t *Threadlet) IsStopping() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopping
}

// State returns "idle", "running", "stopping" or "done".
func (t *Threadlet) State() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.String()
}

// Outcome is the result of the last finished run.
func (t *Threadlet) Outcome() Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outcome
}
