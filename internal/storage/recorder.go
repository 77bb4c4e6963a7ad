package storage

import (
	"context"
	"sync/atomic"
	"time"

	"threadlet/internal/threadlet"
	"threadlet/pkg/logx"
)

// Recorder is a threadlet.Observer that queues run records without blocking
// the loop. Run drains the queue into the store.
type Recorder struct {
	threadlet.NopObserver

	store   Store
	log     logx.Logger
	ch      chan RunRecord
	dropped atomic.Uint64
}

func NewRecorder(store Store, log logx.Logger, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = 256
	}
	return &Recorder{store: store, log: log, ch: make(chan RunRecord, buffer)}
}

func (r *Recorder) TaskletRan(t *threadlet.Threadlet, task *threadlet.Tasklet, info threadlet.RunInfo) {
	rec := RunRecord{
		At:         info.Started,
		Threadlet:  t.Name(),
		Tasklet:    taskName(task),
		Kind:       KindRun,
		DurationMS: info.Duration.Milliseconds(),
		Count:      info.Count,
	}
	if info.Err != nil {
		rec.Error = info.Err.Error()
	}
	r.enqueue(rec)
}

func (r *Recorder) Done(t *threadlet.Threadlet, out threadlet.Outcome) {
	rec := RunRecord{At: time.Now(), Threadlet: t.Name(), Kind: KindOutcome, Outcome: out.Kind.String()}
	if out.Err != nil {
		rec.Error = out.Err.Error()
	}
	r.enqueue(rec)
}

func (r *Recorder) enqueue(rec RunRecord) {
	select {
	case r.ch <- rec:
	default:
		r.dropped.Add(1)
	}
}

// Dropped counts records lost because the queue was full.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Run writes queued records until ctx is done, then flushes what is left.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case rec := <-r.ch:
			r.write(ctx, rec)
		case <-ctx.Done():
			r.flush()
			return nil
		}
	}
}

func (r *Recorder) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case rec := <-r.ch:
			r.write(ctx, rec)
		default:
			return
		}
	}
}

func (r *Recorder) write(ctx context.Context, rec RunRecord) {
	if err := r.store.AppendRun(ctx, rec); err != nil {
		r.log.Warn("run record not stored", logx.String("threadlet", rec.Threadlet), logx.Err(err))
	}
}

func taskName(task *threadlet.Tasklet) string {
	if n := task.Name(); n != "" {
		return n
	}
	return task.ID()
}
