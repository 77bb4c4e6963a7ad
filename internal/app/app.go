// Package app wires configured threadlets to logging, storage, the event bus
// and config hot reload.
package app

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"threadlet/internal/config"
	"threadlet/internal/eventbus"
	"threadlet/internal/runtime/supervisor"
	"threadlet/internal/storage"
	"threadlet/internal/threadlet"
	"threadlet/pkg/logx"
)

var ErrUnknownThreadlet = errors.New("unknown threadlet")

type App struct {
	cfgm *config.ConfigManager
	cfg  *config.Config

	sup *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   *eventbus.MemBus
	store storage.Store
	rec   *storage.Recorder
	obs   threadlet.Observer

	mu    sync.RWMutex
	units map[string]*unit
	// gen changes whenever units is replaced by a reload.
	gen uint64

	finished chan struct{}
}

// unit is one running threadlet and the context of its bridge.
type unit struct {
	cfg    config.ThreadletConfig
	th     *threadlet.Threadlet
	cancel context.CancelFunc
}

// NewApp loads cfgPath and builds the app. The file is watched after Start.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	a, err := New(cfg)
	if err != nil {
		return nil, err
	}
	a.cfgm = cfgm
	return a, nil
}

// New builds the app from an already validated config.
func New(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	store, err := OpenStore(cfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	if store != nil {
		log.Info("storage enabled", logx.String("driver", cfg.Storage.Driver))
	}

	bus := eventbus.New()
	obs := threadlet.Observers{eventbus.NewObserver(bus)}
	var rec *storage.Recorder
	if store != nil {
		rec = storage.NewRecorder(store, log.With(logx.String("comp", "recorder")), 256)
		obs = append(obs, rec)
	}

	return &App{
		cfg:      cfg,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		rec:      rec,
		obs:      obs,
		units:    map[string]*unit{},
		finished: make(chan struct{}),
	}, nil
}

func (a *App) Logger() logx.Logger       { return a.log }
func (a *App) Bus() *eventbus.MemBus     { return a.bus }
func (a *App) Store() storage.Store      { return a.store }
func (a *App) Finished() <-chan struct{} { return a.finished }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Config returns the last applied config.
func (a *App) Config() *config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

// Threadlet returns the running threadlet with the given name.
func (a *App) Threadlet(name string) (*threadlet.Threadlet, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	u := a.units[name]
	if u == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownThreadlet, name)
	}
	return u.th, nil
}

// Threadlets returns the current threadlets sorted by name.
func (a *App) Threadlets() []*threadlet.Threadlet {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*threadlet.Threadlet, 0, len(a.units))
	for _, name := range slices.Sorted(maps.Keys(a.units)) {
		out = append(out, a.units[name].th)
	}
	return out
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))), supervisor.WithCancelOnError(true))
	sctx := a.sup.Context()

	if a.rec != nil {
		// The recorder outlives the threadlets so outcomes get flushed.
		a.sup.Go("storage.recorder", a.rec.Run)
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.String("source", e.Source), logx.Time("time", e.Time))
			}
		}
	})

	// Build everything first so a bad declaration starts nothing.
	built := make([]*unit, 0, len(a.cfg.Threadlets))
	for _, tc := range a.cfg.Threadlets {
		th, err := a.build(tc)
		if err != nil {
			a.sup.Cancel()
			return err
		}
		built = append(built, &unit{cfg: tc, th: th})
	}
	a.mu.Lock()
	for _, u := range built {
		a.units[u.cfg.Name] = u
	}
	a.mu.Unlock()
	for _, u := range built {
		if err := a.launch(sctx, u); err != nil {
			a.sup.Cancel()
			return err
		}
	}

	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
		sub := a.cfgm.Subscribe(8)
		a.sup.Go("config.reload", func(c context.Context) error {
			defer a.cfgm.Unsubscribe(sub)
			a.reloadLoop(c, sub)
			return nil
		})
		a.sup.GoRestart("config.watch", a.cfgm.Watch, supervisor.WithRestartBackoff(time.Second, 30*time.Second))
	}

	go func() {
		_ = a.Wait(sctx)
		close(a.finished)
	}()

	a.log.Info("app started", logx.Int("threadlets", len(built)))
	return nil
}

// launch starts u's threadlet and, if configured, its bridge.
func (a *App) launch(ctx context.Context, u *unit) error {
	delay, err := config.ParseDurationField("start_delay", u.cfg.StartDelay)
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(ctx)
	u.cancel = cancel
	if err := u.th.Start(runCtx, threadlet.WithEntry(entry(u.cfg)), threadlet.WithStartDelay(delay)); err != nil {
		cancel()
		return err
	}
	if prefix := strings.TrimSpace(u.cfg.Bridge); prefix != "" {
		a.sup.Go("bridge."+u.cfg.Name, func(context.Context) error {
			return eventbus.Bridge(runCtx, a.bus, u.th, prefix)
		})
	}
	a.sup.Go("threadlet."+u.cfg.Name, func(c context.Context) error {
		select {
		case <-u.th.Done():
		case <-c.Done():
			<-u.th.Done()
		}
		cancel()
		return nil
	})
	return nil
}

// Wait blocks until every threadlet has finished, including ones started by
// a reload while waiting.
func (a *App) Wait(ctx context.Context) error {
	for {
		a.mu.RLock()
		gen := a.gen
		units := slices.Collect(maps.Values(a.units))
		a.mu.RUnlock()

		for _, u := range units {
			if err := u.th.Join(ctx); err != nil && !errors.Is(err, threadlet.ErrNotStarted) {
				return err
			}
		}

		a.mu.RLock()
		same := gen == a.gen
		a.mu.RUnlock()
		if same {
			return nil
		}
	}
}

// reloadLoop applies published configs until ctx is done.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					drained = true
				}
			}
			a.apply(ctx, newCfg)
		}
	}
}

func (a *App) apply(ctx context.Context, newCfg *config.Config) {
	sum := config.SummarizeChange(a.Config(), newCfg)
	if sum.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.log.Debug("config change summary", append([]logx.Field{logx.String("changed", strings.Join(sum.Sections, ","))}, sum.Fields...)...)

	for _, s := range sum.Sections {
		switch s {
		case "logging":
			a.logs.Apply(mapLogConfig(newCfg))
		case "storage":
			a.log.Warn("storage config changed; restart required for changes to take effect")
		}
	}

	if len(sum.Threadlets) > 0 {
		a.replace(ctx, newCfg, sum.Threadlets)
	}
	a.mu.Lock()
	a.cfg = newCfg
	a.mu.Unlock()
	a.log.Info("config reloaded", logx.String("changed", strings.Join(sum.Sections, ",")))
}

// replace stops the named threadlets and starts their new declarations.
func (a *App) replace(ctx context.Context, newCfg *config.Config, names []string) {
	decl := make(map[string]config.ThreadletConfig, len(newCfg.Threadlets))
	for _, tc := range newCfg.Threadlets {
		decl[tc.Name] = tc
	}

	for _, name := range names {
		a.mu.Lock()
		old := a.units[name]
		delete(a.units, name)
		a.gen++
		a.mu.Unlock()

		if old != nil {
			old.th.Stop()
			joinCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := old.th.Join(joinCtx); err != nil {
				a.log.Warn("threadlet did not stop in time; cancelling", logx.String("threadlet", name), logx.Err(err))
				old.cancel()
			}
			cancel()
			a.log.Info("threadlet retired", logx.String("threadlet", name))
		}

		tc, ok := decl[name]
		if !ok {
			continue
		}
		th, err := a.build(tc)
		if err != nil {
			a.log.Error("threadlet rebuild failed", logx.String("threadlet", name), logx.Err(err))
			continue
		}
		u := &unit{cfg: tc, th: th}
		a.mu.Lock()
		a.units[name] = u
		a.gen++
		a.mu.Unlock()
		if err := a.launch(a.sup.Context(), u); err != nil {
			a.log.Error("threadlet restart failed", logx.String("threadlet", name), logx.Err(err))
			continue
		}
		a.log.Info("threadlet started", logx.String("threadlet", name))
	}
}

// Stop stops every threadlet gracefully, then the supervised goroutines,
// storage and logging.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Err(stepCtx.Err()))
		}
	}

	step("threadlets", 5*time.Second, func(c context.Context) error {
		ths := a.Threadlets()
		for _, th := range ths {
			th.Stop()
		}
		var errs []error
		for _, th := range ths {
			if err := th.Join(c); err != nil && !errors.Is(err, threadlet.ErrNotStarted) {
				th.Cancel()
				errs = append(errs, fmt.Errorf("%s: %w", th.Name(), err))
			}
		}
		return errors.Join(errs...)
	})

	a.sup.Cancel()
	step("supervisor", 3*time.Second, a.sup.Wait)
	for _, r := range a.sup.Snapshot().Routines {
		a.log.Debug("routine", logx.String("name", r.Name), logx.Uint64("started", r.Started),
			logx.Uint64("panics", r.Panics), logx.Duration("last_runtime", r.LastRuntime))
	}
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	if n := a.bus.Dropped(); n > 0 {
		a.log.Debug("eventbus dropped deliveries", logx.Uint64("dropped", n))
	}
	if a.rec != nil && a.rec.Dropped() > 0 {
		a.log.Warn("run records dropped", logx.Uint64("dropped", a.rec.Dropped()))
	}
	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
