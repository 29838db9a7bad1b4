// Package app wires the relay together: config, transport driver, pipeline, transfer
// machine, history storage and the observability endpoints.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wristrelay/internal/config"
	"wristrelay/internal/eventbus"
	"wristrelay/internal/notification"
	"wristrelay/internal/observability/debug"
	"wristrelay/internal/observability/metrics"
	"wristrelay/internal/pipeline"
	"wristrelay/internal/ratelimit"
	"wristrelay/internal/registry"
	rtsup "wristrelay/internal/runtime/supervisor"
	"wristrelay/internal/settings"
	"wristrelay/internal/storage"
	"wristrelay/internal/transfer"
	"wristrelay/internal/transport"
	logx "wristrelay/pkg/logx"
	"wristrelay/pkg/systemd"
)

type App struct {
	opts options

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	retention *storage.Retention
	settings  *settings.Store
	registry  *registry.Registry
	limiter   *ratelimit.Limiter

	driver     transport.Driver
	machine    *transfer.Machine
	dispatcher *transfer.Dispatcher
	forwarder  *pipeline.Forwarder

	metrics *metrics.Metrics
	debug   *debug.Server

	updates   chan transport.Update
	startedAt time.Time
}

type options struct {
	env       config.EnvOverrides
	forceLoop bool
	noWatch   bool
	logger    *logx.Logger
}

type Option func(*options)

// WithEnv applies environment overrides on top of every parsed config.
func WithEnv(o config.EnvOverrides) Option { return func(opts *options) { opts.env = o } }

// WithLoopDriver replaces the configured transport with the in-process loop driver.
func WithLoopDriver() Option { return func(opts *options) { opts.forceLoop = true } }

// WithoutWatch disables config hot reload.
func WithoutWatch() Option { return func(opts *options) { opts.noWatch = true } }

// WithLogger logs through log instead of a service built from the logging section.
// Logging config reloads are then ignored.
func WithLogger(log logx.Logger) Option { return func(opts *options) { opts.logger = &log } }

func New(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewManager(cfgPath)
	cfgm.SetEnv(o.env)
	cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })
	cfg, err := cfgm.Load(context.Background())
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	var (
		logSvc *logx.Service
		root   logx.Logger
	)
	if o.logger != nil {
		root = *o.logger
	} else {
		logSvc, root = logx.New(logConfig(cfg))
	}
	log := root.With(logx.String("comp", "app"))
	cfgm.SetLogger(root.With(logx.String("comp", "config")))

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := StorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, root)
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	driver, err := buildDriver(cfg, o.forceLoop, root)
	if err != nil {
		closeStore(store)
		return nil, err
	}

	st := settings.NewStore(cfg.Relay.Settings(), root.With(logx.String("comp", "settings")))
	reg := registry.New(registry.WithCapacity(cfg.Registry.Capacity))
	lim := ratelimit.New()

	machine := transfer.NewMachine(driver, lim,
		transfer.WithBus(bus),
		transfer.WithLogger(root.With(logx.String("comp", "transfer"))))
	driver.Pump().Bind(machine)
	dispatcher := transfer.NewDispatcher(reg, machine, driver, driver, root.With(logx.String("comp", "dispatch")))

	deps := pipeline.Deps{
		Settings:   st,
		Registry:   reg,
		Limiter:    lim,
		Dispatcher: dispatcher,
		Host:       driver,
		Link:       driver,
		Dismisser:  driver,
		Invoker:    driver,
		Bus:        bus,
		Log:        root.With(logx.String("comp", "pipeline")),
	}
	if store != nil {
		deps.History = store
	}

	m, err := metrics.New()
	if err != nil {
		closeStore(store)
		return nil, err
	}
	gauges := []struct {
		name, help string
		fn         func() float64
	}{
		{"registry_size", "Notifications held in the sent registry.", func() float64 { return float64(reg.Len()) }},
		{"packets_sent_total", "Packets handed to the transport.", func() float64 { return float64(driver.Pump().Sent()) }},
		{"watch_connected", "1 while the watch is reachable.", func() float64 { return boolGauge(driver.Connected()) }},
	}
	for _, g := range gauges {
		if err := m.GaugeFunc(g.name, g.help, g.fn); err != nil {
			closeStore(store)
			return nil, err
		}
	}

	a := &App{
		opts:       o,
		cfgm:       cfgm,
		log:        log,
		logs:       logSvc,
		bus:        bus,
		store:      store,
		retention:  storage.NewRetention(store, root),
		settings:   st,
		registry:   reg,
		limiter:    lim,
		driver:     driver,
		machine:    machine,
		dispatcher: dispatcher,
		forwarder:  pipeline.NewForwarder(deps),
		metrics:    m,
		updates:    make(chan transport.Update, 256),
	}
	a.debug = debug.New(root, m.Registry(), func() any { return a.Status() })
	return a, nil
}

// validate is the full config check run before every commit, including hot reloads.
func validate(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if _, _, err := StorageConfig(cfg); err != nil {
		return err
	}
	if _, err := retentionConfig(cfg); err != nil {
		return err
	}
	_, err := debugConfig(cfg)
	return err
}

func closeStore(s storage.Store) {
	if s != nil {
		_ = s.Close()
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func (a *App) Driver() transport.Driver { return a.driver }

func (a *App) Bus() eventbus.Bus { return a.bus }

// Store is the history store, nil when storage is disabled.
func (a *App) Store() storage.Store { return a.store }

// Done is closed when the supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.startedAt = time.Now()
	cfg := a.cfgm.Get()

	if err := a.driver.Start(a.sup.Context(), a.updates); err != nil {
		a.sup.Cancel()
		return fmt.Errorf("start transport: %w", err)
	}
	a.sup.Go("transport.pump", a.driver.Pump().Run)
	a.sup.Go("relay.consume", a.consume)
	a.sup.Go("metrics", func(c context.Context) error { return a.metrics.Run(c, a.bus) })
	a.sup.Go("eventbus.log", a.logEvents)

	rc, err := retentionConfig(cfg)
	if err == nil {
		err = a.retention.Apply(rc)
	}
	if err != nil {
		a.sup.Cancel()
		return err
	}
	dc, err := debugConfig(cfg)
	if err != nil {
		a.sup.Cancel()
		return err
	}
	a.debug.Reconfigure(a.sup.Context(), dc)

	if !a.opts.noWatch {
		sub := a.cfgm.Subscribe(8)
		a.sup.Go("config.reload", func(c context.Context) error {
			a.reloadLoop(c, sub)
			return nil
		})
		a.sup.Go("config.watch", a.cfgm.Watch)
	}

	if _, err := systemd.Ready("relaying"); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	}
	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		if err := systemd.Watchdog(c, a.log); err != nil {
			a.log.Warn("systemd watchdog disabled", logx.Err(err))
		}
		return nil
	})

	a.log.Info("relay started",
		logx.String("transport", transportName(a.driver)),
		logx.Bool("history", a.store != nil))
	return nil
}

// consume feeds driver updates into the pipeline until ctx is done.
func (a *App) consume(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case u := <-a.updates:
			a.handle(ctx, u)
		}
	}
}

func (a *App) handle(ctx context.Context, u transport.Update) {
	switch u.Kind {
	case transport.UpdateNotification:
		if u.Notification == nil {
			return
		}
		out := a.forwarder.Process(ctx, u.Notification)
		a.log.Debug("notification processed",
			logx.String("app", u.Notification.Key.Package),
			logx.String("status", out.Status.String()),
			logx.String("reason", out.Reason),
			logx.Int32("id", out.ID))
	case transport.UpdateAction:
		if u.Action == nil {
			return
		}
		if err := a.forwarder.HandleAction(u.Action.ID, u.Action.Index); err != nil {
			level := a.log.Warn
			if errors.Is(err, pipeline.ErrUnknownNotification) {
				// The registry evicted it; the watch still shows a stale menu.
				level = a.log.Debug
			}
			level("action failed", logx.Int32("id", u.Action.ID), logx.Int("index", u.Action.Index), logx.Err(err))
		}
	case transport.UpdateOpened:
		// The driver already reset its pump.
		a.log.Debug("companion app reopened")
	case transport.UpdateRemoved:
		if u.Removed == nil {
			return
		}
		ids := a.forwarder.Withdraw(*u.Removed)
		a.log.Debug("notification removed upstream",
			logx.String("key", u.Removed.String()),
			logx.Int("withdrawn", len(ids)))
	default:
		a.log.Debug("ignoring update", logx.String("kind", string(u.Kind)))
	}
}

func (a *App) logEvents(ctx context.Context) error {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			a.log.Trace("event", logx.String("type", e.Type), logx.Any("data", e.Data))
		}
	}
}

// Process runs src through the pipeline directly, bypassing the transport's inbound side.
func (a *App) Process(ctx context.Context, src *notification.Source) pipeline.Outcome {
	return a.forwarder.Process(ctx, src)
}

// Idle reports whether no transfer is queued, running or awaiting an ack.
func (a *App) Idle() bool {
	return !a.machine.Busy() && !a.driver.Pump().InFlight()
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := systemd.Stopping(); err != nil {
		a.log.Debug("systemd notify failed", logx.Err(err))
	}

	a.sup.Cancel()

	// step bounds one shutdown stage so a stuck component cannot stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if dl, ok := ctx.Deadline(); ok {
			max = min(max, time.Until(dl))
		}
		if max > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

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
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
				logx.Err(stepCtx.Err()))
		}
	}

	step("debug", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	step("retention", time.Second, func(context.Context) error { a.retention.Stop(); return nil })
	step("transport", 2*time.Second, a.driver.Stop)
	step("pipeline", 2*time.Second, func(context.Context) error { a.forwarder.Close(); return nil })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped", logx.Duration("uptime", time.Since(a.startedAt)))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
