package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mindfulbot/internal/bot"
	"mindfulbot/internal/config"
	"mindfulbot/internal/eventbus"
	"mindfulbot/internal/httpapi"
	"mindfulbot/internal/metrics"
	"mindfulbot/internal/notifier"
	"mindfulbot/internal/profiles"
	"mindfulbot/internal/reminder"
	"mindfulbot/internal/runtime/supervisor"
	"mindfulbot/internal/storage"
	"mindfulbot/internal/task/scheduler"
	"mindfulbot/internal/transport"
	"mindfulbot/internal/transport/telegram/router"
	logx "mindfulbot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	root  logx.Logger
	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter transport.Adapter

	rem     *reminder.Scheduler
	sched   *scheduler.Service
	notif   *notifier.Service
	metrics *metrics.Registry
	http    *httpapi.Server

	cmdm *router.Manager

	updates chan transport.Update
	notify  notifyFunc
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	ad, err := newTelegramAdapter(cfg, logx.NewConsole("INFO"))
	if err != nil {
		return nil, err
	}
	return newApp(cfgm, cfg, ad)
}

// newApp wires every component around an already-built adapter.
func newApp(cfgm *config.ConfigManager, cfg *config.Config, ad transport.Adapter) (*App, error) {
	logSvc, root := logx.New(mapLogConfig(cfg))
	log := root.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, root)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errStorageRequired
	}
	log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	defLoc := defaultLocation(cfg, log)

	notif := notifier.New(ncfg, ad, store, root, bus)
	notif.SetDefaultLocation(defLoc)

	reg := metrics.New(true)
	rem := reminder.New(profiles.NewSource(store), notif, newTracker(cfg, store),
		reminder.WithLogger(root),
		reminder.WithBus(bus),
		reminder.WithRecorder(reg),
		reminder.WithWorkers(cfg.Reminders.Workers),
		reminder.WithDefaultLocation(defLoc),
	)

	sched := scheduler.New(mapSchedulerConfig(cfg), root, bus)
	if err := sched.Add(tickJobName, cfg.Reminders.Schedule, tickTimeout, func(ctx context.Context) error {
		_, err := rem.Tick(ctx)
		return err
	}); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("reminders.schedule: %w", err)
	}

	cmdm := router.NewManager(root, ad, cfg.Telegram.OwnerUserIDs)
	conv := bot.New(store, rem, root)
	if c, err := reminder.ParseClock(cfg.Reminders.DefaultReminderTime); err == nil {
		conv.SetDefaultReminderTime(c.String())
	}
	conv.Register(cmdm)

	httpSrv := httpapi.New(mapHTTPConfig(cfg), rem, reg.Handler(), root)

	return &App{
		cfgm:    cfgm,
		root:    root,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		rem:     rem,
		sched:   sched,
		notif:   notif,
		metrics: reg,
		http:    httpSrv,
		cmdm:    cmdm,
		updates: make(chan transport.Update, 256),
		notify:  sdNotify,
	}, nil
}

// Reminders exposes the reminder scheduler for offline tooling.
func (a *App) Reminders() *reminder.Scheduler { return a.rem }

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

func (a *App) validate(_ context.Context, cfg *config.Config) error {
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := scheduler.ParseSchedule(cfg.Reminders.Schedule); err != nil {
		return fmt.Errorf("reminders.schedule: %w", err)
	}
	if _, err := reminder.ResolveLocation(cfg.Reminders.DefaultTimezone, time.UTC); err != nil {
		return fmt.Errorf("reminders.default_timezone: %w", err)
	}
	return nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	if a.cfgm != nil {
		a.cfgm.SetLogger(a.root.With(logx.String("comp", "config")))
		a.cfgm.SetValidator(a.validate)
	}

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	}
	if err := a.http.Start(a.sup.Context()); err != nil {
		return err
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	if a.bus != nil {
		auditEvents, auditUnsub := a.bus.Subscribe(256)
		a.sup.Go0("reminder.audit", func(c context.Context) {
			defer auditUnsub()
			runAudit(c, auditEvents, a.store, a.root.With(logx.String("comp", "audit")))
		})

		events, unsub := a.bus.Subscribe(128)
		a.sup.Go0("eventbus.log", func(c context.Context) {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					// Keep this debug-level; the tick fires every minute.
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				}
			}
		})
	}

	if a.cfgm != nil {
		sub := a.cfgm.Subscribe(8)
		a.sup.Go0("config.reload", func(c context.Context) {
			defer a.cfgm.Unsubscribe(sub)
			a.reloadLoop(c, sub)
		})
		a.sup.Go("config.watch", func(c context.Context) error {
			return a.cfgm.Watch(c)
		})
	}

	a.startSystemd(a.sup)

	a.log.Info("app started",
		logx.Bool("reminders", a.sched.Enabled()),
		logx.String("http", a.http.Addr()),
	)
	return nil
}

func (a *App) reloadLoop(c context.Context, sub chan *config.Config) {
	// Track last applied config to generate a safe diff summary for logx.
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(c, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(c context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if config.RestartRequired(sections) {
		a.log.Warn("telegram or storage config changed; restart required for changes to take effect")
	}

	a.logs.Apply(mapLogConfig(newCfg))
	a.cmdm.SetOwners(newCfg.Telegram.OwnerUserIDs)

	loc := defaultLocation(newCfg, a.log)
	a.rem.SetDefaultLocation(loc)
	a.notif.SetDefaultLocation(loc)

	if ncfg, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid delivery config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
	}

	prevEnabled := a.sched.Enabled()
	scfg := mapSchedulerConfig(newCfg)
	a.sched.Apply(scfg)
	switch {
	case prevEnabled && !scfg.Enabled:
		a.log.Info("reminders disabled via config")
		stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
	case !prevEnabled && scfg.Enabled:
		a.log.Info("reminders enabled via config")
		a.sched.Start(c)
	}

	if err := a.http.Reconfigure(c, mapHTTPConfig(newCfg)); err != nil {
		a.log.Warn("http reconfigure failed", logx.Err(err))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if a.notify != nil {
		a.notify(sdStopping)
	}

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		a.step(ctx, name, max, fn)
	}

	step("http", 2*time.Second, func(c context.Context) error { return a.http.Stop(c) })
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })

	// Wait for supervised goroutines (dispatcher, audit, config watch) before
	// the store they write to goes away.
	step("supervisor", 3*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	step("storage", 1*time.Second, func(c context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step with an upper bound so one component can't
// stall the whole stop. The caller's deadline is never extended.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

	stepCtx := ctx
	if max > 0 {
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = max0(rem)
			}
		}
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
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		// fn must honor stepCtx; if it doesn't, report the leak once it finishes.
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			err := <-done
			took := time.Since(start)
			if err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
			} else {
				a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
			}
		}()
	}
}

func max0(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
