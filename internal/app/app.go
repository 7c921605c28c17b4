// Package app wires configuration, storage, the Telegram adapter and the
// round services into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"berealbot/internal/broadcast"
	"berealbot/internal/config"
	"berealbot/internal/cycle"
	"berealbot/internal/dispatch"
	"berealbot/internal/distribute"
	"berealbot/internal/eventbus"
	"berealbot/internal/maintenance"
	"berealbot/internal/registry"
	rtsup "berealbot/internal/runtime/supervisor"
	"berealbot/internal/storage"
	"berealbot/internal/transport"
	"berealbot/internal/transport/telegram/adapter"
	"berealbot/internal/transport/telegram/router"
	"berealbot/pkg/logx"
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	bus     eventbus.Bus
	store   storage.SnapshotStore
	reg     *registry.Registry
	adapter *adapter.Adapter
	disp    *dispatch.Dispatcher
	dist    *distribute.Distributor
	cyc     *cycle.Service
	bcast   *broadcast.Service
	maint   *maintenance.Service
	router  *router.Router

	sup     *rtsup.Supervisor
	updates chan transport.Update
	started bool
}

// New loads and validates the config at path and builds the full component
// graph. Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	mgr.SetLogger(log.With(logx.String("comp", "config")))
	mgr.SetValidator(func(_ context.Context, c *config.Config) error {
		return config.Validate(c)
	})

	a := &App{cfgMgr: mgr, logSvc: logSvc, log: log}

	if err := a.build(cfg); err != nil {
		logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	log := a.log

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return err
	}
	busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		return err
	}
	window, err := config.ParseDurationOrDefault("cycle.window", cfg.Cycle.Window, 30*time.Minute)
	if err != nil {
		return err
	}
	grace, err := config.ParseDurationOrDefault("cycle.grace", cfg.Cycle.Grace, window/3)
	if err != nil {
		return err
	}
	loc := time.Local
	if cfg.Cycle.Timezone != "" {
		if loc, err = time.LoadLocation(cfg.Cycle.Timezone); err != nil {
			return fmt.Errorf("cycle.timezone: %w", err)
		}
	}

	ad, err := adapter.New(adapter.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return fmt.Errorf("telegram adapter: %w", err)
	}
	a.adapter = ad

	a.bus = eventbus.New()

	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	a.store = store

	reg, err := registry.Open(context.Background(), store, log.With(logx.String("comp", "registry")),
		registry.WithBus(a.bus),
		registry.WithFatalHook(a.fatal),
	)
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}
	a.reg = reg

	a.disp = dispatch.New(ad, reg, cfg.Dispatch.RatePerSec, log.With(logx.String("comp", "dispatch")))
	a.dist = distribute.New(reg, ad, a.disp, log.With(logx.String("comp", "distribute")))

	a.cyc = cycle.New(cycle.Config{
		BeginHour: cfg.Cycle.BeginHour,
		EndHour:   cfg.Cycle.EndHour,
		Window:    window,
		Grace:     grace,
		Location:  loc,
	}, reg, a.disp, a.dist, a.bus, log.With(logx.String("comp", "cycle")))

	a.bcast = broadcast.New(reg, a.disp, log.With(logx.String("comp", "broadcast")))

	if mc := cfg.Maintenance; mc != nil && mc.Enabled {
		staleAfter, err := config.ParseDurationOrDefault("maintenance.stale_after", mc.StaleAfter, 0)
		if err != nil {
			return err
		}
		snapshotPath := ""
		if cfg.Storage.Driver == "file" {
			snapshotPath = cfg.Storage.Path
		}
		a.maint = maintenance.New(maintenance.Config{
			Enabled:      true,
			Schedule:     mc.Schedule,
			SnapshotPath: snapshotPath,
			BackupDir:    mc.BackupDir,
			Keep:         mc.Keep,
			StaleAfter:   staleAfter,
		}, reg, log.With(logx.String("comp", "maintenance")))
	}

	a.router = router.New(reg, a.cyc, a.disp, a.bcast, cfg.Telegram.OwnerUserIDs,
		log.With(logx.String("comp", "router")))
	return nil
}

// fatal routes persistence failures raised outside supervised functions
// (e.g. the dispatcher's self-heal path) into the supervisor so the whole
// process shuts down rather than drifting from its snapshot.
func (a *App) fatal(err error) {
	if sup := a.sup; sup != nil {
		sup.Fail(err)
		return
	}
	// Not started yet; surface at the next Start.
	a.log.Error("fatal error before start", logx.Err(err))
}

func (a *App) Start(ctx context.Context) error {
	if a.started {
		return errors.New("app already started")
	}
	a.started = true

	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		rtsup.WithCancelOnError(true),
	)
	sup := a.sup

	a.updates = make(chan transport.Update, 256)
	if err := a.adapter.Start(sup.Context(), a.updates); err != nil {
		return fmt.Errorf("start telegram adapter: %w", err)
	}

	sup.Go("cycle.run", a.cyc.Run)
	sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	events, unsubscribe := a.bus.Subscribe(64)
	sup.Go0("eventbus.log", func(c context.Context) {
		defer unsubscribe()
		for {
			select {
			case <-c.Done():
				return
			case ev := <-events:
				a.log.Debug("event", logx.String("type", ev.Type), logx.Any("data", ev.Data))
			}
		}
	})

	cfgCh := a.cfgMgr.Subscribe(4)
	sup.Go0("config.apply", func(c context.Context) {
		defer a.cfgMgr.Unsubscribe(cfgCh)
		a.applyLoop(c, cfgCh)
	})
	sup.Go("config.watch", a.cfgMgr.Watch)

	if a.maint != nil {
		if err := a.maint.Start(sup.Context()); err != nil {
			a.log.Warn("maintenance start failed", logx.Err(err))
		}
	}

	a.log.Info("started")
	return nil
}

// applyLoop applies hot-reloadable config changes. Only logging is live;
// everything else is captured at build time and needs a restart.
func (a *App) applyLoop(ctx context.Context, ch <-chan *config.Config) {
	prev := a.cfgMgr.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-ch:
			if !ok {
				return
			}
			a.logSvc.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			if prev != nil {
				if !reflect.DeepEqual(cfg.Telegram, prev.Telegram) {
					a.log.Warn("telegram config changed; restart required to apply")
				}
				if cfg.Cycle != prev.Cycle {
					a.log.Warn("cycle config changed; restart required to apply")
				}
				if cfg.Storage != prev.Storage {
					a.log.Warn("storage config changed; restart required to apply")
				}
			}
			prev = cfg
			a.log.Info("config reloaded")
		}
	}
}

// Wait blocks until the supervisor winds down, returning its first error.
func (a *App) Wait(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-a.sup.Context().Done():
	}
	if err := a.sup.Err(); err != nil {
		return err
	}
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	var firstErr error
	step := func(name string, fn func() error) {
		if err := fn(); err != nil {
			a.log.Warn("shutdown step failed", logx.String("step", name), logx.Err(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if a.sup != nil {
		a.sup.Cancel()
	}
	if a.maint != nil {
		step("maintenance", func() error { a.maint.Stop(ctx); return nil })
	}
	step("telegram", func() error { return a.adapter.Stop(ctx) })
	if a.sup != nil {
		step("supervisor", func() error {
			err := a.sup.Wait(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	if a.store != nil {
		step("storage", func() error { return a.store.Close() })
	}
	a.log.Info("stopped")
	step("logging", func() error { return a.logSvc.Close() })
	return firstErr
}
