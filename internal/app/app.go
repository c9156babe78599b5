package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"codegate/internal/access"
	"codegate/internal/cleanup"
	"codegate/internal/config"
	"codegate/internal/dispatch"
	"codegate/internal/eventbus"
	"codegate/internal/gate"
	"codegate/internal/runtime/supervisor"
	"codegate/internal/stats"
	"codegate/internal/storage"
	kit "codegate/internal/transport"
	telegram "codegate/internal/transport/telegram/adapter"
	"codegate/internal/transport/telegram/router"
	logx "codegate/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor
	runs *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter kit.Adapter
	state   *access.State
	janitor *cleanup.Janitor
	engine  *dispatch.Engine
	gate    *gate.Handler
	stats   *stats.Collector
	report  *stats.Reporter
	router  *router.Router

	updates chan kit.Update
}

// NewApp loads the config at cfgPath and wires the bot against Telegram.
func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.RequireCredentials(); err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram"))
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: cfg.Telegram.PollTimeoutOrDefault(),
	}, bootLog)
	if err != nil {
		return nil, err
	}
	return build(ctx, cfgm, cfg, ad, ad.Username())
}

// build wires every component around ad. botName is the bot's own handle,
// used to recognize commands addressed to other bots.
func build(ctx context.Context, cfgm *config.Manager, cfg *config.Config, ad kit.Adapter, botName string) (*App, error) {
	// Telegram logging starts disabled so Apply does not warn before the
	// target chat is known.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, log := logx.New(bootCfg, ad)
	logSvc.SetTelegramTarget(cfg.Telegram.LogChatID)
	logSvc.Apply(logCfg)
	log = log.With(logx.String("comp", "app"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	state, err := access.Open(ctx, store, cfg.Telegram.OwnerID, log.With(logx.String("comp", "access")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	bus := eventbus.New()
	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		state:   state,
		janitor: cleanup.New(cleanup.RealClock(), log.With(logx.String("comp", "cleanup"))),
		stats:   stats.NewCollector(),
		updates: make(chan kit.Update, 256),
	}

	a.engine = dispatch.New(ad, state.Settings(),
		dispatch.WithLogger(log.With(logx.String("comp", "dispatch"))),
		dispatch.WithBus(bus),
		dispatch.WithAudit(store),
		dispatch.WithSettings(mapDispatchSettings(cfg)),
	)
	a.gate = gate.NewHandler(
		gate.New(gate.FromState(state), botName),
		ad,
		a.janitor,
		gate.DispatchFunc(a.dispatch),
		gate.WithLogger(log.With(logx.String("comp", "gate"))),
		gate.WithBus(bus),
		gate.WithAudit(store),
		gate.WithWarningTTL(cfg.Gate.WarningTTLOrDefault()),
	)

	a.report = stats.NewReporter(a.stats, log.With(logx.String("comp", "stats")))
	if err := a.report.Apply(cfg.Stats.Schedule()); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("stats.report_cron: %w", err)
	}

	a.router = router.New(router.Deps{
		Adapter:     ad,
		State:       state,
		Gate:        a.gate,
		Stats:       a.stats,
		Audit:       store,
		Bus:         bus,
		BotUsername: botName,
	}, log.With(logx.String("comp", "router")))
	return a, nil
}

// dispatch runs an accepted request in the background. Runs are supervised
// apart from the app so a failing run never stops the bot.
func (a *App) dispatch(_ context.Context, rec gate.Record) {
	if a.runs == nil {
		a.log.Warn("dispatch before start; dropped", logx.Int64("chat_id", rec.ChatID))
		return
	}
	a.runs.Go0("dispatch.run", func(c context.Context) {
		a.engine.Run(c, dispatch.Request{
			ChatID:   rec.ChatID,
			Target:   rec.Target,
			Quantity: rec.Quantity,
			Account:  rec.Account,
		})
	})
}

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
	if err := stats.ValidateSchedule(cfg.Stats.Schedule()); err != nil {
		return fmt.Errorf("stats.report_cron: %w", err)
	}
	if cfg.Telegram.OwnerID == 0 {
		return errors.New("telegram.owner_id cannot be cleared at runtime")
	}
	return nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.runs = supervisor.New(a.sup.Context(),
		supervisor.WithLogger(a.log.With(logx.String("comp", "dispatch"))),
		supervisor.WithCancelOnError(false),
	)
	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
		a.cfgm.SetValidator(a.validate)
	}

	a.sup.Go0("stats.collect", func(c context.Context) { a.stats.Run(c, a.bus) })

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.report.Start()

	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
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
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	if a.cfgm != nil {
		sub := a.cfgm.Subscribe(8)
		a.sup.Go0("config.reload", func(c context.Context) {
			defer a.cfgm.Unsubscribe(sub)
			lastApplied := a.cfgm.Get()
			for {
				select {
				case <-c.Done():
					return
				case newCfg, ok := <-sub:
					if !ok {
						return
					}
					// keep only the latest queued config
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
					a.applyConfig(lastApplied, newCfg)
					lastApplied = newCfg
				}
			}
		})
		a.sup.Go("config.watch", func(c context.Context) error {
			return a.cfgm.Watch(c)
		})
	}

	a.log.Info("app started",
		logx.Int64("owner_id", a.state.Ledger().Owner()),
		logx.String("command", a.state.Settings().Command()),
	)
	return nil
}

// applyConfig pushes the hot-reloadable sections of newCfg into the running
// components. Telegram credentials and storage need a restart.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs, restart := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)
	if len(restart) > 0 {
		a.log.Warn("config change requires restart to take effect", logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.SetTelegramTarget(newCfg.Telegram.LogChatID)
	a.logs.Apply(mapLogConfig(newCfg))

	a.engine.Apply(mapDispatchSettings(newCfg))
	a.gate.SetWarningTTL(newCfg.Gate.WarningTTLOrDefault())
	if err := a.report.Apply(newCfg.Stats.Schedule()); err != nil {
		a.log.Warn("invalid stats schedule; keeping previous", logx.Err(err))
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded, Data: sections})
	a.log.Info("config reloaded", logx.String("changed", strings.Join(sections, ",")))
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	a.sup.Cancel()

	// step bounds one shutdown stage so a stuck component cannot stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = rem
				}
			}
			if max > 0 {
				var cancel context.CancelFunc
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
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
			)
		}
	}

	step("stats", time.Second, func(c context.Context) error { a.report.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("dispatch", 3*time.Second, func(c context.Context) error { return a.runs.Wait(c) })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	// pending warnings are deleted now rather than left in the chat
	step("cleanup", 3*time.Second, func(c context.Context) error { return a.janitor.Close(c) })
	step("storage", time.Second, func(c context.Context) error { return a.store.Close() })

	a.report.Report()
	a.log.Info("stopped")
	return a.logs.Close()
}
