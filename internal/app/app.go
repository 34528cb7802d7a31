package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"hansbot/internal/commands"
	"hansbot/internal/config"
	"hansbot/internal/delivery"
	"hansbot/internal/eventbus"
	"hansbot/internal/events"
	"hansbot/internal/guild"
	"hansbot/internal/runtime/supervisor"
	"hansbot/internal/standup"
	"hansbot/internal/storage"
	"hansbot/internal/vault"
	logx "hansbot/pkg/logx"
)

// ErrNoEventSource is returned by the default subscriber fetcher when the
// host did not wire the chat platform's event API.
var ErrNoEventSource = errors.New("no scheduled event source configured")

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store    storage.Store
	guilds   *guild.Store
	sched    *standup.Scheduler
	runner   *standup.Runner
	pool     *delivery.Pool
	resolver *events.Resolver
	cmds     *commands.Handler

	schedEnabled bool
}

type Option func(*options)

type options struct {
	fetcher   events.SubscriberFetcher
	deliverer delivery.Deliverer
}

// WithSubscriberFetcher wires the chat platform's event subscriber lookup.
func WithSubscriberFetcher(f events.SubscriberFetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithDeliverer overrides the deliverer picked from delivery.driver.
func WithDeliverer(d delivery.Deliverer) Option {
	return func(o *options) { o.deliverer = d }
}

// New loads the config file at cfgPath and builds every component.
func New(cfgPath string, opts ...Option) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return build(cfgm, cfg, opts...)
}

func build(cfgm *config.ConfigManager, cfg *config.Config, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	logSvc, log := logx.New(cfg.Logging.ToLogx())
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(logSvc.Logger().With(logx.String("comp", "config")))

	sc, err := cfg.Storage.ToStorage()
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, logSvc.Logger().With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))

	var v *vault.Vault
	if key := cfg.Vault.ResolveKey(); key != "" {
		if v, err = vault.New(key); err != nil {
			_ = store.Close()
			return nil, err
		}
	} else {
		log.Warn("vault key not set; credential commands are disabled", logx.String("env", cfg.Vault.KeyEnv))
	}

	loc, err := cfg.Scheduler.Location()
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	bus := eventbus.New()
	guilds := guild.NewStore(store, v, logSvc.Logger().With(logx.String("comp", "guild")))
	sched := standup.New(store,
		standup.WithLogger(logSvc.Logger().With(logx.String("comp", "standup"))),
		standup.WithLocation(loc),
	)
	guilds.OnChange(sched.HandleChange)
	guilds.OnChange(func(_ context.Context, c guild.Change) {
		typ := eventbus.TypeGuildChanged
		if c.Deleted {
			typ = eventbus.TypeGuildRemoved
		}
		bus.Publish(eventbus.Event{Type: typ, TenantID: c.TenantID, Data: c.Plugin.String()})
	})

	d := o.deliverer
	if d == nil {
		if d, err = newDeliverer(cfg.Delivery, logSvc.Logger().With(logx.String("comp", "delivery"))); err != nil {
			_ = store.Close()
			return nil, err
		}
	}
	timeout, err := config.ParseDurationOrDefault("delivery.timeout", cfg.Delivery.Timeout, 10*time.Second)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	pool := delivery.NewPool(d, delivery.PoolConfig{
		Workers:    cfg.Delivery.Workers,
		RatePerSec: cfg.Delivery.RatePerSec,
		Timeout:    timeout,
	}, logSvc.Logger().With(logx.String("comp", "delivery")))

	runner := standup.NewRunner(sched, firedDispatcher{pool: pool, bus: bus}, cfg.Scheduler.Spec,
		logSvc.Logger().With(logx.String("comp", "standup.runner")))

	fetcher := o.fetcher
	if fetcher == nil {
		fetcher = events.SubscriberFetcherFunc(func(context.Context, string, string) ([]string, error) {
			return nil, ErrNoEventSource
		})
	}
	resolver := events.NewResolver(fetcher, cfg.Events.FetchConcurrency, logSvc.Logger().With(logx.String("comp", "events")))
	cmds := commands.New(guilds, store, resolver, logSvc.Logger().With(logx.String("comp", "commands")))

	return &App{
		cfgm:         cfgm,
		log:          log,
		logs:         logSvc,
		bus:          bus,
		store:        store,
		guilds:       guilds,
		sched:        sched,
		runner:       runner,
		pool:         pool,
		resolver:     resolver,
		cmds:         cmds,
		schedEnabled: cfg.Scheduler.Enabled,
	}, nil
}

func newDeliverer(cfg config.DeliveryConfig, log logx.Logger) (delivery.Deliverer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "log":
		return delivery.LogDeliverer{Log: log}, nil
	case "telegram":
		timeout, err := config.ParseDurationOrDefault("delivery.timeout", cfg.Timeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		return delivery.NewTelegram(cfg.ResolveToken(), timeout)
	default:
		return nil, fmt.Errorf("unknown delivery.driver: %s", cfg.Driver)
	}
}

// firedDispatcher announces fired standups on the bus and hands them to the pool.
type firedDispatcher struct {
	pool *delivery.Pool
	bus  eventbus.Bus
}

func (f firedDispatcher) Dispatch(ctx context.Context, m delivery.OutboundMessage) {
	f.bus.Publish(eventbus.Event{Type: eventbus.TypeStandupFired, TenantID: m.TenantID, Data: m.ChannelID})
	f.pool.Dispatch(ctx, m)
}

// Commands returns the configuration command handler. The host chat transport
// calls it; this binary only wires it.
func (a *App) Commands() *commands.Handler { return a.cmds }

func (a *App) Guilds() *guild.Store { return a.guilds }

func (a *App) Scheduler() *standup.Scheduler { return a.sched }

func (a *App) Bus() eventbus.Bus { return a.bus }

// Done is closed when the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start restores standup jobs, starts the tick driver and the config watcher.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	run := a.sup.Context()

	n, err := a.sched.Load(run)
	if err != nil {
		return err
	}
	if a.schedEnabled {
		if err := a.runner.Start(run); err != nil {
			return err
		}
	} else {
		a.log.Warn("standup scheduler disabled by config", logx.Int("jobs", n))
	}

	feed, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-feed:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.String("tenant", e.TenantID), logx.Any("data", e.Data))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case next, ok := <-sub:
				if !ok {
					return nil
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})
	a.sup.GoRestart("config.watch", 250*time.Millisecond, 5*time.Second, func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.Int("jobs", n),
		logx.Bool("scheduler", a.schedEnabled),
		logx.String("tz", a.sched.Location().String()),
	)
	return nil
}

// applyConfig applies what can change at runtime; everything else waits for
// a restart.
func (a *App) applyConfig(prev, next *config.Config) {
	sections, fields := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	a.log.Info("config changed", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, fields...)...)
	a.logs.Apply(next.Logging.ToLogx())
	if config.RequiresRestart(sections) {
		a.log.Warn("config change needs a restart to take effect", logx.Strings("sections", sections))
	}
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigApplied, Data: sections})
}

// Stop shuts components down in dependency order, each step bounded so one
// stuck component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if a.sup != nil {
		a.sup.Cancel()
	}

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
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
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// The runner goes first so nothing new reaches the pool.
	step("standup.runner", 2*time.Second, func(c context.Context) error { a.runner.Stop(c); return nil })
	step("delivery", 5*time.Second, func(context.Context) error { a.pool.Stop(); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error {
		if a.sup == nil {
			return nil
		}
		return a.sup.Wait(c)
	})
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	st := a.pool.Stats()
	a.log.Info("stopped", logx.Any("delivery", st))
	return a.logs.Close()
}
