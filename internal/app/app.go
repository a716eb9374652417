// Package app wires the services together: config, logging, storage, the
// chat gateway, the push engine with its registered sources, and the thin
// command bridge.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"kibot/internal/config"
	"kibot/internal/push"
	"kibot/internal/scheduler"
	"kibot/internal/source/bangumi"
	"kibot/internal/source/bilibili"
	"kibot/internal/source/rss"
	"kibot/internal/source/weather"
	"kibot/internal/storage"
	"kibot/internal/subs"
	"kibot/internal/transport"
	"kibot/internal/transport/telegram"
	"kibot/pkg/logx"
)

// Source kinds. The kind string is part of the persisted subscription keys,
// so renaming one orphans existing data.
const (
	KindFeed    = subs.Kind("feed")    // bilibili dynamics
	KindLive    = subs.Kind("live")    // bilibili live rooms
	KindRSS     = subs.Kind("rss")     // arbitrary RSS/Atom feeds
	KindSlate   = subs.Kind("slate")   // daily anime schedule
	KindWeather = subs.Kind("weather") // daily weather per city
)

type App struct {
	cfgPath string
	cfgm    *config.Manager

	logs *logx.Service
	log  logx.Logger

	store   storage.Store
	subs    *subs.Store
	adapter transport.Adapter
	disp    *push.Dispatcher
	sched   *scheduler.Service
	engine  *push.Engine
	weather *weather.Service

	updates chan transport.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		logs:    logs,
		log:     log,
		updates: make(chan transport.Update, 256),
	}
	if err := a.build(cfg); err != nil {
		logs.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	// Storage (optional; nil section means memory-only).
	scfg := storage.Config{Driver: "none"}
	if cfg.Storage != nil {
		busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
		if err != nil {
			return err
		}
		scfg = storage.Config{Driver: cfg.Storage.Driver, Path: cfg.Storage.Path, BusyTimeout: busy}
	}
	st, err := storage.Open(scfg, a.log.With(logx.String("comp", "storage")))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	a.store = st
	a.subs = subs.NewStore(st, a.log.With(logx.String("comp", "subs")))

	// Gateway.
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, a.log.With(logx.String("comp", "telegram")))
	if err != nil {
		return fmt.Errorf("telegram adapter: %w", err)
	}
	a.adapter = adapter

	// Delivery + scheduling + engine.
	pushCfg, err := resolvePush(cfg.Push)
	if err != nil {
		return err
	}
	a.disp = push.NewDispatcher(push.DispatcherConfig{
		RatePerSec:  pushCfg.ratePerSec,
		SendTimeout: pushCfg.sendTimeout,
	}, a.subs, a.adapter, a.log.With(logx.String("comp", "dispatch")))

	a.sched = scheduler.New(scheduler.Config{
		Workers:        pushCfg.workers,
		DefaultTimeout: 0,
		Timezone:       pushCfg.timezone,
	}, a.log.With(logx.String("comp", "scheduler")))

	a.engine = push.NewEngine(push.EngineConfig{
		FetchTimeout: pushCfg.fetchTimeout,
		MaxBacklog:   pushCfg.maxBacklog,
	}, a.subs, a.disp, a.sched, a.log.With(logx.String("comp", "push")))

	return a.registerSources(cfg, pushCfg)
}

func (a *App) registerSources(cfg *config.Config, pc pushSettings) error {
	biliTimeout, err := config.ParseDurationOrDefault("sources.bilibili.timeout", cfg.Sources.Bilibili.Timeout, 10*time.Second)
	if err != nil {
		return err
	}
	bili := bilibili.NewClient(bilibili.ClientConfig{
		Cookie:  cfg.Sources.Bilibili.Cookie,
		Timeout: biliTimeout,
	}, a.log.With(logx.String("comp", "bilibili")))
	a.engine.RegisterFeed(KindFeed, bilibili.NewFeedSource(bili), push.Schedule{Every: pc.feedInterval})
	a.engine.RegisterStatus(KindLive, bilibili.NewLiveSource(bili), push.Schedule{Every: pc.liveInterval})

	rssTimeout, err := config.ParseDurationOrDefault("sources.rss.timeout", cfg.Sources.RSS.Timeout, 15*time.Second)
	if err != nil {
		return err
	}
	a.engine.RegisterFeed(KindRSS, rss.New(rss.Config{Timeout: rssTimeout}), push.Schedule{Every: pc.rssInterval})

	a.engine.RegisterDaily(KindSlate, bangumi.New(bangumi.Config{}), push.Schedule{DailyAt: pc.slateTime})

	wTimeout, err := config.ParseDurationOrDefault("sources.weather.timeout", cfg.Sources.Weather.Timeout, 10*time.Second)
	if err != nil {
		return err
	}
	host := strings.TrimSpace(cfg.Sources.Weather.Host)
	if host == "" {
		host = "https://devapi.qweather.com"
	}
	a.weather = weather.New(weather.Config{
		Host:    host,
		Key:     cfg.Sources.Weather.Key,
		Timeout: wTimeout,
	}, a.log.With(logx.String("comp", "weather")))
	a.engine.RegisterDaily(KindWeather, a.weather, push.Schedule{DailyAt: pc.weatherTime})

	return nil
}

// Run blocks until ctx is canceled, then shuts the services down in reverse
// start order.
func (a *App) Run(ctx context.Context) error {
	defer a.logs.Close()

	if err := a.subs.Load(ctx); err != nil {
		return fmt.Errorf("load subscriptions: %w", err)
	}
	if err := a.adapter.Start(ctx, a.updates); err != nil {
		return fmt.Errorf("start gateway: %w", err)
	}
	if err := a.engine.Start(ctx); err != nil {
		return fmt.Errorf("start push engine: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.commandLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		a.watchConfig(ctx)
	}()

	a.log.Info("up and running")
	<-ctx.Done()
	a.log.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	a.engine.Stop(stopCtx)
	_ = a.adapter.Stop(stopCtx)
	wg.Wait()
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
	}
	return nil
}

// watchConfig applies hot-reloadable settings: log level/sinks and the
// dispatcher send rate. Everything else requires a restart.
func (a *App) watchConfig(ctx context.Context) {
	ch := a.cfgm.Subscribe(4)
	defer a.cfgm.Unsubscribe(ch)

	go func() { _ = a.cfgm.Watch(ctx) }()

	old := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-ch:
			if !ok || cfg == nil {
				return
			}
			changed, attrs := config.SummarizeChange(old, cfg)
			if len(changed) == 0 {
				continue
			}
			a.log.Info("config changed", append(attrs, logx.Any("sections", changed))...)

			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
			})
			if pc, err := resolvePush(cfg.Push); err == nil {
				a.disp.Apply(push.DispatcherConfig{RatePerSec: pc.ratePerSec, SendTimeout: pc.sendTimeout})
			} else {
				a.log.Warn("push config invalid; keeping previous", logx.Err(err))
			}
			old = cfg
		}
	}
}

// pushSettings is PushConfig with durations parsed and defaults applied.
type pushSettings struct {
	timezone     string
	feedInterval time.Duration
	liveInterval time.Duration
	rssInterval  time.Duration
	slateTime    string
	weatherTime  string
	maxBacklog   int
	ratePerSec   int
	sendTimeout  time.Duration
	fetchTimeout time.Duration
	workers      int
}

func resolvePush(pc config.PushConfig) (pushSettings, error) {
	out := pushSettings{
		timezone:    strings.TrimSpace(pc.Timezone),
		slateTime:   strings.TrimSpace(pc.SlateTime),
		weatherTime: strings.TrimSpace(pc.WeatherTime),
		maxBacklog:  pc.MaxBacklog,
		ratePerSec:  pc.RatePerSec,
		workers:     pc.Workers,
	}
	if out.timezone == "" {
		out.timezone = "Asia/Shanghai"
	}
	if out.slateTime == "" {
		out.slateTime = "08:00"
	}
	if out.weatherTime == "" {
		out.weatherTime = "07:30"
	}
	if out.maxBacklog <= 0 {
		out.maxBacklog = 10
	}
	if out.ratePerSec <= 0 {
		out.ratePerSec = 10
	}
	if out.workers <= 0 {
		out.workers = 2
	}
	if _, _, err := scheduler.ParseHHMM(out.slateTime); err != nil {
		return out, fmt.Errorf("push.slate_time: %w", err)
	}
	if _, _, err := scheduler.ParseHHMM(out.weatherTime); err != nil {
		return out, fmt.Errorf("push.weather_time: %w", err)
	}

	var err error
	if out.feedInterval, err = config.ParseDurationOrDefault("push.feed_interval", pc.FeedInterval, 30*time.Minute); err != nil {
		return out, err
	}
	if out.liveInterval, err = config.ParseDurationOrDefault("push.live_interval", pc.LiveInterval, 2*time.Minute); err != nil {
		return out, err
	}
	if out.rssInterval, err = config.ParseDurationOrDefault("push.rss_interval", pc.RSSInterval, 15*time.Minute); err != nil {
		return out, err
	}
	if out.sendTimeout, err = config.ParseDurationOrDefault("push.send_timeout", pc.SendTimeout, 30*time.Second); err != nil {
		return out, err
	}
	if out.fetchTimeout, err = config.ParseDurationOrDefault("push.fetch_timeout", pc.FetchTimeout, 20*time.Second); err != nil {
		return out, err
	}
	return out, nil
}
