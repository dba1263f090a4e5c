// Package app wires the process together: config, logging, storage, the
// channel adapters, the dispatcher, the scheduler and the HTTP server.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"ensnotify/internal/config"
	"ensnotify/internal/dispatch"
	"ensnotify/internal/fetch"
	"ensnotify/internal/notify/discord"
	"ensnotify/internal/notify/mail"
	"ensnotify/internal/notify/telegram"
	"ensnotify/internal/scheduler"
	"ensnotify/internal/server"
	"ensnotify/internal/storage"
	"ensnotify/pkg/logx"
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	store      storage.Store
	dispatcher *dispatch.Service
	sched      *scheduler.Service
	srv        *server.Server

	runCancel context.CancelFunc
	bg        sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logConfig(cfg.Logging))
	mgr.SetLogger(log.With(logx.String("svc", "config")))

	busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	store, err := storage.Open(storage.Config{Path: cfg.Storage.Path, BusyTimeout: busyTimeout},
		log.With(logx.String("svc", "storage")))
	if err != nil {
		logSvc.Close()
		return nil, err
	}

	chat, err := telegram.New(cfg.Telegram.Token, log.With(logx.String("svc", "telegram")))
	if err != nil {
		_ = store.Close()
		logSvc.Close()
		return nil, err
	}
	mailer, err := mail.New(cfg.Mail, log.With(logx.String("svc", "mail")))
	if err != nil {
		_ = store.Close()
		logSvc.Close()
		return nil, err
	}
	webhook := discord.New(log.With(logx.String("svc", "discord")))

	fetchers := []fetch.Fetcher{
		fetch.NewOnChainFetcher(cfg.Sources.OnChain),
		fetch.NewOffChainFetcher(cfg.Sources.OffChain),
		fetch.NewCalendarFetcher(cfg.Sources.Calendar),
	}

	dispatchCfg, err := dispatchConfig(cfg.Dispatch)
	if err != nil {
		_ = store.Close()
		logSvc.Close()
		return nil, err
	}
	dispatcher := dispatch.New(dispatchCfg, targets(cfg), store, fetchers,
		chat, webhook, mailer, log.With(logx.String("svc", "dispatch")))

	sched := scheduler.New(schedulerConfig(cfg.Scheduler), log.With(logx.String("svc", "scheduler")))

	appCfg := cfg.App
	if appCfg.Listen == "" {
		appCfg.Listen = ":8000"
	}
	srv := server.New(appCfg, store, mailer, dispatcher, log.With(logx.String("svc", "http")))

	return &App{
		cfgMgr:     mgr,
		logSvc:     logSvc,
		log:        log,
		store:      store,
		dispatcher: dispatcher,
		sched:      sched,
		srv:        srv,
	}, nil
}

func logConfig(l config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   l.Level,
		Console: l.ConsoleEnabled(),
		File:    logx.FileConfig(l.File),
	}
}

func dispatchConfig(d config.DispatchConfig) (dispatch.Config, error) {
	sendTimeout, err := config.ParseDurationOrDefault("dispatch.send_timeout", d.SendTimeout, 20*time.Second)
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{
		Workers:     d.Workers,
		QueueSize:   d.QueueSize,
		RatePerSec:  d.RatePerSec,
		SendTimeout: sendTimeout,
	}, nil
}

func schedulerConfig(s config.SchedulerConfig) scheduler.Config {
	broadcastSpec := s.BroadcastSpec
	if broadcastSpec == "" {
		broadcastSpec = "@hourly"
	}
	digestSpec := s.DigestSpec
	if digestSpec == "" {
		digestSpec = "0 12 * * *"
	}
	return scheduler.Config{
		Enabled:       s.Enabled,
		BroadcastSpec: broadcastSpec,
		DigestSpec:    digestSpec,
		Timezone:      s.Timezone,
	}
}

func targets(cfg *config.Config) dispatch.Targets {
	return dispatch.Targets{
		TelegramChannels: cfg.Telegram.Channels,
		DiscordWebhooks:  cfg.Discord.Webhooks,
	}
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel

	sched := a.sched
	if err := sched.Register("broadcast", schedulerConfig(a.cfgMgr.Get().Scheduler).BroadcastSpec,
		a.dispatcher.RunBroadcastCycle); err != nil {
		return err
	}
	if err := sched.Register("digest", schedulerConfig(a.cfgMgr.Get().Scheduler).DigestSpec,
		a.dispatcher.RunDigestCycle); err != nil {
		return err
	}

	a.dispatcher.Start(runCtx)
	if err := sched.Start(runCtx); err != nil {
		return err
	}

	a.bg.Add(1)
	go func() {
		defer a.bg.Done()
		if err := a.srv.Start(); err != nil {
			a.log.Error("http server exited", logx.Err(err))
			cancel()
		}
	}()

	a.watchConfig(runCtx)
	a.notifySystemd(runCtx)

	a.log.Info("application started")
	return nil
}

// watchConfig applies the subset of config that can change at runtime:
// logging output, dispatch rate/targets.
func (a *App) watchConfig(ctx context.Context) {
	updates := a.cfgMgr.Subscribe(1)
	a.bg.Add(2)
	go func() {
		defer a.bg.Done()
		if err := a.cfgMgr.Watch(ctx); err != nil {
			a.log.Warn("config watch unavailable", logx.Err(err))
		}
	}()
	go func() {
		defer a.bg.Done()
		defer a.cfgMgr.Unsubscribe(updates)
		for {
			select {
			case <-ctx.Done():
				return
			case cfg, ok := <-updates:
				if !ok {
					return
				}
				a.logSvc.Apply(logConfig(cfg.Logging))
				dcfg, err := dispatchConfig(cfg.Dispatch)
				if err != nil {
					a.log.Warn("config reload skipped", logx.Err(err))
					continue
				}
				a.dispatcher.Apply(dcfg, targets(cfg))
				a.log.Info("config reloaded")
			}
		}
	}()
}

// notifySystemd reports readiness and feeds the watchdog when the process
// runs under systemd with Type=notify. Outside systemd both calls are
// no-ops.
func (a *App) notifySystemd(ctx context.Context) {
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("systemd notified ready")
	}

	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	a.bg.Add(1)
	go func() {
		defer a.bg.Done()
		ticker := time.NewTicker(interval / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	}()
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	if err := a.srv.Stop(ctx); err != nil {
		a.log.Warn("http shutdown error", logx.Err(err))
	}
	a.sched.Stop(ctx)
	a.dispatcher.Stop(ctx)

	if a.runCancel != nil {
		a.runCancel()
	}

	done := make(chan struct{})
	go func() {
		a.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	var firstErr error
	if err := a.store.Close(); err != nil {
		firstErr = fmt.Errorf("closing store: %w", err)
	}
	a.logSvc.Close()
	return firstErr
}
