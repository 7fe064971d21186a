// Package app assembles the bot: config, logging, storage, the Telegram
// adapter and the services behind it. It owns startup order, config hot
// reload fan-out and graceful shutdown.
package app

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"kinobot/internal/broadcast"
	"kinobot/internal/config"
	"kinobot/internal/content"
	"kinobot/internal/gate"
	"kinobot/internal/maintenance"
	"kinobot/internal/storage"
	kit "kinobot/internal/transport"
	telegram "kinobot/internal/transport/telegram/adapter"
	"kinobot/internal/transport/telegram/router"
	logx "kinobot/pkg/logx"
)

// TokenEnv is the fallback environment variable for the bot token when
// telegram.token is absent from the config file.
const TokenEnv = "KINOBOT_TOKEN"

type App struct {
	cfgm *config.Manager

	log  logx.Logger
	logs *logx.Service

	store   storage.Store
	adapter kit.Adapter

	quota     *gate.Quota
	sub       *gate.Gate
	resolver  *content.Resolver
	deliverer *content.Deliverer
	bcast     *broadcast.Service
	sessions  *router.SessionStore
	router    *router.Router
	maint     *maintenance.Service

	updates chan kit.Update

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	token := strings.TrimSpace(cfg.Telegram.Token)
	if token == "" {
		token = strings.TrimSpace(os.Getenv(TokenEnv))
	}
	if token == "" {
		logSvc.Close()
		return nil, errors.New("bot token missing: set telegram.token or " + TokenEnv)
	}

	pollTimeout, err := cfg.Telegram.PollTimeoutDuration()
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		logSvc.Close()
		return nil, err
	}

	busyTimeout, err := cfg.Storage.BusyTimeoutDuration()
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		logSvc.Close()
		return nil, err
	}

	quota := gate.NewQuota(store, cfg.Quota.DailyLimit, log.With(logx.String("comp", "quota")))
	sub := gate.New(ad, cfg.Telegram.RequiredChannels, log.With(logx.String("comp", "gate")))
	resolver := content.NewResolver(store, log.With(logx.String("comp", "content")))
	deliverer := content.NewDeliverer(ad, store, log.With(logx.String("comp", "delivery")))

	bcfg, err := mapBroadcastConfig(cfg)
	if err != nil {
		_ = store.Close()
		logSvc.Close()
		return nil, err
	}
	bcast := broadcast.New(ad, store, bcfg, log.With(logx.String("comp", "broadcast")))

	ttl, err := cfg.Session.TTLDuration()
	if err != nil {
		_ = store.Close()
		logSvc.Close()
		return nil, err
	}
	sessions := router.NewSessionStore(ttl)

	rt := router.New(router.Deps{
		Adapter:   ad,
		Store:     store,
		Quota:     quota,
		Gate:      sub,
		Resolver:  resolver,
		Deliverer: deliverer,
		Broadcast: bcast,
		Sessions:  sessions,
		Admins:    cfg.Telegram.AdminUserIDs,
		Logger:    log.With(logx.String("comp", "router")),
	})

	maint := maintenance.New(ad, store, sessions, maintenance.Config{
		Enabled:    cfg.Maintenance.Enabled,
		DigestCron: cfg.Maintenance.DigestCron,
		Timezone:   cfg.Maintenance.Timezone,
	}, cfg.Telegram.AdminUserIDs, log.With(logx.String("comp", "maintenance")))

	return &App{
		cfgm:      cfgm,
		log:       log,
		logs:      logSvc,
		store:     store,
		adapter:   ad,
		quota:     quota,
		sub:       sub,
		resolver:  resolver,
		deliverer: deliverer,
		bcast:     bcast,
		sessions:  sessions,
		router:    rt,
		maint:     maint,
		updates:   make(chan kit.Update, 256),
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := config.Validate(cfg); err != nil {
			return err
		}
		if tz := strings.TrimSpace(cfg.Maintenance.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return err
			}
		}
		return nil
	})

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		cancel()
		return err
	}

	if menu, ok := a.adapter.(kit.CommandMenuUpdater); ok {
		if err := menu.UpdateMenuCommands(runCtx, router.MenuCommands()); err != nil {
			a.log.Warn("command menu update failed", logx.Err(err))
		}
	}

	if err := a.maint.Start(runCtx); err != nil {
		cancel()
		return err
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.router.DispatchLoop(runCtx, a.updates)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.cfgm.Watch(runCtx)
	}()

	sub := a.cfgm.Subscribe(8)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(runCtx, sub)
	}()

	a.log.Info("app started")
	return nil
}

// reloadLoop applies hot-reloadable config sections as they are published.
// Storage settings are not hot-reloadable; a change there logs a warning.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			sections, attrs := config.SummarizeChange(lastApplied, newCfg)
			lastApplied = newCfg
			if len(sections) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				continue
			}

			for _, s := range sections {
				if s == "storage" {
					a.log.Warn("storage config changed; restart required for changes to take effect")
					break
				}
			}

			a.logs.Apply(logx.Config{
				Level:   newCfg.Logging.Level,
				Console: newCfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: newCfg.Logging.File.Enabled,
					Path:    newCfg.Logging.File.Path,
				},
			})

			a.quota.SetLimit(newCfg.Quota.DailyLimit)
			a.sub.SetChannels(newCfg.Telegram.RequiredChannels)
			a.router.SetAdmins(newCfg.Telegram.AdminUserIDs)
			a.maint.SetAdmins(newCfg.Telegram.AdminUserIDs)

			if ttl, err := newCfg.Session.TTLDuration(); err == nil {
				a.sessions.SetTTL(ttl)
			}

			if bcfg, err := mapBroadcastConfig(newCfg); err != nil {
				a.log.Warn("invalid broadcast config; keeping previous", logx.Err(err))
			} else {
				a.bcast.Apply(bcfg)
			}

			if err := a.maint.Apply(ctx, maintenance.Config{
				Enabled:    newCfg.Maintenance.Enabled,
				DigestCron: newCfg.Maintenance.DigestCron,
				Timezone:   newCfg.Maintenance.Timezone,
			}); err != nil {
				a.log.Warn("invalid maintenance config; keeping previous", logx.Err(err))
			}

			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Info("config reloaded", fields...)
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	if a.cancel == nil {
		return nil
	}
	a.log.Info("stopping")
	a.cancel()

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.adapter.Stop(stopCtx); err != nil {
		a.log.Warn("adapter stop error", logx.Err(err))
	}

	a.maint.Stop()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-stopCtx.Done():
		a.log.Warn("shutdown deadline reached; some goroutines may still be unwinding")
	}

	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close error", logx.Err(err))
	}

	a.log.Info("stopped")
	a.logs.Close()
	return nil
}

func mapBroadcastConfig(cfg *config.Config) (broadcast.Config, error) {
	sendTimeout, err := cfg.Broadcast.SendTimeoutDuration()
	if err != nil {
		return broadcast.Config{}, err
	}
	return broadcast.Config{
		Workers:       cfg.Broadcast.Workers,
		RatePerSec:    cfg.Broadcast.RatePerSec,
		SendTimeout:   sendTimeout,
		ProgressEvery: cfg.Broadcast.ProgressEvery,
	}, nil
}
