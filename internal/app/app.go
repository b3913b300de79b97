// Package app wires configuration, logging, storage, the Telegram adapter
// and the update loop into one lifecycle.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"gatebot/internal/approval"
	"gatebot/internal/bot"
	"gatebot/internal/broadcast"
	"gatebot/internal/config"
	"gatebot/internal/digest"
	"gatebot/internal/store"
	kit "gatebot/internal/transport"
	"gatebot/internal/transport/telegram"
	"gatebot/pkg/logx"
)

const updateQueueSize = 256

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	adapter *telegram.Adapter
	db      *store.Store
	bot     *bot.Bot
	digest  *digest.Service

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, rootLog := logx.New(loggingConfig(cfg))
	mgr.SetLogger(rootLog.With(logx.String("comp", "config")))

	pollTimeout, _ := cfg.Telegram.PollDuration()
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, rootLog.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("telegram adapter: %w", err)
	}
	logSvc.SetTelegramSender(func(ctx context.Context, chatID int64, text string) error {
		_, err := adapter.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, nil)
		return err
	})

	busy, _ := cfg.Storage.BusyDuration()
	db, err := store.Open(store.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, rootLog.With(logx.String("comp", "store")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	engine := broadcast.NewEngine(adapter, db, rootLog.With(logx.String("comp", "broadcast")))
	approvals := approval.New(adapter, db, rootLog.With(logx.String("comp", "approval")))
	router := bot.New(adapter, db, engine, approvals,
		rootLog.With(logx.String("comp", "bot")), cfg.Telegram.OperatorIDs)

	dg := digest.New(adapter, db, rootLog.With(logx.String("comp", "digest")))
	if err := dg.Apply(digestConfig(cfg)); err != nil {
		_ = db.Close()
		_ = logSvc.Close()
		return nil, err
	}

	return &App{
		cfgMgr:  mgr,
		logSvc:  logSvc,
		log:     rootLog.With(logx.String("comp", "app")),
		adapter: adapter,
		db:      db,
		bot:     router,
		digest:  dg,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	updates := make(chan kit.Update, updateQueueSize)
	if err := a.adapter.Start(runCtx, updates); err != nil {
		cancel()
		return fmt.Errorf("start adapter: %w", err)
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-runCtx.Done():
				return
			case up := <-updates:
				a.bot.Handle(runCtx, up)
			}
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgMgr.Watch(runCtx); err != nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	sub := a.cfgMgr.Subscribe(1)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgMgr.Unsubscribe(sub)
		for {
			select {
			case <-runCtx.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyReload(cfg)
			}
		}
	}()

	a.digest.Start()
	a.startWatchdog(runCtx)

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Debug("sd_notify ready failed", logx.Err(err))
	}
	a.log.Info("started")
	return nil
}

// applyReload pushes a validated config change into the running services.
// Token and store path changes require a restart and are ignored here.
func (a *App) applyReload(cfg *config.Config) {
	a.logSvc.Apply(loggingConfig(cfg))
	a.bot.Apply(cfg.Telegram.OperatorIDs)
	if err := a.digest.Apply(digestConfig(cfg)); err != nil {
		a.log.Warn("digest reload rejected", logx.Err(err))
	}
	a.log.Info("config applied", logx.Int("operators", len(cfg.Telegram.OperatorIDs)))
}

func (a *App) startWatchdog(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
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

	if a.cancel != nil {
		a.cancel()
	}
	_ = a.adapter.Stop(ctx)
	a.digest.Stop()

	// Cancelled contexts make in-flight runs halt at the next recipient.
	a.bot.Wait()
	a.wg.Wait()

	err := a.db.Close()
	_ = a.logSvc.Close()
	a.log.Info("stopped")
	return err
}

func loggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     cfg.Logging.Telegram.ChatID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func digestConfig(cfg *config.Config) digest.Config {
	if cfg.Digest == nil {
		return digest.Config{}
	}
	return digest.Config{
		Enabled:  cfg.Digest.Enabled,
		Schedule: cfg.Digest.Schedule,
		ChatID:   cfg.Digest.ChatID,
	}
}
