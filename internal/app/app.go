// Package app wires the components together and owns their lifecycle.
package app

import (
	"context"
	"fmt"

	"wishbot/internal/config"
	"wishbot/internal/extapi"
	"wishbot/internal/metrics"
	"wishbot/internal/reconcile"
	"wishbot/internal/store"
	"wishbot/internal/transport/discord"
	"wishbot/internal/web"
	"wishbot/pkg/logx"
	"wishbot/pkg/sysd"
)

type App struct {
	cfgm *config.Manager
	cfg  *config.Config

	log      logx.Logger
	logClose func() error

	st      *store.Store
	adapter *discord.Adapter
	trigger *reconcile.Trigger
	metrics *metrics.Metrics
	webSrv  *web.Server

	cancelWatch context.CancelFunc
}

// New loads and validates the config, then builds every component. Any
// configuration error here is fatal: the process does not start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	log, logClose := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	st, err := store.Open(cfg.Storage.Path, log.With(logx.String("comp", "store")))
	if err != nil {
		_ = logClose()
		return nil, err
	}

	adapter, err := discord.New(discord.Config{
		Token:           cfg.Discord.Token,
		GuildID:         cfg.Discord.GuildID,
		StaffRoleID:     cfg.Discord.StaffRoleID,
		BirthdayRoleID:  cfg.Discord.BirthdayRoleID,
		BirthdayChannel: cfg.Discord.BirthdayChannel,
		WishesChannel:   cfg.Discord.WishesChannel,
		AlertsChannel:   cfg.Discord.AlertsChannel,
		SendRatePerSec:  cfg.Discord.SendRatePerSec,
	}, st, log.With(logx.String("comp", "discord")))
	if err != nil {
		_ = st.Close()
		_ = logClose()
		return nil, err
	}

	loc := cfg.Location()
	hour, minute, err := config.ParseHHMM(cfg.Schedule.PostTime)
	if err != nil {
		_ = st.Close()
		_ = logClose()
		return nil, err
	}
	sched, err := reconcile.NewDailySchedule(hour, minute, loc)
	if err != nil {
		_ = st.Close()
		_ = logClose()
		return nil, fmt.Errorf("schedule: %w", err)
	}

	m := metrics.New()
	retrier := extapi.NewRetrier(log.With(logx.String("comp", "extapi")))
	rec := reconcile.New(reconcile.Deps{
		Store: st,
		Holidays: extapi.NewHolidayClient(extapi.HolidayClientConfig{
			APIKey:  cfg.Holidays.APIKey,
			Country: cfg.Holidays.Country,
			BaseURL: cfg.Holidays.BaseURL,
		}, retrier, log.With(logx.String("comp", "holidays"))),
		Generator: extapi.NewGenerator(extapi.GeneratorConfig{
			APIKey:  cfg.Generator.APIKey,
			Model:   cfg.Generator.Model,
			BaseURL: cfg.Generator.BaseURL,
		}, retrier, log.With(logx.String("comp", "generator"))),
		Roles:           adapter.Roles(),
		Directory:       adapter.Directory(),
		BirthdayChannel: adapter.BirthdayChannel(),
		WishesChannel:   adapter.WishesChannel(),
		AlertsChannel:   adapter.AlertsChannel(),
		// Read live so a config reload flips the flag without a restart.
		ApprovalMode: func() bool { return cfgm.Get().Holidays.ApprovalMode },
		Metrics:      m,
		Log:          log.With(logx.String("comp", "reconcile")),
	}, sched, loc)

	a := &App{
		cfgm:     cfgm,
		cfg:      cfg,
		log:      log.With(logx.String("comp", "app")),
		logClose: logClose,
		st:       st,
		adapter:  adapter,
		trigger:  reconcile.NewTrigger(rec, log.With(logx.String("comp", "trigger"))),
		metrics:  m,
	}
	if cfg.Web.Enabled {
		a.webSrv = web.NewServer(st, cfg.Web.AdminPassword, loc, log.With(logx.String("comp", "web")))
	}
	return a, nil
}

// Start opens the gateway and launches the auxiliary servers. The daily
// trigger arms itself from the gateway ready hook.
func (a *App) Start(ctx context.Context) error {
	watchCtx, cancel := context.WithCancel(ctx)
	a.cancelWatch = cancel
	go func() {
		if err := a.cfgm.Watch(watchCtx); err != nil && watchCtx.Err() == nil {
			a.log.Warn("config watcher exited", logx.Err(err))
		}
	}()
	go a.applyReloads(watchCtx)

	if a.cfg.Metrics.Enabled {
		go func() {
			if err := a.metrics.Serve(ctx, a.cfg.Metrics.Listen, a.log); err != nil {
				a.log.Error("metrics server failed", logx.Err(err))
			}
		}()
	}
	if a.webSrv != nil {
		go func() {
			if err := a.webSrv.Run(ctx, a.cfg.Web.Listen); err != nil {
				a.log.Error("dashboard server failed", logx.Err(err))
			}
		}()
	}

	a.adapter.SetReadyHook(a.trigger.OnReady)
	if err := a.adapter.Start(ctx); err != nil {
		return err
	}

	sysd.NotifyReady()
	a.log.Info("wishbot started")
	return nil
}

// applyReloads consumes committed config reloads and re-applies the subset
// that takes effect without a restart: the log level here, approval mode
// via the reconciler's own live read.
func (a *App) applyReloads(ctx context.Context) {
	sub := a.cfgm.Subscribe(1)
	defer a.cfgm.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			a.log.SetLevel(cfg.Logging.Level)
			a.log.Info("reload applied", logx.String("log_level", cfg.Logging.Level))
		}
	}
}

// Stop shuts the components down in reverse dependency order.
func (a *App) Stop(ctx context.Context) error {
	sysd.NotifyStopping()
	if a.cancelWatch != nil {
		a.cancelWatch()
	}
	err := a.adapter.Stop(ctx)
	if cerr := a.st.Close(); err == nil {
		err = cerr
	}
	a.log.Info("wishbot stopped")
	if cerr := a.logClose(); err == nil {
		err = cerr
	}
	return err
}
