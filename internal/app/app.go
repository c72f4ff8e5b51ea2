// Package app wires configuration, logging, storage, notification, and the
// poll workers into one runnable process.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"listwatch/internal/config"
	"listwatch/internal/digest"
	"listwatch/internal/fetch"
	"listwatch/internal/market"
	"listwatch/internal/notify"
	"listwatch/internal/retry"
	"listwatch/internal/runtime/supervisor"
	"listwatch/internal/storage"
	"listwatch/internal/watch"
	"listwatch/pkg/logx"
)

type App struct {
	mgr    *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	sup      *supervisor.Supervisor
	notifier *notify.Notifier
	stores   map[string]storage.Store
	digest   *digest.Service
}

func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	mgr.SetLogger(log)

	return &App{mgr: mgr, logSvc: logSvc, log: log}, nil
}

func (a *App) Start(ctx context.Context) error {
	cfg := a.mgr.Get()
	loc := cfg.Location()

	pollInterval, err := config.ParseDurationOrDefault("poll_interval", cfg.PollInterval, 2*time.Second)
	if err != nil {
		return err
	}
	fetchTimeout, err := config.ParseDurationOrDefault("fetch_timeout", cfg.FetchTimeout, 1500*time.Millisecond)
	if err != nil {
		return err
	}

	sender, err := notify.NewTelegramSender(cfg.Telegram.Token, 0)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	policy := retry.Default()
	a.notifier = notify.New(sender, policy, notify.Config{
		Recipients: cfg.Telegram.Recipients,
		RatePerSec: cfg.Telegram.RatePerSec,
	}, a.log.With(logx.String("component", "notify")))

	storageCfg := storage.Config{Dir: cfg.DataDir}
	if cfg.Storage != nil {
		storageCfg.Driver = cfg.Storage.Driver
		storageCfg.Path = cfg.Storage.Path
		if storageCfg.BusyTimeout, err = config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			return err
		}
	}

	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))
	fetcher := fetch.New(fetchTimeout, policy, a.log)

	a.stores = map[string]storage.Store{}
	for _, sc := range cfg.Sources {
		st, err := storage.Open(storageCfg, sc.Name, a.log)
		if err != nil {
			a.closeStores()
			return fmt.Errorf("open store for %s: %w", sc.Name, err)
		}
		a.stores[sc.Name] = st

		parse, err := market.Parser(sc.Kind)
		if err != nil {
			a.closeStores()
			return err
		}
		w := watch.NewWorker(
			market.Source{Name: sc.Name, Kind: sc.Kind, URL: sc.URL},
			parse, fetcher, st, a.notifier,
			watch.WorkerOptions{Interval: pollInterval, StatusEvery: cfg.StatusEvery, Location: loc},
			a.log,
		)
		a.sup.GoRestart("source."+sc.Name, w.Run,
			supervisor.WithRestartBackoff(time.Second, time.Minute))
	}

	for _, bc := range cfg.Boards {
		interval, err := config.ParseDurationOrDefault(bc.Name+".interval", bc.Interval, 30*time.Second)
		if err != nil {
			a.closeStores()
			return err
		}
		bw := watch.NewBoardWatcher(
			watch.Board{Name: bc.Name, URL: bc.URL, Interval: interval},
			fetcher, a.notifier, cfg.DataDir, loc, a.log,
		)
		a.sup.GoRestart("board."+bc.Name, bw.Run,
			supervisor.WithRestartBackoff(time.Second, time.Minute))
	}

	if cfg.Digest.Enabled {
		d, err := digest.New(cfg.Digest.Schedule, loc, a.stores, a.notifier,
			a.log.With(logx.String("component", "digest")))
		if err != nil {
			a.closeStores()
			return err
		}
		a.digest = d
		d.Start()
	}

	// Hot-reload: logging level and the recipient list apply live; source
	// and board changes need a restart (workers hold immutable config).
	a.sup.Go("config.watch", a.mgr.Watch)
	sub := a.mgr.Subscribe(1)
	a.sup.Go("config.apply", func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case c := <-sub:
				if c == nil {
					continue
				}
				a.logSvc.Apply(logx.Config{
					Level:   c.Logging.Level,
					Console: c.Logging.Console,
					File:    logx.FileConfig{Enabled: c.Logging.File.Enabled, Path: c.Logging.File.Path},
				})
				a.notifier.Apply(notify.Config{
					Recipients: c.Telegram.Recipients,
					RatePerSec: c.Telegram.RatePerSec,
				})
				a.log.Info("config applied (source/board changes need restart)")
			}
		}
	})

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("started",
		logx.Int("sources", len(cfg.Sources)),
		logx.Int("boards", len(cfg.Boards)),
		logx.Duration("poll_interval", pollInterval),
	)
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	if a.digest != nil {
		a.digest.Stop()
	}
	var err error
	if a.sup != nil {
		err = a.sup.Stop(ctx)
	}
	a.closeStores()
	_ = a.logSvc.Close()
	return err
}

func (a *App) closeStores() {
	for _, st := range a.stores {
		_ = st.Close()
	}
}
