package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"relaybot/internal/config"
	"relaybot/internal/gateway"
	"relaybot/internal/heartbeat"
	"relaybot/internal/journal"
	"relaybot/internal/platform/telegram"
	"relaybot/internal/relay"
	"relaybot/internal/runtime/supervisor"
	logx "relaybot/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config file (json or yaml)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfgPath); err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	cfgMgr := config.NewManager(cfgPath)
	cfg, err := cfgMgr.Load()
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		// No config file: run on env vars and defaults alone.
		cfg = &config.Config{}
		config.ApplyEnv(cfg)
		cfgMgr.Commit(cfg)
	default:
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console || !cfg.Logging.File.Enabled,
		File: logx.FileConfig{
			Enabled:    cfg.Logging.File.Enabled,
			Path:       cfg.Logging.File.Path,
			MaxSizeMB:  cfg.Logging.File.MaxSizeMB,
			MaxBackups: cfg.Logging.File.MaxBackups,
			MaxAgeDays: cfg.Logging.File.MaxAgeDays,
		},
	})
	defer logSvc.Close()
	cfgMgr.SetLogger(log.With(logx.String("comp", "config")))

	clientTimeout, err := config.ParseDurationOrDefault("telegram.client_timeout", cfg.Telegram.ClientTimeout, 10*time.Second)
	if err != nil {
		return err
	}
	cooldown, err := config.ParseDurationOrDefault("reconnect.cooldown", cfg.Reconnect.Cooldown, 600*time.Second)
	if err != nil {
		return err
	}
	probeInterval, err := config.ParseDurationOrDefault("reconnect.probe_interval", cfg.Reconnect.ProbeInterval, 60*time.Second)
	if err != nil {
		return err
	}

	msgr, err := telegram.New(telegram.Config{
		Token:          cfg.Telegram.Token,
		SendRatePerSec: cfg.Telegram.SendRatePerSec,
		ClientTimeout:  clientTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return err
	}

	bridge := relay.NewBridge(cfg.API.QueueSize, log.With(logx.String("comp", "bridge")))
	manager := relay.NewManager(relay.ManagerConfig{
		Cooldown:      cooldown,
		ProbeInterval: probeInterval,
	}, msgr, bridge, log.With(logx.String("comp", "relay")))

	manager.SetReadyHook(func(ready bool) {
		if ready {
			_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
			_, _ = daemon.SdNotify(false, "STATUS=connected")
			return
		}
		_, _ = daemon.SdNotify(false, "STATUS=reconnecting")
	})

	sup := supervisor.New(ctx, supervisor.WithLogger(log.With(logx.String("comp", "supervisor"))))

	if jc := cfg.Journal; jc != nil && jc.Enabled {
		busy, err := config.ParseDurationOrDefault("journal.busy_timeout", jc.BusyTimeout, 5*time.Second)
		if err != nil {
			return err
		}
		jn, err := journal.Open(journal.Config{Path: jc.Path, BusyTimeout: busy}, log.With(logx.String("comp", "journal")))
		if err != nil {
			return err
		}
		defer jn.Close()
		manager.SetRecorder(jn)
		sup.Go("journal.writer", jn.Run)
	}

	readTimeout, err := config.ParseDurationOrDefault("api.read_timeout", cfg.API.ReadTimeout, 10*time.Second)
	if err != nil {
		return err
	}
	writeTimeout, err := config.ParseDurationOrDefault("api.write_timeout", cfg.API.WriteTimeout, 10*time.Second)
	if err != nil {
		return err
	}
	idleTimeout, err := config.ParseDurationOrDefault("api.idle_timeout", cfg.API.IdleTimeout, 60*time.Second)
	if err != nil {
		return err
	}
	gw := gateway.New(gateway.Config{
		Addr:         cfg.API.Addr,
		Route:        cfg.API.Route,
		Secret:       cfg.API.Secret,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}, manager.Ready, bridge.Schedule, log.With(logx.String("comp", "gateway")))
	sup.GoRestart("gateway.serve", gw.Start,
		supervisor.WithRestartBackoff(time.Second, 30*time.Second))

	if hc := cfg.Heartbeat; hc != nil && hc.Enabled {
		hb, err := heartbeat.New(heartbeat.Config{
			Schedule:  hc.Schedule,
			ChannelID: hc.ChannelID,
		}, bridge, manager.Ready, log.With(logx.String("comp", "heartbeat")))
		if err != nil {
			return err
		}
		if err := hb.Start(); err != nil {
			return err
		}
		defer hb.Stop(context.Background())
	}

	// Hot reload: log level and reconnect cooldown apply live; everything
	// else (token, listen addr, heartbeat) needs a restart.
	sup.GoRestart("config.watch", cfgMgr.Watch,
		supervisor.WithRestartBackoff(time.Second, 30*time.Second))
	cfgCh := cfgMgr.Subscribe(4)
	defer cfgMgr.Unsubscribe(cfgCh)
	sup.Go0("config.apply", func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case next, ok := <-cfgCh:
				if !ok || next == nil {
					return
				}
				applyReload(cfg, next, logSvc, manager, log)
				cfg = next
			}
		}
	})

	if interval, err := daemon.SdWatchdogEnabled(false); err == nil && interval > 0 {
		sup.Go0("systemd.watchdog", func(ctx context.Context) {
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
		})
	}

	// The connection manager is the foreground blocking activity.
	runErr := manager.Run(ctx)

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	gw.Stop(stopCtx)
	_ = sup.Stop(stopCtx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func applyReload(prev, next *config.Config, logSvc *logx.Service, manager *relay.Manager, log logx.Logger) {
	if next.Logging != prev.Logging {
		logSvc.Apply(logx.Config{
			Level:   next.Logging.Level,
			Console: next.Logging.Console || !next.Logging.File.Enabled,
			File: logx.FileConfig{
				Enabled:    next.Logging.File.Enabled,
				Path:       next.Logging.File.Path,
				MaxSizeMB:  next.Logging.File.MaxSizeMB,
				MaxBackups: next.Logging.File.MaxBackups,
				MaxAgeDays: next.Logging.File.MaxAgeDays,
			},
		})
		log.Info("logging config applied", logx.String("level", next.Logging.Level))
	}

	if next.Reconnect.Cooldown != prev.Reconnect.Cooldown {
		if d, err := config.ParseDurationOrDefault("reconnect.cooldown", next.Reconnect.Cooldown, 600*time.Second); err == nil {
			manager.SetCooldown(d)
			log.Info("reconnect cooldown applied", logx.Duration("cooldown", d))
		} else {
			log.Warn("reconnect cooldown ignored", logx.Err(err))
		}
	}

	if next.Telegram.Token != prev.Telegram.Token {
		log.Warn("telegram.token changed; restart required to take effect")
	}
	if next.API.Addr != prev.API.Addr || next.API.Route != prev.API.Route || next.API.Secret != prev.API.Secret {
		log.Warn("api config changed; restart required to take effect")
	}
}
