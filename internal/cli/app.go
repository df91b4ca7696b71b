package cli

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/opgate/opgate/internal/audit"
	"github.com/opgate/opgate/internal/config"
	"github.com/opgate/opgate/internal/dispatch"
	"github.com/opgate/opgate/internal/executor"
	"github.com/opgate/opgate/internal/history"
	"github.com/opgate/opgate/internal/logging"
	"github.com/opgate/opgate/internal/notify"
	"github.com/opgate/opgate/internal/policy"
)

// app is the assembled gateway shared by the serving and one-shot commands.
type app struct {
	cfg        config.Config
	log        *zap.Logger
	dispatcher *dispatch.Dispatcher
	auditLog   *audit.Log
	hist       *history.Store
	notifier   *notify.Notifier
	closeOnce  sync.Once
}

// newApp loads configuration and wires the full pipeline. quiet drops the
// operational log to warnings, for one-shot commands whose stdout belongs to
// the user.
func newApp(quiet bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	level := cfg.Logging.Level
	if quiet {
		level = "warn"
	}
	log, err := logging.New(level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	reg, warnings, err := policy.Load(cfg.Policy.Sources)
	if err != nil {
		log.Sync()
		return nil, err
	}
	for _, w := range warnings {
		log.Warn("policy load warning", zap.String("warning", w.String()))
	}

	auditLog, err := audit.Open(cfg.Audit.LogPath)
	if err != nil {
		log.Sync()
		return nil, err
	}

	var hist *history.Store
	if cfg.Audit.HistoryDB != "" {
		hist, err = history.Open(cfg.Audit.HistoryDB)
		if err != nil {
			// History is a convenience; the gateway still runs without it.
			log.Warn("history store unavailable", zap.Error(err))
			hist = nil
		}
	}

	sinks := []notify.Sink{&notify.LogSink{Log: log.Named("notify")}}
	if cfg.Notify.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookSink(cfg.Notify.WebhookURL))
	}
	notifier := notify.New(log.Named("notify"), sinks...)

	runner := executor.New(executor.Options{
		MaxOutputBytes: cfg.Executor.MaxOutputBytes,
		Grace:          cfg.Executor.Grace,
		MaxConcurrent:  cfg.Executor.MaxConcurrent,
		QueueTimeout:   cfg.Executor.QueueTimeout,
	})

	d := dispatch.New(dispatch.Options{
		Registry:     reg,
		Runner:       runner,
		Audit:        auditLog,
		History:      hist,
		Notifier:     notifier,
		AllowedRoots: cfg.Security.AllowedRoots,
		Log:          log.Named("dispatch"),
	})

	return &app{
		cfg:        cfg,
		log:        log,
		dispatcher: d,
		auditLog:   auditLog,
		hist:       hist,
		notifier:   notifier,
	}, nil
}

// Close flushes and releases everything newApp opened. Idempotent: the
// one-shot commands close explicitly before os.Exit and still defer it.
func (a *app) Close() {
	a.closeOnce.Do(func() {
		a.notifier.Wait()
		if a.hist != nil {
			if err := a.hist.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "close history: %v\n", err)
			}
		}
		if err := a.auditLog.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "close audit log: %v\n", err)
		}
		a.log.Sync()
	})
}
