package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/angeloszaimis/dnslb/config"
	"github.com/angeloszaimis/dnslb/internal/daemon"
	"github.com/angeloszaimis/dnslb/internal/flap"
	"github.com/angeloszaimis/dnslb/internal/handler"
	"github.com/angeloszaimis/dnslb/internal/healthcheck"
	"github.com/angeloszaimis/dnslb/internal/httpserver"
	"github.com/angeloszaimis/dnslb/internal/metrics"
	"github.com/angeloszaimis/dnslb/internal/monitor"
	"github.com/angeloszaimis/dnslb/internal/notify"
	"github.com/angeloszaimis/dnslb/internal/publish"
	"github.com/angeloszaimis/dnslb/internal/zone"
)

// app holds the wired components of a running daemon.
type app struct {
	log     *slog.Logger
	monitor *monitor.Monitor
	daemon  *daemon.Daemon
	policy  *publish.Policy
	metrics *metrics.Metrics
	status  *handler.StatusHandler
	server  *httpserver.Server
	closers []io.Closer
}

func newApp(ctx context.Context, cfg *config.Config, registry *healthcheck.Registry, log *slog.Logger) (*app, error) {
	checks, err := cfg.ResolveChecks(registry)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	m.SetBuildInfo(version)

	var notifier notify.Notifier = notify.NewLogNotifier(log)
	if cfg.Notify.Mail != "" {
		notifier = notify.Multi{
			notifier,
			notify.NewMailNotifier(cfg.Notify.Mail, cfg.Notify.Sender, cfg.Notify.SMTPAddress),
		}
	}

	var flaps *flap.Registry
	if cfg.Notify.FlapThreshold > 0 {
		flaps = flap.NewRegistry(cfg.Notify.FlapThreshold, cfg.FlapWindow())
		notifier = notify.NewDamped(notifier, flaps, log)
	}

	mon := monitor.New(cfg.AllHosts(),
		monitor.WithMultiplier(cfg.Monitor.Multiplier),
		monitor.WithTimeout(cfg.Timeout()),
		monitor.WithQueueSize(cfg.Monitor.QueueSize),
		monitor.WithSleepTime(cfg.SleepTime()),
		monitor.WithPollInterval(cfg.PollInterval()),
		monitor.WithHistory(cfg.Monitor.History),
		monitor.WithNotifier(notifier),
		monitor.WithMetrics(m),
		monitor.WithLogger(log),
	)

	a := &app{log: log, monitor: mon, metrics: m}

	var mirrors publish.Multi
	if addr := cfg.Publish.Redis.Address; addr != "" {
		rp, err := publish.NewRedisPublisher(ctx, addr, cfg.Publish.Redis.Key, cfg.Publish.Redis.Channel)
		if err != nil {
			return nil, err
		}
		mirrors = append(mirrors, rp)
		a.closers = append(a.closers, rp)
	}

	a.policy = publish.NewPolicy(cfg.ChangeBudget(), cfg.MaxAge(), log)

	a.daemon = daemon.New(mon, daemon.Config{
		Checks:    checks,
		Topology:  cfg.Topology(),
		Builder:   zone.NewBuilder(cfg.Zone.TTL, cfg.Zone.MaxHosts, log),
		Policy:    a.policy,
		Publisher: publish.NewFilePublisher(cfg.Zone.File, cfg.Zone.Format, cfg.Zone.Origin),
		Mirrors:   mirrors,
		Metrics:   m,
		SleepTime: cfg.SleepTime(),
		Drain:     cfg.Monitor.Shutdown == config.ShutdownDrain,
		Logger:    log,
	})

	if cfg.Status.Address != "" {
		var flapSource handler.FlapSource
		if flaps != nil {
			flapSource = flaps
		}

		a.status = handler.NewStatusHandler(log, mon, a.policy, flapSource, cfg.Zone.Origin)
		srv, err := httpserver.New(cfg.Status.Address, statusRoutes(a.status, m), a.status.Logged)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("status server: %w", err)
		}
		a.server = srv
	}

	log.Info("Configured",
		slog.Int("hosts", mon.Size()),
		slog.Int("checks", len(checks)),
		slog.Int("max_changes", cfg.ChangeBudget()),
		slog.Duration("max_age", cfg.MaxAge()),
		slog.String("zone", cfg.Zone.File))

	return a, nil
}

// run blocks until ctx is cancelled or the status server fails and returns
// the exit code.
func (a *app) run(ctx context.Context) int {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer a.close()

	var serverFailed atomic.Bool
	if a.server != nil {
		go func() {
			a.log.Info("Serving status", slog.String("address", a.server.Addr()))
			if err := a.server.Start(); err != nil {
				a.log.Error("Status server failed", slog.Any("err", err))
				serverFailed.Store(true)
				cancel()
			}
		}()
	}

	err := a.daemon.Run(ctx)

	if a.server != nil {
		if err := a.server.Shutdown(context.Background()); err != nil {
			a.log.Error("Error during shutdown", slog.Any("err", err))
		}
	}

	if err != nil {
		a.log.Error("Daemon failed", slog.Any("err", err))
		return 1
	}
	if serverFailed.Load() {
		return 1
	}
	return 0
}

func (a *app) close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.log.Warn("Failed to close", slog.Any("err", err))
		}
	}
	a.closers = nil
}
