package daemon

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/angeloszaimis/dnslb/internal/healthcheck"
	"github.com/angeloszaimis/dnslb/internal/metrics"
	"github.com/angeloszaimis/dnslb/internal/monitor"
	"github.com/angeloszaimis/dnslb/internal/publish"
	"github.com/angeloszaimis/dnslb/internal/zone"
)

// Config wires a daemon. Mirrors, Metrics and Logger are optional.
type Config struct {
	Checks   []healthcheck.Bound
	Topology zone.Topology
	Builder  *zone.Builder
	Policy   *publish.Policy
	// Publisher writes the zone the name server serves. A zone is only
	// accepted as the baseline once it succeeded.
	Publisher publish.Publisher
	// Mirrors receive every accepted zone. Their failures are logged and
	// never undo an accepted publication.
	Mirrors   publish.Multi
	Metrics   *metrics.Metrics
	SleepTime time.Duration
	// Drain waits for outstanding checks on shutdown instead of halting.
	Drain  bool
	Logger *slog.Logger
}

type Daemon struct {
	mon       *monitor.Monitor
	checks    []healthcheck.Bound
	topology  zone.Topology
	builder   *zone.Builder
	policy    *publish.Policy
	publisher publish.Publisher
	mirrors   publish.Multi
	metrics   *metrics.Metrics
	sleepTime time.Duration
	drain     bool
	logger    *slog.Logger
	now       func() time.Time
}

func New(mon *monitor.Monitor, cfg Config) *Daemon {
	d := &Daemon{
		mon:       mon,
		checks:    cfg.Checks,
		topology:  cfg.Topology,
		builder:   cfg.Builder,
		policy:    cfg.Policy,
		publisher: cfg.Publisher,
		mirrors:   cfg.Mirrors,
		metrics:   cfg.Metrics,
		sleepTime: cfg.SleepTime,
		drain:     cfg.Drain,
		logger:    cfg.Logger,
		now:       time.Now,
	}

	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.metrics == nil {
		d.metrics = metrics.New()
	}

	return d
}

// Run starts the monitor and runs rounds until ctx is cancelled. The
// monitor is halted, or drained when configured, before Run returns.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.mon.Start(); err != nil {
		return err
	}
	defer d.stop()

	for {
		if _, err := d.Round(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("Round failed", slog.Any("err", err))
		}

		if !d.pause(ctx) {
			return nil
		}
	}
}

func (d *Daemon) stop() {
	if d.drain {
		d.logger.Info("Shutting down, draining outstanding checks...")
		d.mon.Shutdown()
		return
	}

	d.logger.Info("Shutting down...")
	d.mon.Halt()
}

// Round schedules every check once and then considers publishing a new
// zone. It reports whether a zone was written.
func (d *Daemon) Round(ctx context.Context) (bool, error) {
	log := d.logger.With(slog.String("round", uuid.NewString()))

	for _, check := range d.checks {
		accepted, err := d.mon.Schedule(check.Name, check.Check, check.Params)
		if err != nil {
			return false, err
		}
		log.Debug("Scheduled check",
			slog.String("check", check.Name),
			slog.Int("accepted", accepted))

		if !d.pause(ctx) {
			return false, ctx.Err()
		}
	}

	if d.mon.Processed() <= int64(d.mon.Size()) {
		log.Debug("Waiting for more results before building a zone",
			slog.Int64("processed", d.mon.Processed()),
			slog.Int("hosts", d.mon.Size()))
		return false, nil
	}

	return d.publishZone(ctx, log)
}

func (d *Daemon) publishZone(ctx context.Context, log *slog.Logger) (bool, error) {
	doc, err := d.mon.Zone(d.builder, d.topology)
	if err != nil {
		d.metrics.ZonePublished(metrics.PublishFailed, 0, 0, d.now())
		return false, err
	}

	addresses := doc.AddressCount()
	d.metrics.ZoneBuilt(addresses)

	now := d.now()
	if !d.policy.Offer(doc, now) {
		d.metrics.ZonePublished(metrics.PublishHeld, doc.Serial, addresses, now)
		return false, nil
	}

	if err := d.publisher.Publish(ctx, doc); err != nil {
		d.metrics.ZonePublished(metrics.PublishFailed, doc.Serial, addresses, now)
		return false, err
	}

	d.policy.Accept(doc, now)
	d.mon.ResetFlipped()
	d.metrics.ZonePublished(metrics.PublishWritten, doc.Serial, addresses, now)

	log.Info("Wrote zone",
		slog.Int("addresses", addresses),
		slog.Uint64("serial", uint64(doc.Serial)))

	if len(d.mirrors) > 0 {
		if err := d.mirrors.Publish(ctx, doc); err != nil {
			d.metrics.ZonePublished(metrics.PublishMirrorFailed, doc.Serial, addresses, now)
			log.Warn("Mirroring zone failed",
				slog.Uint64("serial", uint64(doc.Serial)),
				slog.Any("err", err))
		}
	}

	return true, nil
}

// pause sleeps a random fraction of the sleep time. It returns false when
// ctx was cancelled first.
func (d *Daemon) pause(ctx context.Context) bool {
	var wait time.Duration
	if d.sleepTime > 0 {
		wait = time.Duration(rand.Int63n(int64(d.sleepTime)))
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
