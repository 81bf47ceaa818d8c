package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/angeloszaimis/dnslb/internal/flap"
)

// Flip describes a host changing between healthy and unhealthy.
type Flip struct {
	Host   string
	Before bool
	After  bool
	Info   string
}

// Notifier is told about every flip the monitor observes.
type Notifier interface {
	Notify(f Flip) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(f Flip) error

func (fn NotifierFunc) Notify(f Flip) error {
	return fn(f)
}

// LogNotifier logs flips at info level, or warn when a host went down.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(f Flip) error {
	level := slog.LevelInfo
	if !f.After {
		level = slog.LevelWarn
	}

	n.logger.Log(context.Background(), level, "Host flipped",
		slog.String("host", f.Host),
		slog.Bool("before", f.Before),
		slog.Bool("after", f.After),
		slog.String("info", f.Info))
	return nil
}

// Damped forwards flips to next unless the host is flapping.
type Damped struct {
	next     Notifier
	registry *flap.Registry
	logger   *slog.Logger
	now      func() time.Time
}

func NewDamped(next Notifier, registry *flap.Registry, logger *slog.Logger) *Damped {
	return &Damped{
		next:     next,
		registry: registry,
		logger:   logger,
		now:      time.Now,
	}
}

func (d *Damped) Notify(f Flip) error {
	now := d.now()
	damper := d.registry.Get(f.Host)

	if damper.RecordFlip(now) {
		d.logger.Warn("Host is flapping, holding back notifications",
			slog.String("host", f.Host))
	}

	if !damper.Allow(now) {
		d.logger.Debug("Suppressed flip notification",
			slog.String("host", f.Host),
			slog.Bool("after", f.After))
		return nil
	}

	return d.next.Notify(f)
}

// Multi sends every flip to all notifiers and returns the first error.
type Multi []Notifier

func (m Multi) Notify(f Flip) error {
	var first error
	for _, n := range m {
		if err := n.Notify(f); err != nil && first == nil {
			first = err
		}
	}
	return first
}
