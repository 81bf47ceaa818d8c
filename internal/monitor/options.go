package monitor

import (
	"log/slog"
	"time"

	"github.com/angeloszaimis/dnslb/internal/metrics"
	"github.com/angeloszaimis/dnslb/internal/notify"
)

const (
	DefaultMultiplier   = 2
	DefaultTimeout      = 10 * time.Second
	DefaultSleepTime    = 30 * time.Second
	DefaultPollInterval = time.Second
)

type Option func(*Monitor)

// WithMultiplier sets the number of workers per host.
func WithMultiplier(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.multiplier = n
		}
	}
}

// WithTimeout bounds every check.
func WithTimeout(d time.Duration) Option {
	return func(m *Monitor) { m.timeout = d }
}

// WithQueueSize sets the submission queue capacity. The default is one
// slot per worker.
func WithQueueSize(n int) Option {
	return func(m *Monitor) { m.queueSize = n }
}

// WithSleepTime sets how long the loop idles when nothing is in flight.
func WithSleepTime(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.sleepTime = d
		}
	}
}

// WithPollInterval sets how long a single poll waits for a result.
func WithPollInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// WithHistory sets how many statuses each host remembers.
func WithHistory(n int) Option {
	return func(m *Monitor) { m.history = n }
}

func WithNotifier(n notify.Notifier) Option {
	return func(m *Monitor) { m.notifier = n }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Monitor) { m.metrics = mt }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}
