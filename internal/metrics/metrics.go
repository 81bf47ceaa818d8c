package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dnslb"

// Publish outcomes used as the "result" label of zone_publish_total.
const (
	PublishWritten = "written"
	PublishHeld    = "held"
	PublishFailed  = "failed"
	// PublishMirrorFailed counts accepted zones a mirror could not store.
	PublishMirrorFailed = "mirror_failed"
)

type Metrics struct {
	registry *prometheus.Registry

	checksStarted   prometheus.Counter
	checksDropped   prometheus.Counter
	checksCompleted *prometheus.CounterVec
	checkDuration   *prometheus.HistogramVec
	flips           *prometheus.CounterVec
	hostUp          *prometheus.GaugeVec
	inFlight        prometheus.Gauge

	zoneAddresses *prometheus.GaugeVec
	zonePublishes *prometheus.CounterVec
	zoneSerial    prometheus.Gauge
	lastPublished prometheus.Gauge
	buildInfo     *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		checksStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checks_started_total",
			Help:      "Check units accepted by the worker pool.",
		}),
		checksDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checks_dropped_total",
			Help:      "Check units refused because the queue was full.",
		}),
		checksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checks_completed_total",
			Help:      "Check results delivered, by outcome.",
		}, []string{"result"}),
		checkDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "check_duration_seconds",
			Help:      "Latency of health checks.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"check", "result"}),
		flips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flips_total",
			Help:      "Host health transitions, by direction.",
		}, []string{"direction"}),
		hostUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_up",
			Help:      "1 when the last check of the host passed.",
		}, []string{"host"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "checks_in_flight",
			Help:      "Submitted checks whose result was not delivered yet.",
		}),
		zoneAddresses: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "zone_addresses",
			Help:      "Top level addresses of the last built zone, by kind.",
		}, []string{"zone"}),
		zonePublishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "zone_publish_total",
			Help:      "Zone publication attempts, by result.",
		}, []string{"result"}),
		zoneSerial: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "zone_serial",
			Help:      "Serial of the last published zone.",
		}),
		lastPublished: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "zone_last_published_timestamp_seconds",
			Help:      "Unix time of the last successful publication.",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version).",
		}, []string{"version"}),
	}

	m.registry.MustRegister(
		m.checksStarted,
		m.checksDropped,
		m.checksCompleted,
		m.checkDuration,
		m.flips,
		m.hostUp,
		m.inFlight,
		m.zoneAddresses,
		m.zonePublishes,
		m.zoneSerial,
		m.lastPublished,
		m.buildInfo,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SetBuildInfo(version string) {
	m.buildInfo.WithLabelValues(version).Set(1)
}

func (m *Metrics) CheckStarted() {
	m.checksStarted.Inc()
}

func (m *Metrics) CheckDropped() {
	m.checksDropped.Inc()
}

// CheckCompleted records a delivered result and the host's new state.
func (m *Metrics) CheckCompleted(host string, ok bool) {
	m.checksCompleted.WithLabelValues(outcome(ok)).Inc()
	if ok {
		m.hostUp.WithLabelValues(host).Set(1)
	} else {
		m.hostUp.WithLabelValues(host).Set(0)
	}
}

func (m *Metrics) Flipped(up bool) {
	if up {
		m.flips.WithLabelValues("up").Inc()
		return
	}
	m.flips.WithLabelValues("down").Inc()
}

func (m *Metrics) SetInFlight(n int) {
	m.inFlight.Set(float64(n))
}

// ObserveCheck implements scheduler.Observer.
func (m *Metrics) ObserveCheck(name string, ok bool, d time.Duration) {
	m.checkDuration.WithLabelValues(name, outcome(ok)).Observe(d.Seconds())
}

// ZoneBuilt records the address count of a candidate zone.
func (m *Metrics) ZoneBuilt(addresses int) {
	m.zoneAddresses.WithLabelValues("candidate").Set(float64(addresses))
}

// ZonePublished records a publication decision. serial and addresses are
// only used for PublishWritten.
func (m *Metrics) ZonePublished(result string, serial uint32, addresses int, at time.Time) {
	m.zonePublishes.WithLabelValues(result).Inc()
	if result != PublishWritten {
		return
	}
	m.zoneSerial.Set(float64(serial))
	m.zoneAddresses.WithLabelValues("published").Set(float64(addresses))
	m.lastPublished.Set(float64(at.Unix()))
}

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "fail"
}
