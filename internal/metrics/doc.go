// Package metrics exposes the daemon's counters to Prometheus.
//
// Every Metrics value owns a private registry so tests and multiple
// monitors never collide on the global one:
//
//	m := metrics.New()
//	mux.Handle("/metrics", m.Handler())
//
// The monitor feeds check outcomes, flips and in-flight counts; the daemon
// feeds zone publication results. Metrics also implements
// scheduler.Observer to record per-check latency.
package metrics
