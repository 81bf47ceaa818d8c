package monitor

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/angeloszaimis/dnslb/internal/healthcheck"
	"github.com/angeloszaimis/dnslb/internal/metrics"
	"github.com/angeloszaimis/dnslb/internal/node"
	"github.com/angeloszaimis/dnslb/internal/notify"
	"github.com/angeloszaimis/dnslb/internal/scheduler"
	"github.com/angeloszaimis/dnslb/internal/zone"
)

// ErrNotRunning is returned when scheduling on a monitor that is shutting
// down or stopped.
var ErrNotRunning = errors.New("monitor is not running")

type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateDraining:
		return "DRAINING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Monitor checks a fixed set of hosts and keeps their health history.
type Monitor struct {
	hosts []string
	nodes map[string]*node.Node
	pool  *scheduler.Pool

	multiplier   int
	timeout      time.Duration
	queueSize    int
	sleepTime    time.Duration
	pollInterval time.Duration
	history      int
	notifier     notify.Notifier
	metrics      *metrics.Metrics
	logger       *slog.Logger

	started atomic.Int64
	ok      atomic.Int64
	fail    atomic.Int64
	flipped atomic.Int64
	dropped atomic.Int64
	state   atomic.Int32

	wake     chan struct{}
	stopCh   chan struct{}
	haltCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	haltOnce sync.Once
}

// New creates a monitor for hosts. Duplicate hosts are checked once.
// Nothing runs until Start is called.
func New(hosts []string, opts ...Option) *Monitor {
	m := &Monitor{
		nodes:        make(map[string]*node.Node, len(hosts)),
		multiplier:   DefaultMultiplier,
		timeout:      DefaultTimeout,
		sleepTime:    DefaultSleepTime,
		pollInterval: DefaultPollInterval,
		history:      node.DefaultCapacity,
		logger:       slog.Default(),
		wake:         make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
		haltCh:       make(chan struct{}),
		done:         make(chan struct{}),
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.notifier == nil {
		m.notifier = notify.NewLogNotifier(m.logger)
	}
	if m.metrics == nil {
		m.metrics = metrics.New()
	}

	for _, host := range hosts {
		if _, exists := m.nodes[host]; exists {
			continue
		}
		m.nodes[host] = node.New(host, m.history)
		m.hosts = append(m.hosts, host)
	}

	workers := m.multiplier * len(m.hosts)
	queueSize := m.queueSize
	if queueSize < 1 {
		queueSize = workers
	}

	m.pool = scheduler.New(workers, queueSize, m.timeout, m.logger)
	m.pool.SetObserver(m.metrics)

	return m
}

// Start launches the worker pool and the control loop.
func (m *Monitor) Start() error {
	if !m.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return fmt.Errorf("monitor already %s", m.State())
	}

	m.pool.Start()
	go m.run()
	return nil
}

// Shutdown stops accepting checks, waits until every submitted check has
// reported back and stops the workers.
func (m *Monitor) Shutdown() {
	if m.State() == StateIdle {
		m.stopIdle()
		return
	}

	m.stopOnce.Do(func() { close(m.stopCh) })
	<-m.done
}

// Halt stops the control loop without waiting for outstanding checks.
func (m *Monitor) Halt() {
	if m.State() == StateIdle {
		m.stopIdle()
		return
	}

	m.haltOnce.Do(func() { close(m.haltCh) })
	<-m.done
}

func (m *Monitor) stopIdle() {
	if m.state.CompareAndSwap(int32(StateIdle), int32(StateStopped)) {
		m.pool.Dismiss()
		close(m.done)
	}
}

// Done is closed once the monitor reached StateStopped.
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}

func (m *Monitor) State() State {
	return State(m.state.Load())
}

// Schedule submits one check per host and returns how many were accepted.
// Hosts whose check does not fit in the queue are skipped for this round.
func (m *Monitor) Schedule(name string, check healthcheck.HealthCheck, params healthcheck.Params) (int, error) {
	if s := m.State(); s != StateRunning && s != StateIdle {
		return 0, ErrNotRunning
	}

	accepted := 0
	for _, host := range m.hosts {
		m.logger.Debug("Adding check",
			slog.String("check", name),
			slog.String("host", host))

		ok, err := m.pool.Submit(scheduler.Unit{
			Name:      name,
			Host:      host,
			Check:     check,
			Params:    params,
			OnSuccess: m.handleResult,
			OnFailure: m.handleError,
		})
		if err != nil {
			return accepted, ErrNotRunning
		}
		if !ok {
			m.dropped.Add(1)
			m.metrics.CheckDropped()
			m.logger.Warn("Unable to schedule check, queue full",
				slog.String("check", name),
				slog.String("host", host))
			continue
		}

		accepted++
		m.started.Add(1)
		m.metrics.CheckStarted()
	}

	m.metrics.SetInFlight(m.pool.InFlight())

	select {
	case m.wake <- struct{}{}:
	default:
	}

	return accepted, nil
}

func (m *Monitor) run() {
	defer close(m.done)

	m.logger.Info("Monitor started",
		slog.Int("hosts", len(m.hosts)),
		slog.Int("workers", m.pool.Workers()))

	for {
		select {
		case <-m.haltCh:
			m.logger.Info("Monitor halted", slog.Int("remaining", m.Remaining()))
			m.pool.Dismiss()
			m.state.Store(int32(StateStopped))
			return
		case <-m.stopCh:
			m.drain()
			return
		default:
		}

		err := m.pool.Poll(m.pollInterval)
		if errors.Is(err, scheduler.ErrNoResultsPending) {
			m.idle()
		}
	}
}

// idle sleeps until the next submission, a lifecycle request or sleepTime.
func (m *Monitor) idle() {
	timer := time.NewTimer(m.sleepTime)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-m.wake:
	case <-m.stopCh:
	case <-m.haltCh:
	}
}

func (m *Monitor) drain() {
	m.state.Store(int32(StateDraining))
	// A Schedule that passed its state check may still be submitting.
	// Closing submissions first makes the in-flight count final.
	m.pool.CloseSubmissions()
	m.logger.Info("Waiting for remaining checks", slog.Int("remaining", m.Remaining()))

	for m.pool.InFlight() > 0 {
		select {
		case <-m.haltCh:
			m.logger.Info("Monitor halted while draining", slog.Int("remaining", m.Remaining()))
			m.pool.Dismiss()
			m.state.Store(int32(StateStopped))
			return
		default:
		}
		_ = m.pool.Poll(m.pollInterval)
	}

	m.pool.Close()
	if remaining := m.Remaining(); remaining != 0 {
		m.logger.Error("Checks still in flight after drain", slog.Int("remaining", remaining))
	}
	m.state.Store(int32(StateStopped))
	m.logger.Info("Monitor stopped")
}

// handleResult runs on the control goroutine for checks that completed
// without error.
func (m *Monitor) handleResult(host string, ok bool) {
	m.metrics.SetInFlight(m.pool.InFlight())

	n, found := m.nodes[host]
	if !found {
		m.logger.Warn("Result for unknown host ignored", slog.String("host", host))
		return
	}

	m.logger.Debug("Check result", slog.String("host", host), slog.Bool("ok", ok))

	if ok {
		m.ok.Add(1)
		if !n.IsOK() {
			m.flip(notify.Flip{Host: host, Before: false, After: true})
		}
		n.Record(true, "", nil)
	} else {
		m.fail.Add(1)
		if n.IsOK() {
			m.flip(notify.Flip{Host: host, Before: true, After: false, Info: "check failed"})
		}
		n.Record(false, "check failed", nil)
	}

	m.metrics.CheckCompleted(host, ok)
}

// handleError runs on the control goroutine for checks that returned an
// error or panicked.
func (m *Monitor) handleError(host string, err error) {
	m.metrics.SetInFlight(m.pool.InFlight())

	n, found := m.nodes[host]
	if !found {
		m.logger.Warn("Result for unknown host ignored", slog.String("host", host))
		return
	}

	m.logger.Debug("Check error", slog.String("host", host), slog.Any("err", err))

	reason := "check error"
	if errors.Is(err, healthcheck.ErrCheckFailed) {
		reason = "check failed"
	}

	m.fail.Add(1)
	if n.IsOK() {
		m.flip(notify.Flip{Host: host, Before: true, After: false, Info: err.Error()})
	}
	n.Record(false, reason, err)

	m.metrics.CheckCompleted(host, false)
}

func (m *Monitor) flip(f notify.Flip) {
	m.flipped.Add(1)
	m.metrics.Flipped(f.After)

	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Warn("Notifier panicked", slog.String("host", f.Host), slog.Any("panic", rec))
		}
	}()

	if err := m.notifier.Notify(f); err != nil {
		m.logger.Warn("Failed to send flip notification",
			slog.String("host", f.Host),
			slog.Any("err", err))
	}
}

// IsOK reports the current health of host. Unknown hosts are not ok.
func (m *Monitor) IsOK(host string) bool {
	n, found := m.nodes[host]
	if !found {
		return false
	}
	return n.IsOK()
}

// LastError describes why host is failing.
func (m *Monitor) LastError(host string) string {
	n, found := m.nodes[host]
	if !found {
		return "unknown host"
	}
	return n.LastError()
}

// Node returns the node tracking host.
func (m *Monitor) Node(host string) (*node.Node, bool) {
	n, found := m.nodes[host]
	return n, found
}

// Size is the number of monitored hosts.
func (m *Monitor) Size() int {
	return len(m.hosts)
}

func (m *Monitor) Started() int64 {
	return m.started.Load()
}

func (m *Monitor) OK() int64 {
	return m.ok.Load()
}

func (m *Monitor) Failed() int64 {
	return m.fail.Load()
}

func (m *Monitor) Flipped() int64 {
	return m.flipped.Load()
}

func (m *Monitor) Dropped() int64 {
	return m.dropped.Load()
}

// Processed is the number of delivered results.
func (m *Monitor) Processed() int64 {
	return m.ok.Load() + m.fail.Load()
}

// Remaining is the number of submitted checks not yet delivered.
func (m *Monitor) Remaining() int {
	return m.pool.InFlight()
}

func (m *Monitor) ResetFlipped() {
	m.flipped.Store(0)
}

// Zone builds a zone document from the current health of every host.
func (m *Monitor) Zone(builder *zone.Builder, topo zone.Topology) (*zone.Document, error) {
	return builder.Build(topo, m)
}

// HostStatus is the externally visible state of one host.
type HostStatus struct {
	Host        string    `json:"host"`
	OK          bool      `json:"ok"`
	LastError   string    `json:"last_error,omitempty"`
	LastChecked time.Time `json:"last_checked,omitempty"`
	History     []bool    `json:"history"`
}

// Stats is a point in time view of the monitor counters.
type Stats struct {
	State     string `json:"state"`
	Hosts     int    `json:"hosts"`
	Workers   int    `json:"workers"`
	Started   int64  `json:"started"`
	OK        int64  `json:"ok"`
	Failed    int64  `json:"failed"`
	Processed int64  `json:"processed"`
	Flipped   int64  `json:"flipped"`
	Dropped   int64  `json:"dropped"`
	Remaining int    `json:"remaining"`
}

func (m *Monitor) Stats() Stats {
	return Stats{
		State:     m.State().String(),
		Hosts:     m.Size(),
		Workers:   m.pool.Workers(),
		Started:   m.Started(),
		OK:        m.OK(),
		Failed:    m.Failed(),
		Processed: m.Processed(),
		Flipped:   m.Flipped(),
		Dropped:   m.Dropped(),
		Remaining: m.Remaining(),
	}
}

// Snapshot returns the status of every host sorted by name.
func (m *Monitor) Snapshot() []HostStatus {
	out := make([]HostStatus, 0, len(m.hosts))

	for _, host := range m.hosts {
		n := m.nodes[host]
		history := n.History()

		status := HostStatus{
			Host:    host,
			OK:      n.IsOK(),
			History: make([]bool, len(history)),
		}
		for i, s := range history {
			status.History[i] = s.OK
		}
		if len(history) > 0 {
			status.LastChecked = history[0].Time
		}
		if !status.OK {
			status.LastError = n.LastError()
		}
		out = append(out, status)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Host < out[j].Host })
	return out
}

func (m *Monitor) String() string {
	parts := make([]string, 0, len(m.hosts))
	for _, host := range m.hosts {
		parts = append(parts, m.nodes[host].String())
	}
	return "<Monitor " + strings.Join(parts, ",") + ">"
}
