package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/angeloszaimis/dnslb/internal/healthcheck"
)

var (
	// ErrNoResultsPending is returned by Poll when no unit is in flight.
	ErrNoResultsPending = errors.New("no results pending")
	// ErrClosed is returned when submitting to a closed pool.
	ErrClosed = errors.New("scheduler closed")
)

// Unit is one check invocation against one host. Exactly one of OnSuccess
// and OnFailure is called once the unit completes.
type Unit struct {
	Name      string
	Host      string
	Check     healthcheck.HealthCheck
	Params    healthcheck.Params
	OnSuccess func(host string, ok bool)
	OnFailure func(host string, err error)
}

type result struct {
	unit     Unit
	ok       bool
	err      error
	duration time.Duration
}

// Observer is told how long each check took. It is optional.
type Observer interface {
	ObserveCheck(name string, ok bool, d time.Duration)
}

// Pool is a fixed size worker pool with a bounded submission queue.
type Pool struct {
	workers  int
	timeout  time.Duration
	logger   *slog.Logger
	observer Observer

	jobs    chan Unit
	results chan result
	quit    chan struct{}

	inFlight atomic.Int64
	closed   atomic.Bool
	started  atomic.Bool

	stopOnce sync.Once
	wg       sync.WaitGroup
	sendMu   sync.RWMutex
}

// New creates a pool. Nothing runs until Start is called.
func New(workers, queueSize int, timeout time.Duration, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = workers
	}

	return &Pool{
		workers: workers,
		timeout: timeout,
		logger:  logger,
		jobs:    make(chan Unit, queueSize),
		results: make(chan result, workers+queueSize),
		quit:    make(chan struct{}),
	}
}

// SetObserver registers a check duration observer. Call before Start.
func (p *Pool) SetObserver(o Observer) {
	p.observer = o
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int {
	return p.workers
}

// Start launches the worker goroutines. Calling it twice is a no-op.
func (p *Pool) Start() {
	if !p.started.CompareAndSwap(false, true) {
		return
	}

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work()
	}
}

// Submit queues a unit without blocking. It returns false when the queue
// is full; ErrClosed is returned once the pool stopped accepting work.
func (p *Pool) Submit(u Unit) (bool, error) {
	p.sendMu.RLock()
	defer p.sendMu.RUnlock()

	if p.closed.Load() {
		return false, ErrClosed
	}

	p.inFlight.Add(1)
	select {
	case p.jobs <- u:
		return true, nil
	default:
		p.inFlight.Add(-1)
		return false, nil
	}
}

// InFlight returns the number of submitted units whose result has not yet
// been delivered.
func (p *Pool) InFlight() int {
	return int(p.inFlight.Load())
}

// Poll delivers completed results on the calling goroutine. It waits up to
// wait for the first result and then drains whatever else is ready.
func (p *Pool) Poll(wait time.Duration) error {
	if p.inFlight.Load() == 0 {
		return ErrNoResultsPending
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case r := <-p.results:
		p.deliver(r)
	case <-timer.C:
		return nil
	}

	for {
		select {
		case r := <-p.results:
			p.deliver(r)
		default:
			return nil
		}
	}
}

// CloseSubmissions makes every later Submit fail with ErrClosed. Workers
// keep running so units already queued still complete.
func (p *Pool) CloseSubmissions() {
	p.sendMu.Lock()
	p.closed.Store(true)
	p.sendMu.Unlock()
}

// Close stops accepting work and joins the workers once the queue is empty.
// Results already produced remain available to Poll.
func (p *Pool) Close() {
	p.stop(false)
}

// Dismiss stops the workers without waiting for queued units. Units still
// queued are discarded and their results are never delivered.
func (p *Pool) Dismiss() {
	p.stop(true)
}

func (p *Pool) stop(abandon bool) {
	p.stopOnce.Do(func() {
		p.sendMu.Lock()
		p.closed.Store(true)
		close(p.jobs)
		p.sendMu.Unlock()

		if abandon {
			close(p.quit)
		}
	})
	p.wg.Wait()
}

func (p *Pool) work() {
	defer p.wg.Done()

	for {
		select {
		case <-p.quit:
			return
		case u, ok := <-p.jobs:
			if !ok {
				return
			}
			r := p.run(u)
			select {
			case p.results <- r:
			case <-p.quit:
				return
			}
		}
	}
}

func (p *Pool) run(u Unit) (r result) {
	r.unit = u
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			r.ok = false
			r.err = fmt.Errorf("check panicked: %v", rec)
		}
		r.duration = time.Since(start)
		if p.observer != nil {
			p.observer.ObserveCheck(u.Name, r.err == nil && r.ok, r.duration)
		}
	}()

	ctx := context.Background()
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	r.ok, r.err = u.Check.Check(ctx, u.Host, u.Params)
	return r
}

func (p *Pool) deliver(r result) {
	p.inFlight.Add(-1)

	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Warn("result handler panicked",
				slog.String("host", r.unit.Host),
				slog.Any("panic", rec))
		}
	}()

	if r.err != nil {
		if r.unit.OnFailure != nil {
			r.unit.OnFailure(r.unit.Host, r.err)
		}
		return
	}

	if r.unit.OnSuccess != nil {
		r.unit.OnSuccess(r.unit.Host, r.ok)
	}
}
