package scheduler_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/dnslb/internal/healthcheck"
	"github.com/angeloszaimis/dnslb/internal/scheduler"
)

type outcomes struct {
	mutex    sync.Mutex
	success  map[string]int
	failures map[string][]error
}

func newOutcomes() *outcomes {
	return &outcomes{success: map[string]int{}, failures: map[string][]error{}}
}

func (o *outcomes) onSuccess(host string, ok bool) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.success[host]++
}

func (o *outcomes) onFailure(host string, err error) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.failures[host] = append(o.failures[host], err)
}

var _ = Describe("Pool", func() {
	var (
		log  *slog.Logger
		pool *scheduler.Pool
		out  *outcomes
	)

	BeforeEach(func() {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
		out = newOutcomes()
	})

	AfterEach(func() {
		if pool != nil {
			pool.Dismiss()
		}
	})

	unit := func(host string, check healthcheck.HealthCheck) scheduler.Unit {
		return scheduler.Unit{
			Name:      "test",
			Host:      host,
			Check:     check,
			OnSuccess: out.onSuccess,
			OnFailure: out.onFailure,
		}
	}

	// settle delivers results until nothing is in flight.
	settle := func() {
		for pool.InFlight() > 0 {
			_ = pool.Poll(10 * time.Millisecond)
		}
	}

	healthy := healthcheck.Func(func(context.Context, string, healthcheck.Params) (bool, error) {
		return true, nil
	})

	It("should report no pending results when idle", func() {
		pool = scheduler.New(2, 2, time.Second, log)
		pool.Start()
		Expect(pool.Poll(10 * time.Millisecond)).To(MatchError(scheduler.ErrNoResultsPending))
	})

	It("should deliver each result exactly once", func() {
		pool = scheduler.New(4, 8, time.Second, log)
		pool.Start()

		for _, host := range []string{"a", "b", "c", "d"} {
			accepted, err := pool.Submit(unit(host, healthy))
			Expect(err).NotTo(HaveOccurred())
			Expect(accepted).To(BeTrue())
		}

		settle()
		Expect(pool.InFlight()).To(BeZero())
		Expect(out.success).To(Equal(map[string]int{"a": 1, "b": 1, "c": 1, "d": 1}))
	})

	It("should route check errors to the failure handler", func() {
		pool = scheduler.New(1, 1, time.Second, log)
		pool.Start()

		boom := errors.New("boom")
		pool.Submit(unit("a", healthcheck.Func(func(context.Context, string, healthcheck.Params) (bool, error) {
			return false, boom
		})))
		settle()

		Expect(out.failures["a"]).To(ConsistOf(boom))
		Expect(out.success).To(BeEmpty())
	})

	It("should turn a panicking check into a failure", func() {
		pool = scheduler.New(1, 1, time.Second, log)
		pool.Start()

		pool.Submit(unit("a", healthcheck.Func(func(context.Context, string, healthcheck.Params) (bool, error) {
			panic("check exploded")
		})))
		settle()

		Expect(out.failures["a"]).To(HaveLen(1))
		Expect(out.failures["a"][0].Error()).To(ContainSubstring("check exploded"))
	})

	It("should survive a panicking handler", func() {
		pool = scheduler.New(1, 2, time.Second, log)
		pool.Start()

		bad := unit("a", healthy)
		bad.OnSuccess = func(string, bool) { panic("handler exploded") }
		pool.Submit(bad)
		pool.Submit(unit("b", healthy))

		Expect(settle).NotTo(Panic())
		Expect(out.success).To(HaveKeyWithValue("b", 1))
		Expect(pool.InFlight()).To(BeZero())
	})

	It("should cancel checks that exceed the timeout", func() {
		pool = scheduler.New(1, 1, 20*time.Millisecond, log)
		pool.Start()

		pool.Submit(unit("slow", healthcheck.Func(func(ctx context.Context, _ string, _ healthcheck.Params) (bool, error) {
			<-ctx.Done()
			return false, ctx.Err()
		})))
		settle()

		Expect(out.failures["slow"]).To(ConsistOf(MatchError(context.DeadlineExceeded)))
	})

	It("should refuse work when the queue is full", func() {
		release := make(chan struct{})
		blocking := healthcheck.Func(func(context.Context, string, healthcheck.Params) (bool, error) {
			<-release
			return true, nil
		})

		pool = scheduler.New(1, 1, 0, log)
		// Not started: nothing drains the queue.
		first, _ := pool.Submit(unit("a", blocking))
		second, _ := pool.Submit(unit("b", blocking))

		Expect(first).To(BeTrue())
		Expect(second).To(BeFalse())
		Expect(pool.InFlight()).To(Equal(1))

		close(release)
		pool.Start()
		settle()
		Expect(out.success).To(Equal(map[string]int{"a": 1}))
	})

	It("should reject submissions after Close", func() {
		pool = scheduler.New(1, 1, time.Second, log)
		pool.Start()
		pool.Close()

		accepted, err := pool.Submit(unit("a", healthy))
		Expect(accepted).To(BeFalse())
		Expect(err).To(MatchError(scheduler.ErrClosed))
	})

	It("should finish queued work after submissions close", func() {
		release := make(chan struct{})
		pool = scheduler.New(1, 2, time.Second, log)
		pool.Start()

		accepted, err := pool.Submit(unit("a", healthcheck.Func(func(context.Context, string, healthcheck.Params) (bool, error) {
			<-release
			return true, nil
		})))
		Expect(err).NotTo(HaveOccurred())
		Expect(accepted).To(BeTrue())

		pool.CloseSubmissions()
		accepted, err = pool.Submit(unit("b", healthy))
		Expect(accepted).To(BeFalse())
		Expect(err).To(MatchError(scheduler.ErrClosed))
		Expect(pool.InFlight()).To(Equal(1))

		close(release)
		settle()
		Expect(out.success).To(Equal(map[string]int{"a": 1}))
		pool.Close()
	})

	It("should poll results in completion order", func() {
		pool = scheduler.New(2, 2, time.Second, log)
		pool.Start()

		var order []string
		var mutex sync.Mutex
		record := func(host string, _ bool) {
			mutex.Lock()
			defer mutex.Unlock()
			order = append(order, host)
		}

		slow := unit("slow", healthcheck.Func(func(context.Context, string, healthcheck.Params) (bool, error) {
			time.Sleep(50 * time.Millisecond)
			return true, nil
		}))
		slow.OnSuccess = record
		fast := unit("fast", healthy)
		fast.OnSuccess = record

		pool.Submit(slow)
		pool.Submit(fast)
		settle()

		Expect(order).To(Equal([]string{"fast", "slow"}))
	})

	It("should report check durations to the observer", func() {
		obs := &countingObserver{}
		pool = scheduler.New(2, 2, time.Second, log)
		pool.SetObserver(obs)
		pool.Start()

		pool.Submit(unit("a", healthy))
		pool.Submit(unit("b", healthy))
		settle()

		Expect(obs.calls.Load()).To(Equal(int64(2)))
	})
})

type countingObserver struct {
	calls atomic.Int64
}

func (c *countingObserver) ObserveCheck(string, bool, time.Duration) {
	c.calls.Add(1)
}
