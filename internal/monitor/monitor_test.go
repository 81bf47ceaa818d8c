package monitor_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/dnslb/internal/healthcheck"
	"github.com/angeloszaimis/dnslb/internal/monitor"
	"github.com/angeloszaimis/dnslb/internal/notify"
	"github.com/angeloszaimis/dnslb/internal/zone"
)

type flipRecorder struct {
	mutex sync.Mutex
	flips []notify.Flip
}

func (r *flipRecorder) Notify(f notify.Flip) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.flips = append(r.flips, f)
	return nil
}

func (r *flipRecorder) Flips() []notify.Flip {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]notify.Flip(nil), r.flips...)
}

// healthyHosts reports success only for hosts in the set.
func healthyHosts(hosts ...string) healthcheck.HealthCheck {
	set := map[string]bool{}
	for _, h := range hosts {
		set[h] = true
	}
	return healthcheck.Func(func(_ context.Context, host string, _ healthcheck.Params) (bool, error) {
		return set[host], nil
	})
}

var _ = Describe("Monitor", func() {
	var (
		log      *slog.Logger
		recorder *flipRecorder
		mon      *monitor.Monitor
	)

	BeforeEach(func() {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
		recorder = &flipRecorder{}
	})

	AfterEach(func() {
		if mon != nil {
			mon.Halt()
		}
	})

	newMonitor := func(hosts []string, opts ...monitor.Option) *monitor.Monitor {
		opts = append([]monitor.Option{
			monitor.WithLogger(log),
			monitor.WithNotifier(recorder),
			monitor.WithSleepTime(20 * time.Millisecond),
			monitor.WithPollInterval(10 * time.Millisecond),
		}, opts...)
		return monitor.New(hosts, opts...)
	}

	Describe("construction", func() {
		It("should not start any work", func() {
			mon = newMonitor([]string{"192.0.2.1"})
			Expect(mon.State()).To(Equal(monitor.StateIdle))
			Expect(mon.Stats().Workers).To(Equal(2))
		})

		It("should deduplicate hosts", func() {
			mon = newMonitor([]string{"192.0.2.1", "192.0.2.1", "192.0.2.2"})
			Expect(mon.Size()).To(Equal(2))
		})

		It("should refuse to start twice", func() {
			mon = newMonitor([]string{"192.0.2.1"})
			Expect(mon.Start()).To(Succeed())
			Expect(mon.Start()).NotTo(Succeed())
		})
	})

	Describe("a full round", func() {
		BeforeEach(func() {
			mon = newMonitor([]string{"192.0.2.1", "192.0.2.2"})
			Expect(mon.Start()).To(Succeed())
		})

		It("should track health and notify recoveries", func() {
			accepted, err := mon.Schedule("test", healthyHosts("192.0.2.1"), nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(accepted).To(Equal(2))

			mon.Shutdown()

			Expect(mon.State()).To(Equal(monitor.StateStopped))
			Expect(mon.IsOK("192.0.2.1")).To(BeTrue())
			Expect(mon.IsOK("192.0.2.2")).To(BeFalse())
			Expect(mon.LastError("192.0.2.2")).To(Equal("check failed"))
			Expect(mon.Started()).To(Equal(int64(2)))
			Expect(mon.OK()).To(Equal(int64(1)))
			Expect(mon.Failed()).To(Equal(int64(1)))
			Expect(mon.Processed()).To(Equal(mon.Started()))
			Expect(mon.Flipped()).To(Equal(int64(1)))
			Expect(recorder.Flips()).To(ConsistOf(notify.Flip{Host: "192.0.2.1", Before: false, After: true}))
		})

		It("should publish only healthy addresses at the root", func() {
			mon.Schedule("test", healthyHosts("192.0.2.1"), nil)
			mon.Shutdown()

			builder := zone.NewBuilder(0, 0, log)
			doc, err := mon.Zone(builder, zone.Topology{
				Hosts: map[string][]string{
					"a": {"192.0.2.1"},
					"b": {"192.0.2.2"},
				},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(doc.Data[""].A).To(ConsistOf(zone.NewAddress("192.0.2.1")))
			Expect(doc.Data["a"].A).To(ConsistOf(zone.NewAddress("192.0.2.1")))
			Expect(doc.Data["b"].A).To(ConsistOf(zone.NewAddress("192.0.2.2")))
		})

		It("should notify when a healthy host goes down", func() {
			mon.Schedule("test", healthyHosts("192.0.2.1", "192.0.2.2"), nil)
			Eventually(mon.Processed).Should(Equal(int64(2)))

			mon.Schedule("test", healthyHosts("192.0.2.1"), nil)
			mon.Shutdown()

			Expect(mon.Flipped()).To(Equal(int64(3)))
			Expect(recorder.Flips()).To(ContainElement(notify.Flip{
				Host: "192.0.2.2", Before: true, After: false, Info: "check failed",
			}))

			n, found := mon.Node("192.0.2.2")
			Expect(found).To(BeTrue())
			Expect(n.FlippedDown()).To(BeTrue())
		})

		It("should record check errors with their cause", func() {
			boom := errors.New("connection refused")
			mon.Schedule("test", healthcheck.Func(func(context.Context, string, healthcheck.Params) (bool, error) {
				return false, boom
			}), nil)
			mon.Shutdown()

			Expect(mon.Failed()).To(Equal(int64(2)))
			Expect(mon.LastError("192.0.2.1")).To(Equal("check error connection refused"))
		})

		It("should classify bad answers as check failures", func() {
			mon.Schedule("test", healthcheck.Func(func(context.Context, string, healthcheck.Params) (bool, error) {
				return false, fmt.Errorf("%w: 503 Service Unavailable", healthcheck.ErrCheckFailed)
			}), nil)
			mon.Shutdown()

			Expect(mon.LastError("192.0.2.1")).To(HavePrefix("check failed"))
		})

		It("should reset the flip counter", func() {
			mon.Schedule("test", healthyHosts("192.0.2.1", "192.0.2.2"), nil)
			Eventually(mon.Flipped).Should(Equal(int64(2)))
			mon.ResetFlipped()
			Expect(mon.Flipped()).To(BeZero())
		})

		It("should keep going when the notifier panics", func() {
			mon.Halt()
			mon = newMonitor([]string{"192.0.2.1", "192.0.2.2"},
				monitor.WithNotifier(notify.NotifierFunc(func(notify.Flip) error {
					panic("notifier exploded")
				})))
			Expect(mon.Start()).To(Succeed())

			mon.Schedule("test", healthyHosts("192.0.2.1", "192.0.2.2"), nil)
			mon.Shutdown()

			Expect(mon.OK()).To(Equal(int64(2)))
			Expect(mon.IsOK("192.0.2.2")).To(BeTrue())
		})

		It("should refuse new checks after shutdown", func() {
			mon.Shutdown()
			_, err := mon.Schedule("test", healthyHosts(), nil)
			Expect(err).To(MatchError(monitor.ErrNotRunning))
		})

		It("should expose a snapshot of every host", func() {
			mon.Schedule("test", healthyHosts("192.0.2.1"), nil)
			mon.Shutdown()

			snap := mon.Snapshot()
			Expect(snap).To(HaveLen(2))
			Expect(snap[0].Host).To(Equal("192.0.2.1"))
			Expect(snap[0].OK).To(BeTrue())
			Expect(snap[0].History).To(Equal([]bool{true}))
			Expect(snap[1].LastError).To(Equal("check failed"))
			Expect(mon.Stats().State).To(Equal("STOPPED"))
			Expect(mon.String()).To(ContainSubstring("192.0.2.1 (true)"))
		})
	})

	Describe("concurrency", func() {
		It("should process every started check once drained", func() {
			hosts := make([]string, 6)
			for i := range hosts {
				hosts[i] = fmt.Sprintf("192.0.2.%d", i+1)
			}
			const rounds = 8

			mon = newMonitor(hosts, monitor.WithQueueSize(rounds*len(hosts)))
			Expect(mon.Start()).To(Succeed())

			flaky := healthcheck.Func(func(_ context.Context, host string, _ healthcheck.Params) (bool, error) {
				time.Sleep(time.Millisecond)
				return host[len(host)-1]%2 == 0, nil
			})

			for i := 0; i < rounds; i++ {
				_, err := mon.Schedule("flaky", flaky, nil)
				Expect(err).NotTo(HaveOccurred())
			}
			mon.Shutdown()

			Expect(mon.Started()).To(Equal(int64(rounds * len(hosts))))
			Expect(mon.Processed()).To(Equal(mon.Started()))
			Expect(mon.Remaining()).To(BeZero())

			for _, host := range hosts {
				n, _ := mon.Node(host)
				history := n.History()
				Expect(len(history)).To(BeNumerically("<=", 5))
				for _, s := range history {
					Expect(s.Time.IsZero()).To(BeFalse())
				}
			}
		})

		It("should deliver checks scheduled while shutting down", func() {
			hosts := []string{"192.0.2.1", "192.0.2.2", "192.0.2.3"}
			up := healthyHosts(hosts...)

			for i := 0; i < 100; i++ {
				m := newMonitor(hosts, monitor.WithQueueSize(64))
				Expect(m.Start()).To(Succeed())

				scheduled := make(chan struct{})
				go func() {
					defer close(scheduled)
					for {
						if _, err := m.Schedule("up", up, nil); err != nil {
							return
						}
					}
				}()

				m.Shutdown()
				Eventually(scheduled).Should(BeClosed())

				Expect(m.State()).To(Equal(monitor.StateStopped))
				Expect(m.Remaining()).To(BeZero())
				Expect(m.Processed()).To(Equal(m.Started()))
			}
		})

		It("should drop checks that do not fit the queue", func() {
			release := make(chan struct{})
			blocking := healthcheck.Func(func(context.Context, string, healthcheck.Params) (bool, error) {
				<-release
				return true, nil
			})

			mon = newMonitor([]string{"192.0.2.1", "192.0.2.2"}, monitor.WithMultiplier(1), monitor.WithQueueSize(1))
			Expect(mon.Start()).To(Succeed())

			total := 0
			for i := 0; i < 4; i++ {
				n, err := mon.Schedule("blocking", blocking, nil)
				Expect(err).NotTo(HaveOccurred())
				total += n
			}
			close(release)
			mon.Shutdown()

			Expect(mon.Dropped()).To(BeNumerically(">", 0))
			Expect(int64(total) + mon.Dropped()).To(Equal(int64(8)))
			Expect(mon.Processed()).To(Equal(mon.Started()))
		})
	})

	Describe("Halt", func() {
		It("should stop without waiting for all results", func() {
			mon = newMonitor([]string{"192.0.2.1", "192.0.2.2"}, monitor.WithMultiplier(1), monitor.WithQueueSize(8))
			Expect(mon.Start()).To(Succeed())

			slow := healthcheck.Func(func(context.Context, string, healthcheck.Params) (bool, error) {
				time.Sleep(50 * time.Millisecond)
				return true, nil
			})
			for i := 0; i < 4; i++ {
				mon.Schedule("slow", slow, nil)
			}

			mon.Halt()
			Expect(mon.State()).To(Equal(monitor.StateStopped))
			Expect(mon.Processed()).To(BeNumerically("<", mon.Started()))
			Eventually(mon.Done()).Should(BeClosed())
		})

		It("should stop an idle monitor", func() {
			mon = newMonitor([]string{"192.0.2.1"})
			mon.Halt()
			Expect(mon.State()).To(Equal(monitor.StateStopped))
		})
	})

	DescribeTable("state names",
		func(s monitor.State, name string) {
			Expect(s.String()).To(Equal(name))
		},
		Entry("idle", monitor.StateIdle, "IDLE"),
		Entry("running", monitor.StateRunning, "RUNNING"),
		Entry("draining", monitor.StateDraining, "DRAINING"),
		Entry("stopped", monitor.StateStopped, "STOPPED"),
		Entry("unknown", monitor.State(42), "UNKNOWN"),
	)
})
