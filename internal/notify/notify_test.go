package notify_test

import (
	"bytes"
	"errors"
	"log/slog"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/dnslb/internal/flap"
	"github.com/angeloszaimis/dnslb/internal/notify"
)

type recorder struct {
	flips []notify.Flip
}

func (r *recorder) Notify(f notify.Flip) error {
	r.flips = append(r.flips, f)
	return nil
}

var _ = Describe("LogNotifier", func() {
	It("should log the flip with its details", func() {
		var buf bytes.Buffer
		n := notify.NewLogNotifier(slog.New(slog.NewTextHandler(&buf, nil)))

		Expect(n.Notify(notify.Flip{Host: "192.0.2.1", Before: true, After: false, Info: "timeout"})).To(Succeed())
		Expect(buf.String()).To(ContainSubstring("level=WARN"))
		Expect(buf.String()).To(ContainSubstring("host=192.0.2.1"))
		Expect(buf.String()).To(ContainSubstring("info=timeout"))
	})

	It("should log recoveries at info level", func() {
		var buf bytes.Buffer
		n := notify.NewLogNotifier(slog.New(slog.NewTextHandler(&buf, nil)))

		Expect(n.Notify(notify.Flip{Host: "192.0.2.1", Before: false, After: true})).To(Succeed())
		Expect(buf.String()).To(ContainSubstring("level=INFO"))
	})
})

var _ = Describe("Damped", func() {
	var (
		rec    *recorder
		damped *notify.Damped
		log    *slog.Logger
	)

	BeforeEach(func() {
		rec = &recorder{}
		log = slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
		damped = notify.NewDamped(rec, flap.NewRegistry(3, time.Hour), log)
	})

	It("should forward flips of stable hosts", func() {
		damped.Notify(notify.Flip{Host: "a", Before: true, After: false})
		damped.Notify(notify.Flip{Host: "a", Before: false, After: true})
		Expect(rec.flips).To(HaveLen(2))
	})

	It("should suppress flips once a host is flapping", func() {
		for i := 0; i < 5; i++ {
			damped.Notify(notify.Flip{Host: "a", Before: i%2 == 0, After: i%2 != 0})
		}
		damped.Notify(notify.Flip{Host: "b", Before: true, After: false})

		Expect(rec.flips).To(HaveLen(3))
		Expect(rec.flips[2].Host).To(Equal("b"))
	})
})

var _ = Describe("Multi", func() {
	It("should notify all and return the first error", func() {
		rec := &recorder{}
		boom := errors.New("boom")
		m := notify.Multi{
			notify.NotifierFunc(func(notify.Flip) error { return boom }),
			rec,
		}

		Expect(m.Notify(notify.Flip{Host: "a"})).To(MatchError(boom))
		Expect(rec.flips).To(HaveLen(1))
	})
})
