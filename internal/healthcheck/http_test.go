package healthcheck_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/dnslb/internal/healthcheck"
)

var _ = Describe("HTTPCheck", func() {
	var (
		server *httptest.Server
		host   string
		port   string
		ctx    context.Context
		cancel context.CancelFunc
		check  *healthcheck.HTTPCheck
	)

	BeforeEach(func() {
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/_lvs.txt":
				if r.Host != "connect.example.org" {
					w.WriteHeader(http.StatusNotFound)
					return
				}
				w.Write([]byte("connect ok"))
			case "/down":
				w.WriteHeader(http.StatusServiceUnavailable)
			default:
				w.Write([]byte("hello"))
			}
		}))

		u, err := url.Parse(server.URL)
		Expect(err).NotTo(HaveOccurred())
		host, port, err = net.SplitHostPort(u.Host)
		Expect(err).NotTo(HaveOccurred())

		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		check = healthcheck.NewHTTPCheck(slog.New(slog.NewTextHandler(io.Discard, nil)))
	})

	AfterEach(func() {
		cancel()
		server.Close()
	})

	It("should pass on a 200 response", func() {
		ok, err := check.Check(ctx, host, healthcheck.Params{"port": port})
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
	})

	It("should send the virtual host and match the body", func() {
		ok, err := check.Check(ctx, host, healthcheck.Params{
			"port":  port,
			"url":   "/_lvs.txt",
			"vhost": "connect.example.org",
			"match": "connect",
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
	})

	It("should fail when the body does not match", func() {
		ok, err := check.Check(ctx, host, healthcheck.Params{"port": port, "match": "goodbye"})
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("should report non-200 responses as check failures", func() {
		ok, err := check.Check(ctx, host, healthcheck.Params{"port": port, "url": "down"})
		Expect(err).To(MatchError(healthcheck.ErrCheckFailed))
		Expect(err.Error()).To(ContainSubstring("503"))
		Expect(ok).To(BeFalse())
	})

	It("should return an error when the host is unreachable", func() {
		server.Close()
		ok, err := check.Check(ctx, host, healthcheck.Params{"port": port})
		Expect(err).To(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	Context("over TLS", func() {
		var tlsServer *httptest.Server

		BeforeEach(func() {
			tlsServer = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("secure"))
			}))
		})

		AfterEach(func() {
			tlsServer.Close()
		})

		It("should connect with certificate verification disabled", func() {
			u, _ := url.Parse(tlsServer.URL)
			h, p, _ := net.SplitHostPort(u.Host)
			ok, err := check.Check(ctx, h, healthcheck.Params{
				"port":     p,
				"use_tls":  true,
				"insecure": true,
				"match":    "secure",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
		})

		It("should reject an untrusted certificate by default", func() {
			u, _ := url.Parse(tlsServer.URL)
			h, p, _ := net.SplitHostPort(u.Host)
			ok, err := check.Check(ctx, h, healthcheck.Params{"port": p, "use_tls": true})
			Expect(err).To(HaveOccurred())
			Expect(ok).To(BeFalse())
		})
	})
})
