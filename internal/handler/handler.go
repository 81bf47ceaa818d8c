package handler

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/angeloszaimis/dnslb/internal/flap"
	"github.com/angeloszaimis/dnslb/internal/monitor"
	"github.com/angeloszaimis/dnslb/internal/zone"
)

// MonitorSource exposes the live state of a monitor.
type MonitorSource interface {
	Stats() monitor.Stats
	Snapshot() []monitor.HostStatus
}

// ZoneSource returns the last published zone document, if any.
type ZoneSource interface {
	Last() (*zone.Document, time.Time)
}

// FlapSource reports the damping state of hosts that flipped.
type FlapSource interface {
	Stats() map[string]flap.State
}

type StatusHandler struct {
	logger  *slog.Logger
	monitor MonitorSource
	zones   ZoneSource
	flaps   FlapSource
	origin  string
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

// StatusReport is the body served on /status.
type StatusReport struct {
	Monitor       monitor.Stats        `json:"monitor"`
	Hosts         []monitor.HostStatus `json:"hosts"`
	Flapping      []string             `json:"flapping,omitempty"`
	Serial        uint32               `json:"serial,omitempty"`
	LastPublished *time.Time           `json:"last_published,omitempty"`
}

// NewStatusHandler serves read-only views of the daemon. flaps may be nil.
// origin is used when the zone is requested in master file format.
func NewStatusHandler(logger *slog.Logger, mon MonitorSource, zones ZoneSource, flaps FlapSource, origin string) *StatusHandler {
	return &StatusHandler{
		logger:  logger,
		monitor: mon,
		zones:   zones,
		flaps:   flaps,
		origin:  origin,
	}
}

// Healthz answers 200 while the monitor is running and 503 otherwise.
func (h *StatusHandler) Healthz(w http.ResponseWriter, _ *http.Request) {
	state := h.monitor.Stats().State

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if state != monitor.StateRunning.String() {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	w.Write([]byte(strings.ToLower(state) + "\n"))
}

func (h *StatusHandler) Status(w http.ResponseWriter, _ *http.Request) {
	report := StatusReport{
		Monitor: h.monitor.Stats(),
		Hosts:   h.monitor.Snapshot(),
	}

	if h.flaps != nil {
		for host, state := range h.flaps.Stats() {
			if state == flap.StateFlapping {
				report.Flapping = append(report.Flapping, host)
			}
		}
		sort.Strings(report.Flapping)
	}

	if doc, at := h.zones.Last(); doc != nil {
		report.Serial = doc.Serial
		report.LastPublished = &at
	}

	h.writeJSON(w, report)
}

// Zone serves the last published document as JSON, or as master file text
// with ?format=bind.
func (h *StatusHandler) Zone(w http.ResponseWriter, r *http.Request) {
	doc, _ := h.zones.Last()
	if doc == nil {
		http.Error(w, "no zone published yet", http.StatusNotFound)
		return
	}

	if r.URL.Query().Get("format") == "bind" {
		w.Header().Set("Content-Type", "text/dns; charset=utf-8")
		if err := doc.WriteZone(w, h.origin); err != nil {
			h.logger.Error("Failed to render zone", slog.Any("err", err))
		}
		return
	}

	data, err := doc.Marshal()
	if err != nil {
		h.logger.Error("Failed to encode zone", slog.Any("err", err))
		http.Error(w, "failed to encode zone", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// Logged wraps next with request logging.
func (h *StatusHandler) Logged(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		h.logger.Debug("Served request",
			slog.String("from", extractClientIP(r)),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", wrapped.statusCode),
			slog.Duration("duration", time.Since(start)))
	})
}

func (h *StatusHandler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", slog.Any("err", err))
	}
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}

	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}
