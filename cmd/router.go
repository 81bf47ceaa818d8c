package main

import (
	"net/http"

	"github.com/angeloszaimis/dnslb/internal/handler"
	"github.com/angeloszaimis/dnslb/internal/httpserver"
	"github.com/angeloszaimis/dnslb/internal/metrics"
)

func statusRoutes(status *handler.StatusHandler, m *metrics.Metrics) []httpserver.Route {
	return []httpserver.Route{
		{Path: "/metrics", Handler: m.Handler()},
		{Path: "/healthz", Handler: http.HandlerFunc(status.Healthz)},
		{Path: "/status", Handler: http.HandlerFunc(status.Status)},
		{Path: "/zone", Handler: http.HandlerFunc(status.Zone)},
	}
}
