// Package api exposes the graph, route construction and probing over HTTP.
package api

import (
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"lnprobe/internal/infra/health"
	"lnprobe/internal/infra/http/middleware"
	"lnprobe/internal/infra/metrics"
	"lnprobe/internal/infra/version"
)

// RouterConfig carries the process-level pieces mounted next to the API.
type RouterConfig struct {
	Registry   *prometheus.Registry
	AdminCIDRs []*net.IPNet
	Ready      func() error
}

// NewRouter mounts the API under /api and the admin endpoints at the root.
func NewRouter(h *Handler, cfg RouterConfig, logger zerolog.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Logger(logger))

	if cfg.Registry != nil {
		r.Handle("/metrics", middleware.AdminGate(cfg.AdminCIDRs, metrics.Handler(cfg.Registry)))
	}
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz(cfg.Ready))
	r.Get("/version", version.Handler)

	r.Route("/api", func(r chi.Router) {
		r.Get("/graph", h.Graph)
		r.Post("/routes", h.Routes)
		r.Post("/routes/hint", h.RouteFromHint)
		r.Get("/probe", h.Probe)
	})
	return r
}

// Server wraps the router in an http.Server.
func Server(addr string, handler http.Handler, timeouts Timeouts) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: timeouts.ReadHeader,
		ReadTimeout:       timeouts.Read,
		WriteTimeout:      timeouts.Write,
		IdleTimeout:       timeouts.Idle,
	}
}
