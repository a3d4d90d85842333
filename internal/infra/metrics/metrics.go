package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	ProbeSessionsTotal   = prometheus.NewCounter(prometheus.CounterOpts{Name: "probe_sessions_total", Help: "Probe sessions started"})
	ProbeAttemptsTotal   = prometheus.NewCounter(prometheus.CounterOpts{Name: "probe_attempts_total", Help: "Route attempts sent by probes"})
	RoutingFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "probe_routing_failures_total", Help: "Per-hop routing failures by reason"}, []string{"reason"})
	ProbeOutcomesTotal   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "probe_outcomes_total", Help: "Probe sessions by terminal state"}, []string{"state"})
	ProbeDurationMs      = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "probe_duration_ms", Help: "Probe session wall time", Buckets: prometheus.ExponentialBuckets(1, 2, 18)})
	RouteQueriesTotal    = prometheus.NewCounter(prometheus.CounterOpts{Name: "route_queries_total", Help: "Route searches issued to the backend"})
	RouteCandidates      = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "route_candidates", Help: "Routes returned per search", Buckets: prometheus.LinearBuckets(0, 1, 11)})

	// Graph
	GraphChannels  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "graph_channels", Help: "Channels in the loaded graph"})
	GraphNodes     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "graph_nodes", Help: "Nodes in the loaded graph"})
	GraphReloads   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "graph_reloads_total", Help: "Graph reloads by result"}, []string{"result"})
	APIErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "api_errors_total", Help: "API errors by endpoint and code"}, []string{"endpoint", "code"})
)

func Init(logger zerolog.Logger) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	toRegister := []prometheus.Collector{
		ProbeSessionsTotal, ProbeAttemptsTotal, RoutingFailuresTotal, ProbeOutcomesTotal,
		ProbeDurationMs, RouteQueriesTotal, RouteCandidates,
		GraphChannels, GraphNodes, GraphReloads, APIErrorsTotal,
		collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	for _, c := range toRegister {
		_ = reg.Register(c)
	}
	logger.Info().Msg("Prometheus metrics initialized")
	return reg
}

func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
