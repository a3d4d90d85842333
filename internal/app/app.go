// Package app wires configuration, the simulated backend, the probe engine
// and the HTTP server into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/lightningnetwork/lnd/routing/route"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"lnprobe/internal/api"
	"lnprobe/internal/config"
	"lnprobe/internal/infra/health"
	"lnprobe/internal/infra/metrics"
	"lnprobe/internal/infra/netutil"
	"lnprobe/internal/infra/ratelimit"
	"lnprobe/internal/probe"
	"lnprobe/internal/simnet"
)

const shutdownTimeout = 5 * time.Second

type App struct {
	cfg      config.Config
	logger   zerolog.Logger
	registry *prometheus.Registry
	Network  *simnet.Network
	Engine   *probe.Engine
}

// Option adjusts an App before it is built.
type Option func(*options)

type options struct {
	self route.Vertex
	now  func() time.Time
}

// WithSelf overrides the local node named by the graph file.
func WithSelf(v route.Vertex) Option { return func(o *options) { o.self = v } }

// WithClock replaces the probe session clock.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

func New(cfg config.Config, logger zerolog.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	chain, err := simnet.ChainParams(cfg.Network.Chain)
	if err != nil {
		return nil, err
	}
	exclusion, err := probe.ParseNodeExclusion(cfg.Probe.NodeExclusion)
	if err != nil {
		return nil, err
	}
	registry := metrics.Init(logger)

	network, err := simnet.Open(cfg.Network.GraphPath, simnet.Options{
		Self:    o.self,
		Chain:   chain,
		Latency: time.Duration(cfg.Network.AttemptLatencyMs) * time.Millisecond,
		MaxHops: cfg.Probe.MaxHops,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("open graph %s: %w", cfg.Network.GraphPath, err)
	}

	var limiter probe.Limiter
	if rate := cfg.Probe.AttemptsPerSecond; rate > 0 {
		limiter = ratelimit.NewTokenBucket(cfg.Probe.AttemptBurst, rate)
	}
	engine := probe.New(probe.Config{
		Self:          network.Self(),
		Searcher:      network,
		Attempter:     network,
		NodeExclusion: exclusion,
		MaxRoutes:     cfg.Probe.MaxRoutes,
		Limiter:       limiter,
		Now:           o.now,
	}, logger)

	return &App{cfg: cfg, logger: logger, registry: registry, Network: network, Engine: engine}, nil
}

// ProbeRequest applies the configured defaults to a probe.
func (a *App) ProbeRequest(req probe.Request) probe.Request {
	if req.Timeout == 0 {
		req.Timeout = a.cfg.Probe.Timeout()
	}
	if req.FinalCLTVDelta == 0 {
		req.FinalCLTVDelta = uint16(a.cfg.Probe.FinalCLTVDelta)
	}
	return req
}

// Parallelism is the configured number of concurrent probe sessions.
func (a *App) Parallelism() int { return a.cfg.Probe.Parallelism }

// Handler builds the HTTP surface.
func (a *App) Handler() (http.Handler, error) {
	cidrs, err := netutil.ParseCIDRs(a.cfg.Server.AdminAllowCIDRs)
	if err != nil {
		return nil, err
	}
	h := api.NewHandler(a.Network, a.Engine, api.Defaults{
		FinalCLTVDelta: uint16(a.cfg.Probe.FinalCLTVDelta),
		MaxRoutes:      a.cfg.Probe.MaxRoutes,
		ProbeTimeout:   a.cfg.Probe.Timeout(),
	}, a.logger)
	return api.NewRouter(h, api.RouterConfig{
		Registry:   a.registry,
		AdminCIDRs: cidrs,
		Ready:      a.ready,
	}, a.logger), nil
}

func (a *App) ready() error {
	snap, err := a.Network.Graph(context.Background())
	if err != nil {
		return err
	}
	if len(snap.Channels) == 0 {
		return errors.New("graph has no channels")
	}
	return nil
}

// Serve runs the HTTP server and the graph watcher until ctx ends or one of
// them fails.
func (a *App) Serve(ctx context.Context) error {
	handler, err := a.Handler()
	if err != nil {
		return err
	}
	server := api.Server(a.cfg.Server.Addr, handler, api.TimeoutsFromConfig(a.cfg))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info().Str("addr", a.cfg.Server.Addr).Str("self", a.Network.Self().String()).Msg("lnprobe started")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if a.cfg.Network.Watch {
		g.Go(func() error { return a.Network.Watch(gctx, a.cfg.Network.GraphPath) })
	}
	g.Go(func() error {
		<-gctx.Done()
		health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			a.logger.Error().Err(err).Msg("graceful shutdown failed")
		}
		return nil
	})

	health.SetReady(true)
	err = g.Wait()
	a.logger.Info().Msg("shutdown complete")
	return err
}
