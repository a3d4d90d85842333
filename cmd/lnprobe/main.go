package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/btcsuite/btcd/btcutil"
	_ "github.com/joho/godotenv/autoload"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"lnprobe/internal/api"
	"lnprobe/internal/app"
	"lnprobe/internal/config"
	"lnprobe/internal/infra/log"
	"lnprobe/internal/probe"
	"lnprobe/internal/routing"
)

func bootstrap(cmd *cli.Command) (*app.App, zerolog.Logger, error) {
	cfg, err := config.LoadFrom(cmd.String("config"))
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load config: %w", err)
	}
	if v := cmd.String("graph"); v != "" {
		cfg.Network.GraphPath = v
	}
	logger := log.NewLogger(cfg)

	var opts []app.Option
	if v := cmd.String("self"); v != "" {
		self, err := route.NewVertexFromStr(v)
		if err != nil {
			return nil, logger, fmt.Errorf("--self: %w", err)
		}
		opts = append(opts, app.WithSelf(self))
	}
	a, err := app.New(cfg, logger, opts...)
	return a, logger, err
}

func serve(ctx context.Context, cmd *cli.Command) error {
	a, _, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return a.Serve(ctx)
}

func routes(ctx context.Context, cmd *cli.Command) error {
	a, _, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	dest, amt, err := target(cmd, cmd.Args().First())
	if err != nil {
		return err
	}
	req := routing.QueryRequest{
		Source:         a.Network.Self(),
		Destination:    dest,
		Mtokens:        amt,
		FinalCLTVDelta: a.ProbeRequest(probe.Request{}).FinalCLTVDelta,
		MaxRoutes:      int(cmd.Int("max-routes")),
	}
	found, err := routing.QueryRoutes(ctx, a.Network, req)
	if err != nil {
		return err
	}
	out := api.RoutesResponse{Routes: make([]api.RouteDTO, 0, len(found))}
	for _, r := range found {
		out.Routes = append(out.Routes, api.NewRouteDTO(r))
	}
	return printJSON(out)
}

func probeCmd(ctx context.Context, cmd *cli.Command) error {
	a, logger, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	if cmd.Args().Len() == 0 {
		return fmt.Errorf("expected at least one destination")
	}
	reqs := make([]probe.Request, 0, cmd.Args().Len())
	for _, arg := range cmd.Args().Slice() {
		dest, amt, err := target(cmd, arg)
		if err != nil {
			return err
		}
		reqs = append(reqs, a.ProbeRequest(probe.Request{Destination: dest, Mtokens: amt, Timeout: cmd.Duration("timeout")}))
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	parallel := int(cmd.Int("parallel"))
	if parallel <= 0 {
		parallel = a.Parallelism()
	}
	results, err := a.Engine.ProbeAll(ctx, reqs, parallel)
	if err != nil {
		return err
	}

	type outcome struct {
		Destination string        `json:"destination"`
		Route       *api.RouteDTO `json:"route,omitempty"`
		Error       string        `json:"error,omitempty"`
	}
	out := make([]outcome, len(results))
	failed := 0
	for i, res := range results {
		out[i] = outcome{Destination: res.Request.Destination.String()}
		if res.Route != nil {
			r := api.NewRouteDTO(*res.Route)
			out[i].Route = &r
		}
		if res.Err != nil {
			failed++
			out[i].Error = res.Err.Error()
			logger.Warn().Err(res.Err).Str("destination", out[i].Destination).Msg("probe failed")
		}
	}
	if err := printJSON(out); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d probes failed", failed, len(results))
	}
	return nil
}

func target(cmd *cli.Command, dest string) (route.Vertex, lnwire.MilliSatoshi, error) {
	v, err := route.NewVertexFromStr(dest)
	if err != nil {
		return route.Vertex{}, 0, fmt.Errorf("destination %q: %w", dest, err)
	}
	tokens := cmd.Int("tokens")
	if tokens <= 0 {
		return route.Vertex{}, 0, fmt.Errorf("--tokens must be positive")
	}
	return v, lnwire.NewMSatFromSatoshis(btcutil.Amount(tokens)), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	common := []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to config file",
			Sources: cli.EnvVars("LNPROBE_CONFIG"),
		},
		&cli.StringFlag{
			Name:  "graph",
			Usage: "Path to the JSON channel graph, overriding network.graph_path",
		},
		&cli.StringFlag{
			Name:  "self",
			Usage: "Public key of the local node, overriding the graph's local_node",
		},
	}
	amount := func() cli.Flag {
		return &cli.IntFlag{Name: "tokens", Aliases: []string{"t"}, Usage: "Amount in tokens", Value: 1000}
	}

	cmd := &cli.Command{
		Name:  "lnprobe",
		Usage: "Lightning route construction and probing against a simulated channel graph",
		Flags: common,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API",
				Action: serve,
			},
			{
				Name:      "routes",
				Usage:     "Print candidate routes to a destination",
				ArgsUsage: "<destination>",
				Flags:     []cli.Flag{amount(), &cli.IntFlag{Name: "max-routes", Value: 3}},
				Action:    routes,
			},
			{
				Name:      "probe",
				Usage:     "Probe one or more destinations in parallel",
				ArgsUsage: "<destination>...",
				Flags: []cli.Flag{
					amount(),
					&cli.DurationFlag{Name: "timeout", Usage: "Per-probe deadline, the configured default when zero"},
					&cli.IntFlag{Name: "parallel", Usage: "Concurrent probe sessions, the configured default when zero"},
				},
				Action: probeCmd,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "lnprobe:", err)
		os.Exit(1)
	}
}
