// Package simnet is an in-memory Lightning backend built from a JSON channel
// graph. It serves graph snapshots, route searches and simulated attempts so
// the probe engine can run without a live node.
package simnet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"
	"github.com/rs/zerolog"

	"lnprobe/internal/graph"
	"lnprobe/internal/infra/metrics"
	"lnprobe/internal/probe"
	"lnprobe/internal/routing"
)

var ErrUnknownChannel = errors.New("simnet: unknown channel")

// Options configures a Network.
type Options struct {
	// Self overrides the file's local node.
	Self route.Vertex
	// Chain selects the genesis hash stamped on channel updates.
	Chain *chaincfg.Params
	// Latency is spent per hop of every attempt.
	Latency time.Duration
	MaxHops int
}

// Network is safe for concurrent use; Reload swaps the whole graph.
type Network struct {
	opts   Options
	logger zerolog.Logger

	mu sync.RWMutex
	st *state
}

// Open loads path and returns a Network over it.
func Open(path string, opts Options, logger zerolog.Logger) (*Network, error) {
	st, err := loadFile(path)
	if err != nil {
		return nil, err
	}
	return newNetwork(st, opts, logger)
}

func newNetwork(st *state, opts Options, logger zerolog.Logger) (*Network, error) {
	if opts.Chain == nil {
		opts.Chain = &chaincfg.RegressionNetParams
	}
	if opts.MaxHops <= 0 {
		opts.MaxHops = graph.DefaultMaxHops
	}
	n := &Network{opts: opts, logger: logger.With().Str("component", "simnet").Logger()}
	if err := n.swap(st); err != nil {
		return nil, err
	}
	return n, nil
}

// ChainParams maps a configured chain name to its parameters.
func ChainParams(name string) (*chaincfg.Params, error) {
	switch name {
	case "mainnet", "":
		return &chaincfg.MainNetParams, nil
	case "testnet":
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "simnet":
		return &chaincfg.SimNetParams, nil
	}
	return nil, fmt.Errorf("simnet: unknown chain %q", name)
}

func (n *Network) swap(st *state) error {
	if n.opts.Self != (route.Vertex{}) {
		st.self = n.opts.Self
	}
	if st.self == (route.Vertex{}) {
		return errors.New("simnet: no local node")
	}
	n.mu.Lock()
	n.st = st
	n.mu.Unlock()
	metrics.GraphChannels.Set(float64(len(st.snapshot.Channels)))
	metrics.GraphNodes.Set(float64(len(st.snapshot.Nodes)))
	return nil
}

// Reload replaces the graph with the contents of path.
func (n *Network) Reload(path string) error {
	st, err := loadFile(path)
	if err != nil {
		return err
	}
	return n.swap(st)
}

func (n *Network) state() *state {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.st
}

// Self is the local node attempts are sent from.
func (n *Network) Self() route.Vertex { return n.state().self }

// Height is the simulated block height.
func (n *Network) Height() uint32 { return n.state().height }

func (n *Network) Graph(ctx context.Context) (graph.Snapshot, error) {
	return n.state().snapshot, ctx.Err()
}

func (n *Network) GetChannel(ctx context.Context, id lnwire.ShortChannelID) (graph.Channel, error) {
	st := n.state()
	i, ok := st.byID[id]
	if !ok {
		return graph.Channel{}, fmt.Errorf("%w: %s", ErrUnknownChannel, graph.FormatChannelID(id))
	}
	return st.snapshot.Channels[i], ctx.Err()
}

// QueryRoutes returns up to MaxRoutes edge-disjoint least-fee routes.
func (n *Network) QueryRoutes(ctx context.Context, req routing.SearchRequest) (routing.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return routing.SearchResult{}, err
	}
	st := n.state()
	res := routing.SearchResult{BlockHeight: st.height}

	var relayLimit uint32
	if req.CLTVLimit > 0 {
		if req.CLTVLimit <= uint32(req.FinalCLTVDelta) {
			return res, nil
		}
		relayLimit = req.CLTVLimit - uint32(req.FinalCLTVDelta)
	}
	limit := req.MaxRoutes
	if limit <= 0 {
		limit = 1
	}
	paths, err := routing.CalculatePaths(routing.HopsRequest{
		Channels:   st.snapshot.Channels,
		Start:      st.self,
		End:        req.Destination,
		Mtokens:    req.Mtokens,
		Exclusions: routing.ExclusionSet{}.With(req.IgnoredEdges, req.IgnoredNodes),
		MaxHops:    n.opts.MaxHops,
		CLTVLimit:  relayLimit,
	}, limit)
	if err != nil {
		return res, err
	}

	for _, path := range paths {
		if len(path) == 0 {
			continue
		}
		r, err := routing.RouteFromChannels(routing.ChannelsRoute{
			Channels:    path,
			Destination: req.Destination,
			Mtokens:     req.Mtokens,
			Height:      st.height,
			CLTVDelta:   req.FinalCLTVDelta,
		})
		if err != nil {
			return res, err
		}
		if req.FeeLimit != nil && r.FeeMtokens > *req.FeeLimit {
			continue
		}
		res.Routes = append(res.Routes, rawRoute(r, st))
	}
	return res, nil
}

func rawRoute(r routing.Route, st *state) routing.RawRoute {
	raw := routing.RawRoute{
		Hops:          make([]routing.RawHop, len(r.Hops)),
		TotalTimeLock: r.Timeout,
		TotalFeesMsat: uint64(r.FeeMtokens),
		TotalAmtMsat:  uint64(r.Mtokens),
	}
	prob := 1.0
	for i, h := range r.Hops {
		raw.Hops[i] = routing.RawHop{
			ChanID:           h.Channel.ToUint64(),
			ChanCapacity:     int64(h.ChannelCapacity),
			AmtToForwardMsat: uint64(h.ForwardMtokens),
			FeeMsat:          uint64(h.FeeMtokens),
			Expiry:           h.Timeout,
			PubKey:           h.PublicKey.String(),
			Policy:           h.Policy,
		}
		// Uniform a priori liquidity: the chance an amount fits the channel.
		if c := lnwire.NewMSatFromSatoshis(h.ChannelCapacity); c > 0 {
			amt := h.ForwardMtokens + h.FeeMtokens
			if amt >= c {
				prob = 0
			} else {
				prob *= float64(c-amt) / float64(c)
			}
		}
	}
	raw.SuccessProb = prob
	return raw
}

// SendToRoute walks r hop by hop the way forwarding nodes would check an
// incoming HTLC and reports the first failure. The destination never knows
// the hash, so a route that reaches it fails there with
// IncorrectOrUnknownPaymentDetails.
func (n *Network) SendToRoute(ctx context.Context, hash lntypes.Hash, r routing.Route) (probe.AttemptResult, error) {
	st := n.state()
	if len(r.Hops) == 0 {
		return probe.AttemptResult{}, errors.New("simnet: empty route")
	}
	n.logger.Debug().Str("hash", hash.String()).Int("hops", len(r.Hops)).Msg("simulating attempt")

	from := st.self
	incomingTimeout := r.Timeout
	for i, h := range r.Hops {
		if err := n.wait(ctx); err != nil {
			return probe.AttemptResult{}, err
		}
		fail := func(code lnwire.FailCode, update *lnwire.ChannelUpdate1) (probe.AttemptResult, error) {
			return probe.AttemptResult{Failure: &probe.HopFailure{SourceIndex: i, Code: code, Update: update}}, nil
		}

		idx, ok := st.byID[h.Channel]
		if !ok {
			return fail(lnwire.CodeUnknownNextPeer, nil)
		}
		c := st.snapshot.Channels[idx]
		if peer, ok := c.Peer(from); !ok || peer != h.PublicKey {
			return fail(lnwire.CodeUnknownNextPeer, nil)
		}
		p := c.PolicyFrom(from)
		if p == nil {
			return fail(lnwire.CodeUnknownNextPeer, nil)
		}
		update := channelUpdate(n.opts.Chain, c, from, p)
		amt := h.ForwardMtokens + h.FeeMtokens

		if p.IsDisabled {
			return fail(lnwire.CodeChannelDisabled, update)
		}
		if amt < p.MinHTLCMtokens {
			return fail(lnwire.CodeAmountBelowMinimum, update)
		}
		if i > 0 {
			prev := r.Hops[i-1]
			fee, err := p.Fee(prev.ForwardMtokens)
			if err != nil || prev.FeeMtokens < fee {
				return fail(lnwire.CodeFeeInsufficient, update)
			}
			if incomingTimeout < prev.Timeout || incomingTimeout-prev.Timeout < uint32(p.CLTVDelta) {
				return fail(lnwire.CodeIncorrectCltvExpiry, update)
			}
			incomingTimeout = prev.Timeout
		}
		if p.MaxHTLCMtokens > 0 && amt > p.MaxHTLCMtokens {
			return fail(lnwire.CodeTemporaryChannelFailure, update)
		}
		side := 0
		if from == c.Node2 {
			side = 1
		}
		if st.balance[c.ID][side] < amt {
			return fail(lnwire.CodeTemporaryChannelFailure, update)
		}
		from = h.PublicKey
	}
	if err := n.wait(ctx); err != nil {
		return probe.AttemptResult{}, err
	}
	return probe.AttemptResult{Failure: &probe.HopFailure{
		SourceIndex: len(r.Hops),
		Code:        lnwire.CodeIncorrectOrUnknownPaymentDetails,
	}}, nil
}

func (n *Network) wait(ctx context.Context) error {
	if n.opts.Latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(n.opts.Latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func channelUpdate(params *chaincfg.Params, c graph.Channel, from route.Vertex, p *graph.Policy) *lnwire.ChannelUpdate1 {
	var flags lnwire.ChanUpdateChanFlags
	if from == c.Node2 {
		flags |= lnwire.ChanUpdateDirection
	}
	if p.IsDisabled {
		flags |= lnwire.ChanUpdateDisabled
	}
	var msgFlags lnwire.ChanUpdateMsgFlags
	if p.MaxHTLCMtokens > 0 {
		msgFlags |= lnwire.ChanUpdateRequiredMaxHtlc
	}
	return &lnwire.ChannelUpdate1{
		ChainHash:       *params.GenesisHash,
		ShortChannelID:  c.ID,
		Timestamp:       uint32(p.UpdatedAt.Unix()),
		MessageFlags:    msgFlags,
		ChannelFlags:    flags,
		TimeLockDelta:   p.CLTVDelta,
		HtlcMinimumMsat: p.MinHTLCMtokens,
		BaseFee:         uint32(p.BaseFeeMtokens),
		FeeRate:         p.FeeRate,
		HtlcMaximumMsat: p.MaxHTLCMtokens,
	}
}
