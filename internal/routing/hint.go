package routing

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"

	"lnprobe/internal/graph"
)

// HintHop is one channel of a route hint: the node sending over the channel
// and the terms it charges for doing so.
type HintHop struct {
	PublicKey      route.Vertex
	Channel        lnwire.ShortChannelID
	BaseFeeMtokens lnwire.MilliSatoshi
	FeeRate        uint32
	CLTVDelta      uint16
}

// RouteHint describes a path up to, but not naming, its final node.
type RouteHint []HintHop

// RouteHintFromRoute projects the policies that priced a route into a hint.
// The destination is left out; the hint is reusable for any amount.
func RouteHintFromRoute(r Route) (RouteHint, error) {
	if len(r.Hops) == 0 {
		return nil, ErrExpectedHops
	}
	hint := make(RouteHint, len(r.Hops))
	for i, h := range r.Hops {
		if h.Policy == nil {
			return nil, fmt.Errorf("%w: hop %d channel %s", ErrExpectedHopPolicy, i, graph.FormatChannelID(h.Channel))
		}
		hint[i] = HintHop{
			PublicKey:      h.Policy.PublicKey,
			Channel:        h.Channel,
			BaseFeeMtokens: h.Policy.BaseFeeMtokens,
			FeeRate:        h.Policy.FeeRate,
			CLTVDelta:      h.Policy.CLTVDelta,
		}
	}
	return hint, nil
}

// HintRoute asks for a route synthesized from a hint.
type HintRoute struct {
	Hint        RouteHint
	Destination route.Vertex
	Mtokens     lnwire.MilliSatoshi
	Height      uint32
	CLTVDelta   uint16
	Capacities  map[lnwire.ShortChannelID]btcutil.Amount // optional, informational
	Messages    []Message
}

// RouteFromRouteHint rebuilds a route through the hinted channels, using
// the embedded terms as each channel's relaying policy.
func RouteFromRouteHint(req HintRoute) (Route, error) {
	if len(req.Hint) == 0 {
		return Route{}, ErrExpectedRouteHint
	}
	channels := make([]graph.Channel, len(req.Hint))
	for i, hh := range req.Hint {
		next := req.Destination
		if i < len(req.Hint)-1 {
			next = req.Hint[i+1].PublicKey
		}
		if hh.PublicKey == next {
			return Route{}, fmt.Errorf("%w: hint hop %d loops to itself", ErrDisconnectedPath, i)
		}
		c := graph.Channel{
			ID:    hh.Channel,
			Node1: hh.PublicKey,
			Node2: next,
			Policy1: &graph.Policy{
				PublicKey:      hh.PublicKey,
				BaseFeeMtokens: hh.BaseFeeMtokens,
				FeeRate:        hh.FeeRate,
				CLTVDelta:      hh.CLTVDelta,
			},
		}
		if capacity, ok := req.Capacities[hh.Channel]; ok {
			c.Capacity = capacity
		}
		channels[i] = c
	}
	return RouteFromChannels(ChannelsRoute{
		Channels:    channels,
		Destination: req.Destination,
		Mtokens:     req.Mtokens,
		Height:      req.Height,
		CLTVDelta:   req.CLTVDelta,
		Messages:    req.Messages,
	})
}
