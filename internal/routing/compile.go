package routing

import (
	"errors"
	"fmt"
	"math"

	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"

	"lnprobe/internal/graph"
)

// Construction errors. They are fatal to the conversion that produced them.
var (
	ErrExpectedChannels     = errors.New("ExpectedChannelsToDeriveHops")
	ErrExpectedPolicy       = errors.New("ExpectedPolicyForChannelHop")
	ErrDisconnectedPath     = errors.New("ExpectedConnectedChannelsForPath")
	ErrExpectedHops         = errors.New("ExpectedHopsToDeriveRoute")
	ErrHopAmountsMismatch   = errors.New("ExpectedForwardAmountsToMatchFees")
	ErrExpectedHopPolicy    = errors.New("ExpectedHopPolicyForRouteHint")
	ErrExpectedRouteHint    = errors.New("ExpectedRouteHintHops")
	ErrTimeoutBelowFinalHop = errors.New("ExpectedRouteTimeoutAboveHopTimeouts")
	ErrRouteAmountOverflow  = errors.New("ExpectedRouteAmountsWithinRange")
	ErrRouteTimeoutOverflow = errors.New("ExpectedRouteTimeoutWithinRange")
)

// HopsFromChannels walks a source-to-destination channel path backwards from
// the destination. Each hop keeps the policy of the node sending over its
// channel, which is the endpoint that is not the next node on the path.
func HopsFromChannels(channels []graph.Channel, destination route.Vertex) ([]Hop, error) {
	if len(channels) == 0 {
		return nil, ErrExpectedChannels
	}
	hops := make([]Hop, len(channels))
	next := destination
	for i := len(channels) - 1; i >= 0; i-- {
		c := channels[i]
		from, ok := c.Peer(next)
		if !ok {
			return nil, fmt.Errorf("%w: channel %s does not reach %s", ErrDisconnectedPath, graph.FormatChannelID(c.ID), next)
		}
		policy := c.PolicyFrom(from)
		if policy == nil {
			return nil, fmt.Errorf("%w: channel %s from %s", ErrExpectedPolicy, graph.FormatChannelID(c.ID), from)
		}
		hops[i] = Hop{
			Channel:         c.ID,
			ChannelCapacity: c.Capacity,
			PublicKey:       next,
			Policy: &HopPolicy{
				PublicKey:      from,
				BaseFeeMtokens: policy.BaseFeeMtokens,
				FeeRate:        policy.FeeRate,
				CLTVDelta:      policy.CLTVDelta,
			},
		}
		next = from
	}
	return hops, nil
}

// ChannelsRoute asks for a route over an explicit channel path.
type ChannelsRoute struct {
	Channels    []graph.Channel
	Destination route.Vertex
	Mtokens     lnwire.MilliSatoshi
	Height      uint32
	CLTVDelta   uint16 // final hop delta
	Messages    []Message
}

// RouteFromChannels prices a channel path into a Route.
func RouteFromChannels(req ChannelsRoute) (Route, error) {
	if len(req.Channels) == 0 {
		return directRoute(req.Mtokens, req.Height, req.CLTVDelta, req.Messages)
	}
	hops, err := HopsFromChannels(req.Channels, req.Destination)
	if err != nil {
		return Route{}, err
	}
	return RouteFromPolicyHops(hops, req.Mtokens, req.Height, req.CLTVDelta, req.Messages)
}

// RouteFromPolicyHops computes amounts and timeouts for hops that carry their
// relaying policies. The fold runs from the destination back to the source:
// hop i forwards what hop i+1 forwards plus hop i+1's fee, its node charges
// the policy priced on channel i+1, and its timeout adds the relay delta of
// the node at hop i+1.
func RouteFromPolicyHops(pathHops []Hop, mtokens lnwire.MilliSatoshi, height uint32, cltvDelta uint16, messages []Message) (Route, error) {
	n := len(pathHops)
	if n == 0 {
		return directRoute(mtokens, height, cltvDelta, messages)
	}
	for i, h := range pathHops {
		if h.Policy == nil {
			return Route{}, fmt.Errorf("%w: hop %d", ErrExpectedPolicy, i)
		}
	}
	final, err := addTimeout(height, uint32(cltvDelta))
	if err != nil {
		return Route{}, err
	}

	// relay returns the policy node j applies on its outgoing channel.
	relay := func(j int) *HopPolicy {
		if j >= n-1 {
			return nil
		}
		return pathHops[j+1].Policy
	}

	hops := make([]Hop, n)
	for i := n - 1; i >= 0; i-- {
		h := pathHops[i]
		if i == n-1 {
			h.ForwardMtokens = mtokens
			h.FeeMtokens = 0
			h.Timeout = final
		} else {
			next := hops[i+1]
			fwd := next.ForwardMtokens + next.FeeMtokens
			if fwd < next.ForwardMtokens {
				return Route{}, ErrRouteAmountOverflow
			}
			p := relay(i)
			fee, err := graph.Policy{BaseFeeMtokens: p.BaseFeeMtokens, FeeRate: p.FeeRate}.Fee(fwd)
			if err != nil {
				return Route{}, fmt.Errorf("%w: %w", ErrRouteAmountOverflow, err)
			}
			h.ForwardMtokens = fwd
			h.FeeMtokens = fee
			h.Timeout = next.Timeout
			if p := relay(i + 1); p != nil {
				if h.Timeout, err = addTimeout(next.Timeout, uint32(p.CLTVDelta)); err != nil {
					return Route{}, err
				}
			}
		}
		p := *h.Policy
		h.Policy = &p
		hops[i] = h
	}

	timeout := hops[0].Timeout
	if p := relay(0); p != nil {
		if timeout, err = addTimeout(timeout, uint32(p.CLTVDelta)); err != nil {
			return Route{}, err
		}
	}
	return newRoute(hops, timeout, nil, messages)
}

// RouteFromHops maps hops whose amounts were already computed by the backend
// into a Route. Amounts are checked against the accumulation law, not recomputed.
func RouteFromHops(hops []Hop, timeout uint32, confidence *uint32, messages []Message) (Route, error) {
	if len(hops) == 0 {
		return Route{}, ErrExpectedHops
	}
	for i := 0; i < len(hops)-1; i++ {
		want := hops[i+1].ForwardMtokens + hops[i+1].FeeMtokens
		if hops[i].ForwardMtokens != want {
			return Route{}, fmt.Errorf("%w: hop %d forwards %d, next hop needs %d", ErrHopAmountsMismatch, i, hops[i].ForwardMtokens, want)
		}
		if hops[i].Timeout < hops[i+1].Timeout {
			return Route{}, fmt.Errorf("%w: hop %d", ErrTimeoutBelowFinalHop, i)
		}
	}
	if timeout < hops[0].Timeout {
		return Route{}, ErrTimeoutBelowFinalHop
	}
	out := make([]Hop, len(hops))
	for i, h := range hops {
		if h.Policy != nil {
			p := *h.Policy
			h.Policy = &p
		}
		out[i] = h
	}
	return newRoute(out, timeout, confidence, messages)
}

func directRoute(mtokens lnwire.MilliSatoshi, height uint32, cltvDelta uint16, messages []Message) (Route, error) {
	timeout, err := addTimeout(height, uint32(cltvDelta))
	if err != nil {
		return Route{}, err
	}
	return newRoute(nil, timeout, nil, messages)
}

func newRoute(hops []Hop, timeout uint32, confidence *uint32, messages []Message) (Route, error) {
	var fee lnwire.MilliSatoshi
	for _, h := range hops {
		sum := fee + h.FeeMtokens
		if sum < fee {
			return Route{}, ErrRouteAmountOverflow
		}
		fee = sum
	}
	var mtokens lnwire.MilliSatoshi
	if len(hops) > 0 {
		mtokens = hops[0].ForwardMtokens + hops[0].FeeMtokens
		if mtokens < hops[0].ForwardMtokens {
			return Route{}, ErrRouteAmountOverflow
		}
	}
	r := Route{
		Hops:       hops,
		Fee:        fee.ToSatoshis(),
		FeeMtokens: fee,
		Mtokens:    mtokens,
		Timeout:    timeout,
		Tokens:     mtokens.ToSatoshis(),
		SafeFee:    ceilTokens(fee),
		SafeTokens: ceilTokens(mtokens),
		Messages:   append([]Message(nil), messages...),
	}
	if confidence != nil {
		c := *confidence
		r.Confidence = &c
	}
	return r, nil
}

func addTimeout(base, delta uint32) (uint32, error) {
	if uint64(base)+uint64(delta) > math.MaxUint32 {
		return 0, ErrRouteTimeoutOverflow
	}
	return base + delta, nil
}
