// Package routing compiles graph paths into fully costed routes, converts
// routes to and from route hints, tracks exclusions and queries the backend
// route search.
package routing

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"

	"lnprobe/internal/graph"
)

// HopPolicy is the relaying policy that priced a hop's channel, announced by
// the node sending over it.
type HopPolicy struct {
	PublicKey      route.Vertex
	BaseFeeMtokens lnwire.MilliSatoshi
	FeeRate        uint32
	CLTVDelta      uint16
}

// Hop is one traversal step. ForwardMtokens is the amount the hop's node
// passes onward, FeeMtokens what it keeps for doing so and Timeout the
// absolute height of the HTLC it extends to the next node.
type Hop struct {
	Channel         lnwire.ShortChannelID
	ChannelCapacity btcutil.Amount
	ForwardMtokens  lnwire.MilliSatoshi
	FeeMtokens      lnwire.MilliSatoshi
	Timeout         uint32
	PublicKey       route.Vertex
	Policy          *HopPolicy
}

func (h Hop) Forward() btcutil.Amount { return h.ForwardMtokens.ToSatoshis() }
func (h Hop) Fee() btcutil.Amount     { return h.FeeMtokens.ToSatoshis() }

// Message is an opaque TLV record carried to the destination.
type Message struct {
	Type  uint64
	Value []byte
}

// Route is a costed hop sequence, source-adjacent hop first.
type Route struct {
	Hops       []Hop
	Fee        btcutil.Amount
	FeeMtokens lnwire.MilliSatoshi
	Mtokens    lnwire.MilliSatoshi
	Timeout    uint32
	Tokens     btcutil.Amount
	SafeFee    btcutil.Amount
	SafeTokens btcutil.Amount
	Confidence *uint32 // success likelihood in parts per million
	Messages   []Message
}

// Destination is the public key of the final hop.
func (r Route) Destination() (route.Vertex, bool) {
	if len(r.Hops) == 0 {
		return route.Vertex{}, false
	}
	return r.Hops[len(r.Hops)-1].PublicKey, true
}

// Traverses reports whether the route sends over channel id in the given direction.
func (r Route) Traverses(id lnwire.ShortChannelID, reverse bool, source route.Vertex) bool {
	from := source
	for _, h := range r.Hops {
		if h.Channel == id && graph.IsReverse(from, h.PublicKey) == reverse {
			return true
		}
		from = h.PublicKey
	}
	return false
}

// Visits reports whether n relays on the route.
func (r Route) Visits(n route.Vertex) bool {
	for i, h := range r.Hops {
		if i < len(r.Hops)-1 && h.PublicKey == n {
			return true
		}
	}
	return false
}

// Clone returns a deep copy that shares nothing with r.
func (r Route) Clone() Route {
	out := r
	out.Hops = make([]Hop, len(r.Hops))
	for i, h := range r.Hops {
		out.Hops[i] = h
		if h.Policy != nil {
			p := *h.Policy
			out.Hops[i].Policy = &p
		}
	}
	if r.Confidence != nil {
		c := *r.Confidence
		out.Confidence = &c
	}
	out.Messages = append([]Message(nil), r.Messages...)
	return out
}

func ceilTokens(m lnwire.MilliSatoshi) btcutil.Amount {
	t := m.ToSatoshis()
	if lnwire.NewMSatFromSatoshis(t) < m {
		t++
	}
	return t
}
