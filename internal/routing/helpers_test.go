package routing

import (
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"

	"lnprobe/internal/graph"
)

func vertex(b byte) route.Vertex {
	var v route.Vertex
	v[0] = 0x03
	v[32] = b
	return v
}

func chanID(n uint64) lnwire.ShortChannelID { return lnwire.NewShortChanIDFromInt(n) }

// edge builds a channel whose Node1 side announces p1 and Node2 side p2.
func edge(id uint64, n1, n2 route.Vertex, p1, p2 *graph.Policy) graph.Channel {
	if p1 != nil {
		p1.PublicKey = n1
	}
	if p2 != nil {
		p2.PublicKey = n2
	}
	return graph.Channel{ID: chanID(id), Capacity: 16_000_000, Node1: n1, Node2: n2, Policy1: p1, Policy2: p2}
}

var (
	self  = vertex(1)
	bob   = vertex(2)
	carol = vertex(3)
	dave  = vertex(4)
)

// fixturePath is self -> bob -> dave where bob charges 1000 mtokens plus
// 1 ppm and asks for a delta of 40 blocks.
func fixturePath() []graph.Channel {
	return []graph.Channel{
		edge(101, self, bob, &graph.Policy{BaseFeeMtokens: 1, CLTVDelta: 144}, &graph.Policy{BaseFeeMtokens: 1, CLTVDelta: 144}),
		edge(102, dave, bob, &graph.Policy{BaseFeeMtokens: 7, CLTVDelta: 18}, &graph.Policy{BaseFeeMtokens: 1000, FeeRate: 1, CLTVDelta: 40}),
	}
}

func lnwireMsat(v uint64) lnwire.MilliSatoshi { return lnwire.MilliSatoshi(v) }
