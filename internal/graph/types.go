// Package graph holds the normalized network topology: nodes, channel edges
// and the per-direction policies announced for them.
package graph

import (
	"errors"
	"math/bits"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"
)

// ErrAmountOverflow is returned when a fee computation leaves the millitoken range.
var ErrAmountOverflow = errors.New("graph: millitoken amount overflow")

const feeRateDenominator = 1_000_000

// Policy is the fee and timing terms a node applies when relaying out of a channel.
type Policy struct {
	PublicKey      route.Vertex
	BaseFeeMtokens lnwire.MilliSatoshi
	FeeRate        uint32 // parts per million
	CLTVDelta      uint16
	MinHTLCMtokens lnwire.MilliSatoshi
	MaxHTLCMtokens lnwire.MilliSatoshi // zero when not announced
	IsDisabled     bool
	UpdatedAt      time.Time
}

// Fee returns base + floor(rate * amt / 1e6) without losing precision.
func (p Policy) Fee(amt lnwire.MilliSatoshi) (lnwire.MilliSatoshi, error) {
	hi, lo := bits.Mul64(uint64(amt), uint64(p.FeeRate))
	if hi >= feeRateDenominator {
		return 0, ErrAmountOverflow
	}
	prop, _ := bits.Div64(hi, lo, feeRateDenominator)
	fee, carry := bits.Add64(prop, uint64(p.BaseFeeMtokens), 0)
	if carry != 0 {
		return 0, ErrAmountOverflow
	}
	return lnwire.MilliSatoshi(fee), nil
}

// Allows reports whether an HTLC of amt fits the policy limits.
func (p Policy) Allows(amt lnwire.MilliSatoshi) bool {
	if p.IsDisabled || amt < p.MinHTLCMtokens {
		return false
	}
	return p.MaxHTLCMtokens == 0 || amt <= p.MaxHTLCMtokens
}

// Channel is an edge between two nodes with up to one policy per direction.
type Channel struct {
	ID           lnwire.ShortChannelID
	Capacity     btcutil.Amount
	ChannelPoint wire.OutPoint
	Node1        route.Vertex
	Node2        route.Vertex
	Policy1      *Policy // announced by Node1, relaying towards Node2
	Policy2      *Policy // announced by Node2, relaying towards Node1
	UpdatedAt    time.Time
}

// HasNode reports whether n is one of the endpoints.
func (c Channel) HasNode(n route.Vertex) bool { return c.Node1 == n || c.Node2 == n }

// Peer returns the endpoint opposite to n.
func (c Channel) Peer(n route.Vertex) (route.Vertex, bool) {
	switch n {
	case c.Node1:
		return c.Node2, true
	case c.Node2:
		return c.Node1, true
	}
	return route.Vertex{}, false
}

// PolicyFrom returns the policy n applies when sending over the channel.
func (c Channel) PolicyFrom(n route.Vertex) *Policy {
	switch n {
	case c.Node1:
		return c.Policy1
	case c.Node2:
		return c.Policy2
	}
	return nil
}

// Policies lists the known policies, Node1's first.
func (c Channel) Policies() []Policy {
	out := make([]Policy, 0, 2)
	if c.Policy1 != nil {
		out = append(out, *c.Policy1)
	}
	if c.Policy2 != nil {
		out = append(out, *c.Policy2)
	}
	return out
}

// Feature is an advertised BOLT 09 feature bit.
type Feature struct {
	Bit        lnwire.FeatureBit
	IsKnown    bool
	IsRequired bool
	Type       string
}

// Node is an announced network participant.
type Node struct {
	PublicKey route.Vertex
	Alias     string
	Color     string
	Features  []Feature
	Sockets   []string
	UpdatedAt time.Time
}

// FeaturesFromBits describes raw feature bits using the lnwire feature names.
func FeaturesFromBits(featureBits []lnwire.FeatureBit) []Feature {
	out := make([]Feature, 0, len(featureBits))
	for _, bit := range featureBits {
		name, known := lnwire.Features[bit]
		out = append(out, Feature{Bit: bit, IsKnown: known, IsRequired: bit.IsRequired(), Type: name})
	}
	return out
}

// IsReverse reports the edge direction between two nodes: the forward
// direction runs from the lexicographically smaller key to the larger one.
func IsReverse(from, to route.Vertex) bool {
	for i := range from {
		if from[i] != to[i] {
			return from[i] > to[i]
		}
	}
	return false
}
