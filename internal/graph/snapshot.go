package graph

import "github.com/lightningnetwork/lnd/routing/route"

// Snapshot is an immutable view of the graph taken for one query.
type Snapshot struct {
	Channels []Channel
	Nodes    []Node
}

// NewSnapshot keeps nodes that have announced themselves and have at least one channel.
func NewSnapshot(channels []Channel, nodes []Node) Snapshot {
	hasChannel := make(map[route.Vertex]struct{}, len(channels)*2)
	for _, c := range channels {
		hasChannel[c.Node1] = struct{}{}
		hasChannel[c.Node2] = struct{}{}
	}
	kept := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		if n.UpdatedAt.IsZero() {
			continue
		}
		if _, ok := hasChannel[n.PublicKey]; !ok {
			continue
		}
		kept = append(kept, n)
	}
	return Snapshot{Channels: channels, Nodes: kept}
}

// Channel looks a channel up by id.
func (s Snapshot) Channel(id uint64) (Channel, bool) {
	for _, c := range s.Channels {
		if c.ID.ToUint64() == id {
			return c, true
		}
	}
	return Channel{}, false
}

// ChannelsBetween returns every channel joining a and b.
func (s Snapshot) ChannelsBetween(a, b route.Vertex) []Channel {
	var out []Channel
	for _, c := range s.Channels {
		if c.HasNode(a) && c.HasNode(b) {
			out = append(out, c)
		}
	}
	return out
}
