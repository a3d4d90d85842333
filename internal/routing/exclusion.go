package routing

import (
	"bytes"
	"sort"

	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"

	"lnprobe/internal/graph"
)

// IgnoredEdge excludes one direction of a channel.
type IgnoredEdge struct {
	Channel lnwire.ShortChannelID
	Reverse bool
}

// Ignore is a caller-supplied exclusion entry. An entry naming only
// FromPublicKey ignores that node; one naming a pair ignores the direction
// between them, over Channel when set or over every channel joining them.
type Ignore struct {
	Channel       *lnwire.ShortChannelID
	FromPublicKey route.Vertex
	ToPublicKey   *route.Vertex
}

// IgnoreAsIgnoredNodes collects the node-only entries.
func IgnoreAsIgnoredNodes(ignore []Ignore) []route.Vertex {
	var out []route.Vertex
	for _, ig := range ignore {
		if ig.Channel == nil && ig.ToPublicKey == nil {
			out = append(out, ig.FromPublicKey)
		}
	}
	return out
}

// IgnoreAsIgnoredEdges collects entries that name both a channel and a pair.
func IgnoreAsIgnoredEdges(ignore []Ignore) []IgnoredEdge {
	var out []IgnoredEdge
	for _, ig := range ignore {
		if ig.Channel == nil || ig.ToPublicKey == nil {
			continue
		}
		out = append(out, IgnoredEdge{Channel: *ig.Channel, Reverse: graph.IsReverse(ig.FromPublicKey, *ig.ToPublicKey)})
	}
	return out
}

// GetIgnoredEdges expands pair entries without a channel over every channel
// joining the pair, and passes channel entries through.
func GetIgnoredEdges(channels []graph.Channel, ignore []Ignore) []IgnoredEdge {
	out := IgnoreAsIgnoredEdges(ignore)
	for _, ig := range ignore {
		if ig.Channel != nil || ig.ToPublicKey == nil {
			continue
		}
		reverse := graph.IsReverse(ig.FromPublicKey, *ig.ToPublicKey)
		for _, c := range channels {
			if c.HasNode(ig.FromPublicKey) && c.HasNode(*ig.ToPublicKey) {
				out = append(out, IgnoredEdge{Channel: c.ID, Reverse: reverse})
			}
		}
	}
	return out
}

// ExclusionSet is the monotonically growing set of edges and nodes ruled out
// within one search session. Values are immutable: With returns a new set.
type ExclusionSet struct {
	edges map[IgnoredEdge]struct{}
	nodes map[route.Vertex]struct{}
}

// With returns a set holding everything in s plus the given entries.
// Entries already present are no-ops.
func (s ExclusionSet) With(edges []IgnoredEdge, nodes []route.Vertex) ExclusionSet {
	out := ExclusionSet{
		edges: make(map[IgnoredEdge]struct{}, len(s.edges)+len(edges)),
		nodes: make(map[route.Vertex]struct{}, len(s.nodes)+len(nodes)),
	}
	for e := range s.edges {
		out.edges[e] = struct{}{}
	}
	for n := range s.nodes {
		out.nodes[n] = struct{}{}
	}
	for _, e := range edges {
		out.edges[e] = struct{}{}
	}
	for _, n := range nodes {
		out.nodes[n] = struct{}{}
	}
	return out
}

// WithIgnore folds caller Ignore entries into the set, expanding pair
// entries over the given channels.
func (s ExclusionSet) WithIgnore(channels []graph.Channel, ignore []Ignore) ExclusionSet {
	return s.With(GetIgnoredEdges(channels, ignore), IgnoreAsIgnoredNodes(ignore))
}

func (s ExclusionSet) HasEdge(e IgnoredEdge) bool {
	_, ok := s.edges[e]
	return ok
}

func (s ExclusionSet) HasNode(n route.Vertex) bool {
	_, ok := s.nodes[n]
	return ok
}

func (s ExclusionSet) Len() int { return len(s.edges) + len(s.nodes) }

// Edges renders the edge exclusions in stable order.
func (s ExclusionSet) Edges() []IgnoredEdge {
	out := make([]IgnoredEdge, 0, len(s.edges))
	for e := range s.edges {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Channel.ToUint64(), out[j].Channel.ToUint64()
		if a != b {
			return a < b
		}
		return !out[i].Reverse && out[j].Reverse
	})
	return out
}

// Nodes renders the node exclusions in stable order.
func (s ExclusionSet) Nodes() []route.Vertex {
	out := make([]route.Vertex, 0, len(s.nodes))
	for n := range s.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

// Excludes reports whether r uses any excluded edge or relays through an
// excluded node. source is the node sending over the first hop.
func (s ExclusionSet) Excludes(r Route, source route.Vertex) bool {
	from := source
	for i, h := range r.Hops {
		if s.HasEdge(IgnoredEdge{Channel: h.Channel, Reverse: graph.IsReverse(from, h.PublicKey)}) {
			return true
		}
		if i < len(r.Hops)-1 && s.HasNode(h.PublicKey) {
			return true
		}
		from = h.PublicKey
	}
	return false
}
