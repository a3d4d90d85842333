package graph

import (
	"container/heap"
	"errors"

	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"
)

// ErrNoPath is returned when no usable path joins the endpoints.
var ErrNoPath = errors.New("graph: no path")

// DefaultMaxHops bounds path length when a request leaves MaxHops unset.
const DefaultMaxHops = 20

// PathRequest describes a least-fee path search.
type PathRequest struct {
	Source      route.Vertex
	Destination route.Vertex
	Mtokens     lnwire.MilliSatoshi
	MaxHops     int
	CLTVLimit   uint32 // total relay delta allowed, zero for none
	SkipEdge    func(id lnwire.ShortChannelID, reverse bool) bool
	SkipNode    func(n route.Vertex) bool
}

// PathFinder finds a path of channels from source to destination.
type PathFinder interface {
	FindPath(req PathRequest) ([]Channel, error)
}

// FeePathFinder searches backwards from the destination so that every
// relaying node's fee is computed on the exact amount it forwards.
type FeePathFinder struct {
	Channels []Channel
}

// pathLabel is one partial path from node to the destination. A node may
// hold several labels when a dearer one still has hops or delta to spare.
type pathLabel struct {
	node    route.Vertex
	mtokens lnwire.MilliSatoshi
	delta   uint32
	hops    int
	via     *Channel
	next    int // label toward the destination, -1 at the destination
}

func (l pathLabel) dominates(o pathLabel) bool {
	return l.mtokens <= o.mtokens && l.hops <= o.hops && l.delta <= o.delta
}

type pathItem struct {
	label   int
	mtokens lnwire.MilliSatoshi
}

type pathPQ []pathItem

func (q pathPQ) Len() int           { return len(q) }
func (q pathPQ) Less(i, j int) bool { return q[i].mtokens < q[j].mtokens }
func (q pathPQ) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *pathPQ) Push(x any)        { *q = append(*q, x.(pathItem)) }

func (q *pathPQ) Pop() any {
	old := *q
	it := old[len(old)-1]
	*q = old[:len(old)-1]
	return it
}

// FindPath returns channels ordered source first.
func (f FeePathFinder) FindPath(req PathRequest) ([]Channel, error) {
	if req.Source == req.Destination {
		return nil, nil
	}
	maxHops := req.MaxHops
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}
	adjacent := make(map[route.Vertex][]int)
	for i, c := range f.Channels {
		adjacent[c.Node1] = append(adjacent[c.Node1], i)
		adjacent[c.Node2] = append(adjacent[c.Node2], i)
	}

	labels := []pathLabel{{node: req.Destination, mtokens: req.Mtokens, next: -1}}
	byNode := map[route.Vertex][]int{req.Destination: {0}}
	onPath := func(i int, n route.Vertex) bool {
		for ; i >= 0; i = labels[i].next {
			if labels[i].node == n {
				return true
			}
		}
		return false
	}
	pq := &pathPQ{{label: 0, mtokens: req.Mtokens}}
	heap.Init(pq)

	for pq.Len() > 0 {
		it := heap.Pop(pq).(pathItem)
		at := labels[it.label]
		if at.node == req.Source {
			var path []Channel
			for i := it.label; labels[i].next >= 0; i = labels[i].next {
				path = append(path, *labels[i].via)
			}
			return path, nil
		}
		if at.hops >= maxHops {
			continue
		}
		for _, idx := range adjacent[at.node] {
			c := &f.Channels[idx]
			from, _ := c.Peer(at.node)
			if onPath(it.label, from) || !f.usable(req, c, from, at.node, at.mtokens) {
				continue
			}
			policy := c.PolicyFrom(from)
			cand := pathLabel{node: from, mtokens: at.mtokens, delta: at.delta, hops: at.hops + 1, via: c, next: it.label}
			if from != req.Source {
				fee, err := policy.Fee(at.mtokens)
				if err != nil {
					continue
				}
				cand.mtokens += fee
				if cand.mtokens < at.mtokens {
					continue
				}
				cand.delta += uint32(policy.CLTVDelta)
				if req.CLTVLimit > 0 && cand.delta > req.CLTVLimit {
					continue
				}
			}
			dominated := false
			for _, j := range byNode[from] {
				if labels[j].dominates(cand) {
					dominated = true
					break
				}
			}
			if dominated {
				continue
			}
			labels = append(labels, cand)
			byNode[from] = append(byNode[from], len(labels)-1)
			heap.Push(pq, pathItem{label: len(labels) - 1, mtokens: cand.mtokens})
		}
	}
	return nil, ErrNoPath
}

func (f FeePathFinder) usable(req PathRequest, c *Channel, from, to route.Vertex, amt lnwire.MilliSatoshi) bool {
	policy := c.PolicyFrom(from)
	if policy == nil || !policy.Allows(amt) {
		return false
	}
	if c.Capacity > 0 && lnwire.NewMSatFromSatoshis(c.Capacity) < amt {
		return false
	}
	if req.SkipEdge != nil && req.SkipEdge(c.ID, IsReverse(from, to)) {
		return false
	}
	if req.SkipNode != nil {
		if from != req.Source && req.SkipNode(from) {
			return false
		}
		if to != req.Destination && req.SkipNode(to) {
			return false
		}
	}
	return true
}
