package routing

import (
	"errors"

	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"

	"lnprobe/internal/graph"
)

// HopsRequest asks for least-fee paths over a channel list.
type HopsRequest struct {
	Channels   []graph.Channel
	Start      route.Vertex
	End        route.Vertex
	Mtokens    lnwire.MilliSatoshi
	Exclusions ExclusionSet
	MaxHops    int
	CLTVLimit  uint32
}

func (req HopsRequest) pathRequest(ex ExclusionSet) graph.PathRequest {
	return graph.PathRequest{
		Source:      req.Start,
		Destination: req.End,
		Mtokens:     req.Mtokens,
		MaxHops:     req.MaxHops,
		CLTVLimit:   req.CLTVLimit,
		SkipEdge: func(id lnwire.ShortChannelID, reverse bool) bool {
			return ex.HasEdge(IgnoredEdge{Channel: id, Reverse: reverse})
		},
		SkipNode: ex.HasNode,
	}
}

// CalculateHops finds the least-fee path and returns its hop skeletons.
// A missing path is reported as graph.ErrNoPath.
func CalculateHops(req HopsRequest) ([]Hop, []graph.Channel, error) {
	finder := graph.FeePathFinder{Channels: req.Channels}
	path, err := finder.FindPath(req.pathRequest(req.Exclusions))
	if err != nil {
		return nil, nil, err
	}
	if len(path) == 0 {
		return nil, nil, nil
	}
	hops, err := HopsFromChannels(path, req.End)
	if err != nil {
		return nil, nil, err
	}
	return hops, path, nil
}

// CalculatePaths collects up to limit edge-disjoint paths, cheapest first.
// Each found path's edges are excluded before searching for the next one.
func CalculatePaths(req HopsRequest, limit int) ([][]graph.Channel, error) {
	var paths [][]graph.Channel
	ex := req.Exclusions
	for limit <= 0 || len(paths) < limit {
		next := req
		next.Exclusions = ex
		_, path, err := CalculateHops(next)
		if errors.Is(err, graph.ErrNoPath) {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(path) == 0 {
			break
		}
		paths = append(paths, path)
		used := make([]IgnoredEdge, 0, len(path))
		from := req.Start
		for _, c := range path {
			to, _ := c.Peer(from)
			used = append(used, IgnoredEdge{Channel: c.ID, Reverse: graph.IsReverse(from, to)})
			from = to
		}
		ex = ex.With(used, nil)
	}
	return paths, nil
}
