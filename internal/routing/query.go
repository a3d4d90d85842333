package routing

import (
	"context"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"

	"lnprobe/internal/apperr"
)

const confidenceDenominator = 1e6

// RouteSearcher is the backend route search service.
type RouteSearcher interface {
	QueryRoutes(ctx context.Context, req SearchRequest) (SearchResult, error)
}

// SearchRequest is what the backend route search accepts.
type SearchRequest struct {
	Destination    route.Vertex
	Mtokens        lnwire.MilliSatoshi
	FeeLimit       *lnwire.MilliSatoshi
	CLTVLimit      uint32
	FinalCLTVDelta uint16
	IgnoredEdges   []IgnoredEdge
	IgnoredNodes   []route.Vertex
	MaxRoutes      int
}

// RawHop is a backend hop with amounts already computed.
type RawHop struct {
	ChanID           uint64
	ChanCapacity     int64
	AmtToForwardMsat uint64
	FeeMsat          uint64
	Expiry           uint32
	PubKey           string
	Policy           *HopPolicy
}

// RawRoute is one backend candidate.
type RawRoute struct {
	Hops          []RawHop
	TotalTimeLock uint32
	TotalFeesMsat uint64
	TotalAmtMsat  uint64
	SuccessProb   float64
	CustomRecords map[uint64][]byte
}

// SearchResult carries zero or more candidates and the height they were built at.
type SearchResult struct {
	Routes      []RawRoute
	BlockHeight uint32
}

// QueryRequest asks for candidate routes from the local node.
type QueryRequest struct {
	Source         route.Vertex
	Destination    route.Vertex
	Mtokens        lnwire.MilliSatoshi
	FeeLimit       *lnwire.MilliSatoshi
	CLTVLimit      uint32 // max blocks between the current height and the route timeout
	FinalCLTVDelta uint16
	Exclusions     ExclusionSet
	MaxRoutes      int
}

func (r QueryRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Destination, validation.By(nonZeroVertex)),
		validation.Field(&r.Mtokens, validation.Required),
		validation.Field(&r.MaxRoutes, validation.Min(0)),
	)
}

func nonZeroVertex(value interface{}) error {
	if v, ok := value.(route.Vertex); ok && v == (route.Vertex{}) {
		return validation.NewError("validation_required", "cannot be blank")
	}
	return nil
}

// QueryRoutes runs a bounded route search under the current exclusions and
// returns the usable candidates. No route is an empty result, not an error.
func QueryRoutes(ctx context.Context, s RouteSearcher, req QueryRequest) ([]Route, error) {
	if err := req.Validate(); err != nil {
		return nil, apperr.Invalid("ExpectedValidQueryRoutesRequest", err)
	}
	res, err := s.QueryRoutes(ctx, SearchRequest{
		Destination:    req.Destination,
		Mtokens:        req.Mtokens,
		FeeLimit:       req.FeeLimit,
		CLTVLimit:      req.CLTVLimit,
		FinalCLTVDelta: req.FinalCLTVDelta,
		IgnoredEdges:   req.Exclusions.Edges(),
		IgnoredNodes:   req.Exclusions.Nodes(),
		MaxRoutes:      req.MaxRoutes,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperr.Unavailable("UnexpectedErrorQueryingRoutes", err)
	}
	routes, err := RoutesFromQueryRoutes(res)
	if err != nil {
		return nil, apperr.Fatal("UnexpectedQueryRoutesResponse", err)
	}

	usable := routes[:0]
	for _, r := range routes {
		if dest, _ := r.Destination(); dest != req.Destination {
			return nil, apperr.Fatal("UnexpectedQueryRoutesResponse", fmt.Errorf("route ends at %s", dest))
		}
		if !withinLimits(r, req, res.BlockHeight) || req.Exclusions.Excludes(r, req.Source) {
			continue
		}
		usable = append(usable, r)
		if req.MaxRoutes > 0 && len(usable) == req.MaxRoutes {
			break
		}
	}
	return usable, nil
}

func withinLimits(r Route, req QueryRequest, height uint32) bool {
	if req.FeeLimit != nil && r.FeeMtokens > *req.FeeLimit {
		return false
	}
	if req.CLTVLimit > 0 && r.Timeout > height && r.Timeout-height > req.CLTVLimit {
		return false
	}
	for _, h := range r.Hops {
		if h.ChannelCapacity > 0 && h.ForwardMtokens+h.FeeMtokens > lnwire.NewMSatFromSatoshis(h.ChannelCapacity) {
			return false
		}
	}
	return true
}

// RoutesFromQueryRoutes normalizes backend candidates into Routes.
func RoutesFromQueryRoutes(res SearchResult) ([]Route, error) {
	routes := make([]Route, 0, len(res.Routes))
	for i, raw := range res.Routes {
		r, err := routeFromRaw(raw)
		if err != nil {
			return nil, fmt.Errorf("route %d: %w", i, err)
		}
		routes = append(routes, r)
	}
	return routes, nil
}

func routeFromRaw(raw RawRoute) (Route, error) {
	hops := make([]Hop, len(raw.Hops))
	for i, rh := range raw.Hops {
		key, err := route.NewVertexFromStr(rh.PubKey)
		if err != nil {
			return Route{}, fmt.Errorf("hop %d public key: %w", i, err)
		}
		if rh.ChanID == 0 {
			return Route{}, fmt.Errorf("hop %d: expected channel id", i)
		}
		if rh.ChanCapacity < 0 {
			return Route{}, fmt.Errorf("hop %d: negative capacity", i)
		}
		hops[i] = Hop{
			Channel:         lnwire.NewShortChanIDFromInt(rh.ChanID),
			ChannelCapacity: btcutil.Amount(rh.ChanCapacity),
			ForwardMtokens:  lnwire.MilliSatoshi(rh.AmtToForwardMsat),
			FeeMtokens:      lnwire.MilliSatoshi(rh.FeeMsat),
			Timeout:         rh.Expiry,
			PublicKey:       key,
			Policy:          rh.Policy,
		}
	}

	var confidence *uint32
	if raw.SuccessProb > 0 {
		if raw.SuccessProb > 1 {
			return Route{}, fmt.Errorf("success probability %v out of range", raw.SuccessProb)
		}
		c := uint32(raw.SuccessProb * confidenceDenominator)
		confidence = &c
	}

	r, err := RouteFromHops(hops, raw.TotalTimeLock, confidence, messagesFromRecords(raw.CustomRecords))
	if err != nil {
		return Route{}, err
	}
	if raw.TotalAmtMsat != 0 && lnwire.MilliSatoshi(raw.TotalAmtMsat) != r.Mtokens {
		return Route{}, fmt.Errorf("total amount %d does not match hops %d", raw.TotalAmtMsat, r.Mtokens)
	}
	if raw.TotalFeesMsat != 0 && lnwire.MilliSatoshi(raw.TotalFeesMsat) != r.FeeMtokens {
		return Route{}, fmt.Errorf("total fees %d does not match hops %d", raw.TotalFeesMsat, r.FeeMtokens)
	}
	return r, nil
}

func messagesFromRecords(records map[uint64][]byte) []Message {
	if len(records) == 0 {
		return nil
	}
	out := make([]Message, 0, len(records))
	for t, v := range records {
		out = append(out, Message{Type: t, Value: append([]byte(nil), v...)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}
