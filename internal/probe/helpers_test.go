package probe

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"lnprobe/internal/graph"
	"lnprobe/internal/routing"
)

func vertex(b byte) route.Vertex {
	var v route.Vertex
	v[0] = 0x02
	v[32] = b
	return v
}

func chanID(n uint64) lnwire.ShortChannelID { return lnwire.NewShortChanIDFromInt(n) }

var (
	self  = vertex(1)
	bob   = vertex(2)
	carol = vertex(3)
	dave  = vertex(4)
)

const probeAmount = lnwire.MilliSatoshi(500_000_000)

func edge(id uint64, n1, n2 route.Vertex, p1, p2 graph.Policy) graph.Channel {
	p1.PublicKey, p2.PublicKey = n1, n2
	return graph.Channel{ID: chanID(id), Capacity: 16_000_000, Node1: n1, Node2: n2, Policy1: &p1, Policy2: &p2}
}

var (
	relay   = graph.Policy{BaseFeeMtokens: 1, CLTVDelta: 144}
	bobTerm = graph.Policy{BaseFeeMtokens: 1000, FeeRate: 1, CLTVDelta: 40}
)

// network is self with two channels to bob and one to carol; bob and carol
// each reach dave, bob over 102 and 105.
var network = []graph.Channel{
	edge(101, self, bob, relay, relay),
	edge(102, bob, dave, bobTerm, relay),
	edge(105, bob, dave, bobTerm, relay),
	edge(201, self, carol, relay, relay),
	edge(202, carol, dave, graph.Policy{BaseFeeMtokens: 5000, FeeRate: 5, CLTVDelta: 10}, relay),
}

func channel(id uint64) graph.Channel {
	for _, c := range network {
		if c.ID == chanID(id) {
			return c
		}
	}
	panic("unknown channel")
}

func path(t *testing.T, dest route.Vertex, ids ...uint64) routing.Route {
	t.Helper()
	channels := make([]graph.Channel, len(ids))
	for i, id := range ids {
		channels[i] = channel(id)
	}
	r, err := routing.RouteFromChannels(routing.ChannelsRoute{Channels: channels, Destination: dest, Mtokens: probeAmount, Height: 500, CLTVDelta: 28})
	require.NoError(t, err)
	return r
}

func raw(r routing.Route) routing.RawRoute {
	out := routing.RawRoute{TotalTimeLock: r.Timeout, TotalAmtMsat: uint64(r.Mtokens), TotalFeesMsat: uint64(r.FeeMtokens)}
	for _, h := range r.Hops {
		out.Hops = append(out.Hops, routing.RawHop{
			ChanID:           h.Channel.ToUint64(),
			ChanCapacity:     int64(h.ChannelCapacity),
			AmtToForwardMsat: uint64(h.ForwardMtokens),
			FeeMsat:          uint64(h.FeeMtokens),
			Expiry:           h.Timeout,
			PubKey:           h.PublicKey.String(),
			Policy:           h.Policy,
		})
	}
	return out
}

// backend serves a fixed candidate list per destination and answers attempts
// through a script. QueryRoutes is responsible for dropping excluded routes.
type backend struct {
	mu         sync.Mutex
	candidates map[route.Vertex][]routing.Route
	script     func(ctx context.Context, r routing.Route) (AttemptResult, error)
	onQuery    func()
	queries    []routing.SearchRequest
	attempts   []routing.Route
}

func (b *backend) QueryRoutes(_ context.Context, req routing.SearchRequest) (routing.SearchResult, error) {
	b.mu.Lock()
	b.queries = append(b.queries, req)
	onQuery := b.onQuery
	var res routing.SearchResult
	res.BlockHeight = 500
	for _, r := range b.candidates[req.Destination] {
		res.Routes = append(res.Routes, raw(r))
	}
	b.mu.Unlock()
	if onQuery != nil {
		onQuery()
	}
	return res, nil
}

func (b *backend) SendToRoute(ctx context.Context, _ lntypes.Hash, r routing.Route) (AttemptResult, error) {
	b.mu.Lock()
	b.attempts = append(b.attempts, r)
	script := b.script
	b.mu.Unlock()
	if script == nil {
		return AttemptResult{Failure: &HopFailure{SourceIndex: len(r.Hops), Code: lnwire.CodeIncorrectOrUnknownPaymentDetails}}, nil
	}
	return script(ctx, r)
}

// failOn fails any attempt over channel id with code, reported by the node
// sending over it.
func failOn(id uint64, code lnwire.FailCode) func(context.Context, routing.Route) (AttemptResult, error) {
	return func(_ context.Context, r routing.Route) (AttemptResult, error) {
		for i, h := range r.Hops {
			if h.Channel == chanID(id) {
				return AttemptResult{Failure: &HopFailure{SourceIndex: i, Code: code}}, nil
			}
		}
		return AttemptResult{Failure: &HopFailure{SourceIndex: len(r.Hops), Code: lnwire.CodeIncorrectOrUnknownPaymentDetails}}, nil
	}
}

// graphBackend adds the optional graph capabilities.
type graphBackend struct {
	*backend
}

func (g graphBackend) Graph(context.Context) (graph.Snapshot, error) {
	return graph.NewSnapshot(network, nil), nil
}

func (g graphBackend) GetChannel(_ context.Context, id lnwire.ShortChannelID) (graph.Channel, error) {
	return channel(id.ToUint64()), nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: time.Unix(1_700_000_000, 0)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func engine(searcher routing.RouteSearcher, attempter Attempter, policy NodeExclusion, now func() time.Time) *Engine {
	return New(Config{
		Self:          self,
		Searcher:      searcher,
		Attempter:     attempter,
		NodeExclusion: policy,
		Now:           now,
	}, zerolog.Nop())
}

func collect(t *testing.T, e *Engine, req Request) []Event {
	t.Helper()
	sub, err := e.Subscribe(context.Background(), req)
	require.NoError(t, err)
	var events []Event
	timer := time.NewTimer(5 * time.Second)
	defer timer.Stop()
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timer.C:
			t.Fatal("probe stream did not end")
		}
	}
}

func eventTypes(events []Event) []EventType {
	out := make([]EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type()
	}
	return out
}

func request() Request {
	return Request{Destination: dave, Mtokens: probeAmount, FinalCLTVDelta: 28}
}
