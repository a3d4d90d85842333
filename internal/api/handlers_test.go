package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/routing/route"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"lnprobe/internal/infra/health"
	"lnprobe/internal/probe"
	"lnprobe/internal/simnet"
)

func vertex(b byte) route.Vertex {
	var v route.Vertex
	v[0] = 0x02
	v[32] = b
	return v
}

var (
	self  = vertex(1)
	bob   = vertex(2)
	carol = vertex(3)
	dave  = vertex(4)
)

func endpoint(key route.Vertex, base, rate, delta int64) simnet.Endpoint {
	return simnet.Endpoint{PubKey: key.String(), BaseFee: base, FeeRateProp: rate, CltvExpiryDelta: delta}
}

// Bob is the cheaper relay but cannot cover 500k sats toward dave.
func graphFile() simnet.File {
	low := uint64(100_000_000)
	bobOut := endpoint(bob, 1000, 1, 40)
	bobOut.BalanceMsat = &low
	return simnet.File{
		LocalNode:   self.String(),
		BlockHeight: 500,
		SimNetwork: []simnet.ChannelRecord{
			{Scid: 101, CapacityMsat: 10_000_000_000, Node1: endpoint(self, 1, 0, 144), Node2: endpoint(bob, 1, 0, 144)},
			{Scid: 102, CapacityMsat: 10_000_000_000, Node1: bobOut, Node2: endpoint(dave, 1, 0, 144)},
			{Scid: 201, CapacityMsat: 10_000_000_000, Node1: endpoint(self, 1, 0, 144), Node2: endpoint(carol, 1, 0, 144)},
			{Scid: 202, CapacityMsat: 10_000_000_000, Node1: endpoint(carol, 5000, 5, 10), Node2: endpoint(dave, 1, 0, 144)},
		},
	}
}

type HandlerSuite struct {
	suite.Suite
	router http.Handler
}

func (s *HandlerSuite) SetupTest() {
	data, err := json.Marshal(graphFile())
	s.Require().NoError(err)
	path := filepath.Join(s.T().TempDir(), "graph.json")
	s.Require().NoError(os.WriteFile(path, data, 0o600))

	network, err := simnet.Open(path, simnet.Options{}, zerolog.Nop())
	s.Require().NoError(err)
	engine := probe.New(probe.Config{Self: network.Self(), Searcher: network, Attempter: network}, zerolog.Nop())

	_, loopback, _ := net.ParseCIDR("127.0.0.0/8")
	h := NewHandler(network, engine, Defaults{FinalCLTVDelta: 28, MaxRoutes: 1, ProbeTimeout: time.Minute}, zerolog.Nop())
	s.router = NewRouter(h, RouterConfig{Registry: prometheus.NewRegistry(), AdminCIDRs: []*net.IPNet{loopback}}, zerolog.Nop())
}

func (s *HandlerSuite) do(method, target string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if str, ok := body.(string); ok {
			buf.WriteString(str)
		} else {
			s.Require().NoError(json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) decodeError(rec *httptest.ResponseRecorder) ErrorDTO {
	var out errResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &out))
	return out.Error
}

func (s *HandlerSuite) TestGraph() {
	rec := s.do(http.MethodGet, "/api/graph", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Require().NotEmpty(rec.Header().Get("X-Request-ID"))

	var g GraphDTO
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &g))
	s.Require().Len(g.Channels, 4)
	s.Require().Len(g.Nodes, 4)
	s.Require().Equal("0x0x102", g.Channels[1].ID)
	s.Require().Equal(int64(10_000_000), g.Channels[1].Capacity)
	s.Require().Len(g.Channels[1].Policies, 2)
	s.Require().Equal("1000", g.Channels[1].Policies[0].BaseFeeMtokens)
}

func (s *HandlerSuite) TestRoutes() {
	rec := s.do(http.MethodPost, "/api/routes", RoutesRequest{Destination: dave.String(), Mtokens: "500000000", MaxRoutes: 2})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	var out RoutesResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &out))
	s.Require().Len(out.Routes, 2)
	best := out.Routes[0]
	s.Require().Equal("1500", best.FeeMtokens)
	s.Require().Equal("500001500", best.Mtokens)
	s.Require().Equal(int64(500_001), best.Tokens)
	s.Require().Equal(int64(500_002), best.SafeTokens)
	s.Require().Equal(int64(1), best.Fee)
	s.Require().Equal(int64(2), best.SafeFee)
	s.Require().Equal(uint32(568), best.Timeout)
	s.Require().Equal([]uint32{528, 528}, []uint32{best.Hops[0].Timeout, best.Hops[1].Timeout})
	s.Require().Len(best.Hint, 2)
	s.Require().NotNil(best.Confidence)
}

func (s *HandlerSuite) TestRoutesIgnore() {
	rec := s.do(http.MethodPost, "/api/routes", RoutesRequest{
		Destination: dave.String(),
		Tokens:      500_000,
		MaxRoutes:   2,
		Ignore:      []IgnoreDTO{{FromPublicKey: bob.String(), ToPublicKey: dave.String()}},
	})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var out RoutesResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &out))
	s.Require().Len(out.Routes, 1)
	s.Require().Equal("0x0x201", out.Routes[0].Hops[0].Channel)
}

func (s *HandlerSuite) TestRoutesRejectsBadInput() {
	rec := s.do(http.MethodPost, "/api/routes", RoutesRequest{Destination: "nope", Mtokens: "1"})
	s.Require().Equal(http.StatusBadRequest, rec.Code)
	e := s.decodeError(rec)
	s.Require().Equal("ExpectedPublicKeyForDestination", e.Message)
	s.Require().Equal("malformed_input", e.Category)

	rec = s.do(http.MethodPost, "/api/routes", `{"destination":"`+dave.String()+`","bogus":1}`)
	s.Require().Equal(http.StatusBadRequest, rec.Code)
	s.Require().Equal("ExpectedValidJSONBody", s.decodeError(rec).Message)

	rec = s.do(http.MethodPost, "/api/routes", RoutesRequest{Destination: dave.String(), Mtokens: "12abc"})
	s.Require().Equal("ExpectedNumericMtokensForRoute", s.decodeError(rec).Message)

	rec = s.do(http.MethodPost, "/api/routes", RoutesRequest{Destination: dave.String()})
	s.Require().Equal(http.StatusBadRequest, rec.Code)
	s.Require().Equal("ExpectedValidQueryRoutesRequest", s.decodeError(rec).Message)
}

func (s *HandlerSuite) TestRouteFromHint() {
	rec := s.do(http.MethodPost, "/api/routes", RoutesRequest{Destination: dave.String(), Mtokens: "500000000"})
	s.Require().Equal(http.StatusOK, rec.Code)
	var routes RoutesResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &routes))
	want := routes.Routes[0]

	rec = s.do(http.MethodPost, "/api/routes/hint", HintRequest{Destination: dave.String(), Hint: want.Hint, Mtokens: "500000000"})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var got RouteDTO
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &got))
	s.Require().Equal(want.Hops, got.Hops)
	s.Require().Equal(want.Timeout, got.Timeout)
	s.Require().Equal(want.FeeMtokens, got.FeeMtokens)

	rec = s.do(http.MethodPost, "/api/routes/hint", HintRequest{Destination: dave.String(), Mtokens: "1"})
	s.Require().Equal(http.StatusBadRequest, rec.Code)
	s.Require().Equal("ExpectedRouteHintHops", s.decodeError(rec).Message)

	loop := []HintHopDTO{{PublicKey: dave.String(), Channel: "0x0x102", BaseFeeMtokens: "0"}}
	rec = s.do(http.MethodPost, "/api/routes/hint", HintRequest{Destination: dave.String(), Hint: loop, Mtokens: "1"})
	s.Require().Equal(http.StatusBadRequest, rec.Code)
	s.Require().Equal("ExpectedConnectedChannelsForPath", s.decodeError(rec).Message)
}

type sseEvent struct {
	name string
	data string
}

func readEvents(t *testing.T, body string) []sseEvent {
	t.Helper()
	var out []sseEvent
	var cur sseEvent
	sc := bufio.NewScanner(strings.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		case line == "":
			out = append(out, cur)
			cur = sseEvent{}
		}
	}
	require.NoError(t, sc.Err())
	return out
}

func (s *HandlerSuite) TestProbeStream() {
	rec := s.do(http.MethodGet, "/api/probe?destination="+dave.String()+"&tokens=500000", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Require().Equal("text/event-stream", rec.Header().Get("Content-Type"))

	events := readEvents(s.T(), rec.Body.String())
	var names []string
	for _, ev := range events {
		names = append(names, ev.name)
	}
	s.Require().Equal([]string{"probing", "routing_failure", "probing", "probe_success", "end"}, names)

	var failure RoutingFailureDTO
	s.Require().NoError(json.Unmarshal([]byte(events[1].data), &failure))
	s.Require().Equal("0x0x102", failure.Channel)
	s.Require().Equal(bob.String(), failure.PublicKey)
	s.Require().Equal("TemporaryChannelFailure", failure.Reason)
	s.Require().NotNil(failure.Update)

	var success struct {
		Route RouteDTO `json:"route"`
	}
	s.Require().NoError(json.Unmarshal([]byte(events[3].data), &success))
	s.Require().Equal("0x0x201", success.Route.Hops[0].Channel)
	s.Require().Equal("{}", events[4].data)
}

func (s *HandlerSuite) TestProbeNoRoute() {
	rec := s.do(http.MethodGet, "/api/probe?destination="+vertex(9).String()+"&mtokens=1000", nil)
	s.Require().Equal(http.StatusOK, rec.Code)

	events := readEvents(s.T(), rec.Body.String())
	s.Require().Len(events, 2)
	s.Require().Equal("error", events[0].name)
	var e errResponse
	s.Require().NoError(json.Unmarshal([]byte(events[0].data), &e))
	s.Require().Equal(404, e.Error.Code)
	s.Require().Equal("NoRouteFound", e.Error.Message)
}

func (s *HandlerSuite) TestProbeRejectsBadQuery() {
	rec := s.do(http.MethodGet, "/api/probe?destination=xyz&tokens=1", nil)
	s.Require().Equal(http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/api/probe?destination="+dave.String()+"&tokens=1&timeout_ms=-5", nil)
	s.Require().Equal(http.StatusBadRequest, rec.Code)
	s.Require().Equal("ExpectedNonNegativeTimeout", s.decodeError(rec).Message)

	rec = s.do(http.MethodGet, "/api/probe?destination="+dave.String()+"&tokens=1&timeout_ms=9223372036854775807", nil)
	s.Require().Equal(http.StatusBadRequest, rec.Code)
	s.Require().Equal("ExpectedValidTimeout", s.decodeError(rec).Message)

	rec = s.do(http.MethodGet, "/api/probe?destination="+dave.String()+"&tokens=1&cltv_limit=4294967296", nil)
	s.Require().Equal(http.StatusBadRequest, rec.Code)
	s.Require().Equal("ExpectedValidCltvLimit", s.decodeError(rec).Message)

	rec = s.do(http.MethodGet, "/api/probe?destination="+dave.String()+"&tokens=1&ignore="+bob.String()+":zz", nil)
	s.Require().Equal(http.StatusBadRequest, rec.Code)
	s.Require().Equal("ExpectedPublicKeyForIgnoreTo", s.decodeError(rec).Message)
}

func (s *HandlerSuite) TestAdminEndpoints() {
	rec := s.do(http.MethodGet, "/healthz", nil)
	s.Require().Equal(http.StatusOK, rec.Code)

	health.SetReady(false)
	rec = s.do(http.MethodGet, "/readyz", nil)
	s.Require().Equal(http.StatusServiceUnavailable, rec.Code)
	health.SetReady(true)
	defer health.SetReady(false)
	rec = s.do(http.MethodGet, "/readyz", nil)
	s.Require().Equal(http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/version", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Require().Contains(rec.Body.String(), `"name":"lnprobe"`)

	// httptest requests come from 192.0.2.1
	rec = s.do(http.MethodGet, "/metrics", nil)
	s.Require().Equal(http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.RemoteAddr = "127.0.0.1:40000"
	out := httptest.NewRecorder()
	s.router.ServeHTTP(out, req)
	s.Require().Equal(http.StatusOK, out.Code)
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}
