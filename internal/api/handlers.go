package api

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"
	"github.com/rs/zerolog"

	"lnprobe/internal/apperr"
	"lnprobe/internal/graph"
	"lnprobe/internal/probe"
	"lnprobe/internal/routing"
)

// Backend is the graph and search view the handlers need.
type Backend interface {
	routing.RouteSearcher
	Graph(ctx context.Context) (graph.Snapshot, error)
	Self() route.Vertex
	Height() uint32
}

// Prober starts probe sessions.
type Prober interface {
	Subscribe(ctx context.Context, req probe.Request) (*probe.Subscription, error)
}

// Defaults fill in request fields a client leaves out.
type Defaults struct {
	FinalCLTVDelta uint16
	MaxRoutes      int
	ProbeTimeout   time.Duration
}

// Handler holds API route handlers.
type Handler struct {
	backend  Backend
	prober   Prober
	defaults Defaults
	logger   zerolog.Logger
}

func NewHandler(backend Backend, prober Prober, defaults Defaults, logger zerolog.Logger) *Handler {
	return &Handler{backend: backend, prober: prober, defaults: defaults, logger: logger.With().Str("component", "api").Logger()}
}

// Graph handles GET /api/graph.
func (h *Handler) Graph(w http.ResponseWriter, r *http.Request) {
	snap, err := h.backend.Graph(r.Context())
	if err != nil {
		h.writeError(w, "graph", apperr.Unavailable("UnexpectedErrorGettingNetworkGraph", err))
		return
	}
	writeJSON(w, h.logger, http.StatusOK, newGraphDTO(snap))
}

// Routes handles POST /api/routes.
func (h *Handler) Routes(w http.ResponseWriter, r *http.Request) {
	var body RoutesRequest
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, "routes", err)
		return
	}
	req, err := h.queryRequest(r.Context(), body)
	if err != nil {
		h.writeError(w, "routes", err)
		return
	}
	routes, err := routing.QueryRoutes(r.Context(), h.backend, req)
	if err != nil {
		h.writeError(w, "routes", err)
		return
	}
	out := RoutesResponse{Routes: make([]RouteDTO, 0, len(routes))}
	for _, rt := range routes {
		out.Routes = append(out.Routes, NewRouteDTO(rt))
	}
	writeJSON(w, h.logger, http.StatusOK, out)
}

func (h *Handler) queryRequest(ctx context.Context, body RoutesRequest) (routing.QueryRequest, error) {
	dest, err := parseVertex("Destination", body.Destination)
	if err != nil {
		return routing.QueryRequest{}, err
	}
	amt, err := parseAmount("Route", body.Mtokens, body.Tokens)
	if err != nil {
		return routing.QueryRequest{}, err
	}
	req := routing.QueryRequest{
		Source:         h.backend.Self(),
		Destination:    dest,
		Mtokens:        amt,
		CLTVLimit:      body.CLTVLimit,
		FinalCLTVDelta: body.FinalCLTVDelta,
		MaxRoutes:      body.MaxRoutes,
	}
	if req.FinalCLTVDelta == 0 {
		req.FinalCLTVDelta = h.defaults.FinalCLTVDelta
	}
	if req.MaxRoutes == 0 {
		req.MaxRoutes = h.defaults.MaxRoutes
	}
	if body.FeeLimitMtokens != "" {
		limit, err := parseAmount("FeeLimit", body.FeeLimitMtokens, 0)
		if err != nil {
			return routing.QueryRequest{}, err
		}
		req.FeeLimit = &limit
	}
	ignore, err := parseIgnore(body.Ignore)
	if err != nil {
		return routing.QueryRequest{}, err
	}
	var channels []graph.Channel
	if len(ignore) > 0 {
		snap, err := h.backend.Graph(ctx)
		if err != nil {
			return routing.QueryRequest{}, apperr.Unavailable("UnexpectedErrorGettingNetworkGraph", err)
		}
		channels = snap.Channels
	}
	req.Exclusions = routing.ExclusionSet{}.WithIgnore(channels, ignore)
	return req, nil
}

// RouteFromHint handles POST /api/routes/hint.
func (h *Handler) RouteFromHint(w http.ResponseWriter, r *http.Request) {
	var body HintRequest
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, "routes_hint", err)
		return
	}
	rt, err := h.routeFromHint(r.Context(), body)
	if err != nil {
		h.writeError(w, "routes_hint", err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, NewRouteDTO(rt))
}

func (h *Handler) routeFromHint(ctx context.Context, body HintRequest) (routing.Route, error) {
	dest, err := parseVertex("Destination", body.Destination)
	if err != nil {
		return routing.Route{}, err
	}
	amt, err := parseAmount("Route", body.Mtokens, body.Tokens)
	if err != nil {
		return routing.Route{}, err
	}
	hint, err := parseHint(body.Hint)
	if err != nil {
		return routing.Route{}, err
	}
	delta := body.FinalCLTVDelta
	if delta == 0 {
		delta = h.defaults.FinalCLTVDelta
	}

	req := routing.HintRoute{Hint: hint, Destination: dest, Mtokens: amt, Height: h.backend.Height(), CLTVDelta: delta}
	if snap, err := h.backend.Graph(ctx); err == nil {
		for _, hh := range hint {
			if c, ok := snap.Channel(hh.Channel.ToUint64()); ok {
				if req.Capacities == nil {
					req.Capacities = make(map[lnwire.ShortChannelID]btcutil.Amount)
				}
				req.Capacities[hh.Channel] = c.Capacity
			}
		}
	}
	rt, err := routing.RouteFromRouteHint(req)
	if err != nil {
		return routing.Route{}, apperr.Invalid(constructionMessage(err), err)
	}
	return rt, nil
}

// constructionMessage names a route construction failure by its sentinel.
func constructionMessage(err error) string {
	for _, s := range []error{
		routing.ErrExpectedRouteHint, routing.ErrExpectedPolicy, routing.ErrDisconnectedPath,
		routing.ErrRouteAmountOverflow, routing.ErrRouteTimeoutOverflow,
	} {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "ExpectedValidRouteHint"
}

// Probe handles GET /api/probe as a server-sent event stream.
func (h *Handler) Probe(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	req, err := h.probeRequest(r)
	if err != nil {
		h.writeError(w, "probe", err)
		return
	}
	sub, err := h.prober.Subscribe(r.Context(), req)
	if err != nil {
		h.writeError(w, "probe", err)
		return
	}
	defer sub.Cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range sub.Events() {
		msg, err := encodeEvent(ev)
		if err != nil {
			h.logger.Error().Err(err).Str("event", string(ev.Type())).Msg("event encode failed")
			continue
		}
		if _, err := w.Write(msg); err != nil {
			return
		}
		flusher.Flush()
	}
}

func (h *Handler) probeRequest(r *http.Request) (probe.Request, error) {
	q := r.URL.Query()
	dest, err := parseVertex("Destination", q.Get("destination"))
	if err != nil {
		return probe.Request{}, err
	}
	tokens, err := queryInt(q.Get("tokens"), "Tokens")
	if err != nil {
		return probe.Request{}, err
	}
	amt, err := parseAmount("Probe", q.Get("mtokens"), tokens)
	if err != nil {
		return probe.Request{}, err
	}
	req := probe.Request{Destination: dest, Mtokens: amt, Timeout: h.defaults.ProbeTimeout, FinalCLTVDelta: h.defaults.FinalCLTVDelta}
	if v := q.Get("timeout_ms"); v != "" {
		ms, err := queryInt(v, "Timeout")
		if err != nil {
			return probe.Request{}, err
		}
		if ms > math.MaxInt64/int64(time.Millisecond) {
			return probe.Request{}, apperr.Invalid("ExpectedValidTimeout", nil)
		}
		req.Timeout = time.Duration(ms) * time.Millisecond
	}
	if v := q.Get("fee_limit_mtokens"); v != "" {
		limit, err := parseAmount("FeeLimit", v, 0)
		if err != nil {
			return probe.Request{}, err
		}
		req.FeeLimit = &limit
	}
	if v := q.Get("cltv_limit"); v != "" {
		n, err := queryInt(v, "CltvLimit")
		if err != nil {
			return probe.Request{}, err
		}
		if n > math.MaxUint32 {
			return probe.Request{}, apperr.Invalid("ExpectedValidCltvLimit", nil)
		}
		req.CLTVLimit = uint32(n)
	}
	if v := q.Get("final_cltv_delta"); v != "" {
		n, err := queryInt(v, "FinalCltvDelta")
		if err != nil || n > 0xffff {
			return probe.Request{}, apperr.Invalid("ExpectedValidFinalCltvDelta", err)
		}
		req.FinalCLTVDelta = uint16(n)
	}
	// ignore=from[:to[:channel]] repeated
	var raw []IgnoreDTO
	for _, v := range q["ignore"] {
		parts := strings.Split(v, ":")
		ig := IgnoreDTO{FromPublicKey: parts[0]}
		if len(parts) > 1 {
			ig.ToPublicKey = parts[1]
		}
		if len(parts) > 2 {
			ig.Channel = parts[2]
		}
		raw = append(raw, ig)
	}
	if req.Ignore, err = parseIgnore(raw); err != nil {
		return probe.Request{}, err
	}
	return req, nil
}

func queryInt(v, field string) (int64, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, apperr.Invalid("ExpectedNonNegative"+field, err)
	}
	return n, nil
}
