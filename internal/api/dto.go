package api

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"

	"lnprobe/internal/apperr"
	"lnprobe/internal/graph"
	"lnprobe/internal/probe"
	"lnprobe/internal/routing"
)

// Millitoken amounts travel as decimal strings so no client loses precision.

type HopDTO struct {
	Channel         string `json:"channel"`
	ChannelCapacity int64  `json:"channel_capacity"`
	Fee             int64  `json:"fee"`
	FeeMtokens      string `json:"fee_mtokens"`
	Forward         int64  `json:"forward"`
	ForwardMtokens  string `json:"forward_mtokens"`
	PublicKey       string `json:"public_key"`
	Timeout         uint32 `json:"timeout"`
}

type MessageDTO struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type RouteDTO struct {
	Confidence *uint32      `json:"confidence,omitempty"`
	Fee        int64        `json:"fee"`
	FeeMtokens string       `json:"fee_mtokens"`
	Hops       []HopDTO     `json:"hops"`
	Messages   []MessageDTO `json:"messages,omitempty"`
	Mtokens    string       `json:"mtokens"`
	SafeFee    int64        `json:"safe_fee"`
	SafeTokens int64        `json:"safe_tokens"`
	Timeout    uint32       `json:"timeout"`
	Tokens     int64        `json:"tokens"`
	Hint       []HintHopDTO `json:"hint,omitempty"`
}

type HintHopDTO struct {
	BaseFeeMtokens string `json:"base_fee_mtokens"`
	Channel        string `json:"channel"`
	CLTVDelta      uint16 `json:"cltv_delta"`
	FeeRate        uint32 `json:"fee_rate"`
	PublicKey      string `json:"public_key"`
}

type PolicyDTO struct {
	BaseFeeMtokens string `json:"base_fee_mtokens"`
	CLTVDelta      uint16 `json:"cltv_delta"`
	FeeRate        uint32 `json:"fee_rate"`
	IsDisabled     bool   `json:"is_disabled"`
	MaxHTLCMtokens string `json:"max_htlc_mtokens,omitempty"`
	MinHTLCMtokens string `json:"min_htlc_mtokens"`
	PublicKey      string `json:"public_key"`
	UpdatedAt      string `json:"updated_at,omitempty"`
}

type ChannelDTO struct {
	Capacity        int64       `json:"capacity"`
	ID              string      `json:"id"`
	Policies        []PolicyDTO `json:"policies"`
	TransactionID   string      `json:"transaction_id"`
	TransactionVout uint32      `json:"transaction_vout"`
	UpdatedAt       string      `json:"updated_at,omitempty"`
}

type FeatureDTO struct {
	Bit        uint16 `json:"bit"`
	IsKnown    bool   `json:"is_known"`
	IsRequired bool   `json:"is_required"`
	Type       string `json:"type,omitempty"`
}

type NodeDTO struct {
	Alias     string       `json:"alias"`
	Color     string       `json:"color"`
	Features  []FeatureDTO `json:"features"`
	PublicKey string       `json:"public_key"`
	Sockets   []string     `json:"sockets"`
	UpdatedAt string       `json:"updated_at"`
}

type GraphDTO struct {
	Channels []ChannelDTO `json:"channels"`
	Nodes    []NodeDTO    `json:"nodes"`
}

type IgnoreDTO struct {
	Channel       string `json:"channel,omitempty"`
	FromPublicKey string `json:"from_public_key"`
	ToPublicKey   string `json:"to_public_key,omitempty"`
}

// RoutesRequest is the body of POST /api/routes.
type RoutesRequest struct {
	Destination     string      `json:"destination"`
	Mtokens         string      `json:"mtokens,omitempty"`
	Tokens          int64       `json:"tokens,omitempty"`
	FeeLimitMtokens string      `json:"fee_limit_mtokens,omitempty"`
	CLTVLimit       uint32      `json:"cltv_limit,omitempty"`
	FinalCLTVDelta  uint16      `json:"final_cltv_delta,omitempty"`
	MaxRoutes       int         `json:"max_routes,omitempty"`
	Ignore          []IgnoreDTO `json:"ignore,omitempty"`
}

// HintRequest is the body of POST /api/routes/hint.
type HintRequest struct {
	Destination    string       `json:"destination"`
	Hint           []HintHopDTO `json:"hint"`
	Mtokens        string       `json:"mtokens,omitempty"`
	Tokens         int64        `json:"tokens,omitempty"`
	FinalCLTVDelta uint16       `json:"final_cltv_delta,omitempty"`
}

type RoutesResponse struct {
	Routes []RouteDTO `json:"routes"`
}

type ErrorDTO struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Details  string `json:"details,omitempty"`
}

type errResponse struct {
	Error ErrorDTO `json:"error"`
}

// RoutingFailureDTO is the routing_failure event payload.
type RoutingFailureDTO struct {
	Channel   string     `json:"channel"`
	Index     int        `json:"index"`
	PublicKey string     `json:"public_key"`
	Reason    string     `json:"reason"`
	Policy    *PolicyDTO `json:"policy,omitempty"`
	Route     RouteDTO   `json:"route"`
	Update    *UpdateDTO `json:"update,omitempty"`
}

type UpdateDTO struct {
	Chain           string `json:"chain"`
	ChannelFlags    uint8  `json:"channel_flags"`
	ExtraOpaqueData string `json:"extra_opaque_data"`
	MessageFlags    uint8  `json:"message_flags"`
	UpdatedAt       string `json:"updated_at"`
}

func mtokensString(m lnwire.MilliSatoshi) string { return strconv.FormatUint(uint64(m), 10) }

func timeString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func NewRouteDTO(r routing.Route) RouteDTO {
	out := RouteDTO{
		Confidence: r.Confidence,
		Fee:        int64(r.Fee),
		FeeMtokens: mtokensString(r.FeeMtokens),
		Hops:       make([]HopDTO, len(r.Hops)),
		Mtokens:    mtokensString(r.Mtokens),
		SafeFee:    int64(r.SafeFee),
		SafeTokens: int64(r.SafeTokens),
		Timeout:    r.Timeout,
		Tokens:     int64(r.Tokens),
	}
	for i, h := range r.Hops {
		out.Hops[i] = HopDTO{
			Channel:         graph.FormatChannelID(h.Channel),
			ChannelCapacity: int64(h.ChannelCapacity),
			Fee:             int64(h.Fee()),
			FeeMtokens:      mtokensString(h.FeeMtokens),
			Forward:         int64(h.Forward()),
			ForwardMtokens:  mtokensString(h.ForwardMtokens),
			PublicKey:       h.PublicKey.String(),
			Timeout:         h.Timeout,
		}
	}
	for _, m := range r.Messages {
		out.Messages = append(out.Messages, MessageDTO{Type: strconv.FormatUint(m.Type, 10), Value: hex.EncodeToString(m.Value)})
	}
	if hint, err := routing.RouteHintFromRoute(r); err == nil {
		out.Hint = newHintDTO(hint)
	}
	return out
}

func newHintDTO(hint routing.RouteHint) []HintHopDTO {
	out := make([]HintHopDTO, len(hint))
	for i, h := range hint {
		out[i] = HintHopDTO{
			BaseFeeMtokens: mtokensString(h.BaseFeeMtokens),
			Channel:        graph.FormatChannelID(h.Channel),
			CLTVDelta:      h.CLTVDelta,
			FeeRate:        h.FeeRate,
			PublicKey:      h.PublicKey.String(),
		}
	}
	return out
}

func newPolicyDTO(p graph.Policy) PolicyDTO {
	out := PolicyDTO{
		BaseFeeMtokens: mtokensString(p.BaseFeeMtokens),
		CLTVDelta:      p.CLTVDelta,
		FeeRate:        p.FeeRate,
		IsDisabled:     p.IsDisabled,
		MinHTLCMtokens: mtokensString(p.MinHTLCMtokens),
		PublicKey:      p.PublicKey.String(),
		UpdatedAt:      timeString(p.UpdatedAt),
	}
	if p.MaxHTLCMtokens > 0 {
		out.MaxHTLCMtokens = mtokensString(p.MaxHTLCMtokens)
	}
	return out
}

func newGraphDTO(s graph.Snapshot) GraphDTO {
	out := GraphDTO{Channels: make([]ChannelDTO, 0, len(s.Channels)), Nodes: make([]NodeDTO, 0, len(s.Nodes))}
	for _, c := range s.Channels {
		ch := ChannelDTO{
			Capacity:        int64(c.Capacity),
			ID:              graph.FormatChannelID(c.ID),
			Policies:        []PolicyDTO{},
			TransactionID:   c.ChannelPoint.Hash.String(),
			TransactionVout: c.ChannelPoint.Index,
			UpdatedAt:       timeString(c.UpdatedAt),
		}
		for _, p := range c.Policies() {
			ch.Policies = append(ch.Policies, newPolicyDTO(p))
		}
		out.Channels = append(out.Channels, ch)
	}
	for _, n := range s.Nodes {
		node := NodeDTO{
			Alias:     n.Alias,
			Color:     n.Color,
			Features:  make([]FeatureDTO, 0, len(n.Features)),
			PublicKey: n.PublicKey.String(),
			Sockets:   append([]string{}, n.Sockets...),
			UpdatedAt: timeString(n.UpdatedAt),
		}
		for _, f := range n.Features {
			node.Features = append(node.Features, FeatureDTO{Bit: uint16(f.Bit), IsKnown: f.IsKnown, IsRequired: f.IsRequired, Type: f.Type})
		}
		out.Nodes = append(out.Nodes, node)
	}
	return out
}

func newRoutingFailureDTO(ev probe.RoutingFailureEvent) RoutingFailureDTO {
	out := RoutingFailureDTO{
		Channel:   graph.FormatChannelID(ev.Channel),
		Index:     ev.Index,
		PublicKey: ev.PublicKey.String(),
		Reason:    ev.Reason,
		Route:     NewRouteDTO(ev.Route),
	}
	if ev.Policy != nil {
		p := newPolicyDTO(*ev.Policy)
		out.Policy = &p
	}
	if u := ev.Update; u != nil {
		out.Update = &UpdateDTO{
			Chain:           u.Chain.String(),
			ChannelFlags:    u.ChannelFlags,
			ExtraOpaqueData: hex.EncodeToString(u.ExtraOpaqueData),
			MessageFlags:    u.MessageFlags,
			UpdatedAt:       timeString(u.UpdatedAt),
		}
	}
	return out
}

func newErrorDTO(err *apperr.Error) ErrorDTO {
	out := ErrorDTO{Code: err.Code, Message: err.Message, Category: string(err.Category)}
	if err.Err != nil {
		out.Details = err.Err.Error()
	}
	return out
}

func parseVertex(field, s string) (route.Vertex, error) {
	v, err := route.NewVertexFromStr(s)
	if err != nil {
		return route.Vertex{}, apperr.Invalid("ExpectedPublicKeyFor"+field, err)
	}
	return v, nil
}

func parseAmount(field, mtokens string, tokens int64) (lnwire.MilliSatoshi, error) {
	if mtokens != "" {
		v, err := strconv.ParseUint(mtokens, 10, 64)
		if err != nil {
			return 0, apperr.Invalid("ExpectedNumericMtokensFor"+field, err)
		}
		return lnwire.MilliSatoshi(v), nil
	}
	if tokens < 0 || uint64(tokens) > ^uint64(0)/1000 {
		return 0, apperr.Invalid("ExpectedValidTokensFor"+field, fmt.Errorf("tokens %d", tokens))
	}
	return lnwire.MilliSatoshi(uint64(tokens) * 1000), nil
}

func parseIgnore(in []IgnoreDTO) ([]routing.Ignore, error) {
	out := make([]routing.Ignore, 0, len(in))
	for _, ig := range in {
		from, err := parseVertex("IgnoreFrom", ig.FromPublicKey)
		if err != nil {
			return nil, err
		}
		entry := routing.Ignore{FromPublicKey: from}
		if ig.ToPublicKey != "" {
			to, err := parseVertex("IgnoreTo", ig.ToPublicKey)
			if err != nil {
				return nil, err
			}
			entry.ToPublicKey = &to
		}
		if ig.Channel != "" {
			id, err := graph.ParseChannelID(ig.Channel)
			if err != nil {
				return nil, apperr.Invalid("ExpectedChannelIdForIgnore", err)
			}
			entry.Channel = &id
		}
		out = append(out, entry)
	}
	return out, nil
}

func parseHint(in []HintHopDTO) (routing.RouteHint, error) {
	out := make(routing.RouteHint, 0, len(in))
	for _, h := range in {
		key, err := parseVertex("HintHop", h.PublicKey)
		if err != nil {
			return nil, err
		}
		id, err := graph.ParseChannelID(h.Channel)
		if err != nil {
			return nil, apperr.Invalid("ExpectedChannelIdForHintHop", err)
		}
		base, err := parseAmount("HintBaseFee", h.BaseFeeMtokens, 0)
		if err != nil {
			return nil, err
		}
		out = append(out, routing.HintHop{PublicKey: key, Channel: id, BaseFeeMtokens: base, FeeRate: h.FeeRate, CLTVDelta: h.CLTVDelta})
	}
	return out, nil
}
