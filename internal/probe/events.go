package probe

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"

	"lnprobe/internal/apperr"
	"lnprobe/internal/graph"
	"lnprobe/internal/routing"
)

// EventType names an externally observable probe transition.
type EventType string

const (
	EventProbing        EventType = "probing"
	EventRoutingFailure EventType = "routing_failure"
	EventProbeSuccess   EventType = "probe_success"
	EventError          EventType = "error"
	EventEnd            EventType = "end"
)

// Event is one message of a probe subscription stream.
type Event interface {
	Type() EventType
}

// ProbingEvent is emitted when an attempt over Route starts.
type ProbingEvent struct {
	Route routing.Route
}

// ChannelUpdate is the policy update a failing node attached to its failure.
type ChannelUpdate struct {
	Chain           chainhash.Hash
	Channel         lnwire.ShortChannelID
	ChannelFlags    uint8
	MessageFlags    uint8
	ExtraOpaqueData []byte
	UpdatedAt       time.Time
}

// RoutingFailureEvent reports a per-hop failure that excluded Channel.
type RoutingFailureEvent struct {
	Channel   lnwire.ShortChannelID
	Index     int          // failing hop index in Route
	PublicKey route.Vertex // node that reported the failure
	Code      lnwire.FailCode
	Reason    string
	Policy    *graph.Policy // failing node's policy on Channel, when known
	Route     routing.Route
	Update    *ChannelUpdate
}

// ProbeSuccessEvent carries the route that reached the destination.
type ProbeSuccessEvent struct {
	Route routing.Route
}

// ErrorEvent terminates the session with a coded failure.
type ErrorEvent struct {
	Err *apperr.Error
}

// EndEvent closes the stream.
type EndEvent struct{}

func (ProbingEvent) Type() EventType        { return EventProbing }
func (RoutingFailureEvent) Type() EventType { return EventRoutingFailure }
func (ProbeSuccessEvent) Type() EventType   { return EventProbeSuccess }
func (ErrorEvent) Type() EventType          { return EventError }
func (EndEvent) Type() EventType            { return EventEnd }

func updateFromWire(u *lnwire.ChannelUpdate1) *ChannelUpdate {
	if u == nil {
		return nil
	}
	return &ChannelUpdate{
		Chain:           u.ChainHash,
		Channel:         u.ShortChannelID,
		ChannelFlags:    uint8(u.ChannelFlags),
		MessageFlags:    uint8(u.MessageFlags),
		ExtraOpaqueData: append([]byte(nil), u.ExtraOpaqueData...),
		UpdatedAt:       time.Unix(int64(u.Timestamp), 0).UTC(),
	}
}

// policyFromWire reads the relaying terms out of a channel update.
func policyFromWire(u *lnwire.ChannelUpdate1, announcer route.Vertex) *graph.Policy {
	if u == nil {
		return nil
	}
	return &graph.Policy{
		PublicKey:      announcer,
		BaseFeeMtokens: lnwire.MilliSatoshi(u.BaseFee),
		FeeRate:        u.FeeRate,
		CLTVDelta:      u.TimeLockDelta,
		MinHTLCMtokens: u.HtlcMinimumMsat,
		MaxHTLCMtokens: u.HtlcMaximumMsat,
		IsDisabled:     u.ChannelFlags&lnwire.ChanUpdateDisabled == lnwire.ChanUpdateDisabled,
		UpdatedAt:      time.Unix(int64(u.Timestamp), 0).UTC(),
	}
}
