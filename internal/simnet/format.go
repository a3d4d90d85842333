package simnet

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"

	"lnprobe/internal/graph"
)

// File is the JSON graph format: the sim-ln channel list plus the optional
// local node, block height and per-node announcements.
type File struct {
	SimNetwork  []ChannelRecord `json:"sim_network"`
	LocalNode   string          `json:"local_node,omitempty"`
	BlockHeight uint32          `json:"block_height,omitempty"`
	Nodes       []NodeRecord    `json:"nodes,omitempty"`
}

type ChannelRecord struct {
	Scid         uint64   `json:"scid"`
	CapacityMsat uint64   `json:"capacity_msat"`
	FundingTxid  string   `json:"funding_txid,omitempty"`
	Node1        Endpoint `json:"node_1"`
	Node2        Endpoint `json:"node_2"`
}

// Endpoint is one side of a channel and the policy it relays out with.
type Endpoint struct {
	PubKey          string `json:"pubkey"`
	Alias           string `json:"alias"`
	MaxHTLC         int64  `json:"max_htlc_count"`
	MaxInFlightMsat int64  `json:"max_in_flight_msat"`
	MinHTLCSizeMSat int64  `json:"min_htlc_size_msat"`
	MaxHTLCSizeMSat int64  `json:"max_htlc_size_msat"`
	CltvExpiryDelta int64  `json:"cltv_expiry_delta"`
	BaseFee         int64  `json:"base_fee"`
	FeeRateProp     int64  `json:"fee_rate_prop"`
	// BalanceMsat is the local balance; the full capacity when omitted.
	BalanceMsat *uint64 `json:"balance_msat,omitempty"`
	Disabled    bool    `json:"disabled,omitempty"`
}

type NodeRecord struct {
	PubKey    string   `json:"pubkey"`
	Alias     string   `json:"alias"`
	Color     string   `json:"color"`
	Features  []uint16 `json:"features"`
	Sockets   []string `json:"sockets"`
	UpdatedAt int64    `json:"updated_at"`
}

// state is a parsed graph with the liquidity the simulator tracks.
type state struct {
	self     route.Vertex
	height   uint32
	snapshot graph.Snapshot
	byID     map[lnwire.ShortChannelID]int
	// balance[id][0] is Node1's side, [1] Node2's.
	balance map[lnwire.ShortChannelID][2]lnwire.MilliSatoshi
}

// defaultFunding stands in for channels that do not name their funding tx.
const defaultFunding = "33bd5d49a50e284221561b91e781f1fca0d60341c9f9dd785b5e379a6d88af3d"

// announced is the update time given to graph data the file leaves undated.
var announced = time.Unix(433453, 0).UTC()

func loadFile(path string) (*state, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parse(f)
}

func parse(r io.Reader) (*state, error) {
	var file File
	if err := json.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("simnet: decode graph: %w", err)
	}

	st := &state{
		height:  file.BlockHeight,
		byID:    make(map[lnwire.ShortChannelID]int, len(file.SimNetwork)),
		balance: make(map[lnwire.ShortChannelID][2]lnwire.MilliSatoshi, len(file.SimNetwork)),
	}
	nodes := make(map[route.Vertex]*graph.Node)
	var order []route.Vertex
	addNode := func(key route.Vertex, alias string) {
		if _, ok := nodes[key]; ok {
			return
		}
		nodes[key] = &graph.Node{PublicKey: key, Alias: alias, UpdatedAt: announced}
		order = append(order, key)
	}

	channels := make([]graph.Channel, 0, len(file.SimNetwork))
	for i, rec := range file.SimNetwork {
		c, bal, err := rec.channel()
		if err != nil {
			return nil, fmt.Errorf("simnet: channel %d: %w", i, err)
		}
		if _, dup := st.byID[c.ID]; dup {
			return nil, fmt.Errorf("simnet: duplicate channel %s", graph.FormatChannelID(c.ID))
		}
		st.byID[c.ID] = len(channels)
		st.balance[c.ID] = bal
		channels = append(channels, c)
		addNode(c.Node1, rec.Node1.Alias)
		addNode(c.Node2, rec.Node2.Alias)
	}

	for _, n := range file.Nodes {
		key, err := route.NewVertexFromStr(n.PubKey)
		if err != nil {
			return nil, fmt.Errorf("simnet: node %q: %w", n.PubKey, err)
		}
		addNode(key, n.Alias)
		node := nodes[key]
		if n.Alias != "" {
			node.Alias = n.Alias
		}
		node.Color = n.Color
		node.Sockets = n.Sockets
		bits := make([]lnwire.FeatureBit, 0, len(n.Features))
		for _, b := range n.Features {
			bits = append(bits, lnwire.FeatureBit(b))
		}
		node.Features = graph.FeaturesFromBits(bits)
		// A negative time marks a node that never announced itself.
		switch {
		case n.UpdatedAt > 0:
			node.UpdatedAt = time.Unix(n.UpdatedAt, 0).UTC()
		case n.UpdatedAt < 0:
			node.UpdatedAt = time.Time{}
		}
	}

	list := make([]graph.Node, 0, len(order))
	for _, k := range order {
		list = append(list, *nodes[k])
	}
	st.snapshot = graph.NewSnapshot(channels, list)

	if file.LocalNode != "" {
		self, err := route.NewVertexFromStr(file.LocalNode)
		if err != nil {
			return nil, fmt.Errorf("simnet: local node: %w", err)
		}
		st.self = self
	}
	return st, nil
}

func (rec ChannelRecord) channel() (graph.Channel, [2]lnwire.MilliSatoshi, error) {
	var bal [2]lnwire.MilliSatoshi
	n1, err := route.NewVertexFromStr(rec.Node1.PubKey)
	if err != nil {
		return graph.Channel{}, bal, fmt.Errorf("node_1: %w", err)
	}
	n2, err := route.NewVertexFromStr(rec.Node2.PubKey)
	if err != nil {
		return graph.Channel{}, bal, fmt.Errorf("node_2: %w", err)
	}
	if n1 == n2 {
		return graph.Channel{}, bal, fmt.Errorf("channel %d joins %s to itself", rec.Scid, n1)
	}
	if rec.Scid == 0 {
		return graph.Channel{}, bal, fmt.Errorf("expected scid")
	}
	txid := rec.FundingTxid
	if txid == "" {
		txid = defaultFunding
	}
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return graph.Channel{}, bal, fmt.Errorf("funding txid: %w", err)
	}

	id := lnwire.NewShortChanIDFromInt(rec.Scid)
	capacity := lnwire.MilliSatoshi(rec.CapacityMsat)
	c := graph.Channel{
		ID:           id,
		Capacity:     capacity.ToSatoshis(),
		ChannelPoint: wire.OutPoint{Hash: *hash, Index: uint32(id.TxPosition)},
		Node1:        n1,
		Node2:        n2,
		Policy1:      rec.Node1.policy(n1),
		Policy2:      rec.Node2.policy(n2),
		UpdatedAt:    announced,
	}
	bal[0] = rec.Node1.balance(capacity)
	bal[1] = rec.Node2.balance(capacity)
	return c, bal, nil
}

func (e Endpoint) policy(key route.Vertex) *graph.Policy {
	return &graph.Policy{
		PublicKey:      key,
		BaseFeeMtokens: lnwire.MilliSatoshi(nonNegative(e.BaseFee)),
		FeeRate:        uint32(nonNegative(e.FeeRateProp)),
		CLTVDelta:      uint16(nonNegative(e.CltvExpiryDelta)),
		MinHTLCMtokens: lnwire.MilliSatoshi(nonNegative(e.MinHTLCSizeMSat)),
		MaxHTLCMtokens: lnwire.MilliSatoshi(nonNegative(e.MaxHTLCSizeMSat)),
		IsDisabled:     e.Disabled,
		UpdatedAt:      announced,
	}
}

func (e Endpoint) balance(capacity lnwire.MilliSatoshi) lnwire.MilliSatoshi {
	if e.BalanceMsat == nil {
		return capacity
	}
	return lnwire.MilliSatoshi(*e.BalanceMsat)
}

func nonNegative(v int64) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v)
}
