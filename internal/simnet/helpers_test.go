package simnet

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/lightningnetwork/lnd/routing/route"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
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

func ep(key route.Vertex, alias string, base, rate, delta int64) Endpoint {
	return Endpoint{PubKey: key.String(), Alias: alias, BaseFee: base, FeeRateProp: rate, CltvExpiryDelta: delta, MaxHTLC: 483}
}

func msat(v uint64) *uint64 { return &v }

// testFile is self -> bob -> dave and self -> carol -> dave. Bob relays for
// 1000 + 1ppm over 40 blocks but only holds 100k sats toward dave; carol
// charges 5000 + 5ppm over 10 blocks.
func testFile() File {
	bobOut := ep(bob, "bob", 1000, 1, 40)
	bobOut.BalanceMsat = msat(100_000_000)
	return File{
		LocalNode:   self.String(),
		BlockHeight: 500,
		SimNetwork: []ChannelRecord{
			{Scid: 101, CapacityMsat: 10_000_000_000, Node1: ep(self, "self", 1, 0, 144), Node2: ep(bob, "bob", 1, 0, 144)},
			{Scid: 102, CapacityMsat: 10_000_000_000, Node1: bobOut, Node2: ep(dave, "dave", 1, 0, 144)},
			{Scid: 201, CapacityMsat: 10_000_000_000, Node1: ep(self, "self", 1, 0, 144), Node2: ep(carol, "carol", 1, 0, 144)},
			{Scid: 202, CapacityMsat: 10_000_000_000, Node1: ep(carol, "carol", 5000, 5, 10), Node2: ep(dave, "dave", 1, 0, 144)},
		},
		Nodes: []NodeRecord{
			{PubKey: dave.String(), Alias: "dave", Color: "#3399ff", Features: []uint16{9, 14, 17}, Sockets: []string{"127.0.0.1:9735"}, UpdatedAt: 1_600_000_000},
			{PubKey: carol.String(), UpdatedAt: -1},
		},
	}
}

func writeFile(t *testing.T, dir string, f File) string {
	t.Helper()
	data, err := json.Marshal(f)
	require.NoError(t, err)
	path := filepath.Join(dir, "graph.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func openTest(t *testing.T, f File) (*Network, string) {
	t.Helper()
	path := writeFile(t, t.TempDir(), f)
	n, err := Open(path, Options{}, zerolog.Nop())
	require.NoError(t, err)
	return n, path
}

func mustJSON(t *testing.T, f File) []byte {
	t.Helper()
	data, err := json.Marshal(f)
	require.NoError(t, err)
	return data
}
