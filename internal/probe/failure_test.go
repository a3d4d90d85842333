package probe

import (
	"testing"

	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	require.Equal(t, ScopeChannel, Classify(lnwire.CodeTemporaryChannelFailure))
	require.Equal(t, ScopeChannel, Classify(lnwire.CodeUnknownNextPeer))
	require.Equal(t, ScopeChannel, Classify(lnwire.CodeExpiryTooSoon))
	require.Equal(t, ScopeNode, Classify(lnwire.CodeTemporaryNodeFailure))
	require.Equal(t, ScopeNode, Classify(lnwire.CodeInvalidOnionHmac))
	require.Equal(t, ScopeUnknown, Classify(lnwire.CodeIncorrectOrUnknownPaymentDetails))
	require.Equal(t, ScopeUnknown, Classify(lnwire.CodeMPPTimeout))
}

func TestParseNodeExclusion(t *testing.T) {
	for in, want := range map[string]NodeExclusion{
		"":              ExcludeNodeOnNodeFailure,
		"node_failures": ExcludeNodeOnNodeFailure,
		" Always ":      ExcludeNodeAlways,
		"never":         ExcludeNodeNever,
	} {
		got, err := ParseNodeExclusion(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got)
	}
	_, err := ParseNodeExclusion("sometimes")
	require.Error(t, err)
}

func TestNodeExclusionScopes(t *testing.T) {
	require.True(t, ExcludeNodeOnNodeFailure.excludesNode(ScopeNode))
	require.False(t, ExcludeNodeOnNodeFailure.excludesNode(ScopeChannel))
	require.True(t, ExcludeNodeAlways.excludesNode(ScopeChannel))
	require.False(t, ExcludeNodeNever.excludesNode(ScopeNode))
}
