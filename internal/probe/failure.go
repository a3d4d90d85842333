package probe

import (
	"fmt"
	"strings"

	"github.com/lightningnetwork/lnd/lnwire"
)

// Scope is what a failure code blames.
type Scope int

const (
	ScopeUnknown Scope = iota
	ScopeChannel
	ScopeNode
)

var channelCodes = map[lnwire.FailCode]struct{}{
	lnwire.CodeTemporaryChannelFailure:       {},
	lnwire.CodePermanentChannelFailure:       {},
	lnwire.CodeRequiredChannelFeatureMissing: {},
	lnwire.CodeUnknownNextPeer:               {},
	lnwire.CodeAmountBelowMinimum:            {},
	lnwire.CodeFeeInsufficient:               {},
	lnwire.CodeIncorrectCltvExpiry:           {},
	lnwire.CodeExpiryTooSoon:                 {},
	lnwire.CodeExpiryTooFar:                  {},
	lnwire.CodeChannelDisabled:               {},
}

var nodeCodes = map[lnwire.FailCode]struct{}{
	lnwire.CodeTemporaryNodeFailure:       {},
	lnwire.CodePermanentNodeFailure:       {},
	lnwire.CodeRequiredNodeFeatureMissing: {},
	lnwire.CodeInvalidRealm:               {},
	lnwire.CodeInvalidOnionVersion:        {},
	lnwire.CodeInvalidOnionHmac:           {},
	lnwire.CodeInvalidOnionKey:            {},
}

// Classify returns the scope of a failure reported by a relaying node.
func Classify(code lnwire.FailCode) Scope {
	if _, ok := channelCodes[code]; ok {
		return ScopeChannel
	}
	if _, ok := nodeCodes[code]; ok {
		return ScopeNode
	}
	return ScopeUnknown
}

// NodeExclusion decides when a routing failure also excludes the failing node.
type NodeExclusion string

const (
	// ExcludeNodeOnNodeFailure excludes the node only for node-scoped codes.
	ExcludeNodeOnNodeFailure NodeExclusion = "node_failures"
	// ExcludeNodeAlways excludes the reporting node on every routing failure.
	ExcludeNodeAlways NodeExclusion = "always"
	// ExcludeNodeNever only ever excludes channel directions.
	ExcludeNodeNever NodeExclusion = "never"
)

// ParseNodeExclusion accepts the config names; empty selects the default.
func ParseNodeExclusion(s string) (NodeExclusion, error) {
	switch NodeExclusion(strings.ToLower(strings.TrimSpace(s))) {
	case "", ExcludeNodeOnNodeFailure:
		return ExcludeNodeOnNodeFailure, nil
	case ExcludeNodeAlways:
		return ExcludeNodeAlways, nil
	case ExcludeNodeNever:
		return ExcludeNodeNever, nil
	}
	return "", fmt.Errorf("probe: unknown node exclusion policy %q", s)
}

func (p NodeExclusion) excludesNode(s Scope) bool {
	switch p {
	case ExcludeNodeAlways:
		return true
	case ExcludeNodeNever:
		return false
	}
	return s == ScopeNode
}
