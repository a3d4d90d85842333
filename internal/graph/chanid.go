package graph

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lightningnetwork/lnd/lnwire"
)

const chanIDSeparator = "x"

// FormatChannelID renders a short channel id in the standard AxBxC form.
func FormatChannelID(id lnwire.ShortChannelID) string {
	return fmt.Sprintf("%d%s%d%s%d", id.BlockHeight, chanIDSeparator, id.TxIndex, chanIDSeparator, id.TxPosition)
}

// ParseChannelID parses the AxBxC form back into a short channel id.
func ParseChannelID(s string) (lnwire.ShortChannelID, error) {
	parts := strings.Split(s, chanIDSeparator)
	if len(parts) != 3 {
		return lnwire.ShortChannelID{}, fmt.Errorf("graph: expected AxBxC channel id, got %q", s)
	}
	block, err := strconv.ParseUint(parts[0], 10, 24)
	if err != nil {
		return lnwire.ShortChannelID{}, fmt.Errorf("graph: channel block height: %w", err)
	}
	tx, err := strconv.ParseUint(parts[1], 10, 24)
	if err != nil {
		return lnwire.ShortChannelID{}, fmt.Errorf("graph: channel tx index: %w", err)
	}
	vout, err := strconv.ParseUint(parts[2], 10, 16)
	if err != nil {
		return lnwire.ShortChannelID{}, fmt.Errorf("graph: channel output index: %w", err)
	}
	return lnwire.ShortChannelID{BlockHeight: uint32(block), TxIndex: uint32(tx), TxPosition: uint16(vout)}, nil
}
