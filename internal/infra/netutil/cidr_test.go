package netutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseCIDRs(t *testing.T) {
	nets, err := ParseCIDRs([]string{"127.0.0.0/8", "::1/128"})
	require.NoError(t, err)
	require.Len(t, nets, 2)

	_, err = ParseCIDRs([]string{"127.0.0.0/8", "localhost"})
	require.Error(t, err)
}
