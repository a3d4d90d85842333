package probe

import (
	"context"
	"testing"

	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/stretchr/testify/require"
)

func TestEmitAfterCancel(t *testing.T) {
	b := &backend{}
	out := make(chan Event, 1)
	s := newSession(engine(b, b, "", nil), request(), lntypes.Hash{}, out)

	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, s.emit(ctx, ProbingEvent{}))
	<-out

	cancel()
	for i := 0; i < 10; i++ {
		require.False(t, s.emit(ctx, ProbingEvent{}))
	}
	require.Empty(t, out)
}
