package taskstream

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandlerCtx_NoState(t *testing.T) {
	ctx := context.Background()
	require.Empty(t, MessageUUID(ctx))
	require.False(t, IsRecovered(ctx))
}

func TestHandlerCtx_WithDelivery(t *testing.T) {
	ctx := withDelivery(context.Background(), &Delivery{MessageUUID: "u-1", Stream: "s", EntryID: "1-0", Recovered: true})
	require.Equal(t, "u-1", MessageUUID(ctx))
	require.True(t, IsRecovered(ctx))
}
