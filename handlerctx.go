package taskstream

import (
	"context"

	"github.com/UniQw/taskstream/internal/hctx"
)

// MessageUUID returns the uuid of the task being handled, or "" when ctx
// does not come from a Server.
func MessageUUID(ctx context.Context) string {
	st, ok := hctx.From(ctx)
	if !ok || st == nil {
		return ""
	}
	return st.MessageUUID
}

// IsRecovered reports whether the current delivery came from the claiming path.
func IsRecovered(ctx context.Context) bool {
	st, ok := hctx.From(ctx)
	return ok && st != nil && st.Recovered
}

func withDelivery(ctx context.Context, d *Delivery) context.Context {
	return hctx.WithState(ctx, &hctx.State{
		MessageUUID: d.MessageUUID,
		Stream:      d.Stream,
		EntryID:     d.EntryID,
		Recovered:   d.Recovered,
	})
}
