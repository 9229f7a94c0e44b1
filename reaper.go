package taskstream

import (
	"context"
	"errors"
	"time"

	"github.com/UniQw/taskstream/internal/reaper"
)

// DefaultReapIdleThreshold is the idle age past which a quiescent foreign
// consumer is removed at startup.
const DefaultReapIdleThreshold = reaper.DefaultIdleThreshold

type cleanupOptions struct {
	pending int64
}

// CleanupOption configures Cleanup.
type CleanupOption func(*cleanupOptions)

// WithPendingThreshold lets Cleanup remove consumers still holding up to n
// pending entries. The default 0 only removes fully quiescent consumers.
// Pending entries of a removed consumer are dropped from the group.
func WithPendingThreshold(n int64) CleanupOption {
	return func(o *cleanupOptions) {
		o.pending = n
	}
}

// Cleanup removes consumers of group that are idle longer than idle and hold
// no more than the pending threshold, skipping every name in current. It
// returns how many were removed. Individual delete failures do not stop the
// sweep; they are returned joined and are not counted.
func (b *Broker) Cleanup(ctx context.Context, stream, group string, current []string, idle time.Duration, opts ...CleanupOption) (int, error) {
	var o cleanupOptions
	for _, opt := range opts {
		opt(&o)
	}
	return reaper.Cleanup(ctx, reaper.NewRedisRegistry(b.rdb), reaper.Params{
		Stream:           stream,
		Group:            group,
		Current:          current,
		IdleThreshold:    idle,
		PendingThreshold: o.pending,
	}, b.log)
}

// CleanupTopologies sweeps every topology with its own consumer names as
// current and returns the total removed.
func (b *Broker) CleanupTopologies(ctx context.Context, tps []Topology, idle time.Duration, opts ...CleanupOption) (int, error) {
	total := 0
	var errs []error
	for _, tp := range tps {
		n, err := b.Cleanup(ctx, tp.Stream, tp.Group, tp.ConsumerNames(), idle, opts...)
		total += n
		if err != nil {
			b.log.Warnf("reaper: sweep failed stream=%s group=%s err=%v", tp.Stream, tp.Group, err)
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}
