// Package reaper removes consumer registrations left behind by dead processes.
//
// Redis never expires consumers of a group. A process that exits (or is
// redeployed under a new identity) keeps its consumer names registered
// forever, so each process sweeps the group once at startup.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/UniQw/taskstream/internal/streams"
	"github.com/redis/go-redis/v9"
)

// DefaultIdleThreshold is the idle age after which a quiescent consumer is removed.
const DefaultIdleThreshold = 3 * 24 * time.Hour

// Consumer is one registration as reported by the broker.
type Consumer = streams.Consumer

// Registry lists and deletes consumer registrations of a group.
type Registry interface {
	ListConsumers(ctx context.Context, stream, group string) ([]Consumer, error)
	DeleteConsumer(ctx context.Context, stream, group, name string) error
}

// Logger is a minimal logging interface used by the reaper.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debugf(string, ...any) {}
func (noopLogger) Infof(string, ...any)  {}
func (noopLogger) Warnf(string, ...any)  {}
func (noopLogger) Errorf(string, ...any) {}

// Params selects what a sweep may remove.
type Params struct {
	Stream string
	Group  string
	// Current are the caller's own consumer names; they are never removed.
	Current []string
	// IdleThreshold: a consumer must be idle strictly longer than this.
	IdleThreshold time.Duration
	// PendingThreshold: a consumer must hold at most this many pending entries.
	PendingThreshold int64
}

// DeleteError reports a failed removal of one consumer.
type DeleteError struct {
	Name string
	Err  error
}

func (e *DeleteError) Error() string {
	return fmt.Sprintf("reaper: delete consumer %q: %v", e.Name, e.Err)
}

func (e *DeleteError) Unwrap() error { return e.Err }

// Eligible reports whether c may be removed under p. Membership in p.Current
// is checked by the caller.
func Eligible(c Consumer, p Params) bool {
	return c.Pending <= p.PendingThreshold && c.Idle > p.IdleThreshold
}

// Cleanup removes every eligible consumer of p.Group and returns how many were
// removed. A failed delete does not stop the sweep; all such failures are
// returned joined, each as a *DeleteError. The count only includes successful
// deletions.
func Cleanup(ctx context.Context, reg Registry, p Params, log Logger) (int, error) {
	if log == nil {
		log = noopLogger{}
	}
	current := make(map[string]struct{}, len(p.Current))
	for _, n := range p.Current {
		current[n] = struct{}{}
	}

	consumers, err := reg.ListConsumers(ctx, p.Stream, p.Group)
	if err != nil {
		return 0, fmt.Errorf("reaper: list consumers stream=%s group=%s: %w", p.Stream, p.Group, err)
	}

	var (
		removed int
		errs    []error
	)
	for _, c := range consumers {
		if _, ok := current[c.Name]; ok {
			continue
		}
		if !Eligible(c, p) {
			log.Debugf("reaper: keep consumer=%s idle=%s pending=%d", c.Name, c.Idle, c.Pending)
			continue
		}
		if err := reg.DeleteConsumer(ctx, p.Stream, p.Group, c.Name); err != nil {
			log.Warnf("reaper: delete failed stream=%s group=%s consumer=%s err=%v", p.Stream, p.Group, c.Name, err)
			errs = append(errs, &DeleteError{Name: c.Name, Err: err})
			continue
		}
		log.Infof("reaper: removed consumer stream=%s group=%s consumer=%s idle=%s", p.Stream, p.Group, c.Name, c.Idle)
		removed++
	}
	return removed, errors.Join(errs...)
}

// RedisRegistry implements Registry with XINFO CONSUMERS and XGROUP DELCONSUMER.
type RedisRegistry struct {
	rdb redis.UniversalClient
}

// NewRedisRegistry returns a Registry backed by rdb.
func NewRedisRegistry(rdb redis.UniversalClient) *RedisRegistry {
	return &RedisRegistry{rdb: rdb}
}

func (r *RedisRegistry) ListConsumers(ctx context.Context, stream, group string) ([]Consumer, error) {
	return streams.ListConsumers(ctx, r.rdb, stream, group)
}

func (r *RedisRegistry) DeleteConsumer(ctx context.Context, stream, group, name string) error {
	return streams.DeleteConsumer(ctx, r.rdb, stream, group, name)
}
