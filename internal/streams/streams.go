// Package streams wraps the Redis Streams consumer group commands used by the
// runtime, the broker and the reaper.
package streams

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Entry is one stream entry as delivered to a consumer.
type Entry struct {
	ID     string
	Values map[string]any
}

// Consumer mirrors one row of XINFO CONSUMERS.
type Consumer struct {
	Name    string
	Pending int64
	Idle    time.Duration
}

// AddArgs describes one XADD.
type AddArgs struct {
	Stream string
	Values map[string]any
	// MaxLen trims the stream approximately when > 0.
	MaxLen int64
}

// Add appends an entry and returns the entry id assigned by Redis.
func Add(ctx context.Context, rdb redis.UniversalClient, a AddArgs) (string, error) {
	args := &redis.XAddArgs{Stream: a.Stream, Values: a.Values}
	if a.MaxLen > 0 {
		args.MaxLen = a.MaxLen
		args.Approx = true
	}
	return rdb.XAdd(ctx, args).Result()
}

// EnsureGroup creates the group (and the stream) when missing. The group
// starts at the beginning of the stream so entries published before the
// first consumer came up are still delivered.
func EnsureGroup(ctx context.Context, rdb redis.UniversalClient, stream, group string) error {
	err := rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !IsBusyGroup(err) {
		return err
	}
	return nil
}

// ReadNew reads never-delivered entries for consumer (XREADGROUP ... >).
// An empty read returns (nil, nil).
func ReadNew(ctx context.Context, rdb redis.UniversalClient, stream, group, consumer string, count int64, block time.Duration) ([]Entry, error) {
	if block <= 0 {
		// BLOCK 0 waits forever; keep reads bounded so Stop is honoured.
		block = time.Second
	}
	res, err := rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, s := range res {
		for _, m := range s.Messages {
			out = append(out, Entry{ID: m.ID, Values: m.Values})
		}
	}
	return out, nil
}

// ClaimIdle transfers up to count entries idle for at least minIdle to
// consumer, starting at cursor. It returns the claimed entries and the next
// cursor; "0-0" means the pending list was fully scanned.
func ClaimIdle(ctx context.Context, rdb redis.UniversalClient, stream, group, consumer string, minIdle time.Duration, cursor string, count int64) ([]Entry, string, error) {
	if cursor == "" {
		cursor = "0-0"
	}
	msgs, next, err := rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    cursor,
		Count:    count,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, "0-0", nil
	}
	if err != nil {
		return nil, "0-0", err
	}
	out := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		// Entries deleted from the stream come back without values.
		if m.Values == nil {
			continue
		}
		out = append(out, Entry{ID: m.ID, Values: m.Values})
	}
	return out, next, nil
}

// Ack acknowledges ids for the group.
func Ack(ctx context.Context, rdb redis.UniversalClient, stream, group string, ids ...string) error {
	return rdb.XAck(ctx, stream, group, ids...).Err()
}

// ListConsumers returns the consumers registered in group.
func ListConsumers(ctx context.Context, rdb redis.UniversalClient, stream, group string) ([]Consumer, error) {
	infos, err := rdb.XInfoConsumers(ctx, stream, group).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Consumer, 0, len(infos))
	for _, c := range infos {
		out = append(out, Consumer{Name: c.Name, Pending: c.Pending, Idle: c.Idle})
	}
	return out, nil
}

// DeleteConsumer removes consumer from group. Its pending entries are dropped
// from the group's pending list, so callers only delete quiescent consumers.
func DeleteConsumer(ctx context.Context, rdb redis.UniversalClient, stream, group, consumer string) error {
	return rdb.XGroupDelConsumer(ctx, stream, group, consumer).Err()
}

// IsBusyGroup reports the error returned when creating an existing group.
func IsBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

// IsNoGroup reports the error returned when the stream or group is missing.
func IsNoGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "NOGROUP")
}
