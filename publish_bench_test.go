package taskstream

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newRedisClientForBench(b *testing.B) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		b.Skipf("skipping integration bench: redis ping failed: %v", err)
	}
	return rdb
}

func BenchmarkBrokerPublish_Serial(b *testing.B) {
	rdb := newRedisClientForBench(b)
	defer rdb.Close()
	br := NewBroker(rdb, WithLogger(nopLogger{}))
	ctx := context.Background()
	stream := "bench-" + uuid.NewString()
	defer rdb.Del(ctx, stream)

	task := demoTask{TaskName: "generate-summary", Payload: map[string]any{"doc_id": "doc-001"}}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := br.Publish(ctx, stream, task, WithMaxLen(1000)); err != nil {
			b.Fatalf("publish: %v", err)
		}
	}
}

func BenchmarkBrokerPublish_Parallel(b *testing.B) {
	rdb := newRedisClientForBench(b)
	defer rdb.Close()
	br := NewBroker(rdb, WithLogger(nopLogger{}))
	ctx := context.Background()
	stream := "bench-" + uuid.NewString()
	defer rdb.Del(ctx, stream)

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := br.Publish(ctx, stream, "x", WithMaxLen(1000)); err != nil {
				b.Errorf("publish: %v", err)
				return
			}
		}
	})
}
