package taskstream

import (
	"context"
	"errors"
	"testing"
	"time"

	ikeys "github.com/UniQw/taskstream/internal/keys"
	"github.com/stretchr/testify/require"
)

func TestStatus_Parse(t *testing.T) {
	for _, s := range []string{"PENDING", "PROCESSING", "COMPLETED", "FAILED"} {
		st, err := ParseStatus(s)
		require.NoError(t, err)
		require.Equal(t, s, string(st))
	}
	_, err := ParseStatus("pending")
	require.ErrorIs(t, err, ErrUnknownStatus)

	require.False(t, StatusPending.Terminal())
	require.False(t, StatusProcessing.Terminal())
	require.True(t, StatusCompleted.Terminal())
	require.True(t, StatusFailed.Terminal())
}

func TestStatusTracker_RecordShape(t *testing.T) {
	rdb, done := newMiniClient(t)
	defer done()
	ctx := context.Background()
	at := time.Date(2026, 1, 8, 6, 36, 48, 631000000, time.FixedZone("CST", 8*3600))
	b := quietBroker(rdb, withClock(func() time.Time { return at }))
	ic := b.tracker.interceptor()

	require.NoError(t, ic.AfterPublish(ctx, &PublishCommand{MessageUUID: "u1"}))
	raw, err := rdb.Get(ctx, ikeys.Status("u1")).Result()
	require.NoError(t, err)
	require.JSONEq(t, `{"status":"PENDING","updated_at":"2026-01-07T22:36:48.631Z"}`, raw)

	require.NoError(t, ic.AfterProcessed(ctx, &Delivery{MessageUUID: "u1", Result: map[string][]byte{"blob": {0xff}}}))
	raw, err = rdb.Get(ctx, ikeys.Status("u1")).Result()
	require.NoError(t, err)
	require.JSONEq(t, `{"status":"COMPLETED","updated_at":"2026-01-07T22:36:48.631Z","result":{"blob":"ÿ"}}`, raw)

	require.NoError(t, ic.AfterProcessed(ctx, &Delivery{MessageUUID: "u1", Err: errors.New("boom")}))
	rec, err := b.Status(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, StatusFailed, rec.Status)
	require.Equal(t, "boom", rec.Error.Message)
	require.True(t, rec.UpdatedAt.Equal(at))
}

func TestStatusTracker_SkipsUntrackedEntries(t *testing.T) {
	rdb, done := newMiniClient(t)
	defer done()
	ctx := context.Background()
	b := quietBroker(rdb)
	require.NoError(t, b.tracker.interceptor().OnReceive(ctx, &Delivery{Stream: "s"}))
	keys, err := rdb.Keys(ctx, ikeys.StatusPrefix+"*").Result()
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestErrorDetail(t *testing.T) {
	d := errorDetail(&PanicError{Value: "x", Stack: []byte("goroutine 1")})
	require.Equal(t, ErrorDetail{Type: "panic", Message: "panic: x", Traceback: "goroutine 1"}, d)

	d = errorDetail(errors.New("plain"))
	require.Equal(t, "*errors.errorString", d.Type)
	require.Equal(t, "plain", d.Message)
}
