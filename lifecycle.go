package taskstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/UniQw/taskstream/internal/keys"
	"github.com/UniQw/taskstream/internal/textsafe"
)

// statusTracker records lifecycle transitions. Every write is an independent
// SET with TTL keyed by message uuid; ordering comes from the call sites.
type statusTracker struct {
	store  StatusStore
	enc    Encoder
	ttl    time.Duration
	strict bool
	log    Logger
	now    func() time.Time
}

func (t *statusTracker) interceptor() Interceptor {
	return Interceptor{
		Name: "status",
		AfterPublish: func(ctx context.Context, cmd *PublishCommand) error {
			return t.write(ctx, cmd.MessageUUID, StatusPending, nil)
		},
		OnReceive: func(ctx context.Context, d *Delivery) error {
			return t.write(ctx, d.MessageUUID, StatusProcessing, map[string]any{
				"raw_stream_message": map[string]any{
					"type":        "stream",
					"channel":     d.Stream,
					"message_ids": []string{d.EntryID},
					"data":        d.Values,
				},
			})
		},
		AfterProcessed: func(ctx context.Context, d *Delivery) error {
			if d.Err != nil {
				return t.write(ctx, d.MessageUUID, StatusFailed, map[string]any{"error": errorDetail(d.Err)})
			}
			return t.write(ctx, d.MessageUUID, StatusCompleted, map[string]any{"result": d.Result})
		},
	}
}

func (t *statusTracker) write(ctx context.Context, id string, st Status, details map[string]any) error {
	if id == "" {
		// entries published without the header are not tracked
		return nil
	}
	b, err := t.encode(st, details)
	if err != nil && st == StatusCompleted {
		// a result that cannot be serialized is a failed task, not a lost one
		t.log.Warnf("status: result of task=%s not serializable: %v", id, err)
		st = StatusFailed
		b, err = t.encode(st, map[string]any{"error": ErrorDetail{Type: "encode", Message: err.Error()}})
	}
	if err == nil {
		err = t.store.SetWithTTL(ctx, keys.Status(id), b, t.ttl)
	}
	if err == nil {
		t.log.Debugf("status: task=%s status=%s", id, st)
		return nil
	}
	if t.strict {
		return fmt.Errorf("%w: task=%s status=%s: %w", ErrStatusWrite, id, st, err)
	}
	t.log.Warnf("status: write failed task=%s status=%s err=%v", id, st, err)
	return nil
}

func (t *statusTracker) encode(st Status, details map[string]any) ([]byte, error) {
	rec := make(map[string]any, len(details)+2)
	for k, v := range details {
		rec[k] = v
	}
	rec["status"] = string(st)
	rec["updated_at"] = t.now().UTC().Format(time.RFC3339Nano)
	return t.enc.Encode(textsafe.Convert(rec))
}

func errorDetail(err error) ErrorDetail {
	var pe *PanicError
	if errors.As(err, &pe) {
		return ErrorDetail{Type: "panic", Message: err.Error(), Traceback: string(pe.Stack)}
	}
	return ErrorDetail{
		Type:      fmt.Sprintf("%T", err),
		Message:   err.Error(),
		Traceback: fmt.Sprintf("%+v", err),
	}
}
