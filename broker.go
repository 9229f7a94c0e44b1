package taskstream

import (
	"context"
	"fmt"
	"time"

	"github.com/UniQw/taskstream/internal/envelope"
	"github.com/UniQw/taskstream/internal/keys"
	"github.com/UniQw/taskstream/internal/streams"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Broker publishes tasks to Redis Streams and tracks their lifecycle.
// It wraps a caller-owned client; closing the client is up to the caller.
type Broker struct {
	rdb     redis.UniversalClient
	enc     Encoder
	store   StatusStore
	tracker *statusTracker
	pipe    pipeline
	log     Logger
}

// NewBroker creates a broker over rdb. The status tracking stage is always
// installed first; stages added with Use run after it.
func NewBroker(rdb redis.UniversalClient, opts ...BrokerOption) *Broker {
	o := brokerOptions{
		statusTTL: DefaultStatusTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = NewFmtLogger()
	}
	if o.encoder == nil {
		o.encoder = &JSONEncoder{}
	}
	if o.store == nil {
		o.store = NewRedisStatusStore(rdb)
	}
	b := &Broker{rdb: rdb, enc: o.encoder, store: o.store, log: o.log}
	b.tracker = &statusTracker{
		store:  o.store,
		enc:    o.encoder,
		ttl:    o.statusTTL,
		strict: o.strict,
		log:    o.log,
		now:    o.now,
	}
	b.pipe.add(b.tracker.interceptor())
	return b
}

// Use appends a pipeline stage. It must be called before the broker is used
// by Publish or a running Server.
func (b *Broker) Use(ic Interceptor) { b.pipe.add(ic) }

// Client returns the underlying Redis client.
func (b *Broker) Client() redis.UniversalClient { return b.rdb }

// Publish appends message to stream and returns the task's message uuid.
//
// []byte and string messages are sent as is; anything else goes through the
// broker's Encoder. The stream entry id assigned by Redis is not returned:
// it changes meaning across streams and is useless as a task handle.
//
// When the append fails the error is returned and no status is recorded.
// With WithStrictStatus a failed PENDING write returns the uuid together with
// an error wrapping ErrStatusWrite; the entry is already in the stream.
func (b *Broker) Publish(ctx context.Context, stream string, message any, opts ...PublishOption) (string, error) {
	var o publishOptions
	for _, opt := range opts {
		opt(&o)
	}

	id := uuid.NewString()
	headers := make(map[string]string, len(o.headers)+3)
	for k, v := range o.headers {
		headers[k] = v
	}
	headers[HeaderMessageUUID] = id
	if o.correlationID != "" {
		headers[HeaderCorrelationID] = o.correlationID
	} else if _, ok := headers[HeaderCorrelationID]; !ok {
		headers[HeaderCorrelationID] = id
	}

	body, ctype, err := b.encodeBody(message)
	if err != nil {
		return "", fmt.Errorf("taskstream: encode message for %s: %w", stream, err)
	}
	if _, ok := headers[HeaderContentType]; !ok {
		headers[HeaderContentType] = ctype
	}

	cmd := &PublishCommand{Stream: stream, MessageUUID: id, Headers: headers, Body: body, MaxLen: o.maxLen}
	if err := b.pipe.beforePublish(ctx, cmd); err != nil {
		return "", err
	}
	if err := envelope.CheckHeaders(cmd.Headers); err != nil {
		return "", fmt.Errorf("taskstream: publish %s: %w", stream, err)
	}

	entryID, err := streams.Add(ctx, b.rdb, streams.AddArgs{
		Stream: stream,
		Values: map[string]any{envelope.Field: envelope.Encode(cmd.Headers, cmd.Body)},
		MaxLen: cmd.MaxLen,
	})
	if err != nil {
		return "", fmt.Errorf("taskstream: publish %s: %w", stream, err)
	}
	cmd.EntryID = entryID
	b.log.Debugf("publish: stream=%s task=%s entry=%s", stream, id, entryID)

	if err := b.pipe.afterPublish(ctx, cmd); err != nil {
		return id, err
	}
	return id, nil
}

func (b *Broker) encodeBody(message any) ([]byte, string, error) {
	switch m := message.(type) {
	case []byte:
		return m, contentTypeBinary, nil
	case string:
		return []byte(m), contentTypeText, nil
	}
	body, err := b.enc.Encode(message)
	if err != nil {
		return nil, "", err
	}
	return body, b.enc.ContentType(), nil
}

// Status returns the current status record of a task. ErrStatusNotFound is
// returned when the id is unknown or its record expired.
func (b *Broker) Status(ctx context.Context, id string) (*StatusRecord, error) {
	raw, ok, err := b.store.Get(ctx, keys.Status(id))
	if err != nil {
		return nil, fmt.Errorf("taskstream: read status %s: %w", id, err)
	}
	if !ok {
		return nil, ErrStatusNotFound
	}
	var rec StatusRecord
	if err := b.enc.Decode(raw, &rec); err != nil {
		return nil, fmt.Errorf("taskstream: decode status %s: %w", id, err)
	}
	if _, err := ParseStatus(string(rec.Status)); err != nil {
		return nil, err
	}
	return &rec, nil
}
