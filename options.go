package taskstream

import "time"

// DefaultStatusTTL is how long a status record lives after its last write.
const DefaultStatusTTL = 3 * 24 * time.Hour

type brokerOptions struct {
	log       Logger
	encoder   Encoder
	store     StatusStore
	statusTTL time.Duration
	strict    bool
	now       func() time.Time
}

// BrokerOption configures a Broker.
type BrokerOption func(*brokerOptions)

// WithLogger sets the logger used by the broker and servers built on it.
func WithLogger(l Logger) BrokerOption {
	return func(o *brokerOptions) {
		o.log = l
	}
}

// WithEncoder replaces the JSON encoder used for message bodies and status records.
func WithEncoder(e Encoder) BrokerOption {
	return func(o *brokerOptions) {
		o.encoder = e
	}
}

// WithStatusStore replaces the Redis status store.
func WithStatusStore(s StatusStore) BrokerOption {
	return func(o *brokerOptions) {
		o.store = s
	}
}

// WithStatusTTL overrides DefaultStatusTTL. Non-positive values are ignored.
func WithStatusTTL(d time.Duration) BrokerOption {
	return func(o *brokerOptions) {
		if d > 0 {
			o.statusTTL = d
		}
	}
}

// WithStrictStatus makes status store failures fail the caller. By default
// they are logged and the publish or delivery proceeds.
func WithStrictStatus() BrokerOption {
	return func(o *brokerOptions) {
		o.strict = true
	}
}

// withClock is used by tests to pin updated_at.
func withClock(now func() time.Time) BrokerOption {
	return func(o *brokerOptions) {
		o.now = now
	}
}

type publishOptions struct {
	headers       map[string]string
	correlationID string
	maxLen        int64
}

// PublishOption configures a single Publish call.
type PublishOption func(*publishOptions)

// WithHeaders adds caller headers to the envelope. HeaderMessageUUID is
// always overwritten; every other header is kept as given.
func WithHeaders(h map[string]string) PublishOption {
	return func(o *publishOptions) {
		if o.headers == nil {
			o.headers = make(map[string]string, len(h))
		}
		for k, v := range h {
			o.headers[k] = v
		}
	}
}

// WithCorrelationID sets HeaderCorrelationID instead of defaulting it to the message uuid.
func WithCorrelationID(id string) PublishOption {
	return func(o *publishOptions) {
		o.correlationID = id
	}
}

// WithMaxLen trims the stream to roughly n entries on append.
func WithMaxLen(n int64) PublishOption {
	return func(o *publishOptions) {
		o.maxLen = n
	}
}
