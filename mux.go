package taskstream

import (
	"context"
	"fmt"
	"sort"
)

// HandlerFunc processes one delivery. The returned value is recorded as the
// task result; a non-nil error records FAILED and leaves the entry pending.
type HandlerFunc func(ctx context.Context, d *Delivery) (any, error)

// Middleware is a function that wraps a HandlerFunc to provide cross-cutting concerns.
type Middleware func(HandlerFunc) HandlerFunc

// Mux routes deliveries to their handler by stream name.
type Mux struct {
	handlers    map[string]HandlerFunc
	encoder     Encoder
	middlewares []Middleware
}

// NewMux creates a new Mux.
func NewMux() *Mux {
	return &Mux{
		handlers:    make(map[string]HandlerFunc),
		encoder:     &JSONEncoder{},
		middlewares: []Middleware{},
	}
}

// Handle registers the handler for a stream.
func (m *Mux) Handle(stream string, fn HandlerFunc) {
	m.handlers[stream] = fn
}

// HandleJSON registers a handler receiving the body decoded into T.
func HandleJSON[T any](m *Mux, stream string, fn func(ctx context.Context, body T, d *Delivery) (any, error)) {
	enc := m.encoder
	m.Handle(stream, func(ctx context.Context, d *Delivery) (any, error) {
		var body T
		if err := enc.Decode(d.Body, &body); err != nil {
			return nil, fmt.Errorf("taskstream: decode body stream=%s: %w", d.Stream, err)
		}
		return fn(ctx, body, d)
	})
}

// Use adds middleware(s) to the mux. Middlewares are executed in the order they are added.
func (m *Mux) Use(mw Middleware) {
	m.middlewares = append(m.middlewares, mw)
}

// Streams lists the streams with a registered handler.
func (m *Mux) Streams() []string {
	out := make([]string, 0, len(m.handlers))
	for s := range m.handlers {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (m *Mux) handler(stream string) (HandlerFunc, bool) {
	h, ok := m.handlers[stream]
	if !ok {
		return nil, false
	}
	return m.wrapHandler(h), true
}

func (m *Mux) wrapHandler(h HandlerFunc) HandlerFunc {
	for i := len(m.middlewares) - 1; i >= 0; i-- {
		h = m.middlewares[i](h)
	}
	return h
}
