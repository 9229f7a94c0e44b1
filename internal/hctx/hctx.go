package hctx

import "context"

// State holds per-delivery metadata made available to handler code through
// the context, so helpers deep in a call chain need not receive the delivery.
type State struct {
	MessageUUID string
	Stream      string
	EntryID     string
	Recovered   bool
}

type ctxKey struct{}

// WithState returns a child context carrying the given delivery state.
func WithState(parent context.Context, s *State) context.Context {
	return context.WithValue(parent, ctxKey{}, s)
}

// From extracts the delivery state from context if present.
func From(ctx context.Context) (*State, bool) {
	v := ctx.Value(ctxKey{})
	if v == nil {
		return nil, false
	}
	st, ok := v.(*State)
	return st, ok
}
