package taskstream

import (
	"context"
	"errors"
	"fmt"
)

// PublishCommand is what publish stages see. Stages may edit Headers and Body
// before the entry is appended.
type PublishCommand struct {
	Stream      string
	MessageUUID string
	Headers     map[string]string
	Body        []byte
	MaxLen      int64
	// EntryID is set once the append succeeded.
	EntryID string
}

// Interceptor is one named stage of the broker pipeline. Any hook may be nil.
//
// Hooks run in registration order:
//   - BeforePublish before the entry is appended; an error aborts the publish.
//   - AfterPublish after a successful append.
//   - OnReceive when a consumer takes delivery, before the body is decoded;
//     an error skips the handler and leaves the entry pending.
//   - AfterProcessed after the handler returned, with d.Result and d.Err set.
type Interceptor struct {
	Name           string
	BeforePublish  func(ctx context.Context, cmd *PublishCommand) error
	AfterPublish   func(ctx context.Context, cmd *PublishCommand) error
	OnReceive      func(ctx context.Context, d *Delivery) error
	AfterProcessed func(ctx context.Context, d *Delivery) error
}

// pipeline is the single dispatcher over all registered stages.
type pipeline struct {
	stages []Interceptor
}

func (p *pipeline) add(ic Interceptor) { p.stages = append(p.stages, ic) }

func (p *pipeline) beforePublish(ctx context.Context, cmd *PublishCommand) error {
	for _, st := range p.stages {
		if st.BeforePublish == nil {
			continue
		}
		if err := st.BeforePublish(ctx, cmd); err != nil {
			return stageError(st.Name, "before publish", err)
		}
	}
	return nil
}

// afterPublish runs every stage even when one fails.
func (p *pipeline) afterPublish(ctx context.Context, cmd *PublishCommand) error {
	var errs []error
	for _, st := range p.stages {
		if st.AfterPublish == nil {
			continue
		}
		if err := st.AfterPublish(ctx, cmd); err != nil {
			errs = append(errs, stageError(st.Name, "after publish", err))
		}
	}
	return errors.Join(errs...)
}

func (p *pipeline) onReceive(ctx context.Context, d *Delivery) error {
	for _, st := range p.stages {
		if st.OnReceive == nil {
			continue
		}
		if err := st.OnReceive(ctx, d); err != nil {
			return stageError(st.Name, "on receive", err)
		}
	}
	return nil
}

// afterProcessed runs every stage even when one fails.
func (p *pipeline) afterProcessed(ctx context.Context, d *Delivery) error {
	var errs []error
	for _, st := range p.stages {
		if st.AfterProcessed == nil {
			continue
		}
		if err := st.AfterProcessed(ctx, d); err != nil {
			errs = append(errs, stageError(st.Name, "after processed", err))
		}
	}
	return errors.Join(errs...)
}

func stageError(name, hook string, err error) error {
	if name == "" {
		name = "unnamed"
	}
	return fmt.Errorf("taskstream: stage %s %s: %w", name, hook, err)
}
