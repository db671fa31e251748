// This file contains the receive loop and the per-envelope dispatch logic.
package duplex

import (
	"context"
	"fmt"
)

// receiveLoop pulls inbound frames for one connection generation and hands
// each envelope off to its handler. The loop's only job is to keep pulling:
// every dispatch runs on its own goroutine, so a slow or failing handler
// never stalls subsequent reads. The loop exits on stream end, stream error,
// or generation teardown, and triggers the disconnect exactly once.
func (c *Channel) receiveLoop(g *generation) {
	defer close(g.done)

	frames := g.framer.ReadFrames(g.ctx)

	for {
		select {
		case <-g.ctx.Done():
			c.teardown(g, nil)
			return
		case frame, ok := <-frames:
			if !ok {
				// Clean end of stream.
				c.teardown(g, nil)
				return
			}
			if frame.Err != nil {
				c.teardown(g, fmt.Errorf("stream read failed: %w", frame.Err))
				return
			}

			env := new(Envelope)
			if err := env.UnmarshalBinary(frame.Data); err != nil {
				c.dispatchError(nil, fmt.Errorf("failed to decode envelope: %w", err))
				continue
			}

			c.dispatch(g, env)
		}
	}
}

// dispatch routes one inbound envelope. Responses claimed by a pending call
// are delivered there; everything else resolves through the registry, with
// Request-kind envelopes invoking the handler's server entry point and all
// other kinds its client entry point.
func (c *Channel) dispatch(g *generation, env *Envelope) {
	if env.Kind != KindRequest && env.CorrelationID != "" {
		if slot := g.takePending(env.CorrelationID); slot != nil {
			slot <- env
			return
		}
	}

	handler, exists := c.registry.Lookup(env.Name)
	if !exists {
		// A missing handler is a registration mismatch between peers, not a
		// droppable condition.
		c.dispatchError(env, fmt.Errorf("%q: %w", env.Name, ErrUnroutableMessage))
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(g.ctx, c.opts.DispatchTimeout)
		defer cancel()

		var err error
		if env.Kind == KindRequest {
			err = handler.HandleServer(ctx, env, c)
		} else {
			err = handler.HandleClient(ctx, env, c)
		}
		if err != nil {
			c.dispatchError(env, fmt.Errorf("handler for %q failed: %w", env.Name, err))
		}
	}()
}

// dispatchError surfaces a dispatch failure without crashing the loop.
func (c *Channel) dispatchError(env *Envelope, err error) {
	if c.opts.OnDispatchError != nil {
		c.opts.OnDispatchError(env, err)
		return
	}
	if env != nil {
		logger.Error("dispatch failed", "name", env.Name, "kind", env.Kind.String(), "error", err)
		return
	}
	logger.Error("dispatch failed", "error", err)
}
