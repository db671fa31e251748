// This file contains the request/response convenience built on correlation
// IDs and the pending-call table.
package duplex

import (
	"context"
	"fmt"
)

// Call sends a request envelope and waits for the correlated response.
// The response payload is returned as-is; an Error-kind response becomes a
// Go error carrying the peer's error payload. Call fails when the channel
// disconnects while waiting.
func (c *Channel) Call(ctx context.Context, name string, payload []byte) ([]byte, error) {
	c.mu.Lock()
	g := c.gen
	c.mu.Unlock()

	if g == nil || g.closed() {
		return nil, ErrNotConnected
	}

	env := NewRequest(name, payload)

	slot := make(chan *Envelope, 1)
	g.addPending(env.CorrelationID, slot)
	defer g.removePending(env.CorrelationID)

	if err := c.Send(ctx, env); err != nil {
		return nil, err
	}

	select {
	case resp, ok := <-slot:
		if !ok {
			return nil, fmt.Errorf("channel disconnected before response for %q", name)
		}
		if resp.Kind == KindError {
			return nil, fmt.Errorf("peer error for %q: %s", name, resp.Payload)
		}
		return resp.Payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-g.ctx.Done():
		return nil, fmt.Errorf("channel disconnected while waiting for response to %q", name)
	}
}
