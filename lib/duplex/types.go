// This file contains the handler capability types used by the dispatch path.
package duplex

import "context"

// Handler is the capability invoked when an inbound envelope's name matches
// its registration. Request-kind envelopes are routed to HandleServer, which
// is expected to eventually produce a response; every other kind is routed to
// HandleClient. Both entry points receive the channel so a handler can send
// replies itself. Handlers run concurrently across envelopes and must not
// assume ordering between distinct messages.
type Handler interface {
	HandleServer(ctx context.Context, env *Envelope, ch *Channel) error
	HandleClient(ctx context.Context, env *Envelope, ch *Channel) error
}

// ServerHandlerFunc adapts a function to a Handler whose client entry point
// is a no-op.
type ServerHandlerFunc func(ctx context.Context, env *Envelope, ch *Channel) error

// HandleServer implements Handler.
func (f ServerHandlerFunc) HandleServer(ctx context.Context, env *Envelope, ch *Channel) error {
	return f(ctx, env, ch)
}

// HandleClient implements Handler.
func (f ServerHandlerFunc) HandleClient(ctx context.Context, env *Envelope, ch *Channel) error {
	return nil
}

// HandlerFuncs adapts a pair of functions to a Handler. A nil entry point is
// a no-op.
type HandlerFuncs struct {
	Server func(ctx context.Context, env *Envelope, ch *Channel) error
	Client func(ctx context.Context, env *Envelope, ch *Channel) error
}

// HandleServer implements Handler.
func (h HandlerFuncs) HandleServer(ctx context.Context, env *Envelope, ch *Channel) error {
	if h.Server == nil {
		return nil
	}
	return h.Server(ctx, env, ch)
}

// HandleClient implements Handler.
func (h HandlerFuncs) HandleClient(ctx context.Context, env *Envelope, ch *Channel) error {
	if h.Client == nil {
		return nil
	}
	return h.Client(ctx, env, ch)
}
