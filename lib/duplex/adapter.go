// This file contains the generic typed-payload adapters layered over the raw
// byte-oriented channel API.
package duplex

import (
	"context"
	"fmt"
)

// Serializer defines how a Caller marshals requests and unmarshals responses.
type Serializer[Req, Resp any] struct {
	MarshalRequest    func(Req) ([]byte, error)
	UnmarshalResponse func([]byte) (Resp, error)
}

// Caller wraps a channel with typed request and response payloads.
type Caller[Req, Resp any] struct {
	channel    *Channel
	serializer Serializer[Req, Resp]
}

// NewCaller creates a typed caller over the given channel and serializer.
func NewCaller[Req, Resp any](channel *Channel, serializer Serializer[Req, Resp]) *Caller[Req, Resp] {
	return &Caller[Req, Resp]{
		channel:    channel,
		serializer: serializer,
	}
}

// Call marshals the request, performs the channel Call, and unmarshals the
// correlated response.
func (a *Caller[Req, Resp]) Call(ctx context.Context, name string, request Req) (Resp, error) {
	var zeroResp Resp

	requestBytes, err := a.serializer.MarshalRequest(request)
	if err != nil {
		return zeroResp, fmt.Errorf("caller: failed to marshal request for %s: %w", name, err)
	}

	responseBytes, err := a.channel.Call(ctx, name, requestBytes)
	if err != nil {
		return zeroResp, err
	}

	resp, err := a.serializer.UnmarshalResponse(responseBytes)
	if err != nil {
		return zeroResp, fmt.Errorf("caller: failed to unmarshal response for %s: %w", name, err)
	}

	return resp, nil
}

// HandlerAdapter wraps a typed request function into a Handler. Inbound
// request payloads are unmarshaled, handed to the function, and the result is
// marshaled and sent back as the correlated response. Failures along the way
// are answered with an error response carrying the failure text. The client
// entry point is a no-op; correlated responses are consumed by Call.
type HandlerAdapter[Req, Resp any] struct {
	unmarshalReq func([]byte) (Req, error)
	marshalResp  func(Resp) ([]byte, error)
	fn           func(ctx context.Context, req Req) (Resp, error)
}

// NewHandlerAdapter creates a typed handler adapter.
func NewHandlerAdapter[Req, Resp any](
	unmarshalReq func([]byte) (Req, error),
	marshalResp func(Resp) ([]byte, error),
	fn func(ctx context.Context, req Req) (Resp, error),
) *HandlerAdapter[Req, Resp] {
	return &HandlerAdapter[Req, Resp]{
		unmarshalReq: unmarshalReq,
		marshalResp:  marshalResp,
		fn:           fn,
	}
}

// HandleServer implements Handler.
func (ha *HandlerAdapter[Req, Resp]) HandleServer(ctx context.Context, env *Envelope, ch *Channel) error {
	req, err := ha.unmarshalReq(env.Payload)
	if err != nil {
		wrapped := fmt.Errorf("failed to unmarshal request for %q: %w", env.Name, err)
		ch.ReplyError(ctx, env, []byte(wrapped.Error()))
		return wrapped
	}

	resp, err := ha.fn(ctx, req)
	if err != nil {
		if replyErr := ch.ReplyError(ctx, env, []byte(err.Error())); replyErr != nil {
			return fmt.Errorf("failed to send error response for %q: %w", env.Name, replyErr)
		}
		return nil
	}

	respBytes, err := ha.marshalResp(resp)
	if err != nil {
		wrapped := fmt.Errorf("failed to marshal response for %q: %w", env.Name, err)
		ch.ReplyError(ctx, env, []byte(wrapped.Error()))
		return wrapped
	}

	return ch.Reply(ctx, env, respBytes)
}

// HandleClient implements Handler.
func (ha *HandlerAdapter[Req, Resp]) HandleClient(ctx context.Context, env *Envelope, ch *Channel) error {
	return nil
}
