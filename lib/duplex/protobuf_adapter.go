// This file contains Protocol Buffers specializations of the typed adapters.
package duplex

import (
	"context"

	"google.golang.org/protobuf/proto"
)

// NewProtobufCaller creates a Caller specialized for Protocol Buffers.
// Req and Resp must implement proto.Message; newRespInstance is a factory
// returning a new, non-nil Resp to unmarshal into.
// Example: func() *pb.MyResponse { return new(pb.MyResponse) }
func NewProtobufCaller[Req, Resp proto.Message](
	channel *Channel,
	newRespInstance func() Resp,
) *Caller[Req, Resp] {
	serializer := Serializer[Req, Resp]{
		MarshalRequest: func(req Req) ([]byte, error) {
			return proto.Marshal(req)
		},
		UnmarshalResponse: func(data []byte) (Resp, error) {
			instance := newRespInstance()
			if err := proto.Unmarshal(data, instance); err != nil {
				var zero Resp
				return zero, err
			}
			return instance, nil
		},
	}
	return NewCaller(channel, serializer)
}

// NewProtobufHandler wraps a typed request function into a Handler using
// Protocol Buffers for both directions. newReqInstance is a factory returning
// a new, non-nil Req to unmarshal into.
func NewProtobufHandler[Req, Resp proto.Message](
	newReqInstance func() Req,
	fn func(ctx context.Context, req Req) (Resp, error),
) *HandlerAdapter[Req, Resp] {
	return NewHandlerAdapter(
		func(data []byte) (Req, error) {
			instance := newReqInstance()
			if err := proto.Unmarshal(data, instance); err != nil {
				var zero Req
				return zero, err
			}
			return instance, nil
		},
		func(resp Resp) ([]byte, error) {
			return proto.Marshal(resp)
		},
		fn,
	)
}
