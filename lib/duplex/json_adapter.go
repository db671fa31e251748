// This file contains JSON specializations of the typed adapters.
package duplex

import (
	"context"
	"encoding/json"
)

// NewJSONCaller creates a Caller specialized for JSON payloads. Req and Resp
// are plain Go types marshaled with encoding/json.
func NewJSONCaller[Req, Resp any](channel *Channel) *Caller[Req, Resp] {
	serializer := Serializer[Req, Resp]{
		MarshalRequest: func(req Req) ([]byte, error) {
			return json.Marshal(req)
		},
		UnmarshalResponse: func(data []byte) (Resp, error) {
			var resp Resp
			err := json.Unmarshal(data, &resp)
			return resp, err
		},
	}
	return NewCaller(channel, serializer)
}

// NewJSONHandler wraps a typed request function into a Handler using JSON for
// both directions.
func NewJSONHandler[Req, Resp any](fn func(ctx context.Context, req Req) (Resp, error)) *HandlerAdapter[Req, Resp] {
	return NewHandlerAdapter(
		func(data []byte) (Req, error) {
			var req Req
			err := json.Unmarshal(data, &req)
			return req, err
		},
		func(resp Resp) ([]byte, error) {
			return json.Marshal(resp)
		},
		fn,
	)
}
