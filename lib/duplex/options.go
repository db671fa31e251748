// This file contains channel configuration.
package duplex

import (
	"crypto/tls"
	"time"

	"github.com/snowmerak/duplex.go/lib/wire"
)

const (
	// DefaultMaxMessageSize bounds envelope frames in both directions.
	DefaultMaxMessageSize = wire.DefaultMaxFrameSize

	// DefaultDispatchTimeout bounds a single handler invocation.
	DefaultDispatchTimeout = 30 * time.Second
)

// Options configures a Channel. The maximum message size is fixed at channel
// construction and applies to both directions of the stream.
type Options struct {
	// Host is the remote host Connect dials. Defaults to loopback.
	Host string

	// MaxMessageSize caps a single envelope frame, inbound and outbound.
	MaxMessageSize int

	// DispatchTimeout bounds each handler invocation.
	DispatchTimeout time.Duration

	// Transport opens the underlying stream.
	Transport Transport

	// OnDispatchError observes dispatch failures: unroutable envelopes,
	// undecodable frames, handler errors. env is nil when no envelope could
	// be decoded. When unset, failures are logged.
	OnDispatchError func(env *Envelope, err error)
}

// DefaultOptions returns options with loopback host and default limits.
// The transport must still be supplied.
func DefaultOptions() *Options {
	return &Options{
		Host:            "127.0.0.1",
		MaxMessageSize:  DefaultMaxMessageSize,
		DispatchTimeout: DefaultDispatchTimeout,
	}
}

// WithTransport creates default options bound to the given transport.
func WithTransport(t Transport) *Options {
	opts := DefaultOptions()
	opts.Transport = t
	return opts
}

// WithQUIC creates default options with a client-side QUIC transport.
func WithQUIC(tlsConf *tls.Config) *Options {
	return WithTransport(NewQUICTransport(tlsConf, false))
}

// WithQUICServer creates default options with a server-side QUIC transport.
func WithQUICServer(tlsConf *tls.Config) *Options {
	return WithTransport(NewQUICTransport(tlsConf, true))
}

// WithUnixSocket creates default options with a Unix domain socket transport.
func WithUnixSocket(socketPath string, server bool) *Options {
	return WithTransport(NewUnixTransport(socketPath, server))
}

func (o *Options) normalized() *Options {
	opts := *o
	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = DefaultMaxMessageSize
	}
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = DefaultDispatchTimeout
	}
	return &opts
}
