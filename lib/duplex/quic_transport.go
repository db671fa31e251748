// This file contains the QUIC transport: one bidirectional QUIC stream per
// connection generation, opened against host:port.
package duplex

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"net"
	"time"

	quic "github.com/quic-go/quic-go"
)

const alpn = "duplex/1"

// QUICTransport carries the channel stream over QUIC. The client side dials
// addr and opens the stream; the server side listens and accepts one
// connection and its first stream. QUIC opens streams lazily, so the server's
// Open returns once the peer's first envelope arrives.
type QUICTransport struct {
	tlsConf *tls.Config
	server  bool

	listener *quic.Listener
	conn     quic.Connection
	stream   quic.Stream
}

// NewQUICTransport creates a QUIC transport with the given TLS configuration.
// The ALPN protocol is forced to the channel's.
func NewQUICTransport(tlsConf *tls.Config, server bool) *QUICTransport {
	if tlsConf == nil {
		tlsConf = &tls.Config{}
	}
	has := false
	for _, p := range tlsConf.NextProtos {
		if p == alpn {
			has = true
			break
		}
	}
	if !has {
		tlsConf.NextProtos = append(tlsConf.NextProtos, alpn)
	}
	return &QUICTransport{
		tlsConf: tlsConf,
		server:  server,
	}
}

// Listen binds the server-side listener ahead of Open. It is optional: a
// server transport without a bound listener listens on the addr given to
// Open. Binding early is useful with port 0, where the effective port is only
// known after the bind.
func (q *QUICTransport) Listen(addr string) error {
	if !q.server {
		return fmt.Errorf("listen is only valid for a server transport")
	}
	if q.listener != nil {
		return fmt.Errorf("transport is already listening")
	}
	listener, err := quic.ListenAddr(addr, q.tlsConf, &quic.Config{})
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	q.listener = listener
	return nil
}

// Addr returns the listener address, or nil before Listen/Open.
func (q *QUICTransport) Addr() net.Addr {
	if q.listener == nil {
		return nil
	}
	return q.listener.Addr()
}

// Open implements Transport.
func (q *QUICTransport) Open(ctx context.Context, addr string) (io.Reader, io.Writer, error) {
	if q.server {
		if q.listener == nil {
			if err := q.Listen(addr); err != nil {
				return nil, nil, err
			}
		}

		conn, err := q.listener.Accept(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to accept connection: %w", err)
		}
		q.conn = conn

		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to accept stream: %w", err)
		}
		q.stream = stream
		return stream, stream, nil
	}

	conn, err := quic.DialAddr(ctx, addr, q.tlsConf, &quic.Config{})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	q.conn = conn

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "stream open failed")
		return nil, nil, fmt.Errorf("failed to open stream: %w", err)
	}
	q.stream = stream
	return stream, stream, nil
}

// Close implements Transport.
func (q *QUICTransport) Close() error {
	var errs []error

	if q.stream != nil {
		if err := q.stream.Close(); err != nil {
			errs = append(errs, err)
		}
		q.stream.CancelRead(0)
	}
	if q.conn != nil {
		if err := q.conn.CloseWithError(0, "channel closed"); err != nil {
			errs = append(errs, err)
		}
	}
	if q.listener != nil {
		if err := q.listener.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// SelfSignedTLS generates a throwaway server certificate. It is for testing
// only; production deployments supply their own certificates.
func SelfSignedTLS() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	templ := &x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, templ, templ, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	cert := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	pkcs8, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, err
	}
	priv := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8})
	tlsCert, err := tls.X509KeyPair(cert, priv)
	if err != nil {
		return nil, err
	}
	return &tls.Config{Certificates: []tls.Certificate{tlsCert}, NextProtos: []string{alpn}}, nil
}

// InsecureClientTLS skips certificate verification. It pairs with
// SelfSignedTLS in tests; production clients supply roots or pins.
func InsecureClientTLS() *tls.Config {
	return &tls.Config{InsecureSkipVerify: true, NextProtos: []string{alpn}}
}
