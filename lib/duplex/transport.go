// This file contains the transport boundary: the interface a channel opens
// its underlying stream through, and the non-QUIC implementations.
package duplex

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"time"
)

// Transport opens the bidirectional byte stream a channel runs over.
// The channel owns the returned stream exclusively; Close tears it down and
// must unblock any pending read.
type Transport interface {
	// Open establishes the stream toward addr ("host:port"). Transports with
	// their own addressing scheme may ignore addr.
	Open(ctx context.Context, addr string) (io.Reader, io.Writer, error)
	// Close cleans up the stream and any listener resources.
	Close() error
}

// CustomTransport wraps caller-supplied stream halves. It is mainly useful
// for in-process wiring and tests.
type CustomTransport struct {
	Reader io.Reader
	Writer io.Writer
	Closer io.Closer
}

// Open implements Transport.
func (c *CustomTransport) Open(ctx context.Context, addr string) (io.Reader, io.Writer, error) {
	if c.Reader == nil || c.Writer == nil {
		return nil, nil, fmt.Errorf("custom transport requires both reader and writer")
	}
	return c.Reader, c.Writer, nil
}

// Close implements Transport.
func (c *CustomTransport) Close() error {
	if c.Closer != nil {
		return c.Closer.Close()
	}
	return nil
}

// UnixTransport carries the stream over a Unix domain socket. The server side
// listens and accepts one connection; the client side dials.
type UnixTransport struct {
	socketPath string
	server     bool

	listener net.Listener
	conn     net.Conn
}

// NewUnixTransport creates a Unix domain socket transport. The addr passed to
// Open is ignored; the socket path is fixed at construction.
func NewUnixTransport(socketPath string, server bool) *UnixTransport {
	return &UnixTransport{
		socketPath: socketPath,
		server:     server,
	}
}

// Open implements Transport.
func (u *UnixTransport) Open(ctx context.Context, addr string) (io.Reader, io.Writer, error) {
	if u.server {
		// Clean up any stale socket file.
		os.Remove(u.socketPath)

		listener, err := net.Listen("unix", u.socketPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create unix socket listener: %w", err)
		}
		u.listener = listener

		connChan := make(chan net.Conn, 1)
		errChan := make(chan error, 1)

		go func() {
			conn, err := listener.Accept()
			if err != nil {
				errChan <- err
				return
			}
			connChan <- conn
		}()

		select {
		case conn := <-connChan:
			u.conn = conn
			return conn, conn, nil
		case err := <-errChan:
			return nil, nil, fmt.Errorf("failed to accept connection: %w", err)
		case <-ctx.Done():
			listener.Close()
			return nil, nil, ctx.Err()
		}
	}

	// Client side: wait briefly for the socket file to appear.
	for i := 0; i < 50; i++ {
		if _, err := os.Stat(u.socketPath); err == nil {
			break
		}
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "unix", u.socketPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to unix socket: %w", err)
	}
	u.conn = conn
	return conn, conn, nil
}

// Close implements Transport.
func (u *UnixTransport) Close() error {
	var errs []error

	if u.conn != nil {
		if err := u.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if u.listener != nil {
		if err := u.listener.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if u.server {
		os.Remove(u.socketPath)
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
