// This file contains the Channel state machine: connect, send, disconnect,
// and the per-connection generation bookkeeping.
package duplex

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/snowmerak/duplex.go/lib/wire"
)

// Channel is a duplex message channel over one streaming connection.
// A Channel starts unconnected, becomes connected through Connect, and
// returns to disconnected on explicit Disconnect, stream end, or stream
// error. The same instance may be reconnected; each Connect creates a fresh
// internal connection generation, so a receive loop from an earlier
// generation can never touch a later connection.
type Channel struct {
	registry *Registry
	notifier notifier
	opts     *Options

	mu       sync.Mutex
	gen      *generation
	port     int
	clientID string
	lastErr  error
}

// generation is the owned state of one connect-to-disconnect lifespan.
type generation struct {
	framer    *wire.Framer
	transport Transport

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started atomic.Bool

	closeOnce sync.Once

	pendingMu sync.Mutex
	pending   map[string]chan *Envelope
}

// State is a snapshot of the channel's observable state.
type State struct {
	Host      string
	Port      int
	ClientID  string
	Connected bool
	LastError error
}

// New creates an unconnected channel. nil opts selects DefaultOptions; a
// transport must be configured before Connect.
func New(opts *Options) *Channel {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &Channel{
		registry: NewRegistry(),
		opts:     opts.normalized(),
	}
}

// RegisterHandler binds a message name to a handler. Registration should
// complete before Start; a duplicate name fails with ErrDuplicateHandler.
func (c *Channel) RegisterHandler(name string, handler Handler) error {
	return c.registry.Register(name, handler)
}

// RegisterHandlerFuncs is a convenience wrapper registering a pair of entry
// point functions.
func (c *Channel) RegisterHandlerFuncs(name string, server, client func(ctx context.Context, env *Envelope, ch *Channel) error) error {
	return c.registry.Register(name, HandlerFuncs{Server: server, Client: client})
}

// Subscribe registers a lifecycle observer. Subscribe before Connect to see
// every transition.
func (c *Channel) Subscribe(fn EventFunc) {
	c.notifier.subscribe(fn)
}

// Connect opens the underlying stream toward the configured host at port and
// transitions the channel to connected. An empty clientID is replaced with a
// generated one. Connecting while already connected fails with
// ErrAlreadyConnected and leaves the live connection untouched.
func (c *Channel) Connect(ctx context.Context, clientID string, port int) error {
	transport := c.opts.Transport
	if transport == nil {
		return fmt.Errorf("no transport configured")
	}

	c.mu.Lock()
	if c.gen != nil && c.connectedLocked() {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}

	if clientID == "" {
		clientID = newClientID()
	}
	c.clientID = clientID
	c.port = port
	addr := net.JoinHostPort(c.opts.Host, strconv.Itoa(port))
	c.mu.Unlock()

	reader, writer, err := transport.Open(ctx, addr)
	if err != nil {
		return fmt.Errorf("failed to open transport to %s: %w", addr, err)
	}

	genCtx, cancel := context.WithCancel(context.Background())
	g := &generation{
		framer:    wire.NewFramer(reader, writer, c.opts.MaxMessageSize),
		transport: transport,
		ctx:       genCtx,
		cancel:    cancel,
		done:      make(chan struct{}),
		pending:   make(map[string]chan *Envelope),
	}

	c.mu.Lock()
	c.gen = g
	c.lastErr = nil
	c.mu.Unlock()

	c.notifier.publish(EventConnected)
	return nil
}

// Start launches the receive loop in the background. The returned channel is
// closed when the loop exits; it represents the loop's lifetime, not
// individual messages.
func (c *Channel) Start() (<-chan struct{}, error) {
	c.mu.Lock()
	g := c.gen
	c.mu.Unlock()

	if g == nil || g.closed() {
		return nil, ErrNotConnected
	}
	if !g.started.CompareAndSwap(false, true) {
		return g.done, nil
	}

	go c.receiveLoop(g)
	return g.done, nil
}

// Send writes one envelope onto the outbound half of the stream. Concurrent
// calls are safe; writes are serialized by the framer. A write failure is
// returned to the caller and does not tear down the connection. An empty
// ClientID is stamped with the channel's.
func (c *Channel) Send(ctx context.Context, env *Envelope) error {
	c.mu.Lock()
	g := c.gen
	clientID := c.clientID
	c.mu.Unlock()

	if g == nil || g.closed() {
		return ErrNotConnected
	}

	out := *env
	if out.ClientID == "" {
		out.ClientID = clientID
	}

	data, err := out.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}

	if err := g.framer.WriteFrame(ctx, data); err != nil {
		return fmt.Errorf("failed to write envelope %q: %w", out.Name, err)
	}
	return nil
}

// Notify sends a one-way notification envelope.
func (c *Channel) Notify(ctx context.Context, name string, payload []byte) error {
	return c.Send(ctx, NewNotify(name, payload))
}

// Reply sends the response to a received request, reusing its correlation ID.
func (c *Channel) Reply(ctx context.Context, req *Envelope, payload []byte) error {
	return c.Send(ctx, NewResponse(req, payload))
}

// ReplyError sends an error response to a received request. The payload
// carries the error description.
func (c *Channel) ReplyError(ctx context.Context, req *Envelope, payload []byte) error {
	return c.Send(ctx, NewErrorResponse(req, payload))
}

// Disconnect tears down the current connection. It is a total operation: the
// channel always ends disconnected and EventDisconnected fires exactly once
// per generation, even when the underlying close reports an error. Close
// errors are recorded in LastError, never returned. Disconnecting an
// unconnected channel is a no-op.
func (c *Channel) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	g := c.gen
	c.mu.Unlock()

	if g == nil {
		return nil
	}

	c.teardown(g, nil)

	// Wait for the receive loop to wind down, if one was started.
	if g.started.Load() {
		select {
		case <-g.done:
		case <-ctx.Done():
		}
	}
	return nil
}

// teardown closes a generation exactly once: it interrupts the pending read,
// closes the stream, fails outstanding calls, and fires EventDisconnected.
func (c *Channel) teardown(g *generation, cause error) {
	g.closeOnce.Do(func() {
		g.cancel()

		if err := g.transport.Close(); err != nil {
			logger.Warn("transport close failed", "error", err)
			if cause == nil {
				cause = err
			}
		}

		g.failPending()

		if cause != nil {
			c.mu.Lock()
			c.lastErr = cause
			c.mu.Unlock()
		}

		c.notifier.publish(EventDisconnected)
	})
}

// Host returns the configured remote host.
func (c *Channel) Host() string {
	return c.opts.Host
}

// Port returns the port of the most recent Connect.
func (c *Channel) Port() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.port
}

// ClientID returns the identity of the most recent Connect.
func (c *Channel) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// IsConnected reports whether the current generation is live.
func (c *Channel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectedLocked()
}

// LastError returns the error recorded by the most recent stream failure or
// teardown, for diagnostics after a disconnect.
func (c *Channel) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// State returns a snapshot of the channel's observable state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Host:      c.opts.Host,
		Port:      c.port,
		ClientID:  c.clientID,
		Connected: c.connectedLocked(),
		LastError: c.lastErr,
	}
}

func (c *Channel) connectedLocked() bool {
	return c.gen != nil && !c.gen.closed()
}

func newClientID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func (g *generation) closed() bool {
	select {
	case <-g.ctx.Done():
		return true
	default:
		return false
	}
}

func (g *generation) addPending(correlationID string, ch chan *Envelope) {
	g.pendingMu.Lock()
	defer g.pendingMu.Unlock()
	g.pending[correlationID] = ch
}

func (g *generation) removePending(correlationID string) {
	g.pendingMu.Lock()
	defer g.pendingMu.Unlock()
	delete(g.pending, correlationID)
}

// takePending claims the response slot for a correlation ID, if any.
func (g *generation) takePending(correlationID string) chan *Envelope {
	g.pendingMu.Lock()
	defer g.pendingMu.Unlock()
	ch, ok := g.pending[correlationID]
	if !ok {
		return nil
	}
	delete(g.pending, correlationID)
	return ch
}

// failPending closes every outstanding response slot that has not already
// received data, signalling waiters that the connection is gone.
func (g *generation) failPending() {
	g.pendingMu.Lock()
	defer g.pendingMu.Unlock()
	for id, ch := range g.pending {
		select {
		case <-ch:
			// Response already delivered, leave it.
		default:
			close(ch)
		}
		delete(g.pending, id)
	}
}
