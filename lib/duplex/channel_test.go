package duplex

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/snowmerak/duplex.go/lib/wire"
)

// peerLink is the far side of an in-process pipe connection: a framer the
// test drives as the remote peer, plus the raw pipe ends for fault injection.
type peerLink struct {
	framer *wire.Framer
	toCh   *io.PipeWriter // peer -> channel; CloseWithError injects a read failure
	fromCh *io.PipeReader // channel -> peer
}

func (p *peerLink) sendEnvelope(t *testing.T, env *Envelope) {
	t.Helper()
	data, err := env.MarshalBinary()
	if err != nil {
		t.Fatalf("failed to marshal envelope: %v", err)
	}
	if err := p.framer.WriteFrame(context.Background(), data); err != nil {
		t.Fatalf("failed to write envelope frame: %v", err)
	}
}

func (p *peerLink) readEnvelope(t *testing.T, frames <-chan *wire.Frame) *Envelope {
	t.Helper()
	select {
	case frame, ok := <-frames:
		if !ok {
			t.Fatal("peer frame channel closed")
		}
		if frame.Err != nil {
			t.Fatalf("peer read failed: %v", frame.Err)
		}
		env := new(Envelope)
		if err := env.UnmarshalBinary(frame.Data); err != nil {
			t.Fatalf("peer failed to decode envelope: %v", err)
		}
		return env
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for envelope at peer")
		return nil
	}
}

// pipeTransport hands each Open a fresh pair of in-process pipes and delivers
// the peer side to the test. CloseErr, when set, is reported by Close after
// the pipes are torn down.
type pipeTransport struct {
	peers    chan *peerLink
	closeErr error

	mu      sync.Mutex
	closers []io.Closer
}

func newPipeTransport() *pipeTransport {
	return &pipeTransport{peers: make(chan *peerLink, 4)}
}

func (p *pipeTransport) Open(ctx context.Context, addr string) (io.Reader, io.Writer, error) {
	chanReader, peerWriter := io.Pipe()
	peerReader, chanWriter := io.Pipe()

	p.mu.Lock()
	p.closers = append(p.closers, chanReader, chanWriter)
	p.mu.Unlock()

	p.peers <- &peerLink{
		framer: wire.NewFramer(peerReader, peerWriter, 0),
		toCh:   peerWriter,
		fromCh: peerReader,
	}
	return chanReader, chanWriter, nil
}

func (p *pipeTransport) Close() error {
	p.mu.Lock()
	closers := p.closers
	p.closers = nil
	p.mu.Unlock()

	for _, c := range closers {
		c.Close()
	}
	return p.closeErr
}

// eventRecorder collects lifecycle transitions.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *eventRecorder) count(e Event) int {
	n := 0
	for _, got := range r.snapshot() {
		if got == e {
			n++
		}
	}
	return n
}

// connectedChannel wires a channel to a peer link and connects it.
func connectedChannel(t *testing.T, transport *pipeTransport, opts *Options) (*Channel, *peerLink) {
	t.Helper()
	if opts == nil {
		opts = WithTransport(transport)
	} else {
		opts.Transport = transport
	}
	ch := New(opts)
	if err := ch.Connect(context.Background(), "client-1", 7777); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	link := <-transport.peers
	t.Cleanup(func() { ch.Disconnect(context.Background()) })
	return ch, link
}

func TestSend_NotConnected(t *testing.T) {
	ch := New(WithTransport(newPipeTransport()))

	err := ch.Send(context.Background(), NewNotify("Echo", nil))
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestSend_AfterDisconnect(t *testing.T) {
	transport := newPipeTransport()
	ch, _ := connectedChannel(t, transport, nil)

	if err := ch.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}

	err := ch.Send(context.Background(), NewNotify("Echo", nil))
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected after disconnect, got %v", err)
	}
}

func TestConnect_StateAndEvent(t *testing.T) {
	transport := newPipeTransport()
	ch := New(WithTransport(transport))

	rec := &eventRecorder{}
	ch.Subscribe(rec.record)

	if ch.IsConnected() {
		t.Fatal("new channel must start unconnected")
	}
	if err := ch.Connect(context.Background(), "", 9000); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	<-transport.peers
	defer ch.Disconnect(context.Background())

	if !ch.IsConnected() {
		t.Error("channel must be connected after Connect")
	}
	state := ch.State()
	if state.Port != 9000 {
		t.Errorf("Port = %d, want 9000", state.Port)
	}
	if state.ClientID == "" {
		t.Error("empty client ID must be replaced with a generated one")
	}
	if state.Host != "127.0.0.1" {
		t.Errorf("Host = %q, want default loopback", state.Host)
	}
	if got := rec.snapshot(); len(got) != 1 || got[0] != EventConnected {
		t.Errorf("events = %v, want [Connected]", got)
	}
}

func TestConnect_WhileConnected(t *testing.T) {
	transport := newPipeTransport()
	ch, _ := connectedChannel(t, transport, nil)

	err := ch.Connect(context.Background(), "client-2", 7778)
	if !errors.Is(err, ErrAlreadyConnected) {
		t.Fatalf("expected ErrAlreadyConnected, got %v", err)
	}
	if got := ch.ClientID(); got != "client-1" {
		t.Errorf("rejected Connect must not change identity, ClientID = %q", got)
	}
}

func TestDisconnect_TotalEvenWhenCloseFails(t *testing.T) {
	transport := newPipeTransport()
	transport.closeErr = errors.New("close exploded")

	rec := &eventRecorder{}
	opts := WithTransport(transport)
	ch := New(opts)
	ch.Subscribe(rec.record)

	if err := ch.Connect(context.Background(), "client-1", 7777); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	<-transport.peers

	if err := ch.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect must not surface close errors, got %v", err)
	}
	if ch.IsConnected() {
		t.Error("channel must be disconnected")
	}
	if n := rec.count(EventDisconnected); n != 1 {
		t.Errorf("EventDisconnected fired %d times, want 1", n)
	}
	if err := ch.LastError(); err == nil || !errors.Is(err, transport.closeErr) {
		t.Errorf("close error must be recorded in LastError, got %v", err)
	}
}

func TestDisconnect_Idempotent(t *testing.T) {
	transport := newPipeTransport()
	rec := &eventRecorder{}
	ch := New(WithTransport(transport))
	ch.Subscribe(rec.record)

	if err := ch.Connect(context.Background(), "client-1", 7777); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	<-transport.peers

	ch.Disconnect(context.Background())
	ch.Disconnect(context.Background())

	if n := rec.count(EventDisconnected); n != 1 {
		t.Errorf("EventDisconnected fired %d times, want 1", n)
	}
}

func TestDisconnect_Unconnected(t *testing.T) {
	ch := New(WithTransport(newPipeTransport()))
	if err := ch.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect on an unconnected channel must be a no-op, got %v", err)
	}
}

func TestReconnect_FreshGeneration(t *testing.T) {
	transport := newPipeTransport()
	rec := &eventRecorder{}
	ch := New(WithTransport(transport))
	ch.Subscribe(rec.record)

	if err := ch.Connect(context.Background(), "client-1", 7777); err != nil {
		t.Fatalf("first Connect failed: %v", err)
	}
	<-transport.peers
	ch.Disconnect(context.Background())

	if err := ch.Connect(context.Background(), "client-1b", 7778); err != nil {
		t.Fatalf("reconnect failed: %v", err)
	}
	link := <-transport.peers
	defer ch.Disconnect(context.Background())

	if !ch.IsConnected() {
		t.Fatal("channel must be connected after reconnect")
	}
	if got := ch.Port(); got != 7778 {
		t.Errorf("Port = %d, want 7778", got)
	}
	if got := ch.ClientID(); got != "client-1b" {
		t.Errorf("ClientID = %q, want client-1b", got)
	}

	// The new generation must carry traffic.
	if err := ch.Send(context.Background(), NewNotify("Ping", nil)); err != nil {
		t.Fatalf("Send on reconnected channel failed: %v", err)
	}
	frames := link.framer.ReadFrames(context.Background())
	env := link.readEnvelope(t, frames)
	if env.Name != "Ping" {
		t.Errorf("peer received %q, want Ping", env.Name)
	}

	want := []Event{EventConnected, EventDisconnected, EventConnected}
	if got := rec.snapshot(); len(got) != len(want) {
		t.Errorf("events = %v, want %v", got, want)
	} else {
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("events = %v, want %v", got, want)
				break
			}
		}
	}
}

func TestSend_StampsClientID(t *testing.T) {
	transport := newPipeTransport()
	ch, link := connectedChannel(t, transport, nil)

	if err := ch.Send(context.Background(), NewNotify("Hello", []byte("hi"))); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	frames := link.framer.ReadFrames(context.Background())
	env := link.readEnvelope(t, frames)
	if env.ClientID != "client-1" {
		t.Errorf("ClientID = %q, want the channel identity", env.ClientID)
	}
}

func TestSend_Concurrent(t *testing.T) {
	transport := newPipeTransport()
	ch, link := connectedChannel(t, transport, nil)

	frames := link.framer.ReadFrames(context.Background())

	var wg sync.WaitGroup
	for _, name := range []string{"A", "B"} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if err := ch.Send(context.Background(), NewNotify(name, []byte(name))); err != nil {
				t.Errorf("Send(%s) failed: %v", name, err)
			}
		}(name)
	}

	seen := make(map[string]bool)
	for i := 0; i < 2; i++ {
		env := link.readEnvelope(t, frames)
		seen[env.Name] = true
	}
	wg.Wait()

	if !seen["A"] || !seen["B"] {
		t.Errorf("peer saw %v, want intact envelopes A and B", seen)
	}
}
