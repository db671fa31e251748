// This file contains the lifecycle event plumbing.
package duplex

import "sync"

// Event is a lifecycle transition notification. Events carry no payload;
// consumers query the channel state for details.
type Event uint8

const (
	// EventConnected fires after a successful Connect, before any envelope
	// of that connection generation is dispatched.
	EventConnected Event = iota + 1

	// EventDisconnected fires exactly once per connection generation, after
	// the receive loop has handed off its last envelope.
	EventDisconnected
)

// String returns the string representation of Event.
func (e Event) String() string {
	switch e {
	case EventConnected:
		return "Connected"
	case EventDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// EventFunc observes lifecycle transitions. Callbacks run synchronously on
// the transitioning goroutine and must not block.
type EventFunc func(Event)

// notifier delivers every transition to every subscriber registered before
// the transition occurred, in subscription order.
type notifier struct {
	mu   sync.Mutex
	subs []EventFunc
}

func (n *notifier) subscribe(fn EventFunc) {
	if fn == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subs = append(n.subs, fn)
}

func (n *notifier) publish(e Event) {
	n.mu.Lock()
	subs := make([]EventFunc, len(n.subs))
	copy(subs, n.subs)
	n.mu.Unlock()

	for _, fn := range subs {
		fn(e)
	}
}
