// Package notify implements the connection-state notifier of spec §4.7: a
// single-writer, idempotent dispatcher of Connected/Disconnected events to
// the application.
package notify

import "sync/atomic"

// ConnectionState is the application-visible connection status of spec §3:
// "While the probe state is not EfaConnected or EfaConnectedPing, the
// application's connection status is Disconnected."
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connected
)

func (s ConnectionState) String() string {
	if s == Connected {
		return "Connected"
	}
	return "Disconnected"
}

// Callback receives a connection-state transition and, for Disconnected,
// an optional operator-actionable message (spec §7). The message is a
// snapshot: Go strings are immutable values, so a Callback can never
// observe it mutate out from under a retained copy, but implementations
// still must not assume it outlives the call in any wider sense (eg by
// unsafely reinterpreting its backing array).
type Callback func(state ConnectionState, message string)

// Notifier dispatches connection-state changes to a single Callback.
// Per spec §4.7, only the probe thread may call Post (the "single writer");
// Notifier enforces idempotence (posting the same state twice running is a
// no-op) with a lock-free compare-and-swap on a tiny packed record, per the
// §9 redesign note for "shared critical sections protecting tiny records."
type Notifier struct {
	callback Callback
	last     atomic.Value // holds ConnectionState
}

// New returns a Notifier which invokes callback on each distinct state
// transition. callback must not block or retain the pointer to message.
func New(callback Callback) *Notifier {
	var n = &Notifier{callback: callback}
	n.last.Store(Disconnected)
	return n
}

// Post delivers state to the Notifier's Callback, unless state equals the
// most recently posted state (idempotence, spec §4.7).
func (n *Notifier) Post(state ConnectionState, message string) {
	if n.last.Swap(state) == state {
		return
	}
	if n.callback != nil {
		n.callback(state, message)
	}
}

// Last returns the most recently posted ConnectionState.
func (n *Notifier) Last() ConnectionState {
	return n.last.Load().(ConnectionState)
}
