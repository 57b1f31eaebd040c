// Package fabric abstracts the reliable-datagram fabric endpoint of spec
// §4.6 behind a Provider interface, per the §9 redesign note ("Multiple
// implementations (real fabric, loopback, fault-injecting) plug in for
// test"). The probe package (C4) drives a Provider; it never touches a
// real libfabric/EFA call directly.
package fabric

import (
	"go.cdi.dev/core/protocol"
)

// AckStatus is the outcome of a completed send or receive operation.
type AckStatus int

const (
	Ok AckStatus = iota
	Failed
)

// Completion is one entry returned by DrainCompletions: a notification
// that an earlier PostSend or PostReceive has finished (spec §4.6).
type Completion struct {
	// Context is the caller-supplied value passed to PostSend/PostReceive,
	// returned unchanged so the caller can correlate the completion.
	Context interface{}
	Status  AckStatus
	// IsSend distinguishes a send-side completion from a receive-side one.
	IsSend bool
	// Payload holds the received bytes, valid only when !IsSend and
	// Status == Ok.
	Payload []byte
}

// Provider is the fabric endpoint facade of spec §4.6. A connection opens
// one Provider per direction (send or receive). The methods are not all
// called from one goroutine: probe.Endpoint calls DrainCompletions from its
// poll goroutine, Open, PostSend and PostReceive from its probe goroutine,
// and Close from the probe goroutine or from the Endpoint Manager's
// goroutine (an endpoint reset).
type Provider interface {
	// Open allocates the endpoint's domain, completion queue, address
	// vector, and registers the memory regions backing PostSend/
	// PostReceive buffers. remoteGID is nil until negotiation has learned
	// the peer's identity.
	Open(localGID protocol.GID, remoteGID *protocol.GID) error

	// PostSend submits payload for transmission. flush requests that the
	// fabric stop batching and issue the hardware doorbell immediately
	// (spec §4.6: "more-to-send" flag semantics, inverted for clarity:
	// flush == !moreToSend). context is returned unchanged on the
	// matching completion.
	//
	// Returns ErrRetry for a transient condition the caller should retry,
	// or ErrSendFailed for a fatal condition after which the caller must
	// transition to reset.
	PostSend(payload []byte, context interface{}, flush bool) error

	// PostReceive arms buf to receive the next inbound frame. Per spec
	// §4.6, the facade does not repost a buffer until the application
	// explicitly releases it; morePost signals the same batching
	// opportunity as PostSend's flush parameter.
	PostReceive(buf []byte, context interface{}, morePost bool) error

	// DrainCompletions returns up to max completions currently available,
	// without blocking. okCount and errCount summarize Status across the
	// returned slice for cheap bookkeeping by the caller.
	DrainCompletions(max int) (completions []Completion, okCount, errCount int)

	// Close unregisters memory regions, closes the endpoint, and frees the
	// provider's internal pool. Close(Open(cfg)) must be a no-op on
	// external state (spec §8).
	Close() error
}
