// Package probe implements the Probe State Machine of spec §4.4: the
// per-endpoint handshake, liveness, and recovery FSM driving one direction
// of one connection over the control channel and the fabric.
package probe

import (
	"fmt"

	"go.cdi.dev/core/protocol"
)

// Direction distinguishes the sender half of a connection from the
// receiver half. Per the §9 redesign note, send-only and receive-only
// behavior is expressed as direction-specific methods on a shared
// Endpoint, rather than as two unrelated types.
type Direction int

const (
	SendDirection Direction = iota
	ReceiveDirection
)

func (d Direction) String() string {
	if d == ReceiveDirection {
		return "receive"
	}
	return "send"
}

// State is one node of the transition table in spec §4.4.
type State int

const (
	Idle State = iota
	SendReset
	SendProtocolVersion
	Resetting
	ResetDone
	WaitForStart
	EfaStart
	EfaProbe
	EfaTxProbeAcks
	EfaConnected
	EfaConnectedPing
	EfaReset
	Destroy
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case SendReset:
		return "SendReset"
	case SendProtocolVersion:
		return "SendProtocolVersion"
	case Resetting:
		return "Resetting"
	case ResetDone:
		return "ResetDone"
	case WaitForStart:
		return "WaitForStart"
	case EfaStart:
		return "EfaStart"
	case EfaProbe:
		return "EfaProbe"
	case EfaTxProbeAcks:
		return "EfaTxProbeAcks"
	case EfaConnected:
		return "EfaConnected"
	case EfaConnectedPing:
		return "EfaConnectedPing"
	case EfaReset:
		return "EfaReset"
	case Destroy:
		return "Destroy"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// InitialState returns the FSM's starting state for dir, per spec §4.4:
// "Initial state: Idle (send) or SendReset (receive)."
func InitialState(dir Direction) State {
	if dir == ReceiveDirection {
		return SendReset
	}
	return Idle
}

// IsConnected reports whether s is one of the two states in which the
// application-visible connection status is Connected (spec §3).
func (s State) IsConnected() bool {
	return s == EfaConnected || s == EfaConnectedPing
}

// EventKind discriminates the inputs the driver loop accepts: a deadline
// tick plus the event kinds listed below.
type EventKind int

const (
	// EventTick fires when no command arrived within the armed deadline;
	// the driver invokes the direction's "process state" handler.
	EventTick EventKind = iota
	// EventStateChange is posted by the Endpoint Manager once a queued
	// Reset or Start completes.
	EventStateChange
	// EventRxPacket is posted by the control-receive thread with a
	// decoded header for this endpoint.
	EventRxPacket
	// EventFabricCompletion is posted by the poll thread after draining
	// fabric completions for this endpoint (spec §4.6's drain_completions).
	EventFabricCompletion
	// EventDestroy requests an orderly shutdown of the endpoint.
	EventDestroy
)

// Event is one input to the pure process function.
type Event struct {
	Kind EventKind

	// Valid when Kind == EventStateChange: the outcome of the queued
	// Reset/Start operation against the Endpoint Manager.
	StateChangeErr     error
	StateChangeIsStart bool

	// Valid when Kind == EventRxPacket.
	Header protocol.Header

	// Valid when Kind == EventFabricCompletion: the delta counts observed
	// in this drain (spec §4.6: "(ok_count, error_count)").
	FabricSendOK     int
	FabricSendFailed int
	FabricRecvOK     int
	FabricRecvFailed int
}
