package probe

import "time"

// Named timer constants of spec §6. Expressed as time.Duration rather than
// bare millisecond integers, per SPEC_FULL.md §6's expansion.
const (
	// SendResetFrequency is the re-arm period while in SendReset.
	SendResetFrequency = 100 * time.Millisecond

	// TxCommandAckTimeout bounds how long the FSM waits for an ACK of a
	// command it sent (ProtocolVersion, Ping) before retrying or giving up.
	TxCommandAckTimeout = 200 * time.Millisecond

	// SendPingFrequency is the steady-state ping cadence for peers whose
	// negotiated probe version shortens the ping period (>= 5).
	SendPingFrequency = 1000 * time.Millisecond

	// LegacySendPingFrequency is the ping cadence used against peers whose
	// probe version does not shorten it (spec §6: "= 3000").
	LegacySendPingFrequency = 3000 * time.Millisecond

	// EndpointManagerCompletionTimeout bounds how long WaitForStart waits
	// for the Endpoint Manager to complete a queued endpoint-start.
	EndpointManagerCompletionTimeout = 2 * time.Second

	// EfaProbeMonitorTimeout bounds how long EfaProbe waits to observe
	// Connected from the receiver before giving up.
	EfaProbeMonitorTimeout = 2 * time.Second

	// EfaTxProbeAckTimeout bounds how long EfaTxProbeAcks waits for the
	// next outstanding probe-packet send-completion ACK.
	EfaTxProbeAckTimeout = 500 * time.Millisecond

	// TxCommandMaxRetries is the retry budget for a command requiring an
	// ACK (ProtocolVersion, Ping) before the FSM gives up and resets.
	TxCommandMaxRetries = 5

	// EfaTxProbeAckMaxRetries is the retry budget for an individual probe
	// packet's send-completion before the FSM gives up and resets.
	EfaTxProbeAckMaxRetries = 5

	// EfaProbePacketCount is the number of fixed-size fabric probe frames
	// the sender emits immediately after EfaStart (spec §6).
	EfaProbePacketCount = 16

	// EfaProbePacketDataPattern fills unused bytes of a fabric probe frame.
	EfaProbePacketDataPattern byte = 0xA5

	// EfaTxPacketCacheSize bounds the in-flight unflushed send count
	// before the facade is forced to flush (spec §4.6).
	EfaTxPacketCacheSize = 32
)
