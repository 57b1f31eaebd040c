package probe

import (
	"time"

	"go.cdi.dev/core/protocol"
)

// onTickSend implements the send-side "state-processor" column of spec
// §4.4's transition table: the per-state handler invoked when no command
// arrived before the armed deadline.
func onTickSend(s State, now time.Time, pctx *procContext) (State, time.Duration, []Effect) {
	switch s {
	case Idle, SendReset:
		pctx.resetNegotiation()
		var h = pctx.header(protocol.Reset)
		h.RequiresAck = true
		pctx.pending.set(protocol.Reset, h.ControlPacketNum)
		return SendReset, SendResetFrequency, []Effect{
			notifyEffect(false, ""),
			sendEffect(h),
		}

	case SendProtocolVersion:
		if pctx.pending.retries > TxCommandMaxRetries {
			return EfaReset, 0, []Effect{logEffect(LogWarn, "protocol version negotiation exhausted retries")}
		}
		var retries = pctx.pending.retries
		var h = pctx.header(protocol.ProtocolVersion)
		pctx.pending.set(protocol.ProtocolVersion, h.ControlPacketNum)
		pctx.pending.retries = retries + 1
		return SendProtocolVersion, TxCommandAckTimeout, []Effect{sendEffect(h)}

	case WaitForStart:
		// Timeout waiting for the Endpoint Manager's start confirmation:
		// fall back to renegotiating (spec §4.4: "WaitForStart | timeout |
		// SendReset").
		return SendReset, 0, nil

	case EfaStart:
		return EfaProbe, EfaProbeMonitorTimeout, []Effect{openFabricEffect()}

	case EfaProbe:
		// Timeout: the receiver never confirmed receipt of the probe
		// burst (spec §4.4: "EfaProbe | timeout | EfaReset").
		return EfaReset, 0, nil

	case EfaTxProbeAcks:
		if pctx.probeAckRetries > EfaTxProbeAckMaxRetries {
			return EfaReset, 0, []Effect{logEffect(LogWarn, "probe packet completion retries exhausted")}
		}
		pctx.probeAckRetries++
		return EfaTxProbeAcks, EfaTxProbeAckTimeout, nil

	case EfaConnected:
		var h = pctx.header(protocol.Ping)
		h.RequiresAck = true
		pctx.pending.set(protocol.Ping, h.ControlPacketNum)
		return EfaConnectedPing, TxCommandAckTimeout, []Effect{sendEffect(h)}

	case EfaConnectedPing:
		if pctx.pending.retries > TxCommandMaxRetries {
			return EfaReset, 0, []Effect{logEffect(LogWarn, "ping exhausted retries")}
		}
		pctx.pending.retries++
		return EfaConnectedPing, TxCommandAckTimeout, nil

	case Resetting:
		return Resetting, EndpointManagerCompletionTimeout, nil

	case ResetDone:
		pctx.resetNegotiation()
		return SendReset, 0, nil

	case EfaReset:
		return Resetting, 0, []Effect{queueResetEffect()}

	default:
		return s, 0, nil
	}
}

// onPacketSend dispatches a decoded control-channel frame against the
// send-side of the transition table.
func onPacketSend(s State, h protocol.Header, pctx *procContext) (State, time.Duration, []Effect) {
	switch h.Command {
	case protocol.Reset:
		return queueReset(h, pctx)

	case protocol.Ack:
		if !pctx.pending.matches(h) {
			// spec §8: "For all ACKs delivered to the FSM with
			// is_pending == false, the FSM state is unchanged." A
			// command/packet_num mismatch is treated identically: log
			// and drop.
			return s, 0, []Effect{logEffect(LogDebug, "dropping mismatched ack")}
		}
		switch s {
		case SendReset:
			pctx.pending.clear()
			pctx.remoteGID = h.SenderGID
			pctx.remoteVersion = h.SenderVersion
			pctx.negotiated = true
			if h.SenderVersion.SupportsProtocolVersionCommand() {
				return SendProtocolVersion, 0, nil
			}
			pctx.codec = protocol.LegacyV1Codec{}
			return WaitForStart, EndpointManagerCompletionTimeout, []Effect{queueStartEffect()}

		case SendProtocolVersion:
			pctx.pending.clear()
			pctx.codec = protocol.Negotiated(pctx.remoteVersion)
			return WaitForStart, EndpointManagerCompletionTimeout, []Effect{queueStartEffect()}

		case EfaConnectedPing:
			pctx.pending.clear()
			return EfaConnected, pctx.pingFrequency(), nil

		default:
			pctx.pending.clear()
			return s, 0, nil
		}

	case protocol.Connected:
		if s == EfaProbe {
			return EfaTxProbeAcks, EfaTxProbeAckTimeout, nil
		}
		// spec §4.4: "any non-probe state | unexpected Connected |
		// SendReset | log".
		return SendReset, 0, []Effect{logEffect(LogWarn, "unexpected connected command")}

	default:
		return s, 0, nil
	}
}

// onFabricCompletionSend accumulates probe-packet send completions across
// both EfaProbe and EfaTxProbeAcks: the local NIC's completion for a probe
// packet and the peer's Connected command race each other independently (on
// real hardware as much as over LoopbackProvider, which completes sends
// synchronously), so a completion drained while still in EfaProbe must
// still count -- dropping it here is what previously stalled
// EfaTxProbeAcks at 0 outstanding acks until its retry budget ran out.
func onFabricCompletionSend(s State, ev Event, pctx *procContext) (State, time.Duration, []Effect) {
	switch s {
	case EfaProbe:
		pctx.probeAcksOutstanding += ev.FabricSendOK
		if ev.FabricSendFailed > 0 {
			return EfaReset, 0, []Effect{logEffect(LogWarn, "probe packet send failed")}
		}
		// A zero wait here would make Endpoint.step's convergence loop
		// immediately re-run onTick, whose EfaProbe case treats any tick
		// as the monitor timeout elapsing -- re-arm the same deadline
		// instead, exactly as the EfaTxProbeAcks branch below does while
		// still short of the target count.
		return s, EfaProbeMonitorTimeout, nil

	case EfaTxProbeAcks:
		pctx.probeAcksOutstanding += ev.FabricSendOK
		pctx.probeAckRetries = 0
		if pctx.probeAcksOutstanding >= EfaProbePacketCount {
			var effects = []Effect{notifyEffect(true, "")}
			if pctx.probeAcksOutstanding > EfaProbePacketCount {
				// spec §8 boundary: receiving more completions than
				// packets sent is an error, not silently ignored.
				effects = append(effects, logEffect(LogWarn, "more probe packet send completions than packets sent"))
			}
			return EfaConnected, 0, effects
		}
		if ev.FabricSendFailed > 0 {
			return EfaReset, 0, []Effect{logEffect(LogWarn, "probe packet send failed")}
		}
		return s, EfaTxProbeAckTimeout, nil

	default:
		return s, 0, nil
	}
}
