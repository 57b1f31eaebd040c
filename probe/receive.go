package probe

import (
	"time"

	"go.cdi.dev/core/protocol"
)

// pingSilenceWindow bounds how long the receive side tolerates not
// observing an incoming Ping while connected before concluding the peer is
// gone (spec §4.4: "on absence of pings beyond a per-ping window it times
// out and returns to SendReset").
const pingSilenceWindow = 2 * LegacySendPingFrequency

// onTickReceive implements the receive-side column of spec §4.4's
// transition table. Per that section, the receive side is symmetric to
// the send side for the SendReset/WaitForStart/EfaStart legs, and departs
// from it only in how negotiation completes (via an incoming Reset,
// rather than an Ack of one) and in how liveness is monitored while
// connected (a silence window, rather than an actively sent Ping).
func onTickReceive(s State, now time.Time, pctx *procContext) (State, time.Duration, []Effect) {
	switch s {
	case Idle, SendReset:
		pctx.resetNegotiation()
		var h = pctx.header(protocol.Reset)
		h.RequiresAck = true
		return SendReset, SendResetFrequency, []Effect{
			notifyEffect(false, ""),
			sendEffect(h),
		}

	case Resetting:
		return Resetting, EndpointManagerCompletionTimeout, nil

	case ResetDone:
		return WaitForStart, EndpointManagerCompletionTimeout, []Effect{queueStartEffect()}

	case WaitForStart:
		return SendReset, 0, nil

	case EfaStart:
		return EfaProbe, EfaProbeMonitorTimeout, []Effect{openFabricEffect()}

	case EfaProbe:
		return EfaReset, 0, nil

	case EfaConnected, EfaConnectedPing:
		// No Ping observed within the silence window: the peer is
		// presumed gone (spec §4.4: "returns to SendReset").
		return SendReset, 0, []Effect{logEffect(LogWarn, "ping silence window exceeded")}

	case EfaReset:
		return Resetting, 0, []Effect{queueResetEffect()}

	default:
		return s, 0, nil
	}
}

// onPacketReceive dispatches a decoded control-channel frame against the
// receive-side of the transition table.
func onPacketReceive(s State, h protocol.Header, pctx *procContext) (State, time.Duration, []Effect) {
	switch h.Command {
	case protocol.Reset:
		// spec §4.4: "the receiver begins by sending Reset until it sees
		// a Reset from the sender, then performs the reset" -- this is
		// the receive side's primary path into Resetting, not only the
		// mid-connection recovery path.
		pctx.remoteVersion = h.SenderVersion
		return queueReset(h, pctx)

	case protocol.ProtocolVersion:
		pctx.remoteVersion = h.SenderVersion
		pctx.codec = protocol.SDKCodec{}
		pctx.negotiated = true
		var ack = pctx.header(protocol.Ack)
		ack.AckCommand = protocol.ProtocolVersion
		ack.AckControlPacketNum = h.ControlPacketNum
		return s, 0, []Effect{sendEffect(ack)}

	case protocol.Ping:
		var ack = pctx.header(protocol.Ack)
		ack.AckCommand = protocol.Ping
		ack.AckControlPacketNum = h.ControlPacketNum
		var next = s
		if s == EfaConnectedPing {
			next = EfaConnected
		}
		return next, pingSilenceWindow, []Effect{sendEffect(ack)}

	default:
		return s, 0, nil
	}
}

func onFabricCompletionReceive(s State, ev Event, pctx *procContext) (State, time.Duration, []Effect) {
	if s != EfaProbe {
		return s, 0, nil
	}
	pctx.probeAcksOutstanding += ev.FabricRecvOK
	if pctx.probeAcksOutstanding >= EfaProbePacketCount {
		var connected = pctx.header(protocol.Connected)
		return EfaConnected, pingSilenceWindow, []Effect{
			sendEffect(connected),
			notifyEffect(true, ""),
		}
	}
	return s, EfaProbeMonitorTimeout, nil
}
