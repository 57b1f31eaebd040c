package probe

import (
	"time"

	"go.cdi.dev/core/protocol"
)

// process is the pure transition function of spec §4.4, expressed per the
// §9 redesign note as:
//
//	process(direction, state, event, now, ctx) -> (next_state, next_deadline, side_effects)
//
// It performs no I/O. All side effects (sending a frame, posting a
// notification, queuing an endpoint operation) are returned as Effects for
// Endpoint.step/applyEffects -- the one place in this package with side effects,
// matching broker/append_fsm.go's split between onX state handlers and the
// single driver loop -- to execute.
func process(dir Direction, s State, ev Event, now time.Time, pctx *procContext) (State, time.Duration, []Effect) {
	if ev.Kind == EventDestroy {
		return Destroy, 0, nil
	}
	if s == Destroy {
		return Destroy, 0, nil
	}

	switch ev.Kind {
	case EventRxPacket:
		return onPacket(dir, s, ev.Header, pctx)
	case EventStateChange:
		return onStateChange(dir, s, ev, pctx)
	case EventFabricCompletion:
		return onFabricCompletion(dir, s, ev, pctx)
	default: // EventTick
		return onTick(dir, s, now, pctx)
	}
}

func onTick(dir Direction, s State, now time.Time, pctx *procContext) (State, time.Duration, []Effect) {
	if dir == ReceiveDirection {
		return onTickReceive(s, now, pctx)
	}
	return onTickSend(s, now, pctx)
}

func onPacket(dir Direction, s State, h protocol.Header, pctx *procContext) (State, time.Duration, []Effect) {
	if dir == ReceiveDirection {
		return onPacketReceive(s, h, pctx)
	}
	return onPacketSend(s, h, pctx)
}

// onStateChange handles confirmations from the Endpoint Manager (spec
// §4.5): a queued Reset completing advances Resetting -> ResetDone; a
// queued Start completing advances WaitForStart -> EfaStart. Both
// directions share this shape since the Endpoint Manager is
// direction-agnostic.
func onStateChange(dir Direction, s State, ev Event, pctx *procContext) (State, time.Duration, []Effect) {
	if ev.StateChangeErr != nil {
		// Resource/FabricLost errors from the Endpoint Manager itself:
		// stay put and let the next tick's retry budget decide, per
		// spec §7 ("Resource... the endpoint enters reset" is driven by
		// the caller observing repeated failure, not a single one here).
		return s, 0, []Effect{logEffect(LogWarn, "endpoint manager operation failed: "+ev.StateChangeErr.Error())}
	}

	switch s {
	case Resetting:
		var effects []Effect
		if pctx.deferredAck.valid {
			var ack = pctx.header(protocol.Ack)
			ack.AckCommand = pctx.deferredAck.command
			ack.AckControlPacketNum = pctx.deferredAck.packetNum
			// The codec for this ack depends on the peer's advertised
			// probe version at the time it sent the command being
			// acked, not on pctx.codec -- negotiation hasn't run yet
			// here, so pctx.codec is still whatever resetNegotiation
			// left it at (spec §4.1: "Ack to a peer whose advertised
			// probe version >= 3 -> SDK codec").
			var codec protocol.Codec = protocol.LegacyV1Codec{}
			var remote = protocol.Version{ProbeVersion: pctx.deferredAck.remoteProbeVersion}
			if remote.SupportsProtocolVersionCommand() {
				codec = protocol.SDKCodec{}
			}
			effects = append(effects, sendEffectWithCodec(ack, codec))
			pctx.deferredAck = deferredAck{}
		}
		return ResetDone, 0, effects
	case WaitForStart:
		if ev.StateChangeIsStart {
			return EfaStart, 0, nil
		}
	}
	return s, 0, nil
}

func onFabricCompletion(dir Direction, s State, ev Event, pctx *procContext) (State, time.Duration, []Effect) {
	if dir == ReceiveDirection {
		return onFabricCompletionReceive(s, ev, pctx)
	}
	return onFabricCompletionSend(s, ev, pctx)
}

// queueReset transitions any non-terminal state to Resetting in response
// to an incoming Reset command, per spec §4.4: "any | Reset command
// received | Resetting -> ResetDone | queue an endpoint reset; once
// Endpoint Manager confirms, ACK the reset and proceed."
func queueReset(h protocol.Header, pctx *procContext) (State, time.Duration, []Effect) {
	pctx.deferredAck = deferredAck{
		valid:              true,
		command:            protocol.Reset,
		packetNum:          h.ControlPacketNum,
		remoteProbeVersion: h.SenderVersion.ProbeVersion,
	}
	pctx.remoteGID = h.SenderGID
	return Resetting, 0, []Effect{queueResetEffect()}
}
