package probe

import (
	"time"

	gc "gopkg.in/check.v1"

	"go.cdi.dev/core/protocol"
)

type FSMSuite struct{}

var _ = gc.Suite(&FSMSuite{})

// TestSendNegotiatesProtocolVersionWhenSupported walks the sender through
// SendReset -> (ack) -> SendProtocolVersion -> (ack) -> WaitForStart, per
// spec §4.4's note that probe_version >= 3 peers negotiate the
// ProtocolVersion command before WaitForStart.
func (s *FSMSuite) TestSendNegotiatesProtocolVersionWhenSupported(c *gc.C) {
	var pctx = freshCtx(SendDirection)

	var next, _, effects = process(SendDirection, SendReset, Event{Kind: EventTick}, time.Now(), pctx)
	c.Assert(next, gc.Equals, SendReset)
	c.Assert(effects, gc.HasLen, 2)
	c.Check(effects[1].Kind, gc.Equals, EffectSend)
	c.Check(effects[1].Header.Command, gc.Equals, protocol.Reset)
	c.Check(pctx.pending.isPending, gc.Equals, true)

	var resetAck = protocol.Header{
		Command: protocol.Ack, AckCommand: protocol.Reset, AckControlPacketNum: effects[1].Header.ControlPacketNum,
		SenderVersion: protocol.Version{Version: 1, Major: 0, ProbeVersion: 5},
	}
	next, _, _ = process(SendDirection, SendReset, Event{Kind: EventRxPacket, Header: resetAck}, time.Now(), pctx)
	c.Assert(next, gc.Equals, SendProtocolVersion)
	c.Check(pctx.negotiated, gc.Equals, true)

	next, _, effects = process(SendDirection, SendProtocolVersion, Event{Kind: EventTick}, time.Now(), pctx)
	c.Assert(next, gc.Equals, SendProtocolVersion)
	c.Assert(effects, gc.HasLen, 1)
	c.Check(effects[0].Header.Command, gc.Equals, protocol.ProtocolVersion)

	var pvAck = protocol.Header{Command: protocol.Ack, AckCommand: protocol.ProtocolVersion, AckControlPacketNum: effects[0].Header.ControlPacketNum}
	next, _, effects = process(SendDirection, SendProtocolVersion, Event{Kind: EventRxPacket, Header: pvAck}, time.Now(), pctx)
	c.Assert(next, gc.Equals, WaitForStart)
	c.Assert(effects, gc.HasLen, 1)
	c.Check(effects[0].Kind, gc.Equals, EffectQueueStart)
}

// TestSendSkipsProtocolVersionForLegacyPeer checks the legacy-peer path
// (probe_version < 3): the sender goes straight from the Reset ack to
// WaitForStart using the legacy codec.
func (s *FSMSuite) TestSendSkipsProtocolVersionForLegacyPeer(c *gc.C) {
	var pctx = freshCtx(SendDirection)
	pctx.pending.set(protocol.Reset, 5)

	var resetAck = protocol.Header{
		Command: protocol.Ack, AckCommand: protocol.Reset, AckControlPacketNum: 5,
		SenderVersion: protocol.Version{Version: 1, Major: 0, ProbeVersion: 2},
	}
	var next, _, effects = process(SendDirection, SendReset, Event{Kind: EventRxPacket, Header: resetAck}, time.Now(), pctx)
	c.Assert(next, gc.Equals, WaitForStart)
	c.Assert(effects, gc.HasLen, 1)
	c.Check(effects[0].Kind, gc.Equals, EffectQueueStart)
	c.Check(pctx.codec, gc.Equals, protocol.Codec(protocol.LegacyV1Codec{}))
}

// TestSendFabricCompletionAdvancesThroughProbeBurst drives
// onFabricCompletionSend from EfaTxProbeAcks to EfaConnected once
// EfaProbePacketCount sends have completed ok.
func (s *FSMSuite) TestSendFabricCompletionAdvancesThroughProbeBurst(c *gc.C) {
	var pctx = freshCtx(SendDirection)

	var next, wait, effects = process(SendDirection, EfaTxProbeAcks,
		Event{Kind: EventFabricCompletion, FabricSendOK: EfaProbePacketCount - 1}, time.Now(), pctx)
	c.Check(next, gc.Equals, EfaTxProbeAcks)
	c.Check(wait, gc.Equals, EfaTxProbeAckTimeout)
	c.Check(effects, gc.IsNil)

	next, _, effects = process(SendDirection, EfaTxProbeAcks,
		Event{Kind: EventFabricCompletion, FabricSendOK: 1}, time.Now(), pctx)
	c.Check(next, gc.Equals, EfaConnected)
	c.Assert(effects, gc.HasLen, 1)
	c.Check(effects[0].Kind, gc.Equals, EffectNotify)
	c.Check(effects[0].Connected, gc.Equals, true)
}

// TestSendFabricCompletionAccumulatesAcrossProbeAndTxProbeAcks checks that
// send completions drained while still in EfaProbe (as LoopbackProvider and
// real hardware alike may well deliver them, racing the peer's Connected
// command) aren't dropped: they must still count once the state machine
// reaches EfaTxProbeAcks, rather than leaving probeAcksOutstanding at 0 and
// exhausting the retry budget into EfaReset.
func (s *FSMSuite) TestSendFabricCompletionAccumulatesAcrossProbeAndTxProbeAcks(c *gc.C) {
	var pctx = freshCtx(SendDirection)

	var next, _, effects = process(SendDirection, EfaProbe,
		Event{Kind: EventFabricCompletion, FabricSendOK: EfaProbePacketCount}, time.Now(), pctx)
	c.Check(next, gc.Equals, EfaProbe)
	c.Check(effects, gc.IsNil)
	c.Check(pctx.probeAcksOutstanding, gc.Equals, EfaProbePacketCount)

	next, _, effects = process(SendDirection, EfaTxProbeAcks,
		Event{Kind: EventFabricCompletion, FabricSendOK: 0}, time.Now(), pctx)
	c.Check(next, gc.Equals, EfaConnected)
	c.Assert(effects, gc.HasLen, 1)
	c.Check(effects[0].Kind, gc.Equals, EffectNotify)
	c.Check(effects[0].Connected, gc.Equals, true)
}

// TestSendFabricCompletionFailureResets checks that a failed probe-packet
// send drives the sender to EfaReset (spec §4.4: "send failure -> EfaReset").
func (s *FSMSuite) TestSendFabricCompletionFailureResets(c *gc.C) {
	var pctx = freshCtx(SendDirection)
	var next, _, effects = process(SendDirection, EfaTxProbeAcks,
		Event{Kind: EventFabricCompletion, FabricSendFailed: 1}, time.Now(), pctx)
	c.Check(next, gc.Equals, EfaReset)
	c.Assert(effects, gc.HasLen, 1)
	c.Check(effects[0].Kind, gc.Equals, EffectLog)
}

// TestReceiveLearnsVersionAndAdvancesOnResetDone drives the receiver's
// primary negotiation path: an incoming Reset queues a reset, and once the
// Endpoint Manager confirms it the receiver proceeds to WaitForStart rather
// than renegotiating from scratch (unlike the sender's ResetDone handler).
func (s *FSMSuite) TestReceiveLearnsVersionAndAdvancesOnResetDone(c *gc.C) {
	var pctx = freshCtx(ReceiveDirection)
	var h = protocol.Header{
		Command: protocol.Reset, ControlPacketNum: 9,
		SenderVersion: protocol.Version{Version: 1, Major: 0, ProbeVersion: 5},
	}
	var next, _, effects = process(ReceiveDirection, SendReset, Event{Kind: EventRxPacket, Header: h}, time.Now(), pctx)
	c.Assert(next, gc.Equals, Resetting)
	c.Assert(effects, gc.HasLen, 1)
	c.Check(pctx.remoteVersion.ProbeVersion, gc.Equals, uint8(5))

	next, _, effects = process(ReceiveDirection, Resetting, Event{Kind: EventStateChange}, time.Now(), pctx)
	c.Assert(next, gc.Equals, ResetDone)
	c.Assert(effects, gc.HasLen, 1)
	c.Check(effects[0].Header.Command, gc.Equals, protocol.Ack)

	next, _, effects = process(ReceiveDirection, ResetDone, Event{Kind: EventTick}, time.Now(), pctx)
	c.Check(next, gc.Equals, WaitForStart)
	c.Assert(effects, gc.HasLen, 1)
	c.Check(effects[0].Kind, gc.Equals, EffectQueueStart)
}

// TestResetDoneAckUsesSDKCodecForCapablePeer pins spec §4.1's "Ack to a
// peer whose advertised probe version >= 3 -> SDK codec" rule against the
// deferred reset ack specifically: pctx.codec itself is still the legacy
// codec at this point (negotiation hasn't run), so the ack's codec must
// come from the remote version recorded on the deferred ack, not pctx.codec.
func (s *FSMSuite) TestResetDoneAckUsesSDKCodecForCapablePeer(c *gc.C) {
	var pctx = freshCtx(ReceiveDirection)
	var h = protocol.Header{
		Command: protocol.Reset, ControlPacketNum: 3,
		SenderVersion: protocol.Version{Version: 1, Major: 0, ProbeVersion: 5},
	}
	var _, _, _ = process(ReceiveDirection, SendReset, Event{Kind: EventRxPacket, Header: h}, time.Now(), pctx)
	c.Assert(pctx.codec, gc.Equals, protocol.Codec(protocol.LegacyV1Codec{}))

	var next, _, effects = process(ReceiveDirection, Resetting, Event{Kind: EventStateChange}, time.Now(), pctx)
	c.Assert(next, gc.Equals, ResetDone)
	c.Assert(effects, gc.HasLen, 1)
	c.Check(effects[0].Header.AckCommand, gc.Equals, protocol.Reset)
	c.Check(effects[0].Codec, gc.Equals, protocol.Codec(protocol.SDKCodec{}))
}

// TestResetDoneAckUsesLegacyCodecForLegacyPeer checks the converse: a peer
// advertising probe_version < 3 gets its reset ack legacy-encoded.
func (s *FSMSuite) TestResetDoneAckUsesLegacyCodecForLegacyPeer(c *gc.C) {
	var pctx = freshCtx(ReceiveDirection)
	var h = protocol.Header{
		Command: protocol.Reset, ControlPacketNum: 3,
		SenderVersion: protocol.Version{Version: 1, Major: 0, ProbeVersion: 2},
	}
	var _, _, _ = process(ReceiveDirection, SendReset, Event{Kind: EventRxPacket, Header: h}, time.Now(), pctx)

	var next, _, effects = process(ReceiveDirection, Resetting, Event{Kind: EventStateChange}, time.Now(), pctx)
	c.Assert(next, gc.Equals, ResetDone)
	c.Assert(effects, gc.HasLen, 1)
	c.Check(effects[0].Codec, gc.Equals, protocol.Codec(protocol.LegacyV1Codec{}))
}

// TestSendResetDoneRenegotiates checks the send-side asymmetry: the
// sender's ResetDone always falls back to a fresh SendReset (it only
// reaches Resetting/ResetDone via an incoming mid-connection Reset, never
// as its primary path into the connection).
func (s *FSMSuite) TestSendResetDoneRenegotiates(c *gc.C) {
	var pctx = freshCtx(SendDirection)
	pctx.negotiated = true
	var next, _, _ = process(SendDirection, ResetDone, Event{Kind: EventTick}, time.Now(), pctx)
	c.Check(next, gc.Equals, SendReset)
	c.Check(pctx.negotiated, gc.Equals, false)
}

// TestReceiveFabricCompletionSendsConnected checks the receiver's
// EfaProbe -> EfaConnected transition, which (unlike the sender's) emits a
// Connected control command once the probe burst is fully received.
func (s *FSMSuite) TestReceiveFabricCompletionSendsConnected(c *gc.C) {
	var pctx = freshCtx(ReceiveDirection)
	var next, _, effects = process(ReceiveDirection, EfaProbe,
		Event{Kind: EventFabricCompletion, FabricRecvOK: EfaProbePacketCount}, time.Now(), pctx)
	c.Check(next, gc.Equals, EfaConnected)
	c.Assert(effects, gc.HasLen, 2)
	c.Check(effects[0].Kind, gc.Equals, EffectSend)
	c.Check(effects[0].Header.Command, gc.Equals, protocol.Connected)
	c.Check(effects[1].Kind, gc.Equals, EffectNotify)
}

// TestReceivePingRoundTrip checks the liveness loop: an incoming Ping is
// acked and the state collapses from EfaConnectedPing back to EfaConnected
// (the receiver never actively pings; it only answers).
func (s *FSMSuite) TestReceivePingRoundTrip(c *gc.C) {
	var pctx = freshCtx(ReceiveDirection)
	var ping = protocol.Header{Command: protocol.Ping, ControlPacketNum: 42}
	var next, wait, effects = process(ReceiveDirection, EfaConnectedPing, Event{Kind: EventRxPacket, Header: ping}, time.Now(), pctx)
	c.Check(next, gc.Equals, EfaConnected)
	c.Check(wait, gc.Equals, pingSilenceWindow)
	c.Assert(effects, gc.HasLen, 1)
	c.Check(effects[0].Header.Command, gc.Equals, protocol.Ack)
	c.Check(effects[0].Header.AckCommand, gc.Equals, protocol.Ping)
	c.Check(effects[0].Header.AckControlPacketNum, gc.Equals, uint16(42))
}

// TestSendPingExhaustsRetriesAndResets checks the sender's liveness-loss
// path: repeated unacked pings eventually drive the connection back to
// EfaReset (spec §4.4's retry budget for commands requiring an ack).
func (s *FSMSuite) TestSendPingExhaustsRetriesAndResets(c *gc.C) {
	var pctx = freshCtx(SendDirection)
	var next, _, effects = process(SendDirection, EfaConnected, Event{Kind: EventTick}, time.Now(), pctx)
	c.Assert(next, gc.Equals, EfaConnectedPing)
	c.Assert(effects, gc.HasLen, 1)
	c.Check(effects[0].Header.Command, gc.Equals, protocol.Ping)

	var state = next
	for i := 0; i < TxCommandMaxRetries+3 && state != EfaReset; i++ {
		state, _, effects = process(SendDirection, state, Event{Kind: EventTick}, time.Now(), pctx)
	}
	c.Check(state, gc.Equals, EfaReset)
	c.Assert(effects, gc.HasLen, 1)
	c.Check(effects[0].Kind, gc.Equals, EffectLog)
}

// TestReceivePingSilenceTimeoutResets checks that the receiver resets when
// no Ping arrives within the silence window.
func (s *FSMSuite) TestReceivePingSilenceTimeoutResets(c *gc.C) {
	var pctx = freshCtx(ReceiveDirection)
	var next, _, effects = process(ReceiveDirection, EfaConnected, Event{Kind: EventTick}, time.Now(), pctx)
	c.Check(next, gc.Equals, SendReset)
	c.Assert(effects, gc.HasLen, 1)
	c.Check(effects[0].Kind, gc.Equals, EffectLog)
}

// TestUnexpectedConnectedCommandResets checks spec §4.4's catch-all: a
// Connected command arriving outside EfaProbe is logged and forces a reset.
func (s *FSMSuite) TestUnexpectedConnectedCommandResets(c *gc.C) {
	var pctx = freshCtx(SendDirection)
	var next, _, effects = process(SendDirection, EfaConnected, Event{Kind: EventRxPacket, Header: protocol.Header{Command: protocol.Connected}}, time.Now(), pctx)
	c.Check(next, gc.Equals, SendReset)
	c.Assert(effects, gc.HasLen, 1)
	c.Check(effects[0].Kind, gc.Equals, EffectLog)
}
