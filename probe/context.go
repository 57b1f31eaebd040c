package probe

import (
	"time"

	"go.cdi.dev/core/protocol"
)

// pendingAck is the single outstanding command this endpoint is waiting to
// see ACKed, per spec §4.4's tie-break rule: "An ACK is accepted only if
// (ack.command, ack.packet_num) == pending.(command, packet_num) with
// is_pending == true; otherwise the ACK is logged and dropped." Per the §9
// redesign note this is a tiny record; in this single-threaded-per-endpoint
// driver it needs no lock of its own (the real system's per-endpoint lock
// exists to guard it from the poll thread, which here only ever posts
// events through the same FSM command queue).
type pendingAck struct {
	isPending bool
	command   protocol.Command
	packetNum uint16
	retries   int
}

func (p *pendingAck) set(cmd protocol.Command, packetNum uint16) {
	p.isPending = true
	p.command = cmd
	p.packetNum = packetNum
	p.retries = 0
}

func (p *pendingAck) clear() { *p = pendingAck{} }

// matches reports whether h acknowledges exactly the outstanding pending
// command, per spec §4.4. A Command/packetNum mismatch -- including across
// the control_packet_num wrap from 0xFFFF to 0x0000 (spec §8) -- is a no-op
// since uint16 equality already handles the wrap correctly.
func (p *pendingAck) matches(h protocol.Header) bool {
	return p.isPending && h.AckCommand == p.command && h.AckControlPacketNum == p.packetNum
}

// deferredAck records a Reset seen while already Resetting, per spec §4.4:
// "If a Reset arrives while the receiver is already resetting, record it in
// the deferred-ack slot; emit the ACK only in ResetDone."
type deferredAck struct {
	valid              bool
	command            protocol.Command
	packetNum          uint16
	remoteProbeVersion uint8
}

// procContext holds the per-endpoint state threaded through process(): the
// negotiated wire version, the pending/deferred ack records, and retry
// counters. It is owned exclusively by the probe thread (spec §5: "The
// only thread that writes probe state or the pending-ack record").
type procContext struct {
	dir Direction

	localIP          string
	localControlPort uint16
	localStreamName  string
	localGID         protocol.GID

	remoteGID     protocol.GID
	remoteVersion protocol.Version
	negotiated    bool // remoteVersion has been learned since the last reset

	codec protocol.Codec // LegacyV1Codec until negotiation selects another

	outboundPacketNum uint16 // next control_packet_num this endpoint will send

	pending     pendingAck
	deferredAck deferredAck

	probeAcksOutstanding int
	probeAckRetries      int
}

func newProcContext(dir Direction, localGID protocol.GID, localIP string, localControlPort uint16, localStreamName string) *procContext {
	return &procContext{
		dir:              dir,
		localGID:         localGID,
		localIP:          localIP,
		localControlPort: localControlPort,
		localStreamName:  localStreamName,
		codec:            protocol.LegacyV1Codec{},
	}
}

// resetNegotiation clears everything learned during the prior handshake,
// per spec §4.4: "Version negotiation is remembered until the next reset."
func (c *procContext) resetNegotiation() {
	c.remoteGID = protocol.GID{}
	c.remoteVersion = protocol.Version{}
	c.negotiated = false
	c.codec = protocol.LegacyV1Codec{}
	c.pending.clear()
	c.deferredAck = deferredAck{}
	c.probeAcksOutstanding = 0
	c.probeAckRetries = 0
}

// nextPacketNum returns the next control_packet_num to stamp on an
// outgoing frame, advancing the per-sender monotonic counter with wrap
// (spec §6: "per-sender monotonic, wraps").
func (c *procContext) nextPacketNum() uint16 {
	var n = c.outboundPacketNum
	c.outboundPacketNum++
	return n
}

// header returns a Header pre-filled with this endpoint's identity fields,
// ready for a caller to set Command and any command-specific tail.
func (c *procContext) header(cmd protocol.Command) protocol.Header {
	return protocol.Header{
		Command:           cmd,
		SenderIP:          c.localIP,
		SenderControlPort: c.localControlPort,
		SenderGID:         c.localGID,
		SenderStreamName:  c.localStreamName,
		SenderVersion:     currentVersion,
		ControlPacketNum:  c.nextPacketNum(),
	}
}

// currentVersion is this implementation's own advertised protocol version
// (spec §3: probe_version >= 5 shortens the ping period; >= 3 enables the
// ProtocolVersion command).
var currentVersion = protocol.Version{Version: 1, Major: 0, ProbeVersion: 5}

// pingFrequency returns the steady-state ping cadence appropriate to the
// negotiated remote version (spec §6: probe version >= 5 shortens the
// period; older peers use LegacySendPingFrequency).
func (c *procContext) pingFrequency() time.Duration {
	if c.remoteVersion.ShortensPingPeriod() {
		return SendPingFrequency
	}
	return LegacySendPingFrequency
}
