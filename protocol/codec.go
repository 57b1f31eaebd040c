package protocol

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Codec encodes and decodes probe headers for one wire version. Two codec
// instances exist per endpoint (spec §4.1): the current SDK codec and the
// legacy v1 codec, selected per-frame by the caller (probe.Endpoint). Both
// are stateless zero-size values, so callers construct them freely.
type Codec interface {
	// Encode serializes h into out, returning the number of bytes written.
	// out must be at least MaxFrameSize bytes.
	Encode(h Header, out []byte) (int, error)
	// Decode parses a wire frame previously produced by Encode (of a
	// compatible version) into a Header. It returns ErrMalformed if the
	// checksum doesn't verify or the frame is truncated.
	Decode(in []byte) (Header, error)
	// ProbeVersion is the probe_version this codec implements on the wire.
	// The legacy codec reports 0 (it has no probe_version field at all).
	ProbeVersion() uint8
}

// SDKCodec implements the current wire layout of spec §6, including the
// probe_version_num field and the ProtocolVersion command.
type SDKCodec struct{}

func (SDKCodec) ProbeVersion() uint8 { return currentProbeVersion }

func (SDKCodec) Encode(h Header, out []byte) (int, error) {
	return encodeCommon(h, out, true)
}

func (SDKCodec) Decode(in []byte) (Header, error) {
	return decodeCommon(in, true)
}

// LegacyV1Codec implements the v1 wire layout, which omits probe_version_num
// and cannot represent the ProtocolVersion command (spec §6).
type LegacyV1Codec struct{}

func (LegacyV1Codec) ProbeVersion() uint8 { return 0 }

func (LegacyV1Codec) Encode(h Header, out []byte) (int, error) {
	if h.Command == ProtocolVersion {
		return 0, errors.New("legacy v1 codec cannot encode ProtocolVersion")
	}
	return encodeCommon(h, out, false)
}

func (LegacyV1Codec) Decode(in []byte) (Header, error) {
	return decodeCommon(in, false)
}

// currentProbeVersion is this SDK build's own probe version, advertised in
// every SDK-codec frame it sends.
const currentProbeVersion = 5

// Negotiated selects the codec this side must use once a peer's Version is
// known (spec §4.1: "Once negotiation completes, use the negotiated codec
// for all subsequent frames.").
func Negotiated(peer Version) Codec {
	if peer.RequiresLegacyCodec() {
		return LegacyV1Codec{}
	}
	return SDKCodec{}
}

// field layout, shared by both codec variants; only the presence of
// probe_version_num (and the legality of ProtocolVersion) differs.
func encodeCommon(h Header, out []byte, withProbeVersion bool) (int, error) {
	if len(h.SenderIP) > senderIPFieldLen-1 {
		return 0, errors.Errorf("sender IP %q exceeds %d bytes", h.SenderIP, senderIPFieldLen-1)
	}
	if len(h.SenderStreamName) > senderStreamNameMaxLen-1 {
		return 0, errors.Errorf("sender stream name %q exceeds %d bytes", h.SenderStreamName, senderStreamNameMaxLen-1)
	}
	if len(out) < MaxFrameSize {
		return 0, errors.New("output buffer too small")
	}

	var n = 2 // checksum, filled in last

	out[n] = h.SenderVersion.Version
	n++
	out[n] = h.SenderVersion.Major
	n++
	if withProbeVersion {
		out[n] = h.SenderVersion.ProbeVersion
		n++
	}

	out[n] = byte(h.Command)
	n++

	binary.BigEndian.PutUint16(out[n:], h.ControlPacketNum)
	n += 2

	n += putCString(out[n:], h.SenderIP, senderIPFieldLen)

	binary.BigEndian.PutUint16(out[n:], h.SenderControlPort)
	n += 2

	copy(out[n:n+senderGIDFieldLen], h.SenderGID[:])
	n += senderGIDFieldLen

	n += putCString(out[n:], h.SenderStreamName, senderStreamNameMaxLen)

	switch h.Command {
	case Ack:
		out[n] = byte(h.AckCommand)
		n++
		binary.BigEndian.PutUint16(out[n:], h.AckControlPacketNum)
		n += 2
	case Reset, Ping:
		if h.RequiresAck {
			out[n] = 1
		} else {
			out[n] = 0
		}
		n++
	case ProtocolVersion:
		// empty tail
	}

	binary.BigEndian.PutUint16(out[0:2], checksum(out[2:n]))
	return n, nil
}

func decodeCommon(in []byte, withProbeVersion bool) (Header, error) {
	var minLen = 2 + 2 + 1 + 2 + senderIPFieldLen + 2 + senderGIDFieldLen + 1
	if withProbeVersion {
		minLen++
	}
	if len(in) < minLen {
		return Header{}, ErrMalformed
	}

	var gotChecksum = binary.BigEndian.Uint16(in[0:2])
	var n = 2

	if checksum(in[2:]) != gotChecksum {
		return Header{}, ErrMalformed
	}

	var h Header
	h.SenderVersion.Version = in[n]
	n++
	h.SenderVersion.Major = in[n]
	n++
	if withProbeVersion {
		h.SenderVersion.ProbeVersion = in[n]
		n++
	}

	if n >= len(in) {
		return Header{}, ErrMalformed
	}
	h.Command = Command(in[n])
	n++

	if n+2 > len(in) {
		return Header{}, ErrMalformed
	}
	h.ControlPacketNum = binary.BigEndian.Uint16(in[n:])
	n += 2

	if n+senderIPFieldLen > len(in) {
		return Header{}, ErrMalformed
	}
	h.SenderIP = getCString(in[n : n+senderIPFieldLen])
	n += senderIPFieldLen

	if n+2 > len(in) {
		return Header{}, ErrMalformed
	}
	h.SenderControlPort = binary.BigEndian.Uint16(in[n:])
	n += 2

	if n+senderGIDFieldLen > len(in) {
		return Header{}, ErrMalformed
	}
	copy(h.SenderGID[:], in[n:n+senderGIDFieldLen])
	n += senderGIDFieldLen

	var streamName, consumed, err = getCStringBounded(in[n:], senderStreamNameMaxLen)
	if err != nil {
		return Header{}, ErrMalformed
	}
	h.SenderStreamName = streamName
	n += consumed

	switch h.Command {
	case Ack:
		if n+3 > len(in) {
			return Header{}, ErrMalformed
		}
		h.AckCommand = Command(in[n])
		n++
		h.AckControlPacketNum = binary.BigEndian.Uint16(in[n:])
		n += 2
	case Reset, Ping:
		if n+1 > len(in) {
			return Header{}, ErrMalformed
		}
		h.RequiresAck = in[n] != 0
		n++
	case Connected, ProtocolVersion:
		// empty tail
	default:
		return Header{}, ErrMalformed
	}

	// A frame decoded under the wrong codec can still pass the checksum
	// check above -- checksum() sums raw bytes regardless of how they're
	// sliced into fields, so it can't by itself detect a layout mismatch.
	// Requiring the parse to consume exactly len(in) bytes is what
	// actually catches that case (the shorter/longer field layout of the
	// other codec almost never lines up with the frame's true length).
	if n != len(in) {
		return Header{}, ErrMalformed
	}

	return h, nil
}

// checksum is the ones-complement checksum of spec §6, computed over the
// frame with the checksum field itself zeroed (callers pass the slice
// following the checksum field).
func checksum(b []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(b); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(b[i:]))
	}
	if len(b)%2 == 1 {
		sum += uint32(b[len(b)-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}

// putCString writes s null-terminated into a fixed-width field of size
// width, returning width (the number of bytes always consumed).
func putCString(out []byte, s string, width int) int {
	var n = copy(out[:width-1], s)
	for ; n < width; n++ {
		out[n] = 0
	}
	return width
}

// getCString reads a null-terminated string out of a fixed-width field.
func getCString(in []byte) string {
	for i, b := range in {
		if b == 0 {
			return string(in[:i])
		}
	}
	return string(in)
}

// getCStringBounded reads a null-terminated string of at most maxWidth
// bytes (including the terminator), returning the string and the number of
// bytes consumed (always maxWidth, on success).
func getCStringBounded(in []byte, maxWidth int) (string, int, error) {
	if len(in) < maxWidth {
		return "", 0, ErrMalformed
	}
	return getCString(in[:maxWidth]), maxWidth, nil
}
