// Package protocol implements the control-channel wire format of spec §6:
// encoding and decoding of probe headers, and selection of the codec (SDK
// or legacy v1) appropriate to a peer's negotiated protocol version.
package protocol

import "fmt"

// Command is the wire-level command enumeration of spec §3 and §6.
type Command uint8

const (
	Reset Command = iota
	Ping
	Connected
	Ack
	ProtocolVersion
)

func (c Command) String() string {
	switch c {
	case Reset:
		return "Reset"
	case Ping:
		return "Ping"
	case Connected:
		return "Connected"
	case Ack:
		return "Ack"
	case ProtocolVersion:
		return "ProtocolVersion"
	default:
		return fmt.Sprintf("Command(%d)", uint8(c))
	}
}

// Field widths of the wire frame (spec §6), fixed regardless of codec.
const (
	senderIPFieldLen       = 64
	senderGIDFieldLen      = 16
	senderStreamNameMaxLen = 128

	// MaxFrameSize bounds a single encoded probe frame, including the
	// largest possible command-specific tail. Work-request descriptors
	// (workpool.Descriptor) are sized to hold at least this many bytes.
	MaxFrameSize = 2 + 3 + 1 + 2 + senderIPFieldLen + 2 + senderGIDFieldLen + senderStreamNameMaxLen + 8
)

// Version is a peer's advertised protocol version (spec §3, §4.1).
type Version struct {
	Version      uint8
	Major        uint8
	ProbeVersion uint8
}

// SupportsProtocolVersionCommand reports whether the peer's probe version
// is new enough to understand the ProtocolVersion command (spec §3: "Probe
// version >= 3 enables the ProtocolVersion command").
func (v Version) SupportsProtocolVersionCommand() bool { return v.ProbeVersion >= 3 }

// ShortensPingPeriod reports whether the peer's probe version is new
// enough to use the shortened ping cadence (spec §3: "probe version >= 5
// shortens the ping period").
func (v Version) ShortensPingPeriod() bool { return v.ProbeVersion >= 5 }

// RequiresLegacyCodec reports whether v is too old to speak the SDK codec
// at all (spec §3: "Version < 3 forces the legacy codec").
func (v Version) RequiresLegacyCodec() bool { return v.ProbeVersion < 3 }

// GID is a 16-byte fabric device identity.
type GID [senderGIDFieldLen]byte

// IsZero reports whether g is the zero GID -- the value a remote GID takes
// before a successful reset handshake, and to which it's reset on every
// reset request (spec §3 invariant).
func (g GID) IsZero() bool { return g == GID{} }

// Header is the decoded form of a probe wire frame (spec §3, §6).
type Header struct {
	Command Command

	SenderIP          string
	SenderControlPort uint16
	SenderGID         GID
	SenderStreamName  string
	SenderVersion     Version

	ControlPacketNum uint16

	// Ack-specific tail fields. Valid only when Command == Ack.
	AckCommand          Command
	AckControlPacketNum uint16

	// Reset/Ping-specific tail field. Valid only when Command == Reset or
	// Command == Ping.
	RequiresAck bool
}

// ErrMalformed is returned by Decode when a frame's checksum doesn't match
// its contents, or the frame is too short to contain a valid header.
var ErrMalformed = fmt.Errorf("malformed probe frame")
