package probe

import "go.cdi.dev/core/protocol"

// EffectKind discriminates the closed tagged union returned by process.
// Per the §9 redesign note, process itself performs no I/O;
// Endpoint.applyEffects (called from Endpoint.step) is the sole
// interpreter of these effects.
type EffectKind int

const (
	// EffectSend asks the driver to encode and send Header over the
	// control channel to the peer.
	EffectSend EffectKind = iota
	// EffectNotify asks the driver to post a connection-state change.
	EffectNotify
	// EffectQueueReset asks the driver to queue an endpoint reset with
	// the Endpoint Manager.
	EffectQueueReset
	// EffectQueueStart asks the driver to queue an endpoint start with
	// the Endpoint Manager.
	EffectQueueStart
	// EffectOpenFabric asks the driver to open the fabric provider
	// against the negotiated remote GID and begin the probe-packet burst.
	EffectOpenFabric
	// EffectResetFabric asks the driver to close the fabric provider (a
	// "hard reset"); it is reopened by the next EffectOpenFabric.
	EffectResetFabric
	// EffectLog asks the driver to emit a log line at the given level.
	// Used sparingly -- per spec §4.4, Ping traffic is never logged
	// individually.
	EffectLog
)

// Effect is one side effect process() asks Endpoint.applyEffects to perform.
type Effect struct {
	Kind EffectKind

	// EffectSend
	Header protocol.Header
	// Codec, when non-nil, is the codec Endpoint.sendFrame must use to
	// encode Header, overriding its own command-based inference. process()
	// sets this whenever the right codec depends on something it knows but
	// the driver can't recover from Header alone -- eg the remote probe
	// version recorded against a deferred ack, which predates pctx.codec
	// ever being negotiated.
	Codec protocol.Codec

	// EffectNotify
	Connected bool
	Message   string

	// EffectLog
	LogLevel LogLevel
	LogMsg   string
}

// LogLevel mirrors the subset of logrus levels process() needs to name
// without importing logrus into the pure state-transition code.
type LogLevel int

const (
	LogDebug LogLevel = iota
	LogInfo
	LogWarn
)

func sendEffect(h protocol.Header) Effect { return Effect{Kind: EffectSend, Header: h} }

// sendEffectWithCodec is sendEffect, but pins the codec the driver must use
// rather than letting it infer one from h.Command.
func sendEffectWithCodec(h protocol.Header, codec protocol.Codec) Effect {
	return Effect{Kind: EffectSend, Header: h, Codec: codec}
}

func notifyEffect(connected bool, message string) Effect {
	return Effect{Kind: EffectNotify, Connected: connected, Message: message}
}

func queueResetEffect() Effect { return Effect{Kind: EffectQueueReset} }

func queueStartEffect() Effect { return Effect{Kind: EffectQueueStart} }

func openFabricEffect() Effect { return Effect{Kind: EffectOpenFabric} }

func resetFabricEffect() Effect { return Effect{Kind: EffectResetFabric} }

func logEffect(level LogLevel, msg string) Effect {
	return Effect{Kind: EffectLog, LogLevel: level, LogMsg: msg}
}
