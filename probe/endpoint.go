package probe

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"go.cdi.dev/core/control"
	"go.cdi.dev/core/endpoint"
	"go.cdi.dev/core/fabric"
	"go.cdi.dev/core/notify"
	"go.cdi.dev/core/protocol"
	"go.cdi.dev/core/workpool"
)

// maxProbeControlCommandsPerConnection bounds the control-channel work
// pool (spec §4.2: "bound >= MAX_PROBE_CONTROL_COMMANDS_PER_CONNECTION +
// 1"). Only a handful of commands (Reset, ProtocolVersion, Ping, Ack,
// Connected) may be in flight at once per endpoint.
const maxProbeControlCommandsPerConnection = 4

// codecBox wraps a protocol.Codec so it can be stored in an atomic.Value;
// see Endpoint.codecVal.
type codecBox struct{ codec protocol.Codec }

// Endpoint is the driver of spec §4.4: the single-threaded "probe thread"
// that runs process() to completion against each incoming Event, and is
// the only place in this package with side effects (sending frames,
// posting notifications, touching the fabric), matching the
// onX-handlers-plus-one-driver-loop split of broker/append_fsm.go.
type Endpoint struct {
	id  endpoint.EndpointID
	dir Direction
	log *log.Entry

	// ctx is the lifetime context passed to NewEndpoint, the same one
	// bound to the control-channel receive goroutine; onRawPacket uses it
	// (rather than context.Background()) so a post to a full cmdCh can
	// never block past the endpoint's own shutdown.
	ctx context.Context

	mgr      *endpoint.Manager
	control  *control.Channel
	peerAddr string
	provider fabric.Provider

	controlPool *workpool.Pool
	fabricPool  *workpool.Pool

	pctx  *procContext
	state State

	cmdCh chan Event

	// codecVal mirrors pctx.codec for the control-receive goroutine's
	// decode path, per the §9 redesign note favoring lock-free
	// compare-and-set over a shared critical section for a tiny record.
	// It always holds a codecBox, never a bare Codec -- atomic.Value
	// panics if successive Store calls don't share one concrete type,
	// and the two codec implementations are distinct concrete types.
	codecVal atomic.Value // codecBox

	fabricOpen int32 // atomic bool; guards the poll goroutine's drain calls
}

// Config bundles the construction-time parameters of one Endpoint.
type Config struct {
	Direction  Direction
	Manager    *endpoint.Manager
	Transport  control.Transport
	PeerAddr   string
	Provider   fabric.Provider
	LocalGID   protocol.GID
	LocalIP    string
	LocalPort  uint16
	StreamName string
	Logger     *log.Entry
}

// NewEndpoint constructs and registers an Endpoint with cfg.Manager,
// starts its control-channel receive loop under group, and returns the
// Endpoint. Call Run to start the probe thread itself.
func NewEndpoint(ctx context.Context, group *errgroup.Group, cfg Config) *Endpoint {
	var logger = cfg.Logger
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}

	var e = &Endpoint{
		dir:      cfg.Direction,
		log:      logger,
		ctx:      ctx,
		mgr:      cfg.Manager,
		peerAddr: cfg.PeerAddr,
		provider: cfg.Provider,

		controlPool: workpool.New(maxProbeControlCommandsPerConnection+1, protocol.MaxFrameSize),
		fabricPool:  workpool.New(EfaProbePacketCount, protocol.MaxFrameSize),

		pctx:  newProcContext(cfg.Direction, cfg.LocalGID, cfg.LocalIP, cfg.LocalPort, cfg.StreamName),
		state: InitialState(cfg.Direction),

		cmdCh: make(chan Event, 32),
	}
	e.codecVal.Store(codecBox{codec: e.pctx.codec})
	e.id = cfg.Manager.RegisterEndpoint(e)

	e.control = control.New(ctx, group, cfg.Transport, e.onRawPacket, logger)
	return e
}

// Reset implements endpoint.Resettable. It's invoked by the Endpoint
// Manager once all registered threads are parked (spec §4.5), and closes
// the fabric provider so the next EfaStart performs a clean Open.
func (e *Endpoint) Reset(ctx context.Context) error {
	atomic.StoreInt32(&e.fabricOpen, 0)
	if err := e.provider.Close(); err != nil {
		return errors.WithMessage(err, "fabric close during endpoint reset")
	}
	return nil
}

// Start implements endpoint.Resettable. Per spec §4.4, WaitForStart is a
// rendezvous against the Endpoint Manager rather than a place that itself
// performs fabric work -- the actual Open happens on the EfaStart tick.
func (e *Endpoint) Start(ctx context.Context) error { return nil }

// Run is the probe thread's loop: it drains e.cmdCh and its own
// armed deadline until ctx is cancelled, exactly as spec §4.4 describes
// ("driver: ... waits on a command queue with a wait_timeout_ms deadline").
func (e *Endpoint) Run(ctx context.Context) error {
	defer e.mgr.UnregisterEndpoint(e.id)

	var timer = time.NewTimer(0)
	defer timer.Stop()

	go e.pollFabric(ctx)

	for {
		select {
		case <-ctx.Done():
			e.step(ctx, Event{Kind: EventDestroy}, timer)
			return nil
		case ev := <-e.cmdCh:
			e.step(ctx, ev, timer)
		case <-timer.C:
			e.step(ctx, Event{Kind: EventTick}, timer)
		}
		if e.state == Destroy {
			return nil
		}
	}
}

// step runs process() to convergence (spec §4.4: "the processor may loop
// synchronously while it returns 0"), applies each round's effects, then
// arms timer for the final non-zero deadline.
func (e *Endpoint) step(ctx context.Context, ev Event, timer *time.Timer) {
	for {
		var next, wait, effects = process(e.dir, e.state, ev, time.Now(), e.pctx)
		if next != e.state {
			addTrace(ctx, "probe %s: %s -> %s (event %d)", e.dir, e.state, next, ev.Kind)
		}
		e.state = next
		e.codecVal.Store(codecBox{codec: e.pctx.codec})
		e.applyEffects(ctx, effects)

		if wait != 0 || next == Destroy {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			if next != Destroy {
				timer.Reset(wait)
			}
			return
		}
		ev = Event{Kind: EventTick}
	}
}

func (e *Endpoint) applyEffects(ctx context.Context, effects []Effect) {
	for _, eff := range effects {
		switch eff.Kind {
		case EffectSend:
			e.sendFrame(ctx, eff.Header, eff.Codec)
		case EffectNotify:
			var state = notify.Disconnected
			if eff.Connected {
				state = notify.Connected
			}
			e.mgr.ConnectionStateChange(e.id, state, eff.Message)
		case EffectQueueReset:
			go e.queueManagerOp(ctx, true)
		case EffectQueueStart:
			go e.queueManagerOp(ctx, false)
		case EffectOpenFabric:
			e.openFabric(ctx)
		case EffectResetFabric:
			atomic.StoreInt32(&e.fabricOpen, 0)
			if err := e.provider.Close(); err != nil {
				e.log.WithError(err).Warn("fabric close during hard reset")
			}
		case EffectLog:
			e.logEffect(eff)
		}
	}
}

func (e *Endpoint) logEffect(eff Effect) {
	switch eff.LogLevel {
	case LogWarn:
		e.log.Warn(eff.LogMsg)
	case LogInfo:
		e.log.Info(eff.LogMsg)
	default:
		e.log.Debug(eff.LogMsg)
	}
}

// queueManagerOp runs a (potentially blocking) Endpoint Manager operation
// on its own goroutine, so the probe thread's own deadline and incoming
// events keep being served while it's in flight, then delivers the
// outcome back as an EventStateChange.
func (e *Endpoint) queueManagerOp(ctx context.Context, isReset bool) {
	var err error
	if isReset {
		err = e.mgr.QueueEndpointReset(ctx, e.id)
	} else {
		err = e.mgr.QueueEndpointStart(ctx, e.id)
	}
	e.postEvent(ctx, Event{Kind: EventStateChange, StateChangeErr: err, StateChangeIsStart: !isReset})
}

func (e *Endpoint) postEvent(ctx context.Context, ev Event) {
	select {
	case e.cmdCh <- ev:
	case <-ctx.Done():
	}
}

// sendFrame encodes h with codec and sends it to the peer. If codec is nil,
// it infers one (spec §4.1: the legacy codec for Reset before negotiation,
// the SDK codec for ProtocolVersion and for Ack once the peer has
// advertised probe_version >= 3, the negotiated codec for everything else)
// -- callers that already know the right codec (eg a deferred reset ack,
// keyed to the remote's advertised version rather than pctx.codec) pass it
// explicitly via Effect.Codec instead.
func (e *Endpoint) sendFrame(ctx context.Context, h protocol.Header, codec protocol.Codec) {
	if codec == nil {
		codec = e.pctx.codec
		switch {
		case h.Command == protocol.Reset && !e.pctx.negotiated:
			codec = protocol.LegacyV1Codec{}
		case h.Command == protocol.ProtocolVersion:
			codec = protocol.SDKCodec{}
		case h.Command == protocol.Ack && (h.AckCommand == protocol.ProtocolVersion || e.pctx.remoteVersion.SupportsProtocolVersionCommand()):
			codec = protocol.SDKCodec{}
		}
	}

	var d, err = e.controlPool.Acquire()
	if err != nil {
		// spec §4.4 failure semantics: "Pool exhaustion on control send ->
		// retry on next tick; do not block the FSM thread."
		e.log.WithError(err).Debug("control pool exhausted, dropping frame for this tick")
		return
	}
	defer d.Release()

	var n int
	n, err = codec.Encode(h, d.Buf)
	if err != nil {
		e.log.WithError(err).Warn("failed to encode control frame")
		return
	}
	if h.Command != protocol.Ack || h.AckCommand != protocol.Ping {
		addTrace(ctx, "send %s packet_num=%d", h.Command, h.ControlPacketNum)
	}
	if err = e.control.Send(e.peerAddr, d.Buf[:n]); err != nil {
		e.log.WithError(err).Debug("control channel send failed")
	}
}

// onRawPacket is the control.Consumer registered with the control.Channel.
// It decodes the payload, trying the currently active codec first and
// falling back to the other wire layout (frames may arrive using either
// layout during negotiation), then posts a decoded EventRxPacket.
func (e *Endpoint) onRawPacket(pkt control.Packet) {
	var box, _ = e.codecVal.Load().(codecBox)
	var active = box.codec
	var h, err = active.Decode(pkt.Payload)
	if err != nil {
		var alt protocol.Codec = protocol.SDKCodec{}
		if _, ok := active.(protocol.SDKCodec); ok {
			alt = protocol.LegacyV1Codec{}
		}
		if h, err = alt.Decode(pkt.Payload); err != nil {
			e.log.WithError(err).Debug("dropping malformed control frame")
			return
		}
	}
	e.postEvent(e.ctx, Event{Kind: EventRxPacket, Header: h})
}

// openFabric opens the fabric provider and, per direction, either bursts
// EfaProbePacketCount send frames (spec §6: "Exactly EFA_PROBE_PACKET_COUNT
// such frames are sent by the sender immediately after EfaStart") or arms
// that many receive buffers to catch them.
func (e *Endpoint) openFabric(ctx context.Context) {
	var remoteGID = e.pctx.remoteGID
	if err := e.provider.Open(e.pctx.localGID, &remoteGID); err != nil {
		e.log.WithError(err).Warn("fabric open failed")
		return
	}
	atomic.StoreInt32(&e.fabricOpen, 1)

	if e.dir == SendDirection {
		for i := 0; i < EfaProbePacketCount; i++ {
			var d, err = e.fabricPool.Acquire()
			if err != nil {
				e.log.WithError(err).Warn("fabric probe packet pool exhausted")
				break
			}
			for j := range d.Buf {
				d.Buf[j] = EfaProbePacketDataPattern
			}
			var flush = (i+1)%EfaTxPacketCacheSize == 0 || i == EfaProbePacketCount-1
			if err = e.provider.PostSend(d.Buf, d, flush); err != nil {
				e.log.WithError(err).Debug("probe packet post-send failed")
			}
		}
		return
	}

	for i := 0; i < EfaProbePacketCount; i++ {
		var d, err = e.fabricPool.Acquire()
		if err != nil {
			e.log.WithError(err).Warn("fabric receive buffer pool exhausted")
			break
		}
		if err = e.provider.PostReceive(d.Buf, d, i != EfaProbePacketCount-1); err != nil {
			e.log.WithError(err).Debug("receive buffer post failed")
		}
	}
}

// pollFabric is the "poll thread" of spec §5: it drains fabric completions
// for this endpoint and feeds the results to the probe thread as
// EventFabricCompletion. It never blocks on I/O, per spec's suspension
// points ("Poll thread: on a poll_do_work signal when no endpoints require
// polling"); here a short ticker stands in for that signal.
//
// It registers itself with the Endpoint Manager (spec §4.5) and parks via
// Signal.Wait whenever a reset is pending, so Endpoint.Reset's call to
// provider.Close() never races this goroutine's own DrainCompletions
// against the same Provider.
func (e *Endpoint) pollFabric(ctx context.Context) {
	var name = fmt.Sprintf("endpoint-%d-poller", e.id)
	var sig, err = e.mgr.RegisterThread(name)
	if err != nil {
		e.log.WithError(err).Error("failed to register poll thread with endpoint manager")
		return
	}
	defer e.mgr.UnregisterThread(name)

	var ticker = time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if sig.IsPending() {
			if err := sig.Wait(ctx); err != nil {
				return
			}
		}
		if atomic.LoadInt32(&e.fabricOpen) == 0 {
			continue
		}

		var completions, _, _ = e.provider.DrainCompletions(EfaProbePacketCount)
		if len(completions) == 0 {
			continue
		}

		var ev = Event{Kind: EventFabricCompletion}
		for _, c := range completions {
			if c.IsSend {
				if c.Status == fabric.Ok {
					ev.FabricSendOK++
				} else {
					ev.FabricSendFailed++
				}
				if d, ok := c.Context.(*workpool.Descriptor); ok {
					d.Release()
				}
			} else {
				if c.Status == fabric.Ok {
					ev.FabricRecvOK++
				} else {
					ev.FabricRecvFailed++
				}
				if d, ok := c.Context.(*workpool.Descriptor); ok {
					d.Release()
				}
			}
		}
		e.postEvent(ctx, ev)
	}
}
