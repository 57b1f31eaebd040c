// Package control implements the bidirectional, unreliable datagram
// endpoint of spec §4.3 (the "control interface"): a side-channel local to
// one connection over which probe commands (never media payloads) travel.
package control

import (
	"context"
	"net"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"go.cdi.dev/core/protocol"
)

// ErrBackpressure is returned by Send whenever the transport fails to queue
// a datagram (a full outbound queue, an unknown or unresolvable peer
// address); the transport's own error text is attached as a message.
var ErrBackpressure = errors.New("control channel backpressure")

// Packet is a decoded-address, still-encoded-payload datagram delivered to
// a Channel's registered consumer.
type Packet struct {
	Payload []byte
	Source  string
}

// Consumer receives Packets off a Channel's receive loop. Exactly one
// Consumer may be registered, matching spec §4.3 ("delivers {payload,
// source_address} to a single consumer registered by the probe FSM").
type Consumer func(Packet)

// Channel is the control-channel endpoint of one connection. It does not
// retransmit -- spec §4.3 places all retry logic in the probe FSM -- and it
// does not decode payloads itself; that's protocol.Codec's job, invoked by
// the registered Consumer.
type Channel struct {
	transport Transport
	log       *log.Entry

	consumer Consumer
}

// New starts a Channel over transport, delivering received datagrams to
// consumer from an internally managed receive goroutine. The goroutine
// runs until ctx is cancelled or the transport is closed, at which point
// group's error (if any) is observable via group.Wait() from the caller
// that constructed group.
func New(ctx context.Context, group *errgroup.Group, transport Transport, consumer Consumer, logger *log.Entry) *Channel {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	var ch = &Channel{transport: transport, log: logger, consumer: consumer}

	group.Go(func() error {
		var buf = make([]byte, protocol.MaxFrameSize)
		for {
			select {
			case <-ctx.Done():
				return nil
			default:
			}

			var n, src, err = transport.RecvFrom(buf)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return nil // orderly shutdown.
				}
				ch.log.WithError(err).Warn("control channel receive error")
				return err
			}
			var payload = make([]byte, n)
			copy(payload, buf[:n])
			ch.consumer(Packet{Payload: payload, Source: src})
		}
	})

	return ch
}

// Send enqueues packet for delivery to destAddr. It returns once queued
// (never once delivered -- the transport is unreliable), or
// ErrBackpressure if the transport fails to queue it for any reason.
func (c *Channel) Send(destAddr string, packet []byte) error {
	if err := c.transport.SendTo(destAddr, packet); err != nil {
		return errors.WithMessage(ErrBackpressure, err.Error())
	}
	return nil
}

// Port returns the channel's bound local port (spec §4.3: get_port()).
func (c *Channel) Port() uint16 {
	switch addr := c.transport.LocalAddr().(type) {
	case *net.UDPAddr:
		return uint16(addr.Port)
	case interface{ Port() int }:
		return uint16(addr.Port())
	default:
		// Best-effort fallback for transports whose Addr type exposes
		// neither (eg the in-memory pipeAddr used by tests).
		return 0
	}
}

// Close releases the underlying transport. The receive goroutine started
// by New observes this via its next RecvFrom call and exits.
func (c *Channel) Close() error { return c.transport.Close() }
