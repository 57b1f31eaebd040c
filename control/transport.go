package control

import (
	"net"

	"github.com/pkg/errors"
)

// Transport is the minimal unreliable-datagram contract the Channel needs.
// A real deployment backs it with *net.UDPConn; tests back it with an
// in-memory pipe pair (NewPipeTransport), the same substitution-behind-an-
// interface idiom the teacher uses to swap a real gRPC broker for
// broker/teststub in broker/client/append_service_test.go.
type Transport interface {
	// SendTo enqueues payload for delivery to addr. It does not block on
	// the network and does not retry.
	SendTo(addr string, payload []byte) error
	// RecvFrom blocks until a datagram arrives, returning its payload and
	// the source address. It returns an error (commonly net.ErrClosed) once
	// Close has been called.
	RecvFrom(buf []byte) (n int, addr string, err error)
	// LocalAddr returns the transport's bound local address. Channel.Port
	// reads the port from it when it is a *net.UDPAddr or has a Port() int
	// method, and reports 0 otherwise.
	LocalAddr() net.Addr
	Close() error
}

// udpTransport adapts *net.UDPConn to Transport.
type udpTransport struct{ conn *net.UDPConn }

// NewUDPTransport opens a UDP socket bound to localAddr ("" or ":0" for an
// ephemeral port) and returns a Transport backed by it.
func NewUDPTransport(localAddr string) (Transport, error) {
	var addr, err = net.ResolveUDPAddr("udp", localAddr)
	if err != nil {
		return nil, errors.WithMessage(err, "resolving local control address")
	}
	var conn *net.UDPConn
	if conn, err = net.ListenUDP("udp", addr); err != nil {
		return nil, errors.WithMessage(err, "binding control socket")
	}
	return &udpTransport{conn: conn}, nil
}

func (t *udpTransport) SendTo(addr string, payload []byte) error {
	var raddr, err = net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return errors.WithMessage(err, "resolving destination control address")
	}
	_, err = t.conn.WriteTo(payload, raddr)
	return err
}

func (t *udpTransport) RecvFrom(buf []byte) (int, string, error) {
	var n, addr, err = t.conn.ReadFrom(buf)
	if addr == nil {
		return n, "", err
	}
	return n, addr.String(), err
}

func (t *udpTransport) LocalAddr() net.Addr { return t.conn.LocalAddr() }
func (t *udpTransport) Close() error        { return t.conn.Close() }
