package control

import (
	"net"
	"sync"

	"github.com/pkg/errors"
)

// FakeNetwork is an in-memory switch connecting any number of
// PipeTransports by address, for tests that need two or more probe peers
// talking without a real UDP socket. Mirrors the substitution-behind-an-
// interface idiom of broker/teststub: the FSM and Channel code under test
// never know the difference.
type FakeNetwork struct {
	mu    sync.Mutex
	peers map[string]*pipeTransport
}

// NewFakeNetwork returns an empty switch.
func NewFakeNetwork() *FakeNetwork {
	return &FakeNetwork{peers: make(map[string]*pipeTransport)}
}

type datagram struct {
	payload []byte
	source  string
}

type pipeTransport struct {
	net  *FakeNetwork
	addr string
	rx   chan datagram

	closeOnce sync.Once
	closed    chan struct{}
}

// NewPipeTransport registers a new endpoint at addr on the given network
// and returns a Transport for it. addr must be unique within net.
func (fn *FakeNetwork) NewPipeTransport(addr string) (Transport, error) {
	fn.mu.Lock()
	defer fn.mu.Unlock()

	if _, ok := fn.peers[addr]; ok {
		return nil, errors.Errorf("address %q already registered", addr)
	}
	var t = &pipeTransport{
		net:    fn,
		addr:   addr,
		rx:     make(chan datagram, 64),
		closed: make(chan struct{}),
	}
	fn.peers[addr] = t
	return t, nil
}

func (t *pipeTransport) SendTo(addr string, payload []byte) error {
	t.net.mu.Lock()
	var dst, ok = t.net.peers[addr]
	t.net.mu.Unlock()

	if !ok {
		return errors.Errorf("no such peer %q", addr)
	}
	var cp = make([]byte, len(payload))
	copy(cp, payload)

	select {
	case dst.rx <- datagram{payload: cp, source: t.addr}:
		return nil
	default:
		return errors.New("peer receive queue full")
	}
}

func (t *pipeTransport) RecvFrom(buf []byte) (int, string, error) {
	select {
	case d := <-t.rx:
		return copy(buf, d.payload), d.source, nil
	case <-t.closed:
		return 0, "", net.ErrClosed
	}
}

func (t *pipeTransport) LocalAddr() net.Addr { return pipeAddr(t.addr) }

func (t *pipeTransport) Close() error {
	t.closeOnce.Do(func() {
		t.net.mu.Lock()
		delete(t.net.peers, t.addr)
		t.net.mu.Unlock()
		close(t.closed)
	})
	return nil
}

type pipeAddr string

func (a pipeAddr) Network() string { return "pipe" }
func (a pipeAddr) String() string  { return string(a) }
