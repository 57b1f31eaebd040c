package fabric

import (
	"github.com/pkg/errors"

	"go.cdi.dev/core/protocol"
)

// RealProvider documents the production wiring points for a libfabric/EFA
// backed Provider. Per spec §1, "the fabric driver (posting sends/
// receives, registering memory, completion-queue reads)" is an external
// collaborator of this core; this type is therefore not exercised by
// tests, and its methods are unimplemented placeholders marking exactly
// where that collaborator plugs in.
type RealProvider struct {
	// ReservePackets is the receive-slab sizing input (spec §4.6).
	ReservePackets int
	// PacketSize is the maximum fabric probe/payload frame size.
	PacketSize int

	slab *Slab
}

// NewRealProvider constructs a RealProvider sized per spec §4.6. It does
// not itself open any fabric resources; Open does, once a real libfabric
// binding is wired in.
func NewRealProvider(reservePackets, packetSize int) *RealProvider {
	return &RealProvider{ReservePackets: reservePackets, PacketSize: packetSize}
}

func (p *RealProvider) Open(localGID protocol.GID, remoteGID *protocol.GID) error {
	var slab, err = NewSlab(p.ReservePackets, p.PacketSize)
	if err != nil {
		return errors.WithMessage(err, "allocating receive slab")
	}
	p.slab = slab
	// TODO(fabric): allocate libfabric domain/endpoint/CQ/address-vector
	// here, and register two memory regions (payload, internal headers)
	// against p.slab's backing allocation. Out of this core's scope.
	return errors.New("fabric: RealProvider requires a libfabric binding, not wired in this core")
}

func (p *RealProvider) PostSend(payload []byte, context interface{}, flush bool) error {
	return errors.New("fabric: RealProvider.PostSend not implemented")
}

func (p *RealProvider) PostReceive(buf []byte, context interface{}, morePost bool) error {
	return errors.New("fabric: RealProvider.PostReceive not implemented")
}

func (p *RealProvider) DrainCompletions(max int) ([]Completion, int, int) {
	return nil, 0, 0
}

func (p *RealProvider) Close() error {
	p.slab = nil
	return nil
}
