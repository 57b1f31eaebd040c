// Package workpool implements the fixed-capacity, thread-safe pool of
// packet descriptors described in spec §4.2. Two pools exist per
// connection: one sized for control-channel probe frames, one sized for
// fabric probe frames; both share this implementation.
package workpool

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrExhausted is returned by Acquire when the pool has no free
// descriptors. Acquire never blocks; callers retry on their own cadence
// (spec §4.4 failure semantics: "Pool exhaustion on control send -> retry
// on next tick; do not block the FSM thread").
var ErrExhausted = errors.New("work-request pool exhausted")

// Descriptor is a pool-allocated buffer large enough for one in-flight
// probe or fabric frame (spec's "work request").
type Descriptor struct {
	Buf []byte

	pool     *Pool
	index    int
	acquired bool
}

// Release returns the descriptor to its owning pool. Release is idempotent:
// calling it more than once for the same outstanding handle has no effect
// beyond the first call (spec §4.2).
func (d *Descriptor) Release() {
	d.pool.release(d)
}

// Pool is a fixed-capacity, thread-safe free-list of Descriptors. Capacity
// is fixed at construction; the pool never grows (spec §9: "Prefer
// strictly bounded pools in the rewrite; document the bound and expose
// exhaustion as an observable error").
type Pool struct {
	mu    sync.Mutex
	all   []*Descriptor
	free  []int // indices into |all| currently available
	avail []bool
}

// New allocates a Pool of the given capacity, each descriptor large enough
// to hold descriptorSize bytes.
func New(capacity, descriptorSize int) *Pool {
	if capacity <= 0 {
		panic("workpool: capacity must be positive")
	}
	var p = &Pool{
		all:   make([]*Descriptor, capacity),
		free:  make([]int, capacity),
		avail: make([]bool, capacity),
	}
	for i := range p.all {
		p.all[i] = &Descriptor{Buf: make([]byte, descriptorSize), pool: p, index: i}
		p.free[i] = i
		p.avail[i] = true
	}
	return p
}

// Capacity returns the pool's fixed capacity.
func (p *Pool) Capacity() int { return len(p.all) }

// Acquire obtains ownership of a Descriptor, or returns ErrExhausted if
// none is currently free. Acquire never blocks.
func (p *Pool) Acquire() (*Descriptor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) == 0 {
		return nil, ErrExhausted
	}
	var idx = p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.avail[idx] = false

	var d = p.all[idx]
	d.acquired = true
	return d, nil
}

// InUse reports the number of descriptors currently acquired. Exposed for
// completion-draining bookkeeping (eg, the EFA_TX_PACKET_CACHE_SIZE
// in-flight counter of spec §4.6).
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.all) - len(p.free)
}

func (p *Pool) release(d *Descriptor) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if d.pool != p || !d.acquired {
		return // idempotent: already released, or foreign to this pool.
	}
	d.acquired = false
	p.avail[d.index] = true
	p.free = append(p.free, d.index)
}
