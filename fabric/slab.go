package fabric

import (
	"github.com/pkg/errors"
)

// blockAlignment is the alignment spec §4.6 requires of each receive
// block ("8-byte-aligned blocks").
const blockAlignment = 8

// Slab is a reserve of equal-sized, aligned receive buffers carved from a
// single backing allocation, matching spec §4.6: "receive buffers are a
// slab of reserve_packets equal-sized, 8-byte-aligned blocks carved from a
// hugepage allocation (with heap fallback)."
type Slab struct {
	backing    []byte
	blockSize  int
	count      int
	isHugepage bool
}

// NewSlab reserves count blocks of at least blockSize bytes each (rounded
// up to blockAlignment), attempting a hugepage-backed mmap first and
// falling back to a regular heap allocation on any error -- the "try the
// fast path, fall back cleanly" idiom used throughout the probe fabric.
func NewSlab(count, blockSize int) (*Slab, error) {
	if count <= 0 || blockSize <= 0 {
		return nil, errors.New("fabric: slab count and blockSize must be positive")
	}
	var aligned = alignUp(blockSize, blockAlignment)
	var total = aligned * count

	if backing, err := tryHugepageAlloc(total); err == nil {
		return &Slab{backing: backing, blockSize: aligned, count: count, isHugepage: true}, nil
	}
	return &Slab{backing: make([]byte, total), blockSize: aligned, count: count}, nil
}

// Block returns the i-th block (0 <= i < Count()).
func (s *Slab) Block(i int) []byte {
	var off = i * s.blockSize
	return s.backing[off : off+s.blockSize]
}

// Count returns the number of blocks in the slab.
func (s *Slab) Count() int { return s.count }

// BlockSize returns the aligned per-block size.
func (s *Slab) BlockSize() int { return s.blockSize }

// IsHugepage reports whether the backing allocation is hugepage-mapped.
func (s *Slab) IsHugepage() bool { return s.isHugepage }

func alignUp(n, align int) int {
	if n%align == 0 {
		return n
	}
	return n + (align - n%align)
}

