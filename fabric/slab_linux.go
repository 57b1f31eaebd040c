//go:build linux

package fabric

import (
	"golang.org/x/sys/unix"

	"github.com/pkg/errors"
)

// tryHugepageAlloc attempts a MAP_HUGETLB anonymous mapping of size bytes.
// It returns an error (never panics) when the kernel or configuration
// doesn't support it, so NewSlab can fall back to a plain heap allocation.
func tryHugepageAlloc(size int) ([]byte, error) {
	var b, err = unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_HUGETLB)
	if err != nil {
		return nil, errors.WithMessage(err, "hugepage mmap")
	}
	return b, nil
}
